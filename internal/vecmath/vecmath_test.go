package vecmath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    []float64
		b    []float64
		want float64
	}{
		{name: "identical vectors", a: []float64{1, 2, 3}, b: []float64{1, 2, 3}, want: 1.0},
		{name: "scaled vectors", a: []float64{1, 2, 3}, b: []float64{2, 4, 6}, want: 1.0},
		{name: "orthogonal vectors", a: []float64{1, 0}, b: []float64{0, 1}, want: 0.0},
		{name: "opposite vectors", a: []float64{1, 2, 3}, b: []float64{-1, -2, -3}, want: -1.0},
		{name: "different lengths", a: []float64{1, 2}, b: []float64{1, 2, 3}, want: 0.0},
		{name: "empty vectors", a: []float64{}, b: []float64{}, want: 0.0},
		{name: "nil vectors", a: nil, b: nil, want: 0.0},
		{name: "zero magnitude vector", a: []float64{0, 0, 0}, b: []float64{1, 2, 3}, want: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		vec  []float64
		want float64
	}{
		{name: "standard vector", vec: []float64{3, 4}, want: 1.0},
		{name: "already normalized", vec: []float64{1, 0, 0}, want: 1.0},
		{name: "zero vector unchanged", vec: []float64{0, 0, 0}, want: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Normalize(tt.vec)
			assert.InDelta(t, tt.want, Norm(tt.vec), 1e-9)
		})
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-0.5, 0, 1))
	assert.Equal(t, 1.0, Clamp(1.7, 0, 1))
	assert.Equal(t, 0.25, Clamp(0.25, 0, 1))
	assert.Equal(t, float32(1), Clamp(float32(3), 0, 1))
	assert.True(t, math.IsNaN(Clamp(math.NaN(), 0, 1)))
}

func TestToFloat32(t *testing.T) {
	assert.Equal(t, []float32{0.5, 0, 1}, ToFloat32([]float64{0.5, 0, 1}))
}

package interest

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleTags = []string{"politics", "technology", "science", "entertainment", "sports", "health", "education", "business"}

func testIndex(t *testing.T) *TagIndex {
	t.Helper()
	idx, err := NewTagIndex(sampleTags, 16)
	require.NoError(t, err)
	return idx
}

func sumWeights(p *Profile) float64 {
	total := 0.0
	for _, topic := range p.Topics {
		total += topic.Weight
	}
	return total
}

func TestNewTagIndex(t *testing.T) {
	idx := testIndex(t)
	assert.Equal(t, 16, idx.Dimension())
	assert.Equal(t, len(sampleTags), idx.Len())

	for i, tag := range sampleTags {
		got, ok := idx.Index(tag)
		require.True(t, ok)
		assert.Equal(t, i, got)

		back, ok := idx.Tag(got)
		require.True(t, ok)
		assert.Equal(t, tag, back)
	}

	_, ok := idx.Index("cooking")
	assert.False(t, ok)
	_, ok = idx.Tag(99)
	assert.False(t, ok)
}

func TestNewTagIndexErrors(t *testing.T) {
	_, err := NewTagIndex([]string{"a", "b", "a"}, 10)
	assert.ErrorIs(t, err, ErrDuplicateTag)

	_, err = NewTagIndex([]string{"a", ""}, 10)
	assert.ErrorIs(t, err, ErrEmptyTag)

	_, err = NewTagIndex([]string{"a", "b", "c"}, 2)
	assert.ErrorIs(t, err, ErrTooManyTags)

	idx, err := NewTagIndex(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultDimension, idx.Dimension())
}

func TestNormalize(t *testing.T) {
	idx := testIndex(t)

	tests := []struct {
		name    string
		weights map[string]float64
		want    map[string]float64
	}{
		{
			name:    "equal unnormalized weights",
			weights: map[string]float64{"politics": 2, "sports": 2},
			want:    map[string]float64{"politics": 0.5, "sports": 0.5},
		},
		{
			name:    "uneven weights",
			weights: map[string]float64{"science": 3, "health": 1},
			want:    map[string]float64{"science": 0.75, "health": 0.25},
		},
		{
			name:    "single topic",
			weights: map[string]float64{"business": 0.2},
			want:    map[string]float64{"business": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProfile(idx)
			for tag, w := range tt.weights {
				p.Set(tag, w, 0)
			}
			p.Normalize()

			assert.InDelta(t, 1.0, sumWeights(p), 1e-9)
			assert.Equal(t, 1.0, p.TotalWeight)
			for tag, want := range tt.want {
				assert.InDelta(t, want, p.Weight(tag), 1e-9)
				i, _ := idx.Index(tag)
				assert.InDelta(t, want, p.Vector[i], 1e-9)
			}
		})
	}
}

func TestNormalizeEmptyIsNoop(t *testing.T) {
	p := NewProfile(testIndex(t))
	p.Normalize()

	assert.Empty(t, p.Topics)
	assert.Equal(t, 0.0, p.TotalWeight)
	for _, v := range p.Vector {
		assert.Equal(t, 0.0, v)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	p := NewProfile(testIndex(t))
	p.Set("politics", 0.3, 0.5)
	p.Set("technology", 1.7, -0.2)
	p.Set("health", 0.9, 0)

	p.Normalize()
	once := p.Clone()
	p.Normalize()

	for tag, topic := range once.Topics {
		assert.InDelta(t, topic.Weight, p.Weight(tag), 1e-12)
		assert.Equal(t, topic.Agreement, p.Topics[tag].Agreement)
	}
	assert.InDeltaSlice(t, once.Vector, p.Vector, 1e-12)
}

func TestNormalizeKeepsAgreement(t *testing.T) {
	p := NewProfile(testIndex(t))
	p.Set("politics", 4, -0.8)
	p.Set("sports", 4, 0.6)
	p.Normalize()

	assert.Equal(t, -0.8, p.Topics["politics"].Agreement)
	assert.Equal(t, 0.6, p.Topics["sports"].Agreement)
}

func TestNormalizeIgnoresUnmappedTags(t *testing.T) {
	idx := testIndex(t)
	p := NewProfile(idx)
	p.Set("politics", 1, 0)
	p.Set("cooking", 1, 0)
	p.Normalize()

	assert.InDelta(t, 0.5, p.Weight("cooking"), 1e-9)
	i, _ := idx.Index("politics")
	assert.InDelta(t, 0.5, p.Vector[i], 1e-9)
	assert.InDelta(t, 0.5, sumSlice(p.Vector), 1e-9)
}

func sumSlice(v []float64) float64 {
	total := 0.0
	for _, x := range v {
		total += x
	}
	return total
}

func TestAbsorb(t *testing.T) {
	idx := testIndex(t)

	agent := NewProfile(idx)
	agent.Set("politics", 1, 0.4)
	agent.Normalize()

	post := NewProfile(idx)
	post.Set("science", 1, 0.9)
	post.Normalize()

	agent.Absorb(post, 1)

	assert.InDelta(t, 0.5, agent.Weight("politics"), 1e-9)
	assert.InDelta(t, 0.5, agent.Weight("science"), 1e-9)
	assert.Equal(t, 0.0, agent.Topics["science"].Agreement, "new topics start neutral")
	assert.Equal(t, 0.4, agent.Topics["politics"].Agreement)
	assert.InDelta(t, 1.0, sumWeights(agent), 1e-9)
}

func TestAbsorbZeroIntensity(t *testing.T) {
	idx := testIndex(t)

	agent := NewProfile(idx)
	agent.Set("politics", 1, 0)
	agent.Normalize()

	post := NewProfile(idx)
	post.Set("sports", 1, 0)
	post.Normalize()

	agent.Absorb(post, 0)

	assert.InDelta(t, 1.0, agent.Weight("politics"), 1e-9)
	assert.Equal(t, 0.0, agent.Weight("sports"))
}

func TestAbsorbIntoEmpty(t *testing.T) {
	idx := testIndex(t)
	agent := NewProfile(idx)

	post := NewProfile(idx)
	post.Set("health", 3, 0)
	post.Set("science", 1, 0)
	post.Normalize()

	agent.Absorb(post, 0.2)

	assert.InDelta(t, 0.75, agent.Weight("health"), 1e-9)
	assert.InDelta(t, 0.25, agent.Weight("science"), 1e-9)
}

func TestSelectTags(t *testing.T) {
	idx := testIndex(t)
	rng := rand.New(rand.NewSource(7))

	t.Run("two tags bounded two two returns both once", func(t *testing.T) {
		p := NewProfile(idx)
		p.Set("politics", 0.9, 0)
		p.Set("sports", 0.1, 0)
		p.Normalize()

		for i := 0; i < 200; i++ {
			got := p.SelectTags(rng, 2, 2)
			assert.ElementsMatch(t, []string{"politics", "sports"}, got)
		}
	})

	t.Run("empty profile", func(t *testing.T) {
		assert.Empty(t, NewProfile(idx).SelectTags(rng, 1, 3))
	})

	t.Run("bounds capped at topic count", func(t *testing.T) {
		p := NewProfile(idx)
		p.Set("politics", 1, 0)
		p.Set("health", 1, 0)
		p.Normalize()

		for i := 0; i < 100; i++ {
			got := p.SelectTags(rng, 3, 5)
			assert.Len(t, got, 2)
		}
	})

	t.Run("count within range and unique", func(t *testing.T) {
		p := NewProfile(idx)
		for i, tag := range sampleTags {
			p.Set(tag, float64(i+1), 0)
		}
		p.Normalize()

		for i := 0; i < 200; i++ {
			got := p.SelectTags(rng, 1, 3)
			assert.GreaterOrEqual(t, len(got), 1)
			assert.LessOrEqual(t, len(got), 3)

			seen := map[string]bool{}
			for _, tag := range got {
				assert.False(t, seen[tag], "tag %q selected twice", tag)
				seen[tag] = true
				assert.Contains(t, p.Topics, tag)
			}
		}
	})
}

func TestSelectTagsFirstTagFollowsWeight(t *testing.T) {
	idx := testIndex(t)
	rng := rand.New(rand.NewSource(11))

	p := NewProfile(idx)
	p.Set("politics", 0.95, 0)
	p.Set("sports", 0.05, 0)
	p.Normalize()

	hits := 0
	const trials = 2000
	for i := 0; i < trials; i++ {
		if p.SelectTags(rng, 1, 1)[0] == "politics" {
			hits++
		}
	}
	assert.Greater(t, hits, trials*85/100)
}

func TestSelectTagsDeterministic(t *testing.T) {
	idx := testIndex(t)
	p := NewProfile(idx)
	for i, tag := range sampleTags {
		p.Set(tag, float64(i%3+1), 0)
	}
	p.Normalize()

	a := p.SelectTags(rand.New(rand.NewSource(3)), 1, 4)
	b := p.SelectTags(rand.New(rand.NewSource(3)), 1, 4)
	assert.Equal(t, a, b)
}

func TestFiltered(t *testing.T) {
	idx := testIndex(t)
	p := NewProfile(idx)
	p.Set("politics", 0.5, -0.3)
	p.Set("sports", 0.3, 0.7)
	p.Set("health", 0.2, 0.1)
	p.Normalize()

	f := p.Filtered([]string{"politics", "sports", "cooking"})

	require.Len(t, f.Topics, 2)
	assert.InDelta(t, 0.625, f.Weight("politics"), 1e-9)
	assert.InDelta(t, 0.375, f.Weight("sports"), 1e-9)
	assert.Equal(t, -0.3, f.Topics["politics"].Agreement)
	assert.InDelta(t, 0.5, p.Weight("politics"), 1e-9, "source untouched")

	empty := p.Filtered(nil)
	assert.True(t, empty.IsEmpty())
}

func TestClone(t *testing.T) {
	p := NewProfile(testIndex(t))
	p.Set("politics", 1, 0)
	p.Normalize()

	c := p.Clone()
	c.Set("sports", 1, 0)
	c.Normalize()

	assert.InDelta(t, 1.0, p.Weight("politics"), 1e-9)
	assert.NotContains(t, p.Topics, "sports")
	assert.Same(t, p.Index(), c.Index())
}

func TestDecay(t *testing.T) {
	idx := testIndex(t)

	t.Run("spared topics gain share", func(t *testing.T) {
		p := NewProfile(idx)
		p.Set("politics", 0.5, 0)
		p.Set("sports", 0.5, 0)
		p.Normalize()

		p.Decay(0.5, map[string]bool{"politics": true})

		assert.Greater(t, p.Weight("politics"), p.Weight("sports"))
		assert.InDelta(t, 1.0, sumWeights(p), 1e-9)
	})

	t.Run("zero rate is noop", func(t *testing.T) {
		p := NewProfile(idx)
		p.Set("politics", 0.25, 0)
		p.Set("sports", 0.75, 0)
		p.Normalize()

		p.Decay(0, nil)
		assert.InDelta(t, 0.25, p.Weight("politics"), 1e-12)
	})

	t.Run("full decay prunes unspared", func(t *testing.T) {
		p := NewProfile(idx)
		p.Set("politics", 0.5, 0)
		p.Set("sports", 0.5, 0)
		p.Normalize()

		p.Decay(1, map[string]bool{"sports": true})
		assert.NotContains(t, p.Topics, "politics")
		assert.InDelta(t, 1.0, p.Weight("sports"), 1e-9)
	})
}

func TestConcentrationAndPolarization(t *testing.T) {
	idx := testIndex(t)

	single := NewProfile(idx)
	single.Set("politics", 1, -1)
	single.Normalize()
	assert.InDelta(t, 1.0, single.Concentration(), 1e-9)
	assert.InDelta(t, 1.0, single.Polarization(), 1e-9)

	spread := NewProfile(idx)
	for _, tag := range sampleTags[:4] {
		spread.Set(tag, 1, 0)
	}
	spread.Normalize()
	assert.InDelta(t, 0.25, spread.Concentration(), 1e-9)
	assert.Equal(t, 0.0, spread.Polarization())

	assert.Equal(t, 0.0, NewProfile(idx).Concentration())
}

func TestTopTags(t *testing.T) {
	p := NewProfile(testIndex(t))
	p.Set("politics", 0.2, 0)
	p.Set("sports", 0.5, 0)
	p.Set("health", 0.2, 0)
	p.Set("science", 0.1, 0)
	p.Normalize()

	assert.Equal(t, []string{"sports", "health", "politics"}, p.TopTags(3))
	assert.Len(t, p.TopTags(10), 4)
}

package agents

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateKindText(t *testing.T) {
	counts := map[StateKind]int{StateOffline: 2, StateReadingComments: 1}
	data, err := json.Marshal(counts)
	require.NoError(t, err)
	assert.JSONEq(t, `{"offline":2,"reading_comments":1}`, string(data))

	var back map[StateKind]int
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, counts, back)

	var k StateKind
	assert.Error(t, k.UnmarshalText([]byte("sleeping")))
	assert.Equal(t, "unknown", StateKind(42).String())
}

func TestProgress(t *testing.T) {
	p := Progress{Spent: 2, Required: 4}
	assert.False(t, p.Done())
	assert.InDelta(t, 0.5, p.Fraction(), 1e-9)

	p.Spent = 4
	assert.True(t, p.Done())
	assert.Equal(t, 1.0, p.Fraction())
}

func TestKindMarshalText(t *testing.T) {
	data, err := json.Marshal([]Kind{KindIndividual, KindBot, KindOrganisation})
	require.NoError(t, err)
	assert.Equal(t, `["individual","bot","organisation"]`, string(data))

	var back []Kind
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []Kind{KindIndividual, KindBot, KindOrganisation}, back)
	assert.Error(t, json.Unmarshal([]byte(`["robot"]`), &back))
}

package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapaScorePartialCredit(t *testing.T) {
	state := map[string]interface{}{
		"correct_map": map[string]interface{}{
			"q1": map[string]interface{}{"correctness": "correct"},
			"q2": map[string]interface{}{"correctness": "incorrect"},
			"q3": map[string]interface{}{"correctness": "partially-correct", "npoints": 0.5},
		},
	}
	grade, max := CapaScore(state)
	require.NotNil(t, grade)
	require.NotNil(t, max)
	assert.Equal(t, 1.5, *grade)
	assert.Equal(t, 3.0, *max)
}

func TestCapaScoreNpointsBeatsCorrectness(t *testing.T) {
	state := map[string]interface{}{
		"correct_map": map[string]interface{}{
			"q1": map[string]interface{}{"correctness": "correct", "npoints": 2.0},
		},
	}
	grade, max := CapaScore(state)
	require.NotNil(t, grade)
	assert.Equal(t, 2.0, *grade)
	assert.Equal(t, 1.0, *max)
}

func TestCapaScoreLoadedButUnanswered(t *testing.T) {
	state := map[string]interface{}{
		"correct_map": map[string]interface{}{},
		"input_state": map[string]interface{}{
			"q1": map[string]interface{}{},
			"q2": map[string]interface{}{},
		},
	}
	grade, max := CapaScore(state)
	require.NotNil(t, grade)
	require.NotNil(t, max)
	assert.Equal(t, 0.0, *grade)
	assert.Equal(t, 2.0, *max)
}

func TestCapaScoreNothingToDerive(t *testing.T) {
	grade, max := CapaScore(map[string]interface{}{"attempts": 3.0})
	assert.Nil(t, grade)
	assert.Nil(t, max)
}

func TestCapaScoreDeterministic(t *testing.T) {
	state := map[string]interface{}{
		"correct_map": map[string]interface{}{
			"q1": map[string]interface{}{"correctness": "correct"},
			"q2": map[string]interface{}{"correctness": "correct"},
		},
	}
	g1, m1 := CapaScore(state)
	g2, m2 := CapaScore(state)
	assert.Equal(t, *g1, *g2)
	assert.Equal(t, *m1, *m2)
}

package model

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SecureAgg/pkg/protoerr"
)

func TestApplyUpdate(t *testing.T) {
	m := NewVectorModel([]float64{1, 2, 3})
	require.NoError(t, ApplyUpdate(m, []float64{9, 0, 3}, 1.0))
	assert.Equal(t, []float64{10, 2, 6}, m.GetWeights())
}

func TestApplyUpdateLearningRate(t *testing.T) {
	m := NewVectorModel([]float64{1, 1})
	require.NoError(t, ApplyUpdate(m, []float64{2, -4}, 0.5))
	assert.Equal(t, []float64{2, -1}, m.GetWeights())
}

func TestApplyUpdateDimensionMismatch(t *testing.T) {
	m := NewVectorModel([]float64{1, 2, 3})
	err := ApplyUpdate(m, []float64{1, 2}, 1.0)
	require.Error(t, err)
	assert.Equal(t, protoerr.Structural, protoerr.KindOf(err))
	assert.Equal(t, []float64{1, 2, 3}, m.GetWeights(), "failed update leaves the model untouched")
}

func TestVectorModelCopiesWeights(t *testing.T) {
	initial := []float64{1, 2}
	m := NewVectorModel(initial)
	initial[0] = 99
	assert.Equal(t, []float64{1, 2}, m.GetWeights())

	got := m.GetWeights()
	got[0] = 42
	assert.Equal(t, []float64{1, 2}, m.GetWeights())
}

func TestEvaluateValidatesRange(t *testing.T) {
	m := NewVectorModel([]float64{1})

	acc, err := Evaluate(m, EvaluatorFunc(func(Model) (float64, error) { return 0.87, nil }))
	require.NoError(t, err)
	assert.Equal(t, 0.87, acc)

	_, err = Evaluate(m, EvaluatorFunc(func(Model) (float64, error) { return 1.2, nil }))
	require.Error(t, err)
	assert.Equal(t, protoerr.Structural, protoerr.KindOf(err))

	_, err = Evaluate(m, EvaluatorFunc(func(Model) (float64, error) { return -0.01, nil }))
	require.Error(t, err)
}

func TestEvaluateMissingCollaborators(t *testing.T) {
	_, err := Evaluate(nil, EvaluatorFunc(func(Model) (float64, error) { return 0.5, nil }))
	require.Error(t, err)

	_, err = Evaluate(NewVectorModel([]float64{1}), nil)
	require.Error(t, err)
}

func TestPublishArtifactDeterministicHash(t *testing.T) {
	dir := t.TempDir()
	m := NewVectorModel([]float64{0.5, -1.25, 3})

	link1, hash1, err := PublishArtifact(m, dir, "task-1", 1)
	require.NoError(t, err)
	assert.FileExists(t, link1)
	assert.Len(t, hash1, 64)
	assert.Equal(t, filepath.Join(dir, "task-1_round1.cbor"), link1)

	_, hash2, err := PublishArtifact(m, dir, "task-1", 2)
	require.NoError(t, err)
	assert.Equal(t, hash1, hash2, "identical weights hash identically")

	require.NoError(t, m.SetWeights([]float64{0.5, -1.25, 4}))
	_, hash3, err := PublishArtifact(m, dir, "task-1", 3)
	require.NoError(t, err)
	assert.NotEqual(t, hash1, hash3)
}

func TestLoadLatestArtifact(t *testing.T) {
	dir := t.TempDir()
	m := NewVectorModel([]float64{1, 2})

	for round := 1; round <= 11; round++ {
		require.NoError(t, m.SetWeights([]float64{float64(round), 2}))
		_, _, err := PublishArtifact(m, dir, "task-1", round)
		require.NoError(t, err)
	}

	restored, err := LoadLatestArtifact(dir, "task-1")
	require.NoError(t, err)
	// Round 11 wins over round 2 despite lexicographic filename order.
	assert.Equal(t, []float64{11, 2}, restored.GetWeights())

	_, err = LoadLatestArtifact(dir, "unknown-task")
	require.Error(t, err)
}

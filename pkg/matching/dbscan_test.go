package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBSCAN_GroupsDirectionallySimilarPoints(t *testing.T) {
	// the first three point the same way, the last points elsewhere
	points := [][]float64{
		{9, 2, 0, 0, 0, 0},
		{16, 2, 0, 0, 0, 0},
		{12, 2, 0, 0, 0, 0},
		{1, 1, 1, 0, 0, 1},
	}

	labels := dbscan(points, 0.3, 2)

	require.Len(t, labels, 4)
	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labels[0], labels[2])
	assert.NotEqual(t, noiseLabel, labels[0])
	assert.Equal(t, noiseLabel, labels[3])
}

func TestDBSCAN_AllNoiseWhenTooSparse(t *testing.T) {
	points := [][]float64{
		{1, 0, 0, 0, 0, 0},
		{0, 1, 0, 0, 0, 0},
		{0, 0, 1, 0, 0, 0},
	}

	labels := dbscan(points, 0.1, 2)

	for _, label := range labels {
		assert.Equal(t, noiseLabel, label)
	}
}

func TestDBSCAN_EmptyInput(t *testing.T) {
	assert.Empty(t, dbscan(nil, 0.3, 2))
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, cosineDistance([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-9)
	assert.InDelta(t, 1, cosineDistance([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, 0, cosineDistance([]float64{0, 0}, []float64{0, 0}), 1e-9)
	assert.InDelta(t, 1, cosineDistance([]float64{0, 0}, []float64{1, 0}), 1e-9)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1, CosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-6)
	assert.InDelta(t, 0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, 0, CosineSimilarity(nil, []float32{1, 0}), 1e-6)

	// length mismatch compares the shared prefix
	assert.InDelta(t, 1, CosineSimilarity([]float32{1, 0}, []float32{1, 0, 5}), 1e-6)
}

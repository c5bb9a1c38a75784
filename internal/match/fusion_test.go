package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseWithMatch(t *testing.T) {
	r := Result{BestID: id(3), BestName: "Comet", BestScore: 0.6}
	d := Fuse(0.8, r, DefaultThreshold)

	assert.True(t, d.Identified)
	require.NotNil(t, d.HorseID)
	assert.Equal(t, int64(3), *d.HorseID)
	assert.Equal(t, "Comet", d.HorseName)
	assert.Equal(t, 0.7, d.Confidence)
	assert.True(t, d.Kept)
}

func TestFuseWithoutMatch(t *testing.T) {
	d := Fuse(0.8, Result{}, DefaultThreshold)

	assert.False(t, d.Identified)
	assert.Nil(t, d.HorseID)
	assert.Equal(t, 0.8, d.Confidence)
	assert.True(t, d.Kept)
}

func TestFuseNameOnlyCandidate(t *testing.T) {
	d := Fuse(0.8, Result{BestName: "Comet", BestScore: 0.6}, DefaultThreshold)

	assert.True(t, d.Identified)
	assert.Nil(t, d.HorseID)
	assert.Equal(t, "Comet", d.HorseName)
	assert.Equal(t, 0.7, d.Confidence)

	d = Fuse(0.8, Result{BestName: "Comet", BestScore: 0.1}, DefaultThreshold)
	assert.False(t, d.Identified)
	assert.Empty(t, d.HorseName)
}

func TestFuseSubThresholdMatchIsUnknown(t *testing.T) {
	r := Result{BestID: id(5), BestName: "Ghost", BestScore: 0.2}
	d := Fuse(0.9, r, DefaultThreshold)

	assert.Nil(t, d.HorseID)
	assert.Empty(t, d.HorseName)
	assert.Equal(t, 0.9, d.Confidence)
}

func TestFuseDiscardsLowConfidence(t *testing.T) {
	d := Fuse(0.2, Result{}, DefaultThreshold)
	assert.False(t, d.Kept)

	// a weak action can still be lifted above the gate by a strong match
	d = Fuse(0.2, Result{BestID: id(1), BestScore: 0.9}, DefaultThreshold)
	assert.Equal(t, 0.55, d.Confidence)
	assert.True(t, d.Kept)
}

func TestThresholdGatingEndToEnd(t *testing.T) {
	ref := []float32{0.1, 0.7, -0.2, 0.4}
	cands := []Candidate{
		{ID: id(1), Name: "A", Embedding: ref},
		{ID: id(2), Name: "B", Embedding: []float32{0.7, -0.1, 0.4, -0.3}},
	}
	d := Fuse(0.6, Match(ref, cands), DefaultThreshold)
	require.NotNil(t, d.HorseID)
	assert.Equal(t, int64(1), *d.HorseID)
	assert.True(t, d.Kept)

	dissimilar := []Candidate{
		{ID: id(2), Name: "B", Embedding: []float32{0.7, -0.1, 0.4, -0.3}},
	}
	res := Match(ref, dissimilar)
	require.NotNil(t, res.BestID)
	assert.Less(t, res.BestScore, DefaultThreshold)

	d = Fuse(0.6, res, DefaultThreshold)
	assert.Nil(t, d.HorseID)
	assert.Len(t, res.Ranked, 1)
}

package inference

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// MockEmbeddingDim matches the default embedding model so stored references
// stay comparable when switching between mock and real inference.
const MockEmbeddingDim = 1152

const (
	mockModelID    = "mock"
	mockHashPrefix = 512
)

// Mock derives action labels and embeddings from a hash of the image bytes.
// Identical images always get identical outputs.
type Mock struct {
	knownActions []string
}

func NewMock(knownActions []string) *Mock {
	if len(knownActions) == 0 {
		knownActions = DefaultKnownActions
	}
	return &Mock{knownActions: knownActions}
}

func (m *Mock) AnalyzeAction(_ context.Context, image []byte) (*ActionResult, error) {
	digest := mockDigest(image)
	bucket := int(binary.BigEndian.Uint16(digest[:2]))
	action := m.knownActions[bucket%len(m.knownActions)]
	confidence := math.Round(min(0.55+float64(bucket%40)/100, 0.95)*1000) / 1000
	return &ActionResult{
		Action:      action,
		Confidence:  confidence,
		Description: fmt.Sprintf("[mock] Horse appears to be %s.", action),
		ModelID:     mockModelID,
	}, nil
}

func (m *Mock) GenerateEmbedding(_ context.Context, image []byte) (*EmbeddingResult, error) {
	return &EmbeddingResult{
		Embedding: MockEmbedding(image),
		Dim:       MockEmbeddingDim,
		ModelID:   mockModelID,
	}, nil
}

// MockEmbedding is the unit vector generated for image by a linear
// congruential sequence seeded from its hash.
func MockEmbedding(image []byte) []float32 {
	digest := mockDigest(image)
	state := uint64(binary.BigEndian.Uint32(digest[:4]))

	values := make([]float64, MockEmbeddingDim)
	var sumSq float64
	for i := range values {
		state = (state*1664525 + 1013904223) & 0xFFFFFFFF
		v := float64(state)/0xFFFFFFFF*2 - 1
		values[i] = v
		sumSq += v * v
	}
	mag := math.Sqrt(sumSq)

	out := make([]float32, MockEmbeddingDim)
	for i, v := range values {
		if mag > 0 {
			v /= mag
		}
		out[i] = float32(v)
	}
	return out
}

func mockDigest(image []byte) [32]byte {
	if len(image) > mockHashPrefix {
		image = image[:mockHashPrefix]
	}
	return sha256.Sum256(image)
}

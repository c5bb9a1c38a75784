// Package inference talks to the action and embedding models, either over
// HTTP to the ml-service or through a deterministic offline mock.
package inference

import (
	"context"
	"errors"
)

var (
	ErrCircuitOpen       = errors.New("ml service circuit breaker is open")
	ErrMalformedResponse = errors.New("malformed model response")
	ErrUndecodableImage  = errors.New("image could not be decoded")
)

// DefaultKnownActions is the label set used when none is configured.
var DefaultKnownActions = []string{"standing", "eating", "lying down", "trotting"}

type ActionResult struct {
	Action      string
	Confidence  float64
	Description string
	ModelID     string
	Revision    *string
}

type EmbeddingResult struct {
	Embedding []float32
	Dim       int
	ModelID   string
	Revision  *string
}

// Service is the pair of external models the detection pipeline depends on.
// Implementations return an error rather than a zero embedding on failure.
type Service interface {
	AnalyzeAction(ctx context.Context, image []byte) (*ActionResult, error)
	GenerateEmbedding(ctx context.Context, image []byte) (*EmbeddingResult, error)
}

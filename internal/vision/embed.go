package vision

import (
	"context"
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/stableguard/stableguard/internal/observability"
)

type EmbedderConfig struct {
	ModelPath  string
	InputName  string
	OutputName string
	InputSize  int
	Dim        int
}

// Embedder produces L2-normalized image embeddings from a single ONNX
// session. The session's tensors are reused, so Embed calls are serialized.
type Embedder struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputSize    int
	dim          int
}

func NewEmbedder(cfg EmbedderConfig) (*Embedder, error) {
	if cfg.InputName == "" {
		cfg.InputName = "pixel_values"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "image_embeds"
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(cfg.InputSize), int64(cfg.InputSize)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Dim)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &Embedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputSize:    cfg.InputSize,
		dim:          cfg.Dim,
	}, nil
}

// Embed decodes image and returns its unit-length embedding.
func (e *Embedder) Embed(_ context.Context, image []byte) ([]float32, error) {
	img, err := Decode(image)
	if err != nil {
		return nil, err
	}
	input := ToCHW(img, e.inputSize, SigLIPNorm)

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.inputTensor.GetData(), input)
	timer := observability.InferenceTimer("embed")
	err = e.session.Run()
	timer()
	if err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	embedding := make([]float32, e.dim)
	copy(embedding, e.outputTensor.GetData())
	if !l2Normalize(embedding) {
		return nil, fmt.Errorf("embedding model returned a zero vector")
	}
	return embedding, nil
}

func (e *Embedder) Dim() int { return e.dim }

func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return nil
}

// l2Normalize scales v to unit length in place. It reports false for an
// all-zero vector, which is left untouched.
func l2Normalize(v []float32) bool {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return false
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return true
}

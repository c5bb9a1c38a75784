package vision

import (
	"context"
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/stableguard/stableguard/internal/observability"
)

type ActionConfig struct {
	ModelPath  string
	InputName  string
	OutputName string
	InputSize  int
	// Labels names the model's output logits in order.
	Labels []string
}

// ActionClassifier maps a frame onto one of a fixed set of action labels.
type ActionClassifier struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputSize    int
	labels       []string
}

func NewActionClassifier(cfg ActionConfig) (*ActionClassifier, error) {
	if len(cfg.Labels) == 0 {
		return nil, fmt.Errorf("action classifier needs at least one label")
	}
	if cfg.InputName == "" {
		cfg.InputName = "input"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "logits"
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(cfg.InputSize), int64(cfg.InputSize)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(cfg.Labels))))
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
		return nil, fmt.Errorf("create action session: %w", err)
	}

	return &ActionClassifier{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputSize:    cfg.InputSize,
		labels:       cfg.Labels,
	}, nil
}

// Classify returns the most likely label and its softmax probability.
func (c *ActionClassifier) Classify(_ context.Context, image []byte) (string, float64, error) {
	img, err := Decode(image)
	if err != nil {
		return "", 0, err
	}
	input := ToCHW(img, c.inputSize, ImageNetNorm)

	c.mu.Lock()
	defer c.mu.Unlock()

	copy(c.inputTensor.GetData(), input)
	timer := observability.InferenceTimer("action")
	err = c.session.Run()
	timer()
	if err != nil {
		return "", 0, fmt.Errorf("run action: %w", err)
	}

	idx, p := argmaxSoftmax(c.outputTensor.GetData())
	return c.labels[idx], p, nil
}

func (c *ActionClassifier) Labels() []string { return c.labels }

func (c *ActionClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.Destroy()
		c.session = nil
	}
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
		c.inputTensor = nil
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
		c.outputTensor = nil
	}
	return nil
}

// argmaxSoftmax returns the index of the largest logit and its softmax
// probability, rounded to 3 places.
func argmaxSoftmax(logits []float32) (int, float64) {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	maxLogit := float64(logits[best])
	var sum float64
	for _, v := range logits {
		sum += math.Exp(float64(v) - maxLogit)
	}
	return best, math.Round(1/sum*1000) / 1000
}

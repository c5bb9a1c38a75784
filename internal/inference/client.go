package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/stableguard/stableguard/internal/observability"
	"github.com/stableguard/stableguard/pkg/dto"
)

type ClientConfig struct {
	BaseURL      string
	Timeout      time.Duration
	KnownActions []string
	// Consecutive failures that open the breaker, and how long it stays open.
	MaxFailures  uint32
	OpenDuration time.Duration
}

// Client calls the ml-service over HTTP. Calls go through a circuit breaker
// so a dead ml-service fails jobs fast instead of holding workers for the
// full timeout.
type Client struct {
	baseURL      string
	http         *http.Client
	breaker      *gobreaker.CircuitBreaker
	knownActions []string
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenDuration == 0 {
		cfg.OpenDuration = 30 * time.Second
	}
	known := cfg.KnownActions
	if len(known) == 0 {
		known = DefaultKnownActions
	}
	maxFailures := cfg.MaxFailures
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ml-service",
			MaxRequests: 1,
			Timeout:     cfg.OpenDuration,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			},
		}),
		knownActions: known,
	}
}

func (c *Client) AnalyzeAction(ctx context.Context, image []byte) (*ActionResult, error) {
	start := time.Now()
	body, err := c.postImage(ctx, "/action", image)
	observability.InferenceDuration.WithLabelValues("action").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	var resp dto.ActionResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Action == "" {
		// Not the documented shape; salvage what the text says.
		p := ParseAction(string(body), c.knownActions)
		slog.Warn("ml /action returned unexpected body, using fallback parse", "outcome", p.Outcome.String())
		return &ActionResult{
			Action:      p.Action,
			Confidence:  p.Confidence,
			Description: p.Description,
			ModelID:     "unknown",
		}, nil
	}
	return &ActionResult{
		Action:      resp.Action,
		Confidence:  clampConfidence(resp.Confidence),
		Description: resp.Description,
		ModelID:     resp.ModelID,
		Revision:    resp.ModelRevision,
	}, nil
}

func (c *Client) GenerateEmbedding(ctx context.Context, image []byte) (*EmbeddingResult, error) {
	start := time.Now()
	body, err := c.postImage(ctx, "/embed", image)
	observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	var resp dto.EmbedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode /embed response: %w: %v", ErrMalformedResponse, err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("/embed returned no vector: %w", ErrMalformedResponse)
	}
	if resp.Dim != 0 && resp.Dim != len(resp.Embedding) {
		return nil, fmt.Errorf("/embed dim %d but vector has %d values: %w", resp.Dim, len(resp.Embedding), ErrMalformedResponse)
	}
	return &EmbeddingResult{
		Embedding: resp.Embedding,
		Dim:       len(resp.Embedding),
		ModelID:   resp.ModelID,
		Revision:  resp.ModelRevision,
	}, nil
}

// Models lists what the ml-service has loaded.
func (c *Client) Models(ctx context.Context) ([]dto.ModelInfo, error) {
	var out []dto.ModelInfo
	if err := c.getJSON(ctx, "/models", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Health(ctx context.Context) (*dto.MLHealthResponse, error) {
	var out dto.MLHealthResponse
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postImage(ctx context.Context, path string, image []byte) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="image.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}

	return c.do(func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}, path)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.do(func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	}, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w: %v", path, ErrMalformedResponse, err)
	}
	return nil
}

func (c *Client) do(build func() (*http.Request, error), path string) ([]byte, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 {
			return nil, &StatusError{Path: path, Code: resp.StatusCode, Body: truncate(string(body), descriptionLimit)}
		}
		return body, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("ml service %s: %w", path, ErrCircuitOpen)
		}
		return nil, fmt.Errorf("ml service %s call failed: %w", path, err)
	}
	return res.([]byte), nil
}

// StatusError is a non-2xx reply from the ml-service.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Path, e.Code, e.Body)
}

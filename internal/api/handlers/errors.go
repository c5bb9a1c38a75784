package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stableguard/stableguard/internal/identity"
	"github.com/stableguard/stableguard/internal/inference"
	"github.com/stableguard/stableguard/internal/registry"
	"github.com/stableguard/stableguard/internal/storage"
)

// respondError maps domain errors onto HTTP statuses. Anything unrecognised
// is a 500 and gets logged.
func respondError(c *gin.Context, err error) {
	var embErr *identity.EmbeddingError
	var statusErr *inference.StatusError

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, identity.ErrNoReferenceImage), errors.Is(err, identity.ErrReferenceImageMissing):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, registry.ErrModelNotLoaded):
		status = http.StatusServiceUnavailable
	case errors.As(err, &embErr), errors.As(err, &statusErr),
		errors.Is(err, inference.ErrCircuitOpen), errors.Is(err, inference.ErrMalformedResponse):
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("ML service error: %v", err)})
		return
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseID(c *gin.Context, param string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param})
		return 0, false
	}
	return id, true
}

// optionalID parses a positive integer query parameter. A missing value is
// nil; a malformed one writes a 400.
func optionalID(c *gin.Context, name string) (*int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return nil, false
	}
	return &id, true
}

type upload struct {
	Data        []byte
	Filename    string
	ContentType string
}

// readUpload reads one multipart file field fully, up to maxBytes.
func readUpload(c *gin.Context, field string, maxBytes int64) (*upload, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("missing %q file: %w", field, storage.ErrInvalidInput)
	}
	if maxBytes > 0 && fh.Size > maxBytes {
		return nil, fmt.Errorf("%q exceeds %d bytes: %w", field, maxBytes, storage.ErrInvalidInput)
	}
	data, err := readFileHeader(fh)
	if err != nil {
		return nil, err
	}
	return &upload{Data: data, Filename: fh.Filename, ContentType: fh.Header.Get("Content-Type")}, nil
}

func readFileHeader(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

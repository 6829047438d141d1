// Package ocr abstracts the screenshot text-extraction capability. The
// monitor treats OCR as a local sidecar service; failures are tolerated
// upstream, so engines only need best-effort behavior.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Engine decodes one base64-encoded screenshot into its visible text.
// An empty string with a nil error means "nothing legible".
type Engine interface {
	ExtractText(ctx context.Context, imageB64 string) (string, error)
}

// HTTPEngine calls a local OCR sidecar: POST {image_b64} to /ocr, reply
// {text}.
type HTTPEngine struct {
	baseURL string
	http    *http.Client
}

// NewHTTPEngine creates an engine for the sidecar at baseURL.
func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type ocrRequest struct {
	ImageB64 string `json:"image_b64"`
}

type ocrResponse struct {
	Text string `json:"text"`
}

// ExtractText implements Engine.
func (e *HTTPEngine) ExtractText(ctx context.Context, imageB64 string) (string, error) {
	body, err := json.Marshal(ocrRequest{ImageB64: imageB64})
	if err != nil {
		return "", fmt.Errorf("marshal ocr request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/ocr", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("call ocr sidecar: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read ocr response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ocr sidecar returned %d", resp.StatusCode)
	}
	var or ocrResponse
	if err := json.Unmarshal(raw, &or); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	return strings.TrimSpace(or.Text), nil
}

// Disabled is the engine used when OCR is turned off: it always returns
// empty text.
type Disabled struct{}

// ExtractText implements Engine.
func (Disabled) ExtractText(context.Context, string) (string, error) { return "", nil }

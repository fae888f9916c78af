package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"
)

type ocrRequest struct {
	Image      string `json:"image"`
	Alphabet   string `json:"alphabet,omitempty"`
	SingleLine bool   `json:"single_line"`
}

type ocrResponse struct {
	RawAnswerText string `json:"raw_answer_text"`
	// Confidence is on a 0..1 scale.
	Confidence float64 `json:"confidence"`
}

// HTTPEngine delegates OCR to a remote recognition service.
type HTTPEngine struct {
	endpoint string
	client   *http.Client
}

func NewHTTPEngine(endpoint string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (e *HTTPEngine) Recognize(ctx context.Context, img image.Image, opts EngineOptions) (EngineResult, error) {
	data, err := encodeJPEG(img)
	if err != nil {
		return EngineResult{}, err
	}

	body, err := json.Marshal(ocrRequest{
		Image:      base64.StdEncoding.EncodeToString(data),
		Alphabet:   opts.Alphabet,
		SingleLine: opts.SingleLine,
	})
	if err != nil {
		return EngineResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return EngineResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return EngineResult{}, fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return EngineResult{}, fmt.Errorf("ocr service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return EngineResult{}, fmt.Errorf("decode ocr response: %w", err)
	}
	return EngineResult{Text: out.RawAnswerText, Confidence: out.Confidence * 100}, nil
}

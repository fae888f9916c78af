package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/rs/zerolog"

	"parking-checkin/internal/domain/checkin"
	"parking-checkin/internal/metrics"
	"parking-checkin/internal/utils"
)

// EngineOptions constrain an OCR engine to plate text.
type EngineOptions struct {
	// Alphabet lists the characters the engine may return.
	Alphabet string
	// SingleLine tells the engine to expect one line of text.
	SingleLine bool
}

type EngineResult struct {
	Text string
	// Confidence is on a 0..100 scale.
	Confidence float64
}

// Engine is an external OCR implementation.
type Engine interface {
	Recognize(ctx context.Context, img image.Image, opts EngineOptions) (EngineResult, error)
}

// AcceptancePolicy decides whether OCR output is worth a reservation lookup.
type AcceptancePolicy struct {
	MinConfidence float64
	MinLength     int
}

// Accept sanitizes raw OCR text to [A-Z0-9-] and returns a candidate when
// both the length and confidence thresholds are met. Both bounds are
// inclusive.
func (p AcceptancePolicy) Accept(raw string, confidence float64) (*checkin.PlateCandidate, bool) {
	text := utils.SanitizeRawPlate(raw)
	if len(text) < p.MinLength {
		return nil, false
	}
	if confidence < p.MinConfidence {
		return nil, false
	}
	return &checkin.PlateCandidate{RawText: text, Confidence: confidence}, true
}

type Recognizer struct {
	engine  Engine
	opts    EngineOptions
	policy  AcceptancePolicy
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewRecognizer(engine Engine, opts EngineOptions, policy AcceptancePolicy, m *metrics.Metrics, log zerolog.Logger) *Recognizer {
	return &Recognizer{
		engine:  engine,
		opts:    opts,
		policy:  policy,
		metrics: m,
		log:     log,
	}
}

// Recognize returns nil, nil when the engine output fails the acceptance
// policy. Engine errors come back wrapped with an "ocr" prefix.
func (r *Recognizer) Recognize(ctx context.Context, img image.Image) (*checkin.PlateCandidate, error) {
	res, err := r.engine.Recognize(ctx, img, r.opts)
	if err != nil {
		return nil, fmt.Errorf("ocr: %w", err)
	}

	candidate, ok := r.policy.Accept(res.Text, res.Confidence)
	r.metrics.ObserveCandidate(ok)
	if !ok {
		r.log.Debug().
			Str("raw_text", res.Text).
			Float64("confidence", res.Confidence).
			Msg("recognition rejected")
		return nil, nil
	}

	r.log.Debug().
		Str("plate", candidate.RawText).
		Float64("confidence", candidate.Confidence).
		Msg("plate candidate accepted")
	return candidate, nil
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

package scanner

import (
	"context"
	"image"

	"parking-checkin/internal/domain/checkin"
)

type Preprocessor interface {
	Preprocess(frame *checkin.Frame) (image.Image, error)
}

type PlateRecognizer interface {
	Recognize(ctx context.Context, img image.Image) (*checkin.PlateCandidate, error)
}

// Matcher resolves an accepted candidate against the reservation store.
type Matcher interface {
	CheckCandidate(ctx context.Context, candidate checkin.PlateCandidate, src checkin.ScanSource) checkin.MatchResult
}

// Pipeline runs the region and recognition stages over one frame.
type Pipeline struct {
	pre Preprocessor
	rec PlateRecognizer
}

func NewPipeline(pre Preprocessor, rec PlateRecognizer) *Pipeline {
	return &Pipeline{pre: pre, rec: rec}
}

// Recognize returns nil, nil when the frame holds nothing acceptable.
// An unusable frame yields an error wrapping checkin.ErrInvalidFrame.
func (p *Pipeline) Recognize(ctx context.Context, frame *checkin.Frame) (*checkin.PlateCandidate, error) {
	region, err := p.pre.Preprocess(frame)
	if err != nil {
		return nil, err
	}
	return p.rec.Recognize(ctx, region)
}

package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"parking-checkin/internal/domain/checkin"
)

// Source produces still frames from a camera. Capture returns nil, nil or an
// error wrapping checkin.ErrCaptureUnavailable when there is nothing to scan;
// the caller skips the cycle.
type Source interface {
	Capture(ctx context.Context) (*checkin.Frame, error)
	CameraID() string
}

// DefaultMaxFramePixels caps decoded frames when no other limit is configured.
const DefaultMaxFramePixels = 25_000_000

// Decode reads a JPEG, PNG, GIF, BMP, TIFF or WebP still into a frame.
// Images with more than maxPixels pixels are rejected from their header,
// before any pixel data is decoded. maxPixels <= 0 means DefaultMaxFramePixels.
func Decode(r io.Reader, cameraID string, maxPixels int) (*checkin.Frame, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxFramePixels
	}

	br := bufio.NewReader(r)
	var header bytes.Buffer
	cfg, format, err := image.DecodeConfig(io.TeeReader(br, &header))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", checkin.ErrInvalidFrame, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty %s image", checkin.ErrInvalidFrame, format)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %s image is %dx%d, limit is %d pixels",
			checkin.ErrInvalidFrame, format, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(io.MultiReader(&header, br))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", checkin.ErrInvalidFrame, err)
	}
	return &checkin.Frame{
		Image:      img,
		CameraID:   cameraID,
		CapturedAt: time.Now(),
	}, nil
}

// PushSource holds the most recent frame pushed by a client, such as the
// operator's browser. Each pushed frame is handed out at most once.
type PushSource struct {
	cameraID  string
	maxPixels int

	mu     sync.Mutex
	latest *checkin.Frame
}

func NewPushSource(cameraID string, maxPixels int) *PushSource {
	return &PushSource{cameraID: cameraID, maxPixels: maxPixels}
}

func (s *PushSource) CameraID() string {
	return s.cameraID
}

// Push replaces any frame not yet captured.
func (s *PushSource) Push(frame *checkin.Frame) {
	if frame == nil {
		return
	}
	if frame.CameraID == "" {
		frame.CameraID = s.cameraID
	}
	s.mu.Lock()
	s.latest = frame
	s.mu.Unlock()
}

// PushEncoded decodes an encoded still and pushes it.
func (s *PushSource) PushEncoded(r io.Reader) error {
	frame, err := Decode(r, s.cameraID, s.maxPixels)
	if err != nil {
		return err
	}
	s.Push(frame)
	return nil
}

func (s *PushSource) Capture(ctx context.Context) (*checkin.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	frame := s.latest
	s.latest = nil
	return frame, nil
}

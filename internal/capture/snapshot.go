package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"parking-checkin/internal/domain/checkin"
)

const maxSnapshotBytes = 16 << 20

// SnapshotSource polls an IP camera's still-image endpoint.
type SnapshotSource struct {
	cameraID  string
	url       string
	maxPixels int
	client    *http.Client
}

func NewSnapshotSource(cameraID, url string, timeout time.Duration, maxPixels int) *SnapshotSource {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &SnapshotSource{
		cameraID:  cameraID,
		url:       url,
		maxPixels: maxPixels,
		client:    &http.Client{Timeout: timeout},
	}
}

func (s *SnapshotSource) CameraID() string {
	return s.cameraID
}

func (s *SnapshotSource) Capture(ctx context.Context) (*checkin.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", checkin.ErrCaptureUnavailable, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", checkin.ErrCaptureUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: camera %s returned %d", checkin.ErrCaptureUnavailable, s.cameraID, resp.StatusCode)
	}

	frame, err := Decode(io.LimitReader(resp.Body, maxSnapshotBytes), s.cameraID, s.maxPixels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", checkin.ErrCaptureUnavailable, err)
	}
	return frame, nil
}

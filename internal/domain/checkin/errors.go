package checkin

import "errors"

var (
	// ErrCaptureUnavailable means no frame could be obtained this cycle.
	ErrCaptureUnavailable = errors.New("capture unavailable")
	// ErrInvalidFrame is a malformed or zero-size frame. Handled like ErrCaptureUnavailable.
	ErrInvalidFrame = errors.New("invalid frame")
	// ErrRecognitionRejected means OCR ran but nothing passed the acceptance policy.
	ErrRecognitionRejected = errors.New("recognition rejected")
	ErrLookupTimeout       = errors.New("reservation lookup timed out")
	ErrLookupFailure       = errors.New("reservation lookup failed")
)

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"parking-checkin/internal/domain/checkin"
	"parking-checkin/internal/gate"
	"parking-checkin/internal/repository"
	"parking-checkin/internal/scanner"
	"parking-checkin/internal/utils"
)

const scanEventWriteTimeout = 2 * time.Second

type ScanEventStore interface {
	CreateScanEvent(ctx context.Context, event *repository.ScanEvent) error
	FindScanEvents(ctx context.Context, normalizedPlate *string, from, to *time.Time, limit, offset int) ([]repository.ScanEvent, error)
	DeleteOldScanEvents(ctx context.Context, days int) (int64, error)
}

// CheckinService runs reservation lookups for scanned or typed plates,
// audits every lookup and opens the gate on a match.
type CheckinService struct {
	matcher  *Matcher
	events   ScanEventStore
	gate     gate.Opener
	pipeline *scanner.Pipeline
	log      zerolog.Logger
}

func NewCheckinService(matcher *Matcher, events ScanEventStore, opener gate.Opener, pipeline *scanner.Pipeline, log zerolog.Logger) *CheckinService {
	if opener == nil {
		opener = gate.Noop{}
	}
	return &CheckinService{
		matcher:  matcher,
		events:   events,
		gate:     opener,
		pipeline: pipeline,
		log:      log,
	}
}

// CheckCandidate matches an accepted recognizer candidate.
func (s *CheckinService) CheckCandidate(ctx context.Context, candidate checkin.PlateCandidate, src checkin.ScanSource) checkin.MatchResult {
	confidence := candidate.Confidence
	return s.check(ctx, candidate.RawText, &confidence, src)
}

// CheckPlate matches a plate typed in by an operator.
func (s *CheckinService) CheckPlate(ctx context.Context, plate string, src checkin.ScanSource) (checkin.MatchResult, error) {
	if utils.NormalizePlate(plate) == "" {
		return checkin.MatchResult{}, fmt.Errorf("%w: plate cannot be empty after normalization", ErrInvalidInput)
	}
	return s.check(ctx, plate, nil, src), nil
}

type ScanReport struct {
	CameraID  string
	Width     int
	Height    int
	Candidate *checkin.PlateCandidate
	// Result is nil when no candidate passed the acceptance policy.
	Result *checkin.MatchResult
}

// ScanFrame runs one frame through the pipeline and, if a candidate is
// accepted, looks it up.
func (s *CheckinService) ScanFrame(ctx context.Context, frame *checkin.Frame, src checkin.ScanSource) (*ScanReport, error) {
	report := &ScanReport{
		CameraID: src.CameraID,
		Width:    frame.Width(),
		Height:   frame.Height(),
	}

	candidate, err := s.pipeline.Recognize(ctx, frame)
	if err != nil {
		if errors.Is(err, checkin.ErrInvalidFrame) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		s.log.Error().Err(err).Str("camera_id", src.CameraID).Msg("failed to recognize plate")
		return nil, fmt.Errorf("failed to recognize plate: %w", err)
	}
	if candidate == nil {
		s.log.Debug().Str("camera_id", src.CameraID).Msg("no plate accepted in frame")
		return report, nil
	}

	report.Candidate = candidate
	result := s.CheckCandidate(ctx, *candidate, src)
	report.Result = &result
	return report, nil
}

func (s *CheckinService) check(ctx context.Context, raw string, confidence *float64, src checkin.ScanSource) checkin.MatchResult {
	result := s.matcher.Match(ctx, raw)

	// a cancelled caller discards the result: no audit row, no gate command
	if ctx.Err() != nil {
		return result
	}

	s.record(ctx, raw, confidence, src, result)

	if result.Kind == checkin.MatchFound && src.CameraID != "" {
		if err := s.gate.Open(ctx, src.CameraID, result.Reservation.ID); err != nil {
			s.log.Error().
				Err(err).
				Str("camera_id", src.CameraID).
				Int64("booking_id", result.Reservation.ID).
				Msg("failed to open gate")
		}
	}
	return result
}

// record writes the audit row. A failed write never changes the lookup result.
func (s *CheckinService) record(ctx context.Context, raw string, confidence *float64, src checkin.ScanSource, result checkin.MatchResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), scanEventWriteTimeout)
	defer cancel()

	event := &repository.ScanEvent{
		CameraID:        optional(src.CameraID),
		SessionID:       optional(src.SessionID),
		RawPlate:        raw,
		NormalizedPlate: result.Plate,
		Confidence:      confidence,
		Outcome:         string(result.Kind),
		Details:         datatypes.JSONMap{"source": sourceKind(src, confidence)},
	}
	if result.Reservation != nil {
		id := result.Reservation.ID
		event.BookingID = &id
		event.Details["status"] = string(result.Reservation.Status)
	}
	if result.Err != nil {
		msg := result.Err.Error()
		event.Error = &msg
		event.Details["retryable"] = result.Retryable
	}

	if err := s.events.CreateScanEvent(ctx, event); err != nil {
		s.log.Error().
			Err(err).
			Str("plate", result.Plate).
			Str("camera_id", src.CameraID).
			Msg("failed to save scan event")
	}
}

func sourceKind(src checkin.ScanSource, confidence *float64) string {
	switch {
	case src.SessionID != "":
		return "scanner"
	case confidence != nil:
		return "image"
	default:
		return "manual"
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

const (
	defaultScanEventLimit = 50
	maxScanEventLimit     = 100
)

// FindScanEvents lists audit rows newest first. from and to are RFC3339
// bounds; limit falls back to 50 and is capped at 100.
func (s *CheckinService) FindScanEvents(ctx context.Context, plateQuery *string, from, to *string, limit, offset int) ([]checkin.ScanEvent, error) {
	var normalizedPlate *string
	if plateQuery != nil {
		if normalized := utils.NormalizePlate(*plateQuery); normalized != "" {
			normalizedPlate = &normalized
		}
	}

	fromTime, err := parseBound("from", from)
	if err != nil {
		return nil, err
	}
	toTime, err := parseBound("to", to)
	if err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = defaultScanEventLimit
	case limit > maxScanEventLimit:
		limit = maxScanEventLimit
	}
	offset = max(offset, 0)

	rows, err := s.events.FindScanEvents(ctx, normalizedPlate, fromTime, toTime, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to find scan events: %w", err)
	}

	result := make([]checkin.ScanEvent, len(rows))
	for i := range rows {
		result[i] = scanEventFromRow(&rows[i])
	}
	return result, nil
}

func parseBound(name string, value *string) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an RFC3339 time", ErrInvalidInput, name)
	}
	return &t, nil
}

func scanEventFromRow(row *repository.ScanEvent) checkin.ScanEvent {
	return checkin.ScanEvent{
		ID:              row.ID.String(),
		CameraID:        deref(row.CameraID),
		SessionID:       deref(row.SessionID),
		RawPlate:        row.RawPlate,
		NormalizedPlate: row.NormalizedPlate,
		Confidence:      row.Confidence,
		Outcome:         checkin.MatchKind(row.Outcome),
		BookingID:       row.BookingID,
		Error:           deref(row.Error),
		CreatedAt:       row.CreatedAt,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *CheckinService) CleanupOldEvents(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: retention must be at least one day", ErrInvalidInput)
	}
	deleted, err := s.events.DeleteOldScanEvents(ctx, days)
	if err != nil {
		return 0, fmt.Errorf("failed to delete scan events older than %d days: %w", days, err)
	}
	s.log.Info().Int64("deleted", deleted).Int("retention_days", days).Msg("scan event cleanup finished")
	return deleted, nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"parking-checkin/internal/domain/checkin"
	"parking-checkin/internal/metrics"
	"parking-checkin/internal/utils"
)

// ReservationStore is the booking subsystem's read side as the matcher sees it.
type ReservationStore interface {
	FindByNormalizedPlate(ctx context.Context, plate string, statuses []checkin.ReservationStatus) ([]checkin.Reservation, error)
}

// Matcher resolves a plate to at most one active reservation.
type Matcher struct {
	store   ReservationStore
	timeout time.Duration
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewMatcher(store ReservationStore, timeout time.Duration, m *metrics.Metrics, log zerolog.Logger) *Matcher {
	return &Matcher{
		store:   store,
		timeout: timeout,
		metrics: m,
		log:     log,
	}
}

// Match normalizes plate and looks up the active reservation for it. When
// several match, the most recently created wins, then the highest id.
// The store call is bounded by the matcher timeout; running out of time is a
// retryable failure.
func (m *Matcher) Match(ctx context.Context, plate string) checkin.MatchResult {
	normalized := utils.NormalizePlate(plate)
	if normalized == "" {
		return checkin.NotFound(normalized)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	found, err := m.store.FindByNormalizedPlate(lookupCtx, normalized, checkin.ActiveStatuses)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(lookupCtx.Err(), context.DeadlineExceeded) {
			m.metrics.ObserveLookup("timeout", elapsed)
			m.log.Warn().
				Err(err).
				Str("plate", normalized).
				Dur("timeout", m.timeout).
				Msg("reservation lookup timed out")
			return checkin.Failed(normalized, fmt.Errorf("%w after %s", checkin.ErrLookupTimeout, m.timeout), true)
		}
		m.metrics.ObserveLookup("error", elapsed)
		m.log.Error().
			Err(err).
			Str("plate", normalized).
			Msg("reservation lookup failed")
		return checkin.Failed(normalized, fmt.Errorf("%w: %v", checkin.ErrLookupFailure, err), !errors.Is(err, context.Canceled))
	}

	res := selectReservation(found)
	if res == nil {
		m.metrics.ObserveLookup(string(checkin.MatchNotFound), elapsed)
		m.log.Debug().Str("plate", normalized).Msg("no active reservation for plate")
		return checkin.NotFound(normalized)
	}

	m.metrics.ObserveLookup(string(checkin.MatchFound), elapsed)
	m.log.Info().
		Str("plate", normalized).
		Int64("booking_id", res.ID).
		Str("status", string(res.Status)).
		Int("candidates", len(found)).
		Msg("active reservation matched")
	return checkin.Found(normalized, res)
}

// selectReservation keeps active reservations only and applies the
// newest-first tie-break.
func selectReservation(found []checkin.Reservation) *checkin.Reservation {
	active := make([]checkin.Reservation, 0, len(found))
	for _, r := range found {
		if r.Status.Active() {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return nil
	}
	sort.SliceStable(active, func(i, j int) bool {
		if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].CreatedAt.After(active[j].CreatedAt)
		}
		return active[i].ID > active[j].ID
	})
	r := active[0]
	return &r
}

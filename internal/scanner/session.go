package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parking-checkin/internal/capture"
	"parking-checkin/internal/domain/checkin"
	"parking-checkin/internal/metrics"
)

var (
	ErrSessionNotFound   = errors.New("scan session not found")
	ErrSessionClosed     = errors.New("scan session closed")
	ErrCameraBusy        = errors.New("camera is owned by another scan session")
	ErrInvalidTransition = errors.New("invalid scan session transition")
)

type State string

const (
	StateIdle      State = "idle"
	StateScanning  State = "scanning"
	StateMatched   State = "matched"
	StateUnmatched State = "unmatched"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool {
	return s == StateMatched || s == StateUnmatched || s == StateFailed
}

// Outcome is the user-visible result of one accepted candidate.
type Outcome struct {
	Kind        checkin.MatchKind    `json:"kind"`
	Plate       string               `json:"plate"`
	Reservation *checkin.Reservation `json:"reservation,omitempty"`
	Error       string               `json:"error,omitempty"`
	Retryable   bool                 `json:"retryable,omitempty"`
	At          time.Time            `json:"at"`
}

type Snapshot struct {
	ID         string                  `json:"id"`
	CameraID   string                  `json:"camera_id"`
	State      State                   `json:"state"`
	Generation uint64                  `json:"generation"`
	Seq        uint64                  `json:"seq"`
	Candidate  *checkin.PlateCandidate `json:"candidate,omitempty"`
	Outcome    *Outcome                `json:"outcome,omitempty"`
	Lookups    int                     `json:"lookups"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// Session drives the capture, recognize and match loop for one camera.
//
// Every loop run is tagged with the generation it was started under. Stop
// and Continue bump the generation, and stage results from an older
// generation are discarded instead of being applied to the session.
type Session struct {
	id       string
	source   capture.Source
	pipeline *Pipeline
	matcher  Matcher
	interval time.Duration
	metrics  *metrics.Metrics
	log      zerolog.Logger

	mu        sync.Mutex
	state     State
	gen       uint64
	seq       uint64
	cancel    context.CancelFunc
	candidate *checkin.PlateCandidate
	outcome   *Outcome
	lookups   int
	updatedAt time.Time
	closed    bool
	subs      map[int]chan Snapshot
	nextSub   int
}

func newSession(id string, source capture.Source, pipeline *Pipeline, matcher Matcher, interval time.Duration, m *metrics.Metrics, log zerolog.Logger) *Session {
	return &Session{
		id:        id,
		source:    source,
		pipeline:  pipeline,
		matcher:   matcher,
		interval:  interval,
		metrics:   m,
		log:       log.With().Str("session_id", id).Str("camera_id", source.CameraID()).Logger(),
		state:     StateIdle,
		updatedAt: time.Now(),
		subs:      make(map[int]chan Snapshot),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Source() capture.Source { return s.source }

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Start moves an idle session to scanning.
func (s *Session) Start() (Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrSessionClosed
	}
	if s.state != StateIdle {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, fmt.Errorf("%w: start from %s", ErrInvalidTransition, s.state)
	}
	snap := s.beginLocked()
	s.mu.Unlock()

	s.log.Info().Uint64("generation", snap.Generation).Msg("scanning started")
	s.emit(snap)
	return snap, nil
}

// Continue resumes scanning after a result has been shown.
func (s *Session) Continue() (Snapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Snapshot{}, ErrSessionClosed
	}
	if !s.state.Terminal() {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, fmt.Errorf("%w: continue from %s", ErrInvalidTransition, s.state)
	}
	snap := s.beginLocked()
	s.mu.Unlock()

	s.log.Info().Uint64("generation", snap.Generation).Msg("scanning resumed")
	s.emit(snap)
	return snap, nil
}

// Stop returns the session to idle from any state. No further cycles fire,
// and a recognition or lookup still in flight is ignored when it returns.
func (s *Session) Stop() Snapshot {
	s.mu.Lock()
	if s.state == StateIdle {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap
	}
	s.haltLocked()
	s.state = StateIdle
	snap := s.transitionLocked()
	s.mu.Unlock()

	s.log.Info().Uint64("generation", snap.Generation).Msg("scanning stopped")
	s.emit(snap)
	return snap
}

// Subscribe returns a channel receiving every snapshot after a transition.
// Slow subscribers miss snapshots rather than block the session.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, 16)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

func (s *Session) close() {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *Session) beginLocked() Snapshot {
	s.haltLocked()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = StateScanning
	s.candidate = nil
	s.outcome = nil
	s.metrics.SessionStarted()
	snap := s.transitionLocked()
	go s.run(ctx, snap.Generation)
	return snap
}

// haltLocked cancels the running loop, if any, and invalidates its generation.
func (s *Session) haltLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.state == StateScanning {
		s.metrics.SessionStopped()
	}
	s.gen++
}

func (s *Session) transitionLocked() Snapshot {
	s.seq++
	s.updatedAt = time.Now()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:         s.id,
		CameraID:   s.source.CameraID(),
		State:      s.state,
		Generation: s.gen,
		Seq:        s.seq,
		Candidate:  s.candidate,
		Outcome:    s.outcome,
		Lookups:    s.lookups,
		UpdatedAt:  s.updatedAt,
	}
}

func (s *Session) currentLocked(gen uint64) bool {
	return s.gen == gen && s.state == StateScanning
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(gen)
}

func (s *Session) emit(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// run is the scan loop of one generation. The timer is re-armed only after
// a cycle settles, so cycles never overlap.
func (s *Session) run(ctx context.Context, gen uint64) {
	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		candidate := s.cycle(ctx, gen)
		if !s.current(gen) {
			s.metrics.ObserveCycle(metrics.CycleSuperseded)
			return
		}
		if candidate != nil {
			s.resolve(ctx, gen, *candidate)
			return
		}
		timer.Reset(s.interval)
	}
}

// cycle captures and recognizes one frame. Capture failures, unusable
// frames, OCR errors and rejected text all skip the cycle.
func (s *Session) cycle(ctx context.Context, gen uint64) *checkin.PlateCandidate {
	frame, err := s.source.Capture(ctx)
	if err != nil || frame == nil {
		if err != nil && ctx.Err() == nil {
			s.log.Debug().Err(err).Msg("capture skipped")
		}
		s.metrics.ObserveCycle(metrics.CycleNoFrame)
		return nil
	}

	candidate, err := s.pipeline.Recognize(ctx, frame)
	switch {
	case errors.Is(err, checkin.ErrInvalidFrame):
		s.metrics.ObserveCycle(metrics.CycleNoFrame)
		return nil
	case err != nil:
		if ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("recognition failed")
		}
		s.metrics.ObserveCycle(metrics.CycleOCRError)
		return nil
	case candidate == nil:
		s.metrics.ObserveCycle(metrics.CycleRejected)
		return nil
	}

	s.metrics.ObserveCycle(metrics.CycleCandidate)
	return candidate
}

// resolve issues the single lookup for an accepted candidate and moves the
// session to its terminal state.
func (s *Session) resolve(ctx context.Context, gen uint64, candidate checkin.PlateCandidate) {
	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		return
	}
	s.candidate = &candidate
	s.lookups++
	snap := s.transitionLocked()
	s.mu.Unlock()
	s.emit(snap)

	s.log.Info().
		Str("plate", candidate.RawText).
		Float64("confidence", candidate.Confidence).
		Msg("plate candidate accepted, looking up reservation")

	result := s.matcher.CheckCandidate(ctx, candidate, checkin.ScanSource{
		CameraID:  s.source.CameraID(),
		SessionID: s.id,
	})

	s.mu.Lock()
	if !s.currentLocked(gen) {
		s.mu.Unlock()
		s.log.Debug().Str("plate", candidate.RawText).Msg("discarding lookup result of stopped scan")
		return
	}
	outcome := &Outcome{
		Kind:        result.Kind,
		Plate:       result.Plate,
		Reservation: result.Reservation,
		Retryable:   result.Retryable,
		At:          time.Now(),
	}
	switch result.Kind {
	case checkin.MatchFound:
		s.state = StateMatched
	case checkin.MatchNotFound:
		s.state = StateUnmatched
	default:
		s.state = StateFailed
		if result.Err != nil {
			outcome.Error = result.Err.Error()
		}
	}
	s.outcome = outcome
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.metrics.SessionStopped()
	snap = s.transitionLocked()
	s.mu.Unlock()

	s.log.Info().
		Str("plate", result.Plate).
		Str("state", string(snap.State)).
		Msg("scan resolved")
	s.emit(snap)
}

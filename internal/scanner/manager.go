package scanner

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parking-checkin/internal/capture"
	"parking-checkin/internal/metrics"
)

const DefaultInterval = 500 * time.Millisecond

// Manager owns the live scan sessions. A camera belongs to at most one
// session at a time.
type Manager struct {
	pipeline *Pipeline
	matcher  Matcher
	interval time.Duration
	metrics  *metrics.Metrics
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	cameras  map[string]string
}

func NewManager(pipeline *Pipeline, matcher Matcher, interval time.Duration, m *metrics.Metrics, log zerolog.Logger) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Manager{
		pipeline: pipeline,
		matcher:  matcher,
		interval: interval,
		metrics:  m,
		log:      log,
		sessions: make(map[string]*Session),
		cameras:  make(map[string]string),
	}
}

// Create registers an idle session reading from source.
func (m *Manager) Create(source capture.Source) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cameraID := source.CameraID()
	if owner, ok := m.cameras[cameraID]; ok {
		return nil, fmt.Errorf("%w: camera %s held by session %s", ErrCameraBusy, cameraID, owner)
	}

	id := uuid.New().String()
	s := newSession(id, source, m.pipeline, m.matcher, m.interval, m.metrics, m.log)
	m.sessions[id] = s
	m.cameras[cameraID] = id

	m.log.Info().
		Str("session_id", id).
		Str("camera_id", cameraID).
		Msg("scan session created")
	return s, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns snapshots of all sessions ordered by camera.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CameraID != out[j].CameraID {
			return out[i].CameraID < out[j].CameraID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Close stops the session, releases its camera and ends its subscriptions.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		cameraID := s.source.CameraID()
		if m.cameras[cameraID] == id {
			delete(m.cameras, cameraID)
		}
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.close()
	m.log.Info().Str("session_id", id).Msg("scan session closed")
	return nil
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Close(id)
	}
}

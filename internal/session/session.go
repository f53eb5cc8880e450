// Package session manages the lifecycle of cascade sessions. Each session
// owns one cascade.Controller over its own record snapshot.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/cascade/internal/cascade"
	"github.com/matthewbaird/cascade/internal/event"
	"github.com/matthewbaird/cascade/internal/metrics"
	"github.com/matthewbaird/cascade/internal/source"
)

// ErrNotFound is returned for unknown or expired session IDs.
var ErrNotFound = errors.New("session not found")

// Session holds one control instance. All access to the controller goes
// through Do, which serialises transitions.
type Session struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	mu           sync.Mutex
	lastActiveAt time.Time
	ctrl         *cascade.Controller
}

// Do runs fn with exclusive access to the session's controller and marks
// the session active.
func (s *Session) Do(fn func(c *cascade.Controller)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = time.Now()
	fn(s.ctrl)
}

// LastActiveAt returns the time of the last Do call.
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

// IsExpired returns true if the session has exceeded the given max age.
func (s *Session) IsExpired(maxAge time.Duration) bool {
	return time.Since(s.CreatedAt) > maxAge
}

// IsIdle returns true if the session has been idle longer than the timeout.
func (s *Session) IsIdle(timeout time.Duration) bool {
	return time.Since(s.LastActiveAt()) > timeout
}

// sink records every output notification of one session as an event.
type sink struct {
	sessionID string
	rec       event.Recorder
}

func (s sink) Notify(v cascade.LookupValue) {
	metrics.ObserveNotification(v)
	if s.rec == nil {
		return
	}
	if err := s.rec.Record(context.Background(), event.NewOutputChanged(s.sessionID, v)); err != nil {
		log.Printf("session: recording output for %s: %v", s.sessionID, err)
	}
}

// Manager handles session creation, lookup, and cleanup.
type Manager struct {
	settings cascade.Settings
	src      source.Source
	rec      event.Recorder

	mu          sync.RWMutex
	sessions    map[string]*Session
	maxAge      time.Duration
	idleTimeout time.Duration
}

// NewManager creates a session manager. Every session runs with settings
// over records fetched from src; rec may be nil.
func NewManager(settings cascade.Settings, src source.Source, rec event.Recorder, maxAge, idleTimeout time.Duration) *Manager {
	return &Manager{
		settings:    settings,
		src:         src,
		rec:         rec,
		sessions:    make(map[string]*Session),
		maxAge:      maxAge,
		idleTimeout: idleTimeout,
	}
}

// Settings returns the controller settings sessions are created with.
func (m *Manager) Settings() cascade.Settings {
	return m.settings
}

// Create fetches records and opens a session over them, seeding the selection
// from identity when it is non-empty. A failed or empty fetch still yields a
// session; its controller reports cascade.ErrDataUnavailable.
func (m *Manager) Create(ctx context.Context, identity string) *Session {
	now := time.Now()
	s := &Session{
		ID:           uuid.New().String(),
		Identity:     identity,
		CreatedAt:    now,
		lastActiveAt: now,
	}
	s.ctrl = cascade.NewController(m.settings, sink{sessionID: s.ID, rec: m.rec})

	records, err := m.fetch(ctx)
	if err != nil {
		log.Printf("session: %s: fetch failed: %v", s.ID, err)
		s.ctrl.Fail(err)
		m.record(ctx, event.NewSessionFailed(s.ID, err))
	} else {
		s.ctrl.Load(cascade.NewStore(records), identity)
		m.record(ctx, event.NewSessionOpened(s.ID, event.SessionOpenedPayload{
			Identity: identity,
			Records:  len(records),
		}))
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	metrics.SessionsActive.Set(float64(len(m.sessions)))
	m.mu.Unlock()
	return s
}

func (m *Manager) fetch(ctx context.Context) ([]cascade.Record, error) {
	start := time.Now()
	records, err := m.src.Fetch(ctx)
	if err == nil && len(records) == 0 {
		err = source.ErrNoRecords
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.FetchDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return records, err
}

func (m *Manager) record(ctx context.Context, evt event.Event) {
	if m.rec == nil {
		return
	}
	if err := m.rec.Record(ctx, evt); err != nil {
		log.Printf("session: recording %s: %v", evt.Type, err)
	}
}

// Get retrieves a session by ID. Expired and idle sessions are removed and
// reported as ErrNotFound.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if s.IsExpired(m.maxAge) || s.IsIdle(m.idleTimeout) {
		m.Remove(id)
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove deletes a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	metrics.SessionsActive.Set(float64(len(m.sessions)))
	m.mu.Unlock()
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Cleanup removes all expired and idle sessions.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.IsExpired(m.maxAge) || s.IsIdle(m.idleTimeout) {
			delete(m.sessions, id)
		}
	}
	metrics.SessionsActive.Set(float64(len(m.sessions)))
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (m *Manager) RunCleanup(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Cleanup()
		}
	}
}

// Package session scopes narration histories to client sessions.
//
// Each session owns one [history.History] and allows a single pipeline run
// at a time. Ending a session, explicitly or after it has been idle longer
// than the manager's TTL, discards its history.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/echoverse/internal/history"
	"github.com/MrWong99/echoverse/internal/observe"
)

var (
	// ErrNotFound is returned for unknown or ended session IDs.
	ErrNotFound = errors.New("session: not found")

	// ErrRunInProgress is returned by [Session.BeginRun] while another run
	// holds the session.
	ErrRunInProgress = errors.New("session: a run is already in progress")
)

// DefaultTTL is how long an idle session survives when no TTL is configured.
const DefaultTTL = time.Hour

// Session is one client's workspace.
type Session struct {
	// ID is the session's UUID.
	ID string

	// CreatedAt is when the session was created.
	CreatedAt time.Time

	hist *history.History
	now  func() time.Time

	run sync.Mutex

	mu       sync.Mutex
	lastSeen time.Time
	running  bool
}

// History returns the session's narration history.
func (s *Session) History() *history.History {
	return s.hist
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Running reports whether a run currently holds the session.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// BeginRun claims the session for one pipeline run. The returned release
// function must be called when the run ends; calling it more than once is a
// no-op. It fails with [ErrRunInProgress] instead of waiting.
func (s *Session) BeginRun() (release func(), err error) {
	if !s.run.TryLock() {
		return nil, ErrRunInProgress
	}
	s.mu.Lock()
	s.running = true
	s.lastSeen = s.now()
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.running = false
			s.lastSeen = s.now()
			s.mu.Unlock()
			s.run.Unlock()
		})
	}, nil
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = s.now()
	s.mu.Unlock()
}

// idleSince reports whether the session has no run and was last seen
// before cutoff.
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running && s.lastSeen.Before(cutoff)
}

// Manager owns all live sessions. It is safe for concurrent use.
type Manager struct {
	ttl     time.Duration
	now     func() time.Time
	newID   func() string
	metrics *observe.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option configures a [Manager].
type Option func(*Manager)

// WithTTL sets the idle timeout after which [Manager.Sweep] ends a session.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(metrics *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		ttl:      DefaultTTL,
		now:      time.Now,
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTTL
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// TTL returns the idle timeout.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Create starts a new session with an empty history.
func (m *Manager) Create(ctx context.Context) *Session {
	now := m.now()
	s := &Session{
		ID:        m.newID(),
		CreatedAt: now,
		hist:      history.New(),
		now:       m.now,
		lastSeen:  now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, 1)
	slog.DebugContext(ctx, "session created", "session_id", s.ID)
	return s
}

// Get returns the session with id and marks it as used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	s.touch()
	return s, nil
}

// End removes the session and discards its history. A run still in flight
// finishes against the detached history.
func (m *Manager) End(ctx context.Context, id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	m.metrics.ActiveSessions.Add(ctx, -1)
	slog.DebugContext(ctx, "session ended", "session_id", id)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep ends every session idle for longer than the TTL as of now and
// returns how many were ended. Sessions with a run in progress are kept.
func (m *Manager) Sweep(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-m.ttl)

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if s.idleSince(cutoff) {
			expired = append(expired, id)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	if len(expired) > 0 {
		m.metrics.ActiveSessions.Add(ctx, -int64(len(expired)))
		slog.InfoContext(ctx, "expired idle sessions", "count", len(expired), "ttl", m.ttl)
	}
	return len(expired)
}

// RunSweeper calls [Manager.Sweep] every interval until ctx is cancelled.
// A non-positive interval defaults to a quarter of the TTL.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = m.ttl / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep(ctx, m.now())
		}
	}
}

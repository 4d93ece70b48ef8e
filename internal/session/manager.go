// Package session owns chat session state: scope, ordered turn history and
// the active/expired lifecycle.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pipewrench-ai/pipewrench/internal/domain"
)

// Config controls session lifecycle timing and the history window.
type Config struct {
	// IdleTimeout moves a session from active to expired after inactivity.
	IdleTimeout time.Duration
	// GracePeriod keeps an expired session's history readable before purge.
	GracePeriod time.Duration
	// HistoryWindow is the number of most recent turns supplied to context
	// assembly.
	HistoryWindow int
}

// DefaultConfig provides sane defaults for session management.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:   30 * time.Minute,
		GracePeriod:   90 * 24 * time.Hour,
		HistoryWindow: 10,
	}
}

type entry struct {
	session *domain.Session
	// gate serializes turns within one session. Capacity one: a goroutine
	// holding the slot owns the turn; others queue in arrival order.
	gate chan struct{}
}

// Manager tracks sessions in memory. The mutex protects the session map and
// per-session state transitions only; it is never held while waiting for a
// turn slot or during external calls.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[string]*entry
	now      func() time.Time
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
}

// Create starts a new active session pinned to scope.
func (m *Manager) Create(scope domain.Scope) (domain.Session, error) {
	now := m.now()
	s := &domain.Session{
		ID:           uuid.NewString(),
		Scope:        scope,
		State:        domain.SessionActive,
		CreatedAt:    now,
		LastActivity: now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = &entry{session: s, gate: make(chan struct{}, 1)}
	m.mu.Unlock()

	return snapshot(s), nil
}

// Get returns a copy of the session. Expiry is applied lazily: an idle
// session is marked expired on access, and one past its grace period is
// purged and reported as not found.
func (m *Manager) Get(id string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookup(id)
	if err != nil {
		return domain.Session{}, err
	}
	return snapshot(e.session), nil
}

// BeginTurn claims the session's turn slot, blocking until prior turns in
// the same session finish. The returned release function must be called
// exactly once. Concurrent callers are admitted strictly one at a time, so
// history never interleaves.
func (m *Manager) BeginTurn(ctx context.Context, id string) (func(), error) {
	m.mu.Lock()
	e, err := m.lookup(id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if !e.session.Writable() {
		m.mu.Unlock()
		return nil, domain.ErrSessionExpired
	}
	gate := e.gate
	m.mu.Unlock()

	select {
	case gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// The session may have expired while this turn was queued.
	m.mu.Lock()
	e, err = m.lookup(id)
	if err == nil && !e.session.Writable() {
		err = domain.ErrSessionExpired
	}
	m.mu.Unlock()
	if err != nil {
		<-gate
		return nil, err
	}

	var once sync.Once
	return func() { once.Do(func() { <-gate }) }, nil
}

// History returns up to the configured window of most recent turns, oldest
// first.
func (m *Manager) History(id string) ([]domain.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	turns := e.session.Turns
	if m.cfg.HistoryWindow > 0 && len(turns) > m.cfg.HistoryWindow {
		turns = turns[len(turns)-m.cfg.HistoryWindow:]
	}
	out := make([]domain.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// AppendExchange appends a completed user/assistant pair and refreshes the
// activity timestamp. Both turns land together so a failed generation never
// leaves a dangling user turn.
func (m *Manager) AppendExchange(id string, user, assistant domain.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	if !e.session.Writable() {
		return domain.ErrSessionExpired
	}

	e.session.Turns = append(e.session.Turns, user, assistant)
	e.session.LastActivity = m.now()
	return nil
}

// Close expires the session explicitly. History stays readable for the
// grace period.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.lookup(id)
	if err != nil {
		return err
	}
	m.expire(e.session)
	return nil
}

// Sweep expires idle sessions and purges those past the grace period.
// Called periodically by the maintenance worker.
func (m *Manager) Sweep() (expired, purged int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, e := range m.sessions {
		s := e.session
		if s.State == domain.SessionActive && now.Sub(s.LastActivity) >= m.cfg.IdleTimeout {
			m.expire(s)
			expired++
		}
		if s.State == domain.SessionExpired && now.Sub(s.ExpiredAt) >= m.cfg.GracePeriod {
			delete(m.sessions, id)
			purged++
		}
	}
	return expired, purged
}

// lookup applies lazy expiry and purge. Callers hold m.mu.
func (m *Manager) lookup(id string) (*entry, error) {
	e, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	now := m.now()
	s := e.session
	if s.State == domain.SessionActive && now.Sub(s.LastActivity) >= m.cfg.IdleTimeout {
		m.expire(s)
	}
	if s.State == domain.SessionExpired && now.Sub(s.ExpiredAt) >= m.cfg.GracePeriod {
		delete(m.sessions, id)
		return nil, domain.ErrSessionNotFound
	}
	return e, nil
}

func (m *Manager) expire(s *domain.Session) {
	if s.State == domain.SessionExpired {
		return
	}
	s.State = domain.SessionExpired
	s.ExpiredAt = m.now()
}

// snapshot copies the session deeply enough that callers can annotate the
// returned turns (stale citation flags) without mutating stored state.
func snapshot(s *domain.Session) domain.Session {
	out := *s
	out.Turns = make([]domain.Turn, len(s.Turns))
	copy(out.Turns, s.Turns)
	for i := range out.Turns {
		if len(out.Turns[i].Citations) > 0 {
			out.Turns[i].Citations = append([]domain.Citation(nil), out.Turns[i].Citations...)
		}
	}
	return out
}

package jobs

import (
	"context"
	"log"
)

// SessionStore is the slice of the session manager the sweeper needs.
type SessionStore interface {
	Sweep() (expired, purged int)
}

// SessionSweeper expires idle sessions and purges those past their grace
// period.
type SessionSweeper struct {
	sessions SessionStore
}

// NewSessionSweeper creates a new SessionSweeper instance
func NewSessionSweeper(sessions SessionStore) *SessionSweeper {
	return &SessionSweeper{sessions: sessions}
}

func (s *SessionSweeper) Name() string { return "session-sweeper" }

// Run performs one sweep pass.
func (s *SessionSweeper) Run(ctx context.Context) error {
	expired, purged := s.sessions.Sweep()
	if expired > 0 || purged > 0 {
		log.Printf("Session sweep: %d expired, %d purged", expired, purged)
	}
	return nil
}

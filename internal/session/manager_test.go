package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewrench-ai/pipewrench/internal/domain"
)

func testConfig() Config {
	return Config{
		IdleTimeout:   time.Hour,
		GracePeriod:   24 * time.Hour,
		HistoryWindow: 3,
	}
}

// fakeClock lets tests drive lifecycle transitions deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	m := NewManager(testConfig())
	m.now = clock.Now
	return m, clock
}

func exchange(userText, assistantText string) (domain.Turn, domain.Turn) {
	return domain.Turn{Role: domain.RoleUser, Text: userText},
		domain.Turn{Role: domain.RoleAssistant, Text: assistantText}
}

func TestCreateAndGet(t *testing.T) {
	m, _ := newTestManager(t)

	created, err := m.Create(domain.Scope{DocumentID: "doc-1"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := m.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, got.State)
	assert.Equal(t, "doc-1", got.Scope.DocumentID)
	assert.False(t, got.Scope.CorpusWide())
}

func TestGetSnapshotIsolatesCitations(t *testing.T) {
	m, _ := newTestManager(t)

	created, err := m.Create(domain.Scope{})
	require.NoError(t, err)

	user, assistant := exchange("question", "answer")
	assistant.Citations = []domain.Citation{{ChunkID: "doc_d1_chunk_0", DocumentID: "d1"}}
	require.NoError(t, m.AppendExchange(created.ID, user, assistant))

	first, err := m.Get(created.ID)
	require.NoError(t, err)
	first.Turns[1].Citations[0].Stale = true

	second, err := m.Get(created.ID)
	require.NoError(t, err)
	assert.False(t, second.Turns[1].Citations[0].Stale,
		"annotating a snapshot must not mutate stored session state")
}

func TestGetUnknownSession(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Get("nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestAppendExchangeAndHistoryWindow(t *testing.T) {
	m, _ := newTestManager(t)
	s, err := m.Create(domain.Scope{})
	require.NoError(t, err)

	for _, q := range []string{"first", "second", "third"} {
		u, a := exchange(q, "answer to "+q)
		require.NoError(t, m.AppendExchange(s.ID, u, a))
	}

	// Six turns stored, window of three returns only the most recent.
	history, err := m.History(s.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "answer to second", history[0].Text)
	assert.Equal(t, "third", history[1].Text)
	assert.Equal(t, "answer to third", history[2].Text)
}

func TestCloseMakesSessionReadOnly(t *testing.T) {
	m, _ := newTestManager(t)
	s, err := m.Create(domain.Scope{})
	require.NoError(t, err)

	u, a := exchange("q", "a")
	require.NoError(t, m.AppendExchange(s.ID, u, a))
	require.NoError(t, m.Close(s.ID))

	err = m.AppendExchange(s.ID, u, a)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)

	// History stays readable during the grace period.
	history, err := m.History(s.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestIdleTimeoutExpiresLazily(t *testing.T) {
	m, clock := newTestManager(t)
	s, err := m.Create(domain.Scope{})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionExpired, got.State)

	u, a := exchange("q", "a")
	assert.ErrorIs(t, m.AppendExchange(s.ID, u, a), domain.ErrSessionExpired)
}

func TestGracePeriodPurges(t *testing.T) {
	m, clock := newTestManager(t)
	s, err := m.Create(domain.Scope{})
	require.NoError(t, err)
	require.NoError(t, m.Close(s.ID))

	clock.Advance(25 * time.Hour)

	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSweepExpiresAndPurges(t *testing.T) {
	m, clock := newTestManager(t)

	idle, err := m.Create(domain.Scope{})
	require.NoError(t, err)
	closed, err := m.Create(domain.Scope{})
	require.NoError(t, err)
	require.NoError(t, m.Close(closed.ID))

	clock.Advance(25 * time.Hour)

	expired, purged := m.Sweep()
	assert.Equal(t, 1, expired)
	assert.Equal(t, 1, purged)

	_, err = m.Get(closed.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	got, err := m.Get(idle.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionExpired, got.State)
}

func TestBeginTurnSerializesSameSession(t *testing.T) {
	m, _ := newTestManager(t)
	s, err := m.Create(domain.Scope{})
	require.NoError(t, err)

	release, err := m.BeginTurn(context.Background(), s.ID)
	require.NoError(t, err)

	// A second turn must queue until the first releases.
	acquired := make(chan struct{})
	go func() {
		r, err := m.BeginTurn(context.Background(), s.ID)
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second turn ran while first still held the session")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second turn never admitted after release")
	}
}

func TestBeginTurnDifferentSessionsDoNotBlock(t *testing.T) {
	m, _ := newTestManager(t)
	a, err := m.Create(domain.Scope{})
	require.NoError(t, err)
	b, err := m.Create(domain.Scope{})
	require.NoError(t, err)

	releaseA, err := m.BeginTurn(context.Background(), a.ID)
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := m.BeginTurn(ctx, b.ID)
	require.NoError(t, err)
	releaseB()
}

func TestBeginTurnCancelledWhileQueued(t *testing.T) {
	m, _ := newTestManager(t)
	s, err := m.Create(domain.Scope{})
	require.NoError(t, err)

	release, err := m.BeginTurn(context.Background(), s.ID)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.BeginTurn(ctx, s.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBeginTurnOnExpiredSession(t *testing.T) {
	m, _ := newTestManager(t)
	s, err := m.Create(domain.Scope{})
	require.NoError(t, err)
	require.NoError(t, m.Close(s.ID))

	_, err = m.BeginTurn(context.Background(), s.ID)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
}

func TestConcurrentExchangesNeverInterleave(t *testing.T) {
	m, _ := newTestManager(t)
	s, err := m.Create(domain.Scope{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.BeginTurn(context.Background(), s.ID)
			if err != nil {
				return
			}
			defer release()
			u, a := exchange("question", "answer")
			_ = m.AppendExchange(s.ID, u, a)
		}()
	}
	wg.Wait()

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	require.Len(t, got.Turns, 16)
	for i, turn := range got.Turns {
		if i%2 == 0 {
			assert.Equal(t, domain.RoleUser, turn.Role)
		} else {
			assert.Equal(t, domain.RoleAssistant, turn.Role)
		}
	}
}

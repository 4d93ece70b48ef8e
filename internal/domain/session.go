package domain

import "time"

// SessionState represents the lifecycle state of a chat session
type SessionState string

const (
	// SessionActive accepts new turns.
	SessionActive SessionState = "active"
	// SessionExpired no longer accepts turns; history stays readable for a
	// grace period before the session is purged.
	SessionExpired SessionState = "expired"
)

// Scope is the subset of the corpus a session is permitted to search:
// the whole corpus, or a single document ("chat with a file"). The scope is
// pinned at session creation and cannot be widened mid-session.
type Scope struct {
	DocumentID string
}

// CorpusWide reports whether the scope covers the full indexed corpus.
func (s Scope) CorpusWide() bool {
	return s.DocumentID == ""
}

// Role identifies the author of a chat turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a chat session. Assistant turns carry the
// citations for the chunks that grounded the answer.
type Turn struct {
	Role      Role
	Text      string
	CreatedAt time.Time
	Citations []Citation
}

// Citation references the source chunk that grounded part of an answer.
// MergedChunkIDs lists every chunk folded into this citation when adjacent
// overlapping chunks were merged; it always includes ChunkID.
type Citation struct {
	ChunkID        string
	MergedChunkIDs []string
	DocumentID     string
	Excerpt        string
	Score          float32
	// Stale marks citations whose source document was deleted after the
	// answer was produced. Kept for history, flagged on read.
	Stale bool
}

// Session is an owned conversation with ordered turns and a fixed scope.
type Session struct {
	ID           string
	Scope        Scope
	State        SessionState
	Turns        []Turn
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiredAt    time.Time
}

// Writable reports whether the session still accepts turns.
func (s *Session) Writable() bool {
	return s.State == SessionActive
}

package service

import (
	"context"
	"strings"
	"time"

	"github.com/pipewrench-ai/pipewrench/internal/assembler"
	"github.com/pipewrench-ai/pipewrench/internal/domain"
	"github.com/pipewrench-ai/pipewrench/internal/index"
	"github.com/pipewrench-ai/pipewrench/internal/telemetry"
)

// NoEvidenceAnswer is returned when retrieval finds nothing above the
// relevance threshold. No language-model call is made for it.
const NoEvidenceAnswer = "I could not find relevant information in the indexed documents to answer that."

// DegradedAnswer is returned when retrieval infrastructure is unavailable
// and ungrounded generation is not permitted.
const DegradedAnswer = "The document index is currently unreachable, so I cannot ground an answer. Please try again shortly."

// Retriever defines the retrieval operation answering depends on.
type Retriever interface {
	Retrieve(ctx context.Context, query string, scope domain.Scope, topK int, minScore float32) ([]index.Match, error)
}

// Generator defines the language-model call answering depends on.
type Generator interface {
	Generate(ctx context.Context, asm assembler.Context) (string, error)
}

// SessionStore defines the session operations answering depends on.
type SessionStore interface {
	Create(scope domain.Scope) (domain.Session, error)
	Get(id string) (domain.Session, error)
	BeginTurn(ctx context.Context, id string) (func(), error)
	History(id string) ([]domain.Turn, error)
	AppendExchange(id string, user, assistant domain.Turn) error
	Close(id string) error
}

// DocumentLookup resolves document existence for scope validation and stale
// citation flagging.
type DocumentLookup interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// AnswerConfig holds the operational tuning parameters for answering.
type AnswerConfig struct {
	TopK     int
	MinScore float32
	Assembly assembler.Config
	// UngroundedFallback permits a language-model call with no retrieved
	// evidence when retrieval infrastructure fails. Off by default: an
	// outage yields a degraded response, never a silently ungrounded one.
	UngroundedFallback bool
}

// DefaultAnswerConfig provides sane defaults for answering.
func DefaultAnswerConfig() AnswerConfig {
	return AnswerConfig{
		TopK:     5,
		MinScore: 0.5,
		Assembly: assembler.DefaultConfig(),
	}
}

// Answer is the outcome of one chat turn.
type Answer struct {
	SessionID string
	Text      string
	Citations []domain.Citation
	// Degraded marks answers produced without grounding because retrieval
	// infrastructure was unavailable.
	Degraded bool
}

// AnswerService orchestrates a chat turn: retrieve, assemble, generate,
// cite, persist.
type AnswerService struct {
	retriever Retriever
	generator Generator
	sessions  SessionStore
	documents DocumentLookup
	clock     func() time.Time
	cfg       AnswerConfig
}

// NewAnswerService creates a new AnswerService instance
func NewAnswerService(retriever Retriever, generator Generator, sessions SessionStore, documents DocumentLookup, cfg AnswerConfig) *AnswerService {
	return &AnswerService{
		retriever: retriever,
		generator: generator,
		sessions:  sessions,
		documents: documents,
		clock:     time.Now,
		cfg:       cfg,
	}
}

// StartSession opens a session. File-scoped sessions require the document
// to be registered.
func (s *AnswerService) StartSession(ctx context.Context, scope domain.Scope) (domain.Session, error) {
	if !scope.CorpusWide() {
		if _, err := s.documents.GetByID(ctx, scope.DocumentID); err != nil {
			return domain.Session{}, err
		}
	}
	return s.sessions.Create(scope)
}

// SendMessage processes one chat turn. Turns within a session run strictly
// one at a time in arrival order. On language-model failure nothing is
// persisted and the caller receives a retryable error.
func (s *AnswerService) SendMessage(ctx context.Context, sessionID, text string) (*Answer, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyQuery
	}

	ctx, span := telemetry.StartSpan(ctx, "answer.send_message", telemetry.SpanAttributes{
		SessionID: sessionID,
		Operation: "send_message",
	})
	defer span.End()

	release, err := s.sessions.BeginTurn(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	history, err := s.sessions.History(sessionID)
	if err != nil {
		return nil, err
	}

	matches, err := s.retriever.Retrieve(ctx, text, sess.Scope, s.cfg.TopK, s.cfg.MinScore)
	if err != nil {
		if !domain.Retryable(err) {
			return nil, err
		}
		if !s.cfg.UngroundedFallback {
			return s.finishTurn(sessionID, text, DegradedAnswer, nil, true)
		}
		matches = nil
	}

	if len(matches) == 0 && err == nil {
		return s.finishTurn(sessionID, text, NoEvidenceAnswer, nil, false)
	}

	asm, err := assembler.Assemble(text, matches, history, s.cfg.Assembly)
	if err != nil {
		return nil, err
	}

	answerText, err := s.generator.Generate(ctx, asm)
	if err != nil {
		return nil, err
	}

	return s.finishTurn(sessionID, text, answerText, asm.Citations(), false)
}

// History returns the session's full turn history. Citations whose source
// document has since been deleted are flagged stale, not removed.
func (s *AnswerService) History(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	exists := make(map[string]bool)
	for ti := range sess.Turns {
		for ci := range sess.Turns[ti].Citations {
			c := &sess.Turns[ti].Citations[ci]
			known, checked := exists[c.DocumentID]
			if !checked {
				_, lookupErr := s.documents.GetByID(ctx, c.DocumentID)
				known = lookupErr == nil
				exists[c.DocumentID] = known
			}
			if !known {
				c.Stale = true
			}
		}
	}
	return sess.Turns, nil
}

// CloseSession expires the session explicitly.
func (s *AnswerService) CloseSession(ctx context.Context, sessionID string) error {
	return s.sessions.Close(sessionID)
}

func (s *AnswerService) finishTurn(sessionID, query, answerText string, citations []domain.Citation, degraded bool) (*Answer, error) {
	now := s.clock()
	user := domain.Turn{Role: domain.RoleUser, Text: query, CreatedAt: now}
	assistant := domain.Turn{Role: domain.RoleAssistant, Text: answerText, CreatedAt: now, Citations: citations}
	if err := s.sessions.AppendExchange(sessionID, user, assistant); err != nil {
		return nil, err
	}
	return &Answer{
		SessionID: sessionID,
		Text:      answerText,
		Citations: citations,
		Degraded:  degraded,
	}, nil
}

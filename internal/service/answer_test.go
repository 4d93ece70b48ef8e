package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pipewrench-ai/pipewrench/internal/assembler"
	"github.com/pipewrench-ai/pipewrench/internal/chunker"
	"github.com/pipewrench-ai/pipewrench/internal/domain"
	"github.com/pipewrench-ai/pipewrench/internal/index"
	"github.com/pipewrench-ai/pipewrench/internal/repository"
	"github.com/pipewrench-ai/pipewrench/internal/retriever"
	"github.com/pipewrench-ai/pipewrench/internal/session"
)

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, asm assembler.Context) (string, error) {
	args := m.Called(ctx, asm)
	return args.String(0), args.Error(1)
}

type answerHarness struct {
	svc       *AnswerService
	ingest    *IngestService
	generator *MockGenerator
	sessions  *session.Manager
	registry  *repository.MemoryDocumentRepository
}

func newAnswerHarness(t *testing.T, embedErr error) *answerHarness {
	t.Helper()
	embedder := &fakeEmbedder{fail: embedErr}
	mem := index.NewMemory()
	registry := repository.NewMemoryDocumentRepository()
	ingest := NewIngestService(&fakeEmbedder{}, mem, registry, chunker.Config{MaxTokens: 16, OverlapTokens: 4})
	sessions := session.NewManager(session.DefaultConfig())
	generator := new(MockGenerator)

	cfg := DefaultAnswerConfig()
	cfg.MinScore = 0.3
	svc := NewAnswerService(
		retriever.New(embedder, mem, nil),
		generator,
		sessions,
		registry,
		cfg,
	)
	return &answerHarness{svc: svc, ingest: ingest, generator: generator, sessions: sessions, registry: registry}
}

func (h *answerHarness) indexVacationPolicy(t *testing.T) {
	t.Helper()
	_, err := h.ingest.IndexDocument(context.Background(),
		"D1", "The vacation policy allows 15 days per year.", 1)
	require.NoError(t, err)
}

func TestSendMessageAnswersWithCitations(t *testing.T) {
	h := newAnswerHarness(t, nil)
	h.indexVacationPolicy(t)
	ctx := context.Background()

	h.generator.On("Generate", mock.Anything, mock.MatchedBy(func(asm assembler.Context) bool {
		return len(asm.Fragments) > 0 && strings.Contains(asm.Fragments[0].Text, "15 days")
	})).Return("You are allowed 15 days per year.", nil).Once()

	sess, err := h.svc.StartSession(ctx, domain.Scope{})
	require.NoError(t, err)

	answer, err := h.svc.SendMessage(ctx, sess.ID, "How many vacation days per year?")
	require.NoError(t, err)
	assert.False(t, answer.Degraded)
	assert.Equal(t, "You are allowed 15 days per year.", answer.Text)

	require.Len(t, answer.Citations, 1)
	assert.Equal(t, "D1", answer.Citations[0].DocumentID)
	assert.Contains(t, answer.Citations[0].Excerpt, "15 days")

	history, err := h.svc.History(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.RoleUser, history[0].Role)
	assert.Equal(t, domain.RoleAssistant, history[1].Role)
	assert.Len(t, history[1].Citations, 1)
	h.generator.AssertExpectations(t)
}

func TestSendMessageEmptyCorpusSkipsGeneration(t *testing.T) {
	h := newAnswerHarness(t, nil)
	ctx := context.Background()

	sess, err := h.svc.StartSession(ctx, domain.Scope{})
	require.NoError(t, err)

	answer, err := h.svc.SendMessage(ctx, sess.ID, "How many vacation days per year?")
	require.NoError(t, err)
	assert.Equal(t, NoEvidenceAnswer, answer.Text)
	assert.Empty(t, answer.Citations)
	h.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestSendMessageDegradedOnEmbeddingOutage(t *testing.T) {
	h := newAnswerHarness(t, domain.ErrEmbeddingUnavailable)
	ctx := context.Background()

	sess, err := h.svc.StartSession(ctx, domain.Scope{})
	require.NoError(t, err)

	answer, err := h.svc.SendMessage(ctx, sess.ID, "How many vacation days per year?")
	require.NoError(t, err)
	assert.True(t, answer.Degraded)
	assert.Equal(t, DegradedAnswer, answer.Text)
	assert.Empty(t, answer.Citations)
	h.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)

	// The degraded exchange still lands in history.
	history, err := h.svc.History(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestSendMessageUngroundedFallbackCallsModel(t *testing.T) {
	embedder := &fakeEmbedder{fail: domain.ErrEmbeddingUnavailable}
	mem := index.NewMemory()
	registry := repository.NewMemoryDocumentRepository()
	sessions := session.NewManager(session.DefaultConfig())
	generator := new(MockGenerator)

	cfg := DefaultAnswerConfig()
	cfg.UngroundedFallback = true
	svc := NewAnswerService(retriever.New(embedder, mem, nil), generator, sessions, registry, cfg)

	generator.On("Generate", mock.Anything, mock.MatchedBy(func(asm assembler.Context) bool {
		return len(asm.Fragments) == 0
	})).Return("Best-effort answer.", nil).Once()

	sess, err := svc.StartSession(context.Background(), domain.Scope{})
	require.NoError(t, err)

	answer, err := svc.SendMessage(context.Background(), sess.ID, "anything at all")
	require.NoError(t, err)
	assert.Equal(t, "Best-effort answer.", answer.Text)
	assert.Empty(t, answer.Citations)
	generator.AssertExpectations(t)
}

func TestSendMessageGenerationFailurePersistsNothing(t *testing.T) {
	h := newAnswerHarness(t, nil)
	h.indexVacationPolicy(t)
	ctx := context.Background()

	h.generator.On("Generate", mock.Anything, mock.Anything).
		Return("", domain.ErrGenerationFailed).Once()

	sess, err := h.svc.StartSession(ctx, domain.Scope{})
	require.NoError(t, err)

	_, err = h.svc.SendMessage(ctx, sess.ID, "How many vacation days per year?")
	require.Error(t, err)
	assert.True(t, domain.Retryable(err))

	history, err := h.svc.History(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSendMessageFileScopeExcludesOtherDocuments(t *testing.T) {
	h := newAnswerHarness(t, nil)
	ctx := context.Background()

	_, err := h.ingest.IndexDocument(ctx, "target", "vacation days per employee are listed here", 1)
	require.NoError(t, err)
	// Off-scope document matching the query exactly, so it would outrank
	// the in-scope chunk corpus-wide.
	_, err = h.ingest.IndexDocument(ctx, "other", "How many vacation days per year?", 1)
	require.NoError(t, err)

	h.generator.On("Generate", mock.Anything, mock.Anything).Return("answer", nil)

	sess, err := h.svc.StartSession(ctx, domain.Scope{DocumentID: "target"})
	require.NoError(t, err)

	answer, err := h.svc.SendMessage(ctx, sess.ID, "How many vacation days per year?")
	require.NoError(t, err)
	for _, c := range answer.Citations {
		assert.Equal(t, "target", c.DocumentID)
	}
	require.NotEmpty(t, answer.Citations)
}

func TestStartSessionFileScopeRequiresDocument(t *testing.T) {
	h := newAnswerHarness(t, nil)

	_, err := h.svc.StartSession(context.Background(), domain.Scope{DocumentID: "missing"})
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestSendMessageRejectsBlankText(t *testing.T) {
	h := newAnswerHarness(t, nil)
	sess, err := h.svc.StartSession(context.Background(), domain.Scope{})
	require.NoError(t, err)

	_, err = h.svc.SendMessage(context.Background(), sess.ID, "  ")
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
}

func TestHistoryFlagsStaleCitations(t *testing.T) {
	h := newAnswerHarness(t, nil)
	h.indexVacationPolicy(t)
	ctx := context.Background()

	h.generator.On("Generate", mock.Anything, mock.Anything).Return("15 days.", nil).Once()

	sess, err := h.svc.StartSession(ctx, domain.Scope{})
	require.NoError(t, err)
	_, err = h.svc.SendMessage(ctx, sess.ID, "How many vacation days per year?")
	require.NoError(t, err)

	require.NoError(t, h.ingest.DeleteDocument(ctx, "D1"))

	history, err := h.svc.History(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Len(t, history[1].Citations, 1)
	assert.True(t, history[1].Citations[0].Stale)
}

func TestHistoryStaleClearsAfterReindex(t *testing.T) {
	h := newAnswerHarness(t, nil)
	h.indexVacationPolicy(t)
	ctx := context.Background()

	h.generator.On("Generate", mock.Anything, mock.Anything).Return("15 days.", nil).Once()

	sess, err := h.svc.StartSession(ctx, domain.Scope{})
	require.NoError(t, err)
	_, err = h.svc.SendMessage(ctx, sess.ID, "How many vacation days per year?")
	require.NoError(t, err)

	require.NoError(t, h.ingest.DeleteDocument(ctx, "D1"))

	history, err := h.svc.History(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, history[1].Citations[0].Stale)

	// the document returns under the same id at a newer revision
	_, err = h.ingest.IndexDocument(ctx,
		"D1", "The vacation policy allows 20 days per year.", 2)
	require.NoError(t, err)

	history, err = h.svc.History(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Len(t, history[1].Citations, 1)
	assert.False(t, history[1].Citations[0].Stale,
		"staleness is recomputed per call, never persisted")
}

// outageIndex serves from a real store until fail is set.
type outageIndex struct {
	index.Index
	mu   sync.Mutex
	fail bool
}

func (o *outageIndex) setFailing(fail bool) {
	o.mu.Lock()
	o.fail = fail
	o.mu.Unlock()
}

func (o *outageIndex) Search(ctx context.Context, q index.Query) ([]index.Match, error) {
	o.mu.Lock()
	failing := o.fail
	o.mu.Unlock()
	if failing {
		return nil, domain.ErrIndexUnavailable
	}
	return o.Index.Search(ctx, q)
}

func TestSendMessageFallbackIndexServesDuringOutage(t *testing.T) {
	ctx := context.Background()
	primary := &outageIndex{Index: index.NewMemory()}
	fallback := index.NewMemory()
	registry := repository.NewMemoryDocumentRepository()
	ingest := NewIngestService(&fakeEmbedder{}, index.NewMirror(primary, fallback), registry,
		chunker.Config{MaxTokens: 16, OverlapTokens: 4})
	sessions := session.NewManager(session.DefaultConfig())
	generator := new(MockGenerator)

	cfg := DefaultAnswerConfig()
	cfg.MinScore = 0.3
	svc := NewAnswerService(retriever.New(&fakeEmbedder{}, primary, fallback), generator, sessions, registry, cfg)

	_, err := ingest.IndexDocument(ctx,
		"D1", "The vacation policy allows 15 days per year.", 1)
	require.NoError(t, err)

	primary.setFailing(true)

	generator.On("Generate", mock.Anything, mock.MatchedBy(func(asm assembler.Context) bool {
		return len(asm.Fragments) > 0
	})).Return("You are allowed 15 days per year.", nil).Once()

	sess, err := svc.StartSession(ctx, domain.Scope{})
	require.NoError(t, err)

	answer, err := svc.SendMessage(ctx, sess.ID, "How many vacation days per year?")
	require.NoError(t, err)
	assert.False(t, answer.Degraded)
	assert.Equal(t, "You are allowed 15 days per year.", answer.Text)
	require.NotEmpty(t, answer.Citations)
	assert.Equal(t, "D1", answer.Citations[0].DocumentID)
	generator.AssertExpectations(t)
}

func TestCloseSessionStopsFurtherTurns(t *testing.T) {
	h := newAnswerHarness(t, nil)
	ctx := context.Background()

	sess, err := h.svc.StartSession(ctx, domain.Scope{})
	require.NoError(t, err)
	require.NoError(t, h.svc.CloseSession(ctx, sess.ID))

	_, err = h.svc.SendMessage(ctx, sess.ID, "hello")
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
}

func TestConcurrentMessagesSerializeWithinSession(t *testing.T) {
	h := newAnswerHarness(t, nil)
	h.indexVacationPolicy(t)
	ctx := context.Background()

	h.generator.On("Generate", mock.Anything, mock.Anything).Return("answer", nil)

	sess, err := h.svc.StartSession(ctx, domain.Scope{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.SendMessage(ctx, sess.ID, "How many vacation days per year?")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := h.svc.History(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 8)
	for i, turn := range history {
		if i%2 == 0 {
			assert.Equal(t, domain.RoleUser, turn.Role)
		} else {
			assert.Equal(t, domain.RoleAssistant, turn.Role)
		}
	}
}

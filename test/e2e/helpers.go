//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/pipewrench-ai/pipewrench/internal/api/handlers"
	"github.com/pipewrench-ai/pipewrench/internal/assembler"
	"github.com/pipewrench-ai/pipewrench/internal/chunker"
	"github.com/pipewrench-ai/pipewrench/internal/embedding"
	"github.com/pipewrench-ai/pipewrench/internal/index"
	"github.com/pipewrench-ai/pipewrench/internal/llm"
	"github.com/pipewrench-ai/pipewrench/internal/repository"
	"github.com/pipewrench-ai/pipewrench/internal/retriever"
	"github.com/pipewrench-ai/pipewrench/internal/server"
	"github.com/pipewrench-ai/pipewrench/internal/service"
	"github.com/pipewrench-ai/pipewrench/internal/session"
)

const embedDim = 32

// stubEmbeddingAPI produces deterministic bag-of-words vectors so ranking
// is stable without a live provider.
type stubEmbeddingAPI struct{}

func (stubEmbeddingAPI) CreateEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashEmbed(text)
	}
	return out, nil
}

func hashEmbed(text string) []float32 {
	vec := make([]float32, embedDim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%embedDim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

// stubChatAPI echoes the final user message so tests can assert the model
// was (or was not) invoked.
type stubChatAPI struct {
	calls int
}

func (s *stubChatAPI) CreateChatCompletion(ctx context.Context, messages []openai.ChatCompletionMessage, model string, maxTokens int) (string, error) {
	s.calls++
	last := messages[len(messages)-1]
	return "Answer to: " + last.Content, nil
}

// E2EEnv holds the in-process server and its collaborators.
type E2EEnv struct {
	T         *testing.T
	ServerURL string
	ChatAPI   *stubChatAPI
	Client    *http.Client

	closer func()
}

// SetupE2EEnv wires the full stack against an in-memory index and stub
// provider APIs, then starts an in-process HTTP server.
func SetupE2EEnv(t *testing.T) *E2EEnv {
	t.Helper()

	idx := index.NewMemory()
	registry := repository.NewMemoryDocumentRepository()

	embedder := embedding.NewClientWithAPI(stubEmbeddingAPI{}, embedding.Config{
		Model:      "e2e-embedding",
		Dimensions: embedDim,
	})
	chatAPI := &stubChatAPI{}
	generator := llm.NewClientWithAPI(chatAPI, llm.Config{Model: "e2e-chat"})

	sessions := session.NewManager(session.DefaultConfig())

	assemblyCfg := assembler.DefaultConfig()
	assemblyCfg.OverlapTokens = 2

	ingestSvc := service.NewIngestService(embedder, idx, registry, chunker.Config{
		MaxTokens:     8,
		OverlapTokens: 2,
	})
	answerSvc := service.NewAnswerService(
		retriever.New(embedder, idx, nil),
		generator,
		sessions,
		registry,
		service.AnswerConfig{TopK: 5, MinScore: 0.3, Assembly: assemblyCfg},
	)
	maintenanceSvc := service.NewMaintenanceService(ingestSvc, registry, service.DefaultMaintenanceConfig())

	router := server.NewRouter(server.RouterConfig{
		ChatHandler:        handlers.NewChatHandler(answerSvc),
		IngestHandler:      handlers.NewIngestHandler(ingestSvc),
		MaintenanceHandler: handlers.NewMaintenanceHandler(maintenanceSvc),
	})

	srv := httptest.NewServer(router)

	env := &E2EEnv{
		T:         t,
		ServerURL: srv.URL,
		ChatAPI:   chatAPI,
		Client:    &http.Client{Timeout: 10 * time.Second},
		closer:    srv.Close,
	}
	t.Cleanup(env.closer)
	return env
}

type apiResponse struct {
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	Retryable bool            `json:"retryable"`
}

func (e *E2EEnv) request(method, path string, body interface{}) (int, *apiResponse) {
	e.T.Helper()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.T.Fatalf("marshal request: %v", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		e.T.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.Client.Do(req)
	if err != nil {
		e.T.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		e.T.Fatalf("read response: %v", err)
	}

	parsed := &apiResponse{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, parsed); err != nil {
			e.T.Fatalf("parse response %q: %v", raw, err)
		}
	}
	return resp.StatusCode, parsed
}

func (e *E2EEnv) decode(raw json.RawMessage, out interface{}) {
	e.T.Helper()
	if err := json.Unmarshal(raw, out); err != nil {
		e.T.Fatalf("decode data %q: %v", raw, err)
	}
}

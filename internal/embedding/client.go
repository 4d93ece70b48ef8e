// Package embedding wraps the embedding provider behind a batched,
// order-preserving client with bounded retry.
package embedding

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pipewrench-ai/pipewrench/internal/domain"
	"github.com/pipewrench-ai/pipewrench/internal/provider"
)

const (
	// DefaultModel is the embedding model used when none is configured.
	DefaultModel = "text-embedding-3-small"
	// DefaultDimensions is the expected vector dimension for DefaultModel.
	DefaultDimensions = 1536
	// DefaultBatchSize bounds how many texts go into one provider call.
	DefaultBatchSize = 16
)

// API defines the provider call the client depends on.
type API interface {
	CreateEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// OpenAIAdapter implements API against the OpenAI embeddings endpoint.
type OpenAIAdapter struct {
	client *openai.Client
}

// NewOpenAIAdapter creates an adapter for the given API key.
func NewOpenAIAdapter(apiKey string) *OpenAIAdapter {
	return &OpenAIAdapter{client: openai.NewClient(apiKey)}
}

// CreateEmbeddings calls the provider and returns one vector per input, in
// input order.
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, errors.New("provider returned wrong number of embeddings")
	}

	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, errors.New("provider returned out-of-range embedding index")
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// Config holds the explicit provider configuration injected at startup.
type Config struct {
	APIKey     string
	Model      string
	Dimensions int
	BatchSize  int
	Retry      provider.RetryPolicy
	Gate       *provider.Gate
}

var errWrongDimensions = errors.New("embedding has wrong dimensions")

// Client converts text into fixed-dimension vectors. Transient provider
// failures are retried with exponential backoff; permanent failures surface
// immediately as EmbeddingRejected.
type Client struct {
	api        API
	model      string
	dimensions int
	batchSize  int
	retry      provider.RetryPolicy
	gate       *provider.Gate
}

// NewClient creates a Client backed by the OpenAI adapter.
func NewClient(cfg Config) *Client {
	return NewClientWithAPI(NewOpenAIAdapter(cfg.APIKey), cfg)
}

// NewClientWithAPI creates a Client with an explicit provider API.
func NewClientWithAPI(api API, cfg Config) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Client{
		api:        api,
		model:      model,
		dimensions: dimensions,
		batchSize:  batchSize,
		retry:      cfg.Retry,
		gate:       cfg.Gate,
	}
}

// Model returns the embedding model identifier. Vectors produced by
// different models must never be compared; the index enforces this using
// the model id.
func (c *Client) Model() string {
	return c.model
}

// Dimensions returns the expected vector dimension.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Embed converts texts into vectors, preserving input order. Calls are
// batched to amortize provider round-trips.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeEmbeddingRejected, "no texts to embed", nil)
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeEmbeddingRejected, "text must not be empty", nil)
		}
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := c.retry.Run(ctx, func() error {
		if err := c.gate.Acquire(ctx); err != nil {
			return err
		}

		vectors, err := c.api.CreateEmbeddings(ctx, texts, c.model)
		if err != nil {
			if permanent(err) {
				return provider.Permanent(err)
			}
			return err
		}

		for _, v := range vectors {
			if len(v) != c.dimensions {
				return provider.Permanent(errWrongDimensions)
			}
		}
		out = vectors
		return nil
	})
	if err != nil {
		if permanent(err) || errors.Is(err, errWrongDimensions) {
			return nil, domain.NewDomainErrorWithCause(domain.ErrCodeEmbeddingRejected, "embedding provider rejected the request", err)
		}
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeEmbeddingUnavailable, "embedding provider unavailable", err)
	}
	return out, nil
}

// permanent reports whether the provider error is structural rather than
// transient. Rate limits and server-side failures stay retryable.
func permanent(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 400, 401, 403, 404, 413, 422:
			return true
		}
		return false
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.HTTPStatusCode {
		case 400, 401, 403, 404, 413, 422:
			return true
		}
	}
	return false
}

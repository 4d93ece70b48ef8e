// Package llm wraps the language-model provider behind a grounded chat
// completion call with bounded retry and a circuit breaker.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/pipewrench-ai/pipewrench/internal/assembler"
	"github.com/pipewrench-ai/pipewrench/internal/domain"
	"github.com/pipewrench-ai/pipewrench/internal/provider"
)

const (
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = openai.GPT4oMini
	// DefaultMaxTokens bounds the completion length.
	DefaultMaxTokens = 1024
)

const systemPrompt = "You are a careful assistant answering questions about an organization's documents. " +
	"Answer using only the provided context passages. " +
	"If the context does not contain the answer, say you do not have enough information. " +
	"Do not invent facts."

// ChatAPI defines the provider call the client depends on.
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, messages []openai.ChatCompletionMessage, model string, maxTokens int) (string, error)
}

// OpenAIAdapter implements ChatAPI against the OpenAI chat completions
// endpoint.
type OpenAIAdapter struct {
	client *openai.Client
}

// NewOpenAIAdapter creates an adapter for the given API key.
func NewOpenAIAdapter(apiKey string) *OpenAIAdapter {
	return &OpenAIAdapter{client: openai.NewClient(apiKey)}
}

// CreateChatCompletion calls the provider and returns the first choice's
// text.
func (a *OpenAIAdapter) CreateChatCompletion(ctx context.Context, messages []openai.ChatCompletionMessage, model string, maxTokens int) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("provider returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Config holds the explicit provider configuration injected at startup.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
	Retry     provider.RetryPolicy
	Gate      *provider.Gate
}

// Client produces grounded answers from an assembled context. Transient
// failures are retried; sustained failure trips a circuit breaker so a
// provider outage fails fast instead of queueing work.
type Client struct {
	api       ChatAPI
	model     string
	maxTokens int
	retry     provider.RetryPolicy
	gate      *provider.Gate
	breaker   *gobreaker.CircuitBreaker
}

// NewClient creates a Client backed by the OpenAI adapter.
func NewClient(cfg Config) *Client {
	return NewClientWithAPI(NewOpenAIAdapter(cfg.APIKey), cfg)
}

// NewClientWithAPI creates a Client with an explicit provider API.
func NewClientWithAPI(api ChatAPI, cfg Config) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 2,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures*2 > counts.Requests
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &Client{
		api:       api,
		model:     model,
		maxTokens: maxTokens,
		retry:     cfg.Retry,
		gate:      cfg.Gate,
		breaker:   breaker,
	}
}

// Generate answers the assembled context's query. On failure after retries
// the caller receives a retryable GenerationFailed error; the orchestrator
// must not persist any turn for the attempt.
func (c *Client) Generate(ctx context.Context, asm assembler.Context) (string, error) {
	messages := BuildMessages(asm)

	var answer string
	err := c.retry.Run(ctx, func() error {
		if err := c.gate.Acquire(ctx); err != nil {
			return err
		}

		out, err := c.breaker.Execute(func() (interface{}, error) {
			return c.api.CreateChatCompletion(ctx, messages, c.model, c.maxTokens)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || permanent(err) {
				return provider.Permanent(err)
			}
			return err
		}
		answer = out.(string)
		return nil
	})
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeGenerationFailed, "language model call failed", err)
	}
	return answer, nil
}

// BuildMessages lays the assembled context out as chat messages: system
// instructions with numbered context passages, prior turns in order, then
// the current query.
func BuildMessages(asm assembler.Context) []openai.ChatCompletionMessage {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	if len(asm.Fragments) > 0 {
		sb.WriteString("\n\nContext passages:\n")
		for i, f := range asm.Fragments {
			fmt.Fprintf(&sb, "[%d] %s\n", i+1, f.Text)
		}
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(asm.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: sb.String(),
	})
	for _, turn := range asm.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: asm.Query,
	})
	return messages
}

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

package ai

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/hrygo/mindgraph/ai/aierr"
)

// RelationService is the chat-completion interface used for topic labeling,
// relation classification and content scoring. Implementations must be safe
// for concurrent use.
type RelationService interface {
	// Complete sends a system/user prompt pair and returns the raw model
	// output. Callers parse the output defensively and fall back on error.
	Complete(ctx context.Context, system, user string) (string, error)
}

type relationService struct {
	client      *openai.Client
	breaker     *gobreaker.CircuitBreaker
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
}

// NewRelationService creates a RelationService for any OpenAI-compatible
// provider. Calls run behind a circuit breaker so a failing provider degrades
// to the deterministic fallbacks instead of stalling every request.
func NewRelationService(cfg *RelationConfig) (RelationService, error) {
	if cfg.Model == "" {
		return nil, aierr.NewValidation("relation model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient(cfg.Timeout)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "relation-llm",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures*2 > counts.Requests
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("relation llm circuit state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &relationService{
		client:      openai.NewClientWithConfig(clientConfig),
		breaker:     breaker,
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		timeout:     timeout,
	}, nil
}

func (s *relationService) Complete(ctx context.Context, system, user string) (string, error) {
	if user == "" {
		return "", aierr.NewValidation("empty prompt")
	}

	result, err := s.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		messages := []openai.ChatCompletionMessage{}
		if system != "" {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: system,
			})
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: user,
		})

		resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       s.model,
			MaxTokens:   s.maxTokens,
			Temperature: s.temperature,
			Messages:    messages,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("empty completion response")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		if aierr.IsValidation(err) {
			return "", err
		}
		return "", aierr.NewProvider("relation", err)
	}

	return result.(string), nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/hrygo/mindgraph/ai/aierr"
)

// EmbeddingService is the vector embedding service interface.
type EmbeddingService interface {
	// Embed generates a vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimension.
	Dimensions() int
}

type embeddingService struct {
	client     *openai.Client
	limiter    *rate.Limiter
	model      string
	dimensions int
}

// NewEmbeddingService creates a new EmbeddingService for any
// OpenAI-compatible provider (openai, deepseek, siliconflow, ollama).
func NewEmbeddingService(cfg *EmbeddingConfig) (EmbeddingService, error) {
	if cfg.Model == "" {
		return nil, aierr.NewValidation("embedding model is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, aierr.NewValidation("invalid embedding dimensions: %d", cfg.Dimensions)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &embeddingService{
		client: openai.NewClientWithConfig(clientConfig),
		// Providers meter embeddings aggressively; 10 req/s with small
		// bursts keeps the single queue worker well inside common quotas.
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (s *embeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *embeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, aierr.NewValidation("no texts provided for embedding")
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, aierr.NewValidation("empty text at index %d", i)
		}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, aierr.NewProvider("embedding", err)
	}

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(s.model),
		Dimensions: s.dimensions,
	}

	resp, err := s.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, aierr.NewProvider("embedding", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, aierr.NewProvider("embedding",
			fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(texts)))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		if len(data.Embedding) != s.dimensions {
			// A wrong-sized vector is a configuration problem (model vs.
			// configured dimensions), not a transient fault. Retrying the
			// same request cannot fix it.
			return nil, aierr.NewValidation("embedding dimension mismatch: got %d, want %d",
				len(data.Embedding), s.dimensions)
		}
		vectors[i] = data.Embedding
	}

	return vectors, nil
}

func (s *embeddingService) Dimensions() int {
	return s.dimensions
}

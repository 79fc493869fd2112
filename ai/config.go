package ai

import (
	"time"

	"github.com/hrygo/mindgraph/internal/profile"
)

// Config represents AI configuration.
type Config struct {
	Embedding EmbeddingConfig
	Relation  RelationConfig
	Enabled   bool
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
}

// RelationConfig represents the chat-completion model used for topic
// labeling and relation classification.
type RelationConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float32
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Enabled: p.IsAIEnabled(),
	}

	if !cfg.Enabled {
		return cfg
	}

	cfg.Embedding = EmbeddingConfig{
		Provider:   p.AIEmbeddingProvider,
		Model:      p.AIEmbeddingModel,
		APIKey:     p.AIEmbeddingAPIKey,
		BaseURL:    p.AIEmbeddingBaseURL,
		Dimensions: p.AIEmbeddingDim,
	}

	cfg.Relation = RelationConfig{
		Provider:    p.AIRelationProvider,
		Model:       p.AIRelationModel,
		APIKey:      p.AIRelationAPIKey,
		BaseURL:     p.AIRelationBaseURL,
		Timeout:     time.Duration(p.AIRelationTimeout) * time.Second,
		MaxTokens:   1024,
		Temperature: 0.2,
	}

	return cfg
}

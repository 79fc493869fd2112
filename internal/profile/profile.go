package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Embedding configuration (OpenAI-compatible protocol).
	AIEmbeddingProvider string
	AIEmbeddingModel    string
	AIEmbeddingAPIKey   string
	AIEmbeddingBaseURL  string
	AIEmbeddingDim      int

	// Relation/label LLM configuration (OpenAI-compatible protocol).
	AIRelationProvider string
	AIRelationModel    string
	AIRelationAPIKey   string
	AIRelationBaseURL  string
	AIRelationTimeout  int // seconds

	Mode        string
	Addr        string
	Data        string
	Driver      string
	DSN         string
	Version     string
	InstanceURL string
	Port        int
	AIEnabled   bool
}

// Provider default configurations for OpenAI-compatible endpoints.
// Used when the base URL is not explicitly set.
var providerDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if the embedding provider is usable.
func (p *Profile) IsAIEnabled() bool {
	return p.AIEmbeddingAPIKey != "" || p.AIEmbeddingProvider == "ollama"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.AIEmbeddingProvider = getEnvOrDefault("MINDGRAPH_AI_EMBEDDING_PROVIDER", "openai")
	p.AIEmbeddingModel = getEnvOrDefault("MINDGRAPH_AI_EMBEDDING_MODEL", "text-embedding-3-large")
	p.AIEmbeddingAPIKey = getEnvOrDefault("MINDGRAPH_AI_EMBEDDING_API_KEY", "")
	p.AIEmbeddingBaseURL = getEnvOrDefault("MINDGRAPH_AI_EMBEDDING_BASE_URL", "")
	p.AIEmbeddingDim = getEnvOrDefaultInt("MINDGRAPH_AI_EMBEDDING_DIM", 3072)

	p.AIRelationProvider = getEnvOrDefault("MINDGRAPH_AI_RELATION_PROVIDER", "openai")
	p.AIRelationModel = getEnvOrDefault("MINDGRAPH_AI_RELATION_MODEL", "")
	p.AIRelationAPIKey = getEnvOrDefault("MINDGRAPH_AI_RELATION_API_KEY", "")
	p.AIRelationBaseURL = getEnvOrDefault("MINDGRAPH_AI_RELATION_BASE_URL", "")
	p.AIRelationTimeout = getEnvOrDefaultInt("MINDGRAPH_AI_RELATION_TIMEOUT_SECONDS", 60)

	if _, ok := providerDefaults[p.AIRelationProvider]; !ok {
		slog.Warn("unknown relation provider, using default: openai", "provider", p.AIRelationProvider)
		p.AIRelationProvider = "openai"
	}
	if defaults, ok := providerDefaults[p.AIRelationProvider]; ok {
		if p.AIRelationBaseURL == "" {
			p.AIRelationBaseURL = defaults.BaseURL
		}
		if p.AIRelationModel == "" {
			p.AIRelationModel = defaults.Model
		}
	}
	if p.AIRelationAPIKey == "" {
		p.AIRelationAPIKey = p.AIEmbeddingAPIKey
	}

	p.AIEnabled = p.IsAIEnabled()
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies.
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "mindgraph")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/mindgraph"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("mindgraph_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	if p.AIEmbeddingDim <= 0 {
		return errors.Errorf("invalid embedding dimension: %d", p.AIEmbeddingDim)
	}

	return nil
}

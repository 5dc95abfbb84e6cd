package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	// Embedding configuration (OpenAI-compatible protocol).
	// An empty API key selects the deterministic local hash embedder.
	EmbeddingProvider   string
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingDimensions int
	EmbeddingRPS        float64 // provider requests per second, 0 disables the limiter

	// Memory tuning file (YAML), optional.
	TuningFile string
	Tuning     Tuning

	// JWTSecret enables bearer-token auth on the HTTP API when set.
	JWTSecret string

	Mode     string
	DSN      string
	Driver   string
	Version  string
	Addr     string
	Data     string
	LogLevel string
	Port     int
}

// Embedding provider defaults, used when the base URL or model is not set.
var embeddingProviderDefaults = map[string]struct {
	BaseURL    string
	Model      string
	Dimensions int
}{
	"openai": {
		BaseURL:    "https://api.openai.com/v1",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
	},
	"siliconflow": {
		BaseURL:    "https://api.siliconflow.cn/v1",
		Model:      "BAAI/bge-m3",
		Dimensions: 1024,
	},
	"ollama": {
		BaseURL:    "http://localhost:11434/v1",
		Model:      "nomic-embed-text",
		Dimensions: 768,
	},
	"local": {
		Model:      "hash-embed-v1",
		Dimensions: 256,
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// UsesLocalEmbedder reports whether the hash embedder replaces a remote provider.
func (p *Profile) UsesLocalEmbedder() bool {
	return p.EmbeddingProvider == "local" || p.EmbeddingAPIKey == ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.EmbeddingProvider = getEnvOrDefault("MNEMO_EMBEDDING_PROVIDER", "siliconflow")
	p.EmbeddingModel = getEnvOrDefault("MNEMO_EMBEDDING_MODEL", "")
	p.EmbeddingAPIKey = getEnvOrDefault("MNEMO_EMBEDDING_API_KEY", "")
	p.EmbeddingBaseURL = getEnvOrDefault("MNEMO_EMBEDDING_BASE_URL", "")
	p.EmbeddingDimensions = getEnvOrDefaultInt("MNEMO_EMBEDDING_DIMENSIONS", 0)
	p.EmbeddingRPS = getEnvOrDefaultFloat("MNEMO_EMBEDDING_RPS", 10)
	p.JWTSecret = getEnvOrDefault("MNEMO_JWT_SECRET", "")
	if p.TuningFile == "" {
		p.TuningFile = getEnvOrDefault("MNEMO_TUNING_FILE", "")
	}

	if _, ok := embeddingProviderDefaults[p.EmbeddingProvider]; !ok {
		slog.Warn("Unknown embedding provider, using default: siliconflow", "provider", p.EmbeddingProvider)
		p.EmbeddingProvider = "siliconflow"
	}
	if p.UsesLocalEmbedder() {
		p.EmbeddingProvider = "local"
	}
	defaults := embeddingProviderDefaults[p.EmbeddingProvider]
	if p.EmbeddingBaseURL == "" {
		p.EmbeddingBaseURL = defaults.BaseURL
	}
	if p.EmbeddingModel == "" {
		p.EmbeddingModel = defaults.Model
	}
	if p.EmbeddingDimensions <= 0 {
		p.EmbeddingDimensions = defaults.Dimensions
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
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
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "mnemo")
		} else {
			p.Data = "/var/opt/mnemo"
		}
	}
	if p.Data == "" {
		p.Data = "."
	}
	if _, err := os.Stat(p.Data); os.IsNotExist(err) {
		if err := os.MkdirAll(p.Data, 0770); err != nil {
			slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
			return err
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("mnemo_%s.db", p.Mode))
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn required for postgres driver")
	}

	tuning := DefaultTuning()
	if p.TuningFile != "" {
		tuning, err = LoadTuning(p.TuningFile)
		if err != nil {
			return err
		}
	}
	p.Tuning = tuning
	return p.Tuning.Validate()
}

// OperationTimeout is the per-call budget for embedding and store I/O.
func (p *Profile) OperationTimeout() time.Duration {
	return p.Tuning.OperationTimeout
}

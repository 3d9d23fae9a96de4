package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	// LLM configuration (OpenAI-compatible protocol).
	LLMProvider string // Provider identifier: openai, deepseek, openrouter, ollama
	LLMAPIKey   string
	LLMBaseURL  string // Optional, has default per provider
	LLMModel    string
	LLMTimeout  int // LLM request timeout in seconds (default: 120)

	// Web search configuration.
	SearchAPIKey  string // Serper API key; search tool is disabled when empty
	SearchBaseURL string

	// Tracing configuration. Tracing is disabled when both keys are empty.
	TracePublicKey string
	TraceSecretKey string
	TraceBaseURL   string

	// Session token signing secret.
	JWTSecret string

	// StreamRetentionSeconds is how long finished stream channels stay
	// resumable before the broker evicts them.
	StreamRetentionSeconds int

	// GenerationTimeoutSeconds bounds a single generation end to end,
	// including tool calls. The producer is cancelled past this.
	GenerationTimeoutSeconds int

	Mode    string
	Addr    string
	Port    int
	Data    string
	Driver  string
	DSN     string
	Version string
}

// Provider default configurations for the LLM.
// Used when the base URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "google/gemini-2.0-flash-001",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsLLMEnabled returns true if an LLM API key is configured.
func (p *Profile) IsLLMEnabled() bool {
	return p.LLMAPIKey != ""
}

// IsSearchEnabled returns true if the web search tool is configured.
func (p *Profile) IsSearchEnabled() bool {
	return p.SearchAPIKey != ""
}

// IsTracingEnabled returns true if trace export is configured.
func (p *Profile) IsTracingEnabled() bool {
	return p.TracePublicKey != "" && p.TraceSecretKey != ""
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

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("DEEPSEARCH_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("DEEPSEARCH_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("DEEPSEARCH_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("DEEPSEARCH_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("DEEPSEARCH_LLM_TIMEOUT_SECONDS", 120)

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		p.LLMProvider = "openai"
	}
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	}

	p.SearchAPIKey = getEnvOrDefault("DEEPSEARCH_SERPER_API_KEY", "")
	p.SearchBaseURL = getEnvOrDefault("DEEPSEARCH_SERPER_BASE_URL", "https://google.serper.dev")

	p.TracePublicKey = getEnvOrDefault("DEEPSEARCH_TRACE_PUBLIC_KEY", "")
	p.TraceSecretKey = getEnvOrDefault("DEEPSEARCH_TRACE_SECRET_KEY", "")
	p.TraceBaseURL = getEnvOrDefault("DEEPSEARCH_TRACE_BASE_URL", "https://cloud.langfuse.com")

	p.JWTSecret = getEnvOrDefault("DEEPSEARCH_JWT_SECRET", "")

	p.StreamRetentionSeconds = getEnvOrDefaultInt("DEEPSEARCH_STREAM_RETENTION_SECONDS", 300)
	p.GenerationTimeoutSeconds = getEnvOrDefaultInt("DEEPSEARCH_GENERATION_TIMEOUT_SECONDS", 60)
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

	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported database driver: %s", p.Driver)
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "deepsearch")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					return errors.Wrapf(err, "failed to create data directory %s", p.Data)
				}
			}
		} else {
			p.Data = "/var/opt/deepsearch"
		}
	}

	if p.Driver == "sqlite" {
		dataDir, err := checkDataDir(p.Data)
		if err != nil {
			return err
		}
		p.Data = dataDir
		if p.DSN == "" {
			p.DSN = filepath.Join(dataDir, fmt.Sprintf("deepsearch_%s.db", p.Mode))
		}
	}

	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn required for postgres driver")
	}

	if p.JWTSecret == "" {
		if p.Mode == "prod" {
			return errors.New("DEEPSEARCH_JWT_SECRET must be set in prod mode")
		}
		p.JWTSecret = "deepsearch-dev-secret"
	}

	if p.StreamRetentionSeconds <= 0 {
		p.StreamRetentionSeconds = 300
	}
	if p.GenerationTimeoutSeconds <= 0 {
		p.GenerationTimeoutSeconds = 60
	}

	return nil
}

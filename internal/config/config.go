package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/suPer8Hu/aether/internal/chat"
)

type Config struct {
	HTTPAddr string

	// AI provider
	AIProvider        string
	GeminiAPIKey      string
	GeminiModel       string
	OllamaBaseURL     string
	OllamaModel       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string

	// sampling
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int32

	// history
	MaxHistory     int
	HistoryPolicy  chat.PolicyKind
	BackendTimeout time.Duration
	PersonaFile    string

	DBDSN          string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	IdempotencyTTL time.Duration

	// rabbitMQ; async routes are off when RabbitURL is empty
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int
}

// fileConfig mirrors the JSON config file keys.
type fileConfig struct {
	APIKey          *string  `json:"api_key"`
	ModelName       *string  `json:"model_name"`
	Temperature     *float32 `json:"temperature"`
	TopP            *float32 `json:"top_p"`
	TopK            *float32 `json:"top_k"`
	MaxOutputTokens *int32   `json:"max_output_tokens"`
	MaxHistory      *int     `json:"max_history"`
	HistoryPolicy   *string  `json:"history_policy"`
}

const defaultConfigFile = "config.json"

func defaults() Config {
	return Config{
		HTTPAddr: ":8080",

		AIProvider:        "gemini",
		GeminiModel:       "gemini-2.5-flash",
		OllamaBaseURL:     "http://localhost:11434",
		OllamaModel:       "llama3:latest",
		OpenRouterBaseURL: "https://openrouter.ai/api/v1",
		OpenRouterModel:   "openrouter/auto",

		Temperature:     1,
		TopP:            0.95,
		TopK:            40,
		MaxOutputTokens: 8192,

		MaxHistory:     10,
		HistoryPolicy:  chat.PolicySummarize,
		BackendTimeout: 60 * time.Second,

		DBDSN:          "file::memory:?cache=shared",
		IdempotencyTTL: 24 * time.Hour,

		RabbitQueue:       "chat_jobs",
		WorkerConcurrency: 2,
	}
}

// Load builds the config from defaults, then the JSON file named by
// CONFIG_FILE (or ./config.json when present), then the environment. A
// .env file in the working directory is read first without overriding
// variables that are already set.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	path := os.Getenv("CONFIG_FILE")
	required := path != ""
	if path == "" {
		path = defaultConfigFile
	}
	if err := cfg.applyFile(path, required); err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string, required bool) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if fc.APIKey != nil {
		c.GeminiAPIKey = *fc.APIKey
	}
	if fc.ModelName != nil {
		c.GeminiModel = *fc.ModelName
	}
	if fc.Temperature != nil {
		c.Temperature = *fc.Temperature
	}
	if fc.TopP != nil {
		c.TopP = *fc.TopP
	}
	if fc.TopK != nil {
		c.TopK = *fc.TopK
	}
	if fc.MaxOutputTokens != nil {
		c.MaxOutputTokens = *fc.MaxOutputTokens
	}
	if fc.MaxHistory != nil {
		c.MaxHistory = *fc.MaxHistory
	}
	if fc.HistoryPolicy != nil {
		kind, err := chat.ParsePolicyKind(*fc.HistoryPolicy)
		if err != nil {
			return fmt.Errorf("config: %s: %w", path, err)
		}
		c.HistoryPolicy = kind
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.HTTPAddr, "HTTP_ADDR")

	setString(&c.AIProvider, "AI_PROVIDER")
	setString(&c.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&c.GeminiModel, "GEMINI_MODEL")
	setString(&c.OllamaBaseURL, "OLLAMA_BASE_URL")
	setString(&c.OllamaModel, "OLLAMA_MODEL")
	setString(&c.OpenRouterBaseURL, "OPENROUTER_BASE_URL")
	setString(&c.OpenRouterAPIKey, "OPENROUTER_API_KEY")
	setString(&c.OpenRouterModel, "OPENROUTER_MODEL")
	setString(&c.OpenRouterSiteURL, "OPENROUTER_SITE_URL")
	setString(&c.OpenRouterAppName, "OPENROUTER_APP_NAME")
	setString(&c.PersonaFile, "PERSONA_FILE")

	setString(&c.DBDSN, "DB_DSN")
	setString(&c.RedisAddr, "REDIS_ADDR")
	setString(&c.RedisPassword, "REDIS_PASSWORD")
	setString(&c.RabbitURL, "RABBIT_URL")
	setString(&c.RabbitQueue, "RABBIT_QUEUE")

	if v := os.Getenv("HISTORY_POLICY"); v != "" {
		kind, err := chat.ParsePolicyKind(v)
		if err != nil {
			return fmt.Errorf("config: HISTORY_POLICY: %w", err)
		}
		c.HistoryPolicy = kind
	}

	var errs []error
	errs = append(errs,
		setFloat32(&c.Temperature, "LLM_TEMPERATURE"),
		setFloat32(&c.TopP, "LLM_TOP_P"),
		setFloat32(&c.TopK, "LLM_TOP_K"),
		setInt32(&c.MaxOutputTokens, "LLM_MAX_OUTPUT_TOKENS"),
		setInt(&c.MaxHistory, "MAX_HISTORY"),
		setInt(&c.RedisDB, "REDIS_DB"),
		setInt(&c.WorkerConcurrency, "WORKER_CONCURRENCY"),
		setDuration(&c.BackendTimeout, "BACKEND_TIMEOUT"),
		setDuration(&c.IdempotencyTTL, "IDEMPOTENCY_TTL"),
	)
	c.WorkerConcurrency = clampConcurrency(c.WorkerConcurrency)
	return errors.Join(errs...)
}

func clampConcurrency(n int) int {
	if n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func (c Config) Validate() error {
	if c.MaxHistory <= 0 {
		return fmt.Errorf("config: max history must be positive, got %d", c.MaxHistory)
	}
	switch strings.ToLower(c.AIProvider) {
	case "gemini", "ollama", "openrouter":
	default:
		return fmt.Errorf("config: unsupported AI_PROVIDER=%q", c.AIProvider)
	}
	return nil
}

// AsyncEnabled reports whether the queued-turn routes should be served.
func (c Config) AsyncEnabled() bool { return c.RabbitURL != "" }

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func setInt32(dst *int32, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
	*dst = int32(n)
	return nil
}

func setFloat32(dst *float32, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
	*dst = float32(f)
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s=%q: %w", key, v, err)
	}
	*dst = d
	return nil
}

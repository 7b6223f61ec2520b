// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chaturyaganne/ai-agent/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	DBPath          string
	DefaultUsername string
	AllowedOrigins  []string
	LogLevel        slog.Level
	MetricsEnabled  bool
	ShutdownTimeout time.Duration
	ResubmitPolicy  domain.ResubmitPolicy
	CatalogPath     string // empty = embedded questions
	MemoryCapacity  int
	SessionIdleTTL  time.Duration // in-memory session eviction; 0 disables
	LLM             LLMConfig
	Redis           RedisConfig
	ConversationLog ConversationLogConfig
}

// LLMConfig selects and configures the text generation backend.
type LLMConfig struct {
	Provider          string // "huggingface", "gemini" or "grpc"
	GenerationTimeout time.Duration
	HFToken           string
	HFModel           string
	HFBaseURL         string
	GeminiAPIKey      string
	GeminiModel       string
	AgentAddr         string
}

// RedisConfig enables cross-process per-user locking when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
	Prefix   string
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	policy, err := domain.ParseResubmitPolicy(getEnv("ONBOARDING_RESUBMIT_POLICY", ""))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8000"),
		DBPath:          getEnv("DB_PATH", "./data/anton.db"),
		DefaultUsername: getEnv("DEFAULT_USERNAME", "default_user"),
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:3001"}),
		LogLevel:        getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		ResubmitPolicy:  policy,
		CatalogPath:     getEnv("CATALOG_PATH", ""),
		MemoryCapacity:  getEnvInt("MEMORY_CAPACITY", 20),
		SessionIdleTTL:  getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		LLM: LLMConfig{
			Provider:          strings.ToLower(getEnv("LLM_PROVIDER", "huggingface")),
			GenerationTimeout: getEnvDuration("GENERATION_TIMEOUT", 30*time.Second),
			HFToken:           getEnv("HF_TOKEN", ""),
			HFModel:           getEnv("HF_MODEL", "meta-llama/Llama-3.2-3B-Instruct"),
			HFBaseURL:         getEnv("HF_BASE_URL", "https://router.huggingface.co/v1"),
			GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
			GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			AgentAddr:         getEnv("AGENT_ADDR", "localhost:50051"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			LockTTL:  getEnvDuration("LOCK_TTL", 60*time.Second),
			Prefix:   getEnv("REDIS_PREFIX", "anton:"),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if strings.TrimSpace(c.DefaultUsername) == "" {
		return fmt.Errorf("DEFAULT_USERNAME cannot be empty")
	}
	if c.MemoryCapacity <= 0 {
		return fmt.Errorf("MEMORY_CAPACITY must be > 0")
	}
	switch c.LLM.Provider {
	case "huggingface", "gemini":
	case "grpc":
		if c.LLM.AgentAddr == "" {
			return fmt.Errorf("AGENT_ADDR cannot be empty when LLM_PROVIDER=grpc")
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
	if c.LLM.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be > 0")
	}
	if c.Redis.Addr != "" && c.Redis.LockTTL <= c.LLM.GenerationTimeout {
		return fmt.Errorf("LOCK_TTL (%s) must exceed GENERATION_TIMEOUT (%s)", c.Redis.LockTTL, c.LLM.GenerationTimeout)
	}
	if c.ConversationLog.Enabled {
		if c.ConversationLog.Dir == "" {
			return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
		}
		if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
			return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
		}
		if c.ConversationLog.QueueSize <= 0 {
			return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
		}
	}
	return nil
}

// IsDevelopment returns true when every allowed origin is local.
func (c *Config) IsDevelopment() bool {
	for _, o := range c.AllowedOrigins {
		if !strings.Contains(o, "localhost") && !strings.Contains(o, "127.0.0.1") {
			return false
		}
	}
	return true
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}

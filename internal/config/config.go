// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	SessionTTL      time.Duration
	OpenAI          OpenAIConfig
	Knowledge       KnowledgeConfig
	StreamChunkSize int
}

// OpenAIConfig controls the LLM-backed responder. When APIKey is empty
// the server falls back to the rule-based demo responder.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// KnowledgeConfig controls knowledge-base ingestion.
type KnowledgeConfig struct {
	UploadDir    string
	ChunkTokens  int
	ChunkOverlap int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8000"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/careline.db"),
		JWTSecret:       getEnv("SECRET_KEY", "your-super-secret-key-for-development"),
		AccessTokenTTL:  time.Duration(getEnvInt("ACCESS_TOKEN_EXPIRE_MINUTES", 30)) * time.Minute,
		RefreshTokenTTL: time.Duration(getEnvInt("REFRESH_TOKEN_EXPIRE_DAYS", 7)) * 24 * time.Hour,
		SessionTTL:      time.Duration(getEnvInt("SESSION_TTL_HOURS", 72)) * time.Hour,
		OpenAI: OpenAIConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
			Model:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		},
		Knowledge: KnowledgeConfig{
			UploadDir:    getEnv("KNOWLEDGE_DIR", "./data/knowledge"),
			ChunkTokens:  getEnvInt("KB_CHUNK_TOKENS", 500),
			ChunkOverlap: getEnvInt("KB_CHUNK_OVERLAP", 50),
		},
		StreamChunkSize: getEnvInt("STREAM_CHUNK_SIZE", 24),
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
	if c.JWTSecret == "" {
		return fmt.Errorf("SECRET_KEY cannot be empty")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token lifetimes must be > 0")
	}
	if c.Knowledge.ChunkTokens <= 0 {
		return fmt.Errorf("KB_CHUNK_TOKENS must be > 0")
	}
	if c.Knowledge.ChunkOverlap < 0 || c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkTokens {
		return fmt.Errorf("KB_CHUNK_OVERLAP must be in [0, KB_CHUNK_TOKENS)")
	}
	if c.StreamChunkSize <= 0 {
		return fmt.Errorf("STREAM_CHUNK_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
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

// Package config provides unified configuration loading for the knowledge base service.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxChunkSize is the hard upper bound on an upload chunk (50 MiB).
const MaxChunkSize = 50 << 20

// Config holds all configuration for the knowledge base service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Storage       StorageConfig       `yaml:"storage"`
	Upload        UploadConfig        `yaml:"upload"`
	Cache         CacheConfig         `yaml:"cache"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Chat          ChatConfig          `yaml:"chat"`
	Indexing      IndexingConfig      `yaml:"indexing"`
	Search        SearchConfig        `yaml:"search"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// StorageConfig holds blob file system settings.
type StorageConfig struct {
	BasePath    string `yaml:"base_path"`
	MaxFileSize int64  `yaml:"max_file_size_bytes"`
}

// UploadConfig holds chunked upload settings.
type UploadConfig struct {
	SessionTTL      time.Duration `yaml:"session_ttl"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

// CacheConfig holds the ephemeral cache settings backing upload sessions.
type CacheConfig struct {
	Driver string      `yaml:"driver"` // memory or redis
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// EmbeddingConfig holds embedding model settings.
type EmbeddingConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Dimension  int           `yaml:"dimension"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// ChatConfig holds chat model settings.
type ChatConfig struct {
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// IndexingConfig holds segmentation, chunking, and sectioning settings.
type IndexingConfig struct {
	MaxTokensPerChunk          int     `yaml:"max_tokens_per_chunk"`
	MaxTokensPerSection        int     `yaml:"max_tokens_per_section"`
	MinTokensPerSection        int     `yaml:"min_tokens_per_section"`
	MinChunksPerSection        int     `yaml:"min_chunks_per_section"`
	LookaheadBufferSize        int     `yaml:"lookahead_buffer_size"`
	StdDevMultiplier           float64 `yaml:"std_dev_multiplier"`
	MinimumSimilarityThreshold float64 `yaml:"minimum_similarity_threshold"`
	TokenStrictnessThreshold   float64 `yaml:"token_strictness_threshold"`
}

// SearchConfig holds retrieval settings.
type SearchConfig struct {
	DefaultTopK int `yaml:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SigningSecret string `yaml:"signing_secret"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8086,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/knowledge-base.db",
				MaxOpenConns: 1,
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Storage: StorageConfig{
			BasePath:    "/tmp/knowledge-base/files",
			MaxFileSize: 256 << 20,
		},
		Upload: UploadConfig{
			SessionTTL:      24 * time.Hour,
			JanitorInterval: time.Hour,
		},
		Cache: CacheConfig{
			Driver: "memory",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Embedding: EmbeddingConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimension:  768,
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Chat: ChatConfig{
			Model:   "llama3.1",
			Timeout: 120 * time.Second,
		},
		Indexing: IndexingConfig{
			MaxTokensPerChunk:          256,
			MaxTokensPerSection:        2048,
			MinTokensPerSection:        64,
			MinChunksPerSection:        2,
			LookaheadBufferSize:        128,
			StdDevMultiplier:           1.0,
			MinimumSimilarityThreshold: 0.65,
			TokenStrictnessThreshold:   0.75,
		},
		Search: SearchConfig{
			DefaultTopK: 10,
			MaxTopK:     50,
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "debug",
			LogFormat: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Storage.MaxFileSize <= 0 {
		return fmt.Errorf("max_file_size_bytes must be positive")
	}

	if c.Indexing.MaxTokensPerChunk <= 0 || c.Indexing.MaxTokensPerSection <= 0 {
		return fmt.Errorf("token limits must be positive")
	}

	if c.Indexing.MaxTokensPerChunk > c.Indexing.MaxTokensPerSection {
		return fmt.Errorf("max_tokens_per_chunk exceeds max_tokens_per_section")
	}

	if c.Auth.Enabled && c.Auth.SigningSecret == "" {
		return fmt.Errorf("auth enabled without signing secret")
	}

	if c.Search.DefaultTopK < 1 || c.Search.DefaultTopK > c.Search.MaxTopK {
		return fmt.Errorf("default_top_k must be between 1 and max_top_k")
	}

	return nil
}

// DatabaseDSN returns the connection string for the active driver.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("POSTGRES_CONNECTION_STRING"); v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.Postgres.DSN = v
	}

	if v := os.Getenv("FILE_STORAGE_BASE_PATH"); v != "" {
		cfg.Storage.BasePath = v
	}

	if v := os.Getenv("MAX_FILE_SIZE_BYTES"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Storage.MaxFileSize = size
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = v
	}

	if v := os.Getenv("JWT_SIGNING_SECRET"); v != "" {
		cfg.Auth.Enabled = true
		cfg.Auth.SigningSecret = v
	}

	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}

	if v := os.Getenv("OLLAMA_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}

	if v := os.Getenv("OLLAMA_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	if v := os.Getenv("OLLAMA_CHAT_MODEL"); v != "" {
		cfg.Chat.Model = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

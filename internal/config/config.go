// Package config loads and validates ragon configuration.
//
// Precedence, lowest to highest: built-in defaults, the user config file
// (~/.config/ragon/config.yaml), the collection config (.ragon.yaml in the
// collection directory), then RAGON_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete ragon configuration tree.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Query      QueryConfig      `yaml:"query" json:"query"`
	Multi      MultiConfig      `yaml:"multi" json:"multi"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ServerConfig configures the HTTP query service.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// PreloadPath is an optional collection directory loaded into the
	// resident cache at startup. Empty disables preloading.
	PreloadPath string `yaml:"preload_path" json:"preload_path"`

	// QueryTimeout bounds a single /query request end to end, including a
	// cold index build. Duration string, e.g. "300s".
	QueryTimeout string `yaml:"query_timeout" json:"query_timeout"`
}

// IndexConfig configures chunking and embedding batches at build time.
type IndexConfig struct {
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	BatchSize    int `yaml:"batch_size" json:"batch_size"`
}

// QueryConfig configures single-index retrieval.
type QueryConfig struct {
	TopK int `yaml:"top_k" json:"top_k"`
}

// MultiConfig configures the multi-shard fan-out engine.
type MultiConfig struct {
	MaxWorkers   int    `yaml:"max_workers" json:"max_workers"`
	ShardTimeout string `yaml:"shard_timeout" json:"shard_timeout"`
	KPerShard    int    `yaml:"k_per_shard" json:"k_per_shard"`
	MaxQueries   int    `yaml:"max_queries" json:"max_queries"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "ollama", "static", or "auto"
	// (probe Ollama, fall back to static).
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// CacheSize is the LRU capacity for cached text embeddings.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// LoggingConfig configures the structured log output.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`

	// File overrides the default log file location (~/.ragon/logs/ragon.log).
	File string `yaml:"file" json:"file"`
}

// Defaults mirrored by NewConfig. Exported where other packages need the
// same fallback (flag help text, request defaulting).
const (
	DefaultPort         = 1411
	DefaultTopK         = 4
	DefaultChunkSize    = 1200
	DefaultChunkOverlap = 150
	DefaultMaxWorkers   = 4
	DefaultKPerShard    = 3
	DefaultMaxQueries   = 3
	DefaultShardTimeout = 30 * time.Second
	DefaultQueryTimeout = 300 * time.Second
)

// NewConfig creates a Config with built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         DefaultPort,
			PreloadPath:  "",
			QueryTimeout: "300s",
		},
		Index: IndexConfig{
			ChunkSize:    DefaultChunkSize,
			ChunkOverlap: DefaultChunkOverlap,
			BatchSize:    32,
		},
		Query: QueryConfig{
			TopK: DefaultTopK,
		},
		Multi: MultiConfig{
			MaxWorkers:   DefaultMaxWorkers,
			ShardTimeout: "30s",
			KPerShard:    DefaultKPerShard,
			MaxQueries:   DefaultMaxQueries,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "auto",
			Model:     "nomic-embed-text",
			Endpoint:  "http://localhost:11434",
			CacheSize: 1000,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// GetUserConfigPath returns the path to the user configuration file,
// following the XDG Base Directory layout:
//   - $XDG_CONFIG_HOME/ragon/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/ragon/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ragon", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "ragon", "config.yaml")
	}
	return filepath.Join(home, ".config", "ragon", "config.yaml")
}

// Load loads configuration for a collection directory. dir may be empty
// when no collection is in play (e.g. `ragon serve` without --preload);
// the collection config step is skipped then.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if dir != "" {
		if err := cfg.loadFromDir(dir); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadWithFile is Load with an explicit config file taking the place
// of the user config lookup. Unlike the user config, the file must
// exist.
func LoadWithFile(file, dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadYAML(file); err != nil {
		return nil, err
	}
	if dir != "" {
		if err := cfg.loadFromDir(dir); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadUserConfig loads the user configuration file if it exists.
// A missing file is not an error.
func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// loadFromDir attempts to load .ragon.yaml (or .ragon.yml) from dir.
func (c *Config) loadFromDir(dir string) error {
	yamlPath := filepath.Join(dir, ".ragon.yaml")
	if fileExists(yamlPath) {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".ragon.yml")
	if fileExists(ymlPath) {
		return c.loadYAML(ymlPath)
	}

	// No collection config is fine.
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Server
	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.PreloadPath != "" {
		c.Server.PreloadPath = other.Server.PreloadPath
	}
	if other.Server.QueryTimeout != "" {
		c.Server.QueryTimeout = other.Server.QueryTimeout
	}

	// Index
	if other.Index.ChunkSize != 0 {
		c.Index.ChunkSize = other.Index.ChunkSize
	}
	if other.Index.ChunkOverlap != 0 {
		c.Index.ChunkOverlap = other.Index.ChunkOverlap
	}
	if other.Index.BatchSize != 0 {
		c.Index.BatchSize = other.Index.BatchSize
	}

	// Query
	if other.Query.TopK != 0 {
		c.Query.TopK = other.Query.TopK
	}

	// Multi
	if other.Multi.MaxWorkers != 0 {
		c.Multi.MaxWorkers = other.Multi.MaxWorkers
	}
	if other.Multi.ShardTimeout != "" {
		c.Multi.ShardTimeout = other.Multi.ShardTimeout
	}
	if other.Multi.KPerShard != 0 {
		c.Multi.KPerShard = other.Multi.KPerShard
	}
	if other.Multi.MaxQueries != 0 {
		c.Multi.MaxQueries = other.Multi.MaxQueries
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Endpoint != "" {
		c.Embeddings.Endpoint = other.Embeddings.Endpoint
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
}

// applyEnvOverrides applies RAGON_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RAGON_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("RAGON_PRELOAD"); v != "" {
		c.Server.PreloadPath = v
	}
	if v := os.Getenv("RAGON_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("RAGON_EMBED_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("RAGON_OLLAMA_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}
	if v := os.Getenv("RAGON_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// QueryTimeout returns the parsed server query timeout.
func (c *Config) QueryTimeout() time.Duration {
	return parseDuration(c.Server.QueryTimeout, DefaultQueryTimeout)
}

// ShardTimeout returns the parsed per-shard timeout for multi queries.
func (c *Config) ShardTimeout() time.Duration {
	return parseDuration(c.Multi.ShardTimeout, DefaultShardTimeout)
}

// parseDuration parses a duration string, falling back on parse failure.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.QueryTimeout != "" {
		if _, err := time.ParseDuration(c.Server.QueryTimeout); err != nil {
			return fmt.Errorf("server.query_timeout is not a duration: %q", c.Server.QueryTimeout)
		}
	}

	if c.Index.ChunkSize < 1 {
		return fmt.Errorf("index.chunk_size must be positive, got %d", c.Index.ChunkSize)
	}
	if c.Index.ChunkOverlap < 0 {
		return fmt.Errorf("index.chunk_overlap must be non-negative, got %d", c.Index.ChunkOverlap)
	}
	if c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return fmt.Errorf("index.chunk_overlap (%d) must be smaller than index.chunk_size (%d)",
			c.Index.ChunkOverlap, c.Index.ChunkSize)
	}
	if c.Index.BatchSize < 1 {
		return fmt.Errorf("index.batch_size must be at least 1, got %d", c.Index.BatchSize)
	}

	if c.Query.TopK < 1 || c.Query.TopK > 20 {
		return fmt.Errorf("query.top_k must be between 1 and 20, got %d", c.Query.TopK)
	}

	if c.Multi.MaxWorkers < 1 {
		return fmt.Errorf("multi.max_workers must be at least 1, got %d", c.Multi.MaxWorkers)
	}
	if c.Multi.KPerShard < 1 {
		return fmt.Errorf("multi.k_per_shard must be at least 1, got %d", c.Multi.KPerShard)
	}
	if c.Multi.MaxQueries < 1 {
		return fmt.Errorf("multi.max_queries must be at least 1, got %d", c.Multi.MaxQueries)
	}
	if c.Multi.ShardTimeout != "" {
		if _, err := time.ParseDuration(c.Multi.ShardTimeout); err != nil {
			return fmt.Errorf("multi.shard_timeout is not a duration: %q", c.Multi.ShardTimeout)
		}
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "", "auto", "ollama", "static":
	default:
		return fmt.Errorf("embeddings.provider must be 'auto', 'ollama', or 'static', got %s",
			c.Embeddings.Provider)
	}
	if c.Embeddings.CacheSize < 0 {
		return fmt.Errorf("embeddings.cache_size must be non-negative, got %d", c.Embeddings.CacheSize)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s",
			c.Logging.Level)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

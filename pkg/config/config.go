package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// maxListLimit mirrors the data store's row cap.
const maxListLimit = 1000

// Config holds all configuration for the exchange query engine.
// Configuration can come from a YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Engine   EngineConfig   `yaml:"engine"`
	MCP      MCPConfig      `yaml:"mcp"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"exchange"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"exchange_cases"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`

	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
	AutoMigrate    bool   `yaml:"auto_migrate" env:"AUTO_MIGRATE" env-default:"true"`
}

// RedisConfig holds the result cache backend. An empty host selects the in-process cache.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// EngineConfig tunes the query engine.
type EngineConfig struct {
	ListLimit        int           `yaml:"list_limit" env:"ENGINE_LIST_LIMIT" env-default:"50"`
	CacheTTL         time.Duration `yaml:"cache_ttl" env:"ENGINE_CACHE_TTL" env-default:"5m"`
	CacheSize        int           `yaml:"cache_size" env:"ENGINE_CACHE_SIZE" env-default:"1024"`
	ExecutionTimeout time.Duration `yaml:"execution_timeout" env:"ENGINE_EXECUTION_TIMEOUT" env-default:"10s"`

	// LearningFile is the JSON file the learning store flushes to.
	LearningFile      string        `yaml:"learning_file" env:"ENGINE_LEARNING_FILE" env-default:"data/query_learning.json"`
	FlushEvery        int           `yaml:"flush_every" env:"ENGINE_FLUSH_EVERY" env-default:"10"`
	FlushInterval     time.Duration `yaml:"flush_interval" env:"ENGINE_FLUSH_INTERVAL" env-default:"1m"`
	MaxSuccessHistory int           `yaml:"max_success_history" env:"ENGINE_MAX_SUCCESS_HISTORY" env-default:"1000"`
	MaxFailureHistory int           `yaml:"max_failure_history" env:"ENGINE_MAX_FAILURE_HISTORY" env-default:"500"`
	SuggestionLimit   int           `yaml:"suggestion_limit" env:"ENGINE_SUGGESTION_LIMIT" env-default:"5"`

	CatalogTTL time.Duration `yaml:"catalog_ttl" env:"ENGINE_CATALOG_TTL" env-default:"30m"`
	// BusinessRulesPath replaces the built-in business rules when set.
	BusinessRulesPath string `yaml:"business_rules_path" env:"ENGINE_BUSINESS_RULES_PATH" env-default:""`
}

// MCPConfig controls the MCP endpoint.
type MCPConfig struct {
	Enabled bool `yaml:"enabled" env:"MCP_ENABLED" env-default:"true"`
}

// Load reads configuration from config.yaml in the working directory with environment
// variable overrides. Without a config.yaml, only the environment and defaults apply.
func Load(version string) (*Config, error) {
	return LoadFrom("config.yaml", version)
}

// LoadFrom is Load with an explicit file path.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	e := c.Engine
	switch {
	case e.ListLimit <= 0 || e.ListLimit > maxListLimit:
		return fmt.Errorf("engine.list_limit must be between 1 and %d, got %d", maxListLimit, e.ListLimit)
	case e.CacheTTL <= 0:
		return errors.New("engine.cache_ttl must be positive")
	case e.CacheSize <= 0:
		return errors.New("engine.cache_size must be positive")
	case e.ExecutionTimeout <= 0:
		return errors.New("engine.execution_timeout must be positive")
	case e.FlushEvery <= 0:
		return errors.New("engine.flush_every must be positive")
	case e.FlushInterval <= 0:
		return errors.New("engine.flush_interval must be positive")
	case e.MaxSuccessHistory <= 0 || e.MaxFailureHistory <= 0:
		return errors.New("engine history limits must be positive")
	case e.SuggestionLimit <= 0:
		return errors.New("engine.suggestion_limit must be positive")
	case e.CatalogTTL <= 0:
		return errors.New("engine.catalog_ttl must be positive")
	}

	if e.LearningFile == "" || filepath.Base(e.LearningFile) == "." || filepath.Base(e.LearningFile) == string(filepath.Separator) {
		return fmt.Errorf("engine.learning_file %q does not name a file", e.LearningFile)
	}
	if c.Database.MaxConnections <= 0 {
		return errors.New("database.max_connections must be positive")
	}
	return nil
}

// IsLocal reports whether the server runs in the local development environment.
func (c *Config) IsLocal() bool {
	return c.Env == "local"
}

// ListenAddr is the HTTP listen address.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.BindAddr, c.Port)
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		ResolveHostForDocker(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Enabled reports whether a Redis cache is configured.
func (c *RedisConfig) Enabled() bool {
	return c.Host != ""
}

// Addr returns the Redis host:port.
func (c *RedisConfig) Addr() string {
	return net.JoinHostPort(ResolveHostForDocker(c.Host), strconv.Itoa(c.Port))
}

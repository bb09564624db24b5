// Package config loads and validates the search service configuration from
// YAML or TOML files with ${VAR} expansion and SP_* environment overrides.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Search     SearchConfig     `yaml:"search"`
	OpenSearch OpenSearchConfig `yaml:"opensearch"`
	DocCount   DocCountConfig   `yaml:"docCount"`
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// SearchConfig controls request limits, ranking and result caching.
type SearchConfig struct {
	// Entities lists the searchable entity types in display order.
	Entities     []string `yaml:"entities"`
	DefaultSize  int      `yaml:"defaultSize"`
	MaxSize      int      `yaml:"maxSize"`
	Ranker       string   `yaml:"ranker"`
	CacheEnabled bool     `yaml:"cacheEnabled"`
}

// OpenSearchConfig holds the search backend connection and query settings.
type OpenSearchConfig struct {
	Addresses        []string             `yaml:"addresses"`
	Username         string               `yaml:"username"`
	Password         string               `yaml:"password"`
	IndexPrefix      string               `yaml:"indexPrefix"`
	FacetFields      []string             `yaml:"facetFields"`
	MaxAggValues     int                  `yaml:"maxAggValues"`
	Timeout          time.Duration        `yaml:"timeout"`
	DefaultKeepAlive time.Duration        `yaml:"defaultKeepAlive"`
	CircuitBreaker   CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// CircuitBreakerConfig guards calls to the search backend.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// DocCountConfig selects where per-entity document counts come from and how
// long a snapshot is served before it is reloaded.
type DocCountConfig struct {
	Source string        `yaml:"source"`
	TTL    time.Duration `yaml:"ttl"`
	Table  string        `yaml:"table"`
}

const (
	DocCountSourceOpenSearch = "opensearch"
	DocCountSourcePostgres   = "postgres"
)

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexComplete   string `yaml:"indexComplete"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML or TOML config file (if provided), expands environment
// variable references in string values and applies SP_* overrides. Missing
// values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode parses data into a generic tree, resolves variable references and
// then decodes the resolved tree into cfg through yaml so both formats share
// the same struct tags and duration parsing.
func decode(path string, data []byte, cfg *Config) error {
	var raw map[string]any
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return err
		}
	case ".toml":
		if err := toml.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil {
			return err
		}
	default:
		return fmt.Errorf("only .toml and .yml are supported, cannot process file type %q", ext)
	}

	resolved, err := resolveEnvVariables(raw)
	if err != nil {
		return err
	}
	encoded, err := yaml.Marshal(resolved)
	if err != nil {
		return fmt.Errorf("re-encoding resolved config: %w", err)
	}
	return yaml.Unmarshal(encoded, cfg)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Search.DefaultSize <= 0 {
		return fmt.Errorf("search.defaultSize must be positive, got %d", c.Search.DefaultSize)
	}
	if c.Search.MaxSize < c.Search.DefaultSize {
		return fmt.Errorf("search.maxSize (%d) must be >= search.defaultSize (%d)", c.Search.MaxSize, c.Search.DefaultSize)
	}
	switch c.DocCount.Source {
	case DocCountSourceOpenSearch, DocCountSourcePostgres:
	default:
		return fmt.Errorf("docCount.source must be %q or %q, got %q", DocCountSourceOpenSearch, DocCountSourcePostgres, c.DocCount.Source)
	}
	if len(c.OpenSearch.Addresses) == 0 {
		return fmt.Errorf("opensearch.addresses must not be empty")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must not be empty when kafka is enabled")
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Search: SearchConfig{
			Entities: []string{
				"dataset", "dashboard", "chart", "datajob", "dataflow",
				"mlmodel", "glossaryterm", "tag", "corpuser", "corpgroup",
				"container", "domain",
			},
			DefaultSize:  10,
			MaxSize:      10000,
			Ranker:       "simple",
			CacheEnabled: true,
		},
		OpenSearch: OpenSearchConfig{
			Addresses:        []string{"http://localhost:9200"},
			FacetFields:      []string{"platform", "origin", "tags", "glossaryTerms", "domains"},
			MaxAggValues:     20,
			Timeout:          10 * time.Second,
			DefaultKeepAlive: 5 * time.Minute,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
			},
		},
		DocCount: DocCountConfig{
			Source: DocCountSourceOpenSearch,
			TTL:    time.Minute,
			Table:  "metadata_aspect_v2",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "datahub",
			User:            "datahub",
			Password:        "datahub",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "search-service",
			Topics: KafkaTopics{
				IndexComplete:   "index.complete",
				AnalyticsEvents: "search-analytics-events",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_SEARCH_RANKER"); v != "" {
		cfg.Search.Ranker = v
	}
	if v := os.Getenv("SP_SEARCH_CACHE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Search.CacheEnabled = enabled
		}
	}
	if v := os.Getenv("SP_OPENSEARCH_ADDRESSES"); v != "" {
		cfg.OpenSearch.Addresses = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_OPENSEARCH_USERNAME"); v != "" {
		cfg.OpenSearch.Username = v
	}
	if v := os.Getenv("SP_OPENSEARCH_PASSWORD"); v != "" {
		cfg.OpenSearch.Password = v
	}
	if v := os.Getenv("SP_OPENSEARCH_INDEX_PREFIX"); v != "" {
		cfg.OpenSearch.IndexPrefix = v
	}
	if v := os.Getenv("SP_DOCCOUNT_SOURCE"); v != "" {
		cfg.DocCount.Source = v
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_KAFKA_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = enabled
		}
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Package config loads and validates the engine configuration from a YAML
// file with environment-variable overrides. Every tunable the engine exposes
// (BM25 constants, fusion weights, threshold ladder, cache sizing, embedding
// provider) lives in one typed structure built once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Cache     CacheConfig     `yaml:"cache"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// EngineConfig controls scoring, fusion, and progressive retrieval.
type EngineConfig struct {
	BM25K1         float64   `yaml:"bm25K1"`
	BM25B          float64   `yaml:"bm25B"`
	WeightBM25     float64   `yaml:"weightBM25"`
	WeightVector   float64   `yaml:"weightVector"`
	Thresholds     []float64 `yaml:"thresholds"`
	DefaultK       int       `yaml:"defaultK"`
	MaxK           int       `yaml:"maxK"`
	MinResults     int       `yaml:"minResults"`
	Stopwords      []string  `yaml:"stopwords"`
	CandidateLimit int       `yaml:"candidateLimit"`
}

// CacheConfig controls the semantic result cache.
type CacheConfig struct {
	TTL                 time.Duration `yaml:"ttl"`
	MaxEntries          int           `yaml:"maxEntries"`
	SimilarityThreshold float64       `yaml:"similarityThreshold"`
}

// EmbeddingConfig controls the embedding provider.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"` // "http" or "static"
	Endpoint   string        `yaml:"endpoint"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheSize  int           `yaml:"cacheSize"`
}

// PostgresConfig holds PostgreSQL connection parameters for the durable
// document store. Disabled when Host is empty.
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

// Enabled reports whether a document store is configured.
func (p PostgresConfig) Enabled() bool {
	return p.Host != ""
}

// RedisConfig holds connection parameters for the optional exact-match
// result cache tier. Disabled when Addr is empty.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// Enabled reports whether the remote cache tier is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// KafkaConfig holds broker and topic settings for the ingestion pipeline.
// Disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentIngest string `yaml:"documentIngest"`
	IndexComplete  string `yaml:"indexComplete"`
}

// Enabled reports whether the ingestion consumer is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
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

// Load reads a YAML config file (if provided), applies environment-variable
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks field ranges that would otherwise surface as silent
// mis-ranking at query time.
func (c *Config) Validate() error {
	if c.Engine.BM25K1 < 0 {
		return fmt.Errorf("engine.bm25K1 must be >= 0, got %v", c.Engine.BM25K1)
	}
	if c.Engine.BM25B < 0 || c.Engine.BM25B > 1 {
		return fmt.Errorf("engine.bm25B must be in [0,1], got %v", c.Engine.BM25B)
	}
	if c.Engine.WeightBM25 < 0 || c.Engine.WeightVector < 0 {
		return fmt.Errorf("engine fusion weights must be >= 0")
	}
	prev := 1.0
	for i, t := range c.Engine.Thresholds {
		if t < -1 || t > 1 {
			return fmt.Errorf("engine.thresholds[%d] must be in [-1,1], got %v", i, t)
		}
		if t > prev {
			return fmt.Errorf("engine.thresholds must be descending, got %v after %v", t, prev)
		}
		prev = t
	}
	if c.Engine.MinResults < 0 {
		return fmt.Errorf("engine.minResults must be >= 0, got %d", c.Engine.MinResults)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.maxEntries must be > 0, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.SimilarityThreshold < -1 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache.similarityThreshold must be in [-1,1], got %v", c.Cache.SimilarityThreshold)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0, got %v", c.Cache.TTL)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be > 0, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.Provider == "http" && c.Embedding.Endpoint == "" {
		return fmt.Errorf("embedding.endpoint is required for the http provider")
	}
	return nil
}

// defaultConfig returns a Config with working defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Engine: EngineConfig{
			BM25K1:         1.2,
			BM25B:          0.75,
			WeightBM25:     0.7,
			WeightVector:   0.3,
			Thresholds:     []float64{0.75, 0.70, 0.65, 0.60},
			DefaultK:       10,
			MaxK:           100,
			MinResults:     3,
			CandidateLimit: 500,
		},
		Cache: CacheConfig{
			TTL:                 7200 * time.Second,
			MaxEntries:          1000,
			SimilarityThreshold: 0.85,
		},
		Embedding: EmbeddingConfig{
			Provider:   "static",
			Model:      "static-256",
			Dimensions: 256,
			Timeout:    5 * time.Second,
			CacheSize:  1000,
		},
		Postgres: PostgresConfig{
			Port:            5432,
			Database:        "retrieval",
			User:            "retrieval",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "retrieval-engine",
			Topics: KafkaTopics{
				DocumentIngest: "document-ingest",
				IndexComplete:  "index-complete",
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

// applyEnvOverrides reads RE_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RE_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("RE_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("RE_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("RE_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("RE_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("RE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RE_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("RE_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("RE_EMBEDDING_ENDPOINT"); v != "" {
		cfg.Embedding.Endpoint = v
	}
	if v := os.Getenv("RE_EMBEDDING_DIMENSIONS"); v != "" {
		if dims, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.Dimensions = dims
		}
	}
	if v := os.Getenv("RE_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RE_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Qdrant     QdrantConfig     `mapstructure:"qdrant"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres or sqlite
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	Path            string        `mapstructure:"path"` // sqlite file path
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type QdrantConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Collection         string `mapstructure:"collection"`
	APIKey             string `mapstructure:"api_key"`
	UseTLS             bool   `mapstructure:"use_tls"`
	UpsertBatchSize    int    `mapstructure:"upsert_batch_size"`
	MaxParallelBatches int    `mapstructure:"max_parallel_batches"`
}

type EmbeddingConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	Dimensions        int           `mapstructure:"dimensions"`
	BatchSize         int           `mapstructure:"batch_size"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	TokensPerMinute   int           `mapstructure:"tokens_per_minute"`
}

type SyncConfig struct {
	BatchSize        int           `mapstructure:"batch_size"`
	InterBatchDelay  time.Duration `mapstructure:"inter_batch_delay"`
	ProgressEvery    int           `mapstructure:"progress_every"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	Strategy   string        `mapstructure:"strategy"`
}

type QueueConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	Name         string        `mapstructure:"name"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type CheckpointConfig struct {
	File string `mapstructure:"file"`
}

type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "catalog")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "./data/catalog.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.command_timeout", 30*time.Second)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "products")
	v.SetDefault("qdrant.upsert_batch_size", 100)
	v.SetDefault("qdrant.max_parallel_batches", 3)
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-large")
	v.SetDefault("embedding.dimensions", 3072)
	v.SetDefault("embedding.batch_size", 100)
	v.SetDefault("embedding.max_retries", 3)
	v.SetDefault("embedding.base_delay", time.Second)
	v.SetDefault("embedding.max_delay", time.Minute)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.requests_per_minute", 5000)
	v.SetDefault("embedding.tokens_per_minute", 2000000)
	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.inter_batch_delay", 500*time.Millisecond)
	v.SetDefault("sync.progress_every", 5)
	v.SetDefault("sync.operation_timeout", time.Minute)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", time.Minute)
	v.SetDefault("retry.strategy", "exponential")
	v.SetDefault("queue.addr", "localhost:6379")
	v.SetDefault("queue.db", 0)
	v.SetDefault("queue.name", "catalog:jobs")
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("checkpoint.file", "./data/sync_checkpoint.json")
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.region", "auto")
	v.SetDefault("archive.bucket", "catsync-archive")

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.host", "POSTGRES_HOST")
	v.BindEnv("database.port", "POSTGRES_PORT")
	v.BindEnv("database.name", "POSTGRES_DB")
	v.BindEnv("database.user", "POSTGRES_USER")
	v.BindEnv("database.password", "POSTGRES_PASSWORD")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("embedding.api_key", "OPENAI_API_KEY")
	v.BindEnv("embedding.base_url", "OPENAI_BASE_URL")
	v.BindEnv("queue.addr", "REDIS_ADDR")
	v.BindEnv("queue.password", "REDIS_PASSWORD")
	v.BindEnv("archive.endpoint", "ARCHIVE_ENDPOINT")
	v.BindEnv("archive.access_key", "ARCHIVE_ACCESS_KEY")
	v.BindEnv("archive.secret_key", "ARCHIVE_SECRET_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Package config provides configuration management for the paper aggregator service.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/helixir/paper-aggregator-service/internal/domain"
)

// EnvPrefix is the prefix for every environment variable read by the service.
const EnvPrefix = "PAPERAGG"

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Store driver constants.
const (
	// StoreDriverPostgres stores papers in PostgreSQL.
	StoreDriverPostgres = "postgres"
	// StoreDriverMongo stores papers in a MongoDB collection.
	StoreDriverMongo = "mongo"
)

// Config holds all configuration for the paper aggregator service.
type Config struct {
	// Server contains admin HTTP/gRPC server settings.
	Server ServerConfig `mapstructure:"server"`
	// Store selects the record store backend.
	Store StoreConfig `mapstructure:"store"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Mongo contains MongoDB connection settings.
	Mongo MongoConfig `mapstructure:"mongo"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Kafka contains the sync-completed event publisher settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Sources contains the provider API configurations.
	Sources SourcesConfig `mapstructure:"sources"`
	// Ingestion contains pagination caps.
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	// Scheduler contains recurring sync settings.
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	// Admin contains admin endpoint settings.
	Admin AdminConfig `mapstructure:"admin"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the admin HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// GRPCPort is the gRPC health server port (default: 9090).
	GRPCPort int `mapstructure:"grpc_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response. A backfill
	// runs inside the request, so this is long by default.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the record store.
type StoreConfig struct {
	// Driver is postgres or mongo.
	Driver string `mapstructure:"driver"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (loaded from PAPERAGG_DATABASE_PASSWORD only).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 10).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 2).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// MongoConfig holds MongoDB settings.
type MongoConfig struct {
	// URI is the connection string (loaded from PAPERAGG_MONGO_URI or MONGODB_URI only).
	URI string `mapstructure:"-"`
	// Database is the database name.
	Database string `mapstructure:"database"`
	// Collection is the papers collection name.
	Collection string `mapstructure:"collection"`
	// ConnectTimeout bounds the initial connect and ping.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// KafkaConfig holds the event publisher settings.
type KafkaConfig struct {
	// Enabled controls whether sync events are published.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic receives sync-completed events.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// WriteTimeout bounds a single publish.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// SourcesConfig holds configuration for both providers.
type SourcesConfig struct {
	// ArXiv contains the preprint feed settings.
	ArXiv ArXivConfig `mapstructure:"arxiv"`
	// Scholar contains the SerpAPI Google Scholar settings.
	Scholar ScholarConfig `mapstructure:"scholar"`
}

// ArXivConfig holds arXiv adapter settings.
type ArXivConfig struct {
	// Enabled controls whether this source is used.
	Enabled bool `mapstructure:"enabled"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// Categories are fetched in order, one task each.
	Categories []string `mapstructure:"categories"`
	// IncrementalPageSize is the page size of the recurring sync.
	IncrementalPageSize int `mapstructure:"incremental_page_size"`
	// HistoricalPageSize is the page size of the backfill.
	HistoricalPageSize int `mapstructure:"historical_page_size"`
	// MinDelay is the minimum spacing between two requests.
	MinDelay time.Duration `mapstructure:"min_delay"`
}

// ScholarConfig holds SerpAPI adapter settings.
type ScholarConfig struct {
	// Enabled controls whether this source is used.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the SerpAPI key (loaded from PAPERAGG_SOURCES_SCHOLAR_API_KEY or SERPAPI_API_KEY only).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// PageSize is the number of results requested per page.
	PageSize int `mapstructure:"page_size"`
	// HistoricalQueries are searched by the backfill.
	HistoricalQueries []string `mapstructure:"historical_queries"`
	// IncrementalQueries are searched on every sync.
	IncrementalQueries []string `mapstructure:"incremental_queries"`
	// MinDelay is the minimum spacing between two requests.
	MinDelay time.Duration `mapstructure:"min_delay"`

	// explicit is set when enabled was given by a config file or the environment.
	explicit bool
}

// IngestionConfig holds per provider page caps. Zero means uncapped.
type IngestionConfig struct {
	ArXivIncrementalMaxPages   int `mapstructure:"arxiv_incremental_max_pages"`
	ArXivHistoricalMaxPages    int `mapstructure:"arxiv_historical_max_pages"`
	ScholarIncrementalMaxPages int `mapstructure:"scholar_incremental_max_pages"`
	ScholarHistoricalMaxPages  int `mapstructure:"scholar_historical_max_pages"`
}

// SchedulerConfig holds recurring sync settings.
type SchedulerConfig struct {
	// Enabled registers the recurring incremental sync.
	Enabled bool `mapstructure:"enabled"`
	// Interval between incremental syncs (default: 6h).
	Interval time.Duration `mapstructure:"interval"`
	// RunOnStart triggers one incremental sync when the scheduler starts and
	// no backfill was needed.
	RunOnStart bool `mapstructure:"run_on_start"`
	// BackfillOnEmpty runs the historical backfill at startup when the store is empty.
	BackfillOnEmpty bool `mapstructure:"backfill_on_empty"`
	// DistributedLock uses a PostgreSQL advisory lock instead of an in-process one.
	DistributedLock bool `mapstructure:"distributed_lock"`
	// LockKey is the advisory lock key.
	LockKey int64 `mapstructure:"lock_key"`
}

// AdminConfig holds admin endpoint settings.
type AdminConfig struct {
	// Token guards the admin endpoints when set (loaded from PAPERAGG_ADMIN_TOKEN only).
	Token string `mapstructure:"-"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// GRPCAddress returns the gRPC server address.
func (c *ServerConfig) GRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.GRPCPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from a .env file, environment variables and config files.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/paper-aggregator-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, domain.NewConfigurationError("config_file", "failed to read config file", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, domain.NewConfigurationError("config", "failed to unmarshal config", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)
	cfg.Sources.Scholar.explicit = v.InConfig("sources.scholar.enabled") || envSet(EnvPrefix+"_SOURCES_SCHOLAR_ENABLED")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv loads a .env file from the working directory when one exists.
// Variables already present in the environment win.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.NewConfigurationError(".env", "failed to load .env file", err)
	}
	return nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.Database.Password = os.Getenv(EnvPrefix + "_DATABASE_PASSWORD")
	cfg.Mongo.URI = firstEnv(EnvPrefix+"_MONGO_URI", "MONGODB_URI")
	cfg.Sources.Scholar.APIKey = firstEnv(EnvPrefix+"_SOURCES_SCHOLAR_API_KEY", "SERPAPI_API_KEY")
	cfg.Admin.Token = os.Getenv(EnvPrefix + "_ADMIN_TOKEN")
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "2h")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("store.driver", StoreDriverPostgres)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "paperagg")
	v.SetDefault("database.name", "paper_aggregator")
	// Default to "require" for production security. Use PAPERAGG_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Mongo defaults
	v.SetDefault("mongo.database", "paper_aggregator")
	v.SetDefault("mongo.collection", "papers")
	v.SetDefault("mongo.connect_timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "paper_aggregator")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.papers.sync")
	v.SetDefault("kafka.batch_size", 1)
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.write_timeout", "10s")

	// arXiv defaults
	v.SetDefault("sources.arxiv.enabled", true)
	v.SetDefault("sources.arxiv.base_url", "https://export.arxiv.org/api")
	v.SetDefault("sources.arxiv.timeout", "30s")
	v.SetDefault("sources.arxiv.categories", []string{"cs.AI", "cs.CL", "cs.CV", "cs.LG", "cs.IR", "stat.ML"})
	v.SetDefault("sources.arxiv.incremental_page_size", 10)
	v.SetDefault("sources.arxiv.historical_page_size", 100)
	v.SetDefault("sources.arxiv.min_delay", "3s")

	// Google Scholar defaults. The API key is loaded from the environment (see loadSecrets).
	v.SetDefault("sources.scholar.enabled", true)
	v.SetDefault("sources.scholar.base_url", "https://serpapi.com")
	v.SetDefault("sources.scholar.timeout", "30s")
	v.SetDefault("sources.scholar.page_size", 20)
	v.SetDefault("sources.scholar.historical_queries", []string{})
	v.SetDefault("sources.scholar.incremental_queries", []string{})
	v.SetDefault("sources.scholar.min_delay", "2s")

	// Page caps
	v.SetDefault("ingestion.arxiv_incremental_max_pages", 1)
	v.SetDefault("ingestion.arxiv_historical_max_pages", 0)
	v.SetDefault("ingestion.scholar_incremental_max_pages", 10)
	v.SetDefault("ingestion.scholar_historical_max_pages", 10)

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "6h")
	v.SetDefault("scheduler.run_on_start", true)
	v.SetDefault("scheduler.backfill_on_empty", true)
	v.SetDefault("scheduler.distributed_lock", false)
	v.SetDefault("scheduler.lock_key", 7426001)
}

// Validate validates the configuration. Every failure is a *domain.ConfigurationError.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return domain.NewConfigurationError("server.http_port", fmt.Sprintf("invalid HTTP port: %d", c.Server.HTTPPort), nil)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return domain.NewConfigurationError("server.grpc_port", fmt.Sprintf("invalid gRPC port: %d", c.Server.GRPCPort), nil)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return domain.NewConfigurationError("server.metrics_port", fmt.Sprintf("invalid metrics port: %d", c.Server.MetricsPort), nil)
	}

	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Database.Host == "" {
			return domain.NewConfigurationError("database.host", "database host is required", nil)
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return domain.NewConfigurationError("database.port", fmt.Sprintf("invalid database port: %d", c.Database.Port), nil)
		}
		if c.Database.Name == "" {
			return domain.NewConfigurationError("database.name", "database name is required", nil)
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return domain.NewConfigurationError("database.max_conns",
				fmt.Sprintf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns), nil)
		}
	case StoreDriverMongo:
		if c.Mongo.URI == "" {
			return domain.NewConfigurationError("mongo.uri", "mongo driver requires PAPERAGG_MONGO_URI to be set", nil)
		}
		if c.Mongo.Database == "" || c.Mongo.Collection == "" {
			return domain.NewConfigurationError("mongo.database", "mongo database and collection are required", nil)
		}
		if c.Scheduler.DistributedLock {
			return domain.NewConfigurationError("scheduler.distributed_lock", "distributed lock requires the postgres store", nil)
		}
	default:
		return domain.NewConfigurationError("store.driver", fmt.Sprintf("unknown store driver: %q", c.Store.Driver), nil)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return domain.NewConfigurationError("logging.level", fmt.Sprintf("invalid log level: %s", c.Logging.Level), nil)
	}

	if c.Sources.ArXiv.Enabled && len(c.Sources.ArXiv.Categories) == 0 {
		return domain.NewConfigurationError("sources.arxiv.categories", "at least one arXiv category is required", nil)
	}
	if c.Sources.ArXiv.MinDelay < 0 || c.Sources.Scholar.MinDelay < 0 {
		return domain.NewConfigurationError("sources.min_delay", "min_delay must not be negative", nil)
	}
	// The scholar provider is enabled by default and silently skipped without a
	// key. Asking for it explicitly without one is a startup error.
	if c.Sources.Scholar.Enabled && c.Sources.Scholar.APIKey == "" && c.Sources.Scholar.explicit {
		return domain.NewConfigurationError("sources.scholar.api_key",
			"scholar provider is enabled but PAPERAGG_SOURCES_SCHOLAR_API_KEY is not set", nil)
	}

	caps := []int{
		c.Ingestion.ArXivIncrementalMaxPages, c.Ingestion.ArXivHistoricalMaxPages,
		c.Ingestion.ScholarIncrementalMaxPages, c.Ingestion.ScholarHistoricalMaxPages,
	}
	for _, n := range caps {
		if n < 0 {
			return domain.NewConfigurationError("ingestion", "page caps must not be negative", nil)
		}
	}

	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return domain.NewConfigurationError("scheduler.interval", "scheduler interval must be positive", nil)
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return domain.NewConfigurationError("kafka.brokers", "kafka brokers are required when kafka is enabled", nil)
		}
		if c.Kafka.Topic == "" {
			return domain.NewConfigurationError("kafka.topic", "kafka topic is required when kafka is enabled", nil)
		}
	}

	return nil
}

func envSet(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"inventory-analytics-service/internal/logging"
)

// Config holds the application's configuration values.
// Tags like `envconfig:"APP_PORT"` specify the environment variable name.
// `default:""` provides a default value if the env var is not set.
type Config struct {
	AppEnv string `envconfig:"APP_ENV" default:"development" validate:"oneof=development staging production test"`
	Log    LogConfig
	// HealthCheckInterval is how often the store is checked for the gRPC
	// health status and the analytics_store_up gauge.
	HealthCheckInterval time.Duration `envconfig:"HEALTH_CHECK_INTERVAL" default:"30s" validate:"gt=0"`

	HttpServer ServerConfig
	GrpcServer GrpcServerConfig
	Store      StoreConfig
	Mongo      MongoConfig
	Postgres   PostgresConfig
	Feed       FeedConfig
	CORS       CORSConfig
	RateLimit  RateLimitConfig
	Breaker    BreakerConfig
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn error"`
	Format string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json console"`
	Caller bool   `envconfig:"LOG_CALLER" default:"false"`
}

// ServerConfig holds HTTP server-specific configurations.
type ServerConfig struct {
	Port            string        `envconfig:"HTTP_SERVER_PORT" default:"8000" validate:"required,numeric"`
	TimeoutRead     time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_READ" default:"15s"`
	TimeoutWrite    time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_WRITE" default:"5m"` // large feeds stream for a while
	TimeoutIdle     time.Duration `envconfig:"HTTP_SERVER_TIMEOUT_IDLE" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// GrpcServerConfig holds gRPC server-specific configurations.
type GrpcServerConfig struct {
	Port string `envconfig:"GRPC_SERVER_PORT" default:"9090" validate:"required,numeric"`
}

// StoreConfig selects the backend.
type StoreConfig struct {
	Driver string `envconfig:"STORE_DRIVER" default:"mongo" validate:"oneof=mongo postgres"`
	// QueryTimeout bounds each catalog read; zero leaves it to the driver.
	QueryTimeout time.Duration `envconfig:"STORE_QUERY_TIMEOUT" default:"0s"`
}

// MongoConfig holds MongoDB connection details.
type MongoConfig struct {
	URI                    string        `envconfig:"MONGO_URI"`
	Database               string        `envconfig:"MONGO_DB" default:"inventory_demo" validate:"required"`
	ConnectTimeout         time.Duration `envconfig:"MONGO_CONNECT_TIMEOUT" default:"10s"`
	ServerSelectionTimeout time.Duration `envconfig:"MONGO_SERVER_SELECTION_TIMEOUT" default:"10s"`
	MaxPoolSize            uint64        `envconfig:"MONGO_MAX_POOL_SIZE" default:"100"`
}

// PostgresConfig holds PostgreSQL database connection details.
type PostgresConfig struct {
	Host            string        `envconfig:"POSTGRES_HOST"`
	Port            string        `envconfig:"POSTGRES_PORT" default:"5432"`
	User            string        `envconfig:"POSTGRES_USER"`
	Password        string        `envconfig:"POSTGRES_PASSWORD"`
	DBName          string        `envconfig:"POSTGRES_DBNAME"`
	SSLMode         string        `envconfig:"POSTGRES_SSLMODE" default:"disable" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxOpenConns    int           `envconfig:"POSTGRES_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"POSTGRES_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"POSTGRES_CONN_MAX_LIFETIME" default:"30m"`
	ConnectTimeout  time.Duration `envconfig:"POSTGRES_CONNECT_TIMEOUT" default:"10s"`
}

// DSN constructs the Data Source Name string for connecting to PostgreSQL.
func (pc *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		pc.Host, pc.Port, pc.User, pc.Password, pc.DBName, pc.SSLMode)
}

// FeedConfig holds the feed query defaults.
type FeedConfig struct {
	DefaultStart string `envconfig:"FEED_DEFAULT_START" default:"2024-01-01" validate:"datetime=2006-01-02"`
	DefaultEnd   string `envconfig:"FEED_DEFAULT_END" default:"2024-03-31" validate:"datetime=2006-01-02"`
	// MaxLimit rejects larger limit parameters; zero means no cap.
	MaxLimit int `envconfig:"FEED_MAX_LIMIT" default:"0" validate:"gte=0"`
}

// CORSConfig lists the origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// RateLimitConfig configures per-client request limiting.
type RateLimitConfig struct {
	Enabled  bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	Requests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"120" validate:"gt=0"`
	Window   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m" validate:"gt=0"`
}

// BreakerConfig configures the store circuit breaker.
type BreakerConfig struct {
	Enabled      bool          `envconfig:"BREAKER_ENABLED" default:"true"`
	MaxRequests  uint32        `envconfig:"BREAKER_MAX_REQUESTS" default:"1"`
	Interval     time.Duration `envconfig:"BREAKER_INTERVAL" default:"60s"`
	Timeout      time.Duration `envconfig:"BREAKER_TIMEOUT" default:"30s"`
	MinRequests  uint32        `envconfig:"BREAKER_MIN_REQUESTS" default:"5"`
	FailureRatio float64       `envconfig:"BREAKER_FAILURE_RATIO" default:"0.6" validate:"gt=0,lte=1"`
}

// LoadEnvFile loads a dotenv file into the process environment without
// overriding variables that are already set. ENV_FILE names the file
// explicitly; otherwise ENVIRONMENT=staging selects .env.staging, and .env is
// the fallback. It returns the file that was loaded, or "" if none existed.
func LoadEnvFile() (string, error) {
	candidates := make([]string, 0, 3)
	if f := os.Getenv("ENV_FILE"); f != "" {
		candidates = append(candidates, f)
	}
	if strings.EqualFold(os.Getenv("ENVIRONMENT"), "staging") {
		candidates = append(candidates, ".env.staging")
	}
	candidates = append(candidates, ".env")

	for _, f := range candidates {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return "", fmt.Errorf("failed to load env file %s: %w", f, err)
		}
		return f, nil
	}
	return "", nil
}

// Load initializes the configuration from the environment (after loading
// the dotenv file, if any) and validates it.
func Load() (*Config, error) {
	logging.Info().Msg("Loading service configuration...")
	file, err := LoadEnvFile()
	if err != nil {
		return nil, err
	}
	if file != "" {
		logging.Info().Str("file", file).Msg("Loaded environment file")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Avoid logging credentials such as MONGO_URI or the Postgres DSN.
	logging.Info().
		Str("app_env", cfg.AppEnv).
		Str("store_driver", cfg.Store.Driver).
		Msg("Configuration loaded successfully")
	return &cfg, nil
}

// Validate checks field formats and the settings the chosen driver needs.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	var missing []string
	switch c.Store.Driver {
	case "mongo":
		if c.Mongo.URI == "" {
			missing = append(missing, "MONGO_URI")
		}
	case "postgres":
		if c.Postgres.Host == "" {
			missing = append(missing, "POSTGRES_HOST")
		}
		if c.Postgres.User == "" {
			missing = append(missing, "POSTGRES_USER")
		}
		if c.Postgres.DBName == "" {
			missing = append(missing, "POSTGRES_DBNAME")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid configuration: %s required for STORE_DRIVER=%s", strings.Join(missing, ", "), c.Store.Driver)
	}
	if c.Feed.DefaultStart > c.Feed.DefaultEnd {
		return errors.New("invalid configuration: FEED_DEFAULT_START is after FEED_DEFAULT_END")
	}
	return nil
}

// DatabaseName is the name of the database the configured driver reads.
// ConnectTimeout bounds the startup connection to the selected driver. Zero
// means no bound beyond the driver's own defaults.
func (c *Config) ConnectTimeout() time.Duration {
	if c.Store.Driver == "postgres" {
		return c.Postgres.ConnectTimeout
	}
	return c.Mongo.ConnectTimeout + c.Mongo.ServerSelectionTimeout
}

func (c *Config) DatabaseName() string {
	if c.Store.Driver == "postgres" {
		return c.Postgres.DBName
	}
	return c.Mongo.Database
}

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/retry"
)

type Config struct {
	Server    ServerConfig
	Processor ProcessorConfig
	Scheduler SchedulerConfig
	Importer  ImporterConfig
	Catalog   CatalogConfig
	Redis     RedisConfig
	DB        DBConfig
	Cache     CacheConfig
	Kafka     KafkaConfig
	Retry     RetryConfig
	Log       LogConfig
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"SERVER_ADDR" env-default:"8080" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"15s"`
	MaxUploadSize   int64         `yaml:"max_upload_size" env:"SERVER_MAX_UPLOAD_SIZE" env-default:"33554432" validate:"gt=0"`
}

// ProcessorConfig describes the external thumbnail service. OutputDir is
// only read by the reference processor binary.
type ProcessorConfig struct {
	Host            string        `yaml:"host" env:"IMAGE_PROCESSOR_SERVICE" env-default:"imageprocessor" validate:"required"`
	Port            int           `yaml:"port" env:"IMAGE_PROCESSOR_SERVICE_PORT" env-default:"80" validate:"min=1,max=65535"`
	JobPath         string        `yaml:"job_path" env:"IMAGE_PROCESSOR_JOB_PATH" env-default:"/job" validate:"startswith=/"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"IMAGE_PROCESSOR_TIMEOUT" env-default:"0s" validate:"gte=0"`
	RetryAttempts   int           `yaml:"retry_attempts" env:"PROCESSOR_RETRY_ATTEMPTS" env-default:"1" validate:"min=1"`
	FailureCooldown time.Duration `yaml:"failure_cooldown" env:"PROCESSOR_FAILURE_COOLDOWN" env-default:"30s" validate:"gte=0"`
	OutputDir       string        `yaml:"output_dir" env:"PROCESSOR_OUTPUT_DIR" env-default:"/thumbnails"`
	ListenAddr      string        `yaml:"listen_addr" env:"PROCESSOR_LISTEN_ADDR" env-default:"80"`
}

// SchedulerConfig bounds the worker pool. Zero values are replaced by
// CPU-derived defaults in applyDefaults.
type SchedulerConfig struct {
	MaxThreads int `yaml:"max_threads" env:"MAX_IMAGE_THREADS" env-default:"0" validate:"gte=0"`
	MaxQueue   int `yaml:"max_queue" env:"MAX_IMAGE_QUEUE" env-default:"0" validate:"gte=0"`
}

type ImporterConfig struct {
	Interval  time.Duration `yaml:"interval" env:"IMPORT_INTERVAL" env-default:"500ms" validate:"gt=0"`
	Timeout   time.Duration `yaml:"timeout" env:"IMPORT_TIMEOUT" env-default:"5s" validate:"gt=0"`
	BatchSize int           `yaml:"batch_size" env:"IMPORT_BATCH_SIZE" env-default:"0" validate:"gte=0"`
}

type CatalogConfig struct {
	ImagesPath     string        `yaml:"images_path" env:"IMAGES_PATH" env-default:"/images" validate:"required"`
	DefaultFormat  string        `yaml:"default_format" env:"IMAGES_DEFAULT_FORMAT" env-default:"jpg" validate:"required,alphanum"`
	ScanCount      int64         `yaml:"scan_count" env:"CATALOG_SCAN_COUNT" env-default:"100" validate:"gt=0"`
	ReportInterval time.Duration `yaml:"report_interval" env:"CATALOG_REPORT_INTERVAL" env-default:"5s" validate:"gt=0"`
}

type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"localhost" validate:"required"`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379" validate:"min=1,max=65535"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0" validate:"gte=0"`
}

type DBConfig struct {
	Host            string        `yaml:"host" env:"PG_HOST" env-default:"localhost" validate:"required"`
	Port            int           `yaml:"port" env:"PG_PORT" env-default:"5432" validate:"min=1,max=65535"`
	User            string        `yaml:"user" env:"PG_USER" env-default:"imagestore" validate:"required"`
	Password        string        `yaml:"password" env:"PG_PASSWORD"`
	PasswordFile    string        `yaml:"password_file" env:"PG_PASSWORD_FILE" env-default:"/mnt/creds/pgpassword"`
	Name            string        `yaml:"name" env:"PG_DATABASE" env-default:"imagestore" validate:"required"`
	SSLMode         string        `yaml:"ssl_mode" env:"PG_SSLMODE" env-default:"disable" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_CONNECTION_POOL" env-default:"10" validate:"gt=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"PG_MAX_IDLE_CONNS" env-default:"5" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"PG_CONN_MAX_LIFETIME" env-default:"30m"`
}

type CacheConfig struct {
	TTL time.Duration `yaml:"ttl" env:"CACHE_TTL" env-default:"60s" validate:"gt=0"`
}

// KafkaConfig enables photo-created events when Brokers is non-empty.
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	PhotosTopic string   `yaml:"photos_topic" env:"KAFKA_PHOTOS_TOPIC" env-default:"photos.created"`
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts" env:"RETRY_ATTEMPTS" env-default:"3" validate:"min=1"`
	Delay    time.Duration `yaml:"delay" env:"RETRY_DELAY" env-default:"200ms"`
	Backoff  float64       `yaml:"backoff" env:"RETRY_BACKOFF" env-default:"2" validate:"gte=1"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info" validate:"oneof=trace debug info warn error"`
}

var ErrPasswordFile = errors.New("failed to read database password file")

// MustLoad reads the configuration from CONFIG_PATH (YAML, overridable by
// environment) or from the environment alone, then validates it.
func MustLoad() (*Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from environment: %w", err)
	}

	applyDefaults(&cfg, runtime.NumCPU())

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyDefaults fills the values that depend on the host: keep two cores
// free when there are more than three, and allow five queued jobs per thread
// with a floor of twenty.
func applyDefaults(cfg *Config, cpus int) {
	if cfg.Scheduler.MaxThreads == 0 {
		cfg.Scheduler.MaxThreads = max(cpus-2, 1)
	}
	if cfg.Scheduler.MaxQueue == 0 {
		cfg.Scheduler.MaxQueue = max(cpus-2, 4) * 5
	}
	if cfg.Importer.BatchSize == 0 {
		cfg.Importer.BatchSize = cfg.Scheduler.MaxQueue
	}
}

// DBPassword returns the inline password or, when it is empty, the trimmed
// content of PasswordFile.
func (c *Config) DBPassword() (string, error) {
	if c.DB.Password != "" || c.DB.PasswordFile == "" {
		return c.DB.Password, nil
	}
	data, err := os.ReadFile(c.DB.PasswordFile)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrPasswordFile, c.DB.PasswordFile, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (c *Config) DBDSN(password string) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DB.User, password),
		Host:     net.JoinHostPort(c.DB.Host, strconv.Itoa(c.DB.Port)),
		Path:     c.DB.Name,
		RawQuery: "sslmode=" + c.DB.SSLMode,
	}
	return u.String()
}

func (c *Config) RedisAddr() string {
	return net.JoinHostPort(c.Redis.Host, strconv.Itoa(c.Redis.Port))
}

func (c *Config) ProcessorURL() string {
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(c.Processor.Host, strconv.Itoa(c.Processor.Port)),
		Path:   c.Processor.JobPath,
	}
	return u.String()
}

func (c *Config) DefaultRetryStrategy() retry.Strategy {
	return retry.Strategy{
		Attempts: c.Retry.Attempts,
		Delay:    c.Retry.Delay,
		Backoff:  c.Retry.Backoff,
	}
}

// ProcessorRetryStrategy only retries transport failures; Attempts of 1
// means a single request.
func (c *Config) ProcessorRetryStrategy() retry.Strategy {
	return retry.Strategy{
		Attempts: c.Processor.RetryAttempts,
		Delay:    c.Retry.Delay,
		Backoff:  c.Retry.Backoff,
	}
}

// LogLevel maps Log.Level onto zerolog, falling back to info.
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || c.Log.Level == "" {
		return zerolog.InfoLevel
	}
	return level
}

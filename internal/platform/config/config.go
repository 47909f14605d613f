package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Webhooks  WebhooksConfig  `mapstructure:"webhooks"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

// RedisConfig is optional. An empty URL disables async ingestion.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

type RateLimitConfig struct {
	APIReadPerMinute  int `mapstructure:"api_read_per_minute"`
	APIWritePerMinute int `mapstructure:"api_write_per_minute"`
	EventsPerMinute   int `mapstructure:"events_per_minute"`
}

type WebhooksConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseBackoff       time.Duration `mapstructure:"base_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	ResponseBodyLimit int           `mapstructure:"response_body_limit"`
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	RetryClientErrors bool          `mapstructure:"retry_client_errors"`
	UserAgent         string        `mapstructure:"user_agent"`
}

type SecretsConfig struct {
	MasterKey string `mapstructure:"master_key"`
}

type WorkerConfig struct {
	QueueKey     string        `mapstructure:"queue_key"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	ResultTTL    time.Duration `mapstructure:"result_ttl"`
	RequeueDelay time.Duration `mapstructure:"requeue_delay"`
	Concurrency  int           `mapstructure:"concurrency"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 45*time.Second)

	v.SetDefault("database.path", "data/hookline.db")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("jwt.access_token_ttl", time.Hour)

	v.SetDefault("rate_limit.api_read_per_minute", 1000)
	v.SetDefault("rate_limit.api_write_per_minute", 100)
	v.SetDefault("rate_limit.events_per_minute", 6000)

	v.SetDefault("webhooks.timeout", 30*time.Second)
	v.SetDefault("webhooks.max_attempts", 3)
	v.SetDefault("webhooks.base_backoff", time.Second)
	v.SetDefault("webhooks.max_backoff", 5*time.Minute)
	v.SetDefault("webhooks.response_body_limit", 1000)
	v.SetDefault("webhooks.max_concurrency", 32)
	v.SetDefault("webhooks.retry_client_errors", false)
	v.SetDefault("webhooks.user_agent", "hookline-webhooks/1.0")

	v.SetDefault("worker.queue_key", "hookline:events")
	v.SetDefault("worker.poll_timeout", 5*time.Second)
	v.SetDefault("worker.result_ttl", 24*time.Hour)
	v.SetDefault("worker.requeue_delay", 10*time.Second)
	v.SetDefault("worker.concurrency", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Load reads the YAML file at path (when present) and overlays environment
// variables, e.g. WEBHOOKS_MAX_ATTEMPTS overrides webhooks.max_attempts.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

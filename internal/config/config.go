package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone = "UTC"
	configPathEnv   = "ARTICLES_PIPELINE_CONFIG"
)

// Storage backends for the remote tier.
const (
	BackendMemory = "memory"
	BackendS3     = "s3"
	BackendSQL    = "sql"
	BackendRedis  = "redis"
)

// Analyzer providers.
const (
	ProviderHTTP   = "http"
	ProviderOpenAI = "openai"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Storage       StorageConfig      `yaml:"storage"`
	Registry      RegistryConfig     `yaml:"registry"`
	Reconcile     ReconcileConfig    `yaml:"reconcile"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Sites         []SiteConfig       `yaml:"sites"`
	ML            MLConfig           `yaml:"ml"`
	Notifications NotificationConfig `yaml:"notifications"`
	Kafka         KafkaConfig        `yaml:"kafka"`
	HTTP          HTTPConfig         `yaml:"http"`
	Telemetry     TelemetryConfig    `yaml:"telemetry"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig picks the remote tier and configures the local one.
type StorageConfig struct {
	Backend string      `yaml:"backend"`
	Local   LocalConfig `yaml:"local"`
	S3      S3Config    `yaml:"s3"`
	SQL     SQLConfig   `yaml:"sql"`
	Redis   RedisConfig `yaml:"redis"`
}

// LocalConfig is the on-disk cache. An empty root disables the local tier.
type LocalConfig struct {
	Root string `yaml:"root"`
}

// S3Config addresses the bucket holding JSON documents.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Profile      string `yaml:"profile"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"usePathStyle"`
}

// SQLConfig is a database/sql driver name and DSN.
type SQLConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig addresses the Redis document store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// RegistryConfig bounds the startup scan of the local tier.
type RegistryConfig struct {
	MaxAgeDays int `yaml:"maxAgeDays"`
}

// MaxAge converts MaxAgeDays; zero means no limit.
func (r RegistryConfig) MaxAge() time.Duration {
	if r.MaxAgeDays <= 0 {
		return 0
	}
	return time.Duration(r.MaxAgeDays) * 24 * time.Hour
}

// ReconcileConfig tunes the dual-tier merge.
type ReconcileConfig struct {
	Tolerance        time.Duration `yaml:"tolerance"`
	IncompletePolicy string        `yaml:"incompletePolicy"`
}

// SchedulerConfig defines when ingestion and the digest run.
type SchedulerConfig struct {
	Enabled        bool           `yaml:"enabled"`
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	return time.UTC
}

// SiteConfig describes a single site with its scanner strategy.
type SiteConfig struct {
	Name       string            `yaml:"name"`
	Scanner    string            `yaml:"scanner"`
	Categories []CategoryConfig  `yaml:"categories"`
	Options    map[string]string `yaml:"options"`
}

// CategoryConfig holds the concrete endpoints to crawl (feed URLs, arxiv category lists).
type CategoryConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// MLConfig selects and configures the scoring collaborator.
type MLConfig struct {
	Provider     string `yaml:"provider"`
	InferenceURL string `yaml:"inferenceUrl"`
	APIKey       string `yaml:"apiKey"`
	BaseURL      string `yaml:"baseUrl"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"systemPrompt"`
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram    TelegramConfig `yaml:"telegram"`
	DigestLimit int            `yaml:"digestLimit"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Enabled reports whether both token and chat are set.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// KafkaConfig enables lifecycle events and the collected-article intake.
type KafkaConfig struct {
	Brokers        []string `yaml:"brokers"`
	ClientID       string   `yaml:"clientId"`
	EventsTopic    string   `yaml:"eventsTopic"`
	CollectedTopic string   `yaml:"collectedTopic"`
	GroupID        string   `yaml:"groupId"`
}

// HTTPConfig is the operator API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"serviceName"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// envOverrides lists the variables that win over the YAML file. Empty values are ignored.
type envOverrides struct {
	LogLevel         string   `env:"LOG_LEVEL"`
	LogFormat        string   `env:"LOG_FORMAT"`
	StorageBackend   string   `env:"STORAGE_BACKEND"`
	LocalRoot        string   `env:"LOCAL_STORE_ROOT"`
	S3Bucket         string   `env:"S3_BUCKET"`
	S3Region         string   `env:"AWS_REGION"`
	S3Endpoint       string   `env:"S3_ENDPOINT"`
	DatabaseDSN      string   `env:"DATABASE_DSN"`
	RedisAddr        string   `env:"REDIS_ADDR"`
	RedisPassword    string   `env:"REDIS_PASSWORD"`
	MLAPIKey         string   `env:"ML_API_KEY"`
	OpenAIAPIKey     string   `env:"OPENAI_API_KEY"`
	OpenAIModel      string   `env:"OPENAI_MODEL"`
	TelegramToken    string   `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string   `env:"TELEGRAM_CHAT_ID"`
	KafkaBrokers     []string `env:"KAFKA_BROKERS" envSeparator:","`
	HTTPAddr         string   `env:"HTTP_ADDR"`
	OTLPEndpoint     string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	IncompletePolicy string   `env:"RECONCILE_INCOMPLETE_POLICY"`
}

// Load reads the YAML file named by ARTICLES_PIPELINE_CONFIG (if set) and applies environment overrides.
func Load() (Config, error) {
	return LoadFile(os.Getenv(configPathEnv))
}

// LoadFile is Load with an explicit path; an empty path uses defaults plus environment.
func LoadFile(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyEnvOverrides(overrides)

	if err := cfg.bindTimezone(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides(o envOverrides) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Logging.Level, o.LogLevel)
	set(&c.Logging.Format, o.LogFormat)
	set(&c.Storage.Backend, o.StorageBackend)
	set(&c.Storage.Local.Root, o.LocalRoot)
	set(&c.Storage.S3.Bucket, o.S3Bucket)
	set(&c.Storage.S3.Region, o.S3Region)
	set(&c.Storage.S3.Endpoint, o.S3Endpoint)
	set(&c.Storage.SQL.DSN, o.DatabaseDSN)
	set(&c.Storage.Redis.Addr, o.RedisAddr)
	set(&c.Storage.Redis.Password, o.RedisPassword)
	set(&c.Notifications.Telegram.BotToken, o.TelegramToken)
	set(&c.Notifications.Telegram.ChatID, o.TelegramChatID)
	set(&c.HTTP.Addr, o.HTTPAddr)
	set(&c.Reconcile.IncompletePolicy, o.IncompletePolicy)
	set(&c.ML.Model, o.OpenAIModel)

	switch {
	case o.OpenAIAPIKey != "" && c.ML.Provider == ProviderOpenAI:
		c.ML.APIKey = o.OpenAIAPIKey
	case o.MLAPIKey != "":
		c.ML.APIKey = o.MLAPIKey
	}
	if len(o.KafkaBrokers) > 0 {
		c.Kafka.Brokers = o.KafkaBrokers
	}
	if o.OTLPEndpoint != "" {
		c.Telemetry.Endpoint = o.OTLPEndpoint
		c.Telemetry.Enabled = true
	}
}

func (c *Config) bindTimezone() error {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("scheduler timezone %q: %w", tz, err)
	}
	c.Scheduler.Timezone = tz
	c.Scheduler.location = loc
	return nil
}

// Validate checks cross-field constraints that defaults cannot guarantee.
func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required"))
		}
	case BackendSQL:
		if c.Storage.SQL.DSN == "" {
			errs = append(errs, errors.New("storage.sql.dsn is required"))
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	switch strings.ToLower(c.Reconcile.IncompletePolicy) {
	case "", "newest", "refuse":
	default:
		errs = append(errs, fmt.Errorf("unknown reconcile.incompletePolicy %q", c.Reconcile.IncompletePolicy))
	}
	if c.Reconcile.Tolerance < 0 {
		errs = append(errs, errors.New("reconcile.tolerance must not be negative"))
	}

	switch c.ML.Provider {
	case "", ProviderHTTP, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("unknown ml.provider %q", c.ML.Provider))
	}

	for i, site := range c.Sites {
		if site.Name == "" || site.Scanner == "" {
			errs = append(errs, fmt.Errorf("sites[%d] needs name and scanner", i))
		}
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.EventsTopic == "" && c.Kafka.CollectedTopic == "" {
		errs = append(errs, errors.New("kafka brokers set but no topic configured"))
	}

	return errors.Join(errs...)
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{
			Backend: BackendMemory,
			Local:   LocalConfig{Root: "data/articles"},
			SQL:     SQLConfig{Driver: "sqlite"},
			Redis:   RedisConfig{Prefix: "pipeline"},
			S3:      S3Config{Prefix: "pipeline"},
		},
		Registry:  RegistryConfig{MaxAgeDays: 30},
		Reconcile: ReconcileConfig{Tolerance: time.Second, IncompletePolicy: "newest"},
		Scheduler: SchedulerConfig{Enabled: true, CronExpression: "0 6 * * *", Timezone: defaultTimezone},
		ML:        MLConfig{Provider: ProviderHTTP},
		Notifications: NotificationConfig{
			DigestLimit: 10,
		},
		Kafka: KafkaConfig{
			ClientID:    "articles-pipeline",
			EventsTopic: "article-lifecycle",
			GroupID:     "articles-pipeline",
		},
		HTTP:      HTTPConfig{Addr: ":8080"},
		Telemetry: TelemetryConfig{ServiceName: "articles-pipeline", SampleRatio: 1},
		Sites: []SiteConfig{
			{
				Name:    "arxiv-default",
				Scanner: "arxiv",
				Categories: []CategoryConfig{
					{Name: "cs.AI", URL: "https://export.arxiv.org/list/cs.AI/pastweek"},
				},
			},
		},
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/r03el/photograbber/internal/ingest"
	"github.com/r03el/photograbber/internal/uploader"
	"github.com/r03el/photograbber/shared/database"
	"github.com/r03el/photograbber/shared/rabbitmq"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Worker defaults
const (
	DefaultConcurrency     = 3
	DefaultPollInterval    = time.Second
	DefaultMaxRetries      = 3
	DefaultRetryBaseDelay  = 5 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Logging     LoggingConfig     `yaml:"logging"`
	App         AppConfig         `yaml:"app"`
	Worker      WorkerConfig      `yaml:"worker"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Gallery     GalleryConfig     `yaml:"gallery"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds queue store configuration. The sqlite driver uses
// Path; the postgres driver uses the connection fields.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
	BusyTimeout     time.Duration `yaml:"busy_timeout"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Enabled            bool             `yaml:"enabled"`
	Host               string           `yaml:"host"`
	Port               int              `yaml:"port"`
	User               string           `yaml:"user"`
	Password           string           `yaml:"password"`
	VHost              string           `yaml:"vhost"`
	Exchange           ExchangeConfig   `yaml:"exchange"`
	Queue              QueueConfig      `yaml:"queue"`
	RoutingKey         string           `yaml:"routing_key"`
	DeadLetterExchange string           `yaml:"dead_letter_exchange"`
	Connection         ConnectionConfig `yaml:"connection"`
	Publish            PublishConfig    `yaml:"publish"`
	Consumer           ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name string `yaml:"name"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount   int           `yaml:"prefetch_count"`
	RedeliveryDelay time.Duration `yaml:"redelivery_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	File         string `yaml:"file"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	Enabled         *bool         `yaml:"enabled"`
	Concurrency     int           `yaml:"concurrency"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxRetries      *int          `yaml:"max_retries"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RequeueInterval time.Duration `yaml:"requeue_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// IsEnabled reports whether the pool should run. Unset means enabled.
func (w WorkerConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Retries returns the retry budget. Unset means DefaultMaxRetries; 0 disables retries.
func (w WorkerConfig) Retries() int {
	if w.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *w.MaxRetries
}

// TelegramConfig holds chat platform configuration
type TelegramConfig struct {
	BotToken        string        `yaml:"bot_token"`
	APIURL          string        `yaml:"api_url"`
	Timeout         time.Duration `yaml:"timeout"`
	EnableFilter    bool          `yaml:"enable_filter"`
	GroupsToMonitor []int64       `yaml:"groups_to_monitor"`
}

// ObjectStoreConfig holds object store configuration
type ObjectStoreConfig struct {
	Backend   string `yaml:"backend"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
	PathStyle bool   `yaml:"path_style"`
	// Timezone names the zone of the date segment in object keys
	Timezone string `yaml:"timezone"`
}

// GalleryConfig holds gallery projection configuration
type GalleryConfig struct {
	Enabled       bool          `yaml:"enabled"`
	PublicBaseURL string        `yaml:"public_base_url"`
	PresignTTL    time.Duration `yaml:"presign_ttl"`
	SyncInterval  time.Duration `yaml:"sync_interval"`
}

// Load reads and parses the configuration file, then applies environment
// overrides and defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyEnv(os.LookupEnv)
	config.ApplyDefaults()

	return &config, nil
}

// ApplyEnv overrides secrets and endpoints from the environment
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set("BOT_TOKEN", &c.Telegram.BotToken)
	set("MINIO_ENDPOINT", &c.ObjectStore.Endpoint)
	set("MINIO_ACCESS_KEY", &c.ObjectStore.AccessKey)
	set("MINIO_SECRET_KEY", &c.ObjectStore.SecretKey)
	set("MINIO_BUCKET", &c.ObjectStore.Bucket)
	set("DATABASE_PATH", &c.Database.Path)
	set("DATABASE_PASSWORD", &c.Database.Password)
	set("RABBITMQ_PASSWORD", &c.RabbitMQ.Password)
}

// ApplyDefaults fills unset fields with their defaults
func (c *Config) ApplyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = database.DriverSQLite
	}
	if c.Database.Driver == database.DriverSQLite && c.Database.Path == "" {
		c.Database.Path = "data/photograbber.db"
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 5 * time.Second
	}

	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = DefaultConcurrency
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = DefaultPollInterval
	}
	if c.Worker.MaxRetries == nil {
		maxRetries := DefaultMaxRetries
		c.Worker.MaxRetries = &maxRetries
	}
	if c.Worker.RetryBaseDelay == 0 {
		c.Worker.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.ObjectStore.Backend == "" {
		c.ObjectStore.Backend = uploader.BackendMinio
	}
	if c.Gallery.PresignTTL == 0 {
		c.Gallery.PresignTTL = time.Hour
	}
	if c.Gallery.SyncInterval == 0 {
		c.Gallery.SyncInterval = 5 * time.Second
	}

	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "direct"
	}
	if c.RabbitMQ.Connection.RetryAttempts == 0 {
		c.RabbitMQ.Connection.RetryAttempts = 5
	}
	if c.RabbitMQ.Connection.RetryInterval == 0 {
		c.RabbitMQ.Connection.RetryInterval = 2 * time.Second
	}
	if c.RabbitMQ.Consumer.PrefetchCount == 0 {
		c.RabbitMQ.Consumer.PrefetchCount = 10
	}
	if c.RabbitMQ.Consumer.RedeliveryDelay == 0 {
		c.RabbitMQ.Consumer.RedeliveryDelay = ingest.DefaultRedeliveryDelay
	}

	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
}

// ValidateAPIConfig checks the settings the API service relies on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.RabbitMQ.Enabled {
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	}

	if c.Gallery.Enabled {
		if err := c.validateObjectStore(); err != nil {
			return err
		}
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service relies on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be greater than 0")
	}

	if c.Worker.Retries() < 0 {
		return fmt.Errorf("worker max_retries must not be negative")
	}

	if c.Worker.RetryBaseDelay < 0 {
		return fmt.Errorf("worker retry_base_delay must not be negative")
	}

	if c.Worker.RequeueInterval < 0 {
		return fmt.Errorf("worker requeue_interval must not be negative")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Worker.IsEnabled() {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram bot_token is required (or set BOT_TOKEN)")
		}
		if err := c.validateObjectStore(); err != nil {
			return err
		}
	}

	if c.RabbitMQ.Enabled {
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case database.DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case database.DriverPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

var errMissingBucket = errors.New("object_store bucket is required (or set MINIO_BUCKET)")

func (c *Config) validateObjectStore() error {
	switch c.ObjectStore.Backend {
	case uploader.BackendMinio:
		if c.ObjectStore.Endpoint == "" {
			return fmt.Errorf("object_store endpoint is required for minio (or set MINIO_ENDPOINT)")
		}
	case uploader.BackendS3, uploader.BackendMemory:
	default:
		return fmt.Errorf("unsupported object_store backend %q", c.ObjectStore.Backend)
	}

	if c.ObjectStore.Bucket == "" {
		return errMissingBucket
	}

	if c.ObjectStore.Timezone != "" {
		if _, err := time.LoadLocation(c.ObjectStore.Timezone); err != nil {
			return fmt.Errorf("invalid object_store timezone: %w", err)
		}
	}

	return nil
}

// DatabaseClientConfig converts the database section for shared/database
func (c *Config) DatabaseClientConfig() *database.Config {
	return &database.Config{
		Driver:          c.Database.Driver,
		Path:            c.Database.Path,
		BusyTimeout:     c.Database.BusyTimeout,
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		Database:        c.Database.Database,
		SSLMode:         c.Database.SSLMode,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
	}
}

// RabbitMQClientConfig converts the rabbitmq section for shared/rabbitmq
func (c *Config) RabbitMQClientConfig() *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               c.RabbitMQ.Host,
		Port:               c.RabbitMQ.Port,
		User:               c.RabbitMQ.User,
		Password:           c.RabbitMQ.Password,
		VHost:              c.RabbitMQ.VHost,
		ExchangeName:       c.RabbitMQ.Exchange.Name,
		ExchangeType:       c.RabbitMQ.Exchange.Type,
		QueueName:          c.RabbitMQ.Queue.Name,
		RoutingKey:         c.RabbitMQ.RoutingKey,
		DeadLetterExchange: c.RabbitMQ.DeadLetterExchange,
		RetryAttempts:      c.RabbitMQ.Connection.RetryAttempts,
		RetryInterval:      c.RabbitMQ.Connection.RetryInterval,
		Heartbeat:          c.RabbitMQ.Connection.Heartbeat,
		PublishRetries:     c.RabbitMQ.Publish.RetryAttempts,
		PublishRetryDelay:  c.RabbitMQ.Publish.RetryInterval,
	}
}

// StoreConfig converts the object store section for the uploader
func (c *Config) StoreConfig() uploader.StoreConfig {
	return uploader.StoreConfig{
		Backend:   c.ObjectStore.Backend,
		Endpoint:  c.ObjectStore.Endpoint,
		AccessKey: c.ObjectStore.AccessKey,
		SecretKey: c.ObjectStore.SecretKey,
		Bucket:    c.ObjectStore.Bucket,
		Region:    c.ObjectStore.Region,
		UseSSL:    c.ObjectStore.UseSSL,
		PathStyle: c.ObjectStore.PathStyle,
	}
}

// KeyLocation returns the zone used for the date segment of object keys
func (c *Config) KeyLocation() *time.Location {
	if c.ObjectStore.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.ObjectStore.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

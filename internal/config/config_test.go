package config

import (
	"testing"
	"time"

	"github.com/r03el/photograbber/internal/uploader"
	"github.com/r03el/photograbber/shared/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BOT_TOKEN", "MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY",
		"MINIO_BUCKET", "DATABASE_PATH", "DATABASE_PASSWORD", "RABBITMQ_PASSWORD",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, database.DriverSQLite, cfg.Database.Driver)
			assert.Equal(t, "data/test.db", cfg.Database.Path)
			assert.Equal(t, 3*time.Second, cfg.Database.BusyTimeout)
			assert.Equal(t, "media_exchange", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, "media_submissions", cfg.RabbitMQ.Queue.Name)
			assert.Equal(t, 4, cfg.RabbitMQ.Consumer.PrefetchCount)
			assert.Equal(t, "photograbber-api", cfg.App.Name)
			assert.Equal(t, 2, cfg.Worker.Concurrency)
			assert.Equal(t, 500*time.Millisecond, cfg.Worker.PollInterval)
			assert.Equal(t, 5, cfg.Worker.Retries())
			assert.Equal(t, DefaultRetryBaseDelay, cfg.Worker.RetryBaseDelay)
			assert.True(t, cfg.Worker.IsEnabled())
			assert.Equal(t, "test-token", cfg.Telegram.BotToken)
			assert.True(t, cfg.Telegram.EnableFilter)
			assert.Equal(t, []int64{-1001234567890, -1009876543210}, cfg.Telegram.GroupsToMonitor)
			assert.Equal(t, "photos", cfg.ObjectStore.Bucket)
			assert.Equal(t, 30*time.Minute, cfg.Gallery.PresignTTL)
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	assert.Equal(t, database.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "data/photograbber.db", cfg.Database.Path)
	assert.Equal(t, DefaultConcurrency, cfg.Worker.Concurrency)
	assert.Equal(t, DefaultPollInterval, cfg.Worker.PollInterval)
	assert.Equal(t, DefaultMaxRetries, cfg.Worker.Retries())
	assert.Equal(t, DefaultRetryBaseDelay, cfg.Worker.RetryBaseDelay)
	assert.Equal(t, DefaultShutdownTimeout, cfg.Worker.ShutdownTimeout)
	assert.Zero(t, cfg.Worker.RequeueInterval)
	assert.True(t, cfg.Worker.IsEnabled())
	assert.Equal(t, uploader.BackendMinio, cfg.ObjectStore.Backend)
	assert.Equal(t, time.Hour, cfg.Gallery.PresignTTL)
	assert.Equal(t, 10, cfg.RabbitMQ.Consumer.PrefetchCount)
	assert.Equal(t, time.Second, cfg.RabbitMQ.Consumer.RedeliveryDelay)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"BOT_TOKEN":        "env-token",
		"MINIO_ENDPOINT":   "minio:9000",
		"MINIO_ACCESS_KEY": "ak",
		"MINIO_SECRET_KEY": "sk",
		"MINIO_BUCKET":     "",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := Config{
		Telegram:    TelegramConfig{BotToken: "file-token"},
		ObjectStore: ObjectStoreConfig{Bucket: "photos"},
	}
	cfg.ApplyEnv(lookup)

	assert.Equal(t, "env-token", cfg.Telegram.BotToken)
	assert.Equal(t, "minio:9000", cfg.ObjectStore.Endpoint)
	assert.Equal(t, "ak", cfg.ObjectStore.AccessKey)
	assert.Equal(t, "sk", cfg.ObjectStore.SecretKey)
	// empty values do not clobber the file
	assert.Equal(t, "photos", cfg.ObjectStore.Bucket)
}

func validAPIConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Driver: database.DriverSQLite, Path: "data/queue.db"},
		RabbitMQ: RabbitMQConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "media_exchange"},
			Queue:    QueueConfig{Name: "media_submissions"},
		},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "empty sqlite path",
			mutate:    func(c *Config) { c.Database.Path = "" },
			errString: "database path is required",
		},
		{
			name: "postgres without host",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: database.DriverPostgres, Port: 5432, Database: "photograbber"}
			},
			errString: "database host is required",
		},
		{
			name: "postgres without name",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: database.DriverPostgres, Host: "db", Port: 5432}
			},
			errString: "database name is required",
		},
		{
			name:      "unknown driver",
			mutate:    func(c *Config) { c.Database.Driver = "oracle" },
			errString: "unsupported database driver",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			errString: "rabbitmq queue name is required",
		},
		{
			name: "rabbitmq disabled skips broker checks",
			mutate: func(c *Config) {
				c.RabbitMQ = RabbitMQConfig{}
			},
		},
		{
			name: "gallery requires bucket",
			mutate: func(c *Config) {
				c.Gallery.Enabled = true
				c.ObjectStore = ObjectStoreConfig{Backend: uploader.BackendMemory}
			},
			errString: "object_store bucket is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAPIConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func validWorkerConfig() *Config {
	cfg := &Config{
		Database: DatabaseConfig{Driver: database.DriverSQLite, Path: "data/queue.db"},
		Telegram: TelegramConfig{BotToken: "token"},
		ObjectStore: ObjectStoreConfig{
			Backend:  uploader.BackendMinio,
			Endpoint: "localhost:9000",
			Bucket:   "photos",
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	disabled := false

	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = 0 },
			errString: "worker concurrency must be greater than 0",
		},
		{
			name:      "zero poll interval",
			mutate:    func(c *Config) { c.Worker.PollInterval = 0 },
			errString: "worker poll_interval must be greater than 0",
		},
		{
			name:      "negative max retries",
			mutate:    func(c *Config) { n := -1; c.Worker.MaxRetries = &n },
			errString: "worker max_retries must not be negative",
		},
		{
			name:   "zero max retries",
			mutate: func(c *Config) { n := 0; c.Worker.MaxRetries = &n },
		},
		{
			name:      "missing bot token",
			mutate:    func(c *Config) { c.Telegram.BotToken = "" },
			errString: "bot_token is required",
		},
		{
			name: "missing bot token with pool disabled",
			mutate: func(c *Config) {
				c.Telegram.BotToken = ""
				c.Worker.Enabled = &disabled
			},
		},
		{
			name:      "minio without endpoint",
			mutate:    func(c *Config) { c.ObjectStore.Endpoint = "" },
			errString: "object_store endpoint is required",
		},
		{
			name:      "unknown backend",
			mutate:    func(c *Config) { c.ObjectStore.Backend = "gcs" },
			errString: "unsupported object_store backend",
		},
		{
			name:      "bad timezone",
			mutate:    func(c *Config) { c.ObjectStore.Timezone = "Mars/Olympus" },
			errString: "invalid object_store timezone",
		},
		{
			name: "s3 backend needs no endpoint",
			mutate: func(c *Config) {
				c.ObjectStore.Backend = uploader.BackendS3
				c.ObjectStore.Endpoint = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validWorkerConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := validWorkerConfig()
	cfg.ObjectStore.Timezone = "UTC"

	db := cfg.DatabaseClientConfig()
	assert.Equal(t, database.DriverSQLite, db.Driver)
	assert.Equal(t, "data/queue.db", db.DSN())

	cfg.RabbitMQ.Exchange.Name = "media_exchange"
	cfg.RabbitMQ.Queue.Name = "media_submissions"
	mq := cfg.RabbitMQClientConfig()
	assert.Equal(t, "media_exchange", mq.ExchangeName)
	assert.Equal(t, "media_submissions", mq.QueueName)
	assert.Equal(t, "direct", mq.ExchangeType)

	store := cfg.StoreConfig()
	assert.Equal(t, "photos", store.Bucket)
	assert.Equal(t, "localhost:9000", store.Endpoint)

	assert.Equal(t, "UTC", cfg.KeyLocation().String())

	cfg.ObjectStore.Timezone = ""
	assert.Equal(t, time.Local, cfg.KeyLocation())
}

func TestLoad_MaxRetries(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name     string
		filePath string
		expected int
	}{
		{name: "explicit zero is kept", filePath: "testdata/zero_retries.yaml", expected: 0},
		{name: "configured value", filePath: "testdata/valid_config.yaml", expected: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)
			require.NoError(t, err)
			require.NotNil(t, cfg.Worker.MaxRetries)
			assert.Equal(t, tt.expected, cfg.Worker.Retries())
		})
	}
}

func TestWorkerConfig_RetriesUnset(t *testing.T) {
	assert.Equal(t, DefaultMaxRetries, WorkerConfig{}.Retries())
}

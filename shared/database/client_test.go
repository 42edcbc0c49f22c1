package database

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name       string
		config     Config
		wantDriver string
		wantDSN    string
	}{
		{
			name:       "defaults to sqlite",
			config:     Config{Path: "/var/lib/photograbber/queue.db"},
			wantDriver: DriverSQLite,
			wantDSN:    "/var/lib/photograbber/queue.db",
		},
		{
			name: "postgres keyword dsn",
			config: Config{
				Driver:   DriverPostgres,
				Host:     "db",
				Port:     5432,
				User:     "grabber",
				Password: "secret",
				Database: "uploads",
				SSLMode:  "disable",
			},
			wantDriver: DriverPostgres,
			wantDSN:    "host=db port=5432 user=grabber password=secret dbname=uploads sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantDriver, tt.config.DriverName())
			assert.Equal(t, tt.wantDSN, tt.config.DSN())
		})
	}
}

func TestNewClient_SQLite(t *testing.T) {
	cfg := &Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "queue.db")}

	client, err := NewClient(cfg, testLogger())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.HealthCheck(context.Background()))
	assert.Equal(t, 1, client.GetDB().Stats().MaxOpenConnections)

	var mode string
	require.NoError(t, client.GetDB().Get(&mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", mode)
}

func TestNewClient_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "queue.db")

	client, err := NewClient(&Config{Driver: DriverSQLite, Path: path}, testLogger())
	require.NoError(t, err)
	defer client.Close()

	assert.DirExists(t, filepath.Dir(path))

	var fk int
	require.NoError(t, client.GetDB().Get(&fk, "PRAGMA foreign_keys"))
	assert.Equal(t, 1, fk)
}

func TestNewClient_UnsupportedDriver(t *testing.T) {
	_, err := NewClient(&Config{Driver: "oracle"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestAcquireWriterLock_SQLite(t *testing.T) {
	cfg := &Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "queue.db")}
	ctx := context.Background()

	first, err := NewClient(cfg, testLogger())
	require.NoError(t, err)
	defer first.Close()

	second, err := NewClient(cfg, testLogger())
	require.NoError(t, err)
	defer second.Close()

	lock, err := first.AcquireWriterLock(ctx, "photograbber")
	require.NoError(t, err)

	_, err = second.AcquireWriterLock(ctx, "photograbber")
	assert.ErrorIs(t, err, ErrWriterLockHeld)

	require.NoError(t, lock.Release(ctx))

	again, err := second.AcquireWriterLock(ctx, "photograbber")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

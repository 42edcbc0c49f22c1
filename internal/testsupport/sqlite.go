// Package testsupport holds helpers shared by package tests.
package testsupport

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/r03el/photograbber/internal/queue/migrations"
	"github.com/r03el/photograbber/shared/database"
	"github.com/stretchr/testify/require"
)

// DiscardLogger returns a logger that drops every record
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenSQLite returns a client for a freshly migrated SQLite database in a
// temporary directory. The client is closed when the test ends.
func OpenSQLite(t testing.TB) *database.Client {
	t.Helper()

	cfg := &database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "queue.db"),
	}
	logger := DiscardLogger()

	require.NoError(t, migrations.RunUp(cfg.DriverName(), cfg.DSN(), logger))

	client, err := database.NewClient(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

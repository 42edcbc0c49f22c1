package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrationsTable is the ledger table recording applied schema versions
const MigrationsTable = "photograbber_migrations"

// sqliteBusyTimeout bounds how long a migration waits on a database another
// process is writing
const sqliteBusyTimeout = 5 * time.Second

//go:embed sqlite/*.sql postgres/*.sql
var migrationFiles embed.FS

// Status describes the schema version of a database
type Status struct {
	Current uint
	Latest  uint
	Dirty   bool
}

// Pending reports whether migrations remain to be applied
func (s Status) Pending() bool {
	return s.Current < s.Latest
}

// RunUp applies all pending up migrations for the given driver ("sqlite" or
// "postgres"). It opens and closes its own connection so the caller's pool is
// left untouched.
func RunUp(driverName, dsn string, logger *slog.Logger) error {
	unlock, err := lockSQLite(driverName, dsn, logger)
	if err != nil {
		return err
	}
	defer unlock()

	m, err := newMigrate(driverName, dsn)
	if err != nil {
		return err
	}
	defer closeMigrate(m, logger)

	_, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	if dirty {
		return errors.New("migration is dirty, please fix it before proceeding")
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return fmt.Errorf("failed to read version after migration: %w", err)
	}

	logger.Info("Database schema is up to date",
		slog.String("driver", driverName),
		slog.Uint64("version", uint64(version)),
	)

	return nil
}

// CurrentStatus reports the applied and latest embedded schema versions
func CurrentStatus(driverName, dsn string, logger *slog.Logger) (Status, error) {
	latest, err := LatestVersion(driverName)
	if err != nil {
		return Status{}, err
	}

	m, err := newMigrate(driverName, dsn)
	if err != nil {
		return Status{}, err
	}
	defer closeMigrate(m, logger)

	current, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, fmt.Errorf("failed to get current version: %w", err)
	}

	return Status{Current: current, Latest: latest, Dirty: dirty}, nil
}

// LatestVersion returns the highest embedded migration version for the driver
func LatestVersion(driverName string) (uint, error) {
	dir, err := sourceDir(driverName)
	if err != nil {
		return 0, err
	}

	entries, err := fs.ReadDir(migrationFiles, dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var maxVersion uint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		prefix, _, _ := strings.Cut(name, "_")
		version, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			continue
		}
		if uint(version) > maxVersion {
			maxVersion = uint(version)
		}
	}

	if maxVersion == 0 {
		return 0, fmt.Errorf("no valid migration files found for %s", driverName)
	}

	return maxVersion, nil
}

func sourceDir(driverName string) (string, error) {
	switch driverName {
	case "sqlite", "postgres":
		return driverName, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", driverName)
	}
}

func newMigrate(driverName, dsn string) (*migrate.Migrate, error) {
	dir, err := sourceDir(driverName)
	if err != nil {
		return nil, err
	}

	sourceDriver, err := iofs.New(migrationFiles, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs driver: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration connection: %w", err)
	}

	if driverName == "sqlite" {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", sqliteBusyTimeout.Milliseconds())); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	var dbDriver database.Driver
	switch driverName {
	case "sqlite":
		dbDriver, err = sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: MigrationsTable})
	case "postgres":
		dbDriver, err = postgres.WithInstance(db, &postgres.Config{MigrationsTable: MigrationsTable})
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create %s migration driver: %w", driverName, err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, driverName, dbDriver)
	if err != nil {
		_ = dbDriver.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return m, nil
}

// lockSQLite serializes migrations of one sqlite file across processes. The
// postgres driver takes its own advisory lock.
func lockSQLite(driverName, dsn string, logger *slog.Logger) (func(), error) {
	if driverName != "sqlite" || dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return func() {}, nil
	}

	lock := flock.New(dsn + ".migrate.lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("Failed to release migration lock", slog.Any("error", err))
		}
	}, nil
}

// closeMigrate releases the source and the dedicated migration connection
func closeMigrate(m *migrate.Migrate, logger *slog.Logger) {
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		logger.Warn("Failed to close migration source", slog.Any("error", srcErr))
	}
	if dbErr != nil {
		logger.Warn("Failed to close migration connection", slog.Any("error", dbErr))
	}
}

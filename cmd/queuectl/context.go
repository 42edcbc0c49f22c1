package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/r03el/photograbber/internal/config"
	"github.com/r03el/photograbber/internal/queue/migrations"
	"github.com/r03el/photograbber/internal/queue/storage"
	"github.com/r03el/photograbber/shared/database"
	"github.com/r03el/photograbber/shared/logger"
)

type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		verbose:    verbose,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		path := strings.TrimSpace(*c.configFlag)
		if path == "" {
			c.configErr = errors.New("a configuration file is required (--config)")
			return
		}
		c.config, c.configErr = config.Load(path)
	})
	return c.config, c.configErr
}

// logger writes to stderr so table output stays clean on stdout
func (c *commandContext) logger() *slog.Logger {
	level := "warn"
	if c.verbose != nil && *c.verbose {
		level = "debug"
	}
	l, err := logger.New(&logger.Config{Level: level, Format: "console", Output: "stderr"})
	if err != nil {
		return logger.NewDefault().Logger
	}
	return l.Logger
}

// withDatabase opens the configured queue store
func (c *commandContext) withDatabase(fn func(cfg *config.Config, client *database.Client, log *slog.Logger) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	log := c.logger()
	client, err := database.NewClient(cfg.DatabaseClientConfig(), log)
	if err != nil {
		return err
	}
	defer client.Close()

	return fn(cfg, client, log)
}

// withRepo opens the queue store and refuses to run against an outdated schema
func (c *commandContext) withRepo(fn func(cfg *config.Config, repo *storage.Repository) error) error {
	return c.withDatabase(func(cfg *config.Config, client *database.Client, log *slog.Logger) error {
		dbConfig := client.Config()
		status, err := migrations.CurrentStatus(dbConfig.DriverName(), dbConfig.DSN(), log)
		if err != nil {
			return err
		}
		if status.Dirty || status.Pending() {
			return fmt.Errorf("queue schema is at version %d of %d; run `queuectl migrate` first", status.Current, status.Latest)
		}

		return fn(cfg, storage.NewRepository(client.GetDB(), log))
	})
}

// Package uploader moves chat media into the object store.
package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/r03el/photograbber/internal/queue/domain"
)

// Config holds upload executor configuration
type Config struct {
	Logger *slog.Logger
	Source FileSource
	Store  ObjectStore
	// Location sets the calendar day used in object keys. Defaults to time.Local.
	Location *time.Location
}

// Uploader downloads a chat file and stores it under its deterministic key.
// Re-running an upload overwrites the same object.
type Uploader struct {
	logger   *slog.Logger
	source   FileSource
	store    ObjectStore
	location *time.Location
}

// New creates a new upload executor
func New(cfg *Config) *Uploader {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Uploader{
		logger:   cfg.Logger,
		source:   cfg.Source,
		store:    cfg.Store,
		location: loc,
	}
}

// Process uploads fileRef and returns its storage location "<bucket>/<key>"
func (u *Uploader) Process(ctx context.Context, fileRef string, meta domain.MediaMetadata) (string, error) {
	start := time.Now()

	file, err := u.source.Fetch(ctx, fileRef)
	if err != nil {
		return "", fmt.Errorf("failed to fetch file: %w", err)
	}
	defer file.Body.Close()

	key := ObjectKey(fileRef, meta, u.location)
	err = u.store.Put(ctx, PutInput{
		Key:         key,
		Body:        file.Body,
		Size:        file.Size,
		ContentType: ContentType(meta.Kind),
		Metadata:    ObjectMetadata(fileRef, meta, u.location),
	})
	if err != nil {
		return "", fmt.Errorf("failed to store object: %w", err)
	}

	location := Location(u.store.Bucket(), key)
	u.logger.Info("Media stored",
		slog.String("location", location),
		slog.Int64("group_id", meta.GroupID),
		slog.Int64("user_id", meta.UserID),
		slog.Int64("size", file.Size),
		slog.Duration("duration", time.Since(start)),
	)

	return location, nil
}

// Location joins bucket and key into a storage location
func Location(bucket, key string) string {
	return bucket + "/" + key
}

// Package gallery keeps a read-only, newest-first view of uploaded media.
// The view is rebuilt from the object store and advanced from upload history;
// it is never authoritative.
package gallery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/r03el/photograbber/internal/queue/domain"
	"github.com/r03el/photograbber/internal/uploader"
)

const defaultSyncBatch = 500

// HistorySource reads upload history in id order
type HistorySource interface {
	HistorySince(ctx context.Context, afterID int64, limit int) ([]domain.HistoryRecord, error)
}

// Item is one uploaded media object
type Item struct {
	Location         string           `json:"location"`
	Key              string           `json:"key"`
	URL              string           `json:"url"`
	FileRef          string           `json:"file_ref"`
	GroupID          int64            `json:"group_id"`
	UserID           int64            `json:"user_id"`
	SubmittedAt      time.Time        `json:"submitted_at"`
	MediaKind        domain.MediaKind `json:"media_kind"`
	OriginalFileName string           `json:"original_file_name,omitempty"`
}

// IsVideo reports whether the item renders as a video
func (i Item) IsVideo() bool {
	return i.MediaKind.Extension() == "mp4"
}

// Config holds projection configuration
type Config struct {
	Logger  *slog.Logger
	Store   uploader.ObjectStore
	History HistorySource
	// PublicBaseURL serves objects directly as <base>/<location> when set.
	// Otherwise URLs are presigned for PresignTTL.
	PublicBaseURL string
	PresignTTL    time.Duration
	SyncBatch     int
}

// Projection is an in-memory gallery keyed by storage location
type Projection struct {
	logger        *slog.Logger
	store         uploader.ObjectStore
	history       HistorySource
	publicBaseURL string
	presignTTL    time.Duration
	syncBatch     int

	mu            sync.RWMutex
	items         map[string]Item
	lastHistoryID int64

	urls *ttlcache.Cache[string, string]
}

// New creates an empty projection
func New(cfg *Config) *Projection {
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	batch := cfg.SyncBatch
	if batch <= 0 {
		batch = defaultSyncBatch
	}

	return &Projection{
		logger:        cfg.Logger,
		store:         cfg.Store,
		history:       cfg.History,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		presignTTL:    ttl,
		syncBatch:     batch,
		items:         make(map[string]Item),
		// Cached URLs expire at half their lifetime so none is served stale.
		urls: ttlcache.New(
			ttlcache.WithTTL[string, string](ttl / 2),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
	}
}

// Start runs the URL cache expiry loop until Stop
func (p *Projection) Start() {
	p.urls.Start()
}

// Stop ends the URL cache expiry loop
func (p *Projection) Stop() {
	p.urls.Stop()
}

// Rebuild replaces the view with a listing of the object store
func (p *Projection) Rebuild(ctx context.Context) error {
	objects, err := p.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list objects: %w", err)
	}

	items := make(map[string]Item, len(objects))
	for _, obj := range objects {
		meta, err := uploader.ParseObjectMetadata(obj.Key, obj.Metadata)
		if err != nil {
			p.logger.Warn("Skipping object without gallery metadata",
				slog.String("key", obj.Key),
				slog.String("error", err.Error()),
			)
			continue
		}

		item := itemFromObject(p.store.Bucket(), obj.Key, meta)
		items[item.Location] = item
	}

	p.mu.Lock()
	p.items = items
	p.mu.Unlock()

	p.logger.Info("Gallery rebuilt from object store",
		slog.String("bucket", p.store.Bucket()),
		slog.Int("items", len(items)),
		slog.Int("skipped", len(objects)-len(items)),
	)
	return nil
}

// Sync applies history rows recorded since the last sync and returns how many
// were applied
func (p *Projection) Sync(ctx context.Context) (int, error) {
	applied := 0
	for {
		p.mu.RLock()
		after := p.lastHistoryID
		p.mu.RUnlock()

		records, err := p.history.HistorySince(ctx, after, p.syncBatch)
		if err != nil {
			return applied, fmt.Errorf("failed to read history: %w", err)
		}

		p.mu.Lock()
		for _, rec := range records {
			item := p.itemFromHistory(rec)
			p.items[item.Location] = item
			if rec.ID > p.lastHistoryID {
				p.lastHistoryID = rec.ID
			}
		}
		p.mu.Unlock()

		applied += len(records)
		if len(records) < p.syncBatch {
			return applied, nil
		}
	}
}

// Len returns the number of items in the view
func (p *Projection) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

// Items returns the view newest first, with download URLs
func (p *Projection) Items(ctx context.Context) []Item {
	p.mu.RLock()
	items := make([]Item, 0, len(p.items))
	for _, item := range p.items {
		items = append(items, item)
	}
	p.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].SubmittedAt.Equal(items[j].SubmittedAt) {
			return items[i].SubmittedAt.After(items[j].SubmittedAt)
		}
		return items[i].Location < items[j].Location
	})

	for i := range items {
		items[i].URL = p.url(ctx, items[i])
	}
	return items
}

// url returns the public or presigned URL for an item. Presign failures leave
// the URL empty.
func (p *Projection) url(ctx context.Context, item Item) string {
	if p.publicBaseURL != "" {
		return p.publicBaseURL + "/" + item.Location
	}

	loader := ttlcache.LoaderFunc[string, string](
		func(cache *ttlcache.Cache[string, string], key string) *ttlcache.Item[string, string] {
			signed, err := p.store.PresignGet(ctx, key, p.presignTTL)
			if err != nil {
				p.logger.Warn("Failed to presign gallery item",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				return nil
			}
			return cache.Set(key, signed, ttlcache.DefaultTTL)
		},
	)

	if cached := p.urls.Get(item.Key, ttlcache.WithLoader(loader)); cached != nil {
		return cached.Value()
	}
	return ""
}

func (p *Projection) itemFromHistory(rec domain.HistoryRecord) Item {
	item := Item{
		Location:    rec.StorageLocation,
		Key:         p.keyOf(rec.StorageLocation),
		FileRef:     rec.ExternalFileRef,
		GroupID:     rec.OriginGroupID,
		UserID:      rec.OriginUserID,
		SubmittedAt: time.UnixMilli(rec.SubmittedAtMs),
		MediaKind:   rec.MediaKind,
	}
	if rec.OriginalFileName != nil {
		item.OriginalFileName = *rec.OriginalFileName
	}
	return item
}

func itemFromObject(bucket, key string, meta uploader.ObjectMeta) Item {
	return Item{
		Location:         uploader.Location(bucket, key),
		Key:              key,
		FileRef:          meta.FileRef,
		GroupID:          meta.GroupID,
		UserID:           meta.UserID,
		SubmittedAt:      meta.SubmittedAt,
		MediaKind:        meta.Kind,
		OriginalFileName: meta.OriginalFileName,
	}
}

// keyOf strips the bucket prefix from a storage location
func (p *Projection) keyOf(location string) string {
	return strings.TrimPrefix(location, p.store.Bucket()+"/")
}

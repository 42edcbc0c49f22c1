package domain

import (
	"path/filepath"
	"strings"
)

// Status is the lifecycle state of a queue item
type Status string

// Queue item status constants
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// MediaKind classifies submitted media
type MediaKind string

// Media kind constants
const (
	MediaImage         MediaKind = "image"
	MediaVideo         MediaKind = "video"
	MediaVideoNote     MediaKind = "video-note"
	MediaDocumentImage MediaKind = "document-image"
	MediaDocumentVideo MediaKind = "document-video"
)

// MediaKinds lists every accepted media kind in display order
var MediaKinds = []MediaKind{
	MediaImage,
	MediaVideo,
	MediaVideoNote,
	MediaDocumentImage,
	MediaDocumentVideo,
}

// Valid reports whether k is a known media kind
func (k MediaKind) Valid() bool {
	for _, known := range MediaKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Extension returns the object file extension used for the kind
func (k MediaKind) Extension() string {
	switch k {
	case MediaVideo, MediaVideoNote, MediaDocumentVideo:
		return "mp4"
	default:
		return "jpg"
	}
}

var (
	imageExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
		".webp": true, ".bmp": true, ".heic": true, ".heif": true,
	}
	videoExtensions = map[string]bool{
		".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
		".webm": true, ".m4v": true, ".3gp": true,
	}
)

// KindFromDocument classifies a document attachment by MIME type, falling back
// to the file extension. ok is false for documents that are neither images nor
// videos.
func KindFromDocument(mimeType, fileName string) (MediaKind, bool) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return MediaDocumentImage, true
	case strings.HasPrefix(mimeType, "video/"):
		return MediaDocumentVideo, true
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	switch {
	case imageExtensions[ext]:
		return MediaDocumentImage, true
	case videoExtensions[ext]:
		return MediaDocumentVideo, true
	}
	return "", false
}

package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindFromDocument(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		fileName string
		wantKind MediaKind
		wantOK   bool
	}{
		{name: "image mime", mimeType: "image/png", fileName: "scan.bin", wantKind: MediaDocumentImage, wantOK: true},
		{name: "video mime", mimeType: "video/quicktime", fileName: "", wantKind: MediaDocumentVideo, wantOK: true},
		{name: "mime is case insensitive", mimeType: "IMAGE/JPEG", wantKind: MediaDocumentImage, wantOK: true},
		{name: "image extension fallback", mimeType: "application/octet-stream", fileName: "IMG_001.HEIC", wantKind: MediaDocumentImage, wantOK: true},
		{name: "video extension fallback", mimeType: "", fileName: "clip.mkv", wantKind: MediaDocumentVideo, wantOK: true},
		{name: "pdf rejected", mimeType: "application/pdf", fileName: "report.pdf", wantOK: false},
		{name: "no hints", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := KindFromDocument(tt.mimeType, tt.fileName)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestMediaKind_Extension(t *testing.T) {
	assert.Equal(t, "jpg", MediaImage.Extension())
	assert.Equal(t, "jpg", MediaDocumentImage.Extension())
	assert.Equal(t, "mp4", MediaVideo.Extension())
	assert.Equal(t, "mp4", MediaVideoNote.Extension())
	assert.Equal(t, "mp4", MediaDocumentVideo.Extension())
}

func TestSubmission_Validate(t *testing.T) {
	tests := []struct {
		name    string
		sub     Submission
		wantErr bool
	}{
		{
			name: "valid submission",
			sub:  Submission{ExternalFileRef: "AgAD123", MediaKind: MediaImage, SubmittedAtMs: 1700000000000},
		},
		{
			name:    "blank file ref",
			sub:     Submission{ExternalFileRef: "   ", MediaKind: MediaImage},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			sub:     Submission{ExternalFileRef: "AgAD123", MediaKind: "sticker"},
			wantErr: true,
		},
		{
			name:    "negative timestamp",
			sub:     Submission{ExternalFileRef: "AgAD123", MediaKind: MediaVideo, SubmittedAtMs: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sub.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidSubmission)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestStoreError_MatchesUnavailable(t *testing.T) {
	cause := errors.New("database is locked")
	err := NewStoreError("claim batch", cause)

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "store claim batch: database is locked", err.Error())
	assert.False(t, errors.Is(ErrItemNotFound, ErrStoreUnavailable))
}

func TestQueueItem_Metadata(t *testing.T) {
	name := "holiday.jpg"
	item := QueueItem{
		OriginGroupID:    -100123,
		OriginUserID:     42,
		SubmittedAtMs:    1700000000000,
		MediaKind:        MediaDocumentImage,
		OriginalFileName: &name,
	}

	meta := item.Metadata()
	assert.Equal(t, int64(-100123), meta.GroupID)
	assert.Equal(t, int64(42), meta.UserID)
	assert.True(t, meta.SubmittedAt.Equal(time.UnixMilli(1700000000000)))
	assert.Equal(t, MediaDocumentImage, meta.Kind)
	assert.Equal(t, "holiday.jpg", meta.OriginalFileName)
}

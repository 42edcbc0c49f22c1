package uploader

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/r03el/photograbber/internal/queue/domain"
)

const dateLayout = "2006-01-02"

// User metadata keys attached to every uploaded object
const (
	MetaGroupID          = "group_id"
	MetaUserID           = "user_id"
	MetaFileID           = "file_id"
	MetaTimestamp        = "timestamp"
	MetaDate             = "date"
	MetaType             = "type"
	MetaOriginalFileName = "original_file_name"
)

// ObjectKey names the object for a file:
// <group>/<yyyy-mm-dd>/<submittedMs>_<fileRef>.<ext>
func ObjectKey(fileRef string, meta domain.MediaMetadata, loc *time.Location) string {
	return fmt.Sprintf("%d/%s/%d_%s.%s",
		meta.GroupID,
		meta.SubmittedAt.In(loc).Format(dateLayout),
		meta.SubmittedAt.UnixMilli(),
		fileRef,
		meta.Kind.Extension(),
	)
}

// ObjectMetadata builds the user metadata stored alongside an object
func ObjectMetadata(fileRef string, meta domain.MediaMetadata, loc *time.Location) map[string]string {
	md := map[string]string{
		MetaGroupID:   strconv.FormatInt(meta.GroupID, 10),
		MetaUserID:    strconv.FormatInt(meta.UserID, 10),
		MetaFileID:    fileRef,
		MetaTimestamp: strconv.FormatInt(meta.SubmittedAt.UnixMilli(), 10),
		MetaDate:      meta.SubmittedAt.In(loc).Format(dateLayout),
		MetaType:      string(meta.Kind),
	}
	if meta.OriginalFileName != "" {
		md[MetaOriginalFileName] = meta.OriginalFileName
	}
	return md
}

// ObjectMeta is object user metadata parsed back into typed fields
type ObjectMeta struct {
	FileRef          string
	GroupID          int64
	UserID           int64
	SubmittedAt      time.Time
	Kind             domain.MediaKind
	OriginalFileName string
}

// ParseObjectMetadata decodes user metadata read from the object store. Keys
// are matched case-insensitively with any x-amz-meta- prefix removed. Missing
// fields fall back to what the object key encodes.
func ParseObjectMetadata(key string, raw map[string]string) (ObjectMeta, error) {
	md := make(map[string]string, len(raw))
	for k, v := range raw {
		k = strings.ToLower(k)
		k = strings.TrimPrefix(k, "x-amz-meta-")
		md[k] = v
	}

	var out ObjectMeta
	var err error

	fromKey, keyErr := parseObjectKey(key)

	if v, ok := md[MetaGroupID]; ok {
		if out.GroupID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return ObjectMeta{}, fmt.Errorf("invalid %s %q: %w", MetaGroupID, v, err)
		}
	} else if keyErr == nil {
		out.GroupID = fromKey.GroupID
	}

	if v, ok := md[MetaUserID]; ok {
		if out.UserID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return ObjectMeta{}, fmt.Errorf("invalid %s %q: %w", MetaUserID, v, err)
		}
	}

	if v, ok := md[MetaTimestamp]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return ObjectMeta{}, fmt.Errorf("invalid %s %q: %w", MetaTimestamp, v, err)
		}
		out.SubmittedAt = time.UnixMilli(ms)
	} else if keyErr == nil {
		out.SubmittedAt = fromKey.SubmittedAt
	}

	out.FileRef = md[MetaFileID]
	if out.FileRef == "" && keyErr == nil {
		out.FileRef = fromKey.FileRef
	}

	out.Kind = domain.MediaKind(md[MetaType])
	if !out.Kind.Valid() {
		// Objects written before kinds were recorded only carry the extension.
		out.Kind = kindFromExtension(key)
	}

	out.OriginalFileName = md[MetaOriginalFileName]

	if out.FileRef == "" {
		return ObjectMeta{}, fmt.Errorf("object %q carries no file reference", key)
	}
	return out, nil
}

// parseObjectKey recovers what ObjectKey encodes
func parseObjectKey(key string) (ObjectMeta, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return ObjectMeta{}, fmt.Errorf("unexpected object key %q", key)
	}

	group, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ObjectMeta{}, fmt.Errorf("unexpected object key %q: %w", key, err)
	}

	base := strings.TrimSuffix(parts[2], path.Ext(parts[2]))
	tsPart, ref, ok := strings.Cut(base, "_")
	if !ok {
		return ObjectMeta{}, fmt.Errorf("unexpected object key %q", key)
	}
	ms, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return ObjectMeta{}, fmt.Errorf("unexpected object key %q: %w", key, err)
	}

	return ObjectMeta{
		FileRef:     ref,
		GroupID:     group,
		SubmittedAt: time.UnixMilli(ms),
	}, nil
}

func kindFromExtension(key string) domain.MediaKind {
	if strings.EqualFold(path.Ext(key), ".mp4") {
		return domain.MediaVideo
	}
	return domain.MediaImage
}

// ContentType returns the MIME type stored with objects of the kind
func ContentType(kind domain.MediaKind) string {
	if kind.Extension() == "mp4" {
		return "video/mp4"
	}
	return "image/jpeg"
}

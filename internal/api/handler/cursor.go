package handler

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/r03el/photograbber/internal/queue/storage"
)

// DecodeItemCursor parses an opaque listing cursor. An empty string means the
// first page.
func DecodeItemCursor(cursorStr string) (*storage.ItemCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	createdPart, idPart, ok := strings.Cut(string(decoded), "|")
	if !ok {
		return nil, fmt.Errorf("invalid cursor format")
	}

	createdAtMs, err := strconv.ParseInt(createdPart, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid id in cursor: %w", err)
	}

	return &storage.ItemCursor{CreatedAtMs: createdAtMs, ID: id}, nil
}

// EncodeItemCursor renders the cursor continuing after the given position
func EncodeItemCursor(cursor *storage.ItemCursor) string {
	cs := fmt.Sprintf("%d|%d", cursor.CreatedAtMs, cursor.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(cs))
}

package handler

import (
	"encoding/base64"
	"testing"

	"github.com/r03el/photograbber/internal/queue/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemCursor(t *testing.T) {
	encoded := EncodeItemCursor(&storage.ItemCursor{CreatedAtMs: 1714564800123, ID: 42})

	decoded, err := DecodeItemCursor(encoded)
	require.NoError(t, err)
	assert.Equal(t, &storage.ItemCursor{CreatedAtMs: 1714564800123, ID: 42}, decoded)
}

func TestDecodeItemCursor(t *testing.T) {
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name    string
		cursor  string
		wantNil bool
		wantErr bool
	}{
		{name: "empty means first page", cursor: "", wantNil: true},
		{name: "not base64", cursor: "!!", wantErr: true},
		{name: "missing separator", cursor: enc("12345"), wantErr: true},
		{name: "bad timestamp", cursor: enc("abc|1"), wantErr: true},
		{name: "bad id", cursor: enc("1|uuid-like"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeItemCursor(tt.cursor)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
			}
		})
	}
}

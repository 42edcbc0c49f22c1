package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/r03el/photograbber/internal/queue/domain"
	"github.com/r03el/photograbber/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "queuectl.yaml")
	body := "database:\n  driver: sqlite\n  path: " + filepath.Join(dir, "data", "queue.db") + "\nworker:\n  max_retries: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandsAgainstSQLite(t *testing.T) {
	t.Setenv("DATABASE_PATH", "")
	cfg := writeConfig(t)

	_, err := execute(t, cfg, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queuectl migrate")

	out, err := execute(t, cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema at version")

	out, err = execute(t, cfg, "enqueue", "ref-1", "--kind", "image", "--group", "-100", "--user", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Queued ref-1 (image)")

	out, err = execute(t, cfg, "enqueue", "ref-1", "--kind", "image")
	require.NoError(t, err)
	assert.Contains(t, out, "already queued")

	out, err = execute(t, cfg, "enqueue", "ref-2", "--kind", "document", "--mime", "video/mp4", "--name", "clip.mp4")
	require.NoError(t, err)
	assert.Contains(t, out, "Queued ref-2 (document-video)")

	out, err = execute(t, cfg, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ref-1")
	assert.Contains(t, out, "ref-2")

	out, err = execute(t, cfg, "list", "--kind", "image")
	require.NoError(t, err)
	assert.Contains(t, out, "ref-1")
	assert.NotContains(t, out, "ref-2")

	_, err = execute(t, cfg, "list", "--status", "stuck")
	require.Error(t, err)

	out, err = execute(t, cfg, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, "Last upload: never")

	out, err = execute(t, cfg, "requeue")
	require.NoError(t, err)
	assert.Contains(t, out, "Requeued 0 item(s) with fewer than 2 retries")
}

func TestEnqueueValidation(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, cfg, "enqueue", "ref-1")
	require.Error(t, err)

	_, err = execute(t, cfg, "enqueue", "ref-1", "--kind", "sticker")
	require.Error(t, err)

	_, err = execute(t, cfg, "enqueue", "ref-1", "--kind", "image", "--broker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rabbitmq is not enabled")
}

func TestRenderStatus(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-3 * time.Minute)
	latency := 1500 * time.Millisecond

	out := renderStatus(&domain.StatusReport{
		Pending:         1200,
		Completed:       3,
		LastCompletedAt: &last,
		AverageLatency:  &latency,
		ByMediaKind:     map[domain.MediaKind]int64{domain.MediaVideo: 1, domain.MediaImage: 2},
	}, now)

	assert.Contains(t, out, "1,200")
	assert.Contains(t, out, "Last upload: 3 minutes ago")
	assert.Contains(t, out, "Average latency: 1.5s")
	assert.Less(t, strings.Index(out, "image"), strings.Index(out, "video"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestNextRetry(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	policy := retry.Policy{BaseDelay: 5 * time.Minute, MaxRetries: 3}

	tests := []struct {
		name     string
		item     domain.QueueItem
		expected string
	}{
		{
			name:     "pending item",
			item:     domain.QueueItem{Status: domain.StatusPending},
			expected: "",
		},
		{
			name:     "first failure waits one base delay",
			item:     domain.QueueItem{Status: domain.StatusFailed, RetryCount: 1, UpdatedAtMs: now.UnixMilli()},
			expected: "5 minutes from now",
		},
		{
			name:     "second failure doubles the delay",
			item:     domain.QueueItem{Status: domain.StatusFailed, RetryCount: 2, UpdatedAtMs: now.UnixMilli()},
			expected: "10 minutes from now",
		},
		{
			name:     "backoff elapsed",
			item:     domain.QueueItem{Status: domain.StatusFailed, RetryCount: 1, UpdatedAtMs: now.Add(-time.Hour).UnixMilli()},
			expected: "due",
		},
		{
			name:     "budget exhausted",
			item:     domain.QueueItem{Status: domain.StatusFailed, RetryCount: 3, UpdatedAtMs: now.UnixMilli()},
			expected: "exhausted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, nextRetry(tt.item, policy, now))
		})
	}
}

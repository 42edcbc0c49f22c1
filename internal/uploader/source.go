package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTelegramAPI is the public Bot API endpoint
const DefaultTelegramAPI = "https://api.telegram.org"

// ErrFileUnavailable is returned when the chat platform cannot serve a file
var ErrFileUnavailable = errors.New("chat file unavailable")

// HTTPDoer abstracts http.Client.Do for testing
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FileSource resolves an external file reference into its content
type FileSource interface {
	Fetch(ctx context.Context, fileRef string) (*RemoteFile, error)
}

// RemoteFile is a downloaded chat file. Callers must close Body.
type RemoteFile struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

// TelegramSource downloads files through the Telegram Bot API
type TelegramSource struct {
	client  HTTPDoer
	baseURL string
	token   string
}

// NewTelegramSource creates a source for the given bot token. An empty baseURL
// selects the public API; timeout bounds each request when positive.
func NewTelegramSource(baseURL, token string, timeout time.Duration) *TelegramSource {
	return NewTelegramSourceWithClient(baseURL, token, &http.Client{Timeout: timeout})
}

// NewTelegramSourceWithClient creates a source backed by a caller-supplied client
func NewTelegramSourceWithClient(baseURL, token string, client HTTPDoer) *TelegramSource {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultTelegramAPI
	}
	return &TelegramSource{
		client:  client,
		baseURL: baseURL,
		token:   token,
	}
}

type getFileResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		FileID   string `json:"file_id"`
		FileSize int64  `json:"file_size"`
		FilePath string `json:"file_path"`
	} `json:"result"`
}

// Fetch resolves fileRef with getFile and opens the download stream
func (s *TelegramSource) Fetch(ctx context.Context, fileRef string) (*RemoteFile, error) {
	filePath, size, err := s.resolve(ctx, fileRef)
	if err != nil {
		return nil, err
	}

	downloadURL := fmt.Sprintf("%s/file/bot%s/%s", s.baseURL, s.token, filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", redactToken(err, s.token))
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: download returned %d", ErrFileUnavailable, resp.StatusCode)
	}

	if resp.ContentLength >= 0 {
		size = resp.ContentLength
	}

	return &RemoteFile{
		Body:        resp.Body,
		Size:        size,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func (s *TelegramSource) resolve(ctx context.Context, fileRef string) (string, int64, error) {
	endpoint := fmt.Sprintf("%s/bot%s/getFile?file_id=%s", s.baseURL, s.token, url.QueryEscape(fileRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to build getFile request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to call getFile: %w", redactToken(err, s.token))
	}
	defer resp.Body.Close()

	var payload getFileResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", 0, fmt.Errorf("failed to decode getFile response (status %d): %w", resp.StatusCode, err)
	}
	if !payload.OK {
		return "", 0, fmt.Errorf("%w: getFile: %s", ErrFileUnavailable, payload.Description)
	}
	if payload.Result.FilePath == "" {
		return "", 0, fmt.Errorf("%w: getFile returned no file path", ErrFileUnavailable)
	}

	return payload.Result.FilePath, payload.Result.FileSize, nil
}

// redactToken strips the bot token from transport errors, which embed the URL
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
}

package dingtalk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/keepmind9/dingtalk-channel/internal/logger"
	"github.com/keepmind9/dingtalk-channel/pkg/constants"
	"github.com/sirupsen/logrus"
)

// MediaRequest identifies one inbound attachment to download
type MediaRequest struct {
	AccountID    string
	ClientID     string
	ClientSecret string
	RobotCode    string
	DownloadCode string
	WorkDir      string // Optional; defaults to the OS temp directory
}

// MediaFile is a downloaded attachment on local disk
type MediaFile struct {
	Path        string
	ContentType string
}

// MediaFetcher downloads message attachments
type MediaFetcher struct {
	api        *Client
	tokens     *TokenCache
	httpClient *http.Client
	log        logrus.FieldLogger
	maxBytes   int64
	now        func() time.Time
}

// NewMediaFetcher creates a fetcher using tokens for authentication
func NewMediaFetcher(api *Client, tokens *TokenCache, httpClient *http.Client, log logrus.FieldLogger) *MediaFetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.MediaDownloadTimeout}
	}
	return &MediaFetcher{
		api:        api,
		tokens:     tokens,
		httpClient: httpClient,
		log:        logger.Or(log),
		maxBytes:   constants.MaxMediaBytes,
		now:        time.Now,
	}
}

// Download exchanges the download code for a signed URL, fetches the bytes and stores them.
// Every failure is returned as a *MediaError naming the failed stage and is logged; callers
// continue with the text part of the message.
func (f *MediaFetcher) Download(ctx context.Context, req MediaRequest) (*MediaFile, error) {
	file, err := f.download(ctx, req)
	if err != nil {
		fields := logrus.Fields{"error": err}
		var merr *MediaError
		if errors.As(err, &merr) {
			fields["stage"] = merr.Stage
		}
		logger.ForAccount(f.log, req.AccountID).WithFields(fields).Warn("dingtalk-media-download-failed")
		return nil, err
	}

	logger.ForAccount(f.log, req.AccountID).WithFields(logrus.Fields{
		"path":         file.Path,
		"content_type": file.ContentType,
	}).Debug("dingtalk-media-downloaded")
	return file, nil
}

func (f *MediaFetcher) download(ctx context.Context, req MediaRequest) (*MediaFile, error) {
	if req.DownloadCode == "" || req.RobotCode == "" {
		return nil, &MediaError{Stage: MediaStageInput, Err: ErrMissingMediaInput}
	}

	token, err := f.tokens.AccessToken(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, &MediaError{Stage: MediaStageToken, Err: err}
	}

	url, err := f.api.DownloadURL(ctx, token, req.DownloadCode, req.RobotCode)
	if err != nil {
		return nil, &MediaError{Stage: MediaStageExchange, Err: err}
	}

	data, contentType, err := f.fetch(ctx, url)
	if err != nil {
		return nil, &MediaError{Stage: MediaStageFetch, Err: err}
	}

	path, err := f.write(req.WorkDir, data, contentType)
	if err != nil {
		return nil, &MediaError{Stage: MediaStageWrite, Err: err}
	}
	return &MediaFile{Path: path, ContentType: contentType}, nil
}

func (f *MediaFetcher) fetch(ctx context.Context, url string) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", fmt.Errorf("media larger than %d bytes", f.maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = mimetype.Detect(data).String()
	}
	return data, contentType, nil
}

func (f *MediaFetcher) write(workDir string, data []byte, contentType string) (string, error) {
	dir := MediaDir(workDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}

	name := fmt.Sprintf("%d_%s.%s", f.now().UnixMilli(), uuid.NewString()[:8], extensionFor(contentType, data))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write media file: %w", err)
	}
	return path, nil
}

// MediaDir returns where inbound media is stored for workDir
func MediaDir(workDir string) string {
	if workDir == "" {
		return filepath.Join(os.TempDir(), "dingtalk-media")
	}
	return filepath.Join(workDir, "media", "inbound")
}

// extensionFor picks a file extension from the content type, then from the bytes.
// Aliases mimetype does not know ("image/jpg") fall through to detection.
func extensionFor(contentType string, data []byte) string {
	if m := mimetype.Lookup(contentType); m != nil && m.Extension() != "" {
		return strings.TrimPrefix(m.Extension(), ".")
	}
	if len(data) == 0 {
		return "bin"
	}
	if ext := mimetype.Detect(data).Extension(); ext != "" {
		return strings.TrimPrefix(ext, ".")
	}
	return "bin"
}

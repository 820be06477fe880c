package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultUploadTimeout bounds an upload whose context has no deadline.
const DefaultUploadTimeout = 60 * time.Second

// HTTPUploader posts blobs to pre-signed upload URLs and expects a JSON
// body of the form {"assetId": "..."} in return.
type HTTPUploader struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPUploader creates an uploader. A nil client uses a plain
// http.Client. Each upload is bounded by timeout (DefaultUploadTimeout
// when zero) unless ctx carries a deadline or WithoutCallTimeout.
func NewHTTPUploader(client *http.Client, timeout time.Duration) *HTTPUploader {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultUploadTimeout
	}
	return &HTTPUploader{client: client, timeout: timeout}
}

// Upload sends blob to url.
func (u *HTTPUploader) Upload(ctx context.Context, url string, blob []byte, contentType string) (UploadResult, error) {
	ctx, cancel := withCallTimeout(ctx, u.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(blob))
	if err != nil {
		return UploadResult{}, fmt.Errorf("failed to build upload request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return UploadResult{}, fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return UploadResult{}, fmt.Errorf("upload failed: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var res UploadResult
	if err := json.Unmarshal(body, &res); err != nil {
		return UploadResult{}, fmt.Errorf("failed to parse upload response: %w", err)
	}
	return res, nil
}

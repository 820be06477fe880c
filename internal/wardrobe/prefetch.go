package wardrobe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"
)

// Prefetcher warms a local image cache. Failures are never fatal.
type Prefetcher interface {
	Prefetch(ctx context.Context, imageURL string) error
}

// DiskPrefetcher downloads images into a directory, one file per URL.
// Concurrent requests for the same URL share one download.
type DiskPrefetcher struct {
	dir    string
	client *http.Client
	group  singleflight.Group
}

// NewDiskPrefetcher creates a prefetcher writing into dir.
// A nil client gets a 30s timeout.
func NewDiskPrefetcher(dir string, client *http.Client) *DiskPrefetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &DiskPrefetcher{dir: dir, client: client}
}

// Path returns where imageURL is (or would be) cached.
func (p *DiskPrefetcher) Path(imageURL string) string {
	sum := sha256.Sum256([]byte(imageURL))
	ext := ""
	if u, err := url.Parse(imageURL); err == nil {
		ext = path.Ext(u.Path)
	}
	return filepath.Join(p.dir, hex.EncodeToString(sum[:16])+ext)
}

// Prefetch downloads imageURL unless it is already cached.
func (p *DiskPrefetcher) Prefetch(ctx context.Context, imageURL string) error {
	u, err := url.Parse(imageURL)
	if err != nil {
		return fmt.Errorf("invalid image url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported image url scheme %q", u.Scheme)
	}

	dst := p.Path(imageURL)
	if _, err := os.Stat(dst); err == nil {
		return nil
	}

	_, err, _ = p.group.Do(dst, func() (any, error) {
		return nil, p.download(ctx, imageURL, dst)
	})
	return err
}

func (p *DiskPrefetcher) download(ctx context.Context, imageURL, dst string) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create image cache: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("image download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("image download failed: status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(p.dir, ".prefetch-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("image download failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

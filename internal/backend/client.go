// Package backend defines the call contracts storykit consumes from the
// app backend, plus transports for them: unary gRPC with a JSON codec,
// HTTP asset upload, polling subscriptions and an in-memory backend.
package backend

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("not found")

// Client is the backend surface used by storykit.
type Client interface {
	// Assets
	GenerateUploadURL(ctx context.Context) (string, error)
	Upload(ctx context.Context, url string, blob []byte, contentType string) (UploadResult, error)

	// Wardrobe
	AddClothesToComposite(ctx context.Context, req ClothesRequest) (CompositeResult, error)
	AddAccessoryToComposite(ctx context.Context, req AccessoryRequest) (CompositeResult, error)
	UnlockWardrobe(ctx context.Context) error

	// Books
	GetBook(ctx context.Context, bookID string) (Book, error)
	GetBookPage(ctx context.Context, bookID string, pageIndex int) (Page, error)

	// Story jobs
	SubmitStoryJob(ctx context.Context, params StoryJobParams) (StoryJob, error)
	GetStoryJob(ctx context.Context, jobID string) (StoryJob, error)
}

type noCallTimeoutKey struct{}

// WithoutCallTimeout marks ctx so transports add no default deadline to
// calls made with it. A deadline already on ctx still applies.
func WithoutCallTimeout(ctx context.Context) context.Context {
	return context.WithValue(ctx, noCallTimeoutKey{}, true)
}

// withCallTimeout bounds ctx by d unless it already has a deadline or was
// marked with WithoutCallTimeout.
func withCallTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return ctx, func() {}
	}
	if off, _ := ctx.Value(noCallTimeoutKey{}).(bool); off {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// Uploader sends a blob to a pre-signed upload URL.
type Uploader interface {
	Upload(ctx context.Context, url string, blob []byte, contentType string) (UploadResult, error)
}

// UploadBlob runs the two-step upload: obtain a URL, then send the blob.
func UploadBlob(ctx context.Context, c Client, blob []byte, contentType string) (string, error) {
	url, err := c.GenerateUploadURL(ctx)
	if err != nil {
		return "", err
	}
	res, err := c.Upload(ctx, url, blob, contentType)
	if err != nil {
		return "", err
	}
	if res.AssetID == "" {
		return "", errors.New("upload returned no asset id")
	}
	return res.AssetID, nil
}

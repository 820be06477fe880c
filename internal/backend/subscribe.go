package backend

import (
	"context"
	"reflect"
	"time"
)

// DefaultPollInterval is used when Subscribe is given a non-positive interval.
const DefaultPollInterval = 2 * time.Second

// FetchFunc reads the current value of a query.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Subscribe turns a getter into a live value stream. It fetches at once,
// then every interval, and delivers each value that differs from the last
// one delivered. Fetch errors are transient and simply skipped.
//
// A nil fetch is the "skip" subscription: nothing is delivered and the
// channel closes when ctx ends. The channel always closes when ctx ends.
func Subscribe[T any](ctx context.Context, interval time.Duration, fetch FetchFunc[T]) <-chan T {
	out := make(chan T)
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	go func() {
		defer close(out)
		if fetch == nil {
			<-ctx.Done()
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var (
			last T
			sent bool
		)
		for {
			if v, err := fetch(ctx); err == nil && (!sent || !reflect.DeepEqual(v, last)) {
				select {
				case out <- v:
					last, sent = v, true
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}

// WatchBook subscribes to a book document.
func WatchBook(ctx context.Context, c Client, interval time.Duration, bookID string) <-chan Book {
	if bookID == "" {
		return Subscribe[Book](ctx, interval, nil)
	}
	return Subscribe(ctx, interval, func(ctx context.Context) (Book, error) {
		return c.GetBook(ctx, bookID)
	})
}

// WatchPage subscribes to one page of a book.
func WatchPage(ctx context.Context, c Client, interval time.Duration, bookID string, pageIndex int) <-chan Page {
	if bookID == "" || pageIndex < 0 {
		return Subscribe[Page](ctx, interval, nil)
	}
	return Subscribe(ctx, interval, func(ctx context.Context) (Page, error) {
		return c.GetBookPage(ctx, bookID, pageIndex)
	})
}

// WatchStoryJob subscribes to a story job's status.
func WatchStoryJob(ctx context.Context, c Client, interval time.Duration, jobID string) <-chan StoryJob {
	if jobID == "" {
		return Subscribe[StoryJob](ctx, interval, nil)
	}
	return Subscribe(ctx, interval, func(ctx context.Context) (StoryJob, error) {
		return c.GetStoryJob(ctx, jobID)
	})
}

package reader

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/runger/storykit/internal/backend"
)

// ErrNoBook is returned by Follow when the controller has no book open.
var ErrNoBook = errors.New("no book open")

// Follow keeps c fed from client until ctx ends or another book is
// opened: it watches the open book and every wanted page, re-subscribing
// as the wanted set moves with navigation.
func Follow(ctx context.Context, c *Controller, client backend.Client, interval time.Duration) error {
	bookID := c.BookID()
	if bookID == "" {
		return ErrNoBook
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for b := range backend.WatchBook(ctx, client, interval, bookID) {
			c.DeliverBook(b)
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		followPages(ctx, c, client, interval, bookID)
		return nil
	})
	return g.Wait()
}

// followPages maintains one page subscription per wanted index.
func followPages(ctx context.Context, c *Controller, client backend.Client, interval time.Duration, bookID string) {
	subs := make(map[int]context.CancelFunc)
	g, gctx := errgroup.WithContext(ctx)
	defer func() {
		for _, stop := range subs {
			stop()
		}
		_ = g.Wait()
	}()

	for {
		if c.BookID() != bookID {
			return
		}

		wanted := make(map[int]bool)
		for _, idx := range c.Wanted() {
			wanted[idx] = true
			if _, ok := subs[idx]; ok {
				continue
			}
			subCtx, stop := context.WithCancel(gctx)
			subs[idx] = stop
			g.Go(func() error {
				for p := range backend.WatchPage(subCtx, client, interval, bookID, idx) {
					c.DeliverPage(p)
				}
				return nil
			})
		}
		for idx, stop := range subs {
			if !wanted[idx] {
				stop()
				delete(subs, idx)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-c.Changes():
		}
	}
}

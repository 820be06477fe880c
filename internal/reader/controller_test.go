package reader

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runger/storykit/internal/backend"
	"github.com/runger/storykit/internal/reconcile"
	"github.com/runger/storykit/internal/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestController(t *testing.T, store storage.Store) *Controller {
	t.Helper()
	c := New(Config{Store: store})
	t.Cleanup(c.Close)
	return c
}

func textPage(book string, idx int) backend.Page {
	return backend.Page{BookID: book, Index: idx, Text: "page text"}
}

func imagePage(book string, idx int) backend.Page {
	p := textPage(book, idx)
	p.ImageURL = "https://img/" + book + ".png"
	p.ImageAssetID = "asset-" + book
	return p
}

func TestKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "book:b1", BookKey("b1"))
	assert.Equal(t, "page:b1:3", PageKey("b1", 3))
}

func TestProgress(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, progress(0, 0))
	assert.Equal(t, 10.0, progress(0, 10))
	assert.Equal(t, 100.0, progress(9, 10))
	assert.InDelta(t, 66.67, progress(1, 3), 0.01)
}

func TestClamp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, clamp(-1, 10))
	assert.Equal(t, 9, clamp(12, 10))
	assert.Equal(t, 12, clamp(12, 0), "unknown page count does not clamp")
}

func TestKeepImage(t *testing.T) {
	t.Parallel()

	plain := textPage("b", 0)
	withImage := imagePage("b", 0)

	assert.False(t, keepImage(plain, withImage), "image arriving replaces text-only entry")
	assert.True(t, keepImage(withImage, plain), "image is never un-arrived")
	assert.True(t, keepImage(plain, plain))
	assert.True(t, keepImage(withImage, withImage))
}

func TestController_NoBook(t *testing.T) {
	t.Parallel()

	c := newTestController(t, newTestStore(t))

	v := c.View()
	assert.Empty(t, v.BookID)
	assert.Nil(t, v.Current)
	assert.Zero(t, c.Progress())
	assert.Empty(t, c.Wanted())

	// Deliveries without an open book are ignored.
	c.DeliverBook(backend.Book{ID: "b1", PageCount: 3})
	c.DeliverPage(textPage("b1", 0))
	assert.Empty(t, c.CachedPages())
}

func TestController_ProgressAndNavigation(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		reported []float64
	)
	c := New(Config{
		Store: newTestStore(t),
		OnProgress: func(p float64, total int) {
			mu.Lock()
			defer mu.Unlock()
			if total > 0 {
				reported = append(reported, p)
			}
		},
	})
	t.Cleanup(c.Close)

	c.Open("b1", false)
	assert.Zero(t, c.Progress())

	c.DeliverBook(backend.Book{ID: "b1", PageCount: 4})
	c.Settle()
	assert.Equal(t, 25.0, c.Progress())

	c.Next()
	c.Next()
	c.Next()
	c.Next()
	assert.Equal(t, 3, c.Page(), "next stops at the last page")
	assert.Equal(t, 100.0, c.Progress())

	c.SetPage(-5)
	assert.Equal(t, 0, c.Page())
	c.Prev()
	assert.Equal(t, 0, c.Page())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, reported, 100.0)
}

func TestController_Prefetch(t *testing.T) {
	t.Parallel()

	c := newTestController(t, newTestStore(t))
	c.Open("b1", false)
	c.DeliverBook(backend.Book{ID: "b1", PageCount: 3})
	c.Settle()

	assert.Equal(t, []int{0, 1}, c.Wanted())

	// The prefetched page lands in the same cache.
	c.DeliverPage(textPage("b1", 1))
	c.Settle()
	c.Next()
	v := c.View()
	require.NotNil(t, v.Current)
	assert.Equal(t, 1, v.Current.Index)
	assert.Equal(t, []int{1, 2}, c.Wanted())

	c.Next()
	assert.Equal(t, []int{2}, c.Wanted(), "no next page on the last page")
}

func TestController_PrefetchDisabled(t *testing.T) {
	t.Parallel()

	c := New(Config{Store: newTestStore(t), DisablePrefetch: true})
	t.Cleanup(c.Close)
	c.Open("b1", false)
	c.DeliverBook(backend.Book{ID: "b1", PageCount: 3})
	c.Settle()

	assert.Equal(t, []int{0}, c.Wanted())
}

func TestController_SwitchBookClearsPageCache(t *testing.T) {
	t.Parallel()

	c := newTestController(t, newTestStore(t))
	c.Open("a", false)
	c.DeliverBook(backend.Book{ID: "a", PageCount: 3})
	c.DeliverPage(textPage("a", 0))
	c.DeliverPage(textPage("a", 1))
	c.Settle()
	require.Equal(t, []int{0, 1}, c.CachedPages())

	c.Open("b", false)
	assert.Empty(t, c.CachedPages(), "new book starts with an empty page cache")
	_, ok := c.Cached(0)
	assert.False(t, ok)

	// Late deliveries for the old book are ignored.
	c.DeliverPage(textPage("a", 2))
	c.Settle()
	assert.Empty(t, c.CachedPages())
	assert.Equal(t, "b", c.View().BookID)
}

func TestController_ResumeOnce(t *testing.T) {
	t.Parallel()

	c := newTestController(t, newTestStore(t))
	c.Open("b1", false)

	c.DeliverBook(backend.Book{ID: "b1", PageCount: 10, LastReadPageIndex: 6})
	c.Settle()
	assert.Equal(t, 6, c.Page())

	c.Prev()
	require.Equal(t, 5, c.Page())

	// A refresh re-delivering the same position does not jump again.
	c.DeliverBook(backend.Book{ID: "b1", Title: "refreshed", PageCount: 10, LastReadPageIndex: 6})
	c.Settle()
	assert.Equal(t, 5, c.Page())
}

func TestController_ResumeSkippedOnRestart(t *testing.T) {
	t.Parallel()

	c := newTestController(t, newTestStore(t))
	c.Open("b1", true)
	c.DeliverBook(backend.Book{ID: "b1", PageCount: 10, LastReadPageIndex: 6})
	c.Settle()

	assert.Equal(t, 0, c.Page())
}

func TestController_ResumeClampsAndIgnoresZero(t *testing.T) {
	t.Parallel()

	c := newTestController(t, newTestStore(t))
	c.Open("b1", false)
	c.DeliverBook(backend.Book{ID: "b1", PageCount: 4, LastReadPageIndex: 9})
	c.Settle()
	assert.Equal(t, 3, c.Page())

	c.Open("b2", false)
	c.DeliverBook(backend.Book{ID: "b2", PageCount: 4})
	c.Settle()
	assert.Equal(t, 0, c.Page())

	// Zero consumed the one-shot; a later position does not jump.
	c.DeliverBook(backend.Book{ID: "b2", PageCount: 4, LastReadPageIndex: 2})
	c.Settle()
	assert.Equal(t, 0, c.Page())
}

func TestController_ResumeFromCachedBook(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, reconcile.Save(ctx, store, BookKey("b1"),
		backend.Book{ID: "b1", PageCount: 8, LastReadPageIndex: 4}, time.Now()))

	c := newTestController(t, store)
	c.Open("b1", false)
	c.Settle()

	v := c.View()
	assert.Equal(t, 4, v.Page)
	assert.True(t, v.BookCached)
	assert.Equal(t, 8, v.TotalPages)
	assert.Equal(t, []int{4, 5}, c.Wanted())
}

func TestController_ExplicitMoveCancelsPendingResume(t *testing.T) {
	t.Parallel()

	c := newTestController(t, newTestStore(t))
	c.Open("b1", false)
	c.SetPage(2)
	c.DeliverBook(backend.Book{ID: "b1", PageCount: 10, LastReadPageIndex: 7})
	c.Settle()

	assert.Equal(t, 2, c.Page())
}

func TestController_MergeRule(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	c := newTestController(t, store)
	c.Open("b1", false)
	c.DeliverBook(backend.Book{ID: "b1", PageCount: 2})
	c.Settle()

	c.DeliverPage(textPage("b1", 0))
	c.Settle()
	v := c.View()
	require.NotNil(t, v.Current)
	assert.False(t, v.Current.HasImage())

	c.DeliverPage(imagePage("b1", 0))
	c.Settle()
	v = c.View()
	require.NotNil(t, v.Current)
	assert.True(t, v.Current.HasImage(), "image arriving after text is shown")

	// A stale refetch without the image must not win.
	c.DeliverPage(textPage("b1", 0))
	c.Settle()
	v = c.View()
	require.NotNil(t, v.Current)
	assert.True(t, v.Current.HasImage())

	env, err := reconcile.Load[backend.Page](context.Background(), store, PageKey("b1", 0))
	require.NoError(t, err)
	assert.True(t, env.Value.HasImage(), "stored entry keeps the image")
}

func TestController_MergeRuleAgainstDurableCache(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, reconcile.Save(ctx, store, PageKey("b1", 0), imagePage("b1", 0), time.Now()))

	c := newTestController(t, store)
	c.Open("b1", false)
	c.DeliverPage(textPage("b1", 0))
	c.Settle()

	v := c.View()
	require.NotNil(t, v.Current)
	assert.True(t, v.Current.HasImage())
	assert.True(t, v.CurrentCached)
}

func TestController_TeaserCompleteClearsOnce(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	c := newTestController(t, store)
	c.Open("b1", false)

	c.DeliverBook(backend.Book{ID: "b1", PageCount: 2, TeaserStatus: backend.TeaserGenerating})
	c.DeliverPage(imagePage("b1", 0))
	c.DeliverPage(textPage("b1", 1))
	c.Settle()
	require.Equal(t, []int{0, 1}, c.CachedPages())

	c.DeliverBook(backend.Book{ID: "b1", PageCount: 2, TeaserStatus: backend.TeaserComplete})
	c.Settle()
	assert.Empty(t, c.CachedPages(), "placeholders are discarded")

	keys, err := store.Keys(ctx, "page:b1:")
	require.NoError(t, err)
	assert.Empty(t, keys)

	// Final content arrives and survives later refreshes.
	c.DeliverPage(textPage("b1", 0))
	c.Settle()
	c.DeliverBook(backend.Book{ID: "b1", Title: "final", PageCount: 2, TeaserStatus: backend.TeaserComplete})
	c.Settle()
	assert.Equal(t, []int{0}, c.CachedPages())
}

// pausingStore holds DeletePrefix until release is closed.
type pausingStore struct {
	storage.Store
	entered chan struct{}
	release chan struct{}
}

func (p *pausingStore) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	close(p.entered)
	<-p.release
	return p.Store.DeletePrefix(ctx, prefix)
}

func TestController_PageDeliveredDuringClearIsPersisted(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ps := &pausingStore{Store: store, entered: make(chan struct{}), release: make(chan struct{})}
	c := newTestController(t, ps)
	c.Open("b1", false)

	c.DeliverBook(backend.Book{ID: "b1", PageCount: 2, TeaserStatus: backend.TeaserGenerating})
	c.DeliverPage(textPage("b1", 0))
	c.Settle()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.DeliverBook(backend.Book{ID: "b1", PageCount: 2, TeaserStatus: backend.TeaserComplete})
	}()
	<-ps.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.DeliverPage(imagePage("b1", 0))
	}()

	close(ps.release)
	wg.Wait()
	c.Settle()

	env, err := reconcile.Load[backend.Page](context.Background(), store, PageKey("b1", 0))
	require.NoError(t, err)
	assert.True(t, env.Value.HasImage(), "final page survives the placeholder delete")

	p, ok := c.Cached(0)
	require.True(t, ok)
	assert.True(t, p.HasImage())
}

func TestController_CompleteWithoutGeneratingKeepsCache(t *testing.T) {
	t.Parallel()

	c := newTestController(t, newTestStore(t))
	c.Open("b1", false)
	c.DeliverBook(backend.Book{ID: "b1", PageCount: 2, TeaserStatus: backend.TeaserComplete})
	c.DeliverPage(textPage("b1", 0))
	c.Settle()

	c.DeliverBook(backend.Book{ID: "b1", Title: "again", PageCount: 2, TeaserStatus: backend.TeaserComplete})
	c.Settle()
	assert.Equal(t, []int{0}, c.CachedPages())
}

func TestController_OnChangeMayReadView(t *testing.T) {
	t.Parallel()

	var c *Controller
	var views int
	var mu sync.Mutex
	c = New(Config{
		Store: newTestStore(t),
		OnChange: func() {
			_ = c.View()
			mu.Lock()
			views++
			mu.Unlock()
		},
	})
	t.Cleanup(c.Close)

	c.Open("b1", false)
	c.DeliverBook(backend.Book{ID: "b1", PageCount: 3})
	c.DeliverPage(textPage("b1", 0))
	c.Settle()

	mu.Lock()
	defer mu.Unlock()
	assert.Positive(t, views)
}

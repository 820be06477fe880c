// Package reader holds the reading state of one open book: the current
// page, a per-page cache reconciled against the durable store, next-page
// prefetch, one-shot resume and cache invalidation.
package reader

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/runger/storykit/internal/backend"
	"github.com/runger/storykit/internal/reconcile"
	"github.com/runger/storykit/internal/storage"
)

// BookKey is the store key of a book envelope.
func BookKey(bookID string) string {
	return "book:" + bookID
}

// PageKey is the store key of one page envelope.
func PageKey(bookID string, index int) string {
	return fmt.Sprintf("%s%d", PagePrefix(bookID), index)
}

// PagePrefix is the key prefix shared by every page of a book.
func PagePrefix(bookID string) string {
	return "page:" + bookID + ":"
}

// ProgressFunc receives reading progress (percent) and the page count.
type ProgressFunc func(progress float64, totalPages int)

// Config holds the collaborators and options for a Controller.
type Config struct {
	// Store is the durable cache (required).
	Store storage.Store

	// Logger (optional, uses default if nil).
	Logger *slog.Logger

	// Now returns the current time (optional, defaults to time.Now).
	Now func() time.Time

	// DisablePrefetch turns off subscribing to the next page.
	DisablePrefetch bool

	// OnChange is called after any state change, outside any lock.
	OnChange func()

	// OnProgress is called when page or page count changes.
	OnProgress ProgressFunc
}

// View is a snapshot of the reading state.
type View struct {
	BookID        string
	Book          *backend.Book
	BookCached    bool
	Page          int
	TotalPages    int
	Current       *backend.Page
	CurrentCached bool
	Loading       bool
	Progress      float64
}

// Controller owns the page position and page cache of the open book.
//
// Lock order: Controller.mu before any reconciler lock. Reconciler
// mutators (Bind, Update) notify synchronously, so they are only called
// without Controller.mu held.
type Controller struct {
	mu         sync.Mutex
	store      storage.Store
	logger     *slog.Logger
	now        func() time.Time
	prefetch   bool
	onChange   func()
	onProgress ProgressFunc
	changes    chan struct{}

	bookID        string
	restart       bool
	page          int
	resumed       bool
	teaser        backend.TeaserStatus
	teaserCleared bool
	// clearing is closed once durable page envelopes of the open book
	// have been deleted; nil when no delete is running.
	clearing chan struct{}

	book  *reconcile.Reconciler[backend.Book]
	pages map[int]*reconcile.Reconciler[backend.Page]
}

// New creates a Controller with no book open.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	c := &Controller{
		store:      cfg.Store,
		logger:     logger,
		now:        now,
		prefetch:   !cfg.DisablePrefetch,
		onChange:   cfg.OnChange,
		onProgress: cfg.OnProgress,
		changes:    make(chan struct{}, 1),
		pages:      make(map[int]*reconcile.Reconciler[backend.Page]),
	}
	c.book = c.newBookReconciler()
	return c
}

func (c *Controller) recConfig(onChange func()) reconcile.Config {
	return reconcile.Config{Store: c.store, Logger: c.logger, Now: c.now, OnChange: onChange}
}

func (c *Controller) newBookReconciler() *reconcile.Reconciler[backend.Book] {
	var rec *reconcile.Reconciler[backend.Book]
	rec = reconcile.New[backend.Book](c.recConfig(func() { c.bookChanged(rec) }))
	return rec
}

func (c *Controller) newPageReconciler() *reconcile.Reconciler[backend.Page] {
	rec := reconcile.New[backend.Page](c.recConfig(c.changed))
	rec.SetKeepCached(keepImage)
	return rec
}

// keepImage is the page merge rule: a live page replaces the cached one
// only if it brings an image the cached one lacks.
func keepImage(cached, live backend.Page) bool {
	return !(live.HasImage() && !cached.HasImage())
}

// Open switches to bookID, dropping the page cache of the previous book.
// A restart session starts at page zero and skips resume.
func (c *Controller) Open(bookID string, restart bool) {
	c.mu.Lock()
	oldBook, oldPages := c.book, c.pages

	c.bookID = bookID
	c.restart = restart
	c.page = 0
	c.resumed = restart
	c.teaser = ""
	c.teaserCleared = false
	c.clearing = nil
	c.book = c.newBookReconciler()
	c.pages = make(map[int]*reconcile.Reconciler[backend.Page])
	book := c.book
	c.mu.Unlock()

	oldBook.Close()
	for _, rec := range oldPages {
		rec.Close()
	}

	c.logger.Debug("book opened", "book_id", bookID, "restart", restart)
	if bookID != "" {
		book.Bind(BookKey(bookID))
	}
	c.syncPages()
	c.changed()
	c.reportProgress()
}

// BookID returns the open book.
func (c *Controller) BookID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bookID
}

// DeliverBook feeds a live book value. Values for other books are ignored.
func (c *Controller) DeliverBook(b backend.Book) {
	c.mu.Lock()
	if b.ID != c.bookID || c.bookID == "" {
		c.mu.Unlock()
		return
	}
	book := c.book
	c.mu.Unlock()

	book.Update(&b)
}

// DeliverPage feeds a live page value into the page cache. Values for
// other books are ignored.
func (c *Controller) DeliverPage(p backend.Page) {
	if p.Index < 0 {
		return
	}
	c.mu.Lock()
	if p.BookID != c.bookID || c.bookID == "" {
		c.mu.Unlock()
		return
	}
	rec, fresh := c.pageLocked(p.Index)
	bookID, gate := c.bookID, c.clearing
	c.mu.Unlock()

	if fresh {
		bindPage(rec, PageKey(bookID, p.Index), gate)
	}
	rec.Update(&p)
}

// pageLocked returns the reconciler for index, creating it if needed.
// A fresh reconciler still has to be bound. Caller must hold c.mu.
func (c *Controller) pageLocked(index int) (*reconcile.Reconciler[backend.Page], bool) {
	if rec, ok := c.pages[index]; ok {
		return rec, false
	}
	rec := c.newPageReconciler()
	c.pages[index] = rec
	return rec, true
}

// bookChanged applies resume and teaser invalidation whenever the
// book's merged value changes.
func (c *Controller) bookChanged(rec *reconcile.Reconciler[backend.Book]) {
	c.mu.Lock()
	if rec != c.book {
		c.mu.Unlock()
		return
	}

	var dropped map[int]*reconcile.Reconciler[backend.Page]
	var done chan struct{}
	bookID := c.bookID
	if b := rec.Result().Data; b != nil {
		if !c.resumed {
			c.resumed = true
			if b.LastReadPageIndex > 0 {
				c.page = clamp(b.LastReadPageIndex, b.PageCount)
				c.logger.Debug("resuming book", "book_id", bookID, "page", c.page)
			}
		}

		if c.teaser == backend.TeaserGenerating && b.TeaserStatus == backend.TeaserComplete && !c.teaserCleared {
			c.teaserCleared = true
			dropped = c.pages
			c.pages = make(map[int]*reconcile.Reconciler[backend.Page])
			done = make(chan struct{})
			c.clearing = done
		}
		c.teaser = b.TeaserStatus
	}
	c.mu.Unlock()

	if done != nil {
		c.discard(bookID, dropped)
		c.mu.Lock()
		if c.clearing == done {
			c.clearing = nil
		}
		c.mu.Unlock()
		close(done)
	}
	c.syncPages()
	c.changed()
	c.reportProgress()
}

// discard drops placeholder pages from memory and from the store. Page
// reconcilers created meanwhile are not bound until it returns, so the
// delete only ever removes placeholder envelopes.
func (c *Controller) discard(bookID string, pages map[int]*reconcile.Reconciler[backend.Page]) {
	for _, rec := range pages {
		rec.Close()
	}
	for _, rec := range pages {
		rec.Settle()
	}
	n, err := c.store.DeletePrefix(context.Background(), PagePrefix(bookID))
	if err != nil {
		c.logger.Debug("failed to delete cached pages", "book_id", bookID, "error", err)
		return
	}
	c.logger.Debug("teaser complete, page cache cleared", "book_id", bookID, "deleted", n)
}

// syncPages binds reconcilers for every wanted page.
func (c *Controller) syncPages() {
	c.mu.Lock()
	if c.bookID == "" {
		c.mu.Unlock()
		return
	}
	bookID, gate := c.bookID, c.clearing
	var bind []int
	var recs []*reconcile.Reconciler[backend.Page]
	for _, idx := range c.wantedLocked() {
		if rec, fresh := c.pageLocked(idx); fresh {
			bind = append(bind, idx)
			recs = append(recs, rec)
		}
	}
	c.mu.Unlock()

	for i, rec := range recs {
		bindPage(rec, PageKey(bookID, bind[i]), gate)
	}
}

// bindPage binds a fresh page reconciler once gate, if any, is closed.
// An unbound reconciler never writes.
func bindPage(rec *reconcile.Reconciler[backend.Page], key string, gate <-chan struct{}) {
	if gate != nil {
		<-gate
	}
	rec.Bind(key)
}

// Wanted returns the page indexes that should be subscribed: the current
// page and, with prefetch on, the next one.
func (c *Controller) Wanted() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wantedLocked()
}

func (c *Controller) wantedLocked() []int {
	if c.bookID == "" {
		return nil
	}
	wanted := []int{c.page}
	if total := c.totalLocked(); c.prefetch && c.page < total-1 {
		wanted = append(wanted, c.page+1)
	}
	return wanted
}

func (c *Controller) totalLocked() int {
	if b := c.book.Result().Data; b != nil {
		return b.PageCount
	}
	return 0
}

// SetPage moves to index, clamped to the book. An explicit move also
// cancels a resume that has not happened yet.
func (c *Controller) SetPage(index int) {
	c.mu.Lock()
	c.page = clamp(index, c.totalLocked())
	c.resumed = true
	c.mu.Unlock()

	c.syncPages()
	c.changed()
	c.reportProgress()
}

// Next moves forward one page.
func (c *Controller) Next() {
	c.SetPage(c.Page() + 1)
}

// Prev moves back one page.
func (c *Controller) Prev() {
	c.SetPage(c.Page() - 1)
}

// Page returns the current page index.
func (c *Controller) Page() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// Progress returns ((page+1)/total)*100, or 0 while the page count is unknown.
func (c *Controller) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return progress(c.page, c.totalLocked())
}

func progress(page, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(page+1) / float64(total) * 100
}

// Cached returns the page cache entry for index.
func (c *Controller) Cached(index int) (*backend.Page, bool) {
	c.mu.Lock()
	rec, ok := c.pages[index]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	p := rec.Result().Data
	return p, p != nil
}

// CachedPages returns the indexes with a page cache entry, sorted.
func (c *Controller) CachedPages() []int {
	c.mu.Lock()
	recs := make(map[int]*reconcile.Reconciler[backend.Page], len(c.pages))
	for idx, rec := range c.pages {
		recs[idx] = rec
	}
	c.mu.Unlock()

	var out []int
	for idx, rec := range recs {
		if rec.Result().Data != nil {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out
}

// View returns a snapshot of the reading state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{BookID: c.bookID, Page: c.page}
	if c.bookID == "" {
		return v
	}

	book := c.book.Result()
	v.Book = book.Data
	v.BookCached = book.IsCached
	v.TotalPages = c.totalLocked()
	v.Progress = progress(c.page, v.TotalPages)

	if rec, ok := c.pages[c.page]; ok {
		res := rec.Result()
		v.Current = res.Data
		v.CurrentCached = res.IsCached
		v.Loading = res.Data == nil && !res.CacheLoaded
	} else {
		v.Loading = true
	}
	return v
}

// Changes signals state changes. It has a single slot, so it suits one
// consumer that re-reads state after each signal.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

func (c *Controller) changed() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
	if c.onChange != nil {
		c.onChange()
	}
}

func (c *Controller) reportProgress() {
	if c.onProgress == nil {
		return
	}
	c.mu.Lock()
	total := c.totalLocked()
	p := progress(c.page, total)
	c.mu.Unlock()
	c.onProgress(p, total)
}

// Settle waits until every cache load and write has finished.
func (c *Controller) Settle() {
	for {
		c.mu.Lock()
		book := c.book
		pages := make(map[int]*reconcile.Reconciler[backend.Page], len(c.pages))
		for idx, rec := range c.pages {
			pages[idx] = rec
		}
		c.mu.Unlock()

		book.Settle()
		for _, rec := range pages {
			rec.Settle()
		}

		c.mu.Lock()
		done := book == c.book && len(pages) == len(c.pages)
		for idx, rec := range c.pages {
			if pages[idx] != rec {
				done = false
			}
		}
		c.mu.Unlock()
		if done {
			return
		}
	}
}

// Close stops state updates. Writes already started still complete.
func (c *Controller) Close() {
	c.mu.Lock()
	book, pages := c.book, c.pages
	c.mu.Unlock()

	book.Close()
	for _, rec := range pages {
		rec.Close()
	}
}

func clamp(index, total int) int {
	if total > 0 && index > total-1 {
		index = total - 1
	}
	if index < 0 {
		index = 0
	}
	return index
}

package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const memBaseURL = "mem://"

// CompositeCall is the normalized form of a composition request, as seen by
// Memory's compose hook.
type CompositeCall struct {
	Kind          string // "clothes" or "accessory"
	ItemID        string
	AccessoryKind string
	Description   string
	ItemAssetID   string
	BaseAssetID   string
}

// ComposeFunc decides the outcome of a composition call.
type ComposeFunc func(ctx context.Context, call CompositeCall) (CompositeResult, error)

// Memory is an in-process backend. It serves the dev backend binary and
// tests; every method is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	books   map[string]Book
	pages   map[string]Page
	jobs    map[string]StoryJob
	assets  map[string][]byte
	urls    map[string]bool
	calls   map[string]int
	compose ComposeFunc
	unlock  error
	now     func() time.Time
	baseURL string
}

// NewMemory creates an empty in-memory backend whose compositions succeed.
func NewMemory() *Memory {
	return &Memory{
		books:   make(map[string]Book),
		pages:   make(map[string]Page),
		jobs:    make(map[string]StoryJob),
		assets:  make(map[string][]byte),
		urls:    make(map[string]bool),
		calls:   make(map[string]int),
		now:     time.Now,
		baseURL: memBaseURL,
	}
}

// SetBaseURL makes upload and asset URLs point at base, where Handler is
// expected to be mounted. Call it before serving.
func (m *Memory) SetBaseURL(base string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseURL = strings.TrimSuffix(base, "/") + "/"
}

// JobIDs lists the ids of every submitted job.
func (m *Memory) JobIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	return ids
}

// SetCompose replaces the composition hook. nil restores the default.
func (m *Memory) SetCompose(fn ComposeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compose = fn
}

// SetUnlockError makes UnlockWardrobe fail with err (nil to succeed).
func (m *Memory) SetUnlockError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlock = err
}

// PutBook stores or replaces a book.
func (m *Memory) PutBook(b Book) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = b
}

// PutPage stores or replaces a page.
func (m *Memory) PutPage(p Page) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[pageKey(p.BookID, p.Index)] = p
}

// UpdateJob applies fn to a stored job.
func (m *Memory) UpdateJob(jobID string, fn func(*StoryJob)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	fn(&job)
	job.UpdatedAt = m.now()
	m.jobs[jobID] = job
	return nil
}

// Asset returns an uploaded blob.
func (m *Memory) Asset(assetID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.assets[assetID]
	return b, ok
}

// Calls returns how many times method was invoked.
func (m *Memory) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (m *Memory) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func (m *Memory) record(method string) {
	m.mu.Lock()
	m.calls[method]++
	m.mu.Unlock()
}

func (m *Memory) GenerateUploadURL(ctx context.Context) (string, error) {
	m.record("GenerateUploadURL")
	m.mu.Lock()
	url := m.baseURL + "upload/" + uuid.NewString()
	m.urls[url] = true
	m.mu.Unlock()
	return url, nil
}

func (m *Memory) Upload(ctx context.Context, url string, blob []byte, contentType string) (UploadResult, error) {
	m.record("Upload")
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.urls[url] {
		return UploadResult{}, fmt.Errorf("unknown upload url %q", url)
	}
	delete(m.urls, url)
	id := "asset-" + uuid.NewString()
	m.assets[id] = append([]byte(nil), blob...)
	return UploadResult{AssetID: id}, nil
}

func (m *Memory) AddClothesToComposite(ctx context.Context, req ClothesRequest) (CompositeResult, error) {
	m.record("AddClothesToComposite")
	return m.runCompose(ctx, CompositeCall{
		Kind:        "clothes",
		ItemID:      req.ItemID,
		Description: req.Description,
		ItemAssetID: req.ItemAssetID,
		BaseAssetID: req.BaseAssetID,
	})
}

func (m *Memory) AddAccessoryToComposite(ctx context.Context, req AccessoryRequest) (CompositeResult, error) {
	m.record("AddAccessoryToComposite")
	return m.runCompose(ctx, CompositeCall{
		Kind:          "accessory",
		ItemID:        req.ItemID,
		AccessoryKind: req.Kind,
		Description:   req.Description,
		ItemAssetID:   req.ItemAssetID,
		BaseAssetID:   req.BaseAssetID,
	})
}

func (m *Memory) runCompose(ctx context.Context, call CompositeCall) (CompositeResult, error) {
	m.mu.Lock()
	fn := m.compose
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, call)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[call.ItemAssetID]; !ok {
		return CompositeResult{Success: false, Error: "item asset not found"}, nil
	}
	id := "asset-" + uuid.NewString()
	m.assets[id] = []byte(call.BaseAssetID + "+" + call.ItemAssetID)
	return CompositeResult{Success: true, AssetID: id, ImageURL: m.baseURL + "assets/" + id}, nil
}

func (m *Memory) UnlockWardrobe(ctx context.Context) error {
	m.record("UnlockWardrobe")
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlock
}

func (m *Memory) GetBook(ctx context.Context, bookID string) (Book, error) {
	m.record("GetBook")
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[bookID]
	if !ok {
		return Book{}, fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}
	return b, nil
}

func (m *Memory) GetBookPage(ctx context.Context, bookID string, pageIndex int) (Page, error) {
	m.record("GetBookPage")
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[pageKey(bookID, pageIndex)]
	if !ok {
		return Page{}, fmt.Errorf("page %s/%d: %w", bookID, pageIndex, ErrNotFound)
	}
	return p, nil
}

func (m *Memory) SubmitStoryJob(ctx context.Context, params StoryJobParams) (StoryJob, error) {
	m.record("SubmitStoryJob")
	if params.Prompt == "" {
		return StoryJob{}, errors.New("prompt is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	job := StoryJob{
		ID:              "job-" + uuid.NewString(),
		Status:          JobQueued,
		ReservedCredits: max(params.PageCount, 1),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.jobs[job.ID] = job
	return job, nil
}

func (m *Memory) GetStoryJob(ctx context.Context, jobID string) (StoryJob, error) {
	m.record("GetStoryJob")
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return StoryJob{}, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return job, nil
}

func pageKey(bookID string, index int) string {
	return fmt.Sprintf("%s/%d", bookID, index)
}

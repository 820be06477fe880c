// Package app wires the storykit components together from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/runger/storykit/internal/backend"
	"github.com/runger/storykit/internal/config"
	"github.com/runger/storykit/internal/reader"
	"github.com/runger/storykit/internal/storage"
	"github.com/runger/storykit/internal/storyjob"
	"github.com/runger/storykit/internal/wardrobe"
)

// Options holds the collaborators for an App. Zero fields are built
// from Config.
type Options struct {
	// Config is the loaded configuration (required).
	Config *config.Config

	// Paths resolves default file locations (optional, XDG defaults).
	Paths *config.Paths

	// Logger (optional, uses default if nil).
	Logger *slog.Logger

	// Store overrides the SQLite cache (optional).
	Store storage.Store

	// Backend overrides the gRPC client (optional).
	Backend backend.Client

	// Assets overrides the catalog loaded from disk (optional).
	Assets wardrobe.AssetSource

	// Prefetcher overrides the disk image cache (optional).
	Prefetcher wardrobe.Prefetcher
}

// App holds the shared store, backend connection and wardrobe
// orchestrator of one storykit process.
type App struct {
	cfg    *config.Config
	paths  *config.Paths
	logger *slog.Logger

	store   storage.Store
	backend backend.Client
	closers []func() error

	assets     wardrobe.AssetSource
	prefetcher wardrobe.Prefetcher

	wardrobeOnce sync.Once
	orch         atomic.Pointer[wardrobe.Orchestrator]
	orchErr      error

	triggers sync.WaitGroup
}

// New builds an App. The backend connection is lazy, so New succeeds
// without a reachable backend.
func New(opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	paths := opts.Paths
	if paths == nil {
		paths = config.DefaultPaths()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		cfg:        opts.Config,
		paths:      paths,
		logger:     logger,
		store:      opts.Store,
		backend:    opts.Backend,
		assets:     opts.Assets,
		prefetcher: opts.Prefetcher,
	}

	if a.store == nil {
		s, err := storage.NewSQLiteStore(a.cfg.DBPath(paths))
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		s.SetLogger(logger)
		a.store = s
		a.closers = append(a.closers, s.Close)
	}

	if a.backend == nil {
		conn, err := backend.Dial(a.cfg.Backend.Target)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, conn.Close)
		client, err := backend.NewGRPCClient(backend.GRPCClientConfig{
			Conn:        conn,
			Uploader:    backend.NewHTTPUploader(nil, a.cfg.CallTimeout()),
			CallTimeout: a.cfg.CallTimeout(),
		})
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.backend = client
	}

	return a, nil
}

// Config returns the configuration the App was built with.
func (a *App) Config() *config.Config { return a.cfg }

// Paths returns the resolved default locations.
func (a *App) Paths() *config.Paths { return a.paths }

// Logger returns the App logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Store returns the durable cache.
func (a *App) Store() storage.Store { return a.store }

// Backend returns the backend client.
func (a *App) Backend() backend.Client { return a.backend }

// Wardrobe returns the orchestrator, loading the item catalog on first use.
func (a *App) Wardrobe() (*wardrobe.Orchestrator, error) {
	a.wardrobeOnce.Do(func() {
		assets := a.assets
		if assets == nil {
			catalog, err := wardrobe.LoadCatalog(a.cfg.CatalogPath(a.paths))
			if err != nil {
				a.orchErr = err
				return
			}
			assets = catalog
		}
		prefetcher := a.prefetcher
		if prefetcher == nil {
			prefetcher = wardrobe.NewDiskPrefetcher(a.cfg.ImageCacheDir(a.paths), &http.Client{Timeout: a.cfg.CallTimeout()})
		}
		orch, err := wardrobe.NewOrchestrator(wardrobe.Config{
			Store:             a.store,
			Backend:           a.backend,
			Assets:            assets,
			Prefetcher:        prefetcher,
			Logger:            a.logger.With("component", "wardrobe"),
			ProgressThreshold: a.cfg.Wardrobe.ProgressThreshold,
			StaleAfter:        a.cfg.StaleAfter(),
			UnlockTimeout:     a.cfg.UnlockTimeout(),
		})
		if err != nil {
			a.orchErr = err
			return
		}
		a.orch.Store(orch)
	})
	return a.orch.Load(), a.orchErr
}

// NewReader creates a reading state controller whose progress reports
// trigger the wardrobe orchestrator. onChange may be nil.
func (a *App) NewReader(onChange func()) *reader.Controller {
	return reader.New(reader.Config{
		Store:           a.store,
		Logger:          a.logger.With("component", "reader"),
		DisablePrefetch: !a.cfg.Reader.Prefetch,
		OnChange:        onChange,
		OnProgress:      a.onProgress,
	})
}

func (a *App) onProgress(progress float64, totalPages int) {
	orch, err := a.Wardrobe()
	if err != nil {
		a.logger.Debug("wardrobe unavailable", "error", err)
		return
	}
	a.triggers.Add(1)
	go func() {
		defer a.triggers.Done()
		outcome := orch.OnProgress(context.Background(), progress, totalPages)
		a.logger.Debug("wardrobe trigger", "progress", progress, "outcome", outcome)
	}()
}

// Jobs returns a story job tracker polling at the configured interval.
func (a *App) Jobs() *storyjob.Tracker {
	return storyjob.NewTracker(a.backend, a.logger.With("component", "storyjob"), a.cfg.PollInterval())
}

// Close waits for in-flight wardrobe work and releases the store and
// backend connection.
func (a *App) Close() error {
	a.triggers.Wait()
	if orch := a.orch.Load(); orch != nil {
		orch.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

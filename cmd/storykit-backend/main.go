// storykit-backend is an in-memory development backend. It serves the
// backend gRPC service plus the upload and asset URLs the service hands
// out, optionally seeded with books and advancing story jobs on a timer.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/runger/storykit/internal/backend"
	"github.com/runger/storykit/internal/logging"
	"github.com/runger/storykit/internal/telemetry"
)

type options struct {
	grpcAddr  string
	httpAddr  string
	publicURL string
	seedFile  string
	jobStep   time.Duration
	logLevel  string
	otelURL   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "storykit-backend: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "storykit-backend",
		Short:        "in-memory storykit backend for development",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.grpcAddr, "grpc", "localhost:7420", "gRPC listen address")
	f.StringVar(&opts.httpAddr, "http", "localhost:7421", "upload/asset HTTP listen address")
	f.StringVar(&opts.publicURL, "public-url", "", "base URL clients use for the HTTP listener (default http://<http>)")
	f.StringVar(&opts.seedFile, "seed", "", "YAML file of books to preload")
	f.DurationVar(&opts.jobStep, "job-step", 2*time.Second, "interval between story job progress steps (0 disables)")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level")
	f.StringVar(&opts.otelURL, "otel-endpoint", os.Getenv("STORYKIT_TELEMETRY_ENDPOINT"), "OTLP/HTTP trace endpoint")
	return cmd
}

func run(ctx context.Context, opts *options) error {
	logger, closeLog, err := logging.Open(opts.logLevel, "json", "")
	if err != nil {
		return err
	}
	defer closeLog()

	shutdown, err := telemetry.Setup(ctx, "storykit-backend", opts.otelURL)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	defer shutdown(context.Background())

	mem := backend.NewMemory()
	public := opts.publicURL
	if public == "" {
		public = "http://" + opts.httpAddr
	}
	mem.SetBaseURL(public)

	if opts.seedFile != "" {
		n, err := loadSeed(mem, opts.seedFile)
		if err != nil {
			return err
		}
		logger.Info("seed loaded", "file", opts.seedFile, "books", n)
	}

	lis, err := net.Listen("tcp", opts.grpcAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", opts.grpcAddr, err)
	}
	srv := grpc.NewServer(backend.ServerOptions()...)
	backend.RegisterServer(srv, mem)

	httpSrv := &http.Server{
		Addr:              opts.httpAddr,
		Handler:           mem.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("grpc listening", "addr", lis.Addr().String())
		return srv.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("http listening", "addr", opts.httpAddr, "public_url", public)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if opts.jobStep > 0 {
		g.Go(func() error {
			newSimulator(mem, logger).run(ctx, opts.jobStep)
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		srv.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

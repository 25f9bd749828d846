package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nvr-ai/scan4stroke/api"
	"github.com/nvr-ai/scan4stroke/config"
	"github.com/nvr-ai/scan4stroke/inference"
	"github.com/nvr-ai/scan4stroke/profiler"
	"github.com/pkg/errors"
)

// shutdownTimeout bounds how long in-flight requests may run after a signal.
const shutdownTimeout = 30 * time.Second

func main() {
	var envFile string
	flag.StringVar(&envFile, "env", "", "path to load env from")
	flag.Parse()

	os.Exit(run(envFile))
}

// run returns the process exit code so that deferred cleanup always runs.
func run(envFile string) int {
	cfg, err := config.Load(envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		return 2
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The service starts even if the assets are missing; /health reports why.
	svc := inference.Open(ctx, cfg.Inference(logger), cfg.ModelLoader())
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("error closing model", "error", err)
		}
	}()

	prof := profiler.NewRuntimeProfiler(profiler.ProfilingOptions{
		ReportInterval: cfg.ReportInterval,
		Logger:         logger,
	})
	prof.Start()
	defer prof.Stop()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(cfg, svc, prof),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("stroke classifier listening", "port", cfg.Port, "ready", svc.Ready())
	if err := serve(ctx, server, logger); err != nil {
		logger.Error("server failed", "port", cfg.Port, "error", err)
		return 1
	}

	logger.Info("server stopped")
	return 0
}

func newRouter(cfg config.Config, svc *inference.Service, prof *profiler.RuntimeProfiler) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	api.NewClassifierService(svc, prof, cfg.MaxUploadBytes).AddRoutes(r)
	return r
}

// serve runs server until ctx is done, then shuts it down gracefully.
//
// Returns:
//   - error: A listen failure, or a shutdown that did not finish in time.
func serve(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- server.ListenAndServe()
	}()

	select {
	case err := <-listenErr:
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server forced to shutdown")
	}
	if err := <-listenErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "listen")
	}
	return nil
}

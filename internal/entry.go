// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/berkano/internal/api"
	"github.com/starford/berkano/internal/content"
	"github.com/starford/berkano/internal/dispatch"
	"github.com/starford/berkano/internal/graph"
	"github.com/starford/berkano/internal/mcpserver"
	"github.com/starford/berkano/internal/reconcile"
	"github.com/starford/berkano/internal/result"
	"github.com/starford/berkano/internal/store"
	"github.com/starford/berkano/internal/txn"
	"github.com/starford/berkano/internal/vault"
	"github.com/starford/berkano/internal/watch"
)

// engine bundles the wired components shared by the server, the one-shot
// commands, and the MCP entry point.
type engine struct {
	files  *vault.FS
	db     *store.Store
	relay  *dispatch.Relay
	disp   *dispatch.Dispatcher
	coord  *txn.Coordinator
	svc    *content.Service
	eng    *reconcile.Engine
	logger *slog.Logger
}

func (e *engine) close() {
	if err := e.db.Close(); err != nil {
		e.logger.Warn("store close failed", slog.String("error", err.Error()))
	}
}

// buildEngine wires the full stack from config.
func buildEngine(cfg *Config, logger *slog.Logger) (*engine, error) {
	if err := os.MkdirAll(cfg.Garden.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create garden dir: %w", err)
	}

	files, err := vault.NewFS(cfg.Garden.Path)
	if err != nil {
		return nil, fmt.Errorf("init garden: %w", err)
	}

	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	mode, err := dispatch.ParseMode(cfg.Dispatch.Mode)
	if err != nil {
		db.Close()
		return nil, err
	}
	relay := dispatch.NewRelay()
	disp := dispatch.New(db, relay, dispatch.Options{
		Mode:       mode,
		Workers:    cfg.Dispatch.Workers,
		MaxRetries: cfg.Dispatch.MaxRetries,
		TaskWait:   cfg.Dispatch.TaskWait,
	}, logger)

	cache := graph.NewCache(db)
	coord := txn.New(db, files, cache, logger)
	svc := content.NewService(coord, disp, db, files, logger)

	backups := reconcile.NewBackups(db, cfg.Backups.Dir, cfg.Backups.Prefix, cfg.Backups.Max, logger)
	eng := reconcile.New(coord, db, files, backups, reconcile.HealthConfig{
		StaleAfter:    cfg.Health.StaleAfter,
		PromoteDegree: cfg.Health.PromoteDegree,
	}, logger)

	return &engine{
		files:  files,
		db:     db,
		relay:  relay,
		disp:   disp,
		coord:  coord,
		svc:    svc,
		eng:    eng,
		logger: logger,
	}, nil
}

func newLogger(cfg *Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// Run starts the long-running server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config
	logger := newLogger(cfg)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("garden_path", cfg.Garden.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	e, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.close()

	// Startup detection pass: report drift, never block startup on it.
	if res := e.eng.Check(ctx); res.OK {
		if rep, ok := res.Data.(reconcile.CheckReport); ok && (rep.Errors > 0 || rep.Warnings > 0) {
			logger.Warn("startup check found issues",
				slog.Int("errors", rep.Errors),
				slog.Int("warnings", rep.Warnings))
		}
	}

	apiRouter := api.NewRouter(e.svc, e.coord, e.eng, e.disp, e.db, cfg.Auth.AuthEnabled(), cfg.Auth.Token)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher for out-of-band edits.
	g.Go(func() error {
		return watch.Watch(gCtx, e.svc, e.files, logger)
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		// Drain the dispatch log before letting go of the store.
		if err := e.disp.Shutdown(shutdownCtx); err != nil {
			logger.Error("dispatcher shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunOp executes one maintenance operation against the configured garden and
// prints its result envelope to stdout. A failed result is also an error so
// the process exits non-zero.
func RunOp(ctx context.Context, cfg *Config, op, level string) error {
	logger := newLogger(cfg)

	e, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.close()

	var res result.Result
	switch op {
	case "check":
		res = e.eng.Check(ctx)
	case "fix":
		res = e.eng.Fix(ctx, level)
	case "rebuild":
		res = e.eng.Rebuild(ctx)
	case "rollback":
		res = e.eng.Rollback(ctx)
	case "drain":
		drained, err := e.disp.Drain(ctx)
		if err != nil {
			res = result.Fail("drain", err)
		} else {
			res = result.OK("drain", map[string]any{"drained": drained}, nil)
		}
	default:
		return fmt.Errorf("unknown operation %q", op)
	}

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if !res.OK {
		return fmt.Errorf("%s failed: %s", op, res.Error)
	}
	return nil
}

// RunMCP serves the MCP tools over stdio. Logs go to stderr so stdout stays
// clean for the protocol.
func RunMCP(ctx context.Context, cfg *Config) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	e, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.close()

	return mcpserver.New(e.svc, e.eng, e.disp, e.db).ServeStdio()
}

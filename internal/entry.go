// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/wrenfield/loreshare/internal/api"
	"github.com/wrenfield/loreshare/internal/bus"
	"github.com/wrenfield/loreshare/internal/contentsrc"
	"github.com/wrenfield/loreshare/internal/mcpserver"
	"github.com/wrenfield/loreshare/internal/relay"
	"github.com/wrenfield/loreshare/internal/roomstore"
	"github.com/wrenfield/loreshare/internal/roster"
	"github.com/wrenfield/loreshare/internal/session"
	"github.com/wrenfield/loreshare/internal/tree"
)

// Run starts a participant process with the given options: the room
// session plus the REST API and SSE stream on the configured port.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg, os.Stdout)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("room_id", cfg.Room.ID),
		slog.String("participant_id", cfg.Room.ParticipantID),
		slog.String("transport", cfg.Transport.Mode),
		slog.String("store_path", cfg.Store.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	sess, cleanup, err := buildSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	apiRouter := api.NewRouter(sess, cfg.Auth.AuthEnabled(), cfg.Auth.Token, sess.Events())

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", healthOK)
	r.Get("/health/ready", healthOK)

	// Mount API routes under /api. The router serves the SSE stream at
	// /api/events itself.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	// The session only stops on cancellation, so the signal handler
	// cancels runCtx once the HTTP server is drained.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(runCtx)

	// Run the room session: role resolution, heartbeats, replication.
	g.Go(func() error {
		if err := sess.Run(gCtx); err != nil {
			return fmt.Errorf("session error: %w", err)
		}
		return nil
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
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunRelay starts a standalone relay with the given options. The relay
// carries room traffic between hosts and keeps no state; any participant
// can host it for the room.
func RunRelay(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg, os.Stdout)

	logger.Info("Configuration loaded",
		slog.String("listen", cfg.Transport.Listen),
		slog.String("log_level", cfg.App.LogLevel.String()))

	srv := relay.NewServer(logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", healthOK)
	r.Get("/health/ready", healthOK)
	r.Get("/ws", srv.ServeHTTP)

	httpServer := &http.Server{
		Addr:    cfg.Transport.Listen,
		Handler: r,
	}

	logger.Info("Relay starting...", slog.String("listen", cfg.Transport.Listen))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down relay...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		// Shutdown does not touch hijacked websocket conns; closing the
		// relay disconnects them.
		srv.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Relay stopped successfully")
	return nil
}

// RunMCP starts a participant that serves MCP over stdio instead of
// HTTP. Logs go to stderr; stdout carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg, os.Stderr)

	logger.Info("Configuration loaded",
		slog.String("room_id", cfg.Room.ID),
		slog.String("participant_id", cfg.Room.ParticipantID),
		slog.String("transport", cfg.Transport.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	sess, cleanup, err := buildSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := mcpserver.New(sess)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		if err := sess.Run(gCtx); err != nil {
			return fmt.Errorf("session error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Serving MCP over stdio")
		err := srv.Listen(gCtx, os.Stdin, os.Stdout)
		// The client hanging up ends the process; stop the session too.
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-gCtx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Session stopped successfully")
	return nil
}

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger initializes the structured JSON logger and installs it as
// the process default.
func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// buildSession wires storage, roster, transport and the content source
// into a session. The returned cleanup closes what the session does not
// own and is safe to call once Run has returned.
func buildSession(ctx context.Context, cfg *Config, logger *slog.Logger) (*session.Session, func(), error) {
	db, err := roomstore.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open room store: %w", err)
	}

	store, err := tree.NewStore(cfg.Room.TreePath, logger)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("init tree store: %w", err)
	}
	if err := store.Load(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("load tree: %w", err)
	}

	ros, err := roster.Load(cfg.Room.RosterPath, logger)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("load roster: %w", err)
	}

	var b bus.Bus
	switch cfg.Transport.Mode {
	case TransportRelay:
		b, err = relay.Dial(ctx, cfg.Transport.RelayURL, cfg.Room.ID, cfg.Room.ParticipantID, logger)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("dial relay: %w", err)
		}
	default:
		// A single-process room: every participant shares this broker.
		b = bus.NewBroker()
	}

	name := cfg.Room.ParticipantName
	if name == "" {
		name = cfg.Room.ParticipantID
	}

	sess := session.New(session.Params{
		ID:     cfg.Room.ParticipantID,
		Name:   name,
		RoomID: cfg.Room.ID,
		Bus:    b,
		DB:     db,
		Store:  store,
		Roster: ros,
		Source: contentsrc.NewHTTP(logger),

		OwnerTimeout:      cfg.Protocol.OwnerTimeout,
		HeartbeatInterval: cfg.Protocol.HeartbeatInterval,
		RolePollInterval:  cfg.Protocol.RolePollInterval,
		RequestTimeout:    cfg.Protocol.RequestTimeout,
		CacheTTL:          cfg.Protocol.CacheTTL,

		Logger: logger,
	})

	cleanup := func() {
		b.Close()
		if err := db.Close(); err != nil {
			logger.Error("room store close error", slog.String("error", err.Error()))
		}
	}
	return sess, cleanup, nil
}

func healthOK(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

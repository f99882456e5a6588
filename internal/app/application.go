package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"codesync/internal/api"
	"codesync/internal/config"
	"codesync/internal/database"
	"codesync/internal/execute"
	"codesync/internal/hub"
	"codesync/internal/metrics"
	"codesync/internal/router"
	"codesync/internal/websocket"
	pkgdatabase "codesync/pkg/database"
	"codesync/pkg/interfaces"
)

// Application owns every long-lived component of the server.
type Application struct {
	config     *config.Config
	log        *slog.Logger
	registry   *websocket.Registry
	journal    *database.Manager
	messageHub *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
	serverErr  chan error
}

// NewApplication wires the components in dependency order:
// Logger → Metrics → Journal → Registry → Router → Hub → Executor → HTTP.
// Log output goes to w; nil means discard.
func NewApplication(cfg *config.Config, w io.Writer) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := NewLogger(cfg.Log, w)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var (
		journal   *database.Manager
		journalIf interfaces.Journal
	)
	if cfg.Database.Path != "" {
		dbConfig := pkgdatabase.DefaultConfig()
		dbConfig.DatabasePath = cfg.Database.Path
		dbConfig.ConnMaxLifetime = cfg.Database.Timeout
		dbConfig.ConnMaxIdleTime = cfg.Database.Timeout / 3
		dbConfig.QueueSize = cfg.Database.QueueSize

		var err error
		journal, err = database.NewManager(dbConfig, log.With("component", "journal"))
		if err != nil {
			return nil, fmt.Errorf("failed to open activity journal: %w", err)
		}
		journalIf = journal
	} else {
		log.Info("Activity journal disabled")
	}

	registry := websocket.NewRegistry()

	messageRouter, err := router.NewRouter(registry, m, log.With("component", "router"))
	if err != nil {
		closeJournal(journal, log)
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	messageHub, err := hub.NewHub(messageRouter, hub.Options{
		Journal: journalIf,
		Metrics: m,
		Logger:  log.With("component", "hub"),
	})
	if err != nil {
		closeJournal(journal, log)
		return nil, fmt.Errorf("failed to create hub: %w", err)
	}

	executor := execute.NewClient(execute.Options{
		Endpoint: cfg.Execution.Endpoint,
		Timeout:  cfg.Execution.Timeout,
		Versions: cfg.Execution.Versions,
		Journal:  journalIf,
		Metrics:  m,
		Logger:   log.With("component", "execute"),
	})

	wsHandler := websocket.NewHandler(registry, messageHub, websocket.Settings{
		PingInterval:    cfg.WebSocket.PingInterval,
		ReadTimeout:     cfg.WebSocket.ReadTimeout,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		BufferSize:      cfg.WebSocket.BufferSize,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
	}, m, log.With("component", "websocket"))

	apiServer := api.NewServer(api.Deps{
		Rooms:          messageHub,
		Connections:    registry,
		Journal:        journalIf,
		Executor:       executor,
		Gatherer:       reg,
		WebSocket:      http.HandlerFunc(wsHandler.HandleWebSocket),
		Logger:         log.With("component", "api"),
		RequestLogging: w != nil,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		log:        log,
		registry:   registry,
		journal:    journal,
		messageHub: messageHub,
		apiServer:  apiServer,
		httpServer: httpServer,
		serverErr:  make(chan error, 1),
	}, nil
}

// Start runs the hub, binds the configured address and begins serving
// HTTP. Bind failures are returned; later serve failures arrive on Err.
func (app *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("HTTP listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(ctx, ln)
}

// Serve runs the hub and serves HTTP on ln in the background.
func (app *Application) Serve(ctx context.Context, ln net.Listener) error {
	app.log.Info("Starting codesync", "addr", ln.Addr().String())

	if err := app.messageHub.Start(ctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.log.Error("HTTP server stopped", "err", err)
			app.serverErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	app.log.Info("codesync started")
	return nil
}

// Err delivers at most one error if the HTTP server stops on its own.
// It is never closed.
func (app *Application) Err() <-chan error {
	return app.serverErr
}

// Stop shuts down in reverse dependency order: HTTP → Hub → Journal.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("Shutting down codesync")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Error("HTTP server shutdown failed", "err", err)
		errs = append(errs, err)
	}
	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.log.Error("Message hub shutdown failed", "err", err)
		errs = append(errs, err)
	}
	if app.journal != nil {
		if err := app.journal.Close(); err != nil {
			app.log.Error("Journal shutdown failed", "err", err)
			errs = append(errs, err)
		}
	}

	app.log.Info("codesync shutdown complete")
	return errors.Join(errs...)
}

// StartHub starts only the coordinator; tests serve Handler themselves.
func (app *Application) StartHub(ctx context.Context) error {
	return app.messageHub.Start(ctx)
}

// Handler is the root HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// GetAddr returns the configured listen address.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}

// NewLogger builds the process logger from the log section of the config.
func NewLogger(cfg *config.LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		return slog.New(slog.DiscardHandler)
	}
	level := slog.LevelInfo
	format := "text"
	if cfg != nil {
		format = strings.ToLower(cfg.Format)
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = slog.LevelInfo
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func closeJournal(journal *database.Manager, log *slog.Logger) {
	if journal == nil {
		return
	}
	if err := journal.Close(); err != nil {
		log.Error("Journal close failed", "err", err)
	}
}

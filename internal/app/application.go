package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/HoangQuocKhanh0504/khanhpclass/internal/api"
	"github.com/HoangQuocKhanh0504/khanhpclass/internal/config"
	"github.com/HoangQuocKhanh0504/khanhpclass/internal/hub"
	"github.com/HoangQuocKhanh0504/khanhpclass/internal/journal"
	"github.com/HoangQuocKhanh0504/khanhpclass/internal/metrics"
	"github.com/HoangQuocKhanh0504/khanhpclass/internal/room"
	"github.com/HoangQuocKhanh0504/khanhpclass/internal/router"
	"github.com/HoangQuocKhanh0504/khanhpclass/internal/websocket"
)

const cleanupInterval = time.Minute

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	journal    *journal.Journal // nil when disabled
	metrics    *metrics.Collector
	rooms      *room.Manager
	registry   *websocket.Registry
	router     *router.Router
	hub        *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
	listener   net.Listener
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Journal → Metrics → Rooms → Registry → Router → Hub → WebSocket → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{config: cfg, stopCh: make(chan struct{})}

	// STEP 1: Activity journal (optional)
	if cfg.Journal.Enabled {
		j, err := journal.Open(journal.Config{
			QueueSize: cfg.Journal.QueueSize,
			Retention: cfg.Journal.Retention.Std(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open activity journal: %w", err)
		}
		app.journal = j
	}

	// STEP 2: Metrics and room state
	app.metrics = metrics.NewCollector()
	roomOpts := room.Options{
		GracePeriod:      cfg.Rooms.GracePeriod.Std(),
		AccessCodeCost:   cfg.Rooms.AccessCodeCost,
		MaxCapacity:      cfg.Rooms.MaxCapacity,
		TeardownUnjoined: cfg.Rooms.TeardownUnjoined,
		ReplayLastFrames: cfg.Rooms.ReplayLastFrames,
		Metrics:          app.metrics,
	}
	if app.journal != nil {
		roomOpts.Recorder = app.journal
	}
	app.rooms = room.NewManager(roomOpts)

	// STEP 3: Connection tracking and event dispatch
	app.registry = websocket.NewRegistry()
	app.router = router.NewRouter(cfg.Rooms.JoinAttemptsPerMinute, app.metrics)
	app.hub = hub.NewHub(app.router, cfg.Hub.Workers, cfg.Hub.QueueSize)

	wsHandler := websocket.NewHandler(app.registry, app.hub, app.rooms, app.metrics, websocket.Options{
		BufferSize:     cfg.WebSocket.BufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		WriteWait:      cfg.WebSocket.WriteTimeout.Std(),
		PongWait:       cfg.WebSocket.ReadTimeout.Std(),
		PingInterval:   cfg.WebSocket.PingInterval.Std(),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	// STEP 4: HTTP surface
	var activity api.ActivityStore
	if app.journal != nil {
		activity = app.journal
	}
	app.apiServer = api.NewServer(app.rooms, activity, app.registry, app.metrics, api.Options{
		StaticDir:           cfg.HTTP.StaticDir,
		AllowedOrigins:      cfg.HTTP.AllowedOrigins,
		CreateRoomPerMinute: cfg.HTTP.CreateRoomPerMinute,
		WebSocket:           http.HandlerFunc(wsHandler.HandleWebSocket),
	})

	app.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.HTTP.Host, fmt.Sprint(cfg.HTTP.Port)),
		Handler:           app.apiServer,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout.Std(),
		IdleTimeout:       cfg.HTTP.IdleTimeout.Std(),
	}

	return app, nil
}

// Start begins application execution
// Hub starts first to handle events, then the listener accepts connections
func (app *Application) Start(ctx context.Context) error {
	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	go app.cleanupLoop(ctx)

	slog.Info("khanhpclass started",
		"addr", listener.Addr().String(),
		"grace_period", app.config.Rooms.GracePeriod.Std(),
		"journal", app.journal != nil)
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Connections → Hub → Rooms → Journal
func (app *Application) Stop(ctx context.Context) error {
	slog.Info("shutting down")
	app.stopOnce.Do(func() { close(app.stopCh) })

	var errs []error
	// Shutdown does not track hijacked WebSocket connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	app.registry.CloseAll()

	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub stop: %w", err))
	}
	app.rooms.Shutdown()

	if app.journal != nil {
		if err := app.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal close: %w", err))
		}
	}

	slog.Info("shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound listener address once started, else the configured one
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Rooms exposes the room manager for embedding and tests
func (app *Application) Rooms() *room.Manager {
	return app.rooms
}

func (app *Application) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			app.apiServer.Cleanup()
		case <-app.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

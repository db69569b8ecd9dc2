package wsserver

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/example/presence-relay/config"
	"github.com/example/presence-relay/modules/activity"
	"github.com/example/presence-relay/modules/relay"
)

// Module implements the WebSocket listener using the Fiber framework.
type Module struct {
	app            *fiber.App
	handlers       *Handlers
	listener       net.Listener
	cfg            config.Config
	relayModule    *relay.Module
	activityModule *activity.Module
	logger         types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new WebSocket server module.
func NewModule(cfg config.Config, relayModule *relay.Module, activityModule *activity.Module, moduleLogger types.Logger) *Module {
	return &Module{
		cfg:            cfg,
		relayModule:    relayModule,
		activityModule: activityModule,
		logger:         moduleLogger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "ws-server"
}

// Start initializes and starts the WebSocket server.
func (m *Module) Start(_ context.Context) error {
	m.setupApp()

	ln, err := net.Listen("tcp", m.cfg.Addr())
	if err != nil {
		return fmt.Errorf("WebSocket server failed to listen on %s: %w", m.cfg.Addr(), err)
	}
	m.listener = ln

	// Start server in goroutine with startup error detection
	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listener(ln); err != nil {
			errCh <- err
		}
	}()

	// Wait briefly to catch immediate startup errors
	select {
	case err := <-errCh:
		return fmt.Errorf("WebSocket server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	m.logger.Info("WebSocket server started", "addr", m.Addr())
	return nil
}

// Stop closes every open connection and shuts down the server.
func (m *Module) Stop(ctx context.Context) error {
	if m.handlers != nil {
		if n := m.handlers.closeAll(); n > 0 {
			m.logger.Info("Closing open connections", "count", n)
		}
		if err := m.handlers.wait(ctx); err != nil {
			m.logger.Warn("Connections still open at shutdown deadline", "error", err)
		}
	}
	if m.app != nil {
		if err := m.app.ShutdownWithContext(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}
	m.logger.Info("WebSocket server stopped")
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	if m.listener == nil {
		return mono.HealthStatus{Healthy: false, Message: "not listening"}
	}
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"addr":        m.Addr(),
			"connections": m.relayModule.Hub().Count(),
		},
	}
}

// Addr returns the bound listen address, or the configured one before Start.
func (m *Module) Addr() string {
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.cfg.Addr()
}

func (m *Module) setupApp() {
	m.app = fiber.New(fiber.Config{
		AppName:               "Presence Relay",
		DisableStartupMessage: true,
		ErrorHandler:          m.errorHandler,
	})

	m.app.Use(recover.New())
	m.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} ${method} ${path} ${latency}\n",
	}))
	m.app.Use(cors.New(cors.Config{
		AllowOrigins: m.cfg.AllowedOrigins,
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	m.handlers = NewHandlers(m.relayModule, m.activityModule, m.cfg, m.logger)
	m.registerRoutes()
}

// registerRoutes sets up all HTTP and WebSocket routes.
func (m *Module) registerRoutes() {
	m.app.Get("/health", m.handlers.HealthCheck)

	// WebSocket upgrade middleware
	m.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	m.app.Get("/ws", websocket.New(m.handlers.HandleWebSocket))

	// Read-only operational API
	api := m.app.Group("/api/v1")
	api.Get("/users/online", m.handlers.ListOnlineUsers)
	api.Get("/rooms", m.handlers.ListRooms)
	api.Get("/rooms/:id/members", m.handlers.GetRoomMembers)
	api.Get("/stats", m.handlers.GetStats)
}

// errorHandler handles errors globally.
func (m *Module) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	if code >= fiber.StatusInternalServerError {
		m.logger.Error("HTTP error", "code", code, "message", message, "error", err)
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
	})
}

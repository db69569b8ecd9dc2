package wsserver

import (
	"context"
	"sync"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/example/presence-relay/config"
	"github.com/example/presence-relay/modules/activity"
	"github.com/example/presence-relay/modules/relay"
)

// Handlers contains HTTP and WebSocket handlers.
type Handlers struct {
	relay    *relay.Module
	activity *activity.Module
	cfg      config.Config
	clients  sync.Map // connID -> *Client
	active   sync.WaitGroup
	logger   types.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(relayModule *relay.Module, activityModule *activity.Module, cfg config.Config, logger types.Logger) *Handlers {
	return &Handlers{
		relay:    relayModule,
		activity: activityModule,
		cfg:      cfg,
		logger:   logger,
	}
}

// HandleWebSocket serves one connection. Frames are handled in arrival
// order on this goroutine; writes happen on the client's writer goroutine.
func (h *Handlers) HandleWebSocket(c *websocket.Conn) {
	h.active.Add(1)
	defer h.active.Done()

	client := newClient(c, h.cfg.SendQueueSize, h.logger)
	limiter := newRateLimiter(h.cfg.RateLimitBurst, h.cfg.RateLimitPerSecond)
	router := h.relay.Router()

	h.clients.Store(client.ID(), client)
	go client.writePump()
	conn := router.Open(client)

	defer func() {
		router.Close(conn)
		client.shutdown()
		<-client.writerDone
		h.clients.Delete(client.ID())
		h.logger.Info("WebSocket disconnected", "conn", client.ID(), "userID", conn.UserID())
	}()

	c.SetReadLimit(h.cfg.MaxFrameBytes)
	h.logger.Info("WebSocket connected", "conn", client.ID(), "remote", c.RemoteAddr().String())

	for {
		_, frame, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket read error", "conn", client.ID(), "error", err)
			}
			return
		}

		if !limiter.allow() {
			h.logger.Warn("Rate limit exceeded, dropping frame", "conn", client.ID())
			continue
		}

		env, err := relay.DecodeEnvelope(frame)
		if err != nil {
			h.logger.Warn("Discarding malformed frame", "conn", client.ID(), "error", err)
			continue
		}

		router.Handle(conn, env)
	}
}

// wait blocks until every connection handler has finished its close
// cleanup, or ctx is done.
func (h *Handlers) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// closeAll shuts down every open client.
func (h *Handlers) closeAll() int {
	n := 0
	h.clients.Range(func(_, v any) bool {
		v.(*Client).shutdown()
		n++
		return true
	})
	return n
}

// REST Handlers

// HealthCheck handles health check requests (GET /health).
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":       "healthy",
		"service":      "presence-relay",
		"connections":  h.relay.Hub().Count(),
		"online_users": h.relay.Registry().OnlineCount(),
	})
}

// ListOnlineUsers handles presence listing requests (GET /api/v1/users/online).
func (h *Handlers) ListOnlineUsers(c *fiber.Ctx) error {
	users := h.relay.Registry().ListOnline()
	return c.JSON(fiber.Map{
		"users": users,
		"total": len(users),
	})
}

// ListRooms handles room listing requests (GET /api/v1/rooms).
func (h *Handlers) ListRooms(c *fiber.Ctx) error {
	rooms := h.relay.Registry().Rooms()
	return c.JSON(fiber.Map{
		"rooms": rooms,
		"total": len(rooms),
	})
}

// GetRoomMembers handles room membership requests (GET /api/v1/rooms/:id/members).
func (h *Handlers) GetRoomMembers(c *fiber.Ctx) error {
	roomID := c.Params("id")
	if roomID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Room ID is required")
	}

	members := h.relay.Registry().RoomMembers(roomID)
	if members == nil {
		return fiber.NewError(fiber.StatusNotFound, "Room not found")
	}
	return c.JSON(fiber.Map{
		"roomId":  roomID,
		"members": members,
		"total":   len(members),
	})
}

// GetStats handles activity requests (GET /api/v1/stats).
func (h *Handlers) GetStats(c *fiber.Ctx) error {
	return c.JSON(h.activity.Snapshot())
}

package relay

import (
	"context"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/presence-relay/domain/presence"
	"github.com/example/presence-relay/events"
	"github.com/example/presence-relay/modules/registry"
)

// Module owns the connection registry, the hub and the router, and
// publishes relay activity on the EventBus.
type Module struct {
	registry *registry.Registry
	hub      *Hub
	router   *Router
	eventBus mono.EventBus
	logger   types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
	_ Emitter                    = (*Module)(nil)
)

// NewModule creates a new relay module.
func NewModule(logger types.Logger) (*Module, error) {
	ids, err := NewIDGenerator()
	if err != nil {
		return nil, err
	}

	m := &Module{
		registry: registry.New(),
		hub:      NewHub(),
		logger:   logger,
	}
	m.router = NewRouter(m.registry, m.hub, ids, m, logger)
	return m, nil
}

// Name returns the module name.
func (m *Module) Name() string {
	return "relay"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.UserOnlineV1.ToBase(),
		events.UserOfflineV1.ToBase(),
		events.DirectMessageRelayedV1.ToBase(),
		events.RoomMessageRelayedV1.ToBase(),
		events.RoomJoinedV1.ToBase(),
	}
}

// Start initializes the module.
func (m *Module) Start(_ context.Context) error {
	m.logger.Info("Relay module started")
	return nil
}

// Stop shuts down the module. Connections are closed by the transport module.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("Relay module stopped",
		"online", m.registry.OnlineCount(),
		"connections", m.hub.Count())
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"connections":  m.hub.Count(),
			"online_users": m.registry.OnlineCount(),
			"rooms":        m.registry.RoomCount(),
		},
	}
}

// Router returns the message router used by the transport.
func (m *Module) Router() *Router {
	return m.router
}

// Registry returns the connection registry.
func (m *Module) Registry() *registry.Registry {
	return m.registry
}

// Hub returns the set of open connections.
func (m *Module) Hub() *Hub {
	return m.hub
}

// Emitter implementation. Publishing is fire-and-forget: a failure is logged
// and never affects the wire-level fan-out that already happened.

func (m *Module) UserOnline(userID, userName string, role presence.Role) {
	m.publish("UserOnline", func() error {
		return events.UserOnlineV1.Publish(m.eventBus, events.UserOnlineEvent{
			UserID:    userID,
			UserName:  userName,
			UserRole:  string(role),
			Timestamp: time.Now(),
		}, nil)
	})
}

func (m *Module) UserOffline(userID, userName string) {
	m.publish("UserOffline", func() error {
		return events.UserOfflineV1.Publish(m.eventBus, events.UserOfflineEvent{
			UserID:    userID,
			UserName:  userName,
			Timestamp: time.Now(),
		}, nil)
	})
}

func (m *Module) DirectRelayed(messageID, senderID, receiverID string, delivered bool) {
	m.publish("DirectMessageRelayed", func() error {
		return events.DirectMessageRelayedV1.Publish(m.eventBus, events.DirectMessageRelayedEvent{
			MessageID:  messageID,
			SenderID:   senderID,
			ReceiverID: receiverID,
			Delivered:  delivered,
			Timestamp:  time.Now(),
		}, nil)
	})
}

func (m *Module) RoomRelayed(messageID, roomID, senderID string, recipients int) {
	m.publish("RoomMessageRelayed", func() error {
		return events.RoomMessageRelayedV1.Publish(m.eventBus, events.RoomMessageRelayedEvent{
			MessageID:  messageID,
			RoomID:     roomID,
			SenderID:   senderID,
			Recipients: recipients,
			Timestamp:  time.Now(),
		}, nil)
	})
}

func (m *Module) RoomJoined(roomID, userID string) {
	m.publish("RoomJoined", func() error {
		return events.RoomJoinedV1.Publish(m.eventBus, events.RoomJoinedEvent{
			RoomID:    roomID,
			UserID:    userID,
			Timestamp: time.Now(),
		}, nil)
	})
}

func (m *Module) publish(name string, fn func() error) {
	if m.eventBus == nil {
		return
	}
	if err := fn(); err != nil {
		m.logger.Warn("Failed to publish event", "event", name, "error", err)
	}
}

package activity

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/presence-relay/events"
)

// Snapshot is a point-in-time view of relay activity counters.
type Snapshot struct {
	Joins           int64      `json:"joins"`
	Leaves          int64      `json:"leaves"`
	DirectMessages  int64      `json:"direct_messages"`
	DirectDelivered int64      `json:"direct_delivered"`
	RoomMessages    int64      `json:"room_messages"`
	RoomDeliveries  int64      `json:"room_deliveries"`
	RoomJoins       int64      `json:"room_joins"`
	LastActivity    *time.Time `json:"last_activity,omitempty"`
	Since           time.Time  `json:"since"`
}

// Module is an EventConsumerModule that counts relay events for operators.
type Module struct {
	joins           atomic.Int64
	leaves          atomic.Int64
	directMessages  atomic.Int64
	directDelivered atomic.Int64
	roomMessages    atomic.Int64
	roomDeliveries  atomic.Int64
	roomJoins       atomic.Int64
	lastActivity    atomic.Int64 // unix nanos

	startedAt time.Time
	logger    types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventConsumerModule   = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new activity module.
func NewModule(logger types.Logger) *Module {
	return &Module{
		startedAt: time.Now(),
		logger:    logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "activity"
}

// Start initializes the module.
func (m *Module) Start(_ context.Context) error {
	m.logger.Info("Activity module started")
	return nil
}

// Stop shuts down the module.
func (m *Module) Stop(_ context.Context) error {
	s := m.Snapshot()
	m.logger.Info("Activity module stopped",
		"joins", s.Joins,
		"direct_messages", s.DirectMessages,
		"room_messages", s.RoomMessages)
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	s := m.Snapshot()
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"joins":           s.Joins,
			"direct_messages": s.DirectMessages,
			"room_messages":   s.RoomMessages,
		},
	}
}

// RegisterEventConsumers registers event handlers.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.UserOnlineV1, m.handleUserOnline, m,
	); err != nil {
		return fmt.Errorf("failed to register UserOnline consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.UserOfflineV1, m.handleUserOffline, m,
	); err != nil {
		return fmt.Errorf("failed to register UserOffline consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.DirectMessageRelayedV1, m.handleDirectMessageRelayed, m,
	); err != nil {
		return fmt.Errorf("failed to register DirectMessageRelayed consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.RoomMessageRelayedV1, m.handleRoomMessageRelayed, m,
	); err != nil {
		return fmt.Errorf("failed to register RoomMessageRelayed consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.RoomJoinedV1, m.handleRoomJoined, m,
	); err != nil {
		return fmt.Errorf("failed to register RoomJoined consumer: %w", err)
	}

	m.logger.Info("Registered event consumers",
		"events", "UserOnline, UserOffline, DirectMessageRelayed, RoomMessageRelayed, RoomJoined")
	return nil
}

// Snapshot returns the current counter values.
func (m *Module) Snapshot() Snapshot {
	s := Snapshot{
		Joins:           m.joins.Load(),
		Leaves:          m.leaves.Load(),
		DirectMessages:  m.directMessages.Load(),
		DirectDelivered: m.directDelivered.Load(),
		RoomMessages:    m.roomMessages.Load(),
		RoomDeliveries:  m.roomDeliveries.Load(),
		RoomJoins:       m.roomJoins.Load(),
		Since:           m.startedAt,
	}
	if ns := m.lastActivity.Load(); ns > 0 {
		last := time.Unix(0, ns)
		s.LastActivity = &last
	}
	return s
}

// Event handlers

func (m *Module) handleUserOnline(_ context.Context, event events.UserOnlineEvent, _ *mono.Msg) error {
	m.joins.Add(1)
	m.touch(event.Timestamp)
	return nil
}

func (m *Module) handleUserOffline(_ context.Context, event events.UserOfflineEvent, _ *mono.Msg) error {
	m.leaves.Add(1)
	m.touch(event.Timestamp)
	return nil
}

func (m *Module) handleDirectMessageRelayed(_ context.Context, event events.DirectMessageRelayedEvent, _ *mono.Msg) error {
	m.directMessages.Add(1)
	if event.Delivered {
		m.directDelivered.Add(1)
	}
	m.touch(event.Timestamp)
	return nil
}

func (m *Module) handleRoomMessageRelayed(_ context.Context, event events.RoomMessageRelayedEvent, _ *mono.Msg) error {
	m.roomMessages.Add(1)
	m.roomDeliveries.Add(int64(event.Recipients))
	m.touch(event.Timestamp)
	return nil
}

func (m *Module) handleRoomJoined(_ context.Context, event events.RoomJoinedEvent, _ *mono.Msg) error {
	m.roomJoins.Add(1)
	m.touch(event.Timestamp)
	return nil
}

// touch advances lastActivity monotonically; events may arrive out of order.
func (m *Module) touch(at time.Time) {
	ns := at.UnixNano()
	for {
		cur := m.lastActivity.Load()
		if ns <= cur || m.lastActivity.CompareAndSwap(cur, ns) {
			return
		}
	}
}

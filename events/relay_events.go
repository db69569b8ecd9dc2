package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// UserOnlineEvent is emitted after a user_join has been registered and announced.
type UserOnlineEvent struct {
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	UserRole  string    `json:"user_role,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// UserOfflineEvent is emitted after a session was removed on disconnect.
type UserOfflineEvent struct {
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Timestamp time.Time `json:"timestamp"`
}

// DirectMessageRelayedEvent is emitted for every direct message, delivered or not.
// It never carries message content.
type DirectMessageRelayedEvent struct {
	MessageID  string    `json:"message_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Delivered  bool      `json:"delivered"`
	Timestamp  time.Time `json:"timestamp"`
}

// RoomMessageRelayedEvent is emitted after a room message fan-out.
type RoomMessageRelayedEvent struct {
	MessageID  string    `json:"message_id"`
	RoomID     string    `json:"room_id"`
	SenderID   string    `json:"sender_id"`
	Recipients int       `json:"recipients"`
	Timestamp  time.Time `json:"timestamp"`
}

// RoomJoinedEvent is emitted when a user is added to a room.
type RoomJoinedEvent struct {
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Event definitions for the relay domain.
var (
	UserOnlineV1 = helper.EventDefinition[UserOnlineEvent](
		"relay",
		"UserOnline",
		"v1",
	)

	UserOfflineV1 = helper.EventDefinition[UserOfflineEvent](
		"relay",
		"UserOffline",
		"v1",
	)

	DirectMessageRelayedV1 = helper.EventDefinition[DirectMessageRelayedEvent](
		"relay",
		"DirectMessageRelayed",
		"v1",
	)

	RoomMessageRelayedV1 = helper.EventDefinition[RoomMessageRelayedEvent](
		"relay",
		"RoomMessageRelayed",
		"v1",
	)

	RoomJoinedV1 = helper.EventDefinition[RoomJoinedEvent](
		"relay",
		"RoomJoined",
		"v1",
	)
)

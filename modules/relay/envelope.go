package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/presence-relay/domain/presence"
)

// Inbound envelope types.
const (
	TypeUserJoin    = "user_join"
	TypeMessage     = "message"
	TypeTypingStart = "typing_start"
	TypeTypingStop  = "typing_stop"
	TypeJoinRoom    = "join_room"
	TypeRoomMessage = "room_message"
)

// Outbound-only envelope types.
const (
	TypeOnlineUsers = "online_users"
	TypeUserOnline  = "user_online"
	TypeUserOffline = "user_offline"
	TypeMessageSent = "message_sent"
	TypeRoomJoined  = "room_joined"
	TypeError       = "error"
)

// Error codes carried by TypeError envelopes.
const (
	CodeNotIdentified   = "NOT_IDENTIFIED"
	CodeInvalidEnvelope = "INVALID_ENVELOPE"
)

var (
	// ErrInvalidEnvelope is returned for frames that do not decode into an envelope.
	ErrInvalidEnvelope = errors.New("invalid envelope")
	// ErrNotIdentified is reported when a connection uses an identity before user_join.
	ErrNotIdentified = errors.New("connection has not sent user_join")
)

// Envelope is the single flat wire object. Which fields are set depends on Type.
//
// Timestamp is kept as raw JSON so the client's value, number or string,
// is echoed back unchanged.
type Envelope struct {
	Type       string                `json:"type"`
	UserID     string                `json:"userId,omitempty"`
	UserName   string                `json:"userName,omitempty"`
	UserRole   presence.Role         `json:"userRole,omitempty"`
	Users      []presence.OnlineUser `json:"users,omitempty"`
	MessageID  string                `json:"messageId,omitempty"`
	SenderID   string                `json:"senderId,omitempty"`
	SenderName string                `json:"senderName,omitempty"`
	ReceiverID string                `json:"receiverId,omitempty"`
	RoomID     string                `json:"roomId,omitempty"`
	Content    string                `json:"content,omitempty"`
	Timestamp  json.RawMessage       `json:"timestamp,omitempty"`
	Code       string                `json:"code,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// DecodeEnvelope parses one inbound frame. A frame without a type tag is invalid.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}
	return env, nil
}

// MarshalJSON omits empty fields, except content on message and
// room_message, which is relayed even when empty.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	if e.Type != TypeMessage && e.Type != TypeRoomMessage {
		return json.Marshal(plain(e))
	}
	return json.Marshal(struct {
		plain
		Content string `json:"content"`
	}{plain: plain(e), Content: e.Content})
}

// Encode serializes an envelope into a single text frame.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func errorEnvelope(code string, err error) Envelope {
	return Envelope{
		Type:  TypeError,
		Code:  code,
		Error: err.Error(),
	}
}

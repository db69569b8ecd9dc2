package relay

import (
	"fmt"
	"sync"

	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/presence-relay/domain/presence"
	"github.com/example/presence-relay/modules/registry"
)

// Emitter is notified after the router has finished a fan-out.
// Implementations must not block.
type Emitter interface {
	UserOnline(userID, userName string, role presence.Role)
	UserOffline(userID, userName string)
	DirectRelayed(messageID, senderID, receiverID string, delivered bool)
	RoomRelayed(messageID, roomID, senderID string, recipients int)
	RoomJoined(roomID, userID string)
}

// Router interprets inbound envelopes against the registry and performs
// the resulting fan-out. Handle and Close run one at a time, so every
// registry change and the frames it produces are ordered the same way for
// all peers.
type Router struct {
	mu       sync.Mutex
	registry *registry.Registry
	hub      *Hub
	ids      *IDGenerator
	emitter  Emitter
	logger   types.Logger
}

// NewRouter creates a router. A nil emitter disables activity notifications.
func NewRouter(reg *registry.Registry, hub *Hub, ids *IDGenerator, emitter Emitter, logger types.Logger) *Router {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Router{
		registry: reg,
		hub:      hub,
		ids:      ids,
		emitter:  emitter,
		logger:   logger,
	}
}

// Open registers a new connection with the hub and returns its router state.
func (r *Router) Open(t registry.Transport) *Conn {
	r.hub.Add(t)
	return NewConn(t)
}

// Handle processes one inbound envelope to completion.
func (r *Router) Handle(conn *Conn, env Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn.state == StateClosed {
		return
	}

	switch env.Type {
	case TypeUserJoin:
		r.handleUserJoin(conn, env)
	case TypeMessage:
		if r.requireIdentified(conn, env.Type) {
			r.handleMessage(conn, env)
		}
	case TypeTypingStart, TypeTypingStop:
		if r.requireIdentified(conn, env.Type) {
			r.handleTyping(conn, env)
		}
	case TypeJoinRoom:
		if r.requireIdentified(conn, env.Type) {
			r.handleJoinRoom(conn, env)
		}
	case TypeRoomMessage:
		if r.requireIdentified(conn, env.Type) {
			r.handleRoomMessage(conn, env)
		}
	default:
		r.logger.Debug("Ignoring unknown envelope type", "conn", conn.ID(), "type", env.Type)
	}
}

// Close runs disconnect cleanup. Only the connection that still owns the
// session unregisters it and announces user_offline, at most once.
func (r *Router) Close(conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn.state == StateClosed {
		return
	}
	wasIdentified := conn.state == StateIdentified
	conn.state = StateClosed
	r.hub.Remove(conn.transport)

	if !wasIdentified {
		return
	}
	r.dropIdentity(conn.userID, conn.userName, conn.transport)
}

func (r *Router) dropIdentity(userID, userName string, t registry.Transport) {
	if _, removed := r.registry.UnregisterTransport(userID, t); !removed {
		r.logger.Debug("Session already superseded, skipping offline notice", "userID", userID)
		return
	}
	r.broadcast(Envelope{
		Type:     TypeUserOffline,
		UserID:   userID,
		UserName: userName,
	}, "")
	r.emitter.UserOffline(userID, userName)
	r.logger.Info("User offline", "userID", userID)
}

func (r *Router) requireIdentified(conn *Conn, msgType string) bool {
	if conn.state == StateIdentified {
		return true
	}
	r.logger.Debug("Rejecting envelope from unidentified connection", "conn", conn.ID(), "type", msgType)
	r.send(conn.transport, errorEnvelope(CodeNotIdentified, fmt.Errorf("%w: %s", ErrNotIdentified, msgType)))
	return false
}

func (r *Router) handleUserJoin(conn *Conn, env Envelope) {
	if env.UserID == "" {
		r.send(conn.transport, errorEnvelope(CodeInvalidEnvelope, fmt.Errorf("%w: userId is required", ErrInvalidEnvelope)))
		return
	}

	// Re-identifying under a new id releases the previous identity.
	if conn.state == StateIdentified && conn.userID != env.UserID {
		r.dropIdentity(conn.userID, conn.userName, conn.transport)
	}

	if superseded := r.registry.Register(env.UserID, env.UserName, env.UserRole, conn.transport); superseded != nil {
		r.logger.Info("Session superseded by a newer join",
			"userID", env.UserID,
			"oldConn", superseded.ID(),
			"newConn", conn.ID())
	}
	conn.identify(env.UserID, env.UserName, env.UserRole)

	r.send(conn.transport, Envelope{
		Type:  TypeOnlineUsers,
		Users: r.registry.ListOnline(),
	})
	r.broadcast(Envelope{
		Type:     TypeUserOnline,
		UserID:   env.UserID,
		UserName: env.UserName,
		UserRole: env.UserRole,
	}, conn.ID())

	r.emitter.UserOnline(env.UserID, env.UserName, env.UserRole)
	r.logger.Info("User online", "userID", env.UserID, "conn", conn.ID())
}

func (r *Router) handleMessage(conn *Conn, env Envelope) {
	senderID, senderName := r.sender(conn, env)
	messageID := r.ids.Direct()

	delivered := false
	if receiver, ok := r.registry.Lookup(env.ReceiverID); ok {
		delivered = r.send(receiver.Transport, Envelope{
			Type:       TypeMessage,
			MessageID:  messageID,
			SenderID:   senderID,
			SenderName: senderName,
			ReceiverID: env.ReceiverID,
			Content:    env.Content,
			Timestamp:  env.Timestamp,
		})
	} else {
		r.logger.Debug("Receiver offline, dropping message", "receiverID", env.ReceiverID, "messageID", messageID)
	}

	// Confirmation is issued regardless of delivery, after the attempt.
	r.send(conn.transport, Envelope{
		Type:      TypeMessageSent,
		MessageID: messageID,
		Timestamp: env.Timestamp,
	})

	r.emitter.DirectRelayed(messageID, senderID, env.ReceiverID, delivered)
}

func (r *Router) handleTyping(conn *Conn, env Envelope) {
	receiver, ok := r.registry.Lookup(env.ReceiverID)
	if !ok {
		return
	}
	senderID, senderName := r.sender(conn, env)
	r.send(receiver.Transport, Envelope{
		Type:       env.Type,
		SenderID:   senderID,
		SenderName: senderName,
		ReceiverID: env.ReceiverID,
	})
}

func (r *Router) handleJoinRoom(conn *Conn, env Envelope) {
	if env.RoomID == "" {
		r.send(conn.transport, errorEnvelope(CodeInvalidEnvelope, fmt.Errorf("%w: roomId is required", ErrInvalidEnvelope)))
		return
	}

	r.registry.JoinRoom(env.RoomID, conn.userID)
	r.send(conn.transport, Envelope{
		Type:   TypeRoomJoined,
		RoomID: env.RoomID,
	})

	r.emitter.RoomJoined(env.RoomID, conn.userID)
	r.logger.Debug("User joined room", "userID", conn.userID, "roomID", env.RoomID)
}

func (r *Router) handleRoomMessage(conn *Conn, env Envelope) {
	recipients := r.registry.RoomSessions(env.RoomID, conn.userID)
	if len(recipients) == 0 {
		r.logger.Debug("No other room members online, dropping room message", "roomID", env.RoomID)
		return
	}

	senderID, senderName := r.sender(conn, env)
	messageID := r.ids.Room()
	frame, err := Envelope{
		Type:       TypeRoomMessage,
		MessageID:  messageID,
		RoomID:     env.RoomID,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    env.Content,
		Timestamp:  env.Timestamp,
	}.Encode()
	if err != nil {
		r.logger.Error("Failed to encode room message", "roomID", env.RoomID, "error", err)
		return
	}

	delivered := 0
	for _, s := range recipients {
		if err := s.Transport.Send(frame); err != nil {
			continue
		}
		delivered++
	}

	r.emitter.RoomRelayed(messageID, env.RoomID, senderID, delivered)
}

// sender resolves the sender fields of an outbound envelope, falling back
// to the identity bound at join time.
func (r *Router) sender(conn *Conn, env Envelope) (string, string) {
	senderID, senderName := env.SenderID, env.SenderName
	if senderID == "" {
		senderID = conn.userID
	}
	if senderName == "" {
		senderName = conn.userName
	}
	return senderID, senderName
}

// send encodes env and queues it on t. Stale transports are skipped.
func (r *Router) send(t registry.Transport, env Envelope) bool {
	frame, err := env.Encode()
	if err != nil {
		r.logger.Error("Failed to encode envelope", "type", env.Type, "error", err)
		return false
	}
	if err := t.Send(frame); err != nil {
		r.logger.Debug("Skipping send to stale transport", "conn", t.ID(), "type", env.Type, "error", err)
		return false
	}
	return true
}

func (r *Router) broadcast(env Envelope, exceptID string) {
	frame, err := env.Encode()
	if err != nil {
		r.logger.Error("Failed to encode broadcast", "type", env.Type, "error", err)
		return
	}
	r.hub.Broadcast(frame, exceptID)
}

type nopEmitter struct{}

func (nopEmitter) UserOnline(string, string, presence.Role)   {}
func (nopEmitter) UserOffline(string, string)                 {}
func (nopEmitter) DirectRelayed(string, string, string, bool) {}
func (nopEmitter) RoomRelayed(string, string, string, int)    {}
func (nopEmitter) RoomJoined(string, string)                  {}

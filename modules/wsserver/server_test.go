package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/presence-relay/config"
	"github.com/example/presence-relay/modules/activity"
	"github.com/example/presence-relay/modules/relay"
)

const readTimeout = 2 * time.Second

type testServer struct {
	module *Module
	relay  *relay.Module
	host   string
}

func startServer(t *testing.T, opts ...config.Option) *testServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Port = "0"
	for _, opt := range opts {
		opt(&cfg)
	}

	relayModule, err := relay.NewModule(&mockLogger{})
	require.NoError(t, err)
	m := NewModule(cfg, relayModule, activity.NewModule(&mockLogger{}), &mockLogger{})
	require.NoError(t, m.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})

	_, port, err := net.SplitHostPort(m.Addr())
	require.NoError(t, err)
	return &testServer{module: m, relay: relayModule, host: "127.0.0.1:" + port}
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+s.host+"/ws", nil)
	require.NoError(t, err, "Failed to connect to websocket")
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func sendJSON(t *testing.T, ws *websocket.Conn, v map[string]any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

func readEnvelope(t *testing.T, ws *websocket.Conn) relay.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(readTimeout)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var env relay.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// readUntil skips frames until one of msgType arrives.
func readUntil(t *testing.T, ws *websocket.Conn, msgType string) relay.Envelope {
	t.Helper()
	for {
		env := readEnvelope(t, ws)
		if env.Type == msgType {
			return env
		}
	}
}

// expectSilence asserts that nothing arrives within d. The connection is
// unusable for reads afterwards.
func expectSilence(t *testing.T, ws *websocket.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(d)))
	_, data, err := ws.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", data)

	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected timeout, got %v", err)
}

func join(t *testing.T, ws *websocket.Conn, userID, userName string) relay.Envelope {
	t.Helper()
	sendJSON(t, ws, map[string]any{"type": "user_join", "userId": userID, "userName": userName, "userRole": "client"})
	return readUntil(t, ws, relay.TypeOnlineUsers)
}

func TestServer_PresenceOnJoin(t *testing.T) {
	s := startServer(t)
	a := s.dial(t)
	b := s.dial(t)

	first := join(t, a, "u1", "Alice")
	require.Len(t, first.Users, 1)
	assert.Equal(t, "u1", first.Users[0].UserID)
	assert.Equal(t, "online", first.Users[0].Status)

	second := join(t, b, "u2", "Bob")
	assert.Len(t, second.Users, 2)

	online := readUntil(t, a, relay.TypeUserOnline)
	assert.Equal(t, "u2", online.UserID)
	assert.Equal(t, "Bob", online.UserName)
}

func TestServer_DirectMessageRoundTrip(t *testing.T) {
	s := startServer(t)
	a := s.dial(t)
	b := s.dial(t)
	join(t, a, "u1", "Alice")
	join(t, b, "u2", "Bob")
	readUntil(t, a, relay.TypeUserOnline)

	sendJSON(t, a, map[string]any{
		"type":       "message",
		"senderId":   "u1",
		"senderName": "Alice",
		"receiverId": "u2",
		"content":    "hi",
		"timestamp":  123,
	})

	msg := readUntil(t, b, relay.TypeMessage)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "u1", msg.SenderID)
	assert.JSONEq(t, `123`, string(msg.Timestamp))
	assert.True(t, strings.HasPrefix(msg.MessageID, "msg-"))

	sent := readUntil(t, a, relay.TypeMessageSent)
	assert.Equal(t, msg.MessageID, sent.MessageID)
	assert.JSONEq(t, `123`, string(sent.Timestamp))
}

func TestServer_RoomFanOut(t *testing.T) {
	s := startServer(t)
	a, b, c := s.dial(t), s.dial(t), s.dial(t)
	join(t, a, "a", "Alice")
	join(t, b, "b", "Bob")
	readUntil(t, a, relay.TypeUserOnline)
	join(t, c, "c", "Carol")
	readUntil(t, a, relay.TypeUserOnline)
	readUntil(t, b, relay.TypeUserOnline)

	for _, ws := range []*websocket.Conn{a, b, c} {
		sendJSON(t, ws, map[string]any{"type": "join_room", "roomId": "room1"})
		joined := readUntil(t, ws, relay.TypeRoomJoined)
		assert.Equal(t, "room1", joined.RoomID)
	}

	sendJSON(t, a, map[string]any{"type": "room_message", "roomId": "room1", "content": "hello", "timestamp": "t1"})

	var ids []string
	for _, ws := range []*websocket.Conn{b, c} {
		got := readUntil(t, ws, relay.TypeRoomMessage)
		assert.Equal(t, "hello", got.Content)
		assert.Equal(t, "a", got.SenderID)
		assert.True(t, strings.HasPrefix(got.MessageID, "room-"))
		ids = append(ids, got.MessageID)
	}
	assert.Equal(t, ids[0], ids[1])
	expectSilence(t, a, 300*time.Millisecond)
}

func TestServer_DisconnectAnnouncesOffline(t *testing.T) {
	s := startServer(t)
	a := s.dial(t)
	b := s.dial(t)
	join(t, a, "u1", "Alice")
	join(t, b, "u2", "Bob")
	readUntil(t, a, relay.TypeUserOnline)

	require.NoError(t, b.Close())

	offline := readUntil(t, a, relay.TypeUserOffline)
	assert.Equal(t, "u2", offline.UserID)
	assert.Equal(t, "Bob", offline.UserName)

	assert.Eventually(t, func() bool {
		_, ok := s.relay.Registry().Lookup("u2")
		return !ok
	}, readTimeout, 10*time.Millisecond)
	expectSilence(t, a, 300*time.Millisecond)
}

func TestServer_MalformedFrameKeepsConnectionOpen(t *testing.T) {
	s := startServer(t)
	a := s.dial(t)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"userId":"u1"}`)))

	snapshot := join(t, a, "u1", "Alice")
	assert.Len(t, snapshot.Users, 1)
}

func TestServer_RejectsUnidentifiedMessage(t *testing.T) {
	s := startServer(t)
	a := s.dial(t)

	sendJSON(t, a, map[string]any{"type": "message", "receiverId": "u2", "content": "hi"})

	env := readEnvelope(t, a)
	assert.Equal(t, relay.TypeError, env.Type)
	assert.Equal(t, relay.CodeNotIdentified, env.Code)
}

func TestServer_OversizedFrameClosesConnection(t *testing.T) {
	s := startServer(t, config.WithMaxFrameBytes(256))
	a := s.dial(t)
	join(t, a, "u1", "Alice")

	big := strings.Repeat("x", 4096)
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"message","receiverId":"u2","content":"`+big+`"}`)))

	require.NoError(t, a.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := a.ReadMessage()
	require.Error(t, err)

	var netErr net.Error
	assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "connection should be closed, got %v", err)
	assert.Eventually(t, func() bool {
		return s.relay.Registry().OnlineCount() == 0
	}, readTimeout, 10*time.Millisecond)
}

func TestServer_WebSocketRequiresUpgrade(t *testing.T) {
	s := startServer(t)

	resp, err := http.Get("http://" + s.host + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestServer_StopClosesConnections(t *testing.T) {
	s := startServer(t)
	a := s.dial(t)
	join(t, a, "u1", "Alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.module.Stop(ctx))

	require.NoError(t, a.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := a.ReadMessage()
	require.Error(t, err)

	var netErr net.Error
	assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "connection should be closed, got %v", err)
	assert.Zero(t, s.relay.Registry().OnlineCount())
	assert.Zero(t, s.relay.Hub().Count())
}

func TestServer_SlowConsumerIsDisconnected(t *testing.T) {
	s := startServer(t, config.WithSendQueueSize(4))
	a := s.dial(t)
	b := s.dial(t)
	join(t, a, "u1", "Alice")
	join(t, b, "u2", "Bob")
	readUntil(t, a, relay.TypeUserOnline)

	session, ok := s.relay.Registry().Lookup("u2")
	require.True(t, ok)
	client, ok := session.Transport.(*Client)
	require.True(t, ok)

	// b never reads, so the socket buffers fill and the queue overflows.
	frame := []byte(`{"type":"message","content":"` + strings.Repeat("x", 64*1024) + `"}`)
	overflowed := false
	for i := 0; i < 4096; i++ {
		if err := client.Send(frame); err != nil {
			require.ErrorIs(t, err, ErrSlowConsumer)
			overflowed = true
			break
		}
	}
	require.True(t, overflowed, "send queue never overflowed")

	offline := readUntil(t, a, relay.TypeUserOffline)
	assert.Equal(t, "u2", offline.UserID)

	assert.Eventually(t, func() bool {
		_, ok := s.relay.Registry().Lookup("u2")
		return !ok
	}, readTimeout, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return s.relay.Hub().Count() == 1
	}, readTimeout, 10*time.Millisecond)
}

func TestHandlers_REST(t *testing.T) {
	relayModule, err := relay.NewModule(&mockLogger{})
	require.NoError(t, err)
	cfg := config.DefaultConfig()
	m := NewModule(cfg, relayModule, activity.NewModule(&mockLogger{}), &mockLogger{})
	m.setupApp()

	relayModule.Registry().JoinRoom("lobby", "u1")
	relayModule.Registry().JoinRoom("lobby", "u2")

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantBody map[string]any
	}{
		{
			name:     "health",
			path:     "/health",
			wantCode: http.StatusOK,
			wantBody: map[string]any{"status": "healthy", "connections": float64(0)},
		},
		{
			name:     "online users",
			path:     "/api/v1/users/online",
			wantCode: http.StatusOK,
			wantBody: map[string]any{"total": float64(0)},
		},
		{
			name:     "rooms",
			path:     "/api/v1/rooms",
			wantCode: http.StatusOK,
			wantBody: map[string]any{"total": float64(1)},
		},
		{
			name:     "room members",
			path:     "/api/v1/rooms/lobby/members",
			wantCode: http.StatusOK,
			wantBody: map[string]any{"roomId": "lobby", "total": float64(2)},
		},
		{
			name:     "unknown room",
			path:     "/api/v1/rooms/nope/members",
			wantCode: http.StatusNotFound,
			wantBody: map[string]any{"error": "Room not found"},
		},
		{
			name:     "stats",
			path:     "/api/v1/stats",
			wantCode: http.StatusOK,
			wantBody: map[string]any{"joins": float64(0), "room_messages": float64(0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := m.app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantCode, resp.StatusCode)

			raw, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			var body map[string]any
			require.NoError(t, json.Unmarshal(raw, &body))
			for k, v := range tt.wantBody {
				assert.Equal(t, v, body[k], "field %s", k)
			}
		})
	}
}

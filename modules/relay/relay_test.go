package relay

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/require"

	"github.com/example/presence-relay/domain/presence"
	"github.com/example/presence-relay/modules/registry"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any)         {}
func (m *mockLogger) Info(msg string, args ...any)          {}
func (m *mockLogger) Warn(msg string, args ...any)          {}
func (m *mockLogger) Error(msg string, args ...any)         {}
func (m *mockLogger) With(args ...any) types.Logger         { return m }
func (m *mockLogger) WithError(err error) types.Logger      { return m }
func (m *mockLogger) WithModule(module string) types.Logger { return m }

// sendClock orders frames across transports so tests can assert
// cross-connection delivery order.
var sendClock atomic.Int64

type sentFrame struct {
	seq   int64
	frame []byte
}

// fakeTransport records every frame it accepts.
type fakeTransport struct {
	id string

	mu     sync.Mutex
	frames []sentFrame
	closed bool
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{id: id}
}

func (f *fakeTransport) ID() string { return f.id }

func (f *fakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return registry.ErrTransportClosed
	}
	f.frames = append(f.frames, sentFrame{seq: sendClock.Add(1), frame: frame})
	return nil
}

func (f *fakeTransport) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeTransport) envelopes(t *testing.T) []Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Envelope, 0, len(f.frames))
	for _, sf := range f.frames {
		var env Envelope
		require.NoError(t, json.Unmarshal(sf.frame, &env))
		out = append(out, env)
	}
	return out
}

func (f *fakeTransport) ofType(t *testing.T, msgType string) []Envelope {
	t.Helper()
	var out []Envelope
	for _, env := range f.envelopes(t) {
		if env.Type == msgType {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeTransport) lastSeq() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return 0
	}
	return f.frames[len(f.frames)-1].seq
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

// hookTransport is a fakeTransport that runs onSend after accepting each frame.
type hookTransport struct {
	*fakeTransport
	onSend func(env Envelope)
}

func (h *hookTransport) Send(frame []byte) error {
	if err := h.fakeTransport.Send(frame); err != nil {
		return err
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err == nil && h.onSend != nil {
		h.onSend(env)
	}
	return nil
}

// recordingEmitter captures Emitter callbacks.
type recordingEmitter struct {
	mu      sync.Mutex
	online  []string
	offline []string
	direct  []bool
	room    []int
	joined  []string
}

func (e *recordingEmitter) UserOnline(userID, _ string, _ presence.Role) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.online = append(e.online, userID)
}

func (e *recordingEmitter) UserOffline(userID, _ string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offline = append(e.offline, userID)
}

func (e *recordingEmitter) DirectRelayed(_, _, _ string, delivered bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.direct = append(e.direct, delivered)
}

func (e *recordingEmitter) RoomRelayed(_, _, _ string, recipients int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.room = append(e.room, recipients)
}

func (e *recordingEmitter) RoomJoined(roomID, userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.joined = append(e.joined, roomID+"/"+userID)
}

type testRelay struct {
	router   *Router
	registry *registry.Registry
	hub      *Hub
	emitter  *recordingEmitter
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	ids, err := NewIDGenerator()
	require.NoError(t, err)

	reg := registry.New()
	hub := NewHub()
	emitter := &recordingEmitter{}
	return &testRelay{
		router:   NewRouter(reg, hub, ids, emitter, &mockLogger{}),
		registry: reg,
		hub:      hub,
		emitter:  emitter,
	}
}

// connect opens a connection and, when userID is set, identifies it.
func (tr *testRelay) connect(t *testing.T, connID, userID, userName string) (*Conn, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport(connID)
	conn := tr.router.Open(ft)
	if userID != "" {
		tr.router.Handle(conn, Envelope{
			Type:     TypeUserJoin,
			UserID:   userID,
			UserName: userName,
			UserRole: presence.RoleClient,
		})
	}
	return conn, ft
}

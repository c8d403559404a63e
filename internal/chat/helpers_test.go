package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/pelusa-v/pelusa-chat/internal/events"
	"github.com/pelusa-v/pelusa-chat/internal/presence"
	"github.com/pelusa-v/pelusa-chat/internal/store/sqlstore"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeConn is an in-memory ConnLike. Frames pushed to in are read by the
// session; frames the session writes land in wrote.
type fakeConn struct {
	in     chan []byte
	wrote  chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		wrote:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-f.in:
		return websocket.TextMessage, b, nil
	case <-f.closed:
		return 0, nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(_ int, b []byte) error {
	select {
	case <-f.closed:
		return errors.New("use of closed connection")
	default:
	}
	f.wrote <- b
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// next waits for the next frame written to the client.
func (f *fakeConn) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case b := <-f.wrote:
		var out map[string]any
		require.NoError(t, json.Unmarshal(b, &out))
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

// quiet asserts nothing is written for a short while.
func (f *fakeConn) quiet(t *testing.T) {
	t.Helper()
	select {
	case b := <-f.wrote:
		t.Fatalf("unexpected frame: %s", b)
	case <-time.After(100 * time.Millisecond):
	}
}

type testEnv struct {
	st      *sqlstore.Store
	hub     *Hub
	tracker *presence.Tracker
	mgr     *Manager
	rooms   *Rooms
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sqlstore.Open(":memory:")
	require.NoError(t, err)
	st := sqlstore.New(db)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	log := zap.NewNop()
	hub := NewHub(log)
	tracker := presence.NewTracker(st, log)
	return &testEnv{
		st:      st,
		hub:     hub,
		tracker: tracker,
		mgr:     NewManager(hub, st, tracker, events.Nop{}, log, 16),
		rooms:   NewRooms(st, hub, events.Nop{}, log),
	}
}

func (e *testEnv) user(t *testing.T, name string) Identity {
	t.Helper()
	u, err := e.st.CreateUser(context.Background(), name)
	require.NoError(t, err)
	return Identity{UserID: u.ID, Username: u.Username}
}

func (e *testEnv) connect(t *testing.T, who Identity, route string) (*Session, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	s := e.mgr.NewSession(conn, &who, route)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { s.Disconnect(context.Background()) })
	return s, conn
}

func (e *testEnv) send(t *testing.T, s *Session, payload map[string]any) {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	s.Receive(context.Background(), b)
}

// recordingPublisher keeps published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pelusa-v/pelusa-chat/internal/events"
	"github.com/pelusa-v/pelusa-chat/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   Inbound
		want []intent
	}{
		{"empty", Inbound{}, nil},
		{"typing only", Inbound{Typing: "start"}, []intent{typingIntent{status: "start"}}},
		{"unknown typing is not typing", Inbound{Typing: "maybe"}, nil},
		{
			"typing with message continues to chat",
			Inbound{Typing: "stop", Message: "hi"},
			[]intent{typingIntent{status: "stop"}, chatIntent{body: "hi"}},
		},
		{
			"typing with message and delete takes delete",
			Inbound{Typing: "stop", Message: "hi", DeleteMessageID: "m1"},
			[]intent{typingIntent{status: "stop"}, deleteIntent{messageID: "m1", scope: store.DeleteForMe, apply: true}},
		},
		{
			"delete wins over message",
			Inbound{Message: "hi", DeleteMessageID: "m1", DeleteFor: "everyone"},
			[]intent{deleteIntent{messageID: "m1", scope: store.DeleteForEveryone, apply: true}},
		},
		{
			"delete with unknown scope is relayed only",
			Inbound{DeleteMessageID: "m1", DeleteFor: "them"},
			[]intent{deleteIntent{messageID: "m1", scope: "them"}},
		},
		{
			"chat with media",
			Inbound{Message: "look", MediaURL: "https://cdn/p.png"},
			[]intent{chatIntent{body: "look", mediaURL: "https://cdn/p.png"}},
		},
		{"media without body is ignored", Inbound{MediaURL: "https://cdn/p.png"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.in))
		})
	}
}

func TestSession_RejectsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	conn := newFakeConn()
	s := env.mgr.NewSession(conn, nil, "r1")

	err := s.Connect(context.Background())
	assert.ErrorIs(t, err, ErrAuthenticationRequired)
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, conn.isClosed())
	assert.Zero(t, env.hub.Connections())

	// nothing to undo
	s.Disconnect(context.Background())
	assert.False(t, env.tracker.Online(""))
}

func TestSession_GlobalRouteJoinsPersonalGroupOnly(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana")

	s, conn := env.connect(t, ana, GlobalRoute)
	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, []string{PersonalGroup("ana")}, env.hub.Groups(s.Client()))

	env.send(t, s, map[string]any{"message": "hello?"})
	conn.quiet(t)

	p, err := env.st.Presence(context.Background(), "ana")
	require.NoError(t, err)
	assert.True(t, p.Online)
}

func TestSession_ConnectMarksUnreadAndBroadcastsRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ana := env.user(t, "ana")
	bo := env.user(t, "bo")
	room, err := env.st.CreateRoom(ctx, "r1", store.RoomGroup, []uint{ana.UserID, bo.UserID})
	require.NoError(t, err)
	first, err := env.st.CreateMessage(ctx, room.ID, ana.UserID, "one", "")
	require.NoError(t, err)
	second, err := env.st.CreateMessage(ctx, room.ID, ana.UserID, "two", "")
	require.NoError(t, err)

	_, anaConn := env.connect(t, ana, "r1")
	// ana's own read event is not echoed
	anaConn.quiet(t)

	env.connect(t, bo, "r1")

	frame := anaConn.next(t)
	assert.Equal(t, map[string]any{"read": map[string]any{"username": "bo"}}, frame)

	for _, id := range []string{first.ID, second.ID} {
		msg, err := env.st.GetMessage(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.StatusRead, msg.Status)
		assert.Equal(t, []uint{bo.UserID}, msg.ReadBy)
	}
}

func TestSession_ReadBroadcastWithNothingUnread(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana")
	bo := env.user(t, "bo")
	_, err := env.st.CreateRoom(context.Background(), "r1", store.RoomGroup, []uint{ana.UserID, bo.UserID})
	require.NoError(t, err)

	_, anaConn := env.connect(t, ana, "r1")
	env.connect(t, bo, "r1")
	assert.Equal(t, "bo", anaConn.next(t)["read"].(map[string]any)["username"])
}

func TestSession_ChatPersistedOnceAndDelivered(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ana := env.user(t, "ana")
	bo := env.user(t, "bo")
	cy := env.user(t, "cy")
	room, err := env.st.CreateRoom(ctx, "r1", store.RoomGroup, []uint{ana.UserID, bo.UserID, cy.UserID})
	require.NoError(t, err)

	anaSess, anaConn := env.connect(t, ana, "r1")
	_, boConn := env.connect(t, bo, "r1")
	_, cyConn := env.connect(t, cy, "r1")
	// read notices from the later joiners
	anaConn.next(t)
	anaConn.next(t)
	boConn.next(t)

	env.send(t, anaSess, map[string]any{"message": "hi", "room_name": "r1"})

	var ids []string
	for _, conn := range []*fakeConn{anaConn, boConn, cyConn} {
		frame := conn.next(t)
		msg, ok := frame["message"].(map[string]any)
		require.True(t, ok, "expected a chat frame, got %v", frame)
		assert.Equal(t, "ana", msg["sender"])
		assert.Equal(t, "hi", msg["message"])
		assert.Equal(t, "r1", msg["room_name"])
		assert.Equal(t, "delivered", msg["status"])
		_, err := time.Parse(time.RFC3339Nano, msg["timestamp"].(string))
		assert.NoError(t, err)
		ids = append(ids, msg["id"].(string))
	}
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, ids[0], ids[2])

	msgs, err := env.st.ListMessages(ctx, room.ID, ana.UserID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, ids[0], msgs[0].ID)
	assert.Equal(t, store.StatusDelivered, msgs[0].Status)
	assert.ElementsMatch(t, []uint{bo.UserID, cy.UserID}, msgs[0].DeliveredBy)
}

func TestSession_TypingNotEchoed(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana")
	bo := env.user(t, "bo")
	room, err := env.st.CreateRoom(context.Background(), "r1", store.RoomGroup, []uint{ana.UserID, bo.UserID})
	require.NoError(t, err)

	anaSess, anaConn := env.connect(t, ana, "r1")
	_, boConn := env.connect(t, bo, "r1")
	anaConn.next(t) // bo's read

	env.send(t, anaSess, map[string]any{"typing": "start", "room_name": "r1"})

	assert.Equal(t,
		map[string]any{"typing": map[string]any{"username": "ana", "status": "start"}},
		boConn.next(t))
	anaConn.quiet(t)

	msgs, err := env.st.ListMessages(context.Background(), room.ID, ana.UserID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSession_DeleteForEveryone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ana := env.user(t, "ana")
	bo := env.user(t, "bo")
	room, err := env.st.CreateRoom(ctx, "r1", store.RoomGroup, []uint{ana.UserID, bo.UserID})
	require.NoError(t, err)
	msg, err := env.st.CreateMessage(ctx, room.ID, ana.UserID, "oops", "")
	require.NoError(t, err)

	anaSess, anaConn := env.connect(t, ana, "r1")
	boSess, boConn := env.connect(t, bo, "r1")
	anaConn.next(t)

	// bo cannot delete ana's message for everyone, only for himself
	env.send(t, boSess, map[string]any{"delete_message_id": msg.ID, "delete_for": "everyone"})
	forBo := map[string]any{"delete_message_id": msg.ID, "delete_for": "me", "sender": "bo"}
	assert.Equal(t, forBo, boConn.next(t))
	assert.Equal(t, forBo, anaConn.next(t))

	left, err := env.st.ListMessages(ctx, room.ID, bo.UserID)
	require.NoError(t, err)
	assert.Empty(t, left)
	left, err = env.st.ListMessages(ctx, room.ID, ana.UserID)
	require.NoError(t, err)
	assert.Len(t, left, 1)

	env.send(t, anaSess, map[string]any{"delete_message_id": msg.ID, "delete_for": "everyone", "message": "ignored"})

	want := map[string]any{"delete_message_id": msg.ID, "delete_for": "everyone", "sender": "ana"}
	assert.Equal(t, want, boConn.next(t))
	assert.Equal(t, want, anaConn.next(t))

	left, err = env.st.ListMessages(ctx, room.ID, ana.UserID)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSession_IgnoresJunk(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana")
	_, err := env.st.CreateRoom(context.Background(), "r1", store.RoomGroup, []uint{ana.UserID})
	require.NoError(t, err)

	s, conn := env.connect(t, ana, "r1")
	for _, raw := range []string{`not json`, `{}`, `{"unknown":1}`, `{"message":"x","room_name":"other"}`, `[1,2]`} {
		s.Receive(context.Background(), []byte(raw))
	}
	conn.quiet(t)
	assert.Equal(t, StateActive, s.State())
}

func TestSession_PersistenceFailureDropsChat(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana")

	// the room exists only as a route, not in the store
	s, conn := env.connect(t, ana, "ghost-room")
	env.send(t, s, map[string]any{"message": "anyone?"})
	conn.quiet(t)
	assert.Equal(t, StateActive, s.State())
}

func TestSession_DisconnectKeepsUserOnlineUntilLast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ana := env.user(t, "ana")

	s1, conn1 := env.connect(t, ana, GlobalRoute)
	s2, _ := env.connect(t, ana, GlobalRoute)
	assert.Equal(t, 2, env.tracker.Connections("ana"))

	s1.Disconnect(ctx)
	assert.Equal(t, StateClosed, s1.State())
	assert.True(t, conn1.isClosed())
	assert.Empty(t, env.hub.Groups(s1.Client()))

	p, err := env.st.Presence(ctx, "ana")
	require.NoError(t, err)
	assert.True(t, p.Online)

	before := time.Now().Add(-time.Second)
	s2.Disconnect(ctx)
	p, err = env.st.Presence(ctx, "ana")
	require.NoError(t, err)
	assert.False(t, p.Online)
	assert.True(t, p.LastSeen.After(before))
	assert.Zero(t, env.hub.Connections())
}

func TestSession_RunUntilTransportCloses(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana")
	bo := env.user(t, "bo")
	_, err := env.st.CreateRoom(context.Background(), "r1", store.RoomGroup, []uint{ana.UserID, bo.UserID})
	require.NoError(t, err)

	boSess, boConn := env.connect(t, bo, "r1")

	conn := newFakeConn()
	s := env.mgr.NewSession(conn, &ana, "r1")
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	assert.Equal(t, "ana", boConn.next(t)["read"].(map[string]any)["username"])

	b, _ := json.Marshal(map[string]any{"message": "from run"})
	conn.in <- b
	frame := boConn.next(t)
	assert.Equal(t, "from run", frame["message"].(map[string]any)["message"])

	_ = conn.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the transport closed")
	}
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, []string{boSess.Client().Id}, env.hub.Members(RoomGroup("r1")))
}

func TestSession_PublishesMessageCreated(t *testing.T) {
	env := newTestEnv(t)
	pub := &recordingPublisher{}
	env.mgr = NewManager(env.hub, env.st, env.tracker, pub, zap.NewNop(), 16)
	ana := env.user(t, "ana")
	_, err := env.st.CreateRoom(context.Background(), "r1", store.RoomGroup, []uint{ana.UserID})
	require.NoError(t, err)

	s, conn := env.connect(t, ana, "r1")
	env.send(t, s, map[string]any{"message": "hi"})
	conn.next(t)

	assert.Equal(t, []events.Type{events.MessageCreated}, pub.types())
}

func TestSession_RejectsNonParticipant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ana := env.user(t, "ana")
	env.user(t, "bo")
	eve := env.user(t, "eve")
	room, _, err := env.rooms.CreatePrivateRoom(ctx, ana, "bo")
	require.NoError(t, err)
	msg, err := env.st.CreateMessage(ctx, room.ID, ana.UserID, "secret", "")
	require.NoError(t, err)

	_, anaConn := env.connect(t, ana, room.Name)

	conn := newFakeConn()
	s := env.mgr.NewSession(conn, &eve, room.Name)
	err = s.Connect(ctx)
	assert.ErrorIs(t, err, ErrNotAParticipant)
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, conn.isClosed())
	assert.Empty(t, env.hub.Groups(s.Client()))
	assert.Len(t, env.hub.Members(RoomGroup(room.Name)), 1)
	assert.Zero(t, env.tracker.Connections("eve"))

	// no read receipt and no read notice
	got, err := env.st.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSent, got.Status)
	assert.Empty(t, got.ReadBy)
	anaConn.quiet(t)

	// nothing to undo
	s.Disconnect(ctx)
	assert.Equal(t, 1, env.hub.Connections())
}

func TestSession_EarlyJoinerEvictedWhenRoomIsCreated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ana := env.user(t, "ana")
	bo := env.user(t, "bo")
	eve := env.user(t, "eve")

	eveSess, eveConn := env.connect(t, eve, "team")
	assert.Contains(t, env.hub.Groups(eveSess.Client()), RoomGroup("team"))

	room, err := env.rooms.CreateGroupRoom(ctx, ana, "team", []uint{bo.UserID})
	require.NoError(t, err)
	assert.Equal(t, []string{PersonalGroup("eve")}, env.hub.Groups(eveSess.Client()))

	anaSess, _ := env.connect(t, ana, "team")
	env.send(t, anaSess, map[string]any{"message": "members only"})
	eveConn.quiet(t)

	// the evicted session cannot post into the room either
	env.send(t, eveSess, map[string]any{"message": "let me in"})
	msgs, err := env.st.ListMessages(ctx, room.ID, ana.UserID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "members only", msgs[0].Body)
}

func TestSession_DeleteRelayedWithoutStoredMessage(t *testing.T) {
	env := newTestEnv(t)
	ana := env.user(t, "ana")
	bo := env.user(t, "bo")
	_, err := env.st.CreateRoom(context.Background(), "r1", store.RoomGroup, []uint{ana.UserID, bo.UserID})
	require.NoError(t, err)

	anaSess, anaConn := env.connect(t, ana, "r1")
	_, boConn := env.connect(t, bo, "r1")
	anaConn.next(t) // bo's read

	env.send(t, anaSess, map[string]any{"delete_message_id": "not-stored"})
	assert.Equal(t,
		map[string]any{"delete_message_id": "not-stored", "delete_for": "me", "sender": "ana"},
		boConn.next(t))

	env.send(t, anaSess, map[string]any{"delete_message_id": "m9", "delete_for": "them"})
	assert.Equal(t,
		map[string]any{"delete_message_id": "m9", "delete_for": "them", "sender": "ana"},
		boConn.next(t))
}

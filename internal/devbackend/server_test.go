package devbackend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messenger-client/internal/api"
	"github.com/messenger-client/internal/events"
	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/transport"
)

const seedYAML = `
contacts:
  - {id: u2, prenom: Awa, nom: Diop, telephone: "+221700000002"}
groups:
  - {id: g1, nom: Famille, membres: [u1, u2]}
  - {id: g2, nom: Travail, membres: [u2]}
messages:
  - {id: m1, sender_id: u2, receiver_id: u1, content: salut, timestamp: 2024-01-01T10:00:00Z}
  - {id: m2, sender_id: u1, group_id: g1, content: bonjour, timestamp: 2024-01-01T10:05:00Z, status: delivered}
`

type fixture struct {
	srv   *httptest.Server
	api   *api.Client
	store *Store
	hub   *Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))
	seed, err := LoadSeed(path)
	require.NoError(t, err)

	store := NewStore(seed)
	hub := NewHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(NewServer(store, hub, "*").Router())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-hub.done
	})
	return &fixture{srv: srv, api: api.New(transport.NewClient(srv.URL, 2*time.Second)), store: store, hub: hub}
}

func TestLoadSeed(t *testing.T) {
	f := newFixture(t)
	msgs := f.store.ListMessages(api.MessageQuery{})
	require.Len(t, msgs, 2)
	assert.Equal(t, model.MessageStatusSent, msgs[0].Status)
	assert.Equal(t, model.MessageStatusDelivered, msgs[1].Status)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), msgs[0].Timestamp.UTC())

	empty, err := LoadSeed("")
	require.NoError(t, err)
	assert.Empty(t, empty.Contacts)

	_, err = LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestListMessagesFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.api.ListMessages(ctx, api.MessageQuery{SenderID: "u2", ReceiverID: "u1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)

	got, err = f.api.ListMessages(ctx, api.MessageQuery{SenderID: "u1", ReceiverID: "u2"})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.api.ListMessages(ctx, api.MessageQuery{GroupID: "g1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m2", got[0].ID)
}

func TestCreateMessageIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg := model.Message{ID: "msg_1_abc", SenderID: "u1", ReceiverID: "u2", Content: "hi", Type: model.ContentTypeText}

	first, err := f.api.CreateMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, "msg_1_abc", first.ID)
	assert.Equal(t, model.MessageStatusSent, first.Status)
	assert.False(t, first.Timestamp.IsZero())

	again, err := f.api.CreateMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	got, err := f.api.ListMessages(ctx, api.MessageQuery{SenderID: "u1", ReceiverID: "u2"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCreateMessageRejectsBadTarget(t *testing.T) {
	f := newFixture(t)
	_, err := f.api.CreateMessage(context.Background(), model.Message{SenderID: "u1", Content: "x"})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, transport.StatusOf(err))
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	out, err := f.api.UpdateStatus(ctx, "m1", api.ReadPatch(at))
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusRead, out.Status)
	require.NotNil(t, out.ReadAt)
	assert.True(t, at.Equal(*out.ReadAt))

	_, err = f.api.UpdateStatus(ctx, "nope", api.DeliveredPatch(at))
	assert.Equal(t, http.StatusNotFound, transport.StatusOf(err))

	_, err = f.api.UpdateStatus(ctx, "m1", api.StatusPatch{Status: "lost"})
	assert.Equal(t, http.StatusBadRequest, transport.StatusOf(err))
}

func TestLookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.api.GetContactByID(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "Awa Diop", c.FullName())

	_, err = f.api.GetContactByID(ctx, "ghost")
	assert.ErrorIs(t, err, api.ErrNotFound)

	g, err := f.api.GetGroupByID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "Famille", g.Nom)

	_, err = f.api.GetGroupByID(ctx, "g9")
	assert.ErrorIs(t, err, api.ErrNotFound)

	gs, err := f.api.GetGroupsByUserID(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, gs, 1)
	assert.Equal(t, "g1", gs[0].ID)
}

func TestAudience(t *testing.T) {
	s := NewStore(Seed{Groups: []seedGroup{{ID: "g1", Membres: []string{"a", "b", "c"}}}})
	assert.Equal(t, []string{"a", "b", "c"}, s.Audience(model.Message{SenderID: "a", GroupID: "g1"}))
	assert.Equal(t, []string{"a", "b"}, s.Audience(model.Message{SenderID: "a", ReceiverID: "b"}))
	assert.Equal(t, []string{"a"}, s.Audience(model.Message{SenderID: "a", ReceiverID: "a"}))
	assert.Equal(t, []string{"a"}, s.Audience(model.Message{SenderID: "a", GroupID: "unknown"}))
}

func dialWS(t *testing.T, f *fixture, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?userId=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return f.hub.Connected(userID) == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev events.Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	return ev
}

func TestHubPublishesNewMessageAndStatus(t *testing.T) {
	f := newFixture(t)
	conn := dialWS(t, f, "u2")
	ctx := context.Background()

	_, err := f.api.CreateMessage(ctx, model.Message{ID: "x1", SenderID: "u1", ReceiverID: "u2", Content: "yo"})
	require.NoError(t, err)

	ev := readEvent(t, conn)
	assert.Equal(t, events.EventNewMessage, ev.Type)
	m, err := ev.Message()
	require.NoError(t, err)
	assert.Equal(t, "x1", m.ID)

	_, err = f.api.UpdateStatus(ctx, "x1", api.DeliveredPatch(time.Now()))
	require.NoError(t, err)

	ev = readEvent(t, conn)
	assert.Equal(t, events.EventMessageStatus, ev.Type)
	st, err := ev.Status()
	require.NoError(t, err)
	assert.Equal(t, events.MessageStatusPayload{MessageID: "x1", Status: model.MessageStatusDelivered}, st)
}

func TestWSRequiresUser(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHubDropsClientOnDisconnect(t *testing.T) {
	f := newFixture(t)
	conn := dialWS(t, f, "u1")
	conn.Close()
	assert.Eventually(t, func() bool { return f.hub.Connected("u1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

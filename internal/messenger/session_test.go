package messenger

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messenger-client/internal/api"
	"github.com/messenger-client/internal/config"
	"github.com/messenger-client/internal/conversation"
	"github.com/messenger-client/internal/devbackend"
	"github.com/messenger-client/internal/identity"
	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/poller"
	"github.com/messenger-client/internal/sender"
	"github.com/messenger-client/internal/storage/memory"
	"github.com/messenger-client/internal/transport"
)

const seed = `
contacts:
  - {id: u2, prenom: Awa, nom: Diop, telephone: "+221700000002"}
  - {id: u3, prenom: Moussa, nom: Fall, telephone: "+221700000003"}
groups:
  - {id: g1, nom: Famille, membres: [u1, u2, u3]}
messages:
  - {id: m1, sender_id: u2, receiver_id: u1, content: salut, timestamp: 2024-01-01T10:00:00Z}
  - {id: m2, sender_id: u1, receiver_id: u2, content: ca va, timestamp: 2024-01-01T10:01:00Z, status: read}
  - {id: m3, sender_id: u2, receiver_id: u1, content: oui, timestamp: 2024-01-01T10:02:00Z}
  - {id: m4, sender_id: u1, group_id: g1, content: bonjour tout le monde, timestamp: 2024-01-01T09:00:00Z}
  - {id: m5, sender_id: u3, receiver_id: u1, content: rdv demain, timestamp: 2024-01-01T08:00:00Z, status: read}
`

type recordingView struct {
	mu          sync.Mutex
	messages    map[string][]model.Message
	renderedFor []string
	optimistic  []model.Message
	discussions []model.Discussion
	unread      int
	title       string
	errs        []error
}

func newRecordingView() *recordingView {
	return &recordingView{messages: map[string][]model.Message{}, unread: -1}
}

func (v *recordingView) RenderMessages(sel model.Selection, msgs []model.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages[sel.ID] = msgs
	v.renderedFor = append(v.renderedFor, sel.ID)
}

func (v *recordingView) RenderOptimistic(msg model.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.optimistic = append(v.optimistic, msg)
}

func (v *recordingView) RenderDiscussions(ds []model.Discussion) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.discussions = ds
}

func (v *recordingView) RenderUnread(count int, title string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unread, v.title = count, title
}

func (v *recordingView) ShowError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errs = append(v.errs, err)
}

func (v *recordingView) ids(convID string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []string
	for _, m := range v.messages[convID] {
		out = append(out, m.ID)
	}
	return out
}

func (v *recordingView) discussionIDs() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []string
	for _, d := range v.discussions {
		out = append(out, d.ID)
	}
	return out
}

// gatedBackend держит запросы по группам, пока не открыт gate.
type gatedBackend struct {
	*api.Client
	gate    chan struct{}
	entered chan struct{}
}

func (b *gatedBackend) ListMessages(ctx context.Context, q api.MessageQuery) ([]model.Message, error) {
	if q.GroupID != "" && b.gate != nil {
		select {
		case b.entered <- struct{}{}:
		default:
		}
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return b.Client.ListMessages(ctx, q)
}

type env struct {
	s     *Session
	view  *recordingView
	store *devbackend.Store
	hub   *devbackend.Hub
	be    *gatedBackend
	srv   *httptest.Server
	cfg   *config.Config
}

func testConfig(url string) *config.Config {
	cfg := config.Default()
	cfg.BackendURL = url
	cfg.Poll = config.PollConfig{Messages: time.Hour, Discussions: time.Hour, Unread: time.Hour}
	cfg.MarkReadDelay = 5 * time.Millisecond
	cfg.Send.RetryBase = 5 * time.Millisecond
	cfg.Send.DeliveredDelay = 10 * time.Millisecond
	cfg.Send.RefreshAfterSend = 5 * time.Millisecond
	cfg.Send.DuplicateWindow = time.Hour
	return cfg
}

func newEnv(t *testing.T, mutate func(cfg *config.Config)) *env {
	t.Helper()
	sd, err := devbackend.ParseSeed([]byte(seed))
	require.NoError(t, err)
	store := devbackend.NewStore(sd)
	hub := devbackend.NewHub(0)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	go hub.Run(hubCtx)
	srv := httptest.NewServer(devbackend.NewServer(store, hub, "*").Router())

	cfg := testConfig(srv.URL)
	if mutate != nil {
		mutate(cfg)
	}
	be := &gatedBackend{Client: api.New(transport.NewClient(srv.URL, 2*time.Second))}
	view := newRecordingView()
	s := New(cfg, Deps{
		Identity: identity.NewMemoryStore(&model.User{ID: "u1"}),
		Backend:  be,
		Store:    memory.New(),
		View:     view,
	})
	t.Cleanup(func() {
		s.Close()
		srv.Close()
		hubCancel()
	})
	return &env{s: s, view: view, store: store, hub: hub, be: be, srv: srv, cfg: cfg}
}

func (e *env) status(id string) model.MessageStatus {
	for _, m := range e.store.ListMessages(api.MessageQuery{}) {
		if m.ID == id {
			return m.Status
		}
	}
	return ""
}

func TestOpenConversationRendersAndMarksRead(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, e.s.SetCurrentConversation(ctx, model.KindContact, "u2", "Awa Diop"))
	assert.Equal(t, []string{"m1", "m2", "m3"}, e.view.ids("u2"))

	require.Eventually(t, func() bool {
		return e.status("m1") == model.MessageStatusRead && e.status("m3") == model.MessageStatusRead
	}, 2*time.Second, 5*time.Millisecond)
	// свои и чужие сообщения не трогаются
	assert.Equal(t, model.MessageStatusSent, e.status("m4"))
}

func TestOpenGroupConversation(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, e.s.SetCurrentConversation(context.Background(), model.KindGroup, "g1", "Famille"))
	assert.Equal(t, []string{"m4"}, e.view.ids("g1"))
	sel, ok := e.s.Current()
	require.True(t, ok)
	assert.Equal(t, model.Selection{Kind: model.KindGroup, ID: "g1", Name: "Famille"}, sel)
}

func TestStaleResultIsDiscarded(t *testing.T) {
	e := newEnv(t, nil)
	e.be.gate = make(chan struct{})
	e.be.entered = make(chan struct{}, 2)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- e.s.SetCurrentConversation(ctx, model.KindGroup, "g1", "Famille") }()
	<-e.be.entered
	require.NoError(t, e.s.SetCurrentConversation(ctx, model.KindContact, "u3", "Moussa"))
	close(e.be.gate)
	require.NoError(t, <-done)

	e.view.mu.Lock()
	defer e.view.mu.Unlock()
	assert.Equal(t, []string{"u3"}, e.view.renderedFor)
	assert.NotContains(t, e.view.messages, "g1")
}

func TestSendTextFlow(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, e.s.SetCurrentConversation(ctx, model.KindContact, "u3", "Moussa"))

	require.NoError(t, e.s.SendText(ctx, "a demain"))
	require.NoError(t, e.s.SendText(ctx, "a demain"), "duplicate is swallowed")

	e.view.mu.Lock()
	require.Len(t, e.view.optimistic, 1)
	sent := e.view.optimistic[0]
	e.view.mu.Unlock()
	assert.Equal(t, "u3", sent.ReceiverID)

	// после подтверждения перезагрузка показывает серверную копию
	require.Eventually(t, func() bool {
		ids := e.view.ids("u3")
		return len(ids) == 2 && ids[1] == sent.ID
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return e.status(sent.ID) == model.MessageStatusDelivered
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, e.store.ListMessages(api.MessageQuery{SenderID: "u1", ReceiverID: "u3"}), 1)
}

func TestSendTextErrors(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	assert.ErrorIs(t, e.s.SendText(ctx, "hello"), sender.ErrNoConversation)

	require.NoError(t, e.s.SetCurrentConversation(ctx, model.KindContact, "u2", "Awa"))
	assert.ErrorIs(t, e.s.SendText(ctx, "  "), sender.ErrEmptyMessage)

	e.view.mu.Lock()
	defer e.view.mu.Unlock()
	require.Len(t, e.view.errs, 2)
	assert.ErrorIs(t, e.view.errs[0], sender.ErrNoConversation)
}

func TestSendFailureIsShown(t *testing.T) {
	e := newEnv(t, func(cfg *config.Config) { cfg.Send.MaxAttempts = 2 })
	ctx := context.Background()
	require.NoError(t, e.s.SetCurrentConversation(ctx, model.KindContact, "u2", "Awa"))
	e.srv.Close()

	require.NoError(t, e.s.SendText(ctx, "lost"))
	require.Eventually(t, func() bool {
		e.view.mu.Lock()
		defer e.view.mu.Unlock()
		return len(e.view.errs) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, e.s.Sender().Pending(), 1)
}

func TestClearCurrentConversation(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, e.s.SetCurrentConversation(ctx, model.KindContact, "u2", "Awa"))
	e.s.ClearCurrentConversation()

	_, ok := e.s.Current()
	assert.False(t, ok)
	assert.Empty(t, e.s.Sender().Pending())
	assert.ErrorIs(t, e.s.messagesTick(ctx), poller.ErrSkip)
	require.NoError(t, e.s.LoadMessages(ctx))
}

func TestRefreshUnreadAndTitle(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, e.s.RefreshUnread(ctx))
	e.view.mu.Lock()
	assert.Equal(t, 2, e.view.unread)
	assert.Equal(t, "(2) Messenger", e.view.title)
	e.view.mu.Unlock()

	assert.Equal(t, "Messenger", Title("Messenger", 0))
	assert.Equal(t, "(7) Chat", Title("Chat", 7))
}

func TestRefreshDiscussionsFilterSearchFavorite(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	require.NoError(t, e.s.RefreshDiscussions(ctx))
	assert.Equal(t, []string{"u2", "g1", "u3"}, e.view.discussionIDs())

	e.view.mu.Lock()
	first := e.view.discussions[0]
	e.view.mu.Unlock()
	assert.Equal(t, "Awa Diop", first.Name)
	assert.Equal(t, "AD", first.Avatar)
	assert.Equal(t, 2, first.UnreadCount)

	e.s.SetFilter(conversation.FilterGroups)
	assert.Equal(t, []string{"g1"}, e.view.discussionIDs())

	e.s.SetFilter(conversation.FilterUnread)
	assert.Equal(t, []string{"u2"}, e.view.discussionIDs())

	e.s.SetFilter(conversation.FilterFavorites)
	assert.Empty(t, e.view.discussionIDs())
	assert.True(t, e.s.ToggleFavorite("u3"))
	assert.Equal(t, []string{"u3"}, e.view.discussionIDs())
	assert.False(t, e.s.ToggleFavorite("u3"))
	assert.Empty(t, e.view.discussionIDs())

	e.s.SetFilter(conversation.FilterAll)
	e.s.SetSearch("rdv")
	assert.Equal(t, []string{"u3"}, e.view.discussionIDs())
	e.s.SetSearch("famille")
	assert.Equal(t, []string{"g1"}, e.view.discussionIDs())
	e.s.SetSearch("")
	assert.Len(t, e.view.discussionIDs(), 3)
}

func TestMessagesTickSkipsWhileSending(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	assert.ErrorIs(t, e.s.messagesTick(ctx), poller.ErrSkip)

	require.NoError(t, e.s.SetCurrentConversation(ctx, model.KindContact, "u2", "Awa"))
	assert.NoError(t, e.s.messagesTick(ctx))
}

func TestAnonymousTicksAreSkipped(t *testing.T) {
	e := newEnv(t, nil)
	anon := New(e.cfg, Deps{Identity: identity.NewMemoryStore(nil), Backend: e.be, Store: memory.New()})
	defer anon.Close()

	tick := skipAnonymous(anon.RefreshUnread)
	assert.ErrorIs(t, tick(context.Background()), poller.ErrSkip)
	err := anon.SetCurrentConversation(context.Background(), model.KindContact, "u2", "")
	assert.ErrorIs(t, err, identity.ErrNotAuthenticated)
	other := skipAnonymous(func(context.Context) error { return errors.New("backend down") })
	assert.NotErrorIs(t, other(context.Background()), poller.ErrSkip)
}

func TestEventsRefreshViews(t *testing.T) {
	e := newEnv(t, func(cfg *config.Config) {
		cfg.Events.Enabled = true
		cfg.Events.URL = "ws" + strings.TrimPrefix(cfg.BackendURL, "http") + "/ws"
	})
	ctx := context.Background()
	e.s.Start(ctx)
	require.Eventually(t, func() bool {
		e.view.mu.Lock()
		defer e.view.mu.Unlock()
		return e.view.unread == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return e.hub.Connected("u1") == 1 }, 2*time.Second, 5*time.Millisecond)

	other := api.New(transport.NewClient(e.srv.URL, time.Second))
	_, err := other.CreateMessage(ctx, model.Message{ID: "n1", SenderID: "u3", ReceiverID: "u1", Content: "tu es la ?"})
	require.NoError(t, err)

	// опрос здесь раз в час, счётчик может обновить только событие
	require.Eventually(t, func() bool {
		e.view.mu.Lock()
		defer e.view.mu.Unlock()
		return e.view.unread == 3 && e.view.title == "(3) Messenger"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCloseIsIdempotent(t *testing.T) {
	e := newEnv(t, nil)
	e.s.Start(context.Background())
	e.s.Close()
	e.s.Close()
	assert.False(t, e.s.Scheduler().Loop(poller.Unread).Active())
}

func TestCloseWaitsForRunningTick(t *testing.T) {
	e := newEnv(t, nil)
	e.be.gate = make(chan struct{})
	e.be.entered = make(chan struct{}, 4)
	ctx := context.Background()

	opened := make(chan error, 1)
	go func() { opened <- e.s.SetCurrentConversation(ctx, model.KindGroup, "g1", "Famille") }()
	<-e.be.entered

	loop := e.s.Scheduler().Loop(poller.Messages)
	// фоновые тики сессии идут на её контексте, как из Start и обработчика событий
	e.s.Scheduler().Trigger(e.s.ctx, poller.Messages)
	require.Eventually(t, loop.Busy, time.Second, time.Millisecond)

	e.s.Close()
	assert.False(t, loop.Busy(), "tick still running after Close")
	assert.False(t, loop.Go(ctx), "ticks must not start after Close")

	close(e.be.gate)
	<-opened
}

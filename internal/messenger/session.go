// Package messenger собирает кеш, очередь отправки, циклы обновления и подписку на события
// в одну Session, которая управляет View.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/messenger-client/internal/cache"
	"github.com/messenger-client/internal/config"
	"github.com/messenger-client/internal/conversation"
	"github.com/messenger-client/internal/events"
	"github.com/messenger-client/internal/identity"
	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/poller"
	"github.com/messenger-client/internal/sender"
	"github.com/messenger-client/internal/storage"
)

// View получает всё, что показывает сессия. Вызовы идут из любых горутин.
type View interface {
	RenderMessages(sel model.Selection, msgs []model.Message)
	RenderOptimistic(msg model.Message)
	RenderDiscussions(ds []model.Discussion)
	RenderUnread(count int, title string)
	ShowError(err error)
}

// Backend — REST-контракт, нужный сессии.
type Backend interface {
	cache.Backend
	sender.Backend
	conversation.Lookups
}

type Deps struct {
	Identity identity.Store
	Backend  Backend
	Store    storage.CacheStore
	View     View
}

type Session struct {
	cfg      *config.Config
	ident    identity.Store
	lookups  conversation.Lookups
	view     View
	cache    *cache.MessageCache
	sender   *sender.Pipeline
	sched    *poller.Scheduler
	listener *events.Listener

	mu          sync.Mutex
	current     *model.Selection
	gen         uint64
	filter      conversation.Filter
	search      string
	favorites   map[string]bool
	discussions []model.Discussion
	marking     map[string]struct{}
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
	unbind func() bool
	wg     sync.WaitGroup
}

func New(cfg *config.Config, d Deps) *Session {
	if d.View == nil {
		d.View = nopView{}
	}
	s := &Session{
		cfg:       cfg,
		ident:     d.Identity,
		lookups:   d.Backend,
		view:      d.View,
		filter:    conversation.FilterAll,
		favorites: make(map[string]bool),
		marking:   make(map[string]struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cache = cache.New(d.Backend, d.Store, cfg.Cache.Duration)
	s.sender = sender.New(d.Backend, s.cache, d.Identity, d.View, sender.Options{
		MaxAttempts:     cfg.Send.MaxAttempts,
		RetryBase:       cfg.Send.RetryBase,
		DeliveredDelay:  cfg.Send.DeliveredDelay,
		DuplicateWindow: cfg.Send.DuplicateWindow,
		OnConfirmed:     s.onConfirmed,
		OnFailed:        s.onFailed,
	})
	s.sched = poller.NewScheduler(
		poller.NewLoop(poller.Messages, cfg.Poll.Messages, s.messagesTick),
		poller.NewLoop(poller.Discussions, cfg.Poll.Discussions, skipAnonymous(s.RefreshDiscussions)),
		poller.NewLoop(poller.Unread, cfg.Poll.Unread, skipAnonymous(s.RefreshUnread)),
	)
	if cfg.Events.Enabled {
		s.listener = events.NewListener(cfg.EventsURL(), d.Identity, s.onEvent)
	}
	return s
}

func (s *Session) Cache() *cache.MessageCache { return s.cache }

func (s *Session) Sender() *sender.Pipeline { return s.sender }

func (s *Session) Scheduler() *poller.Scheduler { return s.sched }

// Start запускает циклы обновления, подписку на события и по одному обновлению каждого цикла.
// Фоновая работа останавливается по ctx; дождаться её можно только через Close.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.unbind != nil {
		s.mu.Unlock()
		return
	}
	s.unbind = context.AfterFunc(ctx, s.cancel)
	s.mu.Unlock()

	s.sched.Start(s.ctx)
	if s.listener != nil {
		s.spawn(0, func(ctx context.Context) {
			if err := s.listener.Run(ctx); err != nil {
				logger.Errorf("session: events listener: %v", err)
			}
		})
	}
	s.sched.TriggerAll(s.ctx)
}

// Close останавливает циклы, подписку, очередь отправки и все фоновые задачи и ждёт их.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unbind := s.unbind
	s.mu.Unlock()

	if unbind != nil {
		unbind()
	}
	s.cancel()
	s.sched.Stop()
	s.sender.Close()
	s.wg.Wait()
}

// spawn запускает fn на контексте сессии после delay. После Close ничего не запускается.
func (s *Session) spawn(delay time.Duration, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-s.ctx.Done():
				return
			case <-t.C:
			}
		}
		if s.ctx.Err() != nil {
			return
		}
		fn(s.ctx)
	}()
}

// Current возвращает открытую беседу, если она есть.
func (s *Session) Current() (model.Selection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return model.Selection{}, false
	}
	return *s.current, true
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && s.gen == gen
}

// SetCurrentConversation открывает беседу: прогревает её кеш в фоне и загружает сообщения.
func (s *Session) SetCurrentConversation(ctx context.Context, kind model.ConversationKind, id, name string) error {
	if id == "" {
		return sender.ErrNoConversation
	}
	if kind != model.KindGroup {
		kind = model.KindContact
	}
	user, err := s.ident.Current(ctx)
	if err != nil {
		s.view.ShowError(err)
		return err
	}

	s.mu.Lock()
	s.current = &model.Selection{Kind: kind, ID: id, Name: name}
	s.gen++
	s.mu.Unlock()
	logger.Debugf("session: open %s %s", kind, id)

	s.spawn(0, func(ctx context.Context) { s.cache.Preload(ctx, kind, id, user.ID) })
	return s.LoadMessages(ctx)
}

// ClearCurrentConversation закрывает беседу и сбрасывает неотправленные сообщения.
func (s *Session) ClearCurrentConversation() {
	s.mu.Lock()
	s.current = nil
	s.gen++
	s.mu.Unlock()
	s.sender.Reset()
}

// LoadMessages загружает и показывает открытую беседу. Результат, пришедший после
// переключения беседы, отбрасывается.
func (s *Session) LoadMessages(ctx context.Context) error {
	err := s.load(ctx)
	if err != nil {
		s.view.ShowError(err)
	}
	return err
}

func (s *Session) load(ctx context.Context) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return nil
	}
	sel, gen := *s.current, s.gen
	s.mu.Unlock()

	user, err := s.ident.Current(ctx)
	if err != nil {
		return err
	}
	msgs, err := s.cache.Messages(ctx, sel, user.ID)
	if err != nil {
		if !s.isCurrent(gen) {
			return nil
		}
		return fmt.Errorf("session.LoadMessages %s: %w", sel.ID, err)
	}
	if !s.isCurrent(gen) {
		logger.Debugf("session: dropped stale messages for %s", sel.ID)
		return nil
	}
	s.view.RenderMessages(sel, msgs)

	var unread []string
	for _, m := range msgs {
		if m.IsUnreadFor(user.ID) {
			unread = append(unread, m.ID)
		}
	}
	s.scheduleMarkRead(unread)
	return nil
}

// scheduleMarkRead по очереди отмечает ids прочитанными после задержки. Уже
// запланированные id пропускаются.
func (s *Session) scheduleMarkRead(ids []string) {
	s.mu.Lock()
	var todo []string
	for _, id := range ids {
		if _, busy := s.marking[id]; busy {
			continue
		}
		s.marking[id] = struct{}{}
		todo = append(todo, id)
	}
	s.mu.Unlock()
	if len(todo) == 0 {
		return
	}

	s.spawn(s.cfg.MarkReadDelay, func(ctx context.Context) {
		defer func() {
			s.mu.Lock()
			for _, id := range todo {
				delete(s.marking, id)
			}
			s.mu.Unlock()
		}()
		marked := 0
		for _, id := range todo {
			if ctx.Err() != nil {
				return
			}
			if err := s.cache.MarkMessageAsRead(ctx, id); err != nil {
				logger.Warnf("session: mark read %s: %v", id, err)
				continue
			}
			marked++
		}
		if marked > 0 {
			s.sched.Trigger(ctx, poller.Unread, poller.Discussions)
		}
	})
}

// SendText ставит текст в очередь открытой беседы. Повтор игнорируется.
func (s *Session) SendText(ctx context.Context, text string) error {
	sel, ok := s.Current()
	if !ok {
		s.view.ShowError(sender.ErrNoConversation)
		return sender.ErrNoConversation
	}
	_, err := s.sender.Submit(ctx, sender.Draft{Target: sel, Content: text})
	switch {
	case err == nil, errors.Is(err, sender.ErrDuplicateSubmission):
		return nil
	default:
		s.view.ShowError(err)
		return err
	}
}

func (s *Session) onConfirmed(msg model.Message) {
	s.spawn(s.cfg.Send.RefreshAfterSend, func(ctx context.Context) {
		if err := s.load(ctx); err != nil {
			logger.Warnf("session: reload after send: %v", err)
		}
		s.sched.Trigger(ctx, poller.Discussions)
	})
}

func (s *Session) onFailed(msg model.Message, err error) {
	s.view.ShowError(fmt.Errorf("message not sent: %w", err))
}

// RefreshDiscussions пересобирает список бесед с именами, фильтром и поиском.
func (s *Session) RefreshDiscussions(ctx context.Context) error {
	user, err := s.ident.Current(ctx)
	if err != nil {
		return err
	}
	convs, err := s.cache.UserConversations(ctx, user.ID)
	if err != nil {
		return err
	}
	ds := conversation.Enrich(ctx, s.lookups, convs, s.isFavorite)

	s.mu.Lock()
	s.discussions = ds
	s.mu.Unlock()
	s.renderDiscussions()
	return nil
}

func (s *Session) renderDiscussions() {
	s.mu.Lock()
	ds := conversation.Search(conversation.Apply(slices.Clone(s.discussions), s.filter), s.search)
	s.mu.Unlock()
	s.view.RenderDiscussions(ds)
}

// RefreshUnread показывает общее число непрочитанных и заголовок окна.
func (s *Session) RefreshUnread(ctx context.Context) error {
	user, err := s.ident.Current(ctx)
	if err != nil {
		return err
	}
	n := s.cache.UnreadCount(ctx, user.ID)
	s.view.RenderUnread(n, Title(s.cfg.AppTitle, n))
	return nil
}

// Title: "(N) app" при N > 0, иначе просто app.
func Title(app string, unread int) string {
	if unread > 0 {
		return fmt.Sprintf("(%d) %s", unread, app)
	}
	return app
}

func (s *Session) SetFilter(f conversation.Filter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
	s.renderDiscussions()
}

func (s *Session) SetSearch(term string) {
	s.mu.Lock()
	s.search = term
	s.mu.Unlock()
	s.renderDiscussions()
}

// ToggleFavorite переключает избранное и возвращает новое состояние.
func (s *Session) ToggleFavorite(id string) bool {
	s.mu.Lock()
	fav := !s.favorites[id]
	if fav {
		s.favorites[id] = true
	} else {
		delete(s.favorites, id)
	}
	for i := range s.discussions {
		if s.discussions[i].ID == id {
			s.discussions[i].IsFavorite = fav
		}
	}
	s.mu.Unlock()
	s.renderDiscussions()
	return fav
}

func (s *Session) isFavorite(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.favorites[id]
}

// messagesTick перезагружает открытую беседу, если она есть и отправка не идёт.
func (s *Session) messagesTick(ctx context.Context) error {
	if _, ok := s.Current(); !ok || s.sender.Busy() {
		return poller.ErrSkip
	}
	return skipAnonymous(s.load)(ctx)
}

// onEvent сбрасывает кеш и обновляет все представления.
func (s *Session) onEvent(ctx context.Context, ev events.Event) {
	switch ev.Type {
	case events.EventNewMessage, events.EventMessageStatus:
		s.cache.Clear(ctx)
		s.sched.TriggerAll(ctx)
	}
}

func skipAnonymous(fn poller.TickFunc) poller.TickFunc {
	return func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, identity.ErrNotAuthenticated) {
			return poller.ErrSkip
		}
		return err
	}
}

type nopView struct{}

func (nopView) RenderMessages(model.Selection, []model.Message) {}
func (nopView) RenderOptimistic(model.Message) {}
func (nopView) RenderDiscussions([]model.Discussion) {}
func (nopView) RenderUnread(int, string) {}
func (nopView) ShowError(error) {}

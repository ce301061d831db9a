// Package cache — кеш сообщений и бесед поверх storage.CacheStore.
//
// Свежесть одна на оба раздела: чтение берётся из кеша, только если с последнего обновления
// прошло меньше duration и ключ есть. Любая успешная запись очищает оба раздела.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/messenger-client/internal/api"
	"github.com/messenger-client/internal/conversation"
	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/observability"
	"github.com/messenger-client/internal/storage"
)

const DefaultDuration = 10 * time.Second

// Backend — часть REST-контракта, нужная кешу.
type Backend interface {
	ListMessages(ctx context.Context, q api.MessageQuery) ([]model.Message, error)
	UpdateStatus(ctx context.Context, id string, patch api.StatusPatch) (model.Message, error)
}

type MessageCache struct {
	backend  Backend
	store    storage.CacheStore
	duration time.Duration
	now      func() time.Time

	// epoch растёт при каждой инвалидации: результат запроса, начатого до записи,
	// не сохраняется поверх очищенного кеша.
	epoch atomic.Uint64
	// wmu связывает проверку epoch с записью в хранилище: очистка не вклинивается
	// между Set и Touch.
	wmu sync.Mutex

	// statuses — наивысший виденный статус по id; переживает очистку кеша.
	mu       sync.RWMutex
	statuses map[string]model.MessageStatus
}

func New(backend Backend, store storage.CacheStore, duration time.Duration) *MessageCache {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &MessageCache{
		backend:  backend,
		store:    store,
		duration: duration,
		now:      time.Now,
		statuses: make(map[string]model.MessageStatus),
	}
}

// SetClock подменяет часы (тесты).
func (c *MessageCache) SetClock(now func() time.Time) { c.now = now }

func key(op string, parts ...string) string {
	return op + "_" + strings.Join(parts, "_")
}

// lookup возвращает true, если значение взято из свежего кеша.
func (c *MessageCache) lookup(ctx context.Context, op string, bucket storage.Bucket, k string, out any) bool {
	last, err := c.store.LastUpdate(ctx)
	if err != nil {
		logger.Warnf("cache: last update: %v", err)
		observability.IncCache(op, "error")
		return false
	}
	if last.IsZero() || c.now().Sub(last) >= c.duration {
		observability.IncCache(op, "miss")
		return false
	}
	raw, ok, err := c.store.Get(ctx, bucket, k)
	if err != nil {
		logger.Warnf("cache: get %s/%s: %v", bucket, k, err)
		observability.IncCache(op, "error")
		return false
	}
	if !ok {
		observability.IncCache(op, "miss")
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		logger.Warnf("cache: decode %s/%s: %v", bucket, k, err)
		observability.IncCache(op, "error")
		return false
	}
	observability.IncCache(op, "hit")
	return true
}

// save пишет результат и обновляет метку, если с начала запроса не было инвалидации.
// Ошибка хранилища не ломает чтение: результат уже получен от бэкенда.
func (c *MessageCache) save(ctx context.Context, epoch uint64, bucket storage.Bucket, k string, val any) {
	raw, err := json.Marshal(val)
	if err != nil {
		logger.Warnf("cache: encode %s/%s: %v", bucket, k, err)
		return
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.epoch.Load() != epoch {
		logger.Debugf("cache: drop stale result %s/%s", bucket, k)
		return
	}
	if err := c.store.Set(ctx, bucket, k, raw); err != nil {
		logger.Warnf("cache: set %s/%s: %v", bucket, k, err)
		return
	}
	if err := c.store.Touch(ctx, c.now()); err != nil {
		logger.Warnf("cache: touch: %v", err)
	}
}

func (c *MessageCache) remember(msgs []model.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		if m.Status.Rank() > c.statuses[m.ID].Rank() {
			c.statuses[m.ID] = m.Status
		}
	}
}

// KnownStatus — наивысший статус, виденный для id в ответах бэкенда.
func (c *MessageCache) KnownStatus(id string) (model.MessageStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.statuses[id]
	return st, ok
}

// MessagesBetween — личная переписка a и b по возрастанию времени.
func (c *MessageCache) MessagesBetween(ctx context.Context, a, b string) ([]model.Message, error) {
	defer logger.DeferLogDuration("cache.MessagesBetween", time.Now())()
	k := key("between", a, b)
	var cached []model.Message
	if c.lookup(ctx, "messages_between", storage.BucketMessages, k, &cached) {
		return cached, nil
	}

	epoch := c.epoch.Load()
	var ab, ba []model.Message
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ab, err = c.backend.ListMessages(gctx, api.MessageQuery{SenderID: a, ReceiverID: b})
		return err
	})
	g.Go(func() error {
		var err error
		ba, err = c.backend.ListMessages(gctx, api.MessageQuery{SenderID: b, ReceiverID: a})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("cache.MessagesBetween: %w", err)
	}

	msgs := conversation.Merge(ab, ba)
	c.remember(msgs)
	c.save(ctx, epoch, storage.BucketMessages, k, msgs)
	return msgs, nil
}

// GroupMessages — сообщения группы по возрастанию времени.
func (c *MessageCache) GroupMessages(ctx context.Context, groupID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("cache.GroupMessages", time.Now())()
	k := key("group", groupID)
	var cached []model.Message
	if c.lookup(ctx, "group_messages", storage.BucketMessages, k, &cached) {
		return cached, nil
	}

	epoch := c.epoch.Load()
	list, err := c.backend.ListMessages(ctx, api.MessageQuery{GroupID: groupID})
	if err != nil {
		return nil, fmt.Errorf("cache.GroupMessages: %w", err)
	}
	msgs := conversation.Merge(list)
	c.remember(msgs)
	c.save(ctx, epoch, storage.BucketMessages, k, msgs)
	return msgs, nil
}

// Messages выбирает запрос по типу беседы.
func (c *MessageCache) Messages(ctx context.Context, sel model.Selection, userID string) ([]model.Message, error) {
	if sel.Kind == model.KindGroup {
		return c.GroupMessages(ctx, sel.ID)
	}
	return c.MessagesBetween(ctx, userID, sel.ID)
}

// UserConversations — беседы пользователя, новые сверху.
func (c *MessageCache) UserConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("cache.UserConversations", time.Now())()
	k := key("conversations", userID)
	var cached []model.Conversation
	if c.lookup(ctx, "user_conversations", storage.BucketConversations, k, &cached) {
		return cached, nil
	}

	epoch := c.epoch.Load()
	var sent, received []model.Message
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sent, err = c.backend.ListMessages(gctx, api.MessageQuery{SenderID: userID})
		return err
	})
	g.Go(func() error {
		var err error
		received, err = c.backend.ListMessages(gctx, api.MessageQuery{ReceiverID: userID})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("cache.UserConversations: %w", err)
	}

	all := make([]model.Message, 0, len(sent)+len(received))
	all = append(all, sent...)
	all = append(all, received...)
	convs := conversation.Aggregate(userID, all)
	c.remember(all)
	c.save(ctx, epoch, storage.BucketConversations, k, convs)
	return convs, nil
}

// UnreadCount — сумма непрочитанных по всем беседам. Ошибка логируется, результат 0.
func (c *MessageCache) UnreadCount(ctx context.Context, userID string) int {
	convs, err := c.UserConversations(ctx, userID)
	if err != nil {
		logger.Warnf("cache: unread count for %s: %v", userID, err)
		return 0
	}
	return conversation.TotalUnread(convs)
}

func (c *MessageCache) purge(ctx context.Context) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.purgeLocked(ctx)
}

func (c *MessageCache) purgeLocked(ctx context.Context) {
	c.epoch.Add(1)
	if err := c.store.Clear(ctx); err != nil {
		logger.Warnf("cache: clear: %v", err)
	}
}

// MarkMessageAsRead отмечает сообщение прочитанным; при успехе очищает кеш.
func (c *MessageCache) MarkMessageAsRead(ctx context.Context, id string) error {
	return c.markStatus(ctx, id, api.ReadPatch(c.now().UTC()))
}

// MarkMessageAsDelivered отмечает сообщение доставленным; при успехе очищает кеш.
func (c *MessageCache) MarkMessageAsDelivered(ctx context.Context, id string) error {
	return c.markStatus(ctx, id, api.DeliveredPatch(c.now().UTC()))
}

func (c *MessageCache) markStatus(ctx context.Context, id string, patch api.StatusPatch) error {
	out, err := c.backend.UpdateStatus(ctx, id, patch)
	if err != nil {
		return fmt.Errorf("cache.mark %s: %w", patch.Status, err)
	}
	if out.ID == "" {
		out = model.Message{ID: id, Status: patch.Status}
	}
	c.remember([]model.Message{out})
	c.purge(ctx)
	return nil
}

// MarkConversationAsRead отмечает прочитанными все входящие непрочитанные сообщения от contactID.
// Возвращает число отмеченных; при ошибке первую ошибку.
func (c *MessageCache) MarkConversationAsRead(ctx context.Context, userID, contactID string) (int, error) {
	msgs, err := c.MessagesBetween(ctx, userID, contactID)
	if err != nil {
		return 0, err
	}
	var unread []string
	for _, m := range msgs {
		if m.IsUnreadFor(userID) {
			unread = append(unread, m.ID)
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range unread {
		g.Go(func() error { return c.MarkMessageAsRead(gctx, id) })
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("cache.MarkConversationAsRead: %w", err)
	}
	return len(unread), nil
}

// Invalidate вызывается после подтверждённой отправки: очищает разделы и ставит метку.
func (c *MessageCache) Invalidate(ctx context.Context) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.purgeLocked(ctx)
	if err := c.store.Touch(ctx, c.now()); err != nil {
		logger.Warnf("cache: touch: %v", err)
	}
}

// Clear очищает оба раздела и обнуляет метку.
func (c *MessageCache) Clear(ctx context.Context) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.epoch.Add(1)
	if err := c.store.Reset(ctx); err != nil {
		logger.Warnf("cache: reset: %v", err)
	}
}

// Preload прогревает кеш беседы. Ошибки только логируются.
func (c *MessageCache) Preload(ctx context.Context, kind model.ConversationKind, id, userID string) {
	var err error
	switch kind {
	case model.KindGroup:
		_, err = c.GroupMessages(ctx, id)
	case model.KindContact:
		_, err = c.MessagesBetween(ctx, userID, id)
	default:
		return
	}
	if err != nil {
		logger.Warnf("cache: preload %s %s: %v", kind, id, err)
	}
}

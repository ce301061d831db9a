// Package sender — очередь исходящих сообщений: оптимистичный показ, строго
// последовательная отправка с повторами и отложенная отметка "доставлено".
//
// Путь сообщения: Submit -> показано -> в очереди -> отправляется -> подтверждено,
// или отправляется -> ошибка -> снова в голове очереди до следующего прохода.
package sender

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/messenger-client/internal/identity"
	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/observability"
)

var (
	ErrDuplicateSubmission = errors.New("sender: duplicate submission")
	ErrEmptyMessage        = errors.New("sender: empty message")
	ErrNoConversation      = errors.New("sender: no conversation selected")
	ErrClosed              = errors.New("sender: pipeline closed")
)

// Backend создаёт сообщения на сервере.
type Backend interface {
	CreateMessage(ctx context.Context, msg model.Message) (model.Message, error)
}

// Cache — часть кеша, в которую пишет очередь.
type Cache interface {
	Invalidate(ctx context.Context)
	MarkMessageAsDelivered(ctx context.Context, id string) error
	KnownStatus(id string) (model.MessageStatus, bool)
}

// Renderer показывает сообщение до подтверждения сервером.
type Renderer interface {
	RenderOptimistic(msg model.Message)
}

type Options struct {
	MaxAttempts     int
	RetryBase       time.Duration
	DeliveredDelay  time.Duration
	DuplicateWindow time.Duration
	// OnConfirmed вызывается после подтверждения, вне лока очереди.
	OnConfirmed func(msg model.Message)
	// OnFailed вызывается, когда попытки исчерпаны и сообщение вернулось в очередь.
	OnFailed func(msg model.Message, err error)
	Now      func() time.Time
}

func (o *Options) defaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.DeliveredDelay <= 0 {
		o.DeliveredDelay = 2 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Draft — то, что набрал пользователь.
type Draft struct {
	Target  model.Selection
	Content string
}

type lastSubmit struct {
	target  string
	content string
	id      string
	at      time.Time
}

type Pipeline struct {
	backend Backend
	cache   Cache
	ident   identity.Store
	render  Renderer
	opts    Options

	mu         sync.Mutex
	queue      []model.Message
	processing bool
	inFlight   bool
	last       *lastSubmit
	pending    map[string]struct{}
	timers     map[*time.Timer]struct{}
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(backend Backend, cache Cache, ident identity.Store, render Renderer, opts Options) *Pipeline {
	opts.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		backend: backend,
		cache:   cache,
		ident:   ident,
		render:  render,
		opts:    opts,
		pending: make(map[string]struct{}),
		timers:  make(map[*time.Timer]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// NewMessageID возвращает клиентский id вида msg_<unix-millis>_<9 символов>.
func NewMessageID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return "msg_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + suffix
}

func targetKey(sel model.Selection) string {
	return string(sel.Kind) + ":" + sel.ID
}

// Submit проверяет черновик, показывает его и ставит в очередь. Отправка идёт в фоне,
// Submit сеть не ждёт.
func (p *Pipeline) Submit(ctx context.Context, d Draft) (model.Message, error) {
	content := strings.TrimSpace(d.Content)
	if content == "" {
		return model.Message{}, ErrEmptyMessage
	}
	if d.Target.ID == "" {
		return model.Message{}, ErrNoConversation
	}
	user, err := p.ident.Current(ctx)
	if err != nil {
		return model.Message{}, err
	}

	now := p.opts.Now()
	tk := targetKey(d.Target)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return model.Message{}, ErrClosed
	}
	if p.isDuplicate(tk, content, now) {
		p.mu.Unlock()
		logger.Debugf("sender: duplicate submission to %s ignored", tk)
		// Повтор того же текста после неудачи: копия ещё в очереди, возобновляем её отправку.
		p.Flush()
		return model.Message{}, ErrDuplicateSubmission
	}

	msg := model.Message{
		ID:        NewMessageID(now),
		SenderID:  user.ID,
		Content:   content,
		Type:      model.ContentTypeText,
		Timestamp: now.UTC(),
		Status:    model.MessageStatusSent,
	}
	if d.Target.Kind == model.KindGroup {
		msg.GroupID = d.Target.ID
	} else {
		msg.ReceiverID = d.Target.ID
	}
	p.last = &lastSubmit{target: tk, content: content, id: msg.ID, at: now}
	p.pending[msg.ID] = struct{}{}
	p.mu.Unlock()

	if p.render != nil {
		p.render.RenderOptimistic(msg)
	}

	p.mu.Lock()
	p.queue = append(p.queue, msg)
	depth := len(p.queue)
	p.mu.Unlock()
	observability.SetSendQueueDepth(depth)

	p.Flush()
	return msg, nil
}

// isDuplicate: тот же текст в ту же беседу, пока прошлая копия в очереди или не истекло
// окно дублей. Вызывается под p.mu.
func (p *Pipeline) isDuplicate(target, content string, now time.Time) bool {
	l := p.last
	if l == nil || l.target != target || l.content != content {
		return false
	}
	if _, pending := p.pending[l.id]; pending {
		return true
	}
	return now.Sub(l.at) < p.opts.DuplicateWindow
}

// Flush запускает фоновую отправку очереди, если она ещё не идёт.
func (p *Pipeline) Flush() {
	p.mu.Lock()
	if p.processing || p.closed || len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	p.processing = true
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.drain()
	}()
}

// drain отправляет очередь по одному. Сообщение, исчерпавшее попытки, возвращается
// в голову очереди, и проход останавливается.
func (p *Pipeline) drain() {
	defer func() {
		p.mu.Lock()
		p.processing = false
		p.inFlight = false
		p.mu.Unlock()
	}()

	for {
		p.mu.Lock()
		if len(p.queue) == 0 || p.closed {
			p.mu.Unlock()
			return
		}
		msg := p.queue[0]
		p.queue = p.queue[1:]
		p.inFlight = true
		depth := len(p.queue)
		p.mu.Unlock()
		observability.SetSendQueueDepth(depth)

		confirmed, err := p.send(p.ctx, msg)

		p.mu.Lock()
		p.inFlight = false
		if err != nil {
			p.queue = append([]model.Message{msg}, p.queue...)
			depth = len(p.queue)
			p.mu.Unlock()
			observability.SetSendQueueDepth(depth)
			logger.Errorf("sender: %s not sent, %d queued: %v", msg.ID, depth, err)
			if p.opts.OnFailed != nil && !errors.Is(err, context.Canceled) {
				p.opts.OnFailed(msg, err)
			}
			return
		}
		delete(p.pending, msg.ID)
		p.mu.Unlock()

		p.confirm(confirmed)
	}
}

// send отправляет msg с линейной паузой: после неудачной попытки n ждём n*RetryBase.
func (p *Pipeline) send(ctx context.Context, msg model.Message) (model.Message, error) {
	defer logger.DeferLogDuration("sender.send", time.Now())()
	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		out, err := p.backend.CreateMessage(ctx, msg)
		if err == nil {
			observability.IncSendAttempt("ok")
			return out, nil
		}
		lastErr = err
		observability.IncSendAttempt("error")
		if attempt == p.opts.MaxAttempts {
			break
		}
		logger.Warnf("sender: attempt %d for %s failed, retry: %v", attempt, msg.ID, err)
		select {
		case <-ctx.Done():
			return model.Message{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * p.opts.RetryBase):
		}
	}
	return model.Message{}, fmt.Errorf("sender: %d attempts: %w", p.opts.MaxAttempts, lastErr)
}

func (p *Pipeline) confirm(msg model.Message) {
	p.cache.Invalidate(p.ctx)
	if p.opts.OnConfirmed != nil {
		p.opts.OnConfirmed(msg)
	}
	p.after(p.opts.DeliveredDelay, func() {
		if st, ok := p.cache.KnownStatus(msg.ID); ok && st.AtLeast(model.MessageStatusDelivered) {
			return
		}
		if err := p.cache.MarkMessageAsDelivered(p.ctx, msg.ID); err != nil {
			logger.Warnf("sender: mark delivered %s: %v", msg.ID, err)
		}
	})
}

// after вызывает fn через d, если очередь не закрыта раньше.
func (p *Pipeline) after(d time.Duration, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		defer p.wg.Done()
		p.mu.Lock()
		_, live := p.timers[t]
		delete(p.timers, t)
		p.mu.Unlock()
		if live {
			fn()
		}
	})
	p.timers[t] = struct{}{}
}

// Pending возвращает копию очереди, голова первой.
func (p *Pipeline) Pending() []model.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Message, len(p.queue))
	copy(out, p.queue)
	return out
}

// InFlight: запрос отправки в пути.
func (p *Pipeline) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Busy: проход по очереди идёт.
func (p *Pipeline) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processing
}

// Reset сбрасывает очередь и защиту от дублей. Отправка в пути не прерывается.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	for _, m := range p.queue {
		delete(p.pending, m.ID)
	}
	p.queue = nil
	p.last = nil
	p.mu.Unlock()
	observability.SetSendQueueDepth(0)
}

// Close отменяет повторы и таймеры и ждёт завершения фоновой работы.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for t := range p.timers {
		if t.Stop() {
			p.wg.Done()
		}
	}
	p.timers = map[*time.Timer]struct{}{}
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

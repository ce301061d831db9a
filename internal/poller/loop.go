// Package poller — периодические циклы обновления клиента.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/observability"
)

// ErrSkip: тику нечего было делать.
var ErrSkip = errors.New("poller: skip")

// TickFunc — одна итерация цикла.
type TickFunc func(ctx context.Context) error

// Loop вызывает tick каждые interval до остановки. Тик, пришедший во время предыдущего,
// пропускается. Ошибки и паники логируются и цикл не останавливают.
type Loop struct {
	name     string
	interval time.Duration
	tick     TickFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	// gate охраняет halted и ticks отдельно от mu: горутина таймера берёт gate,
	// пока Stop держит mu и ждёт её выхода.
	gate   sync.Mutex
	halted bool
	ticks  sync.WaitGroup
}

func NewLoop(name string, interval time.Duration, tick TickFunc) *Loop {
	return &Loop{name: name, interval: interval, tick: tick}
}

func (l *Loop) Name() string { return l.name }

// Start взводит цикл. Повторный Start сначала снимает старый таймер: у цикла
// не больше одного таймера.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	l.gate.Lock()
	l.halted = false
	l.gate.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done

	go func() {
		defer close(done)
		t := time.NewTicker(l.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Go(ctx)
			}
		}
	}()
}

// Stop снимает таймер и ждёт тики, запущенные через Go. Тики от таймера получают
// отменённый контекст. До следующего Start новые фоновые тики не запускаются.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopLocked()
	l.gate.Lock()
	l.halted = true
	l.gate.Unlock()
	l.mu.Unlock()
	l.ticks.Wait()
}

// Go запускает тик в фоне. После Stop вызов ничего не делает и возвращает false.
func (l *Loop) Go(ctx context.Context) bool {
	l.gate.Lock()
	defer l.gate.Unlock()
	if l.halted {
		return false
	}
	l.ticks.Add(1)
	go func() {
		defer l.ticks.Done()
		l.Trigger(ctx)
	}()
	return true
}

func (l *Loop) stopLocked() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
	l.cancel = nil
	l.done = nil
}

// Active: таймер взведён.
func (l *Loop) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Busy: тик выполняется.
func (l *Loop) Busy() bool { return l.running.Load() }

// Trigger выполняет тик сейчас, если другой не идёт. Возвращает, был ли запуск.
func (l *Loop) Trigger(ctx context.Context) (ran bool) {
	if !l.running.CompareAndSwap(false, true) {
		observability.IncPollTick(l.name, "overlap")
		return false
	}
	defer l.running.Store(false)
	ran = true

	result := "ok"
	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			logger.Errorf("poller %s: tick panic: %v", l.name, r)
		}
		observability.IncPollTick(l.name, result)
	}()

	if err := l.tick(ctx); err != nil {
		switch {
		case errors.Is(err, ErrSkip):
			result = "skipped"
		case errors.Is(err, context.Canceled):
			result = "canceled"
		default:
			result = "error"
			logger.Warnf("poller %s: %v", l.name, err)
		}
	}
	return ran
}

func (l *Loop) String() string { return fmt.Sprintf("%s/%v", l.name, l.interval) }

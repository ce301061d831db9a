package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/messenger-client/internal/identity"
	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/observability"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// Handler вызывается для каждого события по порядку получения.
type Handler func(ctx context.Context, ev Event)

// Listener держит одно WebSocket-соединение с бэкендом и переподключается при обрыве.
// Жизненный цикл: NewListener -> Run(ctx) -> [dial -> readLoop]* -> ctx.Done.
type Listener struct {
	url     string
	ident   identity.Store
	handler Handler
	dialer  *websocket.Dialer

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func NewListener(wsURL string, ident identity.Store, handler Handler) *Listener {
	return &Listener{
		url:        wsURL,
		ident:      ident,
		handler:    handler,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		MinBackoff: 2 * time.Second,
		MaxBackoff: 30 * time.Second,
	}
}

// Run блокируется до отмены ctx. Ошибки соединения логируются, после них повтор с backoff.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.MinBackoff
	for {
		connected, err := l.session(ctx)
		observability.SetEventsConnected(false)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			backoff = l.MinBackoff
		}
		if err != nil {
			logger.Warnf("events: %v, reconnect in %v", err, backoff)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < l.MaxBackoff {
			backoff *= 2
			if backoff > l.MaxBackoff {
				backoff = l.MaxBackoff
			}
		}
	}
}

func (l *Listener) endpoint(userID string) (string, error) {
	u, err := url.Parse(l.url)
	if err != nil {
		return "", fmt.Errorf("events: parse url: %w", err)
	}
	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// session — одно подключение. connected=true, если рукопожатие прошло.
func (l *Listener) session(ctx context.Context) (connected bool, err error) {
	user, err := l.ident.Current(ctx)
	if err != nil {
		return false, err
	}
	endpoint, err := l.endpoint(user.ID)
	if err != nil {
		return false, err
	}
	conn, _, err := l.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	observability.SetEventsConnected(true)
	logger.Infof("events: connected user=%s", user.ID)

	// Закрываем соединение при отмене ctx, чтобы ReadMessage разблокировался.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTicker(pingPeriod)
		defer t.Stop()
		for {
			select {
			case <-stop:
				conn.Close()
				return
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				conn.Close()
				return
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	return true, l.readLoop(ctx, conn)
}

func (l *Listener) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		// Любое входящее сообщение продлевает дедлайн: сервер может не слать ping.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			logger.Errorf("events: unmarshal: %v", err)
			continue
		}
		observability.IncEvent(string(ev.Type))
		l.dispatch(ctx, ev)
	}
}

func (l *Listener) dispatch(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("events: handler panic on %s: %v", ev.Type, r)
		}
	}()
	if ev.Type == EventError {
		logger.Warnf("events: server error: %s", string(ev.Payload))
		return
	}
	l.handler(ctx, ev)
}

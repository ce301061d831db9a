package devbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/messenger-client/internal/events"
	"github.com/messenger-client/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBufSize    = 64
)

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// wsClient — одно WebSocket-соединение подписчика. Канал однонаправленный: входящие
// сообщения читаются только ради ping/pong и обнаружения закрытия.
// Жизненный цикл: newWSClient -> Start(ctx, cancel) -> [readPump, writePump] -> Close -> Wait.
type wsClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan events.OutgoingEvent
	userID string

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func newWSClient(hub *Hub, conn *websocket.Conn, userID string) *wsClient {
	return &wsClient{
		hub:    hub,
		conn:   conn,
		send:   make(chan events.OutgoingEvent, sendBufSize),
		userID: userID,
		done:   make(chan struct{}),
	}
}

func (c *wsClient) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

func (c *wsClient) Wait() { c.wg.Wait() }

// Close можно вызывать многократно из любой горутины.
func (c *wsClient) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.conn.Close()
	})
}

func (c *wsClient) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("devbackend ws read user=%s: %v", c.userID, err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (c *wsClient) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case ev := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			if err := json.NewEncoder(buf).Encode(ev); err != nil {
				bufPool.Put(buf)
				logger.Errorf("devbackend ws marshal user=%s: %v", c.userID, err)
				continue
			}
			data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
			err := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

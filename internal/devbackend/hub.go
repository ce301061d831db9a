package devbackend

import (
	"context"
	"sync"
	"time"

	"github.com/messenger-client/internal/events"
	"github.com/messenger-client/internal/logger"
)

// Hub держит WebSocket-подписчиков по userID и рассылает им события.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]map[*wsClient]struct{}
	total      int
	maxConns   int
	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}
}

func NewHub(maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 1000
	}
	return &Hub{
		clients:    make(map[string]map[*wsClient]struct{}),
		maxConns:   maxConns,
		register:   make(chan *wsClient, 64),
		unregister: make(chan *wsClient, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func (h *Hub) shutdown() {
	// Собираем клиентов под локом, I/O без него.
	h.mu.Lock()
	all := make([]*wsClient, 0, h.total)
	for _, cs := range h.clients {
		for c := range cs {
			all = append(all, c)
		}
	}
	h.clients = make(map[string]map[*wsClient]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *wsClient) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("devbackend ws limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*wsClient]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()
	logger.Debugf("devbackend ws connected user=%s", c.userID)
}

func (h *Hub) removeClient(c *wsClient) {
	h.mu.Lock()
	cs, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := cs[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(cs, c)
	h.total--
	if len(cs) == 0 {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()
	c.Close()
}

// Connected — число подписок пользователя.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Publish рассылает событие каждому из userIDs (повторы отбрасываются).
func (h *Hub) Publish(userIDs []string, ev events.OutgoingEvent) {
	defer logger.DeferLogDuration("devbackend.Publish "+string(ev.Type), time.Now())()
	seen := make(map[string]struct{}, len(userIDs))
	for _, uid := range userIDs {
		if _, dup := seen[uid]; dup || uid == "" {
			continue
		}
		seen[uid] = struct{}{}
		h.sendToUser(uid, ev)
	}
}

func (h *Hub) sendToUser(userID string, ev events.OutgoingEvent) {
	h.mu.RLock()
	cs, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*wsClient, 0, len(cs))
	for c := range cs {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

func (h *Hub) sendToClient(c *wsClient, ev events.OutgoingEvent) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		// Буфер полон, закрываем медленного клиента.
		logger.Errorf("devbackend ws send buffer full, closing user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *wsClient) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *wsClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

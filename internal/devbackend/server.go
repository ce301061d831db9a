package devbackend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/messenger-client/internal/api"
	"github.com/messenger-client/internal/events"
	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/middleware"
	"github.com/messenger-client/internal/model"
)

type Server struct {
	store   *Store
	hub     *Hub
	origins []string
}

func NewServer(store *Store, hub *Hub, allowedOrigins string) *Server {
	return &Server{store: store, hub: hub, origins: splitOrigins(allowedOrigins)}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", api.IdempotencyHeader},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/messages", func(r chi.Router) {
		r.Get("/", s.listMessages)
		r.Post("/", s.createMessage)
		r.Patch("/{id}", s.updateMessage)
	})
	r.Get("/contacts/{id}", s.getContact)
	r.Get("/groups", s.listGroups)
	r.Get("/groups/{id}", s.getGroup)
	r.Get("/ws", s.serveWS)
	return r
}

func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	var m model.Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := m.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(m.Content) == "" || m.SenderID == "" {
		writeError(w, http.StatusBadRequest, "senderId and content required")
		return
	}
	out, created := s.store.CreateMessage(m, r.Header.Get(api.IdempotencyHeader))
	if !created {
		writeJSON(w, http.StatusOK, out)
		return
	}
	writeJSON(w, http.StatusCreated, out)
	s.hub.Publish(s.store.Audience(out), events.OutgoingEvent{Type: events.EventNewMessage, Payload: out})
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, s.store.ListMessages(api.MessageQuery{
		SenderID:   q.Get("senderId"),
		ReceiverID: q.Get("receiverId"),
		GroupID:    q.Get("groupId"),
	}))
}

func (s *Server) updateMessage(w http.ResponseWriter, r *http.Request) {
	var p api.StatusPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if p.Status != "" && p.Status.Rank() < 0 {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	out, err := s.store.UpdateStatus(chi.URLParam(r, "id"), p)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
	s.hub.Publish(s.store.Audience(out), events.OutgoingEvent{
		Type:    events.EventMessageStatus,
		Payload: events.MessageStatusPayload{MessageID: out.ID, Status: out.Status},
	})
}

func (s *Server) getContact(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.Contact(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "contact not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.store.Group(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "group not found")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	member := r.URL.Query().Get("membres_like")
	if member == "" {
		writeError(w, http.StatusBadRequest, "membres_like required")
		return
	}
	writeJSON(w, http.StatusOK, s.store.GroupsByMember(member))
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || slices.Contains(s.origins, "*") {
		return true
	}
	return slices.Contains(s.origins, origin)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		http.Error(w, "userId required", http.StatusUnauthorized)
		return
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("devbackend ws upgrade: %v", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := newWSClient(s.hub, conn, userID)
	c.Start(ctx, cancel)
	s.hub.Register(c)
}

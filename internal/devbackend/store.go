// Package devbackend — локальный REST-бэкенд в памяти для разработки и интеграционных тестов.
// Реализует тот же контракт, что и внешний бэкенд: /messages, /contacts, /groups, /ws.
package devbackend

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/messenger-client/internal/api"
	"github.com/messenger-client/internal/model"
)

var ErrNotFound = errors.New("devbackend: not found")

// Seed — начальные данные из YAML.
type Seed struct {
	Contacts []seedContact `yaml:"contacts"`
	Groups   []seedGroup   `yaml:"groups"`
	Messages []seedMessage `yaml:"messages"`
}

type seedContact struct {
	ID        string `yaml:"id"`
	Prenom    string `yaml:"prenom"`
	Nom       string `yaml:"nom"`
	Telephone string `yaml:"telephone"`
}

type seedGroup struct {
	ID      string   `yaml:"id"`
	Nom     string   `yaml:"nom"`
	Membres []string `yaml:"membres"`
}

type seedMessage struct {
	ID         string    `yaml:"id"`
	SenderID   string    `yaml:"sender_id"`
	ReceiverID string    `yaml:"receiver_id"`
	GroupID    string    `yaml:"group_id"`
	Content    string    `yaml:"content"`
	Timestamp  time.Time `yaml:"timestamp"`
	Status     string    `yaml:"status"`
}

// LoadSeed читает seed-файл. Пустой путь даёт пустой seed.
func LoadSeed(path string) (Seed, error) {
	var s Seed
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("devbackend: read seed: %w", err)
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) (Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("devbackend: parse seed: %w", err)
	}
	return s, nil
}

// Store хранит сообщения, контакты и группы. Все методы потокобезопасны.
type Store struct {
	mu       sync.RWMutex
	messages []model.Message
	byID     map[string]int
	idem     map[string]string
	contacts map[string]model.Contact
	groups   []model.Group
	now      func() time.Time
}

func NewStore(seed Seed) *Store {
	s := &Store{
		byID:     make(map[string]int),
		idem:     make(map[string]string),
		contacts: make(map[string]model.Contact, len(seed.Contacts)),
		now:      time.Now,
	}
	for _, c := range seed.Contacts {
		s.contacts[c.ID] = model.Contact{ID: c.ID, Prenom: c.Prenom, Nom: c.Nom, Telephone: c.Telephone}
	}
	for _, g := range seed.Groups {
		s.groups = append(s.groups, model.Group{ID: g.ID, Nom: g.Nom, Membres: slices.Clone(g.Membres)})
	}
	for _, m := range seed.Messages {
		status := model.MessageStatus(m.Status)
		if status == "" {
			status = model.MessageStatusSent
		}
		s.insert(model.Message{
			ID:         m.ID,
			SenderID:   m.SenderID,
			ReceiverID: m.ReceiverID,
			GroupID:    m.GroupID,
			Content:    m.Content,
			Type:       model.ContentTypeText,
			Timestamp:  m.Timestamp,
			Status:     status,
		})
	}
	return s
}

func (s *Store) insert(m model.Message) model.Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now().UTC()
	}
	if m.Status == "" {
		m.Status = model.MessageStatusSent
	}
	if m.Type == "" {
		m.Type = model.ContentTypeText
	}
	s.byID[m.ID] = len(s.messages)
	s.messages = append(s.messages, m)
	return m
}

// CreateMessage сохраняет сообщение. Повтор с тем же ключом идемпотентности (или тем же id)
// возвращает уже сохранённую запись и created=false.
func (s *Store) CreateMessage(m model.Message, key string) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == "" {
		key = m.ID
	}
	if key != "" {
		if id, ok := s.idem[key]; ok {
			return s.messages[s.byID[id]], false
		}
	}
	if _, taken := s.byID[m.ID]; taken {
		m.ID = ""
	}
	out := s.insert(m)
	if key != "" {
		s.idem[key] = out.ID
	}
	return out, true
}

// ListMessages возвращает сообщения, совпадающие со всеми непустыми полями запроса,
// в порядке вставки.
func (s *Store) ListMessages(q api.MessageQuery) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, 0)
	for _, m := range s.messages {
		if q.SenderID != "" && m.SenderID != q.SenderID {
			continue
		}
		if q.ReceiverID != "" && m.ReceiverID != q.ReceiverID {
			continue
		}
		if q.GroupID != "" && m.GroupID != q.GroupID {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (s *Store) UpdateStatus(id string, p api.StatusPatch) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return model.Message{}, ErrNotFound
	}
	m := &s.messages[i]
	if p.Status != "" {
		m.Status = p.Status
	}
	if p.ReadAt != nil {
		at := *p.ReadAt
		m.ReadAt = &at
	}
	if p.DeliveredAt != nil {
		at := *p.DeliveredAt
		m.DeliveredAt = &at
	}
	return *m, nil
}

func (s *Store) Contact(id string) (model.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return model.Contact{}, ErrNotFound
	}
	return c, nil
}

func (s *Store) Group(id string) (model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.groups {
		if g.ID == id {
			return g, nil
		}
	}
	return model.Group{}, ErrNotFound
}

// GroupsByMember — аналог json-server membres_like: группы, где userID среди участников.
func (s *Store) GroupsByMember(userID string) []model.Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Group, 0)
	for _, g := range s.groups {
		if slices.Contains(g.Membres, userID) {
			out = append(out, g)
		}
	}
	return out
}

// Audience — кому рассылать события о сообщении: участникам группы или паре собеседников.
func (s *Store) Audience(m model.Message) []string {
	if m.GroupID != "" {
		if g, err := s.Group(m.GroupID); err == nil {
			return slices.Clone(g.Membres)
		}
		return []string{m.SenderID}
	}
	if m.ReceiverID == m.SenderID {
		return []string{m.SenderID}
	}
	return []string{m.SenderID, m.ReceiverID}
}

package model

import (
	"errors"
	"time"
)

type ContentType string

const (
	ContentTypeText ContentType = "text"
)

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// ErrInvalidTarget: у сообщения должен быть ровно один адресат (receiverId или groupId).
var ErrInvalidTarget = errors.New("message must have exactly one of receiverId or groupId")

// Rank возвращает порядок статуса: sent < delivered < read. Неизвестный статус = -1.
func (s MessageStatus) Rank() int {
	switch s {
	case MessageStatusSent:
		return 0
	case MessageStatusDelivered:
		return 1
	case MessageStatusRead:
		return 2
	default:
		return -1
	}
}

// AtLeast сообщает, что статус s не ниже other.
func (s MessageStatus) AtLeast(other MessageStatus) bool {
	return s.Rank() >= other.Rank()
}

type Message struct {
	ID          string        `json:"id"`
	SenderID    string        `json:"senderId"`
	ReceiverID  string        `json:"receiverId,omitempty"`
	GroupID     string        `json:"groupId,omitempty"`
	Content     string        `json:"content"`
	Type        ContentType   `json:"type"`
	Timestamp   time.Time     `json:"timestamp"`
	Status      MessageStatus `json:"status"`
	ReadAt      *time.Time    `json:"readAt"`
	DeliveredAt *time.Time    `json:"deliveredAt"`
}

func (m *Message) IsGroup() bool { return m.GroupID != "" }

func (m *Message) Validate() error {
	if (m.ReceiverID == "") == (m.GroupID == "") {
		return ErrInvalidTarget
	}
	return nil
}

// ConversationID — ключ беседы с точки зрения userID: группа или собеседник.
func (m *Message) ConversationID(userID string) string {
	if m.GroupID != "" {
		return m.GroupID
	}
	if m.SenderID == userID {
		return m.ReceiverID
	}
	return m.SenderID
}

// IsUnreadFor: сообщение адресовано userID и ещё не прочитано.
func (m *Message) IsUnreadFor(userID string) bool {
	return m.ReceiverID == userID && m.Status != MessageStatusRead
}

// Advance переводит статус вперёд. Понижение и повтор игнорируются (возвращает false).
func (m *Message) Advance(to MessageStatus, at time.Time) bool {
	if to.Rank() <= m.Status.Rank() {
		return false
	}
	m.Status = to
	switch to {
	case MessageStatusDelivered:
		m.DeliveredAt = &at
	case MessageStatusRead:
		m.ReadAt = &at
		if m.DeliveredAt == nil {
			m.DeliveredAt = &at
		}
	}
	return true
}

// Package events подписывается на серверные события и сообщает сессии, что кэш устарел.
package events

import (
	"encoding/json"

	"github.com/messenger-client/internal/model"
)

type EventType string

const (
	EventNewMessage    EventType = "new_message"
	EventMessageStatus EventType = "message_status"
	EventError         EventType = "error"
)

// Event — то, что сервер присылает клиенту. Payload разбирается по типу.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// OutgoingEvent — то же событие на стороне отправителя (dev-бэкенд).
type OutgoingEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// MessageStatusPayload рассылается при смене статуса сообщения.
type MessageStatusPayload struct {
	MessageID string              `json:"messageId"`
	Status    model.MessageStatus `json:"status"`
}

// Message декодирует payload события new_message.
func (e Event) Message() (model.Message, error) {
	var m model.Message
	err := json.Unmarshal(e.Payload, &m)
	return m, err
}

// Status декодирует payload события message_status.
func (e Event) Status() (MessageStatusPayload, error) {
	var p MessageStatusPayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

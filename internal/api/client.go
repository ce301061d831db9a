// Package api — типизированный REST-контракт бэкенда сообщений, контактов и групп.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/transport"
)

// ErrNotFound — запись по id не найдена (404).
var ErrNotFound = errors.New("api: not found")

// IdempotencyHeader несёт клиентский id сообщения, чтобы повтор POST не создал дубликат.
const IdempotencyHeader = "Idempotency-Key"

// MessageQuery — фильтры GET /messages. Пустые поля не передаются.
type MessageQuery struct {
	SenderID   string
	ReceiverID string
	GroupID    string
}

func (q MessageQuery) values() url.Values {
	v := url.Values{}
	if q.SenderID != "" {
		v.Set("senderId", q.SenderID)
	}
	if q.ReceiverID != "" {
		v.Set("receiverId", q.ReceiverID)
	}
	if q.GroupID != "" {
		v.Set("groupId", q.GroupID)
	}
	return v
}

// StatusPatch — тело PATCH /messages/:id.
type StatusPatch struct {
	Status      model.MessageStatus `json:"status"`
	ReadAt      *time.Time          `json:"readAt,omitempty"`
	DeliveredAt *time.Time          `json:"deliveredAt,omitempty"`
}

// ReadPatch и DeliveredPatch строят тело смены статуса с отметкой времени.
func ReadPatch(at time.Time) StatusPatch {
	return StatusPatch{Status: model.MessageStatusRead, ReadAt: &at}
}

func DeliveredPatch(at time.Time) StatusPatch {
	return StatusPatch{Status: model.MessageStatusDelivered, DeliveredAt: &at}
}

type Client struct {
	t *transport.Client
}

func New(t *transport.Client) *Client {
	return &Client{t: t}
}

func (c *Client) CreateMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	var out model.Message
	err := c.t.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/messages",
		Body:   msg,
		Header: http.Header{IdempotencyHeader: {msg.ID}},
	}, &out)
	if err != nil {
		return model.Message{}, fmt.Errorf("api.CreateMessage: %w", err)
	}
	if out.ID == "" {
		out = msg
	}
	return out, nil
}

func (c *Client) ListMessages(ctx context.Context, q MessageQuery) ([]model.Message, error) {
	var out []model.Message
	err := c.t.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/messages", Query: q.values()}, &out)
	if err != nil {
		return nil, fmt.Errorf("api.ListMessages: %w", err)
	}
	return out, nil
}

func (c *Client) UpdateStatus(ctx context.Context, id string, patch StatusPatch) (model.Message, error) {
	var out model.Message
	err := c.t.Do(ctx, transport.Request{
		Method: http.MethodPatch,
		Path:   "/messages/" + url.PathEscape(id),
		Body:   patch,
	}, &out)
	if err != nil {
		return model.Message{}, fmt.Errorf("api.UpdateStatus %s: %w", id, err)
	}
	return out, nil
}

func (c *Client) GetContactByID(ctx context.Context, id string) (model.Contact, error) {
	var out model.Contact
	err := c.t.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/contacts/" + url.PathEscape(id)}, &out)
	if err != nil {
		return model.Contact{}, notFound("api.GetContactByID", err)
	}
	return out, nil
}

func (c *Client) GetGroupByID(ctx context.Context, id string) (model.Group, error) {
	var out model.Group
	err := c.t.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/groups/" + url.PathEscape(id)}, &out)
	if err != nil {
		return model.Group{}, notFound("api.GetGroupByID", err)
	}
	return out, nil
}

func (c *Client) GetGroupsByUserID(ctx context.Context, userID string) ([]model.Group, error) {
	var out []model.Group
	err := c.t.Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/groups",
		Query:  url.Values{"membres_like": {userID}},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("api.GetGroupsByUserID: %w", err)
	}
	return out, nil
}

func notFound(op string, err error) error {
	if transport.StatusOf(err) == http.StatusNotFound {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

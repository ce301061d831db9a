package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/messenger-client/internal/api"
	"github.com/messenger-client/internal/model"
)

type LookupsMock struct {
	mock.Mock
}

func (m *LookupsMock) GetContactByID(ctx context.Context, id string) (model.Contact, error) {
	args := m.Called(ctx, id)
	var c model.Contact
	if val := args.Get(0); val != nil {
		c = val.(model.Contact)
	}
	return c, args.Error(1)
}

func (m *LookupsMock) GetGroupByID(ctx context.Context, id string) (model.Group, error) {
	args := m.Called(ctx, id)
	var g model.Group
	if val := args.Get(0); val != nil {
		g = val.(model.Group)
	}
	return g, args.Error(1)
}

type BackendMock struct {
	mock.Mock
}

func (m *BackendMock) ListMessages(ctx context.Context, q api.MessageQuery) ([]model.Message, error) {
	args := m.Called(ctx, q)
	var list []model.Message
	if val := args.Get(0); val != nil {
		list = val.([]model.Message)
	}
	return list, args.Error(1)
}

func (m *BackendMock) UpdateStatus(ctx context.Context, id string, patch api.StatusPatch) (model.Message, error) {
	args := m.Called(ctx, id, patch)
	var msg model.Message
	if val := args.Get(0); val != nil {
		msg = val.(model.Message)
	}
	return msg, args.Error(1)
}

func (m *BackendMock) CreateMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	args := m.Called(ctx, msg)
	var out model.Message
	if val := args.Get(0); val != nil {
		out = val.(model.Message)
	}
	return out, args.Error(1)
}

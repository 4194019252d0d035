package main

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/waste2worth/negotiation-realtime/pkg/events"
	"github.com/waste2worth/negotiation-realtime/pkg/model"
	"github.com/waste2worth/negotiation-realtime/pkg/store"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) negotiation(args mock.Arguments) (*model.Negotiation, error) {
	n, _ := args.Get(0).(*model.Negotiation)
	return n, args.Error(1)
}

func (m *MockStore) CreateNegotiation(ctx context.Context, in store.NewNegotiation) (*model.Negotiation, error) {
	return m.negotiation(m.Called(ctx, in))
}

func (m *MockStore) GetNegotiation(ctx context.Context, id int64) (*model.Negotiation, error) {
	return m.negotiation(m.Called(ctx, id))
}

func (m *MockStore) Counter(ctx context.Context, id int64, actorID string, amount float64) (*model.Negotiation, error) {
	return m.negotiation(m.Called(ctx, id, actorID, amount))
}

func (m *MockStore) Accept(ctx context.Context, id int64, actorID string) (*model.Negotiation, []model.Negotiation, error) {
	args := m.Called(ctx, id, actorID)
	n, _ := args.Get(0).(*model.Negotiation)
	rejected, _ := args.Get(1).([]model.Negotiation)
	return n, rejected, args.Error(2)
}

func (m *MockStore) Reject(ctx context.Context, id int64, actorID string) (*model.Negotiation, error) {
	return m.negotiation(m.Called(ctx, id, actorID))
}

func (m *MockStore) Close(ctx context.Context, id int64, actorID string) (*model.Negotiation, error) {
	return m.negotiation(m.Called(ctx, id, actorID))
}

func (m *MockStore) ListOffers(ctx context.Context, negotiationID int64) ([]model.Offer, error) {
	args := m.Called(ctx, negotiationID)
	offers, _ := args.Get(0).([]model.Offer)
	return offers, args.Error(1)
}

func (m *MockStore) ListMessages(ctx context.Context, negotiationID int64, page store.Page) ([]model.Message, error) {
	args := m.Called(ctx, negotiationID, page)
	messages, _ := args.Get(0).([]model.Message)
	return messages, args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, ev events.NegotiationEvent) error {
	return m.Called(ctx, ev).Error(0)
}

type MockPresence struct {
	mock.Mock
}

func (m *MockPresence) Members(ctx context.Context, negotiationID string) ([]string, error) {
	args := m.Called(ctx, negotiationID)
	users, _ := args.Get(0).([]string)
	return users, args.Error(1)
}

package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"ticketing/internal/model"
	"ticketing/internal/service"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) Register(ctx context.Context, name, email, password string) (*model.User, error) {
	args := m.Called(ctx, name, email, password)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *mockService) Login(ctx context.Context, email, password string) (*service.Session, error) {
	args := m.Called(ctx, email, password)
	s, _ := args.Get(0).(*service.Session)
	return s, args.Error(1)
}

func (m *mockService) ListUsers(ctx context.Context, actor model.Actor) ([]model.User, error) {
	args := m.Called(ctx, actor)
	u, _ := args.Get(0).([]model.User)
	return u, args.Error(1)
}

func (m *mockService) ChangeRole(ctx context.Context, actor model.Actor, userID string, role model.Role) (*model.User, error) {
	args := m.Called(ctx, actor, userID, role)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *mockService) DeleteUser(ctx context.Context, actor model.Actor, userID string) error {
	return m.Called(ctx, actor, userID).Error(0)
}

func (m *mockService) CreateEvent(ctx context.Context, actor model.Actor, in service.EventInput) (*model.Event, error) {
	args := m.Called(ctx, actor, in)
	e, _ := args.Get(0).(*model.Event)
	return e, args.Error(1)
}

func (m *mockService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	args := m.Called(ctx, id)
	e, _ := args.Get(0).(*model.Event)
	return e, args.Error(1)
}

func (m *mockService) ListEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	args := m.Called(ctx, filter)
	e, _ := args.Get(0).([]model.Event)
	return e, args.Error(1)
}

func (m *mockService) UpdateEvent(ctx context.Context, actor model.Actor, id string, in service.EventInput) (*model.Event, error) {
	args := m.Called(ctx, actor, id, in)
	e, _ := args.Get(0).(*model.Event)
	return e, args.Error(1)
}

func (m *mockService) DeleteEvent(ctx context.Context, actor model.Actor, id string) error {
	return m.Called(ctx, actor, id).Error(0)
}

func (m *mockService) ListEventBookings(ctx context.Context, actor model.Actor, id string) ([]model.Booking, error) {
	args := m.Called(ctx, actor, id)
	b, _ := args.Get(0).([]model.Booking)
	return b, args.Error(1)
}

func (m *mockService) Book(ctx context.Context, actor model.Actor, eventID string, quantity int) (*model.Booking, error) {
	args := m.Called(ctx, actor, eventID, quantity)
	b, _ := args.Get(0).(*model.Booking)
	return b, args.Error(1)
}

func (m *mockService) Cancel(ctx context.Context, actor model.Actor, bookingID string) (*model.Booking, error) {
	args := m.Called(ctx, actor, bookingID)
	b, _ := args.Get(0).(*model.Booking)
	return b, args.Error(1)
}

func (m *mockService) Refund(ctx context.Context, actor model.Actor, bookingID string) (*model.Booking, error) {
	args := m.Called(ctx, actor, bookingID)
	b, _ := args.Get(0).(*model.Booking)
	return b, args.Error(1)
}

func (m *mockService) GetBooking(ctx context.Context, actor model.Actor, bookingID string) (*model.Booking, error) {
	args := m.Called(ctx, actor, bookingID)
	b, _ := args.Get(0).(*model.Booking)
	return b, args.Error(1)
}

func (m *mockService) ListMyBookings(ctx context.Context, actor model.Actor) ([]model.Booking, error) {
	args := m.Called(ctx, actor)
	b, _ := args.Get(0).([]model.Booking)
	return b, args.Error(1)
}

func (m *mockService) ListBookings(ctx context.Context, actor model.Actor, limit, offset int) ([]model.Booking, error) {
	args := m.Called(ctx, actor, limit, offset)
	b, _ := args.Get(0).([]model.Booking)
	return b, args.Error(1)
}

func (m *mockService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	return m.Called(ctx, payload, signature).Error(0)
}

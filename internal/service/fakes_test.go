package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"

	"ticketing/internal/clock"
	"ticketing/internal/model"
	"ticketing/internal/repo"
)

// memRepo is an in-memory Repository. A transaction holds the lock for its
// whole run and restores a snapshot when fn fails.
type memRepo struct {
	mu       sync.Mutex
	users    map[string]model.User
	events   map[string]model.Event
	bookings map[string]model.Booking
	payments map[string]string

	failCreateBooking error
}

type memTxKey struct{}

func newMemRepo() *memRepo {
	return &memRepo{
		users:    map[string]model.User{},
		events:   map[string]model.Event{},
		bookings: map[string]model.Booking{},
		payments: map[string]string{},
	}
}

func (m *memRepo) lock(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *memRepo) snapshot() func() {
	users, events, bookings, payments := cloneMap(m.users), cloneMap(m.events), cloneMap(m.bookings), cloneMap(m.payments)
	return func() {
		m.users, m.events, m.bookings, m.payments = users, events, bookings, payments
	}
}

func cloneMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	restore := m.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		restore()
		return err
	}
	return nil
}

func (m *memRepo) CreateUser(ctx context.Context, u *model.User) error {
	defer m.lock(ctx)()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return repo.ErrEmailTaken
		}
	}
	m.users[u.ID] = *u
	return nil
}

func (m *memRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	defer m.lock(ctx)()
	u, ok := m.users[id]
	if !ok {
		return nil, repo.ErrUserNotFound
	}
	return &u, nil
}

func (m *memRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	defer m.lock(ctx)()
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repo.ErrUserNotFound
}

func (m *memRepo) ListUsers(ctx context.Context) ([]model.User, error) {
	defer m.lock(ctx)()
	out := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *memRepo) UpdateUserRole(ctx context.Context, id string, role model.Role) error {
	defer m.lock(ctx)()
	u, ok := m.users[id]
	if !ok {
		return repo.ErrUserNotFound
	}
	u.Role = role
	m.users[id] = u
	return nil
}

func (m *memRepo) DeleteUser(ctx context.Context, id string) error {
	defer m.lock(ctx)()
	if _, ok := m.users[id]; !ok {
		return repo.ErrUserNotFound
	}
	for _, b := range m.bookings {
		if b.UserID == id {
			return repo.ErrUserInUse
		}
	}
	delete(m.users, id)
	return nil
}

func (m *memRepo) CreateEvent(ctx context.Context, e *model.Event) error {
	defer m.lock(ctx)()
	m.events[e.ID] = *e
	return nil
}

func (m *memRepo) GetEventByID(ctx context.Context, id string) (*model.Event, error) {
	defer m.lock(ctx)()
	e, ok := m.events[id]
	if !ok {
		return nil, repo.ErrEventNotFound
	}
	return &e, nil
}

func (m *memRepo) ListEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	defer m.lock(ctx)()
	var out []model.Event
	for _, e := range m.events {
		if filter.Category != "" && e.Category != filter.Category {
			continue
		}
		if filter.OrganizerID != "" && e.OrganizerID != filter.OrganizerID {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memRepo) UpdateEvent(ctx context.Context, e *model.Event) error {
	defer m.lock(ctx)()
	cur, ok := m.events[e.ID]
	if !ok {
		return repo.ErrEventNotFound
	}
	remaining := cur.RemainingTickets + (e.TotalTickets - cur.TotalTickets)
	if remaining < 0 {
		return repo.ErrCapacityBelowSold
	}
	e.RemainingTickets = remaining
	m.events[e.ID] = *e
	return nil
}

func (m *memRepo) DeleteEvent(ctx context.Context, id string) error {
	defer m.lock(ctx)()
	if _, ok := m.events[id]; !ok {
		return repo.ErrEventNotFound
	}
	for _, b := range m.bookings {
		if b.EventID == id {
			return repo.ErrEventHasBookings
		}
	}
	delete(m.events, id)
	return nil
}

func (m *memRepo) ReserveTickets(ctx context.Context, eventID string, quantity int) (int, error) {
	defer m.lock(ctx)()
	e, ok := m.events[eventID]
	if !ok {
		return 0, repo.ErrEventNotFound
	}
	if e.RemainingTickets < quantity {
		return 0, repo.ErrInsufficientTickets
	}
	e.RemainingTickets -= quantity
	m.events[eventID] = e
	return e.RemainingTickets, nil
}

func (m *memRepo) ReleaseTickets(ctx context.Context, eventID string, quantity int) (int, error) {
	defer m.lock(ctx)()
	e, ok := m.events[eventID]
	if !ok {
		return 0, repo.ErrEventNotFound
	}
	if e.RemainingTickets+quantity > e.TotalTickets {
		return 0, repo.ErrInventoryOverflow
	}
	e.RemainingTickets += quantity
	m.events[eventID] = e
	return e.RemainingTickets, nil
}

func (m *memRepo) CreateBooking(ctx context.Context, b *model.Booking) error {
	defer m.lock(ctx)()
	if m.failCreateBooking != nil {
		return m.failCreateBooking
	}
	m.bookings[b.ID] = *b
	return nil
}

func (m *memRepo) GetBookingByID(ctx context.Context, id string) (*model.Booking, error) {
	defer m.lock(ctx)()
	b, ok := m.bookings[id]
	if !ok {
		return nil, repo.ErrBookingNotFound
	}
	return &b, nil
}

func (m *memRepo) GetBookingBySession(ctx context.Context, sessionID string) (*model.Booking, error) {
	defer m.lock(ctx)()
	for _, b := range m.bookings {
		if b.CheckoutSessionID == sessionID {
			return &b, nil
		}
	}
	return nil, repo.ErrBookingNotFound
}

func (m *memRepo) TransitionBooking(ctx context.Context, id string, from []model.BookingStatus, to model.BookingStatus) (*model.Booking, error) {
	defer m.lock(ctx)()
	b, ok := m.bookings[id]
	if !ok {
		return nil, repo.ErrBookingNotFound
	}
	for _, s := range from {
		if b.Status == s {
			b.Status = to
			if to != model.BookingStatusPending {
				b.ExpiresAt = nil
			}
			m.bookings[id] = b
			return &b, nil
		}
	}
	return nil, repo.ErrBookingStateChanged
}

func (m *memRepo) SetCheckoutSession(ctx context.Context, id, sessionID, url string) error {
	defer m.lock(ctx)()
	b, ok := m.bookings[id]
	if !ok {
		return repo.ErrBookingNotFound
	}
	b.CheckoutSessionID, b.CheckoutURL = sessionID, url
	m.bookings[id] = b
	return nil
}

func (m *memRepo) SetPaymentIntent(ctx context.Context, id, paymentIntentID string) error {
	defer m.lock(ctx)()
	b, ok := m.bookings[id]
	if !ok {
		return repo.ErrBookingNotFound
	}
	b.PaymentIntentID = paymentIntentID
	m.bookings[id] = b
	return nil
}

func (m *memRepo) filterBookings(keep func(model.Booking) bool) []model.Booking {
	var out []model.Booking
	for _, b := range m.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memRepo) ListBookingsByUser(ctx context.Context, userID string) ([]model.Booking, error) {
	defer m.lock(ctx)()
	return m.filterBookings(func(b model.Booking) bool { return b.UserID == userID }), nil
}

func (m *memRepo) ListBookingsByEvent(ctx context.Context, eventID string) ([]model.Booking, error) {
	defer m.lock(ctx)()
	return m.filterBookings(func(b model.Booking) bool { return b.EventID == eventID }), nil
}

func (m *memRepo) ListBookings(ctx context.Context, limit, offset int) ([]model.Booking, error) {
	defer m.lock(ctx)()
	out := m.filterBookings(func(model.Booking) bool { return true })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	defer m.lock(ctx)()
	out := m.filterBookings(func(b model.Booking) bool {
		return b.Status == model.BookingStatusPending && b.ExpiresAt != nil && !b.ExpiresAt.After(now)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) RecordPaymentEvent(ctx context.Context, id, eventType string) (bool, error) {
	defer m.lock(ctx)()
	if _, ok := m.payments[id]; ok {
		return false, nil
	}
	m.payments[id] = eventType
	return true, nil
}

func (m *memRepo) MigrateUp(context.Context) error   { return nil }
func (m *memRepo) MigrateDown(context.Context) error { return nil }

func (m *memRepo) event(id string) model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[id]
}

func (m *memRepo) booking(id string) model.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bookings[id]
}

// heldTickets sums the quantity of active bookings for an event.
func (m *memRepo) heldTickets(eventID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	held := 0
	for _, b := range m.bookings {
		if b.EventID == eventID && b.Status.Active() {
			held += b.Quantity
		}
	}
	return held
}

type mockGateway struct {
	mock.Mock
}

func (g *mockGateway) CreateCheckout(ctx context.Context, b *model.Booking, e *model.Event) (model.CheckoutSession, error) {
	args := g.Called(ctx, b, e)
	return args.Get(0).(model.CheckoutSession), args.Error(1)
}

func (g *mockGateway) ExpireCheckout(ctx context.Context, sessionID string) error {
	return g.Called(ctx, sessionID).Error(0)
}

func (g *mockGateway) Refund(ctx context.Context, paymentIntentID, bookingID string) error {
	return g.Called(ctx, paymentIntentID, bookingID).Error(0)
}

func (g *mockGateway) ParseWebhook(payload []byte, signature string) (model.PaymentNotification, error) {
	args := g.Called(payload, signature)
	return args.Get(0).(model.PaymentNotification), args.Error(1)
}

type recordingScheduler struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
	err       error
}

func (r *recordingScheduler) ScheduleExpiry(_ context.Context, bookingID, _ string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.scheduled == nil {
		r.scheduled = map[string]time.Time{}
	}
	r.scheduled[bookingID] = at
	return nil
}

type stubTokens struct{}

func (stubTokens) Issue(user *model.User, now time.Time) (string, time.Time, error) {
	return "token-" + user.ID, now.Add(time.Hour), nil
}

var errProvider = errors.New("provider down")

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	repo    *memRepo
	gateway *mockGateway
	sched   *recordingScheduler
	clock   *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()
	f := &fixture{
		repo:    newMemRepo(),
		gateway: &mockGateway{},
		sched:   &recordingScheduler{},
		clock:   clock.NewManual(t0),
	}
	f.svc = NewService(f.repo, f.gateway, f.sched, stubTokens{}, f.clock, &log, Options{
		HoldTTL:     15 * time.Minute,
		MaxQuantity: 5,
		SweepBatch:  2,
	})
	t.Cleanup(func() { f.gateway.AssertExpectations(t) })
	return f
}

func (f *fixture) addEvent(id string, priceCents int64, total int) {
	f.repo.events[id] = model.Event{
		ID:               id,
		OrganizerID:      "org",
		Title:            "Show " + id,
		StartsAt:         t0.Add(48 * time.Hour),
		EndsAt:           t0.Add(50 * time.Hour),
		PriceCents:       priceCents,
		Currency:         "usd",
		TotalTickets:     total,
		RemainingTickets: total,
	}
}

// addBooking inserts a booking and takes its tickets out of the event.
func (f *fixture) addBooking(b model.Booking) {
	e := f.repo.events[b.EventID]
	e.RemainingTickets -= b.Quantity
	f.repo.events[b.EventID] = e
	if b.AmountCents == 0 {
		b.AmountCents = e.PriceCents * int64(b.Quantity)
	}
	f.repo.bookings[b.ID] = b
}

var (
	alice     = model.Actor{UserID: "alice", Role: model.RoleUser}
	bob       = model.Actor{UserID: "bob", Role: model.RoleUser}
	organizer = model.Actor{UserID: "org", Role: model.RoleOrganizer}
	admin     = model.Actor{UserID: "root", Role: model.RoleAdmin}
)

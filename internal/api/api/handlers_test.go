package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ticketing/internal/dto"
	"ticketing/internal/model"
	"ticketing/internal/payment"
	"ticketing/internal/repo"
	"ticketing/internal/service"
)

type stubTokens map[string]model.Actor

func (s stubTokens) Parse(raw string) (model.Actor, error) {
	a, ok := s[raw]
	if !ok {
		return model.Actor{}, errors.New("bad token")
	}
	return a, nil
}

var (
	userActor  = model.Actor{UserID: "11111111-1111-1111-1111-111111111111", Role: model.RoleUser}
	orgActor   = model.Actor{UserID: "22222222-2222-2222-2222-222222222222", Role: model.RoleOrganizer}
	adminActor = model.Actor{UserID: "33333333-3333-3333-3333-333333333333", Role: model.RoleAdmin}
)

func setupRouter(t *testing.T) (*mockService, http.Handler) {
	t.Helper()
	svc := &mockService{}
	t.Cleanup(func() { svc.AssertExpectations(t) })
	log := zerolog.Nop()
	r := NewRouters(&Routers{
		Service: svc,
		Tokens: stubTokens{
			"user":  userActor,
			"org":   orgActor,
			"admin": adminActor,
		},
		Log:  &log,
		Mode: "test",
	})
	return svc, r
}

func call(r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data any) dto.Response {
	t.Helper()
	resp := dto.Response{Data: data}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	_, r := setupRouter(t)

	w := call(r, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegister(t *testing.T) {
	svc, r := setupRouter(t)
	svc.On("Register", mock.Anything, "Alice", "alice@example.com", "password1").
		Return(&model.User{ID: "u1", Name: "Alice", Email: "alice@example.com", Role: model.RoleUser}, nil).Once()

	w := call(r, http.MethodPost, "/v1/auth/register", "", dto.RegisterRequest{
		Name: "Alice", Email: "alice@example.com", Password: "password1",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	var user model.User
	resp := decode(t, w, &user)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "u1", user.ID)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestRegister_ValidationError(t *testing.T) {
	_, r := setupRouter(t)

	w := call(r, http.MethodPost, "/v1/auth/register", "", dto.RegisterRequest{
		Name: "Alice", Email: "not-an-email", Password: "password1",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w, nil)
	assert.Equal(t, dto.FieldIncorrect, resp.Error.Code)
}

func TestRegister_EmailTaken(t *testing.T) {
	svc, r := setupRouter(t)
	svc.On("Register", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, repo.ErrEmailTaken).Once()

	w := call(r, http.MethodPost, "/v1/auth/register", "", dto.RegisterRequest{
		Name: "Alice", Email: "alice@example.com", Password: "password1",
	})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc, r := setupRouter(t)
	svc.On("Login", mock.Anything, "a@b.co", "wrongpass").
		Return(nil, service.ErrInvalidCredentials).Once()

	w := call(r, http.MethodPost, "/v1/auth/login", "", dto.LoginRequest{Email: "a@b.co", Password: "wrongpass"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	resp := decode(t, w, nil)
	assert.Equal(t, dto.InvalidCredentials, resp.Error.Code)
}

func TestLogin(t *testing.T) {
	svc, r := setupRouter(t)
	svc.On("Login", mock.Anything, "a@b.co", "rightpass").
		Return(&service.Session{Token: "jwt", ExpiresAt: time.Now().Add(time.Hour), User: &model.User{ID: "u1"}}, nil).Once()

	w := call(r, http.MethodPost, "/v1/auth/login", "", dto.LoginRequest{Email: "a@b.co", Password: "rightpass"})

	assert.Equal(t, http.StatusOK, w.Code)
	var sess service.Session
	decode(t, w, &sess)
	assert.Equal(t, "jwt", sess.Token)
}

func TestListEvents(t *testing.T) {
	svc, r := setupRouter(t)
	svc.On("ListEvents", mock.Anything, model.EventFilter{Category: "music", UpcomingOnly: true, Limit: 10}).
		Return([]model.Event{{ID: "e1", Title: "Jazz"}}, nil).Once()

	w := call(r, http.MethodGet, "/v1/events?category=music&upcoming=true&limit=10", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var events []model.Event
	decode(t, w, &events)
	require.Len(t, events, 1)
	assert.Equal(t, "Jazz", events[0].Title)
}

func TestListEvents_BadLimit(t *testing.T) {
	_, r := setupRouter(t)

	w := call(r, http.MethodGet, "/v1/events?limit=5000", "", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEvent(t *testing.T) {
	svc, r := setupRouter(t)
	id := uuid.New().String()
	svc.On("GetEvent", mock.Anything, id).Return(nil, repo.ErrEventNotFound).Once()

	assert.Equal(t, http.StatusNotFound, call(r, http.MethodGet, "/v1/events/"+id, "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, call(r, http.MethodGet, "/v1/events/not-a-uuid", "", nil).Code)
}

func TestCreateEvent_RequiresOrganizer(t *testing.T) {
	_, r := setupRouter(t)
	req := dto.EventRequest{Title: "Show", StartsAt: time.Now().Add(time.Hour), TotalTickets: 10}

	assert.Equal(t, http.StatusUnauthorized, call(r, http.MethodPost, "/v1/events", "", req).Code)
	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPost, "/v1/events", "user", req).Code)
}

func TestCreateEvent(t *testing.T) {
	svc, r := setupRouter(t)
	starts := time.Date(2030, 5, 1, 19, 0, 0, 0, time.UTC)
	svc.On("CreateEvent", mock.Anything, orgActor, mock.MatchedBy(func(in service.EventInput) bool {
		return in.Title == "Show" && in.TotalTickets == 10 && in.StartsAt.Equal(starts) && in.PriceCents == 500
	})).Return(&model.Event{ID: "e1", Title: "Show"}, nil).Once()

	w := call(r, http.MethodPost, "/v1/events", "org", dto.EventRequest{
		Title: "Show", StartsAt: starts, TotalTickets: 10, PriceCents: 500, Currency: "usd",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCreateEvent_InvalidBody(t *testing.T) {
	_, r := setupRouter(t)

	w := call(r, http.MethodPost, "/v1/events", "org", dto.EventRequest{Title: "Show", TotalTickets: 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = call(r, http.MethodPost, "/v1/events", "org", []byte(`{"title":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateEvent_CapacityConflict(t *testing.T) {
	svc, r := setupRouter(t)
	id := uuid.New().String()
	svc.On("UpdateEvent", mock.Anything, orgActor, id, mock.Anything).
		Return(nil, repo.ErrCapacityBelowSold).Once()

	w := call(r, http.MethodPut, "/v1/events/"+id, "org", dto.EventRequest{
		Title: "Show", StartsAt: time.Now().Add(time.Hour), TotalTickets: 1,
	})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDeleteEvent_Forbidden(t *testing.T) {
	svc, r := setupRouter(t)
	id := uuid.New().String()
	svc.On("DeleteEvent", mock.Anything, orgActor, id).Return(service.ErrForbidden).Once()

	w := call(r, http.MethodDelete, "/v1/events/"+id, "org", nil)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestBook(t *testing.T) {
	svc, r := setupRouter(t)
	id := uuid.New().String()
	svc.On("Book", mock.Anything, userActor, id, 2).Return(&model.Booking{
		ID: "b1", EventID: id, Quantity: 2, Status: model.BookingStatusPending, CheckoutURL: "https://pay",
	}, nil).Once()

	w := call(r, http.MethodPost, "/v1/events/"+id+"/book", "user", dto.BookRequest{Quantity: 2})

	assert.Equal(t, http.StatusCreated, w.Code)
	var b model.Booking
	decode(t, w, &b)
	assert.Equal(t, "https://pay", b.CheckoutURL)
}

func TestBook_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{repo.ErrInsufficientTickets, http.StatusConflict, dto.SoldOut},
		{service.ErrEventStarted, http.StatusConflict, dto.EventStarted},
		{repo.ErrEventNotFound, http.StatusNotFound, dto.NotFound},
		{fmt.Errorf("%w: quantity", service.ErrValidation), http.StatusBadRequest, dto.FieldIncorrect},
		{fmt.Errorf("%w: timeout", service.ErrPaymentUnavailable), http.StatusBadGateway, dto.PaymentUnavailable},
		{errors.New("db exploded"), http.StatusInternalServerError, dto.ServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			svc, r := setupRouter(t)
			id := uuid.New().String()
			svc.On("Book", mock.Anything, userActor, id, 1).Return(nil, tc.err).Once()

			w := call(r, http.MethodPost, "/v1/events/"+id+"/book", "user", dto.BookRequest{Quantity: 1})

			assert.Equal(t, tc.status, w.Code)
			resp := decode(t, w, nil)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code)
		})
	}
}

func TestBook_ZeroQuantity(t *testing.T) {
	_, r := setupRouter(t)

	w := call(r, http.MethodPost, "/v1/events/"+uuid.New().String()+"/book", "user", dto.BookRequest{Quantity: 0})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelBooking_StateConflict(t *testing.T) {
	svc, r := setupRouter(t)
	id := uuid.New().String()
	svc.On("Cancel", mock.Anything, userActor, id).Return(nil, repo.ErrBookingStateChanged).Once()

	w := call(r, http.MethodPost, "/v1/bookings/"+id+"/cancel", "user", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRefundBooking_RequiresOrganizer(t *testing.T) {
	svc, r := setupRouter(t)
	id := uuid.New().String()

	assert.Equal(t, http.StatusForbidden, call(r, http.MethodPost, "/v1/bookings/"+id+"/refund", "user", nil).Code)

	svc.On("Refund", mock.Anything, orgActor, id).Return(&model.Booking{ID: id, Status: model.BookingStatusRefunded}, nil).Once()
	assert.Equal(t, http.StatusOK, call(r, http.MethodPost, "/v1/bookings/"+id+"/refund", "org", nil).Code)
}

func TestListMyBookings_Empty(t *testing.T) {
	svc, r := setupRouter(t)
	svc.On("ListMyBookings", mock.Anything, userActor).Return(nil, nil).Once()

	w := call(r, http.MethodGet, "/v1/bookings", "user", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","data":[]}`, w.Body.String())
}

func TestWebhook(t *testing.T) {
	svc, r := setupRouter(t)
	payload := []byte(`{"id":"evt_1"}`)
	svc.On("HandleWebhook", mock.Anything, payload, "t=1,v1=abc").Return(nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/v1/payments/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhook_BadSignature(t *testing.T) {
	svc, r := setupRouter(t)
	svc.On("HandleWebhook", mock.Anything, mock.Anything, "").
		Return(fmt.Errorf("%w: no signature", payment.ErrInvalidSignature)).Once()

	w := call(r, http.MethodPost, "/v1/payments/webhook", "", []byte(`{}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w, nil)
	assert.Equal(t, dto.InvalidSignature, resp.Error.Code)
}

func TestAdminRoutes(t *testing.T) {
	svc, r := setupRouter(t)
	target := uuid.New().String()

	assert.Equal(t, http.StatusForbidden, call(r, http.MethodGet, "/v1/admin/users", "org", nil).Code)

	svc.On("ListUsers", mock.Anything, adminActor).Return([]model.User{{ID: target}}, nil).Once()
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/v1/admin/users", "admin", nil).Code)

	svc.On("ChangeRole", mock.Anything, adminActor, target, model.RoleOrganizer).
		Return(&model.User{ID: target, Role: model.RoleOrganizer}, nil).Once()
	w := call(r, http.MethodPatch, "/v1/admin/users/"+target+"/role", "admin", dto.ChangeRoleRequest{Role: "organizer"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = call(r, http.MethodPatch, "/v1/admin/users/"+target+"/role", "admin", dto.ChangeRoleRequest{Role: "god"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.On("DeleteUser", mock.Anything, adminActor, target).Return(repo.ErrUserInUse).Once()
	assert.Equal(t, http.StatusConflict, call(r, http.MethodDelete, "/v1/admin/users/"+target, "admin", nil).Code)

	svc.On("ListBookings", mock.Anything, adminActor, 20, 40).Return([]model.Booking{}, nil).Once()
	assert.Equal(t, http.StatusOK, call(r, http.MethodGet, "/v1/admin/bookings?limit=20&offset=40", "admin", nil).Code)
}

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"ticketing/cmd/middleware"
	"ticketing/internal/dto"
	"ticketing/internal/model"
	"ticketing/internal/payment"
	"ticketing/internal/repo"
	"ticketing/internal/service"
	"ticketing/pkg/validator"
)

const maxWebhookBody = 64 << 10

type Service interface {
	Register(ctx context.Context, name, email, password string) (*model.User, error)
	Login(ctx context.Context, email, password string) (*service.Session, error)

	ListUsers(ctx context.Context, actor model.Actor) ([]model.User, error)
	ChangeRole(ctx context.Context, actor model.Actor, userID string, role model.Role) (*model.User, error)
	DeleteUser(ctx context.Context, actor model.Actor, userID string) error

	CreateEvent(ctx context.Context, actor model.Actor, in service.EventInput) (*model.Event, error)
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	ListEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error)
	UpdateEvent(ctx context.Context, actor model.Actor, id string, in service.EventInput) (*model.Event, error)
	DeleteEvent(ctx context.Context, actor model.Actor, id string) error
	ListEventBookings(ctx context.Context, actor model.Actor, id string) ([]model.Booking, error)

	Book(ctx context.Context, actor model.Actor, eventID string, quantity int) (*model.Booking, error)
	Cancel(ctx context.Context, actor model.Actor, bookingID string) (*model.Booking, error)
	Refund(ctx context.Context, actor model.Actor, bookingID string) (*model.Booking, error)
	GetBooking(ctx context.Context, actor model.Actor, bookingID string) (*model.Booking, error)
	ListMyBookings(ctx context.Context, actor model.Actor) ([]model.Booking, error)
	ListBookings(ctx context.Context, actor model.Actor, limit, offset int) ([]model.Booking, error)

	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type Handler struct {
	svc Service
	log *zerolog.Logger
}

// bind decodes and validates a JSON body, writing the 400 itself on failure.
func bind(c *ginext.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		dto.FieldIncorrectError(c, "Invalid JSON format")
		return false
	}
	if verr := validator.Validate(c.Request.Context(), req); verr != nil {
		dto.FieldIncorrectError(c, verr.Error())
		return false
	}
	return true
}

func pathID(c *ginext.Context, name string) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		dto.FieldBadFormatError(c, name)
		return "", false
	}
	return id, true
}

func actor(c *ginext.Context) model.Actor {
	a, _ := middleware.ActorFrom(c)
	return a
}

func (h *Handler) handleError(c *ginext.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		dto.FieldIncorrectError(c, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		dto.ErrorResponse(c, http.StatusUnauthorized, dto.InvalidCredentials, "Invalid email or password")
	case errors.Is(err, payment.ErrInvalidSignature):
		dto.BadResponseError(c, dto.InvalidSignature, "Webhook signature verification failed")
	case errors.Is(err, service.ErrForbidden):
		dto.ForbiddenError(c)
	case errors.Is(err, repo.ErrEventNotFound):
		dto.NotFoundError(c, "Event not found")
	case errors.Is(err, repo.ErrBookingNotFound):
		dto.NotFoundError(c, "Booking not found")
	case errors.Is(err, repo.ErrUserNotFound):
		dto.NotFoundError(c, "User not found")
	case errors.Is(err, repo.ErrInsufficientTickets):
		dto.ConflictError(c, dto.SoldOut, "Not enough tickets remaining")
	case errors.Is(err, service.ErrEventStarted):
		dto.ConflictError(c, dto.EventStarted, "Event has already started")
	case errors.Is(err, repo.ErrBookingStateChanged):
		dto.ConflictError(c, dto.BookingStateChange, "Booking cannot be changed in its current status")
	case errors.Is(err, repo.ErrEmailTaken),
		errors.Is(err, repo.ErrUserInUse),
		errors.Is(err, repo.ErrEventHasBookings),
		errors.Is(err, repo.ErrCapacityBelowSold):
		dto.ConflictError(c, dto.Conflict, err.Error())
	case errors.Is(err, service.ErrPaymentUnavailable):
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("payment provider error")
		dto.ErrorResponse(c, http.StatusBadGateway, dto.PaymentUnavailable, "Payment provider is unavailable, try again later")
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		dto.InternalServerError(c)
	}
}

func (h *Handler) Register(c *ginext.Context) {
	var req dto.RegisterRequest
	if !bind(c, &req) {
		return
	}
	user, err := h.svc.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.handleError(c, err)
		return
	}
	dto.SuccessCreatedResponse(c, user)
}

func (h *Handler) Login(c *ginext.Context) {
	var req dto.LoginRequest
	if !bind(c, &req) {
		return
	}
	sess, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.handleError(c, err)
		return
	}
	dto.SuccessResponse(c, sess)
}

func eventInput(req dto.EventRequest) service.EventInput {
	return service.EventInput{
		Title:        req.Title,
		Description:  req.Description,
		Venue:        req.Venue,
		Category:     req.Category,
		StartsAt:     req.StartsAt,
		EndsAt:       req.EndsAt,
		PriceCents:   req.PriceCents,
		Currency:     req.Currency,
		TotalTickets: req.TotalTickets,
	}
}

func (h *Handler) CreateEvent(c *ginext.Context) {
	var req dto.EventRequest
	if !bind(c, &req) {
		return
	}
	event, err := h.svc.CreateEvent(c.Request.Context(), actor(c), eventInput(req))
	if err != nil {
		h.handleError(c, err)
		return
	}
	dto.SuccessCreatedResponse(c, event)
}

func (h *Handler) GetEvent(c *ginext.Context) {
	id, ok := pathID(c, "event id")
	if !ok {
		return
	}
	event, err := h.svc.GetEvent(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	dto.SuccessResponse(c, event)
}

func (h *Handler) ListEvents(c *ginext.Context) {
	var q dto.ListEventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		dto.FieldIncorrectError(c, "Invalid query parameters")
		return
	}
	if verr := validator.Validate(c.Request.Context(), q); verr != nil {
		dto.FieldIncorrectError(c, verr.Error())
		return
	}

	events, err := h.svc.ListEvents(c.Request.Context(), model.EventFilter{
		Category:     q.Category,
		OrganizerID:  q.OrganizerID,
		UpcomingOnly: q.Upcoming,
		Limit:        q.Limit,
		Offset:       q.Offset,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	dto.SuccessResponse(c, events)
}

func (h *Handler) UpdateEvent(c *ginext.Context) {
	id, ok := pathID(c, "event id")
	if !ok {
		return
	}
	var req dto.EventRequest
	if !bind(c, &req) {
		return
	}
	event, err := h.svc.UpdateEvent(c.Request.Context(), actor(c), id, eventInput(req))
	if err != nil {
		h.handleError(c, err)
		return
	}
	dto.SuccessResponse(c, event)
}

func (h *Handler) DeleteEvent(c *ginext.Context) {
	id, ok := pathID(c, "event id")
	if !ok {
		return
	}
	if err := h.svc.DeleteEvent(c.Request.Context(), actor(c), id); err != nil {
		h.handleError(c, err)
		return
	}
	dto.SuccessResponse(c, ginext.H{"deleted": id})
}

func (h *Handler) ListEventBookings(c *ginext.Context) {
	id, ok := pathID(c, "event id")
	if !ok {
		return
	}
	bookings, err := h.svc.ListEventBookings(c.Request.Context(), actor(c), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	respondBookings(c, bookings)
}

func (h *Handler) Book(c *ginext.Context) {
	id, ok := pathID(c, "event id")
	if !ok {
		return
	}
	var req dto.BookRequest
	if !bind(c, &req) {
		return
	}
	booking, err := h.svc.Book(c.Request.Context(), actor(c), id, req.Quantity)
	if err != nil {
		h.handleError(c, err)
		return
	}
	dto.SuccessCreatedResponse(c, booking)
}

func (h *Handler) GetBooking(c *ginext.Context) {
	id, ok := pathID(c, "booking id")
	if !ok {
		return
	}
	booking, err := h.svc.GetBooking(c.Request.Context(), actor(c), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	dto.SuccessResponse(c, booking)
}

func (h *Handler) ListMyBookings(c *ginext.Context) {
	bookings, err := h.svc.ListMyBookings(c.Request.Context(), actor(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	respondBookings(c, bookings)
}

func (h *Handler) CancelBooking(c *ginext.Context) {
	id, ok := pathID(c, "booking id")
	if !ok {
		return
	}
	booking, err := h.svc.Cancel(c.Request.Context(), actor(c), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	dto.SuccessResponse(c, booking)
}

func (h *Handler) RefundBooking(c *ginext.Context) {
	id, ok := pathID(c, "booking id")
	if !ok {
		return
	}
	booking, err := h.svc.Refund(c.Request.Context(), actor(c), id)
	if err != nil {
		h.handleError(c, err)
		return
	}
	dto.SuccessResponse(c, booking)
}

func (h *Handler) Webhook(c *ginext.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		dto.FieldIncorrectError(c, fmt.Sprintf("Unreadable body: %v", err))
		return
	}
	if err := h.svc.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		h.handleError(c, err)
		return
	}
	dto.SuccessResponse(c, ginext.H{"received": true})
}

func (h *Handler) ListUsers(c *ginext.Context) {
	users, err := h.svc.ListUsers(c.Request.Context(), actor(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	dto.SuccessResponse(c, users)
}

func (h *Handler) ChangeRole(c *ginext.Context) {
	id, ok := pathID(c, "user id")
	if !ok {
		return
	}
	var req dto.ChangeRoleRequest
	if !bind(c, &req) {
		return
	}
	user, err := h.svc.ChangeRole(c.Request.Context(), actor(c), id, model.Role(req.Role))
	if err != nil {
		h.handleError(c, err)
		return
	}
	dto.SuccessResponse(c, user)
}

func (h *Handler) DeleteUser(c *ginext.Context) {
	id, ok := pathID(c, "user id")
	if !ok {
		return
	}
	if err := h.svc.DeleteUser(c.Request.Context(), actor(c), id); err != nil {
		h.handleError(c, err)
		return
	}
	dto.SuccessResponse(c, ginext.H{"deleted": id})
}

func (h *Handler) ListAllBookings(c *ginext.Context) {
	var q dto.PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		dto.FieldIncorrectError(c, "Invalid query parameters")
		return
	}
	if verr := validator.Validate(c.Request.Context(), q); verr != nil {
		dto.FieldIncorrectError(c, verr.Error())
		return
	}
	bookings, err := h.svc.ListBookings(c.Request.Context(), actor(c), q.Limit, q.Offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	respondBookings(c, bookings)
}

func respondBookings(c *ginext.Context, bookings []model.Booking) {
	if bookings == nil {
		bookings = []model.Booking{}
	}
	dto.SuccessResponse(c, bookings)
}

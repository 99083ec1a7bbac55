package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ticketing/internal/model"
	"ticketing/internal/repo"
)

// Brokers and clocks drift; a hold due within this window is expired early
// rather than left for the next sweep.
const expirySkew = 5 * time.Second

func (s *Service) Book(ctx context.Context, actor model.Actor, eventID string, quantity int) (*model.Booking, error) {
	if quantity < 1 || quantity > s.opts.MaxQuantity {
		return nil, fmt.Errorf("%w: quantity must be between 1 and %d", ErrValidation, s.opts.MaxQuantity)
	}

	event, err := s.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if event.Started(now) {
		return nil, ErrEventStarted
	}

	booking := &model.Booking{
		ID:          uuid.New().String(),
		EventID:     event.ID,
		UserID:      actor.UserID,
		Quantity:    quantity,
		AmountCents: event.PriceCents * int64(quantity),
		Currency:    event.Currency,
		Status:      model.BookingStatusConfirmed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if !event.Free() {
		expiresAt := now.Add(s.opts.HoldTTL)
		booking.Status = model.BookingStatusPending
		booking.ExpiresAt = &expiresAt
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.ReserveTickets(ctx, event.ID, quantity); err != nil {
			return err
		}
		return s.repo.CreateBooking(ctx, booking)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("booking_id", booking.ID).
		Str("event_id", event.ID).
		Str("user_id", actor.UserID).
		Int("quantity", quantity).
		Str("status", string(booking.Status)).
		Msg("tickets reserved")

	if event.Free() {
		return booking, nil
	}

	checkout, err := s.payments.CreateCheckout(ctx, booking, event)
	if err != nil {
		s.log.Error().Err(err).Str("booking_id", booking.ID).Msg("checkout failed, releasing tickets")
		if _, relErr := s.release(context.WithoutCancel(ctx), booking.ID,
			[]model.BookingStatus{model.BookingStatusPending}, model.BookingStatusCancelled, nil,
		); relErr != nil && !errors.Is(relErr, repo.ErrBookingStateChanged) {
			s.log.Error().Err(relErr).Str("booking_id", booking.ID).Msg("failed to release tickets after checkout failure")
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	booking.CheckoutSessionID = checkout.ID
	booking.CheckoutURL = checkout.URL
	if err := s.repo.SetCheckoutSession(ctx, booking.ID, checkout.ID, checkout.URL); err != nil {
		// The webhook still resolves the booking through session metadata.
		s.log.Error().Err(err).Str("booking_id", booking.ID).Msg("failed to store checkout session")
	}

	if err := s.expiry.ScheduleExpiry(ctx, booking.ID, booking.EventID, *booking.ExpiresAt); err != nil {
		s.log.Warn().Err(err).Str("booking_id", booking.ID).Msg("failed to schedule expiry, sweeper will handle it")
	}

	return booking, nil
}

// release moves a booking from one of the active statuses in from to the
// terminal status to and returns its tickets to the event, all in one
// transaction. inTx runs last inside the same transaction; an error from it
// rolls everything back.
func (s *Service) release(
	ctx context.Context,
	bookingID string,
	from []model.BookingStatus,
	to model.BookingStatus,
	inTx func(ctx context.Context, b *model.Booking) error,
) (*model.Booking, error) {
	var out *model.Booking
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.TransitionBooking(ctx, bookingID, from, to)
		if err != nil {
			return err
		}
		if _, err := s.repo.ReleaseTickets(ctx, b.EventID, b.Quantity); err != nil {
			return err
		}
		if inTx != nil {
			if err := inTx(ctx, b); err != nil {
				return err
			}
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("booking_id", out.ID).
		Str("event_id", out.EventID).
		Int("quantity", out.Quantity).
		Str("status", string(out.Status)).
		Msg("tickets released")
	return out, nil
}

func (s *Service) refundPayment(ctx context.Context, b *model.Booking) error {
	if !b.Paid() {
		return nil
	}
	if err := s.payments.Refund(ctx, b.PaymentIntentID, b.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}
	return nil
}

func (s *Service) Cancel(ctx context.Context, actor model.Actor, bookingID string) (*model.Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	event, err := s.repo.GetEventByID(ctx, b.EventID)
	if err != nil {
		return nil, err
	}
	if event.Started(s.clock.Now()) {
		return nil, ErrEventStarted
	}

	switch {
	case b.Status == model.BookingStatusPending:
		out, err := s.release(ctx, b.ID,
			[]model.BookingStatus{model.BookingStatusPending}, model.BookingStatusCancelled, nil)
		if err != nil {
			return nil, err
		}
		if out.CheckoutSessionID != "" {
			if err := s.payments.ExpireCheckout(ctx, out.CheckoutSessionID); err != nil {
				s.log.Warn().Err(err).Str("booking_id", out.ID).Msg("failed to expire checkout session")
			}
		}
		return out, nil
	case b.Status == model.BookingStatusConfirmed && !b.Paid():
		return s.release(ctx, b.ID,
			[]model.BookingStatus{model.BookingStatusConfirmed}, model.BookingStatusCancelled, nil)
	case b.Status == model.BookingStatusConfirmed:
		return s.release(ctx, b.ID,
			[]model.BookingStatus{model.BookingStatusConfirmed}, model.BookingStatusRefunded, s.refundPayment)
	default:
		return nil, repo.ErrBookingStateChanged
	}
}

// Refund is the organizer-side reversal of a confirmed booking.
func (s *Service) Refund(ctx context.Context, actor model.Actor, bookingID string) (*model.Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedEvent(ctx, actor, b.EventID); err != nil {
		return nil, err
	}
	if b.Status != model.BookingStatusConfirmed {
		return nil, repo.ErrBookingStateChanged
	}
	return s.release(ctx, b.ID,
		[]model.BookingStatus{model.BookingStatusConfirmed}, model.BookingStatusRefunded, s.refundPayment)
}

// Expire ends an unpaid hold. It reports false when the booking was already
// settled some other way or is not due yet.
func (s *Service) Expire(ctx context.Context, bookingID string) (bool, error) {
	b, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return false, err
	}
	if b.Status != model.BookingStatusPending {
		return false, nil
	}
	if b.ExpiresAt != nil && b.ExpiresAt.After(s.clock.Now().Add(expirySkew)) {
		return false, nil
	}

	out, err := s.release(ctx, bookingID,
		[]model.BookingStatus{model.BookingStatusPending}, model.BookingStatusExpired, nil)
	if errors.Is(err, repo.ErrBookingStateChanged) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out.CheckoutSessionID != "" {
		if err := s.payments.ExpireCheckout(ctx, out.CheckoutSessionID); err != nil {
			s.log.Warn().Err(err).Str("booking_id", out.ID).Msg("failed to expire checkout session")
		}
	}
	return true, nil
}

// ExpireStale expires every pending booking whose hold has run out and
// returns how many were expired.
func (s *Service) ExpireStale(ctx context.Context) (int, error) {
	expired := 0
	for {
		stale, err := s.repo.ListExpiredPending(ctx, s.clock.Now(), s.opts.SweepBatch)
		if err != nil {
			return expired, err
		}

		progressed := false
		for _, b := range stale {
			ok, err := s.Expire(ctx, b.ID)
			if err != nil {
				return expired, fmt.Errorf("expire booking %s: %w", b.ID, err)
			}
			if ok {
				expired++
				progressed = true
			}
		}

		if len(stale) < s.opts.SweepBatch || !progressed {
			return expired, nil
		}
	}
}

func (s *Service) GetBooking(ctx context.Context, actor model.Actor, bookingID string) (*model.Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID == actor.UserID || actor.IsAdmin() {
		return b, nil
	}
	if _, err := s.ownedEvent(ctx, actor, b.EventID); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) ListMyBookings(ctx context.Context, actor model.Actor) ([]model.Booking, error) {
	return s.repo.ListBookingsByUser(ctx, actor.UserID)
}

func (s *Service) ListBookings(ctx context.Context, actor model.Actor, limit, offset int) ([]model.Booking, error) {
	if err := requireRole(actor, model.RoleAdmin); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListBookings(ctx, limit, offset)
}

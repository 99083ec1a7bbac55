package service

import (
	"context"
	"errors"

	"ticketing/internal/model"
	"ticketing/internal/repo"
)

const webhookAttempts = 3

// HandleWebhook applies a verified payment notification. The provider event
// id is recorded in the same transaction as the booking change, so a
// redelivered notification is a no-op.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	n, err := s.payments.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	if n.Kind == model.PaymentKindIgnored {
		s.log.Debug().Str("type", n.Type).Str("provider_event_id", n.ID).Msg("payment event ignored")
		return nil
	}

	// A booking read outside the row update can move under us (an expiry
	// racing the payment). Rerun against the fresh status.
	for attempt := 1; ; attempt++ {
		err = s.repo.WithTx(ctx, func(ctx context.Context) error {
			return s.applyNotification(ctx, n)
		})
		if !errors.Is(err, repo.ErrBookingStateChanged) || attempt == webhookAttempts {
			return err
		}
		s.log.Debug().Str("provider_event_id", n.ID).Int("attempt", attempt).Msg("booking changed, retrying payment event")
	}
}

func (s *Service) applyNotification(ctx context.Context, n model.PaymentNotification) error {
	fresh, err := s.repo.RecordPaymentEvent(ctx, n.ID, n.Type)
	if err != nil {
		return err
	}
	if !fresh {
		s.log.Info().Str("provider_event_id", n.ID).Msg("duplicate payment event")
		return nil
	}

	b, err := s.bookingFor(ctx, n)
	if errors.Is(err, repo.ErrBookingNotFound) {
		s.log.Warn().
			Str("provider_event_id", n.ID).
			Str("booking_id", n.BookingID).
			Str("session_id", n.SessionID).
			Msg("payment event for unknown booking")
		return nil
	}
	if err != nil {
		return err
	}

	switch n.Kind {
	case model.PaymentKindCompleted:
		if !n.Paid {
			s.log.Info().Str("booking_id", b.ID).Msg("checkout completed, payment still processing")
			return nil
		}
		return s.settle(ctx, b, n.PaymentIntentID)
	case model.PaymentKindExpired:
		if b.Status != model.BookingStatusPending {
			return nil
		}
		_, err := s.release(ctx, b.ID,
			[]model.BookingStatus{model.BookingStatusPending}, model.BookingStatusExpired, nil)
		return err
	}
	return nil
}

func (s *Service) bookingFor(ctx context.Context, n model.PaymentNotification) (*model.Booking, error) {
	if n.BookingID != "" {
		b, err := s.repo.GetBookingByID(ctx, n.BookingID)
		if !errors.Is(err, repo.ErrBookingNotFound) || n.SessionID == "" {
			return b, err
		}
	}
	if n.SessionID == "" {
		return nil, repo.ErrBookingNotFound
	}
	return s.repo.GetBookingBySession(ctx, n.SessionID)
}

// settle confirms a paid booking. A payment that arrives after the hold
// lapsed has to win its tickets back; if they are gone it is refunded.
func (s *Service) settle(ctx context.Context, b *model.Booking, paymentIntentID string) error {
	switch b.Status {
	case model.BookingStatusPending:
		if _, err := s.repo.TransitionBooking(ctx, b.ID,
			[]model.BookingStatus{model.BookingStatusPending}, model.BookingStatusConfirmed,
		); err != nil {
			return err
		}
		s.log.Info().Str("booking_id", b.ID).Msg("booking confirmed")
		return s.repo.SetPaymentIntent(ctx, b.ID, paymentIntentID)

	case model.BookingStatusExpired, model.BookingStatusCancelled:
		lapsed := []model.BookingStatus{b.Status}
		_, err := s.repo.ReserveTickets(ctx, b.EventID, b.Quantity)
		switch {
		case err == nil:
			if _, err := s.repo.TransitionBooking(ctx, b.ID, lapsed, model.BookingStatusConfirmed); err != nil {
				return err
			}
			s.log.Info().Str("booking_id", b.ID).Msg("late payment confirmed, tickets reclaimed")
			return s.repo.SetPaymentIntent(ctx, b.ID, paymentIntentID)
		case errors.Is(err, repo.ErrInsufficientTickets):
			if _, err := s.repo.TransitionBooking(ctx, b.ID, lapsed, model.BookingStatusRefunded); err != nil {
				return err
			}
			if err := s.repo.SetPaymentIntent(ctx, b.ID, paymentIntentID); err != nil {
				return err
			}
			s.log.Warn().Str("booking_id", b.ID).Msg("late payment with no tickets left, refunding")
			b.PaymentIntentID = paymentIntentID
			return s.refundPayment(ctx, b)
		default:
			return err
		}

	default:
		s.log.Info().
			Str("booking_id", b.ID).
			Str("status", string(b.Status)).
			Msg("payment for settled booking ignored")
		return nil
	}
}

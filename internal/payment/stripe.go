package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"ticketing/internal/model"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Stripe refuses checkout sessions that expire sooner than 30 minutes.
const minSessionLifetime = 31 * time.Minute

type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

type Stripe struct {
	api *client.API
	cfg Config
	log *zerolog.Logger
	now func() time.Time
}

func NewStripe(cfg Config, log *zerolog.Logger) *Stripe {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &Stripe{api: api, cfg: cfg, log: log, now: time.Now}
}

func (s *Stripe) CreateCheckout(ctx context.Context, b *model.Booking, e *model.Event) (model.CheckoutSession, error) {
	expiresAt := s.now().Add(minSessionLifetime)
	if b.ExpiresAt != nil && b.ExpiresAt.After(expiresAt) {
		expiresAt = *b.ExpiresAt
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(b.ID),
		SuccessURL:        stripe.String(expandURL(s.cfg.SuccessURL, b.ID)),
		CancelURL:         stripe.String(expandURL(s.cfg.CancelURL, b.ID)),
		ExpiresAt:         stripe.Int64(expiresAt.Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(e.Currency),
					UnitAmount: stripe.Int64(e.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(e.Title),
					},
				},
				Quantity: stripe.Int64(int64(b.Quantity)),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("booking_id", b.ID)
	params.AddMetadata("event_id", b.EventID)
	params.SetIdempotencyKey("checkout-" + b.ID)

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return model.CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}

	s.log.Info().
		Str("booking_id", b.ID).
		Str("session_id", sess.ID).
		Msg("checkout session created")

	return model.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (s *Stripe) ExpireCheckout(ctx context.Context, sessionID string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := s.api.CheckoutSessions.Expire(sessionID, params); err != nil {
		return fmt.Errorf("expire checkout session: %w", err)
	}
	return nil
}

// Refund returns the full payment. The idempotency key is per booking, so a
// retried refund never pays out twice.
func (s *Stripe) Refund(ctx context.Context, paymentIntentID, bookingID string) error {
	if paymentIntentID == "" {
		return fmt.Errorf("refund booking %s: no payment intent", bookingID)
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	params.Context = ctx
	params.AddMetadata("booking_id", bookingID)
	params.SetIdempotencyKey("refund-" + bookingID)

	rf, err := s.api.Refunds.New(params)
	if err != nil {
		return fmt.Errorf("create refund: %w", err)
	}

	s.log.Info().
		Str("booking_id", bookingID).
		Str("refund_id", rf.ID).
		Msg("refund created")
	return nil
}

func (s *Stripe) ParseWebhook(payload []byte, signature string) (model.PaymentNotification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return model.PaymentNotification{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return notificationFromEvent(event)
}

func notificationFromEvent(event stripe.Event) (model.PaymentNotification, error) {
	n := model.PaymentNotification{
		ID:   event.ID,
		Type: string(event.Type),
		Kind: model.PaymentKindIgnored,
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		n.Kind = model.PaymentKindCompleted
	case stripe.EventTypeCheckoutSessionExpired, stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		n.Kind = model.PaymentKindExpired
	default:
		return n, nil
	}

	if event.Data == nil {
		return n, fmt.Errorf("event %s has no data", event.ID)
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return n, fmt.Errorf("decode checkout session: %w", err)
	}

	n.SessionID = sess.ID
	n.BookingID = sess.Metadata["booking_id"]
	if n.BookingID == "" {
		n.BookingID = sess.ClientReferenceID
	}
	if sess.PaymentIntent != nil {
		n.PaymentIntentID = sess.PaymentIntent.ID
	}
	n.Paid = sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid

	return n, nil
}

// expandURL substitutes {BOOKING_ID} in redirect URLs; {CHECKOUT_SESSION_ID}
// is left for Stripe to fill in.
func expandURL(tmpl, bookingID string) string {
	return strings.ReplaceAll(tmpl, "{BOOKING_ID}", bookingID)
}

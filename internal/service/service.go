package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"ticketing/internal/clock"
	"ticketing/internal/model"
	"ticketing/internal/repo"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEventStarted       = errors.New("event has already started")
	ErrPaymentUnavailable = errors.New("payment provider unavailable")
)

type PaymentGateway interface {
	CreateCheckout(ctx context.Context, b *model.Booking, e *model.Event) (model.CheckoutSession, error)
	ExpireCheckout(ctx context.Context, sessionID string) error
	Refund(ctx context.Context, paymentIntentID, bookingID string) error
	ParseWebhook(payload []byte, signature string) (model.PaymentNotification, error)
}

// ExpiryScheduler arranges for Expire to be called once a hold runs out.
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, bookingID, eventID string, at time.Time) error
}

type TokenIssuer interface {
	Issue(user *model.User, now time.Time) (string, time.Time, error)
}

type Options struct {
	HoldTTL     time.Duration
	MaxQuantity int
	Currency    string
	SweepBatch  int
}

const (
	defaultHoldTTL     = 30 * time.Minute
	defaultMaxQuantity = 10
	defaultCurrency    = "usd"
	defaultSweepBatch  = 100
)

type Service struct {
	repo     repo.Repository
	payments PaymentGateway
	expiry   ExpiryScheduler
	tokens   TokenIssuer
	clock    clock.Clock
	log      *zerolog.Logger
	opts     Options
}

func NewService(
	repository repo.Repository,
	payments PaymentGateway,
	expiry ExpiryScheduler,
	tokens TokenIssuer,
	clk clock.Clock,
	log *zerolog.Logger,
	opts Options,
) *Service {
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = defaultHoldTTL
	}
	if opts.MaxQuantity <= 0 {
		opts.MaxQuantity = defaultMaxQuantity
	}
	if opts.Currency == "" {
		opts.Currency = defaultCurrency
	}
	if opts.SweepBatch <= 0 {
		opts.SweepBatch = defaultSweepBatch
	}
	return &Service{
		repo:     repository,
		payments: payments,
		expiry:   expiry,
		tokens:   tokens,
		clock:    clk,
		log:      log,
		opts:     opts,
	}
}

func requireRole(actor model.Actor, roles ...model.Role) error {
	for _, r := range roles {
		if actor.Role == r {
			return nil
		}
	}
	return ErrForbidden
}

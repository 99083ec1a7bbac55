package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"

	"ticketing/internal/model"
	"ticketing/migrations"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrEmailTaken          = errors.New("email already registered")
	ErrUserInUse           = errors.New("user owns events or bookings")
	ErrEventNotFound       = errors.New("event not found")
	ErrEventHasBookings    = errors.New("event has bookings")
	ErrCapacityBelowSold   = errors.New("total tickets below tickets already sold")
	ErrInsufficientTickets = errors.New("not enough tickets remaining")
	ErrInventoryOverflow   = errors.New("remaining tickets would exceed total")
	ErrBookingNotFound     = errors.New("booking not found")
	ErrBookingStateChanged = errors.New("booking is not in an expected status")
)

type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateUser(ctx context.Context, u *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUserRole(ctx context.Context, id string, role model.Role) error
	DeleteUser(ctx context.Context, id string) error

	CreateEvent(ctx context.Context, e *model.Event) error
	GetEventByID(ctx context.Context, id string) (*model.Event, error)
	ListEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error)
	UpdateEvent(ctx context.Context, e *model.Event) error
	DeleteEvent(ctx context.Context, id string) error

	ReserveTickets(ctx context.Context, eventID string, quantity int) (int, error)
	ReleaseTickets(ctx context.Context, eventID string, quantity int) (int, error)

	CreateBooking(ctx context.Context, b *model.Booking) error
	GetBookingByID(ctx context.Context, id string) (*model.Booking, error)
	GetBookingBySession(ctx context.Context, sessionID string) (*model.Booking, error)
	TransitionBooking(ctx context.Context, id string, from []model.BookingStatus, to model.BookingStatus) (*model.Booking, error)
	SetCheckoutSession(ctx context.Context, id, sessionID, url string) error
	SetPaymentIntent(ctx context.Context, id, paymentIntentID string) error
	ListBookingsByUser(ctx context.Context, userID string) ([]model.Booking, error)
	ListBookingsByEvent(ctx context.Context, eventID string) ([]model.Booking, error)
	ListBookings(ctx context.Context, limit, offset int) ([]model.Booking, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Booking, error)

	RecordPaymentEvent(ctx context.Context, id, eventType string) (bool, error)

	MigrateUp(ctx context.Context) error
	MigrateDown(ctx context.Context) error
}

type repository struct {
	db       *dbpg.DB
	log      *zerolog.Logger
	strategy retry.Strategy
}

func NewRepository(db *dbpg.DB, log *zerolog.Logger) (Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &repository{
		db:  db,
		log: log,
		strategy: retry.Strategy{
			Attempts: 3,
			Delay:    200 * time.Millisecond,
			Backoff:  2,
		},
	}, nil
}

func (r *repository) MigrateUp(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, r.db.Master, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	r.log.Info().Msg("migrations applied")
	return nil
}

func (r *repository) MigrateDown(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.ResetContext(ctx, r.db.Master, "."); err != nil {
		return fmt.Errorf("goose reset: %w", err)
	}
	r.log.Info().Msg("migrations rolled back")
	return nil
}

type txKey struct{}

// WithTx runs fn inside a transaction carried by the context. Calls nested in
// fn join the outer transaction.
func (r *repository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := r.db.Master.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func txFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// Writes go to the master and are never retried; a retried non-idempotent
// statement could apply twice.
func (r *repository) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return r.db.Master.ExecContext(ctx, query, args...)
}

func (r *repository) writeRow(ctx context.Context, query string, args ...any) *sql.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return r.db.Master.QueryRowContext(ctx, query, args...)
}

func (r *repository) queryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRowContext(ctx, query, args...), nil
	}
	return r.db.QueryRowWithRetry(ctx, r.strategy, query, args...)
}

func (r *repository) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return r.db.QueryWithRetry(ctx, r.strategy, query, args...)
}

func pgCode(err error) pq.ErrorCode {
	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

const (
	codeUniqueViolation     pq.ErrorCode = "23505"
	codeForeignKeyViolation pq.ErrorCode = "23503"
	codeCheckViolation      pq.ErrorCode = "23514"
	codeInvalidText         pq.ErrorCode = "22P02"
)

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || pgCode(err) == codeInvalidText
}

func statusStrings(statuses []model.BookingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"ticketing/internal/model"
)

const bookingColumns = `id, event_id, user_id, quantity, amount_cents, currency, status,
	checkout_session_id, checkout_url, payment_intent_id, expires_at, created_at, updated_at`

func scanBooking(row interface{ Scan(dest ...any) error }) (*model.Booking, error) {
	var (
		b         model.Booking
		sessionID sql.NullString
		expiresAt sql.NullTime
	)
	if err := row.Scan(
		&b.ID, &b.EventID, &b.UserID, &b.Quantity, &b.AmountCents, &b.Currency, &b.Status,
		&sessionID, &b.CheckoutURL, &b.PaymentIntentID, &expiresAt, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.CheckoutSessionID = sessionID.String
	if expiresAt.Valid {
		t := expiresAt.Time
		b.ExpiresAt = &t
	}
	return &b, nil
}

func scanBookings(rows *sql.Rows) ([]model.Booking, error) {
	defer rows.Close()

	var bookings []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

func (r *repository) CreateBooking(ctx context.Context, b *model.Booking) error {
	query := `
		INSERT INTO bookings (id, event_id, user_id, quantity, amount_cents, currency, status,
		                      checkout_session_id, checkout_url, payment_intent_id, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	var expiresAt sql.NullTime
	if b.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *b.ExpiresAt, Valid: true}
	}
	_, err := r.exec(ctx, query,
		b.ID, b.EventID, b.UserID, b.Quantity, b.AmountCents, b.Currency, b.Status,
		nullString(b.CheckoutSessionID), b.CheckoutURL, b.PaymentIntentID, expiresAt, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return fmt.Errorf("insert booking: %w", ErrEventNotFound)
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *repository) GetBookingByID(ctx context.Context, id string) (*model.Booking, error) {
	row, err := r.queryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	b, err := scanBooking(row)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("scan booking: %w", err)
	}
	return b, nil
}

func (r *repository) GetBookingBySession(ctx context.Context, sessionID string) (*model.Booking, error) {
	row, err := r.queryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE checkout_session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get booking by session: %w", err)
	}
	b, err := scanBooking(row)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("scan booking: %w", err)
	}
	return b, nil
}

// TransitionBooking moves the booking to status `to` only if it is currently
// in one of `from`. Concurrent transitions of the same booking serialize on
// the row lock and at most one of them matches.
func (r *repository) TransitionBooking(ctx context.Context, id string, from []model.BookingStatus, to model.BookingStatus) (*model.Booking, error) {
	query := `
		UPDATE bookings
		SET status = $2,
		    expires_at = CASE WHEN $2 = 'pending' THEN expires_at END,
		    updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
		RETURNING ` + bookingColumns

	b, err := scanBooking(r.writeRow(ctx, query, id, to, pq.Array(statusStrings(from))))
	if err == nil {
		return b, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("transition booking: %w", err)
	}
	if _, getErr := r.GetBookingByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrBookingStateChanged
}

func (r *repository) SetCheckoutSession(ctx context.Context, id, sessionID, url string) error {
	res, err := r.exec(ctx, `
		UPDATE bookings SET checkout_session_id = $2, checkout_url = $3, updated_at = NOW()
		WHERE id = $1
	`, id, nullString(sessionID), url)
	if err != nil {
		return fmt.Errorf("set checkout session: %w", err)
	}
	return expectOneRow(res, ErrBookingNotFound)
}

func (r *repository) SetPaymentIntent(ctx context.Context, id, paymentIntentID string) error {
	res, err := r.exec(ctx, `
		UPDATE bookings SET payment_intent_id = $2, updated_at = NOW()
		WHERE id = $1
	`, id, paymentIntentID)
	if err != nil {
		return fmt.Errorf("set payment intent: %w", err)
	}
	return expectOneRow(res, ErrBookingNotFound)
}

func (r *repository) ListBookingsByUser(ctx context.Context, userID string) ([]model.Booking, error) {
	rows, err := r.query(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list bookings by user: %w", err)
	}
	return scanBookings(rows)
}

func (r *repository) ListBookingsByEvent(ctx context.Context, eventID string) ([]model.Booking, error) {
	rows, err := r.query(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE event_id = $1 ORDER BY created_at ASC`, eventID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list bookings by event: %w", err)
	}
	return scanBookings(rows)
}

func (r *repository) ListBookings(ctx context.Context, limit, offset int) ([]model.Booking, error) {
	rows, err := r.query(ctx, `SELECT `+bookingColumns+` FROM bookings ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return scanBookings(rows)
}

func (r *repository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]model.Booking, error) {
	rows, err := r.query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at ASC
		LIMIT $3
	`, model.BookingStatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired pending: %w", err)
	}
	return scanBookings(rows)
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

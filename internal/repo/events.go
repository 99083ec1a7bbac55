package repo

import (
	"context"
	"fmt"
	"strings"

	"ticketing/internal/model"
)

const eventColumns = `id, organizer_id, title, description, venue, category, starts_at, ends_at,
	price_cents, currency, total_tickets, remaining_tickets, created_at, updated_at`

func scanEvent(row interface{ Scan(dest ...any) error }) (*model.Event, error) {
	var e model.Event
	if err := row.Scan(
		&e.ID, &e.OrganizerID, &e.Title, &e.Description, &e.Venue, &e.Category, &e.StartsAt, &e.EndsAt,
		&e.PriceCents, &e.Currency, &e.TotalTickets, &e.RemainingTickets, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *repository) CreateEvent(ctx context.Context, e *model.Event) error {
	query := `
		INSERT INTO events (id, organizer_id, title, description, venue, category, starts_at, ends_at,
		                    price_cents, currency, total_tickets, remaining_tickets, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.exec(ctx, query,
		e.ID, e.OrganizerID, e.Title, e.Description, e.Venue, e.Category, e.StartsAt, e.EndsAt,
		e.PriceCents, e.Currency, e.TotalTickets, e.RemainingTickets, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if pgCode(err) == codeForeignKeyViolation {
			return ErrUserNotFound
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (r *repository) GetEventByID(ctx context.Context, id string) (*model.Event, error) {
	row, err := r.queryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	e, err := scanEvent(row)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	return e, nil
}

func (r *repository) ListEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	var (
		where []string
		args  []any
	)
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.OrganizerID != "" {
		args = append(args, filter.OrganizerID)
		where = append(where, fmt.Sprintf("organizer_id = $%d", len(args)))
	}
	if filter.UpcomingOnly {
		where = append(where, "starts_at > NOW()")
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY starts_at ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.query(ctx, query, args...)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// UpdateEvent shifts remaining_tickets by the change in total_tickets in the
// same statement, so tickets already sold stay accounted for.
func (r *repository) UpdateEvent(ctx context.Context, e *model.Event) error {
	query := `
		UPDATE events
		SET title = $2, description = $3, venue = $4, category = $5, starts_at = $6, ends_at = $7,
		    price_cents = $8, currency = $9,
		    remaining_tickets = remaining_tickets + ($10 - total_tickets),
		    total_tickets = $10,
		    updated_at = NOW()
		WHERE id = $1 AND remaining_tickets + ($10 - total_tickets) >= 0
		RETURNING remaining_tickets, updated_at
	`
	err := r.writeRow(ctx, query,
		e.ID, e.Title, e.Description, e.Venue, e.Category, e.StartsAt, e.EndsAt,
		e.PriceCents, e.Currency, e.TotalTickets,
	).Scan(&e.RemainingTickets, &e.UpdatedAt)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("update event: %w", err)
	}
	if _, getErr := r.GetEventByID(ctx, e.ID); getErr != nil {
		return getErr
	}
	return ErrCapacityBelowSold
}

func (r *repository) DeleteEvent(ctx context.Context, id string) error {
	res, err := r.exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		switch {
		case pgCode(err) == codeForeignKeyViolation:
			return ErrEventHasBookings
		case isNotFound(err):
			return ErrEventNotFound
		}
		return fmt.Errorf("delete event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("event rows affected: %w", err)
	}
	if n == 0 {
		return ErrEventNotFound
	}
	return nil
}

// ReserveTickets takes quantity tickets from the event in one conditional
// update and returns what is left.
func (r *repository) ReserveTickets(ctx context.Context, eventID string, quantity int) (int, error) {
	query := `
		UPDATE events
		SET remaining_tickets = remaining_tickets - $2, updated_at = NOW()
		WHERE id = $1 AND remaining_tickets >= $2
		RETURNING remaining_tickets
	`
	var remaining int
	err := r.writeRow(ctx, query, eventID, quantity).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !isNotFound(err) {
		return 0, fmt.Errorf("reserve tickets: %w", err)
	}
	if _, getErr := r.GetEventByID(ctx, eventID); getErr != nil {
		return 0, getErr
	}
	return 0, ErrInsufficientTickets
}

func (r *repository) ReleaseTickets(ctx context.Context, eventID string, quantity int) (int, error) {
	query := `
		UPDATE events
		SET remaining_tickets = remaining_tickets + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING remaining_tickets
	`
	var remaining int
	err := r.writeRow(ctx, query, eventID, quantity).Scan(&remaining)
	if err != nil {
		switch {
		case pgCode(err) == codeCheckViolation:
			return 0, ErrInventoryOverflow
		case isNotFound(err):
			return 0, ErrEventNotFound
		}
		return 0, fmt.Errorf("release tickets: %w", err)
	}
	return remaining, nil
}

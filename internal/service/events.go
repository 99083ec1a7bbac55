package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ticketing/internal/model"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type EventInput struct {
	Title        string
	Description  string
	Venue        string
	Category     string
	StartsAt     time.Time
	EndsAt       time.Time
	PriceCents   int64
	Currency     string
	TotalTickets int
}

func (s *Service) normalizeEvent(in *EventInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	in.Currency = strings.ToLower(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = s.opts.Currency
	}
	if in.EndsAt.IsZero() {
		in.EndsAt = in.StartsAt
	}

	switch {
	case in.Title == "":
		return fmt.Errorf("%w: title is required", ErrValidation)
	case in.StartsAt.IsZero():
		return fmt.Errorf("%w: starts_at is required", ErrValidation)
	case in.EndsAt.Before(in.StartsAt):
		return fmt.Errorf("%w: ends_at is before starts_at", ErrValidation)
	case in.TotalTickets < 1:
		return fmt.Errorf("%w: total_tickets must be positive", ErrValidation)
	case in.PriceCents < 0:
		return fmt.Errorf("%w: price_cents cannot be negative", ErrValidation)
	case len(in.Currency) != 3:
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrValidation)
	}
	return nil
}

func (s *Service) CreateEvent(ctx context.Context, actor model.Actor, in EventInput) (*model.Event, error) {
	if err := requireRole(actor, model.RoleOrganizer, model.RoleAdmin); err != nil {
		return nil, err
	}
	if err := s.normalizeEvent(&in); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if !in.StartsAt.After(now) {
		return nil, fmt.Errorf("%w: starts_at must be in the future", ErrValidation)
	}

	event := &model.Event{
		ID:               uuid.New().String(),
		OrganizerID:      actor.UserID,
		Title:            in.Title,
		Description:      in.Description,
		Venue:            in.Venue,
		Category:         in.Category,
		StartsAt:         in.StartsAt.UTC(),
		EndsAt:           in.EndsAt.UTC(),
		PriceCents:       in.PriceCents,
		Currency:         in.Currency,
		TotalTickets:     in.TotalTickets,
		RemainingTickets: in.TotalTickets,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.CreateEvent(ctx, event); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("event_id", event.ID).
		Str("organizer_id", event.OrganizerID).
		Int("total_tickets", event.TotalTickets).
		Msg("event created")
	return event, nil
}

func (s *Service) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return s.repo.GetEventByID(ctx, id)
}

func (s *Service) ListEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	filter.Category = strings.ToLower(strings.TrimSpace(filter.Category))
	return s.repo.ListEvents(ctx, filter)
}

// ownedEvent loads an event the actor may manage.
func (s *Service) ownedEvent(ctx context.Context, actor model.Actor, id string) (*model.Event, error) {
	event, err := s.repo.GetEventByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.OrganizerID != actor.UserID && !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return event, nil
}

// UpdateEvent replaces the editable fields. Changing TotalTickets shifts
// RemainingTickets by the same amount and fails if fewer tickets would be
// left than are already held.
func (s *Service) UpdateEvent(ctx context.Context, actor model.Actor, id string, in EventInput) (*model.Event, error) {
	event, err := s.ownedEvent(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.normalizeEvent(&in); err != nil {
		return nil, err
	}

	event.Title = in.Title
	event.Description = in.Description
	event.Venue = in.Venue
	event.Category = in.Category
	event.StartsAt = in.StartsAt.UTC()
	event.EndsAt = in.EndsAt.UTC()
	event.PriceCents = in.PriceCents
	event.Currency = in.Currency
	event.TotalTickets = in.TotalTickets

	if err := s.repo.UpdateEvent(ctx, event); err != nil {
		return nil, err
	}
	s.log.Info().Str("event_id", event.ID).Str("by", actor.UserID).Msg("event updated")
	return event, nil
}

func (s *Service) DeleteEvent(ctx context.Context, actor model.Actor, id string) error {
	if _, err := s.ownedEvent(ctx, actor, id); err != nil {
		return err
	}
	if err := s.repo.DeleteEvent(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("event_id", id).Str("by", actor.UserID).Msg("event deleted")
	return nil
}

func (s *Service) ListEventBookings(ctx context.Context, actor model.Actor, id string) ([]model.Booking, error) {
	if _, err := s.ownedEvent(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.ListBookingsByEvent(ctx, id)
}

package model

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleOrganizer Role = "organizer"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleOrganizer, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         Role      `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type Event struct {
	ID               string    `db:"id" json:"id"`
	OrganizerID      string    `db:"organizer_id" json:"organizer_id"`
	Title            string    `db:"title" json:"title"`
	Description      string    `db:"description" json:"description,omitempty"`
	Venue            string    `db:"venue" json:"venue,omitempty"`
	Category         string    `db:"category" json:"category,omitempty"`
	StartsAt         time.Time `db:"starts_at" json:"starts_at"`
	EndsAt           time.Time `db:"ends_at" json:"ends_at"`
	PriceCents       int64     `db:"price_cents" json:"price_cents"`
	Currency         string    `db:"currency" json:"currency"`
	TotalTickets     int       `db:"total_tickets" json:"total_tickets"`
	RemainingTickets int       `db:"remaining_tickets" json:"remaining_tickets"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Free events skip checkout and are confirmed on booking.
func (e *Event) Free() bool {
	return e.PriceCents == 0
}

func (e *Event) Started(now time.Time) bool {
	return !e.StartsAt.After(now)
}

type EventFilter struct {
	Category     string
	OrganizerID  string
	UpcomingOnly bool
	Limit        int
	Offset       int
}

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusExpired   BookingStatus = "expired"
	BookingStatusRefunded  BookingStatus = "refunded"
)

// ActiveStatuses are the statuses that hold inventory.
var ActiveStatuses = []BookingStatus{BookingStatusPending, BookingStatusConfirmed}

func (s BookingStatus) Active() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

type Booking struct {
	ID                string        `db:"id" json:"id"`
	EventID           string        `db:"event_id" json:"event_id"`
	UserID            string        `db:"user_id" json:"user_id"`
	Quantity          int           `db:"quantity" json:"quantity"`
	AmountCents       int64         `db:"amount_cents" json:"amount_cents"`
	Currency          string        `db:"currency" json:"currency"`
	Status            BookingStatus `db:"status" json:"status"`
	CheckoutSessionID string        `db:"checkout_session_id" json:"checkout_session_id,omitempty"`
	CheckoutURL       string        `db:"checkout_url" json:"checkout_url,omitempty"`
	PaymentIntentID   string        `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	ExpiresAt         *time.Time    `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

func (b *Booking) Paid() bool {
	return b.AmountCents > 0
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID string
	Role   Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type PaymentKind string

const (
	PaymentKindCompleted PaymentKind = "completed"
	PaymentKindExpired   PaymentKind = "expired"
	PaymentKindIgnored   PaymentKind = "ignored"
)

// PaymentNotification is a verified webhook delivery from the payment provider.
type PaymentNotification struct {
	ID              string
	Type            string
	Kind            PaymentKind
	SessionID       string
	BookingID       string
	PaymentIntentID string
	Paid            bool
}

type CheckoutSession struct {
	ID  string
	URL string
}

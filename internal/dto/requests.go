package dto

import "time"

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type EventRequest struct {
	Title        string    `json:"title" validate:"required,max=255"`
	Description  string    `json:"description" validate:"max=5000"`
	Venue        string    `json:"venue" validate:"max=255"`
	Category     string    `json:"category" validate:"max=64"`
	StartsAt     time.Time `json:"starts_at" validate:"required"`
	EndsAt       time.Time `json:"ends_at"`
	PriceCents   int64     `json:"price_cents" validate:"gte=0"`
	Currency     string    `json:"currency" validate:"omitempty,currency"`
	TotalTickets int       `json:"total_tickets" validate:"positive"`
}

type BookRequest struct {
	Quantity int `json:"quantity" validate:"positive"`
}

type ChangeRoleRequest struct {
	Role string `json:"role" validate:"required,role"`
}

type ListEventsQuery struct {
	Category    string `form:"category"`
	OrganizerID string `form:"organizer_id"`
	Upcoming    bool   `form:"upcoming"`
	Limit       int    `form:"limit" validate:"gte=0,lte=200"`
	Offset      int    `form:"offset" validate:"gte=0"`
}

type PageQuery struct {
	Limit  int `form:"limit" validate:"gte=0,lte=200"`
	Offset int `form:"offset" validate:"gte=0"`
}

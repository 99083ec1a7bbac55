package dto

import "time"

// ExpiryMessage is published with a delay when a paid booking is created and
// consumed once its hold should have run out.
type ExpiryMessage struct {
	BookingID string    `json:"booking_id"`
	EventID   string    `json:"event_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

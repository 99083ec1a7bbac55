package repo

import (
	"context"
	"fmt"
)

// RecordPaymentEvent remembers a provider event id and reports whether it was
// seen for the first time.
func (r *repository) RecordPaymentEvent(ctx context.Context, id, eventType string) (bool, error) {
	res, err := r.exec(ctx, `
		INSERT INTO payment_events (id, type) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, id, eventType)
	if err != nil {
		return false, fmt.Errorf("record payment event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("payment event rows affected: %w", err)
	}
	return n == 1, nil
}

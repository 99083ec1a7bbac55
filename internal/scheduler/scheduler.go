package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type staleExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// Scheduler periodically expires holds whose delayed message never arrived.
type Scheduler struct {
	bookings staleExpirer
	interval time.Duration
	log      *zerolog.Logger
}

func New(bookings staleExpirer, interval time.Duration, log *zerolog.Logger) *Scheduler {
	return &Scheduler{
		bookings: bookings,
		interval: interval,
		log:      log,
	}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	n, err := s.bookings.ExpireStale(ctx)
	if err != nil {
		s.log.Error().Err(err).Int("expired", n).Msg("failed to expire stale bookings")
		return
	}
	if n > 0 {
		s.log.Info().Int("expired", n).Msg("stale bookings expired")
	}
}

package consumerWorker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"ticketing/internal/dto"
	"ticketing/internal/repo"
)

type Consumer interface {
	Consume(handler func([]byte) error) error
}

type Expirer interface {
	Expire(ctx context.Context, bookingID string) (bool, error)
}

// Reader turns delayed expiry messages into booking expirations.
type Reader struct {
	RMQ     Consumer
	expirer Expirer
	log     *zerolog.Logger
	backoff time.Duration
	done    chan struct{}
	cancel  context.CancelFunc
}

func NewReader(rmq Consumer, expirer Expirer, log *zerolog.Logger) *Reader {
	return &Reader{
		RMQ:     rmq,
		expirer: expirer,
		log:     log,
		backoff: time.Second,
		done:    make(chan struct{}),
	}
}

func (r *Reader) Start(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.log.Info().Msg("expiry reader started")

	go func() {
		defer close(r.done)

		handler := func(body []byte) error {
			return r.handle(cctx, body)
		}
		if err := r.RMQ.Consume(handler); err != nil {
			r.log.Error().Err(err).Msg("failed to start consuming")
			return
		}

		<-cctx.Done()
		r.log.Info().Msg("expiry reader stopped by context")
	}()
}

// handle returns an error only for failures worth redelivering.
func (r *Reader) handle(ctx context.Context, body []byte) error {
	var msg dto.ExpiryMessage
	if err := json.Unmarshal(body, &msg); err != nil || msg.BookingID == "" {
		r.log.Error().
			Err(err).
			Str("body", string(body)).
			Msg("dropping malformed expiry message")
		return nil
	}

	expired, err := r.expirer.Expire(ctx, msg.BookingID)
	switch {
	case errors.Is(err, repo.ErrBookingNotFound):
		r.log.Warn().Str("booking_id", msg.BookingID).Msg("expiry for unknown booking")
		return nil
	case err != nil:
		r.log.Error().
			Err(err).
			Str("booking_id", msg.BookingID).
			Msg("failed to expire booking, requeueing")
		// slow down redelivery while the database is unhappy
		select {
		case <-time.After(r.backoff):
		case <-ctx.Done():
		}
		return err
	}

	if expired {
		r.log.Info().
			Str("booking_id", msg.BookingID).
			Str("event_id", msg.EventID).
			Msg("booking expired")
	} else {
		r.log.Debug().
			Str("booking_id", msg.BookingID).
			Msg("booking already settled, nothing to expire")
	}
	return nil
}

func (r *Reader) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

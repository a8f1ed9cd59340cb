package sink

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/plantpi/internal/model"
)

// Breaker fails fast while the wrapped sink keeps failing. An open breaker
// returns gobreaker.ErrOpenState and the reading is dropped like any other
// failed write.
type Breaker struct {
	next Sink
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker opens after `failures` consecutive errors and probes again
// after openFor.
func NewBreaker(next Sink, failures int, openFor time.Duration, log zerolog.Logger) *Breaker {
	if failures <= 0 {
		failures = 5
	}
	st := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(failures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("sink", name).Str("from", from.String()).Str("to", to.String()).Msg("sink breaker state changed")
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *Breaker) Name() string { return b.next.Name() }

func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) Write(ctx context.Context, r model.Reading) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Write(ctx, r)
	})
	return err
}

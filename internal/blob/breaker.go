package blob

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// Guarded fails uploads fast while the backend keeps failing. Listing and
// URLs pass straight through.
type Guarded struct {
	Uploader
	cb *gobreaker.CircuitBreaker
}

func WithBreaker(u Uploader, failures int, openFor time.Duration) *Guarded {
	if failures <= 0 {
		failures = 5
	}
	return &Guarded{
		Uploader: u,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "blob",
			MaxRequests: 1,
			Timeout:     openFor,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= uint32(failures) },
		}),
	}
}

func (g *Guarded) Upload(ctx context.Context, name string, data []byte) (string, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.Uploader.Upload(ctx, name, data)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

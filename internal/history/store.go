// Package history keeps the append-only log of sensor readings and answers
// the latest, windowed history and rollup queries served over HTTP.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/plantpi/internal/model"
)

var (
	ErrNotFound      = errors.New("no reading")
	ErrUnknownStream = errors.New("unknown stream")
	ErrSinkWrite     = errors.New("sink write failed")
)

// Store is an append-only reading log partitioned by stream. Range bounds
// are inclusive and the result order is unspecified.
type Store interface {
	Append(ctx context.Context, r model.Reading) error
	Range(ctx context.Context, stream string, start, end time.Time) ([]model.Reading, error)
	Latest(ctx context.Context, stream string) (model.Reading, bool, error)
	Streams(ctx context.Context) ([]string, error)
}

// InputError reports a malformed query parameter.
type InputError struct {
	Param string
	Value string
	Err   error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Param, e.Value, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

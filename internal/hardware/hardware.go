// Package hardware holds the device drivers the collectors read from.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

var (
	// ErrNoData means the device answered nothing usable this time. It is
	// not a fault: the caller skips the write.
	ErrNoData = errors.New("no data")
	ErrBusy   = errors.New("device busy")
)

type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Sensor returns one metric group, e.g. {"temperature", "humidity"}.
type Sensor interface {
	Read(ctx context.Context) (map[string]float64, error)
}

// deviceLock serialises access to one device inside the process and, with
// a lock file, against other processes on the Pi. Waiting for either gives
// up when ctx is done.
type deviceLock struct {
	slot chan struct{}
	file *flock.Flock
}

func newDeviceLock(path string) *deviceLock {
	l := &deviceLock{slot: make(chan struct{}, 1)}
	if path != "" {
		l.file = flock.New(path)
	}
	return l
}

func (l *deviceLock) acquire(ctx context.Context) (func(), error) {
	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
	}
	unlock := func() { <-l.slot }
	if l.file == nil {
		return unlock, nil
	}
	ok, err := l.file.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !ok {
		unlock()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrBusy, l.file.Path(), err)
	}
	return func() {
		_ = l.file.Unlock()
		unlock()
	}, nil
}

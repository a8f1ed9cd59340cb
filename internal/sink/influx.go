package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/LeonardoBeccarini/plantpi/internal/model"
)

// InfluxSink writes one point per reading with the blocking write API.
type InfluxSink struct {
	api     api.WriteAPIBlocking
	timeout time.Duration
}

func NewInfluxSink(w api.WriteAPIBlocking, timeout time.Duration) *InfluxSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &InfluxSink{api: w, timeout: timeout}
}

func (s *InfluxSink) Name() string { return "influx" }

func (s *InfluxSink) Write(ctx context.Context, r model.Reading) error {
	if len(r.Fields) == 0 {
		return fmt.Errorf("influx: reading for %s has no fields", r.Stream)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.api.WritePoint(ctx, ReadingToPoint(r)); err != nil {
		return fmt.Errorf("influx write %s: %w", r.Stream, err)
	}
	return nil
}

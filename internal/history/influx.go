package history

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"

	"github.com/LeonardoBeccarini/plantpi/internal/model"
	"github.com/LeonardoBeccarini/plantpi/internal/sink"
)

// InfluxStore uses an InfluxDB bucket as the history log. Appends go
// through the same point mapping as sink.InfluxSink.
type InfluxStore struct {
	write   *sink.InfluxSink
	query   api.QueryAPI
	bucket  string
	timeout time.Duration
}

func NewInfluxStore(w api.WriteAPIBlocking, q api.QueryAPI, bucket string, timeout time.Duration) *InfluxStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &InfluxStore{write: sink.NewInfluxSink(w, timeout), query: q, bucket: bucket, timeout: timeout}
}

func (s *InfluxStore) Append(ctx context.Context, r model.Reading) error {
	return s.write.Write(ctx, r)
}

// range() excludes stop, so the upper bound is pushed out by 1ns to keep
// it inclusive.
func buildRangeFlux(bucket, stream string, start, end time.Time) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r.stream == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"], desc: true)
`, bucket, start.UTC().Format(time.RFC3339Nano), end.Add(time.Nanosecond).UTC().Format(time.RFC3339Nano), sink.Measurement, stream)
}

func buildLatestFlux(bucket, stream string) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: 0)
  |> filter(fn: (r) => r._measurement == %q and r.stream == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time"], desc: true)
  |> limit(n:1)
`, bucket, sink.Measurement, stream)
}

func buildStreamsFlux(bucket string) string {
	return fmt.Sprintf(`
import "influxdata/influxdb/schema"
schema.tagValues(bucket: %q, tag: "stream", predicate: (r) => r._measurement == %q, start: 0)
`, bucket, sink.Measurement)
}

// recordToReading reads a pivoted row: every non-system column holding a
// number is a field.
func recordToReading(stream string, rec *query.FluxRecord) (model.Reading, bool) {
	fields := map[string]float64{}
	for k, v := range rec.Values() {
		if strings.HasPrefix(k, "_") || k == "result" || k == "table" || k == "stream" {
			continue
		}
		if f, ok := toFloat(v); ok {
			fields[k] = f
		}
	}
	if len(fields) == 0 {
		return model.Reading{}, false
	}
	return model.Reading{Stream: stream, Time: rec.Time().UTC(), Fields: fields}, true
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func (s *InfluxStore) run(ctx context.Context, flux string, each func(*query.FluxRecord)) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.query.Query(ctx, flux)
	if err != nil {
		return fmt.Errorf("influx query: %w", err)
	}
	defer func() { _ = res.Close() }()

	for res.Next() {
		each(res.Record())
	}
	if err := res.Err(); err != nil {
		return fmt.Errorf("influx iterate: %w", err)
	}
	return nil
}

func (s *InfluxStore) Range(ctx context.Context, stream string, start, end time.Time) ([]model.Reading, error) {
	var out []model.Reading
	err := s.run(ctx, buildRangeFlux(s.bucket, stream, start, end), func(rec *query.FluxRecord) {
		if r, ok := recordToReading(stream, rec); ok {
			out = append(out, r)
		}
	})
	return out, err
}

func (s *InfluxStore) Latest(ctx context.Context, stream string) (model.Reading, bool, error) {
	var (
		out   model.Reading
		found bool
	)
	err := s.run(ctx, buildLatestFlux(s.bucket, stream), func(rec *query.FluxRecord) {
		if found {
			return
		}
		out, found = recordToReading(stream, rec)
	})
	return out, found, err
}

func (s *InfluxStore) Streams(ctx context.Context) ([]string, error) {
	var out []string
	err := s.run(ctx, buildStreamsFlux(s.bucket), func(rec *query.FluxRecord) {
		if v, ok := rec.Value().(string); ok && v != "" {
			out = append(out, v)
		}
	})
	sort.Strings(out)
	return out, err
}

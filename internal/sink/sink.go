// Package sink forwards appended readings to remote systems. A sink never
// retries: a failed write is returned to the caller and dropped.
package sink

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/plantpi/internal/model"
)

// Measurement is the single InfluxDB measurement every reading lands in.
const Measurement = "reading"

type Sink interface {
	Name() string
	Write(ctx context.Context, r model.Reading) error
}

// ReadingToPoint maps a reading to one point: the stream key becomes the
// "stream" tag and every metric a float field.
func ReadingToPoint(r model.Reading) *write.Point {
	tags := map[string]string{"stream": r.Stream}
	fields := make(map[string]interface{}, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return influxdb2.NewPoint(Measurement, tags, fields, r.Time)
}

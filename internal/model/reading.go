package model

import (
	"sort"
	"strconv"
	"time"
)

// Reading is one observation from one sensor stream. It is never mutated
// after it has been appended to the history.
type Reading struct {
	Stream string             `json:"stream"` // e.g. "Plant1-Moisture"
	Time   time.Time          `json:"time"`
	Fields map[string]float64 `json:"fields"` // metric name -> value
}

// NewReading copies fields so later changes by the caller cannot leak in.
func NewReading(stream string, t time.Time, fields map[string]float64) Reading {
	cp := make(map[string]float64, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Reading{Stream: stream, Time: t, Fields: cp}
}

// Epoch returns the timestamp as floating seconds since the Unix epoch.
func (r Reading) Epoch() float64 {
	return float64(r.Time.Unix()) + float64(r.Time.Nanosecond())/float64(time.Second)
}

// RowKey is the stringified epoch timestamp used as the table row key.
func (r Reading) RowKey() string {
	return strconv.FormatFloat(r.Epoch(), 'f', 6, 64)
}

// Has reports whether the reading carries the given field.
func (r Reading) Has(field string) bool {
	_, ok := r.Fields[field]
	return ok
}

// FieldNames returns the metric names in a stable order.
func (r Reading) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// SortNewestFirst orders readings by timestamp, newest first. Equal
// timestamps keep their append order.
func SortNewestFirst(rs []Reading) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Time.After(rs[j].Time) })
}

package messages

import (
	"time"
)

// ReadingEnvelope is what the MQTT sink publishes for every appended reading.
type ReadingEnvelope struct {
	ID     string             `json:"id"` // uuid, lets consumers drop redeliveries
	Stream string             `json:"stream"`
	RowKey string             `json:"row_key"`
	Fields map[string]float64 `json:"fields"`
	Time   time.Time          `json:"time"`
}

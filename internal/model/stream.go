package model

import "time"

// StreamKind decides the default history window and derived fields.
type StreamKind string

const (
	KindMoisture    StreamKind = "moisture"
	KindTemperature StreamKind = "temperature"
	KindLight       StreamKind = "light"
)

const (
	StatusDry = "dry"
	StatusOK  = "ok"
)

// StreamConfig describes one stream of readings.
type StreamConfig struct {
	Key       string        `yaml:"key" json:"key"`                       // partition key, e.g. "Plant2-Moisture"
	Kind      StreamKind    `yaml:"kind" json:"kind"`                     // moisture | temperature | light
	Field     string        `yaml:"field" json:"field"`                   // metric a history row must carry
	Subject   int           `yaml:"subject" json:"subject,omitempty"`     // plant id, moisture streams only
	Threshold float64       `yaml:"threshold" json:"threshold,omitempty"` // dry threshold override, 0 = default
	Window    time.Duration `yaml:"window" json:"window,omitempty"`       // default history window override
}

// RequiredField falls back to the kind name ("moisture", "temperature", "light").
func (s StreamConfig) RequiredField() string {
	if s.Field != "" {
		return s.Field
	}
	return string(s.Kind)
}

// DefaultWindow is the history span used when the caller gives no range.
func (s StreamConfig) DefaultWindow() time.Duration {
	if s.Window > 0 {
		return s.Window
	}
	if s.Kind == KindLight {
		return time.Hour
	}
	return 7 * 24 * time.Hour
}

// MoistureStatus compares strictly: a value equal to the threshold is "ok".
func MoistureStatus(moisture, threshold float64) string {
	if moisture < threshold {
		return StatusDry
	}
	return StatusOK
}

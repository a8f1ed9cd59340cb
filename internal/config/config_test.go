package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/plantpi/internal/model"
)

const sample = `
station:
  image_dir: /var/lib/plantpi/images
jobs:
  capture_interval: 30s
  capture_subjects: [1, 2]
streams:
  - key: Plant1-Moisture
    kind: moisture
    subject: 1
    threshold: 600
  - key: Plant2-Moisture
    kind: moisture
    subject: 2
    threshold: 500
  - key: LightLevel
    kind: light
history:
  backend: sql
  sql:
    driver: sqlite
    sqlite:
      path: /tmp/history.db
hardware:
  driver: pi
  moisture:
    - subject: 2
      serial:
        port: /dev/ttyACM0
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Jobs.CaptureInterval)
	assert.Equal(t, time.Minute, cfg.Jobs.EnvironmentInterval)
	assert.Equal(t, []int{1, 2}, cfg.Jobs.CaptureSubjects)
	assert.Equal(t, "/var/lib/plantpi/images", cfg.Station.ImageDir)
	assert.Equal(t, 10*time.Second, cfg.Station.RequestTimeout)

	require.Len(t, cfg.Streams, 3)
	assert.Equal(t, "moisture", cfg.Streams[0].Field)
	assert.Equal(t, "light", cfg.Streams[2].Field)

	s, ok := streamFor(cfg, model.KindMoisture, 2)
	require.True(t, ok)
	assert.Equal(t, 500.0, s.Threshold)

	probe := cfg.Hardware.Moisture[0].Serial
	assert.Equal(t, 9600, probe.Baud)
	assert.Equal(t, "R", probe.Request)
	assert.Equal(t, time.Second, probe.ReadTimeout)
	assert.Equal(t, "/tmp/history.db", cfg.History.SQL.DSN())
}

func TestParseDefaultsStreams(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)
	_, ok := streamFor(cfg, model.KindTemperature, 0)
	assert.True(t, ok)
	_, ok = streamFor(cfg, model.KindLight, 0)
	assert.True(t, ok)
	_, ok = streamFor(cfg, model.KindMoisture, 1)
	assert.True(t, ok)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("INFLUX_TOKEN", "secret")
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("AZURE_STORAGE_CONNECTION_STRING", "DefaultEndpointsProtocol=https;AccountName=x")
	t.Setenv("MQTT_ENABLED", "true")

	cfg, err := Parse([]byte("blob:\n  backend: azure\n"))
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.Influx.Token)
	assert.Equal(t, 8883, cfg.MQTT.Port)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "trial", cfg.Blob.Azure.Container)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"duplicate stream": "streams:\n  - {key: a, kind: light}\n  - {key: a, kind: light}\n",
		"bad kind":         "streams:\n  - {key: a, kind: wind}\n",
		"bad backend":      "history:\n  backend: redis\n",
		"bad interval":     "jobs:\n  capture_interval: 0s\n",
		"azure no conn":    "blob:\n  backend: azure\n",
		"bad driver":       "hardware:\n  driver: arduino\n",
		"limits":           "history:\n  default_limit: 50\n  max_limit: 10\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(sample), 0o644))
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "pi", cfg.Hardware.Driver)
}

func streamFor(cfg *Config, kind model.StreamKind, subject int) (model.StreamConfig, bool) {
	for _, s := range cfg.Streams {
		if s.Kind == kind && (subject == 0 || s.Subject == subject) {
			return s, true
		}
	}
	return model.StreamConfig{}, false
}

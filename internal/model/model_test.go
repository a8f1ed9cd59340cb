package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMoistureStatus(t *testing.T) {
	assert.Equal(t, StatusDry, MoistureStatus(250, 300))
	assert.Equal(t, StatusOK, MoistureStatus(450, 300))
	assert.Equal(t, StatusOK, MoistureStatus(300, 300))
}

func TestDefaultWindow(t *testing.T) {
	assert.Equal(t, 7*24*time.Hour, StreamConfig{Kind: KindMoisture}.DefaultWindow())
	assert.Equal(t, 7*24*time.Hour, StreamConfig{Kind: KindTemperature}.DefaultWindow())
	assert.Equal(t, time.Hour, StreamConfig{Kind: KindLight}.DefaultWindow())
	assert.Equal(t, 2*time.Hour, StreamConfig{Kind: KindLight, Window: 2 * time.Hour}.DefaultWindow())
}

func TestRowKey(t *testing.T) {
	r := Reading{Time: time.Unix(1714200000, 250000000)}
	assert.Equal(t, "1714200000.250000", r.RowKey())
	assert.InDelta(t, 1714200000.25, r.Epoch(), 1e-6)
}

func TestNewReadingCopiesFields(t *testing.T) {
	f := map[string]float64{"light": 733}
	r := NewReading("LightLevel", time.Now(), f)
	f["light"] = 1
	assert.Equal(t, 733.0, r.Fields["light"])
	assert.True(t, r.Has("light"))
	assert.False(t, r.Has("moisture"))
}

func TestSortNewestFirst(t *testing.T) {
	base := time.Unix(1000, 0)
	rs := []Reading{{Time: base}, {Time: base.Add(2 * time.Second)}, {Time: base.Add(time.Second)}}
	SortNewestFirst(rs)
	assert.Equal(t, base.Add(2*time.Second), rs[0].Time)
	assert.Equal(t, base, rs[2].Time)
}

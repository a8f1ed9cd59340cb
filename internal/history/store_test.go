package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/plantpi/internal/config"
	"github.com/LeonardoBeccarini/plantpi/internal/model"
)

func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 8, 0, 0, 123456000, time.UTC)

	for i, v := range []float64{410, 420, 430} {
		r := model.NewReading("Plant1-Moisture", base.Add(time.Duration(i)*time.Minute), map[string]float64{"moisture": v})
		require.NoError(t, st.Append(ctx, r))
	}
	require.NoError(t, st.Append(ctx, model.NewReading("LightLevel", base, map[string]float64{"light": 733})))

	rs, err := st.Range(ctx, "Plant1-Moisture", base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, rs, 2, "both bounds are inclusive")
	for _, r := range rs {
		assert.Equal(t, "Plant1-Moisture", r.Stream)
	}

	latest, ok, err := st.Latest(ctx, "Plant1-Moisture")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 430.0, latest.Fields["moisture"])
	assert.True(t, latest.Time.Equal(base.Add(2*time.Minute)))
	assert.Equal(t, model.NewReading("x", base.Add(2*time.Minute), nil).RowKey(), latest.RowKey())

	_, ok, err = st.Latest(ctx, "Plant9-Moisture")
	require.NoError(t, err)
	assert.False(t, ok)

	streams, err := st.Streams(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"LightLevel", "Plant1-Moisture"}, streams)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreLatestTieKeepsLastAppended(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	at := time.Unix(1700000000, 0)
	require.NoError(t, st.Append(ctx, model.NewReading("LightLevel", at, map[string]float64{"light": 1})))
	require.NoError(t, st.Append(ctx, model.NewReading("LightLevel", at, map[string]float64{"light": 2})))
	r, ok, err := st.Latest(ctx, "LightLevel")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.0, r.Fields["light"])
}

func TestSQLStoreSQLite(t *testing.T) {
	db, err := Open(config.SQLConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "history.db")},
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	exerciseStore(t, NewSQLStore(db))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.SQLConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestBuildRangeFlux(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	q := buildRangeFlux("readings", "LightLevel", start, end)
	assert.Contains(t, q, `from(bucket: "readings")`)
	assert.Contains(t, q, "range(start: 2024-06-01T00:00:00Z, stop: 2024-06-01T01:00:00.000000001Z)")
	assert.Contains(t, q, `r.stream == "LightLevel"`)
	assert.Contains(t, q, "desc: true")

	assert.Contains(t, buildLatestFlux("readings", "LightLevel"), "limit(n:1)")
	assert.Contains(t, buildStreamsFlux("readings"), `tag: "stream"`)
}

func TestRecordToReading(t *testing.T) {
	at := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rec := query.NewFluxRecord(0, map[string]interface{}{
		"_time":        at,
		"_start":       at.Add(-time.Hour),
		"_measurement": "reading",
		"result":       "_result",
		"table":        int64(0),
		"stream":       "Environment-Temp",
		"temperature":  21.4,
		"humidity":     int64(55),
	})
	r, ok := recordToReading("Environment-Temp", rec)
	require.True(t, ok)
	assert.True(t, r.Time.Equal(at))
	assert.Equal(t, map[string]float64{"temperature": 21.4, "humidity": 55}, r.Fields)

	_, ok = recordToReading("Environment-Temp", query.NewFluxRecord(0, map[string]interface{}{"_time": at}))
	assert.False(t, ok)
}

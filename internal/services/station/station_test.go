package station

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/plantpi/internal/blob"
	"github.com/LeonardoBeccarini/plantpi/internal/config"
	"github.com/LeonardoBeccarini/plantpi/internal/hardware"
	"github.com/LeonardoBeccarini/plantpi/internal/history"
	"github.com/LeonardoBeccarini/plantpi/internal/model"
	"github.com/LeonardoBeccarini/plantpi/pkg/dedup"
	"github.com/LeonardoBeccarini/plantpi/pkg/scheduler"
)

var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

var frame = []byte{0xFF, 0xD8, 0xFF, 0xE0, 'j', 'p', 'g'}

type cameraFunc func(ctx context.Context) ([]byte, error)

func (f cameraFunc) Capture(ctx context.Context) ([]byte, error) { return f(ctx) }

func fixed(fields map[string]float64, err error) hardware.Sensor {
	return hardware.SensorFunc(func(context.Context) (map[string]float64, error) { return fields, err })
}

type captureCounter struct{ ok, failed atomic.Int32 }

func (c *captureCounter) Capture(status string) {
	if status == model.CaptureSuccess {
		c.ok.Add(1)
		return
	}
	c.failed.Add(1)
}

type fixture struct {
	st      *Station
	hist    *history.Service
	sched   *scheduler.Scheduler
	images  string
	archive string
	rec     *captureCounter
}

func newFixture(t *testing.T, rig *hardware.Rig) *fixture {
	t.Helper()
	streams := []model.StreamConfig{
		{Key: "Plant1-Moisture", Kind: model.KindMoisture, Field: "moisture", Subject: 1},
		{Key: "Environment-Temp", Kind: model.KindTemperature, Field: "temperature"},
		{Key: "LightLevel", Kind: model.KindLight, Field: "light"},
	}
	clock := func() time.Time { return now }
	hist := history.NewService(history.NewMemoryStore(), history.NewStreams(streams),
		history.Options{Now: clock, Location: time.UTC})

	f := &fixture{
		hist:    hist,
		sched:   scheduler.New(),
		images:  t.TempDir(),
		archive: t.TempDir(),
		rec:     &captureCounter{},
	}
	f.st = New(rig, hist, blob.NewDirUploader(f.archive, "/archive"), f.sched, Options{
		ImageDir: f.images,
		Subjects: []int{1, 2},
		Recorder: f.rec,
		Now:      clock,
		Logger:   zerolog.Nop(),
	})
	return f
}

func TestCaptureStoresLatestAndArchive(t *testing.T) {
	rig := &hardware.Rig{Camera: cameraFunc(func(context.Context) ([]byte, error) { return frame, nil })}
	f := newFixture(t, rig)

	res, err := f.st.Capture(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.CaptureSuccess, res.Status)
	assert.Equal(t, "/archive/plant_1_20240610_120000.jpg", res.ImageURL)

	latest, err := os.ReadFile(filepath.Join(f.images, "plant_1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, frame, latest)

	archived, err := os.ReadFile(filepath.Join(f.archive, "plant_1_20240610_120000.jpg"))
	require.NoError(t, err)
	assert.Equal(t, frame, archived)
	assert.Equal(t, int32(1), f.rec.ok.Load())
}

func TestCameraFailureWritesNothing(t *testing.T) {
	rig := &hardware.Rig{Camera: cameraFunc(func(context.Context) ([]byte, error) {
		return nil, errors.New("camera busy")
	})}
	f := newFixture(t, rig)

	res, err := f.st.Capture(context.Background(), 2)
	assert.Error(t, err)
	assert.Equal(t, model.CaptureError, res.Status)
	assert.Equal(t, "could not capture image", res.Message)

	for _, dir := range []string{f.images, f.archive} {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
	assert.Equal(t, int32(1), f.rec.failed.Load())
	assert.False(t, f.sched.Running(CaptureJob(2)))
}

func TestConcurrentCaptureIsRejected(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	rig := &hardware.Rig{Camera: cameraFunc(func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return frame, nil
	})}
	f := newFixture(t, rig)

	done := make(chan error, 1)
	go func() {
		_, err := f.st.Capture(context.Background(), 1)
		done <- err
	}()
	require.Eventually(t, func() bool { return f.sched.Running(CaptureJob(1)) }, time.Second, time.Millisecond)

	res, err := f.st.Capture(context.Background(), 1)
	assert.ErrorIs(t, err, scheduler.ErrAlreadyRunning)
	assert.Equal(t, "capture already running", res.Message)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCaptureRejectsUnknownSubject(t *testing.T) {
	var calls atomic.Int32
	rig := &hardware.Rig{Camera: cameraFunc(func(context.Context) ([]byte, error) {
		calls.Add(1)
		return frame, nil
	})}
	f := newFixture(t, rig)

	for id := 3; id < 100; id++ {
		res, err := f.st.Capture(context.Background(), id)
		assert.ErrorIs(t, err, ErrUnknownSubject)
		assert.Equal(t, model.CaptureError, res.Status)
	}
	assert.Zero(t, calls.Load())
	assert.Empty(t, f.sched.Jobs())
	assert.False(t, f.sched.Running(CaptureJob(3)))
}

func TestIngestRejectsEmptyImage(t *testing.T) {
	f := newFixture(t, &hardware.Rig{})
	_, err := f.st.Ingest(context.Background(), 3, nil)
	assert.Error(t, err)

	res, err := f.st.Ingest(context.Background(), 3, frame)
	require.NoError(t, err)
	assert.Equal(t, "/archive/plant_3_20240610_120000.jpg", res.ImageURL)
}

func TestLogEnvironmentWritesGroupsIndependently(t *testing.T) {
	rig := &hardware.Rig{
		Climate: fixed(nil, errors.New("dht checksum")),
		Light:   fixed(map[string]float64{"light": 512}, nil),
	}
	f := newFixture(t, rig)
	ctx := context.Background()

	err := f.st.LogEnvironment(ctx)
	assert.ErrorContains(t, err, "dht checksum")

	light, err := f.hist.History(ctx, "LightLevel", "", "", 0)
	require.NoError(t, err)
	require.Len(t, light, 1)
	assert.Equal(t, 512.0, light[0].Fields["light"])

	_, err = f.hist.Latest(ctx, "Environment-Temp")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestNoDataIsSkipped(t *testing.T) {
	rig := &hardware.Rig{
		Climate: fixed(map[string]float64{"temperature": 21.5, "humidity": 40}, nil),
		Light:   fixed(nil, hardware.ErrNoData),
	}
	f := newFixture(t, rig)
	ctx := context.Background()

	require.NoError(t, f.st.LogEnvironment(ctx))

	snap, err := f.hist.Latest(ctx, "Environment-Temp")
	require.NoError(t, err)
	assert.Equal(t, 21.5, snap.Fields["temperature"])
	assert.Equal(t, 40.0, snap.Fields["humidity"])

	_, err = f.hist.Latest(ctx, "LightLevel")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestLogMoisture(t *testing.T) {
	rig := &hardware.Rig{Moisture: map[int]hardware.Sensor{1: fixed(map[string]float64{"moisture": 250}, nil)}}
	f := newFixture(t, rig)
	ctx := context.Background()

	require.NoError(t, f.st.LogMoisture(ctx, 1))
	snap, err := f.hist.Latest(ctx, "Plant1-Moisture")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDry, snap.Status)

	assert.Error(t, f.st.LogMoisture(ctx, 9))
}

func TestRegisterJobs(t *testing.T) {
	rig := &hardware.Rig{
		Camera:   hardware.SimCamera{},
		Climate:  fixed(map[string]float64{"temperature": 20}, nil),
		Moisture: map[int]hardware.Sensor{1: fixed(map[string]float64{"moisture": 400}, nil)},
	}
	f := newFixture(t, rig)

	require.NoError(t, f.st.RegisterJobs(config.JobsConfig{
		CaptureInterval:     time.Minute,
		EnvironmentInterval: time.Minute,
		MoistureInterval:    time.Minute,
		CaptureSubjects:     []int{1, 2},
		LogEnvironment:      true,
	}))

	var names []string
	for _, j := range f.sched.Jobs() {
		names = append(names, j.Name)
	}
	assert.ElementsMatch(t, []string{"capture-plant-1", "capture-plant-2", JobEnvironment, "log-moisture-plant-1"}, names)
}

func TestRegisterJobsNeedsMoistureStream(t *testing.T) {
	rig := &hardware.Rig{Moisture: map[int]hardware.Sensor{7: fixed(nil, nil)}}
	f := newFixture(t, rig)
	err := f.st.RegisterJobs(config.JobsConfig{CaptureInterval: time.Minute, MoistureInterval: time.Minute})
	assert.ErrorIs(t, err, history.ErrUnknownStream)
}

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type fakeCapturer struct{ subjects chan int }

func (f fakeCapturer) Capture(_ context.Context, subject int) (model.CaptureResult, error) {
	f.subjects <- subject
	return model.CaptureResult{Status: model.CaptureSuccess}, nil
}

func TestCommandSubject(t *testing.T) {
	id, err := commandSubject("command/capture/3", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, id)

	id, err = commandSubject("command/capture/3", []byte(`{"subject":5}`))
	require.NoError(t, err)
	assert.Equal(t, 5, id)

	_, err = commandSubject("command/capture/all", []byte(`{}`))
	assert.Error(t, err)
	_, err = commandSubject("command/capture/1", []byte(`not json`))
	assert.Error(t, err)
}

func TestCommandHandlerDropsRedelivery(t *testing.T) {
	fc := fakeCapturer{subjects: make(chan int, 4)}
	h := NewCommandHandler(context.Background(), fc, dedup.New(time.Minute, 100), zerolog.Nop())

	msg := fakeMessage{topic: "command/capture/2", payload: []byte(`{"requester":"dashboard"}`)}
	require.NoError(t, h.Handle(msg.topic, msg))
	require.NoError(t, h.Handle(msg.topic, msg))

	select {
	case id := <-fc.subjects:
		assert.Equal(t, 2, id)
	case <-time.After(time.Second):
		t.Fatal("capture not started")
	}
	select {
	case <-fc.subjects:
		t.Fatal("redelivered command captured twice")
	case <-time.After(50 * time.Millisecond):
	}

	other := fakeMessage{topic: "command/capture/4"}
	require.NoError(t, h.Handle(other.topic, other))
	assert.Equal(t, 4, <-fc.subjects)
}

func TestCommandHandlerWaitCoversRunningCaptures(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool
	rig := &hardware.Rig{Camera: cameraFunc(func(context.Context) ([]byte, error) {
		<-release
		return frame, nil
	})}
	f := newFixture(t, rig)
	h := NewCommandHandler(context.Background(), captureThen{f.st, &finished}, dedup.New(time.Minute, 100), zerolog.Nop())

	msg := fakeMessage{topic: "command/capture/1"}
	require.NoError(t, h.Handle(msg.topic, msg))
	require.Eventually(t, func() bool { return f.sched.Running(CaptureJob(1)) }, time.Second, time.Millisecond)

	waited := make(chan struct{})
	go func() {
		h.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned while a capture was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return")
	}
	assert.True(t, finished.Load())
}

type captureThen struct {
	st   *Station
	done *atomic.Bool
}

func (c captureThen) Capture(ctx context.Context, subject int) (model.CaptureResult, error) {
	res, err := c.st.Capture(ctx, subject)
	c.done.Store(true)
	return res, err
}

func TestAllReady(t *testing.T) {
	assert.True(t, AllReady(map[string]bool{"history": true}))
	assert.False(t, AllReady(map[string]bool{"history": true, "mqtt": false}))
}

// Package station runs the collectors of one Raspberry Pi: image capture,
// environment logging and soil moisture logging.
package station

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/plantpi/internal/blob"
	"github.com/LeonardoBeccarini/plantpi/internal/config"
	"github.com/LeonardoBeccarini/plantpi/internal/hardware"
	"github.com/LeonardoBeccarini/plantpi/internal/history"
	"github.com/LeonardoBeccarini/plantpi/internal/model"
	"github.com/LeonardoBeccarini/plantpi/pkg/scheduler"
)

const JobEnvironment = "log-environment"

// ErrUnknownSubject rejects on-demand captures of plants the station does
// not photograph.
var ErrUnknownSubject = errors.New("unknown plant")

func CaptureJob(subject int) string  { return fmt.Sprintf("capture-plant-%d", subject) }
func MoistureJob(subject int) string { return fmt.Sprintf("log-moisture-plant-%d", subject) }

// CaptureRecorder counts capture outcomes.
type CaptureRecorder interface {
	Capture(status string)
}

type Station struct {
	rig      *hardware.Rig
	history  *history.Service
	uploader blob.Uploader
	sched    *scheduler.Scheduler
	imageDir string
	subjects map[int]bool
	rec      CaptureRecorder
	now      func() time.Time
	log      zerolog.Logger
}

type Options struct {
	ImageDir string
	Subjects []int // plants that may be captured on demand
	Recorder CaptureRecorder
	Now      func() time.Time
	Logger   zerolog.Logger
}

func New(rig *hardware.Rig, hist *history.Service, up blob.Uploader, sched *scheduler.Scheduler, opts Options) *Station {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	subjects := make(map[int]bool, len(opts.Subjects))
	for _, id := range opts.Subjects {
		subjects[id] = true
	}
	return &Station{
		rig:      rig,
		history:  hist,
		uploader: up,
		sched:    sched,
		imageDir: opts.ImageDir,
		subjects: subjects,
		rec:      opts.Recorder,
		now:      opts.Now,
		log:      opts.Logger,
	}
}

// RegisterJobs adds the periodic collectors to the scheduler.
func (s *Station) RegisterJobs(jobs config.JobsConfig) error {
	for _, id := range jobs.CaptureSubjects {
		id := id
		err := s.sched.Register(CaptureJob(id), jobs.CaptureInterval, func(ctx context.Context) error {
			_, err := s.CaptureAndStore(ctx, id)
			return err
		})
		if err != nil {
			return err
		}
	}
	if jobs.LogEnvironment {
		if err := s.sched.Register(JobEnvironment, jobs.EnvironmentInterval, s.LogEnvironment); err != nil {
			return err
		}
	}
	for id := range s.rig.Moisture {
		id := id
		if _, err := s.history.Streams().Resolve(string(model.KindMoisture), id); err != nil {
			return fmt.Errorf("moisture probe for plant %d: %w", id, err)
		}
		err := s.sched.Register(MoistureJob(id), jobs.MoistureInterval, func(ctx context.Context) error {
			return s.LogMoisture(ctx, id)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Capture runs CaptureAndStore under the same guard as the scheduled
// capture of that plant. Only configured subjects are accepted.
func (s *Station) Capture(ctx context.Context, subject int) (model.CaptureResult, error) {
	if !s.subjects[subject] {
		return model.CaptureResult{Status: model.CaptureError, Message: fmt.Sprintf("unknown plant %d", subject)},
			fmt.Errorf("%w: %d", ErrUnknownSubject, subject)
	}
	var res model.CaptureResult
	err := s.sched.RunNow(ctx, CaptureJob(subject), func(ctx context.Context) error {
		var err error
		res, err = s.CaptureAndStore(ctx, subject)
		return err
	})
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		return model.CaptureResult{Status: model.CaptureError, Message: "capture already running"}, err
	}
	if err != nil && res.Status == "" {
		res = model.CaptureResult{Status: model.CaptureError, Message: err.Error()}
	}
	return res, err
}

// CaptureAndStore photographs a plant, replaces its latest local copy and
// archives a timestamped copy. Nothing is written when the camera fails.
func (s *Station) CaptureAndStore(ctx context.Context, subject int) (model.CaptureResult, error) {
	frame, err := s.rig.Camera.Capture(ctx)
	if err != nil {
		s.captured(model.CaptureError)
		s.log.Error().Err(err).Int("subject", subject).Str("status", "failed").Msg("capture")
		return model.CaptureResult{Status: model.CaptureError, Message: "could not capture image"}, err
	}
	return s.store(ctx, subject, frame)
}

// Ingest stores an image captured by another station.
func (s *Station) Ingest(ctx context.Context, subject int, frame []byte) (model.CaptureResult, error) {
	if len(frame) == 0 {
		return model.CaptureResult{Status: model.CaptureError, Message: "empty image"}, errors.New("empty image")
	}
	return s.store(ctx, subject, frame)
}

func (s *Station) store(ctx context.Context, subject int, frame []byte) (model.CaptureResult, error) {
	log := s.log.With().Int("subject", subject).Logger()

	if _, err := blob.WriteFileAtomic(s.imageDir, blob.LatestName(subject), frame); err != nil {
		log.Warn().Err(err).Msg("could not replace latest image")
	}

	name := blob.ArchiveName(subject, s.now())
	url, err := s.uploader.Upload(ctx, name, frame)
	if err != nil {
		s.captured(model.CaptureError)
		log.Error().Err(err).Str("blob", name).Str("status", "failed").Msg("capture upload")
		return model.CaptureResult{Status: model.CaptureError, Message: "upload failed"}, err
	}
	s.captured(model.CaptureSuccess)
	log.Info().Str("blob", name).Str("url", url).Int("bytes", len(frame)).Str("status", "ok").Msg("capture")
	return model.CaptureResult{Status: model.CaptureSuccess, ImageURL: url}, nil
}

func (s *Station) captured(status string) {
	if s.rec != nil {
		s.rec.Capture(status)
	}
}

// LogEnvironment writes the climate and light groups independently; a
// failed read skips only its own group.
func (s *Station) LogEnvironment(ctx context.Context) error {
	streams := s.history.Streams()
	var errs []error

	if tempStream, err := streams.Resolve(string(model.KindTemperature), 0); err == nil {
		errs = append(errs, s.collect(ctx, tempStream.Key, s.rig.Climate))
	}
	if s.rig.Light != nil {
		if lightStream, err := streams.Resolve(string(model.KindLight), 0); err == nil {
			errs = append(errs, s.collect(ctx, lightStream.Key, s.rig.Light))
		}
	}
	return errors.Join(errs...)
}

// LogMoisture reads one plant's probe.
func (s *Station) LogMoisture(ctx context.Context, subject int) error {
	probe, ok := s.rig.Moisture[subject]
	if !ok {
		return fmt.Errorf("no moisture probe for plant %d", subject)
	}
	sc, err := s.history.Streams().Resolve(string(model.KindMoisture), subject)
	if err != nil {
		return err
	}
	return s.collect(ctx, sc.Key, probe)
}

// collect reads one sensor and appends the result. A read without data is
// logged and skipped without an error.
func (s *Station) collect(ctx context.Context, stream string, sensor hardware.Sensor) error {
	log := s.log.With().Str("stream", stream).Logger()
	if sensor == nil {
		return nil
	}

	fields, err := sensor.Read(ctx)
	if errors.Is(err, hardware.ErrNoData) {
		log.Info().Err(err).Str("status", "skipped").Msg("no reading")
		return nil
	}
	if err != nil {
		log.Error().Err(err).Str("status", "failed").Msg("sensor read")
		return fmt.Errorf("%s: %w", stream, err)
	}

	r, err := s.history.Append(ctx, stream, s.now(), fields)
	if err != nil && !errors.Is(err, history.ErrSinkWrite) {
		log.Error().Err(err).Str("status", "failed").Msg("append")
		return err
	}
	ev := log.Info().Str("row_key", r.RowKey()).Str("status", "ok")
	for _, k := range r.FieldNames() {
		ev = ev.Float64(k, r.Fields[k])
	}
	ev.Msg("reading")
	return err
}

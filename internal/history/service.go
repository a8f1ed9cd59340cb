package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/plantpi/internal/model"
	"github.com/LeonardoBeccarini/plantpi/internal/sink"
)

// Recorder receives append and sink outcomes, e.g. for metrics.
type Recorder interface {
	ReadingAppended(stream string)
	SinkFailed(sink string)
}

type Options struct {
	DefaultThreshold float64
	DefaultLimit     int
	MaxLimit         int
	Logger           zerolog.Logger
	Recorder         Recorder
	Now              func() time.Time
	Location         *time.Location // zone for bounds without an offset
}

// Snapshot is a latest reading with its derived fields.
type Snapshot struct {
	Stream string
	RowKey string
	Time   time.Time
	Fields map[string]float64
	Status string // moisture streams only
	Cached bool   // same row as the previous latest query
}

func (s Snapshot) clone() Snapshot {
	cp := s
	cp.Fields = make(map[string]float64, len(s.Fields))
	for k, v := range s.Fields {
		cp.Fields[k] = v
	}
	return cp
}

// Flat renders the snapshot the way the HTTP layer returns it.
func (s Snapshot) Flat() map[string]interface{} {
	out := make(map[string]interface{}, len(s.Fields)+2)
	for k, v := range s.Fields {
		out[k] = v
	}
	out["time"] = s.Time.UTC().Format(time.RFC3339Nano)
	if s.Status != "" {
		out["status"] = s.Status
	}
	return out
}

type Service struct {
	store   Store
	streams *Streams
	sinks   []sink.Sink
	cache   *LatestCache
	opts    Options
	log     zerolog.Logger
}

func NewService(store Store, streams *Streams, opts Options, sinks ...sink.Sink) *Service {
	if opts.DefaultThreshold == 0 {
		opts.DefaultThreshold = 300
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 20
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = 500
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Service{
		store:   store,
		streams: streams,
		sinks:   sinks,
		cache:   NewLatestCache(),
		opts:    opts,
		log:     opts.Logger,
	}
}

func (s *Service) Streams() *Streams { return s.streams }

// Append stores the reading locally and then forwards it to every sink.
// Sink failures do not undo the local append: they are logged and returned
// joined under ErrSinkWrite, and the remote write is lost.
func (s *Service) Append(ctx context.Context, stream string, t time.Time, fields map[string]float64) (model.Reading, error) {
	if strings.TrimSpace(stream) == "" {
		return model.Reading{}, errors.New("append: empty stream key")
	}
	if len(fields) == 0 {
		return model.Reading{}, fmt.Errorf("append %s: no fields", stream)
	}
	r := model.NewReading(stream, t, fields)
	if err := s.store.Append(ctx, r); err != nil {
		return r, fmt.Errorf("append %s: %w", stream, err)
	}
	if s.opts.Recorder != nil {
		s.opts.Recorder.ReadingAppended(stream)
	}

	var errs []error
	for _, sk := range s.sinks {
		if err := sk.Write(ctx, r); err != nil {
			s.log.Warn().Err(err).Str("sink", sk.Name()).Str("stream", stream).Str("row_key", r.RowKey()).Msg("sink write dropped")
			if s.opts.Recorder != nil {
				s.opts.Recorder.SinkFailed(sk.Name())
			}
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return r, fmt.Errorf("%w: %w", ErrSinkWrite, errors.Join(errs...))
	}
	return r, nil
}

func (s *Service) threshold(sc model.StreamConfig) float64 {
	if sc.Threshold > 0 {
		return sc.Threshold
	}
	return s.opts.DefaultThreshold
}

// Latest returns the newest reading of a configured stream. When the
// newest row is the one returned last time, the cached snapshot is
// returned as is.
func (s *Service) Latest(ctx context.Context, stream string) (Snapshot, error) {
	sc, ok := s.streams.Get(stream)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownStream, stream)
	}
	r, found, err := s.store.Latest(ctx, stream)
	if err != nil {
		return Snapshot{}, fmt.Errorf("latest %s: %w", stream, err)
	}
	if !found {
		return Snapshot{}, fmt.Errorf("%w for %s", ErrNotFound, stream)
	}

	rowKey := r.RowKey()
	if snap, ok := s.cache.lookup(stream, rowKey); ok {
		snap.Cached = true
		return snap, nil
	}

	snap := Snapshot{Stream: stream, RowKey: rowKey, Time: r.Time, Fields: r.Fields}
	if sc.Kind == model.KindMoisture {
		if m, ok := r.Fields[sc.RequiredField()]; ok {
			snap.Status = model.MoistureStatus(m, s.threshold(sc))
		}
	}
	s.cache.store(snap)
	s.log.Debug().Str("stream", stream).Str("row_key", rowKey).Msg("new latest reading")
	return snap, nil
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.opts.DefaultLimit
	}
	if limit > s.opts.MaxLimit {
		return s.opts.MaxLimit
	}
	return limit
}

// window resolves the query bounds for a configured stream and loads the
// readings inside it that carry the stream's required field.
func (s *Service) window(ctx context.Context, stream, startRaw, endRaw string) (model.StreamConfig, time.Time, []model.Reading, error) {
	sc, ok := s.streams.Get(stream)
	if !ok {
		return sc, time.Time{}, nil, fmt.Errorf("%w: %s", ErrUnknownStream, stream)
	}
	start, end, err := resolveWindow(startRaw, endRaw, sc.DefaultWindow(), s.opts.Now(), s.opts.Location)
	if err != nil {
		return sc, start, nil, err
	}
	rs, err := s.store.Range(ctx, stream, start, end)
	if err != nil {
		return sc, start, nil, fmt.Errorf("history %s: %w", stream, err)
	}

	field := sc.RequiredField()
	out := rs[:0]
	for _, r := range rs {
		if r.Stream != stream || !r.Has(field) {
			continue
		}
		if r.Time.Before(start) || r.Time.After(end) {
			continue
		}
		out = append(out, r)
	}
	return sc, start, out, nil
}

// History returns at most limit readings inside the window, newest first.
func (s *Service) History(ctx context.Context, stream, startRaw, endRaw string, limit int) ([]model.Reading, error) {
	_, _, rs, err := s.window(ctx, stream, startRaw, endRaw)
	if err != nil {
		return nil, err
	}
	model.SortNewestFirst(rs)
	if n := s.clampLimit(limit); len(rs) > n {
		rs = rs[:n]
	}
	return rs, nil
}

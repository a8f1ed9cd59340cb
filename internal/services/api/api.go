// Package api is the station's HTTP surface: on-demand captures, latest
// and historical sensor values, the image gallery and operational routes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/plantpi/internal/blob"
	"github.com/LeonardoBeccarini/plantpi/internal/history"
	"github.com/LeonardoBeccarini/plantpi/internal/metrics"
	"github.com/LeonardoBeccarini/plantpi/internal/model"
	"github.com/LeonardoBeccarini/plantpi/internal/services/station"
	"github.com/LeonardoBeccarini/plantpi/pkg/scheduler"
)

// Station is the part of *station.Station the handlers drive.
type Station interface {
	Capture(ctx context.Context, subject int) (model.CaptureResult, error)
	Ingest(ctx context.Context, subject int, frame []byte) (model.CaptureResult, error)
}

type Deps struct {
	Station    Station
	History    *history.Service
	Blobs      blob.Uploader
	Scheduler  *scheduler.Scheduler
	Metrics    *metrics.Metrics
	ImageDir   string // latest-display copies, served under /images/
	ArchiveDir string // served under /archive/ when blobs live on disk
	Ready      station.ReadyFunc
	Timeout    time.Duration
	Logger     zerolog.Logger
}

type Server struct {
	d   Deps
	log zerolog.Logger
}

// recoveryLog adapts zerolog to handlers.RecoveryHandlerLogger.
type recoveryLog struct{ log zerolog.Logger }

func (r recoveryLog) Println(v ...interface{}) {
	r.log.Error().Interface("panic", v).Msg("handler panic recovered")
}

// NewRouter builds the routes. The returned handler recovers panics and
// writes an access log line per request.
func NewRouter(d Deps) http.Handler {
	if d.Timeout <= 0 {
		d.Timeout = 10 * time.Second
	}
	if d.Ready == nil {
		d.Ready = func() map[string]bool { return map[string]bool{} }
	}
	s := &Server{d: d, log: d.Logger}
	r := mux.NewRouter()

	s.handle(r, "capture", "/capture/{subjectId:[0-9]+}", s.handleCapture).Methods(http.MethodPost)
	s.handle(r, "upload_image", "/upload_image/{subjectId:[0-9]+}", s.handleUpload).Methods(http.MethodPost)

	// moisture routes first: /sensor/{stream} would swallow them
	s.handle(r, "moisture_history", "/sensor/moisture/{subjectId:[0-9]+}/history", s.handleHistory).Methods(http.MethodGet)
	s.handle(r, "moisture_rollup", "/sensor/moisture/{subjectId:[0-9]+}/rollup", s.handleRollup).Methods(http.MethodGet)
	s.handle(r, "moisture_latest", "/sensor/moisture/{subjectId:[0-9]+}", s.handleLatest).Methods(http.MethodGet)
	s.handle(r, "history", "/sensor/{stream}/history", s.handleHistory).Methods(http.MethodGet)
	s.handle(r, "rollup", "/sensor/{stream}/rollup", s.handleRollup).Methods(http.MethodGet)
	s.handle(r, "latest", "/sensor/{stream}", s.handleLatest).Methods(http.MethodGet)
	s.handle(r, "streams", "/streams", s.handleStreams).Methods(http.MethodGet)

	s.handle(r, "analytics", "/analytics", s.handleAnalytics).Methods(http.MethodGet)
	s.handle(r, "jobs", "/jobs", s.handleJobs).Methods(http.MethodGet)
	s.handle(r, "trigger", "/jobs/{name}", s.handleTrigger).Methods(http.MethodPost)
	s.handle(r, "healthz", "/healthz", s.handleHealth).Methods(http.MethodGet)
	s.handle(r, "readyz", "/readyz", s.handleReady).Methods(http.MethodGet)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)
	}

	if d.ImageDir != "" {
		r.PathPrefix("/images/").Handler(d.Metrics.WrapHandler("images",
			http.StripPrefix("/images/", http.FileServer(http.Dir(d.ImageDir))))).Methods(http.MethodGet)
	}
	if d.ArchiveDir != "" {
		r.PathPrefix("/archive/").Handler(d.Metrics.WrapHandler("archive",
			http.StripPrefix("/archive/", http.FileServer(http.Dir(d.ArchiveDir))))).Methods(http.MethodGet)
	}

	recovery := handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLog{d.Logger}), handlers.PrintRecoveryStack(false))
	return handlers.LoggingHandler(d.Logger, recovery(r))
}

func (s *Server) handle(r *mux.Router, route, path string, h http.HandlerFunc) *mux.Route {
	return r.Handle(path, s.d.Metrics.WrapHandler(route, h))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps history and scheduler errors onto HTTP codes.
func statusFor(err error) int {
	var in *history.InputError
	switch {
	case errors.As(err, &in):
		return http.StatusBadRequest
	case errors.Is(err, history.ErrUnknownStream), errors.Is(err, history.ErrNotFound), errors.Is(err, scheduler.ErrUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

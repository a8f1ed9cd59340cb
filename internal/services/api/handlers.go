package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/LeonardoBeccarini/plantpi/internal/blob"
	"github.com/LeonardoBeccarini/plantpi/internal/history"
	"github.com/LeonardoBeccarini/plantpi/internal/model"
	"github.com/LeonardoBeccarini/plantpi/internal/services/station"
	"github.com/LeonardoBeccarini/plantpi/pkg/scheduler"
)

const maxUpload = 10 << 20

func subjectID(r *http.Request) int {
	id, _ := strconv.Atoi(mux.Vars(r)["subjectId"])
	return id
}

// streamOf resolves the {stream} or moisture {subjectId} path variables.
func (s *Server) streamOf(r *http.Request) (model.StreamConfig, error) {
	vars := mux.Vars(r)
	if _, ok := vars["subjectId"]; ok {
		return s.d.History.Streams().Resolve(string(model.KindMoisture), subjectID(r))
	}
	return s.d.History.Streams().Resolve(vars["stream"], 0)
}

// POST /capture/{subjectId}
// Capture failures are reported in the body with a 200, like a busy guard.
// Plants the station does not photograph get a 404.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	id := subjectID(r)
	if id <= 0 {
		writeJSON(w, http.StatusBadRequest, model.CaptureResult{Status: model.CaptureError, Message: "invalid plant id"})
		return
	}
	res, err := s.d.Station.Capture(r.Context(), id)
	if errors.Is(err, station.ErrUnknownSubject) {
		writeJSON(w, http.StatusNotFound, res)
		return
	}
	if err != nil && !errors.Is(err, scheduler.ErrAlreadyRunning) {
		s.log.Warn().Err(err).Int("subject", id).Msg("on-demand capture failed")
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /upload_image/{subjectId}, multipart field "file".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := subjectID(r)
	if id <= 0 {
		writeJSON(w, http.StatusBadRequest, model.CaptureResult{Status: model.CaptureError, Message: "invalid plant id"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, model.CaptureResult{Status: model.CaptureError, Message: "missing file"})
		return
	}
	defer file.Close()

	frame, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, model.CaptureResult{Status: model.CaptureError, Message: "could not read file"})
		return
	}
	res, err := s.d.Station.Ingest(r.Context(), id, frame)
	if err != nil {
		s.log.Warn().Err(err).Int("subject", id).Msg("image ingest failed")
		writeJSON(w, http.StatusBadGateway, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /sensor/{stream}, /sensor/moisture/{subjectId}
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	sc, err := s.streamOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.d.Timeout)
	defer cancel()

	snap, err := s.d.History.Latest(ctx, sc.Key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Flat())
}

func readingJSON(rd model.Reading) map[string]interface{} {
	out := make(map[string]interface{}, len(rd.Fields)+1)
	for k, v := range rd.Fields {
		out[k] = v
	}
	out["time"] = rd.Time.UTC().Format(time.RFC3339Nano)
	return out
}

// GET /sensor/{stream}/history?start_date&end_date&limit
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sc, err := s.streamOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			s.fail(w, r, &history.InputError{Param: "limit", Value: raw, Err: err})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.d.Timeout)
	defer cancel()

	rows, err := s.d.History.History(ctx, sc.Key, q.Get("start_date"), q.Get("end_date"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(rows))
	for _, rd := range rows {
		out = append(out, readingJSON(rd))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /sensor/{stream}/rollup?start_date&end_date&bucket=1h
func (s *Server) handleRollup(w http.ResponseWriter, r *http.Request) {
	sc, err := s.streamOf(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	var width time.Duration
	if raw := strings.TrimSpace(q.Get("bucket")); raw != "" {
		width, err = time.ParseDuration(raw)
		if err != nil {
			s.fail(w, r, &history.InputError{Param: "bucket", Value: raw, Err: err})
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.d.Timeout)
	defer cancel()

	buckets, err := s.d.History.Rollup(ctx, sc.Key, q.Get("start_date"), q.Get("end_date"), width)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleStreams(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.d.History.Streams().All())
}

// GET /analytics. A listing failure yields an empty gallery and an
// X-Error header.
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.d.Timeout)
	defer cancel()

	names, err := s.d.Blobs.List(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("listing blobs")
		w.Header().Set("X-Error", "blob-list-error")
		names = nil
	}
	writeJSON(w, http.StatusOK, blob.Analytics(names, s.d.Blobs.URL))
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	if s.d.Scheduler == nil {
		writeJSON(w, http.StatusOK, []scheduler.JobState{})
		return
	}
	writeJSON(w, http.StatusOK, s.d.Scheduler.Jobs())
}

// POST /jobs/{name} runs a registered job now and waits for it.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if s.d.Scheduler == nil {
		s.fail(w, r, fmt.Errorf("%w: %s", scheduler.ErrUnknownJob, name))
		return
	}
	if err := s.d.Scheduler.Trigger(r.Context(), name); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job": name, "status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status string          `json:"status"`
		Deps   map[string]bool `json:"deps"`
	}
	deps := s.d.Ready()
	st := status{Status: "ok", Deps: deps}
	if !station.AllReady(deps) {
		st.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		Ready bool     `json:"ready"`
		Down  []string `json:"down,omitempty"`
	}
	deps := s.d.Ready()
	if station.AllReady(deps) {
		writeJSON(w, http.StatusOK, resp{Ready: true})
		return
	}
	var down []string
	for name, ok := range deps {
		if !ok {
			down = append(down, name)
		}
	}
	sort.Strings(down)
	writeJSON(w, http.StatusServiceUnavailable, resp{Down: down})
}

// Package api serves the indicator store over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strconv"

	"golang.org/x/time/rate"

	"chartind/internal/indicator"
	"chartind/internal/model"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 4 << 20

// IngestFunc appends data points to the chart data list and returns how many
// were accepted.
type IngestFunc func(ctx context.Context, points []model.KLine) (int, error)

// Server holds what the routes need. Store is required; everything else is
// optional.
type Server struct {
	Store *indicator.Store
	// Ingest backs POST /klines. Without it the route answers 501.
	Ingest IngestFunc
	// Limiter throttles the routes that recompute.
	Limiter *rate.Limiter
	// OnThrottle is called for every rejected request.
	OnThrottle func()

	Health http.Handler
	WS     http.Handler

	Log *slog.Logger
}

// NewRouter sets up the HTTP routes.
func NewRouter(s *Server) *http.ServeMux {
	if s.Log == nil {
		s.Log = slog.Default().With(slog.String("component", "api"))
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /templates", s.handleTemplates)
	mux.HandleFunc("GET /panes", s.handleLayout)
	mux.HandleFunc("GET /panes/{pane}", s.handlePane)
	mux.HandleFunc("GET /panes/{pane}/indicators/{name}", s.handleInstance)
	mux.HandleFunc("POST /panes/{pane}/indicators", s.throttled(s.handleAdd))
	mux.HandleFunc("DELETE /panes/{pane}/indicators", s.handleRemove)
	mux.HandleFunc("DELETE /panes/{pane}/indicators/{name}", s.handleRemove)
	mux.HandleFunc("PATCH /indicators", s.throttled(s.handleOverride))
	mux.HandleFunc("POST /calc", s.throttled(s.handleCalc))
	mux.HandleFunc("POST /precision", s.handlePrecision)
	mux.HandleFunc("POST /klines", s.throttled(s.handleKLines))

	if s.Health != nil {
		mux.Handle("GET /healthz", s.Health)
	} else {
		mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	if s.WS != nil {
		mux.Handle("/ws", s.WS)
	}
	return mux
}

// InstanceView is the JSON form of one instance.
type InstanceView struct {
	Pane   string             `json:"pane"`
	State  indicator.State    `json:"state"`
	Points int                `json:"points"`
	Last   indicator.Values   `json:"last,omitempty"`
	Result []indicator.Values `json:"result,omitempty"`
	Tip    *indicator.Tooltip `json:"tooltip,omitempty"`
}

func newInstanceView(paneID string, inst *indicator.Instance, full bool) InstanceView {
	result := inst.Result()
	v := InstanceView{Pane: paneID, State: inst.State(), Points: len(result)}
	if len(result) > 0 {
		v.Last = result[len(result)-1]
	}
	if full {
		v.Result = result
	}
	return v
}

type addRequest struct {
	Config indicator.Config `json:"config"`
	Stack  bool             `json:"stack"`
}

type calcRequest struct {
	Name string `json:"name"`
	Pane string `json:"pane"`
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": s.Store.Registry().Names()})
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Store.Snapshot())
}

func (s *Server) handlePane(w http.ResponseWriter, r *http.Request) {
	paneID := r.PathValue("pane")
	instances := s.Store.Instances(paneID)
	if len(instances) == 0 {
		writeError(w, http.StatusNotFound, fmt.Errorf("pane %q has no indicators", paneID))
		return
	}
	full := r.URL.Query().Get("result") == "full"
	views := make([]InstanceView, 0, len(instances))
	for _, name := range slices.Sorted(maps.Keys(instances)) {
		views = append(views, newInstanceView(paneID, instances[name], full))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleInstance returns one instance with its full result. With ?index=N
// the tooltip at that data index is included.
func (s *Server) handleInstance(w http.ResponseWriter, r *http.Request) {
	paneID, name := r.PathValue("pane"), r.PathValue("name")
	inst, ok := s.Store.Instance(paneID, name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no %s on pane %q", name, paneID))
		return
	}
	view := newInstanceView(paneID, inst, true)
	if raw := r.URL.Query().Get("index"); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid index: %w", err))
			return
		}
		if tipFn := inst.CreateTooltipDataSource(); tipFn != nil {
			tip := tipFn(inst, idx)
			view.Tip = &tip
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	paneID := r.PathValue("pane")
	var req addRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Config.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("config.name is required"))
		return
	}

	res, err := s.Store.Add(r.Context(), paneID, req.Config, req.Stack)
	switch {
	case errors.Is(err, indicator.ErrUnknownTemplate):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, indicator.ErrDataSource):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	case !res.Added:
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	paneID, name := r.PathValue("pane"), r.PathValue("name")
	if !s.Store.RemoveInstance(paneID, name) {
		writeError(w, http.StatusNotFound, fmt.Errorf("nothing to remove on pane %q", paneID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOverride applies a partial config. The optional pane query parameter
// restricts it to one pane.
func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var cfg indicator.Config
	if !decode(w, r, &cfg) {
		return
	}
	if cfg.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	res, err := s.Store.Override(r.Context(), cfg, r.URL.Query().Get("pane"))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if res.Flags == nil {
		res.Flags = []bool{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCalc(w http.ResponseWriter, r *http.Request) {
	var req calcRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	flags, err := s.Store.CalcInstance(r.Context(), req.Name, req.Pane)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if flags == nil {
		flags = []bool{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"flags": flags})
}

func (s *Server) handlePrecision(w http.ResponseWriter, r *http.Request) {
	var p model.Precision
	if !decode(w, r, &p) {
		return
	}
	if p.Price < 0 || p.Volume < 0 {
		writeError(w, http.StatusBadRequest, errors.New("precision cannot be negative"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": s.Store.SetSeriesPrecision(p)})
}

// handleKLines appends points to the data list and recomputes every
// instance.
func (s *Server) handleKLines(w http.ResponseWriter, r *http.Request) {
	if s.Ingest == nil {
		writeError(w, http.StatusNotImplemented, errors.New("data ingestion is not enabled"))
		return
	}
	var points []model.KLine
	if !decode(w, r, &points) {
		return
	}
	if len(points) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no points"))
		return
	}
	accepted, err := s.Ingest(r.Context(), points)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	flags, err := s.Store.CalcInstance(r.Context(), "", "")
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if flags == nil {
		flags = []bool{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": accepted, "flags": flags})
}

// throttled rejects requests beyond the limiter's rate with 429.
func (s *Server) throttled(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter != nil && !s.Limiter.Allow() {
			if s.OnThrottle != nil {
				s.OnThrottle()
			}
			s.Log.Warn("request throttled", slog.String("path", r.URL.Path))
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next(w, r)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

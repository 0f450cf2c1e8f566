// Package api serves the consolidated table and the run log over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/energitech/consolidator/internal/model"
	"github.com/energitech/consolidator/internal/store"
	"github.com/energitech/consolidator/internal/transform"
)

var validate = validator.New()

// Reader is the part of the store the API reads.
type Reader interface {
	ListMeasurements(ctx context.Context, filter store.MeasurementFilter) ([]model.Measurement, error)
	LatestMeasurement(ctx context.Context, assetID string) (*model.Measurement, error)
	GetRun(ctx context.Context, runID string) (*model.RunSummary, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.RunSummary, error)
}

// Options configures the router.
type Options struct {
	CORSOrigins []string
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// NewRouter builds the HTTP handler.
func NewRouter(rd Reader, opts Options) http.Handler {
	h := &handler{store: rd, log: zap.L().With(zap.String("component", "api"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{runID}", h.getRun)
		r.Get("/measurements", h.listMeasurements)
		r.Get("/measurements/{assetID}/latest", h.latestMeasurement)
	})

	return r
}

type handler struct {
	store Reader
	log   *zap.Logger
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type runsQuery struct {
	Status string `validate:"omitempty,oneof=running success failure"`
	Limit  int    `validate:"gte=0,lte=1000"`
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	q := runsQuery{Status: r.URL.Query().Get("status")}
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q.Limit = limit
	if err := validate.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.store.ListRuns(r.Context(), store.RunFilter{Status: model.RunStatus(q.Status), Limit: q.Limit})
	if err != nil {
		h.internal(w, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.internal(w, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type measurementsQuery struct {
	AssetID string    `validate:"omitempty,max=64"`
	From    time.Time `validate:"-"`
	To      time.Time `validate:"omitempty,gtfield=From"`
	Limit   int       `validate:"gte=0,lte=1000"`
}

func (h *handler) listMeasurements(w http.ResponseWriter, r *http.Request) {
	var (
		q   measurementsQuery
		err error
	)
	q.AssetID = transform.NormalizeAssetID(r.URL.Query().Get("asset_id"))
	if q.From, err = timeParam(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.To, err = timeParam(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if q.Limit, err = intParam(r, "limit"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ms, err := h.store.ListMeasurements(r.Context(), store.MeasurementFilter{
		AssetID: q.AssetID,
		From:    q.From,
		To:      q.To,
		Limit:   q.Limit,
	})
	if err != nil {
		h.internal(w, "list measurements", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"measurements": ms, "count": len(ms)})
}

func (h *handler) latestMeasurement(w http.ResponseWriter, r *http.Request) {
	assetID := transform.NormalizeAssetID(chi.URLParam(r, "assetID"))
	m, err := h.store.LatestMeasurement(r.Context(), assetID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no measurements for asset "+assetID)
		return
	}
	if err != nil {
		h.internal(w, "latest measurement", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *handler) internal(w http.ResponseWriter, op string, err error) {
	h.log.Error("api: "+op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func intParam(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	return n, nil
}

// timeParam accepts RFC3339 or unix seconds.
func timeParam(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New(name + ": invalid time format; use RFC3339 or unix seconds")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package api serves the working set and controller status over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	geojson "github.com/paulmach/go.geojson"

	"chronos-radar/internal/ingest"
	"chronos-radar/internal/query"
	"chronos-radar/internal/store"
)

// Controller is what the server needs from the ingestion loop.
type Controller interface {
	Status() ingest.Status
	Reconnect()
}

type Server struct {
	Facade  *query.Facade
	Ctrl    Controller
	Metrics http.Handler
	Log     *slog.Logger
}

func NewServer(f *query.Facade, ctrl Controller, metrics http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{Facade: f, Ctrl: ctrl, Metrics: metrics, Log: log}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/reconnect", s.handleReconnect)
	r.Get("/snapshot", s.handleSnapshot)
	r.Get("/snapshot.geojson", s.handleGeoJSON)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}
	return r
}

// Start listens on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.Log.Info("http listening", "addr", addr)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Log.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "took", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.Ctrl.Status()
	code := http.StatusOK
	if st.State == ingest.StateClosed {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"state": st.State, "entities": st.Entities})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Ctrl.Status())
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	s.Ctrl.Reconnect()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.Facade.Snapshot(f))
}

func (s *Server) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	fc := geojson.NewFeatureCollection()
	for _, e := range s.Facade.Snapshot(f) {
		fc.AddFeature(feature(e))
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if err := json.NewEncoder(w).Encode(fc); err != nil {
		s.Log.Warn("geojson encode", "err", err)
	}
}

func feature(e store.TrackedEntity) *geojson.Feature {
	ft := geojson.NewPointFeature([]float64{e.Point.Lon, e.Point.Lat})
	ft.ID = store.IDOf(e).String()
	ft.SetProperty("key", e.Key)
	ft.SetProperty("kind", e.Kind.String())
	ft.SetProperty("severity", e.Severity.String())
	ft.SetProperty("distance_km", e.Projection.DistanceKm)
	ft.SetProperty("bearing_deg", e.Projection.BearingDeg)
	ft.SetProperty("updated_at", e.UpdatedAt.Format(time.RFC3339))
	if e.Summary != "" {
		ft.SetProperty("summary", e.Summary)
	}
	return ft
}

// parseFilter reads kind, severity, min_severity and range_km.
func parseFilter(r *http.Request) (query.Filter, error) {
	var f query.Filter
	q := r.URL.Query()
	var err error
	if f.Kinds, err = query.ParseKinds(q.Get("kind")); err != nil {
		return f, err
	}
	if f.Severities, err = query.ParseSeverities(q.Get("severity")); err != nil {
		return f, err
	}
	if v := q.Get("min_severity"); v != "" {
		sevs, err := query.ParseSeverities(v)
		if err != nil {
			return f, err
		}
		if len(sevs) > 0 {
			f.MinSeverity = sevs[0]
		}
	}
	if v := q.Get("range_km"); v != "" {
		km, err := strconv.ParseFloat(v, 64)
		if err != nil || km < 0 {
			return f, errors.New("range_km must be a non-negative number")
		}
		f.MaxRangeKm = km
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

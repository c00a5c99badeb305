// Package api exposes a small read-only (plus one JWT-guarded mutating
// endpoint) HTTP surface for operators and other local processes to inspect
// prolink's runtime state, grounded on the teacher's chi-based api.Server
// (same router setup, middleware stack, and JSON envelope shape) cut down
// to this process's much smaller surface area.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/djlink/prolink/internal/api/middleware"
	"github.com/djlink/prolink/internal/history"
	"github.com/djlink/prolink/internal/registry"
	"github.com/djlink/prolink/internal/status"
)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router    *chi.Mux
	registry  *registry.Registry
	tracker   *status.Tracker
	history   *history.Store
	jwtSecret []byte
	stopVD    func()
}

// New creates the HTTP handler with all routes mounted. jwtSecret guards
// POST /virtual-device/stop. stopVD is called to tear down the virtual
// device; it may be nil if no virtual device is running. promReg, if
// non-nil, is scraped at GET /metrics.
func New(reg *registry.Registry, tracker *status.Tracker, hist *history.Store, jwtSecret []byte, stopVD func(), promReg *prometheus.Registry) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		registry:  reg,
		tracker:   tracker,
		history:   hist,
		jwtSecret: jwtSecret,
		stopVD:    stopVD,
	}
	s.routes(promReg)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(promReg *prometheus.Registry) {
	r := s.router
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)

	r.Get("/devices", s.handleDevices)
	r.Get("/master", s.handleMaster)
	r.Get("/history", s.handleHistory)

	if promReg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireControlAuth(s.jwtSecret))
		r.Post("/virtual-device/stop", s.handleStopVirtualDevice)
	})
}

// deviceView is the JSON shape of one registry entry.
type deviceView struct {
	DeviceNumber int    `json:"device_number"`
	DeviceName   string `json:"device_name"`
	IP           string `json:"ip"`
	LastSeenMs   int64  `json:"last_seen_ms_ago"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	snap := s.registry.Snapshot()
	out := make([]deviceView, 0, len(snap))
	now := time.Now()
	for _, e := range snap {
		out = append(out, deviceView{
			DeviceNumber: int(e.DeviceNumber),
			DeviceName:   e.DeviceName,
			IP:           e.IP.String(),
			LastSeenMs:   now.Sub(e.LastSeen).Milliseconds(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type masterView struct {
	HasMaster    bool    `json:"has_master"`
	DeviceNumber int     `json:"device_number,omitempty"`
	BPM          float64 `json:"bpm,omitempty"`
}

func (s *Server) handleMaster(w http.ResponseWriter, r *http.Request) {
	num, has := s.tracker.CurrentMaster()
	view := masterView{HasMaster: has}
	if has {
		view.DeviceNumber = int(num)
		view.BPM = s.tracker.CurrentTempo()
	}
	writeJSON(w, http.StatusOK, view)
}

type historyView struct {
	Sightings   []history.Sighting   `json:"sightings"`
	Transitions []history.Transition `json:"transitions"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pagination, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	sightings, err := s.history.RecentSightings(ctx, pagination.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "querying sightings")
		return
	}
	transitions, err := s.history.RecentTransitions(ctx, pagination.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "querying transitions")
		return
	}
	writeJSON(w, http.StatusOK, historyView{Sightings: sightings, Transitions: transitions})
}

func (s *Server) handleStopVirtualDevice(w http.ResponseWriter, r *http.Request) {
	if s.stopVD == nil {
		writeError(w, http.StatusConflict, "no virtual device is running")
		return
	}
	s.stopVD()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

// Run starts the debug API listener, blocking until ctx is cancelled.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

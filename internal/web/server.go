package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"screener/internal/engine"
	"screener/internal/logger"
	"screener/internal/market"
	"screener/internal/refresh"
	"screener/pkg/model"
)

//go:embed static
var staticFiles embed.FS

// Source is the refreshing result holder the dashboard reads from
type Source interface {
	Latest() (*model.ResultSet, error)
	Refresh(ctx context.Context) (*model.ResultSet, error)
	Universe() []string
	SetUniverse(universe []string)
	Subscribe(fn refresh.Listener)
	Policy() engine.GradingPolicy
	Interval() time.Duration
}

// Server represents the web server
type Server struct {
	source   Source
	gatherer prometheus.Gatherer
	loc      *time.Location
	schedule market.Schedule
	now      func() time.Time
	log      *logger.Logger
	hub      *hub
	router   *mux.Router
	srv      *http.Server
}

// NewServer creates a new web server. gatherer may be nil to disable /metrics.
func NewServer(src Source, gatherer prometheus.Gatherer, loc *time.Location, log *logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.Nop()
	}
	if loc == nil {
		loc = time.UTC
	}
	s := &Server{
		source:   src,
		gatherer: gatherer,
		loc:      loc,
		schedule: market.DefaultSchedule(),
		now:      time.Now,
		log:      log.Component("web"),
		hub:      newHub(),
	}
	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	src.Subscribe(s.onRun)
	return s, nil
}

func (s *Server) setupRoutes() error {
	r := mux.NewRouter()
	r.Use(s.requestLoggingMiddleware)
	r.Use(corsMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/results", s.handleResults).Methods(http.MethodGet)
	api.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/universe", s.handleUniverse).Methods(http.MethodGet)
	api.HandleFunc("/universe", s.handleUploadUniverse).Methods(http.MethodPost)
	api.HandleFunc("/policies", s.handlePolicies).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.hub.serveWS(s.greeting))
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Static files
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("failed to create static file system: %w", err)
	}
	r.PathPrefix("/").Handler(http.FileServer(http.FS(staticFS)))

	s.router = r
	return nil
}

// Handler exposes the router for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the web server on the specified port
func (s *Server) Start(port int) error {
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 6 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("dashboard at http://localhost:%d", port)
	return s.srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("request")
	})
}

// corsMiddleware adds CORS headers for local development
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

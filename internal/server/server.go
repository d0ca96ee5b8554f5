// Package server provides the HTTP surface: pages, the JSON API, the MJPEG
// stream, live state over WebSocket and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/ayusman/kai/internal/capture"
	"github.com/ayusman/kai/internal/classifier"
	"github.com/ayusman/kai/internal/observe"
	"github.com/ayusman/kai/internal/practice"
	"github.com/ayusman/kai/internal/progress"
	"github.com/ayusman/kai/internal/server/api"
	"github.com/ayusman/kai/internal/training"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds graceful shutdown of open connections.
const shutdownTimeout = 5 * time.Second

// Config holds the server configuration.
type Config struct {
	StaticDir  string
	Classifier *classifier.Adapter
	Practice   *practice.Controller
	Progress   *progress.Store
	Panel      *training.Panel
	Gate       *training.Gate
	Frames     *capture.FrameBuffer

	// SubmitTimeout bounds one training submission.
	SubmitTimeout time.Duration

	// MetricsHandler serves /metrics. Default: promhttp.Handler().
	MetricsHandler http.Handler

	Metrics *observe.Metrics
}

// Server represents the HTTP server.
type Server struct {
	config   Config
	router   chi.Router
	start    time.Time
	training *api.TrainingHandler
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.MetricsHandler == nil {
		config.MetricsHandler = promhttp.Handler()
	}
	if config.Metrics == nil {
		config.Metrics = observe.DefaultMetrics()
	}

	s := &Server{
		config: config,
		router: chi.NewRouter(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// routePattern labels metrics with the matched chi pattern to keep
// cardinality low.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(s.config.Metrics, routePattern))

	r.Get("/api/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.config.MetricsHandler)

	if s.config.Gate != nil && s.config.Panel != nil {
		s.training = api.NewTrainingHandler(s.config.Panel, s.config.Gate, s.config.SubmitTimeout)
	}

	r.Route("/api", func(r chi.Router) {
		api.NewVowelsHandler(s.config.Progress).Routes(r)
		if s.config.Practice != nil {
			api.NewPracticeHandler(s.config.Practice).Routes(r)
		}
		if s.config.Progress != nil {
			api.NewProgressHandler(s.config.Progress).Routes(r)
		}
		if s.training != nil {
			s.training.Routes(r)
		}
		if s.config.Frames != nil {
			r.Method(http.MethodGet, "/stream", NewStreamHandler(s.config.Frames))
		}
		r.Method(http.MethodGet, "/live", NewLiveHandler(s.config.Practice, s.config.Panel))
	})

	s.setupPages(r)
}

// setupPages serves the HTML pages and their assets from StaticDir.
func (s *Server) setupPages(r chi.Router) {
	dir := s.config.StaticDir
	if dir == "" {
		return
	}

	page := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, filepath.Join(dir, name))
		}
	}

	r.Get("/", page("index.html"))
	r.Get("/progress", page("progress.html"))
	r.Get("/training-login", page("training-login.html"))
	r.Get("/practice/{vowel}", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := classifier.LookupVowel(chi.URLParam(r, "vowel")); !ok {
			http.NotFound(w, r)
			return
		}
		page("practice.html")(w, r)
	})
	r.Get("/training", func(w http.ResponseWriter, r *http.Request) {
		if s.training == nil || !s.training.Authorized(r) {
			http.Redirect(w, r, "/training-login", http.StatusFound)
			return
		}
		page("training.html")(w, r)
	})

	r.Handle("/assets/*", http.FileServer(http.Dir(dir)))
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Model  string `json:"model"`
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(s.start).Round(time.Second).String(),
		Model:  "none",
	}
	if s.config.Classifier != nil {
		resp.Model = s.config.Classifier.Status().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

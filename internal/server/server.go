// Package server exposes the HTTP surface: transcription, job status,
// image generation, video post-processing, health and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/alnah/mediaforge/internal/config"
	"github.com/alnah/mediaforge/internal/imagegen"
	"github.com/alnah/mediaforge/internal/job"
	"github.com/alnah/mediaforge/internal/logging"
	"github.com/alnah/mediaforge/internal/metrics"
	"github.com/alnah/mediaforge/internal/video"
)

// requestsPerSecond caps the per-client request rate. Transcription calls
// are long-lived, so the limit mostly guards the cheap endpoints.
const requestsPerSecond = 10

// Pipeline collaborators. The concrete types implement these implicitly;
// handler tests inject mocks.
type transcriptionRunner interface {
	Run(ctx context.Context, j *job.Job, inputPath string) (*job.Result, error)
}

type statusLookup interface {
	Lookup(id string) job.StatusInfo
}

type imageGenerator interface {
	Generate(ctx context.Context, req imagegen.Request) (*imagegen.Result, error)
}

type videoProcessor interface {
	BurnSubtitles(ctx context.Context, videoPath, srtPath string) (*video.Result, error)
	Zoom(ctx context.Context, imagePath string, duration time.Duration) (*video.Result, error)
}

// Compile-time interface compliance checks.
var (
	_ transcriptionRunner = (*job.Orchestrator)(nil)
	_ statusLookup        = (*job.Store)(nil)
	_ imageGenerator      = (*imagegen.Generator)(nil)
	_ videoProcessor      = (*video.Processor)(nil)
)

// Server wires the HTTP layer around the pipeline collaborators.
type Server struct {
	echo *echo.Echo
	cfg  *config.Config

	runner transcriptionRunner
	store  statusLookup
	images imageGenerator
	videos videoProcessor

	jobs *semaphore.Weighted
	log  *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger replaces the server logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// New builds the server and registers all routes and middleware.
func New(
	cfg *config.Config,
	runner transcriptionRunner,
	store statusLookup,
	images imageGenerator,
	videos videoProcessor,
	opts ...Option,
) *Server {
	s := &Server{
		echo:   echo.New(),
		cfg:    cfg,
		runner: runner,
		store:  store,
		images: images,
		videos: videos,
		jobs:   semaphore.NewWeighted(cfg.MaxConcurrentJobs),
		log:    logging.ForService("server"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.configureMiddleware()
	s.registerRoutes()
	return s
}

// configureMiddleware installs the shared middleware stack.
func (s *Server) configureMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	// Uploads plus multipart overhead.
	s.echo.Use(middleware.BodyLimit(fmt.Sprintf("%dM", s.cfg.MaxFileSizeMB+1)))
	s.echo.Use(middleware.RateLimiter(
		middleware.NewRateLimiterMemoryStore(rate.Limit(requestsPerSecond))))
	s.echo.Use(s.requestLogger)
}

// registerRoutes maps the API surface.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	registry := prometheus.NewRegistry()
	metrics.Register(registry)
	s.echo.GET("/metrics", echo.WrapHandler(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := s.echo.Group("", s.requireAPIKey)
	api.POST("/transcribe", s.handleTranscribe)
	api.GET("/status/:id", s.handleStatus)
	api.POST("/generate-image", s.handleGenerateImage)
	api.POST("/process-video", s.handleProcessVideo)
}

// requestLogger logs one line per request with the correlation id.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.log.Info("request",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", c.Response().Status,
			"request_id", requestID(c),
			"took", time.Since(start).Round(time.Millisecond))
		return err
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := ":" + s.cfg.Port
	s.log.Info("listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

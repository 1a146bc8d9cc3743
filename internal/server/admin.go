package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Rudra775/pixelate-saas/internal/logging"
	"github.com/Rudra775/pixelate-saas/internal/models"
	"github.com/Rudra775/pixelate-saas/internal/queue"
)

// VideoReader reads persisted pipeline output
type VideoReader interface {
	GetVideo(ctx context.Context, videoID string) (*models.Video, error)
	ListProcessedFrames(ctx context.Context, videoID string) ([]models.ProcessedFrame, error)
}

// JobInspector reports queue state for a job id
type JobInspector interface {
	JobStatus(ctx context.Context, id string) (*queue.JobStatus, error)
}

// Check is one readiness probe, e.g. a database ping.
type Check func(ctx context.Context) error

// Deps are the admin server's collaborators. Nil readers disable their routes.
type Deps struct {
	Videos VideoReader
	Jobs   JobInspector
	Checks map[string]Check
}

// AdminServer exposes health, metrics and read-only job inspection.
type AdminServer struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

type videoResponse struct {
	Video  *models.Video           `json:"video"`
	Frames []models.ProcessedFrame `json:"frames"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// NewRouter builds the admin routes
func NewRouter(deps Deps) http.Handler {
	logger := logging.WithComponent("admin")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(deps.Checks))
	r.Handle("/metrics", promhttp.Handler())

	if deps.Videos != nil {
		r.Get("/videos/{video_id}", getVideo(deps.Videos))
	}
	if deps.Jobs != nil {
		r.Get("/jobs/{job_id}", getJob(deps.Jobs))
	}
	return r
}

// NewAdminServer creates a new admin server listening on addr
func NewAdminServer(addr string, deps Deps) *AdminServer {
	return &AdminServer{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(deps),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logging.WithComponent("admin"),
	}
}

// Start serves in the background. Listener errors are logged.
func (s *AdminServer) Start() {
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("admin server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("admin server stopped")
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func readiness(checks map[string]Check) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(names))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		writeJSON(w, status, results)
	}
}

func getVideo(videos VideoReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "video_id")
		video, err := videos.GetVideo(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		frames, err := videos.ListProcessedFrames(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if frames == nil {
			frames = []models.ProcessedFrame{}
		}
		writeJSON(w, http.StatusOK, videoResponse{Video: video, Frames: frames})
	}
}

func getJob(jobs JobInspector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := jobs.JobStatus(r.Context(), chi.URLParam(r, "job_id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("took", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, models.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: middleware.GetReqID(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

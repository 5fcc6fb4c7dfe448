package api

import (
	"context"
	_ "embed"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"oape-orchestrator/internal/config"
	"oape-orchestrator/internal/jobs"
	"oape-orchestrator/internal/models"
	"oape-orchestrator/internal/ratelimit"
	"oape-orchestrator/internal/repos"
	"oape-orchestrator/internal/store"
	"oape-orchestrator/internal/telemetry"
)

//go:embed homepage.html
var homepageHTML []byte

// Limiter decides whether a client may submit another job.
type Limiter interface {
	Allow(ctx context.Context, client string) (ratelimit.Decision, error)
}

// Archive serves jobs that are not held in this process's memory: finished
// jobs from an earlier run, or jobs running on another replica.
type Archive interface {
	Status(ctx context.Context, id string) (models.Job, error)
	Replay(ctx context.Context, id string, cursor int) ([]models.Event, int, error)
	// Follow signals on the returned channel when the job changes. The
	// channel closes after stop or when the subscription ends.
	Follow(ctx context.Context, id string) (notify <-chan struct{}, stop func(), err error)
}

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Server wires HTTP handlers for job submission, status and streaming.
type Server struct {
	cfg      config.Config
	store    jobs.Store
	launcher *jobs.Launcher
	limiter  Limiter
	archive  Archive
	history  store.History
	registry *repos.Registry
	logger   Logger
	// jobCtx bounds launched jobs. Request contexts end with the response.
	jobCtx context.Context
}

// Option customizes a Server.
type Option func(*Server)

func WithLimiter(l Limiter) Option { return func(s *Server) { s.limiter = l } }

func WithArchive(a Archive) Option { return func(s *Server) { s.archive = a } }

func WithHistory(h store.History) Option { return func(s *Server) { s.history = h } }

// WithRegistry lets phased submissions name a repository by short name.
func WithRegistry(r *repos.Registry) Option { return func(s *Server) { s.registry = r } }

func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithJobContext sets the parent context of every launched job.
func WithJobContext(ctx context.Context) Option { return func(s *Server) { s.jobCtx = ctx } }

// defaultKeepalive bounds stream waits when the config leaves the window unset.
const defaultKeepalive = 30 * time.Second

// New constructs the API server.
func New(cfg config.Config, st jobs.Store, launcher *jobs.Launcher, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		launcher: launcher,
		logger:   nopLogger{},
		jobCtx:   context.Background(),
	}
	if s.cfg.StreamKeepalive <= 0 {
		s.cfg.StreamKeepalive = defaultKeepalive
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Get("/", s.handleHomepage)
	r.Post("/submit", s.handleSubmit)
	r.Get("/status/{id}", s.handleStatus)
	r.Get("/stream/{id}", s.handleStream)
	r.Get("/jobs", s.handleListJobs)
	return r
}

func (s *Server) handleHomepage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(homepageHTML)
}

type statusResponse struct {
	Status       models.JobStatus `json:"status"`
	EPURL        string           `json:"ep_url"`
	Output       string           `json:"output"`
	CostUSD      float64          `json:"cost_usd"`
	Error        *string          `json:"error"`
	MessageCount int              `json:"message_count"`
}

func newStatusResponse(job models.Job) statusResponse {
	return statusResponse{
		Status:       job.Status,
		EPURL:        job.EPURL,
		Output:       job.Output,
		CostUSD:      job.CostUSD,
		Error:        job.Error,
		MessageCount: job.MessageCount,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.lookup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(job))
}

// lookup finds a job in memory, then in the archive, then in history.
func (s *Server) lookup(ctx context.Context, id string) (models.Job, error) {
	job, err := s.store.Get(id)
	if err == nil {
		return job, nil
	}
	if s.archive != nil {
		if job, aerr := s.archive.Status(ctx, id); aerr == nil {
			return job, nil
		}
	}
	if s.history != nil {
		if rec, herr := s.history.Get(ctx, id); herr == nil {
			return jobFromRecord(rec), nil
		}
	}
	return models.Job{}, err
}

func jobFromRecord(rec models.JobRecord) models.Job {
	finished := rec.FinishedAt
	return models.Job{
		ID:           rec.ID,
		Status:       rec.Status,
		EPURL:        rec.EPURL,
		Mode:         rec.Mode,
		Output:       rec.Output,
		CostUSD:      rec.CostUSD,
		Error:        rec.Error,
		MessageCount: rec.MessageCount,
		CreatedAt:    rec.CreatedAt,
		FinishedAt:   &finished,
	}
}

type listResponse struct {
	Jobs []models.Job `json:"jobs"`
}

// handleListJobs returns finished jobs from history, newest first, or the
// in-memory jobs when no history store is configured.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	out := make([]models.Job, 0, limit)
	if s.history != nil {
		recs, err := s.history.List(r.Context(), limit)
		if err != nil {
			s.logger.Printf("list history: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to read job history")
			return
		}
		for _, rec := range recs {
			out = append(out, jobFromRecord(rec))
		}
		writeJSON(w, http.StatusOK, listResponse{Jobs: out})
		return
	}

	all := s.store.List()
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	writeJSON(w, http.StatusOK, listResponse{Jobs: out})
}

// clientKey identifies the submitter for rate limiting.
func clientKey(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return "tenant:" + v
	}
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		return "ip:" + strings.TrimSpace(strings.Split(v, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"oape-orchestrator/internal/api"
	"oape-orchestrator/internal/eventlog"
	"oape-orchestrator/internal/jobs"
	"oape-orchestrator/internal/ratelimit"
	"oape-orchestrator/internal/repos"
	"oape-orchestrator/internal/store"
	"oape-orchestrator/internal/telemetry"
)

// Server is the HTTP service: job store, launcher, history and the optional
// Redis mirror and rate limiter behind the API router.
type Server struct {
	Handler  http.Handler
	Store    *jobs.MemoryStore
	Launcher *jobs.Launcher

	services *Services
	logger   *log.Logger
	history  store.History
	recorder *store.Recorder
	redis    *redis.Client
	mirror   *eventlog.RedisMirror
}

// NewServer wires the HTTP service on top of services. Jobs it launches run
// under ctx.
func NewServer(ctx context.Context, services *Services) (*Server, error) {
	cfg := services.Config
	s := &Server{services: services, logger: services.logger}

	history, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open job history: %w", err)
	}
	s.history = history
	s.recorder = store.NewRecorder(history, s.logger)

	observers := []jobs.Observer{s.recorder}
	opts := []api.Option{api.WithHistory(history), api.WithLogger(s.logger), api.WithJobContext(ctx)}

	if cfg.RedisAddr != "" {
		s.redis = eventlog.NewClient(cfg)
		s.mirror = eventlog.NewRedisMirror(s.redis, cfg.EventMirrorTTL, s.logger)
		if err := s.mirror.Ping(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		observers = append(observers, s.mirror)
		limiter := ratelimit.NewTokenBucket(s.redis, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
		opts = append(opts, api.WithArchive(s.mirror), api.WithLimiter(limiter))
	}

	if reg, err := repos.Load(cfg.Agent.TeamReposCSV); err == nil {
		opts = append(opts, api.WithRegistry(reg))
	} else {
		s.logger.Printf("repository registry unavailable: %v", err)
	}

	s.Store = jobs.NewMemoryStore(observers...)
	s.Launcher = services.Launcher(s.Store)
	s.Handler = api.New(cfg, s.Store, s.Launcher, opts...).Router()
	return s, nil
}

// ListenAndServe serves on the configured port until ctx ends, then shuts
// the listener down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	cfg := s.services.Config
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: s.Handler,
	}
	if cfg.MetricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
				s.logger.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()
	s.logger.Printf("api listening on :%s (work root %s)", cfg.HTTPPort, cfg.WorkRoot)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// Close waits for running jobs, drains pending mirror and history writes,
// then releases connections.
func (s *Server) Close() {
	if s.Launcher != nil {
		s.Launcher.Wait()
	}
	if s.mirror != nil {
		s.mirror.Flush()
	}
	if s.recorder != nil {
		s.recorder.Flush()
	}
	if s.redis != nil {
		s.redis.Close()
	}
	if s.history != nil {
		s.history.Close()
	}
}

package app

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"oape-orchestrator/internal/eventlog"
	"oape-orchestrator/internal/jobs"
	"oape-orchestrator/internal/models"
	"oape-orchestrator/internal/store"
)

func newTestServer(t *testing.T, ctx context.Context, redisAddr string) (*Server, string) {
	t.Helper()
	cfg := testConfig(t)
	cfg.SQLitePath = filepath.Join(cfg.WorkRoot, "history.db")
	cfg.RedisAddr = redisAddr
	cfg.EventMirrorTTL = time.Hour
	cfg.RateLimitCapacity = 5
	cfg.RateLimitRefill = 1
	cfg.StreamKeepalive = time.Second
	cfg.HTTPPort = "0"

	services, err := New(ctx, cfg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("services: %v", err)
	}
	t.Cleanup(func() { services.Close() })

	server, err := NewServer(ctx, services)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return server, cfg.SQLitePath
}

func TestServerHealthz(t *testing.T) {
	server, _ := newTestServer(t, context.Background(), "")
	defer server.Close()

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if server.mirror != nil {
		t.Fatalf("mirror should stay off without REDIS_ADDR")
	}
}

func TestServerCloseDrainsMirrorAndHistory(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	server, dbPath := newTestServer(t, context.Background(), mr.Addr())

	job, err := server.Store.Create("https://github.com/openshift/enhancements/pull/7", models.ModeWorkflow)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, text := range []string{"one", "two"} {
		if _, err := server.Store.Append(job.ID, models.Event{Type: models.EventText, Content: text}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := server.Store.Finalize(job.ID, jobs.Outcome{Status: models.StatusSuccess, Output: "done"}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	server.Close()

	client := eventlog.NewClient(server.services.Config)
	defer client.Close()
	mirror := eventlog.NewRedisMirror(client, time.Hour, nil)
	st, err := mirror.Status(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("mirror status: %v", err)
	}
	if st.Status != models.StatusSuccess {
		t.Fatalf("expected mirrored success, got %s", st.Status)
	}
	events, _, err := mirror.Replay(context.Background(), job.ID, 0)
	if err != nil || len(events) != 2 {
		t.Fatalf("expected 2 mirrored events, got %d (%v)", len(events), err)
	}

	history, err := store.NewSQLite(dbPath)
	if err != nil {
		t.Fatalf("reopen history: %v", err)
	}
	defer history.Close()
	rec, err := history.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("history get: %v", err)
	}
	if rec.Output != "done" || rec.MessageCount != 2 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestNewServerFailsWhenRedisIsDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.SQLitePath = filepath.Join(cfg.WorkRoot, "history.db")
	cfg.RedisAddr = addr
	services, err := New(context.Background(), cfg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("services: %v", err)
	}
	defer services.Close()

	if _, err := NewServer(context.Background(), services); err == nil {
		t.Fatalf("expected an error for an unreachable redis")
	}
}

func TestListenAndServeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server, _ := newTestServer(t, ctx, "")
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- server.ListenAndServe(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop after cancel")
	}
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"oape-orchestrator/internal/models"
	"oape-orchestrator/internal/telemetry"
)

type completePayload struct {
	Status  models.JobStatus `json:"status"`
	Output  string           `json:"output"`
	CostUSD float64          `json:"cost_usd"`
	Error   *string          `json:"error"`
}

// sseWriter writes Server-Sent Events frames and flushes after each one.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func startSSE(w http.ResponseWriter) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, f: f}, true
}

func (s *sseWriter) send(event, data string) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s *sseWriter) message(ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.send("message", string(data))
}

func (s *sseWriter) complete(job models.Job) error {
	data, err := json.Marshal(completePayload{
		Status:  job.Status,
		Output:  job.Output,
		CostUSD: job.CostUSD,
		Error:   job.Error,
	})
	if err != nil {
		return err
	}
	return s.send("complete", string(data))
}

// handleStream sends every event from the start of the log, then one
// complete frame. Idle windows produce keepalive frames.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.Get(id); err != nil {
		if s.archive != nil {
			if _, aerr := s.archive.Status(r.Context(), id); aerr == nil {
				s.streamArchived(w, r, id)
				return
			}
		}
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	sse, ok := startSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	telemetry.StreamClients.Inc()
	defer telemetry.StreamClients.Dec()

	cursor := 0
	for {
		res, err := s.store.Wait(r.Context(), id, cursor, s.cfg.StreamKeepalive)
		if err != nil {
			return
		}
		for _, ev := range res.Events {
			if err := sse.message(ev); err != nil {
				return
			}
		}
		cursor = res.Next

		switch {
		case res.Terminal:
			job, err := s.store.Get(id)
			if err != nil {
				return
			}
			_ = sse.complete(job)
			return
		case res.Keepalive:
			if err := sse.send("keepalive", ""); err != nil {
				return
			}
		}
	}
}

// streamArchived serves a job held only in the archive. Running jobs are
// followed through archive notifications until they complete.
func (s *Server) streamArchived(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	notify, stop, err := s.archive.Follow(ctx, id)
	if err != nil {
		s.logger.Printf("follow %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to follow job")
		return
	}
	defer stop()

	sse, ok := startSSE(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	telemetry.StreamClients.Inc()
	defer telemetry.StreamClients.Dec()

	cursor := 0
	for {
		// Status is read before the events so a terminal status implies
		// every event is already replayable.
		job, err := s.archive.Status(ctx, id)
		if err != nil {
			s.logger.Printf("archive status %s: %v", id, err)
			return
		}
		events, next, err := s.archive.Replay(ctx, id, cursor)
		if err != nil {
			s.logger.Printf("replay %s: %v", id, err)
			return
		}
		for _, ev := range events {
			if err := sse.message(ev); err != nil {
				return
			}
		}
		cursor = next
		if job.Status.Terminal() {
			_ = sse.complete(job)
			return
		}

		idle := time.NewTimer(s.cfg.StreamKeepalive)
		select {
		case _, open := <-notify:
			idle.Stop()
			if !open {
				return
			}
		case <-idle.C:
			if err := sse.send("keepalive", ""); err != nil {
				return
			}
		case <-ctx.Done():
			idle.Stop()
			return
		}
	}
}

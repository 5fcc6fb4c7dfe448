package agent

import (
	"context"
	"sync"
)

// Session is a multi-turn conversation. Each Send resumes the agent session
// captured from the previous turn. Turns never overlap.
type Session struct {
	runner  *Runner
	opts    Options
	label   string
	onEvent EventFunc

	mu        sync.Mutex
	sessionID string
	totalCost float64
	turns     int
}

// NewSession starts a multi-turn conversation. label tags every event it emits.
func (r *Runner) NewSession(opts Options, label string, onEvent EventFunc) *Session {
	return &Session{runner: r, opts: opts, label: label, onEvent: onEvent}
}

// Send runs one turn and returns its result.
func (s *Session) Send(ctx context.Context, prompt string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.runner.run(ctx, prompt, s.opts, s.sessionID, s.label, s.onEvent)
	if res.SessionID != "" {
		s.sessionID = res.SessionID
	}
	s.totalCost += res.CostUSD
	s.turns++
	return res
}

// SessionID returns the agent-side session identifier, if one has been seen.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// TotalCost sums the cost reported by every completed turn.
func (s *Session) TotalCost() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalCost
}

// Turns returns the number of turns sent so far.
func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"oape-orchestrator/internal/models"
	"oape-orchestrator/internal/telemetry"
)

// ErrNoResult is reported when the agent stream ends without a terminal result message.
var ErrNoResult = errors.New("agent stream ended without a result")

// Options configures one agent conversation.
type Options struct {
	WorkDir            string
	SystemPrompt       string
	AppendSystemPrompt string
	AllowedTools       []string
	PluginDir          string
	MaxTurns           int
	Model              string
	PermissionMode     string
}

func (o Options) request(prompt, resume string) Request {
	return Request{
		Prompt:             prompt,
		WorkDir:            o.WorkDir,
		SystemPrompt:       o.SystemPrompt,
		AppendSystemPrompt: o.AppendSystemPrompt,
		AllowedTools:       o.AllowedTools,
		PluginDir:          o.PluginDir,
		MaxTurns:           o.MaxTurns,
		Model:              o.Model,
		PermissionMode:     o.PermissionMode,
		Resume:             resume,
	}
}

// EventFunc receives every classified event synchronously, in arrival order.
type EventFunc func(models.Event)

// Result aggregates one conversation. Err is set when the conversation did not
// finish successfully; Events and CostUSD still hold whatever was accrued.
type Result struct {
	Output    string
	CostUSD   float64
	SessionID string
	NumTurns  int
	Events    []models.Event
	Err       error
}

// Success reports whether the conversation reached a terminal result without error.
func (r Result) Success() bool { return r.Err == nil }

// ErrorText returns the error message or "" on success.
func (r Result) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Runner drives conversations against a Client and normalizes their messages into events.
type Runner struct {
	client     Client
	logger     Logger
	transcript Logger
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the operational logger.
func WithLogger(l Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTranscript sets the conversation transcript sink.
func WithTranscript(l Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.transcript = l
		}
	}
}

// NewRunner builds a runner around client.
func NewRunner(client Client, opts ...RunnerOption) *Runner {
	r := &Runner{client: client, logger: nopLogger{}, transcript: nopLogger{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes a single conversation to completion. It never returns a Go
// error: failures of any kind are captured in Result.Err.
func (r *Runner) Run(ctx context.Context, prompt string, opts Options, onEvent EventFunc) Result {
	return r.run(ctx, prompt, opts, "", "", onEvent)
}

func (r *Runner) run(ctx context.Context, prompt string, opts Options, resume, label string, onEvent EventFunc) (res Result) {
	started := time.Now()
	var texts []string

	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("agent session panicked: %v", p)
		}
		res.Output = strings.Join(texts, "\n")

		outcome := "success"
		if res.Err != nil {
			outcome = "failed"
			r.transcript.Printf("[error%s] %v", labelSuffix(label), res.Err)
			r.logger.Printf("agent session%s failed: %v", labelSuffix(label), res.Err)
		}
		telemetry.AgentSessions.WithLabelValues(outcome).Inc()
		telemetry.AgentCostUSD.Add(res.CostUSD)
		telemetry.AgentDuration.Observe(time.Since(started).Seconds())
		r.transcript.Printf("[done%s] cost=$%.4f parts=%d events=%d", labelSuffix(label), res.CostUSD, len(texts), len(res.Events))
	}()

	r.transcript.Printf("[request%s] prompt=%s cwd=%s", labelSuffix(label), truncate(prompt, 120), opts.WorkDir)

	stream, err := r.client.Query(ctx, opts.request(prompt, resume))
	if err != nil {
		res.Err = fmt.Errorf("start agent session: %w", err)
		return res
	}
	defer stream.Close()

	emit := func(ev models.Event) {
		res.Events = append(res.Events, ev)
		r.transcript.Printf("%s", describe(ev))
		if onEvent != nil {
			onEvent(ev)
		}
	}

	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.Err = fmt.Errorf("agent stream: %w", err)
			return res
		}
		if msg.SessionID != "" {
			res.SessionID = msg.SessionID
		}

		if msg.Kind == KindResult && msg.Result != nil {
			info := msg.Result
			res.CostUSD = info.TotalCostUSD
			res.NumTurns = info.NumTurns
			if info.Text != "" {
				texts = append(texts, info.Text)
			}
			emit(models.Event{
				Type:    models.EventResult,
				Session: label,
				Content: info.Text,
				CostUSD: info.TotalCostUSD,
				IsError: info.IsError,
			})
			if info.IsError {
				res.Err = fmt.Errorf("agent reported an error result: %s", truncate(info.Text, 500))
			}
			return res
		}

		for _, ev := range Classify(msg) {
			ev.Session = label
			if ev.Type == models.EventText && ev.Role == string(KindAssistant) {
				texts = append(texts, ev.Content)
			}
			emit(ev)
		}
	}

	res.Err = ErrNoResult
	return res
}

// Classify maps one non-result message onto events: one per content block
// for assistant and user messages, a single unknown event otherwise.
func Classify(msg Message) []models.Event {
	switch msg.Kind {
	case KindAssistant, KindUser:
		events := make([]models.Event, 0, len(msg.Blocks))
		for _, b := range msg.Blocks {
			events = append(events, classifyBlock(string(msg.Kind), b))
		}
		return events
	case KindResult:
		ev := models.Event{Type: models.EventResult}
		if msg.Result != nil {
			ev.Content = msg.Result.Text
			ev.CostUSD = msg.Result.TotalCostUSD
			ev.IsError = msg.Result.IsError
		}
		return []models.Event{ev}
	default:
		return []models.Event{{Type: models.EventUnknown, Role: string(msg.Kind), Raw: rawOrNull(msg.Raw)}}
	}
}

func classifyBlock(role string, b Block) models.Event {
	switch b.Kind {
	case BlockText:
		return models.Event{Type: models.EventText, Role: role, Content: b.Text}
	case BlockThinking:
		return models.Event{Type: models.EventThinking, Role: role, Content: b.Thinking}
	case BlockToolUse:
		return models.Event{Type: models.EventToolUse, Role: role, ToolName: b.ToolName, ToolUseID: b.ToolUseID, ToolInput: b.ToolInput}
	case BlockToolResult:
		return models.Event{Type: models.EventToolResult, Role: role, ToolUseID: b.ToolUseID, Content: b.Content, IsError: b.IsError}
	default:
		return models.Event{Type: models.EventUnknown, Role: role, Raw: rawOrNull(b.Raw)}
	}
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

func describe(ev models.Event) string {
	prefix := "[" + string(ev.Type)
	if ev.Session != "" {
		prefix += ":" + ev.Session
	}
	prefix += "]"
	switch ev.Type {
	case models.EventText:
		return prefix + " " + ev.Content
	case models.EventThinking:
		return prefix + " (thinking)"
	case models.EventToolUse:
		return prefix + " " + ev.ToolName
	case models.EventToolResult:
		return prefix + " " + ev.ToolUseID
	case models.EventResult:
		return fmt.Sprintf("%s %s cost=$%.4f", prefix, ev.Content, ev.CostUSD)
	default:
		return prefix + " " + truncate(string(ev.Raw), 500)
	}
}

func labelSuffix(label string) string {
	if label == "" {
		return ""
	}
	return ":" + label
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

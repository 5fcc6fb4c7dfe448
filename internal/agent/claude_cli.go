package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

const maxLineBytes = 16 * 1024 * 1024

// ClaudeCLI runs the claude command line in print mode and decodes its
// stream-json output.
type ClaudeCLI struct {
	Binary string
}

// NewClaudeCLI returns a client for the given binary, defaulting to "claude".
func NewClaudeCLI(binary string) *ClaudeCLI {
	if binary == "" {
		binary = "claude"
	}
	return &ClaudeCLI{Binary: binary}
}

// Args builds the command line for req.
func (c *ClaudeCLI) Args(req Request) []string {
	args := []string{"-p", req.Prompt, "--output-format", "stream-json", "--verbose"}
	if req.PermissionMode != "" {
		args = append(args, "--permission-mode", req.PermissionMode)
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}
	if req.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.AppendSystemPrompt)
	}
	if req.PluginDir != "" {
		args = append(args, "--plugin-dir", req.PluginDir)
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.Resume != "" {
		args = append(args, "--resume", req.Resume)
	}
	return args
}

// Query starts the process. The returned stream owns it until Close.
func (c *ClaudeCLI) Query(ctx context.Context, req Request) (Stream, error) {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args(req)...)
	cmd.Dir = req.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Binary, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &cliStream{cmd: cmd, scanner: scanner, stderr: &stderr}, nil
}

type cliStream struct {
	cmd     *exec.Cmd
	scanner *bufio.Scanner
	stderr  *bytes.Buffer

	once    sync.Once
	waitErr error
}

func (s *cliStream) Recv() (Message, error) {
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return DecodeMessage(line)
	}
	if err := s.scanner.Err(); err != nil {
		return Message{}, fmt.Errorf("read agent output: %w", err)
	}
	if err := s.wait(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}

func (s *cliStream) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	err := s.wait()
	if err != nil && strings.Contains(err.Error(), "signal: killed") {
		return nil
	}
	return err
}

func (s *cliStream) wait() error {
	s.once.Do(func() {
		if err := s.cmd.Wait(); err != nil {
			msg := strings.TrimSpace(s.stderr.String())
			if msg != "" {
				s.waitErr = fmt.Errorf("agent exited: %w: %s", err, msg)
			} else {
				s.waitErr = fmt.Errorf("agent exited: %w", err)
			}
		}
	})
	return s.waitErr
}

// wireMessage mirrors the stream-json envelope.
type wireMessage struct {
	Type      string  `json:"type"`
	Subtype   string  `json:"subtype"`
	SessionID string  `json:"session_id"`
	Result    string  `json:"result"`
	TotalCost float64 `json:"total_cost_usd"`
	NumTurns  int     `json:"num_turns"`
	Duration  int64   `json:"duration_ms"`
	IsError   bool    `json:"is_error"`
	Message   *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// DecodeMessage parses one stream-json line.
func DecodeMessage(line []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(line, &w); err != nil {
		return Message{}, fmt.Errorf("decode agent message: %w", err)
	}
	raw := append(json.RawMessage(nil), line...)
	msg := Message{SessionID: w.SessionID, Raw: raw}

	switch w.Type {
	case "assistant", "user":
		msg.Kind = KindAssistant
		if w.Type == "user" {
			msg.Kind = KindUser
		}
		if w.Message != nil {
			blocks, err := decodeBlocks(w.Message.Content)
			if err != nil {
				return Message{}, err
			}
			msg.Blocks = blocks
		}
	case "system":
		msg.Kind = KindSystem
	case "result":
		msg.Kind = KindResult
		msg.Result = &ResultInfo{
			Text:         w.Result,
			TotalCostUSD: w.TotalCost,
			SessionID:    w.SessionID,
			NumTurns:     w.NumTurns,
			DurationMS:   w.Duration,
			IsError:      w.IsError,
		}
	default:
		msg.Kind = KindOther
	}
	return msg, nil
}

func decodeBlocks(content json.RawMessage) ([]Block, error) {
	if len(content) == 0 {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return []Block{{Kind: BlockText, Text: s}}, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(content, &raws); err != nil {
		return nil, fmt.Errorf("decode content blocks: %w", err)
	}
	blocks := make([]Block, 0, len(raws))
	for _, r := range raws {
		var wb wireBlock
		if err := json.Unmarshal(r, &wb); err != nil {
			return nil, fmt.Errorf("decode content block: %w", err)
		}
		b := Block{Kind: BlockKind(wb.Type), Raw: r}
		switch b.Kind {
		case BlockText:
			b.Text = wb.Text
		case BlockThinking:
			b.Thinking = wb.Thinking
		case BlockToolUse:
			b.ToolUseID = wb.ID
			b.ToolName = wb.Name
			b.ToolInput = wb.Input
		case BlockToolResult:
			b.ToolUseID = wb.ToolUseID
			b.Content = flattenContent(wb.Content)
			b.IsError = wb.IsError
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// flattenContent turns a tool_result payload (string or list of text parts)
// into plain text. Anything else is kept as its JSON encoding.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			if p.Type == "text" {
				texts = append(texts, p.Text)
			}
		}
		if len(texts) > 0 {
			return strings.Join(texts, "\n")
		}
	}
	return string(raw)
}

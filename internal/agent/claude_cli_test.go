package agent

import (
	"strings"
	"testing"
)

func TestDecodeAssistantBlocks(t *testing.T) {
	line := `{"type":"assistant","session_id":"s1","message":{"role":"assistant","content":[` +
		`{"type":"text","text":"hi"},` +
		`{"type":"thinking","thinking":"hmm"},` +
		`{"type":"tool_use","id":"tu_1","name":"Read","input":{"path":"a.go"}},` +
		`{"type":"server_tool_use","id":"x"}]}}`
	msg, err := DecodeMessage([]byte(line))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Kind != KindAssistant || msg.SessionID != "s1" || len(msg.Blocks) != 4 {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.Blocks[2].ToolName != "Read" || string(msg.Blocks[2].ToolInput) != `{"path":"a.go"}` {
		t.Fatalf("tool_use not decoded: %+v", msg.Blocks[2])
	}
	events := Classify(msg)
	if events[3].Type != "unknown" || len(events[3].Raw) == 0 {
		t.Fatalf("expected unknown block preserved, got %+v", events[3])
	}
}

func TestDecodeToolResultContentForms(t *testing.T) {
	line := `{"type":"user","message":{"role":"user","content":[` +
		`{"type":"tool_result","tool_use_id":"a","content":"plain"},` +
		`{"type":"tool_result","tool_use_id":"b","content":[{"type":"text","text":"one"},{"type":"text","text":"two"}],"is_error":true}]}}`
	msg, err := DecodeMessage([]byte(line))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Blocks[0].Content != "plain" {
		t.Fatalf("unexpected content %q", msg.Blocks[0].Content)
	}
	if msg.Blocks[1].Content != "one\ntwo" || !msg.Blocks[1].IsError {
		t.Fatalf("unexpected block %+v", msg.Blocks[1])
	}
}

func TestDecodeResult(t *testing.T) {
	line := `{"type":"result","subtype":"success","result":"All done","total_cost_usd":2.5,"session_id":"s2","num_turns":7,"duration_ms":1200,"is_error":false}`
	msg, err := DecodeMessage([]byte(line))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Kind != KindResult || msg.Result == nil {
		t.Fatalf("expected result message, got %+v", msg)
	}
	if msg.Result.TotalCostUSD != 2.5 || msg.Result.Text != "All done" || msg.Result.NumTurns != 7 {
		t.Fatalf("unexpected result %+v", msg.Result)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := DecodeMessage([]byte("not json")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestArgs(t *testing.T) {
	c := NewClaudeCLI("")
	args := c.Args(Request{
		Prompt:             "do it",
		AppendSystemPrompt: "extra",
		AllowedTools:       []string{"Bash", "Read"},
		PluginDir:          "plugins/oape",
		MaxTurns:           200,
		PermissionMode:     "bypassPermissions",
		Resume:             "s1",
	})
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-p do it", "--output-format stream-json", "--verbose",
		"--allowedTools Bash,Read", "--append-system-prompt extra",
		"--plugin-dir plugins/oape", "--max-turns 200",
		"--permission-mode bypassPermissions", "--resume s1",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args missing %q: %s", want, joined)
		}
	}
	if strings.Contains(joined, "--system-prompt ") {
		t.Fatalf("unexpected system prompt flag: %s", joined)
	}
	if c.Binary != "claude" {
		t.Fatalf("expected default binary, got %q", c.Binary)
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	got := truncate("héllo", 2)
	if got != "h..." {
		t.Fatalf("expected cut before the two-byte rune, got %q", got)
	}
	if got := truncate("héllo", 3); got != "hé..." {
		t.Fatalf("unexpected cut %q", got)
	}
	if got := truncate("abc", 5); got != "abc" {
		t.Fatalf("short strings pass through, got %q", got)
	}
}

package agent

import (
	"context"
	"encoding/json"
)

// Client starts one conversation with the coding agent and returns its message stream.
type Client interface {
	Query(ctx context.Context, req Request) (Stream, error)
}

// Stream yields the agent's messages in arrival order. Recv returns io.EOF once
// the conversation has ended.
type Stream interface {
	Recv() (Message, error)
	Close() error
}

// Request is everything the agent needs for one conversation.
type Request struct {
	Prompt             string
	WorkDir            string
	SystemPrompt       string
	AppendSystemPrompt string
	AllowedTools       []string
	PluginDir          string
	MaxTurns           int
	Model              string
	PermissionMode     string
	Resume             string
}

// MessageKind is the top-level type of an agent message.
type MessageKind string

const (
	KindAssistant MessageKind = "assistant"
	KindUser      MessageKind = "user"
	KindSystem    MessageKind = "system"
	KindResult    MessageKind = "result"
	KindOther     MessageKind = "other"
)

// BlockKind is the type of one content block inside an assistant or user message.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockThinking   BlockKind = "thinking"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
)

// Message is one decoded message from the agent stream.
type Message struct {
	Kind      MessageKind
	SessionID string
	Blocks    []Block
	Result    *ResultInfo
	Raw       json.RawMessage
}

// Block is one content block. Fields are populated according to Kind.
type Block struct {
	Kind      BlockKind
	Text      string
	Thinking  string
	ToolUseID string
	ToolName  string
	ToolInput json.RawMessage
	Content   string
	IsError   bool
	Raw       json.RawMessage
}

// ResultInfo is the terminal summary the agent emits when a conversation ends.
type ResultInfo struct {
	Text         string
	TotalCostUSD float64
	SessionID    string
	NumTurns     int
	DurationMS   int64
	IsError      bool
}

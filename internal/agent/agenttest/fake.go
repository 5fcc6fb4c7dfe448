// Package agenttest provides a scripted agent client for tests.
package agenttest

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"oape-orchestrator/internal/agent"
)

// Script describes how one conversation should play out.
type Script struct {
	Messages  []agent.Message
	StartErr  error
	StreamErr error
	Panic     any
	// Block, when set, holds the stream open after Messages until the
	// context is cancelled or the channel is closed.
	Block chan struct{}
}

// Client replays scripts. Respond is called once per Query.
type Client struct {
	Respond func(req agent.Request) Script

	mu       sync.Mutex
	requests []agent.Request
}

// Requests returns every request received so far.
func (c *Client) Requests() []agent.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]agent.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

func (c *Client) Query(ctx context.Context, req agent.Request) (agent.Stream, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	var sc Script
	if c.Respond != nil {
		sc = c.Respond(req)
	}
	if sc.StartErr != nil {
		return nil, sc.StartErr
	}
	return &stream{ctx: ctx, script: sc}, nil
}

type stream struct {
	ctx    context.Context
	script Script
	pos    int
}

func (s *stream) Recv() (agent.Message, error) {
	if s.script.Panic != nil {
		panic(s.script.Panic)
	}
	if s.pos < len(s.script.Messages) {
		m := s.script.Messages[s.pos]
		s.pos++
		return m, nil
	}
	if s.script.Block != nil {
		select {
		case <-s.ctx.Done():
			return agent.Message{}, s.ctx.Err()
		case <-s.script.Block:
		}
	}
	if s.script.StreamErr != nil {
		return agent.Message{}, s.script.StreamErr
	}
	return agent.Message{}, io.EOF
}

func (s *stream) Close() error { return nil }

// Text is an assistant message with a single text block.
func Text(text string) agent.Message {
	return agent.Message{Kind: agent.KindAssistant, Blocks: []agent.Block{{Kind: agent.BlockText, Text: text}}}
}

// Thinking is an assistant message with a single thinking block.
func Thinking(text string) agent.Message {
	return agent.Message{Kind: agent.KindAssistant, Blocks: []agent.Block{{Kind: agent.BlockThinking, Thinking: text}}}
}

// ToolUse is an assistant message invoking a tool.
func ToolUse(id, name, input string) agent.Message {
	return agent.Message{Kind: agent.KindAssistant, Blocks: []agent.Block{{
		Kind: agent.BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: json.RawMessage(input),
	}}}
}

// ToolResult is a user message carrying a tool result.
func ToolResult(id, content string, isError bool) agent.Message {
	return agent.Message{Kind: agent.KindUser, Blocks: []agent.Block{{
		Kind: agent.BlockToolResult, ToolUseID: id, Content: content, IsError: isError,
	}}}
}

// Result is the terminal message of a conversation.
func Result(text string, cost float64, sessionID string) agent.Message {
	return agent.Message{
		Kind:      agent.KindResult,
		SessionID: sessionID,
		Result:    &agent.ResultInfo{Text: text, TotalCostUSD: cost, SessionID: sessionID, NumTurns: 1},
	}
}

// Reply is a convenience script: one text message followed by a result.
func Reply(text string, cost float64) Script {
	return Script{Messages: []agent.Message{Text(text), Result("", cost, "sess-1")}}
}

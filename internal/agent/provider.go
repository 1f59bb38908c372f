package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/relay/pkg/models"
)

// Provider is the LLM backend abstraction consumed by the executor and the
// agent loop. Concrete implementations live in the providers package and are
// selected by configuration at construction time.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Chat performs one completion round-trip.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ChatStream performs one completion round-trip, invoking onDelta zero
	// or more times with incremental text before returning the final
	// response. The returned response has the same shape as Chat's.
	ChatStream(ctx context.Context, req *ChatRequest, onDelta func(text string)) (*ChatResponse, error)
}

// Finish reasons a ChatResponse can carry. Unknown provider-specific values
// are passed through untouched.
const (
	FinishStop            = "stop"
	FinishToolCalls       = "tool_calls"
	FinishLength          = "length"
	FinishError           = "error"
	FinishGuardrail       = "guardrail_intervened"
	FinishContentFiltered = "content_filtered"
)

// ChatRequest is a provider-agnostic completion request.
type ChatRequest struct {
	Model       string           `json:"model,omitempty"`
	Messages    []ChatMessage    `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
}

// ChatMessage is one provider-agnostic conversation entry.
//
// ReasoningContent and ExtraContent are opaque provider fields that must be
// round-tripped verbatim on assistant messages; dropping them breaks
// providers that sign their reasoning blocks.
type ChatMessage struct {
	Role             string            `json:"role"`
	Content          string            `json:"content,omitempty"`
	Blocks           []ContentBlock    `json:"blocks,omitempty"`
	ToolCalls        []models.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string            `json:"tool_call_id,omitempty"`
	ToolName         string            `json:"tool_name,omitempty"`
	ReasoningContent string            `json:"reasoning_content,omitempty"`
	ExtraContent     json.RawMessage   `json:"extra_content,omitempty"`
}

// ContentBlock is one element of a multimodal message body.
type ContentBlock struct {
	Type     string `json:"type"` // text, image
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"` // base64 payload
}

// ToolDefinition is what the LLM sees for one tool.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema"`
}

// ChatResponse is the provider-agnostic completion result.
type ChatResponse struct {
	Content          string            `json:"content,omitempty"`
	ToolCalls        []models.ToolCall `json:"tool_calls,omitempty"`
	FinishReason     string            `json:"finish_reason"`
	Usage            models.TokenUsage `json:"usage"`
	ReasoningContent string            `json:"reasoning_content,omitempty"`
	ExtraContent     json.RawMessage   `json:"extra_content,omitempty"`
}

// IsHardStop reports whether the response carries a content-policy finish
// reason that must end the tool loop immediately.
func (r *ChatResponse) IsHardStop() bool {
	return r.FinishReason == FinishGuardrail || r.FinishReason == FinishContentFiltered
}

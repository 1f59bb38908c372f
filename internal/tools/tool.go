// Package tools defines the agent's capability set: the Tool interface, the
// constrained JSON-schema subset tools describe their parameters with, and the
// name-keyed registry the executor resolves calls against.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/relay/pkg/models"
)

// Tool is one executable capability exposed to the LLM.
//
// Execute must never panic across the boundary; failures are reported as a
// ToolResult with Success=false so the model can react to them.
type Tool interface {
	// Name returns the tool name for LLM function calling.
	Name() string

	// Description returns a natural language description of what the tool does.
	Description() string

	// Parameters returns the tool's parameter schema.
	Parameters() *Schema

	// Execute runs the tool with the given decoded arguments.
	Execute(ctx context.Context, params map[string]any) *models.ToolResult
}

// RawSchemaTool is implemented by tools (MCP-proxied ones) whose schema is
// sent to the LLM verbatim instead of being rebuilt from a Schema.
type RawSchemaTool interface {
	Tool

	// RawSchema returns the passthrough JSON schema.
	RawSchema() json.RawMessage
}

// Property describes one named parameter in a tool schema.
type Property struct {
	Type        string    `json:"type"` // string, number, boolean, array, object
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// Schema is the constrained JSON-schema subset tools describe parameters with.
type Schema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// MarshalJSON renders the schema as a standard JSON-schema object.
func (s *Schema) MarshalJSON() ([]byte, error) {
	props := s.Properties
	if props == nil {
		props = map[string]Property{}
	}
	return json.Marshal(struct {
		Type       string              `json:"type"`
		Properties map[string]Property `json:"properties"`
		Required   []string            `json:"required,omitempty"`
	}{
		Type:       "object",
		Properties: props,
		Required:   s.Required,
	})
}

// SchemaJSON returns the JSON the LLM sees for a tool's parameters, honoring
// raw passthrough schemas.
func SchemaJSON(t Tool) json.RawMessage {
	if raw, ok := t.(RawSchemaTool); ok {
		return raw.RawSchema()
	}
	payload, err := json.Marshal(t.Parameters())
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return payload
}

type sessionKeyContextKey struct{}

// WithSessionKey attaches the current session key to the context so tools with
// per-session state (rate limits, per-chat defaults) can observe it.
func WithSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, sessionKeyContextKey{}, key)
}

// SessionKeyFrom returns the session key attached by WithSessionKey, or "".
func SessionKeyFrom(ctx context.Context) string {
	if key, ok := ctx.Value(sessionKeyContextKey{}).(string); ok {
		return key
	}
	return ""
}

// Errorf builds an error-shaped ToolResult.
func Errorf(format string, args ...any) *models.ToolResult {
	return &models.ToolResult{Success: false, Content: fmt.Sprintf(format, args...)}
}

// OK builds a successful ToolResult.
func OK(content string) *models.ToolResult {
	return &models.ToolResult{Success: true, Content: content}
}

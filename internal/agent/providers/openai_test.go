package providers

import (
	"encoding/json"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/relay/internal/agent"
	"github.com/haasonsaas/relay/pkg/models"
)

func TestConvertOpenAIMessagesKeepsSystemInline(t *testing.T) {
	messages := []agent.ChatMessage{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
	}

	converted := convertOpenAIMessages(messages)
	if len(converted) != 2 {
		t.Fatalf("got %d messages, want 2", len(converted))
	}
	if converted[0].Role != openai.ChatMessageRoleSystem || converted[0].Content != "be terse" {
		t.Errorf("system message not inline: %+v", converted[0])
	}
}

func TestConvertOpenAIMessagesToolResultPerMessage(t *testing.T) {
	messages := []agent.ChatMessage{
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{"text":"x"}`)},
		}},
		{Role: "tool", ToolCallID: "c1", Content: "x"},
	}

	converted := convertOpenAIMessages(messages)
	if len(converted) != 2 {
		t.Fatalf("got %d messages, want 2", len(converted))
	}

	assistant := converted[0]
	if len(assistant.ToolCalls) != 1 {
		t.Fatalf("assistant tool calls missing: %+v", assistant)
	}
	if assistant.ToolCalls[0].Function.Name != "echo" || assistant.ToolCalls[0].Function.Arguments != `{"text":"x"}` {
		t.Errorf("unexpected tool call: %+v", assistant.ToolCalls[0])
	}

	result := converted[1]
	if result.Role != openai.ChatMessageRoleTool || result.ToolCallID != "c1" || result.Content != "x" {
		t.Errorf("unexpected tool result message: %+v", result)
	}
}

func TestConvertOpenAIMessagesImageBlocksBecomeDataURLs(t *testing.T) {
	messages := []agent.ChatMessage{
		{Role: "user", Blocks: []agent.ContentBlock{
			{Type: "text", Text: "what is this"},
			{Type: "image", MimeType: "image/png", Data: "aGVsbG8="},
		}},
	}

	converted := convertOpenAIMessages(messages)
	parts := converted[0].MultiContent
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	if parts[0].Type != openai.ChatMessagePartTypeText || parts[0].Text != "what is this" {
		t.Errorf("unexpected text part: %+v", parts[0])
	}
	if parts[1].Type != openai.ChatMessagePartTypeImageURL {
		t.Fatalf("unexpected image part: %+v", parts[1])
	}
	if !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("image URL = %q", parts[1].ImageURL.URL)
	}
}

func TestConvertOpenAIToolsBadSchemaDegrades(t *testing.T) {
	defs := []agent.ToolDefinition{
		{Name: "good", Schema: json.RawMessage(`{"type":"object","properties":{}}`)},
		{Name: "bad", Schema: json.RawMessage(`{broken`)},
	}

	tools := convertOpenAITools(defs)
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	if tools[1].Function.Name != "bad" {
		t.Errorf("bad tool dropped instead of degraded: %+v", tools[1])
	}
	params, ok := tools[1].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("bad schema not replaced with empty object: %+v", tools[1].Function.Parameters)
	}
}

func TestOpenAIFinishReason(t *testing.T) {
	tests := []struct {
		reason       string
		hasToolCalls bool
		want         string
	}{
		{"stop", false, agent.FinishStop},
		{"tool_calls", true, agent.FinishToolCalls},
		{"function_call", true, agent.FinishToolCalls},
		{"length", false, agent.FinishLength},
		{"content_filter", false, agent.FinishContentFiltered},
		{"", true, agent.FinishToolCalls},
		{"", false, agent.FinishStop},
	}
	for _, tt := range tests {
		if got := openAIFinishReason(tt.reason, tt.hasToolCalls); got != tt.want {
			t.Errorf("openAIFinishReason(%q, %v) = %q, want %q", tt.reason, tt.hasToolCalls, got, tt.want)
		}
	}
}

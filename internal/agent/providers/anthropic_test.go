package providers

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/relay/internal/agent"
	"github.com/haasonsaas/relay/pkg/models"
)

func TestConvertAnthropicMessagesStripsSystem(t *testing.T) {
	messages := []agent.ChatMessage{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
	}

	converted, err := convertAnthropicMessages(messages)
	if err != nil {
		t.Fatalf("convertAnthropicMessages: %v", err)
	}
	if len(converted) != 1 {
		t.Fatalf("got %d messages, want 1", len(converted))
	}
	if converted[0].Content[0].OfText == nil || converted[0].Content[0].OfText.Text != "hi" {
		t.Errorf("unexpected first message: %+v", converted[0])
	}
}

func TestConvertAnthropicMessagesMergesAdjacentToolResults(t *testing.T) {
	messages := []agent.ChatMessage{
		{Role: "user", Content: "do two things"},
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "a", Name: "first", Arguments: json.RawMessage(`{}`)},
			{ID: "b", Name: "second", Arguments: json.RawMessage(`{}`)},
		}},
		{Role: "tool", ToolCallID: "a", Content: "one"},
		{Role: "tool", ToolCallID: "b", Content: "two"},
	}

	converted, err := convertAnthropicMessages(messages)
	if err != nil {
		t.Fatalf("convertAnthropicMessages: %v", err)
	}
	if len(converted) != 3 {
		t.Fatalf("got %d messages, want 3 (user, assistant, merged results)", len(converted))
	}

	assistant := converted[1]
	if len(assistant.Content) != 2 || assistant.Content[0].OfToolUse == nil {
		t.Fatalf("assistant tool_use blocks missing: %+v", assistant.Content)
	}
	if assistant.Content[0].OfToolUse.Name != "first" {
		t.Errorf("tool_use name = %q", assistant.Content[0].OfToolUse.Name)
	}

	results := converted[2]
	if len(results.Content) != 2 {
		t.Fatalf("tool results not merged: %d blocks", len(results.Content))
	}
	if results.Content[0].OfToolResult == nil || results.Content[0].OfToolResult.ToolUseID != "a" {
		t.Errorf("first tool result wrong: %+v", results.Content[0])
	}
	if results.Content[1].OfToolResult == nil || results.Content[1].OfToolResult.ToolUseID != "b" {
		t.Errorf("second tool result wrong: %+v", results.Content[1])
	}
}

func TestConvertAnthropicMessagesRejectsBadArguments(t *testing.T) {
	messages := []agent.ChatMessage{
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "a", Name: "broken", Arguments: json.RawMessage(`{not json`)},
		}},
	}
	if _, err := convertAnthropicMessages(messages); err == nil {
		t.Fatal("expected error for invalid tool arguments")
	}
}

func TestConvertAnthropicToolsSetsDescription(t *testing.T) {
	defs := []agent.ToolDefinition{
		{Name: "echo", Description: "repeats input", Schema: json.RawMessage(`{"type":"object","properties":{}}`)},
	}

	tools, err := convertAnthropicTools(defs)
	if err != nil {
		t.Fatalf("convertAnthropicTools: %v", err)
	}
	if len(tools) != 1 || tools[0].OfTool == nil {
		t.Fatalf("unexpected tools: %+v", tools)
	}
	if tools[0].OfTool.Name != "echo" {
		t.Errorf("name = %q", tools[0].OfTool.Name)
	}
	if tools[0].OfTool.Description.Value != "repeats input" {
		t.Errorf("description = %q", tools[0].OfTool.Description.Value)
	}
}

func TestAnthropicFinishReason(t *testing.T) {
	tests := []struct {
		stopReason   string
		hasToolCalls bool
		want         string
	}{
		{"end_turn", false, agent.FinishStop},
		{"stop_sequence", false, agent.FinishStop},
		{"tool_use", true, agent.FinishToolCalls},
		{"max_tokens", false, agent.FinishLength},
		{"refusal", false, agent.FinishContentFiltered},
		{"", true, agent.FinishToolCalls},
		{"", false, agent.FinishStop},
		{"pause_turn", false, "pause_turn"},
	}
	for _, tt := range tests {
		if got := anthropicFinishReason(tt.stopReason, tt.hasToolCalls); got != tt.want {
			t.Errorf("anthropicFinishReason(%q, %v) = %q, want %q", tt.stopReason, tt.hasToolCalls, got, tt.want)
		}
	}
}

func TestSystemPromptJoinsSystemEntries(t *testing.T) {
	messages := []agent.ChatMessage{
		{Role: "system", Content: "first"},
		{Role: "user", Content: "hi"},
		{Role: "system", Content: "second"},
	}
	if got := systemPrompt(messages); got != "first\n\nsecond" {
		t.Errorf("systemPrompt = %q", got)
	}
	if got := systemPrompt(nil); got != "" {
		t.Errorf("empty transcript produced system prompt %q", got)
	}
}

package providers

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/haasonsaas/relay/internal/agent"
	"github.com/haasonsaas/relay/pkg/models"
)

func TestConvertBedrockMessagesMergesAdjacentToolResults(t *testing.T) {
	messages := []agent.ChatMessage{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "go"},
		{Role: "assistant", ToolCalls: []models.ToolCall{
			{ID: "a", Name: "first", Arguments: json.RawMessage(`{"x":1}`)},
		}},
		{Role: "tool", ToolCallID: "a", Content: "done"},
		{Role: "tool", ToolCallID: "b", Content: "also done"},
	}

	converted, err := convertBedrockMessages(messages)
	if err != nil {
		t.Fatalf("convertBedrockMessages: %v", err)
	}
	if len(converted) != 3 {
		t.Fatalf("got %d messages, want 3", len(converted))
	}
	if converted[0].Role != types.ConversationRoleUser {
		t.Errorf("first message role = %v", converted[0].Role)
	}

	assistant := converted[1]
	if assistant.Role != types.ConversationRoleAssistant {
		t.Fatalf("assistant role = %v", assistant.Role)
	}
	toolUse, ok := assistant.Content[0].(*types.ContentBlockMemberToolUse)
	if !ok {
		t.Fatalf("expected tool_use block, got %T", assistant.Content[0])
	}
	if aws.ToString(toolUse.Value.Name) != "first" {
		t.Errorf("tool name = %q", aws.ToString(toolUse.Value.Name))
	}

	results := converted[2]
	if len(results.Content) != 2 {
		t.Fatalf("tool results not merged: %d blocks", len(results.Content))
	}
	first, ok := results.Content[0].(*types.ContentBlockMemberToolResult)
	if !ok || aws.ToString(first.Value.ToolUseId) != "a" {
		t.Errorf("unexpected first result: %+v", results.Content[0])
	}
}

func TestConvertBedrockToolsBuildsToolConfig(t *testing.T) {
	defs := []agent.ToolDefinition{
		{Name: "echo", Description: "repeats", Schema: json.RawMessage(`{"type":"object","properties":{}}`)},
	}

	cfg := convertBedrockTools(defs)
	if len(cfg.Tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(cfg.Tools))
	}
	spec, ok := cfg.Tools[0].(*types.ToolMemberToolSpec)
	if !ok {
		t.Fatalf("unexpected tool type %T", cfg.Tools[0])
	}
	if aws.ToString(spec.Value.Name) != "echo" || aws.ToString(spec.Value.Description) != "repeats" {
		t.Errorf("unexpected spec: %+v", spec.Value)
	}
}

func TestBedrockImageFormat(t *testing.T) {
	tests := []struct {
		mime string
		want types.ImageFormat
		ok   bool
	}{
		{"image/png", types.ImageFormatPng, true},
		{"image/jpeg", types.ImageFormatJpeg, true},
		{"image/jpg", types.ImageFormatJpeg, true},
		{"image/webp", types.ImageFormatWebp, true},
		{"application/pdf", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := bedrockImageFormat(tt.mime)
		if got != tt.want || ok != tt.ok {
			t.Errorf("bedrockImageFormat(%q) = (%v, %v), want (%v, %v)", tt.mime, got, ok, tt.want, tt.ok)
		}
	}
}

func TestBedrockFinishReason(t *testing.T) {
	tests := []struct {
		stopReason   string
		hasToolCalls bool
		want         string
	}{
		{"end_turn", false, agent.FinishStop},
		{"tool_use", true, agent.FinishToolCalls},
		{"max_tokens", false, agent.FinishLength},
		{"guardrail_intervened", false, agent.FinishGuardrail},
		{"content_filtered", false, agent.FinishContentFiltered},
		{"", false, agent.FinishStop},
		{"", true, agent.FinishToolCalls},
	}
	for _, tt := range tests {
		if got := bedrockFinishReason(tt.stopReason, tt.hasToolCalls); got != tt.want {
			t.Errorf("bedrockFinishReason(%q, %v) = %q, want %q", tt.stopReason, tt.hasToolCalls, got, tt.want)
		}
	}
}

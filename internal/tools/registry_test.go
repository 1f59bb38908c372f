package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/relay/pkg/models"
)

type fakeTool struct {
	name    string
	execute func(ctx context.Context, params map[string]any) *models.ToolResult
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake tool" }
func (f *fakeTool) Parameters() *Schema {
	return &Schema{Properties: map[string]Property{
		"value": {Type: "string", Description: "any value"},
	}}
}
func (f *fakeTool) Execute(ctx context.Context, params map[string]any) *models.ToolResult {
	if f.execute != nil {
		return f.execute(ctx, params)
	}
	return OK("ok")
}

func TestRegistryRegisterOverwrites(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "echo", execute: func(context.Context, map[string]any) *models.ToolResult {
		return OK("first")
	}})
	reg.Register(&fakeTool{name: "echo", execute: func(context.Context, map[string]any) *models.ToolResult {
		return OK("second")
	}})

	res := reg.Execute(context.Background(), "echo", nil)
	if !res.Success || res.Content != "second" {
		t.Errorf("expected last-registered tool to win, got %+v", res)
	}
	if len(reg.List()) != 1 {
		t.Errorf("expected 1 tool, got %d", len(reg.List()))
	}
}

func TestRegistryListSortedByName(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"spawn", "cron", "message"} {
		reg.Register(&fakeTool{name: name})
	}
	want := []string{"cron", "message", "spawn"}
	for i := 0; i < 5; i++ {
		listed := reg.List()
		for j, tool := range listed {
			if tool.Name() != want[j] {
				t.Fatalf("List()[%d] = %q, want %q", j, tool.Name(), want[j])
			}
		}
	}
}

func TestRegistryUnknownToolReturnsErrorResult(t *testing.T) {
	reg := NewRegistry()
	res := reg.Execute(context.Background(), "missing", nil)
	if res.Success {
		t.Fatal("expected error result")
	}
	if res.Content != "tool not found: missing" {
		t.Errorf("unexpected content %q", res.Content)
	}
}

func TestRegistryRecoversToolPanic(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "buggy", execute: func(context.Context, map[string]any) *models.ToolResult {
		panic("boom")
	}})
	res := reg.Execute(context.Background(), "buggy", nil)
	if res.Success {
		t.Fatal("expected error result from panicking tool")
	}
}

func TestRegistryCloneIsIndependent(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeTool{name: "base"})

	clone := reg.Clone()
	clone.Register(&fakeTool{name: "extra"})
	clone.Unregister("base")

	if !reg.Has("base") {
		t.Error("clone mutation removed tool from base registry")
	}
	if reg.Has("extra") {
		t.Error("clone registration leaked into base registry")
	}
}

func TestSessionKeyRoundTrip(t *testing.T) {
	ctx := WithSessionKey(context.Background(), "telegram:42")
	if got := SessionKeyFrom(ctx); got != "telegram:42" {
		t.Errorf("SessionKeyFrom = %q", got)
	}
	if got := SessionKeyFrom(context.Background()); got != "" {
		t.Errorf("expected empty key, got %q", got)
	}
}

func TestSchemaJSONMarshalsConstrainedSubset(t *testing.T) {
	tool := &fakeTool{name: "echo"}
	payload := SchemaJSON(tool)

	var decoded struct {
		Type       string                    `json:"type"`
		Properties map[string]map[string]any `json:"properties"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	if decoded.Type != "object" {
		t.Errorf("type = %q", decoded.Type)
	}
	if _, ok := decoded.Properties["value"]; !ok {
		t.Errorf("missing property in %s", payload)
	}
}

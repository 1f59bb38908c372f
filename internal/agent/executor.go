package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/relay/internal/tools"
	"github.com/haasonsaas/relay/pkg/models"
)

// Executor defaults. The thresholds are configurable but the defaults are
// load-bearing: changing them changes observable transcript shapes.
const (
	DefaultMaxIterations     = 20
	DefaultTruncateThreshold = 500
)

// truncatedPlaceholder is what an old iteration's oversized tool result is
// replaced with. It retains the tool name so the model can still tell which
// call produced it.
const truncatedPlaceholder = "[%s output truncated; re-run the tool if you need it again]"

// ExecuteConfig parameterizes one executor run.
type ExecuteConfig struct {
	// MaxIterations bounds the number of LLM round-trips (default 20).
	MaxIterations int

	// ExcludeTools are hidden from the LLM's tool list but remain
	// executable if invoked anyway.
	ExcludeTools []string

	// StopAfterTool names a tool that, once executed, ends the run
	// immediately without a further LLM round-trip.
	StopAfterTool string

	// SessionKey is passed through to tools needing per-session state.
	SessionKey string

	// OnDelta, when set, routes incremental response text and switches the
	// run to the provider's streaming path.
	OnDelta func(text string)

	// TruncateThreshold is the size above which old iterations' tool
	// results are truncated (default 500 bytes).
	TruncateThreshold int

	Model       string
	MaxTokens   int
	Temperature float64
}

// ExecuteResult is the outcome of one executor run.
//
// Content is nil when no final text answer was produced: a matched
// StopAfterTool, or iteration exhaustion. The agent loop distinguishes those
// from an empty answer.
type ExecuteResult struct {
	Content      *string
	ToolsUsed    []string
	Usage        models.TokenUsage
	FinishReason string
	Iterations   int
}

// Executor drives the tool-calling conversation loop between the provider and
// the tool registry until a final answer, a hard stop, or exhaustion. One
// Execute call is single-threaded; run concurrency lives above it.
type Executor struct {
	provider Provider
	logger   *slog.Logger
}

// NewExecutor creates an executor over provider.
func NewExecutor(provider Provider, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{provider: provider, logger: logger.With("component", "executor")}
}

// Execute runs the tool loop over messages with the given registry.
func (e *Executor) Execute(ctx context.Context, messages []ChatMessage, registry *tools.Registry, cfg ExecuteConfig) *ExecuteResult {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.TruncateThreshold <= 0 {
		cfg.TruncateThreshold = DefaultTruncateThreshold
	}
	if cfg.SessionKey != "" {
		ctx = tools.WithSessionKey(ctx, cfg.SessionKey)
	}

	transcript := append([]ChatMessage{}, messages...)
	result := &ExecuteResult{}
	called := map[string]bool{}

	// Message index ranges of each iteration's tool results, for truncation.
	var resultRanges [][2]int

	for iteration := 0; iteration < cfg.MaxIterations; iteration++ {
		result.Iterations = iteration + 1

		req := &ChatRequest{
			Model:       cfg.Model,
			Messages:    transcript,
			Tools:       e.toolDefinitions(registry, called, cfg.ExcludeTools),
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}

		resp := e.roundTrip(ctx, req, cfg.OnDelta)
		result.Usage.Add(resp.Usage)
		result.FinishReason = resp.FinishReason

		if resp.IsHardStop() {
			content := resp.Content
			result.Content = &content
			return result
		}

		if len(resp.ToolCalls) == 0 {
			content := resp.Content
			result.Content = &content
			return result
		}

		transcript = append(transcript, ChatMessage{
			Role:             "assistant",
			Content:          resp.Content,
			ToolCalls:        resp.ToolCalls,
			ReasoningContent: resp.ReasoningContent,
			ExtraContent:     resp.ExtraContent,
		})

		rangeStart := len(transcript)
		stopMatched := false
		for _, call := range resp.ToolCalls {
			toolResult := e.executeCall(ctx, registry, call)
			called[call.Name] = true
			if !containsString(result.ToolsUsed, call.Name) {
				result.ToolsUsed = append(result.ToolsUsed, call.Name)
			}
			transcript = append(transcript, ChatMessage{
				Role:       "tool",
				Content:    toolResult.Content,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
			if cfg.StopAfterTool != "" && call.Name == cfg.StopAfterTool {
				stopMatched = true
			}
		}
		resultRanges = append(resultRanges, [2]int{rangeStart, len(transcript)})

		if stopMatched {
			return result
		}

		truncateOldResults(transcript, resultRanges, cfg.TruncateThreshold)
	}

	e.logger.Warn("tool loop exhausted without a final answer",
		"session_key", cfg.SessionKey,
		"iterations", cfg.MaxIterations,
		"tools_used", result.ToolsUsed)
	return result
}

// roundTrip performs one provider call, converting transport failures into an
// error-finish response so the loop can return gracefully.
func (e *Executor) roundTrip(ctx context.Context, req *ChatRequest, onDelta func(string)) *ChatResponse {
	var resp *ChatResponse
	var err error
	if onDelta != nil {
		resp, err = e.provider.ChatStream(ctx, req, onDelta)
	} else {
		resp, err = e.provider.Chat(ctx, req)
	}
	if err != nil {
		e.logger.Error("provider call failed", "provider", e.provider.Name(), "error", err)
		return &ChatResponse{
			Content:      fmt.Sprintf("The language model request failed: %v", err),
			FinishReason: FinishError,
		}
	}
	if resp == nil {
		return &ChatResponse{
			Content:      "The language model returned an empty response.",
			FinishReason: FinishError,
		}
	}
	return resp
}

// executeCall resolves and runs one tool call. Unknown tools and decode
// failures come back as error results, never as loop aborts.
func (e *Executor) executeCall(ctx context.Context, registry *tools.Registry, call models.ToolCall) *models.ToolResult {
	params := map[string]any{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &params); err != nil {
			return tools.Errorf("invalid arguments for %s: %v", call.Name, err)
		}
	}
	result := registry.Execute(ctx, call.Name, params)
	if !result.Success {
		e.logger.Warn("tool execution failed", "tool", call.Name, "error", result.Content)
	}
	return result
}

// toolDefinitions builds the definitions array with progressive disclosure:
// tools already called this run are sent compact (name and schema only),
// excluded tools are omitted entirely but stay invocable.
func (e *Executor) toolDefinitions(registry *tools.Registry, called map[string]bool, exclude []string) []ToolDefinition {
	var defs []ToolDefinition
	for _, tool := range registry.List() {
		if containsString(exclude, tool.Name()) {
			continue
		}
		def := ToolDefinition{
			Name:   tool.Name(),
			Schema: tools.SchemaJSON(tool),
		}
		if !called[tool.Name()] {
			def.Description = tool.Description()
		}
		defs = append(defs, def)
	}
	return defs
}

// truncateOldResults replaces oversized tool results from iterations older
// than the most recent one with a short placeholder. Only kicks in once at
// least two iterations have produced results, so short exchanges keep full
// outputs.
func truncateOldResults(transcript []ChatMessage, resultRanges [][2]int, threshold int) {
	if len(resultRanges) < 2 {
		return
	}
	for _, r := range resultRanges[:len(resultRanges)-1] {
		for i := r[0]; i < r[1]; i++ {
			if len(transcript[i].Content) > threshold {
				transcript[i].Content = fmt.Sprintf(truncatedPlaceholder, transcript[i].ToolName)
			}
		}
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

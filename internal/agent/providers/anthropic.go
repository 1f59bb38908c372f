package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/relay/internal/agent"
	"github.com/haasonsaas/relay/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// maxEmptyStreamEvents bounds how many consecutive events may carry no
// payload before the stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicProvider implements agent.Provider on top of the official
// Anthropic SDK. Requests always go through the streaming API; Chat simply
// discards the deltas.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	base         baseProvider
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// NewAnthropicProvider creates an Anthropic-backed provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultAnthropicModel
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: cfg.DefaultModel,
		base:         newBaseProvider("anthropic", cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Chat performs one completion round-trip.
func (p *AnthropicProvider) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	return p.ChatStream(ctx, req, nil)
}

// ChatStream performs one completion round-trip, forwarding text deltas to
// onDelta as they arrive.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req *agent.ChatRequest, onDelta func(string)) (*agent.ChatResponse, error) {
	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if system := systemPrompt(req.Messages); system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	// Once a delta reached the caller a retry would duplicate output, so
	// only transport failures before the first token are retried.
	var resp *agent.ChatResponse
	emitted := false
	err = p.base.retry(ctx,
		func(err error) bool { return !emitted && retryableMessage(err) },
		func() error {
			var consumeErr error
			resp, emitted, consumeErr = p.consume(p.client.Messages.NewStreaming(ctx, params), onDelta)
			return consumeErr
		})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// consume drains one SSE stream into a ChatResponse. The second return value
// reports whether any text delta was forwarded to the caller.
func (p *AnthropicProvider) consume(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], onDelta func(string)) (*agent.ChatResponse, bool, error) {
	defer stream.Close()

	var (
		text        strings.Builder
		reasoning   strings.Builder
		toolInput   strings.Builder
		toolCalls   []models.ToolCall
		currentTool *models.ToolCall
		usage       models.TokenUsage
		stopReason  string
	)
	emitted := false
	emptyEvents := 0

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				usage.PromptTokens = int(start.Message.Usage.InputTokens)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentTool = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				toolInput.Reset()
			}
			processed = true

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					text.WriteString(delta.Text)
					if onDelta != nil {
						onDelta(delta.Text)
					}
					emitted = true
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					reasoning.WriteString(delta.Thinking)
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if currentTool != nil {
				args := toolInput.String()
				if args == "" {
					args = "{}"
				}
				currentTool.Arguments = json.RawMessage(args)
				toolCalls = append(toolCalls, *currentTool)
				currentTool = nil
			}
			processed = true

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				usage.CompletionTokens = int(delta.Usage.OutputTokens)
			}
			if delta.Delta.StopReason != "" {
				stopReason = string(delta.Delta.StopReason)
			}
			processed = true

		case "message_stop":
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			return &agent.ChatResponse{
				Content:          text.String(),
				ToolCalls:        toolCalls,
				FinishReason:     anthropicFinishReason(stopReason, len(toolCalls) > 0),
				Usage:            usage,
				ReasoningContent: reasoning.String(),
			}, emitted, nil

		case "error":
			return nil, emitted, errors.New("anthropic: stream error")
		}

		if processed {
			emptyEvents = 0
			continue
		}
		emptyEvents++
		if emptyEvents >= maxEmptyStreamEvents {
			return nil, emitted, fmt.Errorf("anthropic: stream malformed: %d consecutive empty events", emptyEvents)
		}
	}

	if err := stream.Err(); err != nil {
		return nil, emitted, fmt.Errorf("anthropic: %w", err)
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return &agent.ChatResponse{
		Content:          text.String(),
		ToolCalls:        toolCalls,
		FinishReason:     anthropicFinishReason(stopReason, len(toolCalls) > 0),
		Usage:            usage,
		ReasoningContent: reasoning.String(),
	}, emitted, nil
}

func (p *AnthropicProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// convertAnthropicMessages maps the transcript to Anthropic message params.
// System entries are stripped; they travel in the dedicated system field.
// Adjacent tool results fold into a single user message, as the API expects
// all results for one assistant turn together.
func convertAnthropicMessages(messages []agent.ChatMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		switch msg.Role {
		case "system":
			continue

		case "tool":
			var content []anthropic.ContentBlockParamUnion
			for ; i < len(messages) && messages[i].Role == "tool"; i++ {
				content = append(content, anthropic.NewToolResultBlock(messages[i].ToolCallID, messages[i].Content, false))
			}
			i--
			result = append(result, anthropic.NewUserMessage(content...))

		case "assistant":
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				input := map[string]any{}
				if len(call.Arguments) > 0 {
					if err := json.Unmarshal(call.Arguments, &input); err != nil {
						return nil, fmt.Errorf("invalid arguments for tool %s: %w", call.Name, err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(content...))

		default:
			var content []anthropic.ContentBlockParamUnion
			for _, block := range msg.Blocks {
				switch block.Type {
				case "image":
					content = append(content, anthropic.NewImageBlockBase64(block.MimeType, block.Data))
				default:
					content = append(content, anthropic.NewTextBlock(block.Text))
				}
			}
			if len(msg.Blocks) == 0 && msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func convertAnthropicTools(defs []agent.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", def.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for tool %s: missing tool definition", def.Name)
		}
		param.OfTool.Description = anthropic.String(def.Description)
		result = append(result, param)
	}
	return result, nil
}

func anthropicFinishReason(stopReason string, hasToolCalls bool) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return agent.FinishStop
	case "tool_use":
		return agent.FinishToolCalls
	case "max_tokens":
		return agent.FinishLength
	case "refusal":
		return agent.FinishContentFiltered
	}
	if hasToolCalls {
		return agent.FinishToolCalls
	}
	if stopReason == "" {
		return agent.FinishStop
	}
	return stopReason
}

// systemPrompt joins the system entries of a transcript.
func systemPrompt(messages []agent.ChatMessage) string {
	var parts []string
	for _, msg := range messages {
		if msg.Role == "system" && msg.Content != "" {
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

func maxTokensOrDefault(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

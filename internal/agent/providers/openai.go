package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/relay/internal/agent"
	"github.com/haasonsaas/relay/pkg/models"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIProvider implements agent.Provider for OpenAI chat models and any
// OpenAI-compatible endpoint reachable through a custom base URL.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	base         baseProvider
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// NewOpenAIProvider creates an OpenAI-backed provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultOpenAIModel
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		base:         newBaseProvider("openai", cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Chat performs one completion round-trip.
func (p *OpenAIProvider) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	return p.ChatStream(ctx, req, nil)
}

// ChatStream performs one completion round-trip, forwarding text deltas to
// onDelta as they arrive.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req *agent.ChatRequest, onDelta func(string)) (*agent.ChatResponse, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:         p.model(req.Model),
		Messages:      convertOpenAIMessages(req.Messages),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	err := p.base.retry(ctx, retryableMessage, func() error {
		var createErr error
		stream, createErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		return createErr
	})
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	return p.consume(ctx, stream, onDelta)
}

// consume drains the stream, accumulating text, usage, and the incrementally
// streamed tool call fragments keyed by index.
func (p *OpenAIProvider) consume(ctx context.Context, stream *openai.ChatCompletionStream, onDelta func(string)) (*agent.ChatResponse, error) {
	defer stream.Close()

	var (
		text         strings.Builder
		reasoning    strings.Builder
		usage        models.TokenUsage
		finishReason string
	)
	toolCalls := make(map[int]*models.ToolCall)
	toolArgs := make(map[int]*strings.Builder)
	var order []int

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("openai: %w", err)
		}

		if response.Usage != nil {
			usage.PromptTokens = response.Usage.PromptTokens
			usage.CompletionTokens = response.Usage.CompletionTokens
			usage.TotalTokens = response.Usage.TotalTokens
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			if onDelta != nil {
				onDelta(choice.Delta.Content)
			}
		}
		if choice.Delta.ReasoningContent != "" {
			reasoning.WriteString(choice.Delta.ReasoningContent)
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call, ok := toolCalls[index]
			if !ok {
				call = &models.ToolCall{}
				toolCalls[index] = call
				toolArgs[index] = &strings.Builder{}
				order = append(order, index)
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolArgs[index].WriteString(tc.Function.Arguments)
			}
		}

		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
	}

	var calls []models.ToolCall
	for _, index := range order {
		call := toolCalls[index]
		if call.ID == "" || call.Name == "" {
			continue
		}
		args := toolArgs[index].String()
		if args == "" {
			args = "{}"
		}
		call.Arguments = json.RawMessage(args)
		calls = append(calls, *call)
	}

	return &agent.ChatResponse{
		Content:          text.String(),
		ToolCalls:        calls,
		FinishReason:     openAIFinishReason(finishReason, len(calls) > 0),
		Usage:            usage,
		ReasoningContent: reasoning.String(),
	}, nil
}

func (p *OpenAIProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// convertOpenAIMessages maps the transcript to the OpenAI wire format. The
// system prompt stays in the messages array; tool results become one message
// per result with role "tool".
func convertOpenAIMessages(messages []agent.ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})

		case "assistant":
			out := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				out.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, call := range msg.ToolCalls {
					out.ToolCalls[i] = openai.ToolCall{
						ID:   call.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      call.Name,
							Arguments: string(call.Arguments),
						},
					}
				}
			}
			result = append(result, out)

		default:
			out := openai.ChatCompletionMessage{Role: msg.Role}
			if len(msg.Blocks) > 0 {
				parts := make([]openai.ChatMessagePart, 0, len(msg.Blocks))
				for _, block := range msg.Blocks {
					switch block.Type {
					case "image":
						parts = append(parts, openai.ChatMessagePart{
							Type: openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{
								URL:    fmt.Sprintf("data:%s;base64,%s", block.MimeType, block.Data),
								Detail: openai.ImageURLDetailAuto,
							},
						})
					default:
						parts = append(parts, openai.ChatMessagePart{
							Type: openai.ChatMessagePartTypeText,
							Text: block.Text,
						})
					}
				}
				out.MultiContent = parts
			} else {
				out.Content = msg.Content
			}
			result = append(result, out)
		}
	}

	return result
}

func convertOpenAITools(defs []agent.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(defs))
	for i, def := range defs {
		var schema map[string]any
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			// One bad schema must not break the rest of the tool set.
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func openAIFinishReason(reason string, hasToolCalls bool) string {
	switch reason {
	case "stop":
		return agent.FinishStop
	case "tool_calls", "function_call":
		return agent.FinishToolCalls
	case "length":
		return agent.FinishLength
	case "content_filter":
		return agent.FinishContentFiltered
	}
	if hasToolCalls {
		return agent.FinishToolCalls
	}
	if reason == "" {
		return agent.FinishStop
	}
	return reason
}

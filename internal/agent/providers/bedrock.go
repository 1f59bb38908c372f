package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/haasonsaas/relay/internal/agent"
	"github.com/haasonsaas/relay/pkg/models"
)

const defaultBedrockModel = "anthropic.claude-3-sonnet-20240229-v1:0"

// BedrockProvider implements agent.Provider on the AWS Bedrock Converse API.
// Authentication follows the AWS default credential chain unless explicit
// keys are configured.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
	region       string
	base         baseProvider
}

// BedrockConfig configures a BedrockProvider.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
	RetryDelay      time.Duration
}

// NewBedrockProvider creates a Bedrock-backed provider.
func NewBedrockProvider(cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultBedrockModel
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		region:       cfg.Region,
		base:         newBaseProvider("bedrock", cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// Name returns "bedrock".
func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// Chat performs one completion round-trip.
func (p *BedrockProvider) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	return p.ChatStream(ctx, req, nil)
}

// ChatStream performs one completion round-trip, forwarding text deltas to
// onDelta as they arrive.
func (p *BedrockProvider) ChatStream(ctx context.Context, req *agent.ChatRequest, onDelta func(string)) (*agent.ChatResponse, error) {
	messages, err := convertBedrockMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: convert messages: %w", err)
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(p.model(req.Model)),
		Messages: messages,
	}
	if system := systemPrompt(req.Messages); system != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: system},
		}
	}
	inference := &types.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		inference.MaxTokens = aws.Int32(int32(maxTokens))
	}
	if req.Temperature > 0 {
		inference.Temperature = aws.Float32(float32(req.Temperature))
	}
	if inference.MaxTokens != nil || inference.Temperature != nil {
		input.InferenceConfig = inference
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = convertBedrockTools(req.Tools)
	}

	var stream *bedrockruntime.ConverseStreamOutput
	err = p.base.retry(ctx, p.isRetryable, func() error {
		var createErr error
		stream, createErr = p.client.ConverseStream(ctx, input)
		return createErr
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock: %w", err)
	}

	return p.consume(ctx, stream, onDelta)
}

// consume drains the Converse event stream into a ChatResponse.
func (p *BedrockProvider) consume(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, onDelta func(string)) (*agent.ChatResponse, error) {
	eventStream := stream.GetStream()
	defer eventStream.Close()

	var (
		text        strings.Builder
		toolInput   strings.Builder
		toolCalls   []models.ToolCall
		currentTool *models.ToolCall
		usage       models.TokenUsage
		stopReason  string
	)

	events := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case event, ok := <-events:
			if !ok {
				if err := eventStream.Err(); err != nil {
					return nil, fmt.Errorf("bedrock: %w", err)
				}
				return &agent.ChatResponse{
					Content:      text.String(),
					ToolCalls:    toolCalls,
					FinishReason: bedrockFinishReason(stopReason, len(toolCalls) > 0),
					Usage:        usage,
				}, nil
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentTool = &models.ToolCall{
						ID:   aws.ToString(toolUse.Value.ToolUseId),
						Name: aws.ToString(toolUse.Value.Name),
					}
					toolInput.Reset()
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						text.WriteString(delta.Value)
						if onDelta != nil {
							onDelta(delta.Value)
						}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentTool != nil {
					args := toolInput.String()
					if args == "" {
						args = "{}"
					}
					currentTool.Arguments = json.RawMessage(args)
					toolCalls = append(toolCalls, *currentTool)
					currentTool = nil
					toolInput.Reset()
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				stopReason = string(ev.Value.StopReason)

			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					usage.PromptTokens = int(aws.ToInt32(ev.Value.Usage.InputTokens))
					usage.CompletionTokens = int(aws.ToInt32(ev.Value.Usage.OutputTokens))
					usage.TotalTokens = int(aws.ToInt32(ev.Value.Usage.TotalTokens))
				}
			}
		}
	}
}

func (p *BedrockProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// convertBedrockMessages maps the transcript to Converse messages. System
// entries travel separately; adjacent tool results fold into one user turn.
func convertBedrockMessages(messages []agent.ChatMessage) ([]types.Message, error) {
	var result []types.Message

	for i := 0; i < len(messages); i++ {
		msg := messages[i]
		switch msg.Role {
		case "system":
			continue

		case "tool":
			var content []types.ContentBlock
			for ; i < len(messages) && messages[i].Role == "tool"; i++ {
				content = append(content, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(messages[i].ToolCallID),
						Content: []types.ToolResultContentBlock{
							&types.ToolResultContentBlockMemberText{Value: messages[i].Content},
						},
					},
				})
			}
			i--
			result = append(result, types.Message{Role: types.ConversationRoleUser, Content: content})

		case "assistant":
			var content []types.ContentBlock
			if msg.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				var input any = map[string]any{}
				if len(call.Arguments) > 0 {
					if err := json.Unmarshal(call.Arguments, &input); err != nil {
						return nil, fmt.Errorf("invalid arguments for tool %s: %w", call.Name, err)
					}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(call.ID),
						Name:      aws.String(call.Name),
						Input:     document.NewLazyDocument(input),
					},
				})
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, types.Message{Role: types.ConversationRoleAssistant, Content: content})

		default:
			var content []types.ContentBlock
			for _, block := range msg.Blocks {
				switch block.Type {
				case "image":
					imageBlock, err := bedrockImageBlock(block)
					if err != nil {
						continue
					}
					content = append(content, imageBlock)
				default:
					if block.Text != "" {
						content = append(content, &types.ContentBlockMemberText{Value: block.Text})
					}
				}
			}
			if len(msg.Blocks) == 0 && msg.Content != "" {
				content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, types.Message{Role: types.ConversationRoleUser, Content: content})
		}
	}

	return result, nil
}

func bedrockImageBlock(block agent.ContentBlock) (*types.ContentBlockMemberImage, error) {
	format, ok := bedrockImageFormat(block.MimeType)
	if !ok {
		return nil, fmt.Errorf("unsupported image format %q", block.MimeType)
	}
	data, err := base64.StdEncoding.DecodeString(block.Data)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	return &types.ContentBlockMemberImage{
		Value: types.ImageBlock{
			Format: format,
			Source: &types.ImageSourceMemberBytes{Value: data},
		},
	}, nil
}

func bedrockImageFormat(mimeType string) (types.ImageFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png":
		return types.ImageFormatPng, true
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, true
	case "image/gif":
		return types.ImageFormatGif, true
	case "image/webp":
		return types.ImageFormatWebp, true
	default:
		return "", false
	}
}

func convertBedrockTools(defs []agent.ToolDefinition) *types.ToolConfiguration {
	bedrockTools := make([]types.Tool, len(defs))
	for i, def := range defs {
		var schema any
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		bedrockTools[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: bedrockTools}
}

// bedrockFinishReason maps Converse stop reasons, including the moderation
// outcomes that must hard-stop the tool loop.
func bedrockFinishReason(stopReason string, hasToolCalls bool) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return agent.FinishStop
	case "tool_use":
		return agent.FinishToolCalls
	case "max_tokens":
		return agent.FinishLength
	case "guardrail_intervened":
		return agent.FinishGuardrail
	case "content_filtered":
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

func (p *BedrockProvider) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "ThrottlingException") ||
		strings.Contains(msg, "TooManyRequestsException") ||
		strings.Contains(msg, "ServiceUnavailableException") {
		return true
	}
	return retryableMessage(err)
}

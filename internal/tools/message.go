package tools

import (
	"context"
	"strings"

	"github.com/haasonsaas/relay/pkg/models"
)

// SendFunc delivers an outbound message. The agent loop binds this to
// bus.PublishOutbound.
type SendFunc func(msg *models.OutboundMessage)

// MessageTool lets the model send a chat message directly. The agent loop
// constructs one per turn, bound to the turn's channel, chat and reply
// metadata, so bare calls without explicit routing go back to the requester.
type MessageTool struct {
	send SendFunc

	defaultChannel models.ChannelType
	defaultChatID  string
	metadata       map[string]string
}

// NewMessageTool creates a message tool delivering through send.
func NewMessageTool(send SendFunc) *MessageTool {
	return &MessageTool{send: send}
}

// BindTurn sets the per-turn defaults: where a call without explicit
// channel/chat_id is routed, and the reply-threading metadata to echo.
func (t *MessageTool) BindTurn(channel models.ChannelType, chatID string, metadata map[string]string) {
	t.defaultChannel = channel
	t.defaultChatID = chatID
	t.metadata = metadata
}

func (t *MessageTool) Name() string { return "message" }

func (t *MessageTool) Description() string {
	return "Send a message to a chat. Defaults to the conversation this turn came from; pass channel and chat_id to reach a different one."
}

func (t *MessageTool) Parameters() *Schema {
	return &Schema{
		Properties: map[string]Property{
			"content": {
				Type:        "string",
				Description: "Message text to send.",
			},
			"channel": {
				Type:        "string",
				Description: "Target channel (telegram, slack, whatsapp, zulip). Defaults to the current conversation's channel.",
			},
			"chat_id": {
				Type:        "string",
				Description: "Target chat id. Defaults to the current conversation.",
			},
		},
		Required: []string{"content"},
	}
}

func (t *MessageTool) Execute(ctx context.Context, params map[string]any) *models.ToolResult {
	if t.send == nil {
		return Errorf("message delivery is not configured")
	}

	content, _ := params["content"].(string)
	if strings.TrimSpace(content) == "" {
		return Errorf("content is required")
	}

	channel := t.defaultChannel
	if raw, ok := params["channel"].(string); ok && strings.TrimSpace(raw) != "" {
		channel = models.ChannelType(strings.ToLower(strings.TrimSpace(raw)))
	}
	chatID := t.defaultChatID
	if raw, ok := params["chat_id"].(string); ok && strings.TrimSpace(raw) != "" {
		chatID = strings.TrimSpace(raw)
	}
	if channel == "" || chatID == "" {
		return Errorf("no target conversation: channel and chat_id are required")
	}

	// Only echo threading metadata when replying into the same conversation.
	var metadata map[string]string
	if channel == t.defaultChannel && chatID == t.defaultChatID {
		metadata = t.metadata
	}

	t.send(&models.OutboundMessage{
		Channel:  channel,
		ChatID:   chatID,
		Content:  content,
		Metadata: metadata,
	})
	return OK("message sent")
}

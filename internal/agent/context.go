package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

// ContextBuilder assembles the provider-agnostic message array for a turn:
// a compact system prompt, the trimmed session history, and the current turn
// with any media folded in.
type ContextBuilder struct {
	workspace string
}

// NewContextBuilder creates a builder rooted at the given workspace path.
func NewContextBuilder(workspace string) *ContextBuilder {
	return &ContextBuilder{workspace: workspace}
}

// SystemPrompt returns the behavioral preamble plus the long-term memory
// document when one exists. Deliberately terse; the tool definitions carry
// their own documentation.
func (b *ContextBuilder) SystemPrompt(memory string) string {
	var sb strings.Builder
	sb.WriteString("You are a personal assistant reachable over chat.\n")
	fmt.Fprintf(&sb, "Workspace: %s\n", b.workspace)
	sb.WriteString("Rules:\n")
	sb.WriteString("- Batch independent tool calls into one response.\n")
	sb.WriteString("- Keep replies short; this is a chat, not a document.\n")
	sb.WriteString("- Use the message tool when you need to send something mid-task.\n")
	if memory = strings.TrimSpace(memory); memory != "" {
		sb.WriteString("\nLong-term memory:\n")
		sb.WriteString(memory)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Build converts history plus the current inbound message into the request
// message array.
func (b *ContextBuilder) Build(history []models.Message, current *models.InboundMessage, memory string) []ChatMessage {
	messages := make([]ChatMessage, 0, len(history)+2)
	messages = append(messages, ChatMessage{Role: "system", Content: b.SystemPrompt(memory)})

	for _, msg := range history {
		messages = append(messages, ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	messages = append(messages, b.userTurn(current))
	return messages
}

// userTurn renders the current inbound message. Attachments that carry data
// become multimodal blocks; url-only ones become inline text annotations.
func (b *ContextBuilder) userTurn(msg *models.InboundMessage) ChatMessage {
	text := msg.Content
	var dataAttachments []models.MediaAttachment

	for _, att := range msg.Media {
		if att.Data != "" {
			dataAttachments = append(dataAttachments, att)
			continue
		}
		if att.URL != "" {
			annotation := fmt.Sprintf("[%s: %s]", att.Type, att.URL)
			if text == "" {
				text = annotation
			} else {
				text = text + "\n" + annotation
			}
		}
	}

	if len(dataAttachments) == 0 {
		return ChatMessage{Role: "user", Content: text}
	}

	var blocks []ContentBlock
	if text != "" {
		blocks = append(blocks, ContentBlock{Type: "text", Text: text})
	}
	for _, att := range dataAttachments {
		blocks = append(blocks, ContentBlock{
			Type:     "image",
			MimeType: att.MimeType,
			Data:     att.Data,
		})
	}
	return ChatMessage{Role: "user", Blocks: blocks}
}

// HistoryMessage converts one transcript entry for persistence after a turn.
func HistoryMessage(role models.Role, content string, toolsUsed []string) models.Message {
	return models.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		ToolsUsed: toolsUsed,
	}
}

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChannelType represents a messaging platform.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelSlack    ChannelType = "slack"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelZulip    ChannelType = "zulip"

	// ChannelSystem carries synthetic turns (cron triggers, subagent results)
	// that did not originate from a chat platform.
	ChannelSystem ChannelType = "system"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// InboundMessage is a message received from a channel adapter, headed for the
// agent loop. It is a value type: adapters create it, the loop consumes it once,
// and it is never persisted directly.
type InboundMessage struct {
	Channel   ChannelType       `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Media     []MediaAttachment `json:"media,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SessionKey returns the stable identifier addressing this conversation's
// persisted history.
func (m *InboundMessage) SessionKey() string {
	return fmt.Sprintf("%s:%s", m.Channel, m.ChatID)
}

// OutboundMessage is a reply headed back to a channel adapter. Metadata echoes
// whatever inbound metadata the platform needs for reply threading (for
// example Slack's thread_ts).
type OutboundMessage struct {
	Channel  ChannelType       `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	ReplyTo  string            `json:"reply_to,omitempty"`
	Media    []MediaAttachment `json:"media,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MediaAttachment describes a file or media item attached to a message.
//
// Data holds a base64 payload for the current turn only. It is transient and
// must never be serialized to disk or logs, hence the json:"-" tag.
type MediaAttachment struct {
	Type      string `json:"type"` // image, audio, video, document
	URL       string `json:"url,omitempty"`
	FilePath  string `json:"file_path,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	Data      string `json:"-"`
}

// Message is one entry in a session transcript. Append-only; immutable once
// added except for the ToolsUsed accumulation on assistant messages.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ToolsUsed []string  `json:"tools_used,omitempty"`
}

// Session is a conversation thread: an ordered message log addressed by key.
// Mutate only through AddMessage and Clear; the sessions package owns
// persistence and locking.
type Session struct {
	Key       string    `json:"key"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AddMessage appends a message and bumps UpdatedAt.
func (s *Session) AddMessage(msg Message) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now().UTC()
}

// Clear drops the transcript.
func (s *Session) Clear() {
	s.Messages = nil
	s.UpdatedAt = time.Now().UTC()
}

// ToolCall represents an LLM's request to execute a tool. ExtraContent carries
// provider-specific opaque fields (signed reasoning blocks and the like) that
// must be round-tripped verbatim.
type ToolCall struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Arguments    json.RawMessage `json:"arguments"`
	ExtraContent json.RawMessage `json:"extra_content,omitempty"`
}

// ToolResult is the outcome of one tool execution, scoped to a single
// executor iteration.
type ToolResult struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
}

// TokenUsage accumulates provider token counts for one executor run. It is
// logged, never persisted.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another round-trip's usage.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

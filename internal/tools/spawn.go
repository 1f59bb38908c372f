package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/relay/pkg/models"
)

// SpawnToolName is the subagent tool's registered name. Background (cron)
// turns exclude it to prevent unattended turns from fanning out recursively.
const SpawnToolName = "spawn"

// SpawnTool hands a task to a detached subagent turn. The task runs as a
// synthetic system-channel message whose result is delivered back to the
// originating conversation.
type SpawnTool struct {
	publish func(msg *models.InboundMessage)

	originChannel models.ChannelType
	originChatID  string
}

// NewSpawnTool creates a spawn tool publishing through publish, normally
// bound to bus.PublishInbound.
func NewSpawnTool(publish func(msg *models.InboundMessage)) *SpawnTool {
	return &SpawnTool{publish: publish}
}

// BindTurn records where results of spawned tasks should be delivered.
func (t *SpawnTool) BindTurn(channel models.ChannelType, chatID string) {
	t.originChannel = channel
	t.originChatID = chatID
}

func (t *SpawnTool) Name() string { return SpawnToolName }

func (t *SpawnTool) Description() string {
	return "Spawn a background subagent to work on a task. The subagent's result is sent back to this conversation when it finishes."
}

func (t *SpawnTool) Parameters() *Schema {
	return &Schema{
		Properties: map[string]Property{
			"task": {
				Type:        "string",
				Description: "Full task description for the subagent, including any context it needs.",
			},
		},
		Required: []string{"task"},
	}
}

func (t *SpawnTool) Execute(ctx context.Context, params map[string]any) *models.ToolResult {
	if t.publish == nil {
		return Errorf("subagent spawning is not configured")
	}
	task, _ := params["task"].(string)
	if strings.TrimSpace(task) == "" {
		return Errorf("task is required")
	}
	if t.originChannel == "" || t.originChatID == "" {
		return Errorf("no originating conversation to deliver results to")
	}

	taskID := uuid.NewString()
	t.publish(&models.InboundMessage{
		Channel:   models.ChannelSystem,
		SenderID:  fmt.Sprintf("subagent:%s", taskID),
		ChatID:    taskID,
		Content:   task,
		Timestamp: time.Now().UTC(),
		Metadata: map[string]string{
			"origin_channel": string(t.originChannel),
			"origin_chat_id": t.originChatID,
		},
	})
	return OK(fmt.Sprintf("subagent %s started", taskID))
}

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/relay/internal/cron"
	"github.com/haasonsaas/relay/internal/memory"
	"github.com/haasonsaas/relay/internal/sessions"
	"github.com/haasonsaas/relay/internal/tools"
	"github.com/haasonsaas/relay/pkg/models"
)

// MessageToolName is the registered name of the per-turn message tool.
const MessageToolName = "message"

// fallbackReply is what end users see when a turn produced neither an answer
// nor a side-effect delivery. Internal detail stays in the logs.
const fallbackReply = "Sorry, I couldn't finish that request. Please try again."

// backgroundExcludedTools are hidden from unattended (cron-triggered) turns.
// At minimum the spawn tool, so a scheduled job can never fan out subagents.
var backgroundExcludedTools = []string{tools.SpawnToolName}

// StreamFactory resolves an optional streaming callback for a conversation.
// Returning nil disables streaming for the turn.
type StreamFactory func(channel models.ChannelType, chatID string) func(text string)

// LoopConfig wires a Loop.
type LoopConfig struct {
	Provider      Provider
	Sessions      sessions.Store
	Memory        *memory.Manager
	CronStore     *cron.Store // optional; enables the cron tool
	Builder       *ContextBuilder
	BaseTools     *tools.Registry // shared tools beyond the per-turn ones
	PublishOut    func(msg *models.OutboundMessage)
	PublishIn     func(msg *models.InboundMessage) // enables the spawn tool
	StreamFactory StreamFactory
	Logger        *slog.Logger

	Model         string
	MaxTokens     int
	Temperature   float64
	MaxIterations int
}

// Loop is the per-message orchestrator: it classifies the turn, prepares the
// session and context, wires the per-turn tool set, runs the executor, and
// produces the outbound reply.
type Loop struct {
	cfg      LoopConfig
	executor *Executor
	logger   *slog.Logger
}

// NewLoop creates an agent loop.
func NewLoop(cfg LoopConfig) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		cfg:      cfg,
		executor: NewExecutor(cfg.Provider, logger),
		logger:   logger.With("component", "agent"),
	}
}

// ProcessMessage runs one full turn. The returned message is nil when
// delivery already happened through the message tool, or when the turn is a
// cron run with nothing to report.
func (l *Loop) ProcessMessage(ctx context.Context, msg *models.InboundMessage) (*models.OutboundMessage, error) {
	isCron := msg.Channel == models.ChannelSystem && strings.HasPrefix(msg.SenderID, "cron:")
	isSubagent := msg.Channel == models.ChannelSystem && strings.HasPrefix(msg.SenderID, "subagent:")

	if !isCron && !isSubagent && strings.TrimSpace(msg.Content) == "/reset" {
		return l.handleReset(ctx, msg)
	}

	sessionKey := msg.SessionKey()
	unlock := l.cfg.Sessions.Lock(sessionKey)
	defer unlock()

	session, err := l.cfg.Sessions.GetOrCreate(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionKey, err)
	}

	if l.cfg.Memory != nil {
		if err := l.cfg.Memory.ConsolidateIfNeeded(ctx, session); err != nil {
			return nil, fmt.Errorf("consolidate session %s: %w", sessionKey, err)
		}
	}

	turn := *msg
	if isCron {
		turn.Content = cronPrompt(strings.TrimPrefix(msg.SenderID, "cron:"), msg.Content)
	}

	var memoryDoc string
	if l.cfg.Memory != nil {
		memoryDoc = l.cfg.Memory.Store().ReadMemory()
	}
	chatMessages := l.cfg.Builder.Build(session.Messages, &turn, memoryDoc)

	registry := l.turnRegistry(msg, isCron)

	execCfg := ExecuteConfig{
		MaxIterations: l.cfg.MaxIterations,
		SessionKey:    sessionKey,
		Model:         l.cfg.Model,
		MaxTokens:     l.cfg.MaxTokens,
		Temperature:   l.cfg.Temperature,
	}
	if isCron {
		execCfg.ExcludeTools = backgroundExcludedTools
		execCfg.StopAfterTool = MessageToolName
	}
	if l.cfg.StreamFactory != nil && !isCron {
		execCfg.OnDelta = l.cfg.StreamFactory(msg.Channel, msg.ChatID)
	}

	result := l.executor.Execute(ctx, chatMessages, registry, execCfg)

	l.logger.Info("turn completed",
		"session_key", sessionKey,
		"iterations", result.Iterations,
		"tools_used", result.ToolsUsed,
		"total_tokens", result.Usage.TotalTokens,
		"finish_reason", result.FinishReason)

	reply := l.buildReply(msg, result, isCron)

	// Persist the turn: the user message and whatever the user actually saw,
	// including the fallback text on exhausted runs.
	session.AddMessage(models.Message{
		Role:      models.RoleUser,
		Content:   turn.Content,
		Timestamp: turn.Timestamp,
	})
	if result.Content != nil && *result.Content != "" {
		session.AddMessage(HistoryMessage(models.RoleAssistant, *result.Content, result.ToolsUsed))
	} else if reply != nil {
		session.AddMessage(HistoryMessage(models.RoleAssistant, reply.Content, result.ToolsUsed))
	}
	if err := l.cfg.Sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("persist session %s: %w", sessionKey, err)
	}

	return reply, nil
}

// buildReply decides what, if anything, goes back on the bus.
func (l *Loop) buildReply(msg *models.InboundMessage, result *ExecuteResult, isCron bool) *models.OutboundMessage {
	// Cron turns never auto-deliver; the message tool was the only path.
	if isCron {
		return nil
	}

	// nil content with the stop tool used means delivery already happened.
	if result.Content == nil && containsString(result.ToolsUsed, MessageToolName) {
		return nil
	}

	content := fallbackReply
	if result.Content != nil && *result.Content != "" {
		content = *result.Content
	}

	channel, chatID := msg.Channel, msg.ChatID
	if msg.Channel == models.ChannelSystem {
		// Subagent results go back to the conversation that spawned them.
		origin := models.ChannelType(msg.Metadata["origin_channel"])
		originChat := msg.Metadata["origin_chat_id"]
		if origin == "" || originChat == "" {
			return nil
		}
		channel, chatID = origin, originChat
	}

	return &models.OutboundMessage{
		Channel:  channel,
		ChatID:   chatID,
		Content:  content,
		Metadata: msg.Metadata,
	}
}

// turnRegistry builds the per-turn tool set: the shared base tools plus the
// message, spawn and cron tools bound to this turn.
func (l *Loop) turnRegistry(msg *models.InboundMessage, isCron bool) *tools.Registry {
	var registry *tools.Registry
	if l.cfg.BaseTools != nil {
		registry = l.cfg.BaseTools.Clone()
	} else {
		registry = tools.NewRegistry()
	}

	messageTool := tools.NewMessageTool(l.cfg.PublishOut)
	replyChannel, replyChat := msg.Channel, msg.ChatID
	if msg.Channel == models.ChannelSystem {
		if origin := models.ChannelType(msg.Metadata["origin_channel"]); origin != "" {
			replyChannel, replyChat = origin, msg.Metadata["origin_chat_id"]
		} else if isCron {
			// A cron job owned by a conversation reports back to it.
			if owner := msg.Metadata["owner"]; owner != "" {
				if channel, chatID, ok := strings.Cut(owner, ":"); ok {
					replyChannel, replyChat = models.ChannelType(channel), chatID
				}
			}
		}
	}
	messageTool.BindTurn(replyChannel, replyChat, msg.Metadata)
	registry.Register(messageTool)

	if l.cfg.PublishIn != nil {
		spawnTool := tools.NewSpawnTool(l.cfg.PublishIn)
		spawnTool.BindTurn(replyChannel, replyChat)
		registry.Register(spawnTool)
	}

	if l.cfg.CronStore != nil {
		registry.Register(tools.NewCronTool(l.cfg.CronStore))
	}

	return registry
}

// handleReset clears the session and confirms.
func (l *Loop) handleReset(ctx context.Context, msg *models.InboundMessage) (*models.OutboundMessage, error) {
	sessionKey := msg.SessionKey()
	unlock := l.cfg.Sessions.Lock(sessionKey)
	defer unlock()

	if err := l.cfg.Sessions.Clear(ctx, sessionKey); err != nil {
		return nil, fmt.Errorf("reset session %s: %w", sessionKey, err)
	}
	l.logger.Info("session reset", "session_key", sessionKey)
	return &models.OutboundMessage{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		Content:  "Conversation history cleared.",
		Metadata: msg.Metadata,
	}, nil
}

// cronPrompt is the specialized preamble for scheduled runs.
func cronPrompt(jobID, task string) string {
	return fmt.Sprintf(`[Scheduled task %s]
%s

This message was produced by scheduled job %s, not a user. Follow these rules:
- Do not create new scheduled jobs during this run.
- If there is something worth reporting, send it with the message tool.
- If there is nothing to report, stay silent and do not send any message.
- Do not remove this job unless its task names an explicit stop condition that has been met.`, jobID, task, jobID)
}

// Package slack implements the Slack channel adapter over Socket Mode, so
// no inbound webhook endpoint is needed.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/haasonsaas/relay/internal/channels"
	"github.com/haasonsaas/relay/pkg/models"
)

// Config holds configuration for the Slack adapter.
type Config struct {
	// BotToken is the xoxb- token for Web API calls (required).
	BotToken string

	// AppToken is the xapp- token for Socket Mode (required).
	AppToken string

	// AllowFrom lists permitted Slack user IDs. Empty denies everyone.
	AllowFrom []string

	// Publish delivers inbound messages to the bus (required).
	Publish channels.PublishFunc

	Logger *slog.Logger
}

// Adapter implements channels.Adapter for Slack.
type Adapter struct {
	cfg    Config
	client *slack.Client
	socket *socketmode.Client
	allow  channels.Allowlist
	logger *slog.Logger

	botUserID string
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a Slack adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: bot token and app token are required")
	}
	if cfg.Publish == nil {
		return nil, fmt.Errorf("slack: publish function is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &Adapter{
		cfg:    cfg,
		client: client,
		socket: socketmode.New(client),
		allow:  channels.Allowlist(cfg.AllowFrom),
		logger: cfg.Logger.With("adapter", "slack"),
	}, nil
}

// Name implements channels.Adapter.
func (a *Adapter) Name() models.ChannelType { return models.ChannelSlack }

// Start authenticates and opens the Socket Mode connection.
func (a *Adapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	auth, err := a.client.AuthTestContext(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID

	a.wg.Add(1)
	go a.handleEvents(runCtx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			a.logger.Error("socket mode terminated", "error", err)
		}
	}()

	a.logger.Info("slack adapter started", "bot_user_id", auth.UserID)
	return nil
}

// Stop closes the Socket Mode connection and waits for handlers.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send posts a reply, threading it when the inbound carried a thread_ts.
func (a *Adapter) Send(ctx context.Context, out *models.OutboundMessage) error {
	options := []slack.MsgOption{slack.MsgOptionText(out.Content, false)}
	if threadTS := out.Metadata["thread_ts"]; threadTS != "" {
		options = append(options, slack.MsgOptionTS(threadTS))
	}
	if _, _, err := a.client.PostMessageContext(ctx, out.ChatID, options...); err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// handleEvents processes incoming Socket Mode events.
func (a *Adapter) handleEvents(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-a.socket.Events:
			if !ok {
				return
			}
			switch event.Type {
			case socketmode.EventTypeConnecting:
				a.logger.Debug("connecting to socket mode")
			case socketmode.EventTypeConnectionError:
				a.logger.Warn("socket mode connection error", "data", event.Data)
			case socketmode.EventTypeConnected:
				a.logger.Info("connected to socket mode")
			case socketmode.EventTypeEventsAPI:
				a.handleEventsAPI(event)
			case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
				// Acknowledged but unused.
				if event.Request != nil {
					a.socket.Ack(*event.Request)
				}
			}
		}
	}
}

func (a *Adapter) handleEventsAPI(event socketmode.Event) {
	apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		if event.Request != nil {
			a.socket.Ack(*event.Request)
		}
		return
	}
	if event.Request != nil {
		a.socket.Ack(*event.Request)
	}

	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		a.handleMessage(&slackevents.MessageEvent{
			User:            ev.User,
			Text:            ev.Text,
			Channel:         ev.Channel,
			TimeStamp:       ev.TimeStamp,
			ThreadTimeStamp: ev.ThreadTimeStamp,
		})
	case *slackevents.MessageEvent:
		// Drop our own and other bots' messages and edits/joins.
		if ev.BotID != "" || ev.SubType != "" {
			return
		}
		a.handleMessage(ev)
	}
}

func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	if ev.User == "" || ev.Text == "" {
		return
	}
	if !a.allow.Allowed(ev.User) {
		a.logger.Debug("message rejected by allowlist", "user", ev.User)
		return
	}

	// Respond to DMs, mentions, and thread replies; stay quiet otherwise.
	isDM := strings.HasPrefix(ev.Channel, "D")
	isMention := strings.Contains(ev.Text, "<@"+a.botUserID+">")
	if !isDM && !isMention && ev.ThreadTimeStamp == "" {
		return
	}

	content := strings.TrimSpace(strings.ReplaceAll(ev.Text, "<@"+a.botUserID+">", ""))
	if content == "" {
		return
	}

	// Replies thread under the original message.
	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}

	a.cfg.Publish(&models.InboundMessage{
		Channel:   models.ChannelSlack,
		SenderID:  ev.User,
		ChatID:    ev.Channel,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata: map[string]string{
			"thread_ts": threadTS,
			"ts":        ev.TimeStamp,
		},
	})
}

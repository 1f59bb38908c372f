// Package telegram implements the Telegram channel adapter on top of
// long polling, with optional draft streaming via message edits.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/haasonsaas/relay/internal/channels"
	"github.com/haasonsaas/relay/pkg/models"
)

const (
	// typingRefresh re-sends the typing action; Telegram expires it after
	// roughly five seconds.
	typingRefresh = 4 * time.Second

	// typingMaxDuration caps the indicator for turns that never produce a
	// reply.
	typingMaxDuration = 5 * time.Minute
)

// Config holds configuration for the Telegram adapter.
type Config struct {
	// Token is the bot token from @BotFather (required).
	Token string

	// AllowFrom lists permitted sender IDs. Empty denies everyone.
	AllowFrom []string

	// Streaming enables draft replies via placeholder edits.
	Streaming bool

	// MaxConnectAttempts bounds startup probes before giving up.
	MaxConnectAttempts int

	// ReconnectDelay is the wait between startup probes.
	ReconnectDelay time.Duration

	// Publish delivers inbound messages to the bus (required).
	Publish channels.PublishFunc

	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.Token == "" {
		return fmt.Errorf("telegram: token is required")
	}
	if c.Publish == nil {
		return fmt.Errorf("telegram: publish function is required")
	}
	if c.MaxConnectAttempts == 0 {
		c.MaxConnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter implements channels.Adapter for Telegram.
type Adapter struct {
	cfg     Config
	bot     *bot.Bot
	allow   channels.Allowlist
	streams *streamManager
	logger  *slog.Logger

	typingMu sync.Mutex
	typing   map[string]context.CancelFunc

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Telegram adapter. The bot connection is established in Start.
func New(cfg Config) (*Adapter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		cfg:    cfg,
		allow:  channels.Allowlist(cfg.AllowFrom),
		logger: cfg.Logger.With("adapter", "telegram"),
		typing: make(map[string]context.CancelFunc),
	}, nil
}

// Name implements channels.Adapter.
func (a *Adapter) Name() models.ChannelType { return models.ChannelTelegram }

// Start creates the bot, verifies the token, and begins long polling.
func (a *Adapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runCtx = runCtx
	a.cancel = cancel

	b, err := bot.New(a.cfg.Token, bot.WithDefaultHandler(a.handleUpdate))
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	a.bot = b

	if a.cfg.Streaming {
		a.streams = newStreamManager(a.sendPlain, a.editPlain, a.logger)
	}

	// Probe the token before handing the connection to the poller so a bad
	// token fails Start instead of spinning in the background.
	if err := a.probe(runCtx); err != nil {
		cancel()
		return err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.bot.Start(runCtx)
	}()

	a.logger.Info("telegram adapter started")
	return nil
}

func (a *Adapter) probe(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxConnectAttempts; attempt++ {
		if _, lastErr = a.bot.GetMe(ctx); lastErr == nil {
			return nil
		}
		a.logger.Warn("telegram connection probe failed",
			"attempt", attempt,
			"max_attempts", a.cfg.MaxConnectAttempts,
			"error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.cfg.ReconnectDelay):
		}
	}
	return fmt.Errorf("telegram: connect: %w", lastErr)
}

// Stop halts polling and waits for in-flight handlers.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.stopAllTyping()

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

// handleUpdate converts a Telegram update into an inbound message.
func (a *Adapter) handleUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if msg.From.Username != "" {
		senderID = senderID + "|" + msg.From.Username
	}
	if !a.allow.Allowed(senderID) {
		a.logger.Debug("message rejected by allowlist", "sender_id", senderID)
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	content := msg.Text
	if msg.Caption != "" {
		if content != "" {
			content += "\n"
		}
		content += msg.Caption
	}

	media := a.collectMedia(ctx, msg)
	if content == "" && len(media) == 0 {
		return
	}
	if content == "" {
		content = "[media message]"
	}

	a.startTyping(msg.Chat.ID)

	a.cfg.Publish(&models.InboundMessage{
		Channel:   models.ChannelTelegram,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Media:     media,
		Metadata: map[string]string{
			"message_id": strconv.Itoa(msg.ID),
			"username":   msg.From.Username,
			"chat_type":  string(msg.Chat.Type),
		},
	})
}

// collectMedia resolves attachment download URLs. Failures are logged and
// the attachment skipped; the text portion still goes through.
func (a *Adapter) collectMedia(ctx context.Context, msg *tgmodels.Message) []models.MediaAttachment {
	var media []models.MediaAttachment

	add := func(fileID, kind, mime string) {
		file, err := a.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
		if err != nil {
			a.logger.Warn("failed to resolve telegram file", "kind", kind, "error", err)
			return
		}
		media = append(media, models.MediaAttachment{
			Type:     kind,
			URL:      a.bot.FileDownloadLink(file),
			MimeType: mime,
		})
	}

	if len(msg.Photo) > 0 {
		// Telegram sends multiple resolutions; the last is the largest.
		add(msg.Photo[len(msg.Photo)-1].FileID, "image", "image/jpeg")
	}
	if msg.Voice != nil {
		add(msg.Voice.FileID, "audio", msg.Voice.MimeType)
	}
	if msg.Document != nil {
		add(msg.Document.FileID, "document", msg.Document.MimeType)
	}
	return media
}

// Send delivers a reply, folding it into the streamed draft when one exists.
func (a *Adapter) Send(ctx context.Context, out *models.OutboundMessage) error {
	a.stopTyping(out.ChatID)

	chatID, err := strconv.ParseInt(out.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat ID %q: %w", out.ChatID, err)
	}

	content := out.Content
	if content == "" {
		content = "(empty response)"
	}
	chunks := splitMessage(content, maxMessageChars)

	start := 0
	if a.streams != nil {
		if messageID, ok := a.streams.Finalize(out.ChatID); ok {
			if a.editFormatted(ctx, chatID, messageID, chunks[0]) {
				start = 1
			}
		}
	}

	for i := start; i < len(chunks); i++ {
		if err := a.sendFormatted(ctx, chatID, chunks[i]); err != nil {
			return err
		}
	}
	return nil
}

// StreamCallback implements channels.Streamer when streaming is enabled.
func (a *Adapter) StreamCallback(chatID string) func(text string) {
	if a.streams == nil {
		return nil
	}
	return a.streams.Callback(chatID)
}

// sendFormatted sends one chunk as HTML, falling back to plain text when
// Telegram rejects the markup.
func (a *Adapter) sendFormatted(ctx context.Context, chatID int64, text string) error {
	_, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      markdownToHTML(text),
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err == nil {
		return nil
	}
	a.logger.Debug("html send failed, falling back to plain text", "error", err)
	_, err = a.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	return err
}

// editFormatted rewrites the streaming placeholder with the final first
// chunk. Returns false when both the HTML and plain edits fail, in which
// case the caller sends the chunk as a fresh message.
func (a *Adapter) editFormatted(ctx context.Context, chatID int64, messageID int, text string) bool {
	_, err := a.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      markdownToHTML(text),
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err == nil {
		return true
	}
	a.logger.Debug("html edit failed, falling back to plain text", "error", err)
	_, err = a.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	})
	return err == nil
}

// sendPlain and editPlain back the streaming manager; drafts are always
// plain text, formatting happens only at finalization.
func (a *Adapter) sendPlain(ctx context.Context, chatID string, text string) (int, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, err
	}
	sent, err := a.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: id, Text: text})
	if err != nil {
		return 0, err
	}
	return sent.ID, nil
}

func (a *Adapter) editPlain(ctx context.Context, chatID string, messageID int, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return err
	}
	_, err = a.bot.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    id,
		MessageID: messageID,
		Text:      text,
	})
	return err
}

// startTyping keeps the typing indicator alive until the reply arrives or
// the cap expires.
func (a *Adapter) startTyping(chatID int64) {
	key := strconv.FormatInt(chatID, 10)

	a.typingMu.Lock()
	if cancel, ok := a.typing[key]; ok {
		cancel()
	}
	ctx, cancel := context.WithTimeout(a.runCtx, typingMaxDuration)
	a.typing[key] = cancel
	a.typingMu.Unlock()

	go func() {
		ticker := time.NewTicker(typingRefresh)
		defer ticker.Stop()
		for {
			_, err := a.bot.SendChatAction(ctx, &bot.SendChatActionParams{
				ChatID: chatID,
				Action: tgmodels.ChatActionTyping,
			})
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (a *Adapter) stopTyping(chatID string) {
	a.typingMu.Lock()
	defer a.typingMu.Unlock()
	if cancel, ok := a.typing[chatID]; ok {
		cancel()
		delete(a.typing, chatID)
	}
}

func (a *Adapter) stopAllTyping() {
	a.typingMu.Lock()
	defer a.typingMu.Unlock()
	for key, cancel := range a.typing {
		cancel()
		delete(a.typing, key)
	}
}

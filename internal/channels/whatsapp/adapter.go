// Package whatsapp implements the WhatsApp channel adapter on top of
// whatsmeow. Pairing state lives in a local SQLite database; first startup
// prints a QR code to scan from the phone.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/haasonsaas/relay/internal/channels"
	"github.com/haasonsaas/relay/pkg/models"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for whatsmeow's store
)

// Config holds configuration for the WhatsApp adapter.
type Config struct {
	// StorePath is the SQLite database holding the pairing state (required).
	StorePath string

	// AllowFrom lists permitted sender JIDs or phone numbers. Empty denies
	// everyone.
	AllowFrom []string

	// Publish delivers inbound messages to the bus (required).
	Publish channels.PublishFunc

	Logger *slog.Logger
}

// Adapter implements channels.Adapter for WhatsApp.
type Adapter struct {
	cfg    Config
	store  *sqlstore.Container
	client *whatsmeow.Client
	allow  channels.Allowlist
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a WhatsApp adapter and opens its pairing store.
func New(cfg Config) (*Adapter, error) {
	if cfg.StorePath == "" {
		return nil, fmt.Errorf("whatsapp: store path is required")
	}
	if cfg.Publish == nil {
		return nil, fmt.Errorf("whatsapp: publish function is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o755); err != nil {
		return nil, fmt.Errorf("whatsapp: create store directory: %w", err)
	}

	container, err := sqlstore.New(context.Background(), "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", cfg.StorePath), waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: open store: %w", err)
	}

	return &Adapter{
		cfg:    cfg,
		store:  container,
		allow:  channels.Allowlist(cfg.AllowFrom),
		logger: cfg.Logger.With("adapter", "whatsapp"),
	}, nil
}

// Name implements channels.Adapter.
func (a *Adapter) Name() models.ChannelType { return models.ChannelWhatsApp }

// Start connects to WhatsApp, pairing via QR code when no session exists.
func (a *Adapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	device, err := a.store.GetFirstDevice(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("whatsapp: get device: %w", err)
	}

	a.client = whatsmeow.NewClient(device, waLog.Noop)
	a.client.AddEventHandler(a.handleEvent)

	if a.client.Store.ID == nil {
		// No stored session; pairing requires scanning a QR code.
		qrChan, err := a.client.GetQRChannel(runCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("whatsapp: QR channel: %w", err)
		}
		if err := a.client.Connect(); err != nil {
			cancel()
			return fmt.Errorf("whatsapp: connect: %w", err)
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case evt, ok := <-qrChan:
					if !ok {
						return
					}
					if evt.Event == "code" {
						a.logger.Info("scan QR code to pair WhatsApp", "code", evt.Code)
					}
				}
			}
		}()
	} else {
		if err := a.client.Connect(); err != nil {
			cancel()
			return fmt.Errorf("whatsapp: connect: %w", err)
		}
	}

	a.logger.Info("whatsapp adapter started")
	return nil
}

// Stop disconnects and closes the pairing store.
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
	case <-ctx.Done():
		return ctx.Err()
	}

	if a.client != nil {
		a.client.Disconnect()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close whatsapp store", "error", err)
	}
	return nil
}

// Send delivers a text reply to the chat JID.
func (a *Adapter) Send(ctx context.Context, out *models.OutboundMessage) error {
	if a.client == nil || !a.client.IsConnected() {
		return fmt.Errorf("whatsapp: not connected")
	}
	jid, err := types.ParseJID(out.ChatID)
	if err != nil {
		return fmt.Errorf("whatsapp: invalid chat JID %q: %w", out.ChatID, err)
	}
	content := out.Content
	if content == "" {
		content = "(empty response)"
	}
	_, err = a.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(content),
	})
	if err != nil {
		return fmt.Errorf("whatsapp: send message: %w", err)
	}
	return nil
}

func (a *Adapter) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		a.logger.Info("whatsapp connected")
	case *events.Disconnected:
		a.logger.Warn("whatsapp disconnected")
	case *events.LoggedOut:
		a.logger.Error("whatsapp session logged out, delete the store and re-pair")
	case *events.Message:
		a.handleMessage(e)
	}
}

func (a *Adapter) handleMessage(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.Chat.Server == "broadcast" {
		return
	}

	content := extractText(evt)
	if content == "" {
		return
	}

	// Sender IDs pair the bare phone number with the full JID so allowlists
	// can name either form.
	sender := evt.Info.Sender
	senderID := sender.User + "|" + sender.String()
	if !a.allow.Allowed(senderID) {
		a.logger.Debug("message rejected by allowlist", "sender_id", senderID)
		return
	}

	a.cfg.Publish(&models.InboundMessage{
		Channel:   models.ChannelWhatsApp,
		SenderID:  senderID,
		ChatID:    evt.Info.Chat.String(),
		Content:   content,
		Timestamp: evt.Info.Timestamp.UTC(),
		Metadata: map[string]string{
			"message_id": evt.Info.ID,
			"push_name":  evt.Info.PushName,
			"is_group":   fmt.Sprintf("%t", evt.Info.IsGroup),
		},
	})
}

// extractText pulls the text body from the message variants that carry one.
func extractText(evt *events.Message) string {
	msg := evt.Message
	if msg == nil {
		return ""
	}
	switch {
	case msg.Conversation != nil:
		return msg.GetConversation()
	case msg.ExtendedTextMessage != nil:
		return msg.ExtendedTextMessage.GetText()
	case msg.ImageMessage != nil:
		return msg.ImageMessage.GetCaption()
	case msg.VideoMessage != nil:
		return msg.VideoMessage.GetCaption()
	case msg.DocumentMessage != nil:
		return msg.DocumentMessage.GetCaption()
	}
	return ""
}

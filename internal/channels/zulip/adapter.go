// Package zulip implements the Zulip channel adapter over the REST event
// queue API: register a queue, long-poll for events, post replies.
package zulip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/relay/internal/channels"
	"github.com/haasonsaas/relay/pkg/models"
)

const (
	// pollTimeout must exceed Zulip's server-side long-poll hold (up to 90s).
	pollTimeout = 2 * time.Minute

	retryDelay = 5 * time.Second
)

// Config holds configuration for the Zulip adapter.
type Config struct {
	// Site is the realm URL, e.g. https://chat.example.com (required).
	Site string

	// Email is the bot's email address (required).
	Email string

	// APIKey is the bot's API key (required).
	APIKey string

	// AllowFrom lists permitted sender IDs or emails. Empty denies everyone.
	AllowFrom []string

	// Publish delivers inbound messages to the bus (required).
	Publish channels.PublishFunc

	Logger *slog.Logger

	// HTTPClient overrides the default client, used in tests.
	HTTPClient *http.Client
}

// Adapter implements channels.Adapter for Zulip.
type Adapter struct {
	cfg    Config
	site   string
	client *http.Client
	allow  channels.Allowlist
	logger *slog.Logger

	queueID     string
	lastEventID int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Zulip adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.Site == "" || cfg.Email == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("zulip: site, email, and api_key are required")
	}
	if cfg.Publish == nil {
		return nil, fmt.Errorf("zulip: publish function is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: pollTimeout}
	}
	return &Adapter{
		cfg:    cfg,
		site:   strings.TrimRight(cfg.Site, "/"),
		client: client,
		allow:  channels.Allowlist(cfg.AllowFrom),
		logger: cfg.Logger.With("adapter", "zulip"),
	}, nil
}

// Name implements channels.Adapter.
func (a *Adapter) Name() models.ChannelType { return models.ChannelZulip }

// Start registers an event queue and begins long polling.
func (a *Adapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.register(runCtx); err != nil {
		cancel()
		return err
	}

	a.wg.Add(1)
	go a.poll(runCtx)

	a.logger.Info("zulip adapter started", "site", a.site)
	return nil
}

// Stop halts polling and deletes the event queue.
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

	if a.queueID != "" {
		if err := a.deregister(ctx); err != nil {
			a.logger.Warn("failed to delete event queue", "error", err)
		}
	}
	return nil
}

// Send posts a reply. Stream replies reuse the inbound topic from metadata;
// everything else goes as a direct message to the chat ID.
func (a *Adapter) Send(ctx context.Context, out *models.OutboundMessage) error {
	form := url.Values{}
	content := out.Content
	if content == "" {
		content = "(empty response)"
	}
	form.Set("content", content)

	if out.Metadata["type"] == "stream" {
		form.Set("type", "stream")
		form.Set("to", out.ChatID)
		topic := out.Metadata["topic"]
		if topic == "" {
			topic = "general"
		}
		form.Set("topic", topic)
	} else {
		form.Set("type", "private")
		form.Set("to", out.ChatID)
	}

	var resp struct {
		Result string `json:"result"`
		Msg    string `json:"msg"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/v1/messages", form, &resp); err != nil {
		return fmt.Errorf("zulip: send message: %w", err)
	}
	if resp.Result != "success" {
		return fmt.Errorf("zulip: send message: %s", resp.Msg)
	}
	return nil
}

// register opens a message event queue.
func (a *Adapter) register(ctx context.Context) error {
	form := url.Values{}
	form.Set("event_types", `["message"]`)

	var resp struct {
		Result      string `json:"result"`
		Msg         string `json:"msg"`
		QueueID     string `json:"queue_id"`
		LastEventID int64  `json:"last_event_id"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/v1/register", form, &resp); err != nil {
		return fmt.Errorf("zulip: register queue: %w", err)
	}
	if resp.Result != "success" {
		return fmt.Errorf("zulip: register queue: %s", resp.Msg)
	}
	a.queueID = resp.QueueID
	a.lastEventID = resp.LastEventID
	return nil
}

func (a *Adapter) deregister(ctx context.Context) error {
	form := url.Values{}
	form.Set("queue_id", a.queueID)
	var resp struct {
		Result string `json:"result"`
	}
	return a.do(ctx, http.MethodDelete, "/api/v1/events", form, &resp)
}

// poll long-polls the event queue until the context is cancelled. A dead
// queue is re-registered; transient errors back off and retry.
func (a *Adapter) poll(ctx context.Context) {
	defer a.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		events, err := a.fetchEvents(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if strings.Contains(err.Error(), "BAD_EVENT_QUEUE_ID") {
				a.logger.Warn("event queue expired, re-registering")
				if regErr := a.register(ctx); regErr != nil {
					a.logger.Error("re-register failed", "error", regErr)
				} else {
					continue
				}
			} else {
				a.logger.Warn("event poll failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			continue
		}
		for _, event := range events {
			if event.ID > a.lastEventID {
				a.lastEventID = event.ID
			}
			if event.Type == "message" && event.Message != nil {
				a.handleMessage(event.Message)
			}
		}
	}
}

type event struct {
	ID      int64         `json:"id"`
	Type    string        `json:"type"`
	Message *zulipMessage `json:"message,omitempty"`
}

type zulipMessage struct {
	ID               int64           `json:"id"`
	SenderID         int64           `json:"sender_id"`
	SenderEmail      string          `json:"sender_email"`
	Content          string          `json:"content"`
	Type             string          `json:"type"` // "stream" or "private"
	Subject          string          `json:"subject"`
	DisplayRecipient json.RawMessage `json:"display_recipient"`
	Timestamp        int64           `json:"timestamp"`
}

func (a *Adapter) fetchEvents(ctx context.Context) ([]event, error) {
	form := url.Values{}
	form.Set("queue_id", a.queueID)
	form.Set("last_event_id", strconv.FormatInt(a.lastEventID, 10))

	var resp struct {
		Result string  `json:"result"`
		Msg    string  `json:"msg"`
		Code   string  `json:"code"`
		Events []event `json:"events"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/v1/events", form, &resp); err != nil {
		return nil, err
	}
	if resp.Result != "success" {
		return nil, fmt.Errorf("%s: %s", resp.Code, resp.Msg)
	}
	return resp.Events, nil
}

func (a *Adapter) handleMessage(msg *zulipMessage) {
	// Skip our own messages echoed back through the queue.
	if msg.SenderEmail == a.cfg.Email {
		return
	}

	senderID := strconv.FormatInt(msg.SenderID, 10) + "|" + msg.SenderEmail
	if !a.allow.Allowed(senderID) {
		a.logger.Debug("message rejected by allowlist", "sender_id", senderID)
		return
	}

	chatID := msg.SenderEmail
	metadata := map[string]string{"type": msg.Type}
	if msg.Type == "stream" {
		// display_recipient is the stream name for stream messages.
		var stream string
		if err := json.Unmarshal(msg.DisplayRecipient, &stream); err != nil {
			a.logger.Warn("unexpected display_recipient", "error", err)
			return
		}
		chatID = stream
		metadata["topic"] = msg.Subject
	}

	a.cfg.Publish(&models.InboundMessage{
		Channel:   models.ChannelZulip,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   msg.Content,
		Timestamp: time.Unix(msg.Timestamp, 0).UTC(),
		Metadata:  metadata,
	})
}

// do issues an authenticated form request. GET and DELETE encode the form in
// the query string; POST sends it as the body.
func (a *Adapter) do(ctx context.Context, method, path string, form url.Values, out any) error {
	endpoint := a.site + path
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(form.Encode())
	} else if len(form) > 0 {
		endpoint += "?" + form.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(a.cfg.Email, a.cfg.APIKey)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

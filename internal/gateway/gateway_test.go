package gateway

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/relay/internal/channels"
	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/pkg/models"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	ws := t.TempDir()
	cfg := &config.Config{Workspace: ws}
	cfg.Provider.Name = "anthropic"
	cfg.Provider.APIKey = "sk-ant-test"
	cfg.Agent.MaxIterations = 5
	cfg.Agent.MaxTokens = 1024
	cfg.Memory.Window = 10
	cfg.Memory.Dir = filepath.Join(ws, "memory")
	cfg.Sessions.Dir = filepath.Join(ws, "sessions")
	cfg.Cron.Path = filepath.Join(ws, "cron", "jobs.json")
	return cfg
}

func TestNewAssemblesRuntime(t *testing.T) {
	g, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if g.provider.Name() != "anthropic" {
		t.Errorf("provider = %q", g.provider.Name())
	}
	if names := g.registry.Names(); len(names) != 0 {
		t.Errorf("no channels enabled but registry has %v", names)
	}
	if g.CronStore() == nil {
		t.Error("cron store not exposed")
	}
}

func TestNewEnablesConfiguredChannels(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.BotToken = "123:abc"
	cfg.Channels.Zulip.Enabled = true
	cfg.Channels.Zulip.Site = "https://example.zulipchat.com"
	cfg.Channels.Zulip.Email = "bot@example.com"
	cfg.Channels.Zulip.APIKey = "key"

	g, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	names := g.registry.Names()
	if len(names) != 2 || names[0] != models.ChannelTelegram || names[1] != models.ChannelZulip {
		t.Errorf("registered channels = %v", names)
	}
}

func TestNewRejectsBadProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Provider.Name = "mystery"
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestInboundTurnsRunConcurrently(t *testing.T) {
	g, err := New(testConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Both turns must be in flight at once before either is released.
	started := make(chan string, 2)
	release := make(chan struct{})
	g.process = func(ctx context.Context, msg *models.InboundMessage) (*models.OutboundMessage, error) {
		started <- msg.ChatID
		<-release
		return nil, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := g.Run(ctx); err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	g.bus.PublishInbound(&models.InboundMessage{
		Channel: models.ChannelTelegram, ChatID: "a", SenderID: "1", Content: "hi",
	})
	g.bus.PublishInbound(&models.InboundMessage{
		Channel: models.ChannelTelegram, ChatID: "b", SenderID: "2", Content: "hi",
	})

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("second turn never started while the first was in flight")
		}
	}

	close(release)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not shut down")
	}
}

type streamingAdapter struct {
	called string
}

func (s *streamingAdapter) Name() models.ChannelType                            { return models.ChannelTelegram }
func (s *streamingAdapter) Start(context.Context) error                         { return nil }
func (s *streamingAdapter) Stop(context.Context) error                          { return nil }
func (s *streamingAdapter) Send(context.Context, *models.OutboundMessage) error { return nil }
func (s *streamingAdapter) StreamCallback(chatID string) func(string) {
	s.called = chatID
	return func(string) {}
}

func TestStreamFactory(t *testing.T) {
	registry := channels.NewRegistry(nil)
	factory := streamFactory(registry)

	if cb := factory(models.ChannelTelegram, "42"); cb != nil {
		t.Error("expected nil callback for unregistered channel")
	}

	adapter := &streamingAdapter{}
	if err := registry.Register(adapter); err != nil {
		t.Fatal(err)
	}
	if cb := factory(models.ChannelTelegram, "42"); cb == nil {
		t.Error("expected callback from streaming adapter")
	}
	if adapter.called != "42" {
		t.Errorf("chat ID not forwarded: %q", adapter.called)
	}

	// Channels without streaming support return nil.
	if cb := factory(models.ChannelSlack, "C1"); cb != nil {
		t.Error("expected nil for channel without adapter")
	}
}

// Package gateway assembles the runtime: configuration in, a running agent
// with its bus, channels, scheduler, and stores out.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/relay/internal/agent"
	"github.com/haasonsaas/relay/internal/agent/providers"
	"github.com/haasonsaas/relay/internal/bus"
	"github.com/haasonsaas/relay/internal/channels"
	"github.com/haasonsaas/relay/internal/channels/slack"
	"github.com/haasonsaas/relay/internal/channels/telegram"
	"github.com/haasonsaas/relay/internal/channels/whatsapp"
	"github.com/haasonsaas/relay/internal/channels/zulip"
	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/cron"
	"github.com/haasonsaas/relay/internal/memory"
	"github.com/haasonsaas/relay/internal/sessions"
	"github.com/haasonsaas/relay/internal/tools"
	"github.com/haasonsaas/relay/pkg/models"
)

// stopTimeout bounds graceful shutdown of the channel adapters.
const stopTimeout = 10 * time.Second

// Gateway owns the assembled runtime.
type Gateway struct {
	cfg       *config.Config
	logger    *slog.Logger
	bus       *bus.Bus
	provider  agent.Provider
	loop      *agent.Loop
	registry  *channels.Registry
	scheduler *cron.Scheduler
	memory    *memory.Manager

	// process runs one turn; defaults to loop.ProcessMessage.
	process func(ctx context.Context, msg *models.InboundMessage) (*models.OutboundMessage, error)
	// turns tracks in-flight turn goroutines for shutdown.
	turns sync.WaitGroup
}

// New builds the full runtime from configuration. Nothing is started yet;
// call Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	messageBus := bus.New(bus.DefaultCapacity, logger)

	sessionStore, err := sessions.NewFileStore(cfg.Sessions.Dir)
	if err != nil {
		return nil, fmt.Errorf("sessions store: %w", err)
	}

	memoryStore, err := memory.NewFileStore(cfg.Memory.Dir)
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}
	summarize := func(ctx context.Context, prompt string) (string, error) {
		resp, err := provider.Chat(ctx, &agent.ChatRequest{
			Model:     cfg.Provider.Model,
			Messages:  []agent.ChatMessage{{Role: "user", Content: prompt}},
			MaxTokens: cfg.Agent.MaxTokens,
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}
	memoryManager := memory.NewManager(cfg.Memory.Window, memoryStore, sessionStore, summarize, logger)

	cronStore, err := cron.NewStore(cfg.Cron.Path)
	if err != nil {
		return nil, fmt.Errorf("cron store: %w", err)
	}
	scheduler := cron.NewScheduler(cronStore, messageBus.PublishInbound,
		cron.WithLogger(logger),
		cron.WithTickInterval(cfg.Cron.TickInterval))

	registry := channels.NewRegistry(logger)

	loop := agent.NewLoop(agent.LoopConfig{
		Provider:      provider,
		Sessions:      sessionStore,
		Memory:        memoryManager,
		CronStore:     cronStore,
		Builder:       agent.NewContextBuilder(cfg.Workspace),
		BaseTools:     tools.NewRegistry(),
		PublishOut:    messageBus.PublishOutbound,
		PublishIn:     messageBus.PublishInbound,
		StreamFactory: streamFactory(registry),
		Logger:        logger,
		Model:         cfg.Provider.Model,
		MaxTokens:     cfg.Agent.MaxTokens,
		Temperature:   cfg.Agent.Temperature,
		MaxIterations: cfg.Agent.MaxIterations,
	})

	g := &Gateway{
		cfg:       cfg,
		logger:    logger.With("component", "gateway"),
		bus:       messageBus,
		provider:  provider,
		loop:      loop,
		registry:  registry,
		scheduler: scheduler,
		memory:    memoryManager,
	}
	g.process = loop.ProcessMessage
	if err := g.registerChannels(); err != nil {
		return nil, err
	}
	return g, nil
}

// Run starts everything and blocks until the context is cancelled, then
// shuts down in reverse order.
func (g *Gateway) Run(ctx context.Context) error {
	// Each inbound message gets its own goroutine so a slow turn never
	// stalls other conversations or due cron runs. Turns sharing a session
	// key still serialize on the store's per-key lock.
	g.bus.ConsumeInbound(func(msg *models.InboundMessage) error {
		g.turns.Add(1)
		go func() {
			defer g.turns.Done()
			defer func() {
				if r := recover(); r != nil {
					g.logger.Error("turn panicked",
						"channel", msg.Channel, "chat_id", msg.ChatID, "panic", r)
				}
			}()
			reply, err := g.process(ctx, msg)
			if err != nil {
				g.logger.Error("turn failed",
					"channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
				return
			}
			if reply != nil {
				g.bus.PublishOutbound(reply)
			}
		}()
		return nil
	})
	g.bus.ConsumeOutbound(func(msg *models.OutboundMessage) error {
		sendCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		defer cancel()
		return g.registry.Send(sendCtx, msg)
	})

	if err := g.registry.StartAll(ctx); err != nil {
		g.bus.Stop()
		return err
	}
	g.scheduler.Start()

	g.logger.Info("relay started",
		"provider", g.provider.Name(),
		"channels", g.registry.Names())

	<-ctx.Done()
	g.logger.Info("shutting down")

	// Stop intake first so no new turns start, then drain the bus, wait
	// for in-flight turns, then disconnect the platforms and flush
	// background memory work.
	g.scheduler.Stop()
	g.bus.Stop()
	g.turns.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := g.registry.StopAll(stopCtx); err != nil {
		g.logger.Warn("channel shutdown incomplete", "error", err)
	}
	g.memory.Wait()
	return nil
}

func buildProvider(cfg *config.Config) (agent.Provider, error) {
	return providers.New(cfg.Provider.Name, providers.Options{
		APIKey:          cfg.Provider.APIKey,
		BaseURL:         cfg.Provider.BaseURL,
		DefaultModel:    cfg.Provider.Model,
		MaxRetries:      cfg.Provider.MaxRetries,
		Region:          cfg.Provider.AWS.Region,
		AccessKeyID:     cfg.Provider.AWS.AccessKeyID,
		SecretAccessKey: cfg.Provider.AWS.SecretAccessKey,
		SessionToken:    cfg.Provider.AWS.SessionToken,
	})
}

// registerChannels constructs an adapter per enabled channel.
func (g *Gateway) registerChannels() error {
	publish := channels.PublishFunc(g.bus.PublishInbound)
	cfg := g.cfg.Channels

	if cfg.Telegram.Enabled {
		adapter, err := telegram.New(telegram.Config{
			Token:     cfg.Telegram.BotToken,
			AllowFrom: cfg.Telegram.AllowFrom,
			Streaming: cfg.Telegram.Streaming,
			Publish:   publish,
			Logger:    g.logger,
		})
		if err != nil {
			return err
		}
		if err := g.registry.Register(adapter); err != nil {
			return err
		}
	}

	if cfg.Slack.Enabled {
		adapter, err := slack.New(slack.Config{
			BotToken:  cfg.Slack.BotToken,
			AppToken:  cfg.Slack.AppToken,
			AllowFrom: cfg.Slack.AllowFrom,
			Publish:   publish,
			Logger:    g.logger,
		})
		if err != nil {
			return err
		}
		if err := g.registry.Register(adapter); err != nil {
			return err
		}
	}

	if cfg.WhatsApp.Enabled {
		adapter, err := whatsapp.New(whatsapp.Config{
			StorePath: cfg.WhatsApp.StorePath,
			AllowFrom: cfg.WhatsApp.AllowFrom,
			Publish:   publish,
			Logger:    g.logger,
		})
		if err != nil {
			return err
		}
		if err := g.registry.Register(adapter); err != nil {
			return err
		}
	}

	if cfg.Zulip.Enabled {
		adapter, err := zulip.New(zulip.Config{
			Site:      cfg.Zulip.Site,
			Email:     cfg.Zulip.Email,
			APIKey:    cfg.Zulip.APIKey,
			AllowFrom: cfg.Zulip.AllowFrom,
			Publish:   publish,
			Logger:    g.logger,
		})
		if err != nil {
			return err
		}
		if err := g.registry.Register(adapter); err != nil {
			return err
		}
	}

	return nil
}

// streamFactory resolves streaming callbacks through the adapter registry so
// the loop stays decoupled from concrete adapters.
func streamFactory(registry *channels.Registry) agent.StreamFactory {
	return func(channel models.ChannelType, chatID string) func(text string) {
		adapter, ok := registry.Get(channel)
		if !ok {
			return nil
		}
		streamer, ok := adapter.(channels.Streamer)
		if !ok {
			return nil
		}
		return streamer.StreamCallback(chatID)
	}
}

// CronStore exposes the job store for CLI subcommands that manipulate jobs
// without running the agent.
func (g *Gateway) CronStore() *cron.Store {
	return g.scheduler.Store()
}

// Package channels defines the adapter contract shared by every chat
// platform integration and the registry that manages their lifecycle.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/relay/pkg/models"
)

// Adapter is the interface every platform integration implements. Adapters
// deliver inbound messages by calling the publish function supplied at
// construction; the registry owns Start/Stop ordering.
type Adapter interface {
	// Name identifies the platform.
	Name() models.ChannelType

	// Start connects to the platform and begins delivering inbound
	// messages. It must not block for the lifetime of the connection.
	Start(ctx context.Context) error

	// Stop disconnects and releases resources. The context bounds how
	// long shutdown may take.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg *models.OutboundMessage) error
}

// Streamer is implemented by adapters that can render a reply incrementally
// while the model is still generating. The returned callback receives text
// deltas; a nil return means streaming is unavailable for that chat.
type Streamer interface {
	StreamCallback(chatID string) func(text string)
}

// PublishFunc hands an inbound message to the message bus.
type PublishFunc func(msg *models.InboundMessage)

// Allowlist controls which senders may talk to the agent. Deny by default:
// an empty list rejects everyone.
type Allowlist []string

// Allowed reports whether senderID may interact with the agent. A "*" entry
// admits anyone. Composite sender IDs such as "12345|alice" match if any
// pipe-delimited part equals an entry, so operators can allow either the
// numeric ID or the username.
func (a Allowlist) Allowed(senderID string) bool {
	if senderID == "" {
		return false
	}
	for _, entry := range a {
		if entry == "*" {
			return true
		}
		if entry == senderID {
			return true
		}
		for _, part := range strings.Split(senderID, "|") {
			if part != "" && part == entry {
				return true
			}
		}
	}
	return false
}

// Registry holds the enabled adapters and starts and stops them as a group.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.ChannelType]Adapter
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		adapters: make(map[models.ChannelType]Adapter),
		logger:   logger.With("component", "channels"),
	}
}

// Register adds an adapter. Registering the same channel twice is an error.
func (r *Registry) Register(adapter Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := adapter.Name()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("channel %s already registered", name)
	}
	r.adapters[name] = adapter
	return nil
}

// Get returns the adapter for a channel, if registered.
func (r *Registry) Get(name models.ChannelType) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[name]
	return adapter, ok
}

// Names returns the registered channel names in stable order.
func (r *Registry) Names() []models.ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]models.ChannelType, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// StartAll starts every adapter. A failure stops the already-started
// adapters and returns the error.
func (r *Registry) StartAll(ctx context.Context) error {
	started := make([]Adapter, 0)
	for _, name := range r.Names() {
		adapter, _ := r.Get(name)
		if err := adapter.Start(ctx); err != nil {
			for _, prev := range started {
				if stopErr := prev.Stop(ctx); stopErr != nil {
					r.logger.Warn("failed to stop channel during rollback",
						"channel", prev.Name(),
						"error", stopErr)
				}
			}
			return fmt.Errorf("start channel %s: %w", name, err)
		}
		r.logger.Info("channel started", "channel", name)
		started = append(started, adapter)
	}
	return nil
}

// StopAll stops every adapter, continuing past individual failures. The
// first error is returned.
func (r *Registry) StopAll(ctx context.Context) error {
	var firstErr error
	for _, name := range r.Names() {
		adapter, _ := r.Get(name)
		if err := adapter.Stop(ctx); err != nil {
			r.logger.Warn("failed to stop channel", "channel", name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("stop channel %s: %w", name, err)
			}
		}
	}
	return firstErr
}

// Send routes an outbound message to the adapter for its channel.
func (r *Registry) Send(ctx context.Context, msg *models.OutboundMessage) error {
	adapter, ok := r.Get(msg.Channel)
	if !ok {
		return fmt.Errorf("no adapter registered for channel %s", msg.Channel)
	}
	return adapter.Send(ctx, msg)
}

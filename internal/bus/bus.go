// Package bus provides the in-process message queue that decouples channel
// adapters from the agent loop. It carries inbound messages toward the agent
// and outbound messages back toward the platforms, with bounded capacity and
// best-effort delivery.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

// DefaultCapacity bounds each direction's queue.
const DefaultCapacity = 100

// pollInterval is how often a consumer wakes to check the stop flag even when
// no messages arrive.
const pollInterval = 5 * time.Second

// InboundHandler processes one inbound message. Errors are logged and do not
// terminate the consumer.
type InboundHandler func(msg *models.InboundMessage) error

// OutboundHandler processes one outbound message.
type OutboundHandler func(msg *models.OutboundMessage) error

// Bus is a two-directional bounded queue. Publishing is non-blocking and
// best-effort: messages are dropped with a warning when a queue is full, and
// silently ignored after Stop.
type Bus struct {
	inbound  chan *models.InboundMessage
	outbound chan *models.OutboundMessage
	logger   *slog.Logger

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New creates a bus with the given per-direction capacity.
// A capacity of 0 or less uses DefaultCapacity.
func New(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		inbound:  make(chan *models.InboundMessage, capacity),
		outbound: make(chan *models.OutboundMessage, capacity),
		logger:   logger.With("component", "bus"),
	}
}

// PublishInbound enqueues a message for the agent loop. After Stop it is a
// no-op; on a full queue the message is dropped.
func (b *Bus) PublishInbound(msg *models.InboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	select {
	case b.inbound <- msg:
	default:
		b.logger.Warn("inbound queue full, dropping message",
			"channel", msg.Channel,
			"chat_id", msg.ChatID)
	}
}

// PublishOutbound enqueues a reply for a channel adapter. After Stop it is a
// no-op; on a full queue the message is dropped.
func (b *Bus) PublishOutbound(msg *models.OutboundMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	select {
	case b.outbound <- msg:
	default:
		b.logger.Warn("outbound queue full, dropping message",
			"channel", msg.Channel,
			"chat_id", msg.ChatID)
	}
}

// ConsumeInbound starts a goroutine that invokes handler for every inbound
// message until Stop is called. Handler errors and panics are logged and never
// terminate the consumer.
func (b *Bus) ConsumeInbound(handler InboundHandler) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-b.inbound:
				if !ok {
					return
				}
				b.dispatch("inbound", func() error { return handler(msg) })
			case <-ticker.C:
				if b.isStopped() {
					return
				}
			}
		}
	}()
}

// ConsumeOutbound starts a goroutine that invokes handler for every outbound
// message until Stop is called.
func (b *Bus) ConsumeOutbound(handler OutboundHandler) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-b.outbound:
				if !ok {
					return
				}
				b.dispatch("outbound", func() error { return handler(msg) })
			case <-ticker.C:
				if b.isStopped() {
					return
				}
			}
		}
	}()
}

// dispatch runs one handler invocation, containing errors and panics.
func (b *Bus) dispatch(direction string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("consumer handler panicked",
				"direction", direction,
				"panic", r)
		}
	}()
	if err := fn(); err != nil {
		b.logger.Error("consumer handler failed",
			"direction", direction,
			"error", err)
	}
}

// Stop closes both queues and waits for consumers to drain. Subsequent
// Publish calls are no-ops; calling Stop twice is safe.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.inbound)
	close(b.outbound)
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bus) isStopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

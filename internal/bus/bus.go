// Package bus connects channels (Telegram, CLI, webhook) to the routing
// loop without either side importing the other.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"cedbot/internal/domain"
	"cedbot/internal/metrics"
)

// publishWait bounds how long Publish blocks on a full queue before the
// message is dropped.
const publishWait = 10 * time.Second

// InMemoryBus carries inbound messages on a buffered channel and fans
// outbound replies to per-channel handlers.
type InMemoryBus struct {
	queue chan domain.InboundMessage

	mu       sync.RWMutex
	outbound map[string]func(domain.OutboundMessage)
	closed   bool

	logger *slog.Logger
}

func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		queue:    make(chan domain.InboundMessage, bufferSize),
		outbound: make(map[string]func(domain.OutboundMessage)),
		logger:   logger,
	}
}

// Publish enqueues an inbound message. A full queue blocks the caller up
// to publishWait; past that the message is dropped and counted.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("publish on closed bus", "channel", msg.Channel)
		return
	}

	select {
	case b.queue <- msg:
		return
	default:
	}

	b.logger.Warn("inbound queue full, waiting", "channel", msg.Channel, "sender", msg.SenderID)
	timer := time.NewTimer(publishWait)
	defer timer.Stop()
	select {
	case b.queue <- msg:
	case <-timer.C:
		metrics.BusDropped.Inc()
		b.logger.Error("inbound message dropped, queue full past deadline",
			"channel", msg.Channel, "sender", msg.SenderID)
	}
}

// Subscribe exposes the inbound queue. The routing loop is the single
// consumer; the channel closes on Close.
func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.queue
}

// OnOutbound registers the reply handler for one channel name. A second
// registration for the same name replaces the first.
func (b *InMemoryBus) OnOutbound(channelName string, handler func(domain.OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.outbound[channelName]; exists {
		b.logger.Warn("outbound handler replaced", "channel", channelName)
	}
	b.outbound[channelName] = handler
}

// SendOutbound delivers a reply synchronously to the handler registered
// for msg.Channel. Replies for unknown channels are logged and dropped.
func (b *InMemoryBus) SendOutbound(msg domain.OutboundMessage) {
	b.mu.RLock()
	handler, ok := b.outbound[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no outbound handler for channel", "channel", msg.Channel)
		return
	}
	handler(msg)
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.queue)
}

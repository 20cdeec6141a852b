// Package stream moves quotes from feeds to the engine and other subscribers.
package stream

import (
	"context"
	"sort"
	"sync"
	"time"

	"scenario-trader/internal/models"
)

// HubConfig holds configuration for the Hub.
type HubConfig struct {
	// BufferSize is the size of the internal quote channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:           1000,
		SubscriberBufferSize: 100,
	}
}

// Publisher accepts quotes from a feed.
type Publisher interface {
	Publish(q models.Quote)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(models.Quote)

// Publish calls f(q).
func (f PublisherFunc) Publish(q models.Quote) { f(q) }

// Consumer receives every quote for the symbols it asks for. OnTick is
// called from the hub's broadcast goroutine in publish order and must not
// block.
type Consumer interface {
	OnTick(q models.Quote)
	// Symbols returns the symbols this consumer is interested in.
	// Return nil or empty slice to receive all quotes.
	Symbols() []string
}

// Hub fans quotes out from feeds to channel subscribers and consumers.
// Publishing never blocks: quotes are dropped when a buffer is full.
type Hub struct {
	config      HubConfig
	mu          sync.RWMutex
	subscribers map[string][]*Subscriber
	quotes      chan models.Quote
	done        chan struct{}
	started     bool
	consumers   []Consumer
	consumersMu sync.RWMutex

	// Metrics
	received  uint64
	broadcast uint64
	dropped   uint64
	metricsMu sync.RWMutex
}

// Subscriber represents a channel subscriber with metadata.
type Subscriber struct {
	ID           string
	Channel      chan models.Quote
	DroppedCount int
	CreatedAt    time.Time
}

// NewHub creates a hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultHubConfig().BufferSize
	}
	if config.SubscriberBufferSize <= 0 {
		config.SubscriberBufferSize = DefaultHubConfig().SubscriberBufferSize
	}
	return &Hub{
		config:      config,
		subscribers: make(map[string][]*Subscriber),
		quotes:      make(chan models.Quote, config.BufferSize),
		done:        make(chan struct{}),
	}
}

// Start begins the distribution loop.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true
	go h.broadcastLoop(ctx)
}

func (h *Hub) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case q := <-h.quotes:
			h.metricsMu.Lock()
			h.received++
			h.metricsMu.Unlock()

			h.fanOut(q)
			h.notifyConsumers(q)
		}
	}
}

// Stop stops the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return
	}

	close(h.done)
	h.started = false

	for symbol, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, symbol)
	}
}

// Subscribe adds a subscriber for a symbol and returns its channel.
func (h *Hub) Subscribe(symbol string) <-chan models.Quote {
	return h.SubscribeWithID(symbol, "")
}

// SubscribeWithID adds a subscriber with a specific ID for a symbol.
func (h *Hub) SubscribeWithID(symbol, id string) <-chan models.Quote {
	ch := make(chan models.Quote, h.config.SubscriberBufferSize)
	sub := &Subscriber{
		ID:        id,
		Channel:   ch,
		CreatedAt: time.Now(),
	}

	h.mu.Lock()
	h.subscribers[symbol] = append(h.subscribers[symbol], sub)
	h.mu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber channel for a symbol and closes it.
func (h *Hub) Unsubscribe(symbol string, ch <-chan models.Quote) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[symbol]
	for i, sub := range subs {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers[symbol] = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	if len(h.subscribers[symbol]) == 0 {
		delete(h.subscribers, symbol)
	}
}

// Publish queues a quote for distribution. If the internal buffer is full
// the quote is dropped.
func (h *Hub) Publish(q models.Quote) {
	select {
	case h.quotes <- q:
	default:
		h.metricsMu.Lock()
		h.dropped++
		h.metricsMu.Unlock()
	}
}

// fanOut sends a quote to the subscribers of its symbol without blocking.
func (h *Hub) fanOut(q models.Quote) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers[q.Symbol] {
		select {
		case sub.Channel <- q:
			h.metricsMu.Lock()
			h.broadcast++
			h.metricsMu.Unlock()
		default:
			sub.DroppedCount++
			h.metricsMu.Lock()
			h.dropped++
			h.metricsMu.Unlock()
		}
	}
}

// SubscriberCount returns the number of subscribers for a symbol.
func (h *Hub) SubscriberCount(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[symbol])
}

// Symbols returns every symbol wanted by a subscriber or consumer, sorted.
// Feeds use it to decide what to subscribe to upstream.
func (h *Hub) Symbols() []string {
	seen := make(map[string]struct{})

	h.mu.RLock()
	for symbol := range h.subscribers {
		seen[symbol] = struct{}{}
	}
	h.mu.RUnlock()

	h.consumersMu.RLock()
	consumers := make([]Consumer, len(h.consumers))
	copy(consumers, h.consumers)
	h.consumersMu.RUnlock()

	for _, c := range consumers {
		for _, s := range c.Symbols() {
			seen[s] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	Received    uint64 `json:"received"`
	Broadcast   uint64 `json:"broadcast"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
	Consumers   int    `json:"consumers"`
}

// Metrics returns hub metrics.
func (h *Hub) Metrics() HubMetrics {
	h.metricsMu.RLock()
	m := HubMetrics{
		Received:  h.received,
		Broadcast: h.broadcast,
		Dropped:   h.dropped,
	}
	h.metricsMu.RUnlock()

	h.mu.RLock()
	for _, subs := range h.subscribers {
		m.Subscribers += len(subs)
	}
	h.mu.RUnlock()

	h.consumersMu.RLock()
	m.Consumers = len(h.consumers)
	h.consumersMu.RUnlock()
	return m
}

// IsStarted returns whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// RegisterConsumer adds a consumer to receive quotes.
func (h *Hub) RegisterConsumer(consumer Consumer) {
	h.consumersMu.Lock()
	h.consumers = append(h.consumers, consumer)
	h.consumersMu.Unlock()
}

// UnregisterConsumer removes a consumer.
func (h *Hub) UnregisterConsumer(consumer Consumer) {
	h.consumersMu.Lock()
	defer h.consumersMu.Unlock()

	for i, c := range h.consumers {
		if c == consumer {
			h.consumers = append(h.consumers[:i], h.consumers[i+1:]...)
			break
		}
	}
}

func (h *Hub) notifyConsumers(q models.Quote) {
	h.consumersMu.RLock()
	consumers := make([]Consumer, len(h.consumers))
	copy(consumers, h.consumers)
	h.consumersMu.RUnlock()

	for _, consumer := range consumers {
		symbols := consumer.Symbols()
		if len(symbols) == 0 || containsSymbol(symbols, q.Symbol) {
			consumer.OnTick(q)
		}
	}
}

func containsSymbol(symbols []string, symbol string) bool {
	for _, s := range symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// ConsumerFunc is a function adapter for Consumer.
type ConsumerFunc struct {
	symbols  []string
	onTickFn func(models.Quote)
}

// NewConsumerFunc creates a new ConsumerFunc.
func NewConsumerFunc(symbols []string, onTick func(models.Quote)) *ConsumerFunc {
	return &ConsumerFunc{
		symbols:  symbols,
		onTickFn: onTick,
	}
}

// OnTick implements Consumer.
func (c *ConsumerFunc) OnTick(q models.Quote) {
	if c.onTickFn != nil {
		c.onTickFn(q)
	}
}

// Symbols implements Consumer.
func (c *ConsumerFunc) Symbols() []string {
	return c.symbols
}

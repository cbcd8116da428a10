package notify

import (
	"sync"

	"github.com/anstrom/vulnscan/internal/errors"
	"github.com/anstrom/vulnscan/internal/logging"
	"github.com/anstrom/vulnscan/internal/metrics"
	"github.com/anstrom/vulnscan/internal/topics"
)

// DefaultQueueSize is the per-subscriber queue capacity.
const DefaultQueueSize = 256

// Hub delivers events to the subscribers of a topic. A subscriber whose
// delivery fails is removed from every topic and closed; publishers never
// see the failure.
type Hub struct {
	registry  *topics.Registry[*Subscriber]
	queueSize int
	logger    *logging.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithQueueSize sets the per-subscriber queue capacity.
func WithQueueSize(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.queueSize = size
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(logger *logging.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics records hub activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		registry:  topics.NewRegistry[*Subscriber](),
		queueSize: DefaultQueueSize,
		logger:    logging.NewDiscard(),
		subs:      make(map[*Subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.WithComponent("notify")
	return h
}

// Connect creates a subscriber attached to topic. The subscriber's first
// event is always connected.
func (h *Hub) Connect(topic string) (*Subscriber, error) {
	sub := newSubscriber(h.queueSize)
	sub.offer(Connected("Connected to " + topic))

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return nil, errors.ErrUnavailable("notification hub is closed")
	}
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()

	h.registry.Subscribe(topic, sub)
	h.metrics.SetSubscribers(count)
	h.logger.Debug("Subscriber connected", "subscriber", sub.id, "topic", topic)
	return sub, nil
}

// Subscribe adds another independent subscription for an existing
// subscriber.
func (h *Hub) Subscribe(sub *Subscriber, topic string) topics.Handle {
	return h.registry.Subscribe(topic, sub)
}

// Unsubscribe removes a single subscription.
func (h *Hub) Unsubscribe(handle topics.Handle) {
	h.registry.Unsubscribe(handle)
}

// Disconnect removes sub from every topic and closes it. Calling it more
// than once is harmless.
func (h *Hub) Disconnect(sub *Subscriber) {
	h.registry.RemoveAll(sub)
	if !sub.close() {
		return
	}

	h.mu.Lock()
	delete(h.subs, sub)
	count := len(h.subs)
	h.mu.Unlock()

	h.metrics.SetSubscribers(count)
	h.logger.Debug("Subscriber disconnected", "subscriber", sub.id)
}

// Publish delivers ev to every current subscriber of topic.
func (h *Hub) Publish(topic string, ev Event) {
	h.metrics.EventPublished(string(ev.Type))

	for _, sub := range h.registry.SubscribersOf(topic) {
		if result := sub.offer(ev); result != Delivered {
			h.drop(sub, result)
		}
	}
}

// BroadcastCompletion announces a finished job on its own topic and on the
// dashboard topic.
func (h *Hub) BroadcastCompletion(jobID string, summary Summary) {
	h.Publish(JobTopic(jobID), CompletedEvent(jobID, summary))
	h.Publish(DashboardTopic, DashboardUpdate(jobID))
}

// Reply sends ev to a single subscriber.
func (h *Hub) Reply(sub *Subscriber, ev Event) {
	if result := sub.offer(ev); result != Delivered {
		h.drop(sub, result)
	}
}

// SubscriberCount returns the number of subscriptions on topic.
func (h *Hub) SubscriberCount(topic string) int {
	return h.registry.Count(topic)
}

// Close disconnects every subscriber. Connect fails afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.Disconnect(sub)
	}
}

func (h *Hub) drop(sub *Subscriber, result Result) {
	h.metrics.DeliveryFailed(result.String())
	h.logger.Warn("Dropping subscriber after failed delivery",
		"subscriber", sub.id,
		"code", errors.CodeDeliveryFailed,
		"reason", result.String())
	h.Disconnect(sub)
}

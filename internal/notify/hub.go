// Package notify delivers order events to live subscribers and to the
// asynchronous sinks (event topic, push transport).
//
// The Hub owns all subscriber state in a single goroutine. Events for one
// order carry a sequence number assigned in the transaction that produced
// them; the Hub holds early arrivals until the missing predecessors show up
// so subscribers observe events in commit order.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/joao-fontenele/deliveryflow/internal/domain"
)

const (
	defaultBuffer     = 64
	defaultGapTimeout = 250 * time.Millisecond
	defaultMaxPending = 32

	// queueIdleTTL is how long an order's sequence state is kept after its
	// last event.
	queueIdleTTL = 10 * time.Minute
)

func MerchantTopic(id string) string { return "merchant/" + id }
func CourierTopic(id string) string  { return "courier/" + id }
func CustomerTopic(id string) string { return "customer/" + id }
func OrderTopic(id string) string    { return "order/" + id }

// Topics lists the topics an event is delivered to.
func Topics(e domain.Event) []string {
	topics := []string{OrderTopic(e.OrderID)}
	if e.For(domain.AudienceMerchant) && e.MerchantID != "" {
		topics = append(topics, MerchantTopic(e.MerchantID))
	}
	if e.For(domain.AudienceCourier) && e.CourierID != "" {
		topics = append(topics, CourierTopic(e.CourierID))
	}
	if e.For(domain.AudienceCustomer) && e.CustomerID != "" {
		topics = append(topics, CustomerTopic(e.CustomerID))
	}
	return topics
}

type Subscription struct {
	topics []string
	ch     chan domain.Event
	hub    *Hub
}

// Events is closed when the subscription ends or the hub stops.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

func (s *Subscription) Close() {
	select {
	case s.hub.unsub <- s:
	case <-s.hub.done:
	}
}

type orderQueue struct {
	next    int64
	pending map[int64]domain.Event
	since   time.Time
}

type HubOption func(*Hub)

// WithGapTimeout sets how long an out-of-order event waits for its
// predecessors before the hub gives up on them.
func WithGapTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		h.gapTimeout = d
	}
}

func WithSubscriberBuffer(n int) HubOption {
	return func(h *Hub) {
		h.buffer = n
	}
}

type Hub struct {
	in    chan domain.Event
	sub   chan *Subscription
	unsub chan *Subscription
	done  chan struct{}

	gapTimeout time.Duration
	maxPending int
	buffer     int
	logger     *slog.Logger

	// owned by run
	subs   map[string]map[*Subscription]struct{}
	queues map[string]*orderQueue
}

func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		in:         make(chan domain.Event, 1024),
		sub:        make(chan *Subscription),
		unsub:      make(chan *Subscription),
		done:       make(chan struct{}),
		gapTimeout: defaultGapTimeout,
		maxPending: defaultMaxPending,
		buffer:     defaultBuffer,
		logger:     logger,
		subs:       make(map[string]map[*Subscription]struct{}),
		queues:     make(map[string]*orderQueue),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers interest in the given topics. It returns nil once the
// hub has stopped.
func (h *Hub) Subscribe(topics ...string) *Subscription {
	s := &Subscription{
		topics: topics,
		ch:     make(chan domain.Event, h.buffer),
		hub:    h,
	}
	select {
	case h.sub <- s:
		return s
	case <-h.done:
		return nil
	}
}

// Publish hands the event to the delivery goroutine.
func (h *Hub) Publish(e domain.Event) {
	select {
	case h.in <- e:
	case <-h.done:
	}
}

// Run delivers events until ctx is cancelled, then closes every subscription.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(max(h.gapTimeout/2, time.Millisecond))
	defer ticker.Stop()
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.sub:
			for _, topic := range s.topics {
				if h.subs[topic] == nil {
					h.subs[topic] = make(map[*Subscription]struct{})
				}
				h.subs[topic][s] = struct{}{}
			}
		case s := <-h.unsub:
			h.remove(s)
		case e := <-h.in:
			h.accept(e, time.Now())
		case now := <-ticker.C:
			h.flushStale(now)
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)
	closed := make(map[*Subscription]struct{})
	for _, set := range h.subs {
		for s := range set {
			if _, ok := closed[s]; !ok {
				close(s.ch)
				closed[s] = struct{}{}
			}
		}
	}
	h.subs = nil
}

func (h *Hub) remove(s *Subscription) {
	found := false
	for _, topic := range s.topics {
		if set, ok := h.subs[topic]; ok {
			if _, ok := set[s]; ok {
				found = true
				delete(set, s)
			}
			if len(set) == 0 {
				delete(h.subs, topic)
			}
		}
	}
	if found {
		close(s.ch)
	}
}

func (h *Hub) accept(e domain.Event, now time.Time) {
	q := h.queues[e.OrderID]
	if q == nil {
		q = &orderQueue{pending: make(map[int64]domain.Event)}
		if e.Seq == 1 {
			q.next = 1
		}
		h.queues[e.OrderID] = q
	}

	if q.next != 0 && e.Seq < q.next {
		h.logger.Warn("dropping stale event", "order_id", e.OrderID, "seq", e.Seq, "next", q.next)
		return
	}

	if len(q.pending) == 0 {
		q.since = now
	}
	q.pending[e.Seq] = e
	h.drain(q, now)

	if len(q.pending) > h.maxPending {
		h.skipGap(e.OrderID, q, now)
	}
}

func (h *Hub) drain(q *orderQueue, now time.Time) {
	progressed := false
	for q.next != 0 {
		e, ok := q.pending[q.next]
		if !ok {
			break
		}
		delete(q.pending, q.next)
		q.next++
		progressed = true
		h.deliver(e)
	}
	if progressed {
		q.since = now
	}
}

func (h *Hub) flushStale(now time.Time) {
	for orderID, q := range h.queues {
		switch {
		case len(q.pending) > 0 && now.Sub(q.since) >= h.gapTimeout:
			h.skipGap(orderID, q, now)
		case len(q.pending) == 0 && now.Sub(q.since) >= queueIdleTTL:
			delete(h.queues, orderID)
		}
	}
}

// skipGap gives up on missing predecessors and resumes from the lowest
// pending sequence number.
func (h *Hub) skipGap(orderID string, q *orderQueue, now time.Time) {
	lowest := int64(0)
	for seq := range q.pending {
		if lowest == 0 || seq < lowest {
			lowest = seq
		}
	}
	if lowest == 0 {
		return
	}
	if q.next != 0 {
		h.logger.Warn("skipping missing events", "order_id", orderID, "from", q.next, "to", lowest-1)
	}
	q.next = lowest
	h.drain(q, now)
}

func (h *Hub) deliver(e domain.Event) {
	seen := make(map[*Subscription]struct{})
	for _, topic := range Topics(e) {
		for s := range h.subs[topic] {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			select {
			case s.ch <- e:
			default:
				h.logger.Warn("subscriber buffer full, dropping event", "order_id", e.OrderID, "seq", e.Seq, "topic", topic)
			}
		}
	}
}

package rws

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Mesh-ch/abb-robot-client/errors"
	"github.com/Mesh-ch/abb-robot-client/metric"
	"github.com/Mesh-ch/abb-robot-client/pkg/timestamp"
)

// muxMetrics holds Prometheus metrics for the subscription multiplexer
type muxMetrics struct {
	dispatched    prometheus.Counter
	unmatched     prometheus.Counter
	subscriptions prometheus.Gauge
}

func newMuxMetrics(registry *metric.MetricsRegistry) *muxMetrics {
	if registry == nil {
		return nil
	}

	m := &muxMetrics{
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abbrobot",
			Subsystem: "rws",
			Name:      "events_dispatched_total",
			Help:      "Push events routed to at least one subscription",
		}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "abbrobot",
			Subsystem: "rws",
			Name:      "events_unmatched_total",
			Help:      "Push events with no matching subscription, dropped",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "abbrobot",
			Subsystem: "rws",
			Name:      "subscriptions",
			Help:      "Subscriptions currently registered",
		}),
	}

	registry.RegisterCounter("rws_mux", "dispatched", m.dispatched)
	registry.RegisterCounter("rws_mux", "unmatched", m.unmatched)
	registry.RegisterGauge("rws_mux", "subscriptions", m.subscriptions)

	return m
}

// MultiplexerDeps holds runtime dependencies for a Multiplexer.
type MultiplexerDeps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	QueueCapacity   int // per-subscription queue capacity, default 256
}

// Multiplexer routes controller push events to subscriptions. One
// listener goroutine per attached event stream feeds Dispatch; Dispatch
// never blocks beyond a constant-time bounded-queue append.
type Multiplexer struct {
	logger        *slog.Logger
	metrics       *muxMetrics
	queueCapacity int

	mu     sync.Mutex
	subs   map[string]*Subscription
	routes map[string]map[string]*Subscription // resource key -> sub id -> sub

	unmatched  atomic.Int64
	dispatched atomic.Int64
	wg         sync.WaitGroup
}

// NewMultiplexer creates an empty multiplexer.
func NewMultiplexer(deps MultiplexerDeps) *Multiplexer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "rws-mux")
	}
	capacity := deps.QueueCapacity
	if capacity <= 0 {
		capacity = 256
	}

	return &Multiplexer{
		logger:        logger,
		metrics:       newMuxMetrics(deps.MetricsRegistry),
		queueCapacity: capacity,
		subs:          make(map[string]*Subscription),
		routes:        make(map[string]map[string]*Subscription),
	}
}

// Subscribe reserves a pending subscription for the given resources.
// A resource already covered by a registered subscription in a different
// delivery mode is a conflict; same-mode overlap fans events out to both.
func (m *Multiplexer) Subscribe(resources []Resource, mode DeliveryMode) (*Subscription, error) {
	if len(resources) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no resources given"),
			"Multiplexer", "Subscribe", "resource validation")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range resources {
		for _, existing := range m.routes[r.Key()] {
			if existing.mode != mode {
				return nil, errors.WrapInvalid(
					fmt.Errorf("%w: %s held in %s mode", errors.ErrAlreadySubscribed, r.Key(), existing.mode),
					"Multiplexer", "Subscribe", "conflict check")
			}
		}
	}

	sub := newSubscription(m, resources, mode, m.queueCapacity)
	m.subs[sub.id] = sub
	for _, r := range resources {
		key := r.Key()
		if m.routes[key] == nil {
			m.routes[key] = make(map[string]*Subscription)
		}
		m.routes[key][sub.id] = sub
	}

	if m.metrics != nil {
		m.metrics.subscriptions.Set(float64(len(m.subs)))
	}
	return sub, nil
}

// Attach binds an established event stream to a pending subscription and
// starts its listener goroutine. The subscription becomes active.
func (m *Multiplexer) Attach(sub *Subscription, stream EventStream, serverID string) {
	sub.activate(stream, serverID)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.listen(sub, stream)
	}()
}

// listen reads push payloads from one stream until it fails or the
// subscription closes.
func (m *Multiplexer) listen(sub *Subscription, stream EventStream) {
	for {
		payload, err := stream.ReadMessage()
		if err != nil {
			if !sub.Closed() {
				m.logger.Warn("event stream ended",
					"subscription", sub.id, "error", err)
				_ = sub.Close()
			}
			return
		}
		m.Dispatch(payload)
	}
}

// Dispatch parses one push payload and appends the event to every
// matching active subscription queue. A payload matching nothing is
// dropped and counted, never an error.
func (m *Multiplexer) Dispatch(raw []byte) {
	ev, err := parseEvent(raw, timestamp.Now())
	if err != nil {
		m.countUnmatched()
		m.logger.Debug("dropping unparseable push payload", "error", err)
		return
	}

	m.mu.Lock()
	targets := make([]*Subscription, 0, 2)
	for _, sub := range m.routes[ev.Resource] {
		if sub.Active() {
			targets = append(targets, sub)
		}
	}
	m.mu.Unlock()

	if len(targets) == 0 {
		m.countUnmatched()
		m.logger.Debug("dropping event with no matching subscription",
			"resource", ev.Resource, "class", ev.Class)
		return
	}

	for _, sub := range targets {
		sub.deliver(ev)
	}
	m.dispatched.Add(1)
	if m.metrics != nil {
		m.metrics.dispatched.Inc()
	}
}

func (m *Multiplexer) countUnmatched() {
	m.unmatched.Add(1)
	if m.metrics != nil {
		m.metrics.unmatched.Inc()
	}
}

// release removes a subscription from the routing tables. Idempotent;
// called from Subscription.Close and on handshake failure.
func (m *Multiplexer) release(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subs[sub.id]; !exists {
		return
	}
	delete(m.subs, sub.id)
	for _, r := range sub.resources {
		key := r.Key()
		delete(m.routes[key], sub.id)
		if len(m.routes[key]) == 0 {
			delete(m.routes, key)
		}
	}
	if m.metrics != nil {
		m.metrics.subscriptions.Set(float64(len(m.subs)))
	}
}

// Unsubscribe closes a subscription and removes its routes. Idempotent.
func (m *Multiplexer) Unsubscribe(sub *Subscription) {
	_ = sub.Close()
}

// CloseAll closes every registered subscription and waits for the stream
// listeners to finish.
func (m *Multiplexer) CloseAll() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	m.wg.Wait()
}

// Unmatched returns how many push payloads matched no subscription.
func (m *Multiplexer) Unmatched() int64 { return m.unmatched.Load() }

// Dispatched returns how many push payloads were routed.
func (m *Multiplexer) Dispatched() int64 { return m.dispatched.Load() }

// Len returns the number of registered subscriptions.
func (m *Multiplexer) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

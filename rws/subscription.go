package rws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Mesh-ch/abb-robot-client/pkg/buffer"
)

// DeliveryMode selects how a subscription queues its events.
type DeliveryMode int

const (
	// ModeGroup delivers events for all covered resources through one queue.
	ModeGroup DeliveryMode = iota
	// ModePerResource gives every covered resource its own queue.
	ModePerResource
)

// String returns the string representation of a DeliveryMode.
func (m DeliveryMode) String() string {
	switch m {
	case ModeGroup:
		return "group"
	case ModePerResource:
		return "per-resource"
	default:
		return "unknown"
	}
}

// Subscription lifecycle states.
const (
	subPending int32 = iota
	subActive
	subClosed
)

// groupKey is the queue key used in ModeGroup.
const groupKey = ""

// Subscription is one event subscription. Queues are bounded with a
// drop-oldest overflow policy, so a slow consumer loses its own oldest
// events and never stalls the shared stream listener; Dropped reports the
// loss count.
type Subscription struct {
	id        string
	serverID  string
	mode      DeliveryMode
	resources []Resource

	mux    *Multiplexer
	stream EventStream

	queues   map[string]buffer.Buffer[Event]
	channels map[string]chan Event

	state     atomic.Int32
	dropped   atomic.Int64
	delivered atomic.Int64

	closedCh  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// closeHook runs once on Close, before queues drain. The client uses
	// it to unregister the subscription on the controller.
	closeHook func(*Subscription)
}

func newSubscription(mux *Multiplexer, resources []Resource, mode DeliveryMode, queueCapacity int) *Subscription {
	s := &Subscription{
		id:        uuid.NewString(),
		mode:      mode,
		resources: resources,
		mux:       mux,
		queues:    make(map[string]buffer.Buffer[Event]),
		channels:  make(map[string]chan Event),
		closedCh:  make(chan struct{}),
	}

	keys := []string{groupKey}
	if mode == ModePerResource {
		keys = keys[:0]
		for _, r := range resources {
			keys = append(keys, r.Key())
		}
	}

	for _, key := range keys {
		if _, exists := s.queues[key]; exists {
			continue
		}
		s.queues[key] = buffer.NewCircular[Event](queueCapacity,
			buffer.WithOverflowPolicy[Event](buffer.DropOldest),
			buffer.WithDropCallback[Event](func(Event) { s.dropped.Add(1) }))
		s.channels[key] = make(chan Event)
	}

	return s
}

// ID returns the client-side subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Mode returns the delivery mode.
func (s *Subscription) Mode() DeliveryMode { return s.mode }

// Resources returns the covered resources.
func (s *Subscription) Resources() []Resource { return s.resources }

// Active reports whether the subscription is attached to a live stream.
func (s *Subscription) Active() bool { return s.state.Load() == subActive }

// Closed reports whether the subscription has been closed.
func (s *Subscription) Closed() bool { return s.state.Load() == subClosed }

// Dropped returns how many events were evicted from full queues.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Delivered returns how many events were appended to queues.
func (s *Subscription) Delivered() int64 { return s.delivered.Load() }

// Events returns the delivery channel. In ModePerResource it returns nil;
// use EventsFor.
func (s *Subscription) Events() <-chan Event {
	if s.mode != ModeGroup {
		return nil
	}
	return s.channels[groupKey]
}

// EventsFor returns the delivery channel for one resource path in
// ModePerResource, or nil when the subscription does not cover it.
func (s *Subscription) EventsFor(path string) <-chan Event {
	if s.mode != ModePerResource {
		return nil
	}
	return s.channels[resourceKey(path)]
}

// covers reports whether the subscription routes the given resource key.
func (s *Subscription) covers(key string) bool {
	for _, r := range s.resources {
		if r.Key() == key {
			return true
		}
	}
	return false
}

// deliver appends an event to the matching queue. Constant time: a full
// queue evicts its oldest entry instead of blocking.
func (s *Subscription) deliver(ev Event) {
	if s.state.Load() != subActive {
		return
	}

	key := groupKey
	if s.mode == ModePerResource {
		key = ev.Resource
	}
	q, ok := s.queues[key]
	if !ok {
		return
	}
	if err := q.Write(ev); err == nil {
		s.delivered.Add(1)
	}
}

// activate attaches the stream and starts one pump per queue.
func (s *Subscription) activate(stream EventStream, serverID string) {
	s.stream = stream
	s.serverID = serverID
	s.state.Store(subActive)

	for key := range s.queues {
		s.wg.Add(1)
		go s.pump(s.queues[key], s.channels[key])
	}
}

// pump moves events from a bounded queue to its delivery channel,
// preserving per-resource order. Exits after close once the queue is
// drained or the consumer is gone.
func (s *Subscription) pump(q buffer.Buffer[Event], ch chan Event) {
	defer s.wg.Done()
	defer close(ch)

	for {
		batch := q.ReadBatch(16)
		if len(batch) == 0 {
			select {
			case <-s.closedCh:
				if batch = q.ReadBatch(16); len(batch) == 0 {
					return
				}
			case <-time.After(5 * time.Millisecond):
				continue
			}
		}
		for _, ev := range batch {
			select {
			case ch <- ev:
			case <-s.closedCh:
				return
			}
		}
	}
}

// Close tears the subscription down: the stream is closed, the controller
// side is unregistered, queues drain and delivery channels close.
// Idempotent; a second call is a no-op.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		wasActive := s.state.Swap(subClosed) == subActive

		if s.stream != nil {
			_ = s.stream.Close()
		}
		if s.closeHook != nil {
			s.closeHook(s)
		}
		if s.mux != nil {
			s.mux.release(s)
		}

		close(s.closedCh)
		if wasActive {
			s.wg.Wait()
		}
		for _, q := range s.queues {
			_ = q.Close()
		}
	})
	return nil
}

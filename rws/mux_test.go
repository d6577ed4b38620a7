package rws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mesh-ch/abb-robot-client/errors"
)

func newTestMux(queueCapacity int) *Multiplexer {
	return NewMultiplexer(MultiplexerDeps{QueueCapacity: queueCapacity})
}

func TestMux_ConflictingModes(t *testing.T) {
	mux := newTestMux(8)

	first, err := mux.Subscribe([]Resource{SignalResource("", "", "DO1")}, ModeGroup)
	require.NoError(t, err)
	defer first.Close()

	// Same resource in the other mode conflicts
	_, err = mux.Subscribe([]Resource{SignalResource("", "", "DO1")}, ModePerResource)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadySubscribed)

	// Same mode fans out
	second, err := mux.Subscribe([]Resource{SignalResource("", "", "DO1")}, ModeGroup)
	require.NoError(t, err)
	defer second.Close()
}

func TestMux_FanOutSameMode(t *testing.T) {
	mux := newTestMux(8)

	s1, err := mux.Subscribe([]Resource{SignalResource("", "", "DO1")}, ModeGroup)
	require.NoError(t, err)
	s2, err := mux.Subscribe([]Resource{SignalResource("", "", "DO1")}, ModeGroup)
	require.NoError(t, err)

	st1, st2 := newFakeStream(), newFakeStream()
	mux.Attach(s1, st1, "1")
	mux.Attach(s2, st2, "2")
	defer mux.CloseAll()

	mux.Dispatch([]byte(signalPushPayload))

	for _, s := range []*Subscription{s1, s2} {
		select {
		case ev := <-s.Events():
			assert.Equal(t, "/rw/iosystem/signals/Local/DRV_1/DO1", ev.Resource)
		case <-time.After(time.Second):
			t.Fatal("event not fanned out")
		}
	}
	assert.Equal(t, int64(1), mux.Dispatched())
}

func TestMux_UnmatchedCountedNotDelivered(t *testing.T) {
	mux := newTestMux(8)

	sub, err := mux.Subscribe([]Resource{ControllerStateResource()}, ModeGroup)
	require.NoError(t, err)
	mux.Attach(sub, newFakeStream(), "1")
	defer mux.CloseAll()

	// Signal event, but only ctrlstate is subscribed
	mux.Dispatch([]byte(signalPushPayload))
	// Garbage payload
	mux.Dispatch([]byte("not an event"))

	assert.Equal(t, int64(2), mux.Unmatched())
	assert.Equal(t, int64(0), mux.Dispatched())

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected delivery: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMux_PerResourceRouting(t *testing.T) {
	mux := newTestMux(8)

	sub, err := mux.Subscribe([]Resource{
		SignalResource("", "", "DO1"),
		ControllerStateResource(),
	}, ModePerResource)
	require.NoError(t, err)
	mux.Attach(sub, newFakeStream(), "1")
	defer mux.CloseAll()

	mux.Dispatch([]byte(ctrlStatePushPayload))
	mux.Dispatch([]byte(signalPushPayload))

	select {
	case ev := <-sub.EventsFor("/rw/panel/ctrlstate"):
		assert.Equal(t, ClassControllerSt, ev.Class)
	case <-time.After(time.Second):
		t.Fatal("no ctrlstate event")
	}
	select {
	case ev := <-sub.EventsFor(SignalResource("", "", "DO1").Path):
		assert.Equal(t, ClassSignalState, ev.Class)
	case <-time.After(time.Second):
		t.Fatal("no signal event")
	}

	// Group channel does not exist in per-resource mode
	assert.Nil(t, sub.Events())
	// Uncovered resource has no channel
	assert.Nil(t, sub.EventsFor("/rw/elog/0"))
}

func TestMux_PerResourceOrderPreserved(t *testing.T) {
	mux := newTestMux(64)

	sub, err := mux.Subscribe([]Resource{SignalResource("", "", "DO1")}, ModeGroup)
	require.NoError(t, err)
	mux.Attach(sub, newFakeStream(), "1")
	defer mux.CloseAll()

	for i := 0; i < 20; i++ {
		mux.Dispatch([]byte(signalPushPayload))
	}

	var prev int64 = -1
	for i := 0; i < 20; i++ {
		select {
		case ev := <-sub.Events():
			assert.GreaterOrEqual(t, ev.Timestamp, prev)
			prev = ev.Timestamp
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
}

func TestMux_SlowConsumerDropsOldest(t *testing.T) {
	mux := newTestMux(4)

	sub, err := mux.Subscribe([]Resource{SignalResource("", "", "DO1")}, ModeGroup)
	require.NoError(t, err)
	mux.Attach(sub, newFakeStream(), "1")
	defer mux.CloseAll()

	// Nobody reads; queue capacity 4 plus one event parked in the pump.
	for i := 0; i < 50; i++ {
		mux.Dispatch([]byte(signalPushPayload))
	}

	assert.Eventually(t, func() bool {
		return sub.Dropped() > 0
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(50), sub.Delivered())
}

func TestMux_UnsubscribeIdempotent(t *testing.T) {
	mux := newTestMux(8)

	sub, err := mux.Subscribe([]Resource{ControllerStateResource()}, ModeGroup)
	require.NoError(t, err)
	mux.Attach(sub, newFakeStream(), "1")

	mux.Unsubscribe(sub)
	assert.True(t, sub.Closed())
	assert.Equal(t, 0, mux.Len())

	// Second unsubscribe is a no-op
	mux.Unsubscribe(sub)
	assert.Equal(t, 0, mux.Len())

	// Resource is free again after release
	again, err := mux.Subscribe([]Resource{ControllerStateResource()}, ModePerResource)
	require.NoError(t, err)
	defer again.Close()
}

func TestMux_StreamFailureClosesSubscription(t *testing.T) {
	mux := newTestMux(8)

	sub, err := mux.Subscribe([]Resource{ControllerStateResource()}, ModeGroup)
	require.NoError(t, err)
	stream := newFakeStream()
	mux.Attach(sub, stream, "1")

	_ = stream.Close()

	assert.Eventually(t, sub.Closed, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, mux.Len())
}

func TestMux_ClosedChannelAfterClose(t *testing.T) {
	mux := newTestMux(8)

	sub, err := mux.Subscribe([]Resource{ControllerStateResource()}, ModeGroup)
	require.NoError(t, err)
	mux.Attach(sub, newFakeStream(), "1")

	ch := sub.Events()
	require.NoError(t, sub.Close())

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("delivery channel not closed")
	}
}

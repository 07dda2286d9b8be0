package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	assert.Equal(t, 1, broker.SubscriberCount())

	broker.Publish(&Event{
		Type:        EventExecutorRegistered,
		FrameworkID: "F1",
		ExecutorID:  "E1",
	})

	select {
	case event := <-sub:
		assert.Equal(t, EventExecutorRegistered, event.Type)
		assert.Equal(t, "F1", event.FrameworkID)
		assert.False(t, event.Timestamp.IsZero(), "broker stamps missing timestamps")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerMultipleSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	a := broker.Subscribe()
	b := broker.Subscribe()

	broker.Publish(&Event{Type: EventTaskStateChanged, TaskID: "T1"})

	for _, sub := range []Subscriber{a, b} {
		select {
		case event := <-sub:
			assert.Equal(t, "T1", event.TaskID)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed event")
		}
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)

	_, open := <-sub
	require.False(t, open)
	assert.Equal(t, 0, broker.SubscriberCount())
}

func TestBrokerFullSubscriberDoesNotBlock(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()

	// Overflow the subscriber buffer; publishes must keep completing.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			broker.Publish(&Event{Type: EventTaskQueued})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	_ = sub
}

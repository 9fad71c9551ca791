package events

import (
	"testing"
	"time"

	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b := NewBroker()
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case event := <-sub:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBroker_GlobalSubscriber(t *testing.T) {
	b := newTestBroker(t)
	sub := b.Subscribe()

	b.Publish(&Event{Type: EventNodeOnline, NodeID: "node-1"})

	event := receive(t, sub)
	assert.Equal(t, EventNodeOnline, event.Type)
	assert.Equal(t, "node-1", event.NodeID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestBroker_ExecutionSubscriberFiltering(t *testing.T) {
	b := newTestBroker(t)
	sub := b.SubscribeExecution("exec-1")

	b.Publish(&Event{Type: EventExecutionLog, ExecutionID: "exec-other", Message: "noise"})
	b.Publish(&Event{Type: EventExecutionLog, ExecutionID: "exec-1", LogType: types.LogTypeOutput, Message: "line 1"})

	event := receive(t, sub)
	assert.Equal(t, "exec-1", event.ExecutionID)
	assert.Equal(t, "line 1", event.Message)

	// Nothing else arrives
	select {
	case extra := <-sub:
		t.Fatalf("unexpected event: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_GlobalSeesExecutionEvents(t *testing.T) {
	b := newTestBroker(t)
	global := b.Subscribe()
	perExec := b.SubscribeExecution("exec-1")

	b.Publish(&Event{Type: EventExecutionFinished, ExecutionID: "exec-1"})

	assert.Equal(t, EventExecutionFinished, receive(t, global).Type)
	assert.Equal(t, EventExecutionFinished, receive(t, perExec).Type)
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := newTestBroker(t)

	global := b.Subscribe()
	perExec := b.SubscribeExecution("exec-1")
	require.Equal(t, 2, b.SubscriberCount())

	b.Unsubscribe(global)
	b.Unsubscribe(perExec)
	assert.Equal(t, 0, b.SubscriberCount())

	// Closed channels read immediately
	_, open := <-global
	assert.False(t, open)
	_, open = <-perExec
	assert.False(t, open)
}

func TestBroker_FullSubscriberDoesNotBlock(t *testing.T) {
	b := newTestBroker(t)
	_ = b.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			b.Publish(&Event{Type: EventTaskUpdated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	jobID := uuid.New()

	ch1, unsub1 := hub.Subscribe(jobID)
	ch2, unsub2 := hub.Subscribe(jobID)
	defer unsub1()
	defer unsub2()

	hub.Publish(Event{JobID: jobID, Type: TypeProgress, Progress: 25})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case event := <-ch:
			assert.Equal(t, TypeProgress, event.Type)
			assert.Equal(t, 25.0, event.Progress)
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the event")
		}
	}
}

func TestHubExactlyOneTerminal(t *testing.T) {
	hub := NewHub()
	jobID := uuid.New()

	ch, unsub := hub.Subscribe(jobID)
	defer unsub()

	hub.Publish(Event{JobID: jobID, Type: TypeComplete, Progress: 100})
	hub.Publish(Event{JobID: jobID, Type: TypeError})
	hub.Publish(Event{JobID: jobID, Type: TypeProgress, Progress: 50})

	var received []Event
	for event := range ch {
		received = append(received, event)
	}
	require.Len(t, received, 1)
	assert.Equal(t, TypeComplete, received[0].Type)
}

func TestHubLateSubscriberGetsTerminal(t *testing.T) {
	hub := NewHub()
	jobID := uuid.New()

	hub.Publish(Event{JobID: jobID, Type: TypeError, Error: "encoder crashed"})

	ch, unsub := hub.Subscribe(jobID)
	defer unsub()

	select {
	case event, open := <-ch:
		require.True(t, open)
		assert.Equal(t, TypeError, event.Type)
		assert.Equal(t, "encoder crashed", event.Error)
	case <-time.After(time.Second):
		t.Fatal("late subscriber did not receive the terminal event")
	}

	_, open := <-ch
	assert.False(t, open, "channel stays open after terminal")
}

func TestHubSlowSubscriberStillGetsTerminal(t *testing.T) {
	hub := NewHub()
	jobID := uuid.New()

	ch, unsub := hub.Subscribe(jobID)
	defer unsub()

	// Overflow the buffer without draining.
	for i := 0; i <= subscriberBuffer+4; i++ {
		hub.Publish(Event{JobID: jobID, Type: TypeProgress, Progress: float64(i)})
	}
	hub.Publish(Event{JobID: jobID, Type: TypeComplete, Progress: 100})

	var last Event
	for event := range ch {
		last = event
	}
	assert.Equal(t, TypeComplete, last.Type)
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	jobID := uuid.New()

	ch, unsub := hub.Subscribe(jobID)
	unsub()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.SubscriberCount(jobID))

	// Publishing after unsubscribe must not panic.
	hub.Publish(Event{JobID: jobID, Type: TypeProgress, Progress: 10})
}

func TestHubForget(t *testing.T) {
	hub := NewHub()
	jobID := uuid.New()

	hub.Publish(Event{JobID: jobID, Type: TypeCancelled})
	hub.Forget(jobID)

	// After Forget, a new subscription waits for live events again.
	ch, unsub := hub.Subscribe(jobID)
	defer unsub()

	select {
	case <-ch:
		t.Fatal("forgotten terminal event was replayed")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubIsolatesJobs(t *testing.T) {
	hub := NewHub()
	jobA := uuid.New()
	jobB := uuid.New()

	chA, unsubA := hub.Subscribe(jobA)
	defer unsubA()

	hub.Publish(Event{JobID: jobB, Type: TypeProgress, Progress: 30})

	select {
	case <-chA:
		t.Fatal("event for another job leaked")
	case <-time.After(50 * time.Millisecond):
	}
}

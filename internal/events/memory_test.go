// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEventBus_Publish_AssignsIDAndTimestamp(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	ch, cancel := bus.Tail(1)
	defer cancel()

	bus.Publish(Event{Type: EventSessionSpawned})

	select {
	case e := <-ch:
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestMemoryEventBus_Tail_DeliversToAllSubscribers(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	ch1, cancel1 := bus.Tail(1)
	defer cancel1()
	ch2, cancel2 := bus.Tail(1)
	defer cancel2()

	bus.Publish(Event{Type: EventSessionSpawned, SessionID: "sess-1"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			assert.Equal(t, EventSessionSpawned, e.Type)
			assert.Equal(t, "sess-1", e.SessionID)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestMemoryEventBus_Tail_Cancel(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	ch, cancel := bus.Tail(1)
	cancel()

	_, ok := <-ch
	assert.False(t, ok, "cancel should close the tail channel")

	// Safe to call twice.
	cancel()
}

func TestMemoryEventBus_Tail_DropsOnFullBuffer(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	defer bus.Close()

	ch, cancel := bus.Tail(1)
	defer cancel()

	bus.Publish(Event{Type: EventSessionSpawned})
	bus.Publish(Event{Type: EventSessionRunning})

	// The tailer fell behind and should have been dropped (channel closed),
	// not blocked Publish.
	_, ok := <-ch
	if ok {
		<-ch
	}
	_, ok = <-ch
	assert.False(t, ok)
}

func TestMemoryEventBus_History(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{
		HistoryMaxEvents: 100,
		HistoryMaxAge:    time.Hour,
	})
	defer bus.Close()

	bus.Publish(Event{Type: EventSessionSpawned, SessionID: "sess-1"})
	bus.Publish(Event{Type: EventSessionTerminated, SessionID: "sess-1"})
	bus.Publish(Event{Type: EventToolExecuted, SessionID: "sess-2"})

	history := bus.History(EventFilter{})
	assert.Len(t, history, 3)

	history = bus.History(EventFilter{Types: []string{EventSessionSpawned, EventSessionTerminated}})
	assert.Len(t, history, 2)

	history = bus.History(EventFilter{SessionID: "sess-1"})
	assert.Len(t, history, 2)

	history = bus.History(EventFilter{Limit: 1})
	assert.Len(t, history, 1)
}

func TestMemoryEventBus_History_TimeFilter(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{
		HistoryMaxEvents: 100,
		HistoryMaxAge:    time.Hour,
	})
	defer bus.Close()

	bus.Publish(Event{Type: EventSessionSpawned})

	now := time.Now()

	history := bus.History(EventFilter{Since: now.Add(time.Second)})
	assert.Len(t, history, 0)

	history = bus.History(EventFilter{Until: now.Add(-24 * time.Hour)})
	assert.Len(t, history, 0)

	history = bus.History(EventFilter{
		Since: now.Add(-time.Hour),
		Until: now.Add(time.Hour),
	})
	assert.Len(t, history, 1)
}

func TestMemoryEventBus_Close(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})

	ch, cancel := bus.Tail(1)
	defer cancel()

	require.NoError(t, bus.Close())

	_, ok := <-ch
	assert.False(t, ok, "Close should close every outstanding tail channel")

	// Publishing after close is a no-op, not an error.
	bus.Publish(Event{Type: EventSessionSpawned})

	// Double close should be safe.
	assert.NoError(t, bus.Close())
}

func TestMemoryEventBus_Tail_AfterClose(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	require.NoError(t, bus.Close())

	ch, cancel := bus.Tail(1)
	defer cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestMemoryEventBus_Concurrency(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{HistoryMaxEvents: 1000})
	defer bus.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(Event{Type: EventSessionSpawned})
			}
		}()
	}
	wg.Wait()

	assert.Len(t, bus.History(EventFilter{}), 1000)
}

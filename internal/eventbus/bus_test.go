package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 10)
	bus.Subscribe(TypeRowDone, received)

	bus.Publish(Event{
		Type:     TypeRowDone,
		Row:      100,
		Query:    "red sneakers",
		Filename: "ad_0101.jpg",
	})

	select {
	case evt := <-received:
		if evt.Type != TypeRowDone {
			t.Errorf("expected %s, got %s", TypeRowDone, evt.Type)
		}
		if evt.Row != 100 {
			t.Errorf("expected row 100, got %d", evt.Row)
		}
		if evt.Timestamp.IsZero() {
			t.Error("publish should stamp the event time")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch1 := make(chan Event, 10)
	ch2 := make(chan Event, 10)
	bus.Subscribe(TypeMilestone, ch1)
	bus.Subscribe(TypeMilestone, ch2)

	bus.Publish(Event{Type: TypeMilestone, Count: 25})

	for _, ch := range []chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := New()
	defer bus.Close()

	doneCh := make(chan Event, 10)
	failCh := make(chan Event, 10)
	bus.Subscribe(TypeRowDone, doneCh)
	bus.Subscribe(TypeRowFailed, failCh)

	bus.Publish(Event{Type: TypeRowDone, Row: 1})

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("done subscriber did not receive event")
	}

	select {
	case <-failCh:
		t.Fatal("failed subscriber should NOT receive row.done event")
	case <-time.After(50 * time.Millisecond):
		// good
	}
}

func TestBus_PublishBatch(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 100)
	bus.Subscribe(TypeRowDone, received)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(row int) {
			defer wg.Done()
			bus.Publish(Event{Type: TypeRowDone, Row: row})
		}(i)
	}
	wg.Wait()

	time.Sleep(100 * time.Millisecond)
	if len(received) != 50 {
		t.Errorf("expected 50 events, got %d", len(received))
	}
}

func TestBus_ClosedBusDropsEvents(t *testing.T) {
	bus := New()
	received := make(chan Event, 1)
	bus.Subscribe(TypeCompleted, received)
	bus.Close()

	bus.Publish(Event{Type: TypeCompleted})
	select {
	case <-received:
		t.Fatal("closed bus delivered an event")
	case <-time.After(50 * time.Millisecond):
	}
}

package events

import (
	"sync"
	"testing"
	"time"
)

func TestPublishReachesTypedSubscriber(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventTradeOpened, func(e Event) { got <- e })

	bus.PublishTradeOpened(12345, "EURUSD", "BUY", 777, 0.10)

	select {
	case e := <-got:
		if e.Type != EventTradeOpened {
			t.Errorf("event type = %s, want TRADE_OPENED", e.Type)
		}
		if e.Data["symbol"] != "EURUSD" || e.Data["ticket"] != int64(777) {
			t.Errorf("event data = %+v", e.Data)
		}
		if e.Timestamp.IsZero() {
			t.Error("timestamp should be stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestPublishSkipsOtherTypes(t *testing.T) {
	bus := NewEventBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventTradeClosed, func(e Event) { got <- e })

	bus.PublishTradeOpened(12345, "EURUSD", "BUY", 777, 0.10)

	select {
	case e := <-got:
		t.Errorf("TRADE_CLOSED subscriber received %s", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAllSeesEverything(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	seen := make(map[EventType]bool)
	done := make(chan struct{}, 2)
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		seen[e.Type] = true
		mu.Unlock()
		done <- struct{}{}
	})

	bus.PublishSignalGenerated("EURUSD", "H1", "BUY", 72)
	bus.PublishError("worker", errTest)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("all-events subscriber missed a publish")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if !seen[EventSignalGenerated] || !seen[EventError] {
		t.Errorf("seen = %+v, want both event types", seen)
	}
}

var errTest = &testError{}

type testError struct{}

func (*testError) Error() string { return "test failure" }

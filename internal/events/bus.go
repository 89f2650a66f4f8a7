package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalGenerated     EventType = "SIGNAL_GENERATED"
	EventSignalExpired       EventType = "SIGNAL_EXPIRED"
	EventTradeOpened         EventType = "TRADE_OPENED"
	EventTradeClosed         EventType = "TRADE_CLOSED"
	EventCommandCreated      EventType = "COMMAND_CREATED"
	EventCommandCompleted    EventType = "COMMAND_COMPLETED"
	EventCommandFailed       EventType = "COMMAND_FAILED"
	EventTrailingStopMoved   EventType = "TRAILING_STOP_MOVED"
	EventMT5Connected        EventType = "MT5_CONNECTED"
	EventMT5Disconnected     EventType = "MT5_DISCONNECTED"
	EventMT5Reconnected      EventType = "MT5_RECONNECTED"
	EventDailyLimitReached   EventType = "DAILY_LIMIT_REACHED"
	EventDrawdownLimit       EventType = "DRAWDOWN_LIMIT"
	EventCircuitBreaker      EventType = "CIRCUIT_BREAKER"
	EventSymbolPaused        EventType = "SYMBOL_PAUSED"
	EventSymbolResumed       EventType = "SYMBOL_RESUMED"
	EventBalanceAdjusted     EventType = "BALANCE_ADJUSTED"
	EventError               EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Subscribers run in goroutines so a slow handler cannot block the
	// publisher.
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSignalGenerated publishes a signal generated event
func (eb *EventBus) PublishSignalGenerated(symbol, timeframe, signalType string, confidence float64) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"timeframe":   timeframe,
			"signal_type": signalType,
			"confidence":  confidence,
		},
	})
}

// PublishTradeOpened publishes a trade opened event
func (eb *EventBus) PublishTradeOpened(accountNumber int64, symbol, direction string, ticket int64, lotSize float64) {
	eb.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"account_number": accountNumber,
			"symbol":         symbol,
			"direction":      direction,
			"ticket":         ticket,
			"lot_size":       lotSize,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (eb *EventBus) PublishTradeClosed(accountNumber int64, symbol string, ticket int64, profit float64, closeReason string) {
	eb.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"account_number": accountNumber,
			"symbol":         symbol,
			"ticket":         ticket,
			"profit":         profit,
			"close_reason":   closeReason,
		},
	})
}

// PublishConnectionChange publishes MT5 connect/disconnect/reconnect events
func (eb *EventBus) PublishConnectionChange(eventType EventType, accountNumber int64, reason string) {
	eb.Publish(Event{
		Type: eventType,
		Data: map[string]interface{}{
			"account_number": accountNumber,
			"reason":         reason,
		},
	})
}

// PublishProtection publishes a protection layer event
func (eb *EventBus) PublishProtection(eventType EventType, accountNumber int64, detail map[string]interface{}) {
	if detail == nil {
		detail = map[string]interface{}{}
	}
	detail["account_number"] = accountNumber
	eb.Publish(Event{Type: eventType, Data: detail})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(component string, err error) {
	eb.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"component": component,
			"error":     err.Error(),
		},
	})
}

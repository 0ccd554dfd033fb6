package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalAccepted   EventType = "SIGNAL_ACCEPTED"
	EventSignalRejected   EventType = "SIGNAL_REJECTED"
	EventThresholdAdjust  EventType = "THRESHOLD_ADJUSTED"
	EventRegimeChanged    EventType = "REGIME_CHANGED"
	EventRiskStateChanged EventType = "RISK_STATE_CHANGED"
	EventCooldownStarted  EventType = "COOLDOWN_STARTED"
	EventExecutionDenied  EventType = "EXECUTION_DENIED"
	EventDailyReset       EventType = "DAILY_RESET"
	EventError            EventType = "ERROR"
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
	allSubs     []Subscriber
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

// Publish sends an event to all subscribers. Each subscriber runs in its
// own goroutine so a slow consumer cannot stall the gate or the optimizer.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSignalVerdict publishes the gate's decision on a candidate signal.
func (eb *EventBus) PublishSignalVerdict(accepted bool, signalID, pair string, confidence, threshold float64, reason string) {
	eventType := EventSignalAccepted
	if !accepted {
		eventType = EventSignalRejected
	}
	eb.Publish(Event{
		Type: eventType,
		Data: map[string]interface{}{
			"signal_id":  signalID,
			"pair":       pair,
			"confidence": confidence,
			"threshold":  threshold,
			"reason":     reason,
		},
	})
}

// PublishThresholdAdjusted publishes a threshold change for a pair.
func (eb *EventBus) PublishThresholdAdjusted(pair string, previous, current float64, reasons []string) {
	eb.Publish(Event{
		Type: EventThresholdAdjust,
		Data: map[string]interface{}{
			"pair":     pair,
			"previous": previous,
			"current":  current,
			"reasons":  reasons,
		},
	})
}

// PublishRegimeChanged publishes a market regime transition for a pair.
func (eb *EventBus) PublishRegimeChanged(pair, volatility, trend string) {
	eb.Publish(Event{
		Type: EventRegimeChanged,
		Data: map[string]interface{}{
			"pair":       pair,
			"volatility": volatility,
			"trend":      trend,
		},
	})
}

// PublishRiskStateChanged publishes a per-user risk state transition.
func (eb *EventBus) PublishRiskStateChanged(userID, from, to string, consecutiveLosses int) {
	eb.Publish(Event{
		Type: EventRiskStateChanged,
		Data: map[string]interface{}{
			"user_id":            userID,
			"from":               from,
			"to":                 to,
			"consecutive_losses": consecutiveLosses,
		},
	})
}

// PublishCooldownStarted publishes the start of a mandatory wait period.
func (eb *EventBus) PublishCooldownStarted(userID string, until time.Time) {
	eb.Publish(Event{
		Type: EventCooldownStarted,
		Data: map[string]interface{}{
			"user_id": userID,
			"until":   until,
		},
	})
}

// PublishExecutionDenied publishes an authorization denial.
func (eb *EventBus) PublishExecutionDenied(userID, pair, reason string, confidence, required float64) {
	eb.Publish(Event{
		Type: EventExecutionDenied,
		Data: map[string]interface{}{
			"user_id":    userID,
			"pair":       pair,
			"reason":     reason,
			"confidence": confidence,
			"required":   required,
		},
	})
}

// PublishDailyReset publishes completion of the daily reset sweep.
func (eb *EventBus) PublishDailyReset(usersCleared int) {
	eb.Publish(Event{
		Type: EventDailyReset,
		Data: map[string]interface{}{
			"users_cleared": usersCleared,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{Type: EventError, Data: data})
}

// BroadcastFunc is a callback for pushing events to connected clients.
// The api package wires these at startup so lower layers can broadcast
// without importing it.
type BroadcastFunc func(data interface{})

var (
	broadcastThreshold BroadcastFunc
	broadcastRiskState BroadcastFunc
	broadcastVerdict   BroadcastFunc
)

// SetBroadcastThreshold sets the callback for threshold broadcasts
func SetBroadcastThreshold(fn BroadcastFunc) {
	broadcastThreshold = fn
}

// SetBroadcastRiskState sets the callback for risk state broadcasts
func SetBroadcastRiskState(fn BroadcastFunc) {
	broadcastRiskState = fn
}

// SetBroadcastVerdict sets the callback for signal verdict broadcasts
func SetBroadcastVerdict(fn BroadcastFunc) {
	broadcastVerdict = fn
}

// BroadcastThreshold pushes a threshold update to connected clients
func BroadcastThreshold(data interface{}) {
	if broadcastThreshold != nil {
		go broadcastThreshold(data)
	}
}

// BroadcastRiskState pushes a risk state update to connected clients
func BroadcastRiskState(data interface{}) {
	if broadcastRiskState != nil {
		go broadcastRiskState(data)
	}
}

// BroadcastVerdict pushes a gate verdict to connected clients
func BroadcastVerdict(data interface{}) {
	if broadcastVerdict != nil {
		go broadcastVerdict(data)
	}
}

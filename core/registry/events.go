package registry

import (
	"context"
	"sync"
	"time"

	"github.com/asaidimu/go-events"
	"github.com/google/uuid"
)

// RuntimeEventType names one observable runtime event.
type RuntimeEventType string

const (
	ObjectLoaded    RuntimeEventType = "object.loaded"
	ObjectReloaded  RuntimeEventType = "object.reloaded"
	ObjectEvicted   RuntimeEventType = "object.evicted"
	ObjectCommitted RuntimeEventType = "object.committed"

	AgentStarted RuntimeEventType = "agent.started"
	AgentStopped RuntimeEventType = "agent.stopped"
	AgentFailed  RuntimeEventType = "agent.failed"
)

// RuntimeEvent is the payload published on the runtime event bus.
type RuntimeEvent struct {
	Type      RuntimeEventType `json:"type"`
	ObjectID  int64            `json:"objectId"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// EventCallbackFunction handles one runtime event delivery.
type EventCallbackFunction func(ctx context.Context, event RuntimeEvent) error

// SubscriptionInfo describes one active subscription.
type SubscriptionInfo struct {
	ID          string
	Event       RuntimeEventType
	Unsubscribe func()
}

// eventHub wraps the typed event bus with id-keyed subscription
// bookkeeping.
type eventHub struct {
	bus *events.TypedEventBus[RuntimeEvent]

	mu            sync.RWMutex
	subscriptions map[string]*SubscriptionInfo
}

func newEventHub() (*eventHub, error) {
	bus, err := events.NewTypedEventBus[RuntimeEvent](events.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return &eventHub{bus: bus, subscriptions: map[string]*SubscriptionInfo{}}, nil
}

func (h *eventHub) emit(event RuntimeEvent) {
	h.bus.Emit(string(event.Type), event)
}

func (h *eventHub) subscribe(event RuntimeEventType, callback EventCallbackFunction) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	unsubscribe := h.bus.Subscribe(string(event), callback)
	id := uuid.New().String()
	h.subscriptions[id] = &SubscriptionInfo{ID: id, Event: event, Unsubscribe: unsubscribe}
	return id
}

func (h *eventHub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if info, ok := h.subscriptions[id]; ok {
		info.Unsubscribe()
		delete(h.subscriptions, id)
	}
}

// Emit publishes a runtime event; components outside the registry (the
// transaction layer, the scheduler) report through it.
func (r *Registry) Emit(event RuntimeEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = r.clock()
	}
	r.events.emit(event)
}

// RegisterSubscription registers a callback for one runtime event type
// and returns the id used to unregister it.
func (r *Registry) RegisterSubscription(event RuntimeEventType, callback EventCallbackFunction) string {
	return r.events.subscribe(event, callback)
}

// UnregisterSubscription removes a subscription by its id.
func (r *Registry) UnregisterSubscription(id string) {
	r.events.unsubscribe(id)
}

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notable change in the life of a backend log or of the inventory.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`

	// Source is the component that published the event (engine, janitor, ...).
	Source string `json:"source"`

	TaskID  string `json:"task_id,omitempty"`
	LogID   int64  `json:"log_id,omitempty"`
	Backend string `json:"backend,omitempty"`
	Server  string `json:"server,omitempty"`

	Message string                 `json:"message"`
	Level   string                 `json:"level"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

const (
	EventTypeLogStateChanged   = "log.state_changed"
	EventTypeInventoryReloaded = "inventory.reloaded"
	EventTypePolicyViolation   = "policy.violation"
	EventTypeLogsPurged        = "logs.purged"
)

const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// ErrEventDropped is returned by Publish when the async buffer is full.
var ErrEventDropped = errors.New("event buffer full, event dropped")

// EventSubscriber handles one event. Subscribers run on the delivery goroutine
// and must not block.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should reach a subscriber.
type EventFilter func(event Event) bool

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans events out to subscribers. A disabled or nil publisher
// accepts and drops every event.
type EventPublisher struct {
	config EventsConfig

	mu   sync.RWMutex
	subs []subscription

	buffer chan Event
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewEventPublisher creates a publisher. In async mode events are queued and
// delivered in order by a single goroutine.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{config: cfg}
	if !cfg.Enabled || !cfg.Async {
		return ep, nil
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got %d", cfg.BufferSize)
	}
	ep.buffer = make(chan Event, cfg.BufferSize)
	ep.stop = make(chan struct{})
	ep.wg.Add(1)
	go ep.loop()
	return ep, nil
}

// Publish stamps the event and delivers it, or queues it in async mode.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	if ep.buffer == nil {
		ep.deliver(event)
		return nil
	}
	select {
	case <-ep.stop:
		return errors.New("event publisher stopped")
	default:
	}
	select {
	case ep.buffer <- event:
		return nil
	default:
		return ErrEventDropped
	}
}

// PublishLogStateChanged publishes a backend log transition. Terminal states
// other than SUCCESS are published as warnings.
func (ep *EventPublisher) PublishLogStateChanged(logID int64, taskID, backend, server, state string, terminal bool, msg string) error {
	level := EventLevelInfo
	if terminal && state != "SUCCESS" {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    EventTypeLogStateChanged,
		Source:  "engine",
		TaskID:  taskID,
		LogID:   logID,
		Backend: backend,
		Server:  server,
		Message: msg,
		Level:   level,
		Data:    map[string]interface{}{"state": state},
	})
}

// PublishInventoryReloaded publishes an inventory reload with the number of
// changes it produced.
func (ep *EventPublisher) PublishInventoryReloaded(path string, changes int) error {
	return ep.Publish(Event{
		Type:    EventTypeInventoryReloaded,
		Source:  "inventory",
		Message: fmt.Sprintf("Inventory %s reloaded with %d changes", path, changes),
		Data:    map[string]interface{}{"path": path, "changes": changes},
	})
}

// PublishPolicyViolation publishes a denied script.
func (ep *EventPublisher) PublishPolicyViolation(backend, server, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy",
		Backend: backend,
		Server:  server,
		Message: fmt.Sprintf("Script for %s@%s denied: %s", backend, server, reason),
		Level:   EventLevelError,
		Data:    map[string]interface{}{"reason": reason},
	})
}

// PublishLogsPurged publishes a purge run.
func (ep *EventPublisher) PublishLogsPurged(count int64, before time.Time) error {
	return ep.Publish(Event{
		Type:    EventTypeLogsPurged,
		Source:  "janitor",
		Message: fmt.Sprintf("Purged %d backend logs created before %s", count, before.Format(time.RFC3339)),
		Data:    map[string]interface{}{"count": count},
	})
}

// Subscribe registers fn for the events accepted by filter. A nil filter
// accepts everything.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
}

func (ep *EventPublisher) loop() {
	defer ep.wg.Done()
	for {
		select {
		case event := <-ep.buffer:
			ep.deliver(event)
		case <-ep.stop:
			for {
				select {
				case event := <-ep.buffer:
					ep.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	subs := ep.subs
	ep.mu.RUnlock()
	for _, s := range subs {
		if s.filter == nil || s.filter(event) {
			s.fn(event)
		}
	}
}

// Shutdown stops the delivery goroutine after draining queued events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || ep.stop == nil {
		return nil
	}
	ep.once.Do(func() { close(ep.stop) })

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// FilterByLevel accepts events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	rank := map[string]int{EventLevelInfo: 0, EventLevelWarning: 1, EventLevelError: 2}
	floor := rank[minLevel]
	return func(event Event) bool {
		return rank[event.Level] >= floor
	}
}

// FilterByType accepts events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event Event) bool {
		return set[event.Type]
	}
}

// FilterByBackend accepts events of one backend.
func FilterByBackend(backend string) EventFilter {
	return func(event Event) bool {
		return event.Backend == backend
	}
}

// FilterByLogID accepts events of one backend log.
func FilterByLogID(logID int64) EventFilter {
	return func(event Event) bool {
		return event.LogID == logID
	}
}

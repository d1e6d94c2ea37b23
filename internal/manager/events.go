package manager

import (
	"sync"
	"time"
)

// Event names emitted over the publisher.
const (
	EventInstanceStarting  = "instance_starting"
	EventInstanceHealthy   = "instance_healthy"
	EventInstanceDegraded  = "instance_degraded"
	EventInstanceStopped   = "instance_stopped"
	EventInstanceCrashed   = "instance_crashed"
	EventRestartStarted    = "restart_started"
	EventRestartCommitted  = "restart_committed"
	EventRestartRolledBack = "restart_rolled_back"
	EventDraftDisabled     = "draft_disabled"
)

// Event is a lifecycle notification about one instance.
type Event struct {
	Name       string         `json:"event"`
	InstanceID string         `json:"instance_id"`
	Time       time.Time      `json:"time"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// EventPublisher receives lifecycle events. Publish must not block.
type EventPublisher interface {
	Publish(ev Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// NoopPublisher discards all events.
func NoopPublisher() EventPublisher { return noopPublisher{} }

// MemoryPublisher records events in memory. Intended for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *MemoryPublisher) Publish(ev Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Bus fans events out to subscribers. Slow subscribers lose events rather
// than stalling the publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a listener. The returned cancel func must be called
// when the listener goes away.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

package events

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Recordable events can be flattened into a Record for journaling and
// streaming.
type Recordable interface {
	Event
	Record() *Record
}

// Record is the flattened, string-keyed form of an event.
type Record struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Fanout forwards every event to each registered emitter in order.
type Fanout struct {
	mu       sync.RWMutex
	emitters []Emitter
}

// Add registers an emitter.
func (f *Fanout) Add(e Emitter) {
	if f == nil || e == nil {
		return
	}
	f.mu.Lock()
	f.emitters = append(f.emitters, e)
	f.mu.Unlock()
}

// Emit implements Emitter.
func (f *Fanout) Emit(ev Event) {
	if f == nil {
		return
	}
	f.mu.RLock()
	emitters := append([]Emitter(nil), f.emitters...)
	f.mu.RUnlock()
	for _, e := range emitters {
		e.Emit(ev)
	}
}

// Recorder keeps every emitted event in memory. Tests use it to assert on
// emission order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter.
func (r *Recorder) Emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Envelope is a journaled event: a Record stamped with an identifier and the
// time it was observed.
type Envelope struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	User       string            `json:"user,omitempty"`
	Attributes map[string]string `json:"attributes"`
	ObservedAt time.Time         `json:"observedAt"`
}

// NewEnvelope flattens ev. It reports false for events that cannot be
// recorded.
func NewEnvelope(ev Event, now time.Time) (Envelope, bool) {
	recordable, ok := ev.(Recordable)
	if !ok {
		return Envelope{}, false
	}
	record := recordable.Record()
	if record == nil {
		return Envelope{}, false
	}
	attrs := make(map[string]string, len(record.Attributes))
	for k, v := range record.Attributes {
		attrs[k] = v
	}
	user := attrs["user"]
	if user == "" {
		user = attrs["liquidator"]
	}
	return Envelope{
		ID:         uuid.NewString(),
		Type:       record.Type,
		User:       user,
		Attributes: attrs,
		ObservedAt: now.UTC(),
	}, true
}

// Query filters journaled events. Empty fields match everything.
type Query struct {
	User  string
	Type  string
	Limit int
}

// Matches reports whether env satisfies the filter, ignoring Limit. Users
// match the event's user, payer and liquidator attributes case-insensitively.
func (q Query) Matches(env Envelope) bool {
	if q.Type != "" && !strings.EqualFold(q.Type, env.Type) {
		return false
	}
	if q.User == "" {
		return true
	}
	for _, key := range []string{"user", "payer", "liquidator", "recipient"} {
		if strings.EqualFold(env.Attributes[key], q.User) {
			return true
		}
	}
	return false
}

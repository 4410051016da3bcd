// Package bus implements the synchronous publish/subscribe registry the
// race-control engine broadcasts on.
//
// Events are plain value types carrying a snapshot of engine data. The set of
// event types is closed and defined by the publisher (see control/events.go);
// Subscribe[T] binds a handler to exactly one of them so handlers are checked
// at compile time.
//
// Thread-safety: NOT thread-safe. A Bus is owned by one engine and driven from
// a single goroutine; callers that share it across goroutines must serialise
// access (see internal/driver).
package bus

// Kind names an event stream ("telemetry", "incident", ...).
type Kind string

// Event is implemented by every payload published on a Bus.
// Implementations MUST be value types whose Kind method does not read fields,
// so that the zero value reports the stream name.
type Event interface {
	Kind() Kind
}

// Cloner is implemented by events that carry slices or maps. Publish gives
// each handler its own Clone, so edits made by one handler never reach the
// next.
type Cloner interface {
	Clone() Event
}

// Handler receives a published event.
type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

// Bus delivers events synchronously, in registration order, to the handlers
// registered at the moment Publish is called.
type Bus struct {
	byKind map[Kind][]subscription
	all    []subscription
	nextID uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{byKind: make(map[Kind][]subscription)}
}

// On registers fn for events of the given kind. The returned function removes
// exactly this subscription; calling it more than once is a no-op.
func (b *Bus) On(kind Kind, fn Handler) (unsubscribe func()) {
	if fn == nil {
		panic("bus: nil handler")
	}
	b.nextID++
	sub := subscription{id: b.nextID, fn: fn}
	b.byKind[kind] = append(b.byKind[kind], sub)
	return b.remover(func() { b.byKind[kind] = without(b.byKind[kind], sub.id) })
}

// OnAll registers fn for every event regardless of kind. Archivers and
// streamers use this; domain handlers should prefer Subscribe.
func (b *Bus) OnAll(fn Handler) (unsubscribe func()) {
	if fn == nil {
		panic("bus: nil handler")
	}
	b.nextID++
	sub := subscription{id: b.nextID, fn: fn}
	b.all = append(b.all, sub)
	return b.remover(func() { b.all = without(b.all, sub.id) })
}

func (b *Bus) remover(remove func()) func() {
	done := false
	return func() {
		if done {
			return
		}
		done = true
		remove()
	}
}

// Publish delivers ev to a snapshot of the current subscribers for its kind
// plus every OnAll subscriber, merged in registration order. Subscriptions
// added or removed by a handler take effect from the next Publish.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}
	c, cloned := ev.(Cloner)
	for _, sub := range merge(b.byKind[ev.Kind()], b.all) {
		if cloned {
			sub.fn(c.Clone())
			continue
		}
		sub.fn(ev)
	}
}

// Count returns the number of handlers that would receive an event of kind.
func (b *Bus) Count(kind Kind) int {
	return len(b.byKind[kind]) + len(b.all)
}

// Subscribe registers a handler typed to one event payload. The stream name
// comes from the zero value of T.
func Subscribe[T Event](b *Bus, fn func(T)) (unsubscribe func()) {
	var zero T
	return b.On(zero.Kind(), func(ev Event) {
		if typed, ok := ev.(T); ok {
			fn(typed)
		}
	})
}

// without returns a new slice lacking id, leaving subs untouched so that an
// in-flight Publish keeps iterating its own snapshot.
func without(subs []subscription, id uint64) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// merge combines two id-ordered subscriber lists into a fresh id-ordered slice.
func merge(a, b []subscription) []subscription {
	out := make([]subscription, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].id < b[j].id {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

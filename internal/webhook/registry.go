package webhook

import "sync/atomic"

// Registry holds handlers-per-event-type as an atomic, copy-on-write map:
// Register builds a new map and swaps the pointer, so concurrent Get calls
// from in-flight webhook requests never observe a partially-built map or
// need a lock (spec.md §9: handler registration "must be race-free
// against incoming requests").
type Registry struct {
	handlers atomic.Pointer[map[EventType][]Handler]
}

// NewRegistry returns an empty handler registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := map[EventType][]Handler{}
	r.handlers.Store(&empty)
	return r
}

// Register appends handler to the list for eventType, copying the
// current map so readers never see a torn write.
func (r *Registry) Register(eventType EventType, handler Handler) {
	for {
		old := r.handlers.Load()
		next := make(map[EventType][]Handler, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[eventType] = append(append([]Handler{}, next[eventType]...), handler)
		if r.handlers.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Get returns the handlers registered for eventType, or nil if none.
func (r *Registry) Get(eventType EventType) []Handler {
	m := r.handlers.Load()
	return (*m)[eventType]
}

package session

import "sync"

// Subscription is one (topic, handler) pair as seen by replay.
type Subscription struct {
	Topic   string
	Handler Handler
}

type regEntry struct {
	handler Handler
	active  bool
}

// Registry is the durable record of what should be subscribed, decoupled
// from live connection state. Entries survive reconnects; unsubscribing
// flags an entry inactive instead of deleting it. Iteration order is
// insertion order so replay is reproducible.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*regEntry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*regEntry)}
}

// Upsert inserts or overwrites the entry for topic with desired-active set.
// A topic keeps its original insertion position across re-subscribes.
func (r *Registry) Upsert(topic string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[topic]; ok {
		e.handler = h
		e.active = true
		return
	}
	r.entries[topic] = &regEntry{handler: h, active: true}
	r.order = append(r.order, topic)
}

// Deactivate flags the entry inactive, retaining it. Returns false when the
// topic is absent or already inactive.
func (r *Registry) Deactivate(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[topic]
	if !ok || !e.active {
		return false
	}
	e.active = false
	return true
}

// Lookup returns the handler for topic, but only while the entry is
// desired-active. Dispatch uses this to drop frames racing an unsubscribe.
func (r *Registry) Lookup(topic string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[topic]
	if !ok || !e.active {
		return nil, false
	}
	return e.handler, true
}

// ActiveEntries returns the desired-active subscriptions in insertion order.
func (r *Registry) ActiveEntries() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subs := make([]Subscription, 0, len(r.order))
	for _, topic := range r.order {
		if e := r.entries[topic]; e.active {
			subs = append(subs, Subscription{Topic: topic, Handler: e.handler})
		}
	}
	return subs
}

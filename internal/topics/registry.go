// Package topics keeps track of which subscribers are attached to which
// named topic. It knows nothing about what is delivered to them.
package topics

import (
	"sort"
	"sync"
)

// Handle identifies one subscription. The zero Handle is never issued.
type Handle uint64

type subscription[S comparable] struct {
	topic string
	sub   S
}

// Registry maps topic names to subscriber sets. A subscriber may hold any
// number of independent subscriptions, including several on the same topic.
type Registry[S comparable] struct {
	mu     sync.RWMutex
	next   Handle
	byID   map[Handle]subscription[S]
	topics map[string]map[Handle]S
}

// NewRegistry creates an empty registry.
func NewRegistry[S comparable]() *Registry[S] {
	return &Registry[S]{
		byID:   make(map[Handle]subscription[S]),
		topics: make(map[string]map[Handle]S),
	}
}

// Subscribe attaches sub to topic and returns the subscription handle.
func (r *Registry[S]) Subscribe(topic string, sub S) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	h := r.next
	r.byID[h] = subscription[S]{topic: topic, sub: sub}

	set, ok := r.topics[topic]
	if !ok {
		set = make(map[Handle]S)
		r.topics[topic] = set
	}
	set[h] = sub
	return h
}

// Unsubscribe removes a single subscription. Unknown handles are ignored.
func (r *Registry[S]) Unsubscribe(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(h)
}

func (r *Registry[S]) removeLocked(h Handle) {
	s, ok := r.byID[h]
	if !ok {
		return
	}
	delete(r.byID, h)

	set := r.topics[s.topic]
	delete(set, h)
	if len(set) == 0 {
		delete(r.topics, s.topic)
	}
}

// RemoveAll drops every subscription held by sub and reports how many
// were removed.
func (r *Registry[S]) RemoveAll(sub S) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for h, s := range r.byID {
		if s.sub == sub {
			r.removeLocked(h)
			removed++
		}
	}
	return removed
}

// SubscribersOf returns a snapshot of the subscribers of topic, in
// subscription order. The caller may iterate it while the registry changes.
func (r *Registry[S]) SubscribersOf(topic string) []S {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.topics[topic]
	if len(set) == 0 {
		return nil
	}

	handles := make([]Handle, 0, len(set))
	for h := range set {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	subs := make([]S, len(handles))
	for i, h := range handles {
		subs[i] = set[h]
	}
	return subs
}

// Count returns the number of subscriptions on topic.
func (r *Registry[S]) Count(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// Len returns the total number of subscriptions across all topics.
func (r *Registry[S]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Topics returns the names of all topics with at least one subscriber.
func (r *Registry[S]) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.topics))
	for name := range r.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

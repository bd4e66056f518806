package bitflyer

import (
	"slices"
	"sync"

	"bitflyer/pkg/core"
)

// Handler receives decoded realtime messages. The concrete type depends on
// the channel kind: *core.Ticker, []core.Execution or *core.Board.
type Handler func(message any)

type subscription struct {
	key     string
	kind    core.Channel
	product core.ProductCode
	handler Handler
}

// registry maps channel keys to subscriptions. It is the single source of
// truth for what is replayed on every connect.
type registry struct {
	mu   sync.RWMutex
	subs map[string]subscription
}

func newRegistry() *registry {
	return &registry{subs: make(map[string]subscription)}
}

// put stores sub, replacing any handler already registered under its key.
func (r *registry) put(sub subscription) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced = r.subs[sub.key]
	r.subs[sub.key] = sub
	return replaced
}

func (r *registry) get(key string) (subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[key]
	return sub, ok
}

// keys returns a sorted snapshot of the registered keys.
func (r *registry) keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.subs))
	for k := range r.subs {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

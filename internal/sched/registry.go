package sched

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a policy instance bound to a queue.
type Factory func(q *Queue) (Policy, error)

// Type describes one registered scheduling policy.
type Type struct {
	Name        string
	Description string
	New         Factory
}

// The process-wide policy registry. Protected by its own lock, independent
// of any queue lock, so a policy switch never inverts lock order against it.
var registry = struct {
	mu       sync.Mutex
	types    map[string]*Type
	contexts map[*ProducerContext]struct{}
}{
	types:    make(map[string]*Type),
	contexts: make(map[*ProducerContext]struct{}),
}

// Register adds a policy type to the registry. Registering a duplicate name
// is a programming error and panics.
func Register(t *Type) {
	if t == nil || t.Name == "" || t.New == nil {
		panic("blksched: Register with incomplete policy type")
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, dup := registry.types[t.Name]; dup {
		panic(fmt.Sprintf("blksched: duplicate policy registration %q", t.Name))
	}
	registry.types[t.Name] = t
}

// Unregister removes a policy type. Scheduler-affinity state held by live
// producer contexts for that policy is detached first, so nothing keeps a
// reference to the unlisted type.
func Unregister(name string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	for pc := range registry.contexts {
		pc.detach(name)
	}
	delete(registry.types, name)
}

// Lookup finds a registered policy type by name.
func Lookup(name string) (*Type, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	t, ok := registry.types[name]
	return t, ok
}

// Names returns the registered policy names, sorted.
func Names() []string {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	names := make([]string, 0, len(registry.types))
	for name := range registry.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProducerContext carries per-producer scheduler-affinity state, keyed by
// policy name. Policies use it from MayQueue to recognize the producer they
// are anticipating. Contexts are tracked process-wide so Unregister can
// detach state belonging to a removed policy.
type ProducerContext struct {
	mu       sync.Mutex
	affinity map[string]any
}

// NewProducerContext creates and tracks a producer context. Call Close when
// the producer goes away.
func NewProducerContext() *ProducerContext {
	pc := &ProducerContext{affinity: make(map[string]any)}
	registry.mu.Lock()
	registry.contexts[pc] = struct{}{}
	registry.mu.Unlock()
	return pc
}

// Close stops tracking the context.
func (pc *ProducerContext) Close() {
	registry.mu.Lock()
	delete(registry.contexts, pc)
	registry.mu.Unlock()
}

// Affinity returns the state a policy stored for this producer.
func (pc *ProducerContext) Affinity(policy string) any {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.affinity[policy]
}

// SetAffinity stores policy-private state for this producer.
func (pc *ProducerContext) SetAffinity(policy string, v any) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.affinity[policy] = v
}

func (pc *ProducerContext) detach(policy string) {
	pc.mu.Lock()
	delete(pc.affinity, policy)
	pc.mu.Unlock()
}

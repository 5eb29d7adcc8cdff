// Package noop implements the simplest scheduling policy: a FIFO that
// merges adjacent fragments but never reorders requests. The default policy.
package noop

import (
	"container/list"

	"blksched/internal/sched"
)

func init() {
	sched.Register(&sched.Type{
		Name:        "noop",
		Description: "FIFO dispatch with adjacent-fragment merging",
		New:         New,
	})
}

type policy struct {
	q    *sched.Queue
	fifo list.List
	// element per admitted request, for O(1) removal and neighbor lookup
	elems map[*sched.Request]*list.Element
}

// New constructs a noop policy bound to q.
func New(q *sched.Queue) (sched.Policy, error) {
	p := &policy{q: q, elems: make(map[*sched.Request]*list.Element)}
	p.fifo.Init()
	return p, nil
}

func (p *policy) Name() string { return "noop" }

func (p *policy) Add(rq *sched.Request) {
	p.elems[rq] = p.fifo.PushBack(rq)
}

func (p *policy) Dispatch(force bool) bool {
	front := p.fifo.Front()
	if front == nil {
		return false
	}
	rq := front.Value.(*sched.Request)
	p.removeRequest(rq)
	p.q.DispatchSort(rq)
	return true
}

func (p *policy) Empty() bool {
	return p.fifo.Len() == 0
}

func (p *policy) Exit() {}

// Merge probes the most recently admitted request, the one a sequential
// producer is most likely extending.
func (p *policy) Merge(frag *sched.Fragment) (*sched.Request, sched.MergeKind) {
	back := p.fifo.Back()
	if back == nil {
		return nil, sched.NoMerge
	}
	rq := back.Value.(*sched.Request)
	if kind := sched.TryMerge(rq, frag); kind != sched.NoMerge {
		return rq, kind
	}
	return nil, sched.NoMerge
}

// Merged is a no-op: FIFO position does not depend on sectors.
func (p *policy) Merged(rq *sched.Request) {}

func (p *policy) MergedRequests(rq, next *sched.Request) {
	p.removeRequest(next)
}

func (p *policy) Latter(rq *sched.Request) *sched.Request {
	if e, ok := p.elems[rq]; ok {
		if n := e.Next(); n != nil {
			return n.Value.(*sched.Request)
		}
	}
	return nil
}

func (p *policy) Former(rq *sched.Request) *sched.Request {
	if e, ok := p.elems[rq]; ok {
		if prev := e.Prev(); prev != nil {
			return prev.Value.(*sched.Request)
		}
	}
	return nil
}

func (p *policy) removeRequest(rq *sched.Request) {
	if e, ok := p.elems[rq]; ok {
		p.fifo.Remove(e)
		delete(p.elems, rq)
	}
}

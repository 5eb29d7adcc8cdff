// Package sched implements the block-device I/O request scheduling engine:
// fragment merging, pluggable scheduling policies, plug/unplug batching and
// write-barrier ordering in front of a single device driver.
//
// A Queue serializes all of its state behind one mutex. Policy hooks are
// always invoked with that lock held; the consumer strategy callback is
// always invoked without it.
package sched

import (
	"container/list"
)

// Direction is the transfer direction of a fragment or request.
type Direction uint8

const (
	DirRead Direction = iota
	DirWrite
)

func (d Direction) String() string {
	if d == DirWrite {
		return "write"
	}
	return "read"
}

// DeviceID identifies the device a request is addressed to.
type DeviceID uint32

// Kind classifies what a request carries.
type Kind uint8

const (
	// KindData is a regular sector-addressed transfer. Only data requests
	// are merged, sorted and counted in flight.
	KindData Kind = iota
	// KindFlush is a cache-flush bookkeeping request generated around a
	// hard barrier. Never merged, never accounted, and serviced by the
	// queue itself through the issue-flush callback.
	KindFlush
	// KindControl is a consumer-owned command injected at the dispatch
	// head, bypassing scheduling.
	KindControl
)

// Fragment is an incoming unit of I/O: the seed of a new Request or a
// candidate for merging into an existing one.
type Fragment struct {
	Device DeviceID
	Sector uint64
	Count  uint32
	Dir    Direction
	Data   []byte

	// Barrier requests a write-ordering boundary: everything submitted
	// before must complete first, and this before everything after.
	Barrier bool

	// Done, when set, is called exactly once with the final status of the
	// request this fragment ended up in. It runs outside the queue lock,
	// so it may submit again.
	Done func(err error)
}

// EndSector returns the first sector past the fragment.
func (f *Fragment) EndSector() uint64 {
	return f.Sector + uint64(f.Count)
}

// Request is a device-addressed, direction-tagged unit of scheduled I/O,
// possibly composed of several merged fragments. At any instant a request is
// owned by exactly one of: the active policy's structure, the queue's
// dispatch list, or the consumer (in flight).
type Request struct {
	Device    DeviceID
	Sector    uint64
	NrSectors uint32
	Dir       Direction

	// fragments composing the transfer; contiguous, extended at the head
	// (front merge) or tail (back merge) only.
	fragments []*Fragment

	kind Kind

	started     bool // handed to the consumer at least once
	softBarrier bool
	hardBarrier bool
	sorted      bool // went through the policy; lifecycle hooks apply
	inPolicy    bool // currently owned by the policy's internal structure
	quiet       bool // suppress user-visible errors
	dontPrep    bool // skip the prepare callback
	completed   bool
	ordColor    bool // barrier color at insertion time

	// elvPriv marks a request allocated through the scheduling policy.
	// The queue tracks how many such requests are still alive so a policy
	// switch knows when the old policy's requests have drained.
	elvPriv    bool
	policyData any

	// driverPrivate is the consumer-bound token (a built command, a tag).
	// Set once by prepare; a request holding one is no longer mergeable.
	driverPrivate any

	err  error
	seq  uint64        // queue admission sequence, stable sort tiebreak
	elem *list.Element // non-nil while linked into the dispatch list
}

// EndSector returns the first sector past the request.
func (rq *Request) EndSector() uint64 {
	return rq.Sector + uint64(rq.NrSectors)
}

// Kind returns the request classification.
func (rq *Request) Kind() Kind { return rq.kind }

// Started reports whether the consumer has seen this request.
func (rq *Request) Started() bool { return rq.started }

// Sorted reports whether the request was admitted through the scheduling
// policy, meaning activate/complete lifecycle hooks apply to it.
func (rq *Request) Sorted() bool { return rq.sorted }

// Barrier reports whether the request is a hard write-ordering barrier.
func (rq *Request) Barrier() bool { return rq.hardBarrier }

// Quiet reports whether user-visible error reporting is suppressed.
func (rq *Request) Quiet() bool { return rq.quiet }

// Err returns the final status once the request completed.
func (rq *Request) Err() error { return rq.err }

// Seq returns the queue admission sequence number.
func (rq *Request) Seq() uint64 { return rq.seq }

// PolicyData returns the scheduler-private data bound by SetPolicyData.
func (rq *Request) PolicyData() any { return rq.policyData }

// SetPolicyData binds scheduler-private data to the request. Policies call
// this from their SetPrivate hook.
func (rq *Request) SetPolicyData(v any) { rq.policyData = v }

// DriverPrivate returns the consumer-bound token, or nil.
func (rq *Request) DriverPrivate() any { return rq.driverPrivate }

// BindDriverPrivate binds the consumer token. It is set at most once;
// rebinding is an invariant violation.
func (rq *Request) BindDriverPrivate(v any) {
	if rq.driverPrivate != nil {
		panic("blksched: driver-private token bound twice")
	}
	rq.driverPrivate = v
}

// SetDontPrep marks the request to skip the prepare callback on hand-off.
func (rq *Request) SetDontPrep() { rq.dontPrep = true }

// Fragments returns the merged fragments in transfer order.
func (rq *Request) Fragments() []*Fragment { return rq.fragments }

// mergeable reports whether the request may still accept fragments.
func (rq *Request) mergeable() bool {
	return rq.kind == KindData &&
		!rq.started && !rq.completed &&
		!rq.softBarrier && !rq.hardBarrier &&
		rq.driverPrivate == nil
}

// accountable reports whether the request counts toward in_flight.
func (rq *Request) accountable() bool {
	return rq.kind == KindData
}

// backMerge appends a fragment at the tail.
func (rq *Request) backMerge(frag *Fragment) {
	rq.fragments = append(rq.fragments, frag)
	rq.NrSectors += frag.Count
}

// frontMerge prepends a fragment at the head and moves the start sector.
func (rq *Request) frontMerge(frag *Fragment) {
	rq.fragments = append([]*Fragment{frag}, rq.fragments...)
	rq.Sector = frag.Sector
	rq.NrSectors += frag.Count
}

// absorb moves all fragments of next onto the tail of rq. The two requests
// must be contiguous; next is dead afterwards.
func (rq *Request) absorb(next *Request) {
	rq.fragments = append(rq.fragments, next.fragments...)
	rq.NrSectors += next.NrSectors
	next.fragments = nil
}

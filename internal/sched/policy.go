package sched

// Policy is the contract every scheduling algorithm implements. A policy
// instance is exclusively owned by one Queue and all hooks run with that
// queue's lock held.
//
// The required surface is deliberately small; richer capabilities (merging,
// neighbor lookup, admission control, per-request private data) are optional
// interfaces the queue probes with type assertions.
type Policy interface {
	// Name returns the registered policy name (e.g. "noop", "deadline").
	Name() string

	// Add admits a request into the policy's internal ordering structure.
	// The request stays invisible to the consumer until a Dispatch call
	// moves it onto the queue's dispatch list via Queue.DispatchSort or
	// Queue.DispatchAddTail.
	Add(rq *Request)

	// Dispatch moves zero or more requests from the internal structure
	// onto the dispatch list and reports whether it moved any. When force
	// is set the policy must push everything it holds, ignoring batching
	// and anticipation heuristics.
	Dispatch(force bool) bool

	// Empty reports whether the internal structure holds no requests.
	Empty() bool

	// Exit releases policy resources. The queue calls it on teardown and
	// after a successful switch away from this policy.
	Exit()
}

// Merger is implemented by policies that keep an index suitable for finding
// merge targets beyond the queue's last-merge cache.
type Merger interface {
	// Merge looks for a request the fragment can extend. The outcome must
	// agree with TryMerge on the returned request.
	Merge(frag *Fragment) (*Request, MergeKind)

	// Merged is called after a fragment was merged into rq so the policy
	// can re-index the grown request.
	Merged(rq *Request)

	// MergedRequests is called when next was coalesced into rq. The
	// policy must drop next from its structure; the queue handles the
	// accounting.
	MergedRequests(rq, next *Request)
}

// Neighbors is implemented by policies whose structure can name the
// sector-adjacent requests around rq, enabling request-request coalescing.
type Neighbors interface {
	Latter(rq *Request) *Request
	Former(rq *Request) *Request
}

// Activator is implemented by policies that track when a request is first
// handed to the consumer and when a hand-off is undone by a requeue.
type Activator interface {
	Activate(rq *Request)
	Deactivate(rq *Request)
}

// Completer is implemented by policies that account request completion.
type Completer interface {
	Completed(rq *Request)
}

// MayQueueResult is a policy's admission answer for a prospective submitter.
type MayQueueResult uint8

const (
	// MayQueueOK lets the producer allocate normally.
	MayQueueOK MayQueueResult = iota
	// MayQueueNo asks the producer to back off.
	MayQueueNo
	// MayQueueMust grants allocation even above normal limits, typically
	// to a producer the policy is anticipating.
	MayQueueMust
)

// Admitter is implemented by policies with per-producer admission control.
type Admitter interface {
	MayQueue(pc *ProducerContext, dir Direction) MayQueueResult
}

// PrivateBinder is implemented by policies that attach per-request private
// data. SetPrivate runs at request construction, PutPrivate at destruction.
type PrivateBinder interface {
	SetPrivate(rq *Request) error
	PutPrivate(rq *Request)
}

// Attr is one tunable a policy exposes through the introspection endpoint.
type Attr struct {
	Name  string
	Show  func() string
	Store func(value string) error // nil for read-only attributes
}

// AttrProvider is implemented by policies with tunable attributes.
type AttrProvider interface {
	Attrs() []Attr
}

// EndpointRegistrar publishes a queue's active policy (name and attributes)
// to an external configuration surface. Consumed at the boundary only; the
// engine works without one.
type EndpointRegistrar interface {
	Register(queue string, p Policy) error
	Unregister(queue string, p Policy)
}

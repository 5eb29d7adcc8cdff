package sched

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"blksched/internal/errors"
	"blksched/internal/logger"
)

// PrepResult is the prepare callback's verdict on a request about to be
// handed to the consumer.
type PrepResult uint8

const (
	// PrepReady proceeds with the hand-off.
	PrepReady PrepResult = iota
	// PrepDefer aborts the hand-off and leaves the request at the head so
	// ordering is preserved. The consumer re-calls NextRequest later.
	PrepDefer
	// PrepKill force-completes the request with an error and moves on.
	PrepKill
)

// Callbacks are the collaborator entry points a queue consumes. Strategy is
// the consumer's dispatch routine and is always invoked without the queue
// lock; re-entrant submission from inside it is fine. Prepare and the
// tracer run under the lock.
type Callbacks struct {
	// Strategy runs consumer dispatch logic: it typically loops
	// NextRequest/Dequeue until the queue has nothing releasable.
	Strategy func(q *Queue)

	// Prepare builds the device command for a request, answering
	// Ready, Defer or Kill. Nil means every request is ready.
	Prepare func(rq *Request) PrepResult

	// IssueFlush performs an explicit device cache flush. The queue
	// invokes it itself, without the lock, while servicing the pre/post
	// flush stages of a barrier; nil disables those stages.
	IssueFlush func(dev DeviceID) error
}

// QueueConfig configures a request queue.
type QueueConfig struct {
	Name   string
	Device DeviceID

	// Policy is the initial scheduling policy name. Empty selects "noop".
	Policy string

	// UnplugThreshold is the admitted-but-not-in-flight request count
	// that forces an immediate unplug. Zero selects the default of 4.
	UnplugThreshold int

	// UnplugDelay is the plug timer. Zero disables plugging entirely, so
	// the engine performs no background work at all.
	UnplugDelay time.Duration

	// SwitchRetryInterval and SwitchMaxRetries bound the drain loop a
	// live policy switch runs while dispatched requests still hold
	// policy-private data. Zero selects 10ms and 100.
	SwitchRetryInterval time.Duration
	SwitchMaxRetries    int

	Callbacks Callbacks
	Endpoints EndpointRegistrar
	Tracer    Tracer
	Log       logger.Logger
}

// Stats is a point-in-time snapshot of queue counters.
type Stats struct {
	Submitted        uint64
	BackMerges       uint64
	FrontMerges      uint64
	Coalesces        uint64
	Dispatched       uint64
	Requeues         uint64
	Completed        uint64
	Killed           uint64
	Plugs            uint64
	TimerUnplugs     uint64
	ThresholdUnplugs uint64
	Barriers         uint64
	BarrierStalls    uint64

	NrSorted    int
	InFlight    int
	DispatchLen int
	Plugged     bool
}

// Queue is the aggregate: dispatch list, last-merge cache, accounting,
// barrier sequencer, plug controller and the active scheduling policy.
// One exclusive lock serializes everything.
type Queue struct {
	mu sync.Mutex

	name string
	dev  DeviceID

	dispatch  list.List // of *Request; sector-ordered per barrier segment
	lastMerge *Request  // most recently merged-into request, weak
	nrSorted  int       // requests owned by the policy structure
	inFlight  int       // dequeued but not completed
	elvPriv   int       // live requests allocated through the policy

	// scheduling boundary keeping the sort stable across back-inserts
	endSector  uint64
	boundaryRq *Request

	// plug/batch controller
	plugged         bool
	unplugThreshold int
	unplugDelay     time.Duration
	unplugTimer     *time.Timer

	// barrier sequencer
	ordSeq      int
	stalled     bool
	ordColor    bool
	barRq       *Request
	preFlushRq  *Request
	postFlushRq *Request

	policy     Policy
	policyType *Type
	switching  bool

	switchRetryInterval time.Duration
	switchMaxRetries    int

	nextSeq       uint64
	drainWarnings int

	// completion callbacks collected under the lock, run after unlock
	pendingDone []doneCall

	stats Stats

	cb        Callbacks
	endpoints EndpointRegistrar
	tracer    Tracer
	log       logger.Logger
}

type doneCall struct {
	fn  func(error)
	err error
}

// NewQueue creates a queue fronting one device and attaches the configured
// scheduling policy.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("dev%d", cfg.Device)
	}
	policyName := cfg.Policy
	if policyName == "" {
		policyName = "noop"
	}
	t, ok := Lookup(policyName)
	if !ok {
		return nil, errors.NewPolicyError(errors.ErrCodePolicyNotFound,
			fmt.Sprintf("policy %q not registered", policyName),
			"Run 'blksched policies' to list registered policies")
	}

	q := &Queue{
		name:                name,
		dev:                 cfg.Device,
		unplugThreshold:     cfg.UnplugThreshold,
		unplugDelay:         cfg.UnplugDelay,
		switchRetryInterval: cfg.SwitchRetryInterval,
		switchMaxRetries:    cfg.SwitchMaxRetries,
		cb:                  cfg.Callbacks,
		endpoints:           cfg.Endpoints,
		tracer:              cfg.Tracer,
		log:                 cfg.Log,
	}
	if q.unplugThreshold <= 0 {
		q.unplugThreshold = 4
	}
	if q.switchRetryInterval <= 0 {
		q.switchRetryInterval = 10 * time.Millisecond
	}
	if q.switchMaxRetries <= 0 {
		q.switchMaxRetries = 100
	}
	if q.log == nil {
		q.log = logger.NewSilent()
	}
	q.dispatch.Init()

	p, err := t.New(q)
	if err != nil {
		return nil, errors.NewPolicyError(errors.ErrCodePolicyInit,
			fmt.Sprintf("policy %q failed to initialize", policyName), "").WithCause(err)
	}
	q.policy = p
	q.policyType = t

	if q.endpoints != nil {
		if err := q.endpoints.Register(q.name, p); err != nil {
			p.Exit()
			return nil, errors.NewPolicyError(errors.ErrCodePolicyInit,
				"policy endpoint registration failed", "").WithCause(err)
		}
	}
	q.log.Debug("queue created", "queue", q.name, "policy", t.Name)
	return q, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Device returns the device the queue fronts.
func (q *Queue) Device() DeviceID { return q.dev }

// PolicyName returns the active policy's registered name.
func (q *Queue) PolicyName() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.policyType.Name
}

// ActivePolicy runs fn on the active policy under the queue lock. Used by
// the attribute endpoint; fn must not call back into the queue.
func (q *Queue) ActivePolicy(fn func(p Policy)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn(q.policy)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.NrSorted = q.nrSorted
	s.InFlight = q.inFlight
	s.DispatchLen = q.dispatch.Len()
	s.Plugged = q.plugged
	return s
}

// Close drains completion callbacks, detaches the endpoint and tears down
// the policy. The queue must be idle.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.unplugTimer != nil {
		q.unplugTimer.Stop()
	}
	p := q.policy
	q.mu.Unlock()
	if q.endpoints != nil {
		q.endpoints.Unregister(q.name, p)
	}
	p.Exit()
}

// InsertMode selects how Insert places a request.
type InsertMode uint8

const (
	// InsertFront head-inserts, bypassing scheduling. For urgent
	// consumer-initiated re-submission.
	InsertFront InsertMode = iota
	// InsertBack drains the policy and appends. For requests that must
	// not be reordered or merged.
	InsertBack
	// InsertSort is the normal path through the policy's structure.
	InsertSort
	// InsertRequeue puts a dequeued-but-incomplete request back,
	// preserving barrier-sequence order.
	InsertRequeue
)

// Submit routes a fragment into the queue: merge into an existing request
// when possible, otherwise construct a new one and Sort-insert it. Never
// blocks. Returns the merge kind (NoMerge means a new request was created)
// and the request now carrying the fragment.
func (q *Queue) Submit(frag *Fragment) (MergeKind, *Request) {
	q.mu.Lock()
	q.stats.Submitted++

	// During a policy switch the scheduler is bypassed: no merging, no
	// policy-private data, straight to the dispatch tail.
	if q.switching {
		rq := q.newRequestLocked(frag, false)
		kick := q.insertLocked(rq, InsertBack)
		q.finishLocked(kick)
		return NoMerge, rq
	}

	if rq, kind := q.mergeLocked(frag); kind != NoMerge {
		q.finishLocked(false)
		return kind, rq
	}

	rq := q.newRequestLocked(frag, true)
	if q.emptyLocked() {
		q.plugLocked()
	}
	kick := q.insertLocked(rq, InsertSort)
	if !q.plugged {
		kick = true
	}
	q.finishLocked(kick)
	return NoMerge, rq
}

// NewRequest constructs a request from a fragment without inserting it,
// binding policy-private data. Pair with Insert.
func (q *Queue) NewRequest(frag *Fragment) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.newRequestLocked(frag, !q.switching)
}

// Insert places a request according to mode. Unknown modes are programming
// errors and panic.
func (q *Queue) Insert(rq *Request, mode InsertMode) {
	q.mu.Lock()
	kick := q.insertLocked(rq, mode)
	q.finishLocked(kick)
}

// MayQueue asks the active policy whether the producer behind pc should be
// allowed to allocate another request.
func (q *Queue) MayQueue(pc *ProducerContext, dir Direction) MayQueueResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	if a, ok := q.policy.(Admitter); ok {
		return a.MayQueue(pc, dir)
	}
	return MayQueueOK
}

// IsEmpty reports whether both the dispatch list and the policy structure
// are empty.
func (q *Queue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.emptyLocked()
}

func (q *Queue) emptyLocked() bool {
	return q.dispatch.Len() == 0 && q.policy.Empty()
}

// Plug holds dispatch to accumulate a batch. A no-op when plugging is
// disabled (zero delay) or the queue is already plugged.
func (q *Queue) Plug() {
	q.mu.Lock()
	q.plugLocked()
	q.finishLocked(false)
}

// Unplug releases batching and runs the consumer strategy.
func (q *Queue) Unplug() {
	q.mu.Lock()
	q.unplugLocked()
	q.finishLocked(true)
}

func (q *Queue) plugLocked() {
	if q.plugged || q.unplugDelay <= 0 {
		return
	}
	q.plugged = true
	q.stats.Plugs++
	q.trace(EvPlug, nil)
	if q.unplugTimer == nil {
		q.unplugTimer = time.AfterFunc(q.unplugDelay, q.timerUnplug)
	} else {
		q.unplugTimer.Reset(q.unplugDelay)
	}
}

func (q *Queue) unplugLocked() {
	if q.unplugTimer != nil {
		q.unplugTimer.Stop()
	}
	if q.plugged {
		q.plugged = false
		q.trace(EvUnplug, nil)
	}
}

// timerUnplug fires when a plugged queue's batching delay expires.
func (q *Queue) timerUnplug() {
	q.mu.Lock()
	if !q.plugged {
		q.mu.Unlock()
		return
	}
	q.plugged = false
	q.stats.TimerUnplugs++
	q.trace(EvUnplug, nil)
	q.finishLocked(true)
}

// newRequestLocked seeds a request from a fragment. withPriv binds the
// policy's per-request private data and counts the request against the
// switch drain.
func (q *Queue) newRequestLocked(frag *Fragment, withPriv bool) *Request {
	q.nextSeq++
	rq := &Request{
		Device:      frag.Device,
		Sector:      frag.Sector,
		NrSectors:   frag.Count,
		Dir:         frag.Dir,
		kind:        KindData,
		hardBarrier: frag.Barrier,
		fragments:   []*Fragment{frag},
		seq:         q.nextSeq,
	}
	if withPriv {
		rq.elvPriv = true
		q.elvPriv++
		if pb, ok := q.policy.(PrivateBinder); ok {
			if err := pb.SetPrivate(rq); err != nil {
				// Fall back to a bypass request; scheduling still works,
				// the request just skips the policy structure.
				rq.elvPriv = false
				q.elvPriv--
				q.log.Warn("policy private allocation failed",
					"queue", q.name, "error", err)
			}
		}
	}
	return rq
}

// mergeLocked attempts to extend an existing request with frag: the
// last-merge cache first, then the policy's own lookup. On success the
// policy re-indexes the grown request and a request-request coalesce with
// the new sector-neighbor is attempted.
func (q *Queue) mergeLocked(frag *Fragment) (*Request, MergeKind) {
	if frag.Barrier {
		return nil, NoMerge
	}

	var target *Request
	var kind MergeKind

	if q.lastMerge != nil {
		if k := TryMerge(q.lastMerge, frag); k != NoMerge {
			target, kind = q.lastMerge, k
		}
	}
	if target == nil {
		m, ok := q.policy.(Merger)
		if !ok {
			return nil, NoMerge
		}
		target, kind = m.Merge(frag)
		if target == nil || kind == NoMerge {
			return nil, NoMerge
		}
	}

	switch kind {
	case BackMerge:
		target.backMerge(frag)
		q.stats.BackMerges++
		q.trace(EvBackMerge, target)
		q.mergedLocked(target)
		if n, ok := q.policy.(Neighbors); ok {
			if next := n.Latter(target); next != nil {
				q.attemptCoalesceLocked(target, next)
			}
		}
	case FrontMerge:
		target.frontMerge(frag)
		q.stats.FrontMerges++
		q.trace(EvFrontMerge, target)
		q.mergedLocked(target)
		if n, ok := q.policy.(Neighbors); ok {
			if prev := n.Former(target); prev != nil && q.attemptCoalesceLocked(prev, target) {
				target = prev
			}
		}
	}
	return target, kind
}

// mergedLocked runs the policy's re-index hook after a fragment merge and
// refreshes the last-merge cache.
func (q *Queue) mergedLocked(rq *Request) {
	if m, ok := q.policy.(Merger); ok {
		m.Merged(rq)
	}
	q.lastMerge = rq
}

// attemptCoalesceLocked merges next into rq when they are contiguous
// requests still owned by the policy. The policy drops next from its
// structure, nr_sorted loses exactly one, and rq survives as the last-merge
// target.
func (q *Queue) attemptCoalesceLocked(rq, next *Request) bool {
	if !rq.inPolicy || !next.inPolicy {
		return false
	}
	if !next.mergeable() || !contiguous(rq, next) {
		return false
	}

	rq.absorb(next)
	if m, ok := q.policy.(Merger); ok {
		m.MergedRequests(rq, next)
	}
	next.inPolicy = false
	q.nrSorted--
	q.stats.Coalesces++
	q.trace(EvCoalesce, rq)
	q.lastMerge = rq
	q.releaseRequestLocked(next)
	return true
}

// releaseRequestLocked drops a dead request's policy-private data.
func (q *Queue) releaseRequestLocked(rq *Request) {
	if rq.policyData != nil {
		if pb, ok := q.policy.(PrivateBinder); ok {
			pb.PutPrivate(rq)
		}
		rq.policyData = nil
	}
	if rq.elvPriv {
		rq.elvPriv = false
		q.elvPriv--
	}
}

// insertLocked is the insertion state machine. Returns whether the consumer
// strategy should be kicked after the lock drops.
func (q *Queue) insertLocked(rq *Request, mode InsertMode) bool {
	// Requeued requests keep the color they were stamped with on first
	// insertion: re-stamping one mid-barrier would reclassify it behind
	// the barrier it preceded and the sequencer would wait forever.
	if mode != InsertRequeue {
		// Requests remember the barrier color in force when they
		// arrived, so two back-to-back barriers stay distinguishable
		// without a full drain.
		rq.ordColor = q.ordColor

		if rq.softBarrier || rq.hardBarrier {
			if rq.hardBarrier {
				q.ordColor = !q.ordColor
			}
			// Barriers must not be merged or reordered: Sort is
			// silently a back-insert. A data-carrying barrier becomes
			// the new scheduling boundary.
			if mode == InsertSort {
				mode = InsertBack
			}
			if rq.kind == KindData {
				q.endSector = rq.EndSector()
				q.boundaryRq = rq
			}
		} else if !rq.elvPriv && mode == InsertSort {
			// No policy-private data means no policy structure to sit in.
			mode = InsertBack
		}
	}

	q.trace(EvInsert, rq)

	kick := false
	unplugIt := true

	switch mode {
	case InsertFront:
		rq.softBarrier = true
		rq.elem = q.dispatch.PushFront(rq)

	case InsertBack:
		rq.softBarrier = true
		q.drainLocked()
		rq.elem = q.dispatch.PushBack(rq)
		// Kick immediately: the policy may have answered "later" before
		// and just released those requests, and back-inserted requests
		// will not merge with anything, so delaying buys nothing.
		q.unplugLocked()
		kick = true

	case InsertSort:
		if rq.kind != KindData {
			panic(fmt.Sprintf("blksched: %s: sort insert of non-data request", q.name))
		}
		rq.sorted = true
		rq.inPolicy = true
		q.nrSorted++
		if q.lastMerge == nil && rq.mergeable() {
			q.lastMerge = rq
		}
		q.policy.Add(rq)

	case InsertRequeue:
		// Outside barrier processing a requeue is a head-insert; during
		// it, the request slots in ascending barrier-sequence order.
		rq.softBarrier = true
		if q.ordSeq == ordSeqNone {
			rq.elem = q.dispatch.PushFront(rq)
		} else {
			seq := q.requestSeqLocked(rq)
			var pos *list.Element
			for e := q.dispatch.Front(); e != nil; e = e.Next() {
				if seq <= q.requestSeqLocked(e.Value.(*Request)) {
					pos = e
					break
				}
			}
			if pos != nil {
				rq.elem = q.dispatch.InsertBefore(rq, pos)
			} else {
				rq.elem = q.dispatch.PushBack(rq)
			}
		}
		// Requeues mostly come from busy conditions; forcing an unplug
		// for them would just hammer a congested device.
		unplugIt = false

	default:
		panic(fmt.Sprintf("blksched: %s: bad insertion mode %d", q.name, mode))
	}

	if unplugIt && q.plugged {
		nrq := q.nrSorted + q.dispatch.Len() - q.inFlight
		if nrq >= q.unplugThreshold {
			q.unplugLocked()
			q.stats.ThresholdUnplugs++
			kick = true
		}
	}
	return kick
}

// DispatchSort inserts rq into the dispatch list in sector order, scanning
// back from the tail and never crossing a started request or a barrier.
// This and DispatchAddTail are the only sanctioned ways a policy hands
// requests to the dispatch list; both run inside policy hooks with the
// queue lock held.
func (q *Queue) DispatchSort(rq *Request) {
	q.leavePolicyLocked(rq)

	boundary := q.endSector
	var entry *list.Element
	for e := q.dispatch.Back(); e != nil; e = e.Prev() {
		pos := e.Value.(*Request)
		if pos.softBarrier || pos.hardBarrier || pos.started {
			entry = e
			break
		}
		if rq.Sector >= boundary {
			if pos.Sector < boundary {
				continue
			}
		} else if pos.Sector >= boundary {
			entry = e
			break
		}
		if rq.Sector >= pos.Sector {
			entry = e
			break
		}
	}
	if entry != nil {
		rq.elem = q.dispatch.InsertAfter(rq, entry)
	} else {
		rq.elem = q.dispatch.PushFront(rq)
	}
}

// DispatchAddTail appends rq to the dispatch list and moves the scheduling
// boundary past it.
func (q *Queue) DispatchAddTail(rq *Request) {
	q.leavePolicyLocked(rq)
	q.endSector = rq.EndSector()
	q.boundaryRq = rq
	rq.elem = q.dispatch.PushBack(rq)
}

// leavePolicyLocked books a request out of the policy structure. The sorted
// flag stays set: the policy still sees activate/complete for it.
func (q *Queue) leavePolicyLocked(rq *Request) {
	if q.lastMerge == rq {
		q.lastMerge = nil
	}
	if rq.inPolicy {
		rq.inPolicy = false
		q.nrSorted--
	}
}

// finishLocked releases the lock, runs collected completion callbacks and
// optionally the consumer strategy. Every exported mutation funnels through
// here so producers never see their Done callbacks under the lock.
func (q *Queue) finishLocked(kick bool) {
	done := q.pendingDone
	q.pendingDone = nil
	q.mu.Unlock()
	for _, d := range done {
		d.fn(d.err)
	}
	if kick {
		q.kick()
	}
}

// kick runs the consumer strategy. Never called with the lock held.
func (q *Queue) kick() {
	if q.cb.Strategy != nil {
		q.cb.Strategy(q)
	}
}

package sched

import (
	"fmt"

	"blksched/internal/errors"
)

// maxDrainWarnings bounds the "forced dispatching is broken" log so a buggy
// policy cannot flood the log.
const maxDrainWarnings = 10

// NextRequest returns the next request ready for command construction, or
// nil when nothing is releasable right now. Safe to re-call after a Defer.
//
// Flush bookkeeping requests never reach the consumer: the queue services
// them here by invoking the issue-flush callback and completing them, which
// advances the barrier sequence.
func (q *Queue) NextRequest() *Request {
	for {
		q.mu.Lock()
		rq := q.nextRequestLocked()
		q.finishLocked(false)
		if rq == nil || rq.kind != KindFlush {
			return rq
		}
		q.Dequeue(rq)
		q.Complete(rq, q.cb.IssueFlush(rq.Device))
	}
}

func (q *Queue) nextRequestLocked() *Request {
	for {
		rq := q.releasableHeadLocked()
		if rq == nil {
			return nil
		}

		if !rq.started {
			// First hand-off, possibly after requeueing. Notify the
			// policy exactly once; the flag also stops newer requests
			// from passing a delayed one.
			if rq.sorted {
				if a, ok := q.policy.(Activator); ok {
					a.Activate(rq)
				}
			}
			rq.started = true
			q.trace(EvIssue, rq)
		}

		if q.boundaryRq == nil || q.boundaryRq == rq {
			q.endSector = rq.EndSector()
			q.boundaryRq = nil
		}

		if rq.dontPrep || q.cb.Prepare == nil {
			return rq
		}

		switch q.cb.Prepare(rq) {
		case PrepReady:
			return rq
		case PrepDefer:
			// Possibly partially prepared; keep it at the head so no
			// other request passes it, and report nothing available.
			return nil
		case PrepKill:
			q.dequeueLocked(rq)
			rq.quiet = true
			q.stats.Killed++
			q.completeLocked(rq, errors.NewSchedError(errors.ErrCodeRequestKilled,
				fmt.Sprintf("request killed during prepare (sector %d)", rq.Sector)))
		default:
			q.log.Error("bad prepare result, treating as ready", "queue", q.name)
			return rq
		}
	}
}

// releasableHeadLocked returns the dispatch head once barrier rules permit
// releasing it, pulling more requests out of the policy as needed.
func (q *Queue) releasableHeadLocked() *Request {
	for {
		for q.dispatch.Len() > 0 {
			head := q.dispatch.Front().Value.(*Request)
			rq, ok := q.orderedLocked(head)
			if ok {
				return rq
			}
			if rq == nil {
				// Gated behind the barrier sequencer until in-flight
				// requests complete.
				return nil
			}
			// Barrier processing rewrote the queue head; re-peek.
		}
		if !q.policy.Dispatch(false) {
			return nil
		}
	}
}

// Dequeue removes a request from the dispatch list and accounts it in
// flight. Dequeuing a request that is not queue-linked is an invariant
// violation and panics.
func (q *Queue) Dequeue(rq *Request) {
	q.mu.Lock()
	q.dequeueLocked(rq)
	q.finishLocked(false)
}

func (q *Queue) dequeueLocked(rq *Request) {
	if rq.elem == nil {
		panic(fmt.Sprintf("blksched: %s: dequeue of request not on dispatch list", q.name))
	}
	q.dispatch.Remove(rq.elem)
	rq.elem = nil
	// The window between leaving the lists and completion counts as I/O
	// in progress on the driver side.
	if rq.accountable() {
		q.inFlight++
	}
	q.stats.Dispatched++
}

// Requeue puts a previously dequeued, incomplete request back on the
// dispatch list. The request is un-started so activation runs again on the
// next hand-off.
func (q *Queue) Requeue(rq *Request) {
	q.mu.Lock()
	if rq.accountable() {
		q.inFlight--
		if rq.sorted {
			if a, ok := q.policy.(Activator); ok {
				a.Deactivate(rq)
			}
		}
	}
	rq.started = false
	q.stats.Requeues++
	q.trace(EvRequeue, rq)
	kick := q.insertLocked(rq, InsertRequeue)
	q.finishLocked(kick)
}

// Complete signals that the consumer finished a request. Accounting is
// unwound, the policy is notified, the barrier sequencer may advance, and
// fragment Done callbacks fire (outside the lock) with opErr.
func (q *Queue) Complete(rq *Request, opErr error) {
	q.mu.Lock()
	kick := q.completeLocked(rq, opErr)
	q.finishLocked(kick)
}

func (q *Queue) completeLocked(rq *Request, opErr error) bool {
	if rq.completed {
		panic(fmt.Sprintf("blksched: %s: request completed twice", q.name))
	}
	rq.completed = true
	rq.err = opErr
	q.stats.Completed++

	if rq.accountable() {
		q.inFlight--
		if rq.sorted {
			if c, ok := q.policy.(Completer); ok {
				c.Completed(rq)
			}
		}
	}
	if q.boundaryRq == rq {
		q.boundaryRq = nil
	}
	if q.lastMerge == rq {
		q.lastMerge = nil
	}
	q.releaseRequestLocked(rq)
	q.trace(EvComplete, rq)

	for _, f := range rq.fragments {
		if f.Done != nil {
			q.pendingDone = append(q.pendingDone, doneCall{fn: f.Done, err: opErr})
		}
	}

	return q.barrierCompletedLocked(rq)
}

// drainLocked forces the policy to hand over everything it holds. A policy
// that still reports sorted requests afterwards is broken; that is logged a
// bounded number of times and operation continues.
func (q *Queue) drainLocked() {
	for q.policy.Dispatch(true) {
	}
	if q.nrSorted == 0 {
		return
	}
	if q.drainWarnings < maxDrainWarnings {
		q.drainWarnings++
		q.log.Error("forced dispatching is broken, please report this",
			"policy", q.policyType.Name, "nr_sorted", q.nrSorted)
	}
}

package sched

// Barrier sequence stages. While a hard barrier is being processed the
// queue walks none -> pre-flush drain -> pre-flush -> barrier -> post-flush
// -> none, and the dispatch head is only released when its sequence number
// does not exceed the current stage.
const (
	ordSeqNone      = 0
	ordSeqDrain     = 1 // wait out requests issued before the barrier
	ordSeqPreFlush  = 2 // flush the device cache ahead of the barrier
	ordSeqBar       = 3 // the barrier request itself
	ordSeqPostFlush = 4 // flush the barrier's own payload
	ordSeqDone      = 5 // requests submitted after the barrier
)

// orderedLocked applies barrier rules to the dispatch head. Returns
// (head, true) when the head may be released, (nil, false) when it is gated
// until completions advance the sequencer, and (head, false) when barrier
// processing just started and the head must be re-peeked.
func (q *Queue) orderedLocked(head *Request) (*Request, bool) {
	if q.ordSeq == ordSeqNone {
		if head.hardBarrier && head.kind == KindData {
			q.startOrderedLocked(head)
			return head, false
		}
		return head, true
	}
	if q.requestSeqLocked(head) <= q.ordSeq {
		return head, true
	}
	if !q.stalled {
		q.stalled = true
		q.stats.BarrierStalls++
	}
	return nil, false
}

// startOrderedLocked begins barrier processing for the barrier at the
// dispatch head: enter the pre-flush drain and, when the consumer can flush
// its cache, queue a pre-flush ahead of the barrier.
func (q *Queue) startOrderedLocked(bar *Request) {
	q.ordSeq = ordSeqDrain
	q.barRq = bar
	q.stats.Barriers++
	q.trace(EvBarrier, bar)

	if q.cb.IssueFlush != nil {
		q.preFlushRq = q.newFlushRequestLocked()
		q.preFlushRq.elem = q.dispatch.PushFront(q.preFlushRq)
	}

	// Nothing may be in flight already.
	if q.ordDrainDoneLocked() {
		q.advanceAfterDrainLocked()
	}
}

// requestSeqLocked maps a request to its barrier sequence number. Requests
// colored like the in-flight barrier precede it; the alternating color bit
// keeps two successive barriers apart without a full drain between them.
func (q *Queue) requestSeqLocked(rq *Request) int {
	switch {
	case q.ordSeq == ordSeqNone:
		return ordSeqNone
	case rq == q.preFlushRq:
		return ordSeqPreFlush
	case rq == q.barRq:
		return ordSeqBar
	case rq == q.postFlushRq:
		return ordSeqPostFlush
	case rq.ordColor == q.barRq.ordColor:
		return ordSeqDrain
	default:
		return ordSeqDone
	}
}

// ordDrainDoneLocked reports whether the pre-flush drain condition holds:
// nothing in flight and the head already belongs to a later stage.
func (q *Queue) ordDrainDoneLocked() bool {
	if q.inFlight != 0 {
		return false
	}
	if q.dispatch.Len() == 0 {
		return true
	}
	head := q.dispatch.Front().Value.(*Request)
	return q.requestSeqLocked(head) > ordSeqDrain
}

func (q *Queue) advanceAfterDrainLocked() {
	if q.preFlushRq != nil {
		q.ordSeq = ordSeqPreFlush
	} else {
		q.ordSeq = ordSeqBar
	}
	q.stalled = false
}

// barrierCompletedLocked advances the sequencer on completion of a stage
// request, or when the last drained request finishes. Reports whether the
// consumer strategy should be re-run.
func (q *Queue) barrierCompletedLocked(rq *Request) bool {
	if q.ordSeq == ordSeqNone {
		return false
	}

	switch rq {
	case q.preFlushRq:
		q.preFlushRq = nil
		q.ordSeq = ordSeqBar
		q.stalled = false
		return true

	case q.barRq:
		if q.cb.IssueFlush != nil {
			q.postFlushRq = q.newFlushRequestLocked()
			q.postFlushRq.elem = q.dispatch.PushFront(q.postFlushRq)
			q.ordSeq = ordSeqPostFlush
			q.stalled = false
		} else {
			q.finishOrderedLocked()
		}
		return true

	case q.postFlushRq:
		q.postFlushRq = nil
		q.finishOrderedLocked()
		return true

	default:
		if q.ordSeq == ordSeqDrain && q.ordDrainDoneLocked() {
			q.advanceAfterDrainLocked()
			return true
		}
	}
	return false
}

func (q *Queue) finishOrderedLocked() {
	q.ordSeq = ordSeqNone
	q.barRq = nil
	q.preFlushRq = nil
	q.postFlushRq = nil
	q.stalled = false
}

// newFlushRequestLocked builds a cache-flush bookkeeping request. Flush
// requests skip prepare and never count in flight; NextRequest services
// them itself through the issue-flush callback.
func (q *Queue) newFlushRequestLocked() *Request {
	q.nextSeq++
	return &Request{
		Device:      q.dev,
		Dir:         DirWrite,
		kind:        KindFlush,
		softBarrier: true,
		dontPrep:    true,
		seq:         q.nextSeq,
	}
}

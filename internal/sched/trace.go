package sched

import "time"

// EventKind identifies a queue lifecycle event.
type EventKind uint8

const (
	EvInsert EventKind = iota
	EvIssue
	EvRequeue
	EvBackMerge
	EvFrontMerge
	EvCoalesce
	EvComplete
	EvPlug
	EvUnplug
	EvBarrier
)

func (k EventKind) String() string {
	switch k {
	case EvInsert:
		return "insert"
	case EvIssue:
		return "issue"
	case EvRequeue:
		return "requeue"
	case EvBackMerge:
		return "merge-back"
	case EvFrontMerge:
		return "merge-front"
	case EvCoalesce:
		return "merge-rq"
	case EvComplete:
		return "complete"
	case EvPlug:
		return "plug"
	case EvUnplug:
		return "unplug"
	case EvBarrier:
		return "barrier"
	default:
		return "unknown"
	}
}

// Event is one trace record emitted from the insert, dispatch, requeue and
// completion paths of a queue.
type Event struct {
	Time   time.Time
	Kind   EventKind
	Queue  string
	Device DeviceID
	Sector uint64
	Nr     uint32
	Dir    Direction
	Error  bool
}

// Tracer consumes queue events. Event is called with the queue lock held and
// must not call back into the queue.
type Tracer interface {
	Event(ev Event)
}

// trace emits an event for rq if a tracer is attached.
func (q *Queue) trace(kind EventKind, rq *Request) {
	if q.tracer == nil {
		return
	}
	ev := Event{
		Time:  time.Now(),
		Kind:  kind,
		Queue: q.name,
	}
	if rq != nil {
		ev.Device = rq.Device
		ev.Sector = rq.Sector
		ev.Nr = rq.NrSectors
		ev.Dir = rq.Dir
		ev.Error = rq.err != nil
	}
	q.tracer.Event(ev)
}

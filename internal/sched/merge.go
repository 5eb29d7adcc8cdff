package sched

// MergeKind is the outcome of a merge probe.
type MergeKind uint8

const (
	// NoMerge means the fragment cannot extend the request. Not an error:
	// the caller constructs a new request instead.
	NoMerge MergeKind = iota
	// BackMerge appends the fragment at the request's tail.
	BackMerge
	// FrontMerge prepends the fragment at the request's head.
	FrontMerge
)

func (k MergeKind) String() string {
	switch k {
	case BackMerge:
		return "back"
	case FrontMerge:
		return "front"
	default:
		return "none"
	}
}

// mergeOK checks the preconditions shared by both merge directions: same
// device, same direction, and a target that is still open for merging.
func mergeOK(rq *Request, frag *Fragment) bool {
	if !rq.mergeable() {
		return false
	}
	if frag.Dir != rq.Dir {
		return false
	}
	return rq.Device == frag.Device
}

// TryMerge decides whether frag can extend rq and on which end.
// The tail wins the tie-break: a fragment starting exactly at the request's
// end sector back-merges; one ending exactly at its start sector front-merges.
func TryMerge(rq *Request, frag *Fragment) MergeKind {
	if !mergeOK(rq, frag) {
		return NoMerge
	}
	if rq.Sector+uint64(rq.NrSectors) == frag.Sector {
		return BackMerge
	}
	if rq.Sector-uint64(frag.Count) == frag.Sector {
		return FrontMerge
	}
	return NoMerge
}

// contiguous reports whether next starts exactly where rq ends, on the same
// device and direction. Used for request-request coalescing.
func contiguous(rq, next *Request) bool {
	if rq == next || rq.Dir != next.Dir || rq.Device != next.Device {
		return false
	}
	return rq.EndSector() == next.Sector
}

// Package deadline implements a deadline scheduling policy: requests are
// served in ascending sector order for throughput, but each carries an
// expiry deadline so no request starves behind a sequential stream. Reads
// are preferred over writes up to a starvation bound.
package deadline

import (
	"container/list"
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/btree"

	"blksched/internal/sched"
)

func init() {
	sched.Register(&sched.Type{
		Name:        "deadline",
		Description: "sector-sorted dispatch with per-request expiry deadlines",
		New:         New,
	})
}

const (
	dRead  = 0
	dWrite = 1
)

// Tunable defaults, exposed as attributes.
const (
	defaultReadExpire    = 500 * time.Millisecond
	defaultWriteExpire   = 5 * time.Second
	defaultFIFOBatch     = 16
	defaultWritesStarved = 2
)

// drq is the per-request private data: the indexed sector key (which may
// lag the live sector across a front merge until Merged re-indexes) and the
// request's position in the expiry FIFO.
type drq struct {
	keySector uint64
	fifoElem  *list.Element
	expire    time.Time
}

func drqOf(rq *sched.Request) *drq {
	return rq.PolicyData().(*drq)
}

type policy struct {
	q *sched.Queue

	sorted [2]*btree.BTreeG[*sched.Request]
	fifo   [2]list.List

	fifoExpire    [2]time.Duration
	fifoBatch     int
	writesStarved int

	nextRq   *sched.Request // continuation of the current sector sweep
	batching int
	starved  int
}

// New constructs a deadline policy bound to q.
func New(q *sched.Queue) (sched.Policy, error) {
	less := func(a, b *sched.Request) bool {
		da, db := drqOf(a), drqOf(b)
		if da.keySector != db.keySector {
			return da.keySector < db.keySector
		}
		return a.Seq() < b.Seq()
	}
	p := &policy{
		q:             q,
		fifoExpire:    [2]time.Duration{defaultReadExpire, defaultWriteExpire},
		fifoBatch:     defaultFIFOBatch,
		writesStarved: defaultWritesStarved,
	}
	p.sorted[dRead] = btree.NewBTreeG(less)
	p.sorted[dWrite] = btree.NewBTreeG(less)
	p.fifo[dRead].Init()
	p.fifo[dWrite].Init()
	return p, nil
}

func (p *policy) Name() string { return "deadline" }

func dirIndex(d sched.Direction) int {
	if d == sched.DirWrite {
		return dWrite
	}
	return dRead
}

// SetPrivate allocates the per-request deadline data.
func (p *policy) SetPrivate(rq *sched.Request) error {
	rq.SetPolicyData(&drq{keySector: rq.Sector})
	return nil
}

func (p *policy) PutPrivate(rq *sched.Request) {}

func (p *policy) Add(rq *sched.Request) {
	d := drqOf(rq)
	d.keySector = rq.Sector
	dir := dirIndex(rq.Dir)
	p.sorted[dir].Set(rq)
	d.expire = time.Now().Add(p.fifoExpire[dir])
	d.fifoElem = p.fifo[dir].PushBack(rq)
}

func (p *policy) remove(rq *sched.Request) {
	if p.nextRq == rq {
		p.nextRq = p.latterInTree(rq)
	}
	d := drqOf(rq)
	dir := dirIndex(rq.Dir)
	p.sorted[dir].Delete(rq)
	if d.fifoElem != nil {
		p.fifo[dir].Remove(d.fifoElem)
		d.fifoElem = nil
	}
}

func (p *policy) Empty() bool {
	return p.sorted[dRead].Len() == 0 && p.sorted[dWrite].Len() == 0
}

func (p *policy) Exit() {}

// Merge looks for back and front merge targets in the sector index: a
// request ending exactly at the fragment's start, or starting exactly at
// its end.
func (p *policy) Merge(frag *sched.Fragment) (*sched.Request, sched.MergeKind) {
	dir := dirIndex(frag.Dir)

	// Back merge: the nearest request at or below the fragment's start.
	if rq := p.floorAt(dir, frag.Sector); rq != nil {
		if kind := sched.TryMerge(rq, frag); kind == sched.BackMerge {
			return rq, kind
		}
	}
	// Front merge: a request starting exactly at the fragment's end.
	if rq := p.ceilAt(dir, frag.EndSector()); rq != nil && rq.Sector == frag.EndSector() {
		if kind := sched.TryMerge(rq, frag); kind == sched.FrontMerge {
			return rq, kind
		}
	}
	return nil, sched.NoMerge
}

// Merged re-indexes a request whose start sector moved in a front merge.
func (p *policy) Merged(rq *sched.Request) {
	d := drqOf(rq)
	if d.keySector == rq.Sector {
		return
	}
	dir := dirIndex(rq.Dir)
	p.sorted[dir].Delete(rq)
	d.keySector = rq.Sector
	p.sorted[dir].Set(rq)
}

// MergedRequests drops the absorbed request; the survivor inherits the
// earlier of the two deadlines so coalescing never extends a wait.
func (p *policy) MergedRequests(rq, next *sched.Request) {
	dr, dn := drqOf(rq), drqOf(next)
	if dn.fifoElem != nil && dn.expire.Before(dr.expire) {
		dr.expire = dn.expire
		dir := dirIndex(rq.Dir)
		p.fifo[dir].MoveBefore(dr.fifoElem, dn.fifoElem)
	}
	p.remove(next)
}

func (p *policy) Latter(rq *sched.Request) *sched.Request {
	return p.latterInTree(rq)
}

func (p *policy) Former(rq *sched.Request) *sched.Request {
	var prev *sched.Request
	first := true
	p.sorted[dirIndex(rq.Dir)].Descend(rq, func(item *sched.Request) bool {
		if first && item == rq {
			first = false
			return true
		}
		prev = item
		return false
	})
	return prev
}

func (p *policy) latterInTree(rq *sched.Request) *sched.Request {
	var next *sched.Request
	first := true
	p.sorted[dirIndex(rq.Dir)].Ascend(rq, func(item *sched.Request) bool {
		if first && item == rq {
			first = false
			return true
		}
		next = item
		return false
	})
	return next
}

// floorAt returns the request with the greatest indexed sector <= sector.
func (p *policy) floorAt(dir int, sector uint64) *sched.Request {
	pivot := new(sched.Request)
	pivot.SetPolicyData(&drq{keySector: sector})
	var found *sched.Request
	p.sorted[dir].Descend(pivot, func(item *sched.Request) bool {
		found = item
		return false
	})
	return found
}

// ceilAt returns the request with the smallest indexed sector >= sector.
func (p *policy) ceilAt(dir int, sector uint64) *sched.Request {
	pivot := new(sched.Request)
	pivot.SetPolicyData(&drq{keySector: sector})
	var found *sched.Request
	p.sorted[dir].Ascend(pivot, func(item *sched.Request) bool {
		found = item
		return false
	})
	return found
}

// Dispatch moves at most one request to the dispatch list per call; the
// queue loops as needed. Batches continue an in-progress sector sweep,
// expired deadlines restart service at the FIFO head, and writes get a
// turn once reads have starved them long enough.
func (p *policy) Dispatch(force bool) bool {
	rq := p.selectRequest(force)
	if rq == nil {
		return false
	}
	p.nextRq = p.latterInTree(rq)
	p.remove(rq)
	p.batching++
	p.q.DispatchAddTail(rq)
	return true
}

func (p *policy) selectRequest(force bool) *sched.Request {
	if !force && p.nextRq != nil && p.batching < p.fifoBatch {
		return p.nextRq
	}

	reads := p.sorted[dRead].Len() > 0
	writes := p.sorted[dWrite].Len() > 0

	var dir int
	switch {
	case !reads && !writes:
		return nil
	case reads && (!writes || p.starved < p.writesStarved):
		dir = dRead
		if writes {
			p.starved++
		}
	default:
		dir = dWrite
		p.starved = 0
	}

	p.batching = 0
	if !force {
		if head := p.expiredHead(dir); head != nil {
			return head
		}
	}
	if min, ok := p.sorted[dir].Min(); ok {
		return min
	}
	return nil
}

// expiredHead returns the FIFO head when its deadline has passed.
func (p *policy) expiredHead(dir int) *sched.Request {
	front := p.fifo[dir].Front()
	if front == nil {
		return nil
	}
	rq := front.Value.(*sched.Request)
	if time.Now().After(drqOf(rq).expire) {
		return rq
	}
	return nil
}

// Attrs exposes the classic deadline tunables.
func (p *policy) Attrs() []sched.Attr {
	return []sched.Attr{
		p.expireAttr("read_expire", dRead),
		p.expireAttr("write_expire", dWrite),
		{
			Name: "fifo_batch",
			Show: func() string { return strconv.Itoa(p.fifoBatch) },
			Store: func(v string) error {
				n, err := strconv.Atoi(v)
				if err != nil || n < 1 {
					return fmt.Errorf("fifo_batch: invalid value %q", v)
				}
				p.fifoBatch = n
				return nil
			},
		},
		{
			Name: "writes_starved",
			Show: func() string { return strconv.Itoa(p.writesStarved) },
			Store: func(v string) error {
				n, err := strconv.Atoi(v)
				if err != nil || n < 0 {
					return fmt.Errorf("writes_starved: invalid value %q", v)
				}
				p.writesStarved = n
				return nil
			},
		},
	}
}

// expireAttr builds a millisecond-valued expiry attribute for one direction.
func (p *policy) expireAttr(name string, dir int) sched.Attr {
	return sched.Attr{
		Name: name,
		Show: func() string {
			return strconv.FormatInt(p.fifoExpire[dir].Milliseconds(), 10)
		},
		Store: func(v string) error {
			ms, err := strconv.Atoi(v)
			if err != nil || ms < 0 {
				return fmt.Errorf("%s: invalid value %q", name, v)
			}
			p.fifoExpire[dir] = time.Duration(ms) * time.Millisecond
			return nil
		},
	}
}

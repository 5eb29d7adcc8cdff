package deadline_test

import (
	"testing"

	"blksched/internal/sched"

	_ "blksched/internal/policy/deadline"
)

func newQueue(t *testing.T) *sched.Queue {
	t.Helper()
	q, err := sched.NewQueue(sched.QueueConfig{
		Name:   t.Name(),
		Policy: "deadline",
	})
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	t.Cleanup(q.Close)
	return q
}

func submit(t *testing.T, q *sched.Queue, sector uint64, count uint32, dir sched.Direction) sched.MergeKind {
	t.Helper()
	kind, _ := q.Submit(&sched.Fragment{
		Sector: sector,
		Count:  count,
		Dir:    dir,
	})
	return kind
}

// pull dequeues and completes every releasable request, returning start
// sectors in service order.
func pull(t *testing.T, q *sched.Queue) []uint64 {
	t.Helper()
	var order []uint64
	for {
		rq := q.NextRequest()
		if rq == nil {
			return order
		}
		order = append(order, rq.Sector)
		q.Dequeue(rq)
		q.Complete(rq, nil)
	}
}

func setAttr(t *testing.T, q *sched.Queue, name, value string) {
	t.Helper()
	q.ActivePolicy(func(p sched.Policy) {
		for _, a := range p.(sched.AttrProvider).Attrs() {
			if a.Name == name {
				if err := a.Store(value); err != nil {
					t.Fatalf("Store(%s, %s): %v", name, value, err)
				}
				return
			}
		}
		t.Fatalf("attribute %s not found", name)
	})
}

func TestDispatchAscendingSectorOrder(t *testing.T) {
	q := newQueue(t)

	for _, sector := range []uint64{700, 100, 500, 300, 900} {
		if kind := submit(t, q, sector, 8, sched.DirRead); kind != sched.NoMerge {
			t.Fatalf("sector %d: got merge kind %v, want NoMerge", sector, kind)
		}
	}

	got := pull(t, q)
	want := []uint64{100, 300, 500, 700, 900}
	if len(got) != len(want) {
		t.Fatalf("dispatched %d requests, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got sector %d, want %d", i, got[i], want[i])
		}
	}
}

func TestBatchContinuesSweepAcrossArrivals(t *testing.T) {
	q := newQueue(t)

	submit(t, q, 500, 8, sched.DirRead)
	submit(t, q, 700, 8, sched.DirRead)

	rq := q.NextRequest()
	if rq == nil || rq.Sector != 500 {
		t.Fatalf("first dispatch = %v, want sector 500", rq)
	}
	q.Dequeue(rq)

	// A lower sector arriving mid-batch must not yank the head backwards.
	submit(t, q, 100, 8, sched.DirRead)

	next := q.NextRequest()
	if next == nil || next.Sector != 700 {
		t.Fatalf("mid-batch dispatch sector = %v, want 700 (sweep continuation)", next)
	}
	q.Dequeue(next)
	q.Complete(rq, nil)
	q.Complete(next, nil)

	rest := pull(t, q)
	if len(rest) != 1 || rest[0] != 100 {
		t.Fatalf("remaining dispatch order = %v, want [100]", rest)
	}
}

func TestWritesServedAfterStarvationBound(t *testing.T) {
	q := newQueue(t)
	setAttr(t, q, "writes_starved", "2")
	setAttr(t, q, "fifo_batch", "1")

	submit(t, q, 100, 8, sched.DirWrite)
	submit(t, q, 200, 8, sched.DirRead)
	submit(t, q, 300, 8, sched.DirRead)
	submit(t, q, 400, 8, sched.DirRead)

	var dirs []sched.Direction
	for {
		rq := q.NextRequest()
		if rq == nil {
			break
		}
		dirs = append(dirs, rq.Dir)
		q.Dequeue(rq)
		q.Complete(rq, nil)
	}

	if len(dirs) != 4 {
		t.Fatalf("dispatched %d requests, want 4", len(dirs))
	}
	// Two read turns, then the starved write gets a slot.
	want := []sched.Direction{sched.DirRead, sched.DirRead, sched.DirWrite, sched.DirRead}
	for i := range want {
		if dirs[i] != want[i] {
			t.Fatalf("service order %v, want %v", dirs, want)
		}
	}
}

func TestExpiredDeadlineRestartsAtFIFOHead(t *testing.T) {
	q := newQueue(t)
	setAttr(t, q, "read_expire", "0")
	setAttr(t, q, "fifo_batch", "1")

	// With a zero expiry every request is overdue immediately, so service
	// follows arrival order instead of the sector sweep.
	submit(t, q, 900, 8, sched.DirRead)
	submit(t, q, 100, 8, sched.DirRead)
	submit(t, q, 500, 8, sched.DirRead)

	got := pull(t, q)
	want := []uint64{900, 100, 500}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("service order %v, want %v (FIFO)", got, want)
		}
	}
}

func TestFrontMergeThroughSectorIndex(t *testing.T) {
	q := newQueue(t)

	submit(t, q, 500, 8, sched.DirRead) // becomes the last-merge cache entry
	submit(t, q, 100, 8, sched.DirRead)

	// Ends exactly where the second request starts; only the sector index
	// can find it, the cache points at the request at 500.
	kind, rq := q.Submit(&sched.Fragment{Sector: 92, Count: 8, Dir: sched.DirRead})
	if kind != sched.FrontMerge {
		t.Fatalf("merge kind = %v, want FrontMerge", kind)
	}
	if rq.Sector != 92 || rq.NrSectors != 16 {
		t.Fatalf("merged request spans %d+%d, want 92+16", rq.Sector, rq.NrSectors)
	}

	got := pull(t, q)
	want := []uint64{92, 500}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", got, want)
		}
	}
}

func TestMergeCoalescesAdjacentRequests(t *testing.T) {
	q := newQueue(t)

	submit(t, q, 100, 8, sched.DirRead)
	submit(t, q, 116, 8, sched.DirRead)

	// Fills the gap: back-merges the first request, which then abuts the
	// second and the pair coalesces into one request.
	kind, rq := q.Submit(&sched.Fragment{Sector: 108, Count: 8, Dir: sched.DirRead})
	if kind != sched.BackMerge {
		t.Fatalf("merge kind = %v, want BackMerge", kind)
	}
	if rq.Sector != 100 || rq.NrSectors != 24 {
		t.Fatalf("coalesced request spans %d+%d, want 100+24", rq.Sector, rq.NrSectors)
	}

	stats := q.Stats()
	if stats.NrSorted != 1 {
		t.Errorf("NrSorted = %d after coalesce, want 1", stats.NrSorted)
	}
	if stats.Coalesces != 1 {
		t.Errorf("Coalesces = %d, want 1", stats.Coalesces)
	}

	got := pull(t, q)
	if len(got) != 1 || got[0] != 100 {
		t.Fatalf("dispatch order %v, want [100]", got)
	}
}

func TestAttrs(t *testing.T) {
	q := newQueue(t)

	show := func(name string) string {
		var v string
		q.ActivePolicy(func(p sched.Policy) {
			for _, a := range p.(sched.AttrProvider).Attrs() {
				if a.Name == name {
					v = a.Show()
					return
				}
			}
			t.Fatalf("attribute %s not found", name)
		})
		return v
	}

	defaults := map[string]string{
		"read_expire":    "500",
		"write_expire":   "5000",
		"fifo_batch":     "16",
		"writes_starved": "2",
	}
	for name, want := range defaults {
		if got := show(name); got != want {
			t.Errorf("%s default = %s, want %s", name, got, want)
		}
	}

	setAttr(t, q, "fifo_batch", "32")
	if got := show("fifo_batch"); got != "32" {
		t.Errorf("fifo_batch after store = %s, want 32", got)
	}

	q.ActivePolicy(func(p sched.Policy) {
		for _, a := range p.(sched.AttrProvider).Attrs() {
			if err := a.Store("junk"); err == nil {
				t.Errorf("%s: storing junk succeeded, want error", a.Name)
			}
		}
	})
}

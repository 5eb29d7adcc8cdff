package trace

import (
	"testing"
	"time"

	"blksched/internal/fs"
	"blksched/internal/sched"

	_ "blksched/internal/policy/noop"
)

func useMemFS(t *testing.T) {
	t.Helper()
	fs.SetFS(fs.NewMemMapFs())
	t.Cleanup(fs.ResetFS)
}

func sampleEvents(n int) []sched.Event {
	base := time.Unix(1700000000, 0)
	events := make([]sched.Event, n)
	for i := range events {
		events[i] = sched.Event{
			Time:   base.Add(time.Duration(i) * time.Millisecond),
			Kind:   sched.EventKind(i % int(sched.EvBarrier+1)),
			Queue:  "dev0",
			Device: 0,
			Sector: uint64(i * 8),
			Nr:     8,
			Dir:    sched.Direction(i % 2),
			Error:  i%7 == 0,
		}
	}
	return events
}

func TestCollectorKeepsMostRecent(t *testing.T) {
	c := NewCollector(4)
	for _, ev := range sampleEvents(10) {
		c.Event(ev)
	}

	got := c.Events()
	if len(got) != 4 {
		t.Fatalf("retained %d events, want 4", len(got))
	}
	if c.Dropped() != 6 {
		t.Errorf("Dropped = %d, want 6", c.Dropped())
	}
	// Oldest-first, and only the newest four survive.
	for i, ev := range got {
		want := uint64((6 + i) * 8)
		if ev.Sector != want {
			t.Errorf("event %d sector = %d, want %d", i, ev.Sector, want)
		}
	}

	c.Reset()
	if c.Len() != 0 || c.Dropped() != 0 {
		t.Errorf("after Reset: Len=%d Dropped=%d, want 0/0", c.Len(), c.Dropped())
	}
}

func TestCollectorBelowCapacity(t *testing.T) {
	c := NewCollector(16)
	events := sampleEvents(5)
	for _, ev := range events {
		c.Event(ev)
	}
	got := c.Events()
	if len(got) != 5 {
		t.Fatalf("retained %d events, want 5", len(got))
	}
	for i := range events {
		if got[i].Sector != events[i].Sector {
			t.Errorf("event %d out of order", i)
		}
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	useMemFS(t)

	for _, path := range []string{
		"trace.log",
		"trace.log.gz",
		"trace.log.zst",
	} {
		t.Run(path, func(t *testing.T) {
			events := sampleEvents(50)

			w, err := NewWriter(path)
			if err != nil {
				t.Fatalf("NewWriter: %v", err)
			}
			if err := w.WriteAll(events); err != nil {
				t.Fatalf("WriteAll: %v", err)
			}
			if w.Written() != 50 {
				t.Errorf("Written = %d, want 50", w.Written())
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			got, err := ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if len(got) != len(events) {
				t.Fatalf("decoded %d events, want %d", len(got), len(events))
			}
			for i := range events {
				want, have := events[i], got[i]
				if !have.Time.Equal(want.Time) || have.Kind != want.Kind ||
					have.Queue != want.Queue || have.Device != want.Device ||
					have.Sector != want.Sector || have.Nr != want.Nr ||
					have.Dir != want.Dir || have.Error != want.Error {
					t.Fatalf("event %d: got %+v, want %+v", i, have, want)
				}
			}
		})
	}
}

func TestReadFileRejectsGarbage(t *testing.T) {
	useMemFS(t)

	if err := fs.WriteFile("bad.log", []byte("this is not a trace\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ReadFile("bad.log"); err == nil {
		t.Fatal("decoding garbage succeeded, want error")
	}
}

func TestReadFileMissing(t *testing.T) {
	useMemFS(t)
	if _, err := ReadFile("nope.log"); err == nil {
		t.Fatal("reading missing file succeeded, want error")
	}
}

func TestCollectorFeedsQueue(t *testing.T) {
	c := NewCollector(64)
	q, err := sched.NewQueue(sched.QueueConfig{Name: "traced", Tracer: c})
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	defer q.Close()

	_, rq := q.Submit(&sched.Fragment{Sector: 100, Count: 8})
	if got := q.NextRequest(); got != rq {
		t.Fatalf("NextRequest = %v, want submitted request", got)
	}
	q.Dequeue(rq)
	q.Complete(rq, nil)

	kinds := map[sched.EventKind]bool{}
	for _, ev := range c.Events() {
		kinds[ev.Kind] = true
	}
	for _, want := range []sched.EventKind{sched.EvInsert, sched.EvIssue, sched.EvComplete} {
		if !kinds[want] {
			t.Errorf("missing %s event in trace", want)
		}
	}
}

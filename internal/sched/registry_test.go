package sched

import (
	"container/list"
	"testing"
)

func TestRegisterDuplicatePanics(t *testing.T) {
	Register(&Type{Name: "dup-test", New: newFifoPolicy("dup-test")})
	defer Unregister("dup-test")

	defer func() {
		if recover() == nil {
			t.Fatal("duplicate registration did not panic")
		}
	}()
	Register(&Type{Name: "dup-test", New: newFifoPolicy("dup-test")})
}

func TestRegisterIncompletePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("incomplete registration did not panic")
		}
	}()
	Register(&Type{Name: "incomplete"})
}

func TestLookupAndNames(t *testing.T) {
	Register(&Type{Name: "lookup-test", New: newFifoPolicy("lookup-test")})
	defer Unregister("lookup-test")

	tp, ok := Lookup("lookup-test")
	if !ok || tp.Name != "lookup-test" {
		t.Fatalf("Lookup = (%v, %v)", tp, ok)
	}
	if _, ok := Lookup("absent"); ok {
		t.Fatal("Lookup found an unregistered policy")
	}

	found := false
	for _, name := range Names() {
		if name == "lookup-test" {
			found = true
		}
	}
	if !found {
		t.Fatal("Names does not list the registered policy")
	}
}

func TestUnregisterDetachesProducerAffinity(t *testing.T) {
	Register(&Type{Name: "affinity-test", New: newFifoPolicy("affinity-test")})

	pc := NewProducerContext()
	defer pc.Close()
	pc.SetAffinity("affinity-test", 42)
	pc.SetAffinity("tfifo", "keep")

	Unregister("affinity-test")

	if got := pc.Affinity("affinity-test"); got != nil {
		t.Errorf("affinity for removed policy = %v, want nil", got)
	}
	if got := pc.Affinity("tfifo"); got != "keep" {
		t.Errorf("unrelated affinity = %v, want kept", got)
	}
}

// admitPolicy answers admission from producer affinity.
type admitPolicy struct {
	fifoPolicy
}

func (p *admitPolicy) MayQueue(pc *ProducerContext, dir Direction) MayQueueResult {
	if pc != nil && pc.Affinity(p.name) != nil {
		return MayQueueMust
	}
	if dir == DirWrite {
		return MayQueueNo
	}
	return MayQueueOK
}

func TestMayQueueConsultsPolicy(t *testing.T) {
	Register(&Type{Name: "admit-test", New: func(q *Queue) (Policy, error) {
		p := &admitPolicy{}
		p.q = q
		p.name = "admit-test"
		p.elems = make(map[*Request]*list.Element)
		p.fifo.Init()
		return p, nil
	}})
	defer Unregister("admit-test")

	q := testQueue(t, QueueConfig{Policy: "admit-test"})

	pc := NewProducerContext()
	defer pc.Close()

	if got := q.MayQueue(pc, DirWrite); got != MayQueueNo {
		t.Errorf("MayQueue(write) = %v, want MayQueueNo", got)
	}
	if got := q.MayQueue(pc, DirRead); got != MayQueueOK {
		t.Errorf("MayQueue(read) = %v, want MayQueueOK", got)
	}

	pc.SetAffinity("admit-test", struct{}{})
	if got := q.MayQueue(pc, DirWrite); got != MayQueueMust {
		t.Errorf("MayQueue with affinity = %v, want MayQueueMust", got)
	}
}

func TestMayQueueDefaultsWithoutAdmitter(t *testing.T) {
	q := testQueue(t, QueueConfig{})
	if got := q.MayQueue(nil, DirWrite); got != MayQueueOK {
		t.Errorf("MayQueue = %v, want MayQueueOK", got)
	}
}

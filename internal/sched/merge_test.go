package sched

import "testing"

func dataRequest(sector uint64, nr uint32, dir Direction) *Request {
	return &Request{
		Sector:    sector,
		NrSectors: nr,
		Dir:       dir,
		kind:      KindData,
		fragments: []*Fragment{{Sector: sector, Count: nr, Dir: dir}},
	}
}

func TestTryMerge(t *testing.T) {
	tests := []struct {
		name string
		rq   func() *Request
		frag Fragment
		want MergeKind
	}{
		{
			name: "back merge at exact end",
			rq:   func() *Request { return dataRequest(100, 8, DirRead) },
			frag: Fragment{Sector: 108, Count: 8, Dir: DirRead},
			want: BackMerge,
		},
		{
			name: "front merge at exact start",
			rq:   func() *Request { return dataRequest(100, 8, DirRead) },
			frag: Fragment{Sector: 92, Count: 8, Dir: DirRead},
			want: FrontMerge,
		},
		{
			name: "gap behind",
			rq:   func() *Request { return dataRequest(100, 8, DirRead) },
			frag: Fragment{Sector: 110, Count: 8, Dir: DirRead},
			want: NoMerge,
		},
		{
			name: "gap ahead",
			rq:   func() *Request { return dataRequest(100, 8, DirRead) },
			frag: Fragment{Sector: 90, Count: 8, Dir: DirRead},
			want: NoMerge,
		},
		{
			name: "overlap",
			rq:   func() *Request { return dataRequest(100, 8, DirRead) },
			frag: Fragment{Sector: 104, Count: 8, Dir: DirRead},
			want: NoMerge,
		},
		{
			name: "direction mismatch",
			rq:   func() *Request { return dataRequest(100, 8, DirRead) },
			frag: Fragment{Sector: 108, Count: 8, Dir: DirWrite},
			want: NoMerge,
		},
		{
			name: "device mismatch",
			rq:   func() *Request { return dataRequest(100, 8, DirRead) },
			frag: Fragment{Device: 1, Sector: 108, Count: 8, Dir: DirRead},
			want: NoMerge,
		},
		{
			name: "started request is closed",
			rq: func() *Request {
				rq := dataRequest(100, 8, DirRead)
				rq.started = true
				return rq
			},
			frag: Fragment{Sector: 108, Count: 8, Dir: DirRead},
			want: NoMerge,
		},
		{
			name: "barrier request is closed",
			rq: func() *Request {
				rq := dataRequest(100, 8, DirWrite)
				rq.hardBarrier = true
				return rq
			},
			frag: Fragment{Sector: 108, Count: 8, Dir: DirWrite},
			want: NoMerge,
		},
		{
			name: "prepared request is closed",
			rq: func() *Request {
				rq := dataRequest(100, 8, DirRead)
				rq.driverPrivate = 7
				return rq
			},
			frag: Fragment{Sector: 108, Count: 8, Dir: DirRead},
			want: NoMerge,
		},
		{
			name: "flush request never merges",
			rq: func() *Request {
				rq := dataRequest(100, 8, DirWrite)
				rq.kind = KindFlush
				return rq
			},
			frag: Fragment{Sector: 108, Count: 8, Dir: DirWrite},
			want: NoMerge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TryMerge(tt.rq(), &tt.frag); got != tt.want {
				t.Errorf("TryMerge = %v, want %v", got, tt.want)
			}
		})
	}
}

// A fragment that both continues one request's tail and precedes another's
// head must back-merge: the tail wins the tie-break.
func TestTryMergeTieBreak(t *testing.T) {
	rq := dataRequest(100, 8, DirRead)
	frag := &Fragment{Sector: 108, Count: 8, Dir: DirRead}
	if got := TryMerge(rq, frag); got != BackMerge {
		t.Fatalf("TryMerge = %v, want BackMerge", got)
	}
	other := dataRequest(116, 8, DirRead)
	if got := TryMerge(other, frag); got != FrontMerge {
		t.Fatalf("TryMerge on latter request = %v, want FrontMerge", got)
	}
}

func TestBackMergeGrowsTail(t *testing.T) {
	rq := dataRequest(100, 8, DirRead)
	rq.backMerge(&Fragment{Sector: 108, Count: 8, Dir: DirRead})
	if rq.Sector != 100 || rq.NrSectors != 16 {
		t.Fatalf("after back merge: %d+%d, want 100+16", rq.Sector, rq.NrSectors)
	}
	if len(rq.fragments) != 2 {
		t.Fatalf("fragments = %d, want 2", len(rq.fragments))
	}
}

func TestFrontMergeMovesHead(t *testing.T) {
	rq := dataRequest(100, 8, DirRead)
	rq.frontMerge(&Fragment{Sector: 92, Count: 8, Dir: DirRead})
	if rq.Sector != 92 || rq.NrSectors != 16 {
		t.Fatalf("after front merge: %d+%d, want 92+16", rq.Sector, rq.NrSectors)
	}
	if rq.fragments[0].Sector != 92 {
		t.Fatalf("fragments not in transfer order: head at %d", rq.fragments[0].Sector)
	}
}

func TestContiguous(t *testing.T) {
	a := dataRequest(100, 8, DirRead)
	b := dataRequest(108, 8, DirRead)
	if !contiguous(a, b) {
		t.Error("adjacent requests not contiguous")
	}
	if contiguous(b, a) {
		t.Error("contiguity is not symmetric")
	}
	if contiguous(a, a) {
		t.Error("request contiguous with itself")
	}
	c := dataRequest(108, 8, DirWrite)
	if contiguous(a, c) {
		t.Error("cross-direction requests contiguous")
	}
}

package simdev

import (
	"math/rand"

	"blksched/internal/sched"
)

// Pattern selects how workload sectors are laid out.
type Pattern string

const (
	// PatternSequential issues ascending adjacent extents.
	PatternSequential Pattern = "sequential"
	// PatternRandom issues uniformly random extents.
	PatternRandom Pattern = "random"
	// PatternMixed interleaves several sequential streams, the shape that
	// benefits most from merging and sorting.
	PatternMixed Pattern = "mixed"
)

// WorkloadConfig shapes a synthetic fragment stream.
type WorkloadConfig struct {
	Device   sched.DeviceID
	Pattern  Pattern
	Requests int
	Seed     int64

	// SpanSectors is the sector range the workload covers.
	SpanSectors uint64

	// FragmentSectors is the length of each fragment.
	FragmentSectors uint32

	// WritePercent is the share of write fragments, 0..100.
	WritePercent int

	// BarrierEvery inserts a write barrier every n fragments. Zero
	// disables barriers.
	BarrierEvery int

	// Streams is the number of interleaved sequential streams for the
	// mixed pattern. Zero selects 4.
	Streams int
}

// GenerateWorkload builds the fragment stream described by cfg. Fragments
// are returned in submission order; Done callbacks are left nil for the
// caller to attach.
func GenerateWorkload(cfg WorkloadConfig) []*sched.Fragment {
	if cfg.Requests <= 0 {
		return nil
	}
	if cfg.SpanSectors == 0 {
		cfg.SpanSectors = 1 << 20
	}
	if cfg.FragmentSectors == 0 {
		cfg.FragmentSectors = 8
	}
	streams := cfg.Streams
	if streams <= 0 {
		streams = 4
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	frag := uint64(cfg.FragmentSectors)
	slots := cfg.SpanSectors / frag
	if slots == 0 {
		slots = 1
	}

	// Per-stream cursors for the mixed pattern, spread across the span.
	cursors := make([]uint64, streams)
	for i := range cursors {
		cursors[i] = (slots / uint64(streams)) * uint64(i) * frag
	}

	out := make([]*sched.Fragment, 0, cfg.Requests)
	for i := 0; i < cfg.Requests; i++ {
		var sector uint64
		switch cfg.Pattern {
		case PatternSequential:
			sector = (uint64(i) % slots) * frag
		case PatternMixed:
			s := i % streams
			sector = cursors[s] % (slots * frag)
			cursors[s] += frag
		default:
			sector = uint64(rng.Int63n(int64(slots))) * frag
		}

		dir := sched.DirRead
		if rng.Intn(100) < cfg.WritePercent {
			dir = sched.DirWrite
		}

		f := &sched.Fragment{
			Device: cfg.Device,
			Sector: sector,
			Count:  cfg.FragmentSectors,
			Dir:    dir,
		}
		if cfg.BarrierEvery > 0 && (i+1)%cfg.BarrierEvery == 0 {
			f.Dir = sched.DirWrite
			f.Barrier = true
		}
		out = append(out, f)
	}
	return out
}

// Package simdev provides a simulated block device consumer: a strategy
// loop that pulls requests from a queue and services them with a simple
// seek-plus-transfer latency model, a bounded tag pool, and optional fault
// injection. It exists to exercise and measure scheduling policies without
// real hardware.
package simdev

import (
	"context"
	"fmt"
	"sync"
	"time"

	"blksched/internal/errors"
	"blksched/internal/logger"
	"blksched/internal/sched"
)

// Config describes the simulated device.
type Config struct {
	Device sched.DeviceID

	// CapacitySectors bounds the addressable range; requests past the end
	// are killed during prepare. Zero means unbounded.
	CapacitySectors uint64

	// Tags is the number of commands the device accepts concurrently.
	// Prepare defers when no tag is free. Zero selects 4.
	Tags int

	// BaseLatency, SeekPerSector and TransferPerSector build the service
	// time: base + seek*|distance from head| + transfer*length.
	BaseLatency       time.Duration
	SeekPerSector     time.Duration
	TransferPerSector time.Duration

	// FlushLatency is the cost of a cache flush.
	FlushLatency time.Duration

	// FailSectors lists start sectors whose requests complete with a
	// media error.
	FailSectors []uint64

	Log logger.Logger
}

// Stats is a snapshot of device-side counters.
type Stats struct {
	Serviced    uint64
	Flushes     uint64
	MediaErrors uint64
	Killed      uint64

	// SeekDistance is the total head movement in sectors, the figure a
	// scheduling policy is trying to minimize.
	SeekDistance uint64
}

// Device is the simulated consumer. Attach it to a queue via Callbacks,
// then Start it.
type Device struct {
	cfg  Config
	q    *sched.Queue
	log  logger.Logger
	fail map[uint64]bool

	mu       sync.Mutex
	freeTags int
	nextTag  int
	headPos  uint64
	stats    Stats

	kick   chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a device from cfg. Attach its Callbacks to the queue config,
// then call Start with the created queue.
func New(cfg Config) *Device {
	if cfg.Tags <= 0 {
		cfg.Tags = 4
	}
	log := cfg.Log
	if log == nil {
		log = logger.NewSilent()
	}
	d := &Device{
		cfg:      cfg,
		log:      log,
		freeTags: cfg.Tags,
		fail:     make(map[uint64]bool, len(cfg.FailSectors)),
		kick:     make(chan struct{}, 1),
	}
	for _, s := range cfg.FailSectors {
		d.fail[s] = true
	}
	return d
}

// Callbacks returns the queue collaborator hooks for this device.
func (d *Device) Callbacks() sched.Callbacks {
	return sched.Callbacks{
		Strategy:   func(*sched.Queue) { d.Kick() },
		Prepare:    d.prepare,
		IssueFlush: d.issueFlush,
	}
}

// Start binds the device to its queue and runs the service loop until Stop.
func (d *Device) Start(q *sched.Queue) {
	ctx, cancel := context.WithCancel(context.Background())
	d.q = q
	d.cancel = cancel
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop terminates the service loop and waits for in-flight commands.
func (d *Device) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Kick wakes the service loop. The queue calls this through the strategy
// callback whenever work may be releasable.
func (d *Device) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// prepare runs under the queue lock: allocate a tag and bind it as the
// device command token. No free tag defers the hand-off; a request past the
// device capacity is killed.
func (d *Device) prepare(rq *sched.Request) sched.PrepResult {
	if rq.DriverPrivate() != nil {
		return sched.PrepReady
	}
	if d.cfg.CapacitySectors > 0 && rq.EndSector() > d.cfg.CapacitySectors {
		d.mu.Lock()
		d.stats.Killed++
		d.mu.Unlock()
		return sched.PrepKill
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.freeTags == 0 {
		return sched.PrepDefer
	}
	d.freeTags--
	d.nextTag++
	rq.BindDriverPrivate(d.nextTag)
	return sched.PrepReady
}

func (d *Device) issueFlush(dev sched.DeviceID) error {
	if d.cfg.FlushLatency > 0 {
		time.Sleep(d.cfg.FlushLatency)
	}
	d.mu.Lock()
	d.stats.Flushes++
	d.mu.Unlock()
	return nil
}

// run is the strategy loop: pull every releasable request, dispatch it to a
// worker, then sleep until kicked again.
func (d *Device) run(ctx context.Context) {
	defer d.wg.Done()
	var workers sync.WaitGroup
	defer workers.Wait()

	for {
		for {
			rq := d.q.NextRequest()
			if rq == nil {
				break
			}
			d.q.Dequeue(rq)
			workers.Add(1)
			go func(rq *sched.Request) {
				defer workers.Done()
				d.service(rq)
			}(rq)
		}

		select {
		case <-ctx.Done():
			return
		case <-d.kick:
		}
	}
}

// service simulates one command: compute the latency from the head model,
// sleep it, release the tag and complete. Flush requests never arrive here;
// the queue services them through the issueFlush callback directly.
func (d *Device) service(rq *sched.Request) {
	d.mu.Lock()
	dist := seekDistance(d.headPos, rq.Sector)
	d.headPos = rq.EndSector()
	d.stats.SeekDistance += dist
	d.mu.Unlock()

	delay := d.cfg.BaseLatency +
		time.Duration(dist)*d.cfg.SeekPerSector +
		time.Duration(rq.NrSectors)*d.cfg.TransferPerSector
	if delay > 0 {
		time.Sleep(delay)
	}

	var opErr error
	d.mu.Lock()
	if d.fail[rq.Sector] {
		d.stats.MediaErrors++
		opErr = errors.NewDeviceError(errors.ErrCodeDeviceError,
			fmt.Sprintf("media error at sector %d", rq.Sector))
	}
	d.stats.Serviced++
	if rq.DriverPrivate() != nil {
		d.freeTags++
	}
	d.mu.Unlock()

	if opErr != nil {
		d.log.Warn("request failed", "device", uint32(rq.Device), "sector", rq.Sector)
	}
	d.q.Complete(rq, opErr)
	// A freed tag may unblock a deferred prepare.
	d.Kick()
}

func seekDistance(from, to uint64) uint64 {
	if to >= from {
		return to - from
	}
	return from - to
}

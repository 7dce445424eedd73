package core

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// Sweep intervals.
const (
	ExpiryInterval  = time.Second
	LimitInterval   = time.Second
	TPSLInterval    = 200 * time.Millisecond
	StopOutInterval = 100 * time.Millisecond
	SwapInterval    = time.Second
)

var ErrStopped = errors.New("engine loop stopped")

type request struct {
	fn   func(*Engine)
	done chan struct{}
}

type loop struct {
	requests chan request
	ticks    chan string
	stopped  chan struct{}
	running  atomic.Bool
}

func newLoop() *loop {
	return &loop{
		requests: make(chan request, 1024),
		ticks:    make(chan string, 4096),
		stopped:  make(chan struct{}),
	}
}

// monitor is a periodic sweep with a re-entrancy guard.
type monitor struct {
	name string
	busy atomic.Bool
	run  func(*Engine) int
}

func (m *monitor) fire(e *Engine) {
	if !m.busy.CompareAndSwap(false, true) {
		if e.metrics != nil {
			e.metrics.MonitorSkipped.WithLabelValues(m.name).Inc()
		}
		return
	}
	defer m.busy.Store(false)

	start := time.Now()
	n := m.run(e)
	if e.metrics != nil {
		e.metrics.MonitorRuns.WithLabelValues(m.name).Inc()
		e.metrics.MonitorDuration.WithLabelValues(m.name).Observe(time.Since(start).Seconds())
	}
	if n > 0 {
		e.log.Debug().Str("monitor", m.name).Int("orders", n).Msg("sweep")
	}
}

// LoopConfig sets the snapshot cadence of Run. Zero disables periodic
// snapshots.
type LoopConfig struct {
	SnapshotInterval time.Duration
}

// Run is the engine loop. It owns the engine until ctx is cancelled, then
// takes a final snapshot and returns.
func (e *Engine) Run(ctx context.Context, cfg LoopConfig) error {
	if !e.loop.running.CompareAndSwap(false, true) {
		return errors.New("engine loop already running")
	}
	defer close(e.loop.stopped)

	expiry := &monitor{name: "expiry", run: (*Engine).SweepExpired}
	limits := &monitor{name: "limit", run: (*Engine).SweepLimits}
	tpsl := &monitor{name: "tpsl", run: (*Engine).SweepTPSL}
	stop := &monitor{name: "stop_out", run: (*Engine).SweepStopOut}
	swap := &monitor{name: "swap", run: func(e *Engine) int {
		now := e.now()
		if !e.SwapDue(now) {
			return 0
		}
		n := e.RunSwap(now)
		e.takeSnapshot("swap")
		return n
	}}

	expiryT := time.NewTicker(ExpiryInterval)
	limitT := time.NewTicker(LimitInterval)
	tpslT := time.NewTicker(TPSLInterval)
	stopT := time.NewTicker(StopOutInterval)
	swapT := time.NewTicker(SwapInterval)
	defer expiryT.Stop()
	defer limitT.Stop()
	defer tpslT.Stop()
	defer stopT.Stop()
	defer swapT.Stop()

	var snapC <-chan time.Time
	if cfg.SnapshotInterval > 0 {
		snapT := time.NewTicker(cfg.SnapshotInterval)
		defer snapT.Stop()
		snapC = snapT.C
	}

	e.log.Info().Msg("engine loop started")
	for {
		select {
		case <-ctx.Done():
			e.drain()
			e.takeSnapshot("shutdown")
			e.log.Info().Msg("engine loop stopped")
			return nil
		case r := <-e.loop.requests:
			r.fn(e)
			close(r.done)
		case sym := <-e.loop.ticks:
			e.MarkDirty(sym)
		case <-expiryT.C:
			expiry.fire(e)
		case <-limitT.C:
			limits.fire(e)
		case <-tpslT.C:
			tpsl.fire(e)
		case <-stopT.C:
			stop.fire(e)
		case <-swapT.C:
			swap.fire(e)
		case <-snapC:
			e.takeSnapshot("periodic")
		}
	}
}

// drain runs requests already queued when the loop is stopping.
func (e *Engine) drain() {
	for {
		select {
		case r := <-e.loop.requests:
			r.fn(e)
			close(r.done)
		default:
			return
		}
	}
}

func (e *Engine) takeSnapshot(reason string) {
	start := time.Now()
	img := e.Snapshot()
	if e.metrics != nil {
		e.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	}
	e.log.Info().Str("reason", reason).Uint64("last_oplog_id", img.LastOplogID).Msg("snapshot queued")
}

// Do runs fn on the engine loop and waits for it to finish.
func (e *Engine) Do(ctx context.Context, fn func(*Engine)) error {
	r := request{fn: fn, done: make(chan struct{})}
	select {
	case e.loop.requests <- r:
	case <-e.loop.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-r.done:
		return nil
	case <-e.loop.stopped:
		// drain may still have run it
		select {
		case <-r.done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick marks symbol dirty from any goroutine. When the queue is full the
// mark is dropped; the symbol's next tick marks it again.
func (e *Engine) Tick(symbol string) {
	select {
	case e.loop.ticks <- symbol:
	default:
	}
}

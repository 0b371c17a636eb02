package control

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/junction.report/internal/config"
	"github.com/banshee-data/junction.report/internal/counts"
	"github.com/banshee-data/junction.report/internal/monitoring"
	"github.com/banshee-data/junction.report/internal/timeutil"
)

// SnapshotReader is the consumer side of the count handoff. Read never
// blocks; Age reports how old the latest snapshot is and whether anything
// has been published at all.
type SnapshotReader interface {
	Read() *counts.CountSnapshot
	Age() (time.Duration, bool)
}

// FallbackSource supplies substitute snapshots while live data is stale.
type FallbackSource interface {
	NextSnapshot() *counts.CountSnapshot
}

// Loop drives the controller at a fixed cadence. It is the controller's
// only caller, so state transitions are strictly sequential.
type Loop struct {
	reader   SnapshotReader
	ctrl     *Controller
	fallback FallbackSource
	cfg      *config.TuningConfig
	clock    timeutil.Clock

	consumers []func(Output)
	latest    atomic.Pointer[Output]
}

// NewLoop wires a loop over the given reader and controller. fallback may
// be nil, in which case stale ticks run on the last known counts.
func NewLoop(reader SnapshotReader, ctrl *Controller, fallback FallbackSource, cfg *config.TuningConfig, clock timeutil.Clock) *Loop {
	return &Loop{
		reader:   reader,
		ctrl:     ctrl,
		fallback: fallback,
		cfg:      cfg,
		clock:    clock,
	}
}

// AddConsumer registers a callback invoked with every tick's output.
// Callbacks run on the loop goroutine; register before Run.
func (l *Loop) AddConsumer(fn func(Output)) {
	l.consumers = append(l.consumers, fn)
}

// Latest returns the most recent tick output, or nil before the first tick.
func (l *Loop) Latest() *Output {
	return l.latest.Load()
}

// Tick runs one controller step against the current bridge contents.
func (l *Loop) Tick() Output {
	snap := l.reader.Read()
	status := snap.Source()

	demand := snap
	dataOK := true
	switch status {
	case counts.SourceNone:
		dataOK = false
	case counts.SourceStale:
		age, ok := l.reader.Age()
		if !ok || age > l.cfg.GetFailsafeThreshold() {
			dataOK = false
		} else if l.fallback != nil {
			demand = l.fallback.NextSnapshot()
		}
	}

	out := l.ctrl.Tick(demand, dataOK)
	// Consumers see the real feed status even when a fallback supplied the
	// demand counts for this tick.
	out.DataSourceStatus = status

	l.latest.Store(&out)
	for _, fn := range l.consumers {
		fn(out)
	}
	return out
}

// Run ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	interval := l.cfg.GetTickInterval()
	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()

	monitoring.Logf("control: loop running every %s", interval)
	l.Tick()

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("control: loop stopped")
			return
		case <-ticker.C():
			l.Tick()
		}
	}
}

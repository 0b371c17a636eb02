// Package bridge hands the latest count snapshot from a producer to the
// control loop.
//
// The handoff is a single atomically swapped reference to an immutable
// snapshot: Publish installs a fully built value, Read returns whatever is
// currently installed. Neither side ever blocks the other, and a reader
// can never observe a partially constructed snapshot. This holds for one
// producer with any number of consumers.
package bridge

import (
	"sync/atomic"
	"time"

	"github.com/banshee-data/junction.report/internal/counts"
	"github.com/banshee-data/junction.report/internal/timeutil"
)

// Bridge is the producer/consumer handoff point for count snapshots.
type Bridge struct {
	latest             atomic.Pointer[counts.CountSnapshot]
	stalenessThreshold time.Duration
	clock              timeutil.Clock
}

// New creates a Bridge. Until the first Publish, Read returns the zero
// snapshot tagged "none".
func New(stalenessThreshold time.Duration, clock timeutil.Clock) *Bridge {
	b := &Bridge{
		stalenessThreshold: stalenessThreshold,
		clock:              clock,
	}
	b.latest.Store(counts.EmptySnapshot())
	return b
}

// Publish installs snap as the latest snapshot. Nil publishes are dropped;
// a producer dying mid-update therefore leaves the previous snapshot
// intact rather than exposing a half-written one.
func (b *Bridge) Publish(snap *counts.CountSnapshot) {
	if snap == nil {
		return
	}
	b.latest.Store(snap)
}

// Read returns the latest published snapshot without blocking the
// publisher. If the snapshot is older than the staleness threshold it is
// returned retagged as stale, so consumers always learn about a silent
// producer from the source tag rather than from an undefined state.
func (b *Bridge) Read() *counts.CountSnapshot {
	snap := b.latest.Load()
	if snap.Source() == counts.SourceNone {
		return snap
	}
	if b.clock.Since(snap.Timestamp()) > b.stalenessThreshold {
		return snap.WithSource(counts.SourceStale)
	}
	return snap
}

// Age returns how long ago the latest snapshot was published, and false if
// nothing has been published yet.
func (b *Bridge) Age() (time.Duration, bool) {
	snap := b.latest.Load()
	if snap.Source() == counts.SourceNone {
		return 0, false
	}
	return b.clock.Since(snap.Timestamp()), true
}

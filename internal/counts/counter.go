package counts

import (
	"sync"
	"time"

	"github.com/banshee-data/junction.report/internal/config"
	"github.com/banshee-data/junction.report/internal/monitoring"
	"github.com/banshee-data/junction.report/internal/timeutil"
	"github.com/banshee-data/junction.report/internal/vclass"
)

// cooldownKey identifies one (track, zone) pairing in the dedup table.
type cooldownKey struct {
	TrackID string
	ZoneID  string
}

// ZoneCounter derives per-zone counts from batches of tracked observations.
//
// A track is counted in a zone when its centroid lies inside the zone
// polygon and the (track, zone) pair has not been counted within the zone's
// cooldown window. A track inside several zones at once is counted in each
// of them. The per-track bookkeeping is pruned once a track has been unseen
// longer than the inactivity timeout, bounding memory under continuous
// operation.
type ZoneCounter struct {
	zones             []config.Zone
	inactivityTimeout time.Duration
	clock             timeutil.Clock

	mu          sync.Mutex
	tallies     map[string]ZoneTally
	lastCounted map[cooldownKey]time.Time
	lastSeen    map[string]time.Time
	lastPrune   time.Time
}

// NewZoneCounter creates a counter over the given validated zones.
func NewZoneCounter(zones []config.Zone, inactivityTimeout time.Duration, clock timeutil.Clock) *ZoneCounter {
	c := &ZoneCounter{
		zones:             zones,
		inactivityTimeout: inactivityTimeout,
		clock:             clock,
		tallies:           make(map[string]ZoneTally, len(zones)),
		lastCounted:       make(map[cooldownKey]time.Time),
		lastSeen:          make(map[string]time.Time),
		lastPrune:         clock.Now(),
	}
	for _, z := range zones {
		c.tallies[z.ID] = ZoneTally{ByClass: map[string]int{}}
	}
	return c
}

// ProcessBatch folds one timestamp's observations into the cumulative zone
// tallies and returns the resulting snapshot. An empty batch is fine: the
// snapshot simply carries the unchanged tallies. A track id appearing more
// than once in the same batch is a tracking anomaly; the duplicates are
// logged and dropped for this batch.
func (c *ZoneCounter) ProcessBatch(observations []TrackedObservation) *CountSnapshot {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	seenThisBatch := make(map[string]bool, len(observations))
	for _, obs := range observations {
		if obs.TrackID == "" {
			monitoring.Logf("zonecounter: dropping observation with empty track id")
			continue
		}
		if seenThisBatch[obs.TrackID] {
			monitoring.Logf("zonecounter: duplicate track %s in batch, ignoring duplicate", obs.TrackID)
			continue
		}
		seenThisBatch[obs.TrackID] = true
		c.lastSeen[obs.TrackID] = now

		class := obs.Class
		if !vclass.IsValid(class) {
			class = vclass.Car
		}

		for _, zone := range c.zones {
			if !zone.Polygon.Contains(obs.Position) {
				continue
			}
			key := cooldownKey{TrackID: obs.TrackID, ZoneID: zone.ID}
			// Recount only strictly after the cooldown window, so
			// consecutive counted timestamps differ by more than the
			// cooldown duration.
			if last, ok := c.lastCounted[key]; ok && now.Sub(last) <= zone.Cooldown {
				continue
			}
			c.lastCounted[key] = now

			tally := c.tallies[zone.ID]
			tally.Total++
			tally.ByClass[class]++
			c.tallies[zone.ID] = tally
		}
	}

	if now.Sub(c.lastPrune) >= c.inactivityTimeout {
		c.pruneLocked(now)
	}

	return NewSnapshot(c.tallies, now, SourceLive)
}

// pruneLocked evicts bookkeeping for tracks unseen longer than the
// inactivity timeout. Caller holds c.mu.
func (c *ZoneCounter) pruneLocked(now time.Time) {
	evicted := 0
	for trackID, seen := range c.lastSeen {
		if now.Sub(seen) < c.inactivityTimeout {
			continue
		}
		delete(c.lastSeen, trackID)
		for key := range c.lastCounted {
			if key.TrackID == trackID {
				delete(c.lastCounted, key)
			}
		}
		evicted++
	}
	c.lastPrune = now
	if evicted > 0 {
		monitoring.Logf("zonecounter: pruned %d inactive tracks (%d live)", evicted, len(c.lastSeen))
	}
}

// Reset zeroes the cumulative tallies. The cooldown table is kept so a
// reset cannot double-count tracks still inside their window.
func (c *ZoneCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.tallies {
		c.tallies[id] = ZoneTally{ByClass: map[string]int{}}
	}
}

// TrackedCount returns the number of tracks currently in the dedup table.
func (c *ZoneCounter) TrackedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lastSeen)
}

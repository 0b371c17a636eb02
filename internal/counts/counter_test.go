package counts

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/junction.report/internal/config"
	"github.com/banshee-data/junction.report/internal/geom"
	"github.com/banshee-data/junction.report/internal/monitoring"
	"github.com/banshee-data/junction.report/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func testZones() []config.Zone {
	return []config.Zone{
		{
			ID:       "zone_a",
			Polygon:  geom.Polygon{Vertices: []geom.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}},
			Cooldown: 2 * time.Second,
		},
		{
			ID:       "zone_b",
			Polygon:  geom.Polygon{Vertices: []geom.Point{{X: 20, Y: 0}, {X: 30, Y: 0}, {X: 30, Y: 10}, {X: 20, Y: 10}}},
			Cooldown: 2 * time.Second,
		},
	}
}

// overlappingZones share the region x in [5,10].
func overlappingZones() []config.Zone {
	return []config.Zone{
		{
			ID:       "left",
			Polygon:  geom.Polygon{Vertices: []geom.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}},
			Cooldown: 2 * time.Second,
		},
		{
			ID:       "right",
			Polygon:  geom.Polygon{Vertices: []geom.Point{{X: 5, Y: 0}, {X: 15, Y: 0}, {X: 15, Y: 10}, {X: 5, Y: 10}}},
			Cooldown: 2 * time.Second,
		},
	}
}

func obs(trackID string, x, y float64) TrackedObservation {
	return TrackedObservation{
		TrackID:    trackID,
		Position:   geom.Point{X: x, Y: y},
		Class:      "car",
		Confidence: 0.9,
	}
}

func TestCountsTrackInZone(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	c := NewZoneCounter(testZones(), 30*time.Second, clock)

	snap := c.ProcessBatch([]TrackedObservation{obs("t1", 5, 5)})

	if got := snap.Total("zone_a"); got != 1 {
		t.Errorf("zone_a total = %d, want 1", got)
	}
	if got := snap.Total("zone_b"); got != 0 {
		t.Errorf("zone_b total = %d, want 0", got)
	}
	if snap.Source() != SourceLive {
		t.Errorf("source = %q, want live", snap.Source())
	}
	if got := snap.Zone("zone_a").ByClass["car"]; got != 1 {
		t.Errorf("zone_a car bucket = %d, want 1", got)
	}
}

// Scenario: a single track observed inside a zone at t=1,2,3 with a 2s
// cooldown increments the count exactly once across the window.
func TestCooldownSuppressesRecount(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1, 0))
	c := NewZoneCounter(testZones(), 30*time.Second, clock)

	for i := 0; i < 3; i++ {
		c.ProcessBatch([]TrackedObservation{obs("t1", 5, 5)})
		clock.Advance(time.Second)
	}

	snap := c.ProcessBatch(nil)
	// Counted at t=1 only: t=2 and t=3 are within the closed 2s window.
	if got := snap.Total("zone_a"); got != 1 {
		t.Errorf("zone_a total = %d, want 1 (single count across the cooldown window)", got)
	}
}

func TestCooldownStrictlyInsideWindow(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	c := NewZoneCounter(testZones(), 30*time.Second, clock)

	c.ProcessBatch([]TrackedObservation{obs("t1", 5, 5)})
	clock.Advance(2 * time.Second)
	snap := c.ProcessBatch([]TrackedObservation{obs("t1", 5, 5)})

	if got := snap.Total("zone_a"); got != 1 {
		t.Errorf("zone_a total = %d, want 1 (exactly 2s is still inside the window)", got)
	}

	clock.Advance(time.Millisecond)
	snap = c.ProcessBatch([]TrackedObservation{obs("t1", 5, 5)})
	if got := snap.Total("zone_a"); got != 2 {
		t.Errorf("zone_a total = %d, want 2 once the cooldown has fully elapsed", got)
	}
}

func TestTrackInOverlappingZonesCountsInBoth(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	c := NewZoneCounter(overlappingZones(), 30*time.Second, clock)

	snap := c.ProcessBatch([]TrackedObservation{obs("t1", 7, 5)})

	if got := snap.Total("left"); got != 1 {
		t.Errorf("left total = %d, want 1", got)
	}
	if got := snap.Total("right"); got != 1 {
		t.Errorf("right total = %d, want 1", got)
	}
}

func TestCountsAreMonotonic(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	c := NewZoneCounter(testZones(), 30*time.Second, clock)

	prev := 0
	for i := 0; i < 20; i++ {
		trackID := fmt.Sprintf("t%d", i%5)
		snap := c.ProcessBatch([]TrackedObservation{obs(trackID, 5, 5)})
		if got := snap.Total("zone_a"); got < prev {
			t.Fatalf("tick %d: count decreased from %d to %d", i, prev, got)
		} else {
			prev = got
		}
		clock.Advance(700 * time.Millisecond)
	}
}

func TestDuplicateTrackInBatchIgnored(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	c := NewZoneCounter(testZones(), 30*time.Second, clock)

	snap := c.ProcessBatch([]TrackedObservation{
		obs("t1", 5, 5),
		obs("t1", 25, 5), // same identity in a different zone: anomaly
	})

	if got := snap.Total("zone_a"); got != 1 {
		t.Errorf("zone_a total = %d, want 1", got)
	}
	if got := snap.Total("zone_b"); got != 0 {
		t.Errorf("zone_b total = %d, want 0 (duplicate dropped)", got)
	}
}

func TestUnknownClassCountsAsCar(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	c := NewZoneCounter(testZones(), 30*time.Second, clock)

	o := obs("t1", 5, 5)
	o.Class = "rickshaw"
	snap := c.ProcessBatch([]TrackedObservation{o})

	if got := snap.Zone("zone_a").ByClass["car"]; got != 1 {
		t.Errorf("car bucket = %d, want 1 (unknown class folds into car)", got)
	}
}

func TestEmptyBatchKeepsTallies(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	c := NewZoneCounter(testZones(), 30*time.Second, clock)

	c.ProcessBatch([]TrackedObservation{obs("t1", 5, 5)})
	before := c.ProcessBatch(nil)
	after := c.ProcessBatch([]TrackedObservation{})

	if diff := cmp.Diff(before.Zones(), after.Zones()); diff != "" {
		t.Errorf("tallies changed across empty batches (-before +after):\n%s", diff)
	}
}

func TestInactiveTracksArePruned(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	c := NewZoneCounter(testZones(), 10*time.Second, clock)

	c.ProcessBatch([]TrackedObservation{obs("t1", 5, 5), obs("t2", 25, 5)})
	if got := c.TrackedCount(); got != 2 {
		t.Fatalf("TrackedCount() = %d, want 2", got)
	}

	// t2 keeps reporting; t1 goes quiet past the inactivity timeout.
	clock.Advance(6 * time.Second)
	c.ProcessBatch([]TrackedObservation{obs("t2", 25, 5)})
	clock.Advance(6 * time.Second)
	c.ProcessBatch([]TrackedObservation{obs("t2", 25, 5)})

	if got := c.TrackedCount(); got != 1 {
		t.Errorf("TrackedCount() = %d, want 1 after pruning t1", got)
	}
}

func TestPrunedTrackCanBeRecounted(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	c := NewZoneCounter(testZones(), 5*time.Second, clock)

	c.ProcessBatch([]TrackedObservation{obs("t1", 5, 5)})
	clock.Advance(10 * time.Second)
	c.ProcessBatch(nil) // triggers prune

	snap := c.ProcessBatch([]TrackedObservation{obs("t1", 5, 5)})
	if got := snap.Total("zone_a"); got != 2 {
		t.Errorf("zone_a total = %d, want 2 (track recounted after prune)", got)
	}
}

func TestReset(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	c := NewZoneCounter(testZones(), 30*time.Second, clock)

	c.ProcessBatch([]TrackedObservation{obs("t1", 5, 5)})
	c.Reset()
	snap := c.ProcessBatch(nil)

	if got := snap.Total("zone_a"); got != 0 {
		t.Errorf("zone_a total = %d, want 0 after reset", got)
	}

	// The cooldown table survives a reset: t1 is still inside its window.
	snap = c.ProcessBatch([]TrackedObservation{obs("t1", 5, 5)})
	if got := snap.Total("zone_a"); got != 0 {
		t.Errorf("zone_a total = %d, want 0 (cooldown survives reset)", got)
	}
}

func TestSnapshotImmutability(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	c := NewZoneCounter(testZones(), 30*time.Second, clock)

	first := c.ProcessBatch([]TrackedObservation{obs("t1", 5, 5)})
	want := first.Zones()

	clock.Advance(3 * time.Second)
	c.ProcessBatch([]TrackedObservation{obs("t1", 5, 5), obs("t2", 5, 5)})

	if diff := cmp.Diff(want, first.Zones()); diff != "" {
		t.Errorf("earlier snapshot mutated by later batch (-want +got):\n%s", diff)
	}
}

package control

import (
	"context"
	"testing"
	"time"

	"github.com/banshee-data/junction.report/internal/bridge"
	"github.com/banshee-data/junction.report/internal/config"
	"github.com/banshee-data/junction.report/internal/counts"
	"github.com/banshee-data/junction.report/internal/synthetic"
	"github.com/banshee-data/junction.report/internal/timeutil"
)

// loopFixture wires a real bridge, controller and synthetic fallback around
// a mock clock.
type loopFixture struct {
	clock  *timeutil.MockClock
	bridge *bridge.Bridge
	ctrl   *Controller
	loop   *Loop
	cfg    *config.TuningConfig
}

func newLoopFixture(t *testing.T) *loopFixture {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	cfg := config.DefaultTuningConfig()

	ic := &config.Intersection{
		Phases: []config.Phase{
			{ID: "phase_a", ZoneIDs: []string{"zone_a"}, MinGreen: 2 * time.Second, MaxGreen: 8 * time.Second},
			{ID: "phase_b", ZoneIDs: []string{"zone_b"}, MinGreen: 2 * time.Second, MaxGreen: 8 * time.Second},
		},
		ClearingDuration: time.Second,
	}

	br := bridge.New(cfg.GetStalenessThreshold(), clock)
	ctrl := NewController(ic, cfg, clock)
	ctrl.StrictInvariants = true
	fallback := synthetic.NewGenerator([]string{"zone_a", "zone_b"}, cfg.GetMockInterval(), cfg.GetMockSeed(), clock)

	return &loopFixture{
		clock:  clock,
		bridge: br,
		ctrl:   ctrl,
		loop:   NewLoop(br, ctrl, fallback, cfg, clock),
		cfg:    cfg,
	}
}

func (f *loopFixture) publishLive(totals map[string]int) {
	f.bridge.Publish(carSnap(f.clock.Now(), totals))
}

func TestLoopReportsNoDataBeforeFirstPublish(t *testing.T) {
	f := newLoopFixture(t)

	out := f.loop.Tick()
	if out.DataSourceStatus != counts.SourceNone {
		t.Errorf("status = %q, want %q", out.DataSourceStatus, counts.SourceNone)
	}
	if out.ActiveState != FailsafeStateID {
		t.Errorf("state before any data = %q, want %q", out.ActiveState, FailsafeStateID)
	}
}

// TestLoopFallsBackWhenFeedGoesStale covers the handover around a producer
// that stops publishing: last publish at t=5s, staleness threshold 5s, so
// from t=10s the output must report "stale" while the controller keeps
// running on synthetic fallback counts.
func TestLoopFallsBackWhenFeedGoesStale(t *testing.T) {
	f := newLoopFixture(t)
	start := f.clock.Now()

	// Live feed for the first five seconds.
	for i := 0; i < 10; i++ {
		f.publishLive(map[string]int{"zone_a": i * 2, "zone_b": i})
		f.loop.Tick()
		f.clock.Advance(500 * time.Millisecond)
	}

	// Producer goes silent. At t=10s the last snapshot is 5s old, which is
	// exactly at the threshold, so one more instant tips it over.
	f.clock.Set(start.Add(10*time.Second + time.Millisecond))
	out := f.loop.Tick()
	if out.DataSourceStatus != counts.SourceStale {
		t.Fatalf("status at t=10s = %q, want %q", out.DataSourceStatus, counts.SourceStale)
	}
	if out.ActiveState == FailsafeStateID {
		t.Error("controller dropped to all-red while fallback data was available")
	}
}

func TestLoopFailsafeBeyondFailsafeThreshold(t *testing.T) {
	f := newLoopFixture(t)

	f.publishLive(map[string]int{"zone_a": 4, "zone_b": 1})
	f.loop.Tick()

	// Past the stricter threshold even the fallback is abandoned.
	f.clock.Advance(f.cfg.GetFailsafeThreshold() + time.Second)
	out := f.loop.Tick()
	if out.DataSourceStatus != counts.SourceStale {
		t.Fatalf("status = %q, want %q", out.DataSourceStatus, counts.SourceStale)
	}
	if out.ActiveState != FailsafeStateID {
		t.Errorf("state = %q, want %q", out.ActiveState, FailsafeStateID)
	}

	// Fresh data brings it back.
	f.publishLive(map[string]int{"zone_a": 5, "zone_b": 1})
	out = f.loop.Tick()
	if out.DataSourceStatus != counts.SourceLive {
		t.Errorf("status after recovery = %q, want %q", out.DataSourceStatus, counts.SourceLive)
	}
	if !out.IsInterstitial {
		t.Errorf("state after recovery = %q, want clearing", out.ActiveState)
	}
}

func TestLoopWithoutFallbackRunsOnLastCounts(t *testing.T) {
	f := newLoopFixture(t)
	f.loop.fallback = nil

	f.publishLive(map[string]int{"zone_a": 4, "zone_b": 1})
	f.loop.Tick()

	f.clock.Advance(f.cfg.GetStalenessThreshold() + time.Second)
	out := f.loop.Tick()
	if out.DataSourceStatus != counts.SourceStale {
		t.Fatalf("status = %q, want %q", out.DataSourceStatus, counts.SourceStale)
	}
	if out.ActiveState == FailsafeStateID {
		t.Error("within failsafe threshold the last known counts should keep the controller running")
	}
	if out.PerZoneCounts["zone_a"].Total != 4 {
		t.Errorf("zone_a count = %d, want last published 4", out.PerZoneCounts["zone_a"].Total)
	}
}

func TestLoopLatestAndConsumers(t *testing.T) {
	f := newLoopFixture(t)

	if f.loop.Latest() != nil {
		t.Fatal("Latest non-nil before first tick")
	}

	var seen []Output
	f.loop.AddConsumer(func(out Output) { seen = append(seen, out) })

	f.publishLive(map[string]int{"zone_a": 3, "zone_b": 0})
	out := f.loop.Tick()

	if len(seen) != 1 {
		t.Fatalf("consumer called %d times, want 1", len(seen))
	}
	if got := f.loop.Latest(); got == nil || got.ActiveState != out.ActiveState {
		t.Errorf("Latest = %+v, want tick output %+v", got, out)
	}
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	f := newLoopFixture(t)
	f.publishLive(map[string]int{"zone_a": 3, "zone_b": 0})

	outputs := make(chan Output, 16)
	f.loop.AddConsumer(func(out Output) { outputs <- out })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.loop.Run(ctx)
		close(done)
	}()

	// Run ticks once on startup.
	select {
	case <-outputs:
	case <-time.After(2 * time.Second):
		t.Fatal("no output from startup tick")
	}

	f.clock.Advance(f.cfg.GetTickInterval())
	select {
	case <-outputs:
	case <-time.After(2 * time.Second):
		t.Fatal("no output after one tick interval")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return on cancel")
	}
}

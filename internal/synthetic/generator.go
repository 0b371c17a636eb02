// Package synthetic produces plausible zone count snapshots without a
// tracker.
//
// The generator layers a smooth time-of-day-like baseline with Poisson
// arrival noise and occasional burst events per zone. It is fully seeded,
// so a fixed seed replays the exact same count sequence for regression
// tests, while still exercising the controller's demand-driven phase
// selection. It shares the snapshot contract with the live counter and
// depends on neither the counter nor the tracker.
package synthetic

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/junction.report/internal/counts"
	"github.com/banshee-data/junction.report/internal/monitoring"
	"github.com/banshee-data/junction.report/internal/timeutil"
	"github.com/banshee-data/junction.report/internal/vclass"
)

// Tuning constants for the arrival process. The compressed "day" keeps a
// full demand cycle visible within a short bench run.
const (
	baselinePeriod   = 10 * time.Minute // one full demand cycle
	baselineMeanRate = 1.5              // mean arrivals per zone per tick
	baselineSwing    = 0.8              // fraction of mean swung by the cycle
	burstProbability = 0.05             // chance of a burst per zone per tick
	burstMeanSize    = 6.0              // mean extra arrivals in a burst
	maxPerTick       = 12               // clamp on arrivals per zone per tick
)

// classMix is the cumulative class distribution of synthetic arrivals.
var classMix = []struct {
	class string
	cum   float64
}{
	{vclass.Car, 0.70},
	{vclass.Motorcycle, 0.80},
	{vclass.Truck, 0.92},
	{vclass.Bus, 1.00},
}

// Generator synthesizes cumulative zone counts on a fixed interval.
type Generator struct {
	zoneIDs  []string
	interval time.Duration
	clock    timeutil.Clock

	rng     *rand.Rand
	arrival distuv.Poisson
	burst   distuv.Poisson

	tick    uint64
	tallies map[string]counts.ZoneTally
}

// NewGenerator creates a seeded generator for the given zone ids.
func NewGenerator(zoneIDs []string, interval time.Duration, seed int64, clock timeutil.Clock) *Generator {
	src := rand.NewPCG(uint64(seed), uint64(seed)+1)
	rng := rand.New(src)

	tallies := make(map[string]counts.ZoneTally, len(zoneIDs))
	for _, id := range zoneIDs {
		tallies[id] = counts.ZoneTally{ByClass: map[string]int{}}
	}

	return &Generator{
		zoneIDs:  zoneIDs,
		interval: interval,
		clock:    clock,
		rng:      rng,
		arrival:  distuv.Poisson{Lambda: baselineMeanRate, Src: src},
		burst:    distuv.Poisson{Lambda: burstMeanSize, Src: src},
		tallies:  tallies,
	}
}

// NextSnapshot advances the arrival process one tick and returns the
// resulting cumulative snapshot. The sequence depends only on the seed and
// the number of ticks taken, not on wall time.
func (g *Generator) NextSnapshot() *counts.CountSnapshot {
	elapsed := time.Duration(g.tick) * g.interval
	cyclePos := float64(elapsed%baselinePeriod) / float64(baselinePeriod)
	g.tick++

	for i, id := range g.zoneIDs {
		// Offset each zone a quarter-cycle so demand rotates around the
		// junction instead of rising and falling in lockstep.
		offset := float64(i) / float64(len(g.zoneIDs))
		phase := 2 * math.Pi * (cyclePos + offset)

		lambda := baselineMeanRate * (1 + baselineSwing*math.Sin(phase))
		if lambda < 0.05 {
			lambda = 0.05
		}
		g.arrival.Lambda = lambda

		arrivals := int(g.arrival.Rand())
		if g.rng.Float64() < burstProbability {
			arrivals += int(g.burst.Rand())
		}
		if arrivals > maxPerTick {
			arrivals = maxPerTick
		}

		tally := g.tallies[id]
		for n := 0; n < arrivals; n++ {
			tally.Total++
			tally.ByClass[g.sampleClass()]++
		}
		g.tallies[id] = tally
	}

	return counts.NewSnapshot(g.tallies, g.clock.Now(), counts.SourceMock)
}

func (g *Generator) sampleClass() string {
	u := g.rng.Float64()
	for _, entry := range classMix {
		if u <= entry.cum {
			return entry.class
		}
	}
	return vclass.Car
}

// Run publishes a snapshot every interval until ctx is cancelled.
func (g *Generator) Run(ctx context.Context, pub counts.Publisher) {
	ticker := g.clock.NewTicker(g.interval)
	defer ticker.Stop()

	monitoring.Logf("synthetic: generating counts for %d zones every %s", len(g.zoneIDs), g.interval)
	pub.Publish(g.NextSnapshot())

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("synthetic: stopping after %d ticks", g.tick)
			return
		case <-ticker.C():
			pub.Publish(g.NextSnapshot())
		}
	}
}

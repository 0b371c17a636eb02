// Package control implements the adaptive phase state machine and the
// fixed-cadence loop that drives it.
//
// The controller is a tagged-variant state machine: at any instant it is in
// exactly one of a green state (one per configured phase), the shared
// clearing interstitial, or the all-red fail-safe. All state mutation
// happens on Tick, which the loop calls from a single goroutine.
package control

import (
	"fmt"
	"time"

	"github.com/banshee-data/junction.report/internal/config"
	"github.com/banshee-data/junction.report/internal/counts"
	"github.com/banshee-data/junction.report/internal/monitoring"
	"github.com/banshee-data/junction.report/internal/timeutil"
)

// StateKind discriminates the controller's state variants.
type StateKind int

const (
	// StateGreen serves one configured phase.
	StateGreen StateKind = iota
	// StateClearing is the interstitial between two greens. No movement is
	// permitted while it runs.
	StateClearing
	// StateFailsafe is the all-red state entered when count data is unusable
	// or an internal invariant breaks.
	StateFailsafe
)

// Names used for the non-phase states in controller output.
const (
	ClearingStateID = "clearing"
	FailsafeStateID = "all_red"
)

// Output is the per-tick decision handed to rendering and hardware
// consumers. ActiveState is a phase id, "clearing", or "all_red".
type Output struct {
	ActiveState      string                      `json:"active_state"`
	SecondsRemaining float64                     `json:"seconds_remaining"`
	IsInterstitial   bool                        `json:"is_interstitial"`
	PerZoneCounts    map[string]counts.ZoneTally `json:"per_zone_counts"`
	DataSourceStatus counts.SourceTag            `json:"data_source_status"`
	LastServed       map[string]time.Time        `json:"last_served"`
}

// Transition describes one state change, for the event log.
type Transition struct {
	From   string
	To     string
	At     time.Time
	Demand map[string]float64
	Source counts.SourceTag
}

// Controller owns the phase state machine. It is not safe for concurrent
// use; the control loop is its single caller.
type Controller struct {
	phases   []config.Phase
	clearing time.Duration
	cfg      *config.TuningConfig
	clock    timeutil.Clock

	// StrictInvariants makes invariant violations panic instead of
	// degrading to fail-safe. Tests set it; production leaves it false.
	StrictInvariants bool

	// OnTransition, if set, is called synchronously for every state change.
	OnTransition func(Transition)

	kind       StateKind
	active     int // phase index, valid in StateGreen
	pending    int // phase index, valid in StateClearing
	stateStart time.Time

	lastServed []time.Time
	// servedBase is the weighted score of each phase's zones at the moment
	// its green last ended. Counts are cumulative, so demand is measured
	// against this baseline rather than the raw totals.
	servedBase []float64
}

// NewController creates a controller in the all-red fail-safe state. It
// leaves fail-safe on the first tick that carries usable count data.
func NewController(ic *config.Intersection, cfg *config.TuningConfig, clock timeutil.Clock) *Controller {
	now := clock.Now()
	served := make([]time.Time, len(ic.Phases))
	for i := range served {
		served[i] = now
	}
	return &Controller{
		phases:     ic.Phases,
		clearing:   ic.ClearingDuration,
		cfg:        cfg,
		clock:      clock,
		kind:       StateFailsafe,
		stateStart: now,
		lastServed: served,
		servedBase: make([]float64, len(ic.Phases)),
	}
}

// Tick advances the state machine one step. snap supplies the demand
// counts. dataOK reports whether usable data is available at all: when
// false the controller enters or stays in fail-safe regardless of demand.
func (c *Controller) Tick(snap *counts.CountSnapshot, dataOK bool) Output {
	now := c.clock.Now()

	if err := c.checkInvariants(now); err != nil {
		if c.StrictInvariants {
			panic(err)
		}
		// State is not trustworthy here, so bypass enter and force the
		// fields directly.
		monitoring.Logf("control: %v, entering fail-safe", err)
		c.kind = StateFailsafe
		c.stateStart = now
	}

	if !dataOK && c.kind != StateFailsafe {
		monitoring.Logf("control: count data unusable, entering fail-safe")
		c.enter(StateFailsafe, 0, now, snap)
	}

	switch c.kind {
	case StateFailsafe:
		if dataOK {
			next := c.selectPhase(snap, now, -1)
			c.enter(StateClearing, next, now, snap)
		}
	case StateClearing:
		if now.Sub(c.stateStart) >= c.clearing {
			c.enter(StateGreen, c.pending, now, snap)
		}
	case StateGreen:
		c.tickGreen(snap, now)
	}

	return c.output(snap, now)
}

func (c *Controller) tickGreen(snap *counts.CountSnapshot, now time.Time) {
	phase := c.phases[c.active]
	elapsed := now.Sub(c.stateStart)

	if elapsed < phase.MinGreen {
		return
	}

	if elapsed >= phase.MaxGreen {
		// Fairness bound: leave unconditionally, current phase excluded.
		next := c.selectPhase(snap, now, c.active)
		c.endGreen(snap, now)
		c.enter(StateClearing, next, now, snap)
		return
	}

	// Between min and max green the phase holds unless a starved phase
	// demands service or another phase out-scores it.
	if starved := c.starvedPhaseExcluding(now, c.active); starved >= 0 {
		c.endGreen(snap, now)
		c.enter(StateClearing, starved, now, snap)
		return
	}

	next := c.selectPhase(snap, now, -1)
	if next != c.active && c.demandScore(snap, next) > c.demandScore(snap, c.active) {
		c.endGreen(snap, now)
		c.enter(StateClearing, next, now, snap)
	}
}

// endGreen marks the active phase served and rebases its demand to zero.
func (c *Controller) endGreen(snap *counts.CountSnapshot, now time.Time) {
	c.lastServed[c.active] = now
	c.servedBase[c.active] = c.rawScore(snap, c.active)
}

func (c *Controller) enter(kind StateKind, phase int, now time.Time, snap *counts.CountSnapshot) {
	from := c.stateID()
	c.kind = kind
	c.stateStart = now
	switch kind {
	case StateGreen:
		c.active = phase
	case StateClearing:
		c.pending = phase
	}

	to := c.stateID()
	if from == to {
		return
	}
	monitoring.Logf("control: %s -> %s", from, to)
	if c.OnTransition != nil {
		c.OnTransition(Transition{
			From:   from,
			To:     to,
			At:     now,
			Demand: c.demandByPhase(snap),
			Source: snap.Source(),
		})
	}
}

// selectPhase returns the index of the phase to serve next: a starved phase
// if one exists, otherwise the highest-demand phase, ties broken by longest
// time since served. exclude is a phase index to skip, or -1.
func (c *Controller) selectPhase(snap *counts.CountSnapshot, now time.Time, exclude int) int {
	if starved := c.starvedPhaseExcluding(now, exclude); starved >= 0 {
		return starved
	}

	best := -1
	var bestScore float64
	for i := range c.phases {
		if i == exclude {
			continue
		}
		score := c.demandScore(snap, i)
		switch {
		case best < 0:
			best, bestScore = i, score
		case score > bestScore:
			best, bestScore = i, score
		case score == bestScore && c.lastServed[i].Before(c.lastServed[best]):
			best = i
		}
	}
	return best
}

// starvedPhaseExcluding returns the longest-unserved phase past the
// starvation threshold, or -1 if none qualifies.
func (c *Controller) starvedPhaseExcluding(now time.Time, exclude int) int {
	threshold := c.cfg.GetStarvationThreshold()
	starved := -1
	for i := range c.phases {
		if i == exclude {
			continue
		}
		if now.Sub(c.lastServed[i]) <= threshold {
			continue
		}
		if starved < 0 || c.lastServed[i].Before(c.lastServed[starved]) {
			starved = i
		}
	}
	return starved
}

// rawScore is the weighted cumulative count of a phase's zones.
func (c *Controller) rawScore(snap *counts.CountSnapshot, phase int) float64 {
	var score float64
	for _, zoneID := range c.phases[phase].ZoneIDs {
		tally := snap.Zone(zoneID)
		for class, n := range tally.ByClass {
			score += float64(n) * c.cfg.GetClassWeight(class)
		}
	}
	return score
}

// demandScore is the weighted count accumulated since the phase was last
// served. A counter reset can drop raw scores below the stored baseline;
// the baseline follows the counts down so demand never goes negative.
func (c *Controller) demandScore(snap *counts.CountSnapshot, phase int) float64 {
	raw := c.rawScore(snap, phase)
	if raw < c.servedBase[phase] {
		c.servedBase[phase] = raw
	}
	return raw - c.servedBase[phase]
}

func (c *Controller) demandByPhase(snap *counts.CountSnapshot) map[string]float64 {
	out := make(map[string]float64, len(c.phases))
	for i, p := range c.phases {
		out[p.ID] = c.demandScore(snap, i)
	}
	return out
}

func (c *Controller) stateID() string {
	switch c.kind {
	case StateGreen:
		return c.phases[c.active].ID
	case StateClearing:
		return ClearingStateID
	default:
		return FailsafeStateID
	}
}

// State returns the current state kind and, for green and clearing, the
// phase it concerns.
func (c *Controller) State() (StateKind, string) {
	switch c.kind {
	case StateGreen:
		return c.kind, c.phases[c.active].ID
	case StateClearing:
		return c.kind, c.phases[c.pending].ID
	default:
		return c.kind, ""
	}
}

func (c *Controller) checkInvariants(now time.Time) error {
	switch c.kind {
	case StateGreen:
		if c.active < 0 || c.active >= len(c.phases) {
			return fmt.Errorf("invariant violation: green with phase index %d of %d", c.active, len(c.phases))
		}
	case StateClearing:
		if c.pending < 0 || c.pending >= len(c.phases) {
			return fmt.Errorf("invariant violation: clearing with pending index %d of %d", c.pending, len(c.phases))
		}
	case StateFailsafe:
	default:
		return fmt.Errorf("invariant violation: unknown state kind %d", c.kind)
	}
	if c.stateStart.After(now) {
		return fmt.Errorf("invariant violation: state start %v is in the future", c.stateStart)
	}
	return nil
}

func (c *Controller) output(snap *counts.CountSnapshot, now time.Time) Output {
	elapsed := now.Sub(c.stateStart)

	var remaining time.Duration
	switch c.kind {
	case StateGreen:
		remaining = c.phases[c.active].MaxGreen - elapsed
	case StateClearing:
		remaining = c.clearing - elapsed
	}
	if remaining < 0 {
		remaining = 0
	}

	served := make(map[string]time.Time, len(c.phases))
	for i, p := range c.phases {
		served[p.ID] = c.lastServed[i]
	}

	return Output{
		ActiveState:      c.stateID(),
		SecondsRemaining: remaining.Seconds(),
		IsInterstitial:   c.kind == StateClearing,
		PerZoneCounts:    snap.Zones(),
		DataSourceStatus: snap.Source(),
		LastServed:       served,
	}
}

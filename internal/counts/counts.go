// Package counts turns tracked-object observations into stable per-zone
// vehicle counts.
//
// The package defines the count snapshot contract shared by the live
// ZoneCounter and the synthetic generator: both produce immutable
// CountSnapshot values and hand them to a Publisher, so the control side
// is agnostic to where counts come from.
package counts

import (
	"time"

	"github.com/banshee-data/junction.report/internal/geom"
)

// SourceTag identifies where a snapshot's counts came from.
type SourceTag string

const (
	// SourceLive marks counts derived from the external tracker feed.
	SourceLive SourceTag = "live"
	// SourceMock marks counts from the synthetic generator.
	SourceMock SourceTag = "mock"
	// SourceStale marks a snapshot whose age exceeds the staleness threshold.
	SourceStale SourceTag = "stale"
	// SourceNone marks the zero snapshot returned before any publish.
	SourceNone SourceTag = "none"
)

// TrackedObservation is one tracker output record: a persistent identity at
// a position with a class label. Supplied by the external detection/tracking
// collaborator; not owned by this package.
type TrackedObservation struct {
	TrackID    string     `json:"track_id"`
	Position   geom.Point `json:"position"`
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ZoneTally is the count state of one zone at one instant.
type ZoneTally struct {
	Total   int            `json:"total"`
	ByClass map[string]int `json:"by_class"`
}

// CountSnapshot is an immutable set of per-zone counts at one instant.
// Once constructed it is never mutated; publishers install a fresh snapshot
// for every update so readers can never observe a half-written one.
type CountSnapshot struct {
	zones     map[string]ZoneTally
	timestamp time.Time
	source    SourceTag
}

// NewSnapshot builds a snapshot from a zone tally map. The map and its
// class buckets are deep-copied so later mutation by the caller cannot
// leak into the published value.
func NewSnapshot(zones map[string]ZoneTally, ts time.Time, source SourceTag) *CountSnapshot {
	copied := make(map[string]ZoneTally, len(zones))
	for id, tally := range zones {
		byClass := make(map[string]int, len(tally.ByClass))
		for class, n := range tally.ByClass {
			byClass[class] = n
		}
		copied[id] = ZoneTally{Total: tally.Total, ByClass: byClass}
	}
	return &CountSnapshot{zones: copied, timestamp: ts, source: source}
}

// EmptySnapshot returns the zero snapshot used before any source has
// published.
func EmptySnapshot() *CountSnapshot {
	return &CountSnapshot{zones: map[string]ZoneTally{}, source: SourceNone}
}

// Zone returns the tally for a zone id, or a zero tally if unknown.
func (s *CountSnapshot) Zone(id string) ZoneTally {
	return s.zones[id]
}

// Total returns the total count for a zone id.
func (s *CountSnapshot) Total(id string) int {
	return s.zones[id].Total
}

// Zones returns a copy of the full per-zone tally map.
func (s *CountSnapshot) Zones() map[string]ZoneTally {
	out := make(map[string]ZoneTally, len(s.zones))
	for id, tally := range s.zones {
		byClass := make(map[string]int, len(tally.ByClass))
		for class, n := range tally.ByClass {
			byClass[class] = n
		}
		out[id] = ZoneTally{Total: tally.Total, ByClass: byClass}
	}
	return out
}

// Timestamp returns the instant the snapshot was produced.
func (s *CountSnapshot) Timestamp() time.Time {
	return s.timestamp
}

// Source returns the snapshot's origin tag.
func (s *CountSnapshot) Source() SourceTag {
	return s.source
}

// WithSource returns a copy of the snapshot carrying a different source tag.
// Used by the bridge to retag an aged snapshot as stale without touching the
// published original.
func (s *CountSnapshot) WithSource(tag SourceTag) *CountSnapshot {
	return &CountSnapshot{zones: s.zones, timestamp: s.timestamp, source: tag}
}

// Publisher accepts finished snapshots. The bridge implements this; sources
// depend only on the interface so they can be tested without one.
type Publisher interface {
	Publish(*CountSnapshot)
}

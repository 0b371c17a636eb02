package eventlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/junction.report/internal/control"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "junction_test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndQueryTransitions(t *testing.T) {
	store := openTestStore(t)

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	transitions := []control.Transition{
		{From: "all_red", To: "clearing", At: base, Demand: map[string]float64{"north_south": 4, "east_west": 1}, Source: "live"},
		{From: "clearing", To: "north_south", At: base.Add(time.Second), Demand: map[string]float64{"north_south": 4.5, "east_west": 1}, Source: "live"},
		{From: "north_south", To: "clearing", At: base.Add(9 * time.Second), Demand: map[string]float64{"north_south": 0, "east_west": 7}, Source: "mock"},
	}
	for _, tr := range transitions {
		if err := store.RecordTransition(tr); err != nil {
			t.Fatalf("RecordTransition: %v", err)
		}
	}

	n, err := store.TransitionCount()
	if err != nil {
		t.Fatalf("TransitionCount: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}

	recent, err := store.RecentTransitions(2)
	if err != nil {
		t.Fatalf("RecentTransitions: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d records, want 2", len(recent))
	}

	// Newest first.
	if recent[0].ToState != "clearing" || recent[0].Source != "mock" {
		t.Errorf("newest record = %+v, want the t+9s transition", recent[0])
	}
	if recent[1].ToState != "north_south" {
		t.Errorf("second record = %+v, want the t+1s transition", recent[1])
	}

	wantDemand := map[string]float64{"north_south": 0, "east_west": 7}
	if diff := cmp.Diff(wantDemand, recent[0].Demand); diff != "" {
		t.Errorf("demand mismatch (-want +got):\n%s", diff)
	}
	if !recent[0].At.Equal(base.Add(9 * time.Second)) {
		t.Errorf("at = %v, want %v", recent[0].At, base.Add(9*time.Second))
	}
	if recent[0].EventID == "" || recent[0].EventID == recent[1].EventID {
		t.Errorf("event ids not unique: %q vs %q", recent[0].EventID, recent[1].EventID)
	}
}

func TestRecentTransitionsEmptyLog(t *testing.T) {
	store := openTestStore(t)

	recent, err := store.RecentTransitions(10)
	if err != nil {
		t.Fatalf("RecentTransitions: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("got %d records from an empty log", len(recent))
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junction_test.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := store.RecordTransition(control.Transition{
		From: "all_red", To: "clearing", At: time.Now(), Demand: map[string]float64{}, Source: "live",
	}); err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}
	store.Close()

	// Reopening must not re-run migrations destructively.
	store, err = Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer store.Close()

	n, err := store.TransitionCount()
	if err != nil {
		t.Fatalf("TransitionCount: %v", err)
	}
	if n != 1 {
		t.Errorf("count after reopen = %d, want 1", n)
	}
}

// Package eventlog appends one record per signal state transition to a
// local sqlite database for later offline evaluation. The log is advisory:
// a write failure is logged and dropped, never surfaced to the controller.
package eventlog

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/junction.report/internal/control"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Record is one persisted transition.
type Record struct {
	EventID   string             `json:"event_id"`
	FromState string             `json:"from_state"`
	ToState   string             `json:"to_state"`
	At        time.Time          `json:"at"`
	Demand    map[string]float64 `json:"demand"`
	Source    string             `json:"source"`
}

// Store is the append-only transition log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and brings
// its schema up to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log database: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// Not closing m: that would close the shared DB connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// RecordTransition appends one transition with a fresh event id.
func (s *Store) RecordTransition(tr control.Transition) error {
	demandJSON, err := json.Marshal(tr.Demand)
	if err != nil {
		return fmt.Errorf("failed to encode demand: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO signal_transitions (event_id, from_state, to_state, at_unix_ms, demand, source)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), tr.From, tr.To, tr.At.UnixMilli(), string(demandJSON), string(tr.Source),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transition: %w", err)
	}
	return nil
}

// RecentTransitions returns up to limit transitions, newest first.
func (s *Store) RecentTransitions(limit int) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT event_id, from_state, to_state, at_unix_ms, demand, source
		   FROM signal_transitions
		  ORDER BY at_unix_ms DESC, event_id
		  LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var atMs int64
		var demandJSON string
		if err := rows.Scan(&rec.EventID, &rec.FromState, &rec.ToState, &atMs, &demandJSON, &rec.Source); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		rec.At = time.UnixMilli(atMs).UTC()
		if err := json.Unmarshal([]byte(demandJSON), &rec.Demand); err != nil {
			return nil, fmt.Errorf("failed to decode demand for %s: %w", rec.EventID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TransitionCount returns the total number of logged transitions.
func (s *Store) TransitionCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM signal_transitions`).Scan(&n)
	return n, err
}

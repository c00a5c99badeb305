// Package history records recent device sightings and master/tempo
// transitions in an in-memory SQLite database for the debug API to query.
// This does not violate the "no persistence" non-goal (spec.md section 6):
// the database lives at ":memory:" and evaporates with the process: it is
// a query-friendly view over runtime state, not durable storage.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/djlink/prolink/internal/eventbus"
)

// maxRows bounds each table so a long-running process doesn't grow memory
// without limit; old rows are trimmed on every insert.
const maxRows = 2000

// Store is an in-memory sighting/transition log subscribed to the event bus.
type Store struct {
	db *sql.DB
}

// Open creates a fresh in-memory store and its schema.
func Open() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory sqlite: %w", err)
	}
	// SQLite allows only one writer; the event bus delivers synchronously
	// on a single goroutine per port, but HTTP reads happen concurrently.
	db.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE sightings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_number INTEGER NOT NULL,
			device_name TEXT NOT NULL,
			ip TEXT NOT NULL,
			seen_at DATETIME NOT NULL
		)`,
		`CREATE TABLE transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			device_number INTEGER,
			bpm REAL,
			at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Subscribe wires device-found, master-changed, and tempo-changed events
// into the store.
func (s *Store) Subscribe(bus *eventbus.Bus) {
	bus.OnDeviceFound(func(e eventbus.DeviceFoundEvent) {
		s.recordSighting(e.DeviceNumber, e.DeviceName, e.IP.String(), e.SeenAt)
	})
	bus.OnMasterChanged(func(e eventbus.MasterChangedEvent) {
		device := sql.NullInt64{Int64: int64(e.DeviceNumber), Valid: e.HasMaster}
		s.recordTransition("master-changed", device, sql.NullFloat64{})
	})
	bus.OnTempoChanged(func(e eventbus.TempoChangedEvent) {
		s.recordTransition("tempo-changed", sql.NullInt64{}, sql.NullFloat64{Float64: e.BPM, Valid: true})
	})
}

func (s *Store) recordSighting(deviceNumber uint8, name, ip string, at time.Time) {
	_, _ = s.db.Exec(`INSERT INTO sightings (device_number, device_name, ip, seen_at) VALUES (?, ?, ?, ?)`,
		deviceNumber, name, ip, at)
	s.trim("sightings")
}

func (s *Store) recordTransition(kind string, device sql.NullInt64, bpm sql.NullFloat64) {
	_, _ = s.db.Exec(`INSERT INTO transitions (kind, device_number, bpm, at) VALUES (?, ?, ?, ?)`,
		kind, device, bpm, time.Now())
	s.trim("transitions")
}

func (s *Store) trim(table string) {
	_, _ = s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE id NOT IN (SELECT id FROM %s ORDER BY id DESC LIMIT ?)`, table, table), maxRows)
}

// Sighting is one row of the sightings table.
type Sighting struct {
	DeviceNumber uint8
	DeviceName   string
	IP           string
	SeenAt       time.Time
}

// RecentSightings returns the most recent sightings, newest first.
func (s *Store) RecentSightings(ctx context.Context, limit int) ([]Sighting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_number, device_name, ip, seen_at FROM sightings ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sightings: %w", err)
	}
	defer rows.Close()

	var out []Sighting
	for rows.Next() {
		var sgt Sighting
		var deviceNumber int
		if err := rows.Scan(&deviceNumber, &sgt.DeviceName, &sgt.IP, &sgt.SeenAt); err != nil {
			return nil, fmt.Errorf("scanning sighting: %w", err)
		}
		sgt.DeviceNumber = uint8(deviceNumber)
		out = append(out, sgt)
	}
	return out, rows.Err()
}

// Transition is one row of the transitions table.
type Transition struct {
	Kind         string
	DeviceNumber *uint8
	BPM          *float64
	At           time.Time
}

// RecentTransitions returns the most recent master/tempo transitions,
// newest first.
func (s *Store) RecentTransitions(ctx context.Context, limit int) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, device_number, bpm, at FROM transitions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var device sql.NullInt64
		var bpm sql.NullFloat64
		if err := rows.Scan(&t.Kind, &device, &bpm, &t.At); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		if device.Valid {
			n := uint8(device.Int64)
			t.DeviceNumber = &n
		}
		if bpm.Valid {
			v := bpm.Float64
			t.BPM = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Package history keeps an audit trail of connection state transitions in
// SQLite. The trail is only ever appended to and listed; it is never used
// to restore state.
package history

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yllada/vpn-state/vpn"
)

// Entry is one recorded transition.
type Entry struct {
	ID           int64
	Time         time.Time
	ConnectionID uint64
	Profile      string
	State        vpn.ConnectionState
	Error        vpn.ErrorState
	Imc          vpn.ImcState
	// RetryIn is the countdown at the time of the transition.
	RetryIn time.Duration
}

// EntryFromSnapshot builds an entry describing snap.
func EntryFromSnapshot(snap vpn.Snapshot, at time.Time) Entry {
	e := Entry{
		Time:         at,
		ConnectionID: snap.ConnectionID,
		State:        snap.State,
		Error:        snap.Error,
		Imc:          snap.Imc,
		RetryIn:      snap.RetryIn,
	}
	if snap.Profile != nil {
		e.Profile = snap.Profile.DisplayName()
	}
	return e
}

// Store provides SQLite persistence for transitions.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the database at path.
// Use ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// every connection to ":memory:" is a separate database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at_ns INTEGER NOT NULL,
		connection_id INTEGER NOT NULL,
		profile TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		error TEXT NOT NULL,
		imc TEXT NOT NULL,
		retry_in_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_connection ON transitions(connection_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends e and sets its ID.
func (s *Store) Record(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO transitions (at_ns, connection_id, profile, state, error, imc, retry_in_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.Time.UnixNano(), int64(e.ConnectionID), e.Profile,
		e.State.String(), e.Error.String(), e.Imc.String(), e.RetryIn.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, at_ns, connection_id, profile, state, error, imc, retry_in_ms
		FROM transitions
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                Entry
			atNs, connID     int64
			retryMs          int64
			state, errs, imc string
		)
		if err := rows.Scan(&e.ID, &atNs, &connID, &e.Profile, &state, &errs, &imc, &retryMs); err != nil {
			return nil, err
		}
		e.Time = time.Unix(0, atNs)
		e.ConnectionID = uint64(connID)
		e.RetryIn = time.Duration(retryMs) * time.Millisecond
		if e.State, err = vpn.ParseConnectionState(state); err != nil {
			return nil, err
		}
		if e.Error, err = vpn.ParseErrorState(errs); err != nil {
			return nil, err
		}
		if e.Imc, err = vpn.ParseImcState(imc); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

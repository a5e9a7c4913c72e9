package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is the Store implementation on a single embedded database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) the state database and verifies the
// schema version. A database that cannot be read or that carries a different
// schema version surfaces as ErrCorrupt.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init schema: %v", ErrCorrupt, err)
	}

	var version int
	err = db.QueryRow(`SELECT version FROM meta LIMIT 1`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		if _, err := db.Exec(`INSERT INTO meta (version) VALUES (?)`, schemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("write schema version: %w", err)
		}
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("%w: read schema version: %v", ErrCorrupt, err)
	case version != schemaVersion:
		db.Close()
		return nil, fmt.Errorf("%w: schema version %d, want %d", ErrCorrupt, version, schemaVersion)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Snapshot() (map[string]map[int64]*Relationship, error) {
	rows, err := s.db.Query(`
		SELECT venue, tag, kind, state, target_ticket, missing_runs,
		       volume, price, stop_loss, take_profit, expiry,
		       last_run_id, updated_at
		FROM relationships`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer rows.Close()

	out := make(map[string]map[int64]*Relationship)
	for rows.Next() {
		var r Relationship
		var kind, state string
		if err := rows.Scan(
			&r.Venue, &r.Tag, &kind, &state, &r.TargetTicket, &r.MissingRuns,
			&r.Applied.Volume, &r.Applied.Price, &r.Applied.StopLoss,
			&r.Applied.TakeProfit, &r.Applied.Expiry,
			&r.LastRunID, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		r.Kind = Kind(kind)
		r.State = State(state)
		if r.Applied.Expiry.Equal(time.Unix(0, 0)) {
			r.Applied.Expiry = time.Time{}
		}
		if !validKind(r.Kind) || !validState(r.State) {
			return nil, fmt.Errorf("%w: row (%s, %d) has kind %q state %q",
				ErrCorrupt, r.Venue, r.Tag, kind, state)
		}
		if out[r.Venue] == nil {
			out[r.Venue] = make(map[int64]*Relationship)
		}
		out[r.Venue][r.Tag] = &r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}

// ReplaceVenue swaps one venue's rows in a single transaction, so a reader (or
// a crashed process) only ever observes the last fully-committed state for
// that venue. Closed relationships are not written back.
func (s *SQLite) ReplaceVenue(venue string, rels []*Relationship) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM relationships WHERE venue = ?`, venue); err != nil {
		return fmt.Errorf("clear venue %s: %w", venue, err)
	}
	for _, r := range rels {
		if r.State == StateClosed {
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO relationships
			(venue, tag, kind, state, target_ticket, missing_runs,
			 volume, price, stop_loss, take_profit, expiry,
			 last_run_id, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			venue, r.Tag, string(r.Kind), string(r.State), r.TargetTicket,
			r.MissingRuns, r.Applied.Volume, r.Applied.Price,
			r.Applied.StopLoss, r.Applied.TakeProfit, expiryOrZero(r.Applied.Expiry),
			r.LastRunID, r.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert (%s, %d): %w", venue, r.Tag, err)
		}
	}
	return tx.Commit()
}

// PruneVenues drops rows for venues no longer present in the configuration.
func (s *SQLite) PruneVenues(active []string) error {
	known := make(map[string]bool, len(active))
	for _, v := range active {
		known[v] = true
	}

	rows, err := s.db.Query(`SELECT DISTINCT venue FROM relationships`)
	if err != nil {
		return fmt.Errorf("list venues: %w", err)
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return err
		}
		if !known[v] {
			stale = append(stale, v)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, v := range stale {
		if _, err := s.db.Exec(`DELETE FROM relationships WHERE venue = ?`, v); err != nil {
			return fmt.Errorf("prune venue %s: %w", v, err)
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func validKind(k Kind) bool {
	return k == KindOrder || k == KindPosition
}

func validState(st State) bool {
	switch st {
	case StatePending, StateActive, StateOrphanSuspected, StateClosed:
		return true
	}
	return false
}

// expiryOrZero keeps the DATETIME column NOT NULL; the zero time stands for
// good-till-cancelled.
func expiryOrZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return t
}

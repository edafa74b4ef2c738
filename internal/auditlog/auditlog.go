// Package auditlog is the optional sqlite-backed decision trail (spec
// §4.20's audit surface): every FSM transition and sizing decision this
// module makes, persisted for post-session review. Grounded on
// SynapseStrike/store/strategy.go's database/sql + init-tables +
// CRUD shape, adapted from an sqlite3-file strategy table to an
// append-only decision log, backed by modernc.org/sqlite instead of a
// cgo sqlite driver.
package auditlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
)

// Store is an append-only log of FSM decisions, backed by a single sqlite
// file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and ensures
// its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("auditlog: opening %q: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditlog: initializing schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			phase_from TEXT NOT NULL,
			phase_to TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '{}',
			occurred_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_decisions_symbol ON decisions(symbol)`)
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_decisions_occurred_at ON decisions(occurred_at)`)
	return nil
}

// Decision is one recorded FSM transition, optionally carrying structured
// detail (sizing inputs, exit reason, rejection value) as JSON.
type Decision struct {
	ID         string
	Symbol     string
	PhaseFrom  string
	PhaseTo    string
	Reason     string
	Detail     map[string]any
	OccurredAt time.Time
}

// Record inserts one decision row. ID is generated if d.ID is empty.
func (s *Store) Record(d Decision) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.OccurredAt.IsZero() {
		d.OccurredAt = time.Now()
	}
	detailJSON := "{}"
	if d.Detail != nil {
		raw, err := json.Marshal(d.Detail)
		if err != nil {
			return fmt.Errorf("auditlog: marshaling detail: %w", err)
		}
		detailJSON = string(raw)
	}
	_, err := s.db.Exec(
		`INSERT INTO decisions (id, symbol, phase_from, phase_to, reason, detail, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Symbol, d.PhaseFrom, d.PhaseTo, d.Reason, detailJSON, d.OccurredAt,
	)
	return err
}

// ForSymbol returns every recorded decision for symbol, oldest first.
func (s *Store) ForSymbol(symbol string) ([]Decision, error) {
	rows, err := s.db.Query(
		`SELECT id, symbol, phase_from, phase_to, reason, detail, occurred_at
		 FROM decisions WHERE symbol = ? ORDER BY occurred_at ASC`,
		symbol,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		var detailJSON string
		if err := rows.Scan(&d.ID, &d.Symbol, &d.PhaseFrom, &d.PhaseTo, &d.Reason, &detailJSON, &d.OccurredAt); err != nil {
			return nil, err
		}
		if detailJSON != "" {
			if err := json.Unmarshal([]byte(detailJSON), &d.Detail); err != nil {
				return nil, fmt.Errorf("auditlog: decoding detail for %s: %w", d.ID, err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountSince counts decisions recorded at or after since, for a quick
// session-activity health check.
func (s *Store) CountSince(since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM decisions WHERE occurred_at >= ?`, since).Scan(&n)
	return n, err
}

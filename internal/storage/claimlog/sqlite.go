package claimlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ohmynofan/b402-claimer/internal/domain/model"
	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// MemoryDSN keeps the journal in process memory only.
const MemoryDSN = ":memory:"

// Store is the claim journal. Rows already on disk when it is opened are
// kept for offline inspection but never counted by Summary.
type Store struct {
	db  *sql.DB
	now func() time.Time
	// last attempt id present at open
	baseline int64
}

type Summary struct {
	Attempts  int
	Completed int
	Minted    int
	Failed    int
}

type Attempt struct {
	ID         int64
	Trigger    string
	Retry      int
	StartedAt  time.Time
	FinishedAt time.Time
	Result     string
	Detail     string
}

func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if !isMemory(dsn) {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// every new connection to :memory: would be a fresh, empty database
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.init(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM claim_attempts`).Scan(&s.baseline); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to read journal baseline: %w", err)
	}
	return s, nil
}

func isMemory(dsn string) bool {
	return dsn == MemoryDSN || strings.Contains(dsn, "mode=memory")
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS claim_attempts (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        trigger_ref TEXT NOT NULL,
        retry INTEGER NOT NULL DEFAULT 0,
        started_at TEXT NOT NULL,
        finished_at TEXT,
        result TEXT
    )`,
		`CREATE TABLE IF NOT EXISTS claim_outcomes (
        attempt_id INTEGER NOT NULL,
        item_index INTEGER NOT NULL,
        success INTEGER NOT NULL DEFAULT 0,
        tx_ref TEXT,
        reason TEXT,
        PRIMARY KEY(attempt_id, item_index)
    )`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return s.ensureColumns()
}

// ensureColumns upgrades journals written before the detail column existed.
func (s *Store) ensureColumns() error {
	columns := map[string]bool{}
	rows, err := s.db.Query(`PRAGMA table_info(claim_attempts)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		columns[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	if !columns["detail"] {
		if _, err := s.db.Exec(`ALTER TABLE claim_attempts ADD COLUMN detail TEXT`); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) BeginAttempt(ctx context.Context, trigger string, retry int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO claim_attempts(trigger_ref, retry, started_at) VALUES(?, ?, ?)`,
		trigger, retry, s.now().UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) FinishAttempt(ctx context.Context, attemptID int64, result, detail string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE claim_attempts SET finished_at = ?, result = ?, detail = ? WHERE id = ?`,
		s.now().UTC().Format(timeLayout), result, detail, attemptID)
	return err
}

func (s *Store) RecordOutcomes(ctx context.Context, attemptID int64, outcomes []model.Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO claim_outcomes(attempt_id, item_index, success, tx_ref, reason)
    VALUES(?, ?, ?, ?, ?)
    ON CONFLICT(attempt_id, item_index) DO UPDATE SET success = excluded.success, tx_ref = excluded.tx_ref, reason = excluded.reason`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, o := range outcomes {
		success := 0
		if o.Success() {
			success = 1
		}
		if _, err := stmt.ExecContext(ctx, attemptID, o.Index, success, o.TxRef, o.Reason); err != nil {
			return fmt.Errorf("outcome %d: %w", o.Index, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Attempt(ctx context.Context, attemptID int64) (Attempt, error) {
	var (
		a                   Attempt
		started             string
		finished, res, note sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, trigger_ref, retry, started_at, finished_at, result, detail FROM claim_attempts WHERE id = ?`, attemptID).
		Scan(&a.ID, &a.Trigger, &a.Retry, &started, &finished, &res, &note)
	if err != nil {
		return Attempt{}, err
	}
	a.StartedAt, _ = time.Parse(timeLayout, started)
	if finished.Valid {
		a.FinishedAt, _ = time.Parse(timeLayout, finished.String)
	}
	a.Result = res.String
	a.Detail = note.String
	return a, nil
}

// Outcomes returns an attempt's per-item results ordered by batch index.
func (s *Store) Outcomes(ctx context.Context, attemptID int64) ([]model.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_index, success, tx_ref, reason FROM claim_outcomes WHERE attempt_id = ? ORDER BY item_index`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Outcome
	for rows.Next() {
		var (
			o           model.Outcome
			success     int
			txRef, note sql.NullString
		)
		if err := rows.Scan(&o.Index, &success, &txRef, &note); err != nil {
			return nil, err
		}
		o.TxRef = txRef.String
		o.Reason = note.String
		if success == 0 {
			o.Err = errors.New(o.Reason)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) Summary(ctx context.Context) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN result = 'completed' THEN 1 ELSE 0 END), 0) FROM claim_attempts WHERE id > ?`, s.baseline).
		Scan(&sum.Attempts, &sum.Completed)
	if err != nil {
		return Summary{}, err
	}
	err = s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(success), 0), COALESCE(SUM(1 - success), 0) FROM claim_outcomes WHERE attempt_id > ?`, s.baseline).
		Scan(&sum.Minted, &sum.Failed)
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// Package store keeps a local log of emitted detections in SQLite.
package store

import (
	iface "EdgeScan/interface"
	"EdgeScan/pipeline"
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Record struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"runId"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	iface.Detection
}

type DB struct {
	mu   sync.RWMutex
	conn *sql.DB
}

// Open creates the schema if needed. Use ":memory:" for a throwaway log.
func Open(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

func (d *DB) migrate() error {
	_, err := d.conn.Exec(`
	CREATE TABLE IF NOT EXISTS detections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		label TEXT NOT NULL,
		score REAL NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_detections_run ON detections(run_id, seq);
	CREATE INDEX IF NOT EXISTS idx_detections_label ON detections(label);
	`)
	return err
}

// Emit stores every detection of r in one transaction. Empty results are
// not recorded.
func (d *DB) Emit(ctx context.Context, r pipeline.Result) error {
	if len(r.Detections) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detections (run_id, seq, timestamp, label, score, x, y, width, height)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, det := range r.Detections {
		if _, err := stmt.ExecContext(ctx, r.RunID, int64(r.Seq), r.Timestamp.UTC(), det.Label, det.Score, det.X, det.Y, det.Width, det.Height); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit records, newest first, optionally for one label.
func (d *DB) Recent(ctx context.Context, label string, limit int) ([]Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, run_id, seq, timestamp, label, score, x, y, width, height FROM detections`
	args := []interface{}{}
	if label != "" {
		query += ` WHERE label = ?`
		args = append(args, label)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var seq int64
		if err := rows.Scan(&rec.ID, &rec.RunID, &seq, &rec.Timestamp, &rec.Label, &rec.Score, &rec.X, &rec.Y, &rec.Width, &rec.Height); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		rec.Seq = uint64(seq)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountByLabel returns how many detections each label has in run runID
// (all runs when empty).
func (d *DB) CountByLabel(ctx context.Context, runID string) (map[string]int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	query := `SELECT label, COUNT(*) FROM detections`
	args := []interface{}{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` GROUP BY label`
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count detections: %w", err)
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		counts[label] = n
	}
	return counts, rows.Err()
}

func (d *DB) Close() error {
	return d.conn.Close()
}

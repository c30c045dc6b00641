// Package record persists harness results to a SQLite database.
package record

import (
	"database/sql"
	"fmt"
	"time"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/cachelab/harness"
)

// Recorder stores results.
type Recorder interface {
	// Record buffers one result.
	Record(r harness.Result) error

	// Flush writes all buffered results.
	Flush() error

	// Close flushes and releases the database.
	Close() error
}

const createTable = `CREATE TABLE IF NOT EXISTS results (
	run_id        TEXT NOT NULL,
	name          TEXT NOT NULL,
	description   TEXT,
	accesses      INTEGER,
	reads         INTEGER,
	writes        INTEGER,
	hits          INTEGER,
	misses        INTEGER,
	hit_rate      REAL,
	evictions     INTEGER,
	writebacks    INTEGER,
	memory_reads  INTEGER,
	memory_writes INTEGER,
	cycles        INTEGER,
	mismatches    INTEGER,
	wall_time_ns  INTEGER,
	recorded_at   TEXT
)`

const insertResult = `INSERT INTO results (
	run_id, name, description, accesses, reads, writes, hits, misses,
	hit_rate, evictions, writebacks, memory_reads, memory_writes, cycles,
	mismatches, wall_time_ns, recorded_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectResults = `SELECT
	run_id, name, description, accesses, reads, writes, hits, misses,
	hit_rate, evictions, writebacks, memory_reads, memory_writes, cycles,
	mismatches, wall_time_ns
FROM results ORDER BY rowid`

// SQLiteRecorder buffers results and writes them in batched transactions.
type SQLiteRecorder struct {
	*sql.DB

	path      string
	batchSize int
	pending   []harness.Result
}

var _ Recorder = (*SQLiteRecorder)(nil)

// DefaultPath returns a fresh database file name.
func DefaultPath() string {
	return "cachesim_" + xid.New().String() + ".sqlite3"
}

// NewSQLiteRecorder opens or creates the database at path. An empty path
// selects DefaultPath. Buffered results are flushed at exit.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	if path == "" {
		path = DefaultPath()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	if _, err := db.Exec(createTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create results table: %w", err)
	}

	r := &SQLiteRecorder{
		DB:        db,
		path:      path,
		batchSize: 1000,
	}

	atexit.Register(func() { _ = r.Flush() })

	return r, nil
}

// Path returns the database file.
func (r *SQLiteRecorder) Path() string {
	return r.path
}

// Record buffers a result, flushing when the batch is full.
func (r *SQLiteRecorder) Record(result harness.Result) error {
	r.pending = append(r.pending, result)
	if len(r.pending) >= r.batchSize {
		return r.Flush()
	}
	return nil
}

// Flush writes all buffered results in one transaction.
func (r *SQLiteRecorder) Flush() error {
	if len(r.pending) == 0 {
		return nil
	}

	tx, err := r.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(insertResult)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, res := range r.pending {
		_, err := stmt.Exec(
			res.RunID, res.Name, res.Description,
			res.Accesses, res.Reads, res.Writes, res.Hits, res.Misses,
			res.HitRate, res.Evictions, res.Writebacks,
			res.MemoryReads, res.MemoryWrites, res.Cycles,
			res.Mismatches, res.WallTime.Nanoseconds(), now,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert result %s: %w", res.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}

	r.pending = r.pending[:0]
	return nil
}

// Close flushes and closes the database.
func (r *SQLiteRecorder) Close() error {
	if err := r.Flush(); err != nil {
		return err
	}
	return r.DB.Close()
}

// Results reads back every stored result in insertion order.
func (r *SQLiteRecorder) Results() ([]harness.Result, error) {
	rows, err := r.Query(selectResults)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []harness.Result
	for rows.Next() {
		var (
			res  harness.Result
			desc sql.NullString
			wall int64
		)
		err := rows.Scan(
			&res.RunID, &res.Name, &desc,
			&res.Accesses, &res.Reads, &res.Writes, &res.Hits, &res.Misses,
			&res.HitRate, &res.Evictions, &res.Writebacks,
			&res.MemoryReads, &res.MemoryWrites, &res.Cycles,
			&res.Mismatches, &wall,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		res.Description = desc.String
		res.WallTime = time.Duration(wall)
		out = append(out, res)
	}

	return out, rows.Err()
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/pax.report/internal/monitoring"
	"github.com/banshee-data/pax.report/internal/pax"
)

// DefaultJournalBuffer is how many finalized reports the journal will
// hold while a write is in flight. Epochs arrive about once a minute,
// so the buffer only matters when the disk stalls.
const DefaultJournalBuffer = 16

// StoredReport is one journal row: a finalized epoch report plus the
// identity of the sensor run that produced it.
type StoredReport struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	pax.Report
}

// Journal persists finalized epoch reports. Each process start gets a
// fresh run ID so rows from different boots never collide on epoch
// numbers, which restart from 1.
//
// Publish only hands the report to the writer goroutine; Run does the
// actual inserts so a slow disk never stalls the counting engine.
type Journal struct {
	db    *DB
	runID string

	pending chan pax.Report
	written atomic.Uint64
	dropped atomic.Uint64
}

// NewJournal creates a journal writing to database under a new run ID.
func NewJournal(database *DB) *Journal {
	return &Journal{
		db:      database,
		runID:   uuid.NewString(),
		pending: make(chan pax.Report, DefaultJournalBuffer),
	}
}

// RunID returns the identifier for this process run.
func (j *Journal) RunID() string { return j.runID }

// Written returns how many reports the writer has persisted.
func (j *Journal) Written() uint64 { return j.written.Load() }

// Dropped returns how many reports were discarded because the write
// buffer was full.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Publish queues a finalized report for persistence. It never blocks;
// if the writer has fallen behind the report is dropped and counted.
func (j *Journal) Publish(r pax.Report) {
	select {
	case j.pending <- r:
	default:
		j.dropped.Add(1)
		monitoring.Logf("db: journal buffer full, dropping epoch %d", r.EpochID)
	}
}

// Run drains queued reports into the database until ctx is cancelled.
// Reports already queued at shutdown are flushed before returning.
func (j *Journal) Run(ctx context.Context) error {
	if j.db == nil {
		return fmt.Errorf("journal: no database")
	}
	monitoring.Debugf("db: journal writer started, run %s", j.runID)
	for {
		select {
		case <-ctx.Done():
			j.flush()
			monitoring.Logf("db: journal writer stopped: %d written, %d dropped", j.Written(), j.Dropped())
			return ctx.Err()
		case r := <-j.pending:
			j.record(r)
		}
	}
}

// flush writes whatever is still queued. Called once on shutdown.
func (j *Journal) flush() {
	for {
		select {
		case r := <-j.pending:
			j.record(r)
		default:
			return
		}
	}
}

func (j *Journal) record(r pax.Report) {
	if err := j.RecordReport(r); err != nil {
		monitoring.Logf("db: record epoch %d: %v", r.EpochID, err)
		return
	}
	j.written.Add(1)
}

// RecordReport inserts one finalized report synchronously.
func (j *Journal) RecordReport(r pax.Report) error {
	query := `
		INSERT INTO pax_reports (
			run_id, epoch_id, start_unix, end_unix,
			wifi_count, ble_count, proximity_count
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := j.db.DB.Exec(
		query,
		j.runID,
		int64(r.EpochID),
		r.Start.Unix(),
		r.End.Unix(),
		r.Counts.Wifi,
		r.Counts.BLE,
		r.Counts.Proximity,
	)
	if err != nil {
		return fmt.Errorf("failed to insert report: %w", err)
	}
	return nil
}

// ReportsSince retrieves reports whose epoch ended at or after since,
// oldest first, up to limit rows.
func (j *Journal) ReportsSince(since time.Time, limit int) ([]StoredReport, error) {
	query := `
		SELECT id, run_id, epoch_id, start_unix, end_unix,
		       wifi_count, ble_count, proximity_count, created_at
		FROM pax_reports
		WHERE end_unix >= ?
		ORDER BY end_unix ASC, id ASC
		LIMIT ?
	`

	rows, err := j.db.DB.Query(query, since.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	return scanReports(rows)
}

// LatestReports retrieves the most recent limit reports, newest first.
func (j *Journal) LatestReports(limit int) ([]StoredReport, error) {
	query := `
		SELECT id, run_id, epoch_id, start_unix, end_unix,
		       wifi_count, ble_count, proximity_count, created_at
		FROM pax_reports
		ORDER BY end_unix DESC, id DESC
		LIMIT ?
	`

	rows, err := j.db.DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	return scanReports(rows)
}

// PruneBefore deletes reports whose epoch ended before cutoff and
// returns how many rows were removed.
func (j *Journal) PruneBefore(cutoff time.Time) (int64, error) {
	query := `DELETE FROM pax_reports WHERE end_unix < ?`

	result, err := j.db.DB.Exec(query, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune reports: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return removed, nil
}

func scanReports(rows *sql.Rows) ([]StoredReport, error) {
	var reports []StoredReport
	for rows.Next() {
		var (
			r         StoredReport
			epochID   int64
			startUnix int64
			endUnix   int64
		)
		err := rows.Scan(
			&r.ID,
			&r.RunID,
			&epochID,
			&startUnix,
			&endUnix,
			&r.Counts.Wifi,
			&r.Counts.BLE,
			&r.Counts.Proximity,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		r.EpochID = uint64(epochID)
		r.Start = time.Unix(startUnix, 0).UTC()
		r.End = time.Unix(endUnix, 0).UTC()
		reports = append(reports, r)
	}
	return reports, nil
}

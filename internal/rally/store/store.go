// Package store persists analysis runs, their final segments and their
// rally records to SQLite. Schema changes go through the embedded
// migrations; nothing here creates tables ad hoc.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rallycut/rallycut/internal/rally"
)

// DB wraps the SQLite connection used by all stores.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the SQLite database at path. The schema is not
// touched; run MigrateUp before using any store.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return &DB{db}, nil
}

// Run is one persisted analysis of a single video: the run-level aggregates
// plus the ordered segments and rally records produced by the pipeline.
type Run struct {
	ID              string  `json:"run_id"`
	Source          string  `json:"source"`
	CreatedUnix     float64 `json:"created_unix"`
	TotalDuration   float64 `json:"total_duration"`
	FramesProcessed int     `json:"frames_processed"`
	DetectionFrames int     `json:"detection_frames"`
	TracksRetired   int     `json:"tracks_retired"`

	Segments []rally.Segment     `json:"segments"`
	Rallies  []rally.RallyRecord `json:"rallies"`

	RallyCount       int     `json:"rally_count"`
	SegmentCount     int     `json:"segment_count"`
	TotalSegmentSec  float64 `json:"total_segment_sec"`
	CoverageFraction float64 `json:"coverage_fraction"`
}

// NewRun builds a Run from a finished pipeline pass.
func NewRun(source string, totalDuration float64, segments []rally.Segment, stats *rally.RunStats) *Run {
	return &Run{
		ID:               uuid.NewString(),
		Source:           source,
		CreatedUnix:      float64(time.Now().UnixMilli()) / 1000.0,
		TotalDuration:    totalDuration,
		FramesProcessed:  stats.FramesProcessed,
		DetectionFrames:  stats.DetectionFrames,
		TracksRetired:    stats.TracksRetired,
		Segments:         segments,
		Rallies:          stats.Rallies,
		RallyCount:       stats.RallyCount,
		SegmentCount:     stats.SegmentCount,
		TotalSegmentSec:  stats.TotalSegmentSec,
		CoverageFraction: stats.CoverageFraction,
	}
}

// RunStore handles database operations for analysis runs.
type RunStore struct {
	db *DB
}

// NewRunStore creates a RunStore backed by the given database.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// InsertRun writes a run with its segments and rallies in one transaction.
func (rs *RunStore) InsertRun(run *Run) error {
	tx, err := rs.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO analysis_runs (
			run_id, source, created_unix, total_duration,
			frames_processed, detection_frames, tracks_retired,
			rally_count, segment_count, total_segment_sec, coverage_fraction
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.CreatedUnix, run.TotalDuration,
		run.FramesProcessed, run.DetectionFrames, run.TracksRetired,
		run.RallyCount, run.SegmentCount, run.TotalSegmentSec, run.CoverageFraction,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i, seg := range run.Segments {
		_, err = tx.Exec(`
			INSERT INTO run_segments (run_id, seq, start_time, end_time)
			VALUES (?, ?, ?, ?)`,
			run.ID, i, seg.Start, seg.End,
		)
		if err != nil {
			return fmt.Errorf("failed to insert segment %d: %w", i, err)
		}
	}

	for i, r := range run.Rallies {
		_, err = tx.Exec(`
			INSERT INTO run_rallies (
				run_id, seq, start_time, end_time,
				max_confidence, avg_confidence, estimated_contacts, quality_score
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, r.Start, r.End,
			r.MaxConfidence, r.AvgConfidence, r.EstimatedContacts, r.QualityScore,
		)
		if err != nil {
			return fmt.Errorf("failed to insert rally %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun loads a run with its segments and rallies. Returns sql.ErrNoRows
// when the run does not exist.
func (rs *RunStore) GetRun(runID string) (*Run, error) {
	run := &Run{}
	err := rs.db.QueryRow(`
		SELECT run_id, source, created_unix, total_duration,
		       frames_processed, detection_frames, tracks_retired,
		       rally_count, segment_count, total_segment_sec, coverage_fraction
		FROM analysis_runs WHERE run_id = ?`, runID,
	).Scan(
		&run.ID, &run.Source, &run.CreatedUnix, &run.TotalDuration,
		&run.FramesProcessed, &run.DetectionFrames, &run.TracksRetired,
		&run.RallyCount, &run.SegmentCount, &run.TotalSegmentSec, &run.CoverageFraction,
	)
	if err != nil {
		return nil, err
	}

	if run.Segments, err = rs.RunSegments(runID); err != nil {
		return nil, err
	}
	if run.Rallies, err = rs.RunRallies(runID); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first, without their segment
// and rally detail.
func (rs *RunStore) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := rs.db.Query(`
		SELECT run_id, source, created_unix, total_duration,
		       frames_processed, detection_frames, tracks_retired,
		       rally_count, segment_count, total_segment_sec, coverage_fraction
		FROM analysis_runs ORDER BY created_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(
			&run.ID, &run.Source, &run.CreatedUnix, &run.TotalDuration,
			&run.FramesProcessed, &run.DetectionFrames, &run.TracksRetired,
			&run.RallyCount, &run.SegmentCount, &run.TotalSegmentSec, &run.CoverageFraction,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunSegments returns a run's final segments in output order.
func (rs *RunStore) RunSegments(runID string) ([]rally.Segment, error) {
	rows, err := rs.db.Query(`
		SELECT start_time, end_time FROM run_segments
		WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	var segments []rally.Segment
	for rows.Next() {
		var s rally.Segment
		if err := rows.Scan(&s.Start, &s.End); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, s)
	}
	return segments, rows.Err()
}

// RunRallies returns a run's rally records in output order.
func (rs *RunStore) RunRallies(runID string) ([]rally.RallyRecord, error) {
	rows, err := rs.db.Query(`
		SELECT start_time, end_time, max_confidence, avg_confidence,
		       estimated_contacts, quality_score
		FROM run_rallies WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rallies: %w", err)
	}
	defer rows.Close()

	var rallies []rally.RallyRecord
	for rows.Next() {
		var r rally.RallyRecord
		if err := rows.Scan(
			&r.Start, &r.End, &r.MaxConfidence, &r.AvgConfidence,
			&r.EstimatedContacts, &r.QualityScore,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rally: %w", err)
		}
		rallies = append(rallies, r)
	}
	return rallies, rows.Err()
}

package store

import (
	"context"
	"fmt"
	"time"
)

// RecordIngestEvent appends the outcome of one ingest job
func (db *DB) RecordIngestEvent(ctx context.Context, e *IngestEvent) error {
	finished := e.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	received := e.ReceivedAt
	if received.IsZero() {
		received = finished
	}

	_, err := db.ExecContext(ctx, db.rebind(`
		INSERT INTO ingest_events (
			delivery_id, athlete_id, activity_id, status, local_path,
			remote_id, mechanism, error, received_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), e.DeliveryID, e.AthleteID, e.ActivityID, string(e.Status), e.LocalPath,
		e.RemoteID, e.Mechanism, e.Error, received.Unix(), finished.Unix())
	if err != nil {
		return fmt.Errorf("inserting ingest event: %w", err)
	}
	return nil
}

// ListIngestEvents returns the most recent ingest events, newest first
func (db *DB) ListIngestEvents(ctx context.Context, limit int) ([]IngestEvent, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.QueryContext(ctx, db.rebind(`
		SELECT id, delivery_id, athlete_id, activity_id, status, local_path,
			remote_id, mechanism, error, received_at, finished_at
		FROM ingest_events
		ORDER BY finished_at DESC, id DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []IngestEvent
	for rows.Next() {
		var e IngestEvent
		var status string
		var received, finished int64
		err := rows.Scan(&e.ID, &e.DeliveryID, &e.AthleteID, &e.ActivityID, &status,
			&e.LocalPath, &e.RemoteID, &e.Mechanism, &e.Error, &received, &finished)
		if err != nil {
			return nil, err
		}
		e.Status = IngestStatus(status)
		e.ReceivedAt = time.Unix(received, 0)
		e.FinishedAt = time.Unix(finished, 0)
		events = append(events, e)
	}

	return events, rows.Err()
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/emberhq/emberwatch/internal/models"
)

type sqliteEventRepo struct {
	db *sql.DB
}

const hourMillis = int64(3600 * 1000)

// WriteBatch persists a batch of processed events. Raw rows, aggregate
// upserts and hourly rollups commit together or not at all.
func (r *sqliteEventRepo) WriteBatch(ctx context.Context, events []*models.ProcessedEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	insertRaw, err := tx.PrepareContext(ctx, `
		INSERT INTO raw_events
			(id, project_id, fingerprint, error_type, message, stack, metadata,
			 environment, "release", source, route, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare raw insert: %w", err)
	}
	defer insertRaw.Close()

	upsertAgg, err := tx.PrepareContext(ctx, `
		INSERT INTO event_aggregates (project_id, fingerprint, count, first_seen, last_seen)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT (project_id, fingerprint) DO UPDATE SET
			count = count + 1,
			last_seen = excluded.last_seen
	`)
	if err != nil {
		return fmt.Errorf("prepare aggregate upsert: %w", err)
	}
	defer upsertAgg.Close()

	upsertHourly, err := tx.PrepareContext(ctx, `
		INSERT INTO event_counts_hourly (project_id, fingerprint, hour_bucket, count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT (project_id, fingerprint, hour_bucket) DO UPDATE SET
			count = count + 1
	`)
	if err != nil {
		return fmt.Errorf("prepare hourly upsert: %w", err)
	}
	defer upsertHourly.Close()

	upsertUsage, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_hourly (project_id, hour_bucket, events, bytes)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (project_id, hour_bucket) DO UPDATE SET
			events = events + 1,
			bytes = bytes + excluded.bytes
	`)
	if err != nil {
		return fmt.Errorf("prepare usage upsert: %w", err)
	}
	defer upsertUsage.Close()

	for _, ev := range events {
		var metadata any
		if len(ev.Event.Metadata) > 0 {
			metadata = string(ev.Event.Metadata)
		}

		if _, err := insertRaw.ExecContext(ctx,
			uuid.NewString(), ev.ProjectID, ev.Fingerprint,
			ev.Event.ErrorType, ev.Event.Message, nullIfEmpty(ev.Event.Stack), metadata,
			ev.Event.Environment, ev.Event.Release,
			nullIfEmpty(ev.Event.Source), nullIfEmpty(ev.Event.Route), ev.ReceivedAt,
		); err != nil {
			return fmt.Errorf("insert raw event: %w", err)
		}

		if _, err := upsertAgg.ExecContext(ctx,
			ev.ProjectID, ev.Fingerprint, ev.ReceivedAt, ev.ReceivedAt,
		); err != nil {
			return fmt.Errorf("upsert aggregate: %w", err)
		}

		bucket := ev.ReceivedAt - ev.ReceivedAt%hourMillis
		if _, err := upsertHourly.ExecContext(ctx,
			ev.ProjectID, ev.Fingerprint, bucket,
		); err != nil {
			return fmt.Errorf("upsert hourly count: %w", err)
		}

		size := len(ev.Event.Message) + len(ev.Event.Stack) + len(ev.Event.Metadata)
		if _, err := upsertUsage.ExecContext(ctx,
			ev.ProjectID, bucket, size,
		); err != nil {
			return fmt.Errorf("upsert usage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (r *sqliteEventRepo) AggregateSnapshot(ctx context.Context, projectID, fingerprint string) (*models.AggregateRow, error) {
	var agg models.AggregateRow
	err := r.db.QueryRowContext(ctx, `
		SELECT project_id, fingerprint, count, first_seen, last_seen
		FROM event_aggregates WHERE project_id = ? AND fingerprint = ?
	`, projectID, fingerprint).Scan(
		&agg.ProjectID, &agg.Fingerprint, &agg.Count, &agg.FirstSeen, &agg.LastSeen,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("aggregate snapshot: %w", err)
	}
	return &agg, nil
}

func (r *sqliteEventRepo) CountRawEvents(ctx context.Context, projectID string) (int64, error) {
	var (
		count int64
		err   error
	)
	if projectID == "" {
		err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM raw_events").Scan(&count)
	} else {
		err = r.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM raw_events WHERE project_id = ?", projectID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count raw events: %w", err)
	}
	return count, nil
}

// nullIfEmpty maps "" to SQL NULL for optional text columns.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

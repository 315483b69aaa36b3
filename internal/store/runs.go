package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// RecordMetaRun appends one audit row for a meta-analysis phase execution.
func (s *Store) RecordMetaRun(ctx context.Context, run *MetaRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	metadata, err := marshalJSON(run.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO meta_analysis_runs (
            id, run_type, status, started_at, finished_at, duration_ms,
            processed_items, metadata, error_message
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.RunType,
		run.Status,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		run.DurationMS,
		run.ProcessedItems,
		metadata,
		nullableString(run.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("insert meta run: %w", err)
	}
	return nil
}

// ListMetaRuns returns the most recent audit rows, newest first.
func (s *Store) ListMetaRuns(ctx context.Context, limit int) ([]*MetaRun, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_type, status, started_at, finished_at, duration_ms,
                processed_items, metadata, error_message
         FROM meta_analysis_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list meta runs: %w", err)
	}
	defer rows.Close()

	var runs []*MetaRun
	for rows.Next() {
		var (
			run        MetaRun
			startedAt  string
			finishedAt string
			metadata   sql.NullString
			errMsg     sql.NullString
		)
		if err := rows.Scan(
			&run.ID,
			&run.RunType,
			&run.Status,
			&startedAt,
			&finishedAt,
			&run.DurationMS,
			&run.ProcessedItems,
			&metadata,
			&errMsg,
		); err != nil {
			return nil, fmt.Errorf("scan meta run: %w", err)
		}
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if run.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(metadata, &run.Metadata); err != nil {
			return nil, err
		}
		run.ErrorMessage = errMsg.String
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meta runs: %w", err)
	}
	return runs, nil
}

// GetConfigValues returns all stored runtime configuration key/value pairs
// as raw JSON strings.
func (s *Store) GetConfigValues(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM runtime_config`)
	if err != nil {
		return nil, fmt.Errorf("load runtime config: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan runtime config: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runtime config: %w", err)
	}
	return values, nil
}

// SetConfigValues upserts runtime configuration key/value pairs in one
// transaction.
func (s *Store) SetConfigValues(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for key, value := range values {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO runtime_config (key, value, updated_at) VALUES (?, ?, ?)
                 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				key, value, formatTime(nowUTC()),
			); err != nil {
				return fmt.Errorf("upsert runtime config %s: %w", key, err)
			}
		}
		return nil
	})
}

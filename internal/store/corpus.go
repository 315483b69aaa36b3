package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// GetSnapshots returns existing corpus snapshots for the given story IDs.
func (s *Store) GetSnapshots(ctx context.Context, storyIDs []string) (map[string]*CorpusSnapshot, error) {
	snapshots := make(map[string]*CorpusSnapshot, len(storyIDs))
	if len(storyIDs) == 0 {
		return snapshots, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(storyIDs)), ", ")
	args := make([]any, len(storyIDs))
	for i, id := range storyIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT story_id, updated_at, last_chapter_number, word_count, token_count, data
         FROM corpus_snapshots WHERE story_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("load corpus snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			snapshot  CorpusSnapshot
			updatedAt string
			data      sql.NullString
		)
		if err := rows.Scan(
			&snapshot.StoryID,
			&updatedAt,
			&snapshot.LastChapterNumber,
			&snapshot.WordCount,
			&snapshot.TokenCount,
			&data,
		); err != nil {
			return nil, fmt.Errorf("scan corpus snapshot: %w", err)
		}
		if snapshot.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(data, &snapshot.Data); err != nil {
			return nil, err
		}
		snapshots[snapshot.StoryID] = &snapshot
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corpus snapshots: %w", err)
	}
	return snapshots, nil
}

// UpsertSnapshot writes a rebuilt corpus snapshot, replacing any prior row.
func (s *Store) UpsertSnapshot(ctx context.Context, snapshot *CorpusSnapshot) error {
	data, err := marshalJSON(snapshot.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO corpus_snapshots (story_id, updated_at, last_chapter_number, word_count, token_count, data)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(story_id) DO UPDATE SET
            updated_at = excluded.updated_at,
            last_chapter_number = excluded.last_chapter_number,
            word_count = excluded.word_count,
            token_count = excluded.token_count,
            data = excluded.data`,
		snapshot.StoryID,
		formatTime(snapshot.UpdatedAt),
		snapshot.LastChapterNumber,
		snapshot.WordCount,
		snapshot.TokenCount,
		data,
	)
	if err != nil {
		return fmt.Errorf("upsert corpus snapshot: %w", err)
	}
	return nil
}

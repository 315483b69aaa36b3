package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const storyColumns = `id, title, premise, status, created_at, completed_at, completion_reason,
    chapter_count, total_tokens, last_chapter_at, cover_image_url, theme_data, chaos_params, content_settings`

// NewStory carries the fields needed to insert a freshly spawned story.
type NewStory struct {
	Title           string
	Premise         string
	ThemeData       any
	ChaosParams     map[string]float64
	ContentSettings map[string]float64
}

// CreateStory inserts a new active story and returns the stored row.
func (s *Store) CreateStory(ctx context.Context, input NewStory) (*Story, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	themeData, err := marshalJSON(input.ThemeData)
	if err != nil {
		return nil, err
	}
	chaos, err := marshalJSON(input.ChaosParams)
	if err != nil {
		return nil, err
	}
	content, err := marshalJSON(input.ContentSettings)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO stories (
            id, title, premise, status, created_at,
            chapter_count, total_tokens, theme_data, chaos_params, content_settings
        ) VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?, ?)`,
		id,
		input.Title,
		input.Premise,
		StatusActive,
		formatTime(now),
		themeData,
		chaos,
		content,
	)
	if err != nil {
		return nil, fmt.Errorf("insert story: %w", err)
	}

	return s.GetStory(ctx, id)
}

// GetStory fetches a single story by ID.
func (s *Store) GetStory(ctx context.Context, id string) (*Story, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+storyColumns+` FROM stories WHERE id = ?`, id)
	story, err := scanStory(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("story %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return story, nil
}

// ListStories returns stories filtered by optional statuses, oldest first.
func (s *Store) ListStories(ctx context.Context, statuses ...StoryStatus) ([]*Story, error) {
	query := `SELECT ` + storyColumns + ` FROM stories`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (`
		for i, status := range statuses {
			if i > 0 {
				query += `, `
			}
			query += `?`
			args = append(args, string(status))
		}
		query += `)`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	return collectStories(rows)
}

// CountActive returns the number of active stories.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM stories WHERE status = ?`, StatusActive).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active stories: %w", err)
	}
	return count, nil
}

// NewestActive returns up to limit active stories, newest first. Population
// shrink retires the most recently spawned stories first.
func (s *Store) NewestActive(ctx context.Context, limit int) ([]*Story, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+storyColumns+` FROM stories WHERE status = ? ORDER BY created_at DESC LIMIT ?`,
		StatusActive, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list newest active stories: %w", err)
	}
	defer rows.Close()

	return collectStories(rows)
}

// CompletedWithoutCover returns completed stories missing cover art, oldest
// completion first, capped at limit.
func (s *Store) CompletedWithoutCover(ctx context.Context, limit int) ([]*Story, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+storyColumns+` FROM stories
         WHERE status = ? AND (cover_image_url IS NULL OR cover_image_url = '')
         ORDER BY completed_at ASC LIMIT ?`,
		StatusCompleted, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list stories missing covers: %w", err)
	}
	defer rows.Close()

	return collectStories(rows)
}

// CompleteStory transitions an active story to completed. Returns false if
// the story was already completed; the transition is strictly one-way.
func (s *Store) CompleteStory(ctx context.Context, id, reason string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE stories SET status = ?, completed_at = ?, completion_reason = ?
         WHERE id = ? AND status = ?`,
		StatusCompleted, formatTime(now), reason, id, StatusActive,
	)
	if err != nil {
		return false, fmt.Errorf("complete story: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete story rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetCoverImage records a generated cover image URL.
func (s *Store) SetCoverImage(ctx context.Context, id, url string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE stories SET cover_image_url = ? WHERE id = ?`, url, id)
	if err != nil {
		return fmt.Errorf("set cover image: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set cover image rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("story %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStory(row rowScanner) (*Story, error) {
	var (
		story            Story
		status           string
		createdAt        string
		completedAt      sql.NullString
		completionReason sql.NullString
		lastChapterAt    sql.NullString
		coverImageURL    sql.NullString
		themeData        sql.NullString
		chaosParams      sql.NullString
		contentSettings  sql.NullString
	)

	err := row.Scan(
		&story.ID,
		&story.Title,
		&story.Premise,
		&status,
		&createdAt,
		&completedAt,
		&completionReason,
		&story.ChapterCount,
		&story.TotalTokens,
		&lastChapterAt,
		&coverImageURL,
		&themeData,
		&chaosParams,
		&contentSettings,
	)
	if err != nil {
		return nil, err
	}

	story.Status = StoryStatus(status)
	if story.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if story.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	if story.LastChapterAt, err = parseTimePtr(lastChapterAt); err != nil {
		return nil, err
	}
	story.CompletionReason = completionReason.String
	story.CoverImageURL = coverImageURL.String
	if err := unmarshalJSON(themeData, &story.ThemeData); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(chaosParams, &story.ChaosParams); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(contentSettings, &story.ContentSettings); err != nil {
		return nil, err
	}
	return &story, nil
}

func collectStories(rows *sql.Rows) ([]*Story, error) {
	var stories []*Story
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		stories = append(stories, story)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return stories, nil
}

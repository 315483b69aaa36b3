package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewChapter carries the generation output persisted as a chapter.
type NewChapter struct {
	StoryID          string
	ChapterNumber    int
	Content          string
	TokensUsed       int
	GenerationTimeMS int
	ModelUsed        string
	ChaosReadings    map[string]float64
	ContentLevels    map[string]float64
}

// AppendChapter inserts a chapter and advances the parent story's
// chapter_count, total_tokens, and last_chapter_at in one transaction.
func (s *Store) AppendChapter(ctx context.Context, input NewChapter) (*Chapter, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	chaos, err := marshalJSON(input.ChaosReadings)
	if err != nil {
		return nil, err
	}
	levels, err := marshalJSON(input.ContentLevels)
	if err != nil {
		return nil, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO chapters (
                id, story_id, chapter_number, content, created_at,
                tokens_used, generation_time_ms, model_used, chaos_readings, content_levels
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id,
			input.StoryID,
			input.ChapterNumber,
			input.Content,
			formatTime(now),
			input.TokensUsed,
			input.GenerationTimeMS,
			nullableString(input.ModelUsed),
			chaos,
			levels,
		)
		if err != nil {
			return fmt.Errorf("insert chapter: %w", err)
		}

		res, err := tx.ExecContext(
			ctx,
			`UPDATE stories SET chapter_count = ?, total_tokens = total_tokens + ?, last_chapter_at = ?
             WHERE id = ?`,
			input.ChapterNumber,
			input.TokensUsed,
			formatTime(now),
			input.StoryID,
		)
		if err != nil {
			return fmt.Errorf("advance story counters: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("advance story rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("story %s: %w", input.StoryID, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetChapter(ctx, id)
}

// GetChapter fetches a single chapter by ID.
func (s *Store) GetChapter(ctx context.Context, id string) (*Chapter, error) {
	row := s.db.QueryRowContext(ctx, chapterQuery+` WHERE id = ?`, id)
	chapter, err := scanChapter(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("chapter %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return chapter, nil
}

// ListChapters returns a story's chapters in reading order.
func (s *Store) ListChapters(ctx context.Context, storyID string) ([]*Chapter, error) {
	rows, err := s.db.QueryContext(
		ctx,
		chapterQuery+` WHERE story_id = ? ORDER BY chapter_number ASC`,
		storyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	return collectChapters(rows)
}

// RecentChapters returns up to limit of the story's latest chapters, still
// in reading order.
func (s *Store) RecentChapters(ctx context.Context, storyID string, limit int) ([]*Chapter, error) {
	rows, err := s.db.QueryContext(
		ctx,
		chapterQuery+` WHERE story_id = ? ORDER BY chapter_number DESC LIMIT ?`,
		storyID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent chapters: %w", err)
	}
	defer rows.Close()

	chapters, err := collectChapters(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(chapters)-1; i < j; i, j = i+1, j-1 {
		chapters[i], chapters[j] = chapters[j], chapters[i]
	}
	return chapters, nil
}

// InsertEvaluation appends a quality checkpoint record.
func (s *Store) InsertEvaluation(ctx context.Context, eval *Evaluation) error {
	if eval.ID == "" {
		eval.ID = uuid.NewString()
	}
	if eval.EvaluatedAt.IsZero() {
		eval.EvaluatedAt = time.Now().UTC()
	}

	scores, err := marshalJSON(eval.DimensionScores)
	if err != nil {
		return err
	}
	issues, err := marshalJSON(eval.Issues)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO story_evaluations (
            id, story_id, chapter_number, overall_score, dimension_scores,
            should_continue, reasoning, issues, evaluated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		eval.ID,
		eval.StoryID,
		eval.ChapterNumber,
		eval.OverallScore,
		scores,
		eval.ShouldContinue,
		nullableString(eval.Reasoning),
		issues,
		formatTime(eval.EvaluatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

// ListEvaluations returns a story's evaluations in checkpoint order.
func (s *Store) ListEvaluations(ctx context.Context, storyID string) ([]*Evaluation, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, story_id, chapter_number, overall_score, dimension_scores,
                should_continue, reasoning, issues, evaluated_at
         FROM story_evaluations WHERE story_id = ? ORDER BY chapter_number ASC`,
		storyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var evals []*Evaluation
	for rows.Next() {
		var (
			eval        Evaluation
			scores      sql.NullString
			reasoning   sql.NullString
			issues      sql.NullString
			evaluatedAt string
		)
		if err := rows.Scan(
			&eval.ID,
			&eval.StoryID,
			&eval.ChapterNumber,
			&eval.OverallScore,
			&scores,
			&eval.ShouldContinue,
			&reasoning,
			&issues,
			&evaluatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		if err := unmarshalJSON(scores, &eval.DimensionScores); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(issues, &eval.Issues); err != nil {
			return nil, err
		}
		eval.Reasoning = reasoning.String
		if eval.EvaluatedAt, err = parseTime(evaluatedAt); err != nil {
			return nil, err
		}
		evals = append(evals, &eval)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evaluations: %w", err)
	}
	return evals, nil
}

const chapterQuery = `SELECT id, story_id, chapter_number, content, created_at,
    tokens_used, generation_time_ms, model_used, chaos_readings, content_levels FROM chapters`

func scanChapter(row rowScanner) (*Chapter, error) {
	var (
		chapter    Chapter
		createdAt  string
		tokens     sql.NullInt64
		genTime    sql.NullInt64
		modelUsed  sql.NullString
		chaos      sql.NullString
		contentLvl sql.NullString
	)
	err := row.Scan(
		&chapter.ID,
		&chapter.StoryID,
		&chapter.ChapterNumber,
		&chapter.Content,
		&createdAt,
		&tokens,
		&genTime,
		&modelUsed,
		&chaos,
		&contentLvl,
	)
	if err != nil {
		return nil, err
	}
	if chapter.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	chapter.TokensUsed = int(tokens.Int64)
	chapter.GenerationTimeMS = int(genTime.Int64)
	chapter.ModelUsed = modelUsed.String
	if err := unmarshalJSON(chaos, &chapter.ChaosReadings); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(contentLvl, &chapter.ContentLevels); err != nil {
		return nil, err
	}
	return &chapter, nil
}

func collectChapters(rows *sql.Rows) ([]*Chapter, error) {
	var chapters []*Chapter
	for rows.Next() {
		chapter, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		chapters = append(chapters, chapter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapters: %w", err)
	}
	return chapters, nil
}

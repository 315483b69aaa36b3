package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReplaceExtraction deletes and reinserts a story's entities and themes in
// one transaction. Extraction output is always a full replacement, never a
// patch.
func (s *Store) ReplaceExtraction(ctx context.Context, storyID string, entities []*Entity, themes []*Theme) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM story_entities WHERE story_id = ?`, storyID); err != nil {
			return fmt.Errorf("clear story entities: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM story_themes WHERE story_id = ?`, storyID); err != nil {
			return fmt.Errorf("clear story themes: %w", err)
		}

		for _, entity := range entities {
			if entity.ID == "" {
				entity.ID = uuid.NewString()
			}
			aliases, err := marshalJSON(entity.Aliases)
			if err != nil {
				return err
			}
			supporting, err := marshalJSON(entity.SupportingChapters)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO story_entities (
                    id, story_id, name, entity_type, aliases, confidence,
                    first_seen_chapter, last_seen_chapter, occurrence_count,
                    supporting_chapters, updated_at
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				entity.ID,
				storyID,
				entity.Name,
				entity.EntityType,
				aliases,
				entity.Confidence,
				nullableInt(entity.FirstSeenChapter),
				nullableInt(entity.LastSeenChapter),
				entity.OccurrenceCount,
				supporting,
				formatTime(entity.UpdatedAt),
			); err != nil {
				return fmt.Errorf("insert entity %q: %w", entity.Name, err)
			}
		}

		for _, theme := range themes {
			if theme.ID == "" {
				theme.ID = uuid.NewString()
			}
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO story_themes (
                    id, story_id, name, weight, confidence, source, rank, original_name, updated_at
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				theme.ID,
				storyID,
				theme.Name,
				theme.Weight,
				theme.Confidence,
				nullableString(theme.Source),
				theme.Rank,
				nullableString(theme.OriginalName),
				formatTime(theme.UpdatedAt),
			); err != nil {
				return fmt.Errorf("insert theme %q: %w", theme.Name, err)
			}
		}
		return nil
	})
}

// ListEntities returns a story's extracted entities ordered by name.
func (s *Store) ListEntities(ctx context.Context, storyID string) ([]*Entity, error) {
	return s.queryEntities(ctx, entityQuery+` WHERE story_id = ? ORDER BY name COLLATE NOCASE ASC`, storyID)
}

// AllEntities returns every extracted entity across all stories.
func (s *Store) AllEntities(ctx context.Context) ([]*Entity, error) {
	return s.queryEntities(ctx, entityQuery+` ORDER BY story_id, name COLLATE NOCASE ASC`)
}

// ListThemes returns a story's themes ordered by rank within source.
func (s *Store) ListThemes(ctx context.Context, storyID string) ([]*Theme, error) {
	return s.queryThemes(ctx, themeQuery+` WHERE story_id = ? ORDER BY source, rank ASC`, storyID)
}

// AllThemes returns every theme across all stories.
func (s *Store) AllThemes(ctx context.Context) ([]*Theme, error) {
	return s.queryThemes(ctx, themeQuery+` ORDER BY story_id, source, rank ASC`)
}

// CreateOverride validates and persists an entity override rule. A nil
// storyID makes the rule global.
func (s *Store) CreateOverride(ctx context.Context, storyID *string, name, action, targetName, notes string) (*EntityOverride, error) {
	parsed, err := ParseOverrideAction(action)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("override name is required")
	}
	if parsed == OverrideMerge && targetName == "" {
		return nil, fmt.Errorf("target_name is required for merge overrides")
	}

	override := &EntityOverride{
		ID:         uuid.NewString(),
		StoryID:    storyID,
		Name:       name,
		Action:     parsed,
		TargetName: targetName,
		Notes:      notes,
		CreatedAt:  time.Now().UTC(),
	}
	override.UpdatedAt = override.CreatedAt

	var storyValue any
	if storyID != nil {
		storyValue = *storyID
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO entity_overrides (id, story_id, name, action, target_name, notes, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		override.ID,
		storyValue,
		override.Name,
		string(override.Action),
		nullableString(override.TargetName),
		nullableString(override.Notes),
		formatTime(override.CreatedAt),
		formatTime(override.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert override: %w", err)
	}
	return override, nil
}

// DeleteOverride removes an override rule by ID.
func (s *Store) DeleteOverride(ctx context.Context, id string) (*EntityOverride, error) {
	override, err := s.getOverride(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entity_overrides WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete override: %w", err)
	}
	return override, nil
}

// OverridesForStory returns rules scoped to the story plus global rules.
func (s *Store) OverridesForStory(ctx context.Context, storyID string) ([]*EntityOverride, error) {
	return s.queryOverrides(
		ctx,
		overrideQuery+` WHERE story_id = ? OR story_id IS NULL ORDER BY created_at ASC`,
		storyID,
	)
}

// ListOverrides returns every override rule.
func (s *Store) ListOverrides(ctx context.Context) ([]*EntityOverride, error) {
	return s.queryOverrides(ctx, overrideQuery+` ORDER BY created_at ASC`)
}

const entityQuery = `SELECT id, story_id, name, entity_type, aliases, confidence,
    first_seen_chapter, last_seen_chapter, occurrence_count, supporting_chapters, updated_at
    FROM story_entities`

const themeQuery = `SELECT id, story_id, name, weight, confidence, source, rank, original_name, updated_at
    FROM story_themes`

const overrideQuery = `SELECT id, story_id, name, action, target_name, notes, created_at, updated_at
    FROM entity_overrides`

func (s *Store) queryEntities(ctx context.Context, query string, args ...any) ([]*Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		var (
			entity     Entity
			aliases    sql.NullString
			firstSeen  sql.NullInt64
			lastSeen   sql.NullInt64
			supporting sql.NullString
			updatedAt  string
		)
		if err := rows.Scan(
			&entity.ID,
			&entity.StoryID,
			&entity.Name,
			&entity.EntityType,
			&aliases,
			&entity.Confidence,
			&firstSeen,
			&lastSeen,
			&entity.OccurrenceCount,
			&supporting,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		if err := unmarshalJSON(aliases, &entity.Aliases); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(supporting, &entity.SupportingChapters); err != nil {
			return nil, err
		}
		if firstSeen.Valid {
			v := int(firstSeen.Int64)
			entity.FirstSeenChapter = &v
		}
		if lastSeen.Valid {
			v := int(lastSeen.Int64)
			entity.LastSeenChapter = &v
		}
		if entity.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		entities = append(entities, &entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return entities, nil
}

func (s *Store) queryThemes(ctx context.Context, query string, args ...any) ([]*Theme, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query themes: %w", err)
	}
	defer rows.Close()

	var themes []*Theme
	for rows.Next() {
		var (
			theme     Theme
			source    sql.NullString
			original  sql.NullString
			updatedAt string
		)
		if err := rows.Scan(
			&theme.ID,
			&theme.StoryID,
			&theme.Name,
			&theme.Weight,
			&theme.Confidence,
			&source,
			&theme.Rank,
			&original,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan theme: %w", err)
		}
		theme.Source = source.String
		theme.OriginalName = original.String
		var err error
		if theme.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		themes = append(themes, &theme)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate themes: %w", err)
	}
	return themes, nil
}

func (s *Store) getOverride(ctx context.Context, id string) (*EntityOverride, error) {
	overrides, err := s.queryOverrides(ctx, overrideQuery+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(overrides) == 0 {
		return nil, fmt.Errorf("override %s: %w", id, ErrNotFound)
	}
	return overrides[0], nil
}

func (s *Store) queryOverrides(ctx context.Context, query string, args ...any) ([]*EntityOverride, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	var overrides []*EntityOverride
	for rows.Next() {
		var (
			override   EntityOverride
			storyID    sql.NullString
			action     string
			targetName sql.NullString
			notes      sql.NullString
			createdAt  string
			updatedAt  string
		)
		if err := rows.Scan(
			&override.ID,
			&storyID,
			&override.Name,
			&action,
			&targetName,
			&notes,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		if storyID.Valid {
			v := storyID.String
			override.StoryID = &v
		}
		parsed, err := ParseOverrideAction(action)
		if err != nil {
			return nil, fmt.Errorf("override %s: %w", override.ID, err)
		}
		override.Action = parsed
		override.TargetName = targetName.String
		override.Notes = notes.String
		if override.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if override.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		overrides = append(overrides, &override)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overrides: %w", err)
	}
	return overrides, nil
}

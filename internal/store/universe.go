package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// ReplaceUniverse replaces the full link/cluster/membership tables with a
// freshly computed graph in one transaction.
func (s *Store) ReplaceUniverse(ctx context.Context, links []*UniverseLink, clusters []*UniverseCluster, memberships []*ClusterMembership) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"universe_links", "cluster_memberships", "universe_clusters"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		for _, link := range links {
			if link.ID == "" {
				link.ID = uuid.NewString()
			}
			entities, err := marshalJSON(link.SharedEntities)
			if err != nil {
				return err
			}
			themes, err := marshalJSON(link.SharedThemes)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO universe_links (id, source_story_id, target_story_id, weight, shared_entities, shared_themes, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				link.ID,
				link.SourceStoryID,
				link.TargetStoryID,
				link.Weight,
				entities,
				themes,
				formatTime(link.UpdatedAt),
			); err != nil {
				return fmt.Errorf("insert universe link: %w", err)
			}
		}

		for _, cluster := range clusters {
			titles, err := marshalJSON(cluster.StoryTitles)
			if err != nil {
				return err
			}
			topEntities, err := marshalJSON(cluster.TopEntities)
			if err != nil {
				return err
			}
			topThemes, err := marshalJSON(cluster.TopThemes)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO universe_clusters (id, label, size, cohesion, story_titles, top_entities, top_themes, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				cluster.ID,
				cluster.Label,
				cluster.Size,
				cluster.Cohesion,
				titles,
				topEntities,
				topThemes,
				formatTime(cluster.UpdatedAt),
			); err != nil {
				return fmt.Errorf("insert universe cluster: %w", err)
			}
		}

		for _, membership := range memberships {
			related, err := marshalJSON(membership.RelatedStories)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO cluster_memberships (story_id, cluster_id, weight, related_stories, updated_at)
                 VALUES (?, ?, ?, ?, ?)`,
				membership.StoryID,
				membership.ClusterID,
				membership.Weight,
				related,
				formatTime(membership.UpdatedAt),
			); err != nil {
				return fmt.Errorf("insert cluster membership: %w", err)
			}
		}
		return nil
	})
}

// ListLinks returns every universe link.
func (s *Store) ListLinks(ctx context.Context) ([]*UniverseLink, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, source_story_id, target_story_id, weight, shared_entities, shared_themes, updated_at
         FROM universe_links ORDER BY weight DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list universe links: %w", err)
	}
	defer rows.Close()

	var links []*UniverseLink
	for rows.Next() {
		var (
			link      UniverseLink
			entities  sql.NullString
			themes    sql.NullString
			updatedAt string
		)
		if err := rows.Scan(
			&link.ID,
			&link.SourceStoryID,
			&link.TargetStoryID,
			&link.Weight,
			&entities,
			&themes,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan universe link: %w", err)
		}
		if err := unmarshalJSON(entities, &link.SharedEntities); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(themes, &link.SharedThemes); err != nil {
			return nil, err
		}
		if link.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		links = append(links, &link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate universe links: %w", err)
	}
	return links, nil
}

// ListClusters returns every universe cluster, largest first.
func (s *Store) ListClusters(ctx context.Context) ([]*UniverseCluster, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, label, size, cohesion, story_titles, top_entities, top_themes, updated_at
         FROM universe_clusters ORDER BY size DESC, label ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list universe clusters: %w", err)
	}
	defer rows.Close()

	var clusters []*UniverseCluster
	for rows.Next() {
		var (
			cluster     UniverseCluster
			label       sql.NullString
			titles      sql.NullString
			topEntities sql.NullString
			topThemes   sql.NullString
			updatedAt   string
		)
		if err := rows.Scan(
			&cluster.ID,
			&label,
			&cluster.Size,
			&cluster.Cohesion,
			&titles,
			&topEntities,
			&topThemes,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan universe cluster: %w", err)
		}
		cluster.Label = label.String
		if err := unmarshalJSON(titles, &cluster.StoryTitles); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(topEntities, &cluster.TopEntities); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(topThemes, &cluster.TopThemes); err != nil {
			return nil, err
		}
		var err error
		if cluster.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		clusters = append(clusters, &cluster)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate universe clusters: %w", err)
	}
	return clusters, nil
}

// ListMemberships returns every cluster membership.
func (s *Store) ListMemberships(ctx context.Context) ([]*ClusterMembership, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT story_id, cluster_id, weight, related_stories, updated_at
         FROM cluster_memberships ORDER BY cluster_id, story_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list cluster memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*ClusterMembership
	for rows.Next() {
		var (
			membership ClusterMembership
			related    sql.NullString
			updatedAt  string
		)
		if err := rows.Scan(
			&membership.StoryID,
			&membership.ClusterID,
			&membership.Weight,
			&related,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan cluster membership: %w", err)
		}
		if err := unmarshalJSON(related, &membership.RelatedStories); err != nil {
			return nil, err
		}
		var err error
		if membership.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		memberships = append(memberships, &membership)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cluster memberships: %w", err)
	}
	return memberships, nil
}

// Package universe builds the cross-story similarity graph: weighted links
// from shared entities and themes, and connected-component clusters over
// those links. Every refresh fully replaces the stored graph; weights are
// raw counts, not probabilities, and are deliberately left unnormalized.
package universe

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"storyloom/internal/logging"
	"storyloom/internal/store"
)

const (
	entityWeight = 1.0
	themeWeight  = 0.5
	topListLimit = 5
)

var titleCaser = cases.Title(language.English)

// RefreshResult summarizes one universe graph rebuild.
type RefreshResult struct {
	Stories    int
	Links      int
	Clusters   int
	StartedAt  time.Time
	FinishedAt time.Time
	DurationMS float64
}

// Metadata returns the audit-row payload for this pass.
func (r *RefreshResult) Metadata() map[string]any {
	return map[string]any{
		"stories":     r.Stories,
		"links":       r.Links,
		"clusters":    r.Clusters,
		"duration_ms": r.DurationMS,
	}
}

// Builder rebuilds the universe graph from the extracted entities and
// themes. Edges lighter than MinWeight are discarded.
type Builder struct {
	store     *store.Store
	logger    *slog.Logger
	minWeight float64
}

func NewBuilder(st *store.Store, logger *slog.Logger, minWeight float64) *Builder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Builder{
		store:     st,
		logger:    logging.NewComponentLogger(logger, "universe"),
		minWeight: minWeight,
	}
}

type edge struct {
	left           string
	right          string
	weight         float64
	sharedEntities []string
	sharedThemes   []string
}

// Refresh recomputes links and clusters for all stories and replaces the
// stored graph in one transaction.
func (b *Builder) Refresh(ctx context.Context) (*RefreshResult, error) {
	startedAt := time.Now().UTC()
	timer := time.Now()

	stories, err := b.store.ListStories(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading stories: %w", err)
	}
	result := &RefreshResult{StartedAt: startedAt}
	if len(stories) == 0 {
		if err := b.store.ReplaceUniverse(ctx, nil, nil, nil); err != nil {
			return nil, fmt.Errorf("clearing universe tables: %w", err)
		}
		result.FinishedAt = time.Now().UTC()
		result.DurationMS = float64(time.Since(timer).Microseconds()) / 1000
		return result, nil
	}

	titles := make(map[string]string, len(stories))
	ids := make([]string, 0, len(stories))
	for _, story := range stories {
		titles[story.ID] = story.Title
		ids = append(ids, story.ID)
	}
	sort.Strings(ids)

	allEntities, err := b.store.AllEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading entities: %w", err)
	}
	allThemes, err := b.store.AllThemes(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading themes: %w", err)
	}

	entityMap := make(map[string][]*store.Entity)
	for _, entity := range allEntities {
		entityMap[entity.StoryID] = append(entityMap[entity.StoryID], entity)
	}
	themeMap := make(map[string][]*store.Theme)
	for _, theme := range allThemes {
		themeMap[theme.StoryID] = append(themeMap[theme.StoryID], theme)
	}

	edges := b.buildEdges(ids, entityMap, themeMap)
	links := buildLinks(edges)
	clusters, memberships := buildClusters(ids, edges, entityMap, themeMap, titles)

	if err := b.store.ReplaceUniverse(ctx, links, clusters, memberships); err != nil {
		return nil, fmt.Errorf("replacing universe graph: %w", err)
	}

	result.Stories = len(ids)
	result.Links = len(links)
	result.Clusters = len(clusters)
	result.FinishedAt = time.Now().UTC()
	result.DurationMS = float64(time.Since(timer).Microseconds()) / 1000
	b.logger.Debug("universe graph rebuilt",
		logging.Int("stories", result.Stories),
		logging.Int("links", result.Links),
		logging.Int("clusters", result.Clusters),
	)
	return result, nil
}

// buildEdges scores every story pair: shared entity names count 1.0 each,
// shared themes (compared case-insensitively) count 0.5 each.
func (b *Builder) buildEdges(ids []string, entityMap map[string][]*store.Entity, themeMap map[string][]*store.Theme) []edge {
	entityNames := make(map[string]map[string]struct{}, len(ids))
	themeNames := make(map[string]map[string]struct{}, len(ids))
	for _, id := range ids {
		entities := make(map[string]struct{}, len(entityMap[id]))
		for _, entity := range entityMap[id] {
			entities[entity.Name] = struct{}{}
		}
		entityNames[id] = entities

		themes := make(map[string]struct{}, len(themeMap[id]))
		for _, theme := range themeMap[id] {
			themes[strings.ToLower(theme.Name)] = struct{}{}
		}
		themeNames[id] = themes
	}

	var edges []edge
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			left, right := ids[i], ids[j]
			sharedEntities := intersect(entityNames[left], entityNames[right])
			sharedThemes := intersect(themeNames[left], themeNames[right])
			for k, theme := range sharedThemes {
				sharedThemes[k] = titleCaser.String(theme)
			}
			sort.Strings(sharedThemes)

			weight := float64(len(sharedEntities))*entityWeight + float64(len(sharedThemes))*themeWeight
			if weight < b.minWeight {
				continue
			}
			edges = append(edges, edge{
				left:           left,
				right:          right,
				weight:         weight,
				sharedEntities: sharedEntities,
				sharedThemes:   sharedThemes,
			})
		}
	}
	return edges
}

func buildLinks(edges []edge) []*store.UniverseLink {
	now := time.Now().UTC()
	links := make([]*store.UniverseLink, 0, len(edges))
	for _, e := range edges {
		links = append(links, &store.UniverseLink{
			ID:             uuid.NewString(),
			SourceStoryID:  e.left,
			TargetStoryID:  e.right,
			Weight:         e.weight,
			SharedEntities: e.sharedEntities,
			SharedThemes:   e.sharedThemes,
			UpdatedAt:      now,
		})
	}
	return links
}

// buildClusters finds connected components over the edge set. Stories with
// no qualifying edges become singleton clusters with cohesion 0.
func buildClusters(ids []string, edges []edge, entityMap map[string][]*store.Entity, themeMap map[string][]*store.Theme, titles map[string]string) ([]*store.UniverseCluster, []*store.ClusterMembership) {
	adjacency := make(map[string]map[string]float64, len(ids))
	for _, id := range ids {
		adjacency[id] = make(map[string]float64)
	}
	for _, e := range edges {
		adjacency[e.left][e.right] = e.weight
		adjacency[e.right][e.left] = e.weight
	}

	now := time.Now().UTC()
	var clusters []*store.UniverseCluster
	var memberships []*store.ClusterMembership
	seen := make(map[string]struct{}, len(ids))

	for _, start := range ids {
		if _, done := seen[start]; done {
			continue
		}
		component := walkComponent(start, adjacency, seen)

		clusterID := uuid.NewString()
		clusters = append(clusters, &store.UniverseCluster{
			ID:          clusterID,
			Label:       fmt.Sprintf("Cluster %d", len(clusters)+1),
			Size:        len(component),
			Cohesion:    cohesion(component, adjacency),
			StoryTitles: mapTitles(component, titles),
			TopEntities: topEntities(component, entityMap),
			TopThemes:   topThemes(component, themeMap),
			UpdatedAt:   now,
		})

		for _, storyID := range component {
			var total float64
			related := make([]string, 0, len(adjacency[storyID]))
			for neighbor, weight := range adjacency[storyID] {
				total += weight
				related = append(related, neighbor)
			}
			sort.Strings(related)
			divisor := len(component) - 1
			if divisor < 1 {
				divisor = 1
			}
			memberships = append(memberships, &store.ClusterMembership{
				StoryID:        storyID,
				ClusterID:      clusterID,
				Weight:         total / float64(divisor),
				RelatedStories: related,
				UpdatedAt:      now,
			})
		}
	}
	return clusters, memberships
}

// walkComponent is an iterative depth-first traversal with an explicit
// stack; component membership is returned sorted for determinism.
func walkComponent(start string, adjacency map[string]map[string]float64, seen map[string]struct{}) []string {
	stack := []string{start}
	var component []string
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, done := seen[current]; done {
			continue
		}
		seen[current] = struct{}{}
		component = append(component, current)
		for neighbor := range adjacency[current] {
			if _, done := seen[neighbor]; !done {
				stack = append(stack, neighbor)
			}
		}
	}
	sort.Strings(component)
	return component
}

// cohesion is the mean weight across all member pairs, counting absent
// edges as zero. Singletons score exactly 0.
func cohesion(component []string, adjacency map[string]map[string]float64) float64 {
	if len(component) <= 1 {
		return 0.0
	}
	var total float64
	var pairs int
	for i := 0; i < len(component); i++ {
		for j := i + 1; j < len(component); j++ {
			total += adjacency[component[i]][component[j]]
			pairs++
		}
	}
	if pairs == 0 {
		return 0.0
	}
	return total / float64(pairs)
}

func mapTitles(component []string, titles map[string]string) []string {
	out := make([]string, 0, len(component))
	for _, id := range component {
		out = append(out, titles[id])
	}
	return out
}

// topEntities ranks entity names by summed occurrence counts across the
// component's stories.
func topEntities(component []string, entityMap map[string][]*store.Entity) []string {
	counts := make(map[string]int)
	var order []string
	for _, id := range component {
		for _, entity := range entityMap[id] {
			if counts[entity.Name] == 0 {
				order = append(order, entity.Name)
			}
			counts[entity.Name] += entity.OccurrenceCount
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > topListLimit {
		order = order[:topListLimit]
	}
	return order
}

func topThemes(component []string, themeMap map[string][]*store.Theme) []string {
	counts := make(map[string]int)
	var order []string
	for _, id := range component {
		for _, theme := range themeMap[id] {
			key := strings.ToLower(theme.Name)
			if counts[key] == 0 {
				order = append(order, key)
			}
			counts[key]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > topListLimit {
		order = order[:topListLimit]
	}
	out := make([]string, 0, len(order))
	for _, theme := range order {
		out = append(out, titleCaser.String(theme))
	}
	return out
}

func intersect(a, b map[string]struct{}) []string {
	var out []string
	for value := range a {
		if _, ok := b[value]; ok {
			out = append(out, value)
		}
	}
	sort.Strings(out)
	return out
}

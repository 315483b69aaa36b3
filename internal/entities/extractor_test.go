package entities_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"storyloom/internal/entities"
	"storyloom/internal/store"
	"storyloom/internal/testsupport"
)

func snapshotFor(story *store.Story, chapters ...string) *store.CorpusSnapshot {
	docs := make([]store.CorpusDocument, 0, len(chapters))
	for i, content := range chapters {
		docs = append(docs, store.CorpusDocument{
			ChapterNumber: i + 1,
			Content:       content,
			WordCount:     len(strings.Fields(content)),
		})
	}
	return &store.CorpusSnapshot{
		StoryID:           story.ID,
		UpdatedAt:         time.Now().UTC(),
		LastChapterNumber: len(chapters),
		WordCount:         1,
		Data: store.CorpusPayload{
			StoryID:  story.ID,
			Title:    story.Title,
			Premise:  story.Premise,
			Chapters: docs,
		},
	}
}

func TestRefreshMinesRecurringEntities(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	story := testsupport.NewStory(t, st, "Mining", "premise")
	snapshot := snapshotFor(story,
		"Voss walked the ridge. The wind ignored Voss entirely.",
		"Voss met the Iron Syndicate. Later the Iron Syndicate set rules. NASA was mentioned once.",
	)

	extractor := entities.NewExtractor(st, nil, 2)
	result, err := extractor.Refresh(ctx, []*store.Story{story}, map[string]*store.CorpusSnapshot{story.ID: snapshot})
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("expected one story processed, got %d", result.Processed)
	}

	rows, err := st.ListEntities(ctx, story.ID)
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	byName := make(map[string]*store.Entity, len(rows))
	for _, row := range rows {
		byName[row.Name] = row
	}

	voss := byName["Voss"]
	if voss == nil {
		t.Fatalf("expected Voss entity, got %v", names(rows))
	}
	if voss.OccurrenceCount != 3 {
		t.Fatalf("expected 3 occurrences of Voss, got %d", voss.OccurrenceCount)
	}
	if voss.EntityType != "character" {
		t.Fatalf("expected single word to classify as character, got %s", voss.EntityType)
	}
	if voss.Confidence < 0.89 || voss.Confidence > 0.91 {
		t.Fatalf("expected confidence 0.3+3/5=0.9, got %v", voss.Confidence)
	}
	if voss.FirstSeenChapter == nil || *voss.FirstSeenChapter != 1 {
		t.Fatalf("unexpected first seen chapter: %v", voss.FirstSeenChapter)
	}
	if voss.LastSeenChapter == nil || *voss.LastSeenChapter != 2 {
		t.Fatalf("unexpected last seen chapter: %v", voss.LastSeenChapter)
	}

	syndicate := byName["Iron Syndicate"]
	if syndicate == nil {
		t.Fatalf("expected Iron Syndicate entity, got %v", names(rows))
	}
	if syndicate.EntityType != "organization" {
		t.Fatalf("expected multi-word phrase to classify as organization, got %s", syndicate.EntityType)
	}

	// Below min_occurrences and fully uppercase are both dropped.
	if byName["NASA"] != nil {
		t.Fatal("fully uppercase token should be rejected")
	}
	if byName["The"] != nil {
		t.Fatal("stopword should be rejected")
	}
}

func TestRefreshAppliesMergeOverride(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	story := testsupport.NewStory(t, st, "Merge", "premise")
	if _, err := st.CreateOverride(ctx, nil, "Voss", "merge", "Captain Voss", ""); err != nil {
		t.Fatalf("CreateOverride failed: %v", err)
	}

	snapshot := snapshotFor(story,
		"Voss frowned. Voss waited. Voss left.",
		"Captain Voss returned. Captain Voss spoke.",
	)

	extractor := entities.NewExtractor(st, nil, 2)
	if _, err := extractor.Refresh(ctx, []*store.Story{story}, map[string]*store.CorpusSnapshot{story.ID: snapshot}); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	rows, err := st.ListEntities(ctx, story.ID)
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one merged entity, got %v", names(rows))
	}
	merged := rows[0]
	if merged.Name != "Captain Voss" {
		t.Fatalf("expected canonical name Captain Voss, got %q", merged.Name)
	}
	if merged.OccurrenceCount != 5 {
		t.Fatalf("expected summed occurrence count 5, got %d", merged.OccurrenceCount)
	}
	aliasSet := make(map[string]bool, len(merged.Aliases))
	for _, alias := range merged.Aliases {
		aliasSet[alias] = true
	}
	if !aliasSet["Voss"] || !aliasSet["Captain Voss"] {
		t.Fatalf("expected aliases to contain both names, got %v", merged.Aliases)
	}
}

func TestRefreshSuppressionIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	story := testsupport.NewStory(t, st, "Suppress", "premise")
	if _, err := st.CreateOverride(ctx, &story.ID, "Mara", "suppress", "", ""); err != nil {
		t.Fatalf("CreateOverride failed: %v", err)
	}

	snapshot := snapshotFor(story, "Mara spoke. Mara listened. Rivet answered Rivet.")
	extractor := entities.NewExtractor(st, nil, 2)
	snapshots := map[string]*store.CorpusSnapshot{story.ID: snapshot}

	for i := 0; i < 2; i++ {
		if _, err := extractor.Refresh(ctx, []*store.Story{story}, snapshots); err != nil {
			t.Fatalf("Refresh failed: %v", err)
		}
		rows, err := st.ListEntities(ctx, story.ID)
		if err != nil {
			t.Fatalf("ListEntities failed: %v", err)
		}
		for _, row := range rows {
			if row.Name == "Mara" {
				t.Fatalf("suppressed entity persisted on pass %d", i+1)
			}
		}
	}
}

func TestRefreshBuildsDeclaredAndKeywordThemes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	story, err := st.CreateStory(ctx, store.NewStory{
		Title:     "Themes",
		Premise:   "premise",
		ThemeData: []any{"Memory", "Escape"},
	})
	if err != nil {
		t.Fatalf("CreateStory failed: %v", err)
	}

	// "signal" and "static" repeat; declared "Memory" also appears as a
	// keyword candidate and must be deduplicated in favor of the declared row.
	snapshot := snapshotFor(story,
		"signal static signal static memory memory",
	)

	extractor := entities.NewExtractor(st, nil, 2)
	if _, err := extractor.Refresh(ctx, []*store.Story{story}, map[string]*store.CorpusSnapshot{story.ID: snapshot}); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	themes, err := st.ListThemes(ctx, story.ID)
	if err != nil {
		t.Fatalf("ListThemes failed: %v", err)
	}
	byName := make(map[string]*store.Theme, len(themes))
	for _, theme := range themes {
		byName[theme.Name] = theme
	}

	memory := byName["Memory"]
	if memory == nil {
		t.Fatalf("expected declared theme Memory, got %d themes", len(themes))
	}
	if memory.Source != store.ThemeSourceDeclared || memory.Weight != 1.0 || memory.Confidence != 0.6 {
		t.Fatalf("declared theme misattributed: %+v", memory)
	}

	signal := byName["Signal"]
	if signal == nil {
		t.Fatal("expected keyword theme Signal")
	}
	if signal.Source != store.ThemeSourceKeyword || signal.Confidence != 0.45 {
		t.Fatalf("keyword theme misattributed: %+v", signal)
	}
	if signal.Weight > 1.0 || signal.Weight < 0.3 {
		t.Fatalf("keyword weight out of band: %v", signal.Weight)
	}

	// The keyword duplicate of the declared theme must not appear twice.
	count := 0
	for _, theme := range themes {
		if strings.EqualFold(theme.Name, "memory") {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected a single Memory theme, got %d", count)
	}
}

func names(rows []*store.Entity) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Name)
	}
	return out
}

package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"storyloom/internal/store"
	"storyloom/internal/testsupport"
)

func TestOpenAppliesMigrations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	story, err := st.CreateStory(ctx, store.NewStory{
		Title:     "The Salt Meridian",
		Premise:   "A cartographer maps a sea that refuses to stay still.",
		ThemeData: []any{"maps", "obsession"},
	})
	if err != nil {
		t.Fatalf("CreateStory failed: %v", err)
	}
	if story.ID == "" {
		t.Fatal("expected story ID to be assigned")
	}
	if story.Status != store.StatusActive {
		t.Fatalf("expected active status, got %s", story.Status)
	}

	fetched, err := st.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory failed: %v", err)
	}
	if fetched.Title != "The Salt Meridian" {
		t.Fatalf("unexpected fetched story: %#v", fetched)
	}
}

func TestGetStoryNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	_, err := st.GetStory(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendChapterAdvancesStory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	story := testsupport.NewStory(t, st, "Ember Circuit", "premise")

	chapter, err := st.AppendChapter(ctx, store.NewChapter{
		StoryID:       story.ID,
		ChapterNumber: 1,
		Content:       "The forge city woke before its people did.",
		TokensUsed:    120,
		ModelUsed:     "test-model",
	})
	if err != nil {
		t.Fatalf("AppendChapter failed: %v", err)
	}
	if chapter.ChapterNumber != 1 {
		t.Fatalf("unexpected chapter number %d", chapter.ChapterNumber)
	}

	updated, err := st.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory failed: %v", err)
	}
	if updated.ChapterCount != 1 {
		t.Fatalf("expected chapter_count 1, got %d", updated.ChapterCount)
	}
	if updated.TotalTokens != 120 {
		t.Fatalf("expected total_tokens 120, got %d", updated.TotalTokens)
	}
	if updated.LastChapterAt == nil {
		t.Fatal("expected last_chapter_at to be set")
	}
}

func TestAppendChapterRejectsDuplicateNumber(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	story := testsupport.NewStory(t, st, "Dup", "premise")
	testsupport.AppendChapter(t, st, story.ID, 1, "one")

	_, err := st.AppendChapter(ctx, store.NewChapter{
		StoryID:       story.ID,
		ChapterNumber: 1,
		Content:       "again",
	})
	if err == nil {
		t.Fatal("expected unique constraint violation")
	}
}

func TestCompleteStoryIsOneWay(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	story := testsupport.NewStory(t, st, "One Way", "premise")

	changed, err := st.CompleteStory(ctx, story.ID, "Reached max chapters")
	if err != nil {
		t.Fatalf("CompleteStory failed: %v", err)
	}
	if !changed {
		t.Fatal("expected first completion to report a change")
	}

	changed, err = st.CompleteStory(ctx, story.ID, "second attempt")
	if err != nil {
		t.Fatalf("CompleteStory failed: %v", err)
	}
	if changed {
		t.Fatal("expected second completion to be a no-op")
	}

	completed, err := st.GetStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("GetStory failed: %v", err)
	}
	if completed.Status != store.StatusCompleted {
		t.Fatalf("expected completed status, got %s", completed.Status)
	}
	if completed.CompletionReason != "Reached max chapters" {
		t.Fatalf("expected original completion reason preserved, got %q", completed.CompletionReason)
	}
}

func TestRecentChaptersReturnsReadingOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	story := testsupport.NewStory(t, st, "Ordered", "premise")
	for i := 1; i <= 5; i++ {
		testsupport.AppendChapter(t, st, story.ID, i, "chapter content")
	}

	recent, err := st.RecentChapters(ctx, story.ID, 3)
	if err != nil {
		t.Fatalf("RecentChapters failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 chapters, got %d", len(recent))
	}
	for i, chapter := range recent {
		if chapter.ChapterNumber != i+3 {
			t.Fatalf("expected chapter %d at index %d, got %d", i+3, i, chapter.ChapterNumber)
		}
	}
}

func TestCompletedWithoutCover(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	covered := testsupport.NewStory(t, st, "Covered", "premise")
	uncovered := testsupport.NewStory(t, st, "Uncovered", "premise")
	active := testsupport.NewStory(t, st, "Active", "premise")
	_ = active

	for _, id := range []string{covered.ID, uncovered.ID} {
		if _, err := st.CompleteStory(ctx, id, "done"); err != nil {
			t.Fatalf("CompleteStory failed: %v", err)
		}
	}
	if err := st.SetCoverImage(ctx, covered.ID, "https://img.example/cover.png"); err != nil {
		t.Fatalf("SetCoverImage failed: %v", err)
	}

	missing, err := st.CompletedWithoutCover(ctx, 10)
	if err != nil {
		t.Fatalf("CompletedWithoutCover failed: %v", err)
	}
	if len(missing) != 1 || missing[0].ID != uncovered.ID {
		t.Fatalf("expected only uncovered story, got %d rows", len(missing))
	}
}

func TestReplaceExtractionIsFullReplacement(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	story := testsupport.NewStory(t, st, "Entities", "premise")
	now := time.Now().UTC()

	first := []*store.Entity{
		{StoryID: story.ID, Name: "Voss", EntityType: "character", OccurrenceCount: 3, Confidence: 0.9, UpdatedAt: now},
		{StoryID: story.ID, Name: "The Guild", EntityType: "organization", OccurrenceCount: 2, Confidence: 0.7, UpdatedAt: now},
	}
	if err := st.ReplaceExtraction(ctx, story.ID, first, nil); err != nil {
		t.Fatalf("ReplaceExtraction failed: %v", err)
	}

	second := []*store.Entity{
		{StoryID: story.ID, Name: "Mara", EntityType: "character", OccurrenceCount: 4, Confidence: 0.8, UpdatedAt: now},
	}
	themes := []*store.Theme{
		{StoryID: story.ID, Name: "Betrayal", Weight: 1.0, Confidence: 0.6, Source: store.ThemeSourceDeclared, Rank: 1, UpdatedAt: now},
	}
	if err := st.ReplaceExtraction(ctx, story.ID, second, themes); err != nil {
		t.Fatalf("ReplaceExtraction failed: %v", err)
	}

	entities, err := st.ListEntities(ctx, story.ID)
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(entities) != 1 || entities[0].Name != "Mara" {
		t.Fatalf("expected full replacement, got %d entities", len(entities))
	}

	got, err := st.ListThemes(ctx, story.ID)
	if err != nil {
		t.Fatalf("ListThemes failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Betrayal" {
		t.Fatalf("unexpected themes: %d", len(got))
	}
}

func TestOverrideValidationAtWriteTime(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := st.CreateOverride(ctx, nil, "Voss", "obliterate", "", ""); err == nil {
		t.Fatal("expected error for unknown action")
	}
	if _, err := st.CreateOverride(ctx, nil, "Voss", "merge", "", ""); err == nil {
		t.Fatal("expected error for merge without target")
	}

	override, err := st.CreateOverride(ctx, nil, "Voss", "merge", "Captain Voss", "")
	if err != nil {
		t.Fatalf("CreateOverride failed: %v", err)
	}
	if override.Action != store.OverrideMerge || override.StoryID != nil {
		t.Fatalf("unexpected override: %#v", override)
	}
}

func TestOverridesForStoryIncludesGlobal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	story := testsupport.NewStory(t, st, "Scoped", "premise")
	other := testsupport.NewStory(t, st, "Other", "premise")

	if _, err := st.CreateOverride(ctx, nil, "Chapter", "suppress", "", ""); err != nil {
		t.Fatalf("CreateOverride failed: %v", err)
	}
	if _, err := st.CreateOverride(ctx, &story.ID, "Voss", "suppress", "", ""); err != nil {
		t.Fatalf("CreateOverride failed: %v", err)
	}
	if _, err := st.CreateOverride(ctx, &other.ID, "Mara", "suppress", "", ""); err != nil {
		t.Fatalf("CreateOverride failed: %v", err)
	}

	rules, err := st.OverridesForStory(ctx, story.ID)
	if err != nil {
		t.Fatalf("OverridesForStory failed: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected story-scoped + global rules, got %d", len(rules))
	}
}

func TestUpsertSnapshotRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	story := testsupport.NewStory(t, st, "Corpus", "premise")
	snapshot := &store.CorpusSnapshot{
		StoryID:           story.ID,
		UpdatedAt:         time.Now().UTC(),
		LastChapterNumber: 2,
		WordCount:         250,
		TokenCount:        300,
		Data: store.CorpusPayload{
			StoryID:      story.ID,
			Title:        "Corpus",
			Premise:      "premise",
			ChapterCount: 2,
			Chapters: []store.CorpusDocument{
				{ChapterNumber: 1, Content: "one", WordCount: 100, TokensUsed: 120},
				{ChapterNumber: 2, Content: "two", WordCount: 150, TokensUsed: 180},
			},
		},
	}
	if err := st.UpsertSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("UpsertSnapshot failed: %v", err)
	}

	snapshots, err := st.GetSnapshots(ctx, []string{story.ID})
	if err != nil {
		t.Fatalf("GetSnapshots failed: %v", err)
	}
	got, ok := snapshots[story.ID]
	if !ok {
		t.Fatal("expected snapshot for story")
	}
	if got.WordCount != 250 || got.LastChapterNumber != 2 || len(got.Data.Chapters) != 2 {
		t.Fatalf("unexpected snapshot: %#v", got)
	}
}

func TestRuntimeConfigRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if err := st.SetConfigValues(ctx, map[string]string{"chapter_interval_seconds": "120"}); err != nil {
		t.Fatalf("SetConfigValues failed: %v", err)
	}
	if err := st.SetConfigValues(ctx, map[string]string{"chapter_interval_seconds": "90"}); err != nil {
		t.Fatalf("SetConfigValues failed: %v", err)
	}

	values, err := st.GetConfigValues(ctx)
	if err != nil {
		t.Fatalf("GetConfigValues failed: %v", err)
	}
	if values["chapter_interval_seconds"] != "90" {
		t.Fatalf("expected upserted value, got %q", values["chapter_interval_seconds"])
	}
}

func TestRecordMetaRun(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	now := time.Now().UTC()
	run := &store.MetaRun{
		RunType:        "corpus",
		Status:         store.MetaRunSuccess,
		StartedAt:      now,
		FinishedAt:     now.Add(120 * time.Millisecond),
		DurationMS:     120,
		ProcessedItems: 4,
		Metadata:       map[string]any{"refreshed": 2},
	}
	if err := st.RecordMetaRun(ctx, run); err != nil {
		t.Fatalf("RecordMetaRun failed: %v", err)
	}

	runs, err := st.ListMetaRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListMetaRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].RunType != "corpus" || runs[0].ProcessedItems != 4 {
		t.Fatalf("unexpected runs: %#v", runs)
	}
}

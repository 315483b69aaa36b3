package orchestrator

import (
	"context"
	"testing"

	"storyloom/internal/store"
	"storyloom/internal/testsupport"
)

func TestMetaPipelineRecordsPhaseAudit(t *testing.T) {
	cfg := quietConfig(t)
	fake := &testsupport.FakeGeneration{}
	o, st := newTestOrchestrator(t, cfg, fake)

	story := testsupport.NewStory(t, st, "Audited Story", "Captain Voss sails on.")
	testsupport.AppendChapter(t, st, story.ID, 1, "Captain Voss charted a course.")
	testsupport.AppendChapter(t, st, story.ID, 2, "Captain Voss pressed onward at night.")

	o.RequestMetaRefresh(story.ID, false)
	if err := o.RunMetaRefresh(context.Background(), false); err != nil {
		t.Fatalf("RunMetaRefresh: %v", err)
	}

	runs, err := st.ListMetaRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListMetaRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 audit rows, got %d", len(runs))
	}
	seen := make(map[string]bool)
	for _, run := range runs {
		if run.Status != store.MetaRunSuccess {
			t.Fatalf("phase %s failed: %s", run.RunType, run.ErrorMessage)
		}
		if run.ProcessedItems != 1 {
			t.Fatalf("phase %s: expected 1 processed item, got %d", run.RunType, run.ProcessedItems)
		}
		seen[run.RunType] = true
	}
	for _, phase := range []string{"corpus", "entities", "universe"} {
		if !seen[phase] {
			t.Fatalf("missing audit row for phase %s", phase)
		}
	}

	snapshots, err := st.GetSnapshots(context.Background(), []string{story.ID})
	if err != nil {
		t.Fatalf("GetSnapshots: %v", err)
	}
	if snapshots[story.ID] == nil {
		t.Fatal("expected corpus snapshot after pipeline run")
	}
	entities, err := st.ListEntities(context.Background(), story.ID)
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if len(entities) == 0 {
		t.Fatal("expected mined entities after pipeline run")
	}
}

func TestMetaRefreshConsumesDirtySet(t *testing.T) {
	cfg := quietConfig(t)
	fake := &testsupport.FakeGeneration{}
	o, st := newTestOrchestrator(t, cfg, fake)

	story := testsupport.NewStory(t, st, "Dirty Story", "Needs a pass.")
	testsupport.AppendChapter(t, st, story.ID, 1, "Content.")

	o.RequestMetaRefresh(story.ID, false)
	if got := o.Status(context.Background()).PendingMeta; got != 1 {
		t.Fatalf("expected 1 pending refresh, got %d", got)
	}

	if err := o.RunMetaRefresh(context.Background(), false); err != nil {
		t.Fatalf("RunMetaRefresh: %v", err)
	}
	if got := o.Status(context.Background()).PendingMeta; got != 0 {
		t.Fatalf("expected dirty set consumed, got %d pending", got)
	}
}

func TestMetaFullRebuildCoversAllStories(t *testing.T) {
	cfg := quietConfig(t)
	fake := &testsupport.FakeGeneration{}
	o, st := newTestOrchestrator(t, cfg, fake)

	first := testsupport.NewStory(t, st, "First", "p")
	second := testsupport.NewStory(t, st, "Second", "p")
	testsupport.AppendChapter(t, st, first.ID, 1, "Opening words here.")
	testsupport.AppendChapter(t, st, second.ID, 1, "Different words entirely.")

	if err := o.RunMetaRefresh(context.Background(), true); err != nil {
		t.Fatalf("RunMetaRefresh: %v", err)
	}

	snapshots, err := st.GetSnapshots(context.Background(), []string{first.ID, second.ID})
	if err != nil {
		t.Fatalf("GetSnapshots: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("expected snapshots for both stories, got %d", len(snapshots))
	}
}

func TestTickRunsMetaPipelineForDirtyStories(t *testing.T) {
	cfg := quietConfig(t)
	cfg.Worker.ChapterIntervalSeconds = 10

	fake := &testsupport.FakeGeneration{}
	o, st := newTestOrchestrator(t, cfg, fake)

	story := testsupport.NewStory(t, st, "Tick Dirty", "Chapter already written.")
	testsupport.AppendChapter(t, st, story.ID, 1, "First chapter text.")
	o.RequestMetaRefresh(story.ID, false)

	o.Tick(context.Background())

	runs, err := st.ListMetaRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListMetaRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected a pipeline pass during tick, got %d audit rows", len(runs))
	}
}

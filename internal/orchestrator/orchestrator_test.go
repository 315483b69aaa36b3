package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"storyloom/internal/config"
	"storyloom/internal/generation"
	"storyloom/internal/logging"
	"storyloom/internal/notifications"
	"storyloom/internal/store"
	"storyloom/internal/testsupport"
)

func quietConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Worker.ChapterIntervalSeconds = 3600
	cfg.Worker.MinChaptersBeforeEval = 5
	cfg.Worker.MinActiveStories = 0
	cfg.Worker.MaxActiveStories = 50
	cfg.Worker.MaxChaptersPerStory = 100
	cfg.Backfill.Enabled = false
	cfg.Meta.RefreshIntervalSeconds = 0
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, fake *testsupport.FakeGeneration, opts ...Option) (*Orchestrator, *store.Store) {
	t.Helper()

	st := testsupport.MustOpenStore(t, cfg)
	o := New(cfg, st, fake, notifications.NewService(cfg), logging.NewNop(), opts...)
	return o, st
}

func TestTickGeneratesChapterWhenIntervalElapsed(t *testing.T) {
	cfg := quietConfig(t)
	cfg.Worker.ChapterIntervalSeconds = 60

	future := time.Now().UTC().Add(5 * time.Minute)
	fake := &testsupport.FakeGeneration{}
	o, st := newTestOrchestrator(t, cfg, fake, WithClock(func() time.Time { return future }))

	story := testsupport.NewStory(t, st, "Drift Survey", "A slow mapping of a dying sea.")
	testsupport.AppendChapter(t, st, story.ID, 1, "The survey began at dawn.")

	o.Tick(context.Background())

	if len(fake.ChapterCalls) != 1 {
		t.Fatalf("expected one chapter generation, got %d", len(fake.ChapterCalls))
	}
	if got := fake.ChapterCalls[0].ChapterNumber; got != 2 {
		t.Fatalf("expected chapter 2 requested, got %d", got)
	}
	if got := len(fake.ChapterCalls[0].Recent); got != 1 {
		t.Fatalf("expected 1 recent chapter in context, got %d", got)
	}

	reloaded, err := st.GetStory(context.Background(), story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if reloaded.ChapterCount != 2 {
		t.Fatalf("expected chapter_count 2, got %d", reloaded.ChapterCount)
	}
	if reloaded.LastChapterAt == nil {
		t.Fatal("expected last_chapter_at to be set")
	}
}

func TestTickSkipsChapterBeforeInterval(t *testing.T) {
	cfg := quietConfig(t)
	fake := &testsupport.FakeGeneration{}
	o, st := newTestOrchestrator(t, cfg, fake)

	story := testsupport.NewStory(t, st, "Quiet Interval", "Nothing is due yet.")
	testsupport.AppendChapter(t, st, story.ID, 1, "An opening.")

	o.Tick(context.Background())

	if len(fake.ChapterCalls) != 0 {
		t.Fatalf("expected no chapter generation, got %d calls", len(fake.ChapterCalls))
	}
}

func TestTickCompletesStoryAtMaxChapters(t *testing.T) {
	cfg := quietConfig(t)
	cfg.Worker.MaxChaptersPerStory = 1
	cfg.Worker.ChapterIntervalSeconds = 10

	future := time.Now().UTC().Add(time.Hour)
	fake := &testsupport.FakeGeneration{}
	o, st := newTestOrchestrator(t, cfg, fake, WithClock(func() time.Time { return future }))

	story := testsupport.NewStory(t, st, "Terminal Story", "Already at its limit.")
	testsupport.AppendChapter(t, st, story.ID, 1, "The only chapter.")

	o.Tick(context.Background())

	if len(fake.ChapterCalls) != 0 {
		t.Fatalf("expected no generation for a maxed-out story, got %d calls", len(fake.ChapterCalls))
	}
	reloaded, err := st.GetStory(context.Background(), story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if reloaded.Status != store.StatusCompleted {
		t.Fatalf("expected completed status, got %s", reloaded.Status)
	}
	if reloaded.CompletionReason != "Reached max chapters" {
		t.Fatalf("unexpected completion reason %q", reloaded.CompletionReason)
	}
}

func TestTickEvaluationCompletesFailingStory(t *testing.T) {
	cfg := quietConfig(t)
	cfg.Worker.MinChaptersBeforeEval = 1
	cfg.Worker.EvaluationIntervalChapters = 1

	fake := &testsupport.FakeGeneration{
		Evaluations: []*generation.EvaluationResult{
			{
				OverallScore:   0.2,
				ShouldContinue: false,
				Reasoning:      "Narrative collapsed under its own weight",
				Issues:         []string{"repetition"},
			},
		},
	}
	o, st := newTestOrchestrator(t, cfg, fake)

	story := testsupport.NewStory(t, st, "Failing Story", "A premise that did not hold.")
	testsupport.AppendChapter(t, st, story.ID, 1, "A weak opening.")

	o.Tick(context.Background())

	reloaded, err := st.GetStory(context.Background(), story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if reloaded.Status != store.StatusCompleted {
		t.Fatalf("expected completed status, got %s", reloaded.Status)
	}
	if reloaded.CompletionReason != "Narrative collapsed under its own weight" {
		t.Fatalf("unexpected completion reason %q", reloaded.CompletionReason)
	}

	evals, err := st.ListEvaluations(context.Background(), story.ID)
	if err != nil {
		t.Fatalf("ListEvaluations: %v", err)
	}
	if len(evals) != 1 {
		t.Fatalf("expected 1 evaluation row, got %d", len(evals))
	}
	if evals[0].ChapterNumber != 1 || evals[0].ShouldContinue {
		t.Fatalf("unexpected evaluation row: %+v", evals[0])
	}
}

func TestTickEvaluationBelowThresholdUsesDefaultReason(t *testing.T) {
	cfg := quietConfig(t)
	cfg.Worker.MinChaptersBeforeEval = 1
	cfg.Worker.EvaluationIntervalChapters = 1
	cfg.Worker.QualityScoreMin = 0.7

	fake := &testsupport.FakeGeneration{
		Evaluations: []*generation.EvaluationResult{
			{OverallScore: 0.4, ShouldContinue: true},
		},
	}
	o, st := newTestOrchestrator(t, cfg, fake)

	story := testsupport.NewStory(t, st, "Mediocre Story", "Just below the bar.")
	testsupport.AppendChapter(t, st, story.ID, 1, "A chapter.")

	o.Tick(context.Background())

	reloaded, err := st.GetStory(context.Background(), story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if reloaded.Status != store.StatusCompleted {
		t.Fatalf("expected completed status, got %s", reloaded.Status)
	}
	if reloaded.CompletionReason != "Quality threshold not met" {
		t.Fatalf("unexpected completion reason %q", reloaded.CompletionReason)
	}
}

func TestTickPassingEvaluationKeepsStoryActive(t *testing.T) {
	cfg := quietConfig(t)
	cfg.Worker.MinChaptersBeforeEval = 1
	cfg.Worker.EvaluationIntervalChapters = 1

	fake := &testsupport.FakeGeneration{}
	o, st := newTestOrchestrator(t, cfg, fake)

	story := testsupport.NewStory(t, st, "Healthy Story", "Going strong.")
	testsupport.AppendChapter(t, st, story.ID, 1, "A solid chapter.")

	o.Tick(context.Background())

	reloaded, err := st.GetStory(context.Background(), story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if reloaded.Status != store.StatusActive {
		t.Fatalf("expected story to stay active, got %s", reloaded.Status)
	}
}

func TestTickSpawnsUpToMinimum(t *testing.T) {
	cfg := quietConfig(t)
	cfg.Worker.MinActiveStories = 2

	fake := &testsupport.FakeGeneration{
		Seeds: []*generation.StorySeed{
			{
				Title:       "The Salt Meridian",
				Premise:     "A cartographer maps a sea of brine.",
				ChaosParams: map[string]float64{"absurdity_initial": 0.1},
			},
		},
	}
	o, st := newTestOrchestrator(t, cfg, fake)

	testsupport.NewStory(t, st, "Existing Story", "Already here.")

	o.Tick(context.Background())

	if fake.SpawnCalls != 1 {
		t.Fatalf("expected exactly one spawn, got %d", fake.SpawnCalls)
	}
	active, err := st.ListStories(context.Background(), store.StatusActive)
	if err != nil {
		t.Fatalf("ListStories: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active stories, got %d", len(active))
	}

	var spawned *store.Story
	for _, story := range active {
		if story.Title == "The Salt Meridian" {
			spawned = story
		}
	}
	if spawned == nil {
		t.Fatal("expected spawned story to be persisted")
	}
	if spawned.ChaosParams["absurdity_initial"] != 0.1 {
		t.Fatalf("expected chaos params to persist, got %v", spawned.ChaosParams)
	}
}

func TestTickShrinksAboveMaximum(t *testing.T) {
	cfg := quietConfig(t)
	cfg.Worker.MaxActiveStories = 2

	fake := &testsupport.FakeGeneration{}
	o, st := newTestOrchestrator(t, cfg, fake)

	testsupport.NewStory(t, st, "First", "p")
	testsupport.NewStory(t, st, "Second", "p")
	testsupport.NewStory(t, st, "Third", "p")

	o.Tick(context.Background())

	active, err := st.ListStories(context.Background(), store.StatusActive)
	if err != nil {
		t.Fatalf("ListStories: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active stories after shrink, got %d", len(active))
	}
	completed, err := st.ListStories(context.Background(), store.StatusCompleted)
	if err != nil {
		t.Fatalf("ListStories: %v", err)
	}
	if len(completed) != 1 {
		t.Fatalf("expected 1 completed story, got %d", len(completed))
	}
	if completed[0].CompletionReason != "Reduced to maintain limit" {
		t.Fatalf("unexpected completion reason %q", completed[0].CompletionReason)
	}
}

func TestTickSkippedWhileCycleInFlight(t *testing.T) {
	cfg := quietConfig(t)
	cfg.Worker.MinActiveStories = 2

	fake := &testsupport.FakeGeneration{}
	o, _ := newTestOrchestrator(t, cfg, fake)

	o.tickMu.Lock()
	o.Tick(context.Background())
	o.tickMu.Unlock()

	if fake.SpawnCalls != 0 {
		t.Fatalf("expected skipped tick to do no work, got %d spawns", fake.SpawnCalls)
	}
}

func TestTickIsolatesPerStoryFailures(t *testing.T) {
	cfg := quietConfig(t)
	cfg.Worker.ChapterIntervalSeconds = 10

	future := time.Now().UTC().Add(time.Hour)
	fake := &testsupport.FakeGeneration{ChapterErr: errors.New("model unavailable")}
	o, st := newTestOrchestrator(t, cfg, fake, WithClock(func() time.Time { return future }))

	testsupport.NewStory(t, st, "First", "p")
	testsupport.NewStory(t, st, "Second", "p")

	o.Tick(context.Background())

	if len(fake.ChapterCalls) != 2 {
		t.Fatalf("expected both stories attempted despite failures, got %d", len(fake.ChapterCalls))
	}
}

func TestGenerateChapterNow(t *testing.T) {
	cfg := quietConfig(t)
	fake := &testsupport.FakeGeneration{}
	o, st := newTestOrchestrator(t, cfg, fake)

	story := testsupport.NewStory(t, st, "On Demand", "Waiting for a nudge.")

	chapter, err := o.GenerateChapterNow(context.Background(), story.ID)
	if err != nil {
		t.Fatalf("GenerateChapterNow: %v", err)
	}
	if chapter.ChapterNumber != 1 {
		t.Fatalf("expected chapter 1, got %d", chapter.ChapterNumber)
	}

	reloaded, err := st.GetStory(context.Background(), story.ID)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if reloaded.ChapterCount != 1 {
		t.Fatalf("expected chapter_count 1, got %d", reloaded.ChapterCount)
	}
}

func TestGenerateChapterNowRejectsCompletedStory(t *testing.T) {
	cfg := quietConfig(t)
	fake := &testsupport.FakeGeneration{}
	o, st := newTestOrchestrator(t, cfg, fake)

	story := testsupport.NewStory(t, st, "Done", "Finished already.")
	if _, err := st.CompleteStory(context.Background(), story.ID, "done"); err != nil {
		t.Fatalf("CompleteStory: %v", err)
	}

	if _, err := o.GenerateChapterNow(context.Background(), story.ID); err == nil {
		t.Fatal("expected error for completed story")
	}
}

func TestStatusReflectsTick(t *testing.T) {
	cfg := quietConfig(t)
	fake := &testsupport.FakeGeneration{}
	o, st := newTestOrchestrator(t, cfg, fake)

	testsupport.NewStory(t, st, "Visible", "In the counts.")

	o.Tick(context.Background())

	status := o.Status(context.Background())
	if status.LastTickAt == nil {
		t.Fatal("expected last tick timestamp")
	}
	if status.LastTickError != "" {
		t.Fatalf("unexpected tick error: %s", status.LastTickError)
	}
	if status.ActiveStories != 1 {
		t.Fatalf("expected 1 active story, got %d", status.ActiveStories)
	}
}

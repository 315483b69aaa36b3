package runtimecfg_test

import (
	"context"
	"strings"
	"testing"

	"storyloom/internal/runtimecfg"
	"storyloom/internal/testsupport"
)

func TestLoadReturnsFileDefaultsWhenEmpty(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	manager := runtimecfg.NewManager(st, cfg)
	runtime, err := manager.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if runtime.ChapterIntervalSeconds != cfg.Worker.ChapterIntervalSeconds {
		t.Fatalf("expected default chapter interval %d, got %d", cfg.Worker.ChapterIntervalSeconds, runtime.ChapterIntervalSeconds)
	}
	if runtime.CoverBackfillBatchSize != cfg.Backfill.BatchSize {
		t.Fatalf("expected default batch size %d, got %d", cfg.Backfill.BatchSize, runtime.CoverBackfillBatchSize)
	}
}

func TestApplyPersistsUpdates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	manager := runtimecfg.NewManager(st, cfg)
	updated, err := manager.Apply(ctx, map[string]any{
		"chapter_interval_seconds": 120,
		"quality_score_min":        0.7,
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if updated.ChapterIntervalSeconds != 120 {
		t.Fatalf("expected interval 120, got %d", updated.ChapterIntervalSeconds)
	}
	if updated.QualityScoreMin != 0.7 {
		t.Fatalf("expected quality min 0.7, got %v", updated.QualityScoreMin)
	}

	reloaded, err := manager.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.ChapterIntervalSeconds != 120 || reloaded.QualityScoreMin != 0.7 {
		t.Fatalf("updates did not persist: %+v", reloaded)
	}
}

func TestApplyRejectsUnknownKey(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	manager := runtimecfg.NewManager(st, cfg)
	_, err := manager.Apply(context.Background(), map[string]any{"tick_speed": 5})
	if err == nil {
		t.Fatal("expected unknown key error")
	}
	if !strings.Contains(err.Error(), "unknown configuration key") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestApplyRejectsOutOfRange(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	manager := runtimecfg.NewManager(st, cfg)
	cases := map[string]any{
		"chapter_interval_seconds":  5,
		"quality_score_min":         1.5,
		"max_chapters_per_story":    0,
		"cover_backfill_batch_size": 30,
	}
	for key, value := range cases {
		if _, err := manager.Apply(ctx, map[string]any{key: value}); err == nil {
			t.Fatalf("expected range error for %s=%v", key, value)
		}
	}
}

func TestApplyRejectsInvertedPopulationBounds(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	manager := runtimecfg.NewManager(st, cfg)
	_, err := manager.Apply(ctx, map[string]any{
		"min_active_stories": 10,
		"max_active_stories": 4,
	})
	if err == nil {
		t.Fatal("expected min/max cross-field error")
	}

	// The cross-field check also applies when only one side changes.
	if _, err := manager.Apply(ctx, map[string]any{"max_active_stories": 6}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if _, err := manager.Apply(ctx, map[string]any{"min_active_stories": 7}); err == nil {
		t.Fatal("expected error raising min above stored max")
	}
}

func TestApplyWritesNothingOnValidationFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	manager := runtimecfg.NewManager(st, cfg)
	_, err := manager.Apply(ctx, map[string]any{
		"chapter_interval_seconds": 120,
		"max_active_stories":       999,
	})
	if err == nil {
		t.Fatal("expected validation failure")
	}

	runtime, err := manager.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if runtime.ChapterIntervalSeconds != cfg.Worker.ChapterIntervalSeconds {
		t.Fatalf("partial update persisted: %d", runtime.ChapterIntervalSeconds)
	}
}

func TestApplyCoercesStringValues(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	manager := runtimecfg.NewManager(st, cfg)
	updated, err := manager.Apply(context.Background(), map[string]any{
		"context_window_chapters": "8",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if updated.ContextWindowChapters != 8 {
		t.Fatalf("expected 8, got %d", updated.ContextWindowChapters)
	}
}

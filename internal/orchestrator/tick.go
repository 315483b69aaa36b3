package orchestrator

import (
	"context"
	"fmt"
	"time"

	"storyloom/internal/generation"
	"storyloom/internal/logging"
	"storyloom/internal/runtimecfg"
	"storyloom/internal/store"
)

// Tick runs one full orchestrator cycle. If a cycle is already in flight the
// call returns immediately without queueing; the next scheduled tick tries
// again. A cycle failure is logged at this boundary and never crashes the
// loop.
func (o *Orchestrator) Tick(ctx context.Context) {
	if !o.tickMu.TryLock() {
		o.logger.Debug("tick skipped, previous cycle still running")
		return
	}
	defer o.tickMu.Unlock()

	start := o.now()
	err := o.runCycle(ctx)

	o.mu.Lock()
	o.lastTickAt = start
	o.lastTickErr = err
	o.mu.Unlock()

	if err != nil {
		o.logger.Error("tick cycle failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "tick_failed"),
		)
	}
}

func (o *Orchestrator) runCycle(ctx context.Context) error {
	rc, err := o.runtime.Load(ctx)
	if err != nil {
		return err
	}

	active, err := o.store.ListStories(ctx, store.StatusActive)
	if err != nil {
		return fmt.Errorf("list active stories: %w", err)
	}

	now := o.now()
	for _, story := range active {
		if err := o.advanceStory(ctx, story, now, rc); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Error("story advancement failed",
				logging.String(logging.FieldStoryID, story.ID),
				logging.String(logging.FieldStoryTitle, story.Title),
				logging.Error(err),
			)
			o.notifyError(ctx, err, fmt.Sprintf("advancing story %q", story.Title))
		}
	}

	if err := o.maintainPopulation(ctx, rc); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.logger.Error("population maintenance failed", logging.Error(err))
		o.notifyError(ctx, err, "population maintenance")
	}

	if o.backfillDue(now, rc) {
		if _, err := o.RunCoverBackfill(ctx, false, 0); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Error("cover backfill failed", logging.Error(err))
		}
	}

	if o.metaDue(now) {
		if err := o.runMetaPipeline(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Error("meta-analysis pipeline failed", logging.Error(err))
		}
	}

	return nil
}

// advanceStory applies the lifecycle rules to one active story. The story
// value is mutated in place so later checks in the same tick observe the
// chapter written earlier in it.
func (o *Orchestrator) advanceStory(ctx context.Context, story *store.Story, now time.Time, rc runtimecfg.Config) error {
	if story.Status != store.StatusActive {
		return nil
	}

	if story.ChapterCount >= rc.MaxChaptersPerStory {
		return o.completeStory(ctx, story, "Reached max chapters")
	}

	lastChapter := story.CreatedAt
	if story.LastChapterAt != nil {
		lastChapter = *story.LastChapterAt
	}
	if now.Sub(lastChapter) >= time.Duration(rc.ChapterIntervalSeconds)*time.Second {
		if _, err := o.createChapter(ctx, story, rc); err != nil {
			return err
		}
	}

	if story.ChapterCount >= o.cfg.Worker.MinChaptersBeforeEval &&
		story.ChapterCount%rc.EvaluationIntervalChapters == 0 {
		return o.evaluateStory(ctx, story, rc)
	}
	return nil
}

func (o *Orchestrator) createChapter(ctx context.Context, story *store.Story, rc runtimecfg.Config) (*store.Chapter, error) {
	recent, err := o.store.RecentChapters(ctx, story.ID, rc.ContextWindowChapters)
	if err != nil {
		return nil, fmt.Errorf("load recent chapters: %w", err)
	}

	result, err := o.gen.GenerateChapter(ctx, generation.ChapterRequest{
		Story:         story,
		Recent:        recent,
		ChapterNumber: story.ChapterCount + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate chapter %d: %w", story.ChapterCount+1, err)
	}

	chapter, err := o.store.AppendChapter(ctx, store.NewChapter{
		StoryID:          story.ID,
		ChapterNumber:    result.ChapterNumber,
		Content:          result.Content,
		TokensUsed:       result.TokensUsed,
		GenerationTimeMS: int(result.GenerationTimeMS),
		ModelUsed:        result.ModelUsed,
		ChaosReadings:    result.ChaosReadings,
		ContentLevels:    result.ContentLevels,
	})
	if err != nil {
		return nil, fmt.Errorf("append chapter: %w", err)
	}

	story.ChapterCount = chapter.ChapterNumber
	story.TotalTokens += chapter.TokensUsed
	createdAt := chapter.CreatedAt
	story.LastChapterAt = &createdAt
	o.markDirty(story.ID)

	o.logger.Info("chapter generated",
		logging.String(logging.FieldStoryID, story.ID),
		logging.String(logging.FieldStoryTitle, story.Title),
		logging.Int(logging.FieldChapter, chapter.ChapterNumber),
		logging.Int("tokens_used", chapter.TokensUsed),
		logging.Int(logging.FieldDurationMS, chapter.GenerationTimeMS),
	)

	if o.notifier != nil {
		if err := o.notifier.NotifyChapterCreated(ctx, story.Title, chapter.ChapterNumber); err != nil {
			o.logger.Warn("chapter notification failed", logging.Error(err))
		}
	}
	return chapter, nil
}

func (o *Orchestrator) evaluateStory(ctx context.Context, story *store.Story, rc runtimecfg.Config) error {
	chapters, err := o.store.ListChapters(ctx, story.ID)
	if err != nil {
		return fmt.Errorf("load chapters for evaluation: %w", err)
	}

	result, err := o.gen.EvaluateStory(ctx, generation.EvaluationRequest{
		Story:           story,
		Recent:          chapters,
		QualityScoreMin: rc.QualityScoreMin,
	})
	if err != nil {
		return fmt.Errorf("evaluate story: %w", err)
	}

	eval := &store.Evaluation{
		StoryID:         story.ID,
		ChapterNumber:   story.ChapterCount,
		OverallScore:    result.OverallScore,
		DimensionScores: result.DimensionScores,
		ShouldContinue:  result.ShouldContinue,
		Reasoning:       result.Reasoning,
		Issues:          result.Issues,
	}
	if err := o.store.InsertEvaluation(ctx, eval); err != nil {
		return fmt.Errorf("record evaluation: %w", err)
	}

	o.logger.Info("story evaluated",
		logging.String(logging.FieldStoryID, story.ID),
		logging.String(logging.FieldStoryTitle, story.Title),
		logging.Float64("overall_score", result.OverallScore),
		logging.Bool("should_continue", result.ShouldContinue),
	)

	if !result.ShouldContinue || result.OverallScore < rc.QualityScoreMin {
		reason := result.Reasoning
		if reason == "" {
			reason = "Quality threshold not met"
		}
		return o.completeStory(ctx, story, reason)
	}
	return nil
}

func (o *Orchestrator) completeStory(ctx context.Context, story *store.Story, reason string) error {
	completed, err := o.store.CompleteStory(ctx, story.ID, reason)
	if err != nil {
		return fmt.Errorf("complete story: %w", err)
	}
	if !completed {
		return nil
	}

	story.Status = store.StatusCompleted
	story.CompletionReason = reason
	o.markDirty(story.ID)

	o.logger.Info("story completed",
		logging.String(logging.FieldStoryID, story.ID),
		logging.String(logging.FieldStoryTitle, story.Title),
		logging.String("reason", reason),
	)

	if o.notifier != nil {
		if err := o.notifier.NotifyStoryCompleted(ctx, story.Title, reason); err != nil {
			o.logger.Warn("completion notification failed", logging.Error(err))
		}
	}
	return nil
}

// maintainPopulation spawns stories up to the configured minimum and retires
// the newest ones down to the maximum.
func (o *Orchestrator) maintainPopulation(ctx context.Context, rc runtimecfg.Config) error {
	count, err := o.store.CountActive(ctx)
	if err != nil {
		return fmt.Errorf("count active stories: %w", err)
	}

	switch {
	case count < rc.MinActiveStories:
		for i := 0; i < rc.MinActiveStories-count; i++ {
			if err := o.spawnStory(ctx); err != nil {
				return err
			}
		}
	case count > rc.MaxActiveStories:
		victims, err := o.store.NewestActive(ctx, count-rc.MaxActiveStories)
		if err != nil {
			return fmt.Errorf("list newest active stories: %w", err)
		}
		for _, story := range victims {
			if err := o.completeStory(ctx, story, "Reduced to maintain limit"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) spawnStory(ctx context.Context) error {
	seed, err := o.gen.SpawnStory(ctx)
	if err != nil {
		return fmt.Errorf("spawn story: %w", err)
	}

	story, err := o.store.CreateStory(ctx, store.NewStory{
		Title:           seed.Title,
		Premise:         seed.Premise,
		ThemeData:       seed.ThemeData,
		ChaosParams:     seed.ChaosParams,
		ContentSettings: seed.ContentSettings,
	})
	if err != nil {
		return fmt.Errorf("create story: %w", err)
	}
	o.markDirty(story.ID)

	o.logger.Info("story spawned",
		logging.String(logging.FieldStoryID, story.ID),
		logging.String(logging.FieldStoryTitle, story.Title),
	)

	if o.notifier != nil {
		if err := o.notifier.NotifyStorySpawned(ctx, story.Title); err != nil {
			o.logger.Warn("spawn notification failed", logging.Error(err))
		}
	}
	return nil
}

// GenerateChapterNow writes the next chapter for one story on demand. It
// takes the tick mutex, so a manual generation never races an automatic one.
func (o *Orchestrator) GenerateChapterNow(ctx context.Context, storyID string) (*store.Chapter, error) {
	o.tickMu.Lock()
	defer o.tickMu.Unlock()

	rc, err := o.runtime.Load(ctx)
	if err != nil {
		return nil, err
	}
	story, err := o.store.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.Status != store.StatusActive {
		return nil, fmt.Errorf("story %q is not active", story.Title)
	}
	if story.ChapterCount >= rc.MaxChaptersPerStory {
		return nil, fmt.Errorf("story %q already has the maximum number of chapters", story.Title)
	}

	return o.createChapter(ctx, story, rc)
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storyloom/internal/logging"
	"storyloom/internal/store"
)

// phaseResult is the common shape of the per-phase refresh results; each
// pipeline stage reports how many items it touched plus phase-specific
// metadata for the audit row.
type phaseResult interface {
	Metadata() map[string]any
}

// RequestMetaRefresh marks one story (or, with fullRebuild, the whole
// corpus) as needing re-extraction on the next meta-analysis pass.
func (o *Orchestrator) RequestMetaRefresh(storyID string, fullRebuild bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if fullRebuild {
		o.fullRebuild = true
		return
	}
	if storyID != "" {
		o.dirty[storyID] = struct{}{}
	}
}

// RunMetaRefresh executes the pipeline immediately, outside the tick cycle.
func (o *Orchestrator) RunMetaRefresh(ctx context.Context, fullRebuild bool) error {
	if fullRebuild {
		o.RequestMetaRefresh("", true)
	}
	return o.runMetaPipeline(ctx)
}

func (o *Orchestrator) metaDue(now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fullRebuild || len(o.dirty) > 0 {
		return true
	}
	interval := time.Duration(o.cfg.Meta.RefreshIntervalSeconds) * time.Second
	if interval <= 0 {
		return false
	}
	return o.lastMetaAt.IsZero() || now.Sub(o.lastMetaAt) >= interval
}

// runMetaPipeline runs corpus refresh, entity extraction, and universe graph
// construction in sequence. A phase failure is recorded in the audit log and
// stops the pipeline; the dirty set consumed at the start is not restored,
// so the next periodic pass covers the gap.
func (o *Orchestrator) runMetaPipeline(ctx context.Context) error {
	stories, err := o.scopeStories(ctx)
	if err != nil {
		return err
	}

	o.logger.Info("meta-analysis pass starting", logging.Int("stories", len(stories)))

	startedAt := o.now()
	corpusResult, err := o.corpus.Refresh(ctx, stories)
	if err := o.recordPhase(ctx, "corpus", startedAt, corpusResult, len(stories), err); err != nil {
		return fmt.Errorf("corpus phase: %w", err)
	}

	startedAt = o.now()
	entityResult, err := o.extractor.Refresh(ctx, stories, corpusResult.Snapshots)
	if err := o.recordPhase(ctx, "entities", startedAt, entityResult, len(stories), err); err != nil {
		return fmt.Errorf("entity phase: %w", err)
	}

	startedAt = o.now()
	universeResult, err := o.universe.Refresh(ctx)
	if err := o.recordPhase(ctx, "universe", startedAt, universeResult, len(stories), err); err != nil {
		return fmt.Errorf("universe phase: %w", err)
	}

	o.mu.Lock()
	o.lastMetaAt = o.now()
	o.mu.Unlock()
	return nil
}

// scopeStories consumes the dirty set and returns the stories this pass
// covers. A full rebuild or an empty dirty set (periodic pass) widens the
// scope to every story. Dirty stories deleted since they were flagged are
// skipped.
func (o *Orchestrator) scopeStories(ctx context.Context) ([]*store.Story, error) {
	o.mu.Lock()
	full := o.fullRebuild
	dirty := o.dirty
	o.fullRebuild = false
	o.dirty = make(map[string]struct{})
	o.mu.Unlock()

	if full || len(dirty) == 0 {
		stories, err := o.store.ListStories(ctx)
		if err != nil {
			return nil, fmt.Errorf("list stories: %w", err)
		}
		return stories, nil
	}

	stories := make([]*store.Story, 0, len(dirty))
	for id := range dirty {
		story, err := o.store.GetStory(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("load story %s: %w", id, err)
		}
		stories = append(stories, story)
	}
	return stories, nil
}

// recordPhase writes one audit row for a pipeline phase and returns the
// phase error unchanged.
func (o *Orchestrator) recordPhase(ctx context.Context, runType string, startedAt time.Time, result phaseResult, processed int, phaseErr error) error {
	run := &store.MetaRun{
		RunType:        runType,
		Status:         store.MetaRunSuccess,
		StartedAt:      startedAt,
		FinishedAt:     o.now(),
		ProcessedItems: processed,
	}
	run.DurationMS = float64(run.FinishedAt.Sub(run.StartedAt).Milliseconds())
	if phaseErr != nil {
		run.Status = store.MetaRunError
		run.ErrorMessage = phaseErr.Error()
	} else if result != nil {
		run.Metadata = result.Metadata()
	}

	if err := o.store.RecordMetaRun(ctx, run); err != nil {
		o.logger.Warn("meta run audit write failed",
			logging.String(logging.FieldRunType, runType),
			logging.Error(err),
		)
	}
	if phaseErr == nil {
		o.logger.Debug("meta phase finished",
			logging.String(logging.FieldPhase, runType),
			logging.Int(logging.FieldProcessed, processed),
			logging.Duration("elapsed", run.FinishedAt.Sub(run.StartedAt)),
		)
	}
	return phaseErr
}

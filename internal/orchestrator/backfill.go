package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storyloom/internal/generation"
	"storyloom/internal/logging"
	"storyloom/internal/runtimecfg"
	"storyloom/internal/store"
)

// BackfillSummary reports the outcome of one cover backfill batch.
type BackfillSummary struct {
	Skipped   bool      `json:"skipped"`
	Reason    string    `json:"reason,omitempty"`
	Processed int       `json:"processed"`
	Generated int       `json:"generated"`
	Failed    int       `json:"failed"`
	RanAt     time.Time `json:"ran_at"`
}

// BackfillStatus is the observability view of the backfill subsystem.
type BackfillStatus struct {
	Enabled         bool             `json:"enabled"`
	Running         bool             `json:"running"`
	IntervalMinutes int              `json:"interval_minutes"`
	LastRun         *BackfillSummary `json:"last_run,omitempty"`
	NextDue         *time.Time       `json:"next_due,omitempty"`
}

// RunCoverBackfill generates cover images for completed stories that lack
// one. At most one batch runs at a time; a call that finds a batch already
// in flight returns the previous run's summary with Skipped set instead of
// waiting. Each story gets up to the configured number of attempts with an
// exponential pause between them; exhausting attempts counts the story as
// failed and the batch moves on. Cancellation interrupts the batch
// immediately.
func (o *Orchestrator) RunCoverBackfill(ctx context.Context, force bool, limit int) (BackfillSummary, error) {
	if !o.backfillMu.TryLock() {
		o.mu.Lock()
		previous := o.lastSummary
		o.mu.Unlock()
		summary := BackfillSummary{Skipped: true, Reason: "backfill already running", RanAt: o.now()}
		if previous != nil {
			summary = *previous
			summary.Skipped = true
			summary.Reason = "backfill already running"
		}
		return summary, nil
	}
	defer o.backfillMu.Unlock()

	o.setBackfillRunning(true)
	defer o.setBackfillRunning(false)

	if !force && !o.cfg.Backfill.Enabled {
		return o.recordBackfill(BackfillSummary{Skipped: true, Reason: "backfill disabled", RanAt: o.now()}), nil
	}

	rc, err := o.runtime.Load(ctx)
	if err != nil {
		return BackfillSummary{}, err
	}
	if limit <= 0 {
		limit = rc.CoverBackfillBatchSize
	}

	stories, err := o.store.CompletedWithoutCover(ctx, limit)
	if err != nil {
		return BackfillSummary{}, fmt.Errorf("list stories without covers: %w", err)
	}
	if len(stories) == 0 {
		o.logger.Info("no stories need cover images")
		return o.recordBackfill(BackfillSummary{RanAt: o.now()}), nil
	}

	summary := BackfillSummary{RanAt: o.now()}
	pause := time.Duration(rc.CoverBackfillPauseSeconds * float64(time.Second))

	for i, story := range stories {
		if i > 0 {
			if err := o.sleep(ctx, pause); err != nil {
				return summary, err
			}
		}

		url, err := o.backfillCover(ctx, story, pause)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Processed++
			summary.Failed++
			o.logger.Warn("cover generation exhausted retries",
				logging.String(logging.FieldStoryID, story.ID),
				logging.String(logging.FieldStoryTitle, story.Title),
				logging.Error(err),
			)
			continue
		}

		if err := o.store.SetCoverImage(ctx, story.ID, url); err != nil {
			return summary, fmt.Errorf("save cover image: %w", err)
		}
		summary.Processed++
		summary.Generated++
		o.logger.Info("cover image generated",
			logging.String(logging.FieldStoryID, story.ID),
			logging.String(logging.FieldStoryTitle, story.Title),
		)
	}

	o.logger.Info("cover backfill finished",
		logging.Int(logging.FieldProcessed, summary.Processed),
		logging.Int("generated", summary.Generated),
		logging.Int("failed", summary.Failed),
	)
	if o.notifier != nil {
		if err := o.notifier.NotifyBackfillCompleted(ctx, summary.Processed, summary.Generated, summary.Failed); err != nil {
			o.logger.Warn("backfill notification failed", logging.Error(err))
		}
	}
	return o.recordBackfill(summary), nil
}

// backfillCover attempts one story's cover with retry/backoff. An empty URL
// from the collaborator is a retryable failure, not a success.
func (o *Orchestrator) backfillCover(ctx context.Context, story *store.Story, pause time.Duration) (string, error) {
	attempts := o.cfg.Backfill.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		url, err := o.gen.GenerateCoverImage(ctx, generation.CoverRequest{
			Title:           story.Title,
			Premise:         story.Premise,
			ContentSettings: story.ContentSettings,
		})
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
		case url == "":
			lastErr = errors.New("image provider returned no data")
		default:
			return url, nil
		}

		if attempt < attempts {
			backoff := pause * time.Duration(1<<(attempt-1))
			if err := o.sleep(ctx, backoff); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// CoverBackfillStatus reports the backfill subsystem state.
func (o *Orchestrator) CoverBackfillStatus(ctx context.Context) (BackfillStatus, error) {
	rc, err := o.runtime.Load(ctx)
	if err != nil {
		return BackfillStatus{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	status := BackfillStatus{
		Enabled:         o.cfg.Backfill.Enabled,
		Running:         o.backfillRunning,
		IntervalMinutes: rc.CoverBackfillIntervalMinutes,
		LastRun:         o.lastSummary,
	}
	if o.cfg.Backfill.Enabled && !o.lastBackfillAt.IsZero() {
		due := o.lastBackfillAt.Add(time.Duration(rc.CoverBackfillIntervalMinutes) * time.Minute)
		status.NextDue = &due
	}
	return status, nil
}

func (o *Orchestrator) backfillDue(now time.Time, rc runtimecfg.Config) bool {
	if !o.cfg.Backfill.Enabled {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastBackfillAt.IsZero() {
		return true
	}
	return now.Sub(o.lastBackfillAt) >= time.Duration(rc.CoverBackfillIntervalMinutes)*time.Minute
}

func (o *Orchestrator) recordBackfill(summary BackfillSummary) BackfillSummary {
	o.mu.Lock()
	o.lastSummary = &summary
	o.lastBackfillAt = summary.RanAt
	o.mu.Unlock()
	return summary
}

func (o *Orchestrator) setBackfillRunning(running bool) {
	o.mu.Lock()
	o.backfillRunning = running
	o.mu.Unlock()
}

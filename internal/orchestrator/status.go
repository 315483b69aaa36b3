package orchestrator

import (
	"context"
	"time"

	"storyloom/internal/logging"
	"storyloom/internal/store"
)

// StatusSummary is the lightweight diagnostics view served by the API.
type StatusSummary struct {
	Running         bool       `json:"running"`
	ActiveStories   int        `json:"active_stories"`
	CompletedCount  int        `json:"completed_stories"`
	LastTickAt      *time.Time `json:"last_tick_at,omitempty"`
	LastTickError   string     `json:"last_tick_error,omitempty"`
	PendingMeta     int        `json:"pending_meta_refreshes"`
	LastMetaAt      *time.Time `json:"last_meta_at,omitempty"`
	FullRebuildDue  bool       `json:"full_rebuild_due"`
	BackfillRunning bool       `json:"backfill_running"`
}

// Status returns the latest orchestrator diagnostics.
func (o *Orchestrator) Status(ctx context.Context) StatusSummary {
	o.mu.Lock()
	summary := StatusSummary{
		Running:         o.running,
		PendingMeta:     len(o.dirty),
		FullRebuildDue:  o.fullRebuild,
		BackfillRunning: o.backfillRunning,
	}
	if !o.lastTickAt.IsZero() {
		at := o.lastTickAt
		summary.LastTickAt = &at
	}
	if o.lastTickErr != nil {
		summary.LastTickError = o.lastTickErr.Error()
	}
	if !o.lastMetaAt.IsZero() {
		at := o.lastMetaAt
		summary.LastMetaAt = &at
	}
	o.mu.Unlock()

	active, err := o.store.ListStories(ctx, store.StatusActive)
	if err != nil {
		o.logger.Warn("failed to count active stories", logging.Error(err))
		return summary
	}
	summary.ActiveStories = len(active)

	completed, err := o.store.ListStories(ctx, store.StatusCompleted)
	if err != nil {
		o.logger.Warn("failed to count completed stories", logging.Error(err))
		return summary
	}
	summary.CompletedCount = len(completed)
	return summary
}

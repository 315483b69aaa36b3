package main

import (
	"fmt"
	"time"
)

// Wire shapes mirrored from the daemon API responses.

type storyPayload struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Premise          string     `json:"premise"`
	Status           string     `json:"status"`
	ChapterCount     int        `json:"chapter_count"`
	TotalTokens      int        `json:"total_tokens"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	CompletionReason string     `json:"completion_reason"`
	LastChapterAt    *time.Time `json:"last_chapter_at"`
	CoverImageURL    string     `json:"cover_image_url"`
}

type chapterPayload struct {
	ID               string    `json:"id"`
	StoryID          string    `json:"story_id"`
	ChapterNumber    int       `json:"chapter_number"`
	Content          string    `json:"content"`
	CreatedAt        time.Time `json:"created_at"`
	TokensUsed       int       `json:"tokens_used"`
	GenerationTimeMS int       `json:"generation_time_ms"`
	ModelUsed        string    `json:"model_used"`
}

type overridePayload struct {
	ID         string  `json:"id"`
	StoryID    *string `json:"story_id"`
	Name       string  `json:"name"`
	Action     string  `json:"action"`
	TargetName string  `json:"target_name"`
	Notes      string  `json:"notes"`
}

type orchestratorStatusPayload struct {
	Running         bool       `json:"running"`
	ActiveStories   int        `json:"active_stories"`
	CompletedCount  int        `json:"completed_stories"`
	LastTickAt      *time.Time `json:"last_tick_at"`
	LastTickError   string     `json:"last_tick_error"`
	PendingMeta     int        `json:"pending_meta_refreshes"`
	LastMetaAt      *time.Time `json:"last_meta_at"`
	FullRebuildDue  bool       `json:"full_rebuild_due"`
	BackfillRunning bool       `json:"backfill_running"`
}

type daemonStatusPayload struct {
	Running      bool                      `json:"running"`
	LockFilePath string                    `json:"lock_file_path"`
	DatabasePath string                    `json:"database_path"`
	Orchestrator orchestratorStatusPayload `json:"orchestrator"`
}

type backfillSummaryPayload struct {
	Skipped   bool      `json:"skipped"`
	Reason    string    `json:"reason"`
	Processed int       `json:"processed"`
	Generated int       `json:"generated"`
	Failed    int       `json:"failed"`
	RanAt     time.Time `json:"ran_at"`
}

type backfillStatusPayload struct {
	Enabled         bool                    `json:"enabled"`
	Running         bool                    `json:"running"`
	IntervalMinutes int                     `json:"interval_minutes"`
	LastRun         *backfillSummaryPayload `json:"last_run"`
	NextDue         *time.Time              `json:"next_due"`
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatCount(n int) string {
	return fmt.Sprintf("%d", n)
}

// Package corpus materializes and caches full-text story corpora for the
// meta-analysis pipeline. A snapshot is rebuilt only when its staleness
// watermarks say the story moved on; refreshing an unchanged story is a
// cheap cache hit.
package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storyloom/internal/logging"
	"storyloom/internal/store"
)

// RefreshResult summarizes one corpus refresh pass.
type RefreshResult struct {
	Snapshots  map[string]*store.CorpusSnapshot
	Processed  int
	Refreshed  int
	StartedAt  time.Time
	FinishedAt time.Time
	DurationMS float64
}

// Metadata returns the audit-row payload for this pass.
func (r *RefreshResult) Metadata() map[string]any {
	return map[string]any{
		"processed":   r.Processed,
		"refreshed":   r.Refreshed,
		"duration_ms": r.DurationMS,
	}
}

// Cache builds and caches story corpora. MaxChapters, when positive, bounds
// each snapshot to the most recent chapters.
type Cache struct {
	store       *store.Store
	logger      *slog.Logger
	maxChapters int
}

func NewCache(st *store.Store, logger *slog.Logger, maxChapters int) *Cache {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Cache{
		store:       st,
		logger:      logging.NewComponentLogger(logger, "corpus"),
		maxChapters: maxChapters,
	}
}

// Refresh ensures every given story has an up-to-date snapshot and returns
// the full snapshot map keyed by story ID.
func (c *Cache) Refresh(ctx context.Context, stories []*store.Story) (*RefreshResult, error) {
	startedAt := time.Now().UTC()
	timer := time.Now()
	result := &RefreshResult{
		Snapshots: make(map[string]*store.CorpusSnapshot, len(stories)),
		StartedAt: startedAt,
	}
	if len(stories) == 0 {
		result.FinishedAt = time.Now().UTC()
		result.DurationMS = float64(time.Since(timer).Microseconds()) / 1000
		return result, nil
	}

	ids := make([]string, 0, len(stories))
	for _, story := range stories {
		ids = append(ids, story.ID)
	}
	existing, err := c.store.GetSnapshots(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading corpus snapshots: %w", err)
	}

	for _, story := range stories {
		snapshot := existing[story.ID]
		if shouldRefresh(story, snapshot) {
			rebuilt, err := c.buildSnapshot(ctx, story)
			if err != nil {
				return nil, err
			}
			if err := c.store.UpsertSnapshot(ctx, rebuilt); err != nil {
				return nil, fmt.Errorf("saving corpus snapshot for %s: %w", story.ID, err)
			}
			snapshot = rebuilt
			result.Refreshed++
			c.logger.Debug("story corpus refreshed",
				logging.String(logging.FieldStoryID, story.ID),
				logging.Int(logging.FieldChapter, snapshot.LastChapterNumber),
			)
		}
		result.Snapshots[story.ID] = snapshot
	}

	result.Processed = len(stories)
	result.FinishedAt = time.Now().UTC()
	result.DurationMS = float64(time.Since(timer).Microseconds()) / 1000
	return result, nil
}

// shouldRefresh is the staleness check: missing snapshot, chapter-count
// drift, a chapter written after the snapshot, or an empty word count.
func shouldRefresh(story *store.Story, snapshot *store.CorpusSnapshot) bool {
	if snapshot == nil {
		return true
	}
	if snapshot.LastChapterNumber != story.ChapterCount {
		return true
	}
	if story.LastChapterAt != nil && snapshot.UpdatedAt.Before(*story.LastChapterAt) {
		return true
	}
	if snapshot.WordCount == 0 {
		return true
	}
	return false
}

func (c *Cache) buildSnapshot(ctx context.Context, story *store.Story) (*store.CorpusSnapshot, error) {
	chapters, err := c.store.ListChapters(ctx, story.ID)
	if err != nil {
		return nil, fmt.Errorf("loading chapters for %s: %w", story.ID, err)
	}
	if c.maxChapters > 0 && len(chapters) > c.maxChapters {
		chapters = chapters[len(chapters)-c.maxChapters:]
	}

	documents := make([]store.CorpusDocument, 0, len(chapters))
	totalWords := 0
	totalTokens := 0
	for _, chapter := range chapters {
		words := estimateWords(chapter.Content)
		tokens := chapter.TokensUsed
		if tokens == 0 {
			tokens = words
		}
		totalWords += words
		totalTokens += tokens
		documents = append(documents, store.CorpusDocument{
			ID:            chapter.ID,
			ChapterNumber: chapter.ChapterNumber,
			Content:       chapter.Content,
			CreatedAt:     chapter.CreatedAt.Format(time.RFC3339Nano),
			WordCount:     words,
			TokensUsed:    tokens,
		})
	}

	return &store.CorpusSnapshot{
		StoryID:           story.ID,
		UpdatedAt:         time.Now().UTC(),
		LastChapterNumber: story.ChapterCount,
		WordCount:         totalWords,
		TokenCount:        totalTokens,
		Data: store.CorpusPayload{
			StoryID:      story.ID,
			Title:        story.Title,
			Premise:      story.Premise,
			Chapters:     documents,
			ChapterCount: len(documents),
			ThemeData:    story.ThemeData,
		},
	}, nil
}

// estimateWords counts whitespace-separated tokens, never returning zero for
// non-empty text. A non-zero floor keeps a rebuilt snapshot from re-tripping
// the word_count staleness check on every pass.
func estimateWords(text string) int {
	if text == "" {
		return 0
	}
	count := len(strings.Fields(text))
	if count < 1 {
		return 1
	}
	return count
}

package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateBackfill(); err != nil {
		return err
	}
	if err := c.validateMeta(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLLM() error {
	if c.LLM.BaseURL == "" {
		return errors.New("llm.base_url must be set")
	}
	if c.LLM.TimeoutSeconds <= 0 {
		return errors.New("llm.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateWorker() error {
	if err := ensurePositiveMap(map[string]int{
		"worker.tick_interval":                c.Worker.TickInterval,
		"worker.chapter_interval_seconds":     c.Worker.ChapterIntervalSeconds,
		"worker.evaluation_interval_chapters": c.Worker.EvaluationIntervalChapters,
		"worker.min_chapters_before_eval":     c.Worker.MinChaptersBeforeEval,
		"worker.max_chapters_per_story":       c.Worker.MaxChaptersPerStory,
		"worker.max_active_stories":           c.Worker.MaxActiveStories,
		"worker.context_window_chapters":      c.Worker.ContextWindowChapters,
	}); err != nil {
		return err
	}
	if c.Worker.MinActiveStories < 0 {
		return errors.New("worker.min_active_stories must not be negative")
	}
	if c.Worker.MinActiveStories > c.Worker.MaxActiveStories {
		return errors.New("worker.min_active_stories must not exceed worker.max_active_stories")
	}
	if c.Worker.QualityScoreMin < 0 || c.Worker.QualityScoreMin > 1 {
		return errors.New("worker.quality_score_min must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateBackfill() error {
	if !c.Backfill.Enabled {
		return nil
	}
	if err := ensurePositiveMap(map[string]int{
		"backfill.interval_minutes": c.Backfill.IntervalMinutes,
		"backfill.batch_size":       c.Backfill.BatchSize,
		"backfill.retry_attempts":   c.Backfill.RetryAttempts,
	}); err != nil {
		return err
	}
	if c.Backfill.PauseSeconds < 0 {
		return errors.New("backfill.pause_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateMeta() error {
	if err := ensurePositiveMap(map[string]int{
		"meta.refresh_interval_seconds": c.Meta.RefreshIntervalSeconds,
		"meta.min_occurrences":          c.Meta.MinOccurrences,
		"meta.max_corpus_chapters":      c.Meta.MaxCorpusChapters,
	}); err != nil {
		return err
	}
	if c.Meta.MinLinkWeight < 0 {
		return errors.New("meta.min_link_weight must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

// Package runtimecfg manages the tunable worker settings that live in the
// database rather than the config file. Values are validated against a fixed
// schema on write; unknown keys and out-of-range values are rejected before
// anything is persisted.
package runtimecfg

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"storyloom/internal/config"
	"storyloom/internal/store"
)

// Config is the validated runtime tuning snapshot consumed read-only by the
// orchestrator on each tick.
type Config struct {
	ChapterIntervalSeconds       int
	EvaluationIntervalChapters   int
	QualityScoreMin              float64
	MaxChaptersPerStory          int
	MinActiveStories             int
	MaxActiveStories             int
	ContextWindowChapters        int
	CoverBackfillIntervalMinutes int
	CoverBackfillBatchSize       int
	CoverBackfillPauseSeconds    float64
}

// Map returns the snapshot keyed by its storage key names, for API responses.
func (c Config) Map() map[string]any {
	return map[string]any{
		"chapter_interval_seconds":        c.ChapterIntervalSeconds,
		"evaluation_interval_chapters":    c.EvaluationIntervalChapters,
		"quality_score_min":               c.QualityScoreMin,
		"max_chapters_per_story":          c.MaxChaptersPerStory,
		"min_active_stories":              c.MinActiveStories,
		"max_active_stories":              c.MaxActiveStories,
		"context_window_chapters":         c.ContextWindowChapters,
		"cover_backfill_interval_minutes": c.CoverBackfillIntervalMinutes,
		"cover_backfill_batch_size":       c.CoverBackfillBatchSize,
		"cover_backfill_pause_seconds":    c.CoverBackfillPauseSeconds,
	}
}

type valueKind int

const (
	kindInt valueKind = iota
	kindFloat
)

type keySpec struct {
	kind valueKind
	min  float64
	max  float64
}

var schema = map[string]keySpec{
	"chapter_interval_seconds":        {kind: kindInt, min: 10, max: 3600},
	"evaluation_interval_chapters":    {kind: kindInt, min: 1, max: 50},
	"quality_score_min":               {kind: kindFloat, min: 0.0, max: 1.0},
	"max_chapters_per_story":          {kind: kindInt, min: 1, max: 500},
	"min_active_stories":              {kind: kindInt, min: 0, max: 100},
	"max_active_stories":              {kind: kindInt, min: 1, max: 200},
	"context_window_chapters":         {kind: kindInt, min: 1, max: 50},
	"cover_backfill_interval_minutes": {kind: kindInt, min: 5, max: 1440},
	"cover_backfill_batch_size":       {kind: kindInt, min: 1, max: 25},
	"cover_backfill_pause_seconds":    {kind: kindFloat, min: 0, max: 120},
}

// Keys returns the known configuration keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(schema))
	for key := range schema {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Manager loads and mutates runtime configuration backed by the store's
// key/value table, falling back to file-config defaults for unset keys.
type Manager struct {
	store    *store.Store
	defaults Config
}

func NewManager(st *store.Store, cfg *config.Config) *Manager {
	return &Manager{
		store: st,
		defaults: Config{
			ChapterIntervalSeconds:       cfg.Worker.ChapterIntervalSeconds,
			EvaluationIntervalChapters:   cfg.Worker.EvaluationIntervalChapters,
			QualityScoreMin:              cfg.Worker.QualityScoreMin,
			MaxChaptersPerStory:          cfg.Worker.MaxChaptersPerStory,
			MinActiveStories:             cfg.Worker.MinActiveStories,
			MaxActiveStories:             cfg.Worker.MaxActiveStories,
			ContextWindowChapters:        cfg.Worker.ContextWindowChapters,
			CoverBackfillIntervalMinutes: cfg.Backfill.IntervalMinutes,
			CoverBackfillBatchSize:       cfg.Backfill.BatchSize,
			CoverBackfillPauseSeconds:    cfg.Backfill.PauseSeconds,
		},
	}
}

// Load reads the stored overrides and merges them over the defaults. Stored
// values that no longer parse fall back to the default for that key rather
// than failing the whole load.
func (m *Manager) Load(ctx context.Context) (Config, error) {
	stored, err := m.store.GetConfigValues(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("loading runtime config: %w", err)
	}

	cfg := m.defaults
	for key, raw := range stored {
		spec, ok := schema[key]
		if !ok {
			continue
		}
		value, err := parseStored(raw, spec)
		if err != nil {
			continue
		}
		cfg.set(key, value)
	}
	return cfg, nil
}

// Apply validates updates against the schema and persists them, returning the
// resulting merged configuration. Nothing is written unless every update is
// valid.
func (m *Manager) Apply(ctx context.Context, updates map[string]any) (Config, error) {
	current, err := m.Load(ctx)
	if err != nil {
		return Config{}, err
	}
	if len(updates) == 0 {
		return current, nil
	}

	cleaned := make(map[string]float64, len(updates))
	for key, value := range updates {
		spec, ok := schema[key]
		if !ok {
			return Config{}, fmt.Errorf("unknown configuration key: %s", key)
		}
		coerced, err := coerce(key, value, spec)
		if err != nil {
			return Config{}, err
		}
		cleaned[key] = coerced
	}

	minActive := float64(current.MinActiveStories)
	if v, ok := cleaned["min_active_stories"]; ok {
		minActive = v
	}
	maxActive := float64(current.MaxActiveStories)
	if v, ok := cleaned["max_active_stories"]; ok {
		maxActive = v
	}
	if minActive > maxActive {
		return Config{}, fmt.Errorf("min_active_stories cannot exceed max_active_stories")
	}

	persist := make(map[string]string, len(cleaned))
	for key, value := range cleaned {
		persist[key] = formatStored(value, schema[key])
		current.set(key, value)
	}
	if err := m.store.SetConfigValues(ctx, persist); err != nil {
		return Config{}, fmt.Errorf("saving runtime config: %w", err)
	}
	return current, nil
}

func (c *Config) set(key string, value float64) {
	switch key {
	case "chapter_interval_seconds":
		c.ChapterIntervalSeconds = int(value)
	case "evaluation_interval_chapters":
		c.EvaluationIntervalChapters = int(value)
	case "quality_score_min":
		c.QualityScoreMin = value
	case "max_chapters_per_story":
		c.MaxChaptersPerStory = int(value)
	case "min_active_stories":
		c.MinActiveStories = int(value)
	case "max_active_stories":
		c.MaxActiveStories = int(value)
	case "context_window_chapters":
		c.ContextWindowChapters = int(value)
	case "cover_backfill_interval_minutes":
		c.CoverBackfillIntervalMinutes = int(value)
	case "cover_backfill_batch_size":
		c.CoverBackfillBatchSize = int(value)
	case "cover_backfill_pause_seconds":
		c.CoverBackfillPauseSeconds = value
	}
}

func coerce(key string, value any, spec keySpec) (float64, error) {
	var numeric float64
	switch v := value.(type) {
	case int:
		numeric = float64(v)
	case int64:
		numeric = float64(v)
	case float64:
		numeric = v
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, fmt.Errorf("invalid value for %s", key)
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %q", key, v)
		}
		numeric = parsed
	default:
		return 0, fmt.Errorf("invalid value for %s", key)
	}

	if spec.kind == kindInt {
		numeric = math.Trunc(numeric)
	}
	if numeric < spec.min {
		return 0, fmt.Errorf("%s must be >= %s", key, formatStored(spec.min, spec))
	}
	if numeric > spec.max {
		return 0, fmt.Errorf("%s must be <= %s", key, formatStored(spec.max, spec))
	}
	return numeric, nil
}

func parseStored(raw string, spec keySpec) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	if spec.kind == kindInt {
		value = math.Trunc(value)
	}
	if value < spec.min || value > spec.max {
		return 0, fmt.Errorf("stored value %s out of range", raw)
	}
	return value, nil
}

func formatStored(value float64, spec keySpec) string {
	if spec.kind == kindInt {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'g', -1, 64)
}

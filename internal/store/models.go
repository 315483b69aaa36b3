package store

import (
	"fmt"
	"strings"
	"time"
)

// StoryStatus represents the lifecycle state of a story. The transition is
// one-way: active stories complete and never reactivate.
type StoryStatus string

const (
	StatusActive    StoryStatus = "active"
	StatusCompleted StoryStatus = "completed"
)

// Story is the orchestrator-owned lifecycle record.
type Story struct {
	ID               string
	Title            string
	Premise          string
	Status           StoryStatus
	CreatedAt        time.Time
	CompletedAt      *time.Time
	CompletionReason string
	ChapterCount     int
	TotalTokens      int
	LastChapterAt    *time.Time
	CoverImageURL    string

	// ThemeData carries the declared themes in whatever shape the premise
	// generator produced (list, map, or bare string). The entity extractor
	// normalizes it; nothing else interprets it.
	ThemeData any

	// ChaosParams and ContentSettings are numeric knobs consumed by the
	// generation collaborator; the orchestrator passes them through opaquely.
	ChaosParams     map[string]float64
	ContentSettings map[string]float64
}

// Chapter is immutable narrative content ordered within a story.
type Chapter struct {
	ID               string
	StoryID          string
	ChapterNumber    int
	Content          string
	CreatedAt        time.Time
	TokensUsed       int
	GenerationTimeMS int
	ModelUsed        string
	ChaosReadings    map[string]float64
	ContentLevels    map[string]float64
}

// Evaluation is an append-only quality checkpoint.
type Evaluation struct {
	ID              string
	StoryID         string
	ChapterNumber   int
	OverallScore    float64
	DimensionScores map[string]float64
	ShouldContinue  bool
	Reasoning       string
	Issues          []string
	EvaluatedAt     time.Time
}

// CorpusDocument is one chapter inside a corpus snapshot payload.
type CorpusDocument struct {
	ID            string `json:"id"`
	ChapterNumber int    `json:"chapter_number"`
	Content       string `json:"content"`
	CreatedAt     string `json:"created_at"`
	WordCount     int    `json:"word_count"`
	TokensUsed    int    `json:"tokens_used"`
}

// CorpusPayload is the structured full-text view cached per story.
type CorpusPayload struct {
	StoryID      string           `json:"story_id"`
	Title        string           `json:"title"`
	Premise      string           `json:"premise"`
	Chapters     []CorpusDocument `json:"chapters"`
	ChapterCount int              `json:"chapter_count"`
	ThemeData    any              `json:"theme_data,omitempty"`
}

// CorpusSnapshot caches concatenated chapter text with staleness watermarks.
type CorpusSnapshot struct {
	StoryID           string
	UpdatedAt         time.Time
	LastChapterNumber int
	WordCount         int
	TokenCount        int
	Data              CorpusPayload
}

// Entity is a mined named entity, fully replaced on every extraction pass.
type Entity struct {
	ID                 string
	StoryID            string
	Name               string
	EntityType         string
	Aliases            []string
	Confidence         float64
	FirstSeenChapter   *int
	LastSeenChapter    *int
	OccurrenceCount    int
	SupportingChapters []int
	UpdatedAt          time.Time
}

// ThemeSource identifies where a theme row came from.
const (
	ThemeSourceDeclared = "declared"
	ThemeSourceKeyword  = "keyword"
)

// Theme is a mined or declared thematic motif, fully replaced per pass.
type Theme struct {
	ID         string
	StoryID    string
	Name       string
	Weight     float64
	Confidence float64
	Source     string
	Rank       int
	// OriginalName holds the pre-truncation name when truncation changed it.
	OriginalName string
	UpdatedAt    time.Time
}

// OverrideAction is the closed set of entity override behaviors.
type OverrideAction string

const (
	OverrideSuppress OverrideAction = "suppress"
	OverrideMerge    OverrideAction = "merge"
)

// ParseOverrideAction validates a raw action string at write time.
func ParseOverrideAction(raw string) (OverrideAction, error) {
	switch OverrideAction(strings.ToLower(strings.TrimSpace(raw))) {
	case OverrideSuppress:
		return OverrideSuppress, nil
	case OverrideMerge:
		return OverrideMerge, nil
	default:
		return "", fmt.Errorf("unknown override action %q", raw)
	}
}

// EntityOverride is a user-authored suppress/merge rule. A nil StoryID
// makes the rule global.
type EntityOverride struct {
	ID         string
	StoryID    *string
	Name       string
	Action     OverrideAction
	TargetName string
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UniverseLink is an undirected similarity edge between two stories.
type UniverseLink struct {
	ID             string
	SourceStoryID  string
	TargetStoryID  string
	Weight         float64
	SharedEntities []string
	SharedThemes   []string
	UpdatedAt      time.Time
}

// UniverseCluster is a connected component over the link graph.
type UniverseCluster struct {
	ID          string
	Label       string
	Size        int
	Cohesion    float64
	StoryTitles []string
	TopEntities []string
	TopThemes   []string
	UpdatedAt   time.Time
}

// ClusterMembership assigns one story to a cluster with its edge-derived weight.
type ClusterMembership struct {
	StoryID        string
	ClusterID      string
	Weight         float64
	RelatedStories []string
	UpdatedAt      time.Time
}

// MetaRunStatus values recorded in the pipeline audit log.
const (
	MetaRunSuccess = "success"
	MetaRunError   = "error"
)

// MetaRun is one audit row per meta-analysis phase execution.
type MetaRun struct {
	ID             string
	RunType        string
	Status         string
	StartedAt      time.Time
	FinishedAt     time.Time
	DurationMS     float64
	ProcessedItems int
	Metadata       map[string]any
	ErrorMessage   string
}

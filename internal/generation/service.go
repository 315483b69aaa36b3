package generation

import (
	"context"

	"storyloom/internal/store"
)

// Service is the collaborator contract the orchestrator depends on. The
// production implementation talks to an OpenAI-compatible API; tests swap in
// a scripted fake.
type Service interface {
	// SpawnStory produces a fresh story seed (title, premise, themes, chaos
	// parameters, content settings).
	SpawnStory(ctx context.Context) (*StorySeed, error)
	// GenerateChapter writes the next chapter for a story given its recent
	// chapter window.
	GenerateChapter(ctx context.Context, req ChapterRequest) (*ChapterResult, error)
	// EvaluateStory scores a story's recent chapters and decides whether it
	// should continue.
	EvaluateStory(ctx context.Context, req EvaluationRequest) (*EvaluationResult, error)
	// GenerateCoverImage returns the URL (or data URL) of a generated cover,
	// or an empty string when the image provider produced nothing usable.
	GenerateCoverImage(ctx context.Context, req CoverRequest) (string, error)
}

// StorySeed is everything needed to create a new story row.
type StorySeed struct {
	Title           string
	Premise         string
	ThemeData       any
	ChaosParams     map[string]float64
	ContentSettings map[string]float64
}

// ChapterRequest asks for the next chapter of an existing story.
type ChapterRequest struct {
	Story         *store.Story
	Recent        []*store.Chapter
	ChapterNumber int
}

// ChapterResult is a generated chapter plus the model's self-reported
// readings for the chaos and content axes.
type ChapterResult struct {
	ChapterNumber    int
	Content          string
	TokensUsed       int
	GenerationTimeMS int64
	ModelUsed        string
	ChaosReadings    map[string]float64
	ContentLevels    map[string]float64
}

// EvaluationRequest asks for a quality verdict on a story.
type EvaluationRequest struct {
	Story           *store.Story
	Recent          []*store.Chapter
	QualityScoreMin float64
}

// EvaluationResult carries normalized dimension scores (0-1), the composite
// overall score, and the continue/stop verdict.
type EvaluationResult struct {
	DimensionScores map[string]float64
	OverallScore    float64
	ShouldContinue  bool
	Reasoning       string
	Issues          []string
}

// CoverRequest asks for cover art for a completed story. ContentSettings
// are the story's content axis levels; the prompt translates the strongest
// axes into visual tone cues.
type CoverRequest struct {
	Title           string
	Premise         string
	ContentSettings map[string]float64
}

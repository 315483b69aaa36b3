package generation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"storyloom/internal/config"
	"storyloom/internal/logging"
)

var chaosAxes = []string{"absurdity", "surrealism", "ridiculousness", "insanity"}

const (
	chaosInitialMin   = 0.05
	chaosInitialMax   = 0.20
	chaosIncrementMin = 0.02
	chaosIncrementMax = 0.08

	fallbackTitle   = "Untitled Expedition"
	fallbackPremise = "A mysterious journey unfolds."
)

// Evaluation dimension weights for the composite score.
const (
	weightCoherence  = 0.3
	weightNovelty    = 0.2
	weightEngagement = 0.3
	weightPacing     = 0.2
)

// OpenAI implements Service against an OpenAI-compatible API.
type OpenAI struct {
	client *Client
	cfg    config.LLM
	logger *slog.Logger
	rand   *rand.Rand
}

// NewOpenAI builds the production generation service.
func NewOpenAI(cfg config.LLM, logger *slog.Logger, opts ...Option) *OpenAI {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &OpenAI{
		client: NewClient(cfg, opts...),
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "generation"),
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

var styleAuthors = []string{
	"Franz Kafka", "Jorge Luis Borges", "Italo Calvino", "Gabriel García Márquez",
	"Kurt Vonnegut", "Philip K. Dick", "Ursula K. Le Guin", "Stanisław Lem",
	"Samuel Beckett", "Virginia Woolf", "James Joyce", "William S. Burroughs",
	"Haruki Murakami", "Octavia Butler", "Ray Bradbury", "Isaac Asimov",
	"J.G. Ballard", "William Gibson", "Margaret Atwood", "Aldous Huxley",
	"George Orwell", "Arthur C. Clarke", "Doris Lessing", "Thomas Pynchon",
	"Don DeLillo", "Chinua Achebe", "Toni Morrison", "Salman Rushdie",
	"Milan Kundera", "Cormac McCarthy", "Vladimir Nabokov",
}

type premisePayload struct {
	Title   string   `json:"title"`
	Premise string   `json:"premise"`
	Themes  []string `json:"themes"`
}

// SpawnStory generates a fresh premise, declared themes, and randomized
// chaos/content parameters for a new story.
func (s *OpenAI) SpawnStory(ctx context.Context) (*StorySeed, error) {
	chaos := make(map[string]float64, len(chaosAxes)*2)
	for _, axis := range chaosAxes {
		chaos[axis+"_initial"] = s.uniform(chaosInitialMin, chaosInitialMax)
		chaos[axis+"_increment"] = s.uniform(chaosIncrementMin, chaosIncrementMax)
	}

	authors := s.pickAuthors()
	prompt := renderPremisePrompt(authors)

	text, _, err := s.client.Complete(ctx, s.cfg.PremiseModel, premiseSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("spawn story: %w", err)
	}

	var parsed premisePayload
	if err := DecodeModelJSON(text, &parsed); err != nil {
		s.logger.Warn("premise response not JSON, using fallbacks", logging.Error(err))
	}
	title := strings.TrimSpace(parsed.Title)
	if title == "" || isGenericTitle(title) {
		title = fallbackTitle
	}
	premise := strings.TrimSpace(parsed.Premise)
	if premise == "" {
		premise = fallbackPremise
	}

	themes := make([]any, 0, len(parsed.Themes))
	for _, theme := range parsed.Themes {
		if trimmed := strings.TrimSpace(theme); trimmed != "" {
			themes = append(themes, trimmed)
		}
	}

	seed := &StorySeed{
		Title:       title,
		Premise:     premise,
		ThemeData:   themes,
		ChaosParams: chaos,
		ContentSettings: map[string]float64{
			"violence":       s.uniform(0, 3),
			"romance":        s.uniform(0, 3),
			"existentialism": s.uniform(0, 5),
		},
	}
	s.logger.Info("spawned story seed",
		logging.String(logging.FieldStoryTitle, seed.Title),
		logging.Int("themes", len(themes)),
	)
	return seed, nil
}

type chapterPayload struct {
	ChapterContent string             `json:"chapter_content"`
	Absurdity      *float64           `json:"absurdity"`
	Surrealism     *float64           `json:"surrealism"`
	Ridiculousness *float64           `json:"ridiculousness"`
	Insanity       *float64           `json:"insanity"`
	ContentLevels  map[string]float64 `json:"content_levels"`
}

// GenerateChapter writes the next chapter, steering each chaos axis toward
// initial + (n-1) * increment and falling back to the expected values when
// the model's readings are missing.
func (s *OpenAI) GenerateChapter(ctx context.Context, req ChapterRequest) (*ChapterResult, error) {
	if req.Story == nil {
		return nil, fmt.Errorf("generate chapter: story required")
	}
	expected := expectedChaos(req.Story.ChaosParams, req.ChapterNumber)
	prompt := renderChapterPrompt(req.Story, req.Recent, req.ChapterNumber, expected)

	start := time.Now()
	text, usage, err := s.client.Complete(ctx, s.cfg.ChapterModel, chapterSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate chapter %d for %s: %w", req.ChapterNumber, req.Story.ID, err)
	}
	elapsed := time.Since(start).Milliseconds()

	content := strings.TrimSpace(text)
	readings := cloneFloatMap(expected)
	levels := map[string]float64{}
	var parsed chapterPayload
	if err := DecodeModelJSON(text, &parsed); err == nil && strings.TrimSpace(parsed.ChapterContent) != "" {
		content = strings.TrimSpace(parsed.ChapterContent)
		applyReading(readings, "absurdity", parsed.Absurdity)
		applyReading(readings, "surrealism", parsed.Surrealism)
		applyReading(readings, "ridiculousness", parsed.Ridiculousness)
		applyReading(readings, "insanity", parsed.Insanity)
		for axis, level := range parsed.ContentLevels {
			levels[axis] = clamp(level, 0, 10)
		}
	} else {
		s.logger.Warn("chapter response not structured, using raw text and expected chaos values",
			logging.String(logging.FieldStoryID, req.Story.ID),
			logging.Int(logging.FieldChapter, req.ChapterNumber),
		)
	}

	return &ChapterResult{
		ChapterNumber:    req.ChapterNumber,
		Content:          content,
		TokensUsed:       usage.best(),
		GenerationTimeMS: elapsed,
		ModelUsed:        s.cfg.ChapterModel,
		ChaosReadings:    readings,
		ContentLevels:    levels,
	}, nil
}

type evaluationPayload struct {
	CoherenceScore  *float64 `json:"coherence_score"`
	NoveltyScore    *float64 `json:"novelty_score"`
	EngagementScore *float64 `json:"engagement_score"`
	PacingScore     *float64 `json:"pacing_score"`
	ShouldContinue  *bool    `json:"should_continue"`
	Reasoning       string   `json:"reasoning"`
	Issues          []string `json:"issues"`
}

// EvaluateStory scores the story's recent window. Empty or malformed model
// responses degrade to a neutral verdict rather than failing the tick.
func (s *OpenAI) EvaluateStory(ctx context.Context, req EvaluationRequest) (*EvaluationResult, error) {
	if req.Story == nil {
		return nil, fmt.Errorf("evaluate story: story required")
	}
	prompt := renderEvaluationPrompt(req.Story, req.Recent, req.QualityScoreMin)

	text, _, err := s.client.Complete(ctx, s.cfg.EvalModel, evaluationSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("evaluate story %s: %w", req.Story.ID, err)
	}

	payload := evaluationPayload{}
	if err := DecodeModelJSON(text, &payload); err != nil {
		s.logger.Warn("evaluation response not JSON, using neutral verdict",
			logging.String(logging.FieldStoryID, req.Story.ID),
		)
		payload = evaluationPayload{Reasoning: payloadSnippet(text)}
	}
	return scoreEvaluation(payload), nil
}

// scoreEvaluation normalizes per-dimension scores to 0-1 and composes the
// overall score: weighted average, minus penalties for weak dimensions,
// imbalance, and surfaced issues, plus a small excellence bonus.
func scoreEvaluation(payload evaluationPayload) *EvaluationResult {
	dimensions := map[string]float64{
		"coherence":  normalizeScore(payload.CoherenceScore),
		"novelty":    normalizeScore(payload.NoveltyScore),
		"engagement": normalizeScore(payload.EngagementScore),
		"pacing":     normalizeScore(payload.PacingScore),
	}

	weighted := dimensions["coherence"]*weightCoherence +
		dimensions["novelty"]*weightNovelty +
		dimensions["engagement"]*weightEngagement +
		dimensions["pacing"]*weightPacing

	values := make([]float64, 0, len(dimensions))
	lowest := math.Inf(1)
	for _, name := range sortedKeys(dimensions) {
		value := dimensions[name]
		values = append(values, value)
		if value < lowest {
			lowest = value
		}
	}

	weakPenalty := 0.0
	if lowest < 0.85 {
		deficit := 0.85 - lowest
		weakPenalty = math.Pow(deficit, 1.2) * 1.2
	}
	consistencyPenalty := populationStdDev(values) * 0.2
	issuePenalty := math.Min(float64(len(payload.Issues))*0.03, 0.15)
	excellenceBonus := math.Max(0, lowest-0.92) * 0.1

	overall := clamp(weighted-weakPenalty-consistencyPenalty-issuePenalty+excellenceBonus, 0, 1)

	shouldContinue := true
	if payload.ShouldContinue != nil {
		shouldContinue = *payload.ShouldContinue
	}
	return &EvaluationResult{
		DimensionScores: dimensions,
		OverallScore:    overall,
		ShouldContinue:  shouldContinue,
		Reasoning:       strings.TrimSpace(payload.Reasoning),
		Issues:          payload.Issues,
	}
}

// GenerateCoverImage builds a cover prompt from the story metadata and asks
// the image model for one rendering. An empty return with nil error means
// the provider produced nothing usable; callers treat that as retryable.
func (s *OpenAI) GenerateCoverImage(ctx context.Context, req CoverRequest) (string, error) {
	prompt := renderCoverPrompt(req.Title, req.Premise, req.ContentSettings)
	url, err := s.client.GenerateImage(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate cover for %q: %w", req.Title, err)
	}
	if url == "" {
		s.logger.Warn("image provider returned no usable cover",
			logging.String(logging.FieldStoryTitle, req.Title),
		)
	}
	return url, nil
}

func (s *OpenAI) uniform(min, max float64) float64 {
	if max <= min {
		return min
	}
	return min + s.rand.Float64()*(max-min)
}

func (s *OpenAI) pickAuthors() []string {
	count := 1 + s.rand.Intn(3)
	picked := make([]string, 0, count)
	for _, idx := range s.rand.Perm(len(styleAuthors))[:count] {
		picked = append(picked, styleAuthors[idx])
	}
	return picked
}

func isGenericTitle(title string) bool {
	switch strings.ToLower(strings.TrimSpace(title)) {
	case "untitled expedition", "the unknown journey", "untitled", "unknown journey":
		return true
	}
	return false
}

// expectedChaos reads the per-axis initial/increment pairs off the story and
// projects them to the requested chapter number.
func expectedChaos(params map[string]float64, chapterNumber int) map[string]float64 {
	expected := make(map[string]float64, len(chaosAxes))
	steps := float64(chapterNumber - 1)
	for _, axis := range chaosAxes {
		initial := params[axis+"_initial"]
		increment := params[axis+"_increment"]
		expected[axis] = clamp(initial+steps*increment, 0, 1)
	}
	return expected
}

func applyReading(readings map[string]float64, axis string, value *float64) {
	if value != nil {
		readings[axis] = clamp(*value, 0, 1)
	}
}

func normalizeScore(value *float64) float64 {
	if value == nil {
		return 0.5
	}
	return clamp(*value, 0, 10) / 10.0
}

func populationStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(len(values)))
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func cloneFloatMap(src map[string]float64) map[string]float64 {
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

package generation

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"storyloom/internal/store"
)

func TestGenerateChapterParsesStructuredResponse(t *testing.T) {
	structured := map[string]any{
		"chapter_content": "The lighthouse began to hum.",
		"absurdity":       0.42,
		"surrealism":      0.3,
		"ridiculousness":  0.2,
		"insanity":        0.1,
		"content_levels":  map[string]any{"violence": 2.5},
	}
	encoded, _ := json.Marshal(structured)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatBody(string(encoded))))
	}))
	defer server.Close()
	svc := NewOpenAI(testLLMConfig(server.URL), nil)

	story := &store.Story{
		ID:      "story-1",
		Title:   "Signal Keepers",
		Premise: "premise",
		ChaosParams: map[string]float64{
			"absurdity_initial": 0.1, "absurdity_increment": 0.05,
			"surrealism_initial": 0.1, "surrealism_increment": 0.05,
			"ridiculousness_initial": 0.1, "ridiculousness_increment": 0.05,
			"insanity_initial": 0.1, "insanity_increment": 0.05,
		},
	}
	result, err := svc.GenerateChapter(context.Background(), ChapterRequest{
		Story:         story,
		ChapterNumber: 3,
	})
	if err != nil {
		t.Fatalf("GenerateChapter failed: %v", err)
	}
	if result.Content != "The lighthouse began to hum." {
		t.Fatalf("unexpected content %q", result.Content)
	}
	if result.ChaosReadings["absurdity"] != 0.42 {
		t.Fatalf("expected model absurdity reading, got %v", result.ChaosReadings["absurdity"])
	}
	if result.ContentLevels["violence"] != 2.5 {
		t.Fatalf("expected content level 2.5, got %v", result.ContentLevels["violence"])
	}
	if result.TokensUsed != 42 {
		t.Fatalf("expected 42 tokens, got %d", result.TokensUsed)
	}
	if result.ModelUsed != "chapter-model" {
		t.Fatalf("unexpected model %q", result.ModelUsed)
	}
}

func TestGenerateChapterFallsBackToRawText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatBody("Just plain prose, no JSON structure.")))
	}))
	defer server.Close()
	svc := NewOpenAI(testLLMConfig(server.URL), nil)

	story := &store.Story{
		ID:      "story-1",
		Title:   "Fallback",
		Premise: "premise",
		ChaosParams: map[string]float64{
			"absurdity_initial": 0.2, "absurdity_increment": 0.1,
		},
	}
	result, err := svc.GenerateChapter(context.Background(), ChapterRequest{Story: story, ChapterNumber: 2})
	if err != nil {
		t.Fatalf("GenerateChapter failed: %v", err)
	}
	if result.Content != "Just plain prose, no JSON structure." {
		t.Fatalf("unexpected content %q", result.Content)
	}
	// Falls back to expected value: 0.2 + 1*0.1.
	if diff := math.Abs(result.ChaosReadings["absurdity"] - 0.3); diff > 1e-9 {
		t.Fatalf("expected fallback absurdity 0.3, got %v", result.ChaosReadings["absurdity"])
	}
}

func TestEvaluateStoryNeutralOnMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatBody("The model rambled instead of scoring.")))
	}))
	defer server.Close()
	svc := NewOpenAI(testLLMConfig(server.URL), nil)

	result, err := svc.EvaluateStory(context.Background(), EvaluationRequest{
		Story:           &store.Story{ID: "s", Title: "T", Premise: "p"},
		QualityScoreMin: 0.5,
	})
	if err != nil {
		t.Fatalf("EvaluateStory failed: %v", err)
	}
	if !result.ShouldContinue {
		t.Fatal("neutral verdict should continue")
	}
	for name, score := range result.DimensionScores {
		if score != 0.5 {
			t.Fatalf("expected neutral %s score 0.5, got %v", name, score)
		}
	}
}

func TestScoreEvaluationPenalizesWeakDimensions(t *testing.T) {
	high := 9.0
	low := 3.0
	yes := true
	strong := scoreEvaluation(evaluationPayload{
		CoherenceScore: &high, NoveltyScore: &high, EngagementScore: &high, PacingScore: &high,
		ShouldContinue: &yes,
	})
	weak := scoreEvaluation(evaluationPayload{
		CoherenceScore: &high, NoveltyScore: &low, EngagementScore: &high, PacingScore: &high,
		ShouldContinue: &yes,
	})
	if weak.OverallScore >= strong.OverallScore {
		t.Fatalf("weak dimension should lower overall: strong=%v weak=%v", strong.OverallScore, weak.OverallScore)
	}
	if strong.OverallScore < 0 || strong.OverallScore > 1 {
		t.Fatalf("overall score out of range: %v", strong.OverallScore)
	}
}

func TestScoreEvaluationIssuePenaltyIsCapped(t *testing.T) {
	high := 9.0
	few := scoreEvaluation(evaluationPayload{
		CoherenceScore: &high, NoveltyScore: &high, EngagementScore: &high, PacingScore: &high,
		Issues: []string{"a"},
	})
	many := scoreEvaluation(evaluationPayload{
		CoherenceScore: &high, NoveltyScore: &high, EngagementScore: &high, PacingScore: &high,
		Issues: []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"},
	})
	if diff := few.OverallScore - many.OverallScore; diff > 0.15+1e-9 {
		t.Fatalf("issue penalty should cap at 0.15, observed diff %v", diff)
	}
}

func TestSpawnStoryUsesFallbacksForGenericTitles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatBody(`{"title": "Untitled", "premise": "", "themes": ["drift"]}`)))
	}))
	defer server.Close()
	svc := NewOpenAI(testLLMConfig(server.URL), nil)

	seed, err := svc.SpawnStory(context.Background())
	if err != nil {
		t.Fatalf("SpawnStory failed: %v", err)
	}
	if seed.Title != fallbackTitle {
		t.Fatalf("expected fallback title, got %q", seed.Title)
	}
	if seed.Premise != fallbackPremise {
		t.Fatalf("expected fallback premise, got %q", seed.Premise)
	}
	for _, axis := range chaosAxes {
		if _, ok := seed.ChaosParams[axis+"_initial"]; !ok {
			t.Fatalf("missing chaos initial for %s", axis)
		}
		if _, ok := seed.ChaosParams[axis+"_increment"]; !ok {
			t.Fatalf("missing chaos increment for %s", axis)
		}
	}
}

func TestExpectedChaosProjection(t *testing.T) {
	params := map[string]float64{
		"absurdity_initial":   0.1,
		"absurdity_increment": 0.2,
	}
	expected := expectedChaos(params, 4)
	if diff := math.Abs(expected["absurdity"] - 0.7); diff > 1e-9 {
		t.Fatalf("expected 0.7, got %v", expected["absurdity"])
	}
	// Values are clamped to the 0-1 chaos scale.
	expected = expectedChaos(params, 20)
	if expected["absurdity"] != 1.0 {
		t.Fatalf("expected clamp at 1.0, got %v", expected["absurdity"])
	}
}

func TestRenderCoverPromptReflectsContentSettings(t *testing.T) {
	prompt := renderCoverPrompt("The Salt Meridian", "A drowned cartographer maps the sky.", map[string]float64{
		"violence":       7.0,
		"romance":        1.2,
		"existentialism": 4.8,
	})
	if !strings.Contains(prompt, "Visual mood: ") {
		t.Fatalf("expected mood clause in prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "high dynamic action energy") {
		t.Fatalf("expected violence cue in prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "moderate vast contemplative emptiness") {
		t.Fatalf("expected existentialism cue in prompt, got %q", prompt)
	}
	if !strings.Contains(prompt, "subtle heartfelt relationships") {
		t.Fatalf("expected romance cue in prompt, got %q", prompt)
	}

	bare := renderCoverPrompt("The Salt Meridian", "A drowned cartographer maps the sky.", nil)
	if strings.Contains(bare, "Visual mood") {
		t.Fatalf("expected no mood clause without content settings, got %q", bare)
	}
}

func TestCoverToneCuesKeepsStrongestAxes(t *testing.T) {
	cues := coverToneCues(map[string]float64{
		"violence":       9.0,
		"romance":        6.8,
		"existentialism": 5.0,
		"crime":          3.0,
		"horror":         0.0,
	})
	if strings.Contains(cues, "noir intrigue") {
		t.Fatalf("expected only the three strongest axes, got %q", cues)
	}
	if strings.Contains(cues, "eerie suspense") {
		t.Fatalf("expected zero-level axes to be dropped, got %q", cues)
	}
	if cues != "extreme dynamic action energy; high heartfelt relationships; moderate vast contemplative emptiness" {
		t.Fatalf("unexpected cue ordering: %q", cues)
	}
}

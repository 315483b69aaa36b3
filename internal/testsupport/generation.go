package testsupport

import (
	"context"
	"fmt"
	"sync"

	"storyloom/internal/generation"
)

// FakeGeneration is a scripted generation.Service for orchestrator tests.
// Responses are consumed in FIFO order per call kind; when a queue is empty
// the fake falls back to a deterministic default so tests only script what
// they assert on.
type FakeGeneration struct {
	mu sync.Mutex

	Seeds       []*generation.StorySeed
	Chapters    []*generation.ChapterResult
	Evaluations []*generation.EvaluationResult
	Covers      []CoverResponse

	SpawnErr   error
	ChapterErr error
	EvalErr    error

	SpawnCalls   int
	ChapterCalls []generation.ChapterRequest
	EvalCalls    []generation.EvaluationRequest
	CoverCalls   []generation.CoverRequest
}

// CoverResponse scripts one GenerateCoverImage call.
type CoverResponse struct {
	URL string
	Err error
}

func (f *FakeGeneration) SpawnStory(ctx context.Context) (*generation.StorySeed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.SpawnCalls++
	if f.SpawnErr != nil {
		return nil, f.SpawnErr
	}
	if len(f.Seeds) > 0 {
		seed := f.Seeds[0]
		f.Seeds = f.Seeds[1:]
		return seed, nil
	}
	return &generation.StorySeed{
		Title:   fmt.Sprintf("Spawned Story %d", f.SpawnCalls),
		Premise: "A scripted premise.",
	}, nil
}

func (f *FakeGeneration) GenerateChapter(ctx context.Context, req generation.ChapterRequest) (*generation.ChapterResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ChapterCalls = append(f.ChapterCalls, req)
	if f.ChapterErr != nil {
		return nil, f.ChapterErr
	}
	if len(f.Chapters) > 0 {
		result := f.Chapters[0]
		f.Chapters = f.Chapters[1:]
		return result, nil
	}
	return &generation.ChapterResult{
		ChapterNumber: req.ChapterNumber,
		Content:       fmt.Sprintf("Chapter %d of %s.", req.ChapterNumber, req.Story.Title),
		TokensUsed:    100,
		ModelUsed:     "fake-model",
	}, nil
}

func (f *FakeGeneration) EvaluateStory(ctx context.Context, req generation.EvaluationRequest) (*generation.EvaluationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.EvalCalls = append(f.EvalCalls, req)
	if f.EvalErr != nil {
		return nil, f.EvalErr
	}
	if len(f.Evaluations) > 0 {
		result := f.Evaluations[0]
		f.Evaluations = f.Evaluations[1:]
		return result, nil
	}
	return &generation.EvaluationResult{
		OverallScore:   0.9,
		ShouldContinue: true,
		DimensionScores: map[string]float64{
			"coherence":  0.9,
			"novelty":    0.9,
			"engagement": 0.9,
			"pacing":     0.9,
		},
	}, nil
}

func (f *FakeGeneration) GenerateCoverImage(ctx context.Context, req generation.CoverRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CoverCalls = append(f.CoverCalls, req)
	if len(f.Covers) > 0 {
		resp := f.Covers[0]
		f.Covers = f.Covers[1:]
		return resp.URL, resp.Err
	}
	return "", nil
}

var _ generation.Service = (*FakeGeneration)(nil)

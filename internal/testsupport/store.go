package testsupport

import (
	"context"
	"testing"

	"storyloom/internal/config"
	"storyloom/internal/store"
)

// MustOpenStore opens a store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st
}

// NewStory creates an active story for tests.
func NewStory(t testing.TB, st *store.Store, title, premise string) *store.Story {
	t.Helper()

	story, err := st.CreateStory(context.Background(), store.NewStory{
		Title:   title,
		Premise: premise,
	})
	if err != nil {
		t.Fatalf("store.CreateStory: %v", err)
	}
	return story
}

// AppendChapter adds a chapter with plain content for tests.
func AppendChapter(t testing.TB, st *store.Store, storyID string, number int, content string) *store.Chapter {
	t.Helper()

	chapter, err := st.AppendChapter(context.Background(), store.NewChapter{
		StoryID:       storyID,
		ChapterNumber: number,
		Content:       content,
		TokensUsed:    len(content) / 4,
	})
	if err != nil {
		t.Fatalf("store.AppendChapter: %v", err)
	}
	return chapter
}

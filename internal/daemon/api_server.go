package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"storyloom/internal/config"
	"storyloom/internal/logging"
	"storyloom/internal/store"
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		token:  cfg.Paths.APIToken,
		logger: logger,
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(s.token, s.handleStatus))
	mux.HandleFunc("/api/stories", authMiddleware(s.token, s.handleStories))
	mux.HandleFunc("/api/stories/", authMiddleware(s.token, s.handleStoryAction))
	mux.HandleFunc("/api/config", authMiddleware(s.token, s.handleConfig))
	mux.HandleFunc("/api/universe/refresh", authMiddleware(s.token, s.handleUniverseRefresh))
	mux.HandleFunc("/api/universe/overrides", authMiddleware(s.token, s.handleOverrides))
	mux.HandleFunc("/api/universe/overrides/", authMiddleware(s.token, s.handleOverrideDelete))
	mux.HandleFunc("/api/backfill", authMiddleware(s.token, s.handleBackfill))
	mux.HandleFunc("/api/backfill/status", authMiddleware(s.token, s.handleBackfillStatus))
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound listener address, empty before start.
func (s *apiServer) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type storyPayload struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Premise          string     `json:"premise"`
	Status           string     `json:"status"`
	ChapterCount     int        `json:"chapter_count"`
	TotalTokens      int        `json:"total_tokens"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CompletionReason string     `json:"completion_reason,omitempty"`
	LastChapterAt    *time.Time `json:"last_chapter_at,omitempty"`
	CoverImageURL    string     `json:"cover_image_url,omitempty"`
}

func storyToPayload(story *store.Story) storyPayload {
	return storyPayload{
		ID:               story.ID,
		Title:            story.Title,
		Premise:          story.Premise,
		Status:           string(story.Status),
		ChapterCount:     story.ChapterCount,
		TotalTokens:      story.TotalTokens,
		CreatedAt:        story.CreatedAt,
		CompletedAt:      story.CompletedAt,
		CompletionReason: story.CompletionReason,
		LastChapterAt:    story.LastChapterAt,
		CoverImageURL:    story.CoverImageURL,
	}
}

type chapterPayload struct {
	ID               string    `json:"id"`
	StoryID          string    `json:"story_id"`
	ChapterNumber    int       `json:"chapter_number"`
	Content          string    `json:"content"`
	CreatedAt        time.Time `json:"created_at"`
	TokensUsed       int       `json:"tokens_used"`
	GenerationTimeMS int       `json:"generation_time_ms"`
	ModelUsed        string    `json:"model_used,omitempty"`
}

type overridePayload struct {
	ID         string  `json:"id"`
	StoryID    *string `json:"story_id,omitempty"`
	Name       string  `json:"name"`
	Action     string  `json:"action"`
	TargetName string  `json:"target_name,omitempty"`
	Notes      string  `json:"notes,omitempty"`
}

func overrideToPayload(ov *store.EntityOverride) overridePayload {
	return overridePayload{
		ID:         ov.ID,
		StoryID:    ov.StoryID,
		Name:       ov.Name,
		Action:     string(ov.Action),
		TargetName: ov.TargetName,
		Notes:      ov.Notes,
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	summary := s.daemon.orch.Status(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"running":        s.daemon.Running(),
		"lock_file_path": s.daemon.LockFilePath(),
		"database_path":  s.daemon.store.Path(),
		"orchestrator":   summary,
	})
}

func (s *apiServer) handleStories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []store.StoryStatus
	for _, value := range r.URL.Query()["status"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		statuses = append(statuses, store.StoryStatus(trimmed))
	}

	stories, err := s.daemon.store.ListStories(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := make([]storyPayload, 0, len(stories))
	for _, story := range stories {
		payload = append(payload, storyToPayload(story))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"stories": payload})
}

func (s *apiServer) handleStoryAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/stories/")
	storyID, action, found := strings.Cut(rest, "/")
	if storyID == "" {
		s.writeError(w, http.StatusNotFound, "story not found")
		return
	}

	if !found {
		s.handleStoryDetail(w, r, storyID)
		return
	}
	if action != "generate" {
		s.writeError(w, http.StatusNotFound, "unknown story action")
		return
	}
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	chapter, err := s.daemon.orch.GenerateChapterNow(r.Context(), storyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "story not found")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, chapterPayload{
		ID:               chapter.ID,
		StoryID:          chapter.StoryID,
		ChapterNumber:    chapter.ChapterNumber,
		Content:          chapter.Content,
		CreatedAt:        chapter.CreatedAt,
		TokensUsed:       chapter.TokensUsed,
		GenerationTimeMS: chapter.GenerationTimeMS,
		ModelUsed:        chapter.ModelUsed,
	})
}

func (s *apiServer) handleStoryDetail(w http.ResponseWriter, r *http.Request, storyID string) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	story, err := s.daemon.store.GetStory(r.Context(), storyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "story not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, storyToPayload(story))
}

func (s *apiServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.daemon.orch.RuntimeConfig(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, cfg.Map())
	case http.MethodPatch:
		var updates map[string]any
		if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		cfg, err := s.daemon.orch.ApplyRuntimeConfig(r.Context(), updates)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, cfg.Map())
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleUniverseRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		StoryID     string `json:"story_id"`
		FullRebuild bool   `json:"full_rebuild"`
		RunNow      bool   `json:"run_now"`
	}
	if r.Body != nil {
		// Empty body means "schedule a full pass".
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if req.RunNow {
		if err := s.daemon.orch.RunMetaRefresh(r.Context(), req.FullRebuild); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
		return
	}

	s.daemon.orch.RequestMetaRefresh(req.StoryID, req.FullRebuild || req.StoryID == "")
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *apiServer) handleOverrides(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		overrides, err := s.daemon.store.ListOverrides(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		payload := make([]overridePayload, 0, len(overrides))
		for _, ov := range overrides {
			payload = append(payload, overrideToPayload(ov))
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"overrides": payload})
	case http.MethodPost:
		var req struct {
			StoryID    string `json:"story_id"`
			Name       string `json:"name"`
			Action     string `json:"action"`
			TargetName string `json:"target_name"`
			Notes      string `json:"notes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		var storyID *string
		if strings.TrimSpace(req.StoryID) != "" {
			storyID = &req.StoryID
		}
		override, err := s.daemon.store.CreateOverride(r.Context(), storyID, req.Name, req.Action, req.TargetName, req.Notes)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if storyID != nil {
			s.daemon.orch.RequestMetaRefresh(*storyID, false)
		} else {
			s.daemon.orch.RequestMetaRefresh("", true)
		}
		s.writeJSON(w, http.StatusCreated, overrideToPayload(override))
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleOverrideDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/universe/overrides/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "override not found")
		return
	}
	override, err := s.daemon.store.DeleteOverride(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "override not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if override.StoryID != nil {
		s.daemon.orch.RequestMetaRefresh(*override.StoryID, false)
	} else {
		s.daemon.orch.RequestMetaRefresh("", true)
	}
	s.writeJSON(w, http.StatusOK, overrideToPayload(override))
}

func (s *apiServer) handleBackfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Force bool `json:"force"`
		Limit int  `json:"limit"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	summary, err := s.daemon.orch.RunCoverBackfill(r.Context(), req.Force, req.Limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *apiServer) handleBackfillStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status, err := s.daemon.orch.CoverBackfillStatus(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return logging.NewComponentLogger(s.logger, "api-server")
	}
	return logging.NewNop()
}

package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storyloom/internal/config"
)

const userAgent = "Storyloom/0.1.0"

// Service defines the broadcast surface exposed to the orchestrator.
// Implementations must treat delivery as best-effort; callers log errors and
// move on.
type Service interface {
	NotifyChapterCreated(ctx context.Context, storyTitle string, chapterNumber int) error
	NotifyStoryCompleted(ctx context.Context, storyTitle, reason string) error
	NotifyStorySpawned(ctx context.Context, storyTitle string) error
	NotifyBackfillCompleted(ctx context.Context, processed, generated, failed int) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		events:   cfg.Notifications,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	events   config.Notifications
}

func (n *ntfyService) NotifyChapterCreated(ctx context.Context, storyTitle string, chapterNumber int) error {
	if !n.events.Chapters {
		return nil
	}
	data := payload{
		title:   "Storyloom - New Chapter",
		message: fmt.Sprintf("Chapter %d published for %s", chapterNumber, strings.TrimSpace(storyTitle)),
		tags:    []string{"storyloom", "chapter", "created"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyStoryCompleted(ctx context.Context, storyTitle, reason string) error {
	if !n.events.Completions {
		return nil
	}
	storyTitle = strings.TrimSpace(storyTitle)
	message := fmt.Sprintf("Story complete: %s", storyTitle)
	if reason = strings.TrimSpace(reason); reason != "" {
		message = fmt.Sprintf("%s\nReason: %s", message, reason)
	}
	data := payload{
		title:   "Storyloom - Story Complete",
		message: message,
		tags:    []string{"storyloom", "story", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyStorySpawned(ctx context.Context, storyTitle string) error {
	if !n.events.Spawns {
		return nil
	}
	data := payload{
		title:   "Storyloom - Story Spawned",
		message: fmt.Sprintf("New story started: %s", strings.TrimSpace(storyTitle)),
		tags:    []string{"storyloom", "story", "spawned"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBackfillCompleted(ctx context.Context, processed, generated, failed int) error {
	if !n.events.Backfill {
		return nil
	}
	var title, message string
	if failed == 0 {
		title = "Storyloom - Covers Backfilled"
		message = fmt.Sprintf("Cover backfill complete: %d processed, %d generated", processed, generated)
	} else {
		title = "Storyloom - Covers Backfilled (with errors)"
		message = fmt.Sprintf("Cover backfill complete: %d processed, %d generated, %d failed", processed, generated, failed)
	}
	data := payload{
		title:   title,
		message: message,
		tags:    []string{"storyloom", "backfill", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.events.Errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" in ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Storyloom - Error",
		message:  builder.String(),
		tags:     []string{"storyloom", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Storyloom - Test",
		message:  "Notification system test",
		tags:     []string{"storyloom", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyChapterCreated(context.Context, string, int) error      { return nil }
func (noopService) NotifyStoryCompleted(context.Context, string, string) error   { return nil }
func (noopService) NotifyStorySpawned(context.Context, string) error             { return nil }
func (noopService) NotifyBackfillCompleted(context.Context, int, int, int) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error             { return nil }
func (noopService) TestNotification(context.Context) error                       { return nil }

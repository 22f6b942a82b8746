package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/jobs"
)

const userAgent = "Arbiter-Go/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyJobSubmitted(ctx context.Context, job *jobs.Job) error
	NotifyJobCompleted(ctx context.Context, job *jobs.Job, score float64) error
	NotifyJobPartial(ctx context.Context, job *jobs.Job, score float64) error
	NotifyJobFailed(ctx context.Context, job *jobs.Job) error
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
}

func (n *ntfyService) NotifyJobSubmitted(ctx context.Context, job *jobs.Job) error {
	data := payload{
		title:   "Arbiter - Job Submitted",
		message: fmt.Sprintf("Queued analysis of %s", job.SourceRef),
		tags:    []string{"arbiter", "job", "submitted"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, job *jobs.Job, score float64) error {
	data := payload{
		title:    "Arbiter - Analysis Complete",
		message:  fmt.Sprintf("Score %.1f/100 for %s", score, job.SourceRef),
		tags:     []string{"arbiter", "job", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobPartial(ctx context.Context, job *jobs.Job, score float64) error {
	message := fmt.Sprintf("Score %.1f/100 for %s (degraded)", score, job.SourceRef)
	if len(job.Warnings) > 0 {
		message = fmt.Sprintf("%s\n%s", message, job.Warnings[0])
	}
	data := payload{
		title:   "Arbiter - Analysis Partial",
		message: message,
		tags:    []string{"arbiter", "job", "partial"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, job *jobs.Job) error {
	message := fmt.Sprintf("Analysis failed for %s", job.SourceRef)
	if reason := strings.TrimSpace(job.ErrorMessage); reason != "" {
		message = fmt.Sprintf("%s\n%s", message, reason)
	}
	data := payload{
		title:    "Arbiter - Analysis Failed",
		message:  message,
		tags:     []string{"arbiter", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Arbiter - Test",
		message:  "Notification system test",
		tags:     []string{"arbiter", "test"},
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

func (noopService) NotifyJobSubmitted(context.Context, *jobs.Job) error          { return nil }
func (noopService) NotifyJobCompleted(context.Context, *jobs.Job, float64) error { return nil }
func (noopService) NotifyJobPartial(context.Context, *jobs.Job, float64) error   { return nil }
func (noopService) NotifyJobFailed(context.Context, *jobs.Job) error             { return nil }
func (noopService) TestNotification(context.Context) error                       { return nil }

// NewNop returns a notification service that does nothing (used in tests).
func NewNop() Service { return noopService{} }

package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MATXBY/m4brew/internal/batch"
	"github.com/MATXBY/m4brew/internal/config"
)

const userAgent = "m4brew/0.1.0"

// JobReport is what a finished job tells the notifier.
type JobReport struct {
	ID       string
	Status   string
	Canceled bool
	Summary  batch.Summary
}

// Service defines the notification surface used by the job supervisor.
type Service interface {
	NotifyJobFinished(ctx context.Context, report JobReport) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := cfg.NotificationTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint:     topic,
		client:       &http.Client{Timeout: timeout},
		jobCompleted: cfg.Notifications.JobCompleted,
		errors:       cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint     string
	client       *http.Client
	jobCompleted bool
	errors       bool
}

func (n *ntfyService) NotifyJobFinished(ctx context.Context, report JobReport) error {
	if !n.jobCompleted {
		return nil
	}
	s := report.Summary
	mode := string(s.Mode)
	if s.DryRun {
		mode += " (dry run)"
	}
	runtime := (time.Duration(s.RuntimeSeconds * float64(time.Second))).Round(time.Second)

	var counts string
	switch s.Mode {
	case batch.ModeCorrect:
		counts = fmt.Sprintf("%d renamed, %d skipped", s.Renamed, s.Skipped)
	case batch.ModeCleanup:
		counts = fmt.Sprintf("%d backup folders deleted", s.Deleted)
	default:
		counts = fmt.Sprintf("%d created, %d skipped", s.Created, s.Skipped)
	}
	if s.Failed > 0 {
		counts += fmt.Sprintf(", %d failed", s.Failed)
	}

	data := payload{
		title:   "m4brew - " + titleFor(report),
		message: fmt.Sprintf("%s: %s in %s", mode, counts, runtime),
		tags:    []string{"m4brew", string(s.Mode), report.Status},
	}
	if s.WarningsCount > 0 {
		data.message += fmt.Sprintf("\n%d warnings", s.WarningsCount)
	}
	if s.Reason != "" && !report.Canceled {
		data.message += "\nReason: " + s.Reason
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func titleFor(report JobReport) string {
	switch {
	case report.Canceled:
		return "Job Canceled"
	case report.Summary.Success:
		return "Job Complete"
	default:
		return "Job Complete (with errors)"
	}
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	return n.send(ctx, payload{
		title:    "m4brew - Error",
		message:  builder.String(),
		tags:     []string{"m4brew", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "m4brew - Test",
		message:  "Notification system test",
		tags:     []string{"m4brew", "test"},
		priority: "low",
	})
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

func (noopService) NotifyJobFinished(context.Context, JobReport) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error   { return nil }
func (noopService) TestNotification(context.Context) error             { return nil }

package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"conveyor/internal/config"
)

const userAgent = "Conveyor-Go/0.1.0"

// Event enumerates the pipeline milestones worth a push notification.
type Event string

const (
	EventStageCompleted       Event = "stage_completed"
	EventItemCompleted        Event = "item_completed"
	EventItemFailed           Event = "item_failed"
	EventPublicationCompleted Event = "publication_completed"
	EventPublicationFailed    Event = "publication_failed"
	EventAutomationFired      Event = "automation_fired"
	EventTest                 Event = "test"
)

// Payload carries the event-specific fields used to format the message.
type Payload map[string]string

// Service is the notification surface exposed to workflow components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
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
		settings: cfg.Notifications,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	settings config.Notifications
}

// Publish formats and delivers one event, honoring the per-category toggles.
// Disabled categories return nil so callers never branch on configuration.
func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled(event) {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) enabled(event Event) bool {
	switch event {
	case EventStageCompleted, EventItemCompleted:
		return n.settings.Stages
	case EventPublicationCompleted, EventPublicationFailed:
		return n.settings.Publications
	case EventAutomationFired:
		return n.settings.Automation
	case EventItemFailed:
		return n.settings.Errors
	default:
		return true
	}
}

func format(event Event, payload Payload) (message, bool) {
	get := func(key string) string { return strings.TrimSpace(payload[key]) }

	switch event {
	case EventStageCompleted:
		return message{
			title: "Conveyor - Stage Complete",
			body:  fmt.Sprintf("%s finished %s", get("title"), get("stage")),
			tags:  []string{"conveyor", "stage", "completed"},
		}, true
	case EventItemCompleted:
		return message{
			title:    "Conveyor - Item Complete",
			body:     fmt.Sprintf("Published everywhere: %s", get("title")),
			tags:     []string{"conveyor", "item", "completed"},
			priority: "high",
		}, true
	case EventItemFailed:
		body := fmt.Sprintf("Failed at %s: %s", get("stage"), get("title"))
		if reason := get("error"); reason != "" {
			body = fmt.Sprintf("%s\n%s", body, reason)
		}
		return message{
			title:    "Conveyor - Item Failed",
			body:     body,
			tags:     []string{"conveyor", "error", "alert"},
			priority: "high",
		}, true
	case EventPublicationCompleted:
		return message{
			title: "Conveyor - Published",
			body:  fmt.Sprintf("%s is live on %s", get("title"), get("target")),
			tags:  []string{"conveyor", "publish", "completed"},
		}, true
	case EventPublicationFailed:
		body := fmt.Sprintf("%s failed to publish to %s", get("title"), get("target"))
		if reason := get("error"); reason != "" {
			body = fmt.Sprintf("%s\n%s", body, reason)
		}
		return message{
			title:    "Conveyor - Publish Failed",
			body:     body,
			tags:     []string{"conveyor", "publish", "failed"},
			priority: "high",
		}, true
	case EventAutomationFired:
		return message{
			title: "Conveyor - Automation Run",
			body:  fmt.Sprintf("%s queued %s items", get("job"), get("queued")),
			tags:  []string{"conveyor", "automation", "fired"},
		}, true
	case EventTest:
		return message{
			title:    "Conveyor - Test",
			body:     "Notification system test",
			tags:     []string{"conveyor", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
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

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"conveyor/internal/config"
	"conveyor/internal/notifications"
)

func testConfig(topic string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = topic
	cfg.Notifications.RequestTimeout = 5
	cfg.Notifications.Stages = true
	cfg.Notifications.Publications = true
	cfg.Notifications.Automation = true
	cfg.Notifications.Errors = true
	return &cfg
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventItemCompleted, notifications.Payload{"title": "Example"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "stage completed",
			event: notifications.EventStageCompleted,
			payload: notifications.Payload{
				"title": "Intro to ML 101",
				"stage": "transcribing",
			},
			expectTitle:   "Conveyor - Stage Complete",
			expectMessage: "Intro to ML 101 finished transcribing",
			expectTags:    "conveyor,stage,completed",
		},
		{
			name:  "item completed",
			event: notifications.EventItemCompleted,
			payload: notifications.Payload{
				"title": "Intro to ML 101",
			},
			expectTitle:    "Conveyor - Item Complete",
			expectMessage:  "Published everywhere: Intro to ML 101",
			expectTags:     "conveyor,item,completed",
			expectPriority: "high",
		},
		{
			name:  "item failed",
			event: notifications.EventItemFailed,
			payload: notifications.Payload{
				"title": "Intro to ML 101",
				"stage": "processing",
				"error": "transcoder exited 1",
			},
			expectTitle:    "Conveyor - Item Failed",
			expectMessage:  "Failed at processing: Intro to ML 101\ntranscoder exited 1",
			expectTags:     "conveyor,error,alert",
			expectPriority: "high",
		},
		{
			name:  "publication completed",
			event: notifications.EventPublicationCompleted,
			payload: notifications.Payload{
				"title":  "Intro to ML 101",
				"target": "youtube",
			},
			expectTitle:   "Conveyor - Published",
			expectMessage: "Intro to ML 101 is live on youtube",
			expectTags:    "conveyor,publish,completed",
		},
		{
			name:  "automation fired",
			event: notifications.EventAutomationFired,
			payload: notifications.Payload{
				"job":    "Nightly Sync",
				"queued": "4",
			},
			expectTitle:   "Conveyor - Automation Run",
			expectMessage: "Nightly Sync queued 4 items",
			expectTags:    "conveyor,automation,fired",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Fatalf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Fatalf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			svc := notifications.NewService(testConfig(server.URL))
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceHonorsCategoryToggles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for disabled category: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Notifications.Stages = false
	cfg.Notifications.Publications = false
	cfg.Notifications.Automation = false
	cfg.Notifications.Errors = false

	svc := notifications.NewService(cfg)
	disabled := []notifications.Event{
		notifications.EventStageCompleted,
		notifications.EventItemCompleted,
		notifications.EventItemFailed,
		notifications.EventPublicationCompleted,
		notifications.EventPublicationFailed,
		notifications.EventAutomationFired,
	}
	for _, event := range disabled {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"title": "ignored"}); err != nil {
			t.Fatalf("expected no error for disabled event %s, got %v", event, err)
		}
	}
}

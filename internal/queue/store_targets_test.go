package queue_test

import (
	"context"
	"errors"
	"testing"

	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/testsupport"
)

func TestEnsureTargetsIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, 1, "Fanout")
	if err := store.EnsureTargets(ctx, item.ID, []string{"youtube", "podcast"}); err != nil {
		t.Fatalf("EnsureTargets: %v", err)
	}
	if err := store.EnsureTargets(ctx, item.ID, []string{"youtube", "vimeo"}); err != nil {
		t.Fatalf("EnsureTargets second call: %v", err)
	}

	targets, err := store.TargetsForItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("TargetsForItem: %v", err)
	}
	if len(targets) != 3 {
		t.Fatalf("expected 3 targets, got %d", len(targets))
	}
	for _, target := range targets {
		if target.Status != queue.TargetNotUploaded {
			t.Fatalf("expected %s to start not_uploaded, got %s", target.Target, target.Status)
		}
	}
}

func TestTargetLifecycleIndependence(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, 1, "Independent")
	item = testsupport.AdvanceTo(t, store, item, queue.StatusTranscribed)
	if err := store.EnsureTargets(ctx, item.ID, []string{"youtube", "podcast"}); err != nil {
		t.Fatalf("EnsureTargets: %v", err)
	}

	if err := store.TransitionTarget(ctx, item.ID, "youtube", queue.TargetNotUploaded, queue.TargetUploading, ""); err != nil {
		t.Fatalf("claim youtube: %v", err)
	}
	if err := store.TransitionTarget(ctx, item.ID, "youtube", queue.TargetUploading, queue.TargetFailed, "quota hit"); err != nil {
		t.Fatalf("fail youtube: %v", err)
	}
	if err := store.TransitionTarget(ctx, item.ID, "podcast", queue.TargetNotUploaded, queue.TargetUploading, ""); err != nil {
		t.Fatalf("claim podcast: %v", err)
	}
	if err := store.TransitionTarget(ctx, item.ID, "podcast", queue.TargetUploading, queue.TargetUploaded, ""); err != nil {
		t.Fatalf("finish podcast: %v", err)
	}

	youtube, err := store.GetTarget(ctx, item.ID, "youtube")
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if youtube.Status != queue.TargetFailed || youtube.ErrorMessage != "quota hit" {
		t.Fatalf("unexpected youtube state: %#v", youtube)
	}
	podcast, err := store.GetTarget(ctx, item.ID, "podcast")
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if podcast.Status != queue.TargetUploaded {
		t.Fatalf("sibling failure leaked into podcast: %#v", podcast)
	}

	// The parent item status is untouched by target activity.
	parent, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if parent.Status != queue.StatusTranscribed {
		t.Fatalf("expected parent untouched at transcribed, got %s", parent.Status)
	}
}

func TestTargetRetryIncrementsCount(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, 1, "Target Retry")
	if err := store.EnsureTargets(ctx, item.ID, []string{"youtube"}); err != nil {
		t.Fatalf("EnsureTargets: %v", err)
	}
	steps := []struct {
		from, to queue.TargetStatus
	}{
		{queue.TargetNotUploaded, queue.TargetUploading},
		{queue.TargetUploading, queue.TargetFailed},
		{queue.TargetFailed, queue.TargetUploading},
	}
	for _, step := range steps {
		if err := store.TransitionTarget(ctx, item.ID, "youtube", step.from, step.to, "err"); err != nil {
			t.Fatalf("transition %s -> %s: %v", step.from, step.to, err)
		}
	}
	target, err := store.GetTarget(ctx, item.ID, "youtube")
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if target.RetryCount != 1 {
		t.Fatalf("expected retry count 1 after re-upload, got %d", target.RetryCount)
	}
}

func TestTargetTransitionConflict(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, 1, "Target Conflict")
	if err := store.EnsureTargets(ctx, item.ID, []string{"youtube"}); err != nil {
		t.Fatalf("EnsureTargets: %v", err)
	}
	if err := store.TransitionTarget(ctx, item.ID, "youtube", queue.TargetNotUploaded, queue.TargetUploading, ""); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	err := store.TransitionTarget(ctx, item.ID, "youtube", queue.TargetNotUploaded, queue.TargetUploading, "")
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestAllTargetsUploaded(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, 1, "All Uploaded")

	// No targets at all is not "all uploaded".
	done, err := store.AllTargetsUploaded(ctx, item.ID)
	if err != nil {
		t.Fatalf("AllTargetsUploaded: %v", err)
	}
	if done {
		t.Fatal("expected false with no targets")
	}

	if err := store.EnsureTargets(ctx, item.ID, []string{"youtube", "podcast"}); err != nil {
		t.Fatalf("EnsureTargets: %v", err)
	}
	for _, target := range []string{"youtube", "podcast"} {
		if err := store.TransitionTarget(ctx, item.ID, target, queue.TargetNotUploaded, queue.TargetUploading, ""); err != nil {
			t.Fatalf("claim %s: %v", target, err)
		}
	}
	if err := store.TransitionTarget(ctx, item.ID, "youtube", queue.TargetUploading, queue.TargetUploaded, ""); err != nil {
		t.Fatalf("finish youtube: %v", err)
	}
	done, err = store.AllTargetsUploaded(ctx, item.ID)
	if err != nil {
		t.Fatalf("AllTargetsUploaded: %v", err)
	}
	if done {
		t.Fatal("expected false with one target pending")
	}
	if err := store.TransitionTarget(ctx, item.ID, "podcast", queue.TargetUploading, queue.TargetUploaded, ""); err != nil {
		t.Fatalf("finish podcast: %v", err)
	}
	done, err = store.AllTargetsUploaded(ctx, item.ID)
	if err != nil {
		t.Fatalf("AllTargetsUploaded: %v", err)
	}
	if !done {
		t.Fatal("expected true once every target uploaded")
	}
}

func TestValidateTargetTransition(t *testing.T) {
	valid := []struct{ from, to queue.TargetStatus }{
		{queue.TargetNotUploaded, queue.TargetUploading},
		{queue.TargetNotUploaded, queue.TargetFailed},
		{queue.TargetUploading, queue.TargetUploaded},
		{queue.TargetUploading, queue.TargetFailed},
		{queue.TargetFailed, queue.TargetUploading},
	}
	for _, tc := range valid {
		if err := queue.ValidateTargetTransition(tc.from, tc.to); err != nil {
			t.Errorf("expected %s -> %s allowed, got %v", tc.from, tc.to, err)
		}
	}
	invalid := []struct{ from, to queue.TargetStatus }{
		{queue.TargetUploaded, queue.TargetUploading},
		{queue.TargetUploaded, queue.TargetFailed},
		{queue.TargetFailed, queue.TargetUploaded},
		{queue.TargetNotUploaded, queue.TargetUploaded},
	}
	for _, tc := range invalid {
		if err := queue.ValidateTargetTransition(tc.from, tc.to); err == nil {
			t.Errorf("expected %s -> %s rejected", tc.from, tc.to)
		}
	}
}

package main

import (
	"testing"
)

const dailyScheduleJSON = `{"type":"time_of_day","time":"06:30","timezone":"UTC"}`

func TestJobCreateShowDelete(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{
		"job", "create",
		"--name", "nightly-sync",
		"--schedule", dailyScheduleJSON,
	}, env.configPath)
	if err != nil {
		t.Fatalf("job create: %v", err)
	}
	requireContains(t, out, "Created job 1")
	requireContains(t, out, "next run")

	out, _, err = runCLI(t, []string{"job", "show", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("job show: %v", err)
	}
	requireContains(t, out, "nightly-sync")
	requireContains(t, out, "06:30")

	out, _, err = runCLI(t, []string{"job", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("job list: %v", err)
	}
	requireContains(t, out, "nightly-sync")

	out, _, err = runCLI(t, []string{"job", "delete", "1"}, env.configPath)
	if err != nil {
		t.Fatalf("job delete: %v", err)
	}
	requireContains(t, out, "Deleted job 1")
}

func TestJobCreateRejectsInvalidSchedule(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, []string{
		"job", "create", "--name", "too-frequent",
		"--schedule", `{"type":"cron","expression":"*/5 * * * *"}`,
	}, env.configPath); err == nil {
		t.Fatal("expected minimum-interval validation to reject the schedule")
	}
}

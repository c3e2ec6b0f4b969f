package main

import (
	"os"
	"strings"
	"testing"

	"conveyor/internal/logging"
)

func TestLogsShowsRecentLines(t *testing.T) {
	env := setupCLITestEnv(t)

	path := logging.LogFilePath(env.cfg)
	content := "line one\nline two\nline three\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "--lines", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "line two")
	requireContains(t, out, "line three")
	if strings.Contains(out, "line one") {
		t.Fatalf("expected only the last two lines, got:\n%s", out)
	}
}

func TestLogsEmptyFile(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"logs"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No log entries available")
}

package compiler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "detect.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("write script failed: %v", err)
	}
	return path
}

func TestCommandDetectorReportsLanguage(t *testing.T) {
	t.Parallel()
	script := writeScript(t, "echo Python\necho build output\n")
	detector := NewCommandDetector(script, time.Minute)

	language, diagnostics, err := detector.Detect(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if language != "Python" {
		t.Fatalf("expected language Python, got %q", language)
	}
	if diagnostics != "" {
		t.Fatalf("expected no diagnostics on success, got %q", diagnostics)
	}
}

func TestCommandDetectorReceivesDirectory(t *testing.T) {
	t.Parallel()
	script := writeScript(t, `echo "$1"`)
	detector := NewCommandDetector(script, time.Minute)
	dir := t.TempDir()

	language, _, err := detector.Detect(context.Background(), dir)
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if language != dir {
		t.Fatalf("directory not passed as argument: got %q, want %q", language, dir)
	}
}

func TestCommandDetectorCapturesBuildFailure(t *testing.T) {
	t.Parallel()
	script := writeScript(t, "echo 'MyBot.java:4: error: cannot find symbol'\nexit 1\n")
	detector := NewCommandDetector(script, time.Minute)

	language, diagnostics, err := detector.Detect(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("detect returned hard error for build failure: %v", err)
	}
	if language != "" {
		t.Fatalf("failed build should not report a language, got %q", language)
	}
	if diagnostics == "" || diagnostics != "MyBot.java:4: error: cannot find symbol" {
		t.Fatalf("diagnostics not captured: %q", diagnostics)
	}
}

func TestCommandDetectorEmptyCommand(t *testing.T) {
	t.Parallel()
	detector := NewCommandDetector("   ", time.Minute)
	if _, _, err := detector.Detect(context.Background(), t.TempDir()); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

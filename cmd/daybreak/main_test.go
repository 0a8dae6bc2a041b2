package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nDAYBREAK_TEST_A=alpha\n\nDAYBREAK_TEST_B = beta \nbroken line\n=novalue\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("DAYBREAK_TEST_A", "")
	t.Setenv("DAYBREAK_TEST_B", "")
	os.Unsetenv("DAYBREAK_TEST_A")
	os.Unsetenv("DAYBREAK_TEST_B")

	loadDotEnv(path)

	if got := os.Getenv("DAYBREAK_TEST_A"); got != "alpha" {
		t.Fatalf("DAYBREAK_TEST_A = %q, want alpha", got)
	}
	if got := os.Getenv("DAYBREAK_TEST_B"); got != "beta" {
		t.Fatalf("DAYBREAK_TEST_B = %q, want beta", got)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("DAYBREAK_TEST_KEEP=file\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("DAYBREAK_TEST_KEEP", "env")

	loadDotEnv(path)

	if got := os.Getenv("DAYBREAK_TEST_KEEP"); got != "env" {
		t.Fatalf("DAYBREAK_TEST_KEEP = %q, want env", got)
	}
}

func TestLoadDotEnvMissingFileIsNoop(t *testing.T) {
	loadDotEnv(filepath.Join(t.TempDir(), "nope.env"))
}

func TestLogMailerNeverFails(t *testing.T) {
	m := &logMailer{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if err := m.Send(context.Background(), "a@b.c", "hi", "body"); err != nil {
		t.Fatalf("send: %v", err)
	}
}

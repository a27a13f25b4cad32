package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireWritesOwner(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "main")

	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if !strings.Contains(string(data), "pid=") {
		t.Errorf("lock file missing pid: %q", data)
	}
	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("lock file still present after release: %v", err)
	}
}

func TestSecondAcquireReportsHolder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "work")

	l1, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(dir)
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("expected HeldError, got %T: %v", err, err)
	}
	if held.PID != os.Getpid() {
		t.Errorf("holder PID = %d, want %d", held.PID, os.Getpid())
	}
	if held.Profile != "work" {
		t.Errorf("holder profile = %q, want work", held.Profile)
	}
	if held.Since.IsZero() {
		t.Error("holder start time not parsed")
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()
	l, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
	l2, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	_ = l2.Release()

	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestParseOwner(t *testing.T) {
	pid, since := parseOwner("pid=42\nsince=2026-01-02T03:04:05Z\n")
	if pid != 42 {
		t.Errorf("pid = %d, want 42", pid)
	}
	if since.Year() != 2026 {
		t.Errorf("since = %v", since)
	}
	if pid, _ := parseOwner("garbage"); pid != 0 {
		t.Errorf("pid from garbage = %d", pid)
	}
}

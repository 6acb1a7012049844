package bootstrap

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

var linePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}  - Test log entry from user \S+\n$`)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func staticIdentity(name string) Identity {
	return func() (string, error) { return name, nil }
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	content := string(data)
	if !strings.HasSuffix(content, "\n") {
		t.Fatalf("log file does not end with newline: %q", content)
	}
	return strings.SplitAfter(content, "\n")[:strings.Count(content, "\n")]
}

func TestRunFreshEnvironment(t *testing.T) {
	base := t.TempDir()
	r := New(base, fixedClock(time.Date(2026, time.March, 14, 9, 26, 53, 0, time.Local)), staticIdentity("deploy"))

	res, err := r.Run()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Dir != filepath.Join(base, "var") {
		t.Fatalf("unexpected dir: %q", res.Dir)
	}
	if res.File != filepath.Join(base, "var", "test.log") {
		t.Fatalf("unexpected file: %q", res.File)
	}
	if res.Line != "2026-03-14 09:26:53  - Test log entry from user deploy\n" {
		t.Fatalf("unexpected line: %q", res.Line)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatalf("read base dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "var" || !entries[0].IsDir() {
		t.Fatalf("expected exactly one var directory, got %v", entries)
	}

	lines := readLines(t, res.File)
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	if !linePattern.MatchString(lines[0]) {
		t.Fatalf("line does not match format: %q", lines[0])
	}
}

func TestRunIdempotentDirectoryCreation(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "var")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("precreate dir: %v", err)
	}
	sibling := filepath.Join(dir, "cache.bin")
	if err := os.WriteFile(sibling, []byte("keep"), 0o644); err != nil {
		t.Fatalf("precreate sibling: %v", err)
	}

	r := New(base, nil, staticIdentity("deploy"))
	if _, err := r.Run(); err != nil {
		t.Fatalf("unexpected error with existing dir: %v", err)
	}

	data, err := os.ReadFile(sibling)
	if err != nil || string(data) != "keep" {
		t.Fatalf("sibling file altered: %q, %v", data, err)
	}
}

func TestRunAppendOnlyGrowth(t *testing.T) {
	base := t.TempDir()
	r := New(base, nil, staticIdentity("deploy"))

	var previous []string
	for i := 1; i <= 3; i++ {
		res, err := r.Run()
		if err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
		lines := readLines(t, res.File)
		if len(lines) != i {
			t.Fatalf("after run %d expected %d lines, got %d", i, i, len(lines))
		}
		for j, prior := range previous {
			if lines[j] != prior {
				t.Fatalf("line %d changed between runs: %q vs %q", j, prior, lines[j])
			}
		}
		previous = lines
	}

	var last time.Time
	for _, line := range previous {
		if !linePattern.MatchString(line) {
			t.Fatalf("malformed line: %q", line)
		}
		ts, err := time.ParseInLocation("2006-01-02 15:04:05", line[:19], time.Local)
		if err != nil {
			t.Fatalf("parse timestamp: %v", err)
		}
		if ts.Before(last) {
			t.Fatalf("timestamps decreased: %v after %v", ts, last)
		}
		last = ts
	}
}

func TestRunConcurrentAppends(t *testing.T) {
	base := t.TempDir()
	if err := os.Mkdir(filepath.Join(base, "var"), 0o755); err != nil {
		t.Fatalf("precreate dir: %v", err)
	}
	r := New(base, nil, staticIdentity("deploy"))

	const workers = 10
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Run(); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent run failed: %v", err)
	}

	lines := readLines(t, filepath.Join(base, "var", "test.log"))
	if len(lines) != workers {
		t.Fatalf("expected %d lines, got %d", workers, len(lines))
	}
	for _, line := range lines {
		if !linePattern.MatchString(line) {
			t.Fatalf("corrupted line: %q", line)
		}
	}
}

func TestRunDirectoryCreateFailure(t *testing.T) {
	base := t.TempDir()
	// A regular file where the base directory should be makes Mkdir fail
	// regardless of the uid the tests run under.
	blocked := filepath.Join(base, "occupied")
	if err := os.WriteFile(blocked, nil, 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	r := New(blocked, nil, staticIdentity("deploy"))
	_, err := r.Run()
	if !errors.Is(err, ErrCreateDir) {
		t.Fatalf("expected ErrCreateDir, got %v", err)
	}
}

func TestRunIdentityFailure(t *testing.T) {
	base := t.TempDir()
	r := New(base, nil, func() (string, error) { return "", errors.New("lookup failed") })

	_, err := r.Run()
	if !errors.Is(err, ErrIdentity) {
		t.Fatalf("expected ErrIdentity, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(base, "var", "test.log")); !os.IsNotExist(statErr) {
		t.Fatalf("expected no log file after identity failure, got %v", statErr)
	}
}

func TestEntryIsPureFunctionOfClockAndIdentity(t *testing.T) {
	at := time.Date(2026, time.August, 30, 23, 59, 59, 0, time.Local)
	r := New(t.TempDir(), fixedClock(at), staticIdentity("www-data"))

	first, err := r.Entry()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := r.Entry()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("entries differ for identical inputs: %q vs %q", first, second)
	}
	if first != "2026-08-30 23:59:59  - Test log entry from user www-data\n" {
		t.Fatalf("unexpected entry: %q", first)
	}
}

func TestNewDefaults(t *testing.T) {
	r := New("", nil, nil)
	if r.baseDir != "." {
		t.Fatalf("expected default base dir, got %q", r.baseDir)
	}
	line, err := r.Entry()
	if err != nil {
		t.Fatalf("default identity failed: %v", err)
	}
	if !linePattern.MatchString(line) {
		t.Fatalf("default entry malformed: %q", line)
	}
}

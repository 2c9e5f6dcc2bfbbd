package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cxref/internal/logging"
)

func TestEventTypeString(t *testing.T) {
	tt := []struct {
		eventType EventType
		want      string
	}{
		{EventCreate, "create"},
		{EventModify, "modify"},
		{EventDelete, "delete"},
		{EventRename, "rename"},
		{EventType(99), "unknown"},
	}

	for _, tc := range tt {
		t.Run(tc.want, func(t *testing.T) {
			if got := tc.eventType.String(); got != tc.want {
				t.Errorf("String() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Enabled {
		t.Error("Enabled should default true")
	}
	if cfg.DebounceMs != 500 {
		t.Errorf("DebounceMs = %d, want 500", cfg.DebounceMs)
	}
	if len(cfg.Extensions) == 0 {
		t.Error("Extensions should not be empty")
	}
	found := false
	for _, e := range cfg.Extensions {
		if e == ".cc" {
			found = true
		}
	}
	if !found {
		t.Error("Extensions should include .cc")
	}
}

func newTestWatcher(t *testing.T) (*Watcher, chan []Event) {
	t.Helper()
	events := make(chan []Event, 16)
	cfg := DefaultConfig()
	cfg.DebounceMs = 30
	w, err := New(cfg, logging.NewNop(), func(root string, evs []Event) {
		events <- evs
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w, events
}

func TestWatchRootDetectsSourceChange(t *testing.T) {
	dir := t.TempDir()
	w, events := newTestWatcher(t)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := w.WatchRoot(dir); err != nil {
		t.Fatalf("WatchRoot: %v", err)
	}

	path := filepath.Join(dir, "main.cc")
	if err := os.WriteFile(path, []byte("int main(){}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case evs := <-events:
		if len(evs) == 0 {
			t.Fatal("expected at least one event")
		}
		if evs[0].Path != path {
			t.Errorf("event path = %q, want %q", evs[0].Path, path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestWatchRootIgnoresNonSourceExtensions(t *testing.T) {
	dir := t.TempDir()
	w, events := newTestWatcher(t)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := w.WatchRoot(dir); err != nil {
		t.Fatalf("WatchRoot: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	// Give the watcher time to (not) react, then prove nothing arrived by
	// racing a real source-file write after it.
	time.Sleep(50 * time.Millisecond)
	srcPath := filepath.Join(dir, "real.cc")
	if err := os.WriteFile(srcPath, []byte("int x;"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case evs := <-events:
		for _, e := range evs {
			if e.Path != srcPath {
				t.Errorf("unexpected event for ignored extension: %+v", e)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the real source event")
	}
}

func TestUnwatchRoot(t *testing.T) {
	dir := t.TempDir()
	w, _ := newTestWatcher(t)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := w.WatchRoot(dir); err != nil {
		t.Fatalf("WatchRoot: %v", err)
	}
	if len(w.WatchedRoots()) != 1 {
		t.Fatalf("expected 1 watched root, got %d", len(w.WatchedRoots()))
	}

	w.UnwatchRoot(dir)
	if len(w.WatchedRoots()) != 0 {
		t.Fatalf("expected 0 watched roots after unwatch, got %d", len(w.WatchedRoots()))
	}
}

func TestStatsReportsWatchedRoots(t *testing.T) {
	dir := t.TempDir()
	w, _ := newTestWatcher(t)
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	_ = w.WatchRoot(dir)
	stats := w.Stats()
	if stats["watchedRoots"].(int) != 1 {
		t.Errorf("Stats()[watchedRoots] = %v, want 1", stats["watchedRoots"])
	}
}

func TestBatchDebouncerConcurrentAdd(t *testing.T) {
	var mu sync.Mutex
	var got []Event
	done := make(chan struct{})

	bd := NewBatchDebouncer(20*time.Millisecond, func(evs []Event) {
		mu.Lock()
		got = append(got, evs...)
		mu.Unlock()
		close(done)
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bd.Add(Event{Type: EventModify, Path: filepath.Join("f", string(rune('a'+i)))})
		}(i)
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced flush")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 10 {
		t.Errorf("got %d events, want 10", len(got))
	}
}

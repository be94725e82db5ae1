package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) consume(p *Pipeline) {
	for ev := range p.Events() {
		s.mu.Lock()
		s.events = append(s.events, ev)
		s.mu.Unlock()
	}
}

func (s *eventSink) find(path string, kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Path == path && ev.Kind == kind {
			return true
		}
	}
	return false
}

func (s *eventSink) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Path == path {
			n++
		}
	}
	return n
}

func startPipeline(t *testing.T) (string, *eventSink) {
	t.Helper()
	root := t.TempDir()
	p := NewPipeline(root, 50*time.Millisecond, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sink := &eventSink{}
	go sink.consume(p)
	go p.Run(ctx)

	time.Sleep(100 * time.Millisecond) // let the watcher arm
	return root, sink
}

func TestPipeline_WriteDispatchedOnce(t *testing.T) {
	root, sink := startPipeline(t)

	// Several rapid writes, one logical save.
	for i := 0; i < 3; i++ {
		_ = os.WriteFile(filepath.Join(root, "a.md"), []byte("content"), 0o644)
		time.Sleep(5 * time.Millisecond)
	}

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return sink.count("a.md") >= 1
	}, "no event dispatched for a.md")

	// Window is long past; still exactly one coalesced event.
	time.Sleep(200 * time.Millisecond)
	if n := sink.count("a.md"); n != 1 {
		t.Errorf("dispatched %d events for a.md, want 1", n)
	}
}

func TestPipeline_HiddenPathsFiltered(t *testing.T) {
	root, sink := startPipeline(t)

	_ = os.MkdirAll(filepath.Join(root, ".obsidian"), 0o755)
	_ = os.WriteFile(filepath.Join(root, ".obsidian", "x.md"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(root, ".hidden.md"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(root, "seen.md"), []byte("x"), 0o644)

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return sink.count("seen.md") >= 1
	}, "visible file never dispatched")

	if sink.count(".obsidian/x.md") != 0 || sink.count(".hidden.md") != 0 {
		t.Error("hidden paths leaked through the filter")
	}
}

func TestPipeline_NewDirWatched(t *testing.T) {
	root, sink := startPipeline(t)

	sub := filepath.Join(root, "sub")
	_ = os.MkdirAll(sub, 0o755)

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return sink.find("sub", Created)
	}, "no event for new directory")

	_ = os.WriteFile(filepath.Join(sub, "deep.md"), []byte("deep"), 0o644)

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return sink.count("sub/deep.md") >= 1
	}, "file in new subdir never dispatched")
}

func TestPipeline_RemoveDispatched(t *testing.T) {
	root, sink := startPipeline(t)

	file := filepath.Join(root, "gone.md")
	_ = os.WriteFile(file, []byte("x"), 0o644)

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return sink.count("gone.md") >= 1
	}, "create never dispatched")

	_ = os.Remove(file)

	eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		return sink.find("gone.md", Removed)
	}, "remove never dispatched")
}

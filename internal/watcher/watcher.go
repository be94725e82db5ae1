// Package watcher turns raw filesystem notifications into a debounced,
// de-duplicated stream of per-path change events.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mikaelwills/spacenotes/internal/pathutil"
)

// Pipeline watches the vault root with fsnotify, filters hidden and
// housekeeping paths, and feeds the rest through a Debouncer. Consumers
// read coalesced events from Events().
type Pipeline struct {
	root   string
	logger *slog.Logger
	deb    *Debouncer
}

// NewPipeline creates a pipeline for the given vault root. A nil clock uses
// real timers; tests inject a virtual one.
func NewPipeline(root string, window time.Duration, clock Clock, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		root:   root,
		logger: logger,
		deb:    NewDebouncer(window, clock),
	}
}

// Events returns the stream of coalesced change events. Paths are relative
// to the vault root with forward slashes.
func (p *Pipeline) Events() <-chan Event {
	return p.deb.Events()
}

// Run drives the watcher until ctx is cancelled. New directories created at
// runtime are added to the watch list and their pre-existing markdown files
// surfaced as created events (the files were written before the directory
// was being watched). On shutdown, pending debounce timers are dropped
// without dispatch.
func (p *Pipeline) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	defer p.deb.Close()

	if err := p.addDirsRecursive(w, p.root); err != nil {
		return err
	}

	p.logger.Info("watcher: started", slog.String("root", p.root))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			p.handleRaw(w, ev)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			p.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (p *Pipeline) handleRaw(w *fsnotify.Watcher, ev fsnotify.Event) {
	rel, err := filepath.Rel(p.root, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") || rel == "." {
		return
	}
	rel = filepath.ToSlash(rel)
	if pathutil.Hidden(rel) {
		return
	}

	// A newly created directory must be watched before anything inside it
	// changes, and any markdown files that arrived with it (e.g. a folder
	// moved into the vault) surfaced individually.
	if ev.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			if addErr := p.addDirsRecursive(w, ev.Name); addErr != nil {
				p.logger.Warn("watcher: add new dir failed",
					slog.String("path", rel),
					slog.String("error", addErr.Error()))
			}
			p.deb.Offer(rel, Created)
			p.offerDirContents(ev.Name)
			return
		}
	}

	var kind Kind
	switch {
	case ev.Op&fsnotify.Create != 0:
		kind = Created
	case ev.Op&fsnotify.Write != 0:
		kind = Modified
	case ev.Op&fsnotify.Remove != 0:
		kind = Removed
	case ev.Op&fsnotify.Rename != 0:
		// fsnotify fires Rename on the old path only; the new path shows
		// up as a separate Create. At this path the file is simply gone.
		kind = Renamed
	default:
		return // chmod etc.
	}

	switch {
	case strings.HasSuffix(rel, ".md"):
		p.deb.Offer(rel, kind)
	case path.Ext(rel) == "":
		// Extensionless paths are (possibly vanished) directories; let the
		// dispatcher decide from the filesystem state at dispatch time.
		p.deb.Offer(rel, kind)
	}
}

// offerDirContents surfaces markdown files already present inside a newly
// watched directory.
func (p *Pipeline) offerDirContents(dir string) {
	_ = filepath.WalkDir(dir, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(walkPath, ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(p.root, walkPath)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if pathutil.Hidden(rel) {
			return nil
		}
		p.deb.Offer(rel, Created)
		return nil
	})
}

// addDirsRecursive adds root and all non-hidden subdirectories to the watcher.
func (p *Pipeline) addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if walkPath != root && (strings.HasPrefix(name, ".") || name == "@eaDir") {
			return filepath.SkipDir
		}
		return w.Add(walkPath)
	})
}

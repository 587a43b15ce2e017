package config

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PatternWatcher watches a YAML pattern file and invokes a callback with the
// merged pattern set whenever the file changes. Editors often emit bursts of
// write/rename events, so reloads are debounced.
type PatternWatcher struct {
	path     string
	base     PatternConfig
	onChange func(PatternConfig)
	debounce time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewPatternWatcher creates a watcher for the given pattern file. onChange is
// called from the watcher goroutine; callers hand it a thread-safe sink.
func NewPatternWatcher(path string, base PatternConfig, onChange func(PatternConfig)) (*PatternWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("patterns file path required")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files via rename,
	// which drops a file-level watch.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	pw := &PatternWatcher{
		path:     path,
		base:     base,
		onChange: onChange,
		debounce: 250 * time.Millisecond,
		watcher:  w,
		done:     make(chan struct{}),
	}
	go pw.loop()
	return pw, nil
}

func (pw *PatternWatcher) loop() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-pw.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(pw.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(pw.debounce)
			} else {
				timer.Reset(pw.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			pw.reload()
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("pattern watcher: %v", err)
		}
	}
}

func (pw *PatternWatcher) reload() {
	patterns, err := LoadPatternsFile(pw.path, pw.base)
	if err != nil {
		// Keep running with the previous patterns.
		log.Printf("pattern reload failed: %v", err)
		return
	}
	pw.onChange(patterns)
}

// Close stops the watcher.
func (pw *PatternWatcher) Close() error {
	close(pw.done)
	return pw.watcher.Close()
}

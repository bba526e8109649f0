package view

import (
	"context"
	"fmt"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
	"os"
	"path/filepath"
	"time"
)

// definitionsFile is the layout of a view definitions file:
//
//	views:
//	  - name: by_author
//	    version: "1"
//	    keys: [author, title]
type definitionsFile struct {
	Views []Spec `yaml:"views"`
}

// ParseDefinitions decodes and validates view specs from YAML.
func ParseDefinitions(data []byte) ([]Spec, error) {
	var f definitionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid view definitions: %w", err)
	}
	names := make(map[string]bool, len(f.Views))
	for _, s := range f.Views {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if names[s.Name] {
			return nil, fmt.Errorf("view %s is defined twice", s.Name)
		}
		names[s.Name] = true
	}
	return f.Views, nil
}

// LoadDefinitions reads view specs from a YAML file.
func LoadDefinitions(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read view definitions: %w", err)
	}
	return ParseDefinitions(data)
}

// ApplyDefinitions registers all specs. Registration is idempotent, so applying
// the same definitions again only rebuilds views whose version changed.
func (e *Engine) ApplyDefinitions(specs []Spec) error {
	for _, s := range specs {
		if err := e.RegisterSpec(s); err != nil {
			return err
		}
	}
	return nil
}

// debounceDelay collapses the burst of events editors produce when saving
const debounceDelay = 100 * time.Millisecond

// WatchDefinitions calls fn with the parsed definitions every time the file changes.
// The directory of the file is watched, so files replaced by rename are picked up.
// Invalid files are logged and skipped. The watcher stops when ctx is cancelled.
func WatchDefinitions(ctx context.Context, path string, fn func([]Spec)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer watcher.Close()

		timer := time.NewTimer(debounceDelay)
		timer.Stop()

		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					timer.Reset(debounceDelay)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				Logger.Warningf("view definitions watcher error: %v", err)
			case <-timer.C:
				specs, err := LoadDefinitions(abs)
				if err != nil {
					Logger.Warningf("ignoring view definitions change: %v", err)
					continue
				}
				Logger.Infof("view definitions %s changed, applying %d views", abs, len(specs))
				fn(specs)
			}
		}
	}()
	return nil
}

// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileSource loads flows from a file or a directory of flow files and
// watches for changes.
type FileSource struct {
	path string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewFileSource creates a source that reads from a local file or directory.
func NewFileSource(path string) (*FileSource, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	return &FileSource{
		path: absPath,
	}, nil
}

// Type returns TypeFile.
func (s *FileSource) Type() Type {
	return TypeFile
}

// Load reads the flow file, or every flow file in the directory.
func (s *FileSource) Load(ctx context.Context) ([][]byte, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat flow path %s: %w", s.path, err)
	}

	if !info.IsDir() {
		data, err := os.ReadFile(s.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read flow file %s: %w", s.path, err)
		}
		return [][]byte{data}, nil
	}

	entries, err := os.ReadDir(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow directory %s: %w", s.path, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if isFlowFile(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	docs := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(s.path, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read flow file %s: %w", name, err)
		}
		docs = append(docs, data)
	}
	return docs, nil
}

func isFlowFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return !strings.HasPrefix(name, ".")
	default:
		return false
	}
}

// Watch starts watching the flow path for changes.
// Returns a channel that receives a value when any flow file changes.
func (s *FileSource) Watch(ctx context.Context) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("source is closed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	s.watcher = watcher

	// Watch the directory; watching files directly is unreliable on some
	// systems and misses editor rename-and-replace saves.
	watchDir := s.path
	matchFile := ""
	if info, err := os.Stat(s.path); err == nil && !info.IsDir() {
		watchDir = filepath.Dir(s.path)
		matchFile = filepath.Base(s.path)
	}

	if err := watcher.Add(watchDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", watchDir, err)
	}

	ch := make(chan struct{}, 1)

	go s.watchLoop(ctx, watcher, matchFile, ch)

	slog.Info("Watching flow path", "path", s.path)
	return ch, nil
}

func (s *FileSource) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, matchFile string, ch chan<- struct{}) {
	defer close(ch)
	defer watcher.Close()

	// Debounce timer to coalesce rapid changes
	var debounceTimer *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			name := filepath.Base(event.Name)
			if matchFile != "" {
				if name != matchFile {
					continue
				}
			} else if !isFlowFile(name) {
				continue
			}

			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create ||
				event.Op&fsnotify.Remove == fsnotify.Remove ||
				event.Op&fsnotify.Rename == fsnotify.Rename {
				// Debounce: reset timer on each change
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					select {
					case ch <- struct{}{}:
						slog.Debug("Flow path changed", "path", s.path, "file", name)
					default:
						// Channel full, change already pending
					}
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Flow watcher error", "error", err)
		}
	}
}

// Close stops watching and releases resources.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.watcher != nil {
		err := s.watcher.Close()
		s.watcher = nil
		return err
	}
	return nil
}

// Ensure FileSource implements Source
var _ Source = (*FileSource)(nil)

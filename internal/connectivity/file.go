package connectivity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/synaxhq/synax/internal/loggy"
)

// FileSource reads connectivity from a status file written by the platform
// shell. The file holds "online" or "offline"; a missing or unreadable file
// counts as offline.
type FileSource struct {
	path   string
	logger *loggy.Logger
}

// NewFileSource creates a source backed by the status file at path
func NewFileSource(path string, logger *loggy.Logger) *FileSource {
	return &FileSource{path: path, logger: logger}
}

// Online reads the status file
func (s *FileSource) Online(context.Context) bool {
	online, err := s.read()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to read network status file", "path", s.path, "error", err)
	}
	return online
}

func (s *FileSource) read() (bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false, err
	}
	return ParseStatus(string(data)), nil
}

// ParseStatus interprets status file contents
func ParseStatus(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "online", "1", "true", "up":
		return true
	default:
		return false
	}
}

// Watch emits the file state every time it changes on disk. The parent
// directory is watched so that atomic replaces are seen.
func (s *FileSource) Watch(ctx context.Context) (<-chan Event, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	ch := make(chan Event, 1)
	name := filepath.Clean(s.path)

	go func() {
		defer close(ch)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != name {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}

				online, _ := s.read()
				select {
				case ch <- Event{Online: online, At: time.Now(), Reason: "status file " + event.Op.String()}:
				case <-ctx.Done():
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Network status watcher error", "error", err)
			}
		}
	}()
	return ch, nil
}

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/realleaders/portal/pkg/observability"
)

// Routes is the on-disk route table
//
//	protected:
//	  - /dashboard
//	  - /profile
//	default_route: /dashboard
type Routes struct {
	Protected    []string `yaml:"protected"`
	DefaultRoute string   `yaml:"default_route"`
}

// LoadRoutes reads and validates a routes file
func LoadRoutes(path string) (*Routes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes file: %w", err)
	}

	var routes Routes
	if err := yaml.Unmarshal(data, &routes); err != nil {
		return nil, fmt.Errorf("failed to parse routes file: %w", err)
	}

	for _, prefix := range routes.Protected {
		if !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("protected route %q must start with /", prefix)
		}
	}
	if routes.DefaultRoute != "" && !strings.HasPrefix(routes.DefaultRoute, "/") {
		return nil, fmt.Errorf("default route %q must start with /", routes.DefaultRoute)
	}

	return &routes, nil
}

// WatchRoutes reloads the routes file whenever it changes and hands the new
// table to onChange. Invalid files are logged and ignored. Blocks until ctx
// is cancelled.
func WatchRoutes(ctx context.Context, path string, logger *observability.Logger, onChange func(*Routes)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files on save, so watch the directory.
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			routes, err := LoadRoutes(abs)
			if err != nil {
				logger.WithError(err).WithField("path", abs).Warn("Ignoring invalid routes file")
				continue
			}
			logger.WithField("protected", len(routes.Protected)).Info("Routes file reloaded")
			onChange(routes)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Routes watcher error")
		}
	}
}

package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Loader reads .rego policy files from a directory and optionally watches it
// for changes, feeding reloads back into the gate.
type Loader struct {
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadDir loads every .rego file under dir, non-recursively. A file that
// fails to read is skipped with a warning so one broken policy does not take
// the rest down.
func (l *Loader) LoadDir(dir string) ([]Policy, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading policy directory: %w", err)
	}

	var policies []Policy
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("failed to read policy file")
			continue
		}
		policies = append(policies, Policy{
			Name:        strings.TrimSuffix(entry.Name(), ".rego"),
			Description: extractDescription(string(raw)),
			Rego:        string(raw),
			Severity:    SeverityError,
			Enabled:     true,
		})
	}

	l.logger.Info().Int("count", len(policies)).Str("dir", dir).Msg("policies loaded from directory")
	return policies, nil
}

// Watch watches dir for policy changes and pushes reloaded policy sets into
// reloadFn. Reloads are debounced; editors fire several events per save.
func (l *Loader) Watch(ctx context.Context, dir string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	l.watcher = watcher

	go l.processEvents(ctx, dir, reloadFn)

	l.logger.Info().Str("dir", dir).Msg("watching policy directory")
	return nil
}

func (l *Loader) processEvents(ctx context.Context, dir string, reloadFn func([]Policy) error) {
	const reloadDelay = 500 * time.Millisecond
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			_ = l.watcher.Close()
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			if !strings.HasSuffix(event.Name, ".rego") {
				continue
			}

			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("policy file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				policies, err := l.LoadDir(dir)
				if err != nil {
					l.logger.Error().Err(err).Msg("failed to reload policies")
					return
				}
				if err := reloadFn(policies); err != nil {
					l.logger.Error().Err(err).Msg("failed to apply reloaded policies")
				}
			})

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

// Stop stops watching for file changes.
func (l *Loader) Stop() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

// extractDescription pulls the leading comment block out of Rego source.
func extractDescription(source string) string {
	var b strings.Builder
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		comment, ok := strings.CutPrefix(trimmed, "#")
		if !ok {
			break
		}
		comment = strings.TrimSpace(comment)
		if comment == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(comment)
	}
	return b.String()
}

package sanitize

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoadRules reads a YAML rule table of the form:
//
//	rules:
//	  - name: instruction_override
//	    severity: block
//	    pattern: "(?i)ignore\\s+previous\\s+instructions"
func LoadRules(path string) ([]Rule, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load rules from %s: %w", path, err)
	}

	var out struct {
		Rules []Rule `koanf:"rules"`
	}
	if err := k.Unmarshal("", &out); err != nil {
		return nil, fmt.Errorf("unmarshal rules: %w", err)
	}
	if len(out.Rules) == 0 {
		return nil, fmt.Errorf("no rules found in %s", path)
	}
	return out.Rules, nil
}

// Watch watches a rule file and reloads the sanitizer when it changes.
// A file that fails to load or compile is logged and skipped; the previous
// tables stay in effect. Watch returns once the watcher is installed and
// stops when ctx is cancelled.
func (s *Sanitizer) Watch(ctx context.Context, path string, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	logger.Info("watching sanitizer rules for changes", slog.String("path", path))

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write != fsnotify.Write {
					continue
				}

				rules, err := LoadRules(path)
				if err != nil {
					logger.Error("failed to reload sanitizer rules",
						slog.String("path", path),
						slog.String("error", err.Error()))
					continue
				}
				if err := s.Reload(rules); err != nil {
					logger.Error("failed to compile sanitizer rules",
						slog.String("path", path),
						slog.String("error", err.Error()))
					continue
				}
				logger.Info("sanitizer rules reloaded",
					slog.String("path", path),
					slog.Int("count", len(rules)))

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("rule watch error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}

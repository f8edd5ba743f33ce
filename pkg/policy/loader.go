package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Loader reads script policies from disk. A policy is either a bare .rego
// module or a .json/.yaml definition embedding one.
type Loader struct {
	logger zerolog.Logger

	// ReloadDelay debounces bursts of file events.
	ReloadDelay time.Duration
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:      logger.With().Str("component", "policy-loader").Logger(),
		ReloadDelay: 500 * time.Millisecond,
	}
}

// LoadFromPaths loads the policies of files and directories. A path that does
// not exist is an error; a policy file that cannot be parsed inside a
// directory is logged and skipped. Policies are sorted by name.
func (l *Loader) LoadFromPaths(_ context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", root, err)
		}
		if !info.IsDir() {
			p, err := readPolicy(root)
			if err != nil {
				return nil, err
			}
			policies = append(policies, *p)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || policyFormat(path) == "" {
				return nil
			}
			p, err := readPolicy(path)
			if err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
				return nil
			}
			policies = append(policies, *p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", root, err)
		}
	}

	sort.SliceStable(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	l.logger.Debug().Int("count", len(policies)).Msg("Policies read")
	return policies, nil
}

func policyFormat(path string) string {
	switch filepath.Ext(path) {
	case ".rego":
		return "rego"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	}
	return ""
}

// readPolicy parses one policy file. The file name without extension is the
// default policy name.
func readPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	p := &Policy{Enabled: true}
	switch policyFormat(path) {
	case "rego":
		p.Description, p.Severity = parseHeader(string(data))
		p.Rego = string(data)
	case "json":
		if err := json.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to parse policy %s: %w", path, err)
		}
	case "yaml":
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("failed to parse policy %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported policy file: %s", path)
	}

	if p.Name == "" {
		p.Name = name
	}
	if p.Severity == "" {
		p.Severity = SeverityError
	}
	if strings.TrimSpace(p.Rego) == "" {
		return nil, fmt.Errorf("policy %s has no rego module", p.Name)
	}
	p.Builtin = false
	p.Source = path
	return p, nil
}

// parseHeader reads the leading comment block of a Rego module. Comment lines
// form the description and "# severity: <level>" sets the severity.
func parseHeader(content string) (string, Severity) {
	var desc []string
	severity := SeverityError

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if len(desc) > 0 {
				break
			}
			continue
		}
		comment, ok := strings.CutPrefix(line, "#")
		if !ok {
			break
		}
		comment = strings.TrimSpace(comment)
		if v, ok := strings.CutPrefix(comment, "severity:"); ok {
			switch s := Severity(strings.TrimSpace(v)); s {
			case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
				severity = s
			}
			continue
		}
		if comment != "" {
			desc = append(desc, comment)
		}
	}
	return strings.Join(desc, " "), severity
}

// Watch reloads the policies of paths after every change and passes them to
// apply. Failed reloads keep the previous policies. Watching stops when ctx is
// done.
func (l *Loader) Watch(ctx context.Context, paths []string, apply func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || path == root {
				return watcher.Add(path)
			}
			return nil
		})
		if err != nil {
			l.logger.Warn().Err(err).Str("path", root).Msg("Not watching policy path")
		}
	}

	go l.watch(ctx, watcher, paths, apply)
	l.logger.Info().Strs("paths", paths).Msg("Watching policies")
	return nil
}

func (l *Loader) watch(ctx context.Context, watcher *fsnotify.Watcher, paths []string, apply func([]Policy) error) {
	defer watcher.Close()

	var timer *time.Timer
	reload := func() {
		policies, err := l.LoadFromPaths(ctx, paths)
		if err == nil {
			err = apply(policies)
		}
		if err != nil {
			l.logger.Error().Err(err).Msg("Failed to reload policies")
			return
		}
		l.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if policyFormat(event.Name) == "" || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(l.ReloadDelay, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

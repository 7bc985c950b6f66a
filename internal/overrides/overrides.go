package overrides

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"romid/internal/logging"
)

// Rule forces a platform for items matching every criterion it sets.
type Rule struct {
	Name      string `json:"name" yaml:"name"`
	Platform  string `json:"platform" yaml:"platform"`
	PathGlob  string `json:"path_glob" yaml:"path_glob"`
	NameRegex string `json:"name_regex" yaml:"name_regex"`
	Extension string `json:"extension" yaml:"extension"`
	MinSize   *int64 `json:"min_size" yaml:"min_size"`
	MaxSize   *int64 `json:"max_size" yaml:"max_size"`

	nameRe *regexp.Regexp
}

// Label names the rule for signals and logs.
func (r Rule) Label(index int) string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("rule %d", index+1)
}

// Matches reports whether path and size satisfy every criterion.
func (r Rule) Matches(path string, size int64) bool {
	if r.PathGlob != "" {
		target := strings.TrimPrefix(filepath.ToSlash(path), "/")
		if !strings.Contains(r.PathGlob, "/") {
			target = filepath.Base(path)
		}
		ok, err := doublestar.Match(r.PathGlob, target)
		if err != nil || !ok {
			return false
		}
	}
	if r.nameRe != nil && !r.nameRe.MatchString(filepath.Base(path)) {
		return false
	}
	if r.Extension != "" && !strings.EqualFold(filepath.Ext(path), r.Extension) {
		return false
	}
	if r.MinSize != nil && size < *r.MinSize {
		return false
	}
	if r.MaxSize != nil && size > *r.MaxSize {
		return false
	}
	return true
}

func (r *Rule) normalize() error {
	r.Platform = strings.ToLower(strings.TrimSpace(r.Platform))
	r.PathGlob = strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(r.PathGlob)), "/")
	r.Extension = strings.ToLower(strings.TrimSpace(r.Extension))
	if r.Extension != "" && !strings.HasPrefix(r.Extension, ".") {
		r.Extension = "." + r.Extension
	}
	if r.Platform == "" {
		return errors.New("platform is required")
	}
	if r.PathGlob == "" && r.NameRegex == "" && r.Extension == "" && r.MinSize == nil && r.MaxSize == nil {
		return errors.New("at least one match criterion is required")
	}
	if r.PathGlob != "" && !doublestar.ValidatePattern(r.PathGlob) {
		return fmt.Errorf("invalid path_glob %q", r.PathGlob)
	}
	if r.NameRegex != "" {
		re, err := regexp.Compile(r.NameRegex)
		if err != nil {
			return fmt.Errorf("invalid name_regex: %w", err)
		}
		r.nameRe = re
	}
	return nil
}

// Set loads ordered override rules from a JSON or YAML file and reloads them
// when the file's modification time changes. A nil Set matches nothing.
type Set struct {
	path   string
	logger *slog.Logger
	mu     sync.RWMutex
	loaded time.Time
	rules  []Rule
}

// NewSet returns a Set backed by path, or nil when path is empty.
func NewSet(path string, logger *slog.Logger) *Set {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil
	}
	return &Set{path: trimmed, logger: logging.NewComponentLogger(logger, "overrides")}
}

// Match returns the first rule matching path and size with its index.
func (s *Set) Match(path string, size int64) (Rule, int, bool, error) {
	if s == nil {
		return Rule{}, -1, false, nil
	}
	if err := s.ensureLoaded(); err != nil {
		return Rule{}, -1, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, rule := range s.rules {
		if rule.Matches(path, size) {
			return rule, i, true, nil
		}
	}
	return Rule{}, -1, false, nil
}

// Rules returns the currently loaded rules.
func (s *Set) Rules() ([]Rule, error) {
	if s == nil {
		return nil, nil
	}
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Rule(nil), s.rules...), nil
}

func (s *Set) ensureLoaded() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			s.rules, s.loaded = nil, time.Time{}
			s.mu.Unlock()
			return nil
		}
		return err
	}

	s.mu.RLock()
	alreadyLoaded := !s.loaded.IsZero() && s.loaded.Equal(info.ModTime())
	s.mu.RUnlock()
	if alreadyLoaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	rules, err := Parse(data, isYAML(s.path))
	if err != nil {
		return fmt.Errorf("override rules %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.rules = rules
	s.loaded = info.ModTime()
	s.mu.Unlock()
	s.logger.Info("loaded override rules", logging.String(logging.FieldPath, s.path), logging.Int("count", len(rules)))
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Parse decodes rules from either a bare list or an object with an
// "overrides" list.
func Parse(data []byte, yamlFormat bool) ([]Rule, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var rules []Rule
	var wrapper struct {
		Overrides []Rule `json:"overrides" yaml:"overrides"`
	}
	switch {
	case yamlFormat && !bytes.HasPrefix(trimmed, []byte("-")) && !bytes.HasPrefix(trimmed, []byte("[")):
		if err := yaml.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, err
		}
		rules = wrapper.Overrides
	case yamlFormat:
		if err := yaml.Unmarshal(trimmed, &rules); err != nil {
			return nil, err
		}
	case trimmed[0] == '{':
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, err
		}
		rules = wrapper.Overrides
	default:
		if err := json.Unmarshal(trimmed, &rules); err != nil {
			return nil, err
		}
	}

	var errs []error
	for i := range rules {
		if err := rules[i].normalize(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rules[i].Label(i), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return rules, nil
}

package config

import (
	"fmt"
	"strings"

	"github.com/bryanchriswhite/Nudger/internal/logger"
)

// PatternKind names one of the window rule lists.
type PatternKind string

const (
	PatternTarget      PatternKind = "target"
	PatternSeparator   PatternKind = "separator"
	PatternRegex       PatternKind = "regex"
	PatternExclude     PatternKind = "exclude"
	PatternInterfering PatternKind = "interfering"
)

// PatternKinds lists the valid kinds in display order.
var PatternKinds = []PatternKind{PatternTarget, PatternSeparator, PatternRegex, PatternExclude, PatternInterfering}

// ParsePatternKind validates a user-supplied kind.
func ParsePatternKind(s string) (PatternKind, error) {
	for _, k := range PatternKinds {
		if string(k) == strings.ToLower(s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown pattern kind %q (want one of %v)", s, PatternKinds)
}

func (r *WindowRules) list(kind PatternKind) *[]string {
	switch kind {
	case PatternTarget:
		return &r.TargetKeywords
	case PatternSeparator:
		return &r.TitleSeparators
	case PatternRegex:
		return &r.TargetPatterns
	case PatternExclude:
		return &r.ExcludeKeywords
	case PatternInterfering:
		return &r.InterferingKeywords
	}
	return nil
}

// Patterns returns a copy of the rule list for kind.
func (m *Manager) Patterns(kind PatternKind) []string {
	rules := m.Get().Windows.Clone()
	if l := rules.list(kind); l != nil {
		return *l
	}
	return nil
}

// AddPattern appends pattern to the rule list for kind. Duplicates are ignored.
func (m *Manager) AddPattern(kind PatternKind, pattern string) error {
	next := m.Get().Clone()
	l := next.Windows.list(kind)
	if l == nil {
		return fmt.Errorf("unknown pattern kind %q", kind)
	}
	for _, p := range *l {
		if p == pattern {
			logger.WithComponent("config").Debug().
				Str("kind", string(kind)).
				Str("pattern", pattern).
				Msg("Pattern already present, skipping")
			return nil
		}
	}
	*l = append(*l, pattern)
	if err := m.Update(next); err != nil {
		return err
	}

	logger.WithComponent("config").Info().
		Str("kind", string(kind)).
		Str("pattern", pattern).
		Int("total_count", len(*l)).
		Msg("Added window pattern")
	return nil
}

// RemovePattern removes pattern from the rule list for kind.
func (m *Manager) RemovePattern(kind PatternKind, pattern string) error {
	next := m.Get().Clone()
	l := next.Windows.list(kind)
	if l == nil {
		return fmt.Errorf("unknown pattern kind %q", kind)
	}
	filtered := make([]string, 0, len(*l))
	for _, p := range *l {
		if p != pattern {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) == len(*l) {
		return fmt.Errorf("pattern %q not found in %s list", pattern, kind)
	}
	*l = filtered
	return m.Update(next)
}

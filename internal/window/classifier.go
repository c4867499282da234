package window

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bryanchriswhite/Nudger/internal/config"
)

// Class is the role a window plays during focus arbitration.
type Class int

const (
	Irrelevant Class = iota
	Target
	Interfering
)

func (c Class) String() string {
	switch c {
	case Target:
		return "target"
	case Interfering:
		return "interfering"
	default:
		return "irrelevant"
	}
}

// MarshalText renders the class name in JSON output.
func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses a class name.
func (c *Class) UnmarshalText(text []byte) error {
	for k := Irrelevant; k <= Interfering; k++ {
		if k.String() == string(text) {
			*c = k
			return nil
		}
	}
	return fmt.Errorf("unknown window class %q", text)
}

// Classifier assigns a Class to a window title. It holds an immutable copy
// of the rules it was built from, so Classify is a pure function of the
// title.
type Classifier struct {
	targets     []string
	separators  []string
	patterns    []*regexp.Regexp
	excludes    []string
	interfering []string
}

// NewClassifier compiles the window rules.
func NewClassifier(rules config.WindowRules) (*Classifier, error) {
	c := &Classifier{
		targets:     lowerAll(rules.TargetKeywords),
		separators:  append([]string(nil), rules.TitleSeparators...),
		excludes:    lowerAll(rules.ExcludeKeywords),
		interfering: lowerAll(rules.InterferingKeywords),
	}
	for _, p := range rules.TargetPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid target pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return c, nil
}

// Classify returns the class of a window with the given title.
//
// A title containing an exclusion keyword is never Target. Target requires a
// target keyword together with a title separator, or a target pattern match.
// Interfering is decided by the interfering keywords alone; exclusions do not
// apply to it.
func (c *Classifier) Classify(title string) Class {
	lower := strings.ToLower(title)

	if !containsAny(lower, c.excludes) && c.isTarget(title, lower) {
		return Target
	}
	if containsAny(lower, c.interfering) {
		return Interfering
	}
	return Irrelevant
}

// Excluded reports whether the title matches the exclusion list.
func (c *Classifier) Excluded(title string) bool {
	return containsAny(strings.ToLower(title), c.excludes)
}

func (c *Classifier) isTarget(title, lower string) bool {
	if containsAny(lower, c.targets) && containsAny(title, c.separators) {
		return true
	}
	for _, re := range c.patterns {
		if re.MatchString(title) {
			return true
		}
	}
	return false
}

// FindTarget returns the first Target record. The foreground window wins
// when several windows qualify.
func (c *Classifier) FindTarget(records []Record) (Record, error) {
	var first *Record
	for i := range records {
		if c.Classify(records[i].Title) != Target {
			continue
		}
		if records[i].Foreground {
			return records[i], nil
		}
		if first == nil {
			first = &records[i]
		}
	}
	if first == nil {
		return Record{}, ErrWindowNotFound
	}
	return *first, nil
}

// Interfering returns the records classified as Interfering.
func (c *Classifier) Interfering(records []Record) []Record {
	var out []Record
	for _, r := range records {
		if c.Classify(r.Title) == Interfering {
			out = append(out, r)
		}
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}

// Package rules maps event titles to the color and free/busy state the
// calendar entry should carry. Rules are an ordered list; the first matching
// pattern wins, so overlapping patterns are resolved by declaration order.
package rules

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// State is the desired appearance of a matched event.
type State struct {
	Color string // CSS color name or hex code for the COLOR property
	Free  bool   // true -> TRANSP:TRANSPARENT, false -> TRANSP:OPAQUE
}

// Transparency returns the TRANSP property value for the state.
func (s State) Transparency() string {
	if s.Free {
		return "TRANSPARENT"
	}
	return "OPAQUE"
}

// Rule pairs a title pattern with the state to apply. Patterns are
// case-insensitive regular expressions.
type Rule struct {
	Pattern string `yaml:"pattern"`
	Color   string `yaml:"color"`
	Free    bool   `yaml:"free"`
}

type compiledRule struct {
	re    *regexp.Regexp
	state State
}

// Set is a compiled, ordered rule list.
type Set struct {
	rules []compiledRule
}

// Compile builds a Set, preserving the order of rules exactly.
func Compile(rules []Rule) (*Set, error) {
	s := &Set{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%q): %w", i, r.Pattern, err)
		}
		s.rules = append(s.rules, compiledRule{
			re:    re,
			state: State{Color: r.Color, Free: r.Free},
		})
	}
	return s, nil
}

// Default returns the built-in rule set for the Outlook work calendar:
// shift markers and recurring team meetings become khaki and free.
func Default() *Set {
	s, err := Compile([]Rule{
		{Pattern: `^T8$`, Color: "khaki", Free: true},
		{Pattern: `^T7$`, Color: "khaki", Free: true},
		{Pattern: `^T6$`, Color: "khaki", Free: true},
		{Pattern: `^T5$`, Color: "khaki", Free: true},
		{Pattern: `^N$`, Color: "khaki", Free: true},
		{Pattern: `^Teambesprechung$`, Color: "khaki", Free: true},
	})
	if err != nil {
		panic(err) // built-in patterns are constant
	}
	return s
}

// Load reads a YAML rule file: a list of {pattern, color, free} entries.
// Order in the file is the evaluation order.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("rule file %s contains no rules", path)
	}
	return Compile(rules)
}

// Len returns the number of rules in the set.
func (s *Set) Len() int {
	return len(s.rules)
}

// Classify returns the desired state for a title and whether any rule
// matched. Evaluation is a single linear scan that stops at the first
// match; unmatched titles return the zero State and false, meaning the
// event is left as-is.
func (s *Set) Classify(title string) (State, bool) {
	for _, r := range s.rules {
		if r.re.MatchString(title) {
			return r.state, true
		}
	}
	return State{}, false
}

var (
	// Some Outlook exports leak trailing property fragments into SUMMARY.
	trailingProps = regexp.MustCompile(`(?i)(TRANSP|X-MICROSOFT-CDO-BUSYSTATUS|STATUS|SEQUENCE|LOCATION|CATEGORIES|CLASS|PRIORITY)[:;=].*$`)
	trailingState = regexp.MustCompile(`(?i)\s*(TRANSPARENT|OPAQUE|BUSY|FREE)\s*$`)
)

// NormalizeSummary strips the control-string suffixes that broken exporters
// append to event titles, so rule patterns match the real title.
func NormalizeSummary(text string) string {
	t := trailingProps.ReplaceAllString(text, "")
	t = trailingState.ReplaceAllString(t, "")
	return strings.TrimSpace(t)
}

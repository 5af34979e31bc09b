package monitor

import (
	"fmt"
	"regexp"
	"strings"
)

// Classifier decides whether a candidate output line is process/tool
// narration rather than answer text. The engine treats the classification
// patterns as pluggable; nothing else in the repo hard-codes them.
type Classifier interface {
	IsNoise(line string) bool
}

// DefaultNoisePatterns match the narration a chat application interleaves
// with its answer: tool invocations, progress verbs, and spinner glyphs.
var DefaultNoisePatterns = []string{
	`^(Running|Searching|Reading|Writing|Calling|Thinking|Analyzing|Browsing|Fetching|Executing)\b.*(\.\.\.|…)?$`,
	`^(Using|Called)\s+tool\b`,
	`^Tool\s*:`,
	`^[\s⠁⠂⠄⡀⢀⠠⠐⠈⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏⠉⠛⠿◐◓◑◒●○◌|/\\-]+$`,
	`^\d+%\s*$`,
	`^(Working|Generating|Loading)(\.\.\.|…)\s*$`,
}

// RuleClassifier is a regexp-backed Classifier.
type RuleClassifier struct {
	rules []*regexp.Regexp
}

// NewRuleClassifier compiles the given patterns. An invalid pattern fails
// the whole set; a half-loaded classifier would silently misfilter.
func NewRuleClassifier(patterns []string) (*RuleClassifier, error) {
	rules := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("noise pattern %q: %w", p, err)
		}
		rules = append(rules, re)
	}
	return &RuleClassifier{rules: rules}, nil
}

// DefaultClassifier returns a classifier built from DefaultNoisePatterns.
func DefaultClassifier() *RuleClassifier {
	c, err := NewRuleClassifier(DefaultNoisePatterns)
	if err != nil {
		panic(err) // defaults are compile-time constants
	}
	return c
}

// IsNoise reports whether the line matches any rule. Blank lines are not
// noise; they are formatting and pass through unfiltered.
func (c *RuleClassifier) IsNoise(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	for _, re := range c.rules {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// FilterText drops noise lines from a candidate and reports how many were
// removed. If every non-blank line is noise the clean result is empty; the
// session loop then retains its previous non-noise candidate.
func FilterText(c Classifier, text string) (clean string, dropped int) {
	if text == "" || c == nil {
		return text, 0
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if c.IsNoise(line) {
			dropped++
			continue
		}
		kept = append(kept, line)
	}
	clean = strings.TrimSpace(strings.Join(kept, "\n"))
	return clean, dropped
}

package activation

import (
	"fmt"
	"regexp"
	"strings"
)

const defaultAlreadyExistsPhrase = "already exists"

// Classifier decides whether a remote error message means the pixel is already there.
// The remote API exposes no structured code, so wording is all there is.
type Classifier interface {
	AlreadyExists(message string) bool
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(message string) bool

func (f ClassifierFunc) AlreadyExists(message string) bool { return f(message) }

// PatternClassifier matches a case-insensitive substring plus optional regular expressions.
type PatternClassifier struct {
	phrase   string
	patterns []*regexp.Regexp
}

// NewClassifier compiles extra patterns case-insensitively on top of the
// built-in "already exists" substring check.
func NewClassifier(patterns ...string) (*PatternClassifier, error) {
	c := &PatternClassifier{phrase: defaultAlreadyExistsPhrase}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile already-exists pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return c, nil
}

func (c *PatternClassifier) AlreadyExists(message string) bool {
	if strings.Contains(strings.ToLower(message), c.phrase) {
		return true
	}
	for _, re := range c.patterns {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

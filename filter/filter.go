package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dhcgn/invoice-ingest/model"
)

// Options captures the filtering configuration.
type Options struct {
	IncludeFrom    []string
	IncludeSubject []string
	ExcludeFrom    []string
	ExcludeSubject []string
}

// Filter holds compiled regex patterns matched against a message's sender
// and subject.
type Filter struct {
	includeMode    bool
	excludeMode    bool
	includeFrom    []*regexp.Regexp
	includeSubject []*regexp.Regexp
	excludeFrom    []*regexp.Regexp
	excludeSubject []*regexp.Regexp
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeFrom, err := compilePatterns(opts.IncludeFrom)
	if err != nil {
		return nil, fmt.Errorf("compile include-from pattern: %w", err)
	}
	includeSubject, err := compilePatterns(opts.IncludeSubject)
	if err != nil {
		return nil, fmt.Errorf("compile include-subject pattern: %w", err)
	}
	excludeFrom, err := compilePatterns(opts.ExcludeFrom)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-from pattern: %w", err)
	}
	excludeSubject, err := compilePatterns(opts.ExcludeSubject)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-subject pattern: %w", err)
	}

	includeActive := len(includeFrom) > 0 || len(includeSubject) > 0
	excludeActive := len(excludeFrom) > 0 || len(excludeSubject) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:    includeActive,
		excludeMode:    excludeActive,
		includeFrom:    includeFrom,
		includeSubject: includeSubject,
		excludeFrom:    excludeFrom,
		excludeSubject: excludeSubject,
	}, nil
}

// Allows returns true if the message passes the filter criteria. A nil
// Filter allows everything.
func (f *Filter) Allows(msg model.Message) bool {
	if f == nil {
		return true
	}

	if f.includeMode {
		return matchAny(f.includeFrom, msg.From) || matchAny(f.includeSubject, msg.Subject)
	}

	if f.excludeMode {
		if matchAny(f.excludeFrom, msg.From) || matchAny(f.excludeSubject, msg.Subject) {
			return false
		}
	}

	return true
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f != nil && (f.includeMode || f.excludeMode)
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

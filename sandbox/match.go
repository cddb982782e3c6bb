// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"iter"
	"path"
	"strings"
)

type ruleKind int

const (
	ruleExact ruleKind = iota
	rulePrefix
	ruleGlob
)

type rule struct {
	kind    ruleKind
	pattern string
}

func (r rule) matches(key string) bool {
	switch r.kind {
	case ruleExact:
		return key == r.pattern
	case rulePrefix:
		return strings.HasPrefix(key, r.pattern)
	default:
		return matchPattern(r.pattern, key)
	}
}

// covers reports whether the rule could match some descendant of key.
// Used to keep an ancestor visible when only part of it is allowed.
func (r rule) covers(key string) bool {
	switch r.kind {
	case ruleExact, rulePrefix:
		return strings.HasPrefix(r.pattern, key+".")
	default:
		literal := r.pattern
		if index := strings.IndexAny(literal, "*?["); index >= 0 {
			literal = literal[:index]
		}
		return strings.HasPrefix(literal, key+".") || strings.HasPrefix(key+".", literal)
	}
}

// matcher decides whether a dotted path is accessible.
type matcher struct {
	allow []rule
	deny  []rule
}

func compileRules(patterns []string) ([]rule, error) {
	rules := make([]rule, 0, len(patterns))
	for _, pattern := range patterns {
		if pattern == "" {
			return nil, fmt.Errorf("empty pattern")
		}
		switch {
		case strings.ContainsAny(pattern, "*?["):
			if _, err := path.Match(toSlashes(strings.ReplaceAll(pattern, "**", "*")), ""); err != nil {
				return nil, fmt.Errorf("pattern %q: %w", pattern, err)
			}
			rules = append(rules, rule{kind: ruleGlob, pattern: pattern})
		case strings.HasSuffix(pattern, "."):
			rules = append(rules, rule{kind: rulePrefix, pattern: pattern})
		default:
			rules = append(rules, rule{kind: ruleExact, pattern: pattern})
		}
	}
	return rules, nil
}

func newMatcher(allow, deny []string) (*matcher, error) {
	allowRules, err := compileRules(allow)
	if err != nil {
		return nil, fmt.Errorf("allow list: %w", err)
	}
	denyRules, err := compileRules(deny)
	if err != nil {
		return nil, fmt.Errorf("deny list: %w", err)
	}
	return &matcher{allow: allowRules, deny: denyRules}, nil
}

// blocked reports whether key may not be read or written. A rule that
// matches an ancestor of key applies to key as well.
func (m *matcher) blocked(key string) bool {
	if m.denied(key) {
		return true
	}
	return len(m.allow) > 0 && !m.allowed(key)
}

// denied reports whether a deny rule matches key or one of its
// ancestors.
func (m *matcher) denied(key string) bool {
	for candidate := range lineage(key) {
		for _, r := range m.deny {
			if r.matches(candidate) {
				return true
			}
		}
	}
	return false
}

func (m *matcher) allowed(key string) bool {
	for candidate := range lineage(key) {
		for _, r := range m.allow {
			if r.matches(candidate) {
				return true
			}
		}
	}
	return false
}

// deniedWithin reports whether value, stored at key, holds a map entry
// whose path is denied.
func (m *matcher) deniedWithin(key string, value any) bool {
	nested, ok := value.(map[string]any)
	if !ok {
		return false
	}
	for child, childValue := range nested {
		childPath := join(key, child)
		if m.denied(childPath) || m.deniedWithin(childPath, childValue) {
			return true
		}
	}
	return false
}

// visible reports whether key should be enumerated: either it is
// accessible, or it is the parent of something the allow list grants.
func (m *matcher) visible(key string) bool {
	if m.denied(key) {
		return false
	}
	if len(m.allow) == 0 || m.allowed(key) {
		return true
	}
	for _, r := range m.allow {
		if r.covers(key) {
			return true
		}
	}
	return false
}

// lineage yields key followed by each of its dotted ancestors,
// nearest first.
func lineage(key string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			if !yield(key) {
				return
			}
			index := strings.LastIndex(key, ".")
			if index < 0 {
				return
			}
			key = key[:index]
		}
	}
}

// matchPattern matches a dotted path against a glob pattern. "*" and
// "?" match within one segment; "**" matches any number of segments,
// including zero. Malformed patterns never match.
func matchPattern(pattern, key string) bool {
	if pattern == "**" {
		return true
	}
	pattern, key = toSlashes(pattern), toSlashes(key)

	if !strings.Contains(pattern, "**") {
		return matchGlob(pattern, key)
	}

	// "a.**": the prefix itself or anything under it.
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		if matchGlob(prefix, key) {
			return true
		}
		depth := strings.Count(prefix, "/") + 1
		segments := strings.SplitN(key, "/", depth+1)
		return len(segments) > depth && matchGlob(prefix, strings.Join(segments[:depth], "/"))
	}

	// "**.cookie": the suffix at any depth.
	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		if matchGlob(suffix, key) {
			return true
		}
		depth := strings.Count(suffix, "/") + 1
		segments := strings.Split(key, "/")
		return len(segments) > depth && matchGlob(suffix, strings.Join(segments[len(segments)-depth:], "/"))
	}

	// "a.**.b": prefix and suffix with any number of segments between.
	index := strings.Index(pattern, "/**/")
	if index < 0 {
		return false
	}
	prefix, suffix := pattern[:index], pattern[index+4:]
	if matchGlob(prefix+"/"+suffix, key) {
		return true
	}
	prefixDepth := strings.Count(prefix, "/") + 1
	suffixDepth := strings.Count(suffix, "/") + 1
	segments := strings.Split(key, "/")
	if len(segments) < prefixDepth+1+suffixDepth {
		return false
	}
	return matchGlob(prefix, strings.Join(segments[:prefixDepth], "/")) &&
		matchGlob(suffix, strings.Join(segments[len(segments)-suffixDepth:], "/"))
}

func matchGlob(pattern, key string) bool {
	matched, err := path.Match(pattern, key)
	return err == nil && matched
}

// toSlashes maps dotted segments onto path.Match's separator.
func toSlashes(dotted string) string {
	return strings.ReplaceAll(dotted, ".", "/")
}

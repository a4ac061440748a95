// Package wildmat implements RFC 3977 §4.2 wildmat matching: a
// comma-separated list of glob-like patterns, evaluated right-to-left,
// where the first pattern that matches the subject decides the result.
package wildmat

import "strings"

// Pattern is a single compiled wildmat alternative.
type Pattern struct {
	negate bool
	glob   string
}

// Matcher is a compiled wildmat expression.
type Matcher struct {
	patterns []Pattern
}

// Compile parses a comma-separated wildmat expression. An empty expression
// compiles to a Matcher that matches everything.
func Compile(expr string) *Matcher {
	if expr == "" {
		return &Matcher{}
	}

	parts := strings.Split(expr, ",")
	m := &Matcher{patterns: make([]Pattern, 0, len(parts))}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		pat := Pattern{}
		if strings.HasPrefix(p, "!") {
			pat.negate = true
			p = p[1:]
		}
		pat.glob = p
		m.patterns = append(m.patterns, pat)
	}
	return m
}

// Match reports whether subject matches the compiled expression.
//
// Per RFC 3977 §4.2: patterns are evaluated right-to-left; the first
// pattern that matches the subject determines the verdict (a negated
// pattern that matches yields false, a positive pattern that matches
// yields true). If no pattern matches, the result is false. An empty
// expression matches everything.
func (m *Matcher) Match(subject string) bool {
	if m == nil || len(m.patterns) == 0 {
		return true
	}
	for i := len(m.patterns) - 1; i >= 0; i-- {
		pat := m.patterns[i]
		if globMatch(pat.glob, subject) {
			return !pat.negate
		}
	}
	return false
}

// Match is a convenience one-shot form of Compile(expr).Match(subject).
func Match(expr, subject string) bool {
	return Compile(expr).Match(subject)
}

// globMatch implements the `*`/`?` glob subset of wildmat, case-insensitive,
// via a classic two-pointer backtracking algorithm (no regexp translation:
// wildmat's `*`/`?` alphabet is small enough that hand rolling avoids both
// a metacharacter-escaping step and regexp's intent of matching substrings
// rather than the whole string).
func globMatch(pattern, s string) bool {
	pattern = strings.ToLower(pattern)
	s = strings.ToLower(s)

	var sIdx, pIdx int
	var starIdx = -1
	var sTmpIdx int

	for sIdx < len(s) {
		if pIdx < len(pattern) && (pattern[pIdx] == '?' || pattern[pIdx] == s[sIdx]) {
			sIdx++
			pIdx++
		} else if pIdx < len(pattern) && pattern[pIdx] == '*' {
			starIdx = pIdx
			sTmpIdx = sIdx
			pIdx++
		} else if starIdx != -1 {
			pIdx = starIdx + 1
			sTmpIdx++
			sIdx = sTmpIdx
		} else {
			return false
		}
	}

	for pIdx < len(pattern) && pattern[pIdx] == '*' {
		pIdx++
	}

	return pIdx == len(pattern)
}

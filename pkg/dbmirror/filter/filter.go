// Package filter decides which remote databases are mirrored. A name
// qualifies when it matches at least one include pattern and no exclude
// pattern. Patterns use shell glob syntax (*, ?, [abc], {a,b}).
package filter

import (
	"fmt"
	"slices"

	"github.com/gobwas/glob"
)

// DefaultInclude mirrors everything.
var DefaultInclude = []string{"*"}

// Rule is a compiled include/exclude pattern pair.
type Rule struct {
	include []glob.Glob
	exclude []glob.Glob

	// Include holds the source include patterns.
	Include []string
	// Exclude holds the source exclude patterns.
	Exclude []string
}

// New compiles a rule. It fails on the first invalid pattern.
func New(include, exclude []string) (*Rule, error) {
	r := &Rule{
		Include: slices.Clone(include),
		Exclude: slices.Clone(exclude),
	}

	var err error
	if r.include, err = compile(include); err != nil {
		return nil, err
	}
	if r.exclude, err = compile(exclude); err != nil {
		return nil, err
	}
	return r, nil
}

// MustNew is New for patterns known to be valid, such as test fixtures.
func MustNew(include, exclude []string) *Rule {
	r, err := New(include, exclude)
	if err != nil {
		panic(err)
	}
	return r
}

func compile(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Match reports whether name qualifies.
func (r *Rule) Match(name string) bool {
	return matchAny(r.include, name) && !matchAny(r.exclude, name)
}

// Filter returns the qualifying names, preserving order.
func (r *Rule) Filter(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if r.Match(name) {
			out = append(out, name)
		}
	}
	return out
}

func matchAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Package capability turns a user context into a capability predicate.
package capability

import (
	"sort"
	"strings"
)

// Progressive roles in ascending order.
const (
	RoleViewer = "viewer"
	RoleMember = "member"
	RoleAdmin  = "admin"
)

var roleRank = map[string]int{
	RoleViewer: 1,
	RoleMember: 2,
	RoleAdmin:  3,
}

// Rank returns the tier of a progressive role; unknown roles rank zero.
func Rank(role string) int {
	return roleRank[strings.ToLower(strings.TrimSpace(role))]
}

// Subject is the part of a user context capabilities are computed from.
type Subject struct {
	ProgressiveRole     string
	Segment             string
	Domain              string
	ResponsibilityRoles []string
}

// Evaluator builds a Checker for a subject. A nil subject means no session.
type Evaluator interface {
	Evaluate(s *Subject) (Checker, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(s *Subject) (Checker, error)

// Evaluate calls f(s).
func (f EvaluatorFunc) Evaluate(s *Subject) (Checker, error) { return f(s) }

// Checker answers whether the subject it was built for may perform a capability.
// The zero value denies everything.
type Checker struct {
	granted map[string]struct{}
	super   bool
}

// Deny returns a Checker that grants nothing.
func Deny() Checker { return Checker{} }

// NewChecker grants exactly the listed capabilities.
func NewChecker(names ...string) Checker {
	c := Checker{granted: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if n = normalize(n); n != "" {
			c.granted[n] = struct{}{}
		}
	}
	return c
}

// Can reports whether name is granted.
func (c Checker) Can(name string) bool {
	_, ok := c.granted[normalize(name)]
	return ok
}

// Superuser reports whether the checker was built for a superuser.
func (c Checker) Superuser() bool { return c.super }

// Capabilities lists granted capabilities in sorted order.
func (c Checker) Capabilities() []string {
	out := make([]string, 0, len(c.granted))
	for n := range c.granted {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

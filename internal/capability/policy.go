package capability

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultPolicy []byte

// ErrInvalidPolicy reports a policy document that cannot be used.
var ErrInvalidPolicy = errors.New("capability: invalid policy")

// Rule grants one capability.
type Rule struct {
	MinRole          string   `yaml:"min_role,omitempty"`
	Responsibilities []string `yaml:"responsibilities,omitempty"`
	Segments         []string `yaml:"segments,omitempty"`
	RequireDomain    bool     `yaml:"require_domain,omitempty"`
}

// Superusers are granted every capability.
type Superusers struct {
	Roles       []string `yaml:"roles,omitempty"`
	Progressive []string `yaml:"progressive,omitempty"`
	Segments    []string `yaml:"segments,omitempty"`
}

// Policy maps capabilities to the rules that grant them.
type Policy struct {
	Superusers   Superusers      `yaml:"superusers"`
	Capabilities map[string]Rule `yaml:"capabilities"`
}

// Default returns the embedded policy.
func Default() *Policy {
	p, err := Parse(defaultPolicy)
	if err != nil {
		panic(fmt.Sprintf("capability: embedded policy: %v", err))
	}
	return p
}

// Load reads a policy from a YAML file. An empty path yields the embedded policy.
func Load(path string) (*Policy, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML policy document.
func Parse(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if len(p.Capabilities) == 0 {
		return nil, fmt.Errorf("%w: no capabilities", ErrInvalidPolicy)
	}
	for name, rule := range p.Capabilities {
		if normalize(name) == "" {
			return nil, fmt.Errorf("%w: empty capability name", ErrInvalidPolicy)
		}
		if rule.MinRole != "" && Rank(rule.MinRole) == 0 {
			return nil, fmt.Errorf("%w: %s: unknown min_role %q", ErrInvalidPolicy, name, rule.MinRole)
		}
		if rule.MinRole == "" && len(rule.Responsibilities) == 0 && len(rule.Segments) == 0 {
			return nil, fmt.Errorf("%w: %s grants nothing", ErrInvalidPolicy, name)
		}
	}
	return &p, nil
}

// Names lists every capability in the policy.
func (p *Policy) Names() []string {
	out := make([]string, 0, len(p.Capabilities))
	for name := range p.Capabilities {
		out = append(out, normalize(name))
	}
	slices.Sort(out)
	return out
}

// Evaluate implements Evaluator. A nil subject yields a Checker that denies all.
func (p *Policy) Evaluate(s *Subject) (Checker, error) {
	if s == nil {
		return Deny(), nil
	}
	if p == nil {
		return Checker{}, fmt.Errorf("%w: nil policy", ErrInvalidPolicy)
	}

	responsibilities := make(map[string]struct{}, len(s.ResponsibilityRoles))
	for _, r := range s.ResponsibilityRoles {
		responsibilities[normalize(r)] = struct{}{}
	}
	segment := normalize(s.Segment)
	rank := Rank(s.ProgressiveRole)

	if p.isSuperuser(s, responsibilities, segment) {
		c := NewChecker(p.Names()...)
		c.super = true
		return c, nil
	}

	var granted []string
	for name, rule := range p.Capabilities {
		if rule.grants(rank, responsibilities, segment, s.Domain) {
			granted = append(granted, name)
		}
	}
	return NewChecker(granted...), nil
}

func (p *Policy) isSuperuser(s *Subject, responsibilities map[string]struct{}, segment string) bool {
	for _, r := range p.Superusers.Roles {
		if _, ok := responsibilities[normalize(r)]; ok {
			return true
		}
	}
	for _, r := range p.Superusers.Progressive {
		if normalize(r) == normalize(s.ProgressiveRole) {
			return true
		}
	}
	for _, seg := range p.Superusers.Segments {
		if normalize(seg) == segment {
			return true
		}
	}
	return false
}

func (r Rule) grants(rank int, responsibilities map[string]struct{}, segment, domain string) bool {
	if r.RequireDomain && strings.TrimSpace(domain) == "" {
		return false
	}
	if r.MinRole != "" && rank >= Rank(r.MinRole) {
		return true
	}
	for _, resp := range r.Responsibilities {
		if _, ok := responsibilities[normalize(resp)]; ok {
			return true
		}
	}
	for _, seg := range r.Segments {
		if normalize(seg) == segment {
			return true
		}
	}
	return false
}

package hive

import (
	"regexp"

	"golang.org/x/text/unicode/norm"
)

// PermissionRule is an allow/deny pair of regular expression lists for one
// tool. Deny patterns are checked first; when Allowed is non-empty the
// value must also match at least one allow pattern.
type PermissionRule struct {
	Allowed []string `json:"allowed,omitempty" toml:"allowed"`
	Denied  []string `json:"denied,omitempty" toml:"denied"`
}

// IsZero reports whether the rule constrains nothing.
func (r PermissionRule) IsZero() bool {
	return len(r.Allowed) == 0 && len(r.Denied) == 0
}

// PermissionPolicy maps tool names to rules. A loaded skill's policy
// overrides the agent's for the duration of the skill.
type PermissionPolicy struct {
	Tools map[string]PermissionRule `json:"tools,omitempty" toml:"tools"`
}

// IsZero reports whether the policy constrains nothing.
func (p PermissionPolicy) IsZero() bool { return len(p.Tools) == 0 }

// RuleFor returns the rule for a tool name, zero when absent.
func (p PermissionPolicy) RuleFor(tool string) PermissionRule {
	return p.Tools[tool]
}

// CompiledRule is a PermissionRule with its patterns compiled. Values are
// NFC-normalized before matching so visually identical Unicode spellings
// cannot slip past a pattern.
type CompiledRule struct {
	tool     string
	allowed  []*regexp.Regexp
	denied   []string // kept as source for the error message
	deniedRe []*regexp.Regexp
}

// CompileRule compiles a rule for the named tool. Invalid patterns are
// configuration errors.
func CompileRule(tool string, rule PermissionRule) (*CompiledRule, error) {
	c := &CompiledRule{tool: tool}
	for _, p := range rule.Allowed {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, Configf("tool %s: invalid allowed pattern %q: %v", tool, p, err)
		}
		c.allowed = append(c.allowed, re)
	}
	for _, p := range rule.Denied {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, Configf("tool %s: invalid denied pattern %q: %v", tool, p, err)
		}
		c.denied = append(c.denied, p)
		c.deniedRe = append(c.deniedRe, re)
	}
	return c, nil
}

// Check returns an *ErrPermission when the value is denied or (with a
// non-empty allow list) not allowed. A nil receiver permits everything.
func (c *CompiledRule) Check(value string) error {
	if c == nil {
		return nil
	}
	v := norm.NFC.String(value)
	for i, re := range c.deniedRe {
		if re.MatchString(v) {
			return &ErrPermission{Tool: c.tool, Value: value, Pattern: c.denied[i]}
		}
	}
	if len(c.allowed) == 0 {
		return nil
	}
	for _, re := range c.allowed {
		if re.MatchString(v) {
			return nil
		}
	}
	return &ErrPermission{Tool: c.tool, Value: value}
}

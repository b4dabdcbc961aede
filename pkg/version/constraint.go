// Package version implements the version and constraint model: semantic
// version parsing on top of hashicorp/go-version and constraint evaluation
// for the operators `*`, `=`, `>`, `>=`, `<`, `<=`, `~` and `^`, including
// partial versions and the `I.J.*` wildcard shorthand.
//
// Constraint evaluation is pure: a parsed Constraint never touches anything
// outside its own bounds.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/glorpus-work/modpak/pkg/errors"
	goversion "github.com/hashicorp/go-version"
)

// Operator is a constraint operator.
type Operator string

// Supported constraint operators.
const (
	OpAny     Operator = "*"
	OpExact   Operator = "="
	OpGreater Operator = ">"
	OpAtLeast Operator = ">="
	OpLess    Operator = "<"
	OpAtMost  Operator = "<="
	OpTilde   Operator = "~"
	OpCaret   Operator = "^"
)

type constraintKind int

const (
	kindAny constraintKind = iota
	kindExact
	kindRange   // [min, max)
	kindCompare // direct comparison against a single bound
)

// Constraint represents a set of acceptable versions.
type Constraint struct {
	raw  string
	op   Operator
	kind constraintKind

	exact *goversion.Version
	min   *goversion.Version // inclusive
	max   *goversion.Version // exclusive
	bound *goversion.Version // for kindCompare
}

// ParseVersion parses a full semantic version, classifying failures under the
// shared parse-error sentinel.
func ParseVersion(text string) (*goversion.Version, error) {
	v, err := goversion.NewVersion(text)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrParse, "invalid version %q: %v", text, err)
	}
	return v, nil
}

// ParseConstraint parses a version constraint.
func ParseConstraint(text string) (*Constraint, error) {
	raw := strings.TrimSpace(text)
	if raw == "" || raw == "*" {
		return &Constraint{raw: "*", op: OpAny, kind: kindAny}, nil
	}

	op, rest := splitOperator(raw)

	// Wildcard shorthand: I.J.* and I.* are equality ranges and take no
	// explicit operator.
	if strings.Contains(rest, "*") {
		if op != OpExact && op != "" {
			return nil, errors.Wrapf(errors.ErrParse, "invalid constraint %q: wildcard cannot follow operator %s", raw, op)
		}
		return parseWildcard(raw, rest)
	}
	if op == "" {
		op = OpExact
	}

	p, err := parsePartial(rest)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrParse, "invalid constraint %q: %v", raw, err)
	}

	c := &Constraint{raw: raw, op: op}
	switch op {
	case OpExact:
		c.applyExact(p)
	case OpGreater, OpAtLeast, OpLess, OpAtMost:
		c.kind = kindCompare
		c.bound = p.floor()
	case OpTilde:
		c.kind = kindRange
		c.min = p.floor()
		if p.minor != nil {
			c.max = mustVersion(p.major, *p.minor+1, 0)
		} else {
			c.max = mustVersion(p.major+1, 0, 0)
		}
	case OpCaret:
		c.applyCaret(p)
	default:
		return nil, errors.Wrapf(errors.ErrParse, "invalid constraint %q: unknown operator", raw)
	}
	return c, nil
}

// MustConstraint parses a constraint and panics on failure. For tests and
// compile-time-constant constraints only.
func MustConstraint(text string) *Constraint {
	c, err := ParseConstraint(text)
	if err != nil {
		panic(err)
	}
	return c
}

// Satisfies reports whether v is a member of the constraint's version set.
func (c *Constraint) Satisfies(v *goversion.Version) bool {
	switch c.kind {
	case kindAny:
		return true
	case kindExact:
		return v.Equal(c.exact)
	case kindRange:
		return v.Compare(c.min) >= 0 && v.Compare(c.max) < 0
	case kindCompare:
		cmp := v.Compare(c.bound)
		switch c.op {
		case OpGreater:
			return cmp > 0
		case OpAtLeast:
			return cmp >= 0
		case OpLess:
			return cmp < 0
		case OpAtMost:
			return cmp <= 0
		}
	}
	return false
}

// Operator returns the constraint's operator.
func (c *Constraint) Operator() Operator { return c.op }

func (c *Constraint) String() string { return c.raw }

func (c *Constraint) applyExact(p partial) {
	switch {
	case p.patch != nil:
		c.kind = kindExact
		c.exact = p.floor()
	case p.minor != nil:
		c.kind = kindRange
		c.min = mustVersion(p.major, *p.minor, 0)
		c.max = mustVersion(p.major, *p.minor+1, 0)
	default:
		c.kind = kindRange
		c.min = mustVersion(p.major, 0, 0)
		c.max = mustVersion(p.major+1, 0, 0)
	}
}

// applyCaret derives the caret ceiling from the first non-zero component,
// scanning left to right.
func (c *Constraint) applyCaret(p partial) {
	c.kind = kindRange
	c.min = p.floor()
	minor, patch := 0, 0
	if p.minor != nil {
		minor = *p.minor
	}
	if p.patch != nil {
		patch = *p.patch
	}
	switch {
	case p.major != 0:
		c.max = mustVersion(p.major+1, 0, 0)
	case minor != 0:
		c.max = mustVersion(0, minor+1, 0)
	case p.patch != nil:
		c.max = mustVersion(0, 0, patch+1)
	default:
		// ^0 / ^0.0 with no patch: everything below the next minor.
		c.max = mustVersion(0, minor+1, 0)
	}
}

func parseWildcard(raw, rest string) (*Constraint, error) {
	parts := strings.Split(rest, ".")
	switch {
	case len(parts) == 3 && parts[2] == "*" && parts[1] != "*":
		// I.J.* is equivalent to =I.J
		major, err := parseComponent(parts[0])
		if err != nil {
			return nil, errors.Wrapf(errors.ErrParse, "invalid constraint %q: %v", raw, err)
		}
		minor, err := parseComponent(parts[1])
		if err != nil {
			return nil, errors.Wrapf(errors.ErrParse, "invalid constraint %q: %v", raw, err)
		}
		return &Constraint{
			raw: raw, op: OpExact, kind: kindRange,
			min: mustVersion(major, minor, 0),
			max: mustVersion(major, minor+1, 0),
		}, nil
	case (len(parts) == 2 && parts[1] == "*") ||
		(len(parts) == 3 && parts[1] == "*" && parts[2] == "*"):
		// I.* and I.*.* are equivalent to =I
		major, err := parseComponent(parts[0])
		if err != nil {
			return nil, errors.Wrapf(errors.ErrParse, "invalid constraint %q: %v", raw, err)
		}
		return &Constraint{
			raw: raw, op: OpExact, kind: kindRange,
			min: mustVersion(major, 0, 0),
			max: mustVersion(major+1, 0, 0),
		}, nil
	default:
		return nil, errors.Wrapf(errors.ErrParse, "invalid constraint %q: misplaced wildcard", raw)
	}
}

// partial is a possibly incomplete version: missing components are nil.
type partial struct {
	major int
	minor *int
	patch *int
	pre   string
}

// floor returns the partial padded with zeros, keeping any prerelease tag.
func (p partial) floor() *goversion.Version {
	minor, patch := 0, 0
	if p.minor != nil {
		minor = *p.minor
	}
	if p.patch != nil {
		patch = *p.patch
	}
	if p.pre != "" {
		return goversion.Must(goversion.NewVersion(fmt.Sprintf("%d.%d.%d-%s", p.major, minor, patch, p.pre)))
	}
	return mustVersion(p.major, minor, patch)
}

func parsePartial(text string) (partial, error) {
	var p partial

	core := text
	if idx := strings.IndexAny(text, "-+"); idx >= 0 {
		core = text[:idx]
		if text[idx] == '-' {
			pre := text[idx+1:]
			if plus := strings.IndexByte(pre, '+'); plus >= 0 {
				pre = pre[:plus]
			}
			p.pre = pre
		}
	}

	parts := strings.Split(core, ".")
	if len(parts) > 3 {
		return p, fmt.Errorf("too many version components")
	}
	if p.pre != "" && len(parts) != 3 {
		return p, fmt.Errorf("pre-release requires a full version")
	}

	major, err := parseComponent(parts[0])
	if err != nil {
		return p, err
	}
	p.major = major
	if len(parts) > 1 {
		minor, err := parseComponent(parts[1])
		if err != nil {
			return p, err
		}
		p.minor = &minor
	}
	if len(parts) > 2 {
		patch, err := parseComponent(parts[2])
		if err != nil {
			return p, err
		}
		p.patch = &patch
	}
	return p, nil
}

func parseComponent(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty version component")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid version component %q", s)
	}
	return n, nil
}

func splitOperator(raw string) (Operator, string) {
	for _, op := range []Operator{OpAtLeast, OpAtMost, OpGreater, OpLess, OpExact, OpTilde, OpCaret} {
		if strings.HasPrefix(raw, string(op)) {
			return op, strings.TrimSpace(raw[len(op):])
		}
	}
	return "", raw
}

func mustVersion(major, minor, patch int) *goversion.Version {
	return goversion.Must(goversion.NewVersion(fmt.Sprintf("%d.%d.%d", major, minor, patch)))
}

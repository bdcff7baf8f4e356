package module

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Constraint is a conjunction of version comparisons such as
// ">=1.0.0, <2.0.0". The zero value matches every version.
type Constraint struct {
	raw     string
	clauses []clause
}

type clause struct {
	op      string
	version string
}

var operators = []string{">=", "<=", "!=", "==", ">", "<", "="}

// ParseConstraint parses a comma separated list of comparisons. A bare
// version means equality; "" and "*" match anything.
func ParseConstraint(s string) (Constraint, error) {
	c := Constraint{raw: strings.TrimSpace(s)}
	if c.raw == "" || c.raw == "*" {
		return c, nil
	}

	for _, part := range strings.Split(c.raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return Constraint{}, fmt.Errorf("empty clause in %q", s)
		}
		op := "="
		for _, candidate := range operators {
			if strings.HasPrefix(part, candidate) {
				op = candidate
				part = strings.TrimSpace(part[len(candidate):])
				break
			}
		}
		if op == "==" {
			op = "="
		}
		if !ValidVersion(part) {
			return Constraint{}, fmt.Errorf("invalid version %q in %q", part, s)
		}
		c.clauses = append(c.clauses, clause{op: op, version: canonical(part)})
	}
	return c, nil
}

// Check reports whether version satisfies every clause. An invalid version
// satisfies only the empty constraint.
func (c Constraint) Check(version string) bool {
	if len(c.clauses) == 0 {
		return true
	}
	if !ValidVersion(version) {
		return false
	}
	v := canonical(version)
	for _, cl := range c.clauses {
		cmp := semver.Compare(v, cl.version)
		var ok bool
		switch cl.op {
		case "=":
			ok = cmp == 0
		case "!=":
			ok = cmp != 0
		case ">":
			ok = cmp > 0
		case ">=":
			ok = cmp >= 0
		case "<":
			ok = cmp < 0
		case "<=":
			ok = cmp <= 0
		}
		if !ok {
			return false
		}
	}
	return true
}

func (c Constraint) String() string {
	if c.raw == "" {
		return "*"
	}
	return c.raw
}

// Satisfies reports whether version satisfies constraint. Unparseable
// constraints are never satisfied.
func Satisfies(version, constraint string) bool {
	c, err := ParseConstraint(constraint)
	if err != nil {
		return false
	}
	return c.Check(version)
}

package verify

import (
	"fmt"
	"strings"

	"github.com/kazi/sqlapply/internal/database"
)

// Definition is a check as written in sqlapply.toml or a JSON manifest:
// either a raw query with an expected value, or a built-in type and target.
type Definition struct {
	Name   string `toml:"name" json:"name,omitempty"`
	Query  string `toml:"query" json:"query,omitempty"`
	Expect string `toml:"expect" json:"expect,omitempty"`

	// Type is one of table_exists, index_exists, column_exists,
	// rls_enabled, policy_exists.
	Type   string `toml:"type" json:"type,omitempty"`
	Target string `toml:"target" json:"target,omitempty"`
	// Column or policy name for column_exists and policy_exists.
	Detail string `toml:"detail" json:"detail,omitempty"`
}

// Build turns a definition into a check for the endpoint kind.
func (d Definition) Build(kind database.Kind) (Check, error) {
	var (
		c   Check
		err error
	)

	switch strings.ToLower(strings.TrimSpace(d.Type)) {
	case "":
		c = Check{Name: d.Name, Query: d.Query, Expect: d.Expect}
	case "table_exists":
		c = TableExists(kind, d.Target)
	case "index_exists":
		c = IndexExists(kind, d.Target)
	case "column_exists":
		if d.Detail == "" {
			return Check{}, fmt.Errorf("column_exists check on %q needs a column in detail", d.Target)
		}
		c = ColumnExists(kind, d.Target, d.Detail)
	case "rls_enabled":
		c, err = RLSEnabled(kind, d.Target)
	case "policy_exists":
		if d.Detail == "" {
			return Check{}, fmt.Errorf("policy_exists check on %q needs a policy name in detail", d.Target)
		}
		c, err = PolicyExists(kind, d.Target, d.Detail)
	default:
		return Check{}, fmt.Errorf("unknown check type %q", d.Type)
	}
	if err != nil {
		return Check{}, err
	}

	if d.Type != "" {
		if strings.TrimSpace(d.Target) == "" {
			return Check{}, fmt.Errorf("%s check needs a target", d.Type)
		}
		if d.Name != "" {
			c.Name = d.Name
		}
		if d.Expect != "" {
			c.Expect = d.Expect
		}
	}

	if err := c.Validate(); err != nil {
		return Check{}, err
	}
	return c, nil
}

// BuildAll builds every definition, stopping at the first invalid one.
func BuildAll(kind database.Kind, defs []Definition) ([]Check, error) {
	checks := make([]Check, 0, len(defs))
	for i, d := range defs {
		c, err := d.Build(kind)
		if err != nil {
			return nil, fmt.Errorf("check %d: %w", i+1, err)
		}
		checks = append(checks, c)
	}
	return checks, nil
}

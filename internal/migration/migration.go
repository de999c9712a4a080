// Package migration loads ordered schema-change statements from SQL scripts,
// directories of scripts, or JSON manifests.
package migration

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kazi/sqlapply/internal/splitter"
)

// OptionalMarker flags a statement whose failure does not fail the run.
const OptionalMarker = "sqlapply:optional"

// optionalRe matches a comment, as the splitter reports it, that carries the
// marker.
var optionalRe = regexp.MustCompile(`^(?:--|/\*)\s*` + regexp.QuoteMeta(OptionalMarker) + `\b`)

func markedOptional(comments []string) bool {
	for _, c := range comments {
		if optionalRe.MatchString(c) {
			return true
		}
	}
	return false
}

// hasOptionalMarker reports whether pre-split sql carries the marker in one
// of its comments. Marker text inside a literal does not count.
func hasOptionalMarker(sql string) bool {
	parts, err := splitter.Split(sql, splitter.Options{})
	if err != nil {
		return false
	}
	for _, p := range parts {
		if markedOptional(p.Comments) {
			return true
		}
	}
	return false
}

// Statement is one schema-change command. Index is 1-based and stays stable
// when a subset of statements is selected for a re-run.
type Statement struct {
	Index       int    `json:"index"`
	SQL         string `json:"sql"`
	Optional    bool   `json:"optional,omitempty"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
	Line        int    `json:"line,omitempty"`
}

// Label identifies the statement in logs, e.g. "notifications.sql:12".
func (s Statement) Label() string {
	if s.Source == "" {
		return fmt.Sprintf("#%d", s.Index)
	}
	if s.Line > 0 {
		return fmt.Sprintf("%s:%d", s.Source, s.Line)
	}
	return fmt.Sprintf("%s#%d", s.Source, s.Index)
}

// SplitMode selects the statement splitter.
type SplitMode string

const (
	SplitLexical  SplitMode = "lexical"
	SplitPostgres SplitMode = "pg"
)

// ParseOptions controls how scripts are split.
type ParseOptions struct {
	Delimiter string
	Mode      SplitMode
}

// ParseScript splits script text into statements numbered from firstIndex.
func ParseScript(script, source string, firstIndex int, opts ParseOptions) ([]Statement, error) {
	var (
		parts []splitter.Part
		err   error
	)
	switch opts.Mode {
	case "", SplitLexical:
		parts, err = splitter.Split(script, splitter.Options{Delimiter: opts.Delimiter})
	case SplitPostgres:
		if opts.Delimiter != "" && opts.Delimiter != splitter.DefaultDelimiter {
			return nil, fmt.Errorf("the pg splitter only supports %q as delimiter", splitter.DefaultDelimiter)
		}
		parts, err = splitter.SplitPostgres(script)
	default:
		return nil, fmt.Errorf("unknown splitter %q (expected lexical or pg)", opts.Mode)
	}
	if err != nil {
		if source != "" {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
		return nil, err
	}

	stmts := make([]Statement, 0, len(parts))
	for i, part := range parts {
		stmts = append(stmts, Statement{
			Index:    firstIndex + i,
			SQL:      part.SQL,
			Optional: markedOptional(part.Comments),
			Source:   source,
			Line:     part.Line,
		})
	}
	return stmts, nil
}

// FromStrings builds statements from pre-split text.
func FromStrings(sqls []string) []Statement {
	stmts := make([]Statement, 0, len(sqls))
	for i, sql := range sqls {
		stmts = append(stmts, Statement{
			Index:    i + 1,
			SQL:      strings.TrimSpace(sql),
			Optional: hasOptionalMarker(sql),
		})
	}
	return stmts
}

// Validate enforces the input contract of a run: at least one statement,
// every statement non-empty, indices strictly increasing.
func Validate(stmts []Statement) error {
	if len(stmts) == 0 {
		return fmt.Errorf("no statements to apply")
	}
	prev := 0
	for i, stmt := range stmts {
		if strings.TrimSpace(stmt.SQL) == "" {
			return fmt.Errorf("statement %d (position %d) is empty", stmt.Index, i+1)
		}
		if stmt.Index <= prev {
			return fmt.Errorf("statement indices must be increasing: %d follows %d", stmt.Index, prev)
		}
		prev = stmt.Index
	}
	return nil
}

// Select keeps only the statements whose index is listed. Unknown indices
// are an error so a typo never silently applies nothing.
func Select(stmts []Statement, indices []int) ([]Statement, error) {
	if len(indices) == 0 {
		return stmts, nil
	}

	byIndex := make(map[int]Statement, len(stmts))
	for _, s := range stmts {
		byIndex[s.Index] = s
	}

	want := make(map[int]bool, len(indices))
	for _, idx := range indices {
		if _, ok := byIndex[idx]; !ok {
			return nil, fmt.Errorf("no statement with index %d (%d statements loaded)", idx, len(stmts))
		}
		want[idx] = true
	}

	var out []Statement
	for _, s := range stmts {
		if want[s.Index] {
			out = append(out, s)
		}
	}
	return out, nil
}

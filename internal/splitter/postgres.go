package splitter

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// SplitPostgres splits a script with the PostgreSQL scanner. It only
// understands ";" as the delimiter but follows the server's own lexing rules
// exactly, including standard_conforming_strings and nested comments.
func SplitPostgres(script string) ([]Part, error) {
	stmts, err := pg_query.SplitWithScanner(script, true)
	if err != nil {
		return nil, fmt.Errorf("scan sql: %w", err)
	}

	var parts []Part
	offset := 0
	for _, stmt := range stmts {
		line := 1
		// continued: the fragment starts on the line of the delimiter that
		// ended the previous statement.
		continued := false
		if idx := strings.Index(script[offset:], stmt); idx >= 0 {
			before := script[:offset+idx]
			if d := strings.LastIndex(before, DefaultDelimiter); d >= 0 && offset > 0 {
				continued = !strings.Contains(before[d:], "\n")
			}
			line = strings.Count(before, "\n") + 1
			offset += idx + len(stmt)
		}

		s, err := scan(stmt, []rune(DefaultDelimiter), continued)
		if err != nil {
			return nil, err
		}
		if n := len(parts); n > 0 {
			parts[n-1].Comments = append(parts[n-1].Comments, s.orphans...)
		}
		// Comment-only fragments carry no statement
		if len(s.parts) == 0 {
			continue
		}

		// Leading comments are part of the fragment; start at the code
		line += s.parts[0].Line - 1

		var comments []string
		for _, p := range s.parts {
			comments = append(comments, p.Comments...)
		}

		sql := strings.TrimSpace(stmt)
		if len(s.orphans) > 0 {
			sql = s.parts[0].SQL
			for _, p := range s.parts[1:] {
				sql += "\n" + p.SQL
			}
		}
		if !strings.HasSuffix(sql, DefaultDelimiter) {
			sql += DefaultDelimiter
		}
		parts = append(parts, Part{SQL: sql, Line: line, Comments: comments})
	}
	return parts, nil
}

// Package splitter breaks a SQL script into individual statements.
//
// The splitter is lexically aware: a delimiter inside a string literal,
// quoted identifier, comment or dollar-quoted body is not a split point.
// Unterminated literals are reported as errors instead of producing a
// mangled statement.
package splitter

import (
	"fmt"
	"strings"
	"unicode"
)

// DefaultDelimiter separates statements when none is configured.
const DefaultDelimiter = ";"

// Options configures Split.
type Options struct {
	// Delimiter separates statements. Defaults to ";".
	Delimiter string
}

// Part is one statement cut from a script.
type Part struct {
	// SQL is the trimmed statement text including its delimiter, when one
	// terminated it.
	SQL string
	// Line is the 1-based line of the statement's first non-comment character.
	Line int
	// Comments holds the statement's comments, delimiters included. A comment
	// following a delimiter on the same line belongs to the statement that
	// delimiter ended, not to the next one.
	Comments []string
}

// SyntaxError reports a literal or comment left open at the end of the script.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

type lexState int

const (
	stateCode lexState = iota
	stateString
	stateEscapeString
	stateIdentifier
	stateLineComment
	stateBlockComment
	stateDollar
)

type scanner struct {
	runes []rune
	delim []rune

	pos  int
	line int

	state      lexState
	openLine   int
	blockDepth int
	dollarTag  []rune

	buf       strings.Builder
	hasCode   bool
	startLine int
	comments  []string
	parts     []Part

	// delimLine is the line of the last delimiter; comments starting there
	// before any code trail the previous statement.
	delimLine    int
	commentStart int
	trailing     bool
	orphans      []string
}

// ValidateDelimiter rejects delimiters the scanner cannot tell apart from
// literal syntax.
func ValidateDelimiter(delim string) error {
	if strings.TrimSpace(delim) == "" {
		return fmt.Errorf("delimiter must not be empty")
	}
	if strings.ContainsAny(delim, "'\"$") || strings.Contains(delim, "--") || strings.Contains(delim, "/*") {
		return fmt.Errorf("delimiter %q collides with quote or comment syntax", delim)
	}
	if strings.IndexFunc(delim, unicode.IsSpace) >= 0 {
		return fmt.Errorf("delimiter %q must not contain whitespace", delim)
	}
	return nil
}

// Split cuts script into statements. Empty and comment-only segments are
// dropped.
func Split(script string, opts Options) ([]Part, error) {
	delim := opts.Delimiter
	if delim == "" {
		delim = DefaultDelimiter
	}
	if err := ValidateDelimiter(delim); err != nil {
		return nil, err
	}

	s, err := scan(script, []rune(delim), false)
	if err != nil {
		return nil, err
	}
	return s.parts, nil
}

// scan runs the scanner over script. With continued set the script is taken
// to start right after a delimiter, so comments on its first line that
// precede any code are collected in orphans.
func scan(script string, delim []rune, continued bool) (*scanner, error) {
	s := &scanner{
		runes: []rune(script),
		delim: delim,
		line:  1,
	}
	if continued {
		s.delimLine = 1
	}
	if err := s.run(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *scanner) run() error {
	for s.pos < len(s.runes) {
		switch s.state {
		case stateCode:
			s.scanCode()
		case stateString:
			if s.at("''") {
				s.take(2)
			} else if s.at("'") {
				s.take(1)
				s.state = stateCode
			} else {
				s.take(1)
			}
		case stateEscapeString:
			if s.at(`\`) {
				s.take(2)
			} else if s.at("''") {
				s.take(2)
			} else if s.at("'") {
				s.take(1)
				s.state = stateCode
			} else {
				s.take(1)
			}
		case stateIdentifier:
			if s.at(`""`) {
				s.take(2)
			} else if s.at(`"`) {
				s.take(1)
				s.state = stateCode
			} else {
				s.take(1)
			}
		case stateLineComment:
			if s.runes[s.pos] == '\n' {
				s.endComment()
				s.state = stateCode
			}
			s.take(1)
		case stateBlockComment:
			switch {
			case s.at("/*"):
				s.blockDepth++
				s.take(2)
			case s.at("*/"):
				s.blockDepth--
				s.take(2)
				if s.blockDepth == 0 {
					s.endComment()
					s.state = stateCode
				}
			default:
				s.take(1)
			}
		case stateDollar:
			if s.atRunes(s.dollarTag) {
				s.take(len(s.dollarTag))
				s.state = stateCode
			} else {
				s.take(1)
			}
		}
	}

	switch s.state {
	case stateLineComment:
		s.endComment()
	case stateString, stateEscapeString:
		return &SyntaxError{Line: s.openLine, Msg: "unterminated string literal"}
	case stateIdentifier:
		return &SyntaxError{Line: s.openLine, Msg: "unterminated quoted identifier"}
	case stateBlockComment:
		return &SyntaxError{Line: s.openLine, Msg: "unterminated block comment"}
	case stateDollar:
		return &SyntaxError{Line: s.openLine, Msg: fmt.Sprintf("unterminated dollar-quoted string %s", string(s.dollarTag))}
	}

	s.flush()
	return nil
}

func (s *scanner) scanCode() {
	ch := s.runes[s.pos]

	switch {
	case s.at("--"):
		s.beginComment()
		s.state = stateLineComment
		s.take(2)
		return
	case s.at("/*"):
		s.beginComment()
		s.state = stateBlockComment
		s.blockDepth = 1
		s.openLine = s.line
		s.take(2)
		return
	case ch == '\'':
		s.markCode()
		s.openLine = s.line
		if s.escapePrefix() {
			s.state = stateEscapeString
		} else {
			s.state = stateString
		}
		s.take(1)
		return
	case ch == '"':
		s.markCode()
		s.openLine = s.line
		s.state = stateIdentifier
		s.take(1)
		return
	case ch == '$':
		if tag := s.dollarTagAt(); tag != nil {
			s.markCode()
			s.openLine = s.line
			s.state = stateDollar
			s.dollarTag = tag
			s.take(len(tag))
			return
		}
	case s.atRunes(s.delim):
		s.take(len(s.delim))
		s.flush()
		s.delimLine = s.line
		return
	}

	if !unicode.IsSpace(ch) {
		s.markCode()
	}
	s.take(1)
}

// escapePrefix reports whether the quote at pos opens an E'...' string.
func (s *scanner) escapePrefix() bool {
	if s.pos == 0 {
		return false
	}
	prev := s.runes[s.pos-1]
	if prev != 'E' && prev != 'e' {
		return false
	}
	return s.pos < 2 || !isIdentRune(s.runes[s.pos-2])
}

// dollarTagAt returns the $tag$ opening at pos, or nil. Positional
// parameters like $1 and identifiers containing $ are not tags.
func (s *scanner) dollarTagAt() []rune {
	if s.pos > 0 && isIdentRune(s.runes[s.pos-1]) {
		return nil
	}
	end := s.pos + 1
	for end < len(s.runes) && s.runes[end] != '$' {
		r := s.runes[end]
		if !isIdentRune(r) || (end == s.pos+1 && unicode.IsDigit(r)) {
			return nil
		}
		end++
	}
	if end >= len(s.runes) {
		return nil
	}
	return s.runes[s.pos : end+1]
}

func (s *scanner) beginComment() {
	s.commentStart = s.pos
	s.trailing = !s.hasCode && s.delimLine == s.line
}

// endComment files the comment that ends at pos.
func (s *scanner) endComment() {
	text := strings.TrimSpace(string(s.runes[s.commentStart:s.pos]))
	if !s.trailing {
		s.comments = append(s.comments, text)
		return
	}
	if n := len(s.parts); n > 0 {
		s.parts[n-1].Comments = append(s.parts[n-1].Comments, text)
	} else {
		s.orphans = append(s.orphans, text)
	}
	// Only whitespace and trailing comments precede it since the delimiter.
	s.buf.Reset()
}

func (s *scanner) markCode() {
	if !s.hasCode {
		s.hasCode = true
		s.startLine = s.line
	}
}

func (s *scanner) take(n int) {
	for i := 0; i < n && s.pos < len(s.runes); i++ {
		r := s.runes[s.pos]
		s.buf.WriteRune(r)
		if r == '\n' {
			s.line++
		}
		s.pos++
	}
}

func (s *scanner) flush() {
	if s.hasCode {
		s.parts = append(s.parts, Part{
			SQL:      strings.TrimSpace(s.buf.String()),
			Line:     s.startLine,
			Comments: s.comments,
		})
	}
	s.buf.Reset()
	s.hasCode = false
	s.startLine = 0
	s.comments = nil
}

func (s *scanner) at(lit string) bool {
	return s.atRunes([]rune(lit))
}

func (s *scanner) atRunes(lit []rune) bool {
	if s.pos+len(lit) > len(s.runes) {
		return false
	}
	for i, r := range lit {
		if s.runes[s.pos+i] != r {
			return false
		}
	}
	return true
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Statements returns only the SQL text of each part.
func Statements(parts []Part) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p.SQL
	}
	return out
}

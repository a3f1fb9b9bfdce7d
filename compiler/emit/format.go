package emit

import (
	"bytes"
	"fmt"
	"strings"
)

// FormatError reports source the formatter rejected. Source holds the
// unformatted text.
type FormatError struct {
	Line    int
	Message string
	Source  []byte
}

// Error implements the error interface.
func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// formatTS re-indents TypeScript-family source by bracket depth. Lines are
// trimmed, runs of blank lines collapse to one, and blank lines directly
// inside brackets are dropped. Brackets inside string literals and comments
// are ignored. Unbalanced brackets and unterminated strings are errors.
func formatTS(src []byte) ([]byte, error) {
	var (
		out     bytes.Buffer
		depth   int
		blank   bool
		prev    string
		comment bool
	)
	for i, line := range strings.Split(string(src), "\n") {
		n := i + 1
		line = strings.TrimSpace(line)
		if line == "" {
			blank = out.Len() > 0
			continue
		}
		indent := depth
		if !comment {
			indent -= leadingClosers(line)
		}
		if indent < 0 {
			return nil, &FormatError{Line: n, Message: "unbalanced closing bracket", Source: src}
		}
		if blank && !opens(prev) && (comment || leadingClosers(line) == 0) {
			out.WriteByte('\n')
		}
		blank = false
		out.WriteString(strings.Repeat("  ", indent))
		if comment && strings.HasPrefix(line, "*") {
			out.WriteByte(' ')
		}
		out.WriteString(line)
		out.WriteByte('\n')
		prev = line

		var err error
		if depth, comment, err = scan(line, depth, comment); err != nil {
			return nil, &FormatError{Line: n, Message: err.Error(), Source: src}
		}
	}
	if comment {
		return nil, &FormatError{Message: "unterminated block comment", Source: src}
	}
	if depth != 0 {
		return nil, &FormatError{Message: fmt.Sprintf("unbalanced brackets: %d unclosed", depth), Source: src}
	}
	return out.Bytes(), nil
}

// scan updates the bracket depth with the brackets of one line.
func scan(line string, depth int, comment bool) (int, bool, error) {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case comment:
			if c == '*' && i+1 < len(line) && line[i+1] == '/' {
				comment = false
				i++
			}
		case quote != 0:
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case c == '/' && i+1 < len(line) && line[i+1] == '/':
			return depth, false, nil
		case c == '/' && i+1 < len(line) && line[i+1] == '*':
			comment = true
			i++
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
			if depth < 0 {
				return depth, comment, fmt.Errorf("unbalanced closing bracket %q", c)
			}
		}
	}
	if quote != 0 {
		return depth, comment, fmt.Errorf("unterminated string literal")
	}
	return depth, comment, nil
}

func leadingClosers(line string) int {
	n := 0
	for n < len(line) && strings.IndexByte(")]}", line[n]) >= 0 {
		n++
	}
	return n
}

func opens(line string) bool {
	return line != "" && strings.IndexByte("([{", line[len(line)-1]) >= 0
}

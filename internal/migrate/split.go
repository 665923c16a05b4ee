// Package migrate applies ordered .sql files to a MigrationTarget and
// tracks what has been applied.
package migrate

import "strings"

// SplitStatements splits a SQL script on semicolons that sit outside
// string literals, quoted identifiers, dollar-quoted bodies and comments.
// Statements are trimmed; empty ones and comment-only ones are dropped.
func SplitStatements(sql string) []string {
	var (
		out   []string
		start int
		code  bool // current statement has non-comment content
	)
	flush := func(end int) {
		if code {
			if stmt := strings.TrimSpace(sql[start:end]); stmt != "" {
				out = append(out, stmt)
			}
		}
		start = end + 1
		code = false
	}

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			if nl := strings.IndexByte(sql[i:], '\n'); nl >= 0 {
				i += nl
			} else {
				i = len(sql)
			}

		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			i = skipBlockComment(sql, i)

		case c == '\'' || c == '"':
			code = true
			i = skipQuoted(sql, i, c, c == '\'' && escapeString(sql, i))

		case c == '$':
			if tag, ok := dollarTag(sql, i); ok {
				code = true
				if end := strings.Index(sql[i+len(tag):], tag); end >= 0 {
					i += len(tag) + end + len(tag) - 1
				} else {
					i = len(sql)
				}
				continue
			}
			code = true

		case c == ';':
			flush(i)

		case c == ' ' || c == '\t' || c == '\n' || c == '\r':

		default:
			code = true
		}
	}
	if start < len(sql) {
		flush(len(sql))
	}
	return out
}

// skipQuoted returns the index of the closing quote. A doubled quote is an
// escaped quote; inside E'...' strings a backslash also escapes the next byte.
func skipQuoted(sql string, i int, q byte, backslash bool) int {
	for j := i + 1; j < len(sql); j++ {
		switch {
		case backslash && sql[j] == '\\':
			j++
		case sql[j] == q:
			if j+1 < len(sql) && sql[j+1] == q {
				j++
				continue
			}
			return j
		}
	}
	return len(sql)
}

// escapeString reports whether the quote at i opens an E'...' literal.
func escapeString(sql string, i int) bool {
	if i == 0 || (sql[i-1] != 'E' && sql[i-1] != 'e') {
		return false
	}
	return i == 1 || !identByte(sql[i-2])
}

func identByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// skipBlockComment returns the index of the closing '/' and handles nesting,
// which Postgres allows.
func skipBlockComment(sql string, i int) int {
	depth := 0
	for j := i; j < len(sql)-1; j++ {
		switch {
		case sql[j] == '/' && sql[j+1] == '*':
			depth++
			j++
		case sql[j] == '*' && sql[j+1] == '/':
			depth--
			j++
			if depth == 0 {
				return j
			}
		}
	}
	return len(sql)
}

// dollarTag recognises $$ or $tag$ at i.
func dollarTag(sql string, i int) (string, bool) {
	for j := i + 1; j < len(sql); j++ {
		c := sql[j]
		if c == '$' {
			return sql[i : j+1], true
		}
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || (j > i+1 && c >= '0' && c <= '9')) {
			return "", false
		}
	}
	return "", false
}

package queryengine

import (
	"fmt"
	"strings"

	"github.com/camdencbrown/relay/internal/domain"
)

// writeKeywords are statement heads the analytic session refuses. The
// session is a scratch :memory: database, but rejecting writes up front
// gives agents a clear diagnostic instead of a confusing DuckDB error.
var writeKeywords = []string{
	"insert", "update", "delete", "drop", "create", "alter",
	"truncate", "attach", "detach", "copy", "export", "install",
	"load", "pragma", "set", "call", "vacuum",
}

// validateSQL enforces the query contract: exactly one statement, and that
// statement is a read.
func validateSQL(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return fmt.Errorf("%w: empty query", domain.ErrQueryFailed)
	}
	if n := countStatements(trimmed); n > 1 {
		return fmt.Errorf("%w: multiple statements are not allowed", domain.ErrQueryFailed)
	}

	head := strings.ToLower(firstWord(trimmed))
	for _, kw := range writeKeywords {
		if head == kw {
			return fmt.Errorf("%w: only read queries are allowed, got %s", domain.ErrQueryFailed, strings.ToUpper(head))
		}
	}
	if head != "select" && head != "with" && head != "describe" && head != "show" {
		return fmt.Errorf("%w: query must start with SELECT or WITH", domain.ErrQueryFailed)
	}
	return nil
}

// countStatements counts semicolon-separated statements, ignoring
// semicolons inside single-quoted literals and trailing empties.
func countStatements(sql string) int {
	count := 0
	inString := false
	segment := strings.Builder{}
	flush := func() {
		if strings.TrimSpace(segment.String()) != "" {
			count++
		}
		segment.Reset()
	}
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if c == '\'' {
			inString = !inString
		}
		if c == ';' && !inString {
			flush()
			continue
		}
		segment.WriteByte(c)
	}
	flush()
	return count
}

func firstWord(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// applyLimit appends LIMIT n unless the query already carries one.
func applyLimit(sql string, limit int) string {
	trimmed := strings.TrimRight(strings.TrimSpace(sql), ";")
	if strings.Contains(strings.ToUpper(trimmed), "LIMIT") {
		return trimmed
	}
	return fmt.Sprintf("%s LIMIT %d", trimmed, limit)
}

package domain

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a short opaque id: the prefix joined to the first 8 hex
// characters of a v4 UUID, e.g. "pipe-3fa8c2d1".
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// DeriveTableName converts a pipeline display name into the SQL identifier
// the query engine registers its view under. The derivation is a pure
// function: lowercase, spaces and hyphens to underscores, every other
// non-alphanumeric character stripped, and a "t_" prefix when the result
// would start with a digit.
func DeriveTableName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case r == ' ' || r == '-':
			b.WriteByte('_')
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		}
	}
	derived := b.String()
	if derived == "" {
		return derived
	}
	if derived[0] >= '0' && derived[0] <= '9' {
		derived = "t_" + derived
	}
	return derived
}

// NormalizeColumnKey canonicalizes a column name for knowledge-base lookup:
// lowercased, trimmed, spaces replaced by underscores.
func NormalizeColumnKey(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(strings.ToLower(name)), " ", "_")
}

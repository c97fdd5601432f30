package semantic

import "regexp"

var columnRefPattern = regexp.MustCompile(`\b(\w+\.\w+)\b`)

// ExtractColumnReferences lists every entity.column token in an expression.
// "SUM(orders.total)" yields ["orders.total"]; "COUNT(*)" yields none.
func ExtractColumnReferences(expression string) []string {
	matches := columnRefPattern.FindAllString(expression, -1)
	if matches == nil {
		return []string{}
	}
	return matches
}

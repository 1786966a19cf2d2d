// Package sqlutil provides SQL utility functions.
package sqlutil

import "strings"

// QuoteIdentifier quotes a SQL identifier (table name, column name, etc.)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QualifiedColumn returns `table`.`column`.
func QualifiedColumn(table, column string) string {
	return QuoteIdentifier(table) + "." + QuoteIdentifier(column)
}

// QuoteColumns quotes each column and joins them with ", ", optionally
// qualifying every column with a table name.
func QuoteColumns(table string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		if table == "" {
			quoted[i] = QuoteIdentifier(col)
			continue
		}
		quoted[i] = QualifiedColumn(table, col)
	}
	return strings.Join(quoted, ", ")
}

// Placeholders returns n comma-separated question-mark placeholders.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapes LIKE metacharacters so the value matches literally.
func EscapeLike(value string) string {
	return likeEscaper.Replace(value)
}

package schema

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxIdentLen is the PostgreSQL identifier length limit in bytes.
const maxIdentLen = 63

// QuoteIdent safely quotes a PostgreSQL identifier, escaping embedded quotes.
func QuoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Qualify returns the quoted schema.table form.
func Qualify(schemaName, table string) string {
	if schemaName == "" {
		return QuoteIdent(table)
	}
	return QuoteIdent(schemaName) + "." + QuoteIdent(table)
}

// SanitizeIdent converts an arbitrary string into a PostgreSQL-friendly
// identifier fragment: lowercase, non-alphanumerics become underscores,
// leading digits get a prefix.
func SanitizeIdent(ident string) string {
	if ident == "" {
		return "col_"
	}

	var sb strings.Builder
	for _, r := range strings.ToLower(ident) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	s := sb.String()

	if unicode.IsDigit(rune(s[0])) {
		s = "col_" + s
	}
	return s
}

// IndexName derives the default index name idx_<table>_<sanitized-columns>,
// stripping spaces, brackets, and quotes from column expressions and
// truncating to the identifier limit.
func IndexName(table string, columns []string) string {
	parts := make([]string, len(columns))
	for i, col := range columns {
		cleaned := strings.NewReplacer(
			" ", "", "(", "", ")", "", "[", "", "]", "", `"`, "", "'", "",
		).Replace(col)
		parts[i] = SanitizeIdent(cleaned)
	}
	name := "idx_" + SanitizeIdent(table) + "_" + strings.Join(parts, "_")
	return TruncateIdent(name)
}

// TruncateIdent enforces the PostgreSQL identifier length limit.
func TruncateIdent(ident string) string {
	return TruncateTo(ident, maxIdentLen)
}

// TruncateTo trims ident to at most max bytes. Sanitized identifiers keep
// Unicode letters, so the cut backs off to a rune boundary rather than
// splitting a multibyte sequence.
func TruncateTo(ident string, max int) string {
	if len(ident) <= max {
		return ident
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(ident[cut]) {
		cut--
	}
	return ident[:cut]
}

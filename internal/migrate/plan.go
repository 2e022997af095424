package migrate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/quantbase/pgstore/internal/catalog"
	"github.com/quantbase/pgstore/internal/ddl"
	"github.com/quantbase/pgstore/internal/schema"
)

var varcharLenRe = regexp.MustCompile(`(?i)^\s*(?:character\s+varying|varchar)\s*\(\s*(\d+)\s*\)\s*$`)

// PendingStatements computes the DDL needed to align the live table with
// its declared definition. Ordering matters: missing columns are added
// first so later steps see a stable column snapshot. Returns nil when the
// table already matches.
func PendingStatements(def *schema.TableSchema, existing []catalog.ColumnInfo) []ddl.Statement {
	byName := make(map[string]catalog.ColumnInfo, len(existing))
	for _, c := range existing {
		byName[strings.ToLower(c.Name)] = c
	}

	qualified := def.Identity().Qualified()
	declared := def.EffectiveColumns()
	var stmts []ddl.Statement

	for _, col := range declared {
		if _, ok := byName[strings.ToLower(col.Name)]; ok {
			continue
		}
		colDef := schema.QuoteIdent(col.Name) + " " + col.Type
		if col.Constraints != "" {
			colDef += " " + col.Constraints
		}
		stmts = append(stmts, ddl.Statement{
			Tag: "add_column:" + col.Name,
			SQL: fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s", qualified, colDef),
		})
	}

	for _, col := range declared {
		live, ok := byName[strings.ToLower(col.Name)]
		if !ok {
			continue
		}

		if wantsTimestamp(col.Type) && needsTimestampNormalize(live) {
			stmts = append(stmts, ddl.Statement{
				Tag: "normalize_timestamp:" + col.Name,
				SQL: fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE TIMESTAMP USING (%s)",
					qualified, schema.QuoteIdent(col.Name), timestampNormalizeExpr(col.Name)),
			})
			continue
		}

		if want, ok := declaredVarcharLen(col.Type); ok && needsWiden(live, want) {
			stmts = append(stmts, ddl.Statement{
				Tag: fmt.Sprintf("widen_varchar:%s:%d", col.Name, want),
				SQL: fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE VARCHAR(%d)",
					qualified, schema.QuoteIdent(col.Name), want),
			})
		}
	}

	return stmts
}

// wantsTimestamp reports whether the declared type is a plain timestamp.
func wantsTimestamp(declaredType string) bool {
	t := strings.ToLower(strings.TrimSpace(declaredType))
	return t == "timestamp" || strings.HasPrefix(t, "timestamp(") ||
		t == "timestamp without time zone"
}

// needsTimestampNormalize reports whether the stored column holds DATE or
// text-ish values that should become TIMESTAMP.
func needsTimestampNormalize(live catalog.ColumnInfo) bool {
	switch live.DataType {
	case "date", "text", "character varying", "character":
		return true
	}
	return false
}

// timestampNormalizeExpr builds the defensive CASE used in the USING
// clause. Accepted forms: YYYYMMDD, YYYY-MM-DD, and
// YYYY-MM-DD[ T]HH:MM:SS[.ffffff]; anything else becomes NULL instead of
// failing the migration.
func timestampNormalizeExpr(column string) string {
	c := schema.QuoteIdent(column) + "::text"
	return fmt.Sprintf(`CASE `+
		`WHEN %s ~ '^\d{8}$' THEN to_timestamp(%s, 'YYYYMMDD')::timestamp `+
		`WHEN %s ~ '^\d{4}-\d{2}-\d{2}$' THEN %s::timestamp `+
		`WHEN %s ~ '^\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}(\.\d{1,6})?$' THEN replace(%s, 'T', ' ')::timestamp `+
		`ELSE NULL END`, c, c, c, c, c, c)
}

// declaredVarcharLen extracts n from a declared VARCHAR(n) type.
func declaredVarcharLen(declaredType string) (int, bool) {
	m := varcharLenRe.FindStringSubmatch(declaredType)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// needsWiden reports whether a stored varchar column is narrower than
// declared. Only `character varying` is ever widened: text columns are
// unbounded already and narrowing is never performed.
func needsWiden(live catalog.ColumnInfo, want int) bool {
	if live.DataType != "character varying" {
		return false
	}
	if live.CharMaxLength == nil {
		return false
	}
	return want > *live.CharMaxLength
}

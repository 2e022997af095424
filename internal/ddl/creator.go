// Package ddl turns declarative table definitions into idempotent DDL and
// executes it transactionally.
package ddl

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/quantbase/pgstore/internal/logging"
	"github.com/quantbase/pgstore/internal/pool"
	"github.com/quantbase/pgstore/internal/schema"
)

// Statement is one tagged DDL statement. Tags name the action for result
// reporting and journaling.
type Statement struct {
	Tag string
	SQL string
}

// StatementError reports a failed DDL statement with its full text.
type StatementError struct {
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("ddl execution failed: %v (statement: %s)", e.Err, e.Statement)
}

func (e *StatementError) Unwrap() error { return e.Err }

// Creator ensures declared tables exist with their indexes and comments.
type Creator struct {
	db pool.Connector
}

// NewCreator creates a table creator on the given connector.
func NewCreator(db pool.Connector) *Creator {
	return &Creator{db: db}
}

// EnsureTable creates the declared table, comments, and indexes. All
// statements run inside one transaction: the table appears fully formed or
// not at all. Every statement is IF NOT EXISTS, so repeated calls are
// no-ops.
func (c *Creator) EnsureTable(ctx context.Context, def *schema.TableSchema) error {
	stmts, err := BuildStatements(def)
	if err != nil {
		return err
	}

	return c.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for _, st := range stmts {
			logging.Debug("ensure %s: %s", def.Identity(), st.Tag)
			if _, err := tx.Exec(ctx, st.SQL); err != nil {
				logging.Error("ddl failed on %s [%s]: %v\n%s", def.Identity(), st.Tag, err, st.SQL)
				return &StatementError{Statement: st.SQL, Err: err}
			}
		}
		return nil
	})
}

// BuildStatements computes the ordered DDL for a table definition without
// touching the database.
func BuildStatements(def *schema.TableSchema) ([]Statement, error) {
	if def == nil || len(def.Columns) == 0 {
		return nil, schema.ErrNoDefinition
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	var stmts []Statement

	if def.Schema != "" {
		stmts = append(stmts, Statement{
			Tag: "create_schema",
			SQL: fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema.QuoteIdent(def.Schema)),
		})
	}

	cols := def.EffectiveColumns()
	stmts = append(stmts, Statement{Tag: "create_table", SQL: createTableSQL(def, cols)})

	for _, col := range cols {
		if col.Comment == "" {
			continue
		}
		stmts = append(stmts, Statement{
			Tag: "comment:" + col.Name,
			SQL: fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s",
				def.Identity().Qualified(), schema.QuoteIdent(col.Name), pq.QuoteLiteral(col.Comment)),
		})
	}

	// The date column gets its own index unless it is already part of the
	// primary key.
	if def.DateColumn != "" && !def.IsPrimaryKey(def.DateColumn) {
		stmts = append(stmts, indexStatement(def, schema.IndexSpec{Columns: []string{def.DateColumn}}))
	}

	for _, idx := range def.Indexes {
		stmts = append(stmts, indexStatement(def, idx))
	}

	return stmts, nil
}

func createTableSQL(def *schema.TableSchema, cols []schema.ColumnSpec) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n", def.Identity().Qualified()))

	for i, col := range cols {
		sb.WriteString("    ")
		sb.WriteString(schema.QuoteIdent(col.Name))
		sb.WriteString(" ")
		sb.WriteString(col.Type)
		if col.Constraints != "" {
			sb.WriteString(" ")
			sb.WriteString(col.Constraints)
		}
		if i < len(cols)-1 || len(def.PrimaryKey) > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}

	if len(def.PrimaryKey) > 0 {
		quoted := make([]string, len(def.PrimaryKey))
		for i, pk := range def.PrimaryKey {
			quoted[i] = schema.QuoteIdent(pk)
		}
		sb.WriteString(fmt.Sprintf("    PRIMARY KEY (%s)\n", strings.Join(quoted, ", ")))
	}

	sb.WriteString(")")
	return sb.String()
}

func indexStatement(def *schema.TableSchema, idx schema.IndexSpec) Statement {
	name := idx.Name
	if name == "" {
		name = schema.IndexName(def.Table, idx.Columns)
	}
	name = schema.TruncateIdent(name)

	quoted := make([]string, len(idx.Columns))
	for i, col := range idx.Columns {
		quoted[i] = schema.QuoteIdent(col)
	}

	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}

	return Statement{
		Tag: "create_index:" + name,
		SQL: fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
			unique, schema.QuoteIdent(name), def.Identity().Qualified(), strings.Join(quoted, ", ")),
	}
}

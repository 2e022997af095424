// Package catalog provides read-only schema introspection. Every lookup
// queries information_schema metadata views directly so the answer is
// consistent across clients; nothing is cached driver-side.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quantbase/pgstore/internal/pool"
	"github.com/quantbase/pgstore/internal/schema"
)

// QueryError reports a failed catalog lookup. Callers decide whether
// "unknown" may degrade to "absent".
type QueryError struct {
	Schema string
	Table  string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("catalog query failed for %s.%s: %v", e.Schema, e.Table, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// ColumnInfo is the catalog metadata for one column, in ordinal order.
type ColumnInfo struct {
	Name              string
	DataType          string // information_schema data_type, e.g. "character varying"
	UDTName           string // pg_type name, e.g. "varchar", "int8"
	Nullable          bool
	Default           *string
	CharMaxLength     *int
	NumericPrecision  *int
	NumericScale      *int
	DatetimePrecision *int
}

// Introspector answers schema questions over a borrowed connection.
type Introspector struct {
	db pool.Connector
}

// New creates an introspector on the given connector.
func New(db pool.Connector) *Introspector {
	return &Introspector{db: db}
}

// TableExists reports whether any relation (table or view) with the given
// identity is visible in the catalog.
func (i *Introspector) TableExists(ctx context.Context, id schema.TableIdentity) (bool, error) {
	var exists bool
	err := i.db.WithConn(ctx, func(ctx context.Context, q pool.Querier) error {
		var err error
		exists, err = TableExistsOn(ctx, q, id)
		return err
	})
	return exists, err
}

// IsPhysicalTable reports whether the identity names a base table rather
// than a view. A missing relation reports false without error.
func (i *Introspector) IsPhysicalTable(ctx context.Context, id schema.TableIdentity) (bool, error) {
	var physical bool
	err := i.db.WithConn(ctx, func(ctx context.Context, q pool.Querier) error {
		var err error
		physical, err = IsPhysicalTableOn(ctx, q, id)
		return err
	})
	return physical, err
}

// Columns returns the ordered column metadata for the identity.
func (i *Introspector) Columns(ctx context.Context, id schema.TableIdentity) ([]ColumnInfo, error) {
	var cols []ColumnInfo
	err := i.db.WithConn(ctx, func(ctx context.Context, q pool.Querier) error {
		var err error
		cols, err = ColumnsOn(ctx, q, id)
		return err
	})
	return cols, err
}

// PhysicalTables lists all base tables in a schema, sorted by name.
func (i *Introspector) PhysicalTables(ctx context.Context, schemaName string) ([]string, error) {
	var tables []string
	err := i.db.WithConn(ctx, func(ctx context.Context, q pool.Querier) error {
		rows, err := q.Query(ctx, `
			SELECT table_name FROM information_schema.tables
			WHERE table_schema = $1 AND table_type = 'BASE TABLE'
			ORDER BY table_name
		`, schemaName)
		if err != nil {
			return &QueryError{Schema: schemaName, Err: err}
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return &QueryError{Schema: schemaName, Err: err}
			}
			tables = append(tables, name)
		}
		if err := rows.Err(); err != nil {
			return &QueryError{Schema: schemaName, Err: err}
		}
		return nil
	})
	return tables, err
}

// LatestDate returns the maximum value of a date column. A missing table
// or a table with no rows degrades to found=false: for this read-only
// lookup "unknown" safely means "absent".
func (i *Introspector) LatestDate(ctx context.Context, id schema.TableIdentity, column string) (latest time.Time, found bool, err error) {
	err = i.db.WithConn(ctx, func(ctx context.Context, q pool.Querier) error {
		var v *time.Time
		row := q.QueryRow(ctx, fmt.Sprintf("SELECT MAX(%s) FROM %s",
			schema.QuoteIdent(column), id.Qualified()))
		if scanErr := row.Scan(&v); scanErr != nil {
			var pgErr *pgconn.PgError
			if errors.As(scanErr, &pgErr) && pgErr.Code == "42P01" {
				return nil // undefined_table: treat as absent
			}
			return &QueryError{Schema: id.Schema, Table: id.Table, Err: scanErr}
		}
		if v != nil {
			latest, found = *v, true
		}
		return nil
	})
	return latest, found, err
}

// TableExistsOn answers TableExists on an already-borrowed connection.
func TableExistsOn(ctx context.Context, q pool.Querier, id schema.TableIdentity) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)
	`, id.Schema, id.Table).Scan(&exists)
	if err != nil {
		return false, &QueryError{Schema: id.Schema, Table: id.Table, Err: err}
	}
	return exists, nil
}

// IsPhysicalTableOn answers IsPhysicalTable on an already-borrowed connection.
func IsPhysicalTableOn(ctx context.Context, q pool.Querier, id schema.TableIdentity) (bool, error) {
	var tableType string
	err := q.QueryRow(ctx, `
		SELECT table_type FROM information_schema.tables
		WHERE table_schema = $1 AND table_name = $2
	`, id.Schema, id.Table).Scan(&tableType)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &QueryError{Schema: id.Schema, Table: id.Table, Err: err}
	}
	return tableType == "BASE TABLE", nil
}

// ColumnsOn answers Columns on an already-borrowed connection.
func ColumnsOn(ctx context.Context, q pool.Querier, id schema.TableIdentity) ([]ColumnInfo, error) {
	rows, err := q.Query(ctx, `
		SELECT column_name, data_type, udt_name,
		       is_nullable = 'YES',
		       column_default,
		       character_maximum_length,
		       numeric_precision, numeric_scale,
		       datetime_precision
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, id.Schema, id.Table)
	if err != nil {
		return nil, &QueryError{Schema: id.Schema, Table: id.Table, Err: err}
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		if err := rows.Scan(&c.Name, &c.DataType, &c.UDTName, &c.Nullable,
			&c.Default, &c.CharMaxLength, &c.NumericPrecision, &c.NumericScale,
			&c.DatetimePrecision); err != nil {
			return nil, &QueryError{Schema: id.Schema, Table: id.Table, Err: err}
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Schema: id.Schema, Table: id.Table, Err: err}
	}
	return cols, nil
}

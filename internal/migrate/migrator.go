// Package migrate applies a narrow, safe set of structural changes to live
// tables: adding missing declared columns, normalizing timestamp columns,
// and widening varchar columns. When views depend on the altered table they
// are dropped in dependency order and recreated from their captured
// definitions inside the same transaction, so a failure never leaves a view
// missing or a table half-migrated.
package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/quantbase/pgstore/internal/catalog"
	"github.com/quantbase/pgstore/internal/ddl"
	"github.com/quantbase/pgstore/internal/logging"
	"github.com/quantbase/pgstore/internal/pool"
	"github.com/quantbase/pgstore/internal/schema"
)

// Status is the outcome class of a migration call.
type Status string

const (
	// StatusNotFound means the base table does not exist.
	StatusNotFound Status = "table_not_found"
	// StatusSkipped means the migration was refused without any DDL.
	StatusSkipped Status = "skipped"
	// StatusUpToDate means no DDL was pending; no transaction was opened.
	StatusUpToDate Status = "up_to_date"
	// StatusMigrated means pending DDL was applied.
	StatusMigrated Status = "migrated"
)

// ReasonDependentMatviews is set when a materialized view appears anywhere
// in the dependency closure. Recreating a matview would silently lose its
// data, so such tables are refused entirely.
const ReasonDependentMatviews = "dependent_materialized_views"

// Result reports what a migration did.
type Result struct {
	Status  Status
	Actions []string
	Reason  string
}

// RelationKind classifies a pg_class relation.
type RelationKind string

const (
	KindTable   RelationKind = "r"
	KindView    RelationKind = "v"
	KindMatView RelationKind = "m"
)

// relation is a transient catalog node, rebuilt fresh on every call so the
// closure can never be stale with respect to concurrent schema changes.
type relation struct {
	OID    int64
	Schema string
	Name   string
	Kind   RelationKind
}

func (r relation) identity() schema.TableIdentity {
	return schema.TableIdentity{Schema: r.Schema, Table: r.Name}
}

// Migrator aligns live tables with their declared definitions.
type Migrator struct {
	db pool.Connector
}

// New creates a migrator on the given connector.
func New(db pool.Connector) *Migrator {
	return &Migrator{db: db}
}

// AlignTable brings the live table in line with def. Supported changes:
// missing-column addition, DATE/TEXT to TIMESTAMP normalization, and
// varchar widening. All discovery and mutation happens on one borrowed
// connection; mutation is all-or-nothing.
func (m *Migrator) AlignTable(ctx context.Context, def *schema.TableSchema) (*Result, error) {
	if def == nil || len(def.Columns) == 0 {
		return nil, schema.ErrNoDefinition
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	var res *Result
	err := m.db.WithConn(ctx, func(ctx context.Context, q pool.Querier) error {
		var err error
		res, err = m.alignOn(ctx, q, def)
		return err
	})
	return res, err
}

func (m *Migrator) alignOn(ctx context.Context, q pool.Querier, def *schema.TableSchema) (*Result, error) {
	base, found, err := resolveRelation(ctx, q, def.Identity())
	if err != nil {
		return nil, err
	}
	if !found {
		return &Result{Status: StatusNotFound}, nil
	}

	cl, err := buildClosure(ctx, q, base)
	if err != nil {
		return nil, err
	}

	if mv := cl.firstMatView(); mv != nil {
		logging.Warn("refusing to migrate %s: materialized view %s depends on it",
			def.Identity(), mv.identity())
		return &Result{Status: StatusSkipped, Reason: ReasonDependentMatviews}, nil
	}

	existing, err := catalog.ColumnsOn(ctx, q, def.Identity())
	if err != nil {
		return nil, err
	}
	pending := PendingStatements(def, existing)
	if len(pending) == 0 {
		return &Result{Status: StatusUpToDate}, nil
	}

	drops := cl.dropOrder()
	defs := make(map[int64]string, len(drops))
	for _, v := range drops {
		viewDef, err := captureViewDef(ctx, q, v.OID)
		if err != nil {
			return nil, err
		}
		defs[v.OID] = viewDef
	}

	actions, err := m.execute(ctx, q, drops, pending, defs)
	if err != nil {
		return nil, err
	}
	logging.Info("migrated %s: %d action(s), %d dependent view(s) recreated",
		def.Identity(), len(actions), len(drops))
	return &Result{Status: StatusMigrated, Actions: actions}, nil
}

// execute runs drops, pending DDL, and recreates inside one transaction.
func (m *Migrator) execute(ctx context.Context, q pool.Querier, drops []relation, pending []ddl.Statement, defs map[int64]string) ([]string, error) {
	tx, err := q.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var actions []string
	exec := func(tag, sql string) error {
		logging.Debug("migrate action %s: %s", tag, sql)
		if _, err := tx.Exec(ctx, sql); err != nil {
			logging.Error("migration failed at %s: %v\n%s", tag, err, sql)
			return &ddl.StatementError{Statement: sql, Err: err}
		}
		actions = append(actions, tag)
		return nil
	}

	for _, v := range drops {
		stmt := fmt.Sprintf("DROP VIEW %s", v.identity().Qualified())
		if err := exec("drop_view:"+v.identity().String(), stmt); err != nil {
			return nil, err
		}
	}

	for _, st := range pending {
		if err := exec(st.Tag, st.SQL); err != nil {
			return nil, err
		}
	}

	// Reverse drop order: every view sees its dependencies already back.
	for i := len(drops) - 1; i >= 0; i-- {
		v := drops[i]
		stmt := fmt.Sprintf("CREATE VIEW %s AS %s", v.identity().Qualified(), defs[v.OID])
		if err := exec("recreate_view:"+v.identity().String(), stmt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing migration: %w", err)
	}
	return actions, nil
}

// resolveRelation looks up the base relation's oid and kind.
func resolveRelation(ctx context.Context, q pool.Querier, id schema.TableIdentity) (relation, bool, error) {
	r := relation{Schema: id.Schema, Name: id.Table}
	var kind string
	err := q.QueryRow(ctx, `
		SELECT c.oid::int8, c.relkind::text
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
	`, id.Schema, id.Table).Scan(&r.OID, &kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return relation{}, false, nil
	}
	if err != nil {
		return relation{}, false, &catalog.QueryError{Schema: id.Schema, Table: id.Table, Err: err}
	}
	r.Kind = RelationKind(kind)
	return r, true, nil
}

// captureViewDef snapshots a view's defining query before it is dropped.
func captureViewDef(ctx context.Context, q pool.Querier, oid int64) (string, error) {
	var def string
	err := q.QueryRow(ctx, "SELECT pg_get_viewdef($1::oid, true)", oid).Scan(&def)
	if err != nil {
		return "", fmt.Errorf("capturing view definition for oid %d: %w", oid, err)
	}
	return def, nil
}

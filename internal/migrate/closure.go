package migrate

import (
	"context"
	"sort"

	"github.com/quantbase/pgstore/internal/catalog"
	"github.com/quantbase/pgstore/internal/pool"
)

// dependentsQuery finds every relation whose view-defining rewrite rule
// references the given relation. This is the edge set of the dependency
// graph: pg_depend entries from pg_rewrite rules back to pg_class.
const dependentsQuery = `
	SELECT DISTINCT c.oid::int8, n.nspname, c.relname, c.relkind::text
	FROM pg_rewrite r
	JOIN pg_depend d ON d.classid = 'pg_rewrite'::regclass AND d.objid = r.oid
	JOIN pg_class c ON c.oid = r.ev_class
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE d.refclassid = 'pg_class'::regclass
	  AND d.refobjid = $1
	  AND c.oid <> $1
	ORDER BY c.oid
`

// closure is the transitive set of relations depending on a base relation.
// It is rebuilt from the live catalog on every migration and never cached.
type closure struct {
	base     relation
	nodes    map[int64]relation
	children map[int64][]int64
}

// buildClosure BFS-walks the rewrite-rule dependency graph from base,
// recording every transitively dependent relation.
func buildClosure(ctx context.Context, q pool.Querier, base relation) (*closure, error) {
	cl := &closure{
		base:     base,
		nodes:    map[int64]relation{base.OID: base},
		children: make(map[int64][]int64),
	}

	queue := []int64{base.OID}
	for len(queue) > 0 {
		oid := queue[0]
		queue = queue[1:]

		deps, err := queryDependents(ctx, q, cl.nodes[oid], oid)
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
			cl.children[oid] = append(cl.children[oid], dep.OID)
			if _, seen := cl.nodes[dep.OID]; seen {
				continue
			}
			cl.nodes[dep.OID] = dep
			queue = append(queue, dep.OID)
		}
	}
	return cl, nil
}

func queryDependents(ctx context.Context, q pool.Querier, parent relation, oid int64) ([]relation, error) {
	rows, err := q.Query(ctx, dependentsQuery, oid)
	if err != nil {
		return nil, &catalog.QueryError{Schema: parent.Schema, Table: parent.Name, Err: err}
	}
	defer rows.Close()

	var deps []relation
	for rows.Next() {
		var r relation
		var kind string
		if err := rows.Scan(&r.OID, &r.Schema, &r.Name, &kind); err != nil {
			return nil, &catalog.QueryError{Schema: parent.Schema, Table: parent.Name, Err: err}
		}
		r.Kind = RelationKind(kind)
		deps = append(deps, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &catalog.QueryError{Schema: parent.Schema, Table: parent.Name, Err: err}
	}
	return deps, nil
}

// firstMatView returns a materialized view from the closure, or nil.
// Deterministic order so callers report the same relation every time.
func (cl *closure) firstMatView() *relation {
	oids := make([]int64, 0, len(cl.nodes))
	for oid := range cl.nodes {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i] < oids[j] })
	for _, oid := range oids {
		if r := cl.nodes[oid]; r.Kind == KindMatView {
			return &r
		}
	}
	return nil
}

// dropOrder computes the view drop order by post-order depth-first
// traversal from the base: children are visited before parents, so every
// view is dropped before anything it depends on. The recreate order is the
// exact reverse. Only plain views are collected; the base itself is never
// dropped.
func (cl *closure) dropOrder() []relation {
	var order []relation
	visited := map[int64]bool{}

	var visit func(oid int64)
	visit = func(oid int64) {
		if visited[oid] {
			return
		}
		visited[oid] = true
		for _, child := range cl.children[oid] {
			visit(child)
		}
		if r := cl.nodes[oid]; r.Kind == KindView && oid != cl.base.OID {
			order = append(order, r)
		}
	}
	visit(cl.base.OID)
	return order
}

// Package bulk moves tabular batches into storage at COPY throughput with
// conflict-resolving upsert semantics. Rows stream through a temp staging
// relation shaped like the target and are moved in a single statement, all
// inside one transaction.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quantbase/pgstore/internal/catalog"
	"github.com/quantbase/pgstore/internal/logging"
	"github.com/quantbase/pgstore/internal/pool"
	"github.com/quantbase/pgstore/internal/schema"
)

// Batch is an ordered set of named rows. Every row has one value per
// column, positionally.
type Batch struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// BatchFromMaps builds a Batch from map rows. Keys missing from a row
// become NULL.
func BatchFromMaps(columns []string, rows []map[string]any) *Batch {
	b := &Batch{Columns: columns, Rows: make([][]any, len(rows))}
	for i, m := range rows {
		row := make([]any, len(columns))
		for j, col := range columns {
			row[j] = m[col] // absent keys yield nil
		}
		b.Rows[i] = row
	}
	return b
}

// validate rejects batches that are not rectangular. Ragged rows must never
// reach COPY: a short row would ship stale buffer values and a long row
// would overrun the column list.
func (b *Batch) validate() error {
	if len(b.Columns) == 0 {
		return &schema.ValidationError{Msg: "batch has rows but no columns"}
	}
	for i, row := range b.Rows {
		if len(row) != len(b.Columns) {
			return &schema.ValidationError{Msg: fmt.Sprintf(
				"row %d has %d value(s), batch declares %d column(s)", i, len(row), len(b.Columns))}
		}
	}
	return nil
}

// Options controls how a batch is moved into the target.
type Options struct {
	// ConflictColumns, when set, switch the move to ON CONFLICT upsert.
	ConflictColumns []string
	// UpdateColumns limits which columns an upsert overwrites.
	// Empty means every non-key column.
	UpdateColumns []string
	// TimestampColumn, when set, is kept fresh: injected as now() for
	// missing batch values, and on conflict advanced only when some other
	// updated column actually changed.
	TimestampColumn string
}

// TargetMissingError reports a bulk load against a nonexistent table,
// surfaced distinctly from generic catalog errors.
type TargetMissingError struct {
	Table string
	Err   error
}

func (e *TargetMissingError) Error() string {
	return fmt.Sprintf("bulk load target %s does not exist", e.Table)
}

func (e *TargetMissingError) Unwrap() error { return e.Err }

// ColumnMismatchError reports batch columns absent from the target table.
type ColumnMismatchError struct {
	Table        string
	BatchColumns []string
	TableColumns []string
}

func (e *ColumnMismatchError) Error() string {
	return fmt.Sprintf("column mismatch on %s: batch has [%s], table has [%s]",
		e.Table, strings.Join(e.BatchColumns, ", "), strings.Join(e.TableColumns, ", "))
}

// Engine performs bulk loads and upserts.
type Engine struct {
	db pool.Connector
}

// NewEngine creates a bulk engine on the given connector.
func NewEngine(db pool.Connector) *Engine {
	return &Engine{db: db}
}

// Load moves the batch into the target and returns the number of rows
// moved. Without conflict columns this is a plain append; with them it is
// an upsert. An empty batch returns 0 without touching the database.
func (e *Engine) Load(ctx context.Context, id schema.TableIdentity, batch *Batch, opts Options) (int64, error) {
	if batch.Len() == 0 {
		return 0, nil
	}
	if err := batch.validate(); err != nil {
		return 0, err
	}

	var moved int64
	err := e.db.WithConn(ctx, func(ctx context.Context, q pool.Querier) error {
		var err error
		moved, err = e.loadOn(ctx, q, id, batch, opts)
		return err
	})
	return moved, err
}

// Upsert is Load with mandatory, non-empty conflict columns.
func (e *Engine) Upsert(ctx context.Context, id schema.TableIdentity, batch *Batch, opts Options) (int64, error) {
	if len(opts.ConflictColumns) == 0 {
		return 0, &schema.ValidationError{Msg: fmt.Sprintf("upsert into %s requires conflict columns", id)}
	}
	return e.Load(ctx, id, batch, opts)
}

// LoadChunked splits the batch and loads each chunk in its own
// transaction. Cancellation is checked only between chunks: an in-flight
// COPY or transaction is never interrupted, so each chunk either commits
// whole or rolls back whole.
func (e *Engine) LoadChunked(ctx context.Context, id schema.TableIdentity, batch *Batch, opts Options, chunkSize int) (int64, error) {
	if batch.Len() == 0 {
		return 0, nil
	}
	if err := batch.validate(); err != nil {
		return 0, err
	}
	if chunkSize <= 0 {
		return 0, &schema.ValidationError{Msg: fmt.Sprintf("chunk size %d must be positive", chunkSize)}
	}

	var total int64
	for start := 0; start < len(batch.Rows); start += chunkSize {
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("cancelled after %d row(s) into %s: %w", total, id, err)
		}
		end := start + chunkSize
		if end > len(batch.Rows) {
			end = len(batch.Rows)
		}
		chunk := &Batch{Columns: batch.Columns, Rows: batch.Rows[start:end]}
		n, err := e.Load(ctx, id, chunk, opts)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (e *Engine) loadOn(ctx context.Context, q pool.Querier, id schema.TableIdentity, batch *Batch, opts Options) (int64, error) {
	tableCols, err := catalog.ColumnsOn(ctx, q, id)
	if err != nil {
		return 0, err
	}
	if len(tableCols) == 0 {
		return 0, &TargetMissingError{Table: id.String()}
	}

	kindByCol := make(map[string]valueKind, len(tableCols))
	tableColNames := make([]string, len(tableCols))
	for i, c := range tableCols {
		tableColNames[i] = c.Name
		kindByCol[strings.ToLower(c.Name)] = classifyColumn(c)
	}

	// Inject the timestamp column when requested but absent from the batch.
	copyCols := batch.Columns
	injectTS := opts.TimestampColumn != "" && !containsFold(batch.Columns, opts.TimestampColumn)
	if injectTS {
		copyCols = append(append([]string{}, batch.Columns...), opts.TimestampColumn)
	}

	var missing []string
	for _, col := range copyCols {
		if _, ok := kindByCol[strings.ToLower(col)]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return 0, &ColumnMismatchError{Table: id.String(), BatchColumns: copyCols, TableColumns: tableColNames}
	}

	kinds := make([]valueKind, len(copyCols))
	for i, col := range copyCols {
		kinds[i] = kindByCol[strings.ToLower(col)]
	}

	staging := stagingName(id.Table)
	moveSQL := buildMoveSQL(id, staging, copyCols, opts)

	tx, err := q.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Session-scoped, dropped with the transaction. Unique name per call,
	// so concurrent loads against the same target never collide.
	createSQL := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		schema.QuoteIdent(staging), id.Qualified())
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return 0, &TargetMissingError{Table: id.String(), Err: err}
		}
		return 0, fmt.Errorf("creating staging table %s: %w", staging, err)
	}

	src := newCopySource(batch, kinds, injectTS)
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, copyCols, src)
	if err != nil {
		return 0, fmt.Errorf("copying %d row(s) into staging table %s: %w", batch.Len(), staging, err)
	}

	tag, err := tx.Exec(ctx, moveSQL)
	if err != nil {
		return 0, fmt.Errorf("moving staging table %s into %s: %w", staging, id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing bulk load via staging table %s: %w", staging, err)
	}

	logging.Debug("bulk load %s: copied=%d moved=%d conflict_keys=%v",
		id, copied, ParseRowCount(tag.String()), opts.ConflictColumns)
	return copied, nil
}

// classifyColumn decides how incoming values are coerced for a column.
func classifyColumn(c catalog.ColumnInfo) valueKind {
	switch {
	case c.DataType == "date":
		return kindDate
	case strings.HasPrefix(c.DataType, "timestamp"):
		return kindTimestamp
	default:
		return kindOther
	}
}

// stagingName builds a unique, length-safe temp relation name for one call.
func stagingName(table string) string {
	suffix := uuid.New().String()[:8]
	name := schema.TruncateTo("_stg_"+schema.SanitizeIdent(table), 63-len(suffix)-1)
	return name + "_" + suffix
}

// buildMoveSQL builds the staging-to-target move. No conflict columns
// yields a plain INSERT ... SELECT. With conflict columns, every update
// column sets col = EXCLUDED.col, except the timestamp column, which only
// advances when some other updated column actually changed. An empty
// update set degrades to DO NOTHING.
func buildMoveSQL(id schema.TableIdentity, staging string, cols []string, opts Options) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = schema.QuoteIdent(c)
	}
	colList := strings.Join(quoted, ", ")

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) SELECT %s FROM %s",
		id.Qualified(), colList, colList, schema.QuoteIdent(staging))

	if len(opts.ConflictColumns) == 0 {
		return sb.String()
	}

	keys := make(map[string]bool, len(opts.ConflictColumns))
	quotedKeys := make([]string, len(opts.ConflictColumns))
	for i, k := range opts.ConflictColumns {
		keys[strings.ToLower(k)] = true
		quotedKeys[i] = schema.QuoteIdent(k)
	}
	fmt.Fprintf(&sb, " ON CONFLICT (%s)", strings.Join(quotedKeys, ", "))

	updateCols := opts.UpdateColumns
	if len(updateCols) == 0 {
		updateCols = cols
	}

	tsCol := opts.TimestampColumn
	var dataCols []string // updated columns that drive change detection
	for _, c := range updateCols {
		if keys[strings.ToLower(c)] || strings.EqualFold(c, tsCol) {
			continue
		}
		dataCols = append(dataCols, c)
	}

	if len(dataCols) == 0 {
		sb.WriteString(" DO NOTHING")
		return sb.String()
	}

	tbl := schema.QuoteIdent(id.Table)
	setClauses := make([]string, 0, len(dataCols)+1)
	changed := make([]string, 0, len(dataCols))
	for _, c := range dataCols {
		qc := schema.QuoteIdent(c)
		setClauses = append(setClauses, fmt.Sprintf("%s = EXCLUDED.%s", qc, qc))
		changed = append(changed, fmt.Sprintf("%s.%s IS DISTINCT FROM EXCLUDED.%s", tbl, qc, qc))
	}

	if tsCol != "" && !keys[strings.ToLower(tsCol)] && containsFold(cols, tsCol) {
		qts := schema.QuoteIdent(tsCol)
		setClauses = append(setClauses, fmt.Sprintf(
			"%s = CASE WHEN %s THEN now() ELSE %s.%s END",
			qts, strings.Join(changed, " OR "), tbl, qts))
	}

	fmt.Fprintf(&sb, " DO UPDATE SET %s", strings.Join(setClauses, ", "))
	return sb.String()
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// now is swappable for tests.
var now = time.Now

// Package pgstore is the relational-storage layer of the data platform:
// declarative table creation, dependency-safe schema migration, and
// COPY-throughput bulk loading with upsert semantics against PostgreSQL.
//
// A Store composes the five storage components over one shared connection
// source. Orchestration code constructs a Store per target database and
// passes it by reference; teardown is Close.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/quantbase/pgstore/internal/bulk"
	"github.com/quantbase/pgstore/internal/catalog"
	"github.com/quantbase/pgstore/internal/config"
	"github.com/quantbase/pgstore/internal/ddl"
	"github.com/quantbase/pgstore/internal/journal"
	"github.com/quantbase/pgstore/internal/logging"
	"github.com/quantbase/pgstore/internal/migrate"
	"github.com/quantbase/pgstore/internal/pool"
	"github.com/quantbase/pgstore/internal/schema"
)

// Re-exported data types. The canonical definitions live in the internal
// packages; these aliases are the public surface.
type (
	// Config is the full storage-layer configuration.
	Config = config.Config
	// DatabaseConfig holds PostgreSQL connection settings.
	DatabaseConfig = config.DatabaseConfig

	// TableIdentity is a resolved (schema, table) pair.
	TableIdentity = schema.TableIdentity
	// Target is the capability interface for task-like objects.
	Target = schema.Target
	// TableSchema is a declarative table definition.
	TableSchema = schema.TableSchema
	// ColumnSpec declares a single column.
	ColumnSpec = schema.ColumnSpec
	// IndexSpec declares a secondary index.
	IndexSpec = schema.IndexSpec

	// ColumnInfo is catalog metadata for one live column.
	ColumnInfo = catalog.ColumnInfo

	// Batch is an ordered set of named rows for bulk loading.
	Batch = bulk.Batch
	// LoadOptions controls conflict resolution and timestamp handling.
	LoadOptions = bulk.Options

	// MigrationResult reports what a migration did.
	MigrationResult = migrate.Result
)

// BatchFromMaps builds a Batch from map rows.
func BatchFromMaps(columns []string, rows []map[string]any) *Batch {
	return bulk.BatchFromMaps(columns, rows)
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Store is the storage-layer facade: one owned instance of each component
// sharing one connection source.
type Store struct {
	cfg      *config.Config
	db       pool.Connector
	catalog  *catalog.Introspector
	creator  *ddl.Creator
	migrator *migrate.Migrator
	bulk     *bulk.Engine
	journal  *journal.Journal
}

// Open connects to the configured database and assembles the storage
// components. The caller owns the returned Store and must Close it.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if level, err := logging.ParseLevel(cfg.LogLevel); err == nil {
		logging.SetLevel(level)
	}

	db, err := pool.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Connect(ctx); err != nil {
		return nil, err
	}

	s := &Store{
		cfg:      cfg,
		db:       db,
		catalog:  catalog.New(db),
		creator:  ddl.NewCreator(db),
		migrator: migrate.New(db),
		bulk:     bulk.NewEngine(db),
	}

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			// The journal is an audit aid; a broken journal must not block
			// data movement.
			logging.Warn("journal disabled: %v", err)
		} else {
			s.journal = j
		}
	}
	return s, nil
}

// Close releases the journal and every database connection. Terminal.
func (s *Store) Close() error {
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			logging.Warn("closing journal: %v", err)
		}
	}
	return s.db.Close()
}

// ResolveTarget turns a "schema.table" string, a TableIdentity, or a
// Target-implementing object into a resolved identity. Unqualified names
// use the configured default schema.
func (s *Store) ResolveTarget(v any) (TableIdentity, error) {
	switch t := v.(type) {
	case schema.TableIdentity:
		return t, nil
	case string:
		return schema.ParseIdentity(t, s.cfg.Database.Schema)
	case schema.Target:
		return t.TableIdentity(), nil
	default:
		return TableIdentity{}, &schema.ValidationError{Msg: fmt.Sprintf("cannot resolve table identity from %T", v)}
	}
}

// EnsureTable creates the declared table, comments, and indexes,
// idempotently and transactionally.
func (s *Store) EnsureTable(ctx context.Context, def *TableSchema) error {
	return s.creator.EnsureTable(ctx, def)
}

// AlignTable migrates the live table toward its declared definition,
// recreating dependent views as needed.
func (s *Store) AlignTable(ctx context.Context, def *TableSchema) (*MigrationResult, error) {
	res, err := s.migrator.AlignTable(ctx, def)
	if err == nil && s.journal != nil {
		if jerr := s.journal.RecordMigration(ctx, def.Identity().String(), string(res.Status), res.Reason, res.Actions); jerr != nil {
			logging.Warn("journaling migration of %s: %v", def.Identity(), jerr)
		}
	}
	return res, err
}

// Insert appends the batch to the target and returns the rows moved.
func (s *Store) Insert(ctx context.Context, target any, batch *Batch, opts LoadOptions) (int64, error) {
	id, err := s.ResolveTarget(target)
	if err != nil {
		return 0, err
	}
	n, err := s.bulk.Load(ctx, id, batch, opts)
	s.recordLoad(ctx, id, n, opts, err)
	return n, err
}

// Upsert moves the batch with mandatory conflict resolution.
func (s *Store) Upsert(ctx context.Context, target any, batch *Batch, opts LoadOptions) (int64, error) {
	id, err := s.ResolveTarget(target)
	if err != nil {
		return 0, err
	}
	n, err := s.bulk.Upsert(ctx, id, batch, opts)
	s.recordLoad(ctx, id, n, opts, err)
	return n, err
}

// InsertChunked loads the batch in chunks, honoring cancellation between
// chunks only.
func (s *Store) InsertChunked(ctx context.Context, target any, batch *Batch, opts LoadOptions, chunkSize int) (int64, error) {
	id, err := s.ResolveTarget(target)
	if err != nil {
		return 0, err
	}
	n, err := s.bulk.LoadChunked(ctx, id, batch, opts, chunkSize)
	s.recordLoad(ctx, id, n, opts, err)
	return n, err
}

func (s *Store) recordLoad(ctx context.Context, id TableIdentity, rows int64, opts LoadOptions, loadErr error) {
	if s.journal == nil || loadErr != nil || rows == 0 {
		return
	}
	if err := s.journal.RecordLoad(ctx, id.String(), rows, opts.ConflictColumns); err != nil {
		logging.Warn("journaling load into %s: %v", id, err)
	}
}

// TableExists reports whether the target relation exists.
func (s *Store) TableExists(ctx context.Context, target any) (bool, error) {
	id, err := s.ResolveTarget(target)
	if err != nil {
		return false, err
	}
	return s.catalog.TableExists(ctx, id)
}

// IsPhysicalTable reports whether the target is a base table.
func (s *Store) IsPhysicalTable(ctx context.Context, target any) (bool, error) {
	id, err := s.ResolveTarget(target)
	if err != nil {
		return false, err
	}
	return s.catalog.IsPhysicalTable(ctx, id)
}

// Columns returns ordered catalog metadata for the target's columns.
func (s *Store) Columns(ctx context.Context, target any) ([]ColumnInfo, error) {
	id, err := s.ResolveTarget(target)
	if err != nil {
		return nil, err
	}
	return s.catalog.Columns(ctx, id)
}

// PhysicalTables lists all base tables in a schema.
func (s *Store) PhysicalTables(ctx context.Context, schemaName string) ([]string, error) {
	return s.catalog.PhysicalTables(ctx, schemaName)
}

// LatestDate returns the maximum value of a date column, degrading to
// found=false when the table is missing.
func (s *Store) LatestDate(ctx context.Context, target any, column string) (time.Time, bool, error) {
	id, err := s.ResolveTarget(target)
	if err != nil {
		return time.Time{}, false, err
	}
	return s.catalog.LatestDate(ctx, id, column)
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Stats reports connection usage.
func (s *Store) Stats() pool.Stats {
	return s.db.Stats()
}

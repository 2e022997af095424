// Package pool owns PostgreSQL connection lifecycle. Two connectors share
// one interface: a pgxpool-backed connector for concurrent callers, and a
// dedicated single-connection connector for callers that need their own
// serialized session. A connector is selected at construction and the two
// are never mixed within one instance.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantbase/pgstore/internal/config"
	"github.com/quantbase/pgstore/internal/logging"
)

// ErrNotConnected is returned when a connector is used before Connect.
var ErrNotConnected = errors.New("connector is not connected")

// ErrClosed is returned after Close. A closed connector is terminal;
// callers needing a connection again must construct a fresh one.
var ErrClosed = errors.New("connector is closed")

// Querier is the narrow query capability borrowed by the other storage
// components for the duration of a single call. Pooled connections,
// dedicated connections, and transactions all satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Stats describes connection usage at a point in time.
type Stats struct {
	MaxConns      int32
	TotalConns    int32
	AcquiredConns int32
	IdleConns     int32
}

// Connector hands out scoped database connections. Release is guaranteed
// on every exit path, including panics.
type Connector interface {
	// Connect establishes connectivity. Idempotent while open.
	Connect(ctx context.Context) error
	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
	// WithConn runs fn with a borrowed connection.
	WithConn(ctx context.Context, fn func(ctx context.Context, q Querier) error) error
	// WithTx runs fn inside a transaction, committing on success and
	// rolling back on any error.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
	// Stats reports current connection usage.
	Stats() Stats
	// Close releases all connections. Terminal.
	Close() error
}

// New constructs a connector for the configured mode.
func New(cfg *config.Config) (Connector, error) {
	switch cfg.Pool.Mode {
	case "", "pool":
		return NewPoolConnector(&cfg.Database, &cfg.Pool), nil
	case "dedicated":
		return NewDedicatedConnector(&cfg.Database), nil
	default:
		return nil, fmt.Errorf("unknown pool mode %q", cfg.Pool.Mode)
	}
}

type connState int

const (
	stateUninitialized connState = iota
	stateConnected
	stateClosed
)

// PoolConnector serves concurrent callers from a pgxpool.
type PoolConnector struct {
	mu    sync.Mutex
	state connState
	pool  *pgxpool.Pool
	db    *config.DatabaseConfig
	pc    *config.PoolConfig
}

// NewPoolConnector creates an unconnected pool-mode connector.
func NewPoolConnector(db *config.DatabaseConfig, pc *config.PoolConfig) *PoolConnector {
	return &PoolConnector{db: db, pc: pc}
}

// Connect creates the pool lazily; calling it again while open is a no-op.
func (c *PoolConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateConnected:
		return nil
	case stateClosed:
		return ErrClosed
	}

	poolCfg, err := pgxpool.ParseConfig(c.db.DSN())
	if err != nil {
		return fmt.Errorf("parsing dsn: %w", err)
	}
	poolCfg.MaxConns = int32(c.pc.MaxConns)
	poolCfg.MinConns = int32(c.pc.MinConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("pinging database: %w", err)
	}

	c.pool = pool
	c.state = stateConnected
	logging.Info("connected to %s:%d/%s (pool, max_conns=%d)",
		c.db.Host, c.db.Port, c.db.Database, c.pc.MaxConns)
	return nil
}

func (c *PoolConnector) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	c.mu.Lock()
	state, pool := c.state, c.pool
	c.mu.Unlock()

	switch state {
	case stateUninitialized:
		return nil, ErrNotConnected
	case stateClosed:
		return nil, ErrClosed
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	return conn, nil
}

// Ping verifies pool connectivity.
func (c *PoolConnector) Ping(ctx context.Context) error {
	conn, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return conn.Ping(ctx)
}

// WithConn borrows a pooled connection for the duration of fn.
func (c *PoolConnector) WithConn(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	conn, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return fn(ctx, conn)
}

// WithTx runs fn inside a transaction on a borrowed connection.
func (c *PoolConnector) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	conn, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return runInTx(ctx, conn, fn)
}

// Stats reports pgxpool statistics.
func (c *PoolConnector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateConnected {
		return Stats{}
	}
	s := c.pool.Stat()
	return Stats{
		MaxConns:      s.MaxConns(),
		TotalConns:    s.TotalConns(),
		AcquiredConns: s.AcquiredConns(),
		IdleConns:     s.IdleConns(),
	}
}

// Close shuts the pool down. The connector cannot be reopened.
func (c *PoolConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateConnected {
		c.pool.Close()
		c.pool = nil
	}
	c.state = stateClosed
	return nil
}

// DedicatedConnector serves one caller from a single dedicated connection.
// The mutex only serializes misuse; the intended owner is one goroutine,
// so no lock is contended during normal operation.
type DedicatedConnector struct {
	mu    sync.Mutex
	state connState
	conn  *pgx.Conn
	db    *config.DatabaseConfig
}

// NewDedicatedConnector creates an unconnected dedicated-mode connector.
func NewDedicatedConnector(db *config.DatabaseConfig) *DedicatedConnector {
	return &DedicatedConnector{db: db}
}

// Connect dials the single connection; idempotent while open.
func (c *DedicatedConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateConnected:
		return nil
	case stateClosed:
		return ErrClosed
	}

	conn, err := pgx.Connect(ctx, c.db.DSN())
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	c.conn = conn
	c.state = stateConnected
	logging.Info("connected to %s:%d/%s (dedicated)", c.db.Host, c.db.Port, c.db.Database)
	return nil
}

func (c *DedicatedConnector) checkOpen() error {
	switch c.state {
	case stateUninitialized:
		return ErrNotConnected
	case stateClosed:
		return ErrClosed
	}
	return nil
}

// Ping verifies the dedicated connection is alive.
func (c *DedicatedConnector) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.conn.Ping(ctx)
}

// WithConn runs fn on the dedicated connection, serialized.
func (c *DedicatedConnector) WithConn(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return fn(ctx, c.conn)
}

// WithTx runs fn inside a transaction on the dedicated connection.
func (c *DedicatedConnector) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return runInTx(ctx, c.conn, fn)
}

// Stats reports usage for the single connection.
func (c *DedicatedConnector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateConnected {
		return Stats{}
	}
	return Stats{MaxConns: 1, TotalConns: 1}
}

// Close closes the dedicated connection. Terminal.
func (c *DedicatedConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.state == stateConnected {
		err = c.conn.Close(context.Background())
		c.conn = nil
	}
	c.state = stateClosed
	return err
}

// runInTx is the shared transaction scope: rollback on error or panic,
// commit otherwise.
func runInTx(ctx context.Context, q Querier, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := q.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

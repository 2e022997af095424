package pool

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/quantbase/pgstore/internal/config"
)

func testDB() *config.DatabaseConfig {
	return &config.DatabaseConfig{
		Host: "localhost", Port: 5432, Database: "d", User: "u", SSLMode: "disable",
	}
}

func TestNew_ModeSelection(t *testing.T) {
	cfg := &config.Config{Database: *testDB()}

	cfg.Pool.Mode = "pool"
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New(pool) error = %v", err)
	}
	if _, ok := c.(*PoolConnector); !ok {
		t.Errorf("mode pool yielded %T", c)
	}

	cfg.Pool.Mode = "dedicated"
	c, err = New(cfg)
	if err != nil {
		t.Fatalf("New(dedicated) error = %v", err)
	}
	if _, ok := c.(*DedicatedConnector); !ok {
		t.Errorf("mode dedicated yielded %T", c)
	}

	cfg.Pool.Mode = "bogus"
	if _, err := New(cfg); err == nil {
		t.Error("unknown mode must error")
	}
}

func TestConnector_UseBeforeConnect(t *testing.T) {
	ctx := context.Background()
	for _, c := range []Connector{
		NewPoolConnector(testDB(), &config.PoolConfig{MaxConns: 2, MinConns: 1}),
		NewDedicatedConnector(testDB()),
	} {
		if err := c.Ping(ctx); !errors.Is(err, ErrNotConnected) {
			t.Errorf("%T.Ping before Connect = %v, want ErrNotConnected", c, err)
		}
		err := c.WithConn(ctx, func(ctx context.Context, q Querier) error { return nil })
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("%T.WithConn before Connect = %v, want ErrNotConnected", c, err)
		}
		err = c.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error { return nil })
		if !errors.Is(err, ErrNotConnected) {
			t.Errorf("%T.WithTx before Connect = %v, want ErrNotConnected", c, err)
		}
	}
}

func TestConnector_CloseIsTerminal(t *testing.T) {
	ctx := context.Background()
	for _, c := range []Connector{
		NewPoolConnector(testDB(), &config.PoolConfig{MaxConns: 2, MinConns: 1}),
		NewDedicatedConnector(testDB()),
	} {
		if err := c.Close(); err != nil {
			t.Errorf("%T.Close on unconnected = %v", c, err)
		}
		if err := c.Connect(ctx); !errors.Is(err, ErrClosed) {
			t.Errorf("%T.Connect after Close = %v, want ErrClosed", c, err)
		}
		if err := c.Ping(ctx); !errors.Is(err, ErrClosed) {
			t.Errorf("%T.Ping after Close = %v, want ErrClosed", c, err)
		}
		if err := c.Close(); err != nil {
			t.Errorf("%T.Close twice = %v", c, err)
		}
	}
}

func TestConnector_StatsWhenUnconnected(t *testing.T) {
	for _, c := range []Connector{
		NewPoolConnector(testDB(), &config.PoolConfig{MaxConns: 2, MinConns: 1}),
		NewDedicatedConnector(testDB()),
	} {
		if s := c.Stats(); s != (Stats{}) {
			t.Errorf("%T.Stats unconnected = %+v, want zero", c, s)
		}
	}
}

// Package db opens the ranker's store connections: the PostgreSQL replica and
// primary, and the Neo4j graph.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Pool defaults. A ranking run holds few connections at once.
const (
	DefaultMaxOpenConns    = 10
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 30 * time.Minute
	DefaultConnectTimeout  = 10 * time.Second
	DefaultNeo4jPoolSize   = 50
)

// ErrMissingURL is returned when no connection URL is configured.
var ErrMissingURL = errors.New("db: connection url is required")

// PoolConfig tunes the database/sql connection pool. Zero values use defaults.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

func (p PoolConfig) withDefaults() PoolConfig {
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = DefaultMaxOpenConns
	}
	if p.MaxIdleConns <= 0 {
		p.MaxIdleConns = DefaultMaxIdleConns
	}
	if p.MaxIdleConns > p.MaxOpenConns {
		p.MaxIdleConns = p.MaxOpenConns
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = DefaultConnMaxLifetime
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = DefaultConnectTimeout
	}
	return p
}

// OpenPostgres opens a pooled connection and verifies it with a ping.
func OpenPostgres(ctx context.Context, url string, pool PoolConfig) (*sql.DB, error) {
	if url == "" {
		return nil, ErrMissingURL
	}
	pool = pool.withDefaults()

	conn, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("db: open postgres: %w", err)
	}
	conn.SetMaxOpenConns(pool.MaxOpenConns)
	conn.SetMaxIdleConns(pool.MaxIdleConns)
	conn.SetConnMaxLifetime(pool.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pool.ConnectTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("db: ping postgres: %w", err)
	}
	return conn, nil
}

// Neo4jConfig holds graph connection settings.
type Neo4jConfig struct {
	URI            string
	User           string
	Password       string
	MaxPoolSize    int
	ConnectTimeout time.Duration
}

// OpenNeo4j creates a driver and verifies connectivity. The caller owns the
// driver and must Close it.
func OpenNeo4j(ctx context.Context, cfg Neo4jConfig) (neo4j.DriverWithContext, error) {
	if cfg.URI == "" {
		return nil, ErrMissingURL
	}
	if cfg.User == "" {
		cfg.User = "neo4j"
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = DefaultNeo4jPoolSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	driver, err := newNeo4jDriver(cfg)
	if err != nil {
		return nil, err
	}

	verifyCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(context.Background())
		return nil, fmt.Errorf("db: verify neo4j connectivity: %w", err)
	}
	return driver, nil
}

func newNeo4jDriver(cfg Neo4jConfig) (neo4j.DriverWithContext, error) {
	auth := neo4j.BasicAuth(cfg.User, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPoolSize
		c.SocketConnectTimeout = cfg.ConnectTimeout
	})
	if err != nil {
		return nil, fmt.Errorf("db: init neo4j driver: %w", err)
	}
	return driver, nil
}

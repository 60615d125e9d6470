package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/astrokiran/guiderank/internal/config"
	"github.com/astrokiran/guiderank/internal/db"
	"github.com/astrokiran/guiderank/internal/health"
	"github.com/astrokiran/guiderank/internal/lock"
	"github.com/astrokiran/guiderank/internal/signals"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
)

// errNoPrimary is returned when a writing mode has no primary database.
var errNoPrimary = errors.New("PRIMARY_DATABASE_URL or DATABASE_URL is required to persist rankings")

// deps holds the store connections opened for one process.
type deps struct {
	replica *sql.DB
	primary *sql.DB
	graph   neo4j.DriverWithContext
	redis   *redis.Client
	logger  *slog.Logger
}

// openDeps opens only the connections the configured source and mode need.
// The primary is shared with the replica when both URLs are equal.
func openDeps(ctx context.Context, cfg *config.Config, writes bool, logger *slog.Logger) (*deps, error) {
	d := &deps{logger: logger}

	fail := func(err error) (*deps, error) {
		d.Close()
		return nil, err
	}

	if cfg.UsesPostgres() {
		conn, err := db.OpenPostgres(ctx, cfg.ReplicaDatabaseURL, db.PoolConfig{})
		if err != nil {
			return fail(fmt.Errorf("replica: %w", err))
		}
		d.replica = conn
	}

	if writes {
		switch {
		case cfg.PrimaryDatabaseURL == "":
			return fail(errNoPrimary)
		case d.replica != nil && cfg.PrimaryDatabaseURL == cfg.ReplicaDatabaseURL:
			d.primary = d.replica
		default:
			conn, err := db.OpenPostgres(ctx, cfg.PrimaryDatabaseURL, db.PoolConfig{})
			if err != nil {
				return fail(fmt.Errorf("primary: %w", err))
			}
			d.primary = conn
		}
	}

	if cfg.UsesNeo4j() {
		driver, err := db.OpenNeo4j(ctx, db.Neo4jConfig{
			URI:      cfg.Neo4jURI,
			User:     cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("neo4j: %w", err))
		}
		d.graph = driver
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("redis: %w", err))
		}
		d.redis = redis.NewClient(opts)
	}

	return d, nil
}

// Close closes every open connection.
func (d *deps) Close() {
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			d.logger.Warn("failed to close redis client", "error", err)
		}
	}
	if d.graph != nil {
		if err := d.graph.Close(context.Background()); err != nil {
			d.logger.Warn("failed to close neo4j driver", "error", err)
		}
	}
	if d.primary != nil && d.primary != d.replica {
		if err := d.primary.Close(); err != nil {
			d.logger.Warn("failed to close primary database", "error", err)
		}
	}
	if d.replica != nil {
		if err := d.replica.Close(); err != nil {
			d.logger.Warn("failed to close replica database", "error", err)
		}
	}
}

// locker returns the Redis run lock when Redis is configured, otherwise an
// in-process lock.
func (d *deps) locker(cfg *config.Config) lock.Locker {
	if d.redis != nil {
		return lock.NewRedisLocker(d.redis, lock.DefaultKey, cfg.LockTTL)
	}
	return lock.NewMemoryLocker(cfg.LockTTL)
}

// checkers returns a health checker per open connection.
func (d *deps) checkers() map[string]health.Checker {
	checks := make(map[string]health.Checker)
	if d.replica != nil {
		checks["replica"] = health.NewDBChecker(d.replica)
	}
	if d.primary != nil && d.primary != d.replica {
		checks["primary"] = health.NewDBChecker(d.primary)
	}
	if d.graph != nil {
		checks["neo4j"] = health.NewNeo4jChecker(d.graph)
	}
	if d.redis != nil {
		checks["redis"] = health.NewRedisChecker(d.redis)
	}
	return checks
}

// buildSource selects the signal source named by the configuration.
func buildSource(cfg *config.Config, d *deps, logger *slog.Logger) (signals.Source, error) {
	graph := func() *signals.GraphSource {
		return signals.NewGraphSource(&signals.Neo4jQuerier{Driver: d.graph, Database: cfg.Neo4jDatabase}, logger)
	}

	switch cfg.Source {
	case config.SourcePostgres:
		if d.replica == nil {
			return nil, errors.New("postgres source requires a replica connection")
		}
		return signals.NewPostgresSource(d.replica, logger), nil
	case config.SourceNeo4j:
		if d.graph == nil {
			return nil, errors.New("neo4j source requires a graph connection")
		}
		return graph(), nil
	case config.SourceHybrid:
		if d.replica == nil || d.graph == nil {
			return nil, errors.New("hybrid source requires replica and graph connections")
		}
		return signals.NewHybridSource(graph(), signals.NewPostgresSource(d.replica, logger), logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidSource, cfg.Source)
	}
}

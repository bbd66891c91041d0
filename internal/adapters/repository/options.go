package repository

import "time"

// PostgresOption configures a PostgresStore.
type PostgresOption func(*postgresConfig)

type postgresConfig struct {
	maxConns       int32
	minConns       int32
	connectTimeout time.Duration
	migrate        bool
}

func defaultPostgresConfig() postgresConfig {
	return postgresConfig{
		maxConns:       25,
		minConns:       5,
		connectTimeout: 10 * time.Second,
		migrate:        true,
	}
}

// WithPoolSize bounds the connection pool.
func WithPoolSize(minConns, maxConns int32) PostgresOption {
	return func(c *postgresConfig) {
		if maxConns > 0 {
			c.maxConns = maxConns
		}
		if minConns >= 0 && minConns <= c.maxConns {
			c.minConns = minConns
		}
	}
}

// WithConnectTimeout bounds the initial connect and ping.
func WithConnectTimeout(d time.Duration) PostgresOption {
	return func(c *postgresConfig) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithMigrations toggles applying embedded migrations on open.
func WithMigrations(enabled bool) PostgresOption {
	return func(c *postgresConfig) { c.migrate = enabled }
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"contract-backend/internal/shared/telemetry"
)

const (
	applicationName    = "contract-backend"
	defaultPingTimeout = 5 * time.Second
)

// Options sizes the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// openDB is swapped in tests.
var openDB = func(databaseURL string) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	if _, ok := cfg.RuntimeParams["application_name"]; !ok {
		cfg.RuntimeParams["application_name"] = applicationName
	}
	return stdlib.OpenDB(*cfg), nil
}

// DefaultServerOptions suits the API process.
func DefaultServerOptions() Options {
	return Options{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 2 * time.Minute,
		PingTimeout:     defaultPingTimeout,
	}
}

// DefaultWorkerOptions sizes the pool for poolSize concurrent analyses. Each
// job holds at most one connection at a time, plus headroom for polling.
func DefaultWorkerOptions(poolSize int) Options {
	opts := DefaultServerOptions()
	if poolSize > 0 {
		opts.MaxOpenConns = poolSize + 2
		opts.MaxIdleConns = poolSize
	}
	return opts
}

// DefaultMigrateOptions suits one-shot migration runs.
func DefaultMigrateOptions() Options {
	opts := DefaultServerOptions()
	opts.MaxOpenConns = 1
	opts.MaxIdleConns = 1
	return opts
}

// OptionsFromEnv applies DB_* overrides on top of defaults. Unparseable
// values are logged and ignored.
func OptionsFromEnv(defaults Options) Options {
	opts := defaults
	ints := map[string]*int{
		"DB_MAX_OPEN_CONNS": &opts.MaxOpenConns,
		"DB_MAX_IDLE_CONNS": &opts.MaxIdleConns,
	}
	for key, dst := range ints {
		if v, ok := envValue(key, strconv.Atoi); ok {
			*dst = v
		}
	}
	durations := map[string]*time.Duration{
		"DB_CONN_MAX_LIFETIME":  &opts.ConnMaxLifetime,
		"DB_CONN_MAX_IDLE_TIME": &opts.ConnMaxIdleTime,
		"DB_PING_TIMEOUT":       &opts.PingTimeout,
	}
	for key, dst := range durations {
		if v, ok := envValue(key, time.ParseDuration); ok {
			*dst = v
		}
	}
	return opts
}

// Connect opens a pgx-backed *sql.DB, sizes its pool and pings it. Callers
// share the returned handle for the life of the process.
func Connect(ctx context.Context, databaseURL string, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("DATABASE_URL is empty")
	}

	db, err := openDB(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	applyOptions(db, opts)

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	telemetry.Info("db.connected", map[string]any{
		"max_open":     db.Stats().MaxOpenConnections,
		"max_idle":     opts.MaxIdleConns,
		"ping_timeout": timeout.String(),
	})
	return db, nil
}

func applyOptions(db *sql.DB, opts Options) {
	defaults := DefaultServerOptions()
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = defaults.MaxOpenConns
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = defaults.MaxIdleConns
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}
}

func envValue[T any](key string, parse func(string) (T, error)) (T, bool) {
	var zero T
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return zero, false
	}
	v, err := parse(raw)
	if err != nil {
		telemetry.Warn("db.env_invalid", map[string]any{"key": key, "error": err})
		return zero, false
	}
	return v, true
}

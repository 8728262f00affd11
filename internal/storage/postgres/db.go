package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/makemelearn/api/internal/config"
	"github.com/makemelearn/api/internal/metrics"
)

const applicationName = "makemelearn-api"

var errAcquireTimeout = errors.New("timed out acquiring a database connection")

// Querier is satisfied by *DB and by the transaction handle passed to WithTx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is the pooled access layer. Every call acquires its own connection with a bounded wait.
type DB struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
	logger         zerolog.Logger
}

// Connect opens a pool configured from cfg and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	poolCfg.MinConns = cfg.MinConnections
	if cfg.MaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxIdleTime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if poolCfg.ConnConfig.RuntimeParams == nil {
		poolCfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	db := New(pool, cfg.AcquireTimeout, logger)
	if err := db.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	db.logger.Info().
		Int32("max_conns", poolCfg.MaxConns).
		Dur("idle_timeout", poolCfg.MaxConnIdleTime).
		Msg("database pool ready")
	return db, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, acquireTimeout time.Duration, logger zerolog.Logger) *DB {
	if acquireTimeout <= 0 {
		acquireTimeout = 5 * time.Second
	}
	return &DB{
		pool:           pool,
		acquireTimeout: acquireTimeout,
		logger:         logger.With().Str("component", "database").Logger(),
	}
}

func (db *DB) Pool() *pgxpool.Pool { return db.pool }

func (db *DB) Stat() *pgxpool.Stat { return db.pool.Stat() }

func (db *DB) Close() { db.pool.Close() }

func (db *DB) Ping(ctx context.Context) error {
	conn, err := db.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	if err := conn.Ping(ctx); err != nil {
		return wrapError("ping", err)
	}
	return nil
}

func (db *DB) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, db.acquireTimeout)
	defer cancel()

	conn, err := db.pool.Acquire(actx)
	if err == nil {
		return conn, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = errAcquireTimeout
	}
	db.logger.Error().Err(err).Dur("timeout", db.acquireTimeout).Msg("acquire connection failed")
	return nil, &DatabaseError{Op: "acquire", Err: err}
}

func (db *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	conn, err := db.acquire(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	defer conn.Release()
	return execObserved(ctx, conn, db.logger, sql, args...)
}

func (db *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	conn, err := db.acquire(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := queryObserved(ctx, conn, db.logger, sql, args...)
	if err != nil {
		conn.Release()
		return nil, err
	}
	rows.release = conn.Release
	return rows, nil
}

func (db *DB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	conn, err := db.acquire(ctx)
	if err != nil {
		return errRow{err: err}
	}
	rows, err := queryObserved(ctx, conn, db.logger, sql, args...)
	if err != nil {
		conn.Release()
		return errRow{err: err}
	}
	rows.release = conn.Release
	return &singleRow{rows: rows}
}

// WithTx runs fn inside a transaction on a single connection. fn's error triggers a
// rollback and is returned unchanged; the connection is always released.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	conn, err := db.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return wrapError("begin transaction", err)
	}

	if err := fn(ctx, &txQuerier{tx: tx, logger: db.logger}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			db.logger.Warn().Err(rbErr).Msg("rollback failed")
			return fmt.Errorf("rollback after error %v: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapError("commit transaction", err)
	}
	return nil
}

type txQuerier struct {
	tx     pgx.Tx
	logger zerolog.Logger
}

func (q *txQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return execObserved(ctx, q.tx, q.logger, sql, args...)
}

func (q *txQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	rows, err := queryObserved(ctx, q.tx, q.logger, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (q *txQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	rows, err := queryObserved(ctx, q.tx, q.logger, sql, args...)
	if err != nil {
		return errRow{err: err}
	}
	return &singleRow{rows: rows}
}

type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func execObserved(ctx context.Context, ex executor, logger zerolog.Logger, sql string, args ...any) (pgconn.CommandTag, error) {
	op := operation(sql)
	start := time.Now()
	tag, err := ex.Exec(ctx, sql, args...)
	err = wrapError(op, err)
	metrics.RecordQuery(op, start, err)
	if err != nil {
		logFailure(logger, sql, start, err)
		return tag, err
	}
	logger.Debug().
		Str("operation", op).
		Dur("duration", time.Since(start)).
		Int64("rows", tag.RowsAffected()).
		Msg("query executed")
	return tag, nil
}

func queryObserved(ctx context.Context, ex executor, logger zerolog.Logger, sql string, args ...any) (*observedRows, error) {
	op := operation(sql)
	start := time.Now()
	rows, err := ex.Query(ctx, sql, args...)
	if err != nil {
		err = wrapError(op, err)
		metrics.RecordQuery(op, start, err)
		logFailure(logger, sql, start, err)
		return nil, err
	}
	return &observedRows{Rows: rows, op: op, sql: sql, start: start, logger: logger}, nil
}

// observedRows records metrics and releases its connection when closed.
type observedRows struct {
	pgx.Rows
	op      string
	sql     string
	start   time.Time
	logger  zerolog.Logger
	count   int
	release func()
	closed  bool
}

func (r *observedRows) Next() bool {
	if r.Rows.Next() {
		r.count++
		return true
	}
	return false
}

func (r *observedRows) Err() error {
	return wrapError(r.op, r.Rows.Err())
}

func (r *observedRows) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.Rows.Close()

	err := r.Err()
	metrics.RecordQuery(r.op, r.start, err)
	if err != nil {
		logFailure(r.logger, r.sql, r.start, err)
	} else {
		r.logger.Debug().
			Str("operation", r.op).
			Dur("duration", time.Since(r.start)).
			Int("rows", r.count).
			Msg("query executed")
	}
	if r.release != nil {
		r.release()
	}
}

// singleRow mirrors pgx's QueryRow semantics on top of observedRows.
type singleRow struct {
	rows *observedRows
}

func (r *singleRow) Scan(dest ...any) error {
	defer r.rows.Close()
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return err
		}
		return pgx.ErrNoRows
	}
	if err := r.rows.Scan(dest...); err != nil {
		return wrapError(r.rows.op, err)
	}
	r.rows.Close()
	return r.rows.Err()
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func logFailure(logger zerolog.Logger, sql string, start time.Time, err error) {
	event := logger.Error().
		Err(err).
		Str("sql", compactSQL(sql)).
		Dur("duration", time.Since(start))
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) && dbErr.Code != "" {
		event = event.Str("pg_code", dbErr.Code)
	}
	event.Msg("query failed")
}

func operation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	op := strings.ToLower(fields[0])
	switch op {
	case "select", "insert", "update", "delete", "with":
		return op
	}
	return "other"
}

func compactSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

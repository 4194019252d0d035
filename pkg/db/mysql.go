package db

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"golang.org/x/sync/semaphore"
)

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanFunc reads one row.
type ScanFunc func(Scanner) error

// Result of a mutating statement.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// Executor owns the connection pool to MySQL. Every caller takes a slot from
// a weighted semaphore sized to the pool before touching a connection, so the
// store never sees more concurrent work than it has connections for. With a
// pool size of 1 all access is serialized through a single connection.
type Executor struct {
	db    *sql.DB
	slots *semaphore.Weighted
}

// Open connects to MySQL and verifies the connection.
func Open(ctx context.Context, dsn string, maxConns int) (*Executor, error) {
	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, wrap("open", err)
	}

	e := New(sqlDB, maxConns)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, wrap("ping", err)
	}

	log.Printf("[db] connected to MySQL (pool size %d)", maxConns)
	return e, nil
}

// New wraps an existing handle. maxConns below 1 is treated as 1.
func New(sqlDB *sql.DB, maxConns int) *Executor {
	if maxConns < 1 {
		maxConns = 1
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	return &Executor{
		db:    sqlDB,
		slots: semaphore.NewWeighted(int64(maxConns)),
	}
}

func (e *Executor) Close() error {
	return e.db.Close()
}

func (e *Executor) Ping(ctx context.Context) error {
	release, err := e.acquire(ctx, "ping")
	if err != nil {
		return err
	}
	defer release()
	return wrap("ping", e.db.PingContext(ctx))
}

func (e *Executor) acquire(ctx context.Context, op string) (func(), error) {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return nil, wrap(op, err)
	}
	return func() { e.slots.Release(1) }, nil
}

// Execute runs one mutating statement in its own transaction.
func (e *Executor) Execute(ctx context.Context, query string, args ...any) (Result, error) {
	var res Result
	err := e.InTx(ctx, func(tx *Tx) error {
		var err error
		res, err = tx.Execute(ctx, query, args...)
		return err
	})
	return res, err
}

// ExecuteBatch runs query once per parameter set inside one transaction.
// A single failing item rolls back the whole batch.
func (e *Executor) ExecuteBatch(ctx context.Context, query string, argsList [][]any) (int64, error) {
	var n int64
	err := e.InTx(ctx, func(tx *Tx) error {
		var err error
		n, err = tx.ExecuteBatch(ctx, query, argsList)
		return err
	})
	return n, err
}

// FetchOne scans at most one row. It returns false, nil when no row matched.
func (e *Executor) FetchOne(ctx context.Context, scan ScanFunc, query string, args ...any) (bool, error) {
	release, err := e.acquire(ctx, "fetch one")
	if err != nil {
		return false, err
	}
	defer release()
	return fetchOne(ctx, e.db, scan, query, args...)
}

// FetchAll calls scan for every row, in the order given by the query.
func (e *Executor) FetchAll(ctx context.Context, scan ScanFunc, query string, args ...any) error {
	release, err := e.acquire(ctx, "fetch all")
	if err != nil {
		return err
	}
	defer release()
	return fetchAll(ctx, e.db, scan, query, args...)
}

// InTx runs fn inside a transaction holding one pool slot. If fn returns an
// error the transaction is rolled back once and that error is returned as is;
// otherwise it is committed once. Store failures come back as *StoreError.
func (e *Executor) InTx(ctx context.Context, fn func(*Tx) error) error {
	release, err := e.acquire(ctx, "begin")
	if err != nil {
		return err
	}
	defer release()

	sqlTx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			rollback(sqlTx)
			panic(p)
		}
	}()

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		rollback(sqlTx)
		return err
	}

	return wrap("commit", sqlTx.Commit())
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.Printf("[db] rollback failed: %v", err)
	}
}

// Tx exposes the executor operations bound to an open transaction. It never
// commits or rolls back; InTx owns that.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Execute(ctx context.Context, query string, args ...any) (Result, error) {
	r, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, wrap("execute", err)
	}
	return result(r)
}

func (t *Tx) ExecuteBatch(ctx context.Context, query string, argsList [][]any) (int64, error) {
	if len(argsList) == 0 {
		return 0, nil
	}

	stmt, err := t.tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, wrap("prepare", err)
	}
	defer stmt.Close()

	var total int64
	for _, args := range argsList {
		r, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, wrap("execute batch", err)
		}
		res, err := result(r)
		if err != nil {
			return 0, err
		}
		total += res.RowsAffected
	}
	return total, nil
}

func (t *Tx) FetchOne(ctx context.Context, scan ScanFunc, query string, args ...any) (bool, error) {
	return fetchOne(ctx, t.tx, scan, query, args...)
}

func (t *Tx) FetchAll(ctx context.Context, scan ScanFunc, query string, args ...any) error {
	return fetchAll(ctx, t.tx, scan, query, args...)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func fetchOne(ctx context.Context, q queryer, scan ScanFunc, query string, args ...any) (bool, error) {
	err := scan(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrap("fetch one", err)
	}
	return true, nil
}

func fetchAll(ctx context.Context, q queryer, scan ScanFunc, query string, args ...any) error {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return wrap("fetch all", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return wrap("fetch all", err)
		}
	}
	return wrap("fetch all", rows.Err())
}

func result(r sql.Result) (Result, error) {
	affected, err := r.RowsAffected()
	if err != nil {
		return Result{}, wrap("rows affected", err)
	}
	// MySQL reports 0 for statements that generate no id.
	id, err := r.LastInsertId()
	if err != nil {
		return Result{}, wrap("last insert id", err)
	}
	return Result{LastInsertID: id, RowsAffected: affected}, nil
}

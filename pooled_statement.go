package asyncmy

import (
	"context"
	"sync"
	"sync/atomic"
)

// PooledStatement is a prepared statement whose Client is acquired from a
// Pool lazily, on first Execute, and released back on Dispose. Limit,
// Offset, and Bind calls made before that first Execute are buffered and
// applied once the underlying Statement exists.
type PooledStatement struct {
	pool *Pool
	sql  string

	mu   sync.Mutex
	conn *Connection
	stmt *Statement

	pendingLimit  *int
	pendingOffset *int
	pendingBinds  map[int]any
	pendingAll    []any

	disposed atomic.Bool
}

func newPooledStatement(pool *Pool, sql string) *PooledStatement {
	return &PooledStatement{pool: pool, sql: sql, pendingBinds: make(map[int]any)}
}

// Limit sets the LIMIT clause, buffering it if the Client hasn't been
// acquired yet.
func (ps *PooledStatement) Limit(n int) error {
	if ps.disposed.Load() {
		return ErrDisposed
	}
	if n < 1 {
		return &UsageError{Msg: "limit must be >= 1"}
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.stmt != nil {
		return ps.stmt.Limit(n)
	}
	ps.pendingLimit = &n
	return nil
}

// Offset sets the OFFSET clause, buffering it if the Client hasn't been
// acquired yet.
func (ps *PooledStatement) Offset(k int) error {
	if ps.disposed.Load() {
		return ErrDisposed
	}
	if k < 0 {
		return &UsageError{Msg: "offset must be >= 0"}
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.stmt != nil {
		return ps.stmt.Offset(k)
	}
	ps.pendingOffset = &k
	return nil
}

// Bind binds value to the i-th parameter, buffering it if the Client
// hasn't been acquired yet.
func (ps *PooledStatement) Bind(i int, value any) error {
	if ps.disposed.Load() {
		return ErrDisposed
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.stmt != nil {
		return ps.stmt.Bind(i, value)
	}
	ps.pendingAll = nil
	ps.pendingBinds[i] = value
	return nil
}

// BindAll replaces every bound parameter at once, buffering it if the
// Client hasn't been acquired yet.
func (ps *PooledStatement) BindAll(values []any) error {
	if ps.disposed.Load() {
		return ErrDisposed
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.stmt != nil {
		return ps.stmt.BindAll(values)
	}
	ps.pendingBinds = make(map[int]any)
	ps.pendingAll = values
	return nil
}

// ensureAcquired acquires a Connection/Statement pair on first call,
// applying any buffered Limit/Offset/Bind calls. Must be called with ps.mu
// held.
func (ps *PooledStatement) ensureAcquired(ctx context.Context) error {
	if ps.stmt != nil {
		return nil
	}
	conn, err := ps.pool.Checkout(ctx)
	if err != nil {
		return err
	}
	stmt, err := conn.Prepare(ctx, ps.sql)
	if err != nil {
		conn.Shutdown(err)
		return err
	}

	if ps.pendingLimit != nil {
		if err := stmt.Limit(*ps.pendingLimit); err != nil {
			return err
		}
	}
	if ps.pendingOffset != nil {
		if err := stmt.Offset(*ps.pendingOffset); err != nil {
			return err
		}
	}
	if ps.pendingAll != nil {
		if err := stmt.BindAll(ps.pendingAll); err != nil {
			return err
		}
	} else {
		for i, v := range ps.pendingBinds {
			if err := stmt.Bind(i, v); err != nil {
				return err
			}
		}
	}

	ps.conn = conn
	ps.stmt = stmt
	return nil
}

// Execute acquires a Client on first call, then runs the prepared
// statement. Subsequent calls reuse the same Client, so a PooledStatement
// may be bound and executed many times before Dispose.
func (ps *PooledStatement) Execute(ctx context.Context) (*ResultSet, error) {
	if ps.disposed.Load() {
		return nil, ErrDisposed
	}
	ps.mu.Lock()
	if err := ps.ensureAcquired(ctx); err != nil {
		ps.mu.Unlock()
		return nil, err
	}
	stmt := ps.stmt
	ps.mu.Unlock()
	return stmt.Execute(ctx)
}

// Dispose releases the underlying Client back to the Pool — which
// re-queues, probes, or evicts it per spec.md §4.7's release rules — and
// clears the statement. Idempotent; a no-op if no Client was ever
// acquired.
func (ps *PooledStatement) Dispose(ctx context.Context) error {
	if !ps.disposed.CompareAndSwap(false, true) {
		return nil
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.stmt == nil {
		return nil
	}
	err := ps.stmt.Dispose(ctx)
	ps.conn.Shutdown(err)
	return err
}

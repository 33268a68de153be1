package asyncmy

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dbbouncer/asyncmy/internal/proto"
	"github.com/dbbouncer/asyncmy/internal/wire"
)

// Connection is a thin command façade over a Client: ping, prepare,
// transaction verbs, and disposal. Every method is resolved by the
// underlying Client's executor. Once disposed, all methods reject with
// ErrDisposed.
type Connection struct {
	client   *Client
	disposed atomic.Bool

	// release, if set, is invoked exactly once on Shutdown instead of
	// closing the underlying Client directly — the hook a Pool installs
	// to reclaim the slot instead of tearing the stream down.
	release func(faulty bool)
}

func newConnection(c *Client) *Connection {
	return &Connection{client: c}
}

func (conn *Connection) checkDisposed() error {
	if conn.disposed.Load() {
		return ErrDisposed
	}
	return nil
}

// Ping sends COM_PING, waits for the OK reply, and returns the elapsed
// round-trip time.
func (conn *Connection) Ping(ctx context.Context) (time.Duration, error) {
	if err := conn.checkDisposed(); err != nil {
		return 0, err
	}
	start := nowFunc()
	err := conn.client.sendCommand(ctx, func(c *Client) error {
		b := wire.NewBuilder(1)
		b.PutInt8(proto.ComPing)
		if err := c.sendPacket(b.Bytes()); err != nil {
			return err
		}
		r, _, err := c.readPacket(proto.TagOK)
		if err != nil {
			return err
		}
		_, err = c.parseOk(r)
		return err
	})
	if err != nil {
		if _, isServerErr := err.(*ServerError); !isServerErr {
			conn.client.Shutdown(err)
		}
		return 0, err
	}
	return nowFunc().Sub(start), nil
}

// Prepare issues COM_STMT_PREPARE for sql and returns a bound Statement.
func (conn *Connection) Prepare(ctx context.Context, sql string) (*Statement, error) {
	if err := conn.checkDisposed(); err != nil {
		return nil, err
	}
	return prepareStatement(ctx, conn.client, sql)
}

// UseDatabase switches the session's default database via COM_INIT_DB.
func (conn *Connection) UseDatabase(ctx context.Context, database string) error {
	if err := conn.checkDisposed(); err != nil {
		return err
	}
	return conn.client.useDatabase(ctx, database)
}

// BeginTransaction starts a transaction, optionally read-only.
func (conn *Connection) BeginTransaction(ctx context.Context, readOnly bool) error {
	if err := conn.checkDisposed(); err != nil {
		return err
	}
	return conn.client.beginTransaction(ctx, readOnly)
}

// Commit commits the current transaction.
func (conn *Connection) Commit(ctx context.Context) error {
	if err := conn.checkDisposed(); err != nil {
		return err
	}
	return conn.client.commit(ctx)
}

// RollBack rolls back the current transaction.
func (conn *Connection) RollBack(ctx context.Context) error {
	if err := conn.checkDisposed(); err != nil {
		return err
	}
	return conn.client.rollBack(ctx)
}

// InTransaction reports whether the underlying Client last observed itself
// inside a transaction.
func (conn *Connection) InTransaction() bool {
	return conn.client.InTransaction()
}

// Shutdown disposes the Connection. If the Connection was checked out from
// a Pool, this releases it back to the idle queue (or evicts it, if faulty
// is implied by cause being non-nil); standalone Connections close their
// Client outright. Idempotent.
func (conn *Connection) Shutdown(cause error) {
	if !conn.disposed.CompareAndSwap(false, true) {
		return
	}
	if conn.release != nil {
		conn.release(cause != nil)
		return
	}
	conn.client.Shutdown(cause)
}

// nowFunc is the clock read for Ping's round-trip time, the executor's
// per-command timing, and the Pool's auth timing.
var nowFunc = time.Now

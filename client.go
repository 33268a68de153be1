package asyncmy

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dbbouncer/asyncmy/internal/auth"
	"github.com/dbbouncer/asyncmy/internal/metrics"
	"github.com/dbbouncer/asyncmy/internal/proto"
	"github.com/dbbouncer/asyncmy/internal/wire"
)

// Client owns one duplex byte stream to a single MySQL/MariaDB server. It
// performs the handshake at construction, then serializes every command
// through an Executor so concurrent callers never interleave reads and
// writes on the stream. Never share a Client directly between goroutines
// that bypass sendCommand — use a Connection, or the Pool.
type Client struct {
	stream io.ReadWriteCloser
	conn   *wire.Conn
	caps   proto.CapabilitySet
	logger *slog.Logger

	connectionID uint32

	executor *executor
	disposed atomic.Bool

	// metrics is attached by a Pool after construction; nil for a
	// standalone Client, so every use site must be nil-checked.
	metrics *metrics.Collector

	// inTransaction is mutated only inside closures run by the executor,
	// per spec.md §5's shared-resource policy, so reads from release-time
	// checks (the Pool) observe a consistent value.
	inTransaction bool
}

// newClient performs the handshake over stream and, on success, starts the
// Client's executor. On any failure the stream is closed and an AuthError
// (credential/plugin failures) or IOError/CodecError/ProtocolError (framing
// failures) is returned.
func newClient(stream io.ReadWriteCloser, username, password, database string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn := wire.NewConn(stream)

	greetingRaw, err := conn.ReadRawPacket()
	if err != nil {
		stream.Close()
		return nil, &IOError{Err: err}
	}
	greeting, err := auth.ParseGreeting(greetingRaw)
	if err != nil {
		stream.Close()
		return nil, &CodecError{Err: err}
	}

	caps := auth.Negotiate(greeting)

	response, err := auth.BuildHandshakeResponse(greeting, caps, username, password, database)
	if err != nil {
		stream.Close()
		return nil, &AuthError{Err: err}
	}
	if err := conn.WriteRawPacket(response); err != nil {
		stream.Close()
		return nil, &IOError{Err: err}
	}

	replyRaw, err := conn.ReadRawPacket()
	if err != nil {
		stream.Close()
		return nil, &IOError{Err: err}
	}
	if len(replyRaw) == 0 {
		stream.Close()
		return nil, &ProtocolError{Msg: "empty handshake reply"}
	}
	switch replyRaw[0] {
	case proto.TagOK:
		// fall through to success
	case proto.TagErr:
		r := wire.NewReader(replyRaw[1:])
		errPkt, perr := wire.ParseErr(r, caps)
		stream.Close()
		if perr != nil {
			return nil, &CodecError{Err: perr}
		}
		return nil, &AuthError{Err: serverErrorFromPacket(errPkt)}
	default:
		stream.Close()
		return nil, &ProtocolError{Msg: "unexpected handshake reply tag"}
	}

	conn.ResetSeq()
	c := &Client{
		stream:       stream,
		conn:         conn,
		caps:         caps,
		logger:       logger,
		connectionID: greeting.ConnectionID,
	}
	c.executor = newExecutor(c)
	return c, nil
}

// sendCommand submits fn to the Client's executor and blocks until it
// completes, per spec.md §4.3.
func (c *Client) sendCommand(ctx context.Context, fn func(*Client) error) error {
	if c.disposed.Load() {
		return ErrDisposed
	}
	return c.executor.Submit(ctx, fn)
}

// sendPacket writes payload as the next packet, stamping the sequence
// number the codec is tracking for this command.
func (c *Client) sendPacket(payload []byte) error {
	if err := c.conn.WriteRawPacket(payload); err != nil {
		return &IOError{Err: err}
	}
	return nil
}

// readRawPacket returns the next frame unfiltered.
func (c *Client) readRawPacket() ([]byte, error) {
	raw, err := c.conn.ReadRawPacket()
	if err != nil {
		return nil, &IOError{Err: err}
	}
	return raw, nil
}

// readPacket reads the next frame and classifies it: a 0xFF tag always
// raises the parsed ServerError before anything else is checked (per
// spec.md §9); if expected is non-empty and the tag isn't among them, a
// ProtocolError is raised; otherwise the packet is returned with its type
// byte already peeled off.
func (c *Client) readPacket(expected ...byte) (*wire.Reader, byte, error) {
	raw, err := c.readRawPacket()
	if err != nil {
		return nil, 0, err
	}
	if len(raw) == 0 {
		return nil, 0, &ProtocolError{Msg: "empty packet"}
	}
	tag := raw[0]
	body := raw[1:]

	if tag == proto.TagErr {
		r := wire.NewReader(body)
		errPkt, perr := wire.ParseErr(r, c.caps)
		if perr != nil {
			return nil, 0, &CodecError{Err: perr}
		}
		return nil, tag, serverErrorFromPacket(errPkt)
	}

	if len(expected) > 0 {
		ok := false
		for _, e := range expected {
			if tag == e {
				ok = true
				break
			}
		}
		if !ok {
			return nil, tag, &ProtocolError{Msg: "unexpected packet type"}
		}
	}
	return wire.NewReader(body), tag, nil
}

// parseOk parses an OK/EOF-shaped packet per spec.md §4.3.
func (c *Client) parseOk(r *wire.Reader) (*wire.OKPacket, error) {
	ok, err := wire.ParseOK(r, c.caps)
	if err != nil {
		return nil, &CodecError{Err: err}
	}
	return ok, nil
}

// Shutdown stops the executor, cancels pending closures with cause, and
// closes the stream once the in-flight closure (if any) drains. Idempotent.
func (c *Client) Shutdown(cause error) {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}
	if cause == nil {
		cause = ErrDisposed
	}
	c.executor.Shutdown(cause)
	go func() {
		<-c.executor.done
		c.sendQuit()
		c.stream.Close()
	}()
}

// sendQuit best-effort notifies the server this connection is going away,
// per spec.md §6's COM_QUIT lifecycle command. The stream is being closed
// either way, so any write error (or a reluctant peer) is bounded by a
// short deadline and then ignored; no reply is expected.
func (c *Client) sendQuit() {
	c.conn.ResetSeq()
	if deadliner, ok := c.stream.(interface{ SetWriteDeadline(time.Time) error }); ok {
		deadliner.SetWriteDeadline(time.Now().Add(250 * time.Millisecond))
		defer deadliner.SetWriteDeadline(time.Time{})
	}
	b := wire.NewBuilder(1)
	b.PutInt8(proto.ComQuit)
	c.conn.WriteRawPacket(b.Bytes())
}

// useDatabase sends COM_INIT_DB to switch the session's default database
// without reconnecting, per spec.md §6.
func (c *Client) useDatabase(ctx context.Context, database string) error {
	err := c.sendCommand(ctx, func(c *Client) error {
		b := wire.NewBuilder(len(database) + 1)
		b.PutInt8(proto.ComInitDB)
		b.PutFixedString([]byte(database))
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
			c.Shutdown(err)
		}
	}
	return err
}

// awaitShutdown blocks until a prior Shutdown's in-flight closure has
// drained and the executor goroutine has exited. Used by the Pool to wait
// out every idle Client's close-future before declaring itself disposed.
func (c *Client) awaitShutdown() {
	<-c.executor.done
}

// IsDisposed reports whether Shutdown has been called.
func (c *Client) IsDisposed() bool {
	return c.disposed.Load()
}

// probeInTransaction sends COM_PING and refreshes the Client's
// within-transaction flag from the reply's status flags, per spec.md
// §4.7's release-time probe for Clients returned mid-transaction.
func (c *Client) probeInTransaction(ctx context.Context) error {
	return c.sendCommand(ctx, func(c *Client) error {
		b := wire.NewBuilder(1)
		b.PutInt8(proto.ComPing)
		if err := c.sendPacket(b.Bytes()); err != nil {
			return err
		}
		r, _, err := c.readPacket(proto.TagOK)
		if err != nil {
			return err
		}
		ok, err := c.parseOk(r)
		if err != nil {
			return err
		}
		c.inTransaction = ok.InTransaction()
		return nil
	})
}

// transactionVerb runs a COM_QUERY transaction statement, verifies the
// resulting IN_TRANS status bit matches wantInTrans, and updates the
// Client's transaction flag. Failure triggers Shutdown, per spec.md §4.3.
func (c *Client) transactionVerb(ctx context.Context, sql string, wantInTrans bool) error {
	err := c.sendCommand(ctx, func(c *Client) error {
		b := wire.NewBuilder(len(sql) + 1)
		b.PutInt8(proto.ComQuery)
		b.PutFixedString([]byte(sql))
		if err := c.sendPacket(b.Bytes()); err != nil {
			return err
		}
		r, _, err := c.readPacket(proto.TagOK)
		if err != nil {
			return err
		}
		ok, err := c.parseOk(r)
		if err != nil {
			return err
		}
		gotInTrans := ok.InTransaction()
		if gotInTrans != wantInTrans {
			return &ProtocolError{Msg: "transaction status did not match requested verb"}
		}
		c.inTransaction = gotInTrans
		return nil
	})
	if err != nil {
		if _, isServerErr := err.(*ServerError); !isServerErr {
			c.Shutdown(err)
		}
	}
	return err
}

// beginTransaction starts a transaction, optionally read-only.
func (c *Client) beginTransaction(ctx context.Context, readOnly bool) error {
	sql := "START TRANSACTION"
	if readOnly {
		sql = "START TRANSACTION READ ONLY"
	}
	return c.transactionVerb(ctx, sql, true)
}

// commit commits the current transaction.
func (c *Client) commit(ctx context.Context) error {
	return c.transactionVerb(ctx, "COMMIT", false)
}

// rollBack rolls back the current transaction.
func (c *Client) rollBack(ctx context.Context) error {
	return c.transactionVerb(ctx, "ROLLBACK", false)
}

// InTransaction reports the Client's last-observed transaction state. Only
// meaningful when read after a command has completed; the Pool uses this
// at release time to decide whether a Client is safe to re-pool.
func (c *Client) InTransaction() bool {
	return c.inTransaction
}

// ConnectionID is the server-assigned identifier from the greeting.
func (c *Client) ConnectionID() uint32 {
	return c.connectionID
}

// reportRowBackpressure records that a ResultSet's row producer had to
// block on a full bounded channel. Nil-safe: a no-op unless a Pool
// attached a metrics.Collector to this Client.
func (c *Client) reportRowBackpressure() {
	if c.metrics != nil {
		c.metrics.RowChannelBlocked()
	}
}

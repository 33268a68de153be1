// Package asyncmy is an asynchronous client for the MySQL/MariaDB
// wire protocol. It owns one duplex byte stream to a single server,
// performs the handshake, serializes commands through an in-order
// executor, and exposes prepared statements whose rows stream through a
// bounded channel. Many callers share a small set of such connections
// through a Pool.
package asyncmy

import (
	"errors"
	"fmt"

	"github.com/dbbouncer/asyncmy/internal/wire"
)

// IOError wraps a read/write/EOF failure on the underlying byte stream.
type IOError struct{ Err error }

func (e *IOError) Error() string { return fmt.Sprintf("asyncmy: io error: %v", e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// CodecError wraps a malformed-frame or malformed-primitive failure
// surfaced from internal/wire.
type CodecError struct{ Err error }

func (e *CodecError) Error() string { return fmt.Sprintf("asyncmy: codec error: %v", e.Err) }
func (e *CodecError) Unwrap() error { return e.Err }

// ProtocolError reports an unexpected packet type given the current
// state machine, a missing EOF, or other protocol-alignment violation.
type ProtocolError struct{ Msg string }

func (e *ProtocolError) Error() string { return "asyncmy: protocol error: " + e.Msg }

// ServerError wraps a 0xFF ERR packet: a numeric code, a 5-character
// SQLSTATE, and a message. It does not shut the Client down — the
// protocol stream remains aligned after a ServerError.
type ServerError struct {
	Code     uint16
	SQLState string
	Message  string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("asyncmy: server error %d (%s): %s", e.Code, e.SQLState, e.Message)
}

func serverErrorFromPacket(p *wire.ErrPacket) *ServerError {
	return &ServerError{Code: p.Code, SQLState: p.SQLState, Message: p.Message}
}

// AuthError reports a rejected handshake: bad credentials or an
// unsupported auth plugin. It only occurs during Client creation.
type AuthError struct{ Err error }

func (e *AuthError) Error() string { return fmt.Sprintf("asyncmy: auth error: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// UsageError reports caller misuse detected before any byte hits the
// wire: an unbound parameter, an out-of-range parameter index, an
// invalid limit/offset, a call after disposal, a re-execute while rows
// are still draining, or a ping on a disposed connection.
type UsageError struct{ Msg string }

func (e *UsageError) Error() string { return "asyncmy: usage error: " + e.Msg }

// PoolError reports checkout on a disposed pool, a Client-creation
// failure during checkout, or a pool-initialization aggregate failure.
type PoolError struct{ Err error }

func (e *PoolError) Error() string { return fmt.Sprintf("asyncmy: pool error: %v", e.Err) }
func (e *PoolError) Unwrap() error { return e.Err }

// ErrDisposed is returned by every Connection/Statement/ResultSet method
// once its disposed flag is latched.
var ErrDisposed = &UsageError{Msg: "use of a disposed resource"}

// ErrPoolDisposed is returned by Pool.Checkout/Pool.Prepare after
// Pool.Shutdown.
var ErrPoolDisposed = &PoolError{Err: errors.New("pool is disposed")}

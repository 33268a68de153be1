package asyncmy

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/dbbouncer/asyncmy/internal/wire"
)

type rowResult struct {
	values []any
	err    error
}

// ResultSet is the outcome of Statement.Execute. For a DML statement,
// affectedRows/lastInsertId are populated and there is no row channel. For
// a query, columns describe the result shape and rows stream through a
// bounded channel as the server emits them.
type ResultSet struct {
	client  *Client
	columns []*wire.ColumnDefinition
	colIndex map[string]int

	rows    chan rowResult
	abandon chan struct{}
	release func()

	affectedRows uint64
	lastInsertID uint64
	noChannel    bool

	closeOnce sync.Once
	closed    atomic.Bool
	drainErr  error
}

func newResultSet(client *Client, columns []*wire.ColumnDefinition, prefetch int, release func()) *ResultSet {
	return &ResultSet{
		client:  client,
		columns: columns,
		rows:    make(chan rowResult, prefetch),
		abandon: make(chan struct{}, 1),
		release: release,
	}
}

func (rs *ResultSet) setColumns(cols []*wire.ColumnDefinition) {
	rs.columns = cols
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		idx[string(c.Name)] = i
	}
	rs.colIndex = idx
}

func (rs *ResultSet) resolveOK(affected, lastID uint64) {
	rs.noChannel = true
	rs.affectedRows = affected
	rs.lastInsertID = lastID
	close(rs.rows)
}

func (rs *ResultSet) closeWithError(err error) {
	select {
	case rs.rows <- rowResult{err: err}:
	default:
	}
}

// streamRows is run from inside the Statement.Execute command closure,
// after the column-definition header has already been consumed. It owns
// the stream exclusively until the server's terminal EOF/ERR packet, per
// spec.md §4.4's row-channel backpressure rule: a full channel blocks this
// call, which blocks the executor from starting the Client's next command.
func (rs *ResultSet) streamRows(c *Client) error {
	for {
		raw, err := c.readRawPacket()
		if err != nil {
			ioErr := &IOError{Err: err}
			select {
			case rs.rows <- rowResult{err: ioErr}:
			case <-rs.abandon:
			}
			close(rs.rows)
			return ioErr
		}
		if len(raw) == 0 {
			perr := &ProtocolError{Msg: "empty row packet"}
			close(rs.rows)
			return perr
		}

		if raw[0] == 0xFE && len(raw) < 9 {
			close(rs.rows)
			return nil
		}
		if raw[0] == 0xFF {
			r := wire.NewReader(raw[1:])
			errPkt, perr := wire.ParseErr(r, c.caps)
			if perr != nil {
				close(rs.rows)
				return &CodecError{Err: perr}
			}
			svrErr := serverErrorFromPacket(errPkt)
			select {
			case rs.rows <- rowResult{err: svrErr}:
			case <-rs.abandon:
			}
			close(rs.rows)
			return svrErr
		}

		values, err := wire.DecodeBinaryRow(wire.NewReader(raw[1:]), rs.columns)
		if err != nil {
			ce := &CodecError{Err: err}
			select {
			case rs.rows <- rowResult{err: ce}:
			case <-rs.abandon:
			}
			close(rs.rows)
			return ce
		}

		select {
		case rs.rows <- rowResult{values: values}:
		default:
			c.reportRowBackpressure()
			select {
			case rs.rows <- rowResult{values: values}:
			case <-rs.abandon:
				// Caller closed the cursor early; keep reading and
				// discarding rows until the server's EOF so the Client's
				// stream stays aligned for reuse. CloseCursor is blocked
				// ranging over rs.rows until it's closed, so it must be
				// closed here regardless of drainDiscard's outcome.
				err := rs.drainDiscard(c)
				close(rs.rows)
				return err
			}
		}
	}
}

func (rs *ResultSet) drainDiscard(c *Client) error {
	for {
		raw, err := c.readRawPacket()
		if err != nil {
			return &IOError{Err: err}
		}
		if len(raw) == 0 {
			return &ProtocolError{Msg: "empty row packet"}
		}
		if raw[0] == 0xFE && len(raw) < 9 {
			return nil
		}
		if raw[0] == 0xFF {
			r := wire.NewReader(raw[1:])
			errPkt, perr := wire.ParseErr(r, c.caps)
			if perr != nil {
				return &CodecError{Err: perr}
			}
			return serverErrorFromPacket(errPkt)
		}
		// discard row body; errors here still must not break stream sync
		if _, err := wire.DecodeBinaryRow(wire.NewReader(raw[1:]), rs.columns); err != nil {
			return &CodecError{Err: err}
		}
	}
}

// AffectedRows is valid for DML results.
func (rs *ResultSet) AffectedRows() uint64 { return rs.affectedRows }

// LastInsertID is valid for DML results that generated one.
func (rs *ResultSet) LastInsertID() uint64 { return rs.lastInsertID }

// Fetch returns the next row, or io.EOF once the result set is exhausted.
func (rs *ResultSet) Fetch(ctx context.Context) ([]any, error) {
	if rs.closed.Load() {
		return nil, ErrDisposed
	}
	select {
	case row, ok := <-rs.rows:
		if !ok {
			return nil, io.EOF
		}
		if row.err != nil {
			return nil, row.err
		}
		return row.values, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FetchAll collects every remaining row.
func (rs *ResultSet) FetchAll(ctx context.Context) ([][]any, error) {
	var out [][]any
	for {
		row, err := rs.Fetch(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, row)
	}
}

func (rs *ResultSet) columnOffset(alias string) (int, error) {
	if rs.colIndex == nil {
		return 0, &UsageError{Msg: "result set has no columns"}
	}
	i, ok := rs.colIndex[alias]
	if !ok {
		return 0, &UsageError{Msg: "no such column: " + alias}
	}
	return i, nil
}

// FetchColumn returns a single named column from the next row.
func (rs *ResultSet) FetchColumn(ctx context.Context, alias string) (any, error) {
	i, err := rs.columnOffset(alias)
	if err != nil {
		return nil, err
	}
	row, err := rs.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return row[i], nil
}

// FetchColumnAll returns a single named column across every remaining row.
func (rs *ResultSet) FetchColumnAll(ctx context.Context, alias string) ([]any, error) {
	i, err := rs.columnOffset(alias)
	if err != nil {
		return nil, err
	}
	rows, err := rs.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for n, row := range rows {
		out[n] = row[i]
	}
	return out, nil
}

// CloseCursor closes the result set exactly once. If rows are still
// outstanding, it signals the producer to drain and discard them so the
// underlying Client can be safely reused, then waits for that to finish.
func (rs *ResultSet) CloseCursor() error {
	rs.closeOnce.Do(func() {
		rs.closed.Store(true)
		if rs.noChannel {
			if rs.release != nil {
				rs.release()
			}
			return
		}
		select {
		case rs.abandon <- struct{}{}:
		default:
		}
		for row := range rs.rows {
			if row.err != nil {
				rs.drainErr = row.err
			}
		}
		if rs.release != nil {
			rs.release()
		}
	})
	return rs.drainErr
}

package asyncmy

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dbbouncer/asyncmy/internal/proto"
	"github.com/dbbouncer/asyncmy/internal/wire"
)

// Statement is a prepared statement bound to one Client. Its lifecycle is
// prepare → (bind, execute)* → dispose, per spec.md §4.4.
type Statement struct {
	client *Client
	sql    string

	stmtID      uint32
	paramDefs   []*wire.ColumnDefinition
	columnDefs  []*wire.ColumnDefinition
	paramCount  int
	columnCount int

	params []any
	bound  []bool

	limitN  int
	offsetK int
	hasLimit bool

	prefetch int

	recompileNeeded bool
	disposed        atomic.Bool
	executing       atomic.Bool
}

// prepareStatement issues COM_STMT_PREPARE for sql and returns the bound
// Statement.
func prepareStatement(ctx context.Context, c *Client, sql string) (*Statement, error) {
	stmt := &Statement{client: c, sql: sql, prefetch: defaultPrefetch}
	if err := stmt.doPrepare(ctx); err != nil {
		return nil, err
	}
	return stmt, nil
}

// defaultPrefetch is the bounded row channel's default capacity, per
// spec.md §6's statement.prefetch config default.
const defaultPrefetch = 4

func (s *Statement) effectiveSQL() string {
	sql := s.sql
	if s.hasLimit {
		sql += fmt.Sprintf(" LIMIT %d", s.limitN)
		if s.offsetK > 0 {
			sql += fmt.Sprintf(" OFFSET %d", s.offsetK)
		}
	}
	return sql
}

func (s *Statement) doPrepare(ctx context.Context) error {
	sql := s.effectiveSQL()
	err := s.client.sendCommand(ctx, func(c *Client) error {
		b := wire.NewBuilder(len(sql) + 1)
		b.PutInt8(proto.ComStmtPrepare)
		b.PutFixedString([]byte(sql))
		if err := c.sendPacket(b.Bytes()); err != nil {
			return err
		}

		r, _, err := c.readPacket(proto.TagOK)
		if err != nil {
			return err
		}
		stmtID, err := r.ReadInt32()
		if err != nil {
			return &CodecError{Err: err}
		}
		columnCount, err := r.ReadInt16()
		if err != nil {
			return &CodecError{Err: err}
		}
		paramCount, err := r.ReadInt16()
		if err != nil {
			return &CodecError{Err: err}
		}
		if err := r.Skip(1); err != nil { // filler
			return &CodecError{Err: err}
		}
		if _, err := r.ReadInt16(); err != nil { // warning count
			return &CodecError{Err: err}
		}

		paramDefs := make([]*wire.ColumnDefinition, 0, paramCount)
		for i := 0; i < int(paramCount); i++ {
			raw, err := c.readRawPacket()
			if err != nil {
				return err
			}
			col, err := wire.ParseColumnDefinition(wire.NewReader(raw))
			if err != nil {
				return &CodecError{Err: err}
			}
			paramDefs = append(paramDefs, col)
		}
		if paramCount > 0 && !c.caps.Has(proto.CapabilityDeprecateEOF) {
			if _, _, err := c.readPacket(proto.TagEOF); err != nil {
				return err
			}
		}

		columnDefs := make([]*wire.ColumnDefinition, 0, columnCount)
		for i := 0; i < int(columnCount); i++ {
			raw, err := c.readRawPacket()
			if err != nil {
				return err
			}
			col, err := wire.ParseColumnDefinition(wire.NewReader(raw))
			if err != nil {
				return &CodecError{Err: err}
			}
			columnDefs = append(columnDefs, col)
		}
		if columnCount > 0 && !c.caps.Has(proto.CapabilityDeprecateEOF) {
			if _, _, err := c.readPacket(proto.TagEOF); err != nil {
				return err
			}
		}

		s.stmtID = stmtID
		s.paramDefs = paramDefs
		s.columnDefs = columnDefs
		s.paramCount = int(paramCount)
		s.columnCount = int(columnCount)
		// A re-prepare (Limit/Offset recompile) keeps the same parameter
		// count in practice; preserve whatever the caller already bound
		// instead of silently wiping it back to NULL.
		if int(paramCount) != len(s.params) {
			s.params = make([]any, paramCount)
			s.bound = make([]bool, paramCount)
		}
		s.recompileNeeded = false
		return nil
	})
	if err != nil {
		if _, isServerErr := err.(*ServerError); !isServerErr {
			s.client.Shutdown(err)
		}
		return err
	}
	return nil
}

// Limit sets the LIMIT clause appended on (re-)prepare. n must be ≥ 1.
func (s *Statement) Limit(n int) error {
	if s.disposed.Load() {
		return ErrDisposed
	}
	if n < 1 {
		return &UsageError{Msg: "limit must be >= 1"}
	}
	s.limitN = n
	s.hasLimit = true
	s.recompileNeeded = true
	return nil
}

// Offset sets the OFFSET clause appended after the LIMIT clause on
// (re-)prepare. k must be ≥ 0. It has no effect unless Limit is also set,
// and an offset of 0 appends nothing.
func (s *Statement) Offset(k int) error {
	if s.disposed.Load() {
		return ErrDisposed
	}
	if k < 0 {
		return &UsageError{Msg: "offset must be >= 0"}
	}
	s.offsetK = k
	s.recompileNeeded = true
	return nil
}

// Bind binds value to the i-th parameter (0-indexed).
func (s *Statement) Bind(i int, value any) error {
	if s.disposed.Load() {
		return ErrDisposed
	}
	if i < 0 || i >= s.paramCount {
		return &UsageError{Msg: fmt.Sprintf("parameter index %d out of range [0,%d)", i, s.paramCount)}
	}
	s.params[i] = value
	s.bound[i] = true
	return nil
}

// BindAll replaces every bound parameter at once. len(values) must equal
// the statement's parameter count.
func (s *Statement) BindAll(values []any) error {
	if s.disposed.Load() {
		return ErrDisposed
	}
	if len(values) != s.paramCount {
		return &UsageError{Msg: fmt.Sprintf("expected %d parameters, got %d", s.paramCount, len(values))}
	}
	for i, v := range values {
		s.params[i] = v
		s.bound[i] = true
	}
	return nil
}

func (s *Statement) checkAllBound() error {
	for i, b := range s.bound {
		if !b {
			return &UsageError{Msg: fmt.Sprintf("parameter %d is unbound", i)}
		}
	}
	return nil
}

type resultHeader struct {
	ok      *wire.OKPacket
	columns []*wire.ColumnDefinition
	err     error
}

// Execute runs COM_STMT_EXECUTE and returns a ResultSet. If limit/offset
// changed since the last prepare, the statement is re-prepared first. Rows
// (if any) are streamed asynchronously into the returned ResultSet's
// bounded channel as the server emits them.
func (s *Statement) Execute(ctx context.Context) (*ResultSet, error) {
	if s.disposed.Load() {
		return nil, ErrDisposed
	}
	if !s.executing.CompareAndSwap(false, true) {
		return nil, &UsageError{Msg: "statement is already executing; previous ResultSet must be closed first"}
	}
	release := func() { s.executing.Store(false) }

	if err := s.checkAllBound(); err != nil {
		release()
		return nil, err
	}
	if s.recompileNeeded {
		if err := s.doPrepare(ctx); err != nil {
			release()
			return nil, err
		}
	}

	header := make(chan resultHeader, 1)
	rs := newResultSet(s.client, s.columnDefs, s.prefetch, release)
	var streaming atomic.Bool

	go func() {
		err := s.client.sendCommand(ctx, func(c *Client) error {
			if err := s.writeExecutePacket(c); err != nil {
				return err
			}

			raw, err := c.readRawPacket()
			if err != nil {
				return err
			}
			if len(raw) == 0 {
				return &ProtocolError{Msg: "empty execute response"}
			}

			switch {
			case raw[0] == proto.TagErr:
				r := wire.NewReader(raw[1:])
				errPkt, perr := wire.ParseErr(r, c.caps)
				if perr != nil {
					return &CodecError{Err: perr}
				}
				svrErr := serverErrorFromPacket(errPkt)
				header <- resultHeader{err: svrErr}
				return svrErr

			case raw[0] == proto.TagOK || (raw[0] == proto.TagEOF && len(raw) < 9):
				ok, err := c.parseOk(wire.NewReader(raw[1:]))
				if err != nil {
					return err
				}
				header <- resultHeader{ok: ok}
				return nil

			default:
				r := wire.NewReader(raw)
				colCount, isNull, err := r.ReadLengthEncodedInt()
				if err != nil || isNull {
					return &CodecError{Err: err}
				}
				cols := make([]*wire.ColumnDefinition, 0, colCount)
				for i := uint64(0); i < colCount; i++ {
					craw, err := c.readRawPacket()
					if err != nil {
						return err
					}
					col, err := wire.ParseColumnDefinition(wire.NewReader(craw))
					if err != nil {
						return &CodecError{Err: err}
					}
					cols = append(cols, col)
				}
				if !c.caps.Has(proto.CapabilityDeprecateEOF) {
					if _, _, err := c.readPacket(proto.TagEOF); err != nil {
						return err
					}
				}
				rs.setColumns(cols)
				streaming.Store(true)
				header <- resultHeader{columns: cols}
				return rs.streamRows(c)
			}
		})
		if err != nil {
			select {
			case header <- resultHeader{err: err}:
			default:
			}
			if _, isServerErr := err.(*ServerError); !isServerErr {
				s.client.Shutdown(err)
			}
			// streamRows closes the row channel itself on every path, so
			// only a failure before streaming began is delivered here.
			if !streaming.Load() {
				rs.closeWithError(err)
			}
		}
	}()

	select {
	case sig := <-header:
		if sig.err != nil {
			release()
			return nil, sig.err
		}
		if sig.ok != nil {
			release()
			rs.resolveOK(sig.ok.AffectedRows, sig.ok.LastInsertID)
			return rs, nil
		}
		return rs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// writeExecutePacket serializes COM_STMT_EXECUTE per spec.md §4.4.
func (s *Statement) writeExecutePacket(c *Client) error {
	b := wire.NewBuilder(32)
	b.PutInt8(proto.ComStmtExecute)
	b.PutInt32(s.stmtID)
	b.PutInt8(0) // cursor flags: NO_CURSOR
	b.PutInt32(1) // iteration count

	if s.paramCount > 0 {
		nullSet := make(map[int]bool, s.paramCount)
		anyNonNull := false
		for i, v := range s.params {
			if v == nil {
				nullSet[i] = true
			} else {
				anyNonNull = true
			}
		}
		b.PutParamNullBitmap(s.paramCount, nullSet)

		if anyNonNull {
			b.PutInt8(1)
			encoded := make([]*wire.EncodedParam, s.paramCount)
			for i, v := range s.params {
				if v == nil {
					b.PutInt8(proto.FieldTypeNull)
					b.PutInt8(0)
					continue
				}
				enc, err := wire.EncodeParam(v)
				if err != nil {
					return &UsageError{Msg: err.Error()}
				}
				encoded[i] = enc
				flags := byte(0)
				if enc.Unsigned {
					flags = proto.UnsignedFlag
				}
				b.PutInt8(enc.Type)
				b.PutInt8(flags)
			}
			for i, v := range s.params {
				if v == nil {
					continue
				}
				b.PutFixedString(encoded[i].Body)
			}
		} else {
			b.PutInt8(0)
		}
	}

	return c.sendPacket(b.Bytes())
}

// Dispose sends COM_STMT_CLOSE (no reply expected) and releases the
// statement's parameter/column metadata. Further operations fail.
func (s *Statement) Dispose(ctx context.Context) error {
	if !s.disposed.CompareAndSwap(false, true) {
		return nil
	}
	return s.client.sendCommand(ctx, func(c *Client) error {
		b := wire.NewBuilder(5)
		b.PutInt8(proto.ComStmtClose)
		b.PutInt32(s.stmtID)
		if err := c.sendPacket(b.Bytes()); err != nil {
			return err
		}
		s.paramDefs = nil
		s.columnDefs = nil
		return nil
	})
}

package asyncmy

import (
	"context"
	"io"
	"testing"

	"github.com/dbbouncer/asyncmy/internal/proto"
	"github.com/dbbouncer/asyncmy/internal/wire"
)

func TestPrepareExecuteOKPath(t *testing.T) {
	c, srv := newTestClient(t)
	defer c.Shutdown(nil)

	go func() {
		srv.readRaw() // COM_STMT_PREPARE
		srv.conn.ResetSeq()
		srv.writeStmtPrepareOK(1, 0, 1)
		srv.writeColumnDef("?", proto.FieldTypeLong, false)
		srv.writeEOF()

		srv.readRaw() // COM_STMT_EXECUTE
		srv.conn.ResetSeq()
		srv.writeOK(1, 99, proto.StatusAutocommit)
	}()

	stmt, err := prepareStatement(context.Background(), c, "INSERT INTO t (v) VALUES (?)")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if stmt.paramCount != 1 {
		t.Fatalf("paramCount = %d", stmt.paramCount)
	}
	if err := stmt.Bind(0, int64(5)); err != nil {
		t.Fatalf("bind: %v", err)
	}

	rs, err := stmt.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rs.AffectedRows() != 1 || rs.LastInsertID() != 99 {
		t.Fatalf("affected=%d lastId=%d", rs.AffectedRows(), rs.LastInsertID())
	}
	if _, err := rs.Fetch(context.Background()); err != io.EOF {
		t.Fatalf("expected io.EOF on a DML result set, got %v", err)
	}
}

func TestExecuteSelectStreamsRows(t *testing.T) {
	c, srv := newTestClient(t)
	defer c.Shutdown(nil)

	go func() {
		srv.readRaw() // COM_STMT_PREPARE
		srv.conn.ResetSeq()
		srv.writeStmtPrepareOK(2, 1, 0)
		srv.writeColumnDef("id", proto.FieldTypeLong, false)
		srv.writeEOF()

		srv.readRaw() // COM_STMT_EXECUTE
		srv.conn.ResetSeq()

		b := wire.NewBuilder(8)
		b.PutLengthEncodedInt(1)
		if err := srv.conn.WriteRawPacket(b.Bytes()); err != nil {
			t.Errorf("write column count: %v", err)
		}
		srv.writeColumnDef("id", proto.FieldTypeLong, false)
		srv.writeEOF()

		v1 := wire.NewBuilder(4)
		v1.PutInt32(42)
		srv.writeBinaryRow(nil, 1, [][]byte{v1.Bytes()})

		v2 := wire.NewBuilder(4)
		v2.PutInt32(7)
		srv.writeBinaryRow(nil, 1, [][]byte{v2.Bytes()})

		srv.writeEOF()
	}()

	stmt, err := prepareStatement(context.Background(), c, "SELECT id FROM t")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	rs, err := stmt.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	rows, err := rs.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("fetchAll: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][0].(int32) != 42 || rows[1][0].(int32) != 7 {
		t.Fatalf("unexpected row values: %#v", rows)
	}

	if err := rs.CloseCursor(); err != nil {
		t.Fatalf("closeCursor: %v", err)
	}
}

func TestFetchColumnByAlias(t *testing.T) {
	c, srv := newTestClient(t)
	defer c.Shutdown(nil)

	go func() {
		srv.readRaw()
		srv.conn.ResetSeq()
		srv.writeStmtPrepareOK(3, 1, 0)
		srv.writeColumnDef("id", proto.FieldTypeLong, false)
		srv.writeEOF()

		srv.readRaw()
		srv.conn.ResetSeq()
		b := wire.NewBuilder(8)
		b.PutLengthEncodedInt(1)
		srv.conn.WriteRawPacket(b.Bytes())
		srv.writeColumnDef("id", proto.FieldTypeLong, false)
		srv.writeEOF()

		v1 := wire.NewBuilder(4)
		v1.PutInt32(11)
		srv.writeBinaryRow(nil, 1, [][]byte{v1.Bytes()})
		srv.writeEOF()
	}()

	stmt, err := prepareStatement(context.Background(), c, "SELECT id FROM t")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	rs, err := stmt.Execute(context.Background())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	v, err := rs.FetchColumn(context.Background(), "id")
	if err != nil {
		t.Fatalf("fetchColumn: %v", err)
	}
	if v.(int32) != 11 {
		t.Fatalf("value = %v", v)
	}
	rs.CloseCursor()

	if _, err := rs.FetchColumn(context.Background(), "nope"); err == nil {
		t.Fatal("expected UsageError for unknown alias")
	}
}

func TestBindAllWrongCountIsUsageError(t *testing.T) {
	c, srv := newTestClient(t)
	defer c.Shutdown(nil)

	go func() {
		srv.readRaw()
		srv.conn.ResetSeq()
		srv.writeStmtPrepareOK(4, 0, 2)
		srv.writeColumnDef("?", proto.FieldTypeLong, false)
		srv.writeColumnDef("?", proto.FieldTypeLong, false)
		srv.writeEOF()
	}()

	stmt, err := prepareStatement(context.Background(), c, "INSERT INTO t (a,b) VALUES (?,?)")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	err = stmt.BindAll([]any{1})
	if err == nil {
		t.Fatal("expected UsageError")
	}
	if _, ok := err.(*UsageError); !ok {
		t.Fatalf("got %T", err)
	}
}

func TestExecuteBeforeAllParamsBoundIsUsageError(t *testing.T) {
	c, srv := newTestClient(t)
	defer c.Shutdown(nil)

	go func() {
		srv.readRaw()
		srv.conn.ResetSeq()
		srv.writeStmtPrepareOK(5, 0, 1)
		srv.writeColumnDef("?", proto.FieldTypeLong, false)
		srv.writeEOF()
	}()

	stmt, err := prepareStatement(context.Background(), c, "INSERT INTO t (a) VALUES (?)")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	_, err = stmt.Execute(context.Background())
	if err == nil {
		t.Fatal("expected UsageError for unbound parameter")
	}
	if _, ok := err.(*UsageError); !ok {
		t.Fatalf("got %T", err)
	}
}

func TestLimitTriggersRecompileOnNextExecute(t *testing.T) {
	c, srv := newTestClient(t)
	defer c.Shutdown(nil)

	go func() {
		srv.readRaw() // initial prepare
		srv.conn.ResetSeq()
		srv.writeStmtPrepareOK(6, 1, 0)
		srv.writeColumnDef("id", proto.FieldTypeLong, false)
		srv.writeEOF()

		raw := srv.readRaw() // re-prepare, now with "LIMIT 10" appended
		srv.conn.ResetSeq()
		if string(raw[1:]) == "" {
			t.Errorf("expected re-prepare SQL payload")
		}
		srv.writeStmtPrepareOK(7, 1, 0)
		srv.writeColumnDef("id", proto.FieldTypeLong, false)
		srv.writeEOF()

		srv.readRaw() // execute against the recompiled statement
		srv.conn.ResetSeq()
		srv.writeOK(0, 0, proto.StatusAutocommit)
	}()

	stmt, err := prepareStatement(context.Background(), c, "SELECT id FROM t")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := stmt.Limit(10); err != nil {
		t.Fatalf("limit: %v", err)
	}
	if !stmt.recompileNeeded {
		t.Fatal("expected recompileNeeded after Limit")
	}

	if _, err := stmt.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if stmt.stmtID != 7 {
		t.Fatalf("stmtID = %d, want 7 (recompiled)", stmt.stmtID)
	}
}

// TestRecompilePreservesBoundParams guards against doPrepare silently
// wiping previously bound values when Limit/Offset forces a re-prepare
// with an unchanged parameter count: bind a parameter, then force a
// recompile, and confirm the value actually reaches the wire instead of
// being re-sent as NULL.
func TestRecompilePreservesBoundParams(t *testing.T) {
	c, srv := newTestClient(t)
	defer c.Shutdown(nil)

	go func() {
		srv.readRaw() // initial prepare
		srv.conn.ResetSeq()
		srv.writeStmtPrepareOK(9, 0, 1)
		srv.writeColumnDef("?", proto.FieldTypeLong, false)
		srv.writeEOF()

		srv.readRaw() // re-prepare triggered by Limit
		srv.conn.ResetSeq()
		srv.writeStmtPrepareOK(10, 0, 1)
		srv.writeColumnDef("?", proto.FieldTypeLong, false)
		srv.writeEOF()

		raw := srv.readRaw() // COM_STMT_EXECUTE against the recompiled statement
		srv.conn.ResetSeq()
		// Header (cmd+stmtID+cursor+iterCount) is 10 bytes, then a
		// 1-byte NULL bitmap for a single param, then the
		// new-params-bound flag at offset 11. A wiped binding would
		// mark the param NULL and send the flag as 0 with no type or
		// value bytes following.
		if len(raw) < 12 || raw[11] != 1 {
			t.Errorf("bound param was not re-sent after recompile; execute packet = %x", raw)
		}
		srv.writeOK(0, 0, proto.StatusAutocommit)
	}()

	stmt, err := prepareStatement(context.Background(), c, "SELECT id FROM t WHERE v = ?")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := stmt.Bind(0, int64(5)); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := stmt.Limit(10); err != nil {
		t.Fatalf("limit: %v", err)
	}

	if _, err := stmt.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if stmt.stmtID != 10 {
		t.Fatalf("stmtID = %d, want 10 (recompiled)", stmt.stmtID)
	}
}

func TestLimitRejectsNonPositive(t *testing.T) {
	c, srv := newTestClient(t)
	defer c.Shutdown(nil)

	go func() {
		srv.readRaw()
		srv.conn.ResetSeq()
		srv.writeStmtPrepareOK(8, 1, 0)
		srv.writeColumnDef("id", proto.FieldTypeLong, false)
		srv.writeEOF()
	}()

	stmt, err := prepareStatement(context.Background(), c, "SELECT id FROM t")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := stmt.Limit(0); err == nil {
		t.Fatal("expected UsageError")
	}
	if err := stmt.Offset(-1); err == nil {
		t.Fatal("expected UsageError")
	}
}

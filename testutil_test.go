package asyncmy

import (
	"net"
	"testing"

	"github.com/dbbouncer/asyncmy/internal/proto"
	"github.com/dbbouncer/asyncmy/internal/wire"
)

// serverSide wraps the in-memory pipe end a test drives as a fake MySQL
// server, using the same wire.Conn framing the Client uses.
type serverSide struct {
	t    *testing.T
	conn *wire.Conn
	raw  net.Conn
}

func (s *serverSide) writeOK(affected, lastID uint64, status uint16) {
	s.t.Helper()
	b := wire.NewBuilder(16)
	b.PutInt8(proto.TagOK)
	b.PutLengthEncodedInt(affected)
	b.PutLengthEncodedInt(lastID)
	b.PutInt16(status)
	b.PutInt16(0)
	if err := s.conn.WriteRawPacket(b.Bytes()); err != nil {
		s.t.Fatalf("writeOK: %v", err)
	}
}

func (s *serverSide) writeErr(code uint16, sqlState, message string) {
	s.t.Helper()
	b := wire.NewBuilder(16)
	b.PutInt8(proto.TagErr)
	b.PutInt16(code)
	b.PutInt8('#')
	b.PutFixedString([]byte(sqlState))
	b.PutFixedString([]byte(message))
	if err := s.conn.WriteRawPacket(b.Bytes()); err != nil {
		s.t.Fatalf("writeErr: %v", err)
	}
}

func (s *serverSide) writeGreeting() {
	s.t.Helper()
	// Offer every requested capability except DEPRECATE_EOF, so tests can
	// script explicit EOF packets the way the non-deprecated protocol
	// variant expects.
	caps := proto.RequestedCapabilities &^ proto.CapabilitySet(proto.CapabilityDeprecateEOF)
	b := wire.NewBuilder(64)
	b.PutInt8(proto.TagGreeting)
	b.PutNullString([]byte("8.0.34-test"))
	b.PutInt32(7)
	b.PutFixedString([]byte("12345678"))
	b.PutInt8(0)
	b.PutInt16(uint16(caps))
	b.PutInt8(proto.DefaultCharset)
	b.PutInt16(proto.StatusAutocommit)
	b.PutInt16(uint16(caps >> 16))
	b.PutInt8(21) // auth-data length: 8 + 12 + 1
	b.PutFixedString(make([]byte, 10))
	part2 := append([]byte("123456789012"), 0x00)
	b.PutFixedString(part2)
	b.PutNullString([]byte("mysql_native_password"))
	if err := s.conn.WriteRawPacket(b.Bytes()); err != nil {
		s.t.Fatalf("writeGreeting: %v", err)
	}
}

func (s *serverSide) writeColumnDef(name string, fieldType byte, unsigned bool) {
	s.t.Helper()
	b := wire.NewBuilder(32)
	b.PutLengthEncodedString([]byte("def"))
	b.PutLengthEncodedString([]byte("testdb"))
	b.PutLengthEncodedString([]byte("t"))
	b.PutLengthEncodedString([]byte("t"))
	b.PutLengthEncodedString([]byte(name))
	b.PutLengthEncodedString([]byte(name))
	b.PutLengthEncodedInt(0x0C)
	b.PutInt16(uint16(proto.DefaultCharset))
	b.PutInt32(64)
	b.PutInt8(fieldType)
	flags := uint16(0)
	if unsigned {
		flags = uint16(proto.UnsignedFlag)
	}
	b.PutInt16(flags)
	b.PutInt8(0)
	b.PutInt8(0)
	b.PutInt8(0)
	if err := s.conn.WriteRawPacket(b.Bytes()); err != nil {
		s.t.Fatalf("writeColumnDef: %v", err)
	}
}

func (s *serverSide) writeEOF() {
	s.t.Helper()
	b := wire.NewBuilder(5)
	b.PutInt8(proto.TagEOF)
	b.PutInt16(0)
	b.PutInt16(proto.StatusAutocommit)
	if err := s.conn.WriteRawPacket(b.Bytes()); err != nil {
		s.t.Fatalf("writeEOF: %v", err)
	}
}

func (s *serverSide) writeStmtPrepareOK(stmtID uint32, columnCount, paramCount uint16) {
	s.t.Helper()
	b := wire.NewBuilder(16)
	b.PutInt8(proto.TagOK)
	b.PutInt32(stmtID)
	b.PutInt16(columnCount)
	b.PutInt16(paramCount)
	b.PutInt8(0)
	b.PutInt16(0)
	if err := s.conn.WriteRawPacket(b.Bytes()); err != nil {
		s.t.Fatalf("writeStmtPrepareOK: %v", err)
	}
}

func (s *serverSide) writeBinaryRow(nullSet map[int]bool, width int, values [][]byte) {
	s.t.Helper()
	b := wire.NewBuilder(32)
	b.PutInt8(0x00)
	b.PutNullBitmap(width, nullSet)
	for i, v := range values {
		if nullSet[i] {
			continue
		}
		b.PutFixedString(v)
	}
	if err := s.conn.WriteRawPacket(b.Bytes()); err != nil {
		s.t.Fatalf("writeBinaryRow: %v", err)
	}
}

func (s *serverSide) readRaw() []byte {
	s.t.Helper()
	raw, err := s.conn.ReadRawPacket()
	if err != nil {
		s.t.Fatalf("server readRaw: %v", err)
	}
	return raw
}

// handshakeOK drives a full successful handshake: greeting, then reads the
// client's response and replies OK.
func (s *serverSide) handshakeOK() {
	s.writeGreeting()
	s.readRaw() // handshake response
	s.conn.ResetSeq()
	s.writeOK(0, 0, proto.StatusAutocommit)
}

// newTestClient starts a fake server goroutine that performs a successful
// handshake, then returns the live Client plus a serverSide the test can
// keep scripting against.
func newTestClient(t *testing.T) (*Client, *serverSide) {
	t.Helper()
	clientRaw, serverRaw := net.Pipe()

	srv := &serverSide{t: t, conn: wire.NewConn(serverRaw), raw: serverRaw}
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.handshakeOK()
	}()

	c, err := newClient(clientRaw, "appuser", "s3cret", "appdb", nil)
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	<-done
	return c, srv
}

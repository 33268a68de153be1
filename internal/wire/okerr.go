package wire

import (
	"strconv"

	"github.com/dbbouncer/asyncmy/internal/proto"
)

// OKPacket is the parsed form of an OK (0x00) or short EOF (0xFE, length
// < 9) response packet, per spec.md §4.3's parseOk.
type OKPacket struct {
	AffectedRows uint64
	LastInsertID uint64
	StatusFlags  uint16
	Warnings     uint16
	Info         []byte
	SessionState []byte
}

// InTransaction reports whether the SERVER_STATUS_IN_TRANS bit is set.
func (p *OKPacket) InTransaction() bool {
	return p.StatusFlags&proto.StatusInTrans != 0
}

// ParseOK parses the body of an OK/EOF packet. r must already have its
// leading type byte consumed by the caller. caps determines whether
// PROTOCOL_41 status/warnings fields and SESSION_TRACK info framing are
// present.
func ParseOK(r *Reader, caps proto.CapabilitySet) (*OKPacket, error) {
	affected, _, err := r.ReadLengthEncodedInt()
	if err != nil {
		return nil, newCodecError("ok.affected-rows", err)
	}
	lastID, _, err := r.ReadLengthEncodedInt()
	if err != nil {
		return nil, newCodecError("ok.last-insert-id", err)
	}

	ok := &OKPacket{AffectedRows: affected, LastInsertID: lastID}

	if caps.Has(proto.CapabilityProtocol41) {
		status, err := r.ReadInt16()
		if err != nil {
			return nil, newCodecError("ok.status", err)
		}
		warnings, err := r.ReadInt16()
		if err != nil {
			return nil, newCodecError("ok.warnings", err)
		}
		ok.StatusFlags = status
		ok.Warnings = warnings
	}

	if caps.Has(proto.CapabilitySessionTrack) {
		if r.Len() == 0 {
			return ok, nil
		}
		info, _, err := r.ReadLengthEncodedString()
		if err != nil {
			return nil, newCodecError("ok.info", err)
		}
		ok.Info = info
		if ok.StatusFlags&proto.StatusSessionStateChanged != 0 && r.Len() > 0 {
			changes, _, err := r.ReadLengthEncodedString()
			if err != nil {
				return nil, newCodecError("ok.session-state-changes", err)
			}
			ok.SessionState = changes
		}
	} else {
		ok.Info = r.ReadEOFString()
	}

	return ok, nil
}

// ErrPacket is the parsed form of a 0xFF ERR response.
type ErrPacket struct {
	Code     uint16
	SQLState string
	Message  string
}

func (e *ErrPacket) Error() string {
	return "server error " + strconv.Itoa(int(e.Code)) + " (" + e.SQLState + "): " + e.Message
}

// ParseErr parses the body of an ERR packet. r must already have its
// leading 0xFF type byte consumed by the caller.
func ParseErr(r *Reader, caps proto.CapabilitySet) (*ErrPacket, error) {
	code, err := r.ReadInt16()
	if err != nil {
		return nil, newCodecError("err.code", err)
	}
	sqlState := ""
	if caps.Has(proto.CapabilityProtocol41) {
		if _, err := r.ReadInt8(); err != nil { // '#' marker
			return nil, newCodecError("err.sqlstate-marker", err)
		}
		raw, err := r.ReadFixedString(5)
		if err != nil {
			return nil, newCodecError("err.sqlstate", err)
		}
		sqlState = string(raw)
	}
	msg := r.ReadEOFString()
	return &ErrPacket{Code: code, SQLState: sqlState, Message: string(msg)}, nil
}

package wire

import (
	"bytes"
	"io"
)

// maxPacketLength is the 24-bit frame length field's maximum value,
// 0x00FFFFFF. A frame carrying exactly this length is not terminal — the
// real payload continues in the next frame.
const maxPacketLength = 0x00FFFFFF

// Conn frames and unframes packets on top of a raw duplex byte stream,
// tracking the protocol's running sequence counter. It owns no
// concurrency discipline of its own — exactly one goroutine may call
// ReadPacket/WritePacket on a given Conn at a time; that invariant is
// enforced one layer up, by the Client's Executor (spec.md §4.3).
type Conn struct {
	rw  io.ReadWriter
	seq int // -1 means idle; next outbound packet is seq 0
}

// NewConn wraps rw for packet framing, with the sequence counter reset
// to idle.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw, seq: -1}
}

// Seq returns the current sequence counter value (-1 when idle).
func (c *Conn) Seq() int { return c.seq }

// ResetSeq sets the sequence counter back to idle (-1). Called at the
// boundary of every command closure, success or failure, per spec.md
// §4.3.
func (c *Conn) ResetSeq() { c.seq = -1 }

// nextSeq advances and returns the sequence byte to stamp on the next
// outbound frame header.
func (c *Conn) nextSeq() byte {
	c.seq = (c.seq + 1) % 256
	return byte(c.seq)
}

// ReadRawPacket reads the next logical packet — concatenating
// continuation frames when a frame's length equals maxPacketLength — and
// returns its full payload unfiltered (the type byte, if any, is still
// the first byte of the returned slice). The sequence counter is updated
// from the final frame's header byte.
func (c *Conn) ReadRawPacket() ([]byte, error) {
	var assembled []byte
	for {
		header := make([]byte, 4)
		if _, err := io.ReadFull(c.rw, header); err != nil {
			return nil, newCodecError("read-header", err)
		}
		length := uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16
		c.seq = int(header[3])

		payload := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(c.rw, payload); err != nil {
				return nil, newCodecError("read-payload", err)
			}
		}
		assembled = append(assembled, payload...)

		if length < maxPacketLength {
			return assembled, nil
		}
		// length == maxPacketLength: more frames follow for this packet.
	}
}

// WriteRawPacket frames payload (splitting into maxPacketLength chunks
// if necessary, always terminated by a frame shorter than
// maxPacketLength, including an explicit empty terminal frame when the
// payload length is an exact multiple of maxPacketLength) and writes it,
// stamping each frame's sequence as (prev+1) mod 256.
func (c *Conn) WriteRawPacket(payload []byte) error {
	var buf bytes.Buffer
	remaining := payload
	for {
		chunkLen := len(remaining)
		full := chunkLen >= maxPacketLength
		if full {
			chunkLen = maxPacketLength
		}
		chunk := remaining[:chunkLen]
		remaining = remaining[chunkLen:]

		seq := c.nextSeq()
		buf.Reset()
		buf.WriteByte(byte(chunkLen))
		buf.WriteByte(byte(chunkLen >> 8))
		buf.WriteByte(byte(chunkLen >> 16))
		buf.WriteByte(seq)
		buf.Write(chunk)
		if _, err := c.rw.Write(buf.Bytes()); err != nil {
			return newCodecError("write-frame", err)
		}

		// A chunk of exactly maxPacketLength is never terminal, even if
		// it happens to be the last bytes of payload: the reader can't
		// tell "ended exactly on the boundary" from "more data follows"
		// without an explicit empty frame after it.
		if !full {
			return nil
		}
	}
}

package wire

import (
	"bytes"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(&buf)
	payload := []byte("hello")
	if err := c.WriteRawPacket(payload); err != nil {
		t.Fatal(err)
	}

	c2 := NewConn(&buf)
	got, err := c2.ReadRawPacket()
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
	if c2.Seq() != 0 {
		t.Fatalf("seq = %d, want 0", c2.Seq())
	}
}

func TestSequenceIncrementsAcrossWrites(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(&buf)
	for i := 0; i < 3; i++ {
		if err := c.WriteRawPacket([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if c.Seq() != 2 {
		t.Fatalf("seq = %d, want 2", c.Seq())
	}
}

func TestSequenceWrapsAt256(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(&buf)
	c.seq = 254
	for i := 0; i < 3; i++ {
		if err := c.WriteRawPacket([]byte{0}); err != nil {
			t.Fatal(err)
		}
	}
	if c.Seq() != 1 {
		t.Fatalf("seq = %d, want 1 (wrapped)", c.Seq())
	}
}

func TestResetSeqReturnsToIdle(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(&buf)
	c.WriteRawPacket([]byte{1})
	c.ResetSeq()
	if c.Seq() != -1 {
		t.Fatalf("seq = %d, want -1", c.Seq())
	}
}

func TestEmptyFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(&buf)
	if err := c.WriteRawPacket(nil); err != nil {
		t.Fatal(err)
	}
	c2 := NewConn(&buf)
	got, err := c2.ReadRawPacket()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("got %v, want empty", got)
	}
}

func TestMultiPacketContinuation(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, maxPacketLength+100)

	var buf bytes.Buffer
	c := NewConn(&buf)
	if err := c.WriteRawPacket(payload); err != nil {
		t.Fatal(err)
	}

	c2 := NewConn(&buf)
	got, err := c2.ReadRawPacket()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestMultiPacketExactBoundaryNeedsTerminalEmptyFrame(t *testing.T) {
	payload := bytes.Repeat([]byte{0x7}, maxPacketLength)

	var buf bytes.Buffer
	c := NewConn(&buf)
	if err := c.WriteRawPacket(payload); err != nil {
		t.Fatal(err)
	}
	// Expect two frames: one full maxPacketLength frame, then an empty
	// terminal frame. Header is 4 bytes each.
	wantBytes := 4 + maxPacketLength + 4
	if buf.Len() != wantBytes {
		t.Fatalf("wrote %d bytes, want %d", buf.Len(), wantBytes)
	}

	c2 := NewConn(&buf)
	got, err := c2.ReadRawPacket()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

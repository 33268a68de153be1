package wire

import (
	"testing"

	"github.com/dbbouncer/asyncmy/internal/proto"
)

func TestDecodeBinaryRowMixedTypes(t *testing.T) {
	cols := []*ColumnDefinition{
		{Type: proto.FieldTypeVarChar},
		{Type: proto.FieldTypeLongLong},
		{Type: proto.FieldTypeDouble},
		{Type: proto.FieldTypeTiny},
	}

	b := NewBuilder(0)
	b.PutNullBitmap(4, map[int]bool{2: true}) // column index 2 (double) is NULL
	b.PutLengthEncodedString([]byte("hello"))
	b.PutInt64(123456789)
	// column 2 is null: no bytes
	b.PutInt8(7)

	vals, err := DecodeBinaryRow(NewReader(b.Bytes()), cols)
	if err != nil {
		t.Fatal(err)
	}
	if string(vals[0].([]byte)) != "hello" {
		t.Fatalf("col0 = %v", vals[0])
	}
	if vals[1].(int64) != 123456789 {
		t.Fatalf("col1 = %v", vals[1])
	}
	if vals[2] != nil {
		t.Fatalf("col2 = %v, want nil", vals[2])
	}
	if vals[3].(int8) != 7 {
		t.Fatalf("col3 = %v", vals[3])
	}
}

func TestDecodeBinaryRowUnsigned(t *testing.T) {
	cols := []*ColumnDefinition{
		{Type: proto.FieldTypeLong, Flags: uint16(proto.UnsignedFlag)},
	}
	b := NewBuilder(0)
	b.PutNullBitmap(1, nil)
	b.PutInt32(4294967295)

	vals, err := DecodeBinaryRow(NewReader(b.Bytes()), cols)
	if err != nil {
		t.Fatal(err)
	}
	if vals[0].(uint32) != 4294967295 {
		t.Fatalf("got %v", vals[0])
	}
}

func TestDecodeBinaryRowUnsupportedType(t *testing.T) {
	cols := []*ColumnDefinition{{Type: proto.FieldTypeDate}}
	b := NewBuilder(0)
	b.PutNullBitmap(1, nil)
	_, err := DecodeBinaryRow(NewReader(b.Bytes()), cols)
	if err == nil {
		t.Fatal("expected UnsupportedTypeError")
	}
	var ute *UnsupportedTypeError
	if _, ok := err.(*UnsupportedTypeError); !ok {
		_ = ute
		t.Fatalf("got %T: %v", err, err)
	}
}

func TestEncodeParamTypes(t *testing.T) {
	cases := []struct {
		in       any
		wantType byte
	}{
		{nil, proto.FieldTypeNull},
		{true, proto.FieldTypeTiny},
		{int64(100), proto.FieldTypeShort},
		{int64(-100), proto.FieldTypeLongLong},
		{int64(1 << 20), proto.FieldTypeLongLong},
		{3.14, proto.FieldTypeDouble},
		{"hello", proto.FieldTypeLongBlob},
		{[]byte("bytes"), proto.FieldTypeLongBlob},
	}
	for _, c := range cases {
		ep, err := EncodeParam(c.in)
		if err != nil {
			t.Fatalf("%v: %v", c.in, err)
		}
		if ep.Type != c.wantType {
			t.Errorf("%v: type = 0x%x, want 0x%x", c.in, ep.Type, c.wantType)
		}
	}
}

func TestEncodeParamNullSetsIsNull(t *testing.T) {
	ep, err := EncodeParam(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ep.IsNull {
		t.Fatal("expected IsNull")
	}
	if len(ep.Body) != 0 {
		t.Fatalf("expected empty body for null, got %v", ep.Body)
	}
}

func TestEncodeParamSmallIntUnsignedFlag(t *testing.T) {
	ep, err := EncodeParam(int64(42))
	if err != nil {
		t.Fatal(err)
	}
	if !ep.Unsigned {
		t.Fatal("expected unsigned flag set for small non-negative int")
	}
}

func TestEncodeParamLargeIntUnsignedFlagMatchesSign(t *testing.T) {
	pos, _ := EncodeParam(int64(1) << 40)
	if !pos.Unsigned {
		t.Fatal("expected unsigned flag set for large positive int")
	}
	neg, _ := EncodeParam(int64(-1) << 40)
	if neg.Unsigned {
		t.Fatal("expected unsigned flag clear for negative int")
	}
}

func TestEncodeParamUnsupportedType(t *testing.T) {
	_, err := EncodeParam(struct{}{})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestParseColumnDefinition(t *testing.T) {
	b := NewBuilder(0)
	b.PutLengthEncodedString([]byte("def"))
	b.PutLengthEncodedString([]byte("testdb"))
	b.PutLengthEncodedString([]byte("customer"))
	b.PutLengthEncodedString([]byte("customer"))
	b.PutLengthEncodedString([]byte("name"))
	b.PutLengthEncodedString([]byte("name"))
	b.PutLengthEncodedInt(0x0C)
	b.PutInt16(45)
	b.PutInt32(255)
	b.PutInt8(proto.FieldTypeVarChar)
	b.PutInt16(0)
	b.PutInt8(0)
	b.PutInt16(0) // filler

	cd, err := ParseColumnDefinition(NewReader(b.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if string(cd.Name) != "name" || cd.Type != proto.FieldTypeVarChar || cd.Charset != 45 {
		t.Fatalf("got %+v", cd)
	}
}

func TestParseColumnDefinitionBadMarker(t *testing.T) {
	b := NewBuilder(0)
	b.PutLengthEncodedString(nil)
	b.PutLengthEncodedString(nil)
	b.PutLengthEncodedString(nil)
	b.PutLengthEncodedString(nil)
	b.PutLengthEncodedString(nil)
	b.PutLengthEncodedString(nil)
	b.PutLengthEncodedInt(5) // wrong marker

	_, err := ParseColumnDefinition(NewReader(b.Bytes()))
	if err == nil {
		t.Fatal("expected error")
	}
}

package wire

import "github.com/dbbouncer/asyncmy/internal/proto"

// UnsupportedTypeError is returned by DecodeBinaryRow when a column's
// field type has no binary-protocol decode rule in spec.md §4.4's table.
type UnsupportedTypeError struct {
	Type byte
}

func (e *UnsupportedTypeError) Error() string {
	return codecErrorf("binary-row", "unsupported field type 0x%02x", e.Type).Error()
}

// DecodeBinaryRow parses one binary-protocol result row. r must already
// have the leading 0x00 packet-header byte consumed by the caller. cols
// gives the column definitions in result-set order; the returned slice
// has one entry per column, nil for SQL NULL.
func DecodeBinaryRow(r *Reader, cols []*ColumnDefinition) ([]any, error) {
	nullSet, err := r.ReadNullBitmap(len(cols))
	if err != nil {
		return nil, err
	}

	values := make([]any, len(cols))
	for i, col := range cols {
		if nullSet[i] {
			values[i] = nil
			continue
		}

		switch {
		case proto.IsStringFamily(col.Type):
			s, isNull, err := r.ReadLengthEncodedString()
			if err != nil {
				return nil, newCodecError("binary-row.string", err)
			}
			if isNull {
				values[i] = nil
			} else {
				values[i] = append([]byte(nil), s...)
			}

		case col.Type == proto.FieldTypeLongLong:
			v, err := r.ReadInt64()
			if err != nil {
				return nil, newCodecError("binary-row.longlong", err)
			}
			if col.Unsigned() {
				values[i] = v
			} else {
				values[i] = int64(v)
			}

		case col.Type == proto.FieldTypeLong || col.Type == proto.FieldTypeInt24:
			v, err := r.ReadInt32()
			if err != nil {
				return nil, newCodecError("binary-row.long", err)
			}
			if col.Unsigned() {
				values[i] = uint32(v)
			} else {
				values[i] = int32(v)
			}

		case col.Type == proto.FieldTypeShort || col.Type == proto.FieldTypeYear:
			v, err := r.ReadInt16()
			if err != nil {
				return nil, newCodecError("binary-row.short", err)
			}
			if col.Unsigned() {
				values[i] = v
			} else {
				values[i] = int16(v)
			}

		case col.Type == proto.FieldTypeTiny:
			v, err := r.ReadInt8()
			if err != nil {
				return nil, newCodecError("binary-row.tiny", err)
			}
			if col.Unsigned() {
				values[i] = v
			} else {
				values[i] = int8(v)
			}

		case col.Type == proto.FieldTypeFloat:
			v, err := r.ReadFloat32()
			if err != nil {
				return nil, newCodecError("binary-row.float", err)
			}
			values[i] = v

		case col.Type == proto.FieldTypeDouble:
			v, err := r.ReadFloat64()
			if err != nil {
				return nil, newCodecError("binary-row.double", err)
			}
			values[i] = v

		case col.Type == proto.FieldTypeNull:
			values[i] = nil

		default:
			return nil, &UnsupportedTypeError{Type: col.Type}
		}
	}
	return values, nil
}

// EncodedParam is the per-parameter encoding spec.md §4.4's value table
// maps a host value to: the MySQL type tag, the unsigned flag byte, and
// the value body (empty for NULL, whose bit is instead set in the
// parameter NULL bitmap by the caller).
type EncodedParam struct {
	Type     byte
	Unsigned bool
	Body     []byte
	IsNull   bool
}

// EncodingError reports a host value the parameter encoder refuses to
// send — currently only a Go type with no entry in the host-category
// table. Integer inputs never produce it: every Go integer type fits the
// 64-bit LONGLONG field.
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string { return "wire: encoding error: " + e.Reason }

// EncodeParam maps a Go value to its MySQL binary-protocol parameter
// encoding per spec.md §4.4's host-category table.
func EncodeParam(v any) (*EncodedParam, error) {
	switch val := v.(type) {
	case nil:
		return &EncodedParam{Type: proto.FieldTypeNull, IsNull: true}, nil

	case bool:
		b := NewBuilder(1)
		if val {
			b.PutInt8(1)
		} else {
			b.PutInt8(0)
		}
		return &EncodedParam{Type: proto.FieldTypeTiny, Body: b.Bytes()}, nil

	case int:
		return encodeSignedInt(int64(val))
	case int8:
		return encodeSignedInt(int64(val))
	case int16:
		return encodeSignedInt(int64(val))
	case int32:
		return encodeSignedInt(int64(val))
	case int64:
		return encodeSignedInt(val)

	case uint:
		return encodeUnsignedInt(uint64(val))
	case uint8:
		return encodeUnsignedInt(uint64(val))
	case uint16:
		return encodeUnsignedInt(uint64(val))
	case uint32:
		return encodeUnsignedInt(uint64(val))
	case uint64:
		return encodeUnsignedInt(val)

	case float32:
		b := NewBuilder(8)
		b.PutFloat64(float64(val))
		return &EncodedParam{Type: proto.FieldTypeDouble, Body: b.Bytes()}, nil
	case float64:
		b := NewBuilder(8)
		b.PutFloat64(val)
		return &EncodedParam{Type: proto.FieldTypeDouble, Body: b.Bytes()}, nil

	case string:
		b := NewBuilder(len(val) + 9)
		b.PutLengthEncodedString([]byte(val))
		return &EncodedParam{Type: proto.FieldTypeLongBlob, Body: b.Bytes()}, nil
	case []byte:
		b := NewBuilder(len(val) + 9)
		b.PutLengthEncodedString(val)
		return &EncodedParam{Type: proto.FieldTypeLongBlob, Body: b.Bytes()}, nil

	default:
		return nil, &EncodingError{Reason: "unsupported parameter host type"}
	}
}

func encodeSignedInt(v int64) (*EncodedParam, error) {
	if v >= 0 && v < 1<<15 {
		b := NewBuilder(2)
		b.PutInt16(uint16(v))
		return &EncodedParam{Type: proto.FieldTypeShort, Unsigned: true, Body: b.Bytes()}, nil
	}
	b := NewBuilder(8)
	b.PutInt64(uint64(v))
	return &EncodedParam{Type: proto.FieldTypeLongLong, Unsigned: v >= 0, Body: b.Bytes()}, nil
}

// encodeUnsignedInt encodes a Go uint64 parameter. spec.md §9 notes the
// source's latent encodeInt overflow for values above 2^63-1 and says to
// reject them "unless the host supports uint64 natively" — Go's uint64
// is exactly that native 64-bit unsigned type, so every value in its
// range (up to MaxLengthEncodableInt, math.MaxUint64) is representable
// and no EncodingError path exists for this input type. A value that
// can't fit — because it came in as some larger host type — would fail
// at the type switch in EncodeParam before ever reaching here.
func encodeUnsignedInt(v uint64) (*EncodedParam, error) {
	if v < 1<<15 {
		b := NewBuilder(2)
		b.PutInt16(uint16(v))
		return &EncodedParam{Type: proto.FieldTypeShort, Unsigned: true, Body: b.Bytes()}, nil
	}
	b := NewBuilder(8)
	b.PutInt64(v)
	return &EncodedParam{Type: proto.FieldTypeLongLong, Unsigned: true, Body: b.Bytes()}, nil
}

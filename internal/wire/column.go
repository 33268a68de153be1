package wire

import "github.com/dbbouncer/asyncmy/internal/proto"

// ColumnDefinition is a parsed column (or, during PREPARE, parameter)
// definition packet, per spec.md §4.4.
type ColumnDefinition struct {
	Catalog      []byte
	Schema       []byte
	Table        []byte
	OrgTable     []byte
	Name         []byte
	OrgName      []byte
	Charset      uint16
	ColumnLength uint32
	Type         byte
	Flags        uint16
	Decimals     byte
}

// Unsigned reports whether the column's UNSIGNED_FLAG is set.
func (c *ColumnDefinition) Unsigned() bool {
	return c.Flags&uint16(proto.UnsignedFlag) != 0
}

// ParseColumnDefinition reads one column-definition packet body: six
// length-encoded strings, a fixed length-encoded-int marker of value
// 0x0C, then charset/length/type/flags/decimals and two filler bytes.
func ParseColumnDefinition(r *Reader) (*ColumnDefinition, error) {
	cd := &ColumnDefinition{}
	var err error
	if cd.Catalog, _, err = r.ReadLengthEncodedString(); err != nil {
		return nil, newCodecError("column.catalog", err)
	}
	if cd.Schema, _, err = r.ReadLengthEncodedString(); err != nil {
		return nil, newCodecError("column.schema", err)
	}
	if cd.Table, _, err = r.ReadLengthEncodedString(); err != nil {
		return nil, newCodecError("column.table", err)
	}
	if cd.OrgTable, _, err = r.ReadLengthEncodedString(); err != nil {
		return nil, newCodecError("column.org-table", err)
	}
	if cd.Name, _, err = r.ReadLengthEncodedString(); err != nil {
		return nil, newCodecError("column.name", err)
	}
	if cd.OrgName, _, err = r.ReadLengthEncodedString(); err != nil {
		return nil, newCodecError("column.org-name", err)
	}

	marker, _, err := r.ReadLengthEncodedInt()
	if err != nil {
		return nil, newCodecError("column.fixed-marker", err)
	}
	if marker != 0x0C {
		return nil, codecErrorf("column.fixed-marker", "expected 0x0C, got 0x%x", marker)
	}

	if cd.Charset, err = r.ReadInt16(); err != nil {
		return nil, newCodecError("column.charset", err)
	}
	if cd.ColumnLength, err = r.ReadInt32(); err != nil {
		return nil, newCodecError("column.length", err)
	}
	typeByte, err := r.ReadInt8()
	if err != nil {
		return nil, newCodecError("column.type", err)
	}
	cd.Type = typeByte
	if cd.Flags, err = r.ReadInt16(); err != nil {
		return nil, newCodecError("column.flags", err)
	}
	decimals, err := r.ReadInt8()
	if err != nil {
		return nil, newCodecError("column.decimals", err)
	}
	cd.Decimals = decimals
	if err := r.Skip(2); err != nil { // filler
		return nil, newCodecError("column.filler", err)
	}
	return cd, nil
}

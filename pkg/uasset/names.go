package uasset

import (
	"fmt"
	"unicode/utf16"

	"github.com/asset-forge/pakex/pkg/common"
)

// readString reads a length-prefixed serialized string. A positive
// length is UTF-8 bytes including a trailing NUL; a negative length is
// that many UTF-16 code units including the terminator.
func readString(r *common.ByteReader) (string, error) {
	length := r.I32()
	switch {
	case length == 0:
		return "", nil
	case length > 0:
		if length > maxSerializedString {
			return "", fmt.Errorf("%w: string length %d exceeds cap", common.ErrSchemaMismatch, length)
		}
		buf := r.Bytes(int(length))
		if err := r.Err(); err != nil {
			return "", err
		}
		if buf[length-1] != 0 {
			return "", fmt.Errorf("%w: string missing NUL terminator", common.ErrSchemaMismatch)
		}
		return string(buf[:length-1]), nil
	default:
		units := -length
		if units > maxSerializedString {
			return "", fmt.Errorf("%w: string length %d exceeds cap", common.ErrSchemaMismatch, units)
		}
		buf := r.Bytes(int(units) * 2)
		if err := r.Err(); err != nil {
			return "", err
		}
		codes := make([]uint16, units)
		for i := range codes {
			codes[i] = uint16(buf[2*i]) | uint16(buf[2*i+1])<<8
		}
		if codes[units-1] != 0 {
			return "", fmt.Errorf("%w: string missing NUL terminator", common.ErrSchemaMismatch)
		}
		return string(utf16.Decode(codes[:units-1])), nil
	}
}

const maxSerializedString = 64 * 1024

// nameTable holds the asset's deduplicated string pool. Serialized
// names reference it by index plus an instance number.
type nameTable struct {
	names []string
}

func readNameTable(r *common.ByteReader, count, offset uint32) (*nameTable, error) {
	r.Seek(int(offset))
	nt := &nameTable{names: make([]string, 0, count)}
	for i := uint32(0); i < count; i++ {
		s, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("name %d: %w", i, err)
		}
		nt.names = append(nt.names, s)
	}
	return nt, nil
}

// readName reads a serialized name reference: pool index plus instance
// number, where instance N > 0 renders as "Name_{N-1}".
func (nt *nameTable) readName(r *common.ByteReader) (string, error) {
	idx := r.U32()
	number := r.U32()
	if err := r.Err(); err != nil {
		return "", err
	}
	if int(idx) >= len(nt.names) {
		return "", fmt.Errorf("%w: name index %d out of range (%d names)",
			common.ErrSchemaMismatch, idx, len(nt.names))
	}
	name := nt.names[idx]
	if number > 0 {
		name = fmt.Sprintf("%s_%d", name, number-1)
	}
	return name, nil
}

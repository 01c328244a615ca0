package common

import "fmt"

// Container constants. All multi-byte values in the archive are
// little-endian.
const (
	PakMagic uint32 = 0x5A6F12E1

	PakVersionMin uint32 = 4
	PakVersionMax uint32 = 9

	// Versions that carry an encryption key GUID in the footer.
	PakVersionKeyGUID uint32 = 7
	// Versions that carry a compression method name table in the footer.
	PakVersionNameTable uint32 = 8
	// Version that carries the frozen-index flag.
	PakVersionFrozen uint32 = 9

	// Number of 32-byte slots in the footer's method name table.
	MethodNameSlots  = 5
	MethodNameLength = 32

	HashLength     = 20
	KeyGUIDLength  = 16
	AESBlockLength = 16

	// Upper bound for a single compression block's uncompressed size.
	MaxBlockSize uint32 = 64 * 1024

	// Sanity cap for length-prefixed strings inside the index.
	MaxStringLength = 4096
)

// FooterSize returns the serialized footer size for a format version.
func FooterSize(version uint32) int {
	// encrypted flag + magic + version + index offset + index size + hash
	size := 1 + 4 + 4 + 8 + 8 + HashLength
	if version >= PakVersionKeyGUID {
		size += KeyGUIDLength
	}
	if version >= PakVersionFrozen {
		size += 1
	}
	if version >= PakVersionNameTable {
		size += MethodNameSlots * MethodNameLength
	}
	return size
}

// MaxFooterSize is the largest footer across all supported versions.
func MaxFooterSize() int {
	max := 0
	for v := PakVersionMin; v <= PakVersionMax; v++ {
		if s := FooterSize(v); s > max {
			max = s
		}
	}
	return max
}

type CompressionMethod uint32

const (
	MethodStored CompressionMethod = iota
	MethodZlib
	MethodGzip
	MethodZstd
	MethodLZ4
)

func (m CompressionMethod) String() string {
	switch m {
	case MethodStored:
		return ""
	case MethodZlib:
		return "Zlib"
	case MethodGzip:
		return "Gzip"
	case MethodZstd:
		return "Zstd"
	case MethodLZ4:
		return "LZ4"
	default:
		return fmt.Sprintf("method(%d)", uint32(m))
	}
}

// MethodFromName maps a footer name-table entry back to its method. The
// empty name is the stored/no-op method.
func MethodFromName(name string) (CompressionMethod, bool) {
	switch name {
	case "":
		return MethodStored, true
	case "Zlib":
		return MethodZlib, true
	case "Gzip":
		return MethodGzip, true
	case "Zstd":
		return MethodZstd, true
	case "LZ4":
		return MethodLZ4, true
	}
	return MethodStored, false
}

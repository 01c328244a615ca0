package pak

import (
	"bytes"
	"crypto/aes"
	"crypto/sha1"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/asset-forge/pakex/pkg/common"
)

// methodSlots is the footer name table used by synthetic archives.
var methodSlots = [common.MethodNameSlots]string{"Zlib", "Gzip", "Zstd", "LZ4", ""}

type testEntry struct {
	path      string
	data      []byte
	method    common.CompressionMethod
	encrypted bool
	blockSize uint32
}

type testArchive struct {
	version        uint32
	mountPoint     string
	indexEncrypted bool
	key            []byte
	entries        []testEntry

	// fault injection
	corruptEntryHash   bool
	corruptIndexHash   bool
	inflateUncompressed bool
	breakBlockSum      bool
	rawMethodOverride  *uint32
}

func defaultTestArchive() *testArchive {
	return &testArchive{version: 9, mountPoint: "../../../"}
}

// write lays the archive out in a temp file and returns its path.
func (ta *testArchive) write(t *testing.T) string {
	t.Helper()

	var payload bytes.Buffer
	records := make([]bytes.Buffer, len(ta.entries))

	for i, e := range ta.entries {
		blockSize := e.blockSize
		if blockSize == 0 {
			blockSize = common.MaxBlockSize
		}
		offset := uint64(payload.Len())

		var compressedSize uint64
		var blocks []common.CompressionBlock
		if e.method == common.MethodStored {
			compressedSize = uint64(len(e.data))
			writeMaybeEncrypted(&payload, e.data, e.encrypted, ta.key, t)
		} else {
			for start := 0; start < len(e.data) || start == 0; start += int(blockSize) {
				end := start + int(blockSize)
				if end > len(e.data) {
					end = len(e.data)
				}
				compressed := compressChunk(t, e.method, e.data[start:end])
				blockStart := uint64(payload.Len())
				writeMaybeEncrypted(&payload, compressed, e.encrypted, ta.key, t)
				blocks = append(blocks, common.CompressionBlock{
					Start: blockStart,
					End:   blockStart + uint64(len(compressed)),
				})
				compressedSize += uint64(len(compressed))
				if len(e.data) == 0 {
					break
				}
			}
		}

		rec := &records[i]
		u64(rec, offset)
		declaredCompressed := compressedSize
		if ta.breakBlockSum && e.method != common.MethodStored {
			declaredCompressed++
		}
		u64(rec, declaredCompressed)
		uncompressed := uint64(len(e.data))
		if ta.inflateUncompressed {
			uncompressed++
		}
		u64(rec, uncompressed)

		raw := ta.rawMethod(e.method)
		if ta.rawMethodOverride != nil {
			raw = *ta.rawMethodOverride
		}
		u32(rec, raw)

		sum := sha1.Sum(e.data)
		if ta.corruptEntryHash {
			sum[0] ^= 0xFF
		}
		rec.Write(sum[:])

		if e.method != common.MethodStored {
			u32(rec, uint32(len(blocks)))
			for _, b := range blocks {
				u64(rec, b.Start)
				u64(rec, b.End)
			}
		}
		if e.encrypted {
			rec.WriteByte(1)
		} else {
			rec.WriteByte(0)
		}
		if e.method != common.MethodStored {
			u32(rec, blockSize)
		} else {
			u32(rec, 0)
		}
	}

	// index
	var index bytes.Buffer
	writeIndexString(&index, ta.mountPoint)
	u32(&index, uint32(len(ta.entries)))
	for i, e := range ta.entries {
		writeIndexString(&index, e.path)
		index.Write(records[i].Bytes())
	}

	indexBytes := index.Bytes()
	if ta.indexEncrypted {
		indexBytes = padToBlock(indexBytes)
	}
	indexHash := sha1.Sum(indexBytes)
	if ta.corruptIndexHash {
		indexHash[0] ^= 0xFF
	}
	if ta.indexEncrypted {
		indexBytes = encryptECB(t, ta.key, indexBytes)
	}

	indexOffset := uint64(payload.Len())

	// footer
	var footer bytes.Buffer
	if ta.version >= common.PakVersionKeyGUID {
		footer.Write(make([]byte, common.KeyGUIDLength))
	}
	if ta.indexEncrypted {
		footer.WriteByte(1)
	} else {
		footer.WriteByte(0)
	}
	u32(&footer, common.PakMagic)
	u32(&footer, ta.version)
	u64(&footer, indexOffset)
	u64(&footer, uint64(len(indexBytes)))
	footer.Write(indexHash[:])
	if ta.version >= common.PakVersionFrozen {
		footer.WriteByte(0)
	}
	if ta.version >= common.PakVersionNameTable {
		for _, name := range methodSlots {
			slot := make([]byte, common.MethodNameLength)
			copy(slot, name)
			footer.Write(slot)
		}
	}

	path := filepath.Join(t.TempDir(), "test.pak")
	var file bytes.Buffer
	file.Write(payload.Bytes())
	file.Write(indexBytes)
	file.Write(footer.Bytes())
	if err := os.WriteFile(path, file.Bytes(), 0644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	return path
}

func (ta *testArchive) rawMethod(m common.CompressionMethod) uint32 {
	if ta.version < common.PakVersionNameTable {
		return uint32(m)
	}
	if m == common.MethodStored {
		return 0
	}
	for i, name := range methodSlots {
		if name == m.String() {
			return uint32(i) + 1
		}
	}
	return 0
}

func compressChunk(t *testing.T, method common.CompressionMethod, data []byte) []byte {
	t.Helper()
	switch method {
	case common.MethodZlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		w.Write(data)
		w.Close()
		return buf.Bytes()
	case common.MethodGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		w.Write(data)
		w.Close()
		return buf.Bytes()
	case common.MethodZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			t.Fatalf("zstd writer: %v", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil)
	case common.MethodLZ4:
		var c lz4.Compressor
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := c.CompressBlock(data, dst)
		if err != nil || n == 0 {
			t.Fatalf("lz4 compress: n=%d err=%v (use compressible data)", n, err)
		}
		return dst[:n]
	default:
		t.Fatalf("cannot compress with method %v", method)
		return nil
	}
}

func writeMaybeEncrypted(payload *bytes.Buffer, data []byte, encrypted bool, key []byte, t *testing.T) {
	if !encrypted {
		payload.Write(data)
		return
	}
	payload.Write(encryptECB(t, key, padToBlock(data)))
}

func padToBlock(data []byte) []byte {
	padded := uint64(len(data))
	aligned := alignToBlock(padded)
	out := make([]byte, aligned)
	copy(out, data)
	return out
}

func encryptECB(t *testing.T, key, data []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	out := make([]byte, len(data))
	for off := 0; off < len(data); off += common.AESBlockLength {
		block.Encrypt(out[off:off+common.AESBlockLength], data[off:off+common.AESBlockLength])
	}
	return out
}

func writeIndexString(buf *bytes.Buffer, s string) {
	u32(buf, uint32(len(s)+1))
	buf.WriteString(s)
	buf.WriteByte(0)
}

func u32(buf *bytes.Buffer, v uint32) {
	binary.Write(buf, binary.LittleEndian, v)
}

func u64(buf *bytes.Buffer, v uint64) {
	binary.Write(buf, binary.LittleEndian, v)
}

// compressible produces n bytes that every codec can shrink.
func compressible(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte("abcdefgh"[i/16%8])
	}
	return data
}

var testKey = func() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 7)
	}
	return key
}()

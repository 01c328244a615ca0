package pak

import (
	"bytes"
	"crypto/cipher"
	"crypto/sha1"
	"fmt"
	"os"
	"strings"

	log "github.com/rs/zerolog/log"

	"github.com/asset-forge/pakex/pkg/common"
)

// Archive is an opened container: the parsed directory plus a seekable
// handle on the underlying file. Entry payloads are read on demand;
// the archive is never loaded whole.
type Archive struct {
	file    *os.File
	path    string
	index   *common.ArchiveIndex
	cipher  cipher.Block // nil when no key was supplied
	methods []common.CompressionMethod
}

// Options configures Open.
type Options struct {
	// Key is the AES-256 key for encrypted archives. May be nil for
	// unencrypted archives.
	Key []byte
}

type footer struct {
	encrypted   bool
	version     uint32
	indexOffset uint64
	indexSize   uint64
	indexHash   [common.HashLength]byte
	methods     []common.CompressionMethod
}

// Open parses the trailing footer and index of the archive at
// archivePath and returns a handle ready for extraction.
func Open(archivePath string, opts Options) (*Archive, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}

	a := &Archive{file: file, path: archivePath}
	if opts.Key != nil {
		a.cipher, err = newBlockCipher(opts.Key)
		if err != nil {
			file.Close()
			return nil, err
		}
	}

	if err := a.loadIndex(); err != nil {
		file.Close()
		return nil, err
	}

	log.Debug().Msgf("opened archive %s: version %d, %d entries",
		archivePath, a.index.Version, a.index.Len())
	return a, nil
}

func (a *Archive) Close() error {
	return a.file.Close()
}

// Index returns the archive directory. Read-only.
func (a *Archive) Index() *common.ArchiveIndex {
	return a.index
}

// List returns every entry path in index order.
func (a *Archive) List() []string {
	return a.index.Paths()
}

// Search returns entry paths containing substr, case-insensitively, in
// index order.
func (a *Archive) Search(substr string) []string {
	substr = strings.ToLower(substr)
	var out []string
	a.index.Walk(func(e *common.ArchiveEntry) bool {
		if strings.Contains(strings.ToLower(e.Path), substr) {
			out = append(out, e.Path)
		}
		return true
	})
	return out
}

func (a *Archive) loadIndex() error {
	stat, err := a.file.Stat()
	if err != nil {
		return err
	}

	ftr, err := a.readFooter(stat.Size())
	if err != nil {
		return err
	}
	a.methods = ftr.methods

	if ftr.indexOffset+ftr.indexSize > uint64(stat.Size()) {
		return fmt.Errorf("%w: index region [%d, %d) exceeds file size %d",
			common.ErrMalformed, ftr.indexOffset, ftr.indexOffset+ftr.indexSize, stat.Size())
	}

	indexBytes := make([]byte, ftr.indexSize)
	if _, err := a.file.ReadAt(indexBytes, int64(ftr.indexOffset)); err != nil {
		return fmt.Errorf("%w: reading index: %v", common.ErrTruncated, err)
	}

	if ftr.encrypted {
		if a.cipher == nil {
			return fmt.Errorf("%w: archive index is encrypted and no key was supplied", common.ErrBadKey)
		}
		if err := decryptBlocks(a.cipher, indexBytes); err != nil {
			return err
		}
	}

	// The footer hash covers the plaintext index. A mismatch after
	// decryption is the only wrong-key signal the format offers.
	if sum := sha1.Sum(indexBytes); sum != ftr.indexHash {
		if ftr.encrypted {
			return fmt.Errorf("%w: index hash mismatch after decryption", common.ErrBadKey)
		}
		return fmt.Errorf("%w: index hash mismatch", common.ErrMalformed)
	}

	return a.parseIndex(indexBytes, ftr)
}

// readFooter locates and parses the fixed-format footer. The footer
// size depends on the version, which itself lives in the footer, so
// each supported version's layout is tried until the magic and version
// agree.
func (a *Archive) readFooter(fileSize int64) (*footer, error) {
	for version := common.PakVersionMax; version >= common.PakVersionMin; version-- {
		size := int64(common.FooterSize(version))
		if fileSize < size {
			continue
		}
		buf := make([]byte, size)
		if _, err := a.file.ReadAt(buf, fileSize-size); err != nil {
			return nil, fmt.Errorf("%w: reading footer: %v", common.ErrTruncated, err)
		}
		ftr, err := parseFooter(buf, version)
		if err != nil {
			continue
		}
		return ftr, nil
	}
	return nil, fmt.Errorf("%w: no footer found for any supported version (%d-%d)",
		common.ErrBadMagic, common.PakVersionMin, common.PakVersionMax)
}

func parseFooter(buf []byte, version uint32) (*footer, error) {
	r := common.NewByteReader(buf)
	ftr := &footer{version: version}

	if version >= common.PakVersionKeyGUID {
		r.Skip(common.KeyGUIDLength) // encryption key GUID, informational
	}
	ftr.encrypted = r.U8() != 0

	if magic := r.U32(); magic != common.PakMagic {
		return nil, fmt.Errorf("%w: 0x%08X", common.ErrBadMagic, magic)
	}
	if got := r.U32(); got != version {
		return nil, fmt.Errorf("%w: footer version %d at version-%d offset",
			common.ErrUnsupportedVersion, got, version)
	}

	ftr.indexOffset = r.U64()
	ftr.indexSize = r.U64()
	copy(ftr.indexHash[:], r.Bytes(common.HashLength))

	if version >= common.PakVersionFrozen {
		if r.U8() != 0 {
			return nil, fmt.Errorf("%w: frozen index", common.ErrUnsupportedVersion)
		}
	}

	if version >= common.PakVersionNameTable {
		ftr.methods = make([]common.CompressionMethod, 0, common.MethodNameSlots)
		for i := 0; i < common.MethodNameSlots; i++ {
			raw := r.Bytes(common.MethodNameLength)
			name := string(bytes.TrimRight(raw, "\x00"))
			method, ok := common.MethodFromName(name)
			if !ok {
				return nil, fmt.Errorf("%w: %q", common.ErrUnknownCodec, name)
			}
			ftr.methods = append(ftr.methods, method)
		}
	}

	if err := r.Err(); err != nil {
		return nil, err
	}
	return ftr, nil
}

func (a *Archive) parseIndex(indexBytes []byte, ftr *footer) error {
	r := common.NewByteReader(indexBytes)

	mountPoint, err := readIndexString(r)
	if err != nil {
		return fmt.Errorf("%w: mount point: %v", common.ErrMalformed, err)
	}

	count := r.U32()
	index := common.NewArchiveIndex(mountPoint, ftr.version)

	for i := uint32(0); i < count; i++ {
		path, err := readIndexString(r)
		if err != nil {
			return fmt.Errorf("%w: entry %d path: %v", common.ErrMalformed, i, err)
		}
		entry, err := a.parseEntryRecord(r, ftr)
		if err != nil {
			return fmt.Errorf("entry %q: %w", path, err)
		}
		entry.Path = path
		index.Insert(entry)
	}

	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: index: %v", common.ErrMalformed, err)
	}

	a.index = index
	return nil
}

func (a *Archive) parseEntryRecord(r *common.ByteReader, ftr *footer) (*common.ArchiveEntry, error) {
	entry := &common.ArchiveEntry{}
	entry.Offset = r.U64()
	entry.CompressedSize = r.U64()
	entry.UncompressedSize = r.U64()

	rawMethod := r.U32()
	method, err := resolveMethod(rawMethod, ftr)
	if err != nil {
		return nil, err
	}
	entry.Method = method

	copy(entry.Hash[:], r.Bytes(common.HashLength))

	if entry.IsCompressed() {
		blockCount := r.U32()
		if int(blockCount) > r.Remaining()/16+1 {
			return nil, fmt.Errorf("%w: implausible block count %d", common.ErrMalformed, blockCount)
		}
		var sum uint64
		entry.Blocks = make([]common.CompressionBlock, 0, blockCount)
		for b := uint32(0); b < blockCount; b++ {
			block := common.CompressionBlock{Start: r.U64(), End: r.U64()}
			if block.End < block.Start {
				return nil, fmt.Errorf("%w: block %d ends before it starts", common.ErrMalformed, b)
			}
			sum += block.CompressedSize()
			entry.Blocks = append(entry.Blocks, block)
		}
		if r.Err() == nil && sum != entry.CompressedSize {
			return nil, fmt.Errorf("%w: block sizes sum to %d, declared compressed size %d",
				common.ErrMalformed, sum, entry.CompressedSize)
		}
	}

	entry.Encrypted = r.U8() != 0
	entry.BlockSize = r.U32()
	if entry.BlockSize > common.MaxBlockSize {
		return nil, fmt.Errorf("%w: block size %d exceeds maximum %d",
			common.ErrMalformed, entry.BlockSize, common.MaxBlockSize)
	}

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: entry record: %v", common.ErrMalformed, err)
	}
	return entry, nil
}

// resolveMethod maps an entry's on-disk method id to a codec. Version 8
// onwards stores an index into the footer name table; older versions
// store the method id directly.
func resolveMethod(raw uint32, ftr *footer) (common.CompressionMethod, error) {
	if ftr.version >= common.PakVersionNameTable {
		if raw == 0 {
			return common.MethodStored, nil
		}
		if int(raw) > len(ftr.methods) {
			return 0, fmt.Errorf("%w: method slot %d out of range", common.ErrUnknownCodec, raw)
		}
		return ftr.methods[raw-1], nil
	}
	method := common.CompressionMethod(raw)
	if method > common.MethodLZ4 {
		return 0, fmt.Errorf("%w: %d", common.ErrUnknownCodec, raw)
	}
	return method, nil
}

// readIndexString reads a u32 length-prefixed, NUL-terminated string.
func readIndexString(r *common.ByteReader) (string, error) {
	length := r.U32()
	if length == 0 {
		return "", nil
	}
	if length > common.MaxStringLength {
		return "", fmt.Errorf("string length %d exceeds cap", length)
	}
	buf := r.Bytes(int(length))
	if err := r.Err(); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf, "\x00")), nil
}

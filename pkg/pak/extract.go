package pak

import (
	"bytes"
	"crypto/sha1"
	"fmt"

	"github.com/asset-forge/pakex/pkg/common"

	log "github.com/rs/zerolog/log"
)

// Extract materializes one entry: looks it up, decrypts and
// decompresses as flagged, concatenates the blocks in index order and
// verifies the stored content hash over the reconstructed bytes.
func (a *Archive) Extract(path string) ([]byte, error) {
	entry, ok := a.index.Get(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrNotFound, path)
	}

	var (
		data []byte
		err  error
	)
	if entry.IsCompressed() {
		data, err = a.readCompressed(entry)
	} else {
		data, err = a.readStored(entry)
	}
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", entry.Path, err)
	}

	if sum := sha1.Sum(data); !bytes.Equal(sum[:], entry.Hash[:]) {
		return nil, fmt.Errorf("%w: %s", common.ErrHashMismatch, entry.Path)
	}

	log.Debug().Msgf("extracted %s (%d bytes)", entry.Path, len(data))
	return data, nil
}

func (a *Archive) readStored(entry *common.ArchiveEntry) ([]byte, error) {
	data, err := a.readRegion(entry.Offset, entry.UncompressedSize, entry.Encrypted)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (a *Archive) readCompressed(entry *common.ArchiveEntry) ([]byte, error) {
	out := make([]byte, 0, entry.UncompressedSize)
	remaining := entry.UncompressedSize

	for i, block := range entry.Blocks {
		src, err := a.readRegion(block.Start, block.CompressedSize(), entry.Encrypted)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}

		// Every block holds a full BlockSize of output except the last,
		// which holds whatever remains.
		want := uint64(entry.BlockSize)
		if remaining < want {
			want = remaining
		}

		decoded, err := decompressBlock(entry.Method, src, int(want))
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		out = append(out, decoded...)
		remaining -= want
	}

	if uint64(len(out)) != entry.UncompressedSize {
		return nil, fmt.Errorf("%w: reconstructed %d bytes, declared %d",
			common.ErrTruncated, len(out), entry.UncompressedSize)
	}
	return out, nil
}

// readRegion reads length payload bytes at an absolute offset. When the
// region is encrypted it occupies its block-aligned size on disk; the
// aligned span is read and decrypted, then truncated back.
func (a *Archive) readRegion(offset, length uint64, encrypted bool) ([]byte, error) {
	readLen := length
	if encrypted {
		readLen = alignToBlock(length)
	}

	buf := make([]byte, readLen)
	if _, err := a.file.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("%w: reading %d bytes at %d: %v", common.ErrTruncated, readLen, offset, err)
	}

	if encrypted {
		if a.cipher == nil {
			return nil, fmt.Errorf("%w: entry is encrypted and no key was supplied", common.ErrBadKey)
		}
		if err := decryptBlocks(a.cipher, buf); err != nil {
			return nil, err
		}
		buf = buf[:length]
	}
	return buf, nil
}

package pak

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/asset-forge/pakex/pkg/common"
)

// ParseKey decodes an operator-supplied hex key, with or without a 0x
// prefix. The archive cipher is AES-256, so exactly 32 bytes are
// accepted.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrBadKey, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: key must be 32 bytes, got %d", common.ErrBadKey, len(key))
	}
	return key, nil
}

func newBlockCipher(key []byte) (cipher.Block, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: key must be 32 bytes, got %d", common.ErrBadKey, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrBadKey, err)
	}
	return block, nil
}

// decryptBlocks reverses the archive's whole-block ECB convention in
// place. The format never encrypts partial blocks: encrypted regions
// are zero-padded to the cipher block size before encryption, so a
// ragged length here means the region boundaries are wrong.
func decryptBlocks(block cipher.Block, data []byte) error {
	if len(data)%common.AESBlockLength != 0 {
		return fmt.Errorf("%w: encrypted region of %d bytes is not block-aligned",
			common.ErrMalformed, len(data))
	}
	for off := 0; off < len(data); off += common.AESBlockLength {
		block.Decrypt(data[off:off+common.AESBlockLength], data[off:off+common.AESBlockLength])
	}
	return nil
}

// alignToBlock rounds n up to the cipher block size. Encrypted payloads
// occupy their aligned size on disk.
func alignToBlock(n uint64) uint64 {
	rem := n % common.AESBlockLength
	if rem == 0 {
		return n
	}
	return n + common.AESBlockLength - rem
}

package pak

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asset-forge/pakex/pkg/common"
)

func TestDecompressBlockPerMethod(t *testing.T) {
	data := compressible(2048)

	for _, method := range []common.CompressionMethod{
		common.MethodZlib,
		common.MethodGzip,
		common.MethodZstd,
		common.MethodLZ4,
	} {
		t.Run(method.String(), func(t *testing.T) {
			compressed := compressChunk(t, method, data)
			got, err := decompressBlock(method, compressed, len(data))
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestDecompressBlockStoredPassThrough(t *testing.T) {
	data := []byte("already flat")
	got, err := decompressBlock(common.MethodStored, data, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDecompressBlockUnknownMethod(t *testing.T) {
	_, err := decompressBlock(common.CompressionMethod(42), []byte("x"), 1)
	require.ErrorIs(t, err, common.ErrUnknownCodec)
}

func TestDecompressBlockLengthMismatch(t *testing.T) {
	data := compressible(512)
	compressed := compressChunk(t, common.MethodZlib, data)

	_, err := decompressBlock(common.MethodZlib, compressed, len(data)+1)
	require.ErrorIs(t, err, common.ErrTruncated)
}

func TestDecompressBlockCorruptStream(t *testing.T) {
	_, err := decompressBlock(common.MethodZlib, []byte{0xde, 0xad, 0xbe, 0xef}, 10)
	require.ErrorIs(t, err, common.ErrTruncated)
}

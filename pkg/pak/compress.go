package pak

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/asset-forge/pakex/pkg/common"
)

var zstdDecoder *zstd.Decoder

func init() {
	// The decoder is stateless for DecodeAll and safe for concurrent
	// use across extraction workers.
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(256<<20))
}

// decompressBlock decodes one compression block to exactly
// uncompressedSize bytes. Blocks are independent: no codec state is
// carried between them.
func decompressBlock(method common.CompressionMethod, src []byte, uncompressedSize int) ([]byte, error) {
	var (
		out []byte
		err error
	)

	switch method {
	case common.MethodStored:
		out = src
	case common.MethodZlib:
		out, err = readAll(zlib.NewReader(bytes.NewReader(src)))
	case common.MethodGzip:
		out, err = readAll(gzip.NewReader(bytes.NewReader(src)))
	case common.MethodZstd:
		out, err = zstdDecoder.DecodeAll(src, make([]byte, 0, uncompressedSize))
	case common.MethodLZ4:
		buf := make([]byte, uncompressedSize)
		var n int
		n, err = lz4.UncompressBlock(src, buf)
		out = buf[:n]
	default:
		return nil, fmt.Errorf("%w: %d", common.ErrUnknownCodec, uint32(method))
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %s block: %v", common.ErrTruncated, method, err)
	}
	if len(out) != uncompressedSize {
		return nil, fmt.Errorf("%w: %s block decoded to %d bytes, declared %d",
			common.ErrTruncated, method, len(out), uncompressedSize)
	}
	return out, nil
}

func readAll(r io.ReadCloser, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

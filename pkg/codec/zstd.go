package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Package-level zstd codec, shared across calls. Both are safe for
// concurrent use; constructing them per message would dominate the
// cost of small payloads.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

func compressRemainder(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

func decompressRemainder(compressed []byte, uncompressedSize uint64) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("%w: remainder: %v", ErrMalformedPayload, err)
	}
	if uint64(len(out)) != uncompressedSize {
		return nil, fmt.Errorf("%w: remainder is %d bytes, declared %d",
			ErrMalformedPayload, len(out), uncompressedSize)
	}
	return out, nil
}

package column

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/hupe1980/segdb/internal/hash"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block codec.
type Compression uint8

const (
	CompressionNone Compression = 0
	// CompressionLZ4 favors decode speed.
	CompressionLZ4 Compression = 1
	// CompressionZSTD favors ratio. It is the default.
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	}
	return 0, fmt.Errorf("column: unknown compression %q", s)
}

var (
	zstdEncoders sync.Pool
	zstdDecoders sync.Pool
)

func getEncoder() *zstd.Encoder {
	if v := zstdEncoders.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getDecoder() *zstd.Decoder {
	if v := zstdDecoders.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// blockHeaderSize is codec(1) + raw(4) + stored(4) + crc(4).
const blockHeaderSize = 13

// appendBlock appends raw as a framed block to dst. Blocks that do not shrink
// by at least 10% are stored uncompressed.
func appendBlock(dst, raw []byte, c Compression) []byte {
	codec, payload := CompressionNone, raw
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		if n, err := lz4.CompressBlock(raw, buf, nil); err == nil && n > 0 {
			codec, payload = CompressionLZ4, buf[:n]
		}
	case CompressionZSTD:
		enc := getEncoder()
		payload = enc.EncodeAll(raw, nil)
		zstdEncoders.Put(enc)
		codec = CompressionZSTD
	}
	if codec != CompressionNone && len(payload)*10 > len(raw)*9 {
		codec, payload = CompressionNone, raw
	}

	dst = append(dst, byte(codec))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(raw)))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	dst = hash.AppendCRC32C(dst, payload)
	return append(dst, payload...)
}

// decodeBlock verifies and decompresses one framed block.
func decodeBlock(frame []byte) ([]byte, error) {
	if len(frame) < blockHeaderSize {
		return nil, fmt.Errorf("%w: short block header", ErrCorrupt)
	}
	codec := Compression(frame[0])
	rawLen := binary.LittleEndian.Uint32(frame[1:])
	storedLen := binary.LittleEndian.Uint32(frame[5:])
	sum := binary.LittleEndian.Uint32(frame[9:])
	if uint64(len(frame)) < blockHeaderSize+uint64(storedLen) {
		return nil, fmt.Errorf("%w: truncated block", ErrCorrupt)
	}
	payload := frame[blockHeaderSize : blockHeaderSize+storedLen]
	if hash.CRC32C(payload) != sum {
		return nil, fmt.Errorf("%w: block", ErrChecksum)
	}

	switch codec {
	case CompressionNone:
		if storedLen != rawLen {
			return nil, fmt.Errorf("%w: raw block size", ErrCorrupt)
		}
		return payload, nil
	case CompressionLZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		if uint32(n) != rawLen {
			return nil, fmt.Errorf("%w: lz4 size mismatch", ErrCorrupt)
		}
		return out, nil
	case CompressionZSTD:
		dec := getDecoder()
		defer zstdDecoders.Put(dec)
		out, err := dec.DecodeAll(payload, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		if uint32(len(out)) != rawLen {
			return nil, fmt.Errorf("%w: zstd size mismatch", ErrCorrupt)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrCorrupt, codec)
	}
}

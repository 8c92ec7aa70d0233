package columnar

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// ByteOrder is the byte order used for all segment payloads.
var ByteOrder = binary.LittleEndian

// CompressionType represents the block compression applied to an encoded
// segment payload.
type CompressionType uint8

const (
	CompressionNone   CompressionType = 0
	CompressionGzip   CompressionType = 1
	CompressionSnappy CompressionType = 2
	CompressionZstd   CompressionType = 3
)

func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionGzip:
		return "gzip"
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(ct))
	}
}

// ParseCompressionType maps a configuration string to a CompressionType.
func ParseCompressionType(s string) (CompressionType, error) {
	switch s {
	case "", "snappy":
		return CompressionSnappy, nil
	case "zstd":
		return CompressionZstd, nil
	case "gzip":
		return CompressionGzip, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, s)
	}
}

// Compressor interface for block compression algorithms.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Type() CompressionType
}

// SnappyCompressor implements Snappy block compression.
type SnappyCompressor struct{}

func (s *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (s *SnappyCompressor) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

func (s *SnappyCompressor) Type() CompressionType { return CompressionSnappy }

// ZstdCompressor implements Zstandard block compression. The encoder and
// decoder are reused across segments.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewZstdCompressor() (*ZstdCompressor, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, err
	}
	return &ZstdCompressor{encoder: encoder, decoder: decoder}, nil
}

func (z *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	return z.encoder.EncodeAll(data, nil), nil
}

func (z *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	return z.decoder.DecodeAll(data, nil)
}

func (z *ZstdCompressor) Type() CompressionType { return CompressionZstd }

// GzipCompressor implements gzip block compression.
type GzipCompressor struct{}

func (g *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (g *GzipCompressor) Type() CompressionType { return CompressionGzip }

// CreateCompressor creates a compressor instance, or nil for CompressionNone.
func CreateCompressor(ct CompressionType) (Compressor, error) {
	switch ct {
	case CompressionNone:
		return nil, nil
	case CompressionSnappy:
		return &SnappyCompressor{}, nil
	case CompressionZstd:
		return NewZstdCompressor()
	case CompressionGzip:
		return &GzipCompressor{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, ct)
	}
}

// Encoding represents the value-level encoding applied before block
// compression.
type Encoding uint8

const (
	EncodingRawInt Encoding = iota
	EncodingRawFloat
	EncodingRawString
	EncodingDeltaInt   // sorted int64/date runs
	EncodingDictString // low-cardinality strings
)

// deltaEncode serializes a sorted int64 slice as a base value followed by
// varint deltas.
func deltaEncode(values []int64) []byte {
	buf := new(bytes.Buffer)
	var count [4]byte
	ByteOrder.PutUint32(count[:], uint32(len(values)))
	buf.Write(count[:])
	if len(values) == 0 {
		return buf.Bytes()
	}
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutVarint(scratch[:], values[0])
	buf.Write(scratch[:n])
	for i := 1; i < len(values); i++ {
		n = binary.PutVarint(scratch[:], values[i]-values[i-1])
		buf.Write(scratch[:n])
	}
	return buf.Bytes()
}

func deltaDecode(data []byte) ([]int64, error) {
	if len(data) < 4 {
		return nil, ErrSegmentCorrupt
	}
	count := ByteOrder.Uint32(data[:4])
	values := make([]int64, count)
	rd := bytes.NewReader(data[4:])
	var prev int64
	for i := 0; i < int(count); i++ {
		d, err := binary.ReadVarint(rd)
		if err != nil {
			return nil, fmt.Errorf("%w: delta stream truncated", ErrSegmentCorrupt)
		}
		if i == 0 {
			prev = d
		} else {
			prev += d
		}
		values[i] = prev
	}
	return values, nil
}

// rawIntEncode serializes int64 values as fixed-width little endian.
func rawIntEncode(values []int64) []byte {
	buf := make([]byte, 4+8*len(values))
	ByteOrder.PutUint32(buf[:4], uint32(len(values)))
	for i, v := range values {
		ByteOrder.PutUint64(buf[4+8*i:], uint64(v))
	}
	return buf
}

func rawIntDecode(data []byte) ([]int64, error) {
	if len(data) < 4 {
		return nil, ErrSegmentCorrupt
	}
	count := int(ByteOrder.Uint32(data[:4]))
	if len(data) < 4+8*count {
		return nil, ErrSegmentCorrupt
	}
	values := make([]int64, count)
	for i := range values {
		values[i] = int64(ByteOrder.Uint64(data[4+8*i:]))
	}
	return values, nil
}

func rawFloatEncode(values []float64) []byte {
	buf := make([]byte, 4+8*len(values))
	ByteOrder.PutUint32(buf[:4], uint32(len(values)))
	for i, v := range values {
		ByteOrder.PutUint64(buf[4+8*i:], math.Float64bits(v))
	}
	return buf
}

func rawFloatDecode(data []byte) ([]float64, error) {
	if len(data) < 4 {
		return nil, ErrSegmentCorrupt
	}
	count := int(ByteOrder.Uint32(data[:4]))
	if len(data) < 4+8*count {
		return nil, ErrSegmentCorrupt
	}
	values := make([]float64, count)
	for i := range values {
		values[i] = math.Float64frombits(ByteOrder.Uint64(data[4+8*i:]))
	}
	return values, nil
}

// rawStringEncode serializes strings length-prefixed.
func rawStringEncode(values []string) []byte {
	buf := new(bytes.Buffer)
	var n [4]byte
	ByteOrder.PutUint32(n[:], uint32(len(values)))
	buf.Write(n[:])
	for _, s := range values {
		ByteOrder.PutUint32(n[:], uint32(len(s)))
		buf.Write(n[:])
		buf.WriteString(s)
	}
	return buf.Bytes()
}

func rawStringDecode(data []byte) ([]string, error) {
	if len(data) < 4 {
		return nil, ErrSegmentCorrupt
	}
	count := int(ByteOrder.Uint32(data[:4]))
	values := make([]string, count)
	off := 4
	for i := 0; i < count; i++ {
		if off+4 > len(data) {
			return nil, ErrSegmentCorrupt
		}
		l := int(ByteOrder.Uint32(data[off:]))
		off += 4
		if off+l > len(data) {
			return nil, ErrSegmentCorrupt
		}
		values[i] = string(data[off : off+l])
		off += l
	}
	return values, nil
}

// dictEncode serializes low-cardinality strings as a dictionary plus
// per-row uint16 codes. The dictionary is returned for membership pruning.
func dictEncode(values []string) ([]byte, []string) {
	index := make(map[string]uint16)
	var dict []string
	codes := make([]uint16, len(values))
	for i, s := range values {
		code, ok := index[s]
		if !ok {
			code = uint16(len(dict))
			index[s] = code
			dict = append(dict, s)
		}
		codes[i] = code
	}

	buf := new(bytes.Buffer)
	var n [4]byte
	ByteOrder.PutUint32(n[:], uint32(len(dict)))
	buf.Write(n[:])
	for _, s := range dict {
		ByteOrder.PutUint32(n[:], uint32(len(s)))
		buf.Write(n[:])
		buf.WriteString(s)
	}
	ByteOrder.PutUint32(n[:], uint32(len(codes)))
	buf.Write(n[:])
	var c [2]byte
	for _, code := range codes {
		ByteOrder.PutUint16(c[:], code)
		buf.Write(c[:])
	}
	return buf.Bytes(), dict
}

func dictDecode(data []byte) ([]string, error) {
	if len(data) < 4 {
		return nil, ErrSegmentCorrupt
	}
	dictLen := int(ByteOrder.Uint32(data[:4]))
	off := 4
	dict := make([]string, dictLen)
	for i := 0; i < dictLen; i++ {
		if off+4 > len(data) {
			return nil, ErrSegmentCorrupt
		}
		l := int(ByteOrder.Uint32(data[off:]))
		off += 4
		if off+l > len(data) {
			return nil, ErrSegmentCorrupt
		}
		dict[i] = string(data[off : off+l])
		off += l
	}
	if off+4 > len(data) {
		return nil, ErrSegmentCorrupt
	}
	count := int(ByteOrder.Uint32(data[off:]))
	off += 4
	if off+2*count > len(data) {
		return nil, ErrSegmentCorrupt
	}
	values := make([]string, count)
	for i := 0; i < count; i++ {
		code := int(ByteOrder.Uint16(data[off+2*i:]))
		if code >= dictLen {
			return nil, fmt.Errorf("%w: dictionary code out of range", ErrSegmentCorrupt)
		}
		values[i] = dict[code]
	}
	return values, nil
}

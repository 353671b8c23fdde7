// Package blob stores numeric arrays in a single binary column.
//
// Layout: one format byte, a uvarint element count, then the zstd-compressed
// little-endian payload. A nil slice is written as SQL NULL so readers can tell
// "no data" apart from an empty or all-zero array.
package blob

import (
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

const (
	formatFloat64 byte = 0x01
	formatInt64   byte = 0x02
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

var ErrCorrupt = errors.New("blob: corrupt payload")

// Float64s is a []float64 column.
type Float64s []float64

func (Float64s) GormDataType() string { return "bytes" }

func (f Float64s) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	raw := make([]byte, 8*len(f))
	for i, v := range f {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(v))
	}
	return pack(formatFloat64, len(f), raw), nil
}

func (f *Float64s) Scan(src any) error {
	raw, n, ok, err := unpack(src, formatFloat64)
	if err != nil || !ok {
		*f = nil
		return err
	}
	out := make(Float64s, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	*f = out
	return nil
}

// Int64s is a []int64 column.
type Int64s []int64

func (Int64s) GormDataType() string { return "bytes" }

func (s Int64s) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	raw := make([]byte, 8*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint64(raw[8*i:], uint64(v))
	}
	return pack(formatInt64, len(s), raw), nil
}

func (s *Int64s) Scan(src any) error {
	raw, n, ok, err := unpack(src, formatInt64)
	if err != nil || !ok {
		*s = nil
		return err
	}
	out := make(Int64s, n)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(raw[8*i:]))
	}
	*s = out
	return nil
}

func pack(format byte, n int, raw []byte) []byte {
	hdr := make([]byte, 1, 1+binary.MaxVarintLen64)
	hdr[0] = format
	hdr = binary.AppendUvarint(hdr, uint64(n))
	if n == 0 {
		return hdr
	}
	return encoder.EncodeAll(raw, hdr)
}

func unpack(src any, format byte) ([]byte, int, bool, error) {
	var b []byte
	switch v := src.(type) {
	case nil:
		return nil, 0, false, nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return nil, 0, false, fmt.Errorf("blob: unsupported scan type %T", src)
	}
	if len(b) < 2 || b[0] != format {
		return nil, 0, false, ErrCorrupt
	}
	n, w := binary.Uvarint(b[1:])
	if w <= 0 {
		return nil, 0, false, ErrCorrupt
	}
	if n == 0 {
		return []byte{}, 0, true, nil
	}
	raw, err := decoder.DecodeAll(b[1+w:], make([]byte, 0, 8*n))
	if err != nil {
		return nil, 0, false, fmt.Errorf("blob: decompress: %w", err)
	}
	if uint64(len(raw)) != 8*n {
		return nil, 0, false, ErrCorrupt
	}
	return raw, int(n), true, nil
}

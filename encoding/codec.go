// Package encoding implements the order-preserving byte encodings
// mandated by the cache's on-disk format: every encoded field sorts, as
// raw bytes, in the same order as the field's natural value order. This
// is what lets plain byte-lexicographic bbolt cursors serve as
// SortedInverted index scans without a pluggable key comparator.
package encoding

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ridgecache/ridge/ridgetype"
)

const (
	nullTag    = 0x00
	nonNullTag = 0x01
)

var offset127 = new(big.Int).Lsh(big.NewInt(1), 127)

// EncodeField writes one field's order-preserving byte encoding.
func EncodeField(f ridgetype.Field) ([]byte, error) {
	if f.IsNull {
		return []byte{nullTag}, nil
	}

	var payload []byte
	var err error
	switch f.Typ {
	case ridgetype.UInt:
		v, _ := f.Uint()
		payload = encodeUint64(v)
	case ridgetype.Int:
		v, _ := f.Int()
		payload = encodeIntBias(v)
	case ridgetype.U128:
		v, _ := f.Big()
		payload = encodeU128(v)
	case ridgetype.I128:
		v, _ := f.Big()
		payload = encodeI128(v)
	case ridgetype.Float:
		v, _ := f.Float()
		payload = encodeFloatOrder(v)
	case ridgetype.Boolean:
		v, _ := f.Bool()
		if v {
			payload = []byte{0x01}
		} else {
			payload = []byte{0x00}
		}
	case ridgetype.String, ridgetype.Text:
		v, _ := f.Str()
		payload = encodeBytesOrdered([]byte(v))
	case ridgetype.Binary:
		v, _ := f.Bytes()
		payload = encodeBytesOrdered(v)
	case ridgetype.Json:
		v, _ := f.Bytes()
		payload = encodeBytesOrdered(v)
	case ridgetype.Decimal:
		v, _ := f.DecimalVal()
		payload, err = encodeDecimal(v)
	case ridgetype.Timestamp:
		v, _ := f.Time()
		payload = encodeIntBias(v.UTC().UnixNano())
	case ridgetype.Date:
		v, _ := f.DateVal()
		payload = encodeInt32Bias(v.Days)
	case ridgetype.Point:
		v, _ := f.PointVal()
		x := encodeFloatOrder(v.X)
		y := encodeFloatOrder(v.Y)
		payload = append(x, y...)
	case ridgetype.Duration:
		v, _ := f.DurationVal()
		payload = encodeIntBias(int64(v))
	default:
		return nil, fmt.Errorf("encoding: unsupported field type %v", f.Typ)
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, nonNullTag)
	out = append(out, payload...)
	return out, nil
}

// DecodeField reads one field's encoding for the given expected type and
// returns the field plus the number of bytes consumed.
func DecodeField(b []byte, t ridgetype.FieldType) (ridgetype.Field, int, error) {
	if len(b) == 0 {
		return ridgetype.Field{}, 0, fmt.Errorf("encoding: empty buffer")
	}
	if b[0] == nullTag {
		return ridgetype.NullField(t), 1, nil
	}
	if b[0] != nonNullTag {
		return ridgetype.Field{}, 0, fmt.Errorf("encoding: bad null tag %#x", b[0])
	}
	rest := b[1:]
	switch t {
	case ridgetype.UInt:
		v, n, err := decodeUint64(rest)
		return ridgetype.NewUint(v), 1 + n, err
	case ridgetype.Int:
		v, n, err := decodeIntBias(rest)
		return ridgetype.NewInt(v), 1 + n, err
	case ridgetype.U128:
		v, n, err := decodeU128(rest)
		return ridgetype.NewU128(v), 1 + n, err
	case ridgetype.I128:
		v, n, err := decodeI128(rest)
		return ridgetype.NewI128(v), 1 + n, err
	case ridgetype.Float:
		v, n, err := decodeFloatOrder(rest)
		return ridgetype.NewFloat(v), 1 + n, err
	case ridgetype.Boolean:
		if len(rest) < 1 {
			return ridgetype.Field{}, 0, fmt.Errorf("encoding: short boolean")
		}
		return ridgetype.NewBoolean(rest[0] != 0), 2, nil
	case ridgetype.String:
		v, n, err := decodeBytesOrdered(rest)
		return ridgetype.NewString(string(v)), 1 + n, err
	case ridgetype.Text:
		v, n, err := decodeBytesOrdered(rest)
		return ridgetype.NewText(string(v)), 1 + n, err
	case ridgetype.Binary:
		v, n, err := decodeBytesOrdered(rest)
		return ridgetype.NewBinary(v), 1 + n, err
	case ridgetype.Json:
		v, n, err := decodeBytesOrdered(rest)
		return ridgetype.NewJson(v), 1 + n, err
	case ridgetype.Decimal:
		v, n, err := decodeDecimal(rest)
		return ridgetype.NewDecimal(v.Unscaled, v.Scale), 1 + n, err
	case ridgetype.Timestamp:
		v, n, err := decodeIntBias(rest)
		return ridgetype.NewTimestamp(time.Unix(0, v).UTC()), 1 + n, err
	case ridgetype.Date:
		v, n, err := decodeInt32Bias(rest)
		return ridgetype.NewDate(ridgetype.DateValue{Days: v}), 1 + n, err
	case ridgetype.Point:
		if len(rest) < 16 {
			return ridgetype.Field{}, 0, fmt.Errorf("encoding: short point")
		}
		x, _, err := decodeFloatOrder(rest[:8])
		if err != nil {
			return ridgetype.Field{}, 0, err
		}
		y, _, err := decodeFloatOrder(rest[8:16])
		if err != nil {
			return ridgetype.Field{}, 0, err
		}
		return ridgetype.NewPoint(x, y), 1 + 16, nil
	case ridgetype.Duration:
		v, n, err := decodeIntBias(rest)
		return ridgetype.NewDuration(time.Duration(v)), 1 + n, err
	default:
		return ridgetype.Field{}, 0, fmt.Errorf("encoding: unsupported field type %v", t)
	}
}

// EncodeFields concatenates the order-preserving encodings of values in
// order. Used both for multi-column SortedInverted secondary keys and
// for primary-key bytes. Because every per-field encoding is
// self-delimiting, concatenation preserves prefix (lexicographic) order
// across the leading fields of the tuple.
func EncodeFields(values []ridgetype.Field) ([]byte, error) {
	var out []byte
	for _, v := range values {
		b, err := EncodeField(v)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// EncodeRecord serializes every value of a record in schema field order.
// The schema itself is not embedded; a reader must already know the
// field types (from the stored schema) to call DecodeRecord.
func EncodeRecord(rec ridgetype.Record) ([]byte, error) {
	return EncodeFields(rec.Values)
}

// DecodeRecord reverses EncodeRecord given the expected field types.
func DecodeRecord(b []byte, types []ridgetype.FieldType) (ridgetype.Record, error) {
	values := make([]ridgetype.Field, len(types))
	off := 0
	for i, t := range types {
		f, n, err := DecodeField(b[off:], t)
		if err != nil {
			return ridgetype.Record{}, fmt.Errorf("encoding: decode field %d: %w", i, err)
		}
		values[i] = f
		off += n
	}
	return ridgetype.Record{Values: values}, nil
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) (uint64, int, error) {
	if len(b) < 8 {
		return 0, 0, fmt.Errorf("encoding: short uint64")
	}
	return binary.BigEndian.Uint64(b[:8]), 8, nil
}

// encodeIntBias flips the sign bit so that big-endian byte order matches
// signed numeric order.
func encodeIntBias(v int64) []byte {
	bits := uint64(v) ^ 0x8000000000000000
	return encodeUint64(bits)
}

func decodeIntBias(b []byte) (int64, int, error) {
	bits, n, err := decodeUint64(b)
	if err != nil {
		return 0, 0, err
	}
	return int64(bits ^ 0x8000000000000000), n, nil
}

func encodeInt32Bias(v int32) []byte {
	bits := uint32(v) ^ 0x80000000
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, bits)
	return b
}

func decodeInt32Bias(b []byte) (int32, int, error) {
	if len(b) < 4 {
		return 0, 0, fmt.Errorf("encoding: short int32")
	}
	bits := binary.BigEndian.Uint32(b[:4])
	return int32(bits ^ 0x80000000), 4, nil
}

// encodeFloatOrder applies the IEEE-754 total-order transform: negative
// values get all bits flipped, non-negative values get only the sign bit
// set. The result sorts, as an unsigned big-endian integer, in the same
// order as the original float value (NaNs aside).
func encodeFloatOrder(v float64) []byte {
	bits := math.Float64bits(v)
	if bits>>63 == 1 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return encodeUint64(bits)
}

func decodeFloatOrder(b []byte) (float64, int, error) {
	bits, n, err := decodeUint64(b)
	if err != nil {
		return 0, 0, err
	}
	if bits>>63 == 1 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits), n, nil
}

// encodeBytesOrdered encodes a variable-length byte sequence so that
// bytes.Compare on the encodings matches bytes.Compare on the contents:
// every 0x00 content byte is escaped as 0x00 0xFF and the sequence is
// terminated by a bare 0x00. A length prefix would order by
// length-then-content instead ("Z" would sort before "AA"), which is
// exactly what the terminator scheme avoids: a sequence that is a
// strict prefix of another hits its terminator (0x00) where the longer
// one still has content (whose encoding never starts with a bare 0x00
// followed by anything below 0xFF mid-field), so the shorter sorts
// first.
func encodeBytesOrdered(v []byte) []byte {
	out := make([]byte, 0, len(v)+1)
	for _, b := range v {
		if b == 0x00 {
			out = append(out, 0x00, 0xFF)
			continue
		}
		out = append(out, b)
	}
	return append(out, 0x00)
}

func decodeBytesOrdered(b []byte) ([]byte, int, error) {
	var out []byte
	i := 0
	for i < len(b) {
		c := b[i]
		if c != 0x00 {
			out = append(out, c)
			i++
			continue
		}
		if i+1 < len(b) && b[i+1] == 0xFF {
			out = append(out, 0x00)
			i += 2
			continue
		}
		return out, i + 1, nil
	}
	return nil, 0, fmt.Errorf("encoding: unterminated byte sequence")
}

// encodeU128 encodes an unsigned 128-bit value as 16 big-endian bytes.
func encodeU128(v *big.Int) []byte {
	out := make([]byte, 16)
	v.FillBytes(out)
	return out
}

func decodeU128(b []byte) (*big.Int, int, error) {
	if len(b) < 16 {
		return nil, 0, fmt.Errorf("encoding: short u128")
	}
	return new(big.Int).SetBytes(b[:16]), 16, nil
}

// encodeI128 biases a signed 128-bit value by 2^127 so it can be stored
// as an unsigned 16-byte big-endian integer while preserving order.
func encodeI128(v *big.Int) []byte {
	biased := new(big.Int).Add(v, offset127)
	out := make([]byte, 16)
	biased.FillBytes(out)
	return out
}

func decodeI128(b []byte) (*big.Int, int, error) {
	if len(b) < 16 {
		return nil, 0, fmt.Errorf("encoding: short i128")
	}
	biased := new(big.Int).SetBytes(b[:16])
	return biased.Sub(biased, offset127), 16, nil
}

// encodeDecimal encodes a 4-byte biased scale followed by a 16-byte
// biased unscaled value (the same scheme as I128). Byte-order comparison
// is only numerically meaningful between decimals sharing a scale; this
// matches the fixed 16-byte form specified for Decimal without claiming
// a cross-scale total order the spec does not require.
func encodeDecimal(v ridgetype.DecimalValue) ([]byte, error) {
	if v.Unscaled == nil {
		return nil, fmt.Errorf("encoding: nil decimal unscaled value")
	}
	out := make([]byte, 0, 20)
	out = append(out, encodeInt32Bias(v.Scale)...)
	out = append(out, encodeI128(v.Unscaled)...)
	return out, nil
}

func decodeDecimal(b []byte) (ridgetype.DecimalValue, int, error) {
	if len(b) < 20 {
		return ridgetype.DecimalValue{}, 0, fmt.Errorf("encoding: short decimal")
	}
	scale, _, err := decodeInt32Bias(b[:4])
	if err != nil {
		return ridgetype.DecimalValue{}, 0, err
	}
	unscaled, _, err := decodeI128(b[4:20])
	if err != nil {
		return ridgetype.DecimalValue{}, 0, err
	}
	return ridgetype.DecimalValue{Unscaled: unscaled, Scale: scale}, 20, nil
}

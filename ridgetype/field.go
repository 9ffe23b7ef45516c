package ridgetype

import (
	"fmt"
	"math/big"
	"time"
)

// FieldType is the closed set of value kinds a schema field can hold.
type FieldType int

const (
	UInt FieldType = iota
	Int
	U128
	I128
	Float
	Boolean
	String
	Text
	Binary
	Decimal
	Timestamp
	Date
	Json
	Point
	Duration
)

// ParseFieldType parses the String() form of a FieldType, for config,
// schema-dump and CLI round trips.
func ParseFieldType(s string) (FieldType, bool) {
	switch s {
	case "UInt":
		return UInt, true
	case "Int":
		return Int, true
	case "U128":
		return U128, true
	case "I128":
		return I128, true
	case "Float":
		return Float, true
	case "Boolean":
		return Boolean, true
	case "String":
		return String, true
	case "Text":
		return Text, true
	case "Binary":
		return Binary, true
	case "Decimal":
		return Decimal, true
	case "Timestamp":
		return Timestamp, true
	case "Date":
		return Date, true
	case "Json":
		return Json, true
	case "Point":
		return Point, true
	case "Duration":
		return Duration, true
	default:
		return 0, false
	}
}

func (t FieldType) String() string {
	switch t {
	case UInt:
		return "UInt"
	case Int:
		return "Int"
	case U128:
		return "U128"
	case I128:
		return "I128"
	case Float:
		return "Float"
	case Boolean:
		return "Boolean"
	case String:
		return "String"
	case Text:
		return "Text"
	case Binary:
		return "Binary"
	case Decimal:
		return "Decimal"
	case Timestamp:
		return "Timestamp"
	case Date:
		return "Date"
	case Json:
		return "Json"
	case Point:
		return "Point"
	case Duration:
		return "Duration"
	default:
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
}

// DecimalValue is an arbitrary-precision decimal: unscaled * 10^-scale.
type DecimalValue struct {
	Unscaled *big.Int
	Scale    int32
}

// PointValue is a planar point (e.g. geographic longitude/latitude).
type PointValue struct {
	X, Y float64
}

// DateValue is a calendar date represented as days since the Unix epoch.
type DateValue struct {
	Days int32
}

// DateFromTime truncates t to a calendar day and returns the DateValue.
func DateFromTime(t time.Time) DateValue {
	u := t.UTC()
	days := u.Unix() / 86400
	return DateValue{Days: int32(days)}
}

// Time returns the DateValue as a UTC midnight time.Time.
func (d DateValue) Time() time.Time {
	return time.Unix(int64(d.Days)*86400, 0).UTC()
}

// Field is a single typed, nullable value. It is a closed sum type: the
// active member is selected by Typ and IsNull, and only one of the
// unexported storage slots is meaningful at a time. Using explicit typed
// accessors instead of interface{} keeps decoding exhaustive and keeps
// encode/decode round trips panic-free.
type Field struct {
	Typ    FieldType
	IsNull bool

	u64 uint64
	i64 int64
	f64 float64
	b   bool
	s   string
	buf []byte
	big *big.Int
	dec DecimalValue
	tm  time.Time
	dt  DateValue
	pt  PointValue
	dur time.Duration
}

// NullField returns a null field of the given type.
func NullField(t FieldType) Field { return Field{Typ: t, IsNull: true} }

func NewUint(v uint64) Field    { return Field{Typ: UInt, u64: v} }
func NewInt(v int64) Field      { return Field{Typ: Int, i64: v} }
func NewU128(v *big.Int) Field  { return Field{Typ: U128, big: v} }
func NewI128(v *big.Int) Field  { return Field{Typ: I128, big: v} }
func NewFloat(v float64) Field  { return Field{Typ: Float, f64: v} }
func NewBoolean(v bool) Field   { return Field{Typ: Boolean, b: v} }
func NewString(v string) Field  { return Field{Typ: String, s: v} }
func NewText(v string) Field    { return Field{Typ: Text, s: v} }
func NewBinary(v []byte) Field  { return Field{Typ: Binary, buf: v} }
func NewJson(v []byte) Field    { return Field{Typ: Json, buf: v} }
func NewTimestamp(v time.Time) Field {
	return Field{Typ: Timestamp, tm: v}
}
func NewDate(v DateValue) Field         { return Field{Typ: Date, dt: v} }
func NewPoint(x, y float64) Field       { return Field{Typ: Point, pt: PointValue{X: x, Y: y}} }
func NewDuration(v time.Duration) Field { return Field{Typ: Duration, dur: v} }
func NewDecimal(unscaled *big.Int, scale int32) Field {
	return Field{Typ: Decimal, dec: DecimalValue{Unscaled: unscaled, Scale: scale}}
}

func (f Field) Uint() (uint64, bool) {
	if f.IsNull || f.Typ != UInt {
		return 0, false
	}
	return f.u64, true
}

func (f Field) Int() (int64, bool) {
	if f.IsNull || f.Typ != Int {
		return 0, false
	}
	return f.i64, true
}

func (f Field) Big() (*big.Int, bool) {
	if f.IsNull || (f.Typ != U128 && f.Typ != I128) {
		return nil, false
	}
	return f.big, true
}

func (f Field) Float() (float64, bool) {
	if f.IsNull || f.Typ != Float {
		return 0, false
	}
	return f.f64, true
}

func (f Field) Bool() (bool, bool) {
	if f.IsNull || f.Typ != Boolean {
		return false, false
	}
	return f.b, true
}

func (f Field) Str() (string, bool) {
	if f.IsNull || (f.Typ != String && f.Typ != Text) {
		return "", false
	}
	return f.s, true
}

func (f Field) Bytes() ([]byte, bool) {
	if f.IsNull || (f.Typ != Binary && f.Typ != Json) {
		return nil, false
	}
	return f.buf, true
}

func (f Field) Time() (time.Time, bool) {
	if f.IsNull || f.Typ != Timestamp {
		return time.Time{}, false
	}
	return f.tm, true
}

func (f Field) DateVal() (DateValue, bool) {
	if f.IsNull || f.Typ != Date {
		return DateValue{}, false
	}
	return f.dt, true
}

func (f Field) PointVal() (PointValue, bool) {
	if f.IsNull || f.Typ != Point {
		return PointValue{}, false
	}
	return f.pt, true
}

func (f Field) DurationVal() (time.Duration, bool) {
	if f.IsNull || f.Typ != Duration {
		return 0, false
	}
	return f.dur, true
}

func (f Field) DecimalVal() (DecimalValue, bool) {
	if f.IsNull || f.Typ != Decimal {
		return DecimalValue{}, false
	}
	return f.dec, true
}

// Equal reports whether two fields have the same type, nullness and
// value. Used by round-trip tests and test helpers.
func (f Field) Equal(other Field) bool {
	if f.Typ != other.Typ || f.IsNull != other.IsNull {
		return false
	}
	if f.IsNull {
		return true
	}
	switch f.Typ {
	case UInt:
		return f.u64 == other.u64
	case Int:
		return f.i64 == other.i64
	case U128, I128:
		return f.big.Cmp(other.big) == 0
	case Float:
		return f.f64 == other.f64
	case Boolean:
		return f.b == other.b
	case String, Text:
		return f.s == other.s
	case Binary, Json:
		return string(f.buf) == string(other.buf)
	case Decimal:
		return f.dec.Scale == other.dec.Scale && f.dec.Unscaled.Cmp(other.dec.Unscaled) == 0
	case Timestamp:
		return f.tm.Equal(other.tm)
	case Date:
		return f.dt.Days == other.dt.Days
	case Point:
		return f.pt == other.pt
	case Duration:
		return f.dur == other.dur
	default:
		return false
	}
}

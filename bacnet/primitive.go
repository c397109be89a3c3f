// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bacnet

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"
)

// Value is a BACnet primitive. The set of implementations is closed:
// Null, Boolean, Unsigned, Signed, Real, Double, OctetString,
// CharacterString, BitString, Enumerated, Date, Time and ObjectIdentifier.
type Value interface {
	// AppTag returns the application tag number of the primitive.
	AppTag() ApplicationTag
	fmt.Stringer
	isValue()
}

type (
	Null        struct{}
	Boolean     bool
	Unsigned    uint64
	Signed      int64
	Real        float32
	Double      float64
	OctetString []byte
	Enumerated  uint32
	// BitString holds one bool per bit, most significant bit of the first
	// octet first.
	BitString []bool
)

// CharacterString is text tagged with its wire character set.
type CharacterString struct {
	Charset Charset
	Value   string
}

// NewCharacterString returns a UTF-8 character string.
func NewCharacterString(s string) CharacterString {
	return CharacterString{Charset: CharsetUTF8, Value: s}
}

// Unspecified marks a wildcard Date or Time field.
const Unspecified = 0xFF

// Date is a calendar date. Year counts from 1900; any field may be
// Unspecified. Weekday runs 1 (Monday) to 7 (Sunday).
type Date struct {
	Year    uint8
	Month   uint8
	Day     uint8
	Weekday uint8
}

// NewDate converts t to a fully specified Date.
func NewDate(t time.Time) Date {
	wd := uint8(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	return Date{
		Year:    uint8(t.Year() - 1900),
		Month:   uint8(t.Month()),
		Day:     uint8(t.Day()),
		Weekday: wd,
	}
}

// Time is a time of day with hundredths of a second. Any field may be Unspecified.
type Time struct {
	Hour       uint8
	Minute     uint8
	Second     uint8
	Hundredths uint8
}

// NewTime converts t to a fully specified Time.
func NewTime(t time.Time) Time {
	return Time{
		Hour:       uint8(t.Hour()),
		Minute:     uint8(t.Minute()),
		Second:     uint8(t.Second()),
		Hundredths: uint8(t.Nanosecond() / int(10*time.Millisecond)),
	}
}

func (Null) AppTag() ApplicationTag             { return TagNull }
func (Boolean) AppTag() ApplicationTag          { return TagBoolean }
func (Unsigned) AppTag() ApplicationTag         { return TagUnsignedInt }
func (Signed) AppTag() ApplicationTag           { return TagSignedInt }
func (Real) AppTag() ApplicationTag             { return TagReal }
func (Double) AppTag() ApplicationTag           { return TagDouble }
func (OctetString) AppTag() ApplicationTag      { return TagOctetString }
func (CharacterString) AppTag() ApplicationTag  { return TagCharacterString }
func (BitString) AppTag() ApplicationTag        { return TagBitString }
func (Enumerated) AppTag() ApplicationTag       { return TagEnumerated }
func (Date) AppTag() ApplicationTag             { return TagDate }
func (Time) AppTag() ApplicationTag             { return TagTime }
func (ObjectIdentifier) AppTag() ApplicationTag { return TagObjectID }

func (Null) isValue()             {}
func (Boolean) isValue()          {}
func (Unsigned) isValue()         {}
func (Signed) isValue()           {}
func (Real) isValue()             {}
func (Double) isValue()           {}
func (OctetString) isValue()      {}
func (CharacterString) isValue()  {}
func (BitString) isValue()        {}
func (Enumerated) isValue()       {}
func (Date) isValue()             {}
func (Time) isValue()             {}
func (ObjectIdentifier) isValue() {}

func (Null) String() string       { return "null" }
func (b Boolean) String() string  { return fmt.Sprintf("%t", bool(b)) }
func (u Unsigned) String() string { return fmt.Sprintf("%d", uint64(u)) }
func (s Signed) String() string   { return fmt.Sprintf("%d", int64(s)) }
func (r Real) String() string     { return fmt.Sprintf("%g", float32(r)) }
func (d Double) String() string   { return fmt.Sprintf("%g", float64(d)) }
func (o OctetString) String() string {
	return hex.EncodeToString(o)
}
func (c CharacterString) String() string { return c.Value }
func (e Enumerated) String() string      { return fmt.Sprintf("%d", uint32(e)) }

func (b BitString) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, bit := range b {
		if i > 0 {
			sb.WriteByte(',')
		}
		if bit {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	sb.WriteByte('}')
	return sb.String()
}

func dateField(v uint8, width int, offset int) string {
	if v == Unspecified {
		return strings.Repeat("*", width)
	}
	return fmt.Sprintf("%0*d", width, int(v)+offset)
}

func (d Date) String() string {
	return dateField(d.Year, 4, 1900) + "-" + dateField(d.Month, 2, 0) + "-" + dateField(d.Day, 2, 0)
}

func (t Time) String() string {
	return dateField(t.Hour, 2, 0) + ":" + dateField(t.Minute, 2, 0) + ":" +
		dateField(t.Second, 2, 0) + "." + dateField(t.Hundredths, 2, 0)
}

// Encode encodes v as a tagged value. For application class tagNum must
// be the application tag of v.
func Encode(v Value, tagNum uint8, class TagClass) ([]byte, error) {
	return AppendValue(nil, v, tagNum, class)
}

// EncodeApplication encodes v with its application tag.
func EncodeApplication(v Value) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil value", ErrValueOutOfRange)
	}
	return AppendValue(nil, v, uint8(v.AppTag()), TagClassApplication)
}

// EncodeContext encodes v with context tag tagNum.
func EncodeContext(v Value, tagNum uint8) ([]byte, error) {
	return AppendValue(nil, v, tagNum, TagClassContext)
}

// AppendValue appends the tag and payload of v to dst.
func AppendValue(dst []byte, v Value, tagNum uint8, class TagClass) ([]byte, error) {
	if v == nil {
		return dst, fmt.Errorf("%w: nil value", ErrValueOutOfRange)
	}
	if class == TagClassApplication && tagNum != uint8(v.AppTag()) {
		return dst, fmt.Errorf("%w: %s value with application tag %d", ErrTypeMismatch, v.AppTag(), tagNum)
	}

	// Application booleans live entirely in the tag octet.
	if b, ok := v.(Boolean); ok && class == TagClassApplication {
		length := uint32(0)
		if b {
			length = 1
		}
		return AppendTag(dst, Tag{Number: tagNum, Class: class, Length: length})
	}

	payload, err := encodePayload(v)
	if err != nil {
		return dst, err
	}
	dst, err = AppendTag(dst, Tag{Number: tagNum, Class: class, Length: uint32(len(payload))})
	if err != nil {
		return dst, err
	}
	return append(dst, payload...), nil
}

func encodePayload(v Value) ([]byte, error) {
	switch x := v.(type) {
	case Null:
		return nil, nil
	case Boolean:
		if x {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case Unsigned:
		return encodeUnsigned(uint64(x)), nil
	case Signed:
		return encodeSigned(int64(x)), nil
	case Real:
		return binary.BigEndian.AppendUint32(nil, math.Float32bits(float32(x))), nil
	case Double:
		return binary.BigEndian.AppendUint64(nil, math.Float64bits(float64(x))), nil
	case OctetString:
		return append([]byte(nil), x...), nil
	case CharacterString:
		return encodeCharacterString(x)
	case BitString:
		return encodeBitString(x), nil
	case Enumerated:
		return encodeUnsigned(uint64(x)), nil
	case Date:
		return []byte{x.Year, x.Month, x.Day, x.Weekday}, nil
	case Time:
		return []byte{x.Hour, x.Minute, x.Second, x.Hundredths}, nil
	case ObjectIdentifier:
		if !x.Valid() {
			return nil, fmt.Errorf("%w: object identifier %d:%d", ErrValueOutOfRange, x.Type, x.Instance)
		}
		return binary.BigEndian.AppendUint32(nil, x.Encode()), nil
	default:
		return nil, fmt.Errorf("%w: unsupported value %T", ErrTypeMismatch, v)
	}
}

// encodeUnsigned returns the fewest octets representing u, at least one.
func encodeUnsigned(u uint64) []byte {
	n := 1
	for n < 8 && u>>(8*n) != 0 {
		n++
	}
	buf := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		buf[i] = byte(u)
		u >>= 8
	}
	return buf
}

// encodeSigned returns the fewest two's complement octets representing s.
func encodeSigned(s int64) []byte {
	n := 1
	for n < 8 {
		shift := 8*n - 1
		if lo := s >> shift; lo == 0 || lo == -1 {
			break
		}
		n++
	}
	buf := make([]byte, n)
	u := uint64(s)
	for i := n - 1; i >= 0; i-- {
		buf[i] = byte(u)
		u >>= 8
	}
	return buf
}

func encodeBitString(b BitString) []byte {
	nbytes := (len(b) + 7) / 8
	buf := make([]byte, 1+nbytes)
	buf[0] = byte(nbytes*8 - len(b))
	for i, bit := range b {
		if bit {
			buf[1+i/8] |= 0x80 >> (i % 8)
		}
	}
	return buf
}

// Decode decodes an application-tagged primitive. payload starts right
// after the tag header.
func Decode(t Tag, payload []byte) (Value, error) {
	if t.Kind != TagPrimitive {
		return nil, fmt.Errorf("%w: %s tag is not a primitive", ErrTypeMismatch, t.Kind)
	}
	if t.Class != TagClassApplication {
		return nil, fmt.Errorf("%w: context tag %d has no implied type", ErrTypeMismatch, t.Number)
	}
	if t.Number > uint8(TagObjectID) {
		return nil, fmt.Errorf("%w: reserved application tag %d", ErrTypeMismatch, t.Number)
	}
	return DecodeAs(ApplicationTag(t.Number), t, payload)
}

// DecodeAs decodes the payload of t as the primitive kind. Application
// tags must carry kind's tag number; context tags are taken at their word.
func DecodeAs(kind ApplicationTag, t Tag, payload []byte) (Value, error) {
	if t.Kind != TagPrimitive {
		return nil, fmt.Errorf("%w: %s tag where %s expected", ErrTypeMismatch, t.Kind, kind)
	}
	if t.Class == TagClassApplication && t.Number != uint8(kind) {
		return nil, fmt.Errorf("%w: %s where %s expected", ErrTypeMismatch, ApplicationTag(t.Number), kind)
	}

	if t.Class == TagClassApplication && kind == TagBoolean {
		return Boolean(t.Length == 1), nil
	}

	if uint64(len(payload)) < uint64(t.Length) {
		return nil, fmt.Errorf("%w: %s declares %d octets, %d present", ErrTruncatedData, kind, t.Length, len(payload))
	}
	v, err := decodePayload(kind, payload[:t.Length])
	if err != nil {
		return nil, err
	}
	return v, nil
}

func decodePayload(kind ApplicationTag, data []byte) (Value, error) {
	switch kind {
	case TagNull:
		if len(data) != 0 {
			return nil, fmt.Errorf("%w: null with %d octets", ErrMalformedTag, len(data))
		}
		return Null{}, nil
	case TagBoolean:
		if len(data) != 1 || data[0] > 1 {
			return nil, fmt.Errorf("%w: context boolean % x", ErrMalformedTag, data)
		}
		return Boolean(data[0] == 1), nil
	case TagUnsignedInt:
		u, err := decodeUnsigned(data, 8)
		return Unsigned(u), err
	case TagSignedInt:
		s, err := decodeSigned(data)
		return Signed(s), err
	case TagReal:
		if len(data) != 4 {
			return nil, fmt.Errorf("%w: real with %d octets", ErrMalformedTag, len(data))
		}
		return Real(math.Float32frombits(binary.BigEndian.Uint32(data))), nil
	case TagDouble:
		if len(data) != 8 {
			return nil, fmt.Errorf("%w: double with %d octets", ErrMalformedTag, len(data))
		}
		return Double(math.Float64frombits(binary.BigEndian.Uint64(data))), nil
	case TagOctetString:
		return OctetString(append([]byte(nil), data...)), nil
	case TagCharacterString:
		return decodeCharacterString(data)
	case TagBitString:
		return decodeBitString(data)
	case TagEnumerated:
		u, err := decodeUnsigned(data, 4)
		return Enumerated(u), err
	case TagDate:
		if len(data) != 4 {
			return nil, fmt.Errorf("%w: date with %d octets", ErrMalformedTag, len(data))
		}
		return Date{Year: data[0], Month: data[1], Day: data[2], Weekday: data[3]}, nil
	case TagTime:
		if len(data) != 4 {
			return nil, fmt.Errorf("%w: time with %d octets", ErrMalformedTag, len(data))
		}
		return Time{Hour: data[0], Minute: data[1], Second: data[2], Hundredths: data[3]}, nil
	case TagObjectID:
		if len(data) != 4 {
			return nil, fmt.Errorf("%w: object identifier with %d octets", ErrMalformedTag, len(data))
		}
		return DecodeObjectIdentifier(binary.BigEndian.Uint32(data)), nil
	default:
		return nil, fmt.Errorf("%w: reserved application tag %d", ErrTypeMismatch, kind)
	}
}

func decodeUnsigned(data []byte, max int) (uint64, error) {
	if len(data) == 0 || len(data) > max {
		return 0, fmt.Errorf("%w: integer with %d octets", ErrMalformedTag, len(data))
	}
	if len(data) > 1 && data[0] == 0 {
		return 0, fmt.Errorf("%w: non-minimal unsigned % x", ErrMalformedTag, data)
	}
	var u uint64
	for _, b := range data {
		u = u<<8 | uint64(b)
	}
	return u, nil
}

func decodeSigned(data []byte) (int64, error) {
	if len(data) == 0 || len(data) > 8 {
		return 0, fmt.Errorf("%w: integer with %d octets", ErrMalformedTag, len(data))
	}
	if len(data) > 1 {
		signExt := (data[0] == 0x00 && data[1]&0x80 == 0) || (data[0] == 0xFF && data[1]&0x80 != 0)
		if signExt {
			return 0, fmt.Errorf("%w: non-minimal signed % x", ErrMalformedTag, data)
		}
	}
	s := int64(int8(data[0]))
	for _, b := range data[1:] {
		s = s<<8 | int64(b)
	}
	return s, nil
}

func decodeBitString(data []byte) (BitString, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedBitString)
	}
	unused := int(data[0])
	if unused > 7 {
		return nil, fmt.Errorf("%w: %d unused bits", ErrMalformedBitString, unused)
	}
	if len(data) == 1 && unused != 0 {
		return nil, fmt.Errorf("%w: %d unused bits without data", ErrMalformedBitString, unused)
	}
	n := (len(data)-1)*8 - unused
	bits := make(BitString, n)
	for i := range bits {
		bits[i] = data[1+i/8]&(0x80>>(i%8)) != 0
	}
	return bits, nil
}

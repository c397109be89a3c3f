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
	"fmt"
)

// Tag octet layout:
//
//	bits 7-4  tag number (0xF: extended, number in next octet)
//	bit  3    class (0 application, 1 context)
//	bits 2-0  length/value/type
//
// LVT 0-4 is the payload length, 5 announces an extended length, and on
// context tags 6 and 7 mark opening and closing of constructed data. For
// application Boolean the LVT is the value itself and there is no payload.
const (
	lvtExtended = 5
	lvtOpening  = 6
	lvtClosing  = 7

	extendedTagNumber = 0x0F
	maxTagNumber      = 254

	extLength16 = 254
	extLength32 = 255
)

// TagKind distinguishes primitive tags from constructed-data delimiters.
type TagKind uint8

const (
	TagPrimitive TagKind = iota
	TagOpening
	TagClosing
)

func (k TagKind) String() string {
	switch k {
	case TagOpening:
		return "opening"
	case TagClosing:
		return "closing"
	default:
		return "primitive"
	}
}

// Tag is a decoded tag header.
type Tag struct {
	Number uint8
	Class  TagClass
	Kind   TagKind
	// Length is the payload length in octets. For an application Boolean
	// it carries the boolean value (0 or 1) and the payload is empty.
	Length uint32
}

// OpeningTag returns the opening delimiter for context tag n.
func OpeningTag(n uint8) Tag {
	return Tag{Number: n, Class: TagClassContext, Kind: TagOpening}
}

// ClosingTag returns the closing delimiter for context tag n.
func ClosingTag(n uint8) Tag {
	return Tag{Number: n, Class: TagClassContext, Kind: TagClosing}
}

// IsOpening reports whether t opens constructed data with context tag n.
func (t Tag) IsOpening(n uint8) bool {
	return t.Kind == TagOpening && t.Number == n
}

// IsClosing reports whether t closes constructed data with context tag n.
func (t Tag) IsClosing(n uint8) bool {
	return t.Kind == TagClosing && t.Number == n
}

// IsContext reports whether t is a primitive context tag numbered n.
func (t Tag) IsContext(n uint8) bool {
	return t.Kind == TagPrimitive && t.Class == TagClassContext && t.Number == n
}

func (t Tag) isApplicationBoolean() bool {
	return t.Kind == TagPrimitive && t.Class == TagClassApplication && t.Number == uint8(TagBoolean)
}

// PayloadLength returns the number of octets following the header.
func (t Tag) PayloadLength() int {
	if t.Kind != TagPrimitive || t.isApplicationBoolean() {
		return 0
	}
	return int(t.Length)
}

func (t Tag) String() string {
	switch t.Kind {
	case TagOpening, TagClosing:
		return fmt.Sprintf("%s[%d]", t.Kind, t.Number)
	}
	if t.Class == TagClassApplication {
		return fmt.Sprintf("%s(len=%d)", ApplicationTag(t.Number), t.Length)
	}
	return fmt.Sprintf("context[%d](len=%d)", t.Number, t.Length)
}

// ReadTag decodes the tag header at buf[offset:] and returns it with the
// number of header octets consumed. The declared payload must fit in buf.
func ReadTag(buf []byte, offset int) (Tag, int, error) {
	if offset < 0 || offset >= len(buf) {
		return Tag{}, 0, fmt.Errorf("%w: %w: no tag at offset %d", ErrMalformedTag, ErrTruncatedData, offset)
	}
	data := buf[offset:]

	var t Tag
	t.Number = data[0] >> 4
	t.Class = TagClass((data[0] >> 3) & 0x01)
	lvt := data[0] & 0x07
	n := 1

	if t.Number == extendedTagNumber {
		if len(data) < 2 {
			return Tag{}, 0, fmt.Errorf("%w: %w: missing extended tag number", ErrMalformedTag, ErrTruncatedData)
		}
		t.Number = data[1]
		if t.Number < extendedTagNumber {
			return Tag{}, 0, fmt.Errorf("%w: non-minimal extended tag number %d", ErrMalformedTag, t.Number)
		}
		if t.Number > maxTagNumber {
			return Tag{}, 0, fmt.Errorf("%w: reserved tag number %d", ErrMalformedTag, t.Number)
		}
		n = 2
	}

	if t.Class == TagClassContext && (lvt == lvtOpening || lvt == lvtClosing) {
		t.Kind = TagOpening
		if lvt == lvtClosing {
			t.Kind = TagClosing
		}
		return t, n, nil
	}

	if t.Class == TagClassApplication && t.Number == uint8(TagBoolean) {
		if lvt > 1 {
			return Tag{}, 0, fmt.Errorf("%w: boolean value %d", ErrMalformedTag, lvt)
		}
		t.Length = uint32(lvt)
		return t, n, nil
	}

	switch {
	case lvt < lvtExtended:
		t.Length = uint32(lvt)
	case lvt == lvtExtended:
		length, ext, err := readExtendedLength(data[n:])
		if err != nil {
			return Tag{}, 0, err
		}
		t.Length = length
		n += ext
	default:
		return Tag{}, 0, fmt.Errorf("%w: application tag with LVT %d", ErrMalformedTag, lvt)
	}

	if uint64(len(data)-n) < uint64(t.Length) {
		return Tag{}, 0, fmt.Errorf("%w: %w: declared length %d, %d octets left",
			ErrMalformedTag, ErrTruncatedData, t.Length, len(data)-n)
	}
	return t, n, nil
}

func readExtendedLength(data []byte) (uint32, int, error) {
	if len(data) < 1 {
		return 0, 0, fmt.Errorf("%w: %w: missing extended length", ErrMalformedTag, ErrTruncatedData)
	}
	switch data[0] {
	case extLength16:
		if len(data) < 3 {
			return 0, 0, fmt.Errorf("%w: %w: short 16-bit length", ErrMalformedTag, ErrTruncatedData)
		}
		l := uint32(binary.BigEndian.Uint16(data[1:]))
		if l < extLength16 {
			return 0, 0, fmt.Errorf("%w: non-minimal length %d", ErrMalformedTag, l)
		}
		return l, 3, nil
	case extLength32:
		if len(data) < 5 {
			return 0, 0, fmt.Errorf("%w: %w: short 32-bit length", ErrMalformedTag, ErrTruncatedData)
		}
		l := binary.BigEndian.Uint32(data[1:])
		if l <= 0xFFFF {
			return 0, 0, fmt.Errorf("%w: non-minimal length %d", ErrMalformedTag, l)
		}
		return l, 5, nil
	default:
		l := uint32(data[0])
		if l < lvtExtended {
			return 0, 0, fmt.Errorf("%w: non-minimal length %d", ErrMalformedTag, l)
		}
		return l, 1, nil
	}
}

// WriteTag encodes t in its minimal form.
func WriteTag(t Tag) ([]byte, error) {
	return AppendTag(make([]byte, 0, 7), t)
}

// AppendTag appends the minimal encoding of t to dst.
func AppendTag(dst []byte, t Tag) ([]byte, error) {
	if t.Number > maxTagNumber {
		return dst, fmt.Errorf("%w: tag number %d", ErrValueOutOfRange, t.Number)
	}

	var lvt uint8
	switch {
	case t.Kind == TagOpening || t.Kind == TagClosing:
		if t.Class != TagClassContext {
			return dst, fmt.Errorf("%w: %s tag must be context class", ErrValueOutOfRange, t.Kind)
		}
		lvt = lvtOpening
		if t.Kind == TagClosing {
			lvt = lvtClosing
		}
	case t.isApplicationBoolean():
		if t.Length > 1 {
			return dst, fmt.Errorf("%w: boolean value %d", ErrValueOutOfRange, t.Length)
		}
		lvt = uint8(t.Length)
	case t.Length < lvtExtended:
		lvt = uint8(t.Length)
	default:
		lvt = lvtExtended
	}

	first := uint8(t.Class)<<3 | lvt
	if t.Number < extendedTagNumber {
		dst = append(dst, t.Number<<4|first)
	} else {
		dst = append(dst, extendedTagNumber<<4|first, t.Number)
	}

	if lvt != lvtExtended || t.Kind != TagPrimitive {
		return dst, nil
	}
	switch {
	case t.Length < extLength16:
		dst = append(dst, uint8(t.Length))
	case t.Length <= 0xFFFF:
		dst = append(dst, extLength16)
		dst = binary.BigEndian.AppendUint16(dst, uint16(t.Length))
	default:
		dst = append(dst, extLength32)
		dst = binary.BigEndian.AppendUint32(dst, t.Length)
	}
	return dst, nil
}

// Element is one tag of a tag stream with its payload. Payload is nil for
// opening and closing tags and for application Booleans.
type Element struct {
	Tag     Tag
	Payload []byte
	// Depth is the constructed-data nesting level the element sits at.
	Depth int
}

// ParseElements splits buf into its sequence of tags and checks that
// opening and closing tags are balanced.
func ParseElements(buf []byte) ([]Element, error) {
	var (
		elems []Element
		stack []uint8
	)
	for off := 0; off < len(buf); {
		t, n, err := ReadTag(buf, off)
		if err != nil {
			return nil, err
		}
		off += n
		e := Element{Tag: t, Depth: len(stack)}
		switch t.Kind {
		case TagOpening:
			stack = append(stack, t.Number)
		case TagClosing:
			if len(stack) == 0 || stack[len(stack)-1] != t.Number {
				return nil, fmt.Errorf("%w: unexpected closing tag %d", ErrUnbalancedConstructedData, t.Number)
			}
			stack = stack[:len(stack)-1]
			e.Depth = len(stack)
		default:
			if pl := t.PayloadLength(); pl > 0 {
				e.Payload = buf[off : off+pl]
				off += pl
			}
		}
		elems = append(elems, e)
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("%w: %d unclosed tags", ErrUnbalancedConstructedData, len(stack))
	}
	return elems, nil
}

// ValidateTagStream checks that buf is a well formed, balanced sequence of tags.
func ValidateTagStream(buf []byte) error {
	_, err := ParseElements(buf)
	return err
}

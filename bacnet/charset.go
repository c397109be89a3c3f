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
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

// Charset is the character set octet leading a CharacterString payload.
type Charset uint8

const (
	CharsetUTF8     Charset = 0 // ANSI X3.4 / UTF-8
	CharsetDBCS     Charset = 1 // IBM/Microsoft DBCS
	CharsetJISX0208 Charset = 2
	CharsetUCS4     Charset = 3 // ISO 10646 UCS-4
	CharsetUCS2     Charset = 4 // ISO 10646 UCS-2
	CharsetISO88591 Charset = 5
)

func (c Charset) String() string {
	switch c {
	case CharsetUTF8:
		return "utf-8"
	case CharsetDBCS:
		return "dbcs"
	case CharsetJISX0208:
		return "jis-x-0208"
	case CharsetUCS4:
		return "ucs-4"
	case CharsetUCS2:
		return "ucs-2"
	case CharsetISO88591:
		return "iso-8859-1"
	default:
		return fmt.Sprintf("charset(%d)", uint8(c))
	}
}

// textEncoding returns the transcoder for c, nil for UTF-8.
func (c Charset) textEncoding() (encoding.Encoding, error) {
	switch c {
	case CharsetUTF8:
		return nil, nil
	case CharsetUCS4:
		return utf32.UTF32(utf32.BigEndian, utf32.IgnoreBOM), nil
	case CharsetUCS2:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), nil
	case CharsetISO88591:
		return charmap.ISO8859_1, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCharacterSet, c)
	}
}

func encodeCharacterString(cs CharacterString) ([]byte, error) {
	enc, err := cs.Charset.textEncoding()
	if err != nil {
		return nil, err
	}
	if !utf8.ValidString(cs.Value) {
		return nil, fmt.Errorf("%w: string is not valid UTF-8", ErrValueOutOfRange)
	}
	out := []byte{byte(cs.Charset)}
	if enc == nil {
		return append(out, cs.Value...), nil
	}
	if cs.Charset == CharsetUCS2 {
		// UTF-16 would silently emit surrogate pairs.
		for _, r := range cs.Value {
			if r > 0xFFFF {
				return nil, fmt.Errorf("%w: rune %U outside UCS-2", ErrValueOutOfRange, r)
			}
		}
	}
	text, err := enc.NewEncoder().String(cs.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrValueOutOfRange, cs.Charset, err)
	}
	return append(out, text...), nil
}

func decodeCharacterString(data []byte) (CharacterString, error) {
	if len(data) == 0 {
		return CharacterString{}, fmt.Errorf("%w: character string without charset", ErrMalformedTag)
	}
	cs := CharacterString{Charset: Charset(data[0])}
	text := data[1:]

	enc, err := cs.Charset.textEncoding()
	if err != nil {
		return CharacterString{}, err
	}
	switch cs.Charset {
	case CharsetUTF8:
		if !utf8.Valid(text) {
			return CharacterString{}, fmt.Errorf("%w: invalid UTF-8 text", ErrMalformedTag)
		}
		cs.Value = string(text)
		return cs, nil
	case CharsetUCS2:
		if len(text)%2 != 0 {
			return CharacterString{}, fmt.Errorf("%w: UCS-2 text of %d octets", ErrMalformedTag, len(text))
		}
	case CharsetUCS4:
		if len(text)%4 != 0 {
			return CharacterString{}, fmt.Errorf("%w: UCS-4 text of %d octets", ErrMalformedTag, len(text))
		}
	}
	decoded, err := enc.NewDecoder().Bytes(text)
	if err != nil {
		return CharacterString{}, fmt.Errorf("%w: %s: %v", ErrMalformedTag, cs.Charset, err)
	}
	cs.Value = string(decoded)
	return cs, nil
}

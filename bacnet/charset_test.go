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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharacterStringCharsets(t *testing.T) {
	tests := []struct {
		name  string
		value CharacterString
		want  []byte
	}{
		{"utf-8", CharacterString{Charset: CharsetUTF8, Value: "é"}, []byte{0x73, 0x00, 0xC3, 0xA9}},
		{"iso-8859-1", CharacterString{Charset: CharsetISO88591, Value: "é"}, []byte{0x72, 0x05, 0xE9}},
		{"ucs-2", CharacterString{Charset: CharsetUCS2, Value: "Hi"}, []byte{0x75, 0x05, 0x04, 0x00, 0x48, 0x00, 0x69}},
		{"ucs-4", CharacterString{Charset: CharsetUCS4, Value: "A"}, []byte{0x75, 0x05, 0x03, 0x00, 0x00, 0x00, 0x41}},
		{"empty", CharacterString{Charset: CharsetUTF8}, []byte{0x71, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeApplication(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			tag, n, err := ReadTag(got, 0)
			require.NoError(t, err)
			decoded, err := Decode(tag, got[n:])
			require.NoError(t, err)
			assert.Equal(t, tt.value, decoded)
		})
	}
}

func TestCharacterStringErrors(t *testing.T) {
	_, err := decodeCharacterString([]byte{byte(CharsetUCS2), 0x00, 0x48, 0x00})
	assert.ErrorIs(t, err, ErrMalformedTag)

	_, err = decodeCharacterString([]byte{byte(CharsetUCS4), 0x00, 0x00, 0x41})
	assert.ErrorIs(t, err, ErrMalformedTag)

	_, err = decodeCharacterString([]byte{byte(CharsetDBCS), 0x41})
	assert.ErrorIs(t, err, ErrUnsupportedCharacterSet)

	_, err = encodeCharacterString(CharacterString{Charset: CharsetUCS2, Value: "\U0001F600"})
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	_, err = encodeCharacterString(CharacterString{Charset: CharsetISO88591, Value: "€"})
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	_, err = encodeCharacterString(CharacterString{Charset: CharsetUTF8, Value: "\xff"})
	assert.ErrorIs(t, err, ErrValueOutOfRange)
}

func TestCharsetString(t *testing.T) {
	assert.Equal(t, "ucs-2", CharsetUCS2.String())
	assert.Equal(t, "charset(9)", Charset(9).String())
}

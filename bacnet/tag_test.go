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

func TestWriteTag(t *testing.T) {
	tests := []struct {
		name string
		tag  Tag
		want []byte
	}{
		{"application unsigned", Tag{Number: 2, Class: TagClassApplication, Length: 1}, []byte{0x21}},
		{"context length 4", Tag{Number: 0, Class: TagClassContext, Length: 4}, []byte{0x0C}},
		{"boolean true", Tag{Number: uint8(TagBoolean), Class: TagClassApplication, Length: 1}, []byte{0x11}},
		{"opening", OpeningTag(3), []byte{0x3E}},
		{"closing", ClosingTag(3), []byte{0x3F}},
		{"extended number", Tag{Number: 20, Class: TagClassContext, Length: 1}, []byte{0xF9, 0x14}},
		{"extended opening", OpeningTag(254), []byte{0xFE, 0xFE}},
		{"length 5", Tag{Number: 2, Class: TagClassApplication, Length: 5}, []byte{0x25, 0x05}},
		{"length 253", Tag{Number: 2, Class: TagClassApplication, Length: 253}, []byte{0x25, 0xFD}},
		{"length 254", Tag{Number: 2, Class: TagClassApplication, Length: 254}, []byte{0x25, 0xFE, 0x00, 0xFE}},
		{"length 300", Tag{Number: 2, Class: TagClassApplication, Length: 300}, []byte{0x25, 0xFE, 0x01, 0x2C}},
		{"length 70000", Tag{Number: 2, Class: TagClassApplication, Length: 70000}, []byte{0x25, 0xFF, 0x00, 0x01, 0x11, 0x70}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WriteTag(tt.tag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteTagRejectsInvalid(t *testing.T) {
	_, err := WriteTag(Tag{Number: 255, Class: TagClassContext})
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	_, err = WriteTag(Tag{Number: 1, Class: TagClassApplication, Kind: TagOpening})
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	_, err = WriteTag(Tag{Number: uint8(TagBoolean), Class: TagClassApplication, Length: 2})
	assert.ErrorIs(t, err, ErrValueOutOfRange)
}

func TestReadTagRoundTrip(t *testing.T) {
	tags := []Tag{
		{Number: 0, Class: TagClassContext, Length: 0},
		{Number: 14, Class: TagClassContext, Length: 4},
		{Number: 15, Class: TagClassContext, Length: 1},
		{Number: 254, Class: TagClassContext, Length: 2},
		OpeningTag(0),
		ClosingTag(200),
		{Number: uint8(TagBoolean), Class: TagClassApplication, Length: 0},
		{Number: uint8(TagOctetString), Class: TagClassApplication, Length: 1000},
	}

	for _, tag := range tags {
		t.Run(tag.String(), func(t *testing.T) {
			enc, err := WriteTag(tag)
			require.NoError(t, err)
			buf := append(enc, make([]byte, tag.PayloadLength())...)

			got, n, err := ReadTag(buf, 0)
			require.NoError(t, err)
			assert.Equal(t, tag, got)
			assert.Equal(t, len(enc), n)
		})
	}
}

func TestReadTagErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncatedData},
		{"missing extended number", []byte{0xF9}, ErrTruncatedData},
		{"non-minimal extended number", []byte{0xF9, 0x0E, 0x00}, ErrMalformedTag},
		{"reserved tag number", []byte{0xF9, 0xFF, 0x00}, ErrMalformedTag},
		{"boolean lvt 2", []byte{0x12}, ErrMalformedTag},
		{"application lvt 6", []byte{0x26}, ErrMalformedTag},
		{"missing extended length", []byte{0x25}, ErrTruncatedData},
		{"non-minimal 8-bit length", []byte{0x25, 0x04, 0, 0, 0, 0}, ErrMalformedTag},
		{"non-minimal 16-bit length", []byte{0x25, 0xFE, 0x00, 0x10}, ErrMalformedTag},
		{"non-minimal 32-bit length", []byte{0x25, 0xFF, 0x00, 0x00, 0xFF, 0xFF}, ErrMalformedTag},
		{"short 16-bit length", []byte{0x25, 0xFE, 0x01}, ErrTruncatedData},
		{"payload past end", []byte{0x24, 0x01, 0x02}, ErrTruncatedData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadTag(tt.data, 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, ErrMalformedTag)
		})
	}
}

func TestReadTagOffset(t *testing.T) {
	_, _, err := ReadTag([]byte{0x21, 0x05}, 2)
	assert.ErrorIs(t, err, ErrTruncatedData)

	tag, n, err := ReadTag([]byte{0x21, 0x05, 0x91, 0x03}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint8(TagEnumerated), tag.Number)
}

func TestParseElements(t *testing.T) {
	// [0] 1, [3]{ real 72.0, [1]{ null } }
	buf := []byte{0x09, 0x01, 0x3E, 0x44, 0x42, 0x90, 0x00, 0x00, 0x1E, 0x00, 0x1F, 0x3F}

	elems, err := ParseElements(buf)
	require.NoError(t, err)
	require.Len(t, elems, 7)

	depths := make([]int, len(elems))
	for i, e := range elems {
		depths[i] = e.Depth
	}
	assert.Equal(t, []int{0, 0, 1, 1, 2, 1, 0}, depths)
	assert.Equal(t, []byte{0x42, 0x90, 0x00, 0x00}, elems[2].Payload)
	assert.Nil(t, elems[1].Payload)
	assert.NoError(t, ValidateTagStream(buf))
}

func TestParseElementsUnbalanced(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"unclosed", []byte{0x3E, 0x21, 0x01}},
		{"stray closing", []byte{0x21, 0x01, 0x3F}},
		{"crossed", []byte{0x3E, 0x1E, 0x3F, 0x1F}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateTagStream(tt.data), ErrUnbalancedConstructedData)
		})
	}
}

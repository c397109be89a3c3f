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

func TestEncoderDecoder(t *testing.T) {
	var e Encoder
	e.Context(0, NewObjectIdentifier(ObjectTypeAnalogValue, 7))
	e.Context(1, Enumerated(PropertyPresentValue))
	e.Opening(3)
	e.Application(Real(72))
	e.Application(Null{})
	e.Closing(3)
	e.Context(4, Unsigned(8))

	buf, err := e.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x0C, 0x00, 0x80, 0x00, 0x07,
		0x19, 0x55,
		0x3E, 0x44, 0x42, 0x90, 0x00, 0x00, 0x00, 0x3F,
		0x49, 0x08,
	}, buf)

	d := NewDecoder(buf)
	oid, err := d.Context(0, TagObjectID)
	require.NoError(t, err)
	assert.Equal(t, NewObjectIdentifier(ObjectTypeAnalogValue, 7), oid)

	// Tag 2 is absent; nothing is consumed.
	before := d.Offset()
	_, ok, err := d.OptionalContext(2, TagUnsignedInt)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, d.Offset())

	prop, ok, err := d.OptionalContext(1, TagEnumerated)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Enumerated(PropertyPresentValue), prop)

	inner, err := d.Constructed(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x44, 0x42, 0x90, 0x00, 0x00, 0x00}, inner)

	prio, err := d.Context(4, TagUnsignedInt)
	require.NoError(t, err)
	assert.Equal(t, Unsigned(8), prio)
	assert.True(t, d.Done())

	_, ok, err = d.OptionalContext(5, TagUnsignedInt)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEncoderStickyError(t *testing.T) {
	var e Encoder
	e.Opening(1)
	e.Closing(2)
	e.Application(Unsigned(1))
	_, err := e.Bytes()
	assert.ErrorIs(t, err, ErrUnbalancedConstructedData)

	var unclosed Encoder
	unclosed.Opening(0)
	_, err = unclosed.Bytes()
	assert.ErrorIs(t, err, ErrUnbalancedConstructedData)

	var bad Encoder
	bad.Application(ObjectIdentifier{Type: MaxObjectType + 1})
	bad.Raw([]byte{0x00})
	_, err = bad.Bytes()
	assert.ErrorIs(t, err, ErrValueOutOfRange)
}

func TestDecoderNested(t *testing.T) {
	// opening[0] opening[1] closing[1] closing[0]
	d := NewDecoder([]byte{0x0E, 0x1E, 0x21, 0x01, 0x1F, 0x0F})
	inner, err := d.Constructed(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1E, 0x21, 0x01, 0x1F}, inner)
	assert.True(t, d.Done())
}

func TestDecoderErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		run  func(d *Decoder) error
		want error
	}{
		{
			name: "missing required context",
			data: []byte{0x19, 0x55},
			run: func(d *Decoder) error {
				_, err := d.Context(0, TagObjectID)
				return err
			},
			want: ErrTypeMismatch,
		},
		{
			name: "context where application expected",
			data: []byte{0x09, 0x01},
			run: func(d *Decoder) error {
				_, err := d.ApplicationAs(TagUnsignedInt)
				return err
			},
			want: ErrTypeMismatch,
		},
		{
			name: "unterminated constructed",
			data: []byte{0x3E, 0x21, 0x01},
			run: func(d *Decoder) error {
				_, err := d.Constructed(3)
				return err
			},
			want: ErrUnbalancedConstructedData,
		},
		{
			name: "wrong closing tag",
			data: []byte{0x3E, 0x21, 0x01, 0x4F},
			run: func(d *Decoder) error {
				_, err := d.Constructed(3)
				return err
			},
			want: ErrUnbalancedConstructedData,
		},
		{
			name: "missing opening",
			data: []byte{0x21, 0x01},
			run: func(d *Decoder) error {
				return d.Opening(3)
			},
			want: ErrTypeMismatch,
		},
		{
			name: "missing closing",
			data: nil,
			run: func(d *Decoder) error {
				return d.Closing(3)
			},
			want: ErrUnbalancedConstructedData,
		},
		{
			name: "truncated element",
			data: []byte{0x22, 0x01},
			run: func(d *Decoder) error {
				_, err := d.Application()
				return err
			},
			want: ErrTruncatedData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(NewDecoder(tt.data)), tt.want)
		})
	}
}

func TestDecoderAtClosing(t *testing.T) {
	d := NewDecoder([]byte{0x3E, 0x3F})
	require.NoError(t, d.Opening(3))
	assert.False(t, d.AtClosing(4))
	assert.True(t, d.AtClosing(3))
	require.NoError(t, d.Closing(3))
	assert.False(t, d.AtClosing(3))
}

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
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplicationEncoding(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  []byte
	}{
		{"null", Null{}, []byte{0x00}},
		{"boolean false", Boolean(false), []byte{0x10}},
		{"boolean true", Boolean(true), []byte{0x11}},
		{"unsigned 0", Unsigned(0), []byte{0x21, 0x00}},
		{"unsigned 72", Unsigned(72), []byte{0x21, 0x48}},
		{"unsigned 256", Unsigned(256), []byte{0x22, 0x01, 0x00}},
		{"unsigned max", Unsigned(math.MaxUint64), []byte{0x25, 0x08, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"signed -1", Signed(-1), []byte{0x31, 0xFF}},
		{"signed 127", Signed(127), []byte{0x31, 0x7F}},
		{"signed 128", Signed(128), []byte{0x32, 0x00, 0x80}},
		{"signed -129", Signed(-129), []byte{0x32, 0xFF, 0x7F}},
		{"real 72", Real(72), []byte{0x44, 0x42, 0x90, 0x00, 0x00}},
		{"double 1", Double(1), []byte{0x55, 0x08, 0x3F, 0xF0, 0, 0, 0, 0, 0, 0}},
		{"octet string", OctetString{0x01, 0x02}, []byte{0x62, 0x01, 0x02}},
		{"empty octet string", OctetString(nil), []byte{0x60}},
		{"character string", NewCharacterString("BACnet"), []byte{0x75, 0x07, 0x00, 'B', 'A', 'C', 'n', 'e', 't'}},
		{"bit string", BitString{true, false, true}, []byte{0x82, 0x05, 0xA0}},
		{"empty bit string", BitString{}, []byte{0x81, 0x00}},
		{"enumerated", Enumerated(1), []byte{0x91, 0x01}},
		{"date", Date{Year: 124, Month: 3, Day: 15, Weekday: 5}, []byte{0xA4, 0x7C, 0x03, 0x0F, 0x05}},
		{"time", Time{Hour: 12, Minute: 30, Second: 45, Hundredths: 67}, []byte{0xB4, 0x0C, 0x1E, 0x2D, 0x43}},
		{"object identifier", NewObjectIdentifier(ObjectTypeDevice, 1234), []byte{0xC4, 0x02, 0x00, 0x04, 0xD2}},
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

func TestContextEncoding(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		tag   uint8
		want  []byte
	}{
		{"boolean carries a payload", Boolean(true), 0, []byte{0x09, 0x01}},
		{"unsigned", Unsigned(5), 2, []byte{0x29, 0x05}},
		{"object identifier", NewObjectIdentifier(ObjectTypeAnalogInput, 1), 0, []byte{0x0C, 0x00, 0x00, 0x00, 0x01}},
		{"enumerated", Enumerated(PropertyPresentValue), 1, []byte{0x19, 0x55}},
		{"extended tag number", Unsigned(1), 30, []byte{0xF9, 0x1E, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeContext(tt.value, tt.tag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			tag, n, err := ReadTag(got, 0)
			require.NoError(t, err)
			decoded, err := DecodeAs(tt.value.AppTag(), tag, got[n:])
			require.NoError(t, err)
			assert.Equal(t, tt.value, decoded)
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	_, err := Encode(Unsigned(1), uint8(TagReal), TagClassApplication)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = EncodeApplication(nil)
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	_, err = EncodeApplication(ObjectIdentifier{Type: 1024, Instance: 1})
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	_, err = EncodeApplication(CharacterString{Charset: CharsetDBCS, Value: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedCharacterSet)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"non-minimal unsigned", []byte{0x22, 0x00, 0x48}, ErrMalformedTag},
		{"unsigned too long", []byte{0x25, 0x09, 1, 2, 3, 4, 5, 6, 7, 8, 9}, ErrMalformedTag},
		{"empty unsigned", []byte{0x20}, ErrMalformedTag},
		{"non-minimal positive signed", []byte{0x32, 0x00, 0x7F}, ErrMalformedTag},
		{"non-minimal negative signed", []byte{0x32, 0xFF, 0x80}, ErrMalformedTag},
		{"enumerated over 4 octets", []byte{0x95, 0x05, 1, 2, 3, 4, 5}, ErrMalformedTag},
		{"short real", []byte{0x43, 0x42, 0x90, 0x00}, ErrMalformedTag},
		{"short double", []byte{0x54, 0, 0, 0, 0}, ErrMalformedTag},
		{"null with payload", []byte{0x01, 0x00}, ErrMalformedTag},
		{"date of 3 octets", []byte{0xA3, 0x7C, 0x03, 0x0F}, ErrMalformedTag},
		{"time of 5 octets", []byte{0xB5, 0x05, 0, 0, 0, 0, 0}, ErrMalformedTag},
		{"object identifier of 3 octets", []byte{0xC3, 0, 0, 1}, ErrMalformedTag},
		{"bit string unused 8", []byte{0x82, 0x08, 0x00}, ErrMalformedBitString},
		{"bit string unused without data", []byte{0x81, 0x03}, ErrMalformedBitString},
		{"empty bit string payload", []byte{0x80}, ErrMalformedBitString},
		{"reserved application tag", []byte{0xD1, 0x00}, ErrTypeMismatch},
		{"character string without charset", []byte{0x70}, ErrMalformedTag},
		{"invalid utf-8", []byte{0x72, 0x00, 0xFF}, ErrMalformedTag},
		{"unsupported charset", []byte{0x72, 0x02, 0x41}, ErrUnsupportedCharacterSet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tag, n, err := ReadTag(tt.data, 0)
			require.NoError(t, err)
			_, err = Decode(tag, tt.data[n:])
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeAsMismatch(t *testing.T) {
	data := []byte{0x21, 0x01}
	tag, n, err := ReadTag(data, 0)
	require.NoError(t, err)

	_, err = DecodeAs(TagEnumerated, tag, data[n:])
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Decode(OpeningTag(1), nil)
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = Decode(Tag{Number: 1, Class: TagClassContext, Length: 1}, []byte{0x01})
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestContextBoolean(t *testing.T) {
	tag := Tag{Number: 0, Class: TagClassContext, Length: 1}

	v, err := DecodeAs(TagBoolean, tag, []byte{0x00})
	require.NoError(t, err)
	assert.Equal(t, Boolean(false), v)

	_, err = DecodeAs(TagBoolean, tag, []byte{0x02})
	assert.ErrorIs(t, err, ErrMalformedTag)
}

func TestSignedBoundaries(t *testing.T) {
	values := []int64{0, 1, -1, 127, -128, 128, -129, 32767, -32768, 1 << 23, -(1 << 23), math.MaxInt64, math.MinInt64}
	for _, v := range values {
		enc, err := EncodeApplication(Signed(v))
		require.NoError(t, err)
		tag, n, err := ReadTag(enc, 0)
		require.NoError(t, err)
		got, err := Decode(tag, enc[n:])
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, Signed(v), got)
	}
}

func TestDateTimeValues(t *testing.T) {
	ts := time.Date(2024, time.March, 17, 8, 5, 9, 420*int(time.Millisecond), time.UTC)

	d := NewDate(ts)
	assert.Equal(t, Date{Year: 124, Month: 3, Day: 17, Weekday: 7}, d)
	assert.Equal(t, "2024-03-17", d.String())

	tm := NewTime(ts)
	assert.Equal(t, Time{Hour: 8, Minute: 5, Second: 9, Hundredths: 42}, tm)
	assert.Equal(t, "08:05:09.42", tm.String())

	wildcard := Date{Year: Unspecified, Month: 12, Day: Unspecified, Weekday: Unspecified}
	assert.Equal(t, "****-12-**", wildcard.String())
}

func TestValueStrings(t *testing.T) {
	assert.Equal(t, "null", Null{}.String())
	assert.Equal(t, "{1,0,1}", BitString{true, false, true}.String())
	assert.Equal(t, "0102", OctetString{1, 2}.String())
	assert.Equal(t, "device:1234", NewObjectIdentifier(ObjectTypeDevice, 1234).String())
}

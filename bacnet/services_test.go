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

func u32(v uint32) *uint32 { return &v }
func u8(v uint8) *uint8    { return &v }

func TestReadPropertyRequest(t *testing.T) {
	tests := []struct {
		name string
		req  ReadPropertyRequest
		want []byte
	}{
		{
			name: "present value",
			req:  ReadPropertyRequest{Object: NewObjectIdentifier(ObjectTypeAnalogInput, 1), Property: PropertyPresentValue},
			want: []byte{0x0C, 0x00, 0x00, 0x00, 0x01, 0x19, 0x55},
		},
		{
			name: "array element",
			req: ReadPropertyRequest{
				Object:     NewObjectIdentifier(ObjectTypeDevice, 599),
				Property:   PropertyObjectList,
				ArrayIndex: u32(3),
			},
			want: []byte{0x0C, 0x02, 0x00, 0x02, 0x57, 0x19, 0x4C, 0x29, 0x03},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.Encode()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			decoded, err := DecodeReadPropertyRequest(got)
			require.NoError(t, err)
			assert.Equal(t, tt.req, decoded)
		})
	}
}

func TestDecodeReadPropertyRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"missing property", []byte{0x0C, 0x00, 0x00, 0x00, 0x01}, ErrTypeMismatch},
		{"trailing data", []byte{0x0C, 0x00, 0x00, 0x00, 0x01, 0x19, 0x55, 0x49, 0x01}, ErrTypeMismatch},
		{"application tags", []byte{0xC4, 0x00, 0x00, 0x00, 0x01, 0x91, 0x55}, ErrTypeMismatch},
		{"truncated object", []byte{0x0C, 0x00, 0x00}, ErrTruncatedData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeReadPropertyRequest(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReadPropertyAck(t *testing.T) {
	ack := ReadPropertyAck{
		Object:   NewObjectIdentifier(ObjectTypeAnalogInput, 1),
		Property: PropertyPresentValue,
		Values:   []Value{Real(72)},
	}
	got, err := ack.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0C, 0x00, 0x00, 0x00, 0x01, 0x19, 0x55, 0x3E, 0x44, 0x42, 0x90, 0x00, 0x00, 0x3F}, got)

	decoded, err := DecodeReadPropertyAck(got)
	require.NoError(t, err)
	assert.Equal(t, ack, decoded)

	_, err = DecodeReadPropertyAck(got[:len(got)-1])
	assert.ErrorIs(t, err, ErrUnbalancedConstructedData)

	empty := ReadPropertyAck{Object: ack.Object, Property: PropertyObjectList}
	got, err = empty.Encode()
	require.NoError(t, err)
	decoded, err = DecodeReadPropertyAck(got)
	require.NoError(t, err)
	assert.Empty(t, decoded.Values)
}

func TestWritePropertyRequest(t *testing.T) {
	req := WritePropertyRequest{
		Object:   NewObjectIdentifier(ObjectTypeAnalogValue, 1),
		Property: PropertyPresentValue,
		Values:   []Value{Real(72)},
		Priority: u8(8),
	}
	got, err := req.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x0C, 0x00, 0x80, 0x00, 0x01,
		0x19, 0x55,
		0x3E, 0x44, 0x42, 0x90, 0x00, 0x00, 0x3F,
		0x49, 0x08,
	}, got)

	decoded, err := DecodeWritePropertyRequest(got)
	require.NoError(t, err)
	assert.Equal(t, req, decoded)

	req.Priority = u8(0)
	_, err = req.Encode()
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	// Priority 17 on the wire.
	bad := append(append([]byte(nil), got[:len(got)-1]...), 0x11)
	_, err = DecodeWritePropertyRequest(bad)
	assert.ErrorIs(t, err, ErrValueOutOfRange)
}

func TestWhoIs(t *testing.T) {
	data, err := WhoIs{}.Encode()
	require.NoError(t, err)
	assert.Nil(t, data)

	w, err := DecodeWhoIs(nil)
	require.NoError(t, err)
	assert.True(t, w.Matches(MaxInstance))

	ranged := WhoIs{Low: u32(1), High: u32(100)}
	data, err = ranged.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x09, 0x01, 0x19, 0x64}, data)

	w, err = DecodeWhoIs(data)
	require.NoError(t, err)
	assert.Equal(t, ranged, w)
	assert.True(t, w.Matches(1))
	assert.True(t, w.Matches(100))
	assert.False(t, w.Matches(101))

	_, err = WhoIs{Low: u32(1)}.Encode()
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	_, err = WhoIs{Low: u32(0), High: u32(MaxInstance + 1)}.Encode()
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	_, err = DecodeWhoIs([]byte{0x09, 0x01})
	assert.ErrorIs(t, err, ErrTypeMismatch)

	_, err = DecodeWhoIs([]byte{0x09, 0x01, 0x1B, 0x40, 0x00, 0x00})
	assert.ErrorIs(t, err, ErrValueOutOfRange)
}

func TestIAm(t *testing.T) {
	data := []byte{0xC4, 0x02, 0x00, 0x02, 0x57, 0x22, 0x04, 0x00, 0x91, 0x00, 0x21, 0x0F}

	iam, err := DecodeIAm(data)
	require.NoError(t, err)
	assert.Equal(t, IAm{
		Device:        NewObjectIdentifier(ObjectTypeDevice, 599),
		MaxAPDULength: 1024,
		Segmentation:  SegmentationBoth,
		VendorID:      15,
	}, iam)

	enc, err := iam.Encode()
	require.NoError(t, err)
	assert.Equal(t, data, enc)

	_, err = IAm{Device: NewObjectIdentifier(ObjectTypeAnalogInput, 1)}.Encode()
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	badSeg := append([]byte(nil), data...)
	badSeg[9] = 0x04
	_, err = DecodeIAm(badSeg)
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	notDevice := append([]byte(nil), data...)
	notDevice[1] = 0x00
	_, err = DecodeIAm(notDevice)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestErrorPayload(t *testing.T) {
	want := NewBACnetError(ErrorClassProperty, ErrorCodeUnknownProperty)
	data, err := EncodeErrorPayload(want)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x91, 0x02, 0x91, 0x20}, data)

	got, err := DecodeErrorPayload(data)
	require.NoError(t, err)
	assert.ErrorIs(t, got, want)
	assert.True(t, IsPropertyNotFound(got))

	_, err = DecodeErrorPayload([]byte{0x91, 0x02})
	assert.ErrorIs(t, err, ErrTruncatedData)
}

func TestReadPropertyHandler(t *testing.T) {
	store := NewMemoryStore()
	device := NewObjectIdentifier(ObjectTypeDevice, 10)
	ai := NewObjectIdentifier(ObjectTypeAnalogInput, 1)
	store.AddObject(device, "dev")
	store.AddObject(ai, "temp")
	store.Set(ai, PropertyPresentValue, Real(20.5))

	handler := ReadPropertyHandler(store)
	read := func(t *testing.T, req ReadPropertyRequest) (ReadPropertyAck, error) {
		data, err := req.Encode()
		require.NoError(t, err)
		ack, err := handler(ConfirmedRequest{Service: ServiceReadProperty, Data: data})
		if err != nil {
			return ReadPropertyAck{}, err
		}
		return DecodeReadPropertyAck(ack)
	}

	tests := []struct {
		name    string
		req     ReadPropertyRequest
		want    []Value
		wantErr error
	}{
		{
			name: "present value",
			req:  ReadPropertyRequest{Object: ai, Property: PropertyPresentValue},
			want: []Value{Real(20.5)},
		},
		{
			name: "object list length",
			req:  ReadPropertyRequest{Object: device, Property: PropertyObjectList, ArrayIndex: u32(0)},
			want: []Value{Unsigned(2)},
		},
		{
			name: "object list element",
			req:  ReadPropertyRequest{Object: device, Property: PropertyObjectList, ArrayIndex: u32(2)},
			want: []Value{device},
		},
		{
			name:    "index past end",
			req:     ReadPropertyRequest{Object: device, Property: PropertyObjectList, ArrayIndex: u32(3)},
			wantErr: NewBACnetError(ErrorClassProperty, ErrorCodeInvalidArrayIndex),
		},
		{
			name:    "unknown object",
			req:     ReadPropertyRequest{Object: NewObjectIdentifier(ObjectTypeAnalogInput, 9), Property: PropertyPresentValue},
			wantErr: NewBACnetError(ErrorClassObject, ErrorCodeUnknownObject),
		},
		{
			name: "wildcard device",
			req:  ReadPropertyRequest{Object: NewObjectIdentifier(ObjectTypeDevice, MaxInstance), Property: PropertyObjectName},
			want: []Value{NewCharacterString("dev")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack, err := read(t, tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ack.Values)
			assert.Equal(t, tt.req.ArrayIndex, ack.ArrayIndex)
		})
	}

	_, err := handler(ConfirmedRequest{Service: ServiceReadProperty, Data: []byte{0x0C, 0x00}})
	assert.ErrorIs(t, err, ErrTruncatedData)
}

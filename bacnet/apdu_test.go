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

func TestAPDURoundTrip(t *testing.T) {
	tests := []struct {
		name string
		apdu APDU
		want []byte
	}{
		{
			name: "confirmed request",
			apdu: APDU{
				Type:                      PDUTypeConfirmedRequest,
				SegmentedResponseAccepted: true,
				MaxAPDU:                   MaxAPDU1476,
				InvokeID:                  1,
				Service:                   uint8(ServiceReadProperty),
				Data:                      []byte{0x0C, 0x02, 0x00, 0x00, 0x01, 0x19, 0x55},
			},
			want: []byte{0x02, 0x05, 0x01, 0x0C, 0x0C, 0x02, 0x00, 0x00, 0x01, 0x19, 0x55},
		},
		{
			name: "segmented confirmed request",
			apdu: APDU{
				Type:                      PDUTypeConfirmedRequest,
				Segmented:                 true,
				MoreFollows:               true,
				SegmentedResponseAccepted: true,
				MaxSegments:               MaxSegments16,
				MaxAPDU:                   MaxAPDU1476,
				InvokeID:                  2,
				SequenceNumber:            0,
				WindowSize:                4,
				Service:                   uint8(ServiceWriteProperty),
				Data:                      []byte{0x01},
			},
			want: []byte{0x0E, 0x45, 0x02, 0x00, 0x04, 0x0F, 0x01},
		},
		{
			name: "unconfirmed who-is",
			apdu: APDU{Type: PDUTypeUnconfirmedRequest, Service: uint8(ServiceWhoIs)},
			want: []byte{0x10, 0x08},
		},
		{
			name: "simple ack",
			apdu: APDU{Type: PDUTypeSimpleAck, InvokeID: 3, Service: uint8(ServiceWriteProperty)},
			want: []byte{0x20, 0x03, 0x0F},
		},
		{
			name: "complex ack",
			apdu: APDU{Type: PDUTypeComplexAck, InvokeID: 4, Service: uint8(ServiceReadProperty), Data: []byte{0x21, 0x01}},
			want: []byte{0x30, 0x04, 0x0C, 0x21, 0x01},
		},
		{
			name: "segmented complex ack splitting a tag",
			apdu: APDU{
				Type:           PDUTypeComplexAck,
				Segmented:      true,
				MoreFollows:    true,
				InvokeID:       5,
				SequenceNumber: 1,
				WindowSize:     2,
				Service:        uint8(ServiceReadProperty),
				Data:           []byte{0x3E},
			},
			want: []byte{0x3C, 0x05, 0x01, 0x02, 0x0C, 0x3E},
		},
		{
			name: "segment ack",
			apdu: APDU{Type: PDUTypeSegmentAck, NegativeAck: true, Server: true, InvokeID: 6, SequenceNumber: 3, WindowSize: 8},
			want: []byte{0x43, 0x06, 0x03, 0x08},
		},
		{
			name: "error",
			apdu: APDU{Type: PDUTypeError, InvokeID: 7, Service: uint8(ServiceReadProperty), Data: []byte{0x91, 0x02, 0x91, 0x20}},
			want: []byte{0x50, 0x07, 0x0C, 0x91, 0x02, 0x91, 0x20},
		},
		{
			name: "reject",
			apdu: APDU{Type: PDUTypeReject, InvokeID: 8, Reason: 9},
			want: []byte{0x60, 0x08, 0x09},
		},
		{
			name: "abort from server",
			apdu: APDU{Type: PDUTypeAbort, Server: true, InvokeID: 9, Reason: 4},
			want: []byte{0x71, 0x09, 0x04},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.apdu.Encode()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			decoded, err := DecodeAPDU(got)
			require.NoError(t, err)
			assert.Equal(t, &tt.apdu, decoded)
			assert.Equal(t, len(got)-len(tt.apdu.Data), decoded.headerLen())
		})
	}
}

func TestDecodeAPDUErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrTruncatedData},
		{"unknown type", []byte{0x80, 0x00}, ErrUnknownPduType},
		{"short confirmed request", []byte{0x00, 0x05, 0x01}, ErrTruncatedData},
		{"invalid max apdu code", []byte{0x00, 0x08, 0x01, 0x0C}, ErrInvalidApduSize},
		{"more-follows without segmented", []byte{0x04, 0x05, 0x01, 0x0C}, ErrMalformedAPDU},
		{"short segmented request", []byte{0x08, 0x05, 0x01, 0x00, 0x01}, ErrTruncatedData},
		{"window size 0", []byte{0x08, 0x05, 0x01, 0x00, 0x00, 0x0C}, ErrMalformedAPDU},
		{"window size 128", []byte{0x08, 0x05, 0x01, 0x00, 0x80, 0x0C}, ErrMalformedAPDU},
		{"short unconfirmed", []byte{0x10}, ErrTruncatedData},
		{"segment ack window 0", []byte{0x40, 0x01, 0x00, 0x00}, ErrMalformedAPDU},
		{"complex ack unbalanced", []byte{0x30, 0x01, 0x0C, 0x3E}, ErrUnbalancedConstructedData},
		{"complex ack more-follows", []byte{0x34, 0x01, 0x0C}, ErrMalformedAPDU},
		{"error payload truncated", []byte{0x50, 0x01, 0x0C, 0x22, 0x01}, ErrTruncatedData},
		{"short abort", []byte{0x70, 0x01}, ErrTruncatedData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeAPDU(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAPDUReservedMaxAPDU(t *testing.T) {
	a, err := DecodeAPDU([]byte{0x00, 0x06, 0x01, 0x0C})
	require.NoError(t, err)
	assert.Equal(t, MaxAPDU(6), a.MaxAPDU)
	assert.Equal(t, 50, a.MaxAPDU.Length())
}

func TestEncodeAPDUErrors(t *testing.T) {
	tests := []struct {
		name string
		apdu APDU
		want error
	}{
		{"more-follows unsegmented", APDU{Type: PDUTypeComplexAck, MoreFollows: true}, ErrMalformedAPDU},
		{"segmented window 0", APDU{Type: PDUTypeComplexAck, Segmented: true}, ErrMalformedAPDU},
		{"invalid max apdu", APDU{Type: PDUTypeConfirmedRequest, MaxAPDU: 8}, ErrInvalidApduSize},
		{"invalid max segments", APDU{Type: PDUTypeConfirmedRequest, MaxSegments: 8}, ErrValueOutOfRange},
		{"segment ack window 0", APDU{Type: PDUTypeSegmentAck}, ErrMalformedAPDU},
		{"unknown type", APDU{Type: 0x90}, ErrUnknownPduType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.apdu.Encode()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPeekInvokeID(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		typ    PDUType
		invoke uint8
		ok     bool
	}{
		{"confirmed", []byte{0x00, 0x05, 0x11}, PDUTypeConfirmedRequest, 0x11, true},
		{"truncated confirmed", []byte{0x00, 0x05}, 0, 0, false},
		{"complex ack", []byte{0x38, 0x22}, PDUTypeComplexAck, 0x22, true},
		{"unconfirmed", []byte{0x10, 0x08}, 0, 0, false},
		{"single octet", []byte{0x20}, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, invoke, ok := peekInvokeID(tt.data)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.typ, typ)
			assert.Equal(t, tt.invoke, invoke)
		})
	}
}

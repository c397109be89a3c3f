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
	"strings"
)

// PDU flag bits in the first APDU octet
const (
	pduFlagSegmented       = 0x08
	pduFlagMoreFollows     = 0x04
	pduFlagSegmentedAccept = 0x02 // Confirmed-Request
	pduFlagNegativeAck     = 0x02 // Segment-ACK
	pduFlagServer          = 0x01 // Segment-ACK, Abort
	pduTypeMask            = 0xF0
	maxSegmentsMask        = 0x07
	maxAPDUMask            = 0x0F
	maxWindowSize          = 127
)

// Fixed header lengths, used to derive segment capacity.
const (
	confirmedHeaderLen           = 4
	segmentedConfirmedHeaderLen  = 6
	complexAckHeaderLen          = 3
	segmentedComplexAckHeaderLen = 5
)

// APDU is an application layer PDU. Which fields are meaningful depends on Type:
//
//	Confirmed-Request    Segmented MoreFollows SegmentedResponseAccepted MaxSegments
//	                     MaxAPDU InvokeID [SequenceNumber WindowSize] Service Data
//	Unconfirmed-Request  Service Data
//	Simple-ACK           InvokeID Service
//	Complex-ACK          Segmented MoreFollows InvokeID [SequenceNumber WindowSize] Service Data
//	Segment-ACK          NegativeAck Server InvokeID SequenceNumber WindowSize
//	Error                InvokeID Service Data
//	Reject               InvokeID Reason
//	Abort                Server InvokeID Reason
//
// Decoded Data aliases the input buffer.
type APDU struct {
	Type                      PDUType
	Segmented                 bool
	MoreFollows               bool
	SegmentedResponseAccepted bool
	MaxSegments               MaxSegments
	MaxAPDU                   MaxAPDU
	InvokeID                  uint8
	SequenceNumber            uint8
	WindowSize                uint8
	Service                   uint8
	NegativeAck               bool
	Server                    bool
	Reason                    uint8
	Data                      []byte
}

// Encode encodes the APDU.
func (a *APDU) Encode() ([]byte, error) {
	return a.AppendTo(make([]byte, 0, segmentedConfirmedHeaderLen+len(a.Data)))
}

// AppendTo appends the encoded APDU to dst.
func (a *APDU) AppendTo(dst []byte) ([]byte, error) {
	if a.MoreFollows && !a.Segmented {
		return dst, fmt.Errorf("%w: more-follows on unsegmented %s", ErrMalformedAPDU, a.Type)
	}
	if a.Segmented && (a.WindowSize == 0 || a.WindowSize > maxWindowSize) {
		return dst, fmt.Errorf("%w: window size %d", ErrMalformedAPDU, a.WindowSize)
	}

	switch a.Type {
	case PDUTypeConfirmedRequest:
		if !a.MaxAPDU.Valid() {
			return dst, fmt.Errorf("%w: code %d", ErrInvalidApduSize, a.MaxAPDU)
		}
		if a.MaxSegments > maxSegmentsMask {
			return dst, fmt.Errorf("%w: max segments code %d", ErrValueOutOfRange, a.MaxSegments)
		}
		first := byte(a.Type) | a.segmentFlags()
		if a.SegmentedResponseAccepted {
			first |= pduFlagSegmentedAccept
		}
		dst = append(dst, first, byte(a.MaxSegments)<<4|byte(a.MaxAPDU), a.InvokeID)
		if a.Segmented {
			dst = append(dst, a.SequenceNumber, a.WindowSize)
		}
		dst = append(dst, a.Service)
		return append(dst, a.Data...), nil

	case PDUTypeUnconfirmedRequest:
		dst = append(dst, byte(a.Type), a.Service)
		return append(dst, a.Data...), nil

	case PDUTypeSimpleAck:
		return append(dst, byte(a.Type), a.InvokeID, a.Service), nil

	case PDUTypeComplexAck:
		dst = append(dst, byte(a.Type)|a.segmentFlags(), a.InvokeID)
		if a.Segmented {
			dst = append(dst, a.SequenceNumber, a.WindowSize)
		}
		dst = append(dst, a.Service)
		return append(dst, a.Data...), nil

	case PDUTypeSegmentAck:
		if a.WindowSize == 0 || a.WindowSize > maxWindowSize {
			return dst, fmt.Errorf("%w: window size %d", ErrMalformedAPDU, a.WindowSize)
		}
		first := byte(a.Type)
		if a.NegativeAck {
			first |= pduFlagNegativeAck
		}
		if a.Server {
			first |= pduFlagServer
		}
		return append(dst, first, a.InvokeID, a.SequenceNumber, a.WindowSize), nil

	case PDUTypeError:
		dst = append(dst, byte(a.Type), a.InvokeID, a.Service)
		return append(dst, a.Data...), nil

	case PDUTypeReject:
		return append(dst, byte(a.Type), a.InvokeID, a.Reason), nil

	case PDUTypeAbort:
		first := byte(a.Type)
		if a.Server {
			first |= pduFlagServer
		}
		return append(dst, first, a.InvokeID, a.Reason), nil

	default:
		return dst, fmt.Errorf("%w: 0x%02x", ErrUnknownPduType, uint8(a.Type))
	}
}

func (a *APDU) segmentFlags() byte {
	var f byte
	if a.Segmented {
		f |= pduFlagSegmented
	}
	if a.MoreFollows {
		f |= pduFlagMoreFollows
	}
	return f
}

// DecodeAPDU decodes an APDU. The service data of unsegmented Complex-ACK
// and Error PDUs must be a well formed tag stream.
func DecodeAPDU(data []byte) (*APDU, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: %w: empty APDU", ErrMalformedAPDU, ErrTruncatedData)
	}

	apdu := &APDU{Type: PDUType(data[0] & pduTypeMask)}
	var err error
	switch apdu.Type {
	case PDUTypeConfirmedRequest:
		err = apdu.decodeConfirmedRequest(data)
	case PDUTypeUnconfirmedRequest:
		err = need(data, 2)
		if err == nil {
			apdu.Service = data[1]
			apdu.Data = data[2:]
		}
	case PDUTypeSimpleAck:
		err = need(data, 3)
		if err == nil {
			apdu.InvokeID = data[1]
			apdu.Service = data[2]
		}
	case PDUTypeComplexAck:
		err = apdu.decodeComplexAck(data)
	case PDUTypeSegmentAck:
		err = need(data, 4)
		if err == nil {
			apdu.NegativeAck = data[0]&pduFlagNegativeAck != 0
			apdu.Server = data[0]&pduFlagServer != 0
			apdu.InvokeID = data[1]
			apdu.SequenceNumber = data[2]
			apdu.WindowSize = data[3]
			if apdu.WindowSize == 0 || apdu.WindowSize > maxWindowSize {
				err = fmt.Errorf("%w: segment-ack window size %d", ErrMalformedAPDU, apdu.WindowSize)
			}
		}
	case PDUTypeError:
		err = need(data, 3)
		if err == nil {
			apdu.InvokeID = data[1]
			apdu.Service = data[2]
			apdu.Data = data[3:]
			err = ValidateTagStream(apdu.Data)
		}
	case PDUTypeReject:
		err = need(data, 3)
		if err == nil {
			apdu.InvokeID = data[1]
			apdu.Reason = data[2]
		}
	case PDUTypeAbort:
		err = need(data, 3)
		if err == nil {
			apdu.Server = data[0]&pduFlagServer != 0
			apdu.InvokeID = data[1]
			apdu.Reason = data[2]
		}
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownPduType, data[0]&pduTypeMask)
	}
	if err != nil {
		return nil, err
	}
	if len(apdu.Data) == 0 {
		apdu.Data = nil
	}
	return apdu, nil
}

func need(data []byte, n int) error {
	if len(data) < n {
		return fmt.Errorf("%w: %w: %s needs %d octets, got %d",
			ErrMalformedAPDU, ErrTruncatedData, PDUType(data[0]&pduTypeMask), n, len(data))
	}
	return nil
}

func (a *APDU) decodeConfirmedRequest(data []byte) error {
	if err := need(data, confirmedHeaderLen); err != nil {
		return err
	}
	a.Segmented = data[0]&pduFlagSegmented != 0
	a.MoreFollows = data[0]&pduFlagMoreFollows != 0
	a.SegmentedResponseAccepted = data[0]&pduFlagSegmentedAccept != 0
	a.MaxSegments = MaxSegments((data[1] >> 4) & maxSegmentsMask)
	a.MaxAPDU = MaxAPDU(data[1] & maxAPDUMask)
	a.InvokeID = data[2]
	if !a.MaxAPDU.Valid() {
		return fmt.Errorf("%w: code %d", ErrInvalidApduSize, a.MaxAPDU)
	}

	off := 3
	if a.Segmented {
		if err := need(data, segmentedConfirmedHeaderLen); err != nil {
			return err
		}
		if err := a.readSegmentHeader(data[off:]); err != nil {
			return err
		}
		off += 2
	} else if a.MoreFollows {
		return fmt.Errorf("%w: more-follows without segmented", ErrMalformedAPDU)
	}
	a.Service = data[off]
	a.Data = data[off+1:]
	return nil
}

func (a *APDU) decodeComplexAck(data []byte) error {
	if err := need(data, complexAckHeaderLen); err != nil {
		return err
	}
	a.Segmented = data[0]&pduFlagSegmented != 0
	a.MoreFollows = data[0]&pduFlagMoreFollows != 0
	a.InvokeID = data[1]

	off := 2
	if a.Segmented {
		if err := need(data, segmentedComplexAckHeaderLen); err != nil {
			return err
		}
		if err := a.readSegmentHeader(data[off:]); err != nil {
			return err
		}
		off += 2
	} else if a.MoreFollows {
		return fmt.Errorf("%w: more-follows without segmented", ErrMalformedAPDU)
	}
	a.Service = data[off]
	a.Data = data[off+1:]
	if !a.Segmented {
		// A segment may split a tag; only whole service data can be checked.
		return ValidateTagStream(a.Data)
	}
	return nil
}

func (a *APDU) readSegmentHeader(b []byte) error {
	a.SequenceNumber = b[0]
	a.WindowSize = b[1]
	if a.WindowSize == 0 || a.WindowSize > maxWindowSize {
		return fmt.Errorf("%w: proposed window size %d", ErrMalformedAPDU, a.WindowSize)
	}
	return nil
}

// headerLen returns the fixed header length preceding Data.
func (a *APDU) headerLen() int {
	switch a.Type {
	case PDUTypeConfirmedRequest:
		if a.Segmented {
			return segmentedConfirmedHeaderLen
		}
		return confirmedHeaderLen
	case PDUTypeComplexAck:
		if a.Segmented {
			return segmentedComplexAckHeaderLen
		}
		return complexAckHeaderLen
	case PDUTypeUnconfirmedRequest:
		return 2
	case PDUTypeSegmentAck:
		return 4
	default:
		return 3
	}
}

// ServiceName returns the service choice name for request and ACK PDUs.
func (a *APDU) ServiceName() string {
	switch a.Type {
	case PDUTypeUnconfirmedRequest:
		return UnconfirmedServiceChoice(a.Service).String()
	case PDUTypeConfirmedRequest, PDUTypeSimpleAck, PDUTypeComplexAck, PDUTypeError:
		return ConfirmedServiceChoice(a.Service).String()
	}
	return ""
}

func (a *APDU) String() string {
	var sb strings.Builder
	sb.WriteString(a.Type.String())
	switch a.Type {
	case PDUTypeUnconfirmedRequest:
		fmt.Fprintf(&sb, " service=%s", a.ServiceName())
	case PDUTypeConfirmedRequest, PDUTypeComplexAck:
		fmt.Fprintf(&sb, " invoke=%d service=%s", a.InvokeID, a.ServiceName())
		if a.Segmented {
			fmt.Fprintf(&sb, " seq=%d window=%d more=%t", a.SequenceNumber, a.WindowSize, a.MoreFollows)
		}
		if a.Type == PDUTypeConfirmedRequest {
			fmt.Fprintf(&sb, " max-apdu=%d", a.MaxAPDU.Length())
		}
	case PDUTypeSimpleAck, PDUTypeError:
		fmt.Fprintf(&sb, " invoke=%d service=%s", a.InvokeID, a.ServiceName())
	case PDUTypeSegmentAck:
		fmt.Fprintf(&sb, " invoke=%d seq=%d window=%d nak=%t server=%t",
			a.InvokeID, a.SequenceNumber, a.WindowSize, a.NegativeAck, a.Server)
	case PDUTypeReject:
		fmt.Fprintf(&sb, " invoke=%d reason=%s", a.InvokeID, RejectReason(a.Reason))
	case PDUTypeAbort:
		fmt.Fprintf(&sb, " invoke=%d reason=%s server=%t", a.InvokeID, AbortReason(a.Reason), a.Server)
	}
	if len(a.Data) > 0 {
		fmt.Fprintf(&sb, " data=%d octets", len(a.Data))
	}
	return sb.String()
}

// peekInvokeID extracts the PDU type and invoke id from a possibly
// malformed APDU so that the owning transaction can be aborted.
func peekInvokeID(data []byte) (PDUType, uint8, bool) {
	if len(data) < 2 {
		return 0, 0, false
	}
	t := PDUType(data[0] & pduTypeMask)
	switch t {
	case PDUTypeConfirmedRequest:
		if len(data) < 3 {
			return 0, 0, false
		}
		return t, data[2], true
	case PDUTypeSimpleAck, PDUTypeComplexAck, PDUTypeSegmentAck, PDUTypeError, PDUTypeReject, PDUTypeAbort:
		return t, data[1], true
	}
	return 0, 0, false
}

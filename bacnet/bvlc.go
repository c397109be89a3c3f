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
	"net/netip"
)

// BVLCTypeBACnetIP is the BVLC type octet of BACnet/IP (Annex J).
const BVLCTypeBACnetIP = 0x81

const (
	bvlcHeaderLen = 4
	bvlcOriginLen = 6
	bvlcMaxLength = 0xFFFF
)

// BVLCFunction is the BVLC function octet.
type BVLCFunction uint8

const (
	BVLCResult                            BVLCFunction = 0x00
	BVLCWriteBroadcastDistributionTable   BVLCFunction = 0x01
	BVLCReadBroadcastDistributionTable    BVLCFunction = 0x02
	BVLCReadBroadcastDistributionTableAck BVLCFunction = 0x03
	BVLCForwardedNPDU                     BVLCFunction = 0x04
	BVLCRegisterForeignDevice             BVLCFunction = 0x05
	BVLCReadForeignDeviceTable            BVLCFunction = 0x06
	BVLCReadForeignDeviceTableAck         BVLCFunction = 0x07
	BVLCDeleteForeignDeviceTableEntry     BVLCFunction = 0x08
	BVLCDistributeBroadcastToNetwork      BVLCFunction = 0x09
	BVLCOriginalUnicastNPDU               BVLCFunction = 0x0A
	BVLCOriginalBroadcastNPDU             BVLCFunction = 0x0B
)

var bvlcFunctionNames = map[BVLCFunction]string{
	BVLCResult:                            "BVLC-Result",
	BVLCWriteBroadcastDistributionTable:   "Write-BDT",
	BVLCReadBroadcastDistributionTable:    "Read-BDT",
	BVLCReadBroadcastDistributionTableAck: "Read-BDT-Ack",
	BVLCForwardedNPDU:                     "Forwarded-NPDU",
	BVLCRegisterForeignDevice:             "Register-Foreign-Device",
	BVLCReadForeignDeviceTable:            "Read-FDT",
	BVLCReadForeignDeviceTableAck:         "Read-FDT-Ack",
	BVLCDeleteForeignDeviceTableEntry:     "Delete-FDT-Entry",
	BVLCDistributeBroadcastToNetwork:      "Distribute-Broadcast-To-Network",
	BVLCOriginalUnicastNPDU:               "Original-Unicast-NPDU",
	BVLCOriginalBroadcastNPDU:             "Original-Broadcast-NPDU",
}

func (f BVLCFunction) String() string {
	if name, ok := bvlcFunctionNames[f]; ok {
		return name
	}
	return fmt.Sprintf("bvlc-function(0x%02X)", uint8(f))
}

// carriesNPDU reports whether messages of this function end with an NPDU.
func (f BVLCFunction) carriesNPDU() bool {
	switch f {
	case BVLCForwardedNPDU, BVLCDistributeBroadcastToNetwork,
		BVLCOriginalUnicastNPDU, BVLCOriginalBroadcastNPDU:
		return true
	}
	return false
}

// BVLC is a decoded BACnet/IP virtual link message.
type BVLC struct {
	Function BVLCFunction
	// Origin is the original sender of a Forwarded-NPDU.
	Origin netip.AddrPort
	// Result is the code of a BVLC-Result, TTL the seconds of a
	// Register-Foreign-Device.
	Result uint16
	TTL    uint16
	// NPDU is set for functions that carry one.
	NPDU []byte
	// Body holds the payload of other functions.
	Body []byte
}

// EncodeBVLC wraps an NPDU for Original-Unicast, Original-Broadcast or
// Distribute-Broadcast-To-Network.
func EncodeBVLC(function BVLCFunction, npdu []byte) ([]byte, error) {
	if !function.carriesNPDU() || function == BVLCForwardedNPDU {
		return nil, fmt.Errorf("%w: %s does not wrap a plain NPDU", ErrInvalidBVLC, function)
	}
	return appendBVLC(function, nil, npdu)
}

// EncodeForwardedNPDU wraps an NPDU received from origin for forwarding.
func EncodeForwardedNPDU(origin netip.AddrPort, npdu []byte) ([]byte, error) {
	if !origin.Addr().Is4() {
		return nil, fmt.Errorf("%w: origin %s is not IPv4", ErrInvalidBVLC, origin)
	}
	ip := origin.Addr().As4()
	head := make([]byte, bvlcOriginLen)
	copy(head, ip[:])
	binary.BigEndian.PutUint16(head[4:], origin.Port())
	return appendBVLC(BVLCForwardedNPDU, head, npdu)
}

// EncodeRegisterForeignDevice builds a registration request with a
// time-to-live in seconds.
func EncodeRegisterForeignDevice(ttl uint16) []byte {
	buf := []byte{BVLCTypeBACnetIP, byte(BVLCRegisterForeignDevice), 0, 6, 0, 0}
	binary.BigEndian.PutUint16(buf[4:], ttl)
	return buf
}

func appendBVLC(function BVLCFunction, head, body []byte) ([]byte, error) {
	total := bvlcHeaderLen + len(head) + len(body)
	if total > bvlcMaxLength {
		return nil, fmt.Errorf("%w: message of %d octets", ErrInvalidBVLC, total)
	}
	buf := make([]byte, bvlcHeaderLen, total)
	buf[0] = BVLCTypeBACnetIP
	buf[1] = byte(function)
	binary.BigEndian.PutUint16(buf[2:], uint16(total))
	buf = append(buf, head...)
	return append(buf, body...), nil
}

// DecodeBVLC decodes a BACnet/IP datagram. The length field must match the
// datagram length.
func DecodeBVLC(data []byte) (*BVLC, error) {
	if len(data) < bvlcHeaderLen {
		return nil, fmt.Errorf("%w: %d octets", ErrInvalidBVLC, len(data))
	}
	if data[0] != BVLCTypeBACnetIP {
		return nil, fmt.Errorf("%w: type 0x%02X", ErrInvalidBVLC, data[0])
	}
	length := int(binary.BigEndian.Uint16(data[2:4]))
	if length != len(data) {
		return nil, fmt.Errorf("%w: length field %d, datagram %d", ErrInvalidBVLC, length, len(data))
	}

	b := &BVLC{Function: BVLCFunction(data[1])}
	body := data[bvlcHeaderLen:]
	switch b.Function {
	case BVLCForwardedNPDU:
		if len(body) < bvlcOriginLen {
			return nil, fmt.Errorf("%w: forwarded NPDU without origin", ErrInvalidBVLC)
		}
		ip := netip.AddrFrom4([4]byte(body[:4]))
		b.Origin = netip.AddrPortFrom(ip, binary.BigEndian.Uint16(body[4:6]))
		b.NPDU = body[bvlcOriginLen:]
	case BVLCOriginalUnicastNPDU, BVLCOriginalBroadcastNPDU, BVLCDistributeBroadcastToNetwork:
		b.NPDU = body
	case BVLCResult:
		if len(body) != 2 {
			return nil, fmt.Errorf("%w: result of %d octets", ErrInvalidBVLC, len(body))
		}
		b.Result = binary.BigEndian.Uint16(body)
	case BVLCRegisterForeignDevice:
		if len(body) != 2 {
			return nil, fmt.Errorf("%w: registration of %d octets", ErrInvalidBVLC, len(body))
		}
		b.TTL = binary.BigEndian.Uint16(body)
	default:
		b.Body = body
	}
	return b, nil
}

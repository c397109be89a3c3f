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
	"encoding/hex"
	"fmt"
)

// NPDUVersion is the only protocol version defined by the standard.
const NPDUVersion = 0x01

// NPDU control octet bits
const (
	npduControlNetworkMessage = 0x80
	npduControlDestination    = 0x20
	npduControlSource         = 0x08
	npduControlExpectingReply = 0x04
	npduControlPriorityMask   = 0x03
)

// DefaultHopCount is used on every NPDU carrying a destination network.
const DefaultHopCount = 255

// BroadcastNetwork is the global broadcast network number.
const BroadcastNetwork = 0xFFFF

// NetworkPriority is the message priority in the low bits of the control octet.
type NetworkPriority uint8

const (
	PriorityNormal            NetworkPriority = 0
	PriorityUrgent            NetworkPriority = 1
	PriorityCriticalEquipment NetworkPriority = 2
	PriorityLifeSafety        NetworkPriority = 3
)

func (p NetworkPriority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityUrgent:
		return "urgent"
	case PriorityCriticalEquipment:
		return "critical-equipment"
	case PriorityLifeSafety:
		return "life-safety"
	}
	return fmt.Sprintf("priority(%d)", uint8(p))
}

// NetworkMessageType identifies a network layer message. Types from 0x80
// are proprietary and are followed by a vendor id.
type NetworkMessageType uint8

const (
	NetworkMessageWhoIsRouterToNetwork          NetworkMessageType = 0x00
	NetworkMessageIAmRouterToNetwork            NetworkMessageType = 0x01
	NetworkMessageICouldBeRouterToNetwork       NetworkMessageType = 0x02
	NetworkMessageRejectMessageToNetwork        NetworkMessageType = 0x03
	NetworkMessageRouterBusyToNetwork           NetworkMessageType = 0x04
	NetworkMessageRouterAvailableToNetwork      NetworkMessageType = 0x05
	NetworkMessageInitializeRoutingTable        NetworkMessageType = 0x06
	NetworkMessageInitializeRoutingTableAck     NetworkMessageType = 0x07
	NetworkMessageEstablishConnectionToNetwork  NetworkMessageType = 0x08
	NetworkMessageDisconnectConnectionToNetwork NetworkMessageType = 0x09
	NetworkMessageChallengeRequest              NetworkMessageType = 0x0A
	NetworkMessageSecurityPayload               NetworkMessageType = 0x0B
	NetworkMessageSecurityResponse              NetworkMessageType = 0x0C
	NetworkMessageRequestKeyUpdate              NetworkMessageType = 0x0D
	NetworkMessageUpdateKeySet                  NetworkMessageType = 0x0E
	NetworkMessageUpdateDistributionKey         NetworkMessageType = 0x0F
	NetworkMessageRequestMasterKey              NetworkMessageType = 0x10
	NetworkMessageSetMasterKey                  NetworkMessageType = 0x11
	NetworkMessageWhatIsNetworkNumber           NetworkMessageType = 0x12
	NetworkMessageNetworkNumberIs               NetworkMessageType = 0x13

	networkMessageProprietary NetworkMessageType = 0x80
)

var networkMessageNames = [...]string{
	"Who-Is-Router-To-Network",
	"I-Am-Router-To-Network",
	"I-Could-Be-Router-To-Network",
	"Reject-Message-To-Network",
	"Router-Busy-To-Network",
	"Router-Available-To-Network",
	"Initialize-Routing-Table",
	"Initialize-Routing-Table-Ack",
	"Establish-Connection-To-Network",
	"Disconnect-Connection-To-Network",
	"Challenge-Request",
	"Security-Payload",
	"Security-Response",
	"Request-Key-Update",
	"Update-Key-Set",
	"Update-Distribution-Key",
	"Request-Master-Key",
	"Set-Master-Key",
	"What-Is-Network-Number",
	"Network-Number-Is",
}

func (m NetworkMessageType) String() string {
	if int(m) < len(networkMessageNames) {
		return networkMessageNames[m]
	}
	if m >= networkMessageProprietary {
		return fmt.Sprintf("proprietary(0x%02x)", uint8(m))
	}
	return fmt.Sprintf("reserved(0x%02x)", uint8(m))
}

// NetworkAddress is a remote network number plus MAC address. An empty
// Addr denotes a broadcast on Net.
type NetworkAddress struct {
	Net  uint16
	Addr []byte
}

func (a NetworkAddress) String() string {
	if len(a.Addr) == 0 {
		return fmt.Sprintf("%d:*", a.Net)
	}
	return fmt.Sprintf("%d:%s", a.Net, hex.EncodeToString(a.Addr))
}

// NPDU is the network layer header.
type NPDU struct {
	Version        uint8
	NetworkMessage bool
	ExpectingReply bool
	Priority       NetworkPriority
	Destination    *NetworkAddress
	Source         *NetworkAddress
	// HopCount is present on the wire only with a Destination.
	HopCount    uint8
	MessageType NetworkMessageType
	VendorID    uint16
	// NetworkData is the body of a network layer message, passed through
	// undecoded.
	NetworkData []byte
}

func (n *NPDU) control() byte {
	c := byte(n.Priority) & npduControlPriorityMask
	if n.NetworkMessage {
		c |= npduControlNetworkMessage
	}
	if n.Destination != nil {
		c |= npduControlDestination
	}
	if n.Source != nil {
		c |= npduControlSource
	}
	if n.ExpectingReply {
		c |= npduControlExpectingReply
	}
	return c
}

// Encode encodes the header followed by apdu. For network layer messages
// apdu must be empty and NetworkData is emitted instead.
func (n *NPDU) Encode(apdu []byte) ([]byte, error) {
	if n.Priority > PriorityLifeSafety {
		return nil, fmt.Errorf("%w: priority %d", ErrValueOutOfRange, n.Priority)
	}
	if n.NetworkMessage && len(apdu) > 0 {
		return nil, fmt.Errorf("%w: network message with APDU payload", ErrMalformedNpdu)
	}

	buf := make([]byte, 0, 2+2*(3+6)+1+3+len(apdu)+len(n.NetworkData))
	buf = append(buf, NPDUVersion, n.control())

	if n.Destination != nil {
		if len(n.Destination.Addr) > 255 {
			return nil, fmt.Errorf("%w: destination address of %d octets", ErrValueOutOfRange, len(n.Destination.Addr))
		}
		buf = binary.BigEndian.AppendUint16(buf, n.Destination.Net)
		buf = append(buf, byte(len(n.Destination.Addr)))
		buf = append(buf, n.Destination.Addr...)
	}
	if n.Source != nil {
		if len(n.Source.Addr) == 0 || len(n.Source.Addr) > 255 {
			return nil, fmt.Errorf("%w: source address of %d octets", ErrValueOutOfRange, len(n.Source.Addr))
		}
		if n.Source.Net == BroadcastNetwork {
			return nil, fmt.Errorf("%w: source network %d", ErrValueOutOfRange, n.Source.Net)
		}
		buf = binary.BigEndian.AppendUint16(buf, n.Source.Net)
		buf = append(buf, byte(len(n.Source.Addr)))
		buf = append(buf, n.Source.Addr...)
	}
	if n.Destination != nil {
		buf = append(buf, n.HopCount)
	}

	if n.NetworkMessage {
		buf = append(buf, byte(n.MessageType))
		if n.MessageType >= networkMessageProprietary {
			buf = binary.BigEndian.AppendUint16(buf, n.VendorID)
		}
		return append(buf, n.NetworkData...), nil
	}
	return append(buf, apdu...), nil
}

// DecodeNPDU decodes an NPDU and returns it with the APDU that follows.
// The APDU is empty for network layer messages.
func DecodeNPDU(data []byte) (*NPDU, []byte, error) {
	if len(data) < 2 {
		return nil, nil, fmt.Errorf("%w: %d octets", ErrMalformedNpdu, len(data))
	}
	if data[0] != NPDUVersion {
		return nil, nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedNpdu, data[0])
	}

	control := data[1]
	n := &NPDU{
		Version:        data[0],
		NetworkMessage: control&npduControlNetworkMessage != 0,
		ExpectingReply: control&npduControlExpectingReply != 0,
		Priority:       NetworkPriority(control & npduControlPriorityMask),
	}
	off := 2

	var err error
	if control&npduControlDestination != 0 {
		n.Destination, off, err = readNetworkAddress(data, off, "destination")
		if err != nil {
			return nil, nil, err
		}
	}
	if control&npduControlSource != 0 {
		n.Source, off, err = readNetworkAddress(data, off, "source")
		if err != nil {
			return nil, nil, err
		}
		if len(n.Source.Addr) == 0 || n.Source.Net == BroadcastNetwork {
			return nil, nil, fmt.Errorf("%w: invalid source %s", ErrMalformedNpdu, n.Source)
		}
	}
	if n.Destination != nil {
		if off >= len(data) {
			return nil, nil, fmt.Errorf("%w: missing hop count", ErrMalformedNpdu)
		}
		n.HopCount = data[off]
		off++
	}

	if !n.NetworkMessage {
		return n, data[off:], nil
	}

	if off >= len(data) {
		return nil, nil, fmt.Errorf("%w: missing network message type", ErrMalformedNpdu)
	}
	n.MessageType = NetworkMessageType(data[off])
	off++
	if n.MessageType >= networkMessageProprietary {
		if off+2 > len(data) {
			return nil, nil, fmt.Errorf("%w: missing vendor id", ErrMalformedNpdu)
		}
		n.VendorID = binary.BigEndian.Uint16(data[off:])
		off += 2
	}
	if off < len(data) {
		n.NetworkData = data[off:]
	}
	return n, nil, nil
}

func readNetworkAddress(data []byte, off int, which string) (*NetworkAddress, int, error) {
	if off+3 > len(data) {
		return nil, off, fmt.Errorf("%w: truncated %s network", ErrMalformedNpdu, which)
	}
	addr := &NetworkAddress{Net: binary.BigEndian.Uint16(data[off:])}
	alen := int(data[off+2])
	off += 3
	if off+alen > len(data) {
		return nil, off, fmt.Errorf("%w: %s address length %d overruns buffer", ErrMalformedNpdu, which, alen)
	}
	if alen > 0 {
		addr.Addr = append([]byte(nil), data[off:off+alen]...)
	}
	return addr, off + alen, nil
}

// Reply returns the header for a response to n: the requester's source
// network becomes the destination.
func (n *NPDU) Reply() *NPDU {
	r := &NPDU{Version: NPDUVersion, Priority: n.Priority}
	if n.Source != nil {
		src := *n.Source
		r.Destination = &src
		r.HopCount = DefaultHopCount
	}
	return r
}

func (n *NPDU) String() string {
	s := fmt.Sprintf("NPDU v%d priority=%s", n.Version, n.Priority)
	if n.ExpectingReply {
		s += " expecting-reply"
	}
	if n.Destination != nil {
		s += fmt.Sprintf(" dst=%s hops=%d", n.Destination, n.HopCount)
	}
	if n.Source != nil {
		s += fmt.Sprintf(" src=%s", n.Source)
	}
	if n.NetworkMessage {
		s += fmt.Sprintf(" message=%s", n.MessageType)
		if n.MessageType >= networkMessageProprietary {
			s += fmt.Sprintf(" vendor=%d", n.VendorID)
		}
	}
	return s
}

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

// Package bacnet implements the BACnet (ASHRAE 135) application layer:
// the tag and primitive codec, NPDU and APDU framing, segmentation and the
// transaction engine correlating confirmed requests with their replies.
//
// The codec and the Engine perform no I/O and never read the wall clock.
// A driving loop feeds received buffers and elapsed time into the Engine
// and transmits whatever the Engine hands to its Sender. Client is such a
// loop for BACnet/IP.
package bacnet

import (
	"fmt"
)

// DefaultPort is the standard BACnet/IP UDP port
const DefaultPort = 47808

// MaxAPDULength is the maximum APDU length for BACnet/IP
const MaxAPDULength = 1476

// PDU Types (Application Layer). The value is the high nibble of the first octet.
type PDUType uint8

const (
	PDUTypeConfirmedRequest   PDUType = 0x00
	PDUTypeUnconfirmedRequest PDUType = 0x10
	PDUTypeSimpleAck          PDUType = 0x20
	PDUTypeComplexAck         PDUType = 0x30
	PDUTypeSegmentAck         PDUType = 0x40
	PDUTypeError              PDUType = 0x50
	PDUTypeReject             PDUType = 0x60
	PDUTypeAbort              PDUType = 0x70
)

func (p PDUType) String() string {
	switch p {
	case PDUTypeConfirmedRequest:
		return "Confirmed-Request"
	case PDUTypeUnconfirmedRequest:
		return "Unconfirmed-Request"
	case PDUTypeSimpleAck:
		return "Simple-ACK"
	case PDUTypeComplexAck:
		return "Complex-ACK"
	case PDUTypeSegmentAck:
		return "Segment-ACK"
	case PDUTypeError:
		return "Error"
	case PDUTypeReject:
		return "Reject"
	case PDUTypeAbort:
		return "Abort"
	default:
		return fmt.Sprintf("pdu-type(0x%02x)", uint8(p))
	}
}

// Confirmed Service Choices
type ConfirmedServiceChoice uint8

const (
	ServiceAcknowledgeAlarm           ConfirmedServiceChoice = 0
	ServiceConfirmedCOVNotification   ConfirmedServiceChoice = 1
	ServiceConfirmedEventNotification ConfirmedServiceChoice = 2
	ServiceGetAlarmSummary            ConfirmedServiceChoice = 3
	ServiceGetEnrollmentSummary       ConfirmedServiceChoice = 4
	ServiceSubscribeCOV               ConfirmedServiceChoice = 5
	ServiceAtomicReadFile             ConfirmedServiceChoice = 6
	ServiceAtomicWriteFile            ConfirmedServiceChoice = 7
	ServiceAddListElement             ConfirmedServiceChoice = 8
	ServiceRemoveListElement          ConfirmedServiceChoice = 9
	ServiceCreateObject               ConfirmedServiceChoice = 10
	ServiceDeleteObject               ConfirmedServiceChoice = 11
	ServiceReadProperty               ConfirmedServiceChoice = 12
	ServiceReadPropertyMultiple       ConfirmedServiceChoice = 14
	ServiceWriteProperty              ConfirmedServiceChoice = 15
	ServiceWritePropertyMultiple      ConfirmedServiceChoice = 16
	ServiceDeviceCommunicationControl ConfirmedServiceChoice = 17
	ServiceConfirmedPrivateTransfer   ConfirmedServiceChoice = 18
	ServiceConfirmedTextMessage       ConfirmedServiceChoice = 19
	ServiceReinitializeDevice         ConfirmedServiceChoice = 20
	ServiceReadRange                  ConfirmedServiceChoice = 26
	ServiceSubscribeCOVProperty       ConfirmedServiceChoice = 28
	ServiceGetEventInformation        ConfirmedServiceChoice = 29
)

var confirmedServiceNames = map[ConfirmedServiceChoice]string{
	ServiceAcknowledgeAlarm:           "AcknowledgeAlarm",
	ServiceConfirmedCOVNotification:   "ConfirmedCOVNotification",
	ServiceConfirmedEventNotification: "ConfirmedEventNotification",
	ServiceGetAlarmSummary:            "GetAlarmSummary",
	ServiceGetEnrollmentSummary:       "GetEnrollmentSummary",
	ServiceSubscribeCOV:               "SubscribeCOV",
	ServiceAtomicReadFile:             "AtomicReadFile",
	ServiceAtomicWriteFile:            "AtomicWriteFile",
	ServiceAddListElement:             "AddListElement",
	ServiceRemoveListElement:          "RemoveListElement",
	ServiceCreateObject:               "CreateObject",
	ServiceDeleteObject:               "DeleteObject",
	ServiceReadProperty:               "ReadProperty",
	ServiceReadPropertyMultiple:       "ReadPropertyMultiple",
	ServiceWriteProperty:              "WriteProperty",
	ServiceWritePropertyMultiple:      "WritePropertyMultiple",
	ServiceDeviceCommunicationControl: "DeviceCommunicationControl",
	ServiceConfirmedPrivateTransfer:   "ConfirmedPrivateTransfer",
	ServiceConfirmedTextMessage:       "ConfirmedTextMessage",
	ServiceReinitializeDevice:         "ReinitializeDevice",
	ServiceReadRange:                  "ReadRange",
	ServiceSubscribeCOVProperty:       "SubscribeCOVProperty",
	ServiceGetEventInformation:        "GetEventInformation",
}

func (s ConfirmedServiceChoice) String() string {
	if name, ok := confirmedServiceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", s)
}

// Unconfirmed Service Choices
type UnconfirmedServiceChoice uint8

const (
	ServiceIAm                          UnconfirmedServiceChoice = 0
	ServiceIHave                        UnconfirmedServiceChoice = 1
	ServiceUnconfirmedCOVNotification   UnconfirmedServiceChoice = 2
	ServiceUnconfirmedEventNotification UnconfirmedServiceChoice = 3
	ServiceUnconfirmedPrivateTransfer   UnconfirmedServiceChoice = 4
	ServiceUnconfirmedTextMessage       UnconfirmedServiceChoice = 5
	ServiceTimeSynchronization          UnconfirmedServiceChoice = 6
	ServiceWhoHas                       UnconfirmedServiceChoice = 7
	ServiceWhoIs                        UnconfirmedServiceChoice = 8
	ServiceUTCTimeSynchronization       UnconfirmedServiceChoice = 9
	ServiceWriteGroup                   UnconfirmedServiceChoice = 10
)

var unconfirmedServiceNames = map[UnconfirmedServiceChoice]string{
	ServiceIAm:                          "I-Am",
	ServiceIHave:                        "I-Have",
	ServiceUnconfirmedCOVNotification:   "UnconfirmedCOVNotification",
	ServiceUnconfirmedEventNotification: "UnconfirmedEventNotification",
	ServiceUnconfirmedPrivateTransfer:   "UnconfirmedPrivateTransfer",
	ServiceUnconfirmedTextMessage:       "UnconfirmedTextMessage",
	ServiceTimeSynchronization:          "TimeSynchronization",
	ServiceWhoHas:                       "Who-Has",
	ServiceWhoIs:                        "Who-Is",
	ServiceUTCTimeSynchronization:       "UTCTimeSynchronization",
	ServiceWriteGroup:                   "WriteGroup",
}

func (s UnconfirmedServiceChoice) String() string {
	if name, ok := unconfirmedServiceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", s)
}

// ObjectType represents BACnet object types. Values above 127 are vendor
// proprietary and are carried without validation.
type ObjectType uint16

const (
	ObjectTypeAnalogInput       ObjectType = 0
	ObjectTypeAnalogOutput      ObjectType = 1
	ObjectTypeAnalogValue       ObjectType = 2
	ObjectTypeBinaryInput       ObjectType = 3
	ObjectTypeBinaryOutput      ObjectType = 4
	ObjectTypeBinaryValue       ObjectType = 5
	ObjectTypeCalendar          ObjectType = 6
	ObjectTypeDevice            ObjectType = 8
	ObjectTypeFile              ObjectType = 10
	ObjectTypeLoop              ObjectType = 12
	ObjectTypeMultiStateInput   ObjectType = 13
	ObjectTypeMultiStateOutput  ObjectType = 14
	ObjectTypeNotificationClass ObjectType = 15
	ObjectTypeProgram           ObjectType = 16
	ObjectTypeSchedule          ObjectType = 17
	ObjectTypeMultiStateValue   ObjectType = 19
	ObjectTypeTrendLog          ObjectType = 20
	ObjectTypeNetworkPort       ObjectType = 56
)

var objectTypeNames = map[ObjectType]string{
	ObjectTypeAnalogInput:       "analog-input",
	ObjectTypeAnalogOutput:      "analog-output",
	ObjectTypeAnalogValue:       "analog-value",
	ObjectTypeBinaryInput:       "binary-input",
	ObjectTypeBinaryOutput:      "binary-output",
	ObjectTypeBinaryValue:       "binary-value",
	ObjectTypeCalendar:          "calendar",
	ObjectTypeDevice:            "device",
	ObjectTypeFile:              "file",
	ObjectTypeLoop:              "loop",
	ObjectTypeMultiStateInput:   "multi-state-input",
	ObjectTypeMultiStateOutput:  "multi-state-output",
	ObjectTypeNotificationClass: "notification-class",
	ObjectTypeProgram:           "program",
	ObjectTypeSchedule:          "schedule",
	ObjectTypeMultiStateValue:   "multi-state-value",
	ObjectTypeTrendLog:          "trend-log",
	ObjectTypeNetworkPort:       "network-port",
}

func (o ObjectType) String() string {
	if name, ok := objectTypeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("vendor-specific(%d)", o)
}

var objectTypeAliases = map[string]ObjectType{
	"ai":  ObjectTypeAnalogInput,
	"ao":  ObjectTypeAnalogOutput,
	"av":  ObjectTypeAnalogValue,
	"bi":  ObjectTypeBinaryInput,
	"bo":  ObjectTypeBinaryOutput,
	"bv":  ObjectTypeBinaryValue,
	"dev": ObjectTypeDevice,
	"msi": ObjectTypeMultiStateInput,
	"mso": ObjectTypeMultiStateOutput,
	"msv": ObjectTypeMultiStateValue,
	"sch": ObjectTypeSchedule,
	"tl":  ObjectTypeTrendLog,
}

// ParseObjectType parses a full or short object type name
func ParseObjectType(s string) (ObjectType, bool) {
	if t, ok := objectTypeAliases[s]; ok {
		return t, true
	}
	for t, name := range objectTypeNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// PropertyIdentifier represents BACnet property identifiers
type PropertyIdentifier uint32

const (
	PropertyAll                        PropertyIdentifier = 8
	PropertyApduSegmentTimeout         PropertyIdentifier = 10
	PropertyApduTimeout                PropertyIdentifier = 11
	PropertyApplicationSoftwareVersion PropertyIdentifier = 12
	PropertyCOVIncrement               PropertyIdentifier = 22
	PropertyDescription                PropertyIdentifier = 28
	PropertyEventState                 PropertyIdentifier = 36
	PropertyFirmwareRevision           PropertyIdentifier = 44
	PropertyHighLimit                  PropertyIdentifier = 45
	PropertyLocation                   PropertyIdentifier = 58
	PropertyLowLimit                   PropertyIdentifier = 59
	PropertyMaxApduLengthAccepted      PropertyIdentifier = 62
	PropertyModelName                  PropertyIdentifier = 70
	PropertyNumberOfApduRetries        PropertyIdentifier = 73
	PropertyObjectIdentifier           PropertyIdentifier = 75
	PropertyObjectList                 PropertyIdentifier = 76
	PropertyObjectName                 PropertyIdentifier = 77
	PropertyObjectType                 PropertyIdentifier = 79
	PropertyOutOfService               PropertyIdentifier = 81
	PropertyPresentValue               PropertyIdentifier = 85
	PropertyPriorityArray              PropertyIdentifier = 87
	PropertyProtocolVersion            PropertyIdentifier = 98
	PropertyReliability                PropertyIdentifier = 103
	PropertyRelinquishDefault          PropertyIdentifier = 104
	PropertySegmentationSupported      PropertyIdentifier = 107
	PropertyStatusFlags                PropertyIdentifier = 111
	PropertySystemStatus               PropertyIdentifier = 112
	PropertyUnits                      PropertyIdentifier = 117
	PropertyVendorIdentifier           PropertyIdentifier = 120
	PropertyVendorName                 PropertyIdentifier = 121
	PropertyProtocolRevision           PropertyIdentifier = 139
	PropertyDatabaseRevision           PropertyIdentifier = 155
	PropertyMaxSegmentsAccepted        PropertyIdentifier = 167
)

var propertyNames = map[PropertyIdentifier]string{
	PropertyAll:                        "all",
	PropertyApduSegmentTimeout:         "apdu-segment-timeout",
	PropertyApduTimeout:                "apdu-timeout",
	PropertyApplicationSoftwareVersion: "application-software-version",
	PropertyCOVIncrement:               "cov-increment",
	PropertyDescription:                "description",
	PropertyEventState:                 "event-state",
	PropertyFirmwareRevision:           "firmware-revision",
	PropertyHighLimit:                  "high-limit",
	PropertyLocation:                   "location",
	PropertyLowLimit:                   "low-limit",
	PropertyMaxApduLengthAccepted:      "max-apdu-length-accepted",
	PropertyModelName:                  "model-name",
	PropertyNumberOfApduRetries:        "number-of-apdu-retries",
	PropertyObjectIdentifier:           "object-identifier",
	PropertyObjectList:                 "object-list",
	PropertyObjectName:                 "object-name",
	PropertyObjectType:                 "object-type",
	PropertyOutOfService:               "out-of-service",
	PropertyPresentValue:               "present-value",
	PropertyPriorityArray:              "priority-array",
	PropertyProtocolVersion:            "protocol-version",
	PropertyReliability:                "reliability",
	PropertyRelinquishDefault:          "relinquish-default",
	PropertySegmentationSupported:      "segmentation-supported",
	PropertyStatusFlags:                "status-flags",
	PropertySystemStatus:               "system-status",
	PropertyUnits:                      "units",
	PropertyVendorIdentifier:           "vendor-identifier",
	PropertyVendorName:                 "vendor-name",
	PropertyProtocolRevision:           "protocol-revision",
	PropertyDatabaseRevision:           "database-revision",
	PropertyMaxSegmentsAccepted:        "max-segments-accepted",
}

func (p PropertyIdentifier) String() string {
	if name, ok := propertyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("property(%d)", p)
}

var propertyAliases = map[string]PropertyIdentifier{
	"pv":   PropertyPresentValue,
	"name": PropertyObjectName,
	"desc": PropertyDescription,
	"sf":   PropertyStatusFlags,
	"oos":  PropertyOutOfService,
}

// ParsePropertyIdentifier parses a full or short property name
func ParsePropertyIdentifier(s string) (PropertyIdentifier, bool) {
	if p, ok := propertyAliases[s]; ok {
		return p, true
	}
	for p, name := range propertyNames {
		if name == s {
			return p, true
		}
	}
	return 0, false
}

// Object identifier field limits (10 bits type, 22 bits instance)
const (
	MaxObjectType = 0x3FF
	MaxInstance   = 0x3FFFFF
)

// ObjectIdentifier represents a BACnet object identifier (type + instance)
type ObjectIdentifier struct {
	Type     ObjectType
	Instance uint32
}

// NewObjectIdentifier creates a new ObjectIdentifier
func NewObjectIdentifier(objectType ObjectType, instance uint32) ObjectIdentifier {
	return ObjectIdentifier{
		Type:     objectType,
		Instance: instance,
	}
}

// Valid reports whether both fields fit their bit widths.
func (o ObjectIdentifier) Valid() bool {
	return o.Type <= MaxObjectType && o.Instance <= MaxInstance
}

// Encode packs the object identifier into its 4-byte value. Callers must
// check Valid first; out-of-range fields are rejected by the codec.
func (o ObjectIdentifier) Encode() uint32 {
	return (uint32(o.Type) << 22) | (o.Instance & MaxInstance)
}

// DecodeObjectIdentifier decodes a 4-byte value to an ObjectIdentifier
func DecodeObjectIdentifier(value uint32) ObjectIdentifier {
	return ObjectIdentifier{
		Type:     ObjectType((value >> 22) & MaxObjectType),
		Instance: value & MaxInstance,
	}
}

func (o ObjectIdentifier) String() string {
	return fmt.Sprintf("%s:%d", o.Type.String(), o.Instance)
}

// Segmentation is the segmentation-supported enumeration
type Segmentation uint8

const (
	SegmentationBoth     Segmentation = 0
	SegmentationTransmit Segmentation = 1
	SegmentationReceive  Segmentation = 2
	SegmentationNone     Segmentation = 3
)

func (s Segmentation) String() string {
	switch s {
	case SegmentationBoth:
		return "segmented-both"
	case SegmentationTransmit:
		return "segmented-transmit"
	case SegmentationReceive:
		return "segmented-receive"
	case SegmentationNone:
		return "no-segmentation"
	default:
		return fmt.Sprintf("segmentation(%d)", s)
	}
}

// CanTransmit reports whether segmented messages may be sent.
func (s Segmentation) CanTransmit() bool {
	return s == SegmentationBoth || s == SegmentationTransmit
}

// CanReceive reports whether segmented messages may be received.
func (s Segmentation) CanReceive() bool {
	return s == SegmentationBoth || s == SegmentationReceive
}

// MaxAPDU is the 4-bit max-APDU-length-accepted code of a Confirmed-Request.
type MaxAPDU uint8

const (
	MaxAPDU50   MaxAPDU = 0
	MaxAPDU128  MaxAPDU = 1
	MaxAPDU206  MaxAPDU = 2
	MaxAPDU480  MaxAPDU = 3
	MaxAPDU1024 MaxAPDU = 4
	MaxAPDU1476 MaxAPDU = 5

	// maxAPDUCodes is the number of size classes (two of them reserved).
	maxAPDUCodes = 8
)

var maxAPDULengths = [...]int{50, 128, 206, 480, 1024, 1476}

// Valid reports whether the code is one of the eight size classes.
func (m MaxAPDU) Valid() bool {
	return m < maxAPDUCodes
}

// Length returns the octet count for the size class. Reserved classes map
// to the smallest standard size so that nothing larger is ever sent.
func (m MaxAPDU) Length() int {
	if int(m) < len(maxAPDULengths) {
		return maxAPDULengths[m]
	}
	return maxAPDULengths[0]
}

// MaxAPDUForLength returns the largest size class not exceeding n.
func MaxAPDUForLength(n int) MaxAPDU {
	code := MaxAPDU50
	for i, l := range maxAPDULengths {
		if l <= n {
			code = MaxAPDU(i)
		}
	}
	return code
}

// MaxSegments is the 3-bit max-segments-accepted code of a Confirmed-Request.
type MaxSegments uint8

const (
	MaxSegmentsUnspecified MaxSegments = 0
	MaxSegments2           MaxSegments = 1
	MaxSegments4           MaxSegments = 2
	MaxSegments8           MaxSegments = 3
	MaxSegments16          MaxSegments = 4
	MaxSegments32          MaxSegments = 5
	MaxSegments64          MaxSegments = 6
	MaxSegmentsMore        MaxSegments = 7
)

// Count returns the number of segments accepted, or 0 when unlimited or
// unspecified.
func (m MaxSegments) Count() int {
	if m == MaxSegmentsUnspecified || m >= MaxSegmentsMore {
		return 0
	}
	return 1 << m
}

// MaxSegmentsForCount returns the code for the largest class not above n
// segments, so a peer honouring the code never sends more than n. Counts
// below 2 round up to the 2 segment class.
func MaxSegmentsForCount(n int) MaxSegments {
	if n <= 0 {
		return MaxSegmentsUnspecified
	}
	code := MaxSegments2
	for m := MaxSegments4; m < MaxSegmentsMore; m++ {
		if m.Count() > n {
			break
		}
		code = m
	}
	return code
}

// TagClass is the class bit of a tag octet.
type TagClass uint8

const (
	TagClassApplication TagClass = 0
	TagClassContext     TagClass = 1
)

func (c TagClass) String() string {
	if c == TagClassContext {
		return "context"
	}
	return "application"
}

// ApplicationTag is the tag number of an application-tagged primitive.
type ApplicationTag uint8

const (
	TagNull            ApplicationTag = 0
	TagBoolean         ApplicationTag = 1
	TagUnsignedInt     ApplicationTag = 2
	TagSignedInt       ApplicationTag = 3
	TagReal            ApplicationTag = 4
	TagDouble          ApplicationTag = 5
	TagOctetString     ApplicationTag = 6
	TagCharacterString ApplicationTag = 7
	TagBitString       ApplicationTag = 8
	TagEnumerated      ApplicationTag = 9
	TagDate            ApplicationTag = 10
	TagTime            ApplicationTag = 11
	TagObjectID        ApplicationTag = 12
)

func (t ApplicationTag) String() string {
	names := [...]string{
		"Null", "Boolean", "Unsigned", "Signed", "Real", "Double",
		"OctetString", "CharacterString", "BitString", "Enumerated",
		"Date", "Time", "ObjectIdentifier",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return fmt.Sprintf("reserved(%d)", uint8(t))
}

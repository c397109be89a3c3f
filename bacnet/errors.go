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
	"errors"
	"fmt"
)

// Codec errors. Decoders wrap these with detail; use errors.Is.
var (
	ErrMalformedTag              = errors.New("bacnet: malformed tag")
	ErrTruncatedData             = errors.New("bacnet: truncated data")
	ErrTypeMismatch              = errors.New("bacnet: type mismatch")
	ErrUnsupportedCharacterSet   = errors.New("bacnet: unsupported character set")
	ErrMalformedBitString        = errors.New("bacnet: malformed bit string")
	ErrUnknownPduType            = errors.New("bacnet: unknown PDU type")
	ErrInvalidApduSize           = errors.New("bacnet: invalid max APDU size")
	ErrMalformedAPDU             = errors.New("bacnet: malformed APDU")
	ErrMalformedNpdu             = errors.New("bacnet: malformed NPDU")
	ErrInvalidBVLC               = errors.New("bacnet: invalid BVLC header")
	ErrUnbalancedConstructedData = errors.New("bacnet: unbalanced constructed data")
	ErrValueOutOfRange           = errors.New("bacnet: value out of range")
)

// Transaction errors
var (
	ErrSegmentSequence          = errors.New("bacnet: segment sequence error")
	ErrRequestTimedOut          = errors.New("bacnet: request timed out")
	ErrNoInvokeID               = errors.New("bacnet: no free invoke id")
	ErrSegmentationNotSupported = errors.New("bacnet: segmentation not supported")
	ErrBufferOverflow           = errors.New("bacnet: message exceeds peer segment limit")
	ErrTransactionCancelled     = errors.New("bacnet: transaction cancelled")
	ErrUnknownTransaction       = errors.New("bacnet: unknown transaction")
)

// Client errors
var (
	ErrNotConnected     = errors.New("bacnet: not connected")
	ErrAlreadyConnected = errors.New("bacnet: already connected")
	ErrConnectionClosed = errors.New("bacnet: connection closed")
	ErrDeviceNotFound   = errors.New("bacnet: device not found")
)

// ErrorClass represents BACnet error classes
type ErrorClass uint32

const (
	ErrorClassDevice        ErrorClass = 0
	ErrorClassObject        ErrorClass = 1
	ErrorClassProperty      ErrorClass = 2
	ErrorClassResources     ErrorClass = 3
	ErrorClassSecurity      ErrorClass = 4
	ErrorClassServices      ErrorClass = 5
	ErrorClassVT            ErrorClass = 6
	ErrorClassCommunication ErrorClass = 7
)

var errorClassNames = map[ErrorClass]string{
	ErrorClassDevice:        "device",
	ErrorClassObject:        "object",
	ErrorClassProperty:      "property",
	ErrorClassResources:     "resources",
	ErrorClassSecurity:      "security",
	ErrorClassServices:      "services",
	ErrorClassVT:            "vt",
	ErrorClassCommunication: "communication",
}

func (e ErrorClass) String() string {
	if name, ok := errorClassNames[e]; ok {
		return name
	}
	return fmt.Sprintf("error-class(%d)", e)
}

// ErrorCode represents BACnet error codes
type ErrorCode uint32

const (
	ErrorCodeOther                    ErrorCode = 0
	ErrorCodeConfigurationInProgress  ErrorCode = 2
	ErrorCodeDeviceBusy               ErrorCode = 3
	ErrorCodeInconsistentParameters   ErrorCode = 7
	ErrorCodeInvalidDataType          ErrorCode = 9
	ErrorCodeMissingRequiredParameter ErrorCode = 16
	ErrorCodeNoSpaceToWriteProperty   ErrorCode = 20
	ErrorCodePropertyIsNotAList       ErrorCode = 22
	ErrorCodeReadAccessDenied         ErrorCode = 27
	ErrorCodeServiceRequestDenied     ErrorCode = 29
	ErrorCodeUnknownObject            ErrorCode = 31
	ErrorCodeUnknownProperty          ErrorCode = 32
	ErrorCodeValueOutOfRange          ErrorCode = 37
	ErrorCodeWriteAccessDenied        ErrorCode = 40
	ErrorCodeCharacterSetNotSupported ErrorCode = 41
	ErrorCodeInvalidArrayIndex        ErrorCode = 42
	ErrorCodeDatatypeNotSupported     ErrorCode = 47
	ErrorCodePropertyIsNotAnArray     ErrorCode = 50
	ErrorCodeUnknownDevice            ErrorCode = 70
	ErrorCodeUnknownRoute             ErrorCode = 71
)

var errorCodeNames = map[ErrorCode]string{
	ErrorCodeOther:                    "other",
	ErrorCodeConfigurationInProgress:  "configuration-in-progress",
	ErrorCodeDeviceBusy:               "device-busy",
	ErrorCodeInconsistentParameters:   "inconsistent-parameters",
	ErrorCodeInvalidDataType:          "invalid-data-type",
	ErrorCodeMissingRequiredParameter: "missing-required-parameter",
	ErrorCodeNoSpaceToWriteProperty:   "no-space-to-write-property",
	ErrorCodePropertyIsNotAList:       "property-is-not-a-list",
	ErrorCodeReadAccessDenied:         "read-access-denied",
	ErrorCodeServiceRequestDenied:     "service-request-denied",
	ErrorCodeUnknownObject:            "unknown-object",
	ErrorCodeUnknownProperty:          "unknown-property",
	ErrorCodeValueOutOfRange:          "value-out-of-range",
	ErrorCodeWriteAccessDenied:        "write-access-denied",
	ErrorCodeCharacterSetNotSupported: "character-set-not-supported",
	ErrorCodeInvalidArrayIndex:        "invalid-array-index",
	ErrorCodeDatatypeNotSupported:     "datatype-not-supported",
	ErrorCodePropertyIsNotAnArray:     "property-is-not-an-array",
	ErrorCodeUnknownDevice:            "unknown-device",
	ErrorCodeUnknownRoute:             "unknown-route",
}

func (e ErrorCode) String() string {
	if name, ok := errorCodeNames[e]; ok {
		return name
	}
	return fmt.Sprintf("error-code(%d)", e)
}

// BACnetError is the payload of an Error PDU
type BACnetError struct {
	Class ErrorClass
	Code  ErrorCode
}

func (e *BACnetError) Error() string {
	return fmt.Sprintf("bacnet error: class=%s, code=%s", e.Class, e.Code)
}

func (e *BACnetError) Is(target error) bool {
	t, ok := target.(*BACnetError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewBACnetError creates a new BACnet error
func NewBACnetError(class ErrorClass, code ErrorCode) *BACnetError {
	return &BACnetError{
		Class: class,
		Code:  code,
	}
}

// RejectReason represents BACnet reject reasons
type RejectReason uint8

const (
	RejectReasonOther                    RejectReason = 0
	RejectReasonBufferOverflow           RejectReason = 1
	RejectReasonInconsistentParameters   RejectReason = 2
	RejectReasonInvalidParameterDataType RejectReason = 3
	RejectReasonInvalidTag               RejectReason = 4
	RejectReasonMissingRequiredParameter RejectReason = 5
	RejectReasonParameterOutOfRange      RejectReason = 6
	RejectReasonTooManyArguments         RejectReason = 7
	RejectReasonUndefinedEnumeration     RejectReason = 8
	RejectReasonUnrecognizedService      RejectReason = 9
)

var rejectReasonNames = [...]string{
	"other",
	"buffer-overflow",
	"inconsistent-parameters",
	"invalid-parameter-data-type",
	"invalid-tag",
	"missing-required-parameter",
	"parameter-out-of-range",
	"too-many-arguments",
	"undefined-enumeration",
	"unrecognized-service",
}

func (r RejectReason) String() string {
	if int(r) < len(rejectReasonNames) {
		return rejectReasonNames[r]
	}
	return fmt.Sprintf("reject-reason(%d)", r)
}

// RejectError is returned when the peer rejects a confirmed request
type RejectError struct {
	InvokeID uint8
	Reason   RejectReason
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("bacnet reject: invoke-id=%d, reason=%s", e.InvokeID, e.Reason)
}

// AbortReason represents BACnet abort reasons
type AbortReason uint8

const (
	AbortReasonOther                         AbortReason = 0
	AbortReasonBufferOverflow                AbortReason = 1
	AbortReasonInvalidApduInThisState        AbortReason = 2
	AbortReasonPreemptedByHigherPriorityTask AbortReason = 3
	AbortReasonSegmentationNotSupported      AbortReason = 4
	AbortReasonSecurityError                 AbortReason = 5
	AbortReasonInsufficientSecurity          AbortReason = 6
	AbortReasonWindowSizeOutOfRange          AbortReason = 7
	AbortReasonApplicationExceededReplyTime  AbortReason = 8
	AbortReasonOutOfResources                AbortReason = 9
	AbortReasonTsmTimeout                    AbortReason = 10
	AbortReasonApduTooLong                   AbortReason = 11
)

var abortReasonNames = [...]string{
	"other",
	"buffer-overflow",
	"invalid-apdu-in-this-state",
	"preempted-by-higher-priority-task",
	"segmentation-not-supported",
	"security-error",
	"insufficient-security",
	"window-size-out-of-range",
	"application-exceeded-reply-time",
	"out-of-resources",
	"tsm-timeout",
	"apdu-too-long",
}

func (a AbortReason) String() string {
	if int(a) < len(abortReasonNames) {
		return abortReasonNames[a]
	}
	return fmt.Sprintf("abort-reason(%d)", a)
}

// AbortError reports an aborted transaction. Server is set when the abort
// was sent by the server side of the transaction.
type AbortError struct {
	InvokeID uint8
	Server   bool
	Reason   AbortReason
}

func (e *AbortError) Error() string {
	origin := "client"
	if e.Server {
		origin = "server"
	}
	return fmt.Sprintf("bacnet abort: invoke-id=%d, origin=%s, reason=%s", e.InvokeID, origin, e.Reason)
}

// IsTimeout returns true if the error is a timeout error
func IsTimeout(err error) bool {
	if errors.Is(err, ErrRequestTimedOut) {
		return true
	}
	var abortErr *AbortError
	if errors.As(err, &abortErr) {
		return abortErr.Reason == AbortReasonTsmTimeout
	}
	return false
}

// IsUnknownObject returns true if the error indicates the object does not exist
func IsUnknownObject(err error) bool {
	if errors.Is(err, ErrDeviceNotFound) {
		return true
	}
	var bacnetErr *BACnetError
	if errors.As(err, &bacnetErr) {
		return bacnetErr.Code == ErrorCodeUnknownDevice || bacnetErr.Code == ErrorCodeUnknownObject
	}
	return false
}

// IsPropertyNotFound returns true if the error indicates property not found
func IsPropertyNotFound(err error) bool {
	var bacnetErr *BACnetError
	if errors.As(err, &bacnetErr) {
		return bacnetErr.Code == ErrorCodeUnknownProperty
	}
	return false
}

// IsAccessDenied returns true if the error indicates access denied
func IsAccessDenied(err error) bool {
	var bacnetErr *BACnetError
	if errors.As(err, &bacnetErr) {
		return bacnetErr.Code == ErrorCodeReadAccessDenied || bacnetErr.Code == ErrorCodeWriteAccessDenied
	}
	return false
}

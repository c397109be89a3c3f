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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorPredicates(t *testing.T) {
	timeoutAbort := &AbortError{InvokeID: 1, Reason: AbortReasonTsmTimeout}
	tests := []struct {
		name            string
		err             error
		timeout         bool
		unknownObject   bool
		propertyMissing bool
		accessDenied    bool
	}{
		{"timeout sentinel", fmt.Errorf("read: %w", ErrRequestTimedOut), true, false, false, false},
		{"tsm timeout abort", timeoutAbort, true, false, false, false},
		{"other abort", &AbortError{Reason: AbortReasonOther}, false, false, false, false},
		{"device not found", ErrDeviceNotFound, false, true, false, false},
		{"unknown object", NewBACnetError(ErrorClassObject, ErrorCodeUnknownObject), false, true, false, false},
		{"unknown device", NewBACnetError(ErrorClassObject, ErrorCodeUnknownDevice), false, true, false, false},
		{"unknown property", fmt.Errorf("x: %w", NewBACnetError(ErrorClassProperty, ErrorCodeUnknownProperty)), false, false, true, false},
		{"write denied", NewBACnetError(ErrorClassProperty, ErrorCodeWriteAccessDenied), false, false, false, true},
		{"read denied", NewBACnetError(ErrorClassProperty, ErrorCodeReadAccessDenied), false, false, false, true},
		{"plain", errors.New("boom"), false, false, false, false},
		{"nil", nil, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.timeout, IsTimeout(tt.err))
			assert.Equal(t, tt.unknownObject, IsUnknownObject(tt.err))
			assert.Equal(t, tt.propertyMissing, IsPropertyNotFound(tt.err))
			assert.Equal(t, tt.accessDenied, IsAccessDenied(tt.err))
		})
	}
}

func TestBACnetErrorIs(t *testing.T) {
	err := fmt.Errorf("write: %w", NewBACnetError(ErrorClassProperty, ErrorCodeWriteAccessDenied))
	assert.ErrorIs(t, err, NewBACnetError(ErrorClassProperty, ErrorCodeWriteAccessDenied))
	assert.NotErrorIs(t, err, NewBACnetError(ErrorClassObject, ErrorCodeWriteAccessDenied))
	assert.NotErrorIs(t, err, ErrDeviceNotFound)
}

func TestErrorStrings(t *testing.T) {
	assert.Equal(t, "bacnet error: class=property, code=unknown-property",
		NewBACnetError(ErrorClassProperty, ErrorCodeUnknownProperty).Error())
	assert.Equal(t, "error-class(99)", ErrorClass(99).String())
	assert.Equal(t, "error-code(500)", ErrorCode(500).String())

	assert.Equal(t, "unrecognized-service", RejectReasonUnrecognizedService.String())
	assert.Equal(t, "reject-reason(64)", RejectReason(64).String())
	assert.Equal(t, "bacnet reject: invoke-id=3, reason=invalid-tag",
		(&RejectError{InvokeID: 3, Reason: RejectReasonInvalidTag}).Error())

	assert.Equal(t, "apdu-too-long", AbortReasonApduTooLong.String())
	assert.Equal(t, "abort-reason(200)", AbortReason(200).String())
	assert.Equal(t, "bacnet abort: invoke-id=7, origin=server, reason=tsm-timeout",
		(&AbortError{InvokeID: 7, Server: true, Reason: AbortReasonTsmTimeout}).Error())
}

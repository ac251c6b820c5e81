// Copyright 2025 ankohanse
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

package xcom

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	// ErrNotConnected is returned immediately, without retries and without
	// touching the wire, when no gateway peer is attached. Callers polling
	// on a schedule should treat it as "skip this cycle", not as a fault.
	ErrNotConnected = errors.New("xcom: gateway not connected")

	ErrWrite            = errors.New("xcom: write request failed")
	ErrRead             = errors.New("xcom: read response failed")
	ErrTimeout          = errors.New("xcom: response timeout")
	ErrUnpack           = errors.New("xcom: value encoding failed")
	ErrDatapointUnknown = errors.New("xcom: datapoint unknown")
	ErrFamilyUnknown    = errors.New("xcom: device family unknown")
	ErrAddrOutOfRange   = errors.New("xcom: address not in family range")
)

// ErrorCode is the 2-byte code carried in the property data of an error
// response frame. Values are as decoded little-endian from the wire.
type ErrorCode uint16

const (
	ErrorCodeNone                     ErrorCode = 0x0000
	ErrorCodeInvalidFrame             ErrorCode = 0x0001
	ErrorCodeDeviceNotFound           ErrorCode = 0x0002
	ErrorCodeResponseTimeout          ErrorCode = 0x0003
	ErrorCodeServiceNotSupported      ErrorCode = 0x0011
	ErrorCodeInvalidServiceArgument   ErrorCode = 0x0012
	ErrorCodeGatewayBusy              ErrorCode = 0x0013
	ErrorCodeTypeNotSupported         ErrorCode = 0x0021
	ErrorCodeObjectIDNotFound         ErrorCode = 0x0022
	ErrorCodePropertyNotSupported     ErrorCode = 0x0023
	ErrorCodeInvalidDataLength        ErrorCode = 0x0024
	ErrorCodePropertyIsReadOnly       ErrorCode = 0x0025
	ErrorCodeInvalidData              ErrorCode = 0x0026
	ErrorCodeDataTooSmall             ErrorCode = 0x0027
	ErrorCodeDataTooBig               ErrorCode = 0x0028
	ErrorCodeWritePropertyFailed      ErrorCode = 0x0029
	ErrorCodeReadPropertyFailed       ErrorCode = 0x002A
	ErrorCodeAccessDenied             ErrorCode = 0x002B
	ErrorCodeObjectNotSupported       ErrorCode = 0x002C
	ErrorCodeMulticastReadUnsupported ErrorCode = 0x002D
	ErrorCodeObjectPropertyInvalid    ErrorCode = 0x002E
	ErrorCodeFileOrDirNotPresent      ErrorCode = 0x002F
	ErrorCodeFileCorrupted            ErrorCode = 0x0030
	ErrorCodeInvalidShellArg          ErrorCode = 0x0081
)

func (e ErrorCode) String() string {
	names := map[ErrorCode]string{
		ErrorCodeNone:                     "no-error",
		ErrorCodeInvalidFrame:             "invalid-frame",
		ErrorCodeDeviceNotFound:           "device-not-found",
		ErrorCodeResponseTimeout:          "response-timeout",
		ErrorCodeServiceNotSupported:      "service-not-supported",
		ErrorCodeInvalidServiceArgument:   "invalid-service-argument",
		ErrorCodeGatewayBusy:              "gateway-busy",
		ErrorCodeTypeNotSupported:         "type-not-supported",
		ErrorCodeObjectIDNotFound:         "object-id-not-found",
		ErrorCodePropertyNotSupported:     "property-not-supported",
		ErrorCodeInvalidDataLength:        "invalid-data-length",
		ErrorCodePropertyIsReadOnly:       "property-is-read-only",
		ErrorCodeInvalidData:              "invalid-data",
		ErrorCodeDataTooSmall:             "data-too-small",
		ErrorCodeDataTooBig:               "data-too-big",
		ErrorCodeWritePropertyFailed:      "write-property-failed",
		ErrorCodeReadPropertyFailed:       "read-property-failed",
		ErrorCodeAccessDenied:             "access-denied",
		ErrorCodeObjectNotSupported:       "object-not-supported",
		ErrorCodeMulticastReadUnsupported: "multicast-read-not-supported",
		ErrorCodeObjectPropertyInvalid:    "object-property-invalid",
		ErrorCodeFileOrDirNotPresent:      "file-or-dir-not-present",
		ErrorCodeFileCorrupted:            "file-corrupted",
		ErrorCodeInvalidShellArg:          "invalid-shell-argument",
	}
	if name, ok := names[e]; ok {
		return name
	}
	return fmt.Sprintf("unknown-error(0x%04x)", uint16(e))
}

// RemoteError is an explicit error response from the gateway or a device.
type RemoteError struct {
	Code ErrorCode
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("xcom: remote error: %s", e.Code)
}

func (e *RemoteError) Is(target error) bool {
	t, ok := target.(*RemoteError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewRemoteError creates a RemoteError for the given wire code.
func NewRemoteError(code ErrorCode) *RemoteError {
	return &RemoteError{Code: code}
}

// IsTimeout reports whether the error is a response timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsRemote reports whether the error is an explicit error response, and
// returns its code when it is.
func IsRemote(err error) (ErrorCode, bool) {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Code, true
	}
	return ErrorCodeNone, false
}

// IsGatewayBusy reports whether the error is the gateway's transient busy
// response, the usual reason for retrying a RemoteError.
func IsGatewayBusy(err error) bool {
	code, ok := IsRemote(err)
	return ok && code == ErrorCodeGatewayBusy
}

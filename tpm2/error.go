// Copyright (c) 2018, Google LLC All rights reserved.
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

package tpm2

import (
	"errors"
	"fmt"

	"github.com/google/go-tpm-demo/tpmutil"
)

// Error classes. Every error returned by this package matches exactly one of
// ErrTransport, ErrDevice, ErrMalformedResponse or ErrInvalidSession under
// errors.Is, or is a usage error detected before anything was sent.
var (
	// ErrTransport is matched by failures of the byte exchange itself,
	// including timeouts.
	ErrTransport = errors.New("tpm2: transport failure")
	// ErrDevice is matched by every non-success response code.
	ErrDevice = errors.New("tpm2: device error")
	// ErrMalformedResponse is matched by responses that fail structural
	// validation.
	ErrMalformedResponse = errors.New("tpm2: malformed response")
	// ErrInvalidSession is returned for unknown or already flushed sessions.
	ErrInvalidSession = errors.New("tpm2: invalid session")
	// ErrPolicyMismatch is matched by device errors reporting that a policy
	// precondition did not hold.
	ErrPolicyMismatch = errors.New("tpm2: policy mismatch")
	// ErrUnsupportedRegister is returned when the device serves no digest
	// for a requested PCR.
	ErrUnsupportedRegister = errors.New("tpm2: unsupported register")
	// ErrDeviceBusy is matched by warnings about exhausted session or object
	// slots and other transient conditions.
	ErrDeviceBusy = errors.New("tpm2: device busy")
	// ErrCommandTooLarge is returned when an encoded command exceeds the
	// negotiated maximum command size.
	ErrCommandTooLarge = errors.New("tpm2: command too large")
)

type (
	RcFmt0  uint8 // Format 0 error codes
	RcFmt1  uint8 // Format 1 error codes
	RcWarn  uint8 // Warning codes
	RcIndex uint8 // Indexes for arguments, handles and sessions in errors
)

// Format 0 error codes.
const (
	RcInitialize      RcFmt0 = 0x00
	RcFailure         RcFmt0 = 0x01
	RcSequence        RcFmt0 = 0x03
	RcDisabled        RcFmt0 = 0x20
	RcExclusive       RcFmt0 = 0x21
	RcAuthType        RcFmt0 = 0x24
	RcAuthMissing     RcFmt0 = 0x25
	RcPolicy          RcFmt0 = 0x26
	RcPCR             RcFmt0 = 0x27
	RcPCRChanged      RcFmt0 = 0x28
	RcUpgrade         RcFmt0 = 0x2D
	RcTooManyContexts RcFmt0 = 0x2E
	RcAuthUnavailable RcFmt0 = 0x2F
	RcReboot          RcFmt0 = 0x30
	RcUnbalanced      RcFmt0 = 0x31
	RcCommandSize     RcFmt0 = 0x42
	RcCommandCode     RcFmt0 = 0x43
	RcAuthSize        RcFmt0 = 0x44
	RcAuthContext     RcFmt0 = 0x45
	RcBadContext      RcFmt0 = 0x50
	RcCPHash          RcFmt0 = 0x51
	RcParent          RcFmt0 = 0x52
	RcNeedsTest       RcFmt0 = 0x53
	RcNoResult        RcFmt0 = 0x54
	RcSensitive       RcFmt0 = 0x55
)

var fmt0Msg = map[RcFmt0]string{
	RcInitialize:      "TPM not initialized by TPM2_Startup or already initialized",
	RcFailure:         "commands not being accepted because of a TPM failure",
	RcSequence:        "improper use of a sequence handle",
	RcDisabled:        "the command is disabled",
	RcExclusive:       "command failed because audit sequence required exclusivity",
	RcAuthType:        "authorization handle is not correct for command",
	RcAuthMissing:     "command requires an authorization session for handle and it is not present",
	RcPolicy:          "policy failure in math operation or an invalid authPolicy value",
	RcPCR:             "PCR check fail",
	RcPCRChanged:      "PCR have changed since checked",
	RcUpgrade:         "TPM is in field upgrade mode",
	RcTooManyContexts: "context ID counter is at maximum",
	RcAuthUnavailable: "authValue or authPolicy is not available for selected entity",
	RcReboot:          "a _TPM_Init and Startup(CLEAR) is required before the TPM can resume operation",
	RcUnbalanced:      "the protection algorithms (hash and symmetric) are not reasonably balanced",
	RcCommandSize:     "command commandSize value is inconsistent with contents of the command buffer",
	RcCommandCode:     "command code not supported",
	RcAuthSize:        "the value of authorizationSize is out of range",
	RcAuthContext:     "use of an authorization session with a command that cannot have an authorization session",
	RcBadContext:      "context in TPM2_ContextLoad() is not valid",
	RcCPHash:          "cpHash value already set or not correct for use",
	RcParent:          "handle for parent is not a valid parent",
	RcNeedsTest:       "some function needs testing",
	RcNoResult:        "an internal function cannot process a request due to an unspecified problem",
	RcSensitive:       "the sensitive area did not unmarshal correctly after decryption",
}

// Format 1 error codes.
const (
	RcAsymmetric   RcFmt1 = 0x01
	RcAttributes   RcFmt1 = 0x02
	RcHash         RcFmt1 = 0x03
	RcValue        RcFmt1 = 0x04
	RcHierarchy    RcFmt1 = 0x05
	RcKeySize      RcFmt1 = 0x07
	RcMGF          RcFmt1 = 0x08
	RcMode         RcFmt1 = 0x09
	RcType         RcFmt1 = 0x0A
	RcHandle       RcFmt1 = 0x0B
	RcKDF          RcFmt1 = 0x0C
	RcRange        RcFmt1 = 0x0D
	RcAuthFail     RcFmt1 = 0x0E
	RcNonce        RcFmt1 = 0x0F
	RcScheme       RcFmt1 = 0x12
	RcSize         RcFmt1 = 0x15
	RcSymmetric    RcFmt1 = 0x16
	RcTag          RcFmt1 = 0x17
	RcSelector     RcFmt1 = 0x18
	RcInsufficient RcFmt1 = 0x1A
	RcSignature    RcFmt1 = 0x1B
	RcKey          RcFmt1 = 0x1C
	RcPolicyFail   RcFmt1 = 0x1D
	RcIntegrity    RcFmt1 = 0x1F
	RcTicket       RcFmt1 = 0x20
	RcReservedBits RcFmt1 = 0x21
	RcBadAuth      RcFmt1 = 0x22
	RcExpired      RcFmt1 = 0x23
	RcPolicyCC     RcFmt1 = 0x24
	RcBinding      RcFmt1 = 0x25
	RcCurve        RcFmt1 = 0x26
	RcECCPoint     RcFmt1 = 0x27
)

var fmt1Msg = map[RcFmt1]string{
	RcAsymmetric:   "asymmetric algorithm not supported or not correct",
	RcAttributes:   "inconsistent attributes",
	RcHash:         "hash algorithm not supported or not appropriate",
	RcValue:        "value is out of range or is not correct for the context",
	RcHierarchy:    "hierarchy is not enabled or is not correct for the use",
	RcKeySize:      "key size is not supported",
	RcMGF:          "mask generation function not supported",
	RcMode:         "mode of operation not supported",
	RcType:         "the type of the value is not appropriate for the use",
	RcHandle:       "the handle is not correct for the use",
	RcKDF:          "unsupported key derivation function or function not appropriate for use",
	RcRange:        "value was out of allowed range",
	RcAuthFail:     "the authorization HMAC check failed and DA counter incremented",
	RcNonce:        "invalid nonce size or nonce value mismatch",
	RcScheme:       "unsupported or incompatible scheme",
	RcSize:         "structure is the wrong size",
	RcSymmetric:    "unsupported symmetric algorithm or key size",
	RcTag:          "incorrect structure tag",
	RcSelector:     "union selector is incorrect",
	RcInsufficient: "the TPM was unable to unmarshal a value because there were not enough octets in the input buffer",
	RcSignature:    "the signature is not valid",
	RcKey:          "key fields are not compatible with the selected use",
	RcPolicyFail:   "a policy check failed",
	RcIntegrity:    "integrity check failed",
	RcTicket:       "invalid ticket",
	RcReservedBits: "reserved bits not set to zero as required",
	RcBadAuth:      "authorization failure without DA implications",
	RcExpired:      "the policy has expired",
	RcPolicyCC:     "the commandCode in the policy is not the commandCode of the command",
	RcBinding:      "public and sensitive portions of an object are not cryptographically bound",
	RcCurve:        "curve not supported",
	RcECCPoint:     "point is not on the required curve",
}

// Warning codes.
const (
	RcContextGap     RcWarn = 0x01
	RcObjectMemory   RcWarn = 0x02
	RcSessionMemory  RcWarn = 0x03
	RcMemory         RcWarn = 0x04
	RcSessionHandles RcWarn = 0x05
	RcObjectHandles  RcWarn = 0x06
	RcLocality       RcWarn = 0x07
	RcYielded        RcWarn = 0x08
	RcCanceled       RcWarn = 0x09
	RcTesting        RcWarn = 0x0A
	RcReferenceH0    RcWarn = 0x10
	RcReferenceH6    RcWarn = 0x16
	RcReferenceS0    RcWarn = 0x18
	RcReferenceS6    RcWarn = 0x1E
	RcNVRate         RcWarn = 0x20
	RcLockout        RcWarn = 0x21
	RcRetry          RcWarn = 0x22
	RcNVUnavailable  RcWarn = 0x23
)

var warnMsg = map[RcWarn]string{
	RcContextGap:     "gap for context ID is too large",
	RcObjectMemory:   "out of memory for object contexts",
	RcSessionMemory:  "out of memory for session contexts",
	RcMemory:         "out of shared object/session memory or need space for internal operations",
	RcSessionHandles: "out of session handles",
	RcObjectHandles:  "out of object handles",
	RcLocality:       "bad locality",
	RcYielded:        "the TPM has suspended operation on the command",
	RcCanceled:       "the command was canceled",
	RcTesting:        "TPM is performing self-tests",
	RcNVRate:         "the TPM is rate-limiting accesses to prevent wearout of NV",
	RcLockout:        "the TPM is in DA lockout mode",
	RcRetry:          "the TPM was not able to start the command",
	RcNVUnavailable:  "the command may require writing of NV and NV is not current accessible",
}

func (w RcWarn) message() string {
	switch {
	case w >= RcReferenceH0 && w <= RcReferenceH6:
		return fmt.Sprintf("handle %d references a transient object or session that is not loaded", w-RcReferenceH0+1)
	case w >= RcReferenceS0 && w <= RcReferenceS6:
		return fmt.Sprintf("authorization session %d references a session that is not loaded", w-RcReferenceS0+1)
	}
	return warnMsg[w]
}

// Bits of a TPM 2.0 response code.
const (
	rcVer1    = 0x100
	rcFmt1    = 0x080
	rcWarn    = 0x900
	rcP       = 0x040
	rcS       = 0x800
	rcVendor  = 0x400
	rcN1Shift = 8
)

// Error is a format 0 error.
type Error struct {
	Code RcFmt0
}

func (e Error) Error() string {
	return fmt.Sprintf("error code 0x%x : %s", e.Code, fmt0Msg[e.Code])
}

// ResponseCode returns the response code the device sent.
func (e Error) ResponseCode() TPMRC { return TPMRC(rcVer1 | uint32(e.Code)) }

// Is reports whether the error belongs to the class target.
func (e Error) Is(target error) bool {
	switch target {
	case ErrDevice:
		return true
	case ErrPolicyMismatch:
		return e.Code == RcPCRChanged || e.Code == RcPolicy
	}
	return false
}

// VendorError is a vendor-defined response code.
type VendorError struct {
	Code uint32
}

func (e VendorError) Error() string {
	return fmt.Sprintf("vendor error code 0x%x", e.Code)
}

// ResponseCode returns the response code the device sent.
func (e VendorError) ResponseCode() TPMRC { return TPMRC(e.Code) }

// Is reports whether the error belongs to the class target.
func (e VendorError) Is(target error) bool { return target == ErrDevice }

// Warning is a format 0 warning.
type Warning struct {
	Code RcWarn
}

func (w Warning) Error() string {
	return fmt.Sprintf("warning code 0x%x : %s", w.Code, w.Code.message())
}

// ResponseCode returns the response code the device sent.
func (w Warning) ResponseCode() TPMRC { return TPMRC(rcWarn | uint32(w.Code)) }

// Is reports whether the error belongs to the class target.
func (w Warning) Is(target error) bool {
	switch target {
	case ErrDevice:
		return true
	case ErrDeviceBusy:
		switch w.Code {
		case RcObjectMemory, RcSessionMemory, RcMemory, RcSessionHandles,
			RcObjectHandles, RcYielded, RcTesting, RcRetry, RcNVRate:
			return true
		}
	case ErrInvalidSession:
		return w.Code >= RcReferenceS0 && w.Code <= RcReferenceS6
	}
	return false
}

// ParameterError is a format 1 error attributed to a command parameter.
type ParameterError struct {
	Code      RcFmt1
	Parameter RcIndex
}

func (e ParameterError) Error() string {
	return fmt.Sprintf("parameter %d, error code 0x%x : %s", e.Parameter, e.Code, fmt1Msg[e.Code])
}

// ResponseCode returns the response code the device sent.
func (e ParameterError) ResponseCode() TPMRC {
	return TPMRC(rcFmt1 | rcP | uint32(e.Parameter)<<rcN1Shift | uint32(e.Code))
}

// Is reports whether the error belongs to the class target.
func (e ParameterError) Is(target error) bool {
	switch target {
	case ErrDevice:
		return true
	case ErrPolicyMismatch:
		return e.Code == RcPolicyFail
	}
	return false
}

// HandleError is a format 1 error attributed to a handle.
type HandleError struct {
	Code   RcFmt1
	Handle RcIndex
}

func (e HandleError) Error() string {
	return fmt.Sprintf("handle %d, error code 0x%x : %s", e.Handle, e.Code, fmt1Msg[e.Code])
}

// ResponseCode returns the response code the device sent.
func (e HandleError) ResponseCode() TPMRC {
	return TPMRC(rcFmt1 | uint32(e.Handle)<<rcN1Shift | uint32(e.Code))
}

// Is reports whether the error belongs to the class target.
func (e HandleError) Is(target error) bool {
	switch target {
	case ErrDevice:
		return true
	case ErrPolicyMismatch:
		return e.Code == RcPolicyFail
	}
	return false
}

// SessionError is a format 1 error attributed to an authorization session.
type SessionError struct {
	Code    RcFmt1
	Session RcIndex
}

func (e SessionError) Error() string {
	return fmt.Sprintf("session %d, error code 0x%x : %s", e.Session, e.Code, fmt1Msg[e.Code])
}

// ResponseCode returns the response code the device sent.
func (e SessionError) ResponseCode() TPMRC {
	return TPMRC(rcFmt1 | rcS | uint32(e.Session)<<rcN1Shift | uint32(e.Code))
}

// Is reports whether the error belongs to the class target.
func (e SessionError) Is(target error) bool {
	switch target {
	case ErrDevice:
		return true
	case ErrPolicyMismatch:
		return e.Code == RcPolicyFail || e.Code == RcExpired
	}
	return false
}

// UnknownError is a response code that is not in TPM 2.0 format.
type UnknownError struct {
	Code TPMRC
}

func (e UnknownError) Error() string {
	return fmt.Sprintf("response status 0x%x", uint32(e.Code))
}

// ResponseCode returns the response code the device sent.
func (e UnknownError) ResponseCode() TPMRC { return e.Code }

// Is reports whether the error belongs to the class target.
func (e UnknownError) Is(target error) bool { return target == ErrDevice }

// Decode a TPM2 response code and return the appropriate error. Logic
// follows the "Response Code Evaluation" chart in TPM 2.0 Library Part 1.
func decodeResponse(code tpmutil.ResponseCode) error {
	if code == tpmutil.RCSuccess {
		return nil
	}
	if code&0x180 == 0 { // Bits 7:8 == 0 is a TPM1 error
		return UnknownError{TPMRC(code)}
	}
	if code&0x80 == 0 { // Bit 7 unset
		if code&0x400 > 0 { // Bit 10 set, vendor specific code
			return VendorError{uint32(code)}
		}
		if code&0x800 > 0 { // Bit 11 set, warning with code in bit 0:6
			return Warning{RcWarn(code & 0x7f)}
		}
		// error with code in bit 0:6
		return Error{RcFmt0(code & 0x7f)}
	}
	if code&0x40 > 0 { // Bit 6 set, parameter number in 8:11, code in 0:5
		return ParameterError{RcFmt1(code & 0x3f), RcIndex((code & 0xf00) >> 8)}
	}
	if code&0x800 == 0 { // Bit 11 unset, handle in 8:10, code in 0:5
		return HandleError{RcFmt1(code & 0x3f), RcIndex((code & 0x700) >> 8)}
	}
	// Session in 8:10, code in 0:5
	return SessionError{RcFmt1(code & 0x3f), RcIndex((code & 0x700) >> 8)}
}

// TransportError wraps a failure of the underlying byte exchange.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("tpm2: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ExitCode maps an error to a process status: 0 for nil, the device's
// response code for errors the device reported, and TPM_RC_FAILURE for
// everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var rc interface{ ResponseCode() TPMRC }
	if errors.As(err, &rc) {
		return int(rc.ResponseCode())
	}
	return int(TPMRCFailure)
}

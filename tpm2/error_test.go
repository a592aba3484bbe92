package tpm2

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"testing"

	"github.com/google/go-tpm-demo/tpmutil"
)

func TestError(t *testing.T) {
	var err error

	// Vendor
	err = decodeResponse(0x501)
	ve, ok := err.(VendorError)
	if !ok {
		t.Fatalf("unexpected error type %v, want VendorError", reflect.TypeOf(err))
	}
	if ve.Code != 0x501 {
		t.Fatalf("unexpected error code %v, want 1", ve.Code)
	}

	// Warning
	err = decodeResponse(0x922)
	w, ok := err.(Warning)
	if !ok {
		t.Fatalf("unexpected error type %v, want Warning", reflect.TypeOf(err))
	}
	if w.Code != RcRetry {
		t.Fatalf("unexpected error code %v", w.Code)
	}

	// Error
	err = decodeResponse(0x100)
	e, ok := err.(Error)
	if !ok {
		t.Fatalf("unexpected error type %v, want Error", reflect.TypeOf(err))
	}
	if e.Code != RcInitialize {
		t.Fatalf("unexpected error code %v", e.Code)
	}

	// ParameterError
	err = decodeResponse(0xfc1)
	pe, ok := err.(ParameterError)
	if !ok {
		t.Fatalf("unexpected error type %v, want ParameterError", reflect.TypeOf(err))
	}
	if pe.Code != RcAsymmetric {
		t.Fatalf("unexpected error code %v", pe.Code)
	}
	if pe.Parameter != 0xf {
		t.Fatalf("unexpected parameter %v", pe.Parameter)
	}

	// HandleError
	err = decodeResponse(0x7a3)
	he, ok := err.(HandleError)
	if !ok {
		t.Fatalf("unexpected error type %v, want HandleError", reflect.TypeOf(err))
	}
	if he.Code != RcExpired {
		t.Fatalf("unexpected error code %v", he.Code)
	}
	if he.Handle != 7 {
		t.Fatalf("unexpected handle %v", he.Handle)
	}

	// SessionError
	err = decodeResponse(0xfa2)
	se, ok := err.(SessionError)
	if !ok {
		t.Fatalf("unexpected error type %v, want SessionError", reflect.TypeOf(err))
	}
	if se.Code != RcBadAuth {
		t.Fatalf("unexpected error code %v", se.Code)
	}
	if se.Session != 7 {
		t.Fatalf("unexpected session %v", se.Session)
	}

	// TPM 1.2 style
	err = decodeResponse(0x3)
	if _, ok := err.(UnknownError); !ok {
		t.Fatalf("unexpected error type %v, want UnknownError", reflect.TypeOf(err))
	}
}

func TestResponseCodeRoundTrip(t *testing.T) {
	for _, rc := range []TPMRC{0x100, 0x101, 0x143, 0x1c4, 0x2c4, 0x99d, 0x902, 0x922, 0x98b, 0x501, 0x3} {
		err := decodeResponse(tpmutil.ResponseCode(rc))
		var coded interface{ ResponseCode() TPMRC }
		if !errors.As(err, &coded) {
			t.Fatalf("decodeResponse(0x%x) = %v, has no response code", rc, err)
		}
		if got := coded.ResponseCode(); got != rc {
			t.Errorf("decodeResponse(0x%x).ResponseCode() = 0x%x", rc, got)
		}
	}
}

func TestErrorClasses(t *testing.T) {
	tests := []struct {
		rc     TPMRC
		target error
		want   bool
	}{
		{0x100, ErrDevice, true},
		{0x99d, ErrPolicyMismatch, true},
		{0x128, ErrPolicyMismatch, true},
		{0x1c4, ErrPolicyMismatch, false},
		{0x903, ErrDeviceBusy, true},
		{0x905, ErrDeviceBusy, true},
		{0x918, ErrInvalidSession, true},
		{0x910, ErrInvalidSession, false},
		{0x143, ErrTransport, false},
		{0x143, ErrMalformedResponse, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("0x%x/%v", uint32(tt.rc), tt.target), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", decodeResponse(tpmutil.ResponseCode(tt.rc)))
			if got := errors.Is(err, tt.target); got != tt.want {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", err, tt.target, got, tt.want)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"device", fmt.Errorf("step 9: %w", SessionError{RcPolicyFail, 1}), 0x99d},
		{"transport", &TransportError{Op: "send", Err: io.ErrClosedPipe}, int(TPMRCFailure)},
		{"malformed", fmt.Errorf("%w: short", ErrMalformedResponse), int(TPMRCFailure)},
		{"session", ErrInvalidSession, int(TPMRCFailure)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = 0x%x, want 0x%x", tt.err, got, tt.want)
			}
		})
	}
}

func TestTransportError(t *testing.T) {
	err := fmt.Errorf("reading PCR: %w", &TransportError{Op: "send", Err: io.ErrUnexpectedEOF})
	if !errors.Is(err, ErrTransport) {
		t.Errorf("errors.Is(%v, ErrTransport) = false", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("errors.Is(%v, io.ErrUnexpectedEOF) = false", err)
	}
	if errors.Is(err, ErrDevice) {
		t.Errorf("errors.Is(%v, ErrDevice) = true", err)
	}
}

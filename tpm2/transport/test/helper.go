// Package testhelper provides some helper code for TPM transport tests.
package testhelper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-tpm-demo/tpm2"
	"github.com/google/go-tpm-demo/tpm2/transport"
)

// RunTest checks that the connection to the given TPM seems to be working.
func RunTest(t *testing.T, skipErrs []error, tpmOpener func() (transport.TPMCloser, error)) {
	t.Helper()
	tpm, err := tpmOpener()
	for _, skipErr := range skipErrs {
		if errors.Is(err, skipErr) {
			t.Skipf("%v", err)
		}
	}
	if err != nil {
		t.Fatalf("Failed to open TPM: %v", err)
	}
	dev := tpm2.NewDevice(tpm)
	defer func() {
		if err := dev.Close(); err != nil {
			t.Fatalf("dev.Close() = %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Ask the TPM what the manufacturer is, as a basic consistency check.
	id, err := dev.Manufacturer(ctx)

	// We might run into one of the known "skip if this error" cases.
	for _, skipErr := range skipErrs {
		if errors.Is(err, skipErr) {
			t.Skipf("%v", err)
		}
	}
	if err != nil {
		t.Fatalf("Manufacturer() = %v", err)
	}
	t.Logf("Manufacturer ID: %q", id)

	family, err := dev.FamilyIndicator(ctx)
	if err != nil {
		t.Fatalf("FamilyIndicator() = %v", err)
	}
	if family != "2.0" {
		t.Errorf("FamilyIndicator() = %q, want %q", family, "2.0")
	}
}

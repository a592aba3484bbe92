package tpm2

import (
	"context"
	"testing"
)

// canned answers every command with the same response.
type canned []byte

func (c canned) Send([]byte) ([]byte, error) { return c, nil }

func TestExecKeepsCallerSessions(t *testing.T) {
	rsp, err := MarshalResponse(TPMRCSuccess, &PCRExtendResponse{}, []TPMSAuthResponse{
		{Attributes: TPMASessionContinueSession},
	})
	if err != nil {
		t.Fatal(err)
	}
	d := NewDevice(canned(rsp))
	defer d.Close()

	// Spare capacity behind an empty slice must not be written to when the
	// password session is filled in.
	backing := make([]*Session, 2)
	if err := d.exec(context.Background(), &PCRExtendCommand{PCRHandle: 16}, &PCRExtendResponse{}, backing[:0]...); err != nil {
		t.Fatalf("exec() = %v", err)
	}
	for i, s := range backing {
		if s != nil {
			t.Errorf("caller's session slice modified at %d: %+v", i, s)
		}
	}
}

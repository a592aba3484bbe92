package tpm2

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"testing"
)

func TestPolicySecretEndorsement(t *testing.T) {
	calc, err := NewPolicyCalculator(TPMAlgSHA256)
	if err != nil {
		t.Fatal(err)
	}
	name := binary.BigEndian.AppendUint32(nil, uint32(TPMRHEndorsement))
	calc.PolicySecret(name, nil)
	if got := calc.Digest(); !bytes.Equal(got, EKAuthPolicy) {
		t.Errorf("PolicySecret(TPM_RH_ENDORSEMENT) = %x, want %x", got, EKAuthPolicy)
	}
}

func TestPolicyPCRFold(t *testing.T) {
	calc, err := NewPolicyCalculator(TPMAlgSHA256)
	if err != nil {
		t.Fatal(err)
	}
	sel, err := NewPCRSelection(TPMAlgSHA256, 16)
	if err != nil {
		t.Fatal(err)
	}
	pcrDigest := sha256.Sum256(make([]byte, 32))
	if err := calc.PolicyPCR(sel, pcrDigest[:]); err != nil {
		t.Fatalf("PolicyPCR() = %v", err)
	}

	var in []byte
	in = append(in, make([]byte, 32)...)
	in = append(in, 0x00, 0x00, 0x01, 0x7F)
	in = append(in, 0x00, 0x00, 0x00, 0x01, 0x00, 0x0B, 0x03, 0x00, 0x00, 0x01)
	in = append(in, pcrDigest[:]...)
	want := sha256.Sum256(in)
	if got := calc.Digest(); !bytes.Equal(got, want[:]) {
		t.Errorf("PolicyPCR() digest = %x, want %x", got, want)
	}
}

func TestPolicyOrder(t *testing.T) {
	sel, err := NewPCRSelection(TPMAlgSHA256, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	name := binary.BigEndian.AppendUint32(nil, uint32(TPMRHOwner))
	pcrDigest := bytes.Repeat([]byte{0x5A}, 32)

	a, _ := NewPolicyCalculator(TPMAlgSHA256)
	if err := a.PolicyPCR(sel, pcrDigest); err != nil {
		t.Fatal(err)
	}
	a.PolicySecret(name, nil)

	b, _ := NewPolicyCalculator(TPMAlgSHA256)
	b.PolicySecret(name, nil)
	if err := b.PolicyPCR(sel, pcrDigest); err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(a.Digest(), b.Digest()) {
		t.Errorf("assertion order does not change the digest: %x", a.Digest())
	}
}

func TestPolicyCalculatorReset(t *testing.T) {
	for _, alg := range []TPMAlgID{TPMAlgSHA1, TPMAlgSHA256, TPMAlgSHA384} {
		calc, err := NewPolicyCalculator(alg)
		if err != nil {
			t.Fatalf("NewPolicyCalculator(%v) = %v", alg, err)
		}
		zero := make([]byte, alg.digestSize())
		if !bytes.Equal(calc.Digest(), zero) {
			t.Errorf("%v: fresh digest = %x, want zeros", alg, calc.Digest())
		}
		calc.PolicySecret([]byte{1, 2, 3, 4}, nil)
		calc.Reset()
		if !bytes.Equal(calc.Digest(), zero) {
			t.Errorf("%v: digest after Reset = %x, want zeros", alg, calc.Digest())
		}
	}
	if _, err := NewPolicyCalculator(TPMAlgAES); err == nil {
		t.Error("NewPolicyCalculator(AES) succeeded")
	}
}

func TestPCRDigest(t *testing.T) {
	a := bytes.Repeat([]byte{1}, 32)
	b := bytes.Repeat([]byte{2}, 32)
	got, err := PCRDigest(TPMAlgSHA256, a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := sha256.Sum256(append(append([]byte(nil), a...), b...))
	if !bytes.Equal(got, want[:]) {
		t.Errorf("PCRDigest() = %x, want %x", got, want)
	}
}

package tpm2_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/google/go-tpm-demo/tpm2"
	"github.com/google/go-tpm-demo/tpm2/transport/loopback"
)

var nullSym = tpm2.TPMTSymDef{Algorithm: tpm2.TPMAlgNull}

func newDevice(t *testing.T, opts ...loopback.Option) (*tpm2.Device, *loopback.TPM) {
	t.Helper()
	tpm := loopback.New(append([]loopback.Option{loopback.Started()}, opts...)...)
	dev := tpm2.NewDevice(tpm)
	t.Cleanup(func() {
		if err := dev.Close(); err != nil {
			t.Errorf("Close() = %v", err)
		}
	})
	return dev, tpm
}

func TestStartup(t *testing.T) {
	ctx := context.Background()
	tpm := loopback.New()
	dev := tpm2.NewDevice(tpm)
	defer dev.Close()

	if _, err := dev.GetRandom(ctx, 8); !errors.Is(err, tpm2.ErrDevice) {
		t.Errorf("GetRandom() before Startup = %v, want a device error", err)
	}
	if err := dev.Startup(ctx, tpm2.TPMSUClear); err != nil {
		t.Fatalf("Startup() = %v", err)
	}
	if err := dev.Startup(ctx, tpm2.TPMSUClear); err != nil {
		t.Errorf("Startup() of a started TPM = %v, want nil", err)
	}
}

func TestCapabilities(t *testing.T) {
	ctx := context.Background()
	dev, _ := newDevice(t)

	family, err := dev.FamilyIndicator(ctx)
	if err != nil || family != "2.0" {
		t.Errorf("FamilyIndicator() = %q, %v, want \"2.0\"", family, err)
	}
	n, err := dev.PCRCount(ctx)
	if err != nil || n != loopback.PCRCount {
		t.Errorf("PCRCount() = %d, %v, want %d", n, err, loopback.PCRCount)
	}
	banks, err := dev.PCRBanks(ctx)
	if err != nil {
		t.Fatalf("PCRBanks() = %v", err)
	}
	var algs []tpm2.TPMAlgID
	for _, b := range banks {
		algs = append(algs, b.Hash)
	}
	if diff := cmp.Diff([]tpm2.TPMAlgID{tpm2.TPMAlgSHA1, tpm2.TPMAlgSHA256}, algs); diff != "" {
		t.Errorf("PCRBanks() diff (-want +got):\n%s", diff)
	}

	cmdSize, rspSize, err := dev.Negotiate(ctx)
	if err != nil {
		t.Fatalf("Negotiate() = %v", err)
	}
	if cmdSize != tpm2.MaxCommandSize || rspSize != tpm2.MaxResponseSize {
		t.Errorf("Negotiate() = %d, %d, want %d, %d", cmdSize, rspSize, tpm2.MaxCommandSize, tpm2.MaxResponseSize)
	}

	if err := dev.SelfTest(ctx, true); err != nil {
		t.Fatalf("SelfTest() = %v", err)
	}
	res, err := dev.GetTestResult(ctx)
	if err != nil {
		t.Fatalf("GetTestResult() = %v", err)
	}
	if res.Result != tpm2.TPMRCSuccess {
		t.Errorf("GetTestResult() result = 0x%x, want success", res.Result)
	}
	todo, err := dev.IncrementalSelfTest(ctx, tpm2.TPMAlgSHA256, tpm2.TPMAlgRSA)
	if err != nil || len(todo) != 0 {
		t.Errorf("IncrementalSelfTest() = %v, %v, want nothing left", todo, err)
	}
}

func TestGetRandom(t *testing.T) {
	ctx := context.Background()
	dev, _ := newDevice(t)
	b, err := dev.GetRandom(ctx, 16)
	if err != nil || len(b) != 16 {
		t.Errorf("GetRandom(16) = %x, %v", b, err)
	}
	if _, err := dev.GetRandom(ctx, tpm2.MaxDigestSize+1); err == nil {
		t.Error("GetRandom() above the maximum succeeded")
	}
}

func TestPCRs(t *testing.T) {
	ctx := context.Background()
	dev, tpm := newDevice(t)

	before, err := dev.ReadPCR(ctx, 16, tpm2.TPMAlgSHA256)
	if err != nil {
		t.Fatalf("ReadPCR() = %v", err)
	}
	if !bytes.Equal(before.Digest, make([]byte, 32)) {
		t.Errorf("PCR 16 = %x, want zeros", before.Digest)
	}

	d := sha256.Sum256([]byte("boot"))
	if err := dev.ExtendPCR(ctx, 16, tpm2.TPMTHA{HashAlg: tpm2.TPMAlgSHA256, Digest: d[:]}); err != nil {
		t.Fatalf("ExtendPCR() = %v", err)
	}
	after, err := dev.ReadPCR(ctx, 16, tpm2.TPMAlgSHA256)
	if err != nil {
		t.Fatalf("ReadPCR() = %v", err)
	}
	want := sha256.Sum256(append(before.Digest, d[:]...))
	if !bytes.Equal(after.Digest, want[:]) {
		t.Errorf("PCR 16 after extend = %x, want %x", after.Digest, want)
	}
	if after.UpdateCounter <= before.UpdateCounter || after.UpdateCounter != tpm.UpdateCounter() {
		t.Errorf("update counter %d -> %d, device reports %d", before.UpdateCounter, after.UpdateCounter, tpm.UpdateCounter())
	}

	if _, err := dev.ReadPCR(ctx, 16, tpm2.TPMAlgSHA384); !errors.Is(err, tpm2.ErrUnsupportedRegister) {
		t.Errorf("ReadPCR() of an unallocated bank = %v, want ErrUnsupportedRegister", err)
	}
	if _, err := dev.ReadPCR(ctx, 30, tpm2.TPMAlgSHA256); !errors.Is(err, tpm2.ErrUnsupportedRegister) {
		t.Errorf("ReadPCR(30) = %v, want ErrUnsupportedRegister", err)
	}
}

func TestReadPCRIdempotent(t *testing.T) {
	ctx := context.Background()
	dev, _ := newDevice(t)

	d := sha256.Sum256([]byte("measure"))
	if err := dev.ExtendPCR(ctx, 7, tpm2.TPMTHA{HashAlg: tpm2.TPMAlgSHA256, Digest: d[:]}); err != nil {
		t.Fatalf("ExtendPCR() = %v", err)
	}
	for _, alg := range []tpm2.TPMAlgID{tpm2.TPMAlgSHA1, tpm2.TPMAlgSHA256} {
		first, err := dev.ReadPCR(ctx, 7, alg)
		if err != nil {
			t.Fatalf("ReadPCR(7, %v) = %v", alg, err)
		}
		second, err := dev.ReadPCR(ctx, 7, alg)
		if err != nil {
			t.Fatalf("ReadPCR(7, %v) = %v", alg, err)
		}
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("ReadPCR(7, %v) changed between reads (-first +second):\n%s", alg, diff)
		}
	}
}

func TestReadPCREveryIndex(t *testing.T) {
	ctx := context.Background()
	dev, _ := newDevice(t)

	count, err := dev.PCRCount(ctx)
	if err != nil {
		t.Fatalf("PCRCount() = %v", err)
	}
	if count != loopback.PCRCount {
		t.Fatalf("PCRCount() = %d, want %d", count, loopback.PCRCount)
	}
	seen := make(map[int]bool)
	for i := 0; i < count; i++ {
		v, err := dev.ReadPCR(ctx, i, tpm2.TPMAlgSHA256)
		if err != nil {
			t.Fatalf("ReadPCR(%d) = %v", i, err)
		}
		if v.Index != i || v.Alg != tpm2.TPMAlgSHA256 || len(v.Digest) != 32 {
			t.Errorf("ReadPCR(%d) = %+v", i, v)
		}
		seen[v.Index] = true
	}
	if len(seen) != loopback.PCRCount {
		t.Errorf("read %d distinct PCRs, want %d", len(seen), loopback.PCRCount)
	}
}

func TestReadPCRsRounds(t *testing.T) {
	ctx := context.Background()
	dev, tpm := newDevice(t)

	all := make([]int, loopback.PCRCount)
	for i := range all {
		all[i] = i
	}
	sel, err := tpm2.PCRSelect(all...)
	if err != nil {
		t.Fatal(err)
	}
	req := tpm2.TPMLPCRSelection{PCRSelections: []tpm2.TPMSPCRSelection{
		{Hash: tpm2.TPMAlgSHA1, PCRSelect: sel},
		{Hash: tpm2.TPMAlgSHA256, PCRSelect: sel},
	}}
	vals, err := dev.ReadPCRs(ctx, req)
	if err != nil {
		t.Fatalf("ReadPCRs() = %v", err)
	}
	if len(vals) != 2*loopback.PCRCount {
		t.Errorf("ReadPCRs() returned %d values, want %d", len(vals), 2*loopback.PCRCount)
	}
	rounds := 0
	for _, cc := range tpm.Received() {
		if cc == tpm2.TPMCCPCRRead {
			rounds++
		}
	}
	if want := 2 * loopback.PCRCount / tpm2.MaxDigestListSize; rounds != want {
		t.Errorf("ReadPCRs() took %d rounds, want %d", rounds, want)
	}
}

func currentPCRDigest(t *testing.T, dev *tpm2.Device, pcrs ...int) []byte {
	t.Helper()
	var values [][]byte
	for _, i := range pcrs {
		v, err := dev.ReadPCR(context.Background(), i, tpm2.TPMAlgSHA256)
		if err != nil {
			t.Fatalf("ReadPCR(%d) = %v", i, err)
		}
		values = append(values, v.Digest)
	}
	d, err := tpm2.PCRDigest(tpm2.TPMAlgSHA256, values...)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestPolicyPCR(t *testing.T) {
	ctx := context.Background()
	dev, _ := newDevice(t)

	s, err := dev.StartSession(ctx, tpm2.PolicySession, tpm2.TPMAlgSHA256, 0, nullSym)
	if err != nil {
		t.Fatalf("StartSession() = %v", err)
	}
	if len(s.NonceCaller()) != 32 || len(s.NonceTPM()) != 32 {
		t.Errorf("nonces of %d and %d bytes, want 32", len(s.NonceCaller()), len(s.NonceTPM()))
	}
	sel, err := tpm2.NewPCRSelection(tpm2.TPMAlgSHA256, 16)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.PolicyPCR(ctx, s, sel, currentPCRDigest(t, dev, 16)); err != nil {
		t.Fatalf("PolicyPCR() = %v", err)
	}
	if s.State() != tpm2.PolicyAsserting {
		t.Errorf("state = %v, want asserting", s.State())
	}

	if err := dev.PolicyRestart(ctx, s); err != nil {
		t.Fatalf("PolicyRestart() = %v", err)
	}
	if !bytes.Equal(s.Expected(), make([]byte, 32)) || s.State() != tpm2.PolicyEmpty {
		t.Errorf("after PolicyRestart expected = %x, state = %v", s.Expected(), s.State())
	}
	if err := dev.PolicyPCR(ctx, s, sel, currentPCRDigest(t, dev, 16)); err != nil {
		t.Fatalf("PolicyPCR() after PolicyRestart = %v", err)
	}

	digest, err := dev.Finalize(ctx, s)
	if err != nil {
		t.Fatalf("Finalize() = %v", err)
	}
	if !bytes.Equal(digest, s.Expected()) {
		t.Errorf("device digest %x, computed %x", digest, s.Expected())
	}
	if err := dev.PolicyPCR(ctx, s, sel, nil); err == nil {
		t.Error("PolicyPCR() on a finalized session succeeded")
	}
	if err := dev.PolicyRestart(ctx, s); err == nil {
		t.Error("PolicyRestart() on a finalized session succeeded")
	}
	if s.State() != tpm2.PolicyFinalized || !bytes.Equal(s.Digest(), digest) {
		t.Errorf("finalized session changed: state = %v, digest = %x", s.State(), s.Digest())
	}
}

// Assertion order is part of the policy: the same two PolicyPCR assertions
// issued in opposite orders give different device digests.
func TestPolicyPCROrder(t *testing.T) {
	ctx := context.Background()
	dev, _ := newDevice(t)

	a, err := tpm2.NewPCRSelection(tpm2.TPMAlgSHA256, 16)
	if err != nil {
		t.Fatal(err)
	}
	b, err := tpm2.NewPCRSelection(tpm2.TPMAlgSHA256, 23)
	if err != nil {
		t.Fatal(err)
	}
	aDigest := currentPCRDigest(t, dev, 16)
	bDigest := currentPCRDigest(t, dev, 23)

	type assertion struct {
		sel    tpm2.TPMLPCRSelection
		digest []byte
	}
	run := func(order ...assertion) []byte {
		t.Helper()
		s, err := dev.StartSession(ctx, tpm2.PolicySession, tpm2.TPMAlgSHA256, 0, nullSym)
		if err != nil {
			t.Fatalf("StartSession() = %v", err)
		}
		defer dev.Flush(ctx, s)
		for _, as := range order {
			if err := dev.PolicyPCR(ctx, s, as.sel, as.digest); err != nil {
				t.Fatalf("PolicyPCR() = %v", err)
			}
		}
		digest, err := dev.PolicyGetDigest(ctx, s)
		if err != nil {
			t.Fatalf("PolicyGetDigest() = %v", err)
		}
		if !bytes.Equal(digest, s.Expected()) {
			t.Errorf("device digest %x, computed %x", digest, s.Expected())
		}
		return digest
	}

	ab := run(assertion{a, aDigest}, assertion{b, bDigest})
	ba := run(assertion{b, bDigest}, assertion{a, aDigest})
	if bytes.Equal(ab, ba) {
		t.Errorf("[A,B] and [B,A] both give %x", ab)
	}
	if again := run(assertion{a, aDigest}, assertion{b, bDigest}); !bytes.Equal(ab, again) {
		t.Errorf("[A,B] gave %x, then %x", ab, again)
	}
}

func TestPolicyPCRMismatch(t *testing.T) {
	ctx := context.Background()
	dev, _ := newDevice(t)

	s, err := dev.StartSession(ctx, tpm2.PolicySession, tpm2.TPMAlgSHA256, 0, nullSym)
	if err != nil {
		t.Fatalf("StartSession() = %v", err)
	}
	sel, err := tpm2.NewPCRSelection(tpm2.TPMAlgSHA256, 16)
	if err != nil {
		t.Fatal(err)
	}
	err = dev.PolicyPCR(ctx, s, sel, bytes.Repeat([]byte{0xEE}, 32))
	if !errors.Is(err, tpm2.ErrPolicyMismatch) {
		t.Errorf("PolicyPCR() = %v, want ErrPolicyMismatch", err)
	}
	if got := tpm2.ExitCode(err); got != 0x1C4 {
		t.Errorf("ExitCode() = 0x%x, want 0x1c4", got)
	}
	if s.State() != tpm2.PolicyEmpty {
		t.Errorf("state after a failed assertion = %v, want empty", s.State())
	}

	// A trial session folds the assertion without checking it.
	trial, err := dev.StartSession(ctx, tpm2.TrialSession, tpm2.TPMAlgSHA256, 0, nullSym)
	if err != nil {
		t.Fatalf("StartSession(trial) = %v", err)
	}
	if err := dev.PolicyPCR(ctx, trial, sel, bytes.Repeat([]byte{0xEE}, 32)); err != nil {
		t.Errorf("PolicyPCR() on a trial session = %v", err)
	}
	digest, err := dev.PolicyGetDigest(ctx, trial)
	if err != nil || !bytes.Equal(digest, trial.Expected()) {
		t.Errorf("PolicyGetDigest() = %x, %v, want %x", digest, err, trial.Expected())
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	dev, tpm := newDevice(t, loopback.WithSessionSlots(1))

	s, err := dev.StartSession(ctx, tpm2.PolicySession, tpm2.TPMAlgSHA256, 0, nullSym)
	if err != nil {
		t.Fatalf("StartSession() = %v", err)
	}
	if _, err := dev.StartSession(ctx, tpm2.PolicySession, tpm2.TPMAlgSHA256, 0, nullSym); !errors.Is(err, tpm2.ErrDeviceBusy) {
		t.Errorf("StartSession() with no free slot = %v, want ErrDeviceBusy", err)
	}
	if got := dev.OpenSessions(); got != 1 {
		t.Errorf("OpenSessions() = %d, want 1", got)
	}
	if err := dev.Flush(ctx, s); err != nil {
		t.Fatalf("Flush() = %v", err)
	}
	if !s.Closed() || dev.OpenSessions() != 0 {
		t.Errorf("after Flush closed = %v, open = %d", s.Closed(), dev.OpenSessions())
	}

	sent := len(tpm.Received())
	if err := dev.Flush(ctx, s); !errors.Is(err, tpm2.ErrInvalidSession) {
		t.Errorf("second Flush() = %v, want ErrInvalidSession", err)
	}
	if _, err := dev.PolicyGetDigest(ctx, s); !errors.Is(err, tpm2.ErrInvalidSession) {
		t.Errorf("PolicyGetDigest() on a flushed session = %v, want ErrInvalidSession", err)
	}
	if got := len(tpm.Received()); got != sent {
		t.Errorf("%d commands sent for invalid sessions, want none", got-sent)
	}

	pw, err := dev.StartSession(ctx, tpm2.PasswordSession, tpm2.TPMAlgSHA256, 0, nullSym)
	if err != nil {
		t.Fatal(err)
	}
	if pw.Handle() != tpm2.TPMRSPW {
		t.Errorf("password session handle = %v", pw.Handle())
	}
	if err := dev.Flush(ctx, pw); !errors.Is(err, tpm2.ErrInvalidSession) {
		t.Errorf("Flush() of a password session = %v, want ErrInvalidSession", err)
	}
}

func TestDefaultAuth(t *testing.T) {
	ctx := context.Background()
	dev, _ := newDevice(t)

	// Trailing zeros are not significant in a password.
	dev.SetDefaultAuth(make([]byte, 32))
	if err := dev.ExtendPCR(ctx, 16, tpm2.TPMTHA{HashAlg: tpm2.TPMAlgSHA1, Digest: make([]byte, 20)}); err != nil {
		t.Errorf("ExtendPCR() with an all-zero password = %v", err)
	}
	dev.SetDefaultAuth([]byte("wrong"))
	if err := dev.ExtendPCR(ctx, 16, tpm2.TPMTHA{HashAlg: tpm2.TPMAlgSHA1, Digest: make([]byte, 20)}); !errors.Is(err, tpm2.ErrDevice) {
		t.Errorf("ExtendPCR() with a wrong password = %v, want a device error", err)
	}
}

func TestCreatePrimaryEK(t *testing.T) {
	ctx := context.Background()
	dev, tpm := newDevice(t)

	ek, err := dev.CreatePrimary(ctx, tpm2.TPMRHEndorsement, tpm2.RSAEKTemplate(), tpm2.EKAuthPolicy)
	if err != nil {
		t.Fatalf("CreatePrimary() = %v", err)
	}
	if ek.Handle.HandleType() != tpm2.TPMHTTransient {
		t.Errorf("EK handle %v is not transient", ek.Handle)
	}
	if !bytes.Equal(ek.Public.AuthPolicy.Buffer, tpm2.EKAuthPolicy) {
		t.Errorf("EK authPolicy = %x, want %x", ek.Public.AuthPolicy.Buffer, tpm2.EKAuthPolicy)
	}
	pub, name, err := dev.ReadPublic(ctx, ek.Handle)
	if err != nil {
		t.Fatalf("ReadPublic() = %v", err)
	}
	if !bytes.Equal(name, ek.Name) {
		t.Errorf("ReadPublic() name = %x, want %x", name, ek.Name)
	}
	computed, err := pub.Name()
	if err != nil || !bytes.Equal(computed, ek.Name) {
		t.Errorf("Name() = %x, %v, want %x", computed, err, ek.Name)
	}

	// A PCR policy cannot satisfy the EK's PolicySecret policy.
	s, err := dev.StartSession(ctx, tpm2.PolicySession, tpm2.TPMAlgSHA256, 0, nullSym)
	if err != nil {
		t.Fatalf("StartSession() = %v", err)
	}
	sel, _ := tpm2.NewPCRSelection(tpm2.TPMAlgSHA256, 16)
	if err := dev.PolicyPCR(ctx, s, sel, currentPCRDigest(t, dev, 16)); err != nil {
		t.Fatalf("PolicyPCR() = %v", err)
	}
	_, err = dev.ObjectChangeAuth(ctx, ek.Handle, tpm2.TPMRHEndorsement, s, []byte("new"))
	if !errors.Is(err, tpm2.ErrPolicyMismatch) {
		t.Errorf("ObjectChangeAuth() = %v, want ErrPolicyMismatch", err)
	}
	if got := tpm2.ExitCode(err); got != 0x99D {
		t.Errorf("ExitCode() = 0x%x, want 0x99d", got)
	}

	// Password authorization is not accepted for the ADMIN role.
	if _, err := dev.ObjectChangeAuth(ctx, ek.Handle, tpm2.TPMRHEndorsement, nil, []byte("new")); !errors.Is(err, tpm2.ErrInvalidSession) {
		t.Errorf("ObjectChangeAuth() without a session = %v, want ErrInvalidSession", err)
	}

	if err := dev.FlushObject(ctx, ek.Handle); err != nil {
		t.Fatalf("FlushObject() = %v", err)
	}
	for _, h := range tpm.LoadedHandles() {
		if h == ek.Handle {
			t.Errorf("EK %v still loaded after FlushObject", h)
		}
	}
	if err := dev.FlushObject(ctx, tpm2.TPMRHOwner); err == nil {
		t.Error("FlushObject() of a permanent handle succeeded")
	}
}

func TestObjectChangeAuthSatisfied(t *testing.T) {
	ctx := context.Background()
	dev, tpm := newDevice(t)

	// Compute a PCR policy with a trial session and bind an object to it.
	sel, _ := tpm2.NewPCRSelection(tpm2.TPMAlgSHA256, 16)
	pcrDigest := currentPCRDigest(t, dev, 16)
	trial, err := dev.StartSession(ctx, tpm2.TrialSession, tpm2.TPMAlgSHA256, 0, nullSym)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.PolicyPCR(ctx, trial, sel, pcrDigest); err != nil {
		t.Fatal(err)
	}
	policy, err := dev.Finalize(ctx, trial)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Flush(ctx, trial); err != nil {
		t.Fatal(err)
	}

	obj, err := dev.CreatePrimary(ctx, tpm2.TPMRHOwner, tpm2.RSAEKTemplate(), policy)
	if err != nil {
		t.Fatalf("CreatePrimary() = %v", err)
	}

	s, err := dev.StartSession(ctx, tpm2.PolicySession, tpm2.TPMAlgSHA256, 0, nullSym)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.PolicyPCR(ctx, s, sel, pcrDigest); err != nil {
		t.Fatal(err)
	}
	s.SetContinue(false)
	priv, err := dev.ObjectChangeAuth(ctx, obj.Handle, tpm2.TPMRHOwner, s, []byte("new"))
	if err != nil {
		t.Fatalf("ObjectChangeAuth() = %v", err)
	}
	if len(priv) == 0 {
		t.Error("ObjectChangeAuth() returned an empty private area")
	}
	if !s.Closed() || dev.OpenSessions() != 0 {
		t.Errorf("session without continueSession: closed = %v, open = %d", s.Closed(), dev.OpenSessions())
	}
	if diff := cmp.Diff([]tpm2.TPMHandle{obj.Handle}, tpm.LoadedHandles()); diff != "" {
		t.Errorf("LoadedHandles() diff (-want +got):\n%s", diff)
	}
}

// recorder keeps a copy of every command sent to the loopback TPM.
type recorder struct {
	*loopback.TPM
	commands [][]byte
}

func (r *recorder) Send(in []byte) ([]byte, error) {
	r.commands = append(r.commands, append([]byte(nil), in...))
	return r.TPM.Send(in)
}

func TestSetSessionAuth(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{TPM: loopback.New(loopback.Started())}
	dev := tpm2.NewDevice(rec)
	defer dev.Close()

	sel, _ := tpm2.NewPCRSelection(tpm2.TPMAlgSHA256, 16)
	pcrDigest := currentPCRDigest(t, dev, 16)
	calc, err := tpm2.NewPolicyCalculator(tpm2.TPMAlgSHA256)
	if err != nil {
		t.Fatal(err)
	}
	if err := calc.PolicyPCR(sel, pcrDigest); err != nil {
		t.Fatal(err)
	}
	obj, err := dev.CreatePrimary(ctx, tpm2.TPMRHOwner, tpm2.RSAEKTemplate(), calc.Digest())
	if err != nil {
		t.Fatalf("CreatePrimary() = %v", err)
	}

	s, err := dev.StartSession(ctx, tpm2.PolicySession, tpm2.TPMAlgSHA256, 0, nullSym)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.PolicyPCR(ctx, s, sel, pcrDigest); err != nil {
		t.Fatal(err)
	}
	if err := dev.SetSessionAuth(s, []byte("secret")); err != nil {
		t.Fatalf("SetSessionAuth() = %v", err)
	}
	if _, err := dev.ObjectChangeAuth(ctx, obj.Handle, tpm2.TPMRHOwner, s, []byte("new")); err != nil {
		t.Fatalf("ObjectChangeAuth() = %v", err)
	}

	var found bool
	for _, b := range rec.commands {
		var cmd tpm2.ObjectChangeAuthCommand
		_, auths, err := tpm2.UnmarshalCommand(b, &cmd)
		if err != nil {
			continue
		}
		found = true
		if len(auths) != 1 || auths[0].SessionHandle != s.Handle() {
			t.Fatalf("ObjectChangeAuth authorized with %+v, want session %v", auths, s.Handle())
		}
		if got := string(auths[0].HMAC.Buffer); got != "secret" {
			t.Errorf("session authorization = %q, want %q", got, "secret")
		}
	}
	if !found {
		t.Fatal("no ObjectChangeAuth command was sent")
	}

	if err := dev.Flush(ctx, s); err != nil {
		t.Fatal(err)
	}
	if err := dev.SetSessionAuth(s, []byte("secret")); !errors.Is(err, tpm2.ErrInvalidSession) {
		t.Errorf("SetSessionAuth() on a flushed session = %v, want ErrInvalidSession", err)
	}
}

func TestMaxSizes(t *testing.T) {
	ctx := context.Background()
	tpm := loopback.New(loopback.Started())
	dev := tpm2.NewDevice(tpm, tpm2.WithMaxSizes(64, 64))
	defer dev.Close()

	if c, r := dev.MaxSizes(); c != 64 || r != 64 {
		t.Errorf("MaxSizes() = %d, %d, want 64, 64", c, r)
	}

	d := sha256.Sum256([]byte("large"))
	err := dev.ExtendPCR(ctx, 16, tpm2.TPMTHA{HashAlg: tpm2.TPMAlgSHA256, Digest: d[:]})
	if !errors.Is(err, tpm2.ErrCommandTooLarge) {
		t.Errorf("ExtendPCR() = %v, want ErrCommandTooLarge", err)
	}
	for _, cc := range tpm.Received() {
		if cc == tpm2.TPMCCPCRExtend {
			t.Error("an oversized PCR_Extend reached the device")
		}
	}

	// 60 random bytes make a 72 byte response.
	if _, err := dev.GetRandom(ctx, 60); !errors.Is(err, tpm2.ErrMalformedResponse) {
		t.Errorf("GetRandom(60) = %v, want ErrMalformedResponse", err)
	}
	if b, err := dev.GetRandom(ctx, 8); err != nil || len(b) != 8 {
		t.Errorf("GetRandom(8) = %x, %v", b, err)
	}

	// The device reports 4096; negotiation never raises the bounds.
	c, r, err := dev.Negotiate(ctx)
	if err != nil {
		t.Fatalf("Negotiate() = %v", err)
	}
	if c != 64 || r != 64 {
		t.Errorf("Negotiate() = %d, %d, want 64, 64", c, r)
	}
}

func TestCloseFlushes(t *testing.T) {
	ctx := context.Background()
	tpm := loopback.New(loopback.Started())
	dev := tpm2.NewDevice(tpm)

	if _, err := dev.StartSession(ctx, tpm2.PolicySession, tpm2.TPMAlgSHA256, 0, nullSym); err != nil {
		t.Fatal(err)
	}
	if _, err := dev.CreatePrimary(ctx, tpm2.TPMRHOwner, tpm2.ECCSRKTemplate(), nil); err != nil {
		t.Fatal(err)
	}
	if got := len(tpm.LoadedHandles()); got != 2 {
		t.Fatalf("LoadedHandles() = %d handles, want 2", got)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if got := tpm.LoadedHandles(); len(got) != 0 {
		t.Errorf("LoadedHandles() after Close = %v, want none", got)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if _, err := dev.GetRandom(ctx, 4); err == nil {
		t.Error("GetRandom() after Close succeeded")
	}
}

func TestCloseReportsFailures(t *testing.T) {
	ctx := context.Background()
	tpm := loopback.New(loopback.Started())
	dev := tpm2.NewDevice(tpm)

	if _, err := dev.StartSession(ctx, tpm2.PolicySession, tpm2.TPMAlgSHA256, 0, nullSym); err != nil {
		t.Fatal(err)
	}
	if _, err := dev.StartSession(ctx, tpm2.PolicySession, tpm2.TPMAlgSHA256, 0, nullSym); err != nil {
		t.Fatal(err)
	}
	tpm.FailNext(tpm2.TPMCCFlushContext, tpm2.TPMRCFailure)
	if err := dev.Close(); !errors.Is(err, tpm2.ErrDevice) {
		t.Errorf("Close() = %v, want a device error", err)
	}
	// The second session was still flushed.
	if got := len(tpm.LoadedHandles()); got != 1 {
		t.Errorf("LoadedHandles() after Close = %d, want 1", got)
	}
}

func TestTransportFailure(t *testing.T) {
	ctx := context.Background()
	dev, tpm := newDevice(t)

	tpm.BreakNext(tpm2.TPMCCGetRandom, errors.New("link down"))
	_, err := dev.GetRandom(ctx, 4)
	if !errors.Is(err, tpm2.ErrTransport) {
		t.Errorf("GetRandom() = %v, want ErrTransport", err)
	}
	if got := tpm2.ExitCode(err); got != int(tpm2.TPMRCFailure) {
		t.Errorf("ExitCode() = 0x%x, want 0x%x", got, tpm2.TPMRCFailure)
	}
}

func TestCanceledContext(t *testing.T) {
	dev, tpm := newDevice(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := dev.GetRandom(ctx, 4); !errors.Is(err, context.Canceled) {
		t.Errorf("GetRandom() = %v, want context.Canceled", err)
	}
	if got := len(tpm.Received()); got != 0 {
		t.Errorf("%d commands sent with a canceled context", got)
	}
}

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

// Package pipeline drives a TPM through the reference bring-up sequence:
// startup, self-test, capability probe, PCR read and extend, a PCR policy
// session, and creation of a policy-gated endorsement key.
package pipeline

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/google/go-tpm-demo/tpm2"
)

// step is one stage of the sequence.
type step struct {
	name string
	run  func(*runner, context.Context) error
}

var steps = []step{
	{"startup", (*runner).startup},
	{"self-test", (*runner).selfTest},
	{"capabilities", (*runner).capabilities},
	{"read PCRs", (*runner).readPCRs},
	{"extend PCR", (*runner).extendPCR},
	{"start policy session", (*runner).startSession},
	{"policy PCR", (*runner).policyPCR},
	{"flush policy session", (*runner).flushSession},
	{"create primary", (*runner).createPrimary},
	{"shutdown", (*runner).shutdown},
}

// Steps returns the names of the pipeline stages in execution order.
func Steps() []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.name
	}
	return names
}

// runner carries state between steps.
type runner struct {
	dev *tpm2.Device
	cfg Config
	log logrus.FieldLogger

	pcrCount int
	session  *tpm2.Session
}

// Run executes every step in order against dev and then tears dev down:
// open sessions and objects are flushed and the transport is closed, even
// when a step fails or ctx is canceled. Teardown runs under its own
// context bounded by cfg.TeardownTimeout. Run takes ownership of dev.
//
// The status is 0 on success, otherwise tpm2.ExitCode of the first error.
func Run(ctx context.Context, dev *tpm2.Device, cfg Config) (status int, err error) {
	base := dev.Logger()
	r := &runner{dev: dev, cfg: cfg, log: base}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), cfg.TeardownTimeout)
		defer cancel()
		if terr := dev.CloseContext(tctx); terr != nil {
			if err == nil {
				err = fmt.Errorf("teardown: %w", terr)
			} else {
				err = multierror.Append(err, fmt.Errorf("teardown: %w", terr))
			}
		}
		status = tpm2.ExitCode(err)
		if err != nil {
			r.log.WithError(err).WithField("status", fmt.Sprintf("0x%x", status)).Error("pipeline failed")
		}
	}()

	if err := cfg.validate(); err != nil {
		return 0, err
	}
	auth, err := cfg.authValue()
	if err != nil {
		return 0, err
	}
	dev.SetDefaultAuth(auth)

	for i, s := range steps {
		r.log = base.WithField("step", fmt.Sprintf("%d/%d %s", i+1, len(steps), s.name))
		if err := s.run(r, ctx); err != nil {
			return 0, fmt.Errorf("step %d (%s): %w", i+1, s.name, err)
		}
	}
	r.log = base
	r.log.Info("pipeline complete")
	return 0, nil
}

// dump logs a binary result the way the status lines do, one hex dump per
// value.
func (r *runner) dump(msg string, b []byte) {
	r.log.WithField("size", len(b)).Info(msg)
	if len(b) > 0 {
		r.log.Info("\n" + strings.TrimRight(hex.Dump(b), "\n"))
	}
}

func (r *runner) startup(ctx context.Context) error {
	if err := r.dev.Startup(ctx, tpm2.TPMSUClear); err != nil {
		return err
	}
	r.log.Info("TPM2_Startup pass")
	return nil
}

func (r *runner) selfTest(ctx context.Context) error {
	if err := r.dev.SelfTest(ctx, true); err != nil {
		return err
	}
	r.log.Info("TPM2_SelfTest pass")

	res, err := r.dev.GetTestResult(ctx)
	if err != nil {
		return err
	}
	r.log.WithField("rc", fmt.Sprintf("0x%x", uint32(res.Result))).Info("TPM2_GetTestResult")
	r.dump("test result data", res.OutData)

	// Incremental self-test failures are reported but do not stop the run.
	todo, err := r.dev.IncrementalSelfTest(ctx, tpm2.TPMAlgRSA)
	if err != nil {
		r.log.WithError(err).Warn("TPM2_IncrementalSelfTest failed")
		return nil
	}
	r.log.WithField("todo", len(todo)).Info("TPM2_IncrementalSelfTest")
	return nil
}

func (r *runner) capabilities(ctx context.Context) error {
	family, err := r.dev.FamilyIndicator(ctx)
	if err != nil {
		return err
	}
	r.log.WithField("family", family).Info("TPM2_GetCapability: family indicator")

	n, err := r.dev.PCRCount(ctx)
	if err != nil {
		return err
	}
	r.pcrCount = n
	r.log.WithField("count", n).Info("TPM2_GetCapability: PCR count")

	cmdSize, rspSize, err := r.dev.Negotiate(ctx)
	if err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{"command": cmdSize, "response": rspSize}).Info("TPM2_GetCapability: buffer sizes")

	rnd, err := r.dev.GetRandom(ctx, 32)
	if err != nil {
		return err
	}
	r.dump("TPM2_GetRandom", rnd)
	return nil
}

func (r *runner) readPCRs(ctx context.Context) error {
	for i := 0; i < r.pcrCount; i++ {
		v, err := r.dev.ReadPCR(ctx, i, r.cfg.Bank)
		if err != nil {
			return err
		}
		r.log.WithFields(logrus.Fields{"index": i, "bank": r.cfg.Bank, "counter": v.UpdateCounter}).Info("TPM2_PCR_Read")
		r.dump("digest", v.Digest)
	}
	return nil
}

// testPattern returns 0, 1, 2, ... sized for alg.
func testPattern(alg tpm2.TPMAlgID) ([]byte, error) {
	h, err := alg.Hash()
	if err != nil {
		return nil, err
	}
	p := make([]byte, h.Size())
	for i := range p {
		p[i] = byte(i)
	}
	return p, nil
}

func (r *runner) extendPCR(ctx context.Context) error {
	idx := r.cfg.ExtendIndex
	if idx >= r.pcrCount {
		return fmt.Errorf("PCR %d: %w", idx, tpm2.ErrUnsupportedRegister)
	}
	before, err := r.dev.ReadPCR(ctx, idx, r.cfg.Bank)
	if err != nil {
		return err
	}
	pattern, err := testPattern(r.cfg.Bank)
	if err != nil {
		return err
	}
	if err := r.dev.ExtendPCR(ctx, idx, tpm2.TPMTHA{HashAlg: r.cfg.Bank, Digest: pattern}); err != nil {
		return err
	}
	after, err := r.dev.ReadPCR(ctx, idx, r.cfg.Bank)
	if err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{"index": idx, "counter": after.UpdateCounter}).Info("TPM2_PCR_Extend")
	r.dump("digest", after.Digest)
	if after.UpdateCounter <= before.UpdateCounter {
		return fmt.Errorf("%w: PCR update counter did not advance (%d -> %d)", tpm2.ErrMalformedResponse, before.UpdateCounter, after.UpdateCounter)
	}
	if bytes.Equal(after.Digest, before.Digest) {
		return fmt.Errorf("%w: PCR %d unchanged by extend", tpm2.ErrMalformedResponse, idx)
	}
	return nil
}

func (r *runner) startSession(ctx context.Context) error {
	s, err := r.dev.StartSession(ctx, tpm2.PolicySession, r.cfg.SessionHash, 0, tpm2.TPMTSymDef{Algorithm: tpm2.TPMAlgNull})
	if err != nil {
		return err
	}
	r.session = s
	r.log.WithField("handle", s.Handle()).Info("TPM2_StartAuthSession")

	digest, err := r.dev.PolicyGetDigest(ctx, s)
	if err != nil {
		return err
	}
	r.dump("TPM2_PolicyGetDigest", digest)
	if !bytes.Equal(digest, make([]byte, len(digest))) {
		return fmt.Errorf("%w: fresh policy session has digest %x", tpm2.ErrMalformedResponse, digest)
	}
	return nil
}

func (r *runner) policyPCR(ctx context.Context) error {
	idx := r.cfg.PolicyIndex
	v, err := r.dev.ReadPCR(ctx, idx, r.cfg.PolicyBank)
	if err != nil {
		return err
	}
	pcrDigest, err := tpm2.PCRDigest(r.session.HashAlg(), v.Digest)
	if err != nil {
		return err
	}
	r.dump(fmt.Sprintf("%v of PCR[%d] (%v)", r.session.HashAlg(), idx, r.cfg.PolicyBank), pcrDigest)

	sel, err := tpm2.NewPCRSelection(r.cfg.PolicyBank, idx)
	if err != nil {
		return err
	}
	if err := r.dev.PolicyPCR(ctx, r.session, sel, pcrDigest); err != nil {
		return err
	}
	r.log.Info("TPM2_PolicyPCR: updated")

	digest, err := r.dev.Finalize(ctx, r.session)
	if err != nil {
		return err
	}
	r.dump("TPM2_PolicyGetDigest", digest)
	if want := r.session.Expected(); !bytes.Equal(digest, want) {
		return fmt.Errorf("%w: device policy digest %x, computed %x", tpm2.ErrPolicyMismatch, digest, want)
	}
	return nil
}

func (r *runner) flushSession(ctx context.Context) error {
	h := r.session.Handle()
	if err := r.dev.Flush(ctx, r.session); err != nil {
		return err
	}
	r.session = nil
	r.log.WithField("handle", h).Info("TPM2_FlushContext: closed session")
	return nil
}

// createPrimary provisions the endorsement key under the standard EK
// policy. The policy built in the previous steps does not authorize it.
func (r *runner) createPrimary(ctx context.Context) error {
	ek, err := r.dev.CreatePrimary(ctx, r.cfg.Hierarchy, tpm2.RSAEKTemplate(), tpm2.EKAuthPolicy)
	if err != nil {
		return err
	}
	r.log.WithField("handle", ek.Handle).Info("TPM2_CreatePrimary")
	r.dump("name", ek.Name)
	pub, err := ek.Public.PublicKey()
	if err != nil {
		return err
	}
	if k, ok := pub.(*rsa.PublicKey); ok {
		r.log.WithFields(logrus.Fields{"bits": k.N.BitLen(), "exponent": k.E}).Info("endorsement key")
	}

	_, name, err := r.dev.ReadPublic(ctx, ek.Handle)
	if err != nil {
		return err
	}
	if !bytes.Equal(name, ek.Name) {
		return fmt.Errorf("%w: TPM2_ReadPublic name %x, created %x", tpm2.ErrMalformedResponse, name, ek.Name)
	}
	if err := r.dev.FlushObject(ctx, ek.Handle); err != nil {
		return err
	}
	r.log.WithField("handle", ek.Handle).Info("TPM2_FlushContext: flushed object")
	return nil
}

func (r *runner) shutdown(ctx context.Context) error {
	if err := r.dev.Shutdown(ctx, tpm2.TPMSUClear); err != nil {
		return err
	}
	r.log.Info("TPM2_Shutdown pass")
	return nil
}

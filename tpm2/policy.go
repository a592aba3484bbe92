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
	"context"
	"crypto"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/google/go-tpm-demo/tpmutil"
)

// PolicyCalculator computes policy digests on the client, folding each
// assertion the way the device does. A fresh calculator holds the all-zero
// digest.
type PolicyCalculator struct {
	alg    TPMAlgID
	hash   crypto.Hash
	digest []byte
}

// NewPolicyCalculator returns a calculator for the given session hash.
func NewPolicyCalculator(alg TPMAlgID) (*PolicyCalculator, error) {
	h, err := alg.Hash()
	if err != nil {
		return nil, err
	}
	return &PolicyCalculator{alg: alg, hash: h, digest: make([]byte, h.Size())}, nil
}

// Digest returns a copy of the current digest.
func (c *PolicyCalculator) Digest() []byte {
	return append([]byte(nil), c.digest...)
}

// Reset returns the digest to all zeros.
func (c *PolicyCalculator) Reset() {
	c.digest = make([]byte, c.hash.Size())
}

// Restore sets the running digest, e.g. to one read back with
// PolicyGetDigest.
func (c *PolicyCalculator) Restore(digest []byte) {
	c.digest = append([]byte(nil), digest...)
}

func (c *PolicyCalculator) update(parts ...[]byte) {
	h := c.hash.New()
	h.Write(c.digest)
	for _, p := range parts {
		h.Write(p)
	}
	c.digest = h.Sum(nil)
}

func ccBytes(cc TPMCC) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(cc))
}

// PolicyPCR folds TPM2_PolicyPCR:
// H(old || TPM_CC_PolicyPCR || pcrs || pcrDigest).
func (c *PolicyCalculator) PolicyPCR(pcrs TPMLPCRSelection, pcrDigest []byte) error {
	sel, err := tpmutil.Pack(&pcrs)
	if err != nil {
		return fmt.Errorf("packing PCR selection: %w", err)
	}
	c.update(ccBytes(TPMCCPolicyPCR), sel, pcrDigest)
	return nil
}

// PolicySecret folds TPM2_PolicySecret for an entity with the given name:
// H(H(old || TPM_CC_PolicySecret || name) || policyRef).
func (c *PolicyCalculator) PolicySecret(name, policyRef []byte) {
	c.update(ccBytes(TPMCCPolicySecret), name)
	c.update(policyRef)
}

// PCRDigest hashes the concatenation of PCR values with alg, giving the
// pcrDigest argument of TPM2_PolicyPCR.
func PCRDigest(alg TPMAlgID, values ...[]byte) ([]byte, error) {
	h, err := alg.Hash()
	if err != nil {
		return nil, err
	}
	hh := h.New()
	for _, v := range values {
		hh.Write(v)
	}
	return hh.Sum(nil), nil
}

// checkPolicySession validates that s is a live policy or trial session of
// this device that still accepts assertions.
func (d *Device) checkPolicySession(s *Session, asserting bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkSession(s); err != nil {
		return err
	}
	if s.kind != PolicySession && s.kind != TrialSession {
		return fmt.Errorf("%w: %v is a %v session", errPolicyKind, s.handle, s.kind)
	}
	if asserting && s.state == PolicyFinalized {
		return fmt.Errorf("session %v is finalized", s.handle)
	}
	return nil
}

// PolicyPCR asserts that the selected PCRs currently hash to pcrDigest
// under the session's algorithm. The device checks the values; a mismatch
// matches ErrPolicyMismatch.
func (d *Device) PolicyPCR(ctx context.Context, s *Session, pcrs TPMLPCRSelection, pcrDigest []byte) error {
	if err := d.checkPolicySession(s, true); err != nil {
		return err
	}
	cmd := PolicyPCRCommand{
		PolicySession: s.handle,
		PCRDigest:     TPM2BDigest{Buffer: pcrDigest},
		PCRs:          pcrs,
	}
	if err := d.exec(ctx, &cmd, &PolicyPCRResponse{}); err != nil {
		// TPM_RC_VALUE on pcrDigest is how the device reports that the PCRs
		// do not match.
		var pe ParameterError
		if errors.As(err, &pe) && pe.Code == RcValue && pe.Parameter == 1 {
			return fmt.Errorf("%w: %w", ErrPolicyMismatch, err)
		}
		return err
	}
	if err := s.calc.PolicyPCR(pcrs, pcrDigest); err != nil {
		return err
	}
	s.state = PolicyAsserting
	d.log.WithFields(logrus.Fields{"handle": s.handle, "expected": fmt.Sprintf("%x", s.calc.Digest())}).Debug("PolicyPCR asserted")
	return nil
}

// PolicyGetDigest reads the running policy digest of s. It does not change
// the session on the device.
func (d *Device) PolicyGetDigest(ctx context.Context, s *Session) ([]byte, error) {
	if err := d.checkPolicySession(s, false); err != nil {
		return nil, err
	}
	var rsp PolicyGetDigestResponse
	if err := d.exec(ctx, &PolicyGetDigestCommand{PolicySession: s.handle}, &rsp); err != nil {
		return nil, err
	}
	s.digest = append([]byte(nil), rsp.PolicyDigest.Buffer...)
	return s.digest, nil
}

// PolicyRestart resets the running digest of s to all zeros so that a new
// sequence of assertions can be attempted on the same session. A finalized
// session cannot be restarted.
func (d *Device) PolicyRestart(ctx context.Context, s *Session) error {
	if err := d.checkPolicySession(s, true); err != nil {
		return err
	}
	if err := d.exec(ctx, &PolicyRestartCommand{SessionHandle: s.handle}, &PolicyRestartResponse{}); err != nil {
		return err
	}
	s.calc.Reset()
	s.digest = s.calc.Digest()
	s.state = PolicyEmpty
	return nil
}

// Finalize reads the digest of s one last time and freezes the builder:
// further assertions on s are refused.
func (d *Device) Finalize(ctx context.Context, s *Session) ([]byte, error) {
	digest, err := d.PolicyGetDigest(ctx, s)
	if err != nil {
		return nil, err
	}
	s.state = PolicyFinalized
	return digest, nil
}

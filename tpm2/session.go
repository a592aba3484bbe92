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
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// SessionKind is the kind of an authorization session.
type SessionKind int

// Session kinds.
const (
	// PasswordSession is the TPM_RS_PW pseudo-session; it exists only on
	// the client.
	PasswordSession SessionKind = iota
	// PolicySession authorizes by satisfying a sequence of assertions.
	PolicySession
	// TrialSession folds assertions without checking them, to compute a
	// policy digest.
	TrialSession
)

func (k SessionKind) String() string {
	switch k {
	case PasswordSession:
		return "password"
	case PolicySession:
		return "policy"
	case TrialSession:
		return "trial"
	}
	return fmt.Sprintf("SessionKind(%d)", int(k))
}

// PolicyState is the builder state of a policy session.
type PolicyState int

// Policy builder states.
const (
	PolicyEmpty PolicyState = iota
	PolicyAsserting
	PolicyFinalized
)

func (s PolicyState) String() string {
	switch s {
	case PolicyEmpty:
		return "empty"
	case PolicyAsserting:
		return "asserting"
	case PolicyFinalized:
		return "finalized"
	}
	return fmt.Sprintf("PolicyState(%d)", int(s))
}

// Session is an authorization session. Sessions other than password
// sessions are created by Device.StartSession and belong to that device.
type Session struct {
	handle  TPMHandle
	kind    SessionKind
	hashAlg TPMAlgID
	attrs   TPMASession
	auth    []byte

	nonceCaller []byte
	nonceTPM    []byte

	state  PolicyState
	digest []byte
	calc   *PolicyCalculator
	closed bool
}

func passwordSession(auth []byte) *Session {
	return &Session{
		handle: TPMRSPW,
		kind:   PasswordSession,
		attrs:  TPMASessionContinueSession,
		auth:   auth,
	}
}

// Handle returns the device handle of the session, or TPM_RS_PW.
func (s *Session) Handle() TPMHandle { return s.handle }

// Kind returns the kind of the session.
func (s *Session) Kind() SessionKind { return s.kind }

// HashAlg returns the session hash algorithm.
func (s *Session) HashAlg() TPMAlgID { return s.hashAlg }

// NonceCaller returns the most recent caller nonce.
func (s *Session) NonceCaller() []byte { return s.nonceCaller }

// NonceTPM returns the most recent nonce from the device.
func (s *Session) NonceTPM() []byte { return s.nonceTPM }

// State returns the policy builder state.
func (s *Session) State() PolicyState { return s.state }

// Digest returns the policy digest last reported by the device.
func (s *Session) Digest() []byte { return s.digest }

// Expected returns the policy digest computed locally from the assertions
// issued so far.
func (s *Session) Expected() []byte {
	if s.calc == nil {
		return nil
	}
	return s.calc.Digest()
}

// Closed reports whether the session has been flushed or consumed.
func (s *Session) Closed() bool { return s.closed }

// SetContinue sets or clears continueSession. A session used without it
// is flushed by the device after the command succeeds.
func (s *Session) SetContinue(c bool) {
	if c {
		s.attrs |= TPMASessionContinueSession
	} else {
		s.attrs &^= TPMASessionContinueSession
	}
}

// StartSession starts an authorization session. Password sessions are
// returned without contacting the device. Policy and trial sessions are
// started with a fresh caller nonce, no salt and the given bind entity
// (0 for none).
func (d *Device) StartSession(ctx context.Context, kind SessionKind, hashAlg TPMAlgID, bind TPMHandle, symmetric TPMTSymDef) (*Session, error) {
	var se TPMSE
	switch kind {
	case PasswordSession:
		return passwordSession(nil), nil
	case PolicySession:
		se = TPMSEPolicy
	case TrialSession:
		se = TPMSETrial
	default:
		return nil, fmt.Errorf("unsupported session kind %v", kind)
	}
	calc, err := NewPolicyCalculator(hashAlg)
	if err != nil {
		return nil, err
	}
	nonce, err := d.nonce(hashAlg)
	if err != nil {
		return nil, err
	}
	if bind == 0 {
		bind = TPMRHNull
	}
	cmd := StartAuthSessionCommand{
		TPMKey:      TPMRHNull,
		Bind:        bind,
		NonceCaller: TPM2BNonce{Buffer: nonce},
		SessionType: se,
		Symmetric:   symmetric,
		AuthHash:    hashAlg,
	}
	var rsp StartAuthSessionResponse
	if err := d.exec(ctx, &cmd, &rsp); err != nil {
		return nil, err
	}
	s := &Session{
		handle:      rsp.SessionHandle,
		kind:        kind,
		hashAlg:     hashAlg,
		attrs:       TPMASessionContinueSession,
		nonceCaller: nonce,
		nonceTPM:    rsp.NonceTPM.Buffer,
		digest:      make([]byte, len(calc.Digest())),
		calc:        calc,
	}
	d.mu.Lock()
	d.sessions[s.handle] = s
	d.mu.Unlock()
	d.log.WithFields(logrus.Fields{"handle": s.handle, "kind": kind, "hash": hashAlg}).Debug("started session")
	return s, nil
}

// SetDefaultAuth sets the secret sent with the default password
// authorization. It does not contact the device.
func (d *Device) SetDefaultAuth(secret []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defaultAuth = append([]byte(nil), secret...)
}

// SetSessionAuth sets the secret sent with s instead of the default one.
// Policy sessions carry it as their authorization value.
func (d *Device) SetSessionAuth(s *Session, secret []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkSession(s); err != nil {
		return err
	}
	s.auth = append([]byte(nil), secret...)
	return nil
}

// checkSession fails with ErrInvalidSession for sessions this device does
// not track. Callers hold d.mu.
func (d *Device) checkSession(s *Session) error {
	if s == nil {
		return ErrInvalidSession
	}
	if s.kind == PasswordSession {
		return nil
	}
	if s.closed || d.sessions[s.handle] != s {
		return fmt.Errorf("%w: %v", ErrInvalidSession, s.handle)
	}
	return nil
}

// Flush flushes s from the device and forgets it. Flushing a password
// session, an unknown session or one already flushed fails with
// ErrInvalidSession without contacting the device.
func (d *Device) Flush(ctx context.Context, s *Session) error {
	d.mu.Lock()
	err := d.checkSession(s)
	if err == nil && s.kind == PasswordSession {
		err = fmt.Errorf("%w: password sessions cannot be flushed", ErrInvalidSession)
	}
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if err := d.flushHandle(ctx, s.handle); err != nil {
		return fmt.Errorf("flushing session %v: %w", s.handle, err)
	}
	d.log.WithField("handle", s.handle).Debug("flushed session")
	return nil
}

// OpenSessions returns the number of sessions the device still tracks.
func (d *Device) OpenSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

var errPolicyKind = errors.New("not a policy session")

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

// Package tpm2 is a client for TPM 2.0 devices: a command codec, typed
// response-code errors, and a Device that tracks authorization sessions and
// transient objects over a single transport.
package tpm2

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sanity-io/litter"
	"github.com/sirupsen/logrus"

	"github.com/google/go-tpm-demo/tpm2/transport"
)

var errDeviceClosed = errors.New("tpm2: device closed")

// Device is a single-owner context for one TPM. Commands are serialized:
// exactly one exchange is in flight at any time.
type Device struct {
	mu sync.Mutex

	t    transport.TPM
	log  logrus.FieldLogger
	rand io.Reader

	maxCommand  int
	maxResponse int

	defaultAuth []byte
	sessions    map[TPMHandle]*Session
	objects     map[TPMHandle]bool
	closed      bool
}

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the logger used to trace commands at debug level.
func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Device) { d.log = l }
}

// WithRand sets the random source used for caller nonces.
func WithRand(r io.Reader) Option {
	return func(d *Device) { d.rand = r }
}

// WithMaxSizes overrides the initial command and response size bounds.
func WithMaxSizes(command, response int) Option {
	return func(d *Device) {
		d.maxCommand = command
		d.maxResponse = response
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

// NewDevice returns a Device that owns t. The caller must not use t
// directly afterwards; Close releases it.
func NewDevice(t transport.TPM, opts ...Option) *Device {
	d := &Device{
		t:           t,
		log:         discardLogger(),
		rand:        rand.Reader,
		maxCommand:  MaxCommandSize,
		maxResponse: MaxResponseSize,
		sessions:    make(map[TPMHandle]*Session),
		objects:     make(map[TPMHandle]bool),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Logger returns the logger the device traces to.
func (d *Device) Logger() logrus.FieldLogger { return d.log }

// MaxSizes returns the current command and response size bounds.
func (d *Device) MaxSizes() (command, response int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxCommand, d.maxResponse
}

func traceEnabled(l logrus.FieldLogger) bool {
	switch l := l.(type) {
	case *logrus.Logger:
		return l.IsLevelEnabled(logrus.TraceLevel)
	case *logrus.Entry:
		return l.Logger.IsLevelEnabled(logrus.TraceLevel)
	}
	return false
}

// exec runs one command. Handles tagged "auth" without a matching entry in
// sess are authorized with the default password.
func (d *Device) exec(ctx context.Context, cmd Command, rsp Response, sess ...*Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cc := cmd.Command()
	if rsp.Response() != cc {
		return fmt.Errorf("cmd and rsp must be for same command: %v != %v", cc, rsp.Response())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDeviceClosed
	}

	sess = append([]*Session(nil), sess...)
	for len(sess) < AuthHandles(cmd) {
		sess = append(sess, passwordSession(nil))
	}
	auths := make([]TPMSAuthCommand, 0, len(sess))
	for i, s := range sess {
		a, err := d.authCommand(s)
		if err != nil {
			return fmt.Errorf("%v: session %d: %w", cc, i, err)
		}
		auths = append(auths, a)
	}

	in, err := marshal(cmd, auths, d.maxCommand)
	if err != nil {
		return err
	}
	log := d.log.WithField("cc", cc)
	log.WithField("size", len(in)).Debug("sending command")
	out, err := d.t.Send(in)
	if err != nil {
		return &TransportError{Op: cc.String(), Err: err}
	}
	if len(out) > d.maxResponse {
		return fmt.Errorf("%v: %w: %d byte response exceeds %d", cc, ErrMalformedResponse, len(out), d.maxResponse)
	}

	rauths, err := Unmarshal(out, rsp, len(auths) > 0)
	if err != nil {
		log.WithError(err).Debug("command failed")
		return fmt.Errorf("%v: %w", cc, err)
	}
	if len(rauths) != len(auths) {
		return fmt.Errorf("%v: %w: %d session entries for %d sessions", cc, ErrMalformedResponse, len(rauths), len(auths))
	}
	log.WithField("size", len(out)).Debug("received response")
	if traceEnabled(d.log) {
		log.Trace(litter.Sdump(rsp))
	}

	for i, s := range sess {
		if s.kind == PasswordSession {
			continue
		}
		s.nonceTPM = append([]byte(nil), rauths[i].Nonce.Buffer...)
		if s.attrs&TPMASessionContinueSession == 0 {
			// The device flushed the session after this use.
			s.closed = true
			delete(d.sessions, s.handle)
		}
	}
	return nil
}

// authCommand builds the authorization entry for s and rolls its caller
// nonce.
func (d *Device) authCommand(s *Session) (TPMSAuthCommand, error) {
	if s == nil {
		return TPMSAuthCommand{}, ErrInvalidSession
	}
	if s.kind == PasswordSession {
		auth := s.auth
		if auth == nil {
			auth = d.defaultAuth
		}
		return TPMSAuthCommand{
			SessionHandle: TPMRSPW,
			Attributes:    TPMASessionContinueSession,
			HMAC:          TPM2BAuth{Buffer: auth},
		}, nil
	}
	if s.closed || d.sessions[s.handle] != s {
		return TPMSAuthCommand{}, fmt.Errorf("%w: %v", ErrInvalidSession, s.handle)
	}
	nonce, err := d.nonce(s.hashAlg)
	if err != nil {
		return TPMSAuthCommand{}, err
	}
	s.nonceCaller = nonce
	return TPMSAuthCommand{
		SessionHandle: s.handle,
		Nonce:         TPM2BNonce{Buffer: nonce},
		Attributes:    s.attrs,
		HMAC:          TPM2BAuth{Buffer: s.auth},
	}, nil
}

// nonce reads a digest-sized nonce from the random source.
func (d *Device) nonce(alg TPMAlgID) ([]byte, error) {
	size := alg.digestSize()
	if size == 0 {
		return nil, fmt.Errorf("%v is not a hash algorithm", alg)
	}
	n := make([]byte, size)
	if _, err := io.ReadFull(d.rand, n); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return n, nil
}

// Close flushes every session and transient object still open, then closes
// the transport if it can be closed. All failures are reported.
func (d *Device) Close() error {
	return d.CloseContext(context.Background())
}

// CloseContext is Close bounded by ctx for the flush commands.
func (d *Device) CloseContext(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	var handles []TPMHandle
	for h := range d.sessions {
		handles = append(handles, h)
	}
	for h := range d.objects {
		handles = append(handles, h)
	}
	d.mu.Unlock()
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	var result *multierror.Error
	for _, h := range handles {
		d.log.WithField("handle", h).Debug("flushing at close")
		if err := d.flushHandle(ctx, h); err != nil {
			result = multierror.Append(result, fmt.Errorf("flushing %v: %w", h, err))
		}
	}

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	if c, ok := d.t.(io.Closer); ok {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, &TransportError{Op: "close", Err: err})
		}
	}
	return result.ErrorOrNil()
}

// flushHandle issues TPM2_FlushContext and forgets the handle on success.
func (d *Device) flushHandle(ctx context.Context, h TPMHandle) error {
	if err := d.exec(ctx, &FlushContextCommand{FlushHandle: h}, &FlushContextResponse{}); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[h]; ok {
		s.closed = true
		delete(d.sessions, h)
	}
	delete(d.objects, h)
	return nil
}

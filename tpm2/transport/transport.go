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

// Package transport implements types for physically talking to TPMs.
package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/go-tpm-demo/tpmutil"
)

// DefaultTimeout bounds a single command/response exchange.
const DefaultTimeout = 5 * time.Second

// ErrTimeout is returned when an exchange does not complete in time.
var ErrTimeout = errors.New("TPM exchange timed out")

// TPM represents a logical connection to a TPM. Send carries exactly one
// command and returns exactly one response.
type TPM interface {
	Send(input []byte) ([]byte, error)
}

// TPMCloser represents a logical connection to a TPM and you can close it.
type TPMCloser interface {
	TPM
	io.Closer
}

// wrappedRWC represents a struct that wraps an io.ReadWriteCloser
// to provide a TPM interface.
type wrappedRWC struct {
	transport io.ReadWriteCloser
	timeout   time.Duration
}

// FromReadWriteCloser takes in a io.ReadWriteCloser and returns a
// TPMCloser. Reads from a character device wait at most DefaultTimeout.
func FromReadWriteCloser(rwc io.ReadWriteCloser) TPMCloser {
	return FromReadWriteCloserTimeout(rwc, DefaultTimeout)
}

// FromReadWriteCloserTimeout is FromReadWriteCloser with reads from a
// character device bounded by timeout instead of DefaultTimeout. The bound
// is enforced by polling the device, so an expired read leaves no exchange
// running behind the caller.
func FromReadWriteCloserTimeout(rwc io.ReadWriteCloser, timeout time.Duration) TPMCloser {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &wrappedRWC{transport: rwc, timeout: timeout}
}

// Send implements the TPM interface.
func (t *wrappedRWC) Send(input []byte) ([]byte, error) {
	return tpmutil.RunCommandRaw(t.transport, input, t.timeout)
}

// Close implements the TPMCloser interface.
func (t *wrappedRWC) Close() error {
	return t.transport.Close()
}

type serialized struct {
	mu sync.Mutex
	t  TPM
}

// Serialize returns a TPM that allows one exchange at a time over t, for
// callers sharing a single transport between several devices.
func Serialize(t TPM) TPMCloser {
	return &serialized{t: t}
}

func (s *serialized) Send(input []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.Send(input)
}

func (s *serialized) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.t.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type timed struct {
	t       TPM
	timeout time.Duration
	// busy holds a token while an exchange, abandoned or not, is running
	// on t.
	busy chan struct{}
}

type result struct {
	rsp []byte
	err error
}

// WithTimeout bounds every exchange over t by timeout. On expiry Send
// returns ErrTimeout and the abandoned exchange completes in the
// background; until it does, further calls to Send fail with ErrTimeout
// without reaching t, so at most one exchange is ever in flight.
// A non-positive timeout selects DefaultTimeout.
func WithTimeout(t TPM, timeout time.Duration) TPMCloser {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &timed{t: t, timeout: timeout, busy: make(chan struct{}, 1)}
}

func (w *timed) Send(input []byte) ([]byte, error) {
	select {
	case w.busy <- struct{}{}:
	default:
		return nil, fmt.Errorf("%w: previous exchange still in flight", ErrTimeout)
	}
	done := make(chan result, 1)
	go func() {
		rsp, err := w.t.Send(input)
		<-w.busy
		done <- result{rsp, err}
	}()
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.rsp, r.err
	case <-timer.C:
		return nil, ErrTimeout
	}
}

func (w *timed) Close() error {
	if c, ok := w.t.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

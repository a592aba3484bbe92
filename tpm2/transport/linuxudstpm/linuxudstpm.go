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

// Package linuxudstpm provides access to a TPM emulator, such as swtpm,
// listening on a Unix domain socket.
package linuxudstpm

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/go-tpm-demo/tpm2/transport"
	"github.com/google/go-tpm-demo/tpmutil"
)

var (
	// ErrFileIsNotSocket indicates that the TPM file is not a socket.
	ErrFileIsNotSocket = errors.New("TPM file is not a socket")
	// ErrResponseTooBig indicates a response header announcing more than
	// tpmutil.MaxResponse bytes.
	ErrResponseTooBig = errors.New("response too big")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("TPM socket closed")
)

// TPM is a TPM emulator behind a Unix domain socket. Such emulators serve
// one command per connection, so every exchange dials, writes the command,
// reads one response and disconnects.
type TPM struct {
	path    string
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

var _ transport.TPMCloser = (*TPM)(nil)

// Open checks that path is a socket and returns a TPM that exchanges
// commands over it. Every exchange must finish within timeout; a
// non-positive timeout selects transport.DefaultTimeout.
func Open(path string, timeout time.Duration) (*TPM, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return nil, fmt.Errorf("%w: %s (%s)", ErrFileIsNotSocket, fi.Mode().String(), path)
	}
	if timeout <= 0 {
		timeout = transport.DefaultTimeout
	}
	return &TPM{path: path, timeout: timeout}, nil
}

// Send implements the TPM interface.
func (t *TPM) Send(cmd []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	conn, err := net.DialTimeout("unix", t.path, t.timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, err
	}

	if n, err := conn.Write(cmd); err != nil {
		return nil, fmt.Errorf("writing command: %w", err)
	} else if n != len(cmd) {
		return nil, fmt.Errorf("short write: %d of %d bytes", n, len(cmd))
	}

	rsp := make([]byte, tpmutil.HeaderSize)
	if _, err := io.ReadFull(conn, rsp); err != nil {
		return nil, fmt.Errorf("reading response header: %w", err)
	}
	var hdr tpmutil.ResponseHeader
	if _, err := tpmutil.Unpack(rsp, &hdr); err != nil {
		return nil, err
	}
	if hdr.Size > tpmutil.MaxResponse {
		return nil, fmt.Errorf("%w: %d bytes", ErrResponseTooBig, hdr.Size)
	}
	if hdr.Size < tpmutil.HeaderSize {
		return nil, fmt.Errorf("response header announces %d bytes", hdr.Size)
	}
	rsp = append(rsp, make([]byte, int(hdr.Size)-tpmutil.HeaderSize)...)
	if _, err := io.ReadFull(conn, rsp[tpmutil.HeaderSize:]); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return rsp, nil
}

// Close implements the TPMCloser interface. There is no connection to
// close between exchanges; later sends fail.
func (t *TPM) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

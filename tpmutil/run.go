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

// Package tpmutil provides the wire-level primitives shared by the TPM 2.0
// client: big-endian packing, sized buffers, command and response headers
// and a raw command exchange over a byte stream.
package tpmutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// MaxResponse is the largest response RunCommandRaw will read.
const MaxResponse = 4096

// RunCommandRaw writes an already encoded command to rw and reads back one
// response of at most MaxResponse bytes. If rw is an *os.File the read waits
// at most timeout for data to become available; a non-positive timeout
// blocks indefinitely.
func RunCommandRaw(rw io.ReadWriter, inb []byte, timeout time.Duration) ([]byte, error) {
	if rw == nil {
		return nil, errors.New("nil TPM handle")
	}
	if n, err := rw.Write(inb); err != nil {
		return nil, err
	} else if n != len(inb) {
		return nil, fmt.Errorf("short write: %d of %d bytes", n, len(inb))
	}

	if f, ok := rw.(*os.File); ok {
		if timeout <= 0 {
			timeout = pollNoTimeout
		}
		if err := poll(f, timeout); err != nil {
			return nil, err
		}
	}

	outb := make([]byte, MaxResponse)
	outlen, err := rw.Read(outb)
	if err != nil {
		return nil, err
	}
	// Resize the buffer to match the amount read from the TPM.
	return outb[:outlen], nil
}

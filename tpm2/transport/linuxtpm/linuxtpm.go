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

// Package linuxtpm provides access to a physical TPM device via the device file.
package linuxtpm

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/go-tpm-demo/tpm2/transport"
)

var (
	// ErrFileIsNotDevice indicates that the TPM file mode was not a device.
	ErrFileIsNotDevice = errors.New("TPM file is not a device")
)

// DefaultPaths are tried in order by OpenDefault. The resource manager is
// preferred so that transient objects and sessions do not leak across
// processes.
var DefaultPaths = []string{"/dev/tpmrm0", "/dev/tpm0"}

// Open opens the TPM device file at the given path. Every read waits at most
// transport.DefaultTimeout for the response.
func Open(path string) (transport.TPMCloser, error) {
	return OpenTimeout(path, transport.DefaultTimeout)
}

// OpenTimeout is Open with every read bounded by timeout.
func OpenTimeout(path string, timeout time.Duration) (transport.TPMCloser, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if fi.Mode()&os.ModeDevice == 0 {
		return nil, fmt.Errorf("%w: %s (%s)", ErrFileIsNotDevice, fi.Mode().String(), path)
	}
	var f *os.File
	f, err = os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}

	return transport.FromReadWriteCloserTimeout(f, timeout), nil
}

// OpenDefault opens the first of DefaultPaths that exists.
func OpenDefault() (transport.TPMCloser, error) {
	return OpenDefaultTimeout(transport.DefaultTimeout)
}

// OpenDefaultTimeout is OpenDefault with every read bounded by timeout.
func OpenDefaultTimeout(timeout time.Duration) (transport.TPMCloser, error) {
	var errs []error
	for _, p := range DefaultPaths {
		t, err := OpenTimeout(p, timeout)
		if err == nil {
			return t, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("no TPM device found: %w", errors.Join(errs...))
}

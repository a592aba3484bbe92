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

// Package simulator provides access to an in-process reference TPM
// simulator for testing and dry runs.
package simulator

import (
	"io"
	"time"

	"github.com/google/go-tpm-tools/simulator"

	"github.com/google/go-tpm-demo/tpm2/transport"
	"github.com/google/go-tpm-demo/tpmutil"
)

// TPM represents a connection to a TPM simulator. The simulator is already
// powered on and started, so a later TPM2_Startup reports
// TPM_RC_INITIALIZE.
type TPM struct {
	transport io.ReadWriteCloser
}

var _ transport.TPMCloser = (*TPM)(nil)

// Send implements the TPM interface.
func (t *TPM) Send(input []byte) ([]byte, error) {
	return tpmutil.RunCommandRaw(t.transport, input, time.Duration(0))
}

// Close implements the TPMCloser interface.
func (t *TPM) Close() error {
	return t.transport.Close()
}

// OpenSimulator starts a simulator seeded from the system random source.
// Only one simulator may be open per process.
func OpenSimulator() (transport.TPMCloser, error) {
	sim, err := simulator.Get()
	if err != nil {
		return nil, err
	}
	return &TPM{transport: sim}, nil
}

// OpenSeeded starts a simulator whose primary seeds derive from seed, so
// that primary keys are reproducible across runs. It is unfit for anything
// but tests.
func OpenSeeded(seed int64) (transport.TPMCloser, error) {
	sim, err := simulator.GetWithFixedSeedInsecure(seed)
	if err != nil {
		return nil, err
	}
	return &TPM{transport: sim}, nil
}

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
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Startup issues TPM2_Startup. A device that is already started reports
// TPM_RC_INITIALIZE, which is treated as success.
func (d *Device) Startup(ctx context.Context, su TPMSU) error {
	err := d.exec(ctx, &StartupCommand{StartupType: su}, &StartupResponse{})
	var e Error
	if errors.As(err, &e) && e.Code == RcInitialize {
		d.log.Debug("TPM already started")
		return nil
	}
	return err
}

// Shutdown issues TPM2_Shutdown.
func (d *Device) Shutdown(ctx context.Context, su TPMSU) error {
	return d.exec(ctx, &ShutdownCommand{ShutdownType: su}, &ShutdownResponse{})
}

// SelfTest issues TPM2_SelfTest.
func (d *Device) SelfTest(ctx context.Context, full bool) error {
	return d.exec(ctx, &SelfTestCommand{FullTest: full}, &SelfTestResponse{})
}

// TestResult is the outcome of TPM2_GetTestResult.
type TestResult struct {
	// OutData is manufacturer-specific diagnostic data.
	OutData []byte
	// Result is the self-test status; TPM_RC_SUCCESS when all passed.
	Result TPMRC
}

// GetTestResult issues TPM2_GetTestResult.
func (d *Device) GetTestResult(ctx context.Context) (*TestResult, error) {
	var rsp GetTestResultResponse
	if err := d.exec(ctx, &GetTestResultCommand{}, &rsp); err != nil {
		return nil, err
	}
	return &TestResult{OutData: rsp.OutData.Buffer, Result: rsp.TestResult}, nil
}

// IncrementalSelfTest asks the device to test algs and returns the
// algorithms that still need testing.
func (d *Device) IncrementalSelfTest(ctx context.Context, algs ...TPMAlgID) ([]TPMAlgID, error) {
	var rsp IncrementalSelfTestResponse
	cmd := IncrementalSelfTestCommand{ToTest: TPMLAlg{Algorithms: algs}}
	if err := d.exec(ctx, &cmd, &rsp); err != nil {
		return nil, err
	}
	return rsp.ToDoList.Algorithms, nil
}

// GetCapability issues TPM2_GetCapability. moreData reports whether the
// device has further values past those returned.
func (d *Device) GetCapability(ctx context.Context, capability TPMCap, property, count uint32) (data *TPMSCapabilityData, moreData bool, err error) {
	var rsp GetCapabilityResponse
	cmd := GetCapabilityCommand{Capability: capability, Property: property, PropertyCount: count}
	if err := d.exec(ctx, &cmd, &rsp); err != nil {
		return nil, false, err
	}
	if rsp.CapabilityData.Capability != capability {
		return nil, false, fmt.Errorf("%w: asked for capability %d, got %d", ErrMalformedResponse, capability, rsp.CapabilityData.Capability)
	}
	return &rsp.CapabilityData, rsp.MoreData, nil
}

// TPMProperty returns the value of one TPM_CAP_TPM_PROPERTIES property.
func (d *Device) TPMProperty(ctx context.Context, pt TPMPT) (uint32, error) {
	data, _, err := d.GetCapability(ctx, TPMCapTPMProperties, uint32(pt), 1)
	if err != nil {
		return 0, fmt.Errorf("reading property 0x%x: %w", uint32(pt), err)
	}
	props := data.TPMProperties.TPMProperty
	if len(props) == 0 || props[0].Property != pt {
		return 0, fmt.Errorf("property 0x%x not reported by the TPM", uint32(pt))
	}
	return props[0].Value, nil
}

// PCRCount returns TPM_PT_PCR_COUNT.
func (d *Device) PCRCount(ctx context.Context) (int, error) {
	n, err := d.TPMProperty(ctx, TPMPTPCRCount)
	if err != nil {
		return 0, err
	}
	if n > MaxPCRIndex+1 {
		return 0, fmt.Errorf("%w: PCR count %d exceeds %d", ErrMalformedResponse, n, MaxPCRIndex+1)
	}
	return int(n), nil
}

// FamilyIndicator returns TPM_PT_FAMILY_INDICATOR as text, e.g. "2.0".
func (d *Device) FamilyIndicator(ctx context.Context) (string, error) {
	v, err := d.TPMProperty(ctx, TPMPTFamilyIndicator)
	if err != nil {
		return "", err
	}
	return propertyString(v), nil
}

// propertyString decodes a property that packs up to four ASCII characters.
func propertyString(v uint32) string {
	b := binary.BigEndian.AppendUint32(nil, v)
	return string(bytes.TrimRight(b, "\x00 "))
}

// Manufacturer returns TPM_PT_MANUFACTURER as text, e.g. "IBM".
func (d *Device) Manufacturer(ctx context.Context) (string, error) {
	v, err := d.TPMProperty(ctx, TPMPTManufacturer)
	if err != nil {
		return "", err
	}
	return propertyString(v), nil
}

// PCRBanks returns the allocated PCR banks.
func (d *Device) PCRBanks(ctx context.Context) ([]TPMSPCRSelection, error) {
	data, _, err := d.GetCapability(ctx, TPMCapPCRs, 0, 1)
	if err != nil {
		return nil, fmt.Errorf("reading PCR banks: %w", err)
	}
	return data.PCRs.PCRSelections, nil
}

// Negotiate lowers the device's command and response bounds to what the
// TPM reports, if that is smaller than the current bounds.
func (d *Device) Negotiate(ctx context.Context) (command, response int, err error) {
	c, err := d.TPMProperty(ctx, TPMPTMaxCommandSize)
	if err != nil {
		return 0, 0, err
	}
	r, err := d.TPMProperty(ctx, TPMPTMaxResponseSize)
	if err != nil {
		return 0, 0, err
	}
	d.mu.Lock()
	if int(c) < d.maxCommand {
		d.maxCommand = int(c)
	}
	if int(r) < d.maxResponse {
		d.maxResponse = int(r)
	}
	command, response = d.maxCommand, d.maxResponse
	d.mu.Unlock()
	d.log.WithFields(logrus.Fields{"maxCommand": command, "maxResponse": response}).Debug("negotiated sizes")
	return command, response, nil
}

// GetRandom returns n random bytes from the device. n may not exceed
// MaxDigestSize; a response of any other length is malformed.
func (d *Device) GetRandom(ctx context.Context, n int) ([]byte, error) {
	if n < 0 || n > MaxDigestSize {
		return nil, fmt.Errorf("cannot request %d random bytes, maximum is %d", n, MaxDigestSize)
	}
	var rsp GetRandomResponse
	if err := d.exec(ctx, &GetRandomCommand{BytesRequested: uint16(n)}, &rsp); err != nil {
		return nil, err
	}
	if len(rsp.RandomBytes.Buffer) != n {
		return nil, fmt.Errorf("%w: asked for %d random bytes, got %d", ErrMalformedResponse, n, len(rsp.RandomBytes.Buffer))
	}
	return rsp.RandomBytes.Buffer, nil
}

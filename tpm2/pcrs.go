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
	"fmt"

	"github.com/sirupsen/logrus"
)

// The TPM requires all PCR selections to be at least big enough to select all
// the PCRs in the minimum PCR allocation. PC Client mandates at least 24 PCRs.
const pcClientMinimumPCRCount = 24

// MaxPCRIndex is the highest PCR index a selection can express.
const MaxPCRIndex = PCRSelectMax*8 - 1

// PCRSelect returns the selection bitmap for the given PCR indices, sized
// for at least 24 PCRs.
func PCRSelect(pcrs ...int) ([]byte, error) {
	maxPCR := 0
	for _, pcr := range pcrs {
		if pcr < 0 || pcr > MaxPCRIndex {
			return nil, fmt.Errorf("invalid PCR index %d", pcr)
		}
		if pcr > maxPCR {
			maxPCR = pcr
		}
	}
	size := maxPCR/8 + 1
	if size < pcClientMinimumPCRCount/8 {
		size = pcClientMinimumPCRCount / 8
	}
	// The mask is byte-wise little-endian and bit-wise big-endian: bit 0 of
	// select[0] is PCR 0, bit 0 of select[1] is PCR 8.
	sel := make([]byte, size)
	for _, pcr := range pcrs {
		sel[pcr/8] |= 1 << (pcr % 8)
	}
	return sel, nil
}

// NewPCRSelection returns a single-bank selection list.
func NewPCRSelection(alg TPMAlgID, pcrs ...int) (TPMLPCRSelection, error) {
	sel, err := PCRSelect(pcrs...)
	if err != nil {
		return TPMLPCRSelection{}, err
	}
	return TPMLPCRSelection{PCRSelections: []TPMSPCRSelection{{Hash: alg, PCRSelect: sel}}}, nil
}

// PCRValue is the value of one PCR in one bank.
type PCRValue struct {
	Index         int
	Alg           TPMAlgID
	Digest        []byte
	UpdateCounter uint32
}

// ReadPCR reads PCR index in bank alg. It fails with ErrUnsupportedRegister
// if the device serves no digest for the selection.
func (d *Device) ReadPCR(ctx context.Context, index int, alg TPMAlgID) (*PCRValue, error) {
	sel, err := NewPCRSelection(alg, index)
	if err != nil {
		return nil, err
	}
	var rsp PCRReadResponse
	if err := d.exec(ctx, &PCRReadCommand{PCRSelectionIn: sel}, &rsp); err != nil {
		return nil, fmt.Errorf("reading PCR %d (%v): %w", index, alg, err)
	}
	if len(rsp.PCRValues.Digests) == 0 {
		return nil, fmt.Errorf("PCR %d (%v): %w", index, alg, ErrUnsupportedRegister)
	}
	v := &PCRValue{
		Index:         index,
		Alg:           alg,
		Digest:        rsp.PCRValues.Digests[0].Buffer,
		UpdateCounter: rsp.PCRUpdateCounter,
	}
	d.log.WithFields(logrus.Fields{"pcr": index, "bank": alg, "counter": v.UpdateCounter}).Debug("read PCR")
	return v, nil
}

// ReadPCRs reads every PCR in sel. The device serves at most eight digests
// per command, so the selection is read in as many rounds as needed; a
// round in which the device serves nothing fails with
// ErrUnsupportedRegister. Values are ordered as served.
func (d *Device) ReadPCRs(ctx context.Context, sel TPMLPCRSelection) ([]PCRValue, error) {
	pending := make(map[TPMAlgID]map[int]bool)
	var order []TPMAlgID
	for _, s := range sel.PCRSelections {
		if pending[s.Hash] == nil {
			pending[s.Hash] = make(map[int]bool)
			order = append(order, s.Hash)
		}
		for _, i := range s.Selected() {
			pending[s.Hash][i] = true
		}
	}

	var out []PCRValue
	for {
		var req TPMLPCRSelection
		for _, alg := range order {
			var idx []int
			for i := 0; i <= MaxPCRIndex; i++ {
				if pending[alg][i] {
					idx = append(idx, i)
				}
			}
			if len(idx) == 0 {
				continue
			}
			bm, err := PCRSelect(idx...)
			if err != nil {
				return nil, err
			}
			req.PCRSelections = append(req.PCRSelections, TPMSPCRSelection{Hash: alg, PCRSelect: bm})
		}
		if len(req.PCRSelections) == 0 {
			return out, nil
		}

		var rsp PCRReadResponse
		if err := d.exec(ctx, &PCRReadCommand{PCRSelectionIn: req}, &rsp); err != nil {
			return nil, fmt.Errorf("reading PCRs: %w", err)
		}
		served := 0
		digests := rsp.PCRValues.Digests
		for _, s := range rsp.PCRSelectionOut.PCRSelections {
			for _, i := range s.Selected() {
				if len(digests) == 0 {
					return nil, fmt.Errorf("%w: selection lists more PCRs than digests", ErrMalformedResponse)
				}
				if !pending[s.Hash][i] {
					return nil, fmt.Errorf("%w: PCR %d (%v) served but not requested", ErrMalformedResponse, i, s.Hash)
				}
				out = append(out, PCRValue{
					Index:         i,
					Alg:           s.Hash,
					Digest:        digests[0].Buffer,
					UpdateCounter: rsp.PCRUpdateCounter,
				})
				digests = digests[1:]
				delete(pending[s.Hash], i)
				served++
			}
		}
		if len(digests) != 0 {
			return nil, fmt.Errorf("%w: %d digests beyond the selection", ErrMalformedResponse, len(digests))
		}
		if served == 0 {
			return nil, fmt.Errorf("reading PCRs %v: %w", req, ErrUnsupportedRegister)
		}
	}
}

// ExtendPCR extends PCR index with one digest per bank, authorized by the
// default password. It does not read back the result.
func (d *Device) ExtendPCR(ctx context.Context, index int, digests ...TPMTHA) error {
	if index < 0 || index > MaxPCRIndex {
		return fmt.Errorf("invalid PCR index %d", index)
	}
	cmd := PCRExtendCommand{
		PCRHandle: TPMHandle(index),
		Digests:   TPMLDigestValues{Digests: digests},
	}
	if err := d.exec(ctx, &cmd, &PCRExtendResponse{}); err != nil {
		return fmt.Errorf("extending PCR %d: %w", index, err)
	}
	d.log.WithField("pcr", index).Debug("extended PCR")
	return nil
}

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
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/google/go-tpm-demo/tpmutil"
)

// Name returns the TPM name of an object with this public area: nameAlg
// followed by the nameAlg digest of the marshaled area.
func (p *TPMTPublic) Name() ([]byte, error) {
	h, err := p.NameAlg.Hash()
	if err != nil {
		return nil, err
	}
	area, err := tpmutil.Pack(p)
	if err != nil {
		return nil, err
	}
	hh := h.New()
	hh.Write(area)
	return hh.Sum(binary.BigEndian.AppendUint16(nil, uint16(p.NameAlg))), nil
}

// CreatedObject is a transient object created by CreatePrimary.
type CreatedObject struct {
	Handle       TPMHandle
	Public       TPMTPublic
	Name         []byte
	CreationHash []byte
}

// CreatePrimary creates a primary object under hierarchy from template,
// with authPolicy as its authorization policy. The device only stores the
// policy; whether it can ever be satisfied is not checked here. The
// hierarchy is authorized with the default password. The object stays
// loaded until FlushObject or Close.
func (d *Device) CreatePrimary(ctx context.Context, hierarchy TPMHandle, template TPMTPublic, authPolicy []byte) (*CreatedObject, error) {
	template.AuthPolicy = TPM2BDigest{Buffer: append([]byte(nil), authPolicy...)}
	cmd := CreatePrimaryCommand{
		PrimaryHandle: hierarchy,
		InPublic:      TPM2BPublic{PublicArea: template},
	}
	var rsp CreatePrimaryResponse
	if err := d.exec(ctx, &cmd, &rsp); err != nil {
		return nil, fmt.Errorf("creating primary under %v: %w", hierarchy, err)
	}
	d.mu.Lock()
	d.objects[rsp.ObjectHandle] = true
	d.mu.Unlock()
	d.log.WithFields(logrus.Fields{"handle": rsp.ObjectHandle, "hierarchy": hierarchy}).Debug("created primary")
	return &CreatedObject{
		Handle:       rsp.ObjectHandle,
		Public:       rsp.OutPublic.PublicArea,
		Name:         rsp.Name.Buffer,
		CreationHash: rsp.CreationHash.Buffer,
	}, nil
}

// ReadPublic returns the public area and name of a loaded object.
func (d *Device) ReadPublic(ctx context.Context, handle TPMHandle) (*TPMTPublic, []byte, error) {
	var rsp ReadPublicResponse
	if err := d.exec(ctx, &ReadPublicCommand{ObjectHandle: handle}, &rsp); err != nil {
		return nil, nil, fmt.Errorf("reading public area of %v: %w", handle, err)
	}
	return &rsp.OutPublic.PublicArea, rsp.Name.Buffer, nil
}

// ObjectChangeAuth changes the authorization value of obj, an ADMIN-role
// use. For objects with adminWithPolicy, s must be a policy session whose
// digest equals the object's authPolicy; otherwise the device refuses and
// the error matches ErrPolicyMismatch. It returns the new private area.
func (d *Device) ObjectChangeAuth(ctx context.Context, obj, parent TPMHandle, s *Session, newAuth []byte) ([]byte, error) {
	cmd := ObjectChangeAuthCommand{
		ObjectHandle: obj,
		ParentHandle: parent,
		NewAuth:      TPM2BAuth{Buffer: newAuth},
	}
	var rsp ObjectChangeAuthResponse
	if err := d.exec(ctx, &cmd, &rsp, s); err != nil {
		return nil, fmt.Errorf("changing auth of %v: %w", obj, err)
	}
	return rsp.OutPrivate.Buffer, nil
}

// FlushObject flushes a transient object from the device.
func (d *Device) FlushObject(ctx context.Context, handle TPMHandle) error {
	if handle.HandleType() != TPMHTTransient {
		return fmt.Errorf("%v is not a transient object", handle)
	}
	if err := d.flushHandle(ctx, handle); err != nil {
		return fmt.Errorf("flushing object %v: %w", handle, err)
	}
	return nil
}

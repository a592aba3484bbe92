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
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/go-tpm-demo/tpmutil"
)

// readSized reads a 16-bit size followed by that many bytes, rejecting sizes
// above max.
func readSized(in io.Reader, max int) ([]byte, error) {
	var size uint16
	if err := binary.Read(in, binary.BigEndian, &size); err != nil {
		return nil, err
	}
	if max > 0 && int(size) > max {
		return nil, fmt.Errorf("sized buffer of %d bytes exceeds capacity %d", size, max)
	}
	buf := make([]byte, int(size))
	if _, err := io.ReadFull(in, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// readCount reads a 32-bit list count, rejecting counts above max.
func readCount(in io.Reader, max int, what string) (int, error) {
	var count uint32
	if err := binary.Read(in, binary.BigEndian, &count); err != nil {
		return 0, err
	}
	if count > uint32(max) {
		return 0, fmt.Errorf("%s count %d exceeds capacity %d", what, count, max)
	}
	return int(count), nil
}

func writeCount(out io.Writer, n, max int, what string) error {
	if n > max {
		return fmt.Errorf("%s count %d exceeds capacity %d", what, n, max)
	}
	return binary.Write(out, binary.BigEndian, uint32(n))
}

// TPM2BDigest is a TPM2B_DIGEST.
type TPM2BDigest struct {
	Buffer tpmutil.U16Bytes
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (d *TPM2BDigest) TPMUnmarshal(in io.Reader) error {
	b, err := readSized(in, MaxDigestSize)
	d.Buffer = b
	return err
}

// TPMMarshal implements tpmutil.SelfMarshaler.
func (d *TPM2BDigest) TPMMarshal(out io.Writer) error {
	if len(d.Buffer) > MaxDigestSize {
		return fmt.Errorf("digest of %d bytes exceeds capacity %d", len(d.Buffer), MaxDigestSize)
	}
	return d.Buffer.TPMMarshal(out)
}

// TPM2BNonce is a TPM2B_NONCE; it shares TPM2B_DIGEST's capacity.
type TPM2BNonce = TPM2BDigest

// TPM2BAuth is a TPM2B_AUTH; it shares TPM2B_DIGEST's capacity.
type TPM2BAuth = TPM2BDigest

// TPM2BData is a TPM2B_DATA.
type TPM2BData struct {
	Buffer tpmutil.U16Bytes
}

// TPM2BMaxBuffer is a TPM2B_MAX_BUFFER.
type TPM2BMaxBuffer struct {
	Buffer tpmutil.U16Bytes
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (b *TPM2BMaxBuffer) TPMUnmarshal(in io.Reader) error {
	buf, err := readSized(in, MaxBufferSize)
	b.Buffer = buf
	return err
}

// TPMMarshal implements tpmutil.SelfMarshaler.
func (b *TPM2BMaxBuffer) TPMMarshal(out io.Writer) error {
	return b.Buffer.TPMMarshal(out)
}

// TPM2BEncryptedSecret is a TPM2B_ENCRYPTED_SECRET.
type TPM2BEncryptedSecret struct {
	Buffer tpmutil.U16Bytes
}

// TPM2BName is a TPM2B_NAME.
type TPM2BName struct {
	Buffer tpmutil.U16Bytes
}

// TPM2BPrivate is a TPM2B_PRIVATE.
type TPM2BPrivate struct {
	Buffer tpmutil.U16Bytes
}

// TPM2BCreationData carries a TPMS_CREATION_DATA the client does not
// interpret.
type TPM2BCreationData struct {
	Buffer tpmutil.U16Bytes
}

// TPM2BPublicKeyRSA is a TPM2B_PUBLIC_KEY_RSA.
type TPM2BPublicKeyRSA struct {
	Buffer tpmutil.U16Bytes
}

// TPM2BECCParameter is a TPM2B_ECC_PARAMETER.
type TPM2BECCParameter struct {
	Buffer tpmutil.U16Bytes
}

// TPMSPCRSelection is a TPMS_PCR_SELECTION: one bank and a bitmap of PCRs.
type TPMSPCRSelection struct {
	Hash      TPMAlgID
	PCRSelect []byte
}

// TPMMarshal implements tpmutil.SelfMarshaler.
func (s *TPMSPCRSelection) TPMMarshal(out io.Writer) error {
	if len(s.PCRSelect) > PCRSelectMax {
		return fmt.Errorf("sizeofSelect %d exceeds capacity %d", len(s.PCRSelect), PCRSelectMax)
	}
	if err := binary.Write(out, binary.BigEndian, s.Hash); err != nil {
		return err
	}
	if err := binary.Write(out, binary.BigEndian, uint8(len(s.PCRSelect))); err != nil {
		return err
	}
	_, err := out.Write(s.PCRSelect)
	return err
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (s *TPMSPCRSelection) TPMUnmarshal(in io.Reader) error {
	var size uint8
	if err := binary.Read(in, binary.BigEndian, &s.Hash); err != nil {
		return err
	}
	if err := binary.Read(in, binary.BigEndian, &size); err != nil {
		return err
	}
	if int(size) > PCRSelectMax {
		return fmt.Errorf("sizeofSelect %d exceeds capacity %d", size, PCRSelectMax)
	}
	s.PCRSelect = make([]byte, int(size))
	_, err := io.ReadFull(in, s.PCRSelect)
	return err
}

// Selected returns the PCR indices set in the bitmap, in ascending order.
func (s TPMSPCRSelection) Selected() []int {
	var out []int
	for i, b := range s.PCRSelect {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				out = append(out, i*8+bit)
			}
		}
	}
	return out
}

// TPMLPCRSelection is a TPML_PCR_SELECTION.
type TPMLPCRSelection struct {
	PCRSelections []TPMSPCRSelection
}

// TPMMarshal implements tpmutil.SelfMarshaler.
func (l *TPMLPCRSelection) TPMMarshal(out io.Writer) error {
	if err := writeCount(out, len(l.PCRSelections), HashCount, "TPML_PCR_SELECTION"); err != nil {
		return err
	}
	for i := range l.PCRSelections {
		if err := l.PCRSelections[i].TPMMarshal(out); err != nil {
			return err
		}
	}
	return nil
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (l *TPMLPCRSelection) TPMUnmarshal(in io.Reader) error {
	n, err := readCount(in, HashCount, "TPML_PCR_SELECTION")
	if err != nil {
		return err
	}
	l.PCRSelections = make([]TPMSPCRSelection, n)
	for i := range l.PCRSelections {
		if err := l.PCRSelections[i].TPMUnmarshal(in); err != nil {
			return err
		}
	}
	return nil
}

// TPMLDigest is a TPML_DIGEST.
type TPMLDigest struct {
	Digests []TPM2BDigest
}

// TPMMarshal implements tpmutil.SelfMarshaler.
func (l *TPMLDigest) TPMMarshal(out io.Writer) error {
	if err := writeCount(out, len(l.Digests), MaxDigestListSize, "TPML_DIGEST"); err != nil {
		return err
	}
	for i := range l.Digests {
		if err := l.Digests[i].TPMMarshal(out); err != nil {
			return err
		}
	}
	return nil
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (l *TPMLDigest) TPMUnmarshal(in io.Reader) error {
	n, err := readCount(in, MaxDigestListSize, "TPML_DIGEST")
	if err != nil {
		return err
	}
	l.Digests = make([]TPM2BDigest, n)
	for i := range l.Digests {
		if err := l.Digests[i].TPMUnmarshal(in); err != nil {
			return err
		}
	}
	return nil
}

// TPMTHA is a TPMT_HA: a digest tagged with its hash algorithm. The digest
// is not size-prefixed on the wire; its length follows from HashAlg.
type TPMTHA struct {
	HashAlg TPMAlgID
	Digest  []byte
}

// TPMMarshal implements tpmutil.SelfMarshaler.
func (h *TPMTHA) TPMMarshal(out io.Writer) error {
	size := h.HashAlg.digestSize()
	if size == 0 {
		return fmt.Errorf("TPMT_HA: %v is not a hash algorithm", h.HashAlg)
	}
	if len(h.Digest) != size {
		return fmt.Errorf("TPMT_HA: %v digest must be %d bytes, got %d", h.HashAlg, size, len(h.Digest))
	}
	if err := binary.Write(out, binary.BigEndian, h.HashAlg); err != nil {
		return err
	}
	_, err := out.Write(h.Digest)
	return err
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (h *TPMTHA) TPMUnmarshal(in io.Reader) error {
	if err := binary.Read(in, binary.BigEndian, &h.HashAlg); err != nil {
		return err
	}
	size := h.HashAlg.digestSize()
	if size == 0 {
		return fmt.Errorf("TPMT_HA: %v is not a hash algorithm", h.HashAlg)
	}
	h.Digest = make([]byte, size)
	_, err := io.ReadFull(in, h.Digest)
	return err
}

// TPMLDigestValues is a TPML_DIGEST_VALUES.
type TPMLDigestValues struct {
	Digests []TPMTHA
}

// TPMMarshal implements tpmutil.SelfMarshaler.
func (l *TPMLDigestValues) TPMMarshal(out io.Writer) error {
	if err := writeCount(out, len(l.Digests), HashCount, "TPML_DIGEST_VALUES"); err != nil {
		return err
	}
	for i := range l.Digests {
		if err := l.Digests[i].TPMMarshal(out); err != nil {
			return err
		}
	}
	return nil
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (l *TPMLDigestValues) TPMUnmarshal(in io.Reader) error {
	n, err := readCount(in, HashCount, "TPML_DIGEST_VALUES")
	if err != nil {
		return err
	}
	l.Digests = make([]TPMTHA, n)
	for i := range l.Digests {
		if err := l.Digests[i].TPMUnmarshal(in); err != nil {
			return err
		}
	}
	return nil
}

// TPMLAlg is a TPML_ALG.
type TPMLAlg struct {
	Algorithms []TPMAlgID
}

// TPMMarshal implements tpmutil.SelfMarshaler.
func (l *TPMLAlg) TPMMarshal(out io.Writer) error {
	if err := writeCount(out, len(l.Algorithms), MaxAlgListSize, "TPML_ALG"); err != nil {
		return err
	}
	return binary.Write(out, binary.BigEndian, l.Algorithms)
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (l *TPMLAlg) TPMUnmarshal(in io.Reader) error {
	n, err := readCount(in, MaxAlgListSize, "TPML_ALG")
	if err != nil {
		return err
	}
	l.Algorithms = make([]TPMAlgID, n)
	return binary.Read(in, binary.BigEndian, l.Algorithms)
}

// TPMSTaggedProperty is a TPMS_TAGGED_PROPERTY.
type TPMSTaggedProperty struct {
	Property TPMPT
	Value    uint32
}

// TPMLTaggedTPMProperty is a TPML_TAGGED_TPM_PROPERTY.
type TPMLTaggedTPMProperty struct {
	TPMProperty []TPMSTaggedProperty
}

// TPMMarshal implements tpmutil.SelfMarshaler.
func (l *TPMLTaggedTPMProperty) TPMMarshal(out io.Writer) error {
	if err := writeCount(out, len(l.TPMProperty), MaxTaggedProperties, "TPML_TAGGED_TPM_PROPERTY"); err != nil {
		return err
	}
	return binary.Write(out, binary.BigEndian, l.TPMProperty)
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (l *TPMLTaggedTPMProperty) TPMUnmarshal(in io.Reader) error {
	n, err := readCount(in, MaxTaggedProperties, "TPML_TAGGED_TPM_PROPERTY")
	if err != nil {
		return err
	}
	l.TPMProperty = make([]TPMSTaggedProperty, n)
	return binary.Read(in, binary.BigEndian, l.TPMProperty)
}

// TPMLHandle is a TPML_HANDLE.
type TPMLHandle struct {
	Handle []TPMHandle
}

// TPMMarshal implements tpmutil.SelfMarshaler.
func (l *TPMLHandle) TPMMarshal(out io.Writer) error {
	if err := writeCount(out, len(l.Handle), MaxHandleList, "TPML_HANDLE"); err != nil {
		return err
	}
	return binary.Write(out, binary.BigEndian, l.Handle)
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (l *TPMLHandle) TPMUnmarshal(in io.Reader) error {
	n, err := readCount(in, MaxHandleList, "TPML_HANDLE")
	if err != nil {
		return err
	}
	l.Handle = make([]TPMHandle, n)
	return binary.Read(in, binary.BigEndian, l.Handle)
}

// TPMSCapabilityData is a TPMS_CAPABILITY_DATA. Exactly one of the list
// fields is populated, selected by Capability.
type TPMSCapabilityData struct {
	Capability    TPMCap
	TPMProperties *TPMLTaggedTPMProperty
	PCRs          *TPMLPCRSelection
	Handles       *TPMLHandle
}

// TPMMarshal implements tpmutil.SelfMarshaler.
func (c *TPMSCapabilityData) TPMMarshal(out io.Writer) error {
	if err := binary.Write(out, binary.BigEndian, c.Capability); err != nil {
		return err
	}
	switch c.Capability {
	case TPMCapTPMProperties:
		if c.TPMProperties == nil {
			return fmt.Errorf("capability %d without properties", c.Capability)
		}
		return c.TPMProperties.TPMMarshal(out)
	case TPMCapPCRs:
		if c.PCRs == nil {
			return fmt.Errorf("capability %d without PCR selection", c.Capability)
		}
		return c.PCRs.TPMMarshal(out)
	case TPMCapHandles:
		if c.Handles == nil {
			return fmt.Errorf("capability %d without handles", c.Capability)
		}
		return c.Handles.TPMMarshal(out)
	}
	return fmt.Errorf("unsupported capability %d", c.Capability)
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (c *TPMSCapabilityData) TPMUnmarshal(in io.Reader) error {
	if err := binary.Read(in, binary.BigEndian, &c.Capability); err != nil {
		return err
	}
	switch c.Capability {
	case TPMCapTPMProperties:
		c.TPMProperties = new(TPMLTaggedTPMProperty)
		return c.TPMProperties.TPMUnmarshal(in)
	case TPMCapPCRs:
		c.PCRs = new(TPMLPCRSelection)
		return c.PCRs.TPMUnmarshal(in)
	case TPMCapHandles:
		c.Handles = new(TPMLHandle)
		return c.Handles.TPMUnmarshal(in)
	}
	return fmt.Errorf("unsupported capability %d", c.Capability)
}

// TPMSAuthCommand is a TPMS_AUTH_COMMAND, one entry of a command's
// authorization area.
type TPMSAuthCommand struct {
	SessionHandle TPMHandle
	Nonce         TPM2BNonce
	Attributes    TPMASession
	HMAC          TPM2BAuth
}

// TPMSAuthResponse is a TPMS_AUTH_RESPONSE.
type TPMSAuthResponse struct {
	Nonce      TPM2BNonce
	Attributes TPMASession
	HMAC       TPM2BAuth
}

// TPMTSymDef is a TPMT_SYM_DEF (and TPMT_SYM_DEF_OBJECT, which has the same
// wire form). A zero Algorithm is treated as TPM_ALG_NULL.
type TPMTSymDef struct {
	Algorithm TPMAlgID
	// KeyBits holds the hash algorithm when Algorithm is XOR.
	KeyBits uint16
	Mode    TPMAlgID
}

func (s *TPMTSymDef) alg() TPMAlgID {
	if s.Algorithm == 0 {
		return TPMAlgNull
	}
	return s.Algorithm
}

// TPMMarshal implements tpmutil.SelfMarshaler.
func (s *TPMTSymDef) TPMMarshal(out io.Writer) error {
	alg := s.alg()
	switch alg {
	case TPMAlgNull:
		return binary.Write(out, binary.BigEndian, alg)
	case TPMAlgXOR:
		return binary.Write(out, binary.BigEndian, []uint16{uint16(alg), s.KeyBits})
	}
	return binary.Write(out, binary.BigEndian, []uint16{uint16(alg), s.KeyBits, uint16(s.Mode)})
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (s *TPMTSymDef) TPMUnmarshal(in io.Reader) error {
	*s = TPMTSymDef{}
	if err := binary.Read(in, binary.BigEndian, &s.Algorithm); err != nil {
		return err
	}
	switch s.Algorithm {
	case TPMAlgNull:
		return nil
	case TPMAlgXOR:
		return binary.Read(in, binary.BigEndian, &s.KeyBits)
	}
	if err := binary.Read(in, binary.BigEndian, &s.KeyBits); err != nil {
		return err
	}
	return binary.Read(in, binary.BigEndian, &s.Mode)
}

// TPMTScheme covers TPMT_RSA_SCHEME, TPMT_ECC_SCHEME and TPMT_KDF_SCHEME for
// the schemes whose details are a single hash algorithm.
type TPMTScheme struct {
	Scheme  TPMAlgID
	HashAlg TPMAlgID
}

func schemeHasHash(alg TPMAlgID) bool {
	switch alg {
	case TPMAlgNull, TPMAlgRSAES, 0:
		return false
	}
	return true
}

// TPMMarshal implements tpmutil.SelfMarshaler.
func (s *TPMTScheme) TPMMarshal(out io.Writer) error {
	scheme := s.Scheme
	if scheme == 0 {
		scheme = TPMAlgNull
	}
	if !schemeHasHash(scheme) {
		return binary.Write(out, binary.BigEndian, scheme)
	}
	return binary.Write(out, binary.BigEndian, []TPMAlgID{scheme, s.HashAlg})
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (s *TPMTScheme) TPMUnmarshal(in io.Reader) error {
	*s = TPMTScheme{}
	if err := binary.Read(in, binary.BigEndian, &s.Scheme); err != nil {
		return err
	}
	if !schemeHasHash(s.Scheme) {
		return nil
	}
	return binary.Read(in, binary.BigEndian, &s.HashAlg)
}

// TPMSRSAParms is a TPMS_RSA_PARMS.
type TPMSRSAParms struct {
	Symmetric TPMTSymDef
	Scheme    TPMTScheme
	KeyBits   uint16
	Exponent  uint32
}

// TPMSECCParms is a TPMS_ECC_PARMS.
type TPMSECCParms struct {
	Symmetric TPMTSymDef
	Scheme    TPMTScheme
	CurveID   TPMECCCurve
	KDF       TPMTScheme
}

// TPMSECCPoint is a TPMS_ECC_POINT.
type TPMSECCPoint struct {
	X TPM2BECCParameter
	Y TPM2BECCParameter
}

// TPMTPublic is a TPMT_PUBLIC for RSA and ECC objects. The parameter and
// unique fields matching Type are used; the others are ignored.
type TPMTPublic struct {
	Type             TPMAlgID
	NameAlg          TPMAlgID
	ObjectAttributes TPMAObject
	AuthPolicy       TPM2BDigest
	RSAParameters    *TPMSRSAParms
	ECCParameters    *TPMSECCParms
	RSAUnique        TPM2BPublicKeyRSA
	ECCUnique        TPMSECCPoint
}

// TPMMarshal implements tpmutil.SelfMarshaler.
func (p *TPMTPublic) TPMMarshal(out io.Writer) error {
	head, err := tpmutil.Pack(p.Type, p.NameAlg, p.ObjectAttributes, &p.AuthPolicy)
	if err != nil {
		return err
	}
	var rest []byte
	switch p.Type {
	case TPMAlgRSA:
		if p.RSAParameters == nil {
			return fmt.Errorf("RSA public area without RSA parameters")
		}
		rest, err = tpmutil.Pack(p.RSAParameters, &p.RSAUnique)
	case TPMAlgECC:
		if p.ECCParameters == nil {
			return fmt.Errorf("ECC public area without ECC parameters")
		}
		rest, err = tpmutil.Pack(p.ECCParameters, &p.ECCUnique)
	default:
		return fmt.Errorf("unsupported public area type %v", p.Type)
	}
	if err != nil {
		return err
	}
	if _, err := out.Write(head); err != nil {
		return err
	}
	_, err = out.Write(rest)
	return err
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (p *TPMTPublic) TPMUnmarshal(in io.Reader) error {
	*p = TPMTPublic{}
	if err := tpmutil.UnpackBuf(in, &p.Type, &p.NameAlg, &p.ObjectAttributes, &p.AuthPolicy); err != nil {
		return err
	}
	switch p.Type {
	case TPMAlgRSA:
		p.RSAParameters = new(TPMSRSAParms)
		return tpmutil.UnpackBuf(in, p.RSAParameters, &p.RSAUnique)
	case TPMAlgECC:
		p.ECCParameters = new(TPMSECCParms)
		return tpmutil.UnpackBuf(in, p.ECCParameters, &p.ECCUnique)
	}
	return fmt.Errorf("unsupported public area type %v", p.Type)
}

// TPM2BPublic is a TPM2B_PUBLIC: a TPMT_PUBLIC behind a 16-bit size.
type TPM2BPublic struct {
	PublicArea TPMTPublic
}

// TPMMarshal implements tpmutil.SelfMarshaler.
func (p *TPM2BPublic) TPMMarshal(out io.Writer) error {
	inner, err := tpmutil.Pack(&p.PublicArea)
	if err != nil {
		return err
	}
	b := tpmutil.U16Bytes(inner)
	return b.TPMMarshal(out)
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (p *TPM2BPublic) TPMUnmarshal(in io.Reader) error {
	inner, err := readSized(in, 0)
	if err != nil {
		return err
	}
	return tpmutil.UnpackExact(inner, &p.PublicArea)
}

// TPMSSensitiveCreate is a TPMS_SENSITIVE_CREATE.
type TPMSSensitiveCreate struct {
	UserAuth TPM2BAuth
	Data     TPM2BData
}

// TPM2BSensitiveCreate is a TPM2B_SENSITIVE_CREATE.
type TPM2BSensitiveCreate struct {
	Sensitive TPMSSensitiveCreate
}

// TPMMarshal implements tpmutil.SelfMarshaler.
func (s *TPM2BSensitiveCreate) TPMMarshal(out io.Writer) error {
	inner, err := tpmutil.Pack(&s.Sensitive)
	if err != nil {
		return err
	}
	b := tpmutil.U16Bytes(inner)
	return b.TPMMarshal(out)
}

// TPMUnmarshal implements tpmutil.SelfMarshaler.
func (s *TPM2BSensitiveCreate) TPMUnmarshal(in io.Reader) error {
	inner, err := readSized(in, 0)
	if err != nil {
		return err
	}
	return tpmutil.UnpackExact(inner, &s.Sensitive)
}

// TPMTTKCreation is a TPMT_TK_CREATION.
type TPMTTKCreation struct {
	Tag       TPMST
	Hierarchy TPMHandle
	Digest    TPM2BDigest
}

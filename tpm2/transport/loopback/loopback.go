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

// Package loopback provides an in-memory software TPM that answers the
// subset of TPM 2.0 commands this module issues. It keeps 24 PCRs in SHA-1
// and SHA-256 banks, policy and trial sessions, and transient primary
// objects whose ADMIN role is gated by their authPolicy. Keys are not real
// keys; the device is meant for tests and dry runs only.
package loopback

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/google/go-tpm-demo/tpm2"
	"github.com/google/go-tpm-demo/tpm2/transport"
	"github.com/google/go-tpm-demo/tpmutil"
)

// PCRCount is the number of PCRs in each bank.
const PCRCount = 24

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("loopback TPM is closed")

// Response codes the device sends. Format 1 codes carry their parameter,
// handle or session number.
const (
	rcInitialize      tpm2.TPMRC = 0x100
	rcCommandSize     tpm2.TPMRC = 0x142
	rcCommandCode     tpm2.TPMRC = 0x143
	rcAuthMissing     tpm2.TPMRC = 0x125
	rcAuthUnavailable tpm2.TPMRC = 0x12F
	rcObjectMemory    tpm2.TPMRC = 0x902
	rcSessionMemory   tpm2.TPMRC = 0x903
	rcReferenceH0     tpm2.TPMRC = 0x910
	rcReferenceS0     tpm2.TPMRC = 0x918
	rcValueP1         tpm2.TPMRC = 0x1C4
	rcHashP6          tpm2.TPMRC = 0x6C3
	rcSizeP1          tpm2.TPMRC = 0x1D5
	rcInsufficientP1  tpm2.TPMRC = 0x1DA
	rcHandleP1        tpm2.TPMRC = 0x1CB
	rcHandleH1        tpm2.TPMRC = 0x18B
	rcHierarchyH1     tpm2.TPMRC = 0x185
	rcTypeP2          tpm2.TPMRC = 0x2CA
	rcAttributesS1    tpm2.TPMRC = 0x982
	rcBadAuthS1       tpm2.TPMRC = 0x9A2
	rcPolicyFailS1    tpm2.TPMRC = 0x99D
	rcNeedsTest       tpm2.TPMRC = 0x153
)

// Handle ranges.
const (
	firstPolicySession tpm2.TPMHandle = 0x03000000
	firstHMACSession   tpm2.TPMHandle = 0x02000000
	firstTransient     tpm2.TPMHandle = 0x80000000
)

var banks = []tpm2.TPMAlgID{tpm2.TPMAlgSHA1, tpm2.TPMAlgSHA256}

type session struct {
	kind   tpm2.TPMSE
	alg    tpm2.TPMAlgID
	digest []byte
}

type object struct {
	public tpm2.TPMTPublic
	name   []byte
	auth   []byte
}

type failure struct {
	rc  tpm2.TPMRC
	err error
}

// TPM is the software device. It implements transport.TPMCloser.
type TPM struct {
	mu sync.Mutex

	rand io.Reader
	seed []byte

	started bool
	tested  bool
	closed  bool

	pcrs    map[tpm2.TPMAlgID][][]byte
	counter uint32

	sessionSlots int
	objectSlots  int
	sessions     map[tpm2.TPMHandle]*session
	objects      map[tpm2.TPMHandle]*object
	nextHandle   uint32

	failures map[tpm2.TPMCC]failure
	received []tpm2.TPMCC
}

var _ transport.TPMCloser = (*TPM)(nil)

// Option configures a TPM.
type Option func(*TPM)

// WithRand sets the source of nonces, random bytes and the primary seed.
func WithRand(r io.Reader) Option {
	return func(t *TPM) { t.rand = r }
}

// WithSessionSlots sets how many sessions may be loaded at once.
func WithSessionSlots(n int) Option {
	return func(t *TPM) { t.sessionSlots = n }
}

// WithObjectSlots sets how many transient objects may be loaded at once.
func WithObjectSlots(n int) Option {
	return func(t *TPM) { t.objectSlots = n }
}

// Started returns a TPM that has already received TPM2_Startup, like a
// platform whose firmware started the TPM.
func Started() Option {
	return func(t *TPM) { t.started = true }
}

// New returns a powered-on TPM with all PCRs zero.
func New(opts ...Option) *TPM {
	t := &TPM{
		rand:         rand.Reader,
		sessionSlots: 3,
		objectSlots:  3,
		pcrs:         make(map[tpm2.TPMAlgID][][]byte),
		sessions:     make(map[tpm2.TPMHandle]*session),
		objects:      make(map[tpm2.TPMHandle]*object),
		failures:     make(map[tpm2.TPMCC]failure),
	}
	for _, o := range opts {
		o(t)
	}
	for _, alg := range banks {
		h, _ := alg.Hash()
		bank := make([][]byte, PCRCount)
		for i := range bank {
			bank[i] = make([]byte, h.Size())
		}
		t.pcrs[alg] = bank
	}
	t.seed = make([]byte, 32)
	io.ReadFull(t.rand, t.seed)
	return t
}

// FailNext makes the next cc command fail with rc.
func (t *TPM) FailNext(cc tpm2.TPMCC, rc tpm2.TPMRC) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[cc] = failure{rc: rc}
}

// BreakNext makes Send return err for the next cc command, as a broken
// link would.
func (t *TPM) BreakNext(cc tpm2.TPMCC, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[cc] = failure{err: err}
}

// Received returns the command codes received so far, in order.
func (t *TPM) Received() []tpm2.TPMCC {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]tpm2.TPMCC(nil), t.received...)
}

// LoadedHandles returns the handles of loaded sessions and objects.
func (t *TPM) LoadedHandles() []tpm2.TPMHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	var hs []tpm2.TPMHandle
	for h := range t.sessions {
		hs = append(hs, h)
	}
	for h := range t.objects {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	return hs
}

// UpdateCounter returns the PCR update counter.
func (t *TPM) UpdateCounter() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counter
}

// Close implements transport.TPMCloser.
func (t *TPM) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Send implements transport.TPM.
func (t *TPM) Send(in []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	var hdr tpmutil.CommandHeader
	if _, err := tpmutil.Unpack(in, &hdr); err != nil {
		return tpm2.MarshalResponse(rcCommandSize, nil, nil)
	}
	cc := tpm2.TPMCC(hdr.Cmd)
	t.received = append(t.received, cc)
	if f, ok := t.failures[cc]; ok {
		delete(t.failures, cc)
		if f.err != nil {
			return nil, f.err
		}
		return tpm2.MarshalResponse(f.rc, nil, nil)
	}
	if len(in) > tpm2.MaxCommandSize || int(hdr.Size) != len(in) {
		return tpm2.MarshalResponse(rcCommandSize, nil, nil)
	}

	cmd := newCommand(cc)
	if cmd == nil {
		return tpm2.MarshalResponse(rcCommandCode, nil, nil)
	}
	if !t.started && cc != tpm2.TPMCCStartup {
		return tpm2.MarshalResponse(rcInitialize, nil, nil)
	}
	_, auths, err := tpm2.UnmarshalCommand(in, cmd)
	if err != nil {
		return tpm2.MarshalResponse(rcInsufficientP1, nil, nil)
	}
	if len(auths) < tpm2.AuthHandles(cmd) {
		return tpm2.MarshalResponse(rcAuthMissing, nil, nil)
	}

	rsp, rc := t.execute(cmd, auths)
	if rc != tpm2.TPMRCSuccess {
		return tpm2.MarshalResponse(rc, nil, nil)
	}

	var rauths []tpm2.TPMSAuthResponse
	for _, a := range auths {
		ra := tpm2.TPMSAuthResponse{Attributes: a.Attributes & tpm2.TPMASessionContinueSession}
		if s, ok := t.sessions[a.SessionHandle]; ok {
			ra.Nonce.Buffer = t.random(len(s.digest))
			if a.Attributes&tpm2.TPMASessionContinueSession == 0 {
				delete(t.sessions, a.SessionHandle)
			}
		}
		rauths = append(rauths, ra)
	}
	return tpm2.MarshalResponse(tpm2.TPMRCSuccess, rsp, rauths)
}

func newCommand(cc tpm2.TPMCC) tpm2.Command {
	switch cc {
	case tpm2.TPMCCStartup:
		return &tpm2.StartupCommand{}
	case tpm2.TPMCCShutdown:
		return &tpm2.ShutdownCommand{}
	case tpm2.TPMCCSelfTest:
		return &tpm2.SelfTestCommand{}
	case tpm2.TPMCCIncrementalSelfTest:
		return &tpm2.IncrementalSelfTestCommand{}
	case tpm2.TPMCCGetTestResult:
		return &tpm2.GetTestResultCommand{}
	case tpm2.TPMCCGetCapability:
		return &tpm2.GetCapabilityCommand{}
	case tpm2.TPMCCGetRandom:
		return &tpm2.GetRandomCommand{}
	case tpm2.TPMCCPCRRead:
		return &tpm2.PCRReadCommand{}
	case tpm2.TPMCCPCRExtend:
		return &tpm2.PCRExtendCommand{}
	case tpm2.TPMCCStartAuthSession:
		return &tpm2.StartAuthSessionCommand{}
	case tpm2.TPMCCPolicyPCR:
		return &tpm2.PolicyPCRCommand{}
	case tpm2.TPMCCPolicyGetDigest:
		return &tpm2.PolicyGetDigestCommand{}
	case tpm2.TPMCCPolicyRestart:
		return &tpm2.PolicyRestartCommand{}
	case tpm2.TPMCCFlushContext:
		return &tpm2.FlushContextCommand{}
	case tpm2.TPMCCCreatePrimary:
		return &tpm2.CreatePrimaryCommand{}
	case tpm2.TPMCCReadPublic:
		return &tpm2.ReadPublicCommand{}
	case tpm2.TPMCCObjectChangeAuth:
		return &tpm2.ObjectChangeAuthCommand{}
	}
	return nil
}

func (t *TPM) execute(cmd tpm2.Command, auths []tpm2.TPMSAuthCommand) (tpm2.Response, tpm2.TPMRC) {
	switch c := cmd.(type) {
	case *tpm2.StartupCommand:
		if t.started {
			return nil, rcInitialize
		}
		t.started = true
		return &tpm2.StartupResponse{}, tpm2.TPMRCSuccess
	case *tpm2.ShutdownCommand:
		return &tpm2.ShutdownResponse{}, tpm2.TPMRCSuccess
	case *tpm2.SelfTestCommand:
		t.tested = true
		return &tpm2.SelfTestResponse{}, tpm2.TPMRCSuccess
	case *tpm2.IncrementalSelfTestCommand:
		return &tpm2.IncrementalSelfTestResponse{}, tpm2.TPMRCSuccess
	case *tpm2.GetTestResultCommand:
		rsp := &tpm2.GetTestResultResponse{
			OutData: tpm2.TPM2BMaxBuffer{Buffer: []byte("loopback self-test")},
		}
		if !t.tested {
			rsp.TestResult = rcNeedsTest
		}
		return rsp, tpm2.TPMRCSuccess
	case *tpm2.GetCapabilityCommand:
		return t.getCapability(c)
	case *tpm2.GetRandomCommand:
		n := int(c.BytesRequested)
		if n > tpm2.MaxDigestSize {
			n = tpm2.MaxDigestSize
		}
		return &tpm2.GetRandomResponse{RandomBytes: tpm2.TPM2BDigest{Buffer: t.random(n)}}, tpm2.TPMRCSuccess
	case *tpm2.PCRReadCommand:
		return t.pcrRead(c)
	case *tpm2.PCRExtendCommand:
		return t.pcrExtend(c, auths[0])
	case *tpm2.StartAuthSessionCommand:
		return t.startAuthSession(c)
	case *tpm2.PolicyPCRCommand:
		return t.policyPCR(c)
	case *tpm2.PolicyGetDigestCommand:
		s, ok := t.sessions[c.PolicySession]
		if !ok {
			return nil, rcReferenceH0
		}
		return &tpm2.PolicyGetDigestResponse{PolicyDigest: tpm2.TPM2BDigest{Buffer: append([]byte(nil), s.digest...)}}, tpm2.TPMRCSuccess
	case *tpm2.PolicyRestartCommand:
		s, ok := t.sessions[c.SessionHandle]
		if !ok {
			return nil, rcReferenceH0
		}
		s.digest = make([]byte, len(s.digest))
		return &tpm2.PolicyRestartResponse{}, tpm2.TPMRCSuccess
	case *tpm2.FlushContextCommand:
		if _, ok := t.sessions[c.FlushHandle]; ok {
			delete(t.sessions, c.FlushHandle)
		} else if _, ok := t.objects[c.FlushHandle]; ok {
			delete(t.objects, c.FlushHandle)
		} else {
			return nil, rcHandleP1
		}
		return &tpm2.FlushContextResponse{}, tpm2.TPMRCSuccess
	case *tpm2.CreatePrimaryCommand:
		return t.createPrimary(c, auths[0])
	case *tpm2.ReadPublicCommand:
		o, ok := t.objects[c.ObjectHandle]
		if !ok {
			return nil, rcReferenceH0
		}
		return &tpm2.ReadPublicResponse{
			OutPublic:     tpm2.TPM2BPublic{PublicArea: o.public},
			Name:          tpm2.TPM2BName{Buffer: o.name},
			QualifiedName: tpm2.TPM2BName{Buffer: o.name},
		}, tpm2.TPMRCSuccess
	case *tpm2.ObjectChangeAuthCommand:
		return t.objectChangeAuth(c, auths[0])
	}
	return nil, rcCommandCode
}

func (t *TPM) random(n int) []byte {
	b := make([]byte, n)
	io.ReadFull(t.rand, b)
	return b
}

// checkPassword compares a password authorization with authValue. Trailing
// zero octets are not significant.
func checkPassword(a tpm2.TPMSAuthCommand, authValue []byte) tpm2.TPMRC {
	if a.SessionHandle != tpm2.TPMRSPW {
		return rcAuthUnavailable
	}
	if !bytes.Equal(bytes.TrimRight(a.HMAC.Buffer, "\x00"), bytes.TrimRight(authValue, "\x00")) {
		return rcBadAuthS1
	}
	return tpm2.TPMRCSuccess
}

var properties = []tpm2.TPMSTaggedProperty{
	{Property: tpm2.TPMPTFamilyIndicator, Value: 0x322E3000}, // "2.0"
	{Property: tpm2.TPMPTLevel, Value: 0},
	{Property: tpm2.TPMPTRevision, Value: 159},
	{Property: tpm2.TPMPTManufacturer, Value: 0x4C4F4F50}, // "LOOP"
	{Property: tpm2.TPMPTVendorString1, Value: 0x474F2D54}, // "GO-T"
	{Property: tpm2.TPMPTFirmwareVersion1, Value: 0x00010000},
	{Property: tpm2.TPMPTFirmwareVersion2, Value: 0},
	{Property: tpm2.TPMPTInputBuffer, Value: tpm2.MaxBufferSize},
	{Property: tpm2.TPMPTActiveSessionsMax, Value: 64},
	{Property: tpm2.TPMPTPCRCount, Value: PCRCount},
	{Property: tpm2.TPMPTPCRSelectMin, Value: PCRCount / 8},
	{Property: tpm2.TPMPTMaxCommandSize, Value: tpm2.MaxCommandSize},
	{Property: tpm2.TPMPTMaxResponseSize, Value: tpm2.MaxResponseSize},
	{Property: tpm2.TPMPTMaxDigest, Value: sha256.Size},
}

func (t *TPM) getCapability(c *tpm2.GetCapabilityCommand) (tpm2.Response, tpm2.TPMRC) {
	rsp := &tpm2.GetCapabilityResponse{CapabilityData: tpm2.TPMSCapabilityData{Capability: c.Capability}}
	switch c.Capability {
	case tpm2.TPMCapTPMProperties:
		list := &tpm2.TPMLTaggedTPMProperty{}
		for _, p := range properties {
			if uint32(p.Property) < c.Property {
				continue
			}
			if len(list.TPMProperty) == int(c.PropertyCount) || len(list.TPMProperty) == tpm2.MaxTaggedProperties {
				rsp.MoreData = true
				break
			}
			list.TPMProperty = append(list.TPMProperty, p)
		}
		rsp.CapabilityData.TPMProperties = list
	case tpm2.TPMCapPCRs:
		list := &tpm2.TPMLPCRSelection{}
		for _, alg := range banks {
			list.PCRSelections = append(list.PCRSelections, tpm2.TPMSPCRSelection{
				Hash:      alg,
				PCRSelect: []byte{0xff, 0xff, 0xff},
			})
		}
		rsp.CapabilityData.PCRs = list
	case tpm2.TPMCapHandles:
		list := &tpm2.TPMLHandle{}
		var all []tpm2.TPMHandle
		for h := range t.sessions {
			all = append(all, h)
		}
		for h := range t.objects {
			all = append(all, h)
		}
		sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
		for _, h := range all {
			if uint32(h) < c.Property || h.HandleType() != uint8(c.Property>>24) {
				continue
			}
			if len(list.Handle) == int(c.PropertyCount) {
				rsp.MoreData = true
				break
			}
			list.Handle = append(list.Handle, h)
		}
		rsp.CapabilityData.Handles = list
	default:
		return nil, rcValueP1
	}
	return rsp, tpm2.TPMRCSuccess
}

func (t *TPM) pcrRead(c *tpm2.PCRReadCommand) (tpm2.Response, tpm2.TPMRC) {
	rsp := &tpm2.PCRReadResponse{PCRUpdateCounter: t.counter}
	for _, s := range c.PCRSelectionIn.PCRSelections {
		out := tpm2.TPMSPCRSelection{Hash: s.Hash, PCRSelect: make([]byte, len(s.PCRSelect))}
		bank := t.pcrs[s.Hash]
		for _, i := range s.Selected() {
			if bank == nil || i >= PCRCount || len(rsp.PCRValues.Digests) == tpm2.MaxDigestListSize {
				continue
			}
			out.PCRSelect[i/8] |= 1 << (i % 8)
			rsp.PCRValues.Digests = append(rsp.PCRValues.Digests, tpm2.TPM2BDigest{Buffer: append([]byte(nil), bank[i]...)})
		}
		rsp.PCRSelectionOut.PCRSelections = append(rsp.PCRSelectionOut.PCRSelections, out)
	}
	return rsp, tpm2.TPMRCSuccess
}

func (t *TPM) pcrExtend(c *tpm2.PCRExtendCommand, auth tpm2.TPMSAuthCommand) (tpm2.Response, tpm2.TPMRC) {
	if c.PCRHandle >= PCRCount {
		return nil, rcHandleH1
	}
	if rc := checkPassword(auth, nil); rc != tpm2.TPMRCSuccess {
		return nil, rc
	}
	for _, d := range c.Digests.Digests {
		bank := t.pcrs[d.HashAlg]
		if bank == nil {
			continue
		}
		h, _ := d.HashAlg.Hash()
		hh := h.New()
		hh.Write(bank[c.PCRHandle])
		hh.Write(d.Digest)
		bank[c.PCRHandle] = hh.Sum(nil)
	}
	t.counter++
	return &tpm2.PCRExtendResponse{}, tpm2.TPMRCSuccess
}

func (t *TPM) startAuthSession(c *tpm2.StartAuthSessionCommand) (tpm2.Response, tpm2.TPMRC) {
	if len(c.NonceCaller.Buffer) < 16 {
		return nil, rcSizeP1
	}
	h, err := c.AuthHash.Hash()
	if err != nil {
		return nil, rcHashP6
	}
	base := firstPolicySession
	switch c.SessionType {
	case tpm2.TPMSEPolicy, tpm2.TPMSETrial:
	case tpm2.TPMSEHMAC:
		base = firstHMACSession
	default:
		return nil, rcValueP1
	}
	if len(t.sessions) >= t.sessionSlots {
		return nil, rcSessionMemory
	}
	t.nextHandle++
	handle := base + tpm2.TPMHandle(t.nextHandle)
	t.sessions[handle] = &session{kind: c.SessionType, alg: c.AuthHash, digest: make([]byte, h.Size())}
	return &tpm2.StartAuthSessionResponse{
		SessionHandle: handle,
		NonceTPM:      tpm2.TPM2BNonce{Buffer: t.random(h.Size())},
	}, tpm2.TPMRCSuccess
}

func (t *TPM) policyPCR(c *tpm2.PolicyPCRCommand) (tpm2.Response, tpm2.TPMRC) {
	s, ok := t.sessions[c.PolicySession]
	if !ok {
		return nil, rcReferenceH0
	}
	if s.kind == tpm2.TPMSEHMAC {
		return nil, rcHandleH1
	}
	var values [][]byte
	for _, sel := range c.PCRs.PCRSelections {
		bank := t.pcrs[sel.Hash]
		if bank == nil {
			return nil, rcValueP1 + 0x100
		}
		for _, i := range sel.Selected() {
			if i >= PCRCount {
				return nil, rcValueP1 + 0x100
			}
			values = append(values, bank[i])
		}
	}
	current, err := tpm2.PCRDigest(s.alg, values...)
	if err != nil {
		return nil, rcHashP6
	}
	pcrDigest := c.PCRDigest.Buffer
	if len(pcrDigest) == 0 {
		pcrDigest = current
	} else if s.kind == tpm2.TPMSEPolicy && !bytes.Equal(pcrDigest, current) {
		return nil, rcValueP1
	}
	calc, err := tpm2.NewPolicyCalculator(s.alg)
	if err != nil {
		return nil, rcHashP6
	}
	calc.Restore(s.digest)
	if err := calc.PolicyPCR(c.PCRs, pcrDigest); err != nil {
		return nil, rcValueP1 + 0x100
	}
	s.digest = calc.Digest()
	return &tpm2.PolicyPCRResponse{}, tpm2.TPMRCSuccess
}

// derive expands the primary seed, the hierarchy and the template into n
// bytes, so that the same template always yields the same object.
func (t *TPM) derive(hierarchy tpm2.TPMHandle, template []byte, n int) []byte {
	var out []byte
	for i := uint32(1); len(out) < n; i++ {
		h := sha256.New()
		binary.Write(h, binary.BigEndian, i)
		h.Write(t.seed)
		binary.Write(h, binary.BigEndian, hierarchy)
		h.Write(template)
		out = h.Sum(out)
	}
	return out[:n]
}

func (t *TPM) createPrimary(c *tpm2.CreatePrimaryCommand, auth tpm2.TPMSAuthCommand) (tpm2.Response, tpm2.TPMRC) {
	switch c.PrimaryHandle {
	case tpm2.TPMRHOwner, tpm2.TPMRHEndorsement, tpm2.TPMRHPlatform, tpm2.TPMRHNull:
	default:
		return nil, rcHierarchyH1
	}
	if rc := checkPassword(auth, nil); rc != tpm2.TPMRCSuccess {
		return nil, rc
	}
	if len(t.objects) >= t.objectSlots {
		return nil, rcObjectMemory
	}
	pub := c.InPublic.PublicArea
	tmpl, err := tpmutil.Pack(&pub)
	if err != nil {
		return nil, rcTypeP2
	}
	switch pub.Type {
	case tpm2.TPMAlgRSA:
		n := t.derive(c.PrimaryHandle, tmpl, int(pub.RSAParameters.KeyBits)/8)
		if len(n) == 0 {
			return nil, rcValueP1 + 0x100
		}
		// Full-length odd modulus.
		n[0] |= 0x80
		n[len(n)-1] |= 1
		pub.RSAUnique = tpm2.TPM2BPublicKeyRSA{Buffer: n}
	case tpm2.TPMAlgECC:
		pub.ECCUnique = tpm2.TPMSECCPoint{
			X: tpm2.TPM2BECCParameter{Buffer: t.derive(c.PrimaryHandle, append(tmpl, 'x'), 32)},
			Y: tpm2.TPM2BECCParameter{Buffer: t.derive(c.PrimaryHandle, append(tmpl, 'y'), 32)},
		}
	default:
		return nil, rcTypeP2
	}
	name, err := pub.Name()
	if err != nil {
		return nil, rcTypeP2
	}
	t.nextHandle++
	handle := firstTransient + tpm2.TPMHandle(t.nextHandle)
	t.objects[handle] = &object{public: pub, name: name, auth: c.InSensitive.Sensitive.UserAuth.Buffer}

	creationData := t.derive(c.PrimaryHandle, name, 32)
	creationHash := sha256.Sum256(creationData)
	return &tpm2.CreatePrimaryResponse{
		ObjectHandle: handle,
		OutPublic:    tpm2.TPM2BPublic{PublicArea: pub},
		CreationData: tpm2.TPM2BCreationData{Buffer: creationData},
		CreationHash: tpm2.TPM2BDigest{Buffer: creationHash[:]},
		CreationTicket: tpm2.TPMTTKCreation{
			Tag:       tpm2.TPMSTCreation,
			Hierarchy: c.PrimaryHandle,
			Digest:    tpm2.TPM2BDigest{Buffer: t.derive(c.PrimaryHandle, creationHash[:], 32)},
		},
		Name: tpm2.TPM2BName{Buffer: name},
	}, tpm2.TPMRCSuccess
}

// objectChangeAuth is an ADMIN-role use of the object: with adminWithPolicy
// set only a policy session whose digest equals authPolicy is accepted.
func (t *TPM) objectChangeAuth(c *tpm2.ObjectChangeAuthCommand, auth tpm2.TPMSAuthCommand) (tpm2.Response, tpm2.TPMRC) {
	o, ok := t.objects[c.ObjectHandle]
	if !ok {
		return nil, rcReferenceH0
	}
	if o.public.ObjectAttributes&tpm2.TPMAObjectAdminWithPolicy != 0 {
		if auth.SessionHandle == tpm2.TPMRSPW {
			return nil, rcAuthUnavailable
		}
		s, ok := t.sessions[auth.SessionHandle]
		if !ok {
			return nil, rcReferenceS0
		}
		if s.kind != tpm2.TPMSEPolicy {
			return nil, rcAttributesS1
		}
		if s.alg != o.public.NameAlg || !bytes.Equal(s.digest, o.public.AuthPolicy.Buffer) {
			return nil, rcPolicyFailS1
		}
	} else if rc := checkPassword(auth, o.auth); rc != tpm2.TPMRCSuccess {
		return nil, rc
	}
	o.auth = append([]byte(nil), c.NewAuth.Buffer...)
	return &tpm2.ObjectChangeAuthResponse{
		OutPrivate: tpm2.TPM2BPrivate{Buffer: t.derive(c.ParentHandle, append(o.name, o.auth...), 48)},
	}, tpm2.TPMRCSuccess
}

// Copyright (c) 2014, Google Inc. All rights reserved.
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
	"crypto"
	// Register the hash implementations used by PCR banks and sessions.
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"fmt"
	"strings"
)

// Buffer and list capacities. A response whose sizes or counts exceed these
// is rejected as malformed.
const (
	// MaxCommandSize is the default bound on an encoded command, used until
	// the device reports TPM_PT_MAX_COMMAND_SIZE.
	MaxCommandSize = 4096
	// MaxResponseSize is the default bound on a response.
	MaxResponseSize = 4096
	// HashCount bounds the number of banks in a TPML_PCR_SELECTION or
	// TPML_DIGEST_VALUES.
	HashCount = 16
	// PCRSelectMax is the largest sizeofSelect accepted (32 PCRs).
	PCRSelectMax = 4
	// MaxDigestListSize bounds TPML_DIGEST.
	MaxDigestListSize = 8
	// MaxAlgListSize bounds TPML_ALG.
	MaxAlgListSize = 64
	// MaxTaggedProperties bounds TPML_TAGGED_TPM_PROPERTY.
	MaxTaggedProperties = 127
	// MaxHandleList bounds TPML_HANDLE.
	MaxHandleList = 254
	// MaxDigestSize is sizeof(TPMU_HA).
	MaxDigestSize = 64
	// MaxBufferSize is MAX_DIGEST_BUFFER, the capacity of TPM2B_MAX_BUFFER.
	MaxBufferSize = 1024
)

// TPMAlgID values come from Part 2: Structures, section 6.3.
type TPMAlgID uint16

// Algorithm IDs.
const (
	TPMAlgRSA       TPMAlgID = 0x0001
	TPMAlgSHA1      TPMAlgID = 0x0004
	TPMAlgHMAC      TPMAlgID = 0x0005
	TPMAlgAES       TPMAlgID = 0x0006
	TPMAlgKeyedHash TPMAlgID = 0x0008
	TPMAlgXOR       TPMAlgID = 0x000A
	TPMAlgSHA256    TPMAlgID = 0x000B
	TPMAlgSHA384    TPMAlgID = 0x000C
	TPMAlgSHA512    TPMAlgID = 0x000D
	TPMAlgNull      TPMAlgID = 0x0010
	TPMAlgRSASSA    TPMAlgID = 0x0014
	TPMAlgRSAES     TPMAlgID = 0x0015
	TPMAlgRSAPSS    TPMAlgID = 0x0016
	TPMAlgOAEP      TPMAlgID = 0x0017
	TPMAlgECDSA     TPMAlgID = 0x0018
	TPMAlgECDH      TPMAlgID = 0x0019
	TPMAlgECC       TPMAlgID = 0x0023
	TPMAlgSymCipher TPMAlgID = 0x0025
	TPMAlgCTR       TPMAlgID = 0x0040
	TPMAlgOFB       TPMAlgID = 0x0041
	TPMAlgCBC       TPMAlgID = 0x0042
	TPMAlgCFB       TPMAlgID = 0x0043
	TPMAlgECB       TPMAlgID = 0x0044
)

var algNames = map[TPMAlgID]string{
	TPMAlgRSA:       "RSA",
	TPMAlgSHA1:      "SHA1",
	TPMAlgHMAC:      "HMAC",
	TPMAlgAES:       "AES",
	TPMAlgKeyedHash: "KEYEDHASH",
	TPMAlgXOR:       "XOR",
	TPMAlgSHA256:    "SHA256",
	TPMAlgSHA384:    "SHA384",
	TPMAlgSHA512:    "SHA512",
	TPMAlgNull:      "NULL",
	TPMAlgRSASSA:    "RSASSA",
	TPMAlgRSAES:     "RSAES",
	TPMAlgRSAPSS:    "RSAPSS",
	TPMAlgOAEP:      "OAEP",
	TPMAlgECDSA:     "ECDSA",
	TPMAlgECDH:      "ECDH",
	TPMAlgECC:       "ECC",
	TPMAlgSymCipher: "SYMCIPHER",
	TPMAlgCTR:       "CTR",
	TPMAlgOFB:       "OFB",
	TPMAlgCBC:       "CBC",
	TPMAlgCFB:       "CFB",
	TPMAlgECB:       "ECB",
}

func (a TPMAlgID) String() string {
	if n, ok := algNames[a]; ok {
		return n
	}
	return fmt.Sprintf("TPMAlgID(0x%04x)", uint16(a))
}

// ParseAlg returns the algorithm with the given name ("SHA256", "sha1", ...).
func ParseAlg(name string) (TPMAlgID, error) {
	for id, n := range algNames {
		if strings.EqualFold(n, name) {
			return id, nil
		}
	}
	return TPMAlgNull, fmt.Errorf("unknown algorithm %q", name)
}

// Hash returns the crypto.Hash for a hash algorithm.
func (a TPMAlgID) Hash() (crypto.Hash, error) {
	switch a {
	case TPMAlgSHA1:
		return crypto.SHA1, nil
	case TPMAlgSHA256:
		return crypto.SHA256, nil
	case TPMAlgSHA384:
		return crypto.SHA384, nil
	case TPMAlgSHA512:
		return crypto.SHA512, nil
	}
	return crypto.Hash(0), fmt.Errorf("%v is not a hash algorithm", a)
}

// digestSize is the digest size of a hash algorithm, or 0 for anything else.
func (a TPMAlgID) digestSize() int {
	h, err := a.Hash()
	if err != nil {
		return 0
	}
	return h.Size()
}

// TPMCC values come from Part 2: Structures, section 6.5.2.
type TPMCC uint32

// Command codes.
const (
	TPMCCEvictControl        TPMCC = 0x00000120
	TPMCCCreatePrimary       TPMCC = 0x00000131
	TPMCCIncrementalSelfTest TPMCC = 0x00000142
	TPMCCSelfTest            TPMCC = 0x00000143
	TPMCCStartup             TPMCC = 0x00000144
	TPMCCShutdown            TPMCC = 0x00000145
	TPMCCObjectChangeAuth    TPMCC = 0x00000150
	TPMCCPolicySecret        TPMCC = 0x00000151
	TPMCCFlushContext        TPMCC = 0x00000165
	TPMCCReadPublic          TPMCC = 0x00000173
	TPMCCStartAuthSession    TPMCC = 0x00000176
	TPMCCGetCapability       TPMCC = 0x0000017A
	TPMCCGetRandom           TPMCC = 0x0000017B
	TPMCCGetTestResult       TPMCC = 0x0000017C
	TPMCCPCRRead             TPMCC = 0x0000017E
	TPMCCPolicyPCR           TPMCC = 0x0000017F
	TPMCCPolicyRestart       TPMCC = 0x00000180
	TPMCCPCRExtend           TPMCC = 0x00000182
	TPMCCPolicyGetDigest     TPMCC = 0x00000189
)

var ccNames = map[TPMCC]string{
	TPMCCEvictControl:        "TPM2_EvictControl",
	TPMCCCreatePrimary:       "TPM2_CreatePrimary",
	TPMCCIncrementalSelfTest: "TPM2_IncrementalSelfTest",
	TPMCCSelfTest:            "TPM2_SelfTest",
	TPMCCStartup:             "TPM2_Startup",
	TPMCCShutdown:            "TPM2_Shutdown",
	TPMCCObjectChangeAuth:    "TPM2_ObjectChangeAuth",
	TPMCCPolicySecret:        "TPM2_PolicySecret",
	TPMCCFlushContext:        "TPM2_FlushContext",
	TPMCCReadPublic:          "TPM2_ReadPublic",
	TPMCCStartAuthSession:    "TPM2_StartAuthSession",
	TPMCCGetCapability:       "TPM2_GetCapability",
	TPMCCGetRandom:           "TPM2_GetRandom",
	TPMCCGetTestResult:       "TPM2_GetTestResult",
	TPMCCPCRRead:             "TPM2_PCR_Read",
	TPMCCPolicyPCR:           "TPM2_PolicyPCR",
	TPMCCPolicyRestart:       "TPM2_PolicyRestart",
	TPMCCPCRExtend:           "TPM2_PCR_Extend",
	TPMCCPolicyGetDigest:     "TPM2_PolicyGetDigest",
}

func (c TPMCC) String() string {
	if n, ok := ccNames[c]; ok {
		return n
	}
	return fmt.Sprintf("TPMCC(0x%08x)", uint32(c))
}

// TPMST values come from Part 2: Structures, section 6.9.
type TPMST uint16

// Structure tags.
const (
	TPMSTNoSessions TPMST = 0x8001
	TPMSTSessions   TPMST = 0x8002
	TPMSTCreation   TPMST = 0x8021
)

// TPMSU values come from Part 2: Structures, section 6.10.
type TPMSU uint16

// Startup and shutdown types.
const (
	TPMSUClear TPMSU = 0x0000
	TPMSUState TPMSU = 0x0001
)

// TPMSE values come from Part 2: Structures, section 6.11.
type TPMSE uint8

// Session types.
const (
	TPMSEHMAC   TPMSE = 0x00
	TPMSEPolicy TPMSE = 0x01
	TPMSETrial  TPMSE = 0x03
)

// TPMCap values come from Part 2: Structures, section 6.12.
type TPMCap uint32

// Capabilities.
const (
	TPMCapAlgs          TPMCap = 0x00000000
	TPMCapHandles       TPMCap = 0x00000001
	TPMCapCommands      TPMCap = 0x00000002
	TPMCapPCRs          TPMCap = 0x00000005
	TPMCapTPMProperties TPMCap = 0x00000006
)

// TPMPT values come from Part 2: Structures, section 6.13.
type TPMPT uint32

// Fixed TPM properties.
const (
	TPMPTFamilyIndicator   TPMPT = 0x00000100
	TPMPTLevel             TPMPT = 0x00000101
	TPMPTRevision          TPMPT = 0x00000102
	TPMPTManufacturer      TPMPT = 0x00000105
	TPMPTVendorString1     TPMPT = 0x00000106
	TPMPTFirmwareVersion1  TPMPT = 0x0000010B
	TPMPTFirmwareVersion2  TPMPT = 0x0000010C
	TPMPTInputBuffer       TPMPT = 0x0000010D
	TPMPTActiveSessionsMax TPMPT = 0x00000111
	TPMPTPCRCount          TPMPT = 0x00000112
	TPMPTPCRSelectMin      TPMPT = 0x00000113
	TPMPTMaxCommandSize    TPMPT = 0x0000011E
	TPMPTMaxResponseSize   TPMPT = 0x0000011F
	TPMPTMaxDigest         TPMPT = 0x00000120
)

// TPMHandle is a TPM_HANDLE, Part 2: Structures, section 7.
type TPMHandle uint32

// Permanent handles, Part 2: Structures, section 7.4.
const (
	TPMRHOwner       TPMHandle = 0x40000001
	TPMRHNull        TPMHandle = 0x40000007
	TPMRSPW          TPMHandle = 0x40000009
	TPMRHLockout     TPMHandle = 0x4000000A
	TPMRHEndorsement TPMHandle = 0x4000000B
	TPMRHPlatform    TPMHandle = 0x4000000C
)

// Handle types, the most significant octet of a handle.
const (
	TPMHTPCR           uint8 = 0x00
	TPMHTHMACSession   uint8 = 0x02
	TPMHTPolicySession uint8 = 0x03
	TPMHTPermanent     uint8 = 0x40
	TPMHTTransient     uint8 = 0x80
	TPMHTPersistent    uint8 = 0x81
)

// HandleType returns the most significant octet of h.
func (h TPMHandle) HandleType() uint8 { return uint8(h >> 24) }

func (h TPMHandle) String() string {
	switch h {
	case 0:
		return "none"
	case TPMRHOwner:
		return "TPM_RH_OWNER"
	case TPMRHNull:
		return "TPM_RH_NULL"
	case TPMRSPW:
		return "TPM_RS_PW"
	case TPMRHLockout:
		return "TPM_RH_LOCKOUT"
	case TPMRHEndorsement:
		return "TPM_RH_ENDORSEMENT"
	case TPMRHPlatform:
		return "TPM_RH_PLATFORM"
	}
	return fmt.Sprintf("0x%08x", uint32(h))
}

// TPMAObject is the TPMA_OBJECT bitfield, Part 2: Structures, section 8.3.
type TPMAObject uint32

// Object attributes.
const (
	TPMAObjectFixedTPM            TPMAObject = 0x00000002
	TPMAObjectSTClear             TPMAObject = 0x00000004
	TPMAObjectFixedParent         TPMAObject = 0x00000010
	TPMAObjectSensitiveDataOrigin TPMAObject = 0x00000020
	TPMAObjectUserWithAuth        TPMAObject = 0x00000040
	TPMAObjectAdminWithPolicy     TPMAObject = 0x00000080
	TPMAObjectNoDA                TPMAObject = 0x00000400
	TPMAObjectRestricted          TPMAObject = 0x00010000
	TPMAObjectDecrypt             TPMAObject = 0x00020000
	TPMAObjectSignEncrypt         TPMAObject = 0x00040000
)

// TPMASession is the TPMA_SESSION bitfield, Part 2: Structures, section 8.4.
type TPMASession uint8

// Session attributes.
const (
	TPMASessionContinueSession TPMASession = 0x01
	TPMASessionAuditExclusive  TPMASession = 0x02
	TPMASessionAuditReset      TPMASession = 0x04
	TPMASessionDecrypt         TPMASession = 0x20
	TPMASessionEncrypt         TPMASession = 0x40
	TPMASessionAudit           TPMASession = 0x80
)

// TPMECCCurve values come from Part 2: Structures, section 6.4.
type TPMECCCurve uint16

// Curves.
const (
	TPMECCNone     TPMECCCurve = 0x0000
	TPMECCNistP256 TPMECCCurve = 0x0003
	TPMECCNistP384 TPMECCCurve = 0x0004
)

// TPMRC is a TPM_RC response code, Part 2: Structures, section 6.6.
type TPMRC uint32

// Response codes the client acts on directly.
const (
	TPMRCSuccess      TPMRC = 0x000
	TPMRCInitialize   TPMRC = 0x100
	TPMRCFailure      TPMRC = 0x101
	TPMRCSequence     TPMRC = 0x103
	TPMRCCommandCode  TPMRC = 0x143
	TPMRCPCRChanged   TPMRC = 0x128
	TPMRCValue        TPMRC = 0x084
	TPMRCHandle       TPMRC = 0x08B
	TPMRCInsufficient TPMRC = 0x09A
	TPMRCPolicyFail   TPMRC = 0x09D
)

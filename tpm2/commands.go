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

// Fields tagged `gotpm:"handle"` form the handle area, in declaration
// order, and must precede every parameter field. Handles that also carry
// "auth" need an authorization session.

// StartupCommand is the input to TPM2_Startup.
// See definition in Part 3, Commands, section 9.3
type StartupCommand struct {
	// TPM_SU_CLEAR or TPM_SU_STATE
	StartupType TPMSU
}

// Command implements the Command interface.
func (*StartupCommand) Command() TPMCC { return TPMCCStartup }

// StartupResponse is the response from TPM2_Startup.
type StartupResponse struct{}

// Response implements the Response interface.
func (*StartupResponse) Response() TPMCC { return TPMCCStartup }

// ShutdownCommand is the input to TPM2_Shutdown.
// See definition in Part 3, Commands, section 9.4
type ShutdownCommand struct {
	// TPM_SU_CLEAR or TPM_SU_STATE
	ShutdownType TPMSU
}

// Command implements the Command interface.
func (*ShutdownCommand) Command() TPMCC { return TPMCCShutdown }

// ShutdownResponse is the response from TPM2_Shutdown.
type ShutdownResponse struct{}

// Response implements the Response interface.
func (*ShutdownResponse) Response() TPMCC { return TPMCCShutdown }

// SelfTestCommand is the input to TPM2_SelfTest.
// See definition in Part 3, Commands, section 10.2
type SelfTestCommand struct {
	// YES if a full test is to be performed, NO to test only untested
	// functions
	FullTest bool
}

// Command implements the Command interface.
func (*SelfTestCommand) Command() TPMCC { return TPMCCSelfTest }

// SelfTestResponse is the response from TPM2_SelfTest.
type SelfTestResponse struct{}

// Response implements the Response interface.
func (*SelfTestResponse) Response() TPMCC { return TPMCCSelfTest }

// IncrementalSelfTestCommand is the input to TPM2_IncrementalSelfTest.
// See definition in Part 3, Commands, section 10.3
type IncrementalSelfTestCommand struct {
	// list of algorithms that should be tested
	ToTest TPMLAlg
}

// Command implements the Command interface.
func (*IncrementalSelfTestCommand) Command() TPMCC { return TPMCCIncrementalSelfTest }

// IncrementalSelfTestResponse is the response from TPM2_IncrementalSelfTest.
type IncrementalSelfTestResponse struct {
	// list of algorithms that need testing
	ToDoList TPMLAlg
}

// Response implements the Response interface.
func (*IncrementalSelfTestResponse) Response() TPMCC { return TPMCCIncrementalSelfTest }

// GetTestResultCommand is the input to TPM2_GetTestResult.
// See definition in Part 3, Commands, section 10.4
type GetTestResultCommand struct{}

// Command implements the Command interface.
func (*GetTestResultCommand) Command() TPMCC { return TPMCCGetTestResult }

// GetTestResultResponse is the response from TPM2_GetTestResult.
type GetTestResultResponse struct {
	// test result data, contains manufacturer-specific information
	OutData    TPM2BMaxBuffer
	TestResult TPMRC
}

// Response implements the Response interface.
func (*GetTestResultResponse) Response() TPMCC { return TPMCCGetTestResult }

// GetCapabilityCommand is the input to TPM2_GetCapability.
// See definition in Part 3, Commands, section 30.2
type GetCapabilityCommand struct {
	// group selection; determines the format of the response
	Capability TPMCap
	// further definition of information
	Property uint32
	// number of properties of the indicated type to return
	PropertyCount uint32
}

// Command implements the Command interface.
func (*GetCapabilityCommand) Command() TPMCC { return TPMCCGetCapability }

// GetCapabilityResponse is the response from TPM2_GetCapability.
type GetCapabilityResponse struct {
	// flag to indicate if there are more values of this type
	MoreData bool
	// the capability data
	CapabilityData TPMSCapabilityData
}

// Response implements the Response interface.
func (*GetCapabilityResponse) Response() TPMCC { return TPMCCGetCapability }

// GetRandomCommand is the input to TPM2_GetRandom.
// See definition in Part 3, Commands, section 16.1
type GetRandomCommand struct {
	// number of octets to return
	BytesRequested uint16
}

// Command implements the Command interface.
func (*GetRandomCommand) Command() TPMCC { return TPMCCGetRandom }

// GetRandomResponse is the response from TPM2_GetRandom.
type GetRandomResponse struct {
	// the random octets
	RandomBytes TPM2BDigest
}

// Response implements the Response interface.
func (*GetRandomResponse) Response() TPMCC { return TPMCCGetRandom }

// PCRReadCommand is the input to TPM2_PCR_Read.
// See definition in Part 3, Commands, section 22.4
type PCRReadCommand struct {
	// The selection of PCR to read
	PCRSelectionIn TPMLPCRSelection
}

// Command implements the Command interface.
func (*PCRReadCommand) Command() TPMCC { return TPMCCPCRRead }

// PCRReadResponse is the response from TPM2_PCR_Read.
type PCRReadResponse struct {
	// the current value of the PCR update counter
	PCRUpdateCounter uint32
	// the PCR in the returned list
	PCRSelectionOut TPMLPCRSelection
	// the contents of the PCR indicated in pcrSelectOut-> pcrSelection[]
	// as tagged digests
	PCRValues TPMLDigest
}

// Response implements the Response interface.
func (*PCRReadResponse) Response() TPMCC { return TPMCCPCRRead }

// PCRExtendCommand is the input to TPM2_PCR_Extend.
// See definition in Part 3, Commands, section 22.2
type PCRExtendCommand struct {
	// handle of the PCR
	PCRHandle TPMHandle `gotpm:"handle,auth"`
	// list of tagged digest values to be extended
	Digests TPMLDigestValues
}

// Command implements the Command interface.
func (*PCRExtendCommand) Command() TPMCC { return TPMCCPCRExtend }

// PCRExtendResponse is the response from TPM2_PCR_Extend.
type PCRExtendResponse struct{}

// Response implements the Response interface.
func (*PCRExtendResponse) Response() TPMCC { return TPMCCPCRExtend }

// StartAuthSessionCommand is the input to TPM2_StartAuthSession.
// See definition in Part 3, Commands, section 11.1
type StartAuthSessionCommand struct {
	// handle of a loaded decrypt key used to encrypt salt
	// may be TPM_RH_NULL
	TPMKey TPMHandle `gotpm:"handle"`
	// entity providing the authValue
	// may be TPM_RH_NULL
	Bind TPMHandle `gotpm:"handle"`
	// initial nonceCaller, sets nonceTPM size for the session
	// shall be at least 16 octets
	NonceCaller TPM2BNonce
	// value encrypted according to the type of tpmKey
	// If tpmKey is TPM_RH_NULL, this shall be the Empty Buffer.
	EncryptedSalt TPM2BEncryptedSecret
	// indicates the type of the session; simple HMAC or policy (including
	// a trial policy)
	SessionType TPMSE
	// the algorithm and key size for parameter encryption
	// may select TPM_ALG_NULL
	Symmetric TPMTSymDef
	// hash algorithm to use for the session
	AuthHash TPMAlgID
}

// Command implements the Command interface.
func (*StartAuthSessionCommand) Command() TPMCC { return TPMCCStartAuthSession }

// StartAuthSessionResponse is the response from TPM2_StartAuthSession.
type StartAuthSessionResponse struct {
	// handle for the newly created session
	SessionHandle TPMHandle `gotpm:"handle"`
	// the initial nonce from the TPM, used in the computation of the sessionKey
	NonceTPM TPM2BNonce
}

// Response implements the Response interface.
func (*StartAuthSessionResponse) Response() TPMCC { return TPMCCStartAuthSession }

// FlushContextCommand is the input to TPM2_FlushContext.
// See definition in Part 3, Commands, section 28.4
type FlushContextCommand struct {
	// the handle of the item to flush. This is a parameter, not a handle
	// area entry.
	FlushHandle TPMHandle
}

// Command implements the Command interface.
func (*FlushContextCommand) Command() TPMCC { return TPMCCFlushContext }

// FlushContextResponse is the response from TPM2_FlushContext.
type FlushContextResponse struct{}

// Response implements the Response interface.
func (*FlushContextResponse) Response() TPMCC { return TPMCCFlushContext }

// PolicyPCRCommand is the input to TPM2_PolicyPCR.
// See definition in Part 3, Commands, section 23.7
type PolicyPCRCommand struct {
	// handle for the policy session being extended
	PolicySession TPMHandle `gotpm:"handle"`
	// expected digest value of the selected PCR using the
	// hash algorithm of the session; may be zero length
	PCRDigest TPM2BDigest
	// the PCR to include in the check digest
	PCRs TPMLPCRSelection
}

// Command implements the Command interface.
func (*PolicyPCRCommand) Command() TPMCC { return TPMCCPolicyPCR }

// PolicyPCRResponse is the response from TPM2_PolicyPCR.
type PolicyPCRResponse struct{}

// Response implements the Response interface.
func (*PolicyPCRResponse) Response() TPMCC { return TPMCCPolicyPCR }

// PolicyGetDigestCommand is the input to TPM2_PolicyGetDigest.
// See definition in Part 3, Commands, section 23.19
type PolicyGetDigestCommand struct {
	// handle for the policy session
	PolicySession TPMHandle `gotpm:"handle"`
}

// Command implements the Command interface.
func (*PolicyGetDigestCommand) Command() TPMCC { return TPMCCPolicyGetDigest }

// PolicyGetDigestResponse is the response from TPM2_PolicyGetDigest.
type PolicyGetDigestResponse struct {
	// the current value of the policySession→policyDigest
	PolicyDigest TPM2BDigest
}

// Response implements the Response interface.
func (*PolicyGetDigestResponse) Response() TPMCC { return TPMCCPolicyGetDigest }

// PolicyRestartCommand is the input to TPM2_PolicyRestart.
// See definition in Part 3, Commands, section 23.16
type PolicyRestartCommand struct {
	// the handle for the policy session
	SessionHandle TPMHandle `gotpm:"handle"`
}

// Command implements the Command interface.
func (*PolicyRestartCommand) Command() TPMCC { return TPMCCPolicyRestart }

// PolicyRestartResponse is the response from TPM2_PolicyRestart.
type PolicyRestartResponse struct{}

// Response implements the Response interface.
func (*PolicyRestartResponse) Response() TPMCC { return TPMCCPolicyRestart }

// CreatePrimaryCommand is the input to TPM2_CreatePrimary.
// See definition in Part 3, Commands, section 24.1
type CreatePrimaryCommand struct {
	// TPM_RH_ENDORSEMENT, TPM_RH_OWNER, TPM_RH_PLATFORM+{PP},
	// or TPM_RH_NULL
	PrimaryHandle TPMHandle `gotpm:"handle,auth"`
	// the sensitive data
	InSensitive TPM2BSensitiveCreate
	// the public template
	InPublic TPM2BPublic
	// data that will be included in the creation data for this
	// object to provide permanent, verifiable linkage between this
	// object and some object owner data
	OutsideInfo TPM2BData
	// PCR that will be used in creation data
	CreationPCR TPMLPCRSelection
}

// Command implements the Command interface.
func (*CreatePrimaryCommand) Command() TPMCC { return TPMCCCreatePrimary }

// CreatePrimaryResponse is the response from TPM2_CreatePrimary.
type CreatePrimaryResponse struct {
	// handle of type TPM_HT_TRANSIENT for created Primary Object
	ObjectHandle TPMHandle `gotpm:"handle"`
	// the public portion of the created object
	OutPublic TPM2BPublic
	// contains a TPMS_CREATION_DATA
	CreationData TPM2BCreationData
	// digest of creationData using nameAlg of outPublic
	CreationHash TPM2BDigest
	// ticket used by TPM2_CertifyCreation() to validate that the
	// creation data was produced by the TPM
	CreationTicket TPMTTKCreation
	// the name of the created object
	Name TPM2BName
}

// Response implements the Response interface.
func (*CreatePrimaryResponse) Response() TPMCC { return TPMCCCreatePrimary }

// ReadPublicCommand is the input to TPM2_ReadPublic.
// See definition in Part 3, Commands, section 12.4
type ReadPublicCommand struct {
	// TPM handle of an object
	ObjectHandle TPMHandle `gotpm:"handle"`
}

// Command implements the Command interface.
func (*ReadPublicCommand) Command() TPMCC { return TPMCCReadPublic }

// ReadPublicResponse is the response from TPM2_ReadPublic.
type ReadPublicResponse struct {
	// structure containing the public area of an object
	OutPublic TPM2BPublic
	// name of the object
	Name TPM2BName
	// the Qualified Name of the object
	QualifiedName TPM2BName
}

// Response implements the Response interface.
func (*ReadPublicResponse) Response() TPMCC { return TPMCCReadPublic }

// ObjectChangeAuthCommand is the input to TPM2_ObjectChangeAuth.
// See definition in Part 3, Commands, section 12.6
type ObjectChangeAuthCommand struct {
	// handle of the object; requires the ADMIN role
	ObjectHandle TPMHandle `gotpm:"handle,auth"`
	// handle of the parent
	ParentHandle TPMHandle `gotpm:"handle"`
	// new authorization value
	NewAuth TPM2BAuth
}

// Command implements the Command interface.
func (*ObjectChangeAuthCommand) Command() TPMCC { return TPMCCObjectChangeAuth }

// ObjectChangeAuthResponse is the response from TPM2_ObjectChangeAuth.
type ObjectChangeAuthResponse struct {
	// private area containing the new authorization value
	OutPrivate TPM2BPrivate
}

// Response implements the Response interface.
func (*ObjectChangeAuthResponse) Response() TPMCC { return TPMCCObjectChangeAuth }

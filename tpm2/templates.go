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

// EKAuthPolicy is TPM2_PolicySecret(TPM_RH_ENDORSEMENT) under SHA-256, the
// authorization policy of the TCG reference endorsement key.
var EKAuthPolicy = []byte{
	0x83, 0x71, 0x97, 0x67, 0x44, 0x84, 0xB3, 0xF8,
	0x1A, 0x90, 0xCC, 0x8D, 0x46, 0xA5, 0xD7, 0x24,
	0xFD, 0x52, 0xD7, 0x6E, 0x06, 0x52, 0x0B, 0x64,
	0xF2, 0xA1, 0xDA, 0x1B, 0x33, 0x14, 0x69, 0xAA,
}

// RSAEKTemplate returns the TCG reference RSA-2048 EK template: a
// restricted decryption key with AES-128-CFB, administered by policy only.
// https://trustedcomputinggroup.org/wp-content/uploads/TCG_IWG_Credential_Profile_EK_V2.1_R13.pdf
func RSAEKTemplate() TPMTPublic {
	return TPMTPublic{
		Type:    TPMAlgRSA,
		NameAlg: TPMAlgSHA256,
		ObjectAttributes: TPMAObjectFixedTPM | TPMAObjectFixedParent |
			TPMAObjectSensitiveDataOrigin | TPMAObjectAdminWithPolicy |
			TPMAObjectRestricted | TPMAObjectDecrypt,
		AuthPolicy: TPM2BDigest{Buffer: append([]byte(nil), EKAuthPolicy...)},
		RSAParameters: &TPMSRSAParms{
			Symmetric: TPMTSymDef{
				Algorithm: TPMAlgAES,
				KeyBits:   128,
				Mode:      TPMAlgCFB,
			},
			Scheme:  TPMTScheme{Scheme: TPMAlgNull},
			KeyBits: 2048,
		},
		RSAUnique: TPM2BPublicKeyRSA{Buffer: make([]byte, 256)},
	}
}

// ECCSRKTemplate returns the TCG reference ECC NIST P-256 SRK template.
// https://trustedcomputinggroup.org/wp-content/uploads/TCG-TPM-v2.0-Provisioning-Guidance-Published-v1r1.pdf
func ECCSRKTemplate() TPMTPublic {
	return TPMTPublic{
		Type:    TPMAlgECC,
		NameAlg: TPMAlgSHA256,
		ObjectAttributes: TPMAObjectFixedTPM | TPMAObjectFixedParent |
			TPMAObjectSensitiveDataOrigin | TPMAObjectUserWithAuth |
			TPMAObjectNoDA | TPMAObjectRestricted | TPMAObjectDecrypt,
		ECCParameters: &TPMSECCParms{
			Symmetric: TPMTSymDef{
				Algorithm: TPMAlgAES,
				KeyBits:   128,
				Mode:      TPMAlgCFB,
			},
			Scheme:  TPMTScheme{Scheme: TPMAlgNull},
			CurveID: TPMECCNistP256,
			KDF:     TPMTScheme{Scheme: TPMAlgNull},
		},
		ECCUnique: TPMSECCPoint{
			X: TPM2BECCParameter{Buffer: make([]byte, 32)},
			Y: TPM2BECCParameter{Buffer: make([]byte, 32)},
		},
	}
}

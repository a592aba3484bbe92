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
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"math/big"
)

// Curve returns the elliptic curve with the given TPM curve ID.
func (c TPMECCCurve) Curve() (elliptic.Curve, error) {
	switch c {
	case TPMECCNistP256:
		return elliptic.P256(), nil
	case TPMECCNistP384:
		return elliptic.P384(), nil
	}
	return nil, fmt.Errorf("unsupported ECC curve 0x%04x", uint16(c))
}

// PublicKey converts the public area of an RSA or ECC object into an
// *rsa.PublicKey or *ecdsa.PublicKey.
func (p *TPMTPublic) PublicKey() (crypto.PublicKey, error) {
	switch p.Type {
	case TPMAlgRSA:
		if p.RSAParameters == nil {
			return nil, fmt.Errorf("RSA public area without RSA parameters")
		}
		pub := &rsa.PublicKey{
			N: new(big.Int).SetBytes(p.RSAUnique.Buffer),
			E: int(p.RSAParameters.Exponent),
		}
		// An exponent of 0 selects the default.
		if pub.E == 0 {
			pub.E = 65537
		}
		return pub, nil
	case TPMAlgECC:
		if p.ECCParameters == nil {
			return nil, fmt.Errorf("ECC public area without ECC parameters")
		}
		curve, err := p.ECCParameters.CurveID.Curve()
		if err != nil {
			return nil, err
		}
		return &ecdsa.PublicKey{
			Curve: curve,
			X:     new(big.Int).SetBytes(p.ECCUnique.X.Buffer),
			Y:     new(big.Int).SetBytes(p.ECCUnique.Y.Buffer),
		}, nil
	}
	return nil, fmt.Errorf("unsupported public area type %v", p.Type)
}

// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-tpmengine.
//
// go-tpmengine is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package tpm2

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/go-tpm/tpm2"
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// MaxECCParameterSize is the size of a NIST P-256 field element, the
// capacity of every TPM2B_ECC_PARAMETER handled by this package
const MaxECCParameterSize = 32

// Signature is an ECDSA signature as a pair of big integers
type Signature struct {
	R *big.Int
	S *big.Int
}

// ECPoint is an affine elliptic curve point
type ECPoint struct {
	X *big.Int
	Y *big.Int
}

// SignatureFromTPM converts a TPMS_SIGNATURE_ECC into a Signature
func SignatureFromTPM(sig *tpm2.TPMSSignatureECC) (*Signature, error) {
	if sig == nil {
		return nil, &EncodingError{Field: "signature", Err: errors.New("nil signature")}
	}
	r, err := parameterToInt("signatureR", sig.SignatureR)
	if err != nil {
		return nil, err
	}
	s, err := parameterToInt("signatureS", sig.SignatureS)
	if err != nil {
		return nil, err
	}
	return &Signature{R: r, S: s}, nil
}

// TPM converts the signature into a TPMS_SIGNATURE_ECC over SHA-256
func (sig *Signature) TPM() (*tpm2.TPMSSignatureECC, error) {
	r, err := intToParameter("signatureR", sig.R)
	if err != nil {
		return nil, err
	}
	s, err := intToParameter("signatureS", sig.S)
	if err != nil {
		return nil, err
	}
	return &tpm2.TPMSSignatureECC{
		Hash:       tpm2.TPMAlgSHA256,
		SignatureR: r,
		SignatureS: s,
	}, nil
}

// MarshalSignature encodes sig as a TPMS_SIGNATURE_ECC in TPM wire format
func MarshalSignature(sig *Signature) ([]byte, error) {
	tpmSig, err := sig.TPM()
	if err != nil {
		return nil, err
	}
	return tpm2.Marshal(*tpmSig), nil
}

// UnmarshalSignature decodes a TPMS_SIGNATURE_ECC in TPM wire format
func UnmarshalSignature(data []byte) (*Signature, error) {
	tpmSig, err := tpm2.Unmarshal[tpm2.TPMSSignatureECC](data)
	if err != nil {
		return nil, &EncodingError{Field: "signature", Err: err}
	}
	if err := checkConsumed("signature", data, tpm2.Marshal(*tpmSig)); err != nil {
		return nil, err
	}
	return SignatureFromTPM(tpmSig)
}

// ASN1 encodes the signature as a DER ECDSA-Sig-Value
func (sig *Signature) ASN1() ([]byte, error) {
	if err := checkInt("signatureR", sig.R); err != nil {
		return nil, err
	}
	if err := checkInt("signatureS", sig.S); err != nil {
		return nil, err
	}
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(sig.R)
		b.AddASN1BigInt(sig.S)
	})
	der, err := b.Bytes()
	if err != nil {
		return nil, &EncodingError{Field: "signature", Err: err}
	}
	return der, nil
}

// ParseASN1Signature decodes a DER ECDSA-Sig-Value
func ParseASN1Signature(der []byte) (*Signature, error) {
	r, s := new(big.Int), new(big.Int)
	var inner cryptobyte.String
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, &EncodingError{Field: "signature", Err: errors.New("invalid ASN.1 ECDSA signature")}
	}
	sig := &Signature{R: r, S: s}
	if err := checkInt("signatureR", r); err != nil {
		return nil, err
	}
	if err := checkInt("signatureS", s); err != nil {
		return nil, err
	}
	return sig, nil
}

// ECPointFromTPM converts a TPMS_ECC_POINT into an ECPoint
func ECPointFromTPM(point *tpm2.TPMSECCPoint) (*ECPoint, error) {
	if point == nil {
		return nil, &EncodingError{Field: "point", Err: errors.New("nil point")}
	}
	x, err := parameterToInt("x", point.X)
	if err != nil {
		return nil, err
	}
	y, err := parameterToInt("y", point.Y)
	if err != nil {
		return nil, err
	}
	return &ECPoint{X: x, Y: y}, nil
}

// TPM converts the point into a TPMS_ECC_POINT
func (p ECPoint) TPM() (*tpm2.TPMSECCPoint, error) {
	x, err := intToParameter("x", p.X)
	if err != nil {
		return nil, err
	}
	y, err := intToParameter("y", p.Y)
	if err != nil {
		return nil, err
	}
	return &tpm2.TPMSECCPoint{X: x, Y: y}, nil
}

// MarshalPoint encodes p as a TPMS_ECC_POINT in TPM wire format
func MarshalPoint(p ECPoint) ([]byte, error) {
	point, err := p.TPM()
	if err != nil {
		return nil, err
	}
	return tpm2.Marshal(*point), nil
}

// UnmarshalPoint decodes a TPMS_ECC_POINT in TPM wire format
func UnmarshalPoint(data []byte) (*ECPoint, error) {
	point, err := tpm2.Unmarshal[tpm2.TPMSECCPoint](data)
	if err != nil {
		return nil, &EncodingError{Field: "point", Err: err}
	}
	if err := checkConsumed("point", data, tpm2.Marshal(*point)); err != nil {
		return nil, err
	}
	return ECPointFromTPM(point)
}

// parameterToInt reads a TPM2B_ECC_PARAMETER as an unsigned big-endian integer
func parameterToInt(field string, param tpm2.TPM2BECCParameter) (*big.Int, error) {
	if len(param.Buffer) > MaxECCParameterSize {
		return nil, &EncodingError{
			Field: field,
			Err:   fmt.Errorf("%d bytes exceeds %d", len(param.Buffer), MaxECCParameterSize),
		}
	}
	return new(big.Int).SetBytes(param.Buffer), nil
}

// intToParameter writes v left-padded to the field size
func intToParameter(field string, v *big.Int) (tpm2.TPM2BECCParameter, error) {
	if err := checkInt(field, v); err != nil {
		return tpm2.TPM2BECCParameter{}, err
	}
	return tpm2.TPM2BECCParameter{
		Buffer: v.FillBytes(make([]byte, MaxECCParameterSize)),
	}, nil
}

func checkInt(field string, v *big.Int) error {
	switch {
	case v == nil:
		return &EncodingError{Field: field, Err: errors.New("missing value")}
	case v.Sign() < 0:
		return &EncodingError{Field: field, Err: errors.New("negative value")}
	case (v.BitLen()+7)/8 > MaxECCParameterSize:
		return &EncodingError{
			Field: field,
			Err:   fmt.Errorf("%d bytes exceeds %d", (v.BitLen()+7)/8, MaxECCParameterSize),
		}
	}
	return nil
}

func checkConsumed(field string, data, consumed []byte) error {
	if len(data) != len(consumed) {
		return &EncodingError{
			Field: field,
			Err:   fmt.Errorf("%d trailing bytes", len(data)-len(consumed)),
		}
	}
	return nil
}

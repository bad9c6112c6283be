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
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"

	"github.com/google/go-tpm/tpm2"
)

// PublicKey is the public part of a TPM resident ECC key
type PublicKey struct {
	Curve tpm2.TPMECCCurve
	Point ECPoint
	Name  tpm2.TPM2BName
}

// ReadPublic reads the public area of the object at handle. No
// authorization is required. Only NIST P-256 ECC keys are accepted.
func (c *Codec) ReadPublic(handle tpm2.TPMHandle) (*PublicKey, error) {
	c.logger.Debugf("tpm2: reading public area of handle 0x%x", uint32(handle))

	res, err := c.device.ReadPublic(handle)
	if err != nil {
		c.logDeviceError(err)
		return nil, err
	}
	pub, err := PublicKeyFromTPM(&res.Public)
	if err != nil {
		c.logger.Errorf("tpm2: handle 0x%x: %s", uint32(handle), err)
		return nil, err
	}
	pub.Name = res.Name
	return pub, nil
}

// PublicKeyFromTPM extracts the EC point from an ECC public area. Any
// other key type fails with ErrUnsupportedKeyAlgorithm and any curve other
// than NIST P-256 with ErrUnsupportedCurve.
func PublicKeyFromTPM(pub *tpm2.TPMTPublic) (*PublicKey, error) {
	if pub.Type != tpm2.TPMAlgECC {
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnsupportedKeyAlgorithm, uint16(pub.Type))
	}
	detail, err := pub.Parameters.ECCDetail()
	if err != nil {
		return nil, &EncodingError{Field: "parameters", Err: err}
	}
	if detail.CurveID != tpm2.TPMECCNistP256 {
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnsupportedCurve, uint16(detail.CurveID))
	}
	unique, err := pub.Unique.ECC()
	if err != nil {
		return nil, &EncodingError{Field: "unique", Err: err}
	}
	point, err := ECPointFromTPM(unique)
	if err != nil {
		return nil, err
	}
	return &PublicKey{
		Curve: detail.CurveID,
		Point: *point,
	}, nil
}

// ECDSA returns the key as a crypto/ecdsa public key. The point is
// checked to lie on the curve.
func (p *PublicKey) ECDSA() (*ecdsa.PublicKey, error) {
	curve, err := p.Curve.Curve()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedCurve, err)
	}
	if p.Point.X == nil || p.Point.Y == nil {
		return nil, &EncodingError{Field: "point", Err: fmt.Errorf("missing coordinate")}
	}
	pub := &ecdsa.PublicKey{
		Curve: curve,
		X:     p.Point.X,
		Y:     p.Point.Y,
	}
	if _, err := pub.ECDH(); err != nil {
		return nil, &EncodingError{Field: "point", Err: err}
	}
	return pub, nil
}

// MarshalPKIX encodes the key as a DER SubjectPublicKeyInfo using the
// named curve form
func (p *PublicKey) MarshalPKIX() ([]byte, error) {
	pub, err := p.ECDSA()
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, &EncodingError{Field: "subjectPublicKeyInfo", Err: err}
	}
	return der, nil
}

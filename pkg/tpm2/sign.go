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

	"github.com/google/go-tpm/tpm2"
)

// MaxDigestSize is the largest digest passed to TPM2_Sign. Longer digests
// are truncated to their leading MaxDigestSize bytes, matching the
// truncation ECDSA applies to digests wider than the P-256 group order.
const MaxDigestSize = 32

// Sign signs digest with the ECC key at handle using ECDSA over SHA-256,
// authorizing with secret. The digest is used directly; no TPM hash
// sequence produced it, so a null validation ticket is supplied. A
// non-success response code fails with *DeviceError and is not retried.
func (c *Codec) Sign(digest []byte, handle tpm2.TPMHandle, secret string) (*Signature, error) {
	auth, err := NewPasswordAuthorization([]byte(secret))
	if err != nil {
		return nil, err
	}

	if len(digest) > MaxDigestSize {
		c.logger.Warnf("tpm2: truncating %d byte digest to %d bytes", len(digest), MaxDigestSize)
		digest = digest[:MaxDigestSize]
	}
	buf := make([]byte, len(digest))
	copy(buf, digest)

	if c.config.DebugSecrets {
		c.logger.Debugf("tpm2: signing with handle 0x%x, password %q", uint32(handle), secret)
	} else {
		c.logger.Debugf("tpm2: signing with handle 0x%x", uint32(handle))
	}

	tpmSig, err := c.device.Sign(SignRequest{
		Handle:     handle,
		Auth:       auth,
		Digest:     buf,
		Scheme:     ECDSASHA256Scheme(),
		Validation: NullHashCheckTicket(),
	})
	if err != nil {
		c.logDeviceError(err)
		return nil, err
	}

	if tpmSig.SigAlg != tpm2.TPMAlgECDSA {
		return nil, &EncodingError{
			Field: "signature",
			Err:   fmt.Errorf("unexpected signature algorithm 0x%04x", uint16(tpmSig.SigAlg)),
		}
	}
	ecc, err := tpmSig.Signature.ECDSA()
	if err != nil {
		return nil, &EncodingError{Field: "signature", Err: err}
	}
	if ecc == nil {
		return nil, &EncodingError{Field: "signature", Err: errors.New("empty ECDSA signature")}
	}
	return SignatureFromTPM(ecc)
}

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

package engine

import (
	"crypto"
	"crypto/ecdsa"
	"io"

	"github.com/jeremyhahn/go-tpmengine/pkg/tpm2"
)

// Key is a TPM resident ECDSA P-256 private key. It implements
// crypto.Signer; the private part never leaves the TPM.
type Key struct {
	engine *Engine
	id     *tpm2.KeyIdentifier
	public *ecdsa.PublicKey
}

// Public returns the *ecdsa.PublicKey read from the TPM when the key was loaded
func (k *Key) Public() crypto.PublicKey {
	return k.public
}

// Sign signs digest on the TPM and returns a DER encoded ECDSA-Sig-Value.
// rand is ignored. The TPM always signs with SHA-256 parameters; digests
// longer than 32 bytes are truncated, which is what ECDSA over P-256 does
// with them anyway.
func (k *Key) Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return k.engine.Sign(digest, k.id.String())
}

// Handle returns the TPM handle of the key
func (k *Key) Handle() uint32 {
	return uint32(k.id.Handle)
}

// ID returns the key identifier with the password masked
func (k *Key) ID() string {
	return k.id.Redacted()
}

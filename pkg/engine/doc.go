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

// Package engine exposes the TPM 2.0 bridge as a crypto provider.
//
// An Engine mirrors the lifecycle of a pluggable crypto engine (Init,
// Finish and Destroy) and offers ECDSA P-256 signing with TPM resident
// keys, a TPM backed random source and private key loading by
// "<hex handle>;<password>" identifier. Signature verification never
// touches the TPM and is delegated to crypto/ecdsa.
//
//	eng, err := engine.New(tpm2.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer eng.Destroy()
//	key, err := eng.LoadPrivateKey("81000001;secret")
//	...
//	der, err := key.Sign(nil, digest, crypto.SHA256)
package engine

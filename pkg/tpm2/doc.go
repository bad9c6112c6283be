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

// Package tpm2 bridges high level crypto operations to the TPM 2.0
// command protocol.
//
// A SessionContext owns the connection to the TPM (a resource manager
// TCP endpoint, a character device, a unix domain socket or the embedded
// simulator) and hands out a Codec while it is initialized. The Codec
// builds the Sign, Load, ReadPublic and GetRandom commands, authorizes
// them with a single plaintext password session and converts the results
// into Signature, PublicKey and byte slice values.
//
// Every public operation is expected to run inside SessionContext.Do,
// which starts the context, runs the operation and stops the context on
// every exit path:
//
//	session, err := tpm2.NewSessionContext(tpm2.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	err = session.Do(func(codec *tpm2.Codec) error {
//		sig, err := codec.Sign(digest, 0x81000001, "password")
//		...
//	})
//
// Errors are reported as one of *DeviceError (non-success response code),
// *TransportError, *EncodingError, *PersistenceError or a wrapped
// ErrMalformedIdentifier. No operation is retried.
package tpm2

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
	"errors"

	"github.com/jeremyhahn/go-tpmengine/pkg/tpm2"
)

var (
	// ErrNotSupported is returned for engine hooks that are not implemented
	ErrNotSupported = errors.New("engine: operation not supported")

	// ErrNoKeyLoaded is returned when signing without an identifier before
	// any private key was loaded
	ErrNoKeyLoaded = errors.New("engine: no private key loaded")

	// ErrInvalidSignature is returned when a signature does not verify
	ErrInvalidSignature = errors.New("engine: invalid signature")

	// ErrUnsupportedPublicKey is returned for public keys other than ECDSA P-256
	ErrUnsupportedPublicKey = errors.New("engine: unsupported public key")

	// ErrRandomTooLarge is returned when more random bytes are requested
	// than a single call can deliver
	ErrRandomTooLarge = errors.New("engine: random request too large")
)

// Error types reported on the errors_total metric
const (
	ErrorTypeDevice              = "device"
	ErrorTypeTransport           = "transport"
	ErrorTypeEncoding            = "encoding"
	ErrorTypePersistence         = "persistence"
	ErrorTypeMalformedIdentifier = "malformed_identifier"
	ErrorTypeOther               = "other"
)

// ErrorType classifies err into one of the ErrorType* values
func ErrorType(err error) string {
	var (
		devErr         *tpm2.DeviceError
		transportErr   *tpm2.TransportError
		persistenceErr *tpm2.PersistenceError
	)
	switch {
	case errors.As(err, &devErr):
		return ErrorTypeDevice
	case errors.As(err, &transportErr):
		return ErrorTypeTransport
	case errors.As(err, &persistenceErr):
		return ErrorTypePersistence
	case errors.Is(err, tpm2.ErrEncoding):
		return ErrorTypeEncoding
	case errors.Is(err, tpm2.ErrMalformedIdentifier):
		return ErrorTypeMalformedIdentifier
	default:
		return ErrorTypeOther
	}
}

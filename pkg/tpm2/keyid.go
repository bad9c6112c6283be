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
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-tpm/tpm2"
)

const (
	// MaxKeyIdentifierLen is the maximum length of a complete key identifier
	MaxKeyIdentifierLen = 1024

	// MaxKeyFieldLen is the maximum length of each identifier field
	MaxKeyFieldLen = 128

	keyIDSeparator = ";"
)

// KeyIdentifier addresses a key already present in the TPM together with
// the password that authorizes its use.
type KeyIdentifier struct {
	Handle tpm2.TPMHandle
	Secret string
}

// ParseKeyIdentifier parses a "<hex handle>;<password>" key identifier.
// The handle is hexadecimal without a 0x prefix, although a prefix is
// tolerated. The password may be empty but the separator is required.
func ParseKeyIdentifier(id string) (*KeyIdentifier, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrMalformedIdentifier)
	}
	if len(id) > MaxKeyIdentifierLen {
		return nil, fmt.Errorf("%w: identifier length %d exceeds %d",
			ErrMalformedIdentifier, len(id), MaxKeyIdentifierLen)
	}

	fields := strings.Split(id, keyIDSeparator)
	if len(fields) != 2 {
		return nil, fmt.Errorf("%w: expected 2 fields, got %d",
			ErrMalformedIdentifier, len(fields))
	}
	handleField, secret := fields[0], fields[1]
	if len(handleField) > MaxKeyFieldLen || len(secret) > MaxKeyFieldLen {
		return nil, fmt.Errorf("%w: field exceeds %d bytes",
			ErrMalformedIdentifier, MaxKeyFieldLen)
	}

	hexDigits := handleField
	if len(hexDigits) > 2 && (hexDigits[:2] == "0x" || hexDigits[:2] == "0X") {
		hexDigits = hexDigits[2:]
	}
	if hexDigits == "" {
		return nil, fmt.Errorf("%w: empty handle", ErrMalformedIdentifier)
	}
	handle, err := strconv.ParseUint(hexDigits, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid handle %q", ErrMalformedIdentifier, handleField)
	}

	return &KeyIdentifier{
		Handle: tpm2.TPMHandle(handle),
		Secret: secret,
	}, nil
}

// String renders the identifier back into its "<hex>;<password>" form
func (k *KeyIdentifier) String() string {
	return fmt.Sprintf("%x%s%s", uint32(k.Handle), keyIDSeparator, k.Secret)
}

// Redacted renders the identifier with the password masked, for logging
func (k *KeyIdentifier) Redacted() string {
	if k.Secret == "" {
		return fmt.Sprintf("%x%s", uint32(k.Handle), keyIDSeparator)
	}
	return fmt.Sprintf("%x%s****", uint32(k.Handle), keyIDSeparator)
}

// Authorization builds the password authorization area for the key
func (k *KeyIdentifier) Authorization() (*Authorization, error) {
	return NewPasswordAuthorization([]byte(k.Secret))
}

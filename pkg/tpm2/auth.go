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

	"github.com/google/go-tpm/tpm2"
)

// MaxAuthSize is the capacity of a TPM2B_AUTH buffer (sizeof(TPMU_HA))
const MaxAuthSize = 64

// Authorization is the single password authorization area attached to a
// command. The password session is a permanent entity at TPM_RS_PW
// (0x40000009) used for plaintext password authorization as opposed to
// HMAC authorization. The nonce is always empty and no session attributes
// are set.
//
// Every command issued by this package carries exactly one command
// authorization, so the area is modelled as a single value rather than an
// array. The matching response area is checked by go-tpm when the command
// is executed.
type Authorization struct {
	// Command is the TPMS_AUTH_COMMAND sent with the command
	Command tpm2.TPMSAuthCommand
}

// NewPasswordAuthorization builds the password authorization area for
// secret. A secret longer than MaxAuthSize is rejected rather than
// truncated; a truncated password would only surface later as an
// authorization failure on the TPM.
func NewPasswordAuthorization(secret []byte) (*Authorization, error) {
	if len(secret) > MaxAuthSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d",
			ErrSecretTooLong, len(secret), MaxAuthSize)
	}
	buf := make([]byte, len(secret))
	copy(buf, secret)
	return &Authorization{
		Command: tpm2.TPMSAuthCommand{
			Handle:     tpm2.TPMRSPW,
			Nonce:      tpm2.TPM2BNonce{Buffer: []byte{}},
			Attributes: tpm2.TPMASession{},
			Authorization: tpm2.TPM2BData{
				Buffer: buf,
			},
		},
	}, nil
}

// Secret returns a copy of the password carried by the authorization area
func (a *Authorization) Secret() []byte {
	secret := make([]byte, len(a.Command.Authorization.Buffer))
	copy(secret, a.Command.Authorization.Buffer)
	return secret
}

// Session returns the go-tpm password session occupying the single
// command authorization slot
func (a *Authorization) Session() tpm2.Session {
	return tpm2.PasswordAuth(a.Secret())
}

// AuthHandle binds the authorization area to handle, producing the
// authorized handle argument of a command
func (a *Authorization) AuthHandle(handle tpm2.TPMHandle, name tpm2.TPM2BName) tpm2.AuthHandle {
	return tpm2.AuthHandle{
		Handle: handle,
		Name:   name,
		Auth:   a.Session(),
	}
}

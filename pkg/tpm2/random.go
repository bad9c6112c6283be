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
	"bytes"
	"fmt"

	"github.com/jeremyhahn/go-tpmengine/pkg/metrics"
)

// randomFill marks bytes the TPM has not yet supplied
const randomFill = 0xFF

// GetRandom returns count bytes from the TPM random number generator. The
// bytes are gathered in as many TPM2_GetRandom round-trips as needed, each
// asking for at most the configured chunk size. The first failing
// round-trip fails the whole call and no partial output is returned.
func (c *Codec) GetRandom(count uint32) ([]byte, error) {
	out := bytes.Repeat([]byte{randomFill}, int(count))
	chunkSize := c.config.MaxRandomChunk
	if chunkSize <= 0 {
		chunkSize = DefaultMaxRandomChunk
	}

	filled := 0
	for filled < len(out) {
		want := min(len(out)-filled, chunkSize)
		chunk, err := c.device.GetRandom(uint16(want))
		if err != nil {
			c.logDeviceError(err)
			return nil, err
		}
		if len(chunk) == 0 || len(chunk) > want {
			return nil, &EncodingError{
				Field: "randomBytes",
				Err:   fmt.Errorf("requested %d bytes, received %d", want, len(chunk)),
			}
		}
		copy(out[filled:], chunk)
		filled += len(chunk)
	}

	metrics.AddRandomBytes(len(out))
	c.logger.Debugf("tpm2: read %d random bytes", len(out))
	return out, nil
}

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

//go:build tpm_simulator

package tpm2

import (
	"github.com/google/go-tpm-tools/simulator"
	"github.com/google/go-tpm/tpm2/transport"
)

// SimulatorSeed is the fixed seed of the embedded simulator. Keys created
// on it are reproducible and therefore insecure.
const SimulatorSeed = 1234567890

// SimulatorAvailable reports whether simulator support is compiled in
const SimulatorAvailable = true

// openSimulator opens a TPM simulator with a fixed seed
func openSimulator() (transport.TPMCloser, error) {
	sim, err := simulator.GetWithFixedSeedInsecure(SimulatorSeed)
	if err != nil {
		return nil, err
	}
	return transport.FromReadWriteCloser(sim), nil
}

func init() {
	simulatorOpener = openSimulator
}

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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 2323, cfg.Port)
	assert.Equal(t, 2324, cfg.PlatformPort)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 32, cfg.MaxRandomChunk)
	assert.Equal(t, 0, cfg.Debug)
	assert.Equal(t, "127.0.0.1:2323", cfg.CommandAddress())
	assert.Equal(t, "127.0.0.1:2324", cfg.PlatformAddress())
}

func TestConfigValidateFillsDefaults(t *testing.T) {
	cfg := &Config{Port: 2321}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, 2322, cfg.PlatformPort)
	assert.Equal(t, DefaultMaxRandomChunk, cfg.MaxRandomChunk)
	assert.Equal(t, time.Duration(0), cfg.Timeout)
}

func TestConfigValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative port", Config{Port: -1}},
		{"port too large", Config{Port: 70000}},
		{"platform port too large", Config{Port: 2321, PlatformPort: 65536}},
		{"negative timeout", Config{Timeout: -time.Second}},
		{"negative chunk", Config{MaxRandomChunk: -1}},
		{"chunk too large", Config{MaxRandomChunk: 0x10000}},
		{"negative debug", Config{Debug: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

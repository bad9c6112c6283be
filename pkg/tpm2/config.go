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
	"time"
)

const (
	// DefaultHost is the resource manager host used when none is configured
	DefaultHost = "127.0.0.1"

	// DefaultPort is the resource manager TPM command port
	DefaultPort = 2323

	// DefaultTimeout bounds a single device round-trip
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRandomChunk is the largest number of bytes a single
	// TPM2_GetRandom call is asked to return
	DefaultMaxRandomChunk = 32
)

// Config contains the parameters used to reach the TPM and to shape the
// commands issued to it. The resource manager endpoint is used unless a
// device path or the embedded simulator is configured.
type Config struct {
	// Host is the hostname or IP address of the resource manager
	Host string `json:"host" yaml:"host"`

	// Port is the resource manager TPM command port
	Port int `json:"port" yaml:"port"`

	// PlatformPort is the platform (control) port of the endpoint.
	// Defaults to Port+1.
	PlatformPort int `json:"platform_port,omitempty" yaml:"platform_port,omitempty"`

	// DevicePath selects a TPM character device (/dev/tpmrm0) or a unix
	// domain socket (any path ending in ".sock") instead of TCP
	DevicePath string `json:"device_path,omitempty" yaml:"device_path,omitempty"`

	// UseSimulator opens the embedded go-tpm-tools simulator. Only
	// available in binaries built with the tpm_simulator tag.
	UseSimulator bool `json:"use_simulator" yaml:"use_simulator"`

	// Timeout bounds each device round-trip. Zero disables the timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxRandomChunk is the number of bytes requested per TPM2_GetRandom call
	MaxRandomChunk int `json:"max_random_chunk" yaml:"max_random_chunk"`

	// Debug is the debug verbosity level, 0 disables debug logging
	Debug int `json:"debug" yaml:"debug"`

	// DebugSecrets allows authorization values to be written to debug logs
	DebugSecrets bool `json:"debug_secrets" yaml:"debug_secrets"`

	// KeyDir is the root directory relative artifact paths are resolved against
	KeyDir string `json:"key_dir,omitempty" yaml:"key_dir,omitempty"`
}

// DefaultConfig returns a configuration pointing at the local resource
// manager with debug logging disabled.
func DefaultConfig() *Config {
	return &Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		Timeout:        DefaultTimeout,
		MaxRandomChunk: DefaultMaxRandomChunk,
	}
}

// Validate fills in defaults for unset fields and checks the remaining
// values for correctness.
func (c *Config) Validate() error {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalidConfig, c.Port)
	}
	if c.PlatformPort == 0 {
		c.PlatformPort = c.Port + 1
	}
	if c.PlatformPort < 1 || c.PlatformPort > 65535 {
		return fmt.Errorf("%w: platform port %d out of range 1-65535", ErrInvalidConfig, c.PlatformPort)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout %s", ErrInvalidConfig, c.Timeout)
	}
	if c.MaxRandomChunk == 0 {
		c.MaxRandomChunk = DefaultMaxRandomChunk
	}
	if c.MaxRandomChunk < 1 || c.MaxRandomChunk > 0xFFFF {
		return fmt.Errorf("%w: max random chunk %d out of range 1-65535", ErrInvalidConfig, c.MaxRandomChunk)
	}
	if c.Debug < 0 {
		return fmt.Errorf("%w: negative debug level %d", ErrInvalidConfig, c.Debug)
	}
	return nil
}

// CommandAddress returns the host:port of the TPM command endpoint
func (c *Config) CommandAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PlatformAddress returns the host:port of the platform endpoint
func (c *Config) PlatformAddress() string {
	port := c.PlatformPort
	if port == 0 {
		port = c.Port + 1
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

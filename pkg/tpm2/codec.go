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
	"errors"
	"path/filepath"

	"github.com/google/go-tpm/tpm2"
	"github.com/jeremyhahn/go-tpmengine/pkg/logging"
	"github.com/jeremyhahn/go-tpmengine/pkg/storage"
)

// Codec translates high level crypto operations into TPM commands and
// their responses back into standard representations. A Codec is bound to
// the transport of the session context that created it and becomes
// unusable once that context is stopped.
type Codec struct {
	device Device
	store  storage.Backend
	config *Config
	logger *logging.Logger
}

// NewCodec returns a codec issuing commands to device and resolving
// artifacts in store
func NewCodec(device Device, store storage.Backend, cfg *Config, logger *logging.Logger) *Codec {
	return newCodec(device, store, cfg, logger)
}

func newCodec(device Device, store storage.Backend, cfg *Config, logger *logging.Logger) *Codec {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Codec{
		device: device,
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Device returns the underlying command device
func (c *Codec) Device() Device {
	return c.device
}

// ECDSASHA256Scheme returns the ECDSA over SHA-256 signing scheme
func ECDSASHA256Scheme() tpm2.TPMTSigScheme {
	return tpm2.TPMTSigScheme{
		Scheme: tpm2.TPMAlgECDSA,
		Details: tpm2.NewTPMUSigScheme(
			tpm2.TPMAlgECDSA,
			&tpm2.TPMSSchemeHash{
				HashAlg: tpm2.TPMAlgSHA256,
			},
		),
	}
}

// NullHashCheckTicket returns the empty validation ticket used when the
// digest was not produced by the TPM
func NullHashCheckTicket() tpm2.TPMTTKHashCheck {
	return tpm2.TPMTTKHashCheck{
		Tag:       tpm2.TPMSTHashCheck,
		Hierarchy: tpm2.TPMRHNull,
	}
}

// artifactKey resolves the storage key of an artifact. Relative
// directories are resolved against the key directory, or the working
// directory when none is configured.
func (c *Codec) artifactKey(dir, name string) (string, error) {
	root := c.config.KeyDir
	if root == "" {
		root = "/"
		if dir != "" && !filepath.IsAbs(dir) {
			abs, err := filepath.Abs(dir)
			if err != nil {
				return "", err
			}
			dir = abs
		}
	}
	return storage.ArtifactKey(root, dir, name)
}

func (c *Codec) readArtifact(dir, name string) ([]byte, error) {
	key, err := c.artifactKey(dir, name)
	if err != nil {
		return nil, &PersistenceError{Op: "read", Path: filepath.Join(dir, name), Err: err}
	}
	data, err := c.store.Get(key)
	if err != nil {
		return nil, &PersistenceError{Op: "read", Path: key, Err: err}
	}
	return data, nil
}

func (c *Codec) writeArtifact(dir, name string, data []byte) error {
	key, err := c.artifactKey(dir, name)
	if err != nil {
		return &PersistenceError{Op: "write", Path: filepath.Join(dir, name), Err: err}
	}
	if err := c.store.Put(key, data, nil); err != nil {
		return &PersistenceError{Op: "write", Path: key, Err: err}
	}
	return nil
}

// logDeviceError logs a failed command with its response code, if any
func (c *Codec) logDeviceError(err error) {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		c.logger.Errorf("tpm2: %s returned 0x%x", devErr.Command, uint32(devErr.Code))
		return
	}
	c.logger.Error(err)
}

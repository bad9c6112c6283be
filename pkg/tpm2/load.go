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
	"github.com/google/go-tpm/tpm2"
	"github.com/jeremyhahn/go-tpmengine/pkg/storage"
)

// Load loads the object persisted in objectDir under the parent whose
// saved context is persisted in parentDir, authorizing with the parent
// password. The parent context is reloaded for the duration of the call
// and flushed afterwards. On success the object's name is written back to
// objectDir and the new transient object handle is returned.
func (c *Codec) Load(parentDir, parentPassword, objectDir string) (tpm2.TPMHandle, error) {
	contextBlob, err := c.readArtifact(parentDir, storage.ArtifactContext)
	if err != nil {
		return 0, err
	}
	publicBlob, err := c.readArtifact(objectDir, storage.ArtifactPublic)
	if err != nil {
		return 0, err
	}
	privateBlob, err := c.readArtifact(objectDir, storage.ArtifactPrivate)
	if err != nil {
		return 0, err
	}

	parentContext, err := tpm2.Unmarshal[tpm2.TPMSContext](contextBlob)
	if err != nil {
		return 0, &EncodingError{Field: storage.ArtifactContext, Err: err}
	}
	inPublic, err := tpm2.Unmarshal[tpm2.TPM2BPublic](publicBlob)
	if err != nil {
		return 0, &EncodingError{Field: storage.ArtifactPublic, Err: err}
	}
	inPrivate, err := tpm2.Unmarshal[tpm2.TPM2BPrivate](privateBlob)
	if err != nil {
		return 0, &EncodingError{Field: storage.ArtifactPrivate, Err: err}
	}

	auth, err := NewPasswordAuthorization([]byte(parentPassword))
	if err != nil {
		return 0, err
	}

	parentHandle, err := c.device.ContextLoad(*parentContext)
	if err != nil {
		c.logDeviceError(err)
		return 0, err
	}
	defer c.flush(parentHandle)

	c.logger.Debugf("tpm2: loading %s under parent 0x%x", objectDir, uint32(parentHandle))
	res, err := c.device.Load(LoadRequest{
		ParentHandle: parentHandle,
		Auth:         auth,
		Public:       *inPublic,
		Private:      *inPrivate,
	})
	if err != nil {
		c.logDeviceError(err)
		return 0, err
	}

	if err := c.writeArtifact(objectDir, storage.ArtifactName, tpm2.Marshal(res.Name)); err != nil {
		c.logger.Errorf("tpm2: loaded object 0x%x but failed to persist its name: %s",
			uint32(res.Handle), err)
		c.flush(res.Handle)
		return 0, err
	}

	c.logger.Debugf("tpm2: loaded object 0x%x", uint32(res.Handle))
	return res.Handle, nil
}

func (c *Codec) flush(handle tpm2.TPMHandle) {
	if err := c.device.FlushContext(handle); err != nil {
		c.logger.Warnf("tpm2: failed to flush handle 0x%x: %s", uint32(handle), err)
	}
}

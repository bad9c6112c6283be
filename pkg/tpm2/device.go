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
	"time"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/jeremyhahn/go-tpmengine/pkg/metrics"
)

// Command names used in errors, logs and metrics
const (
	CommandSign         = "Sign"
	CommandLoad         = "Load"
	CommandReadPublic   = "ReadPublic"
	CommandGetRandom    = "GetRandom"
	CommandContextLoad  = "ContextLoad"
	CommandFlushContext = "FlushContext"
)

// SignRequest carries the parameters of a TPM2_Sign command
type SignRequest struct {
	Handle     tpm2.TPMHandle
	Auth       *Authorization
	Digest     []byte
	Scheme     tpm2.TPMTSigScheme
	Validation tpm2.TPMTTKHashCheck
}

// LoadRequest carries the parameters of a TPM2_Load command
type LoadRequest struct {
	ParentHandle tpm2.TPMHandle
	Auth         *Authorization
	Public       tpm2.TPM2BPublic
	Private      tpm2.TPM2BPrivate
}

// LoadResult is the output of a TPM2_Load command
type LoadResult struct {
	Handle tpm2.TPMHandle
	Name   tpm2.TPM2BName
}

// ReadPublicResult is the output of a TPM2_ReadPublic command
type ReadPublicResult struct {
	Public tpm2.TPMTPublic
	Name   tpm2.TPM2BName
}

// Device is the TPM command surface used by the codec. Each method is a
// single blocking round-trip. A non-success response code is returned as
// a *DeviceError, any other failure as a *TransportError.
type Device interface {
	Sign(req SignRequest) (*tpm2.TPMTSignature, error)
	Load(req LoadRequest) (*LoadResult, error)
	ReadPublic(handle tpm2.TPMHandle) (*ReadPublicResult, error)
	GetRandom(count uint16) ([]byte, error)
	ContextLoad(ctx tpm2.TPMSContext) (tpm2.TPMHandle, error)
	FlushContext(handle tpm2.TPMHandle) error
}

// transportDevice executes commands over a go-tpm transport
type transportDevice struct {
	tpm transport.TPM
}

// NewTransportDevice returns a Device that marshals commands with go-tpm
// and sends them over tpm
func NewTransportDevice(tpm transport.TPM) Device {
	return &transportDevice{tpm: tpm}
}

func (d *transportDevice) Sign(req SignRequest) (*tpm2.TPMTSignature, error) {
	auth, err := ensureAuth(req.Auth)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rsp, err := tpm2.Sign{
		KeyHandle: auth.AuthHandle(req.Handle, tpm2.TPM2BName{}),
		Digest: tpm2.TPM2BDigest{
			Buffer: req.Digest,
		},
		InScheme:   req.Scheme,
		Validation: req.Validation,
	}.Execute(d.tpm)
	if err := observe(CommandSign, start, err); err != nil {
		return nil, err
	}
	return &rsp.Signature, nil
}

func (d *transportDevice) Load(req LoadRequest) (*LoadResult, error) {
	auth, err := ensureAuth(req.Auth)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rsp, err := tpm2.Load{
		ParentHandle: auth.AuthHandle(req.ParentHandle, tpm2.TPM2BName{}),
		InPrivate:    req.Private,
		InPublic:     req.Public,
	}.Execute(d.tpm)
	if err := observe(CommandLoad, start, err); err != nil {
		return nil, err
	}
	return &LoadResult{
		Handle: rsp.ObjectHandle,
		Name:   rsp.Name,
	}, nil
}

func (d *transportDevice) ReadPublic(handle tpm2.TPMHandle) (*ReadPublicResult, error) {
	start := time.Now()
	rsp, err := tpm2.ReadPublic{
		ObjectHandle: handle,
	}.Execute(d.tpm)
	if err := observe(CommandReadPublic, start, err); err != nil {
		return nil, err
	}
	pub, err := rsp.OutPublic.Contents()
	if err != nil {
		return nil, &EncodingError{Field: "outPublic", Err: err}
	}
	return &ReadPublicResult{
		Public: *pub,
		Name:   rsp.Name,
	}, nil
}

func (d *transportDevice) GetRandom(count uint16) ([]byte, error) {
	start := time.Now()
	rsp, err := tpm2.GetRandom{
		BytesRequested: count,
	}.Execute(d.tpm)
	if err := observe(CommandGetRandom, start, err); err != nil {
		return nil, err
	}
	return rsp.RandomBytes.Buffer, nil
}

func (d *transportDevice) ContextLoad(ctx tpm2.TPMSContext) (tpm2.TPMHandle, error) {
	start := time.Now()
	rsp, err := tpm2.ContextLoad{
		Context: ctx,
	}.Execute(d.tpm)
	if err := observe(CommandContextLoad, start, err); err != nil {
		return 0, err
	}
	return rsp.LoadedHandle, nil
}

func (d *transportDevice) FlushContext(handle tpm2.TPMHandle) error {
	start := time.Now()
	_, err := tpm2.FlushContext{
		FlushHandle: handle,
	}.Execute(d.tpm)
	return observe(CommandFlushContext, start, err)
}

// observe records the round-trip and classifies its error
func observe(command string, start time.Time, err error) error {
	duration := time.Since(start).Seconds()
	if err == nil {
		metrics.RecordCommand(command, metrics.StatusSuccess, duration)
		return nil
	}
	metrics.RecordCommand(command, metrics.StatusError, duration)
	classified := Classify(command, err)
	if code, ok := ResponseCode(classified); ok {
		metrics.RecordResponseCode(command, uint32(code))
	}
	return classified
}

func ensureAuth(auth *Authorization) (*Authorization, error) {
	if auth != nil {
		return auth, nil
	}
	return NewPasswordAuthorization(nil)
}

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
	"fmt"

	"github.com/google/go-tpm/tpm2"
)

var (
	// ErrMalformedIdentifier indicates a key identifier that is not of the
	// form "<hex handle>;<password>"
	ErrMalformedIdentifier = errors.New("tpm2: malformed key identifier")

	// ErrSecretTooLong indicates an authorization secret that does not fit
	// into a TPM2B_AUTH buffer
	ErrSecretTooLong = errors.New("tpm2: authorization secret too long")

	// ErrUnsupportedKeyAlgorithm indicates a public area whose type is not ECC
	ErrUnsupportedKeyAlgorithm = errors.New("tpm2: unsupported key algorithm")

	// ErrUnsupportedCurve indicates an ECC public area on a curve other than NIST P-256
	ErrUnsupportedCurve = errors.New("tpm2: unsupported elliptic curve")

	// ErrSessionNotStarted indicates a command was issued without an initialized session context
	ErrSessionNotStarted = errors.New("tpm2: session context not started")

	// ErrInvalidConfig indicates the configuration is invalid
	ErrInvalidConfig = errors.New("tpm2: invalid configuration")

	// ErrEncoding is the sentinel wrapped by every EncodingError
	ErrEncoding = errors.New("tpm2: encoding error")

	// ErrTimeout indicates a device round-trip exceeded the configured I/O timeout
	ErrTimeout = errors.New("tpm2: command timed out")

	// ErrTransportClosed indicates a send on a transport that has been torn down
	ErrTransportClosed = errors.New("tpm2: transport closed")
)

// DeviceError reports a non-success response code returned by the TPM.
// The numeric code is preserved so callers can match on it with
// errors.Is(err, tpm2.TPMRC(code)).
type DeviceError struct {
	Command string
	Code    tpm2.TPMRC
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("tpm2: %s failed with response code 0x%x: %s",
		e.Command, uint32(e.Code), e.Code.Error())
}

func (e *DeviceError) Unwrap() error {
	return e.Code
}

// PersistenceError reports a failure reading or writing a file-backed artifact
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("tpm2: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// EncodingError reports a malformed or oversized buffer during marshalling
type EncodingError struct {
	Field string
	Err   error
}

func (e *EncodingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrEncoding, e.Field)
	}
	return fmt.Sprintf("%s: %s: %v", ErrEncoding, e.Field, e.Err)
}

func (e *EncodingError) Is(target error) bool {
	return target == ErrEncoding
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// TransportError reports a failure establishing, using or tearing down
// the connection to the resource manager
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("tpm2: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Classify converts an error returned by a go-tpm command into one of the
// package error kinds. TPM response codes become a *DeviceError, anything
// else is a failure of the transport itself.
func Classify(command string, err error) error {
	if err == nil {
		return nil
	}
	var rc tpm2.TPMRC
	if errors.As(err, &rc) {
		return &DeviceError{Command: command, Code: rc}
	}
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return err
	}
	return &TransportError{Op: command, Err: err}
}

// ResponseCode extracts the TPM response code carried by err, if any
func ResponseCode(err error) (tpm2.TPMRC, bool) {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr.Code, true
	}
	return 0, false
}

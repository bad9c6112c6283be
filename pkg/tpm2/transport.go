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
	"strings"
	"sync"
	"time"

	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/linuxudstpm"
	"github.com/google/go-tpm/tpm2/transport/tcp"
)

// Dialer opens the transport a session context sends its commands over
type Dialer func(cfg *Config) (transport.TPMCloser, error)

// simulatorOpener is set by the build-tag specific simulator files
var simulatorOpener func() (transport.TPMCloser, error)

// DefaultDialer opens the embedded simulator, a unix domain socket, a TPM
// character device or the resource manager TCP endpoint, in that order of
// precedence, and applies the configured I/O timeout.
func DefaultDialer(cfg *Config) (transport.TPMCloser, error) {
	tpm, err := openTransport(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		return NewTimeoutTransport(tpm, cfg.Timeout), nil
	}
	return tpm, nil
}

func openTransport(cfg *Config) (transport.TPMCloser, error) {
	switch {
	case cfg.UseSimulator:
		return simulatorOpener()
	case strings.HasSuffix(cfg.DevicePath, ".sock"):
		tpm, err := linuxudstpm.Open(cfg.DevicePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open TPM socket %s: %w", cfg.DevicePath, err)
		}
		return tpm, nil
	case cfg.DevicePath != "":
		tpm, err := transport.OpenTPM(cfg.DevicePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open TPM device %s: %w", cfg.DevicePath, err)
		}
		return tpm, nil
	default:
		tpm, err := tcp.Open(tcp.Config{
			CommandAddress:  cfg.CommandAddress(),
			PlatformAddress: cfg.PlatformAddress(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to resource manager at %s: %w",
				cfg.CommandAddress(), err)
		}
		return tpm, nil
	}
}

// timeoutTransport bounds every Send with a deadline. The underlying
// transports offer no cancellation, so a timed out round-trip leaves the
// connection in an unknown state and every later Send fails until the
// transport is closed and dialed again. Close does not wait for an
// in-flight Send: it closes the underlying transport and the pending Send
// fails with ErrTransportClosed.
type timeoutTransport struct {
	sendMu  sync.Mutex
	mu      sync.Mutex
	tpm     transport.TPMCloser
	timeout time.Duration
	broken  error
	closed  bool
	done    chan struct{}
}

// NewTimeoutTransport wraps tpm so each Send fails with ErrTimeout when the
// TPM has not answered within timeout
func NewTimeoutTransport(tpm transport.TPMCloser, timeout time.Duration) transport.TPMCloser {
	return &timeoutTransport{
		tpm:     tpm,
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

type sendResult struct {
	rsp []byte
	err error
}

func (t *timeoutTransport) Send(cmd []byte) ([]byte, error) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if err := t.usable(); err != nil {
		return nil, err
	}

	result := make(chan sendResult, 1)
	go func() {
		rsp, err := t.tpm.Send(cmd)
		result <- sendResult{rsp: rsp, err: err}
	}()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case res := <-result:
		return res.rsp, res.err
	case <-t.done:
		return nil, ErrTransportClosed
	case <-timer.C:
		t.mu.Lock()
		t.broken = fmt.Errorf("%w after %s", ErrTimeout, t.timeout)
		err := t.broken
		t.mu.Unlock()
		return nil, err
	}
}

func (t *timeoutTransport) usable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	return t.broken
}

func (t *timeoutTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()
	return t.tpm.Close()
}

// IsTimeout reports whether err was caused by an expired I/O timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

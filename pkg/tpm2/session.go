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
	"context"
	"sync"

	"github.com/google/go-tpm/tpm2/transport"
	"github.com/jeremyhahn/go-tpmengine/pkg/logging"
	"github.com/jeremyhahn/go-tpmengine/pkg/metrics"
	"github.com/jeremyhahn/go-tpmengine/pkg/storage"
	"github.com/jeremyhahn/go-tpmengine/pkg/storage/file"
)

// SessionState is the lifecycle state of a SessionContext
type SessionState int

const (
	// SessionNull is the state of a context that has never been started
	SessionNull SessionState = iota

	// SessionInitialized is the state of a context with an open transport
	SessionInitialized

	// SessionDestroyed is the state of a context whose transport was torn down
	SessionDestroyed
)

func (s SessionState) String() string {
	switch s {
	case SessionNull:
		return "null"
	case SessionInitialized:
		return "initialized"
	case SessionDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// SessionOption configures a SessionContext
type SessionOption func(*SessionContext)

// WithDialer replaces the transport dialer
func WithDialer(dial Dialer) SessionOption {
	return func(s *SessionContext) {
		s.dial = dial
	}
}

// WithLogger sets the logger used by the session and its codec
func WithLogger(logger *logging.Logger) SessionOption {
	return func(s *SessionContext) {
		s.logger = logger
	}
}

// WithStore sets the artifact store used by Load
func WithStore(store storage.Backend) SessionOption {
	return func(s *SessionContext) {
		s.store = store
	}
}

// WithDevice replaces the function that builds the command device on top
// of a freshly dialed transport
func WithDevice(newDevice func(transport.TPM) Device) SessionOption {
	return func(s *SessionContext) {
		s.newDevice = newDevice
	}
}

// SessionContext owns the connection to the TPM. It moves from NULL to
// INITIALIZED on Start and from INITIALIZED to DESTROYED on Stop; a
// destroyed context may be started again. Start and Stop are idempotent
// and safe to call concurrently, including from a shutdown hook while a
// command is in flight.
type SessionContext struct {
	mu        sync.Mutex
	opMu      sync.Mutex
	config    *Config
	dial      Dialer
	newDevice func(transport.TPM) Device
	logger    *logging.Logger
	store     storage.Backend
	state     SessionState
	tpm       transport.TPMCloser
	codec     *Codec
}

// NewSessionContext validates cfg and returns a context in the NULL state.
// No connection is made until Start is called.
func NewSessionContext(cfg *Config, opts ...SessionOption) (*SessionContext, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &SessionContext{
		config:    cfg,
		dial:      DefaultDialer,
		newDevice: NewTransportDevice,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewLogger(cfg.Debug > 0)
	}
	if s.store == nil {
		root := cfg.KeyDir
		if root == "" {
			root = "/"
		}
		store, err := file.New(root)
		if err != nil {
			return nil, &PersistenceError{Op: "open", Path: root, Err: err}
		}
		s.store = store
	}
	return s, nil
}

// Config returns the validated configuration
func (s *SessionContext) Config() *Config {
	return s.config
}

// State returns the current lifecycle state
func (s *SessionContext) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start dials the TPM and builds the command codec. Starting an
// initialized context is a no-op. A dial failure is returned as a
// *TransportError and leaves the state unchanged; no retry is attempted.
func (s *SessionContext) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionInitialized {
		return nil
	}

	s.logger.Debugf("tpm2: starting session context (%s)", s.endpoint())
	tpm, err := s.dial(s.config)
	if err != nil {
		s.logger.Errorf("tpm2: failed to start session context: %s", err)
		return &TransportError{Op: "start", Err: err}
	}

	s.tpm = tpm
	s.codec = newCodec(s.newDevice(tpm), s.store, s.config, s.logger)
	s.setState(SessionInitialized)
	return nil
}

// Stop closes the transport. Stopping a context that is not initialized is
// a no-op. The context is DESTROYED afterwards even when closing the
// transport fails; the failure is returned as a *TransportError.
func (s *SessionContext) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionInitialized {
		return nil
	}

	s.logger.Debug("tpm2: stopping session context")
	err := s.tpm.Close()
	s.tpm = nil
	s.codec = nil
	s.setState(SessionDestroyed)
	if err != nil {
		s.logger.Errorf("tpm2: failed to close transport: %s", err)
		return &TransportError{Op: "stop", Err: err}
	}
	return nil
}

// Codec returns the command codec of an initialized context
func (s *SessionContext) Codec() (*Codec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionInitialized {
		return nil, ErrSessionNotStarted
	}
	return s.codec, nil
}

// Do runs fn inside a scoped session: the context is started, fn is run
// with the codec and the context is stopped on every exit path. Calls are
// serialised. The first error encountered is returned.
func (s *SessionContext) Do(fn func(*Codec) error) (err error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.Start(); err != nil {
		return err
	}
	defer func() {
		if stopErr := s.Stop(); err == nil {
			err = stopErr
		}
	}()

	codec, err := s.Codec()
	if err != nil {
		// stopped by a shutdown hook between Start and here
		return err
	}
	return fn(codec)
}

// StopOnDone registers a shutdown hook that stops the context once ctx is
// done. An in-flight command is interrupted and fails. The returned
// function unregisters the hook and reports whether it had not yet run.
func (s *SessionContext) StopOnDone(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		s.logger.Info("tpm2: shutdown requested, stopping session context")
		s.logger.MaybeError(s.Stop())
	})
}

func (s *SessionContext) setState(state SessionState) {
	s.state = state
	metrics.SetSessionState(state.String(), int(state))
}

func (s *SessionContext) endpoint() string {
	switch {
	case s.config.UseSimulator:
		return "simulator"
	case s.config.DevicePath != "":
		return s.config.DevicePath
	default:
		return s.config.CommandAddress()
	}
}

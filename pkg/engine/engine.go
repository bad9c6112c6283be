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

package engine

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jeremyhahn/go-tpmengine/pkg/correlation"
	"github.com/jeremyhahn/go-tpmengine/pkg/logging"
	"github.com/jeremyhahn/go-tpmengine/pkg/metrics"
	"github.com/jeremyhahn/go-tpmengine/pkg/tpm2"
)

const (
	// ID is the engine identifier
	ID = "tpm2e_v2"

	// Name is the human readable engine name
	Name = "TPM 2.0 engine"
)

// Option configures an Engine
type Option func(*options)

type options struct {
	logger         *logging.Logger
	sessionOptions []tpm2.SessionOption
}

// WithLogger sets the engine logger. It is also handed to the session context.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSessionOptions passes options through to the session context
func WithSessionOptions(opts ...tpm2.SessionOption) Option {
	return func(o *options) {
		o.sessionOptions = append(o.sessionOptions, opts...)
	}
}

// Engine is a crypto provider backed by a TPM 2.0. Every operation runs in
// its own scoped session: the connection is opened, the command issued and
// the connection closed again, whatever the outcome.
type Engine struct {
	session *tpm2.SessionContext
	logger  *logging.Logger

	mu         sync.Mutex
	currentKey *tpm2.KeyIdentifier
}

// New returns an engine for cfg. No connection is made until the first
// operation or an explicit Init.
func New(cfg *tpm2.Config, opts ...Option) (*Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if cfg == nil {
		cfg = tpm2.DefaultConfig()
	}
	if o.logger == nil {
		o.logger = logging.NewLogger(cfg.Debug > 0)
	}
	sessionOpts := append([]tpm2.SessionOption{tpm2.WithLogger(o.logger)}, o.sessionOptions...)
	session, err := tpm2.NewSessionContext(cfg, sessionOpts...)
	if err != nil {
		return nil, err
	}
	return &Engine{
		session: session,
		logger:  o.logger.With("engine", ID),
	}, nil
}

// ID returns the engine identifier
func (e *Engine) ID() string {
	return ID
}

// Name returns the human readable engine name
func (e *Engine) Name() string {
	return Name
}

// Session returns the session context owned by the engine
func (e *Engine) Session() *tpm2.SessionContext {
	return e.session
}

// Init starts the session context
func (e *Engine) Init() error {
	e.logger.Debug("engine: init")
	start := time.Now()
	err := e.session.Start()
	e.record(metrics.OpInit, start, err)
	return err
}

// Finish stops the session context
func (e *Engine) Finish() error {
	e.logger.Debug("engine: finish")
	start := time.Now()
	err := e.session.Stop()
	e.record(metrics.OpFinish, start, err)
	return err
}

// Destroy stops the session context. It is safe to call after Finish.
func (e *Engine) Destroy() error {
	e.logger.Debug("engine: destroy")
	start := time.Now()
	err := e.session.Stop()
	e.record(metrics.OpDestroy, start, err)
	return err
}

// StopOnDone stops the session context once ctx is done, interrupting any
// in-flight command. The returned function unregisters the hook.
func (e *Engine) StopOnDone(ctx context.Context) func() bool {
	return e.session.StopOnDone(ctx)
}

// Sign signs digest with the key named by keyID and returns the signature
// as a DER encoded ECDSA-Sig-Value. An empty keyID selects the key most
// recently returned by LoadPrivateKey. Digests longer than 32 bytes are
// truncated.
func (e *Engine) Sign(digest []byte, keyID string) ([]byte, error) {
	return e.SignContext(context.Background(), digest, keyID)
}

// SignContext is Sign with the correlation ID carried by ctx
func (e *Engine) SignContext(ctx context.Context, digest []byte, keyID string) ([]byte, error) {
	sig, err := e.signRaw(ctx, digest, keyID)
	if err != nil {
		return nil, err
	}
	return sig.ASN1()
}

// SignRaw is Sign returning the signature components
func (e *Engine) SignRaw(digest []byte, keyID string) (*tpm2.Signature, error) {
	return e.signRaw(context.Background(), digest, keyID)
}

func (e *Engine) signRaw(ctx context.Context, digest []byte, keyID string) (*tpm2.Signature, error) {
	id, err := e.resolveKey(keyID)
	if err != nil {
		e.record(metrics.OpSign, time.Now(), err)
		return nil, err
	}

	var sig *tpm2.Signature
	err = e.run(ctx, metrics.OpSign, func(codec *tpm2.Codec, logger *logging.Logger) error {
		var err error
		logger.Debugf("engine: signing %d byte digest with key %s", len(digest), id.Redacted())
		sig, err = codec.Sign(digest, id.Handle, id.Secret)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// Verify checks a DER encoded ECDSA signature over digest. Verification is
// done in software; the TPM is not involved.
func (e *Engine) Verify(pub *ecdsa.PublicKey, digest, sig []byte) error {
	start := time.Now()
	err := verify(pub, digest, sig)
	e.record(metrics.OpVerify, start, err)
	return err
}

func verify(pub *ecdsa.PublicKey, digest, sig []byte) error {
	if pub == nil || pub.Curve != elliptic.P256() {
		return ErrUnsupportedPublicKey
	}
	if !ecdsa.VerifyASN1(pub, digest, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// GetRandomBytes fills buf with bytes from the TPM random number
// generator. buf is left untouched on failure.
func (e *Engine) GetRandomBytes(buf []byte) error {
	return e.GetRandomBytesContext(context.Background(), buf)
}

// GetRandomBytesContext is GetRandomBytes with the correlation ID carried by ctx
func (e *Engine) GetRandomBytesContext(ctx context.Context, buf []byte) error {
	if uint64(len(buf)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes", ErrRandomTooLarge, len(buf))
	}
	return e.run(ctx, metrics.OpRandom, func(codec *tpm2.Codec, logger *logging.Logger) error {
		out, err := codec.GetRandom(uint32(len(buf)))
		if err != nil {
			return err
		}
		copy(buf, out)
		return nil
	})
}

// Read implements io.Reader over the TPM random number generator
func (e *Engine) Read(p []byte) (int, error) {
	if err := e.GetRandomBytes(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Status reports whether the random source is seeded. The TPM generator
// needs no seeding, so it always is.
func (e *Engine) Status() bool {
	return true
}

// ReadPublic reads the public key of the object at the handle named by
// keyID. Only the handle is used.
func (e *Engine) ReadPublic(keyID string) (*tpm2.PublicKey, error) {
	id, err := tpm2.ParseKeyIdentifier(keyID)
	if err != nil {
		e.record(metrics.OpReadPublic, time.Now(), err)
		return nil, err
	}

	var pub *tpm2.PublicKey
	err = e.run(context.Background(), metrics.OpReadPublic, func(codec *tpm2.Codec, logger *logging.Logger) error {
		var err error
		pub, err = codec.ReadPublic(id.Handle)
		return err
	})
	return pub, err
}

// LoadPrivateKey reads the public area of the key named by keyID and
// returns a signer bound to it. The key becomes the engine's current key.
func (e *Engine) LoadPrivateKey(keyID string) (*Key, error) {
	id, err := tpm2.ParseKeyIdentifier(keyID)
	if err != nil {
		e.record(metrics.OpLoadKey, time.Now(), err)
		return nil, err
	}

	var pub *ecdsa.PublicKey
	err = e.run(context.Background(), metrics.OpLoadKey, func(codec *tpm2.Codec, logger *logging.Logger) error {
		logger.Debugf("engine: loading private key %s", id.Redacted())
		tpmPub, err := codec.ReadPublic(id.Handle)
		if err != nil {
			return err
		}
		pub, err = tpmPub.ECDSA()
		return err
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.currentKey = id
	e.mu.Unlock()
	return &Key{engine: e, id: id, public: pub}, nil
}

// LoadPublicKey is not supported. Public keys are obtained through
// LoadPrivateKey or ReadPublic.
func (e *Engine) LoadPublicKey(keyID string) (*ecdsa.PublicKey, error) {
	e.record(metrics.OpLoadPublic, time.Now(), ErrNotSupported)
	return nil, ErrNotSupported
}

// LoadKey loads the object persisted in objectDir under the parent whose
// saved context is persisted in parentDir and returns its transient handle.
// The handle is only valid until the session is stopped unless the TPM is
// reached through a resource manager that keeps it alive.
func (e *Engine) LoadKey(parentDir, parentPassword, objectDir string) (uint32, error) {
	var handle uint32
	err := e.run(context.Background(), metrics.OpLoadKey, func(codec *tpm2.Codec, logger *logging.Logger) error {
		h, err := codec.Load(parentDir, parentPassword, objectDir)
		handle = uint32(h)
		return err
	})
	return handle, err
}

// CurrentKey returns the identifier of the key most recently loaded with
// LoadPrivateKey, if any
func (e *Engine) CurrentKey() (*tpm2.KeyIdentifier, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentKey == nil {
		return nil, false
	}
	id := *e.currentKey
	return &id, true
}

func (e *Engine) resolveKey(keyID string) (*tpm2.KeyIdentifier, error) {
	if keyID != "" {
		return tpm2.ParseKeyIdentifier(keyID)
	}
	if id, ok := e.CurrentKey(); ok {
		return id, nil
	}
	return nil, ErrNoKeyLoaded
}

// run executes fn in a scoped session and records the outcome
func (e *Engine) run(ctx context.Context, op string, fn func(*tpm2.Codec, *logging.Logger) error) error {
	logger := e.logger.With(correlation.LogKey, correlation.GetOrGenerate(ctx), "operation", op)
	start := time.Now()
	err := e.session.Do(func(codec *tpm2.Codec) error {
		return fn(codec, logger)
	})
	if err != nil {
		logger.Errorf("engine: %s failed: %s", op, err)
	}
	e.record(op, start, err)
	return err
}

func (e *Engine) record(op string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordOperation(op, metrics.StatusError, duration)
		metrics.RecordError(op, ErrorType(err))
		return
	}
	metrics.RecordOperation(op, metrics.StatusSuccess, duration)
}

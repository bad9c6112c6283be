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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"sync"
	"testing"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/jeremyhahn/go-tpmengine/pkg/logging"
	pkgtpm2 "github.com/jeremyhahn/go-tpmengine/pkg/tpm2"
	"github.com/jeremyhahn/go-tpmengine/pkg/storage"
	"github.com/jeremyhahn/go-tpmengine/pkg/storage/memory"
	"github.com/stretchr/testify/require"
)

const (
	testHandle   = tpm2.TPMHandle(0x81000001)
	testPassword = "pw1"
	testKeyID    = "81000001;pw1"
)

type softKey struct {
	priv     *ecdsa.PrivateKey
	password string
}

// softDevice is a pkgtpm2.Device that signs with software keys
type softDevice struct {
	mu        sync.Mutex
	keys      map[tpm2.TPMHandle]*softKey
	signs     int
	randomErr error
	loaded    tpm2.TPMHandle
}

func newSoftDevice(t *testing.T) *softDevice {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return &softDevice{
		keys: map[tpm2.TPMHandle]*softKey{
			testHandle: {priv: priv, password: testPassword},
		},
		loaded: 0x80000002,
	}
}

func (d *softDevice) key(command string, handle tpm2.TPMHandle) (*softKey, error) {
	key, ok := d.keys[handle]
	if !ok {
		return nil, pkgtpm2.Classify(command, tpm2.TPMRCHandle)
	}
	return key, nil
}

func (d *softDevice) Sign(req pkgtpm2.SignRequest) (*tpm2.TPMTSignature, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signs++
	key, err := d.key(pkgtpm2.CommandSign, req.Handle)
	if err != nil {
		return nil, err
	}
	if string(req.Auth.Secret()) != key.password {
		return nil, pkgtpm2.Classify(pkgtpm2.CommandSign, tpm2.TPMRCAuthFail)
	}
	r, s, err := ecdsa.Sign(rand.Reader, key.priv, req.Digest)
	if err != nil {
		return nil, err
	}
	return &tpm2.TPMTSignature{
		SigAlg: tpm2.TPMAlgECDSA,
		Signature: tpm2.NewTPMUSignature(
			tpm2.TPMAlgECDSA,
			&tpm2.TPMSSignatureECC{
				Hash:       tpm2.TPMAlgSHA256,
				SignatureR: tpm2.TPM2BECCParameter{Buffer: r.Bytes()},
				SignatureS: tpm2.TPM2BECCParameter{Buffer: s.Bytes()},
			},
		),
	}, nil
}

func (d *softDevice) Load(req pkgtpm2.LoadRequest) (*pkgtpm2.LoadResult, error) {
	return &pkgtpm2.LoadResult{
		Handle: d.loaded,
		Name:   tpm2.TPM2BName{Buffer: []byte{0x00, 0x0b, 0x42}},
	}, nil
}

func (d *softDevice) ReadPublic(handle tpm2.TPMHandle) (*pkgtpm2.ReadPublicResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key, err := d.key(pkgtpm2.CommandReadPublic, handle)
	if err != nil {
		return nil, err
	}
	return &pkgtpm2.ReadPublicResult{
		Public: tpm2.TPMTPublic{
			Type:    tpm2.TPMAlgECC,
			NameAlg: tpm2.TPMAlgSHA256,
			Parameters: tpm2.NewTPMUPublicParms(
				tpm2.TPMAlgECC,
				&tpm2.TPMSECCParms{CurveID: tpm2.TPMECCNistP256},
			),
			Unique: tpm2.NewTPMUPublicID(
				tpm2.TPMAlgECC,
				&tpm2.TPMSECCPoint{
					X: tpm2.TPM2BECCParameter{Buffer: key.priv.X.Bytes()},
					Y: tpm2.TPM2BECCParameter{Buffer: key.priv.Y.Bytes()},
				},
			),
		},
	}, nil
}

func (d *softDevice) GetRandom(count uint16) ([]byte, error) {
	if d.randomErr != nil {
		return nil, d.randomErr
	}
	buf := make([]byte, count)
	_, err := rand.Read(buf)
	return buf, err
}

func (d *softDevice) ContextLoad(ctx tpm2.TPMSContext) (tpm2.TPMHandle, error) {
	return 0x80000000, nil
}

func (d *softDevice) FlushContext(handle tpm2.TPMHandle) error {
	return nil
}

// nopTransport satisfies the dialer; commands go to the soft device
type nopTransport struct {
	mu     sync.Mutex
	closes int
}

func (n *nopTransport) Send(cmd []byte) ([]byte, error) {
	return nil, nil
}

func (n *nopTransport) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closes++
	return nil
}

type testDialer struct {
	mu    sync.Mutex
	dials int
	err   error
}

func (d *testDialer) Dial(cfg *pkgtpm2.Config) (transport.TPMCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.dials++
	return &nopTransport{}, nil
}

func (d *testDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// newTestEngine returns an engine over dev with an in-memory key store
func newTestEngine(t *testing.T, dev pkgtpm2.Device) (*Engine, *testDialer, storage.Backend) {
	t.Helper()
	dialer := &testDialer{}
	store := memory.New()
	cfg := pkgtpm2.DefaultConfig()
	cfg.KeyDir = "/keys"
	eng, err := New(cfg,
		WithLogger(logging.NopLogger()),
		WithSessionOptions(
			pkgtpm2.WithDialer(dialer.Dial),
			pkgtpm2.WithDevice(func(transport.TPM) pkgtpm2.Device { return dev }),
			pkgtpm2.WithStore(store),
		))
	require.NoError(t, err)
	return eng, dialer, store
}

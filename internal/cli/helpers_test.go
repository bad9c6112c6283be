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

package cli

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	pkgtpm2 "github.com/jeremyhahn/go-tpmengine/pkg/tpm2"
	"github.com/jeremyhahn/go-tpmengine/pkg/storage"
	"github.com/jeremyhahn/go-tpmengine/pkg/storage/memory"
	"github.com/stretchr/testify/require"
)

const (
	testHandle = tpm2.TPMHandle(0x81000001)
	testKeyID  = "81000001;pw1"
)

// stubDevice signs with a software P-256 key held at testHandle
type stubDevice struct {
	mu        sync.Mutex
	priv      *ecdsa.PrivateKey
	password  string
	randomErr error
	loads     int
	randoms   int
}

func newStubDevice(t *testing.T) *stubDevice {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return &stubDevice{priv: priv, password: "pw1"}
}

func (d *stubDevice) Sign(req pkgtpm2.SignRequest) (*tpm2.TPMTSignature, error) {
	if req.Handle != testHandle {
		return nil, pkgtpm2.Classify(pkgtpm2.CommandSign, tpm2.TPMRCHandle)
	}
	if string(req.Auth.Secret()) != d.password {
		return nil, pkgtpm2.Classify(pkgtpm2.CommandSign, tpm2.TPMRCAuthFail)
	}
	r, s, err := ecdsa.Sign(rand.Reader, d.priv, req.Digest)
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

func (d *stubDevice) Load(req pkgtpm2.LoadRequest) (*pkgtpm2.LoadResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loads++
	return &pkgtpm2.LoadResult{
		Handle: 0x80000001,
		Name:   tpm2.TPM2BName{Buffer: []byte{0x00, 0x0b, 0x01}},
	}, nil
}

func (d *stubDevice) ReadPublic(handle tpm2.TPMHandle) (*pkgtpm2.ReadPublicResult, error) {
	if handle != testHandle {
		return nil, pkgtpm2.Classify(pkgtpm2.CommandReadPublic, tpm2.TPMRCHandle)
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
					X: tpm2.TPM2BECCParameter{Buffer: d.priv.X.Bytes()},
					Y: tpm2.TPM2BECCParameter{Buffer: d.priv.Y.Bytes()},
				},
			),
		},
		Name: tpm2.TPM2BName{Buffer: []byte{0x00, 0x0b, 0x02}},
	}, nil
}

func (d *stubDevice) GetRandom(count uint16) ([]byte, error) {
	d.mu.Lock()
	d.randoms++
	d.mu.Unlock()
	if d.randomErr != nil {
		return nil, d.randomErr
	}
	buf := make([]byte, count)
	for i := range buf {
		buf[i] = 0xAB
	}
	return buf, nil
}

// Randoms returns the number of GetRandom round-trips
func (d *stubDevice) Randoms() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.randoms
}

func (d *stubDevice) ContextLoad(ctx tpm2.TPMSContext) (tpm2.TPMHandle, error) {
	return ctx.SavedHandle, nil
}

func (d *stubDevice) FlushContext(handle tpm2.TPMHandle) error {
	return nil
}

type nopTransport struct{}

func (nopTransport) Send(cmd []byte) ([]byte, error) {
	return nil, errors.New("unexpected raw command")
}

func (nopTransport) Close() error {
	return nil
}

// testApp returns an app whose engine talks to dev and keeps key
// artifacts in store. A nil store leaves the configured store in place.
func testApp(dev pkgtpm2.Device, store storage.Backend) (*app, *bytes.Buffer, *bytes.Buffer) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	a := newApp()
	a.out, a.errOut = stdout, stderr
	a.sessionOptions = []pkgtpm2.SessionOption{
		pkgtpm2.WithDialer(func(*pkgtpm2.Config) (transport.TPMCloser, error) {
			return nopTransport{}, nil
		}),
		pkgtpm2.WithDevice(func(transport.TPM) pkgtpm2.Device { return dev }),
	}
	if store != nil {
		a.sessionOptions = append(a.sessionOptions, pkgtpm2.WithStore(store))
	}
	return a, stdout, stderr
}

// run executes the command line args against dev
func run(t *testing.T, dev pkgtpm2.Device, args ...string) (*app, string, error) {
	t.Helper()
	a, stdout, _ := testApp(dev, memory.New())
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return a, stdout.String(), err
}

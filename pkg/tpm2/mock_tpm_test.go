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
	"math/big"
	"sync"
	"testing"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/jeremyhahn/go-tpmengine/pkg/logging"
	"github.com/jeremyhahn/go-tpmengine/pkg/storage"
	"github.com/jeremyhahn/go-tpmengine/pkg/storage/memory"
)

var (
	ErrMockNoMoreResponses = errors.New("mock: no more responses available")
	ErrMockTransportClosed = errors.New("mock: transport closed")
)

// MockTPMTransport implements transport.TPMCloser for unit testing
// without requiring a real TPM or simulator
type MockTPMTransport struct {
	mu        sync.Mutex
	responses [][]byte
	errors    []error
	idx       int
	commands  [][]byte
	closed    bool
	closes    int
	closeErr  error
}

// NewMockTPMTransport creates a new mock transport with predefined responses
func NewMockTPMTransport(responses ...[]byte) *MockTPMTransport {
	return &MockTPMTransport{
		responses: responses,
		errors:    make([]error, len(responses)),
		commands:  make([][]byte, 0),
	}
}

// Send implements transport.TPM
func (m *MockTPMTransport) Send(cmd []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrMockTransportClosed
	}

	cmdCopy := make([]byte, len(cmd))
	copy(cmdCopy, cmd)
	m.commands = append(m.commands, cmdCopy)

	if m.idx >= len(m.responses) {
		return nil, ErrMockNoMoreResponses
	}
	resp, err := m.responses[m.idx], m.errors[m.idx]
	m.idx++
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Close closes the mock transport
func (m *MockTPMTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closes++
	return m.closeErr
}

// AddResponse adds a response to the queue
func (m *MockTPMTransport) AddResponse(resp []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	m.errors = append(m.errors, err)
}

// GetCommands returns all commands that were sent
func (m *MockTPMTransport) GetCommands() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commands
}

// IsClosed returns whether the transport is closed
func (m *MockTPMTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// CloseCount returns the number of times Close was called
func (m *MockTPMTransport) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// fakeDevice is an in-memory Device that records every request
type fakeDevice struct {
	mu sync.Mutex

	signRequests []SignRequest
	signature    *tpm2.TPMTSignature
	signErr      error

	loadRequests []LoadRequest
	loadResult   *LoadResult
	loadErr      error

	public        *ReadPublicResult
	readPublicErr error

	randomRequests []uint16
	randomErrAt    int
	randomErr      error
	randomChunk    func(call int, want uint16) []byte

	contextLoads  []tpm2.TPMSContext
	contextHandle tpm2.TPMHandle
	contextErr    error
	flushed       []tpm2.TPMHandle
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		signature:     ecdsaSignature(big.NewInt(1), big.NewInt(2)),
		randomErrAt:   -1,
		contextHandle: 0x80000000,
		loadResult: &LoadResult{
			Handle: 0x80000001,
			Name:   tpm2.TPM2BName{Buffer: []byte{0x00, 0x0b, 0xAA, 0xBB}},
		},
	}
}

func (d *fakeDevice) Sign(req SignRequest) (*tpm2.TPMTSignature, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signRequests = append(d.signRequests, req)
	if d.signErr != nil {
		return nil, d.signErr
	}
	return d.signature, nil
}

func (d *fakeDevice) Load(req LoadRequest) (*LoadResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loadRequests = append(d.loadRequests, req)
	if d.loadErr != nil {
		return nil, d.loadErr
	}
	return d.loadResult, nil
}

func (d *fakeDevice) ReadPublic(handle tpm2.TPMHandle) (*ReadPublicResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readPublicErr != nil {
		return nil, d.readPublicErr
	}
	return d.public, nil
}

func (d *fakeDevice) GetRandom(count uint16) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	call := len(d.randomRequests)
	d.randomRequests = append(d.randomRequests, count)
	if call == d.randomErrAt {
		return nil, d.randomErr
	}
	if d.randomChunk != nil {
		return d.randomChunk(call, count), nil
	}
	chunk := make([]byte, count)
	for i := range chunk {
		chunk[i] = byte(call)
	}
	return chunk, nil
}

func (d *fakeDevice) ContextLoad(ctx tpm2.TPMSContext) (tpm2.TPMHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contextLoads = append(d.contextLoads, ctx)
	if d.contextErr != nil {
		return 0, d.contextErr
	}
	return d.contextHandle, nil
}

func (d *fakeDevice) FlushContext(handle tpm2.TPMHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushed = append(d.flushed, handle)
	return nil
}

func ecdsaSignature(r, s *big.Int) *tpm2.TPMTSignature {
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
	}
}

// countingDialer hands out mock transports and counts dials
type countingDialer struct {
	mu         sync.Mutex
	dials      int
	err        error
	transports []*MockTPMTransport
}

func (c *countingDialer) Dial(cfg *Config) (transport.TPMCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.dials++
	tpm := NewMockTPMTransport()
	c.transports = append(c.transports, tpm)
	return tpm, nil
}

func (c *countingDialer) Dials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

func (c *countingDialer) Last() *MockTPMTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.transports) == 0 {
		return nil
	}
	return c.transports[len(c.transports)-1]
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.KeyDir = "/keys"
	return cfg
}

// newTestSession returns a session context backed by a fake device and an
// in-memory artifact store
func newTestSession(t *testing.T, dev Device) (*SessionContext, *countingDialer, storage.Backend) {
	t.Helper()
	dialer := &countingDialer{}
	store := memory.New()
	session, err := NewSessionContext(testConfig(),
		WithDialer(dialer.Dial),
		WithDevice(func(transport.TPM) Device { return dev }),
		WithStore(store),
		WithLogger(logging.NopLogger()))
	if err != nil {
		t.Fatalf("failed to create session context: %v", err)
	}
	return session, dialer, store
}

// newTestCodec returns a codec over dev without a session context
func newTestCodec(dev Device) (*Codec, storage.Backend) {
	store := memory.New()
	return NewCodec(dev, store, testConfig(), logging.NopLogger()), store
}

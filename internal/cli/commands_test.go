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
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-tpm/tpm2"
	"github.com/jeremyhahn/go-tpmengine/pkg/engine"
	"github.com/jeremyhahn/go-tpmengine/pkg/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomHex(t *testing.T) {
	_, out, err := run(t, newStubDevice(t), "random", "40")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ab", 40)+"\n", out)
}

func TestRandomJSONBase64(t *testing.T) {
	_, out, err := run(t, newStubDevice(t), "random", "3", "--encoding", "base64", "-o", "json")
	require.NoError(t, err)

	var result struct {
		Count    int    `json:"count"`
		Encoding string `json:"encoding"`
		Bytes    string `json:"bytes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 3, result.Count)
	assert.Equal(t, "base64", result.Encoding)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0xAB, 0xAB, 0xAB}), result.Bytes)
}

func TestRandomInvalidCount(t *testing.T) {
	for _, arg := range []string{"-1", "many"} {
		_, _, err := run(t, newStubDevice(t), "random", "--", arg)
		assert.ErrorContains(t, err, "invalid byte count", arg)
	}
}

func TestRandomDeviceFailure(t *testing.T) {
	dev := newStubDevice(t)
	dev.randomErr = errors.New("bus error")

	_, out, err := run(t, dev, "random", "8")
	require.Error(t, err)
	assert.Empty(t, out)
}

func TestSignDigest(t *testing.T) {
	dev := newStubDevice(t)
	digest := sha256.Sum256([]byte("hello"))

	_, out, err := run(t, dev, "sign", "--key", testKeyID,
		"--digest", hex.EncodeToString(digest[:]), "--verify")
	require.NoError(t, err)

	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(&dev.priv.PublicKey, digest[:], der))
}

func TestSignFileSHA512(t *testing.T) {
	dev := newStubDevice(t)
	path := filepath.Join(t.TempDir(), "message")
	require.NoError(t, os.WriteFile(path, []byte("a longer message"), 0600))

	_, out, err := run(t, dev, "sign", "-k", testKeyID, "--in", path, "--hash", "sha512", "-o", "json")
	require.NoError(t, err)

	var result map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	der, err := base64.StdEncoding.DecodeString(result["signature"])
	require.NoError(t, err)
	assert.NotEmpty(t, result["r"])
	assert.NotEmpty(t, result["s"])

	digest := sha512.Sum512([]byte("a longer message"))
	assert.True(t, ecdsa.VerifyASN1(&dev.priv.PublicKey, digest[:32], der),
		"the TPM signs the leftmost 32 bytes of the digest")
}

func TestSignErrors(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		contains string
		errType  string
	}{
		{"wrong password", []string{"--key", "81000001;nope", "--digest", "00"}, "", engine.ErrorTypeDevice},
		{"malformed key", []string{"--key", "zz;pw", "--digest", "00"}, "", engine.ErrorTypeMalformedIdentifier},
		{"bad digest", []string{"--key", testKeyID, "--digest", "xyz"}, "invalid digest", engine.ErrorTypeOther},
		{"bad hash", []string{"--key", testKeyID, "--in", "-", "--hash", "md5"}, "unsupported hash", engine.ErrorTypeOther},
		{"no input", []string{"--key", testKeyID}, "", engine.ErrorTypeOther},
		{"both inputs", []string{"--key", testKeyID, "--digest", "00", "--in", "-"}, "", engine.ErrorTypeOther},
		{"no key", []string{"--digest", "00"}, "key", engine.ErrorTypeOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, newStubDevice(t), append([]string{"sign"}, tt.args...)...)
			require.Error(t, err)
			if tt.contains != "" {
				assert.ErrorContains(t, err, tt.contains)
			}
			assert.Equal(t, tt.errType, engine.ErrorType(err))
		})
	}
}

func TestPubkeyPEM(t *testing.T) {
	dev := newStubDevice(t)

	_, out, err := run(t, dev, "pubkey", "--key", "81000001;")
	require.NoError(t, err)

	block, _ := pem.Decode([]byte(out))
	require.NotNil(t, block)
	assert.Equal(t, "PUBLIC KEY", block.Type)
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(t, err)
	assert.True(t, dev.priv.PublicKey.Equal(pub))
}

func TestPubkeyJSON(t *testing.T) {
	dev := newStubDevice(t)

	_, out, err := run(t, dev, "pubkey", "--key", testKeyID, "-o", "json")
	require.NoError(t, err)

	var result map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "0x81000001", result["handle"])
	assert.Equal(t, "P-256", result["curve"])
	assert.Equal(t, hex.EncodeToString(dev.priv.X.Bytes()), result["x"])
	assert.Equal(t, "000b02", result["name"])
	assert.Contains(t, result["pem"], "BEGIN PUBLIC KEY")
}

func TestPubkeyUnknownHandle(t *testing.T) {
	_, _, err := run(t, newStubDevice(t), "pubkey", "--key", "81000002;")
	assert.Equal(t, engine.ErrorTypeDevice, engine.ErrorType(err))
}

func TestLoad(t *testing.T) {
	dev := newStubDevice(t)
	store := memory.New()
	require.NoError(t, store.Put("parent/context", tpm2.Marshal(tpm2.TPMSContext{
		Sequence:    1,
		SavedHandle: 0x80000000,
		Hierarchy:   tpm2.TPMRHOwner,
		ContextBlob: tpm2.TPM2BContextData{Buffer: []byte{0x01}},
	}), nil))
	require.NoError(t, store.Put("object/public", tpm2.Marshal(tpm2.New2B(tpm2.TPMTPublic{
		Type:    tpm2.TPMAlgECC,
		NameAlg: tpm2.TPMAlgSHA256,
		Parameters: tpm2.NewTPMUPublicParms(
			tpm2.TPMAlgECC,
			&tpm2.TPMSECCParms{CurveID: tpm2.TPMECCNistP256},
		),
	})), nil))
	require.NoError(t, store.Put("object/private", tpm2.Marshal(tpm2.TPM2BPrivate{Buffer: []byte{0x02}}), nil))

	a, stdout, _ := testApp(dev, store)
	cmd := newRootCmd(a)
	cmd.SetArgs([]string{"load", "--parent", "parent", "--parent-password", "ppw", "--object", "object"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "0x80000001\n", stdout.String())
	assert.Equal(t, 1, dev.loads)
	name, err := store.Get("object/name")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x03, 0x00, 0x0b, 0x01}, name)
}

func TestLoadMissingArtifacts(t *testing.T) {
	_, _, err := run(t, newStubDevice(t), "load", "--parent", "parent", "--object", "object")
	assert.Equal(t, engine.ErrorTypePersistence, engine.ErrorType(err))
}

func TestLoadReadOnlyKeyDir(t *testing.T) {
	dir := t.TempDir()
	artifacts := map[string][]byte{
		"parent/context": tpm2.Marshal(tpm2.TPMSContext{
			Sequence:    1,
			SavedHandle: 0x80000000,
			Hierarchy:   tpm2.TPMRHOwner,
			ContextBlob: tpm2.TPM2BContextData{Buffer: []byte{0x01}},
		}),
		"object/public": tpm2.Marshal(tpm2.New2B(tpm2.TPMTPublic{
			Type:    tpm2.TPMAlgECC,
			NameAlg: tpm2.TPMAlgSHA256,
			Parameters: tpm2.NewTPMUPublicParms(
				tpm2.TPMAlgECC,
				&tpm2.TPMSECCParms{CurveID: tpm2.TPMECCNistP256},
			),
		})),
		"object/private": tpm2.Marshal(tpm2.TPM2BPrivate{Buffer: []byte{0x02}}),
	}
	for name, data := range artifacts {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
		require.NoError(t, os.WriteFile(path, data, 0600))
	}

	dev := newStubDevice(t)
	a, stdout, _ := testApp(dev, nil)
	cmd := newRootCmd(a)
	cmd.SetArgs([]string{"--key-dir", dir, "--read-only-keys",
		"load", "--parent", "parent", "--parent-password", "ppw", "--object", "object"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "0x80000001\n", stdout.String())
	assert.Equal(t, 1, dev.loads)
	_, err := os.Stat(filepath.Join(dir, "object", "name"))
	assert.True(t, os.IsNotExist(err), "name must not be written to a read-only key directory")
}

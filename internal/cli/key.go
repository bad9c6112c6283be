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
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeremyhahn/go-tpmengine/pkg/tpm2"
	"github.com/spf13/cobra"
)

// supportedHashes are the digests the sign command can compute over --in
var supportedHashes = map[string]crypto.Hash{
	"sha256": crypto.SHA256,
	"sha384": crypto.SHA384,
	"sha512": crypto.SHA512,
}

func newSignCmd(a *app) *cobra.Command {
	var (
		keyID     string
		digestHex string
		inPath    string
		hashName  string
		verify    bool
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a digest with a TPM resident ECDSA key",
		Long: `Sign a digest with the ECDSA P-256 key named by --key. The digest is
either given as hex with --digest or computed over the file named by --in
(use - for stdin). Digests longer than 32 bytes are truncated by the TPM
engine. The DER encoded signature is printed as base64.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			digest, err := readDigest(cmd.InOrStdin(), digestHex, inPath, hashName)
			if err != nil {
				return err
			}
			der, err := a.engine.SignContext(cmd.Context(), digest, keyID)
			if err != nil {
				return err
			}
			if verify {
				pub, err := a.engine.ReadPublic(keyID)
				if err != nil {
					return err
				}
				ecdsaPub, err := pub.ECDSA()
				if err != nil {
					return err
				}
				if err := a.engine.Verify(ecdsaPub, digest, der); err != nil {
					return err
				}
			}
			return a.printer(cmd.OutOrStdout()).PrintSignature(der)
		},
	}
	cmd.Flags().StringVarP(&keyID, "key", "k", "", "key identifier (<hex handle>;<password>)")
	cmd.Flags().StringVar(&digestHex, "digest", "", "hex encoded digest to sign")
	cmd.Flags().StringVar(&inPath, "in", "", "file to hash and sign (- for stdin)")
	cmd.Flags().StringVar(&hashName, "hash", "sha256", "hash used with --in (sha256, sha384, sha512)")
	cmd.Flags().BoolVar(&verify, "verify", false, "verify the signature against the key's public area")
	_ = cmd.MarkFlagRequired("key")
	cmd.MarkFlagsMutuallyExclusive("digest", "in")
	cmd.MarkFlagsOneRequired("digest", "in")
	return cmd
}

// readDigest decodes digestHex or hashes the content of inPath
func readDigest(stdin io.Reader, digestHex, inPath, hashName string) ([]byte, error) {
	if inPath == "" {
		digest, err := hex.DecodeString(strings.TrimPrefix(digestHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid digest: %w", err)
		}
		return digest, nil
	}

	hash, ok := supportedHashes[strings.ToLower(hashName)]
	if !ok {
		return nil, fmt.Errorf("unsupported hash: %s", hashName)
	}
	r := stdin
	if inPath != "-" {
		// #nosec G304 - Input path is provided by the operator
		f, err := os.Open(inPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	h := hash.New()
	if _, err := io.Copy(h, r); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return h.Sum(nil), nil
}

func newPubkeyCmd(a *app) *cobra.Command {
	var keyID string
	cmd := &cobra.Command{
		Use:   "pubkey",
		Short: "Print the public key of a TPM resident ECDSA key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := a.engine.ReadPublic(keyID)
			if err != nil {
				return err
			}
			id, err := tpm2.ParseKeyIdentifier(keyID)
			if err != nil {
				return err
			}
			return a.printer(cmd.OutOrStdout()).PrintPublicKey(uint32(id.Handle), pub)
		},
	}
	cmd.Flags().StringVarP(&keyID, "key", "k", "", "key identifier (<hex handle>;<password>), the password is not used")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newLoadCmd(a *app) *cobra.Command {
	var parentDir, parentPassword, objectDir string
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load a key object under a saved parent context",
		Long: `Load the key object stored in --object (files "public" and "private")
under the parent whose saved context is --parent/context. The object name
is written to --object/name and the transient handle is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := a.engine.LoadKey(parentDir, parentPassword, objectDir)
			if err != nil {
				return err
			}
			return a.printer(cmd.OutOrStdout()).PrintHandle(handle, objectDir)
		},
	}
	cmd.Flags().StringVar(&parentDir, "parent", "", "directory holding the parent context")
	cmd.Flags().StringVar(&parentPassword, "parent-password", "", "parent authorization value")
	cmd.Flags().StringVar(&objectDir, "object", "", "directory holding the object public and private areas")
	_ = cmd.MarkFlagRequired("parent")
	_ = cmd.MarkFlagRequired("object")
	return cmd
}

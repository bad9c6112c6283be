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
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-tpmengine/pkg/engine"
	"github.com/jeremyhahn/go-tpmengine/pkg/tpm2"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintVersion prints build information
func (p *Printer) PrintVersion(info VersionInfo) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(info)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "tpmengine version %s\n", info.Version)
		fmt.Fprintf(p.writer, "Git commit: %s\n", info.Commit)
		fmt.Fprintf(p.writer, "Build date: %s\n", info.BuildDate)
		fmt.Fprintf(p.writer, "Go version: %s\n", info.GoVersion)
		fmt.Fprintf(p.writer, "OS/Arch: %s/%s\n", info.OS, info.Arch)
		fmt.Fprintf(p.writer, "Engine: %s\n", info.EngineID)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintRandom prints random bytes in the given encoding (hex or base64)
func (p *Printer) PrintRandom(data []byte, encoding string) error {
	encoded, err := encode(data, encoding)
	if err != nil {
		return err
	}
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"count":    len(data),
			"encoding": encoding,
			"bytes":    encoded,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, encoded)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSignature prints a DER encoded ECDSA signature as base64
func (p *Printer) PrintSignature(der []byte) error {
	switch p.format {
	case OutputFormatJSON:
		result := map[string]interface{}{
			"signature": base64.StdEncoding.EncodeToString(der),
		}
		if sig, err := tpm2.ParseASN1Signature(der); err == nil {
			result["r"] = hex.EncodeToString(sig.R.Bytes())
			result["s"] = hex.EncodeToString(sig.S.Bytes())
		}
		return p.printJSON(result)
	case OutputFormatText:
		fmt.Fprintln(p.writer, base64.StdEncoding.EncodeToString(der))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintPublicKey prints a TPM public key as a PEM encoded PKIX block
func (p *Printer) PrintPublicKey(handle uint32, pub *tpm2.PublicKey) error {
	der, err := pub.MarshalPKIX()
	if err != nil {
		return err
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"handle": fmt.Sprintf("0x%08x", handle),
			"curve":  "P-256",
			"x":      hex.EncodeToString(pub.Point.X.Bytes()),
			"y":      hex.EncodeToString(pub.Point.Y.Bytes()),
			"name":   hex.EncodeToString(pub.Name.Buffer),
			"pem":    string(pemBytes),
		})
	case OutputFormatText:
		fmt.Fprint(p.writer, string(pemBytes))
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintHandle prints the transient handle of a loaded object
func (p *Printer) PrintHandle(handle uint32, objectDir string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"handle": fmt.Sprintf("0x%08x", handle),
			"object": objectDir,
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "0x%08x\n", handle)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message along with its error class
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"type":   engine.ErrorType(err),
			"error":  err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

func encode(data []byte, encoding string) (string, error) {
	switch encoding {
	case "", "hex":
		return hex.EncodeToString(data), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(data), nil
	default:
		return "", fmt.Errorf("unknown encoding: %s", encoding)
	}
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

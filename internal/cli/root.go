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
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeremyhahn/go-tpmengine/internal/config"
	"github.com/jeremyhahn/go-tpmengine/pkg/engine"
	"github.com/jeremyhahn/go-tpmengine/pkg/logging"
	"github.com/jeremyhahn/go-tpmengine/pkg/tpm2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// envPrefix prefixes the environment variables bound to the global flags
const envPrefix = "TPMENGINE"

// app carries the state shared by every command of one invocation
type app struct {
	v      *viper.Viper
	out    io.Writer
	errOut io.Writer

	// sessionOptions are appended to the engine's session options
	sessionOptions []tpm2.SessionOption

	cfg    *config.Config
	logger *logging.Logger
	engine *engine.Engine
}

func newApp() *app {
	return &app{
		v:      viper.New(),
		out:    os.Stdout,
		errOut: os.Stderr,
	}
}

// Execute runs the root command. The engine is stopped when ctx is done.
func Execute(ctx context.Context) error {
	a := newApp()
	cmd := newRootCmd(a)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		_ = a.printer(a.errOut).PrintError(err)
	}
	return err
}

// newRootCmd builds the command tree around a
func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tpmengine",
		Short: "tpmengine - TPM 2.0 backed signing and randomness",
		Long: `tpmengine drives a TPM 2.0 through its resource manager, a character
device, a unix socket or the embedded simulator.

Keys are addressed as "<hex handle>;<password>", for example
"81000001;secret". Signatures are ECDSA P-256 over SHA-256 sized digests.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	cmd.SetOut(a.out)
	cmd.SetErr(a.errOut)

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (YAML)")
	flags.String("host", tpm2.DefaultHost, "TPM resource manager host")
	flags.Int("port", tpm2.DefaultPort, "TPM resource manager command port")
	flags.String("device", "", "TPM character device or unix socket path")
	flags.Bool("simulator", false, "use the embedded TPM simulator")
	flags.Duration("timeout", tpm2.DefaultTimeout, "timeout of a single TPM round-trip")
	flags.Bool("debug", false, "enable debug logging")
	flags.String("key-dir", "", "directory relative key artifact paths are resolved against")
	flags.Bool("read-only-keys", false, "never write to the key directory, keep loaded names in memory")
	flags.StringP("output", "o", string(OutputFormatText), "output format (text, json)")
	_ = a.v.BindPFlags(flags)

	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	cmd.AddCommand(
		newVersionCmd(a),
		newRandomCmd(a),
		newSignCmd(a),
		newPubkeyCmd(a),
		newLoadCmd(a),
		newServeCmd(a),
	)
	return cmd
}

// setup loads the configuration, applies flag overrides and creates the
// engine. The version command needs none of it.
func (a *app) setup(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}
	format := a.outputFormat()
	if format != OutputFormatText && format != OutputFormatJSON {
		return fmt.Errorf("unknown output format: %s", format)
	}

	cfg, err := config.Load(a.v.GetString("config"))
	if err != nil {
		return err
	}
	a.applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.cfg = cfg
	a.logger = logging.NewLoggerWithFormat(a.errOut, cfg.Logging.Format,
		strings.EqualFold(cfg.Logging.Level, "debug"))

	store, err := cfg.Store()
	if err != nil {
		return err
	}
	opts := append([]tpm2.SessionOption{tpm2.WithStore(store)}, a.sessionOptions...)
	eng, err := engine.New(cfg.TPM2Config(),
		engine.WithLogger(a.logger),
		engine.WithSessionOptions(opts...))
	if err != nil {
		return err
	}
	a.engine = eng
	return nil
}

// applyFlags copies every flag that was set on the command line, or
// through its TPMENGINE_ environment variable, over the file configuration
func (a *app) applyFlags(cfg *config.Config) {
	if a.v.IsSet("host") {
		cfg.TPM.Host = a.v.GetString("host")
	}
	if a.v.IsSet("port") {
		cfg.TPM.Port = a.v.GetInt("port")
	}
	if a.v.IsSet("device") {
		cfg.TPM.DevicePath = a.v.GetString("device")
	}
	if a.v.IsSet("simulator") {
		cfg.TPM.Simulator = a.v.GetBool("simulator")
	}
	if a.v.IsSet("timeout") {
		cfg.TPM.Timeout = a.v.GetDuration("timeout")
	}
	if a.v.IsSet("key-dir") {
		cfg.Storage.KeyDir = a.v.GetString("key-dir")
	}
	if a.v.IsSet("read-only-keys") {
		cfg.Storage.ReadOnly = a.v.GetBool("read-only-keys")
	}
	if a.v.GetBool("debug") {
		cfg.Logging.Level = "debug"
	}
}

func (a *app) outputFormat() OutputFormat {
	return OutputFormat(strings.ToLower(a.v.GetString("output")))
}

func (a *app) printer(w io.Writer) *Printer {
	return NewPrinter(string(a.outputFormat()), w)
}

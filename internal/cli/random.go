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
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newRandomCmd(a *app) *cobra.Command {
	var encoding string
	cmd := &cobra.Command{
		Use:   "random <count>",
		Short: "Read bytes from the TPM random number generator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := strconv.Atoi(args[0])
			if err != nil || count < 0 {
				return fmt.Errorf("invalid byte count: %q", args[0])
			}
			buf := make([]byte, count)
			if err := a.engine.GetRandomBytesContext(cmd.Context(), buf); err != nil {
				return err
			}
			return a.printer(cmd.OutOrStdout()).PrintRandom(buf, encoding)
		},
	}
	cmd.Flags().StringVar(&encoding, "encoding", "hex", "output encoding (hex, base64)")
	return cmd
}

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sarchlab/cachelab/harness"
	"github.com/sarchlab/cachelab/workload"
)

func newTraceCmd(global *globalOptions) *cobra.Command {
	var out outputOptions

	cmd := &cobra.Command{
		Use:   "trace <file>",
		Short: "Replay an access trace.",
		Long: "Replay a trace with one access per line: `r <addr>` or " +
			"`w <addr> <data> [mask]`, hex values, # starts a comment. " +
			"Use - to read from stdin.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := global.load(cmd)
			if err != nil {
				return err
			}
			if err := out.validate(); err != nil {
				return err
			}
			out.apply(cmd, cfg)

			name := "stdin"
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open trace: %w", err)
				}
				defer f.Close()

				name = filepath.Base(args[0])
				in = f
			}

			accesses, err := workload.ParseTrace(in)
			if err != nil {
				return err
			}

			hc := cfg.HarnessConfig()
			hc.Output = cmd.OutOrStdout()
			hc.Logger = logger

			h := harness.NewHarness(hc)
			r, err := h.RunAccesses(cmd.Context(), name, accesses)
			if err != nil {
				return err
			}

			return out.finish(h, cfg, logger, []harness.Result{r})
		},
	}

	out.register(cmd)

	return cmd
}

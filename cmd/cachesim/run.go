package main

import (
	"github.com/spf13/cobra"

	"github.com/sarchlab/cachelab/harness"
)

func newRunCmd(global *globalOptions) *cobra.Command {
	var (
		out      outputOptions
		accesses int
		seed     uint64
		verify   bool
	)

	cmd := &cobra.Command{
		Use:   "run [workload...]",
		Short: "Run synthetic workloads.",
		Long: `Run the named workloads (all standard workloads when none are ` +
			`given). Available: sequential, strided, conflict, random, hotspot.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := global.load(cmd)
			if err != nil {
				return err
			}
			if err := out.validate(); err != nil {
				return err
			}

			if len(args) > 0 {
				cfg.Harness.Workloads = args
			}
			if cmd.Flags().Changed("accesses") {
				cfg.Harness.Accesses = accesses
			}
			if cmd.Flags().Changed("seed") {
				cfg.Cache.Seed = seed
			}
			if cmd.Flags().Changed("verify") {
				cfg.Harness.Verify = verify
			}
			out.apply(cmd, cfg)

			if err := cfg.Validate(); err != nil {
				return err
			}
			workloads, err := cfg.Workloads()
			if err != nil {
				return err
			}

			hc := cfg.HarnessConfig()
			hc.Output = cmd.OutOrStdout()
			hc.Logger = logger

			h := harness.NewHarness(hc)
			h.AddWorkloads(workloads)

			logger.Debug().Str("run_id", h.RunID()).Int("workloads", len(workloads)).Msg("starting run")

			results, err := h.RunAll(cmd.Context())
			if err != nil {
				return err
			}

			return out.finish(h, cfg, logger, results)
		},
	}

	out.register(cmd)
	cmd.Flags().IntVar(&accesses, "accesses", 0, "Accesses per workload")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Seed for workload generation and replacement")
	cmd.Flags().BoolVar(&verify, "verify", true, "Check every read against a reference memory")

	return cmd
}

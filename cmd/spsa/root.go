package main

import (
	"github.com/spf13/cobra"

	"github.com/copyleftdev/spsa/internal/logging"
)

type rootOptions struct {
	logLevel string
	logger   *logging.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "spsa",
		Short: "Minimize objectives with simultaneous perturbation stochastic approximation",
		Long: `spsa runs the SPSA minimizer on the built-in benchmark objectives.
Each iteration estimates the gradient from two evaluations at randomly
perturbed points, so the cost per iteration does not grow with the dimension.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.logger = logging.New(logging.ParseLevel(opts.logLevel), cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newMinimizeCmd(opts))
	cmd.AddCommand(newObjectivesCmd())
	return cmd
}

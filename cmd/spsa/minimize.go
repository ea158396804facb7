package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/copyleftdev/spsa/internal/objectives"
	"github.com/copyleftdev/spsa/internal/optimization"
	"github.com/copyleftdev/spsa/internal/optimization/spsa"
	"github.com/copyleftdev/spsa/internal/trace"
)

type minimizeOptions struct {
	root *rootOptions

	x0       []float64
	seed     uint64
	settings spsa.Settings
	params   objectives.Params
	traceDir string
}

// minimizeResult is written to stdout as JSON.
type minimizeResult struct {
	Objective   string               `json:"objective"`
	Seed        uint64               `json:"seed"`
	Converged   bool                 `json:"converged"`
	Iterations  int                  `json:"iterations"`
	Evaluations int                  `json:"evaluations"`
	Position    []optimization.Float `json:"position"`
	Value       optimization.Float   `json:"value"`
	Elapsed     string               `json:"elapsed"`
	Trace       string               `json:"trace,omitempty"`
	Error       string               `json:"error,omitempty"`
}

func newMinimizeCmd(root *rootOptions) *cobra.Command {
	opts := &minimizeOptions{
		root:     root,
		settings: spsa.DefaultSettings(),
	}

	cmd := &cobra.Command{
		Use:   "minimize <objective>",
		Short: "Minimize a built-in objective",
		Long: `Runs SPSA on the named objective from the starting point given by --x0
and prints the result as JSON. Without --seed a seed is drawn and reported
so that the run can be repeated.`,
		Example: `  spsa minimize sphere --x0 1,1 --seed 60
  spsa minimize weighted-quadratic --x0 1,1,1 --weights 1,10,100 --blocking
  spsa minimize rosenbrock --x0 -1,1.5 --lr 0.05 --max-iterations 2000 --trace ./traces`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("seed") {
				opts.seed = rand.Uint64()
			}
			return runMinimize(cmd, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.Float64SliceVar(&opts.x0, "x0", nil, "Starting point, comma separated (required)")
	f.Uint64Var(&opts.seed, "seed", 0, "Random seed for the perturbations")
	f.StringVar(&opts.traceDir, "trace", "", "Directory to write a JSONL trace of every iteration to")

	f.Float64Var(&opts.settings.Tolerance, "tolerance", spsa.DefaultTolerance, "Stop once the objective changes by less than this")
	f.IntVar(&opts.settings.MaxIterations, "max-iterations", spsa.DefaultMaxIterations, "Maximum number of iterations")
	f.Float64Var(&opts.settings.LR, "lr", spsa.DefaultLR, "Initial learning rate")
	f.Float64Var(&opts.settings.Alpha, "alpha", spsa.DefaultAlpha, "Learning rate decay exponent")
	f.Float64Var(&opts.settings.Perturb, "perturb", spsa.DefaultPerturb, "Initial perturbation size")
	f.Float64Var(&opts.settings.Gamma, "gamma", spsa.DefaultGamma, "Perturbation decay exponent")
	f.BoolVar(&opts.settings.Blocking, "blocking", false, "Reject steps that raise the objective by more than --allowed-increase")
	f.Float64Var(&opts.settings.AllowedIncrease, "allowed-increase", spsa.DefaultAllowedIncrease, "Largest increase accepted when blocking")
	f.BoolVar(&opts.settings.Concurrent, "concurrent", false, "Evaluate the two perturbed points in parallel")
	f.BoolVar(&opts.settings.AbortOnNonFinite, "abort-on-non-finite", false, "Fail when the objective returns NaN or an infinity")

	f.Float64SliceVar(&opts.params.Weights, "weights", nil, "Weights of weighted-quadratic")
	f.Float64Var(&opts.params.NoiseScale, "noise-scale", 0, "Noise standard deviation of noisy objectives")
	f.Uint64Var(&opts.params.NoiseSeed, "noise-seed", 0, "Noise seed of noisy objectives")

	_ = cmd.MarkFlagRequired("x0")
	return cmd
}

func runMinimize(cmd *cobra.Command, name string, opts *minimizeOptions) error {
	objective, err := objectives.Lookup(name, opts.params)
	if err != nil {
		return err
	}

	logger := opts.root.logger.WithFields(map[string]interface{}{
		"objective": name,
		"seed":      opts.seed,
	})
	settings := opts.settings.WithSeed(opts.seed)
	settings.Logger = logger

	var tw *trace.Writer
	if opts.traceDir != "" {
		tw, err = trace.NewWriter(opts.traceDir, uuid.NewString())
		if err != nil {
			return fmt.Errorf("failed to create trace: %w", err)
		}
		defer tw.Close()
		settings.Recorder = tw
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	logger.Info("Starting minimization", map[string]interface{}{
		"dimension":      len(opts.x0),
		"max_iterations": settings.MaxIterations,
	})
	start := time.Now()
	st, runErr := spsa.Minimize(ctx, objective, opts.x0, settings)
	if st == nil {
		return runErr
	}

	result := minimizeResult{
		Objective:   name,
		Seed:        opts.seed,
		Converged:   st.Converged,
		Iterations:  st.NumIterations,
		Evaluations: st.TotalEvaluations(),
		Position:    optimization.Floats(st.Position),
		Value:       optimization.Float(st.ObjectiveValue),
		Elapsed:     time.Since(start).String(),
	}
	if tw != nil {
		if err := tw.Flush(); err != nil {
			return fmt.Errorf("failed to flush trace: %w", err)
		}
		result.Trace = tw.FilePath()
	}
	if runErr != nil {
		result.Error = runErr.Error()
	}

	logger.Info("Minimization finished", map[string]interface{}{
		"converged":  st.Converged,
		"iterations": st.NumIterations,
		"value":      st.ObjectiveValue,
	})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	return runErr
}

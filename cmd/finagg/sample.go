package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vbprojects/finagg/internal/features"
	"github.com/vbprojects/finagg/internal/logging"
	"github.com/vbprojects/finagg/internal/model"
	"github.com/vbprojects/finagg/internal/policy"
)

var (
	sampleWindow        int
	sampleKind          string
	sampleDeterministic bool
	sampleStart         string
	sampleEnd           string
)

var sampleCmd = &cobra.Command{
	Use:   "sample TICKER",
	Short: "Sample the policy over a ticker's stored features",
	Long: `Sample the configured policy over the last --window rows of a
ticker's stored fundamental features and print the result as JSON. The
observation width is taken from the stored frame.`,
	Args: cobra.ExactArgs(1),
	RunE: runSample,
}

func init() {
	sampleCmd.Flags().IntVar(&sampleWindow, "window", 10, "Trailing rows per observation (0 for all)")
	sampleCmd.Flags().StringVar(&sampleKind, "kind", string(model.ViewLast), "View kind (last, all)")
	sampleCmd.Flags().BoolVar(&sampleDeterministic, "deterministic", false, "Take the distribution mode")
	sampleCmd.Flags().StringVar(&sampleStart, "start", "", "First date read, as YYYY-MM-DD")
	sampleCmd.Flags().StringVar(&sampleEnd, "end", "", "Last date read, as YYYY-MM-DD")

	sampleCmd.Flags().String("model", "linear", "Registered model name, or random for the uniform baseline")
	sampleCmd.Flags().String("dist", "categorical", "Action distribution (categorical, gaussian)")
	sampleCmd.Flags().Int("action-dim", 3, "Action dimension")
	sampleCmd.Flags().Uint64("seed", 0, "Sampler seed")
	bindFlag(sampleCmd, "policy.model", "model")
	bindFlag(sampleCmd, "policy.dist", "dist")
	bindFlag(sampleCmd, "policy.action_dim", "action-dim")
	bindFlag(sampleCmd, "policy.seed", "seed")
}

func runSample(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	kind, err := model.ParseViewKind(sampleKind)
	if err != nil {
		return err
	}

	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	frame, err := features.NewFundamental(s).FromStore(ctx, args[0], sampleStart, sampleEnd)
	if err != nil {
		return err
	}
	in, err := features.Observations(frame, sampleWindow)
	if err != nil {
		return err
	}

	pc := cfg.Policy
	pc.ObservationDim = len(frame.Columns())
	p, err := policy.NewSampler(pc, logging.Component(logger, "policy"))
	if err != nil {
		return err
	}
	out, err := p.Sample(in, policy.SampleOptions{
		Kind:          kind,
		Deterministic: sampleDeterministic,
		ReturnLogp:    true,
		ReturnValues:  pc.Model != policy.RandomModel,
	})
	if err != nil {
		return fmt.Errorf("sample %s: %w", args[0], err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out.Nested())
}

package simulate

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/audiorm/internal/conf"
	"github.com/tphakala/audiorm/internal/errors"
	"github.com/tphakala/audiorm/internal/logger"
)

// Command creates the command that replays a scenario file.
func Command(settings *conf.Settings) *cobra.Command {
	var realTime bool

	cmd := &cobra.Command{
		Use:   "simulate [scenario.yaml]",
		Short: "Replay a routing scenario",
		Long:  "Replay a YAML scenario of stream operations and hardware events against in-memory drivers and print the outcome of every step and the final routing.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return Execute(cmd.Context(), settings, f, cmd.OutOrStdout(), realTime)
		},
	}
	cmd.Flags().BoolVar(&realTime, "real-time", false, "Wait the configured drain time on accessory suspend")
	return cmd
}

// Execute decodes a scenario from in, runs it and writes the report to out.
// It fails when a step does not meet its expectation.
func Execute(ctx context.Context, settings *conf.Settings, in io.Reader, out io.Writer, realTime bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sc, err := Decode(in)
	if err != nil {
		return err
	}
	runner, err := NewRunner(settings, realTime)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := runner.Close(); cerr != nil {
			logger.Global().Module("simulate").Warn("teardown failed", logger.Error(cerr))
		}
	}()

	rep, err := runner.Run(ctx, sc)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(rep); err != nil {
		return errors.Newf("encode report: %w", err).Build()
	}
	if err := enc.Close(); err != nil {
		return errors.Newf("encode report: %w", err).Build()
	}
	if rep.Failed() {
		return errors.Newf("scenario %q: some steps did not match their expectation", sc.Name).Build()
	}
	return nil
}

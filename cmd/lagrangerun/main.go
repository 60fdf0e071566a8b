package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Magic-six/experiment/config"
	"github.com/Magic-six/experiment/coordinator"
)

func main() {
	command := &cobra.Command{
		Use:   "lagrangerun",
		Short: "Run a secure multi-party Lagrange interpolation",
	}
	addRunCmd(command)

	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// addRunCmd loads a run's Configuration from a TOML file and drives a
// Coordinator over it, printing the resulting RunRecord.
func addRunCmd(command *cobra.Command) {
	var configPath string
	var verbose bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the protocol once using the given configuration file",
		Args:  cobra.MinimumNArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			record, err := coordinator.Run(context.Background(), coordinator.Config{
				PrimeP:     cfg.PrimeP,
				OrderQ:     cfg.OrderQ,
				GeneratorG: cfg.GeneratorG,
				EvalAt:     cfg.EvalAt,
				N:          cfg.N,
				Profile:    cfg.Profile,
				Deadline:   cfg.Deadline,
				TestMode:   cfg.TestMode,
			})
			if err != nil {
				return err
			}

			printRecord(record)
			if !record.OK {
				return fmt.Errorf("run %s did not succeed: %s", record.RunID, record.ErrKind)
			}
			return nil
		},
	}
	runCmd.Flags().StringVarP(&configPath, "config", "c", "run.toml", "Path to the run configuration file")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	command.AddCommand(runCmd)
}

func printRecord(r *coordinator.RunRecord) {
	log.Info().
		Str("run", r.RunID.String()).
		Int("n", r.ParticipantsN).
		Dur("wall_clock", r.WallClockTotal).
		Int64("compute_ns", r.ComputeNs).
		Int64("network_wait_ns", r.NetworkWaitNs).
		Int64("bytes_sent", r.BytesSent).
		Int64("bytes_recv", r.BytesRecv).
		Bool("ok", r.OK).
		Str("err_kind", r.ErrKind).
		Msg("run record")

	if r.InterpolatedValue != nil {
		fmt.Printf("interpolated f(eval_at) = %s\n", r.InterpolatedValue.String())
	}
	if r.ExpectedValue != nil {
		fmt.Printf("expected    f(eval_at) = %s\n", r.ExpectedValue.String())
	}
}

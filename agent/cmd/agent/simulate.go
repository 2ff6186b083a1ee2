package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/attribstream/attribstream/agent/internal/config"
	"github.com/attribstream/attribstream/agent/internal/simulator"
)

var (
	simRate      int
	simDuration  time.Duration
	simOutput    string
	simCampaigns int
	simChannels  int
	simSeed      int64
	simReturn    float64
	simSessions  int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Write a simulated ad event stream as JSON lines",
	Long: `Generate impressions, clicks and conversions at the given rate and write
them as JSON lines to a file or stdout. No engine or server is involved.

Example:
  attribstream-agent simulate --rate 5000 --duration 30s --output events.jsonl`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().IntVar(&simRate, "rate", config.DefaultEventsPerSecond, "events per second")
	simulateCmd.Flags().DurationVar(&simDuration, "duration", time.Minute, "how long to simulate")
	simulateCmd.Flags().StringVarP(&simOutput, "output", "o", "", "output file (default stdout)")
	simulateCmd.Flags().IntVar(&simCampaigns, "campaigns", config.DefaultCampaigns, "number of campaigns")
	simulateCmd.Flags().IntVar(&simChannels, "channels", len(config.DefaultChannels), "number of channels (1-4)")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 0, "random seed (0 = time based)")
	simulateCmd.Flags().Float64Var(&simReturn, "return-rate", config.DefaultReturnRate, "probability an impression continues an open session (0-1)")
	simulateCmd.Flags().IntVar(&simSessions, "max-sessions", config.DefaultMaxSessions, "cap on open sessions; the oldest is abandoned when full")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	simCfg, err := simulateConfig()
	if err != nil {
		return err
	}
	sim, err := simulator.New(simCfg)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if simOutput != "" {
		f, err := os.Create(simOutput)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	n, err := sim.Stream(ctx, w, simDuration)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	c := sim.Counters()
	fmt.Fprintf(cmd.ErrOrStderr(),
		"simulation complete: %d events in %s (%.0f/sec), %d conversions, %d active sessions\n",
		n, elapsed.Round(time.Millisecond), float64(n)/elapsed.Seconds(), c.Conversions, c.ActiveSessions)
	return nil
}

// simulateConfig builds the simulator settings from the command flags.
func simulateConfig() (simulator.Config, error) {
	if simChannels < 1 || simChannels > len(config.DefaultChannels) {
		return simulator.Config{}, fmt.Errorf("--channels must be between 1 and %d", len(config.DefaultChannels))
	}
	if simReturn < 0 || simReturn > 1 {
		return simulator.Config{}, fmt.Errorf("--return-rate %v is outside [0, 1]", simReturn)
	}
	return simulator.Config{
		Channels:        config.DefaultChannels[:simChannels],
		EventsPerSecond: simRate,
		Campaigns:       simCampaigns,
		ReturnRate:      simReturn,
		MaxSessions:     simSessions,
		Seed:            simSeed,
	}, nil
}

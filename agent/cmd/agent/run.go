package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/attribstream/attribstream/agent/internal/attribution"
	"github.com/attribstream/attribstream/agent/internal/config"
	"github.com/attribstream/attribstream/agent/internal/reporter"
	"github.com/attribstream/attribstream/agent/internal/scraper"
	"github.com/attribstream/attribstream/agent/internal/security"
	"github.com/attribstream/attribstream/agent/internal/shipper"
	"github.com/attribstream/attribstream/agent/internal/simulator"
	"github.com/attribstream/attribstream/agent/internal/telemetry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent",
	RunE:  runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAgent(cmd *cobra.Command, _ []string) error {
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("attribstream-agent starting", "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		return err
	}
	a := cfg.Agent
	level.Set(a.SlogLevel())
	slog.Info("config loaded",
		"source_id", a.SourceID,
		"server_endpoint", a.ServerEndpoint,
		"channels", a.Channels,
		"report_interval", a.ReportInterval,
		"health", a.Health.Type,
	)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)

	engine, err := attribution.New(a.Channels)
	if err != nil {
		return fmt.Errorf("build attribution engine: %w", err)
	}

	var sim *simulator.Simulator
	var counters scraper.CounterSource
	if a.Simulator.Enabled {
		sim, err = simulator.New(simulatorConfig(a))
		if err != nil {
			return fmt.Errorf("build simulator: %w", err)
		}
		counters = sim
	}

	sc, err := scraper.New(a.SourceID, a.Health, counters)
	if err != nil {
		return fmt.Errorf("build health source: %w", err)
	}

	checkCertificates(ctx, a)

	ship := shipper.New(a, metrics)
	rep := reporter.New(reporter.Config{
		SourceID:           a.SourceID,
		Interval:           a.ReportInterval,
		IncludeTransitions: a.IncludeTransitions,
	}, engine, sc, ship, metrics)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ship.Run(gctx)
		return nil
	})
	g.Go(func() error { return rep.Run(gctx) })

	if sim != nil {
		sink := telemetry.NewInstrumentedSink(engine, metrics)
		g.Go(func() error { return sim.Run(gctx, sink) })
	}

	if a.MetricsAddr != "" {
		g.Go(func() error { return telemetry.Serve(gctx, a.MetricsAddr, reg) })
	}

	g.Go(func() error {
		err := config.Watch(gctx, configPath, func(updated *config.Config) {
			level.Set(updated.Agent.SlogLevel())
			if sim != nil {
				sim.SetRate(updated.Agent.Simulator.EventsPerSecond)
			}
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("attribstream-agent shutting down", "pending_records", ship.Pending())
	return err
}

func simulatorConfig(a config.AgentConfig) simulator.Config {
	s := a.Simulator
	return simulator.Config{
		Channels:        a.Channels,
		EventsPerSecond: s.EventsPerSecond,
		Campaigns:       s.Campaigns,
		FillRate:        s.FillRate,
		ReturnRate:      s.ReturnRate,
		MaxSessions:     s.MaxSessions,
		MinValue:        s.MinValue,
		MaxValue:        s.MaxValue,
		Seed:            s.Seed,
		Weights: simulator.Weights{
			Impression: s.Weights.Impression,
			Click:      s.Weights.Click,
			Conversion: s.Weights.Conversion,
		},
	}
}

// checkCertificates logs the TLS state of every HTTPS endpoint the agent uses.
func checkCertificates(ctx context.Context, a config.AgentConfig) {
	endpoints := []struct {
		url      string
		insecure bool
	}{
		{a.ServerEndpoint, false},
	}
	if a.Health.Type == "prometheus" {
		endpoints = append(endpoints, struct {
			url      string
			insecure bool
		}{a.Health.Endpoint, a.Health.TLS.InsecureSkipVerify})
	}
	for _, ep := range endpoints {
		cs := security.Check(ctx, ep.url, ep.insecure)
		if cs == nil {
			continue
		}
		switch cs.Status {
		case security.StatusValid:
			slog.Info("security: certificate ok", "endpoint", cs.Endpoint, "days_left", cs.DaysLeft)
		case security.StatusExpiring:
			slog.Warn("security: certificate expiring", "endpoint", cs.Endpoint,
				"days_left", cs.DaysLeft, "issuer", cs.Issuer)
		default:
			slog.Warn("security: certificate check failed", "endpoint", cs.Endpoint, "status", cs.Status)
		}
	}
}

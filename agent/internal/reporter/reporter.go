// Package reporter periodically turns the attribution engine's snapshot and
// the latest campaign health into a MetricsRecord and hands it to the
// shipper.
package reporter

import (
	"context"
	"log/slog"
	"time"

	"github.com/attribstream/attribstream/agent/internal/attribution"
	"github.com/attribstream/attribstream/agent/internal/compute"
	"github.com/attribstream/attribstream/agent/internal/scraper"
	"github.com/attribstream/attribstream/agent/internal/telemetry"
	"github.com/attribstream/attribstream/pkg/types"
)

// Snapshotter is the read side of the attribution engine.
type Snapshotter interface {
	Snapshot() attribution.ScoreSnapshot
}

// Sink receives finished records. *shipper.Shipper satisfies it.
type Sink interface {
	Ship(rec *types.MetricsRecord)
}

// Config controls one Reporter.
type Config struct {
	SourceID           string
	Interval           time.Duration
	IncludeTransitions bool
}

// Reporter publishes a record every Interval.
type Reporter struct {
	cfg     Config
	engine  Snapshotter
	scraper scraper.Scraper
	health  *compute.Engine
	sink    Sink
	metrics *telemetry.Metrics
	now     func() time.Time
}

// New wires a Reporter. m may be nil.
func New(cfg Config, engine Snapshotter, sc scraper.Scraper, sink Sink, m *telemetry.Metrics) *Reporter {
	return &Reporter{
		cfg:     cfg,
		engine:  engine,
		scraper: sc,
		health:  compute.NewEngine(),
		sink:    sink,
		metrics: m,
		now:     time.Now,
	}
}

// Run reports on every tick until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	// Prime the health baseline so the first shipped record has rates.
	r.scrape(ctx, r.now())

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Report(ctx)
		}
	}
}

// Report builds one record from the current state, ships it and returns it.
func (r *Reporter) Report(ctx context.Context) *types.MetricsRecord {
	now := r.now()
	h := r.scrape(ctx, now)
	snap := r.engine.Snapshot()

	rec := BuildRecord(r.cfg.SourceID, snap, h, r.cfg.IncludeTransitions)

	r.metrics.ObserveReport(rec.Attribution, rec.Health.Score, rec.AttributionStats.Confidence)
	r.sink.Ship(rec)

	slog.Debug("reporter: record shipped",
		"source", rec.SourceID,
		"conversions", rec.TotalConversions,
		"state", rec.Health.State,
		"score", rec.Health.Score,
	)
	return rec
}

func (r *Reporter) scrape(ctx context.Context, now time.Time) *compute.Result {
	res, err := r.scraper.Scrape(ctx)
	if err != nil {
		res = &scraper.ScrapeResult{SourceID: r.cfg.SourceID, Err: err, Counters: map[string]float64{}}
	}
	res.SourceID = r.cfg.SourceID
	return r.health.Process(res, now)
}

// BuildRecord assembles a wire record from an engine snapshot and the
// derived health. h may be nil, in which case health reads as unknown.
func BuildRecord(sourceID string, snap attribution.ScoreSnapshot, h *compute.Result, includeTransitions bool) *types.MetricsRecord {
	rec := &types.MetricsRecord{
		SourceID:           sourceID,
		Attribution:        snap.Shares,
		ChannelValue:       snap.ChannelValue,
		ChannelConversions: snap.ChannelConversions,
		Channels:           snap.Channels,
		TotalConversions:   snap.TotalConversions,
		TotalValue:         snap.TotalValue,
		Model:              snap.Model,
		AttributionStats: types.AttributionStats{
			Confidence: compute.Confidence(snap.TotalConversions),
		},
		SnapshotAt: snap.Timestamp.UTC(),
		Health:     types.Health{State: types.StateUnknown},
	}
	if h != nil {
		rec.Health = types.Health{
			FillRate:       h.FillRate,
			CTR:            h.CTR,
			ConversionRate: h.ConversionRate,
			FrequencyAvg:   h.FrequencyAvg,
			Score:          h.Score,
			State:          h.State,
			UptimePct:      h.UptimePct,
			Error:          h.ErrorMessage,
		}
		rec.EventsPerSec = h.EventsPerSec
		rec.TotalEvents = h.TotalEvents
	}
	if includeTransitions {
		rec.Transitions = &types.Transitions{
			States: snap.Transitions.States,
			Counts: snap.Transitions.Counts,
		}
	}
	return rec
}

// Package compute derives campaign health from raw scraper counters.
//
// score.go holds the pure Compute(Input) function: fill rate (40%), CTR
// (30%), conversion rate (20%) and frequency (10%) combine into a 0–100
// score. It also defines Confidence, the attribution confidence reported
// next to the shares.
//
// engine.go holds the stateful Engine that keeps per-source baselines and
// derives interval rates from counter deltas. Engine.Process takes the
// current time explicitly so tests are deterministic.
//
// Health state thresholds: Healthy ≥85, Degraded 60–84, Critical <60, Unknown.
package compute

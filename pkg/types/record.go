package types

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Health state values carried in Health.State.
const (
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateCritical = "critical"
	StateUnknown  = "unknown"
)

// MetricsRecord is one published attribution snapshot augmented with
// campaign health metrics.
type MetricsRecord struct {
	// SourceID identifies the publishing agent (one engine instance).
	SourceID string `json:"source_id" binding:"required"`

	// Attribution holds the per-channel share of credited value (0–1).
	Attribution map[string]float64 `json:"attribution" binding:"dive,gte=0,lte=1"`
	// ChannelValue is the credited conversion value per channel.
	ChannelValue map[string]float64 `json:"channel_value" binding:"dive,gte=0"`
	// ChannelConversions is the credited conversion count per channel.
	ChannelConversions map[string]float64 `json:"channel_conversions" binding:"dive,gte=0"`
	// Channels lists the channel names in registry order.
	Channels []string `json:"channels"`

	TotalConversions int64   `json:"total_conversions" binding:"gte=0"`
	TotalValue       float64 `json:"total_value" binding:"gte=0"`
	Model            string  `json:"model"`

	Health           Health           `json:"health"`
	AttributionStats AttributionStats `json:"attribution_stats"`

	EventsPerSec float64 `json:"events_sec" binding:"gte=0"`
	TotalEvents  int64   `json:"total_events" binding:"gte=0"`

	// Transitions is included only when the agent enables it.
	Transitions *Transitions `json:"transitions,omitempty"`

	SnapshotAt time.Time `json:"snapshot_at"`
}

// Health is the campaign health section of a record. Rates are fractions
// (0–1), FrequencyAvg is impressions per user, Score is 0–100.
type Health struct {
	FillRate       float64 `json:"fill_rate" binding:"gte=0"`
	CTR            float64 `json:"ctr" binding:"gte=0"`
	ConversionRate float64 `json:"conversion_rate" binding:"gte=0"`
	FrequencyAvg   float64 `json:"frequency_avg" binding:"gte=0"`
	Score          float64 `json:"score" binding:"gte=0,lte=100"`
	State          string  `json:"state" binding:"omitempty,oneof=healthy degraded critical unknown"`
	UptimePct      float64 `json:"uptime_pct" binding:"gte=0,lte=100"`
	// Error is non-empty when the health source could not be scraped.
	Error string `json:"error,omitempty"`
}

// AttributionStats carries quality indicators about the attribution data.
type AttributionStats struct {
	// Confidence is 0–1 and grows with the number of observed conversions.
	Confidence float64 `json:"confidence" binding:"gte=0,lte=1"`
}

// Transitions is the transition count matrix. States labels rows and
// columns: channels, then START, then CONVERSION.
type Transitions struct {
	States []string   `json:"states"`
	Counts [][]uint64 `json:"counts"`
}

// Share returns the attribution share for channel, 0 when absent.
func (r *MetricsRecord) Share(channel string) float64 {
	return r.Attribution[channel]
}

// shareTolerance absorbs float rounding when shares or values are summed.
const shareTolerance = 1e-6

// Validate checks the constraints that span fields. Per-field ranges are
// declared as binding tags and enforced when the record is bound; Validate
// repeats the ones a hand-built record could still violate.
func (r *MetricsRecord) Validate() error {
	if r.SourceID == "" {
		return errors.New("source_id is required")
	}
	if r.TotalConversions < 0 {
		return fmt.Errorf("total_conversions %d must not be negative", r.TotalConversions)
	}
	if !finiteNonNegative(r.TotalValue) {
		return fmt.Errorf("total_value %v must be a finite non-negative number", r.TotalValue)
	}

	var shares float64
	for ch, s := range r.Attribution {
		if s < 0 || s > 1 || math.IsNaN(s) {
			return fmt.Errorf("attribution[%q] = %v is outside [0, 1]", ch, s)
		}
		shares += s
	}
	if shares > 1+shareTolerance {
		return fmt.Errorf("attribution shares sum to %v, want at most 1", shares)
	}

	var credited float64
	for ch, v := range r.ChannelValue {
		if !finiteNonNegative(v) {
			return fmt.Errorf("channel_value[%q] = %v must be a finite non-negative number", ch, v)
		}
		credited += v
	}
	if credited > r.TotalValue*(1+shareTolerance)+shareTolerance {
		return fmt.Errorf("channel_value sums to %v, more than total_value %v", credited, r.TotalValue)
	}
	for ch, n := range r.ChannelConversions {
		if !finiteNonNegative(n) {
			return fmt.Errorf("channel_conversions[%q] = %v must be a finite non-negative number", ch, n)
		}
	}

	if r.Transitions != nil {
		n := len(r.Transitions.States)
		if len(r.Transitions.Counts) != n {
			return fmt.Errorf("transitions: %d rows for %d states", len(r.Transitions.Counts), n)
		}
		for i, row := range r.Transitions.Counts {
			if len(row) != n {
				return fmt.Errorf("transitions: row %d has %d columns, want %d", i, len(row), n)
			}
		}
	}
	return nil
}

func finiteNonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}

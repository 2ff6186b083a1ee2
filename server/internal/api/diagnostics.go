package api

import (
	"fmt"
	"sort"

	"github.com/attribstream/attribstream/pkg/types"
)

// Thresholds used by the diagnostics.
const (
	dominantShare       = 0.80
	lowConfidence       = 0.75
	veryLowConfidence   = 0.50
	maxFrequency        = 5.0
	lastTouchModel      = "last_touch"
	transitionsStateCol = 2 // START and CONVERSION follow the channels
)

// DiagnosticHint is one human-readable insight about a source's attribution
// and campaign health. The UI displays these as chips on the source card;
// clicking one shows Detail.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier (used for dedup/ordering).
	Key string `json:"key"`
	// Level is "critical" | "warning" | "info" | "ok"
	Level string `json:"level"`
	// Title is a short label shown on the chip (≤ 5 words).
	Title string `json:"title"`
	// Detail is the full explanation shown on click/hover.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint (e.g. a share).
	Value *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "ok": 2, "info": 3}

// computeDiagnostics derives diagnostic hints from a record, ordered
// critical first, then warnings, the all-clear, then info.
func computeDiagnostics(rec *types.MetricsRecord) []DiagnosticHint {
	var hints []DiagnosticHint

	// ── Health source failure ────────────────────────────────────────────────
	if rec.Health.Error != "" {
		hints = append(hints, DiagnosticHint{
			Key:   "health_scrape_failed",
			Level: "critical",
			Title: "Can't reach ad server",
			Detail: fmt.Sprintf(
				"The agent couldn't collect campaign counters from its health source. "+
					"It last tried and got: \"%s\". Attribution keeps working, but fill rate, "+
					"CTR and frequency are frozen until the source is reachable again.",
				rec.Health.Error,
			),
		})
	}

	// ── Warming up (no baseline, nothing converted yet) ──────────────────────
	if rec.TotalConversions == 0 && (rec.Health.State == "" || rec.Health.State == types.StateUnknown) && rec.Health.Error == "" {
		return []DiagnosticHint{{
			Key:   "warming_up",
			Level: "info",
			Title: "Warming up",
			Detail: "The agent has just started. Health metrics are calculated from the difference " +
				"between two consecutive reports and no conversion has been recorded yet, " +
				"so numbers will appear after the next report cycle. No action needed.",
		}}
	}

	// ── No conversions ───────────────────────────────────────────────────────
	if rec.TotalConversions == 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "no_conversions",
			Level: "warning",
			Title: "No conversions yet",
			Detail: "Traffic is flowing but no conversion has completed a path, so every channel " +
				"share is zero. Check that conversion events reach the agent and that their " +
				"touchpoints use registered channel names.",
		})
	}

	// ── Campaign health state ────────────────────────────────────────────────
	switch rec.Health.State {
	case types.StateCritical, types.StateDegraded:
		level := "warning"
		if rec.Health.State == types.StateCritical {
			level = "critical"
		}
		v := rec.Health.Score
		hints = append(hints, DiagnosticHint{
			Key:   "campaign_health",
			Level: level,
			Title: fmt.Sprintf("Health %.0f/100", v),
			Detail: fmt.Sprintf(
				"Campaign health is %s: fill rate %.1f%%, CTR %.2f%%, conversion rate %.1f%%, "+
					"frequency %.1f per user. The score weighs fill rate 40%%, CTR 30%%, "+
					"conversion rate 20%% and frequency 10%%.",
				rec.Health.State, rec.Health.FillRate*100, rec.Health.CTR*100,
				rec.Health.ConversionRate*100, rec.Health.FrequencyAvg,
			),
			Value: &v,
		})
	}

	// ── Frequency ────────────────────────────────────────────────────────────
	if rec.Health.FrequencyAvg > maxFrequency {
		v := rec.Health.FrequencyAvg
		hints = append(hints, DiagnosticHint{
			Key:   "high_frequency",
			Level: "warning",
			Title: "Viewer fatigue risk",
			Detail: fmt.Sprintf(
				"Users see on average %.1f impressions each, above the cap of %.0f. "+
					"Repeated exposure tends to lower CTR; consider a frequency cap per campaign.",
				v, maxFrequency,
			),
			Value: &v,
		})
	}

	// ── Dominant channel ─────────────────────────────────────────────────────
	if ch, share := topChannel(rec); rec.TotalConversions > 0 && len(rec.Attribution) > 1 && share >= dominantShare {
		v := share
		hints = append(hints, DiagnosticHint{
			Key:   "dominant_channel",
			Level: "warning",
			Title: fmt.Sprintf("%s dominates", ch),
			Detail: fmt.Sprintf(
				"%s receives %.0f%% of all credited value. Either the other channels rarely end "+
					"a path, or most paths touch only %s. Last-touch credit exaggerates this: "+
					"channels that open or assist paths get nothing.",
				ch, share*100, ch,
			),
			Value: &v,
		})
	}

	// ── Confidence ───────────────────────────────────────────────────────────
	if c := rec.AttributionStats.Confidence; rec.TotalConversions > 0 && c < lowConfidence {
		level := "info"
		if c < veryLowConfidence {
			level = "warning"
		}
		v := c
		hints = append(hints, DiagnosticHint{
			Key:   "low_confidence",
			Level: level,
			Title: fmt.Sprintf("%.0f%% confidence", c*100),
			Detail: fmt.Sprintf(
				"Only %d conversions have been observed, so channel shares can still move a lot "+
					"with each new conversion. Confidence grows as n/(n+50); treat the split as "+
					"indicative until it passes 75%%.",
				rec.TotalConversions,
			),
			Value: &v,
		})
	}

	// ── All clear ────────────────────────────────────────────────────────────
	if !hasProblem(hints) {
		score := rec.Health.Score
		hints = append(hints, DiagnosticHint{
			Key:   "healthy",
			Level: "ok",
			Title: "All clear",
			Detail: fmt.Sprintf(
				"Attribution is flowing with %d conversions credited and campaign health at %.0f/100. "+
					"Keep an eye on the channel split over time; a sudden swing usually means "+
					"a campaign was paused or a tracking tag broke.",
				rec.TotalConversions, score,
			),
			Value: &score,
		})
	}

	// ── Removal-effect gap ───────────────────────────────────────────────────
	if rec.Model == lastTouchModel && rec.TotalConversions > 0 {
		detail := "Credit goes entirely to the last channel on each path. The agent also records " +
			"channel-to-channel transitions, but they are not used for scoring yet, so " +
			"removal-effect credit for channels that open or assist paths is not computed."
		if n := assistTransitions(rec.Transitions); n > 0 {
			detail += fmt.Sprintf(" %d recorded transitions between channels currently earn no credit.", n)
		}
		hints = append(hints, DiagnosticHint{
			Key:    "removal_effect_gap",
			Level:  "info",
			Title:  "Last-touch only",
			Detail: detail,
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}

func hasProblem(hints []DiagnosticHint) bool {
	for _, h := range hints {
		if h.Level == "critical" || h.Level == "warning" {
			return true
		}
	}
	return false
}

// topChannel returns the channel with the largest share; ties go to the
// name that sorts first.
func topChannel(rec *types.MetricsRecord) (string, float64) {
	var best string
	var bestShare float64
	for _, ch := range sortedKeys(rec.Attribution) {
		if s := rec.Attribution[ch]; s > bestShare {
			best, bestShare = ch, s
		}
	}
	return best, bestShare
}

// assistTransitions counts channel→channel transitions, the moves a
// removal-effect model would credit and last-touch ignores.
func assistTransitions(t *types.Transitions) uint64 {
	if t == nil {
		return 0
	}
	channels := len(t.States) - transitionsStateCol
	var n uint64
	for i := 0; i < channels && i < len(t.Counts); i++ {
		for j := 0; j < channels && j < len(t.Counts[i]); j++ {
			if i != j {
				n += t.Counts[i][j]
			}
		}
	}
	return n
}

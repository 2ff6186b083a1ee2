package compute

import "github.com/attribstream/attribstream/pkg/types"

// Weight constants for the health score formula.
// They must sum to 1.0.
const (
	weightFill       = 0.40
	weightCTR        = 0.30
	weightConversion = 0.20
	weightFrequency  = 0.10
)

// State constants returned by the score calculator.
const (
	StateHealthy  = types.StateHealthy
	StateDegraded = types.StateDegraded
	StateCritical = types.StateCritical
	StateUnknown  = types.StateUnknown
)

// Thresholds that map a score to a health state.
const (
	ThresholdHealthy  = 85.0
	ThresholdDegraded = 60.0
)

// Campaign targets. A rate at or above its target earns full credit.
const (
	TargetFillRate       = 0.90
	TargetCTR            = 0.015
	TargetConversionRate = 0.05
	// FrequencyCap is the impressions-per-user level above which the
	// frequency factor starts losing credit.
	FrequencyCap = 5.0
)

// Input holds the interval rates fed into the health score formula.
type Input struct {
	// HasTraffic is false when no ad request was seen in the interval.
	HasTraffic bool

	FillRate       float64 // fills / requests
	CTR            float64 // clicks / impressions
	ConversionRate float64 // conversions / clicks
	FrequencyAvg   float64 // impressions / users
}

// Output is the result of the health score calculation.
type Output struct {
	// Score is the composite health score in the range 0–100.
	Score float64

	// State is one of: "healthy", "degraded", "critical", "unknown".
	State string

	// The four factor values (each 0–1) used to compute Score.
	FillFactor       float64
	CTRFactor        float64
	ConversionFactor float64
	FrequencyFactor  float64
}

// Compute calculates the campaign health score:
//
//	score = (
//	    min(fill/0.90, 1)   * 0.40 +
//	    min(ctr/0.015, 1)   * 0.30 +
//	    min(conv/0.05, 1)   * 0.20 +
//	    min(5/freq, 1)      * 0.10
//	) * 100
//
// An interval without traffic is "unknown".
func Compute(in Input) Output {
	if !in.HasTraffic {
		return Output{State: StateUnknown}
	}

	fillFactor := clamp01(in.FillRate / TargetFillRate)
	ctrFactor := clamp01(in.CTR / TargetCTR)
	convFactor := clamp01(in.ConversionRate / TargetConversionRate)

	freqFactor := 1.0
	if in.FrequencyAvg > FrequencyCap {
		freqFactor = clamp01(FrequencyCap / in.FrequencyAvg)
	}

	score := (fillFactor*weightFill +
		ctrFactor*weightCTR +
		convFactor*weightConversion +
		freqFactor*weightFrequency) * 100

	return Output{
		Score:            score,
		State:            stateFromScore(score),
		FillFactor:       fillFactor,
		CTRFactor:        ctrFactor,
		ConversionFactor: convFactor,
		FrequencyFactor:  freqFactor,
	}
}

// Confidence rates how much the attribution shares can be trusted given n
// observed conversions: n/(n+50), so 50 conversions give 0.5.
func Confidence(n int64) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n) / float64(n+confidenceHalf)
}

const confidenceHalf = 50

// stateFromScore maps a numeric score to a named health state.
func stateFromScore(score float64) string {
	switch {
	case score >= ThresholdHealthy:
		return StateHealthy
	case score >= ThresholdDegraded:
		return StateDegraded
	default:
		return StateCritical
	}
}

// clamp01 restricts v to the range [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package alerts

import (
	"fmt"

	"github.com/attribstream/attribstream/server/internal/config"
)

// Categories used by the built-in rules.
const (
	CategoryCampaignHealth = "Campaign Health"
	CategoryAdOperations   = "Ad Operations"
	CategoryDataQuality    = "Data Quality"
)

// DefaultRules returns the campaign thresholds applied when the config file
// has no alerts.rules key.
func DefaultRules() []config.AlertRule {
	return []config.AlertRule{
		{Name: "low-fill-rate", Condition: "fill_rate < 0.90", Severity: SeverityCritical, Category: CategoryCampaignHealth},
		{Name: "high-frequency", Condition: "frequency_avg > 5.0", Severity: SeverityWarning, Category: CategoryAdOperations},
		{Name: "low-confidence", Condition: "confidence < 0.75", Severity: SeverityInfo, Category: CategoryDataQuality},
		{Name: "low-ctr", Condition: "ctr < 0.015", Severity: SeverityWarning, Category: CategoryCampaignHealth},
	}
}

// describe renders the dashboard message for a firing rule. The built-in
// conditions get a domain sentence; everything else a generic one.
func describe(r config.AlertRule, c condition, sourceID string, value float64) string {
	switch {
	case c.field == "fill_rate" && (c.op == "<" || c.op == "<="):
		return fmt.Sprintf("Fill rate dropped to %.1f%% on %s (target: >%.0f%%)", value*100, sourceID, c.threshold*100)
	case c.field == "frequency_avg" && (c.op == ">" || c.op == ">="):
		return fmt.Sprintf("High frequency detected on %s (%.1f). Viewer fatigue risk.", sourceID, value)
	case c.field == "confidence" && (c.op == "<" || c.op == "<="):
		return fmt.Sprintf("Low attribution confidence on %s (%.1f%%). Needs more conversions.", sourceID, value*100)
	case c.field == "ctr" && (c.op == "<" || c.op == "<="):
		return fmt.Sprintf("CTR dropped to %.2f%% on %s (target: >%.1f%%)", value*100, sourceID, c.threshold*100)
	case c.field == "state":
		return fmt.Sprintf("%s: %s is %s", r.Name, sourceID, c.state)
	default:
		return fmt.Sprintf("%s fired on %s: %s (value %.3f)", r.Name, sourceID, r.Condition, value)
	}
}

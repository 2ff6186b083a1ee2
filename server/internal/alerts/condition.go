package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/attribstream/attribstream/pkg/types"
)

// condition is a parsed "field op value" rule expression.
//
// Supported expressions:
//
//	fill_rate < 0.9
//	ctr < 0.015
//	conversion_rate < 0.02
//	frequency_avg > 5
//	confidence < 0.75
//	health_score < 60
//	events_sec < 100
//	total_conversions >= 1000
//	total_value > 50000
//	share:Search > 0.8
//	state == critical
type condition struct {
	field     string
	channel   string // share:<channel> only
	op        string
	threshold float64
	state     string // state comparisons only
}

// healthFields are derived from campaign health and carry no meaning while
// the health state is unknown.
var healthFields = map[string]bool{
	"fill_rate":       true,
	"ctr":             true,
	"conversion_rate": true,
	"frequency_avg":   true,
	"health_score":    true,
}

var numericFields = map[string]bool{
	"fill_rate":         true,
	"ctr":               true,
	"conversion_rate":   true,
	"frequency_avg":     true,
	"confidence":        true,
	"health_score":      true,
	"events_sec":        true,
	"total_conversions": true,
	"total_value":       true,
}

// parseCondition compiles a rule expression, rejecting unknown fields and operators.
func parseCondition(expr string) (condition, error) {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"field op value\"", expr)
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	if field == "state" {
		if op != "==" && op != "!=" {
			return condition{}, fmt.Errorf("condition %q: state supports == and != only", expr)
		}
		return condition{field: field, op: op, state: rhs}, nil
	}

	c := condition{field: field, op: op}
	switch {
	case strings.HasPrefix(field, "share:"):
		c.field, c.channel = "share", strings.TrimPrefix(field, "share:")
		if c.channel == "" {
			return condition{}, fmt.Errorf("condition %q: share needs a channel name", expr)
		}
	case !numericFields[field]:
		return condition{}, fmt.Errorf("condition %q: unknown field %q", expr, field)
	}
	switch op {
	case ">", ">=", "<", "<=", "==", "!=":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", expr, op)
	}
	v, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return condition{}, fmt.Errorf("condition %q: threshold: %w", expr, err)
	}
	c.threshold = v
	return c, nil
}

// eval reports whether the condition holds for rec, and the value it saw.
// ok is false when the field has no meaningful value in rec.
func (c condition) eval(rec *types.MetricsRecord) (fires bool, value float64, ok bool) {
	if c.field == "state" {
		if rec.Health.State == "" {
			return false, 0, false
		}
		eq := rec.Health.State == c.state
		if c.op == "!=" {
			return !eq, 0, true
		}
		return eq, 0, true
	}
	if healthFields[c.field] && (rec.Health.State == "" || rec.Health.State == types.StateUnknown) {
		return false, 0, false
	}
	v := numericField(c, rec)
	return compareFloat(v, c.op, c.threshold), v, true
}

// numericField maps a field name to its value in the record.
func numericField(c condition, rec *types.MetricsRecord) float64 {
	switch c.field {
	case "fill_rate":
		return rec.Health.FillRate
	case "ctr":
		return rec.Health.CTR
	case "conversion_rate":
		return rec.Health.ConversionRate
	case "frequency_avg":
		return rec.Health.FrequencyAvg
	case "health_score":
		return rec.Health.Score
	case "confidence":
		return rec.AttributionStats.Confidence
	case "events_sec":
		return rec.EventsPerSec
	case "total_conversions":
		return float64(rec.TotalConversions)
	case "total_value":
		return rec.TotalValue
	case "share":
		return rec.Share(c.channel)
	default:
		return 0
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}

package alerts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/attribstream/attribstream/pkg/types"
	"github.com/attribstream/attribstream/server/internal/config"
)

func record(id string) *types.MetricsRecord {
	return &types.MetricsRecord{
		SourceID:    id,
		Attribution: map[string]float64{"Search": 0.5, "Social": 0.5},
		Health: types.Health{
			FillRate:     0.95,
			CTR:          0.03,
			FrequencyAvg: 2,
			Score:        90,
			State:        types.StateHealthy,
		},
		AttributionStats: types.AttributionStats{Confidence: 0.9},
	}
}

// clock is a settable time source for the engine.
type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newEngine(t *testing.T, cfg config.AlertsConfig) (*Engine, *clock) {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c := &clock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	e.now = c.now
	return e, c
}

// --- conditions ---

func TestParseCondition_Errors(t *testing.T) {
	for _, expr := range []string{
		"",
		"fill_rate <",
		"bogus > 1",
		"fill_rate ~ 1",
		"fill_rate < abc",
		"share: > 0.5",
		"state > critical",
	} {
		if _, err := parseCondition(expr); err == nil {
			t.Errorf("parseCondition(%q): expected error", expr)
		}
	}
}

func TestCondition_Eval(t *testing.T) {
	rec := record("a")
	rec.TotalConversions = 120
	rec.TotalValue = 999
	rec.EventsPerSec = 40

	tests := []struct {
		expr      string
		wantFires bool
		wantValue float64
	}{
		{"fill_rate < 0.9", false, 0.95},
		{"ctr >= 0.03", true, 0.03},
		{"frequency_avg > 5", false, 2},
		{"confidence < 0.95", true, 0.9},
		{"health_score <= 90", true, 90},
		{"events_sec < 100", true, 40},
		{"total_conversions > 100", true, 120},
		{"total_value != 999", false, 999},
		{"share:Search == 0.5", true, 0.5},
		{"share:Email > 0", false, 0},
		{"state == healthy", true, 0},
		{"state != healthy", false, 0},
	}
	for _, tt := range tests {
		c, err := parseCondition(tt.expr)
		if err != nil {
			t.Fatalf("parseCondition(%q): %v", tt.expr, err)
		}
		fires, v, ok := c.eval(rec)
		if !ok {
			t.Errorf("%q: ok=false", tt.expr)
			continue
		}
		if fires != tt.wantFires || v != tt.wantValue {
			t.Errorf("%q: got (%v, %v), want (%v, %v)", tt.expr, fires, v, tt.wantFires, tt.wantValue)
		}
	}
}

func TestCondition_HealthFieldsSkippedWhenUnknown(t *testing.T) {
	rec := record("a")
	rec.Health = types.Health{State: types.StateUnknown}

	c, _ := parseCondition("fill_rate < 0.9")
	if _, _, ok := c.eval(rec); ok {
		t.Error("fill_rate should have no value while health is unknown")
	}
	c, _ = parseCondition("confidence < 0.95")
	if _, _, ok := c.eval(rec); !ok {
		t.Error("confidence does not depend on health and should evaluate")
	}
}

// --- engine ---

func TestNew_DefaultRules(t *testing.T) {
	e, _ := newEngine(t, config.AlertsConfig{})
	rules := e.Rules()
	if len(rules) != 4 {
		t.Fatalf("rules: got %d, want 4", len(rules))
	}
	if rules[0].Severity != SeverityCritical || rules[0].Category != CategoryCampaignHealth {
		t.Errorf("fill-rate rule: got %+v", rules[0])
	}
	if rules[0].Cooldown != defaultCooldown {
		t.Errorf("cooldown: got %v, want %v", rules[0].Cooldown, defaultCooldown)
	}
}

func TestNew_EmptyRulesDisable(t *testing.T) {
	e, _ := newEngine(t, config.AlertsConfig{Rules: []config.AlertRule{}})
	rec := record("a")
	rec.Health.FillRate = 0.1
	if got := e.Evaluate(rec); len(got) != 0 {
		t.Errorf("Evaluate with no rules: got %d changes", len(got))
	}
}

func TestNew_InvalidCondition(t *testing.T) {
	_, err := New(config.AlertsConfig{Rules: []config.AlertRule{{Name: "x", Condition: "nope > 1"}}})
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestEvaluate_DefaultRulesFire(t *testing.T) {
	e, _ := newEngine(t, config.AlertsConfig{})
	rec := record("agent-1")
	rec.Health.FillRate = 0.85
	rec.Health.FrequencyAvg = 6.2
	rec.AttributionStats.Confidence = 0.6

	changed := e.Evaluate(rec)
	if len(changed) != 3 {
		t.Fatalf("changed: got %d, want 3 (%+v)", len(changed), changed)
	}
	byRule := map[string]Alert{}
	for _, a := range changed {
		byRule[a.RuleName] = a
		if a.State != StateFiring || a.ID == "" {
			t.Errorf("%s: state %q id %q", a.RuleName, a.State, a.ID)
		}
	}
	fill := byRule["low-fill-rate"]
	if fill.Severity != SeverityCritical || fill.Value != 0.85 {
		t.Errorf("low-fill-rate: got %+v", fill)
	}
	if !strings.Contains(fill.Message, "Fill rate dropped to 85.0%") {
		t.Errorf("message: got %q", fill.Message)
	}
	if byRule["high-frequency"].Category != CategoryAdOperations {
		t.Errorf("high-frequency category: got %q", byRule["high-frequency"].Category)
	}
	if byRule["low-confidence"].Severity != SeverityInfo {
		t.Errorf("low-confidence severity: got %q", byRule["low-confidence"].Severity)
	}
	if n := e.Firing(); n != 3 {
		t.Errorf("Firing: got %d, want 3", n)
	}
}

func TestEvaluate_NoRefireWhileActive(t *testing.T) {
	e, c := newEngine(t, config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "low-ctr", Condition: "ctr < 0.015", Cooldown: time.Minute},
	}})
	rec := record("a")
	rec.Health.CTR = 0.01

	if got := e.Evaluate(rec); len(got) != 1 {
		t.Fatalf("first evaluate: got %d changes, want 1", len(got))
	}
	c.t = c.t.Add(time.Hour)
	if got := e.Evaluate(rec); len(got) != 0 {
		t.Errorf("still firing: got %d changes, want 0", len(got))
	}
}

func TestEvaluate_ResolveAndCooldown(t *testing.T) {
	e, c := newEngine(t, config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "low-ctr", Condition: "ctr < 0.015", Cooldown: 10 * time.Minute},
	}})
	bad := record("a")
	bad.Health.CTR = 0.01
	good := record("a")

	e.Evaluate(bad)

	c.t = c.t.Add(time.Minute)
	changed := e.Evaluate(good)
	if len(changed) != 1 || changed[0].State != StateResolved || changed[0].ResolvedAt == nil {
		t.Fatalf("resolve: got %+v", changed)
	}

	// Inside the cooldown the rule stays quiet.
	c.t = c.t.Add(time.Minute)
	if got := e.Evaluate(bad); len(got) != 0 {
		t.Errorf("within cooldown: got %d changes, want 0", len(got))
	}

	c.t = c.t.Add(10 * time.Minute)
	if got := e.Evaluate(bad); len(got) != 1 || got[0].State != StateFiring {
		t.Errorf("after cooldown: got %+v", got)
	}
}

func TestEvaluate_PerSourceKeys(t *testing.T) {
	e, _ := newEngine(t, config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "search-heavy", Condition: "share:Search > 0.8"},
	}})
	a := record("a")
	a.Attribution["Search"] = 0.9
	b := record("b")
	b.Attribution["Search"] = 0.95

	e.Evaluate(a)
	e.Evaluate(b)
	if n := e.Firing(); n != 2 {
		t.Errorf("Firing: got %d, want 2", n)
	}
}

func TestActive_IncludesRecentResolvedNewestFirst(t *testing.T) {
	e, c := newEngine(t, config.AlertsConfig{Rules: []config.AlertRule{
		{Name: "critical-state", Condition: "state == critical"},
	}})
	crit := record("a")
	crit.Health.State = types.StateCritical
	e.Evaluate(crit)

	c.t = c.t.Add(time.Minute)
	e.Evaluate(record("a")) // resolves "a"

	c.t = c.t.Add(time.Minute)
	critB := record("b")
	critB.Health.State = types.StateCritical
	e.Evaluate(critB)

	active := e.Active()
	if len(active) != 2 {
		t.Fatalf("Active: got %d, want 2", len(active))
	}
	if active[0].SourceID != "b" || active[1].State != StateResolved {
		t.Errorf("Active order: got %s/%s, %s/%s", active[0].SourceID, active[0].State, active[1].SourceID, active[1].State)
	}

	// Resolved alerts age out after an hour.
	c.t = c.t.Add(2 * time.Hour)
	if n := len(e.Active()); n != 1 {
		t.Errorf("Active after window: got %d, want 1", n)
	}
}

// --- webhooks ---

func TestDeliver_Webhooks(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string]map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(raw, &m)
		mu.Lock()
		bodies[r.URL.Path] = m
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	t.Setenv("HOOK_SLACK", srv.URL+"/slack")
	t.Setenv("HOOK_TEAMS", srv.URL+"/teams")
	t.Setenv("HOOK_HTTP", srv.URL+"/http")

	e, clk := newEngine(t, config.AlertsConfig{
		Rules: []config.AlertRule{{Name: "low-fill", Condition: "fill_rate < 0.9", Severity: SeverityCritical, Category: CategoryCampaignHealth}},
		Webhooks: []config.WebhookConfig{
			{Type: "slack", URLEnv: "HOOK_SLACK"},
			{Type: "teams", URLEnv: "HOOK_TEAMS"},
			{Type: "http", URLEnv: "HOOK_HTTP"},
			{Type: "http", URLEnv: "HOOK_UNSET"},
		},
	})
	rec := record("agent-1")
	rec.Health.FillRate = 0.5
	e.Evaluate(rec)
	e.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 3 {
		t.Fatalf("deliveries: got %d, want 3", len(bodies))
	}
	txt, _ := bodies["/slack"]["text"].(string)
	if !strings.HasPrefix(txt, "*[CRITICAL]*") {
		t.Errorf("slack text: got %q", txt)
	}
	for _, want := range []string{"`agent-1`", CategoryCampaignHealth, "fill_rate < 0.9", "value 0.5"} {
		if !strings.Contains(txt, want) {
			t.Errorf("slack text %q: missing %q", txt, want)
		}
	}

	if color, _ := bodies["/teams"]["themeColor"].(string); color != "FF4F6A" {
		t.Errorf("teams color: got %q", color)
	}
	facts := teamsFacts(t, bodies["/teams"])
	wantFacts := map[string]string{
		"Source":    "agent-1",
		"Category":  CategoryCampaignHealth,
		"Condition": "fill_rate < 0.9",
		"Value":     "0.5",
		"State":     StateFiring,
		"Fired":     "2025-01-01T12:00:00Z",
	}
	for name, want := range wantFacts {
		if facts[name] != want {
			t.Errorf("teams fact %s: got %q, want %q", name, facts[name], want)
		}
	}
	if _, ok := facts["Resolved"]; ok {
		t.Error("teams facts: firing alert should not carry Resolved")
	}

	alert, _ := bodies["/http"]["alert"].(map[string]any)
	if alert["rule_name"] != "low-fill" || alert["state"] != StateFiring || alert["source_id"] != "agent-1" {
		t.Errorf("http alert: got %v", alert)
	}

	// Recovery delivers the resolved alert with its resolution time.
	clk.t = clk.t.Add(time.Minute)
	rec.Health.FillRate = 0.95
	e.Evaluate(rec)
	mu.Unlock()
	e.Wait()
	mu.Lock()

	if txt, _ := bodies["/slack"]["text"].(string); !strings.Contains(txt, "RESOLVED:") || !strings.Contains(txt, "resolved 2025-01-01T12:01:00Z") {
		t.Errorf("slack resolved text: got %q", txt)
	}
	facts = teamsFacts(t, bodies["/teams"])
	if facts["State"] != StateResolved || facts["Resolved"] != "2025-01-01T12:01:00Z" {
		t.Errorf("teams resolved facts: got %v", facts)
	}
	alert, _ = bodies["/http"]["alert"].(map[string]any)
	if alert["state"] != StateResolved || alert["resolved_at"] == nil {
		t.Errorf("http resolved alert: got %v", alert)
	}
}

// teamsFacts flattens the first card section's facts into name -> value.
func teamsFacts(t *testing.T, card map[string]any) map[string]string {
	t.Helper()
	sections, _ := card["sections"].([]any)
	if len(sections) == 0 {
		t.Fatalf("teams card has no sections: %v", card)
	}
	section, _ := sections[0].(map[string]any)
	raw, _ := section["facts"].([]any)
	out := map[string]string{}
	for _, f := range raw {
		m, _ := f.(map[string]any)
		name, _ := m["name"].(string)
		value, _ := m["value"].(string)
		out[name] = value
	}
	return out
}

func TestClose_CancelsInFlightDelivery(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()
	t.Setenv("HOOK_SLOW", srv.URL)

	e, _ := newEngine(t, config.AlertsConfig{
		Rules:    []config.AlertRule{{Name: "low-fill", Condition: "fill_rate < 0.9"}},
		Webhooks: []config.WebhookConfig{{Type: "http", URLEnv: "HOOK_SLOW"}},
	})
	rec := record("agent-1")
	rec.Health.FillRate = 0.5
	e.Evaluate(rec)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook request never arrived")
	}

	done := make(chan struct{})
	go func() {
		e.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not abort the in-flight delivery")
	}
}

func TestPost_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, _ := newEngine(t, config.AlertsConfig{})
	if err := e.post(context.Background(), srv.URL, []byte(`{}`)); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

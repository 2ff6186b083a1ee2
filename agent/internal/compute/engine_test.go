package compute

import (
	"errors"
	"testing"
	"time"

	"github.com/attribstream/attribstream/agent/internal/scraper"
)

// baseTime is a fixed reference point so all test timings are deterministic.
var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// tick returns baseTime advanced by n reporting intervals of 5s.
func tick(n int) time.Time {
	return baseTime.Add(time.Duration(n) * 5 * time.Second)
}

// counters is a shorthand for a set of cumulative scrape counters.
type counters struct {
	requests, fills, impressions, clicks, conversions, users, events float64
}

func makeResult(id string, c counters) *scraper.ScrapeResult {
	return &scraper.ScrapeResult{
		SourceID:   id,
		SourceType: "simulator",
		ScrapedAt:  baseTime,
		Counters: map[string]float64{
			scraper.CounterRequests:    c.requests,
			scraper.CounterFills:       c.fills,
			scraper.CounterImpressions: c.impressions,
			scraper.CounterClicks:      c.clicks,
			scraper.CounterConversions: c.conversions,
			scraper.CounterUsers:       c.users,
			scraper.CounterEvents:      c.events,
		},
	}
}

func failedResult(id string) *scraper.ScrapeResult {
	return &scraper.ScrapeResult{
		SourceID: id, SourceType: "prometheus",
		Counters: map[string]float64{},
		Err:      errors.New("connection refused"),
	}
}

// --- First scrape behaviour ---

func TestEngine_FirstScrape_ReturnsUnknown(t *testing.T) {
	e := NewEngine()
	out := e.Process(makeResult("src", counters{requests: 1000, events: 900}), tick(0))
	if out.State != StateUnknown {
		t.Errorf("first scrape State = %q, want %q", out.State, StateUnknown)
	}
	if out.TotalEvents != 900 {
		t.Errorf("TotalEvents = %d, want 900", out.TotalEvents)
	}
}

// --- Rate computation from deltas ---

func TestEngine_SecondScrape_ComputesRates(t *testing.T) {
	e := NewEngine()
	e.Process(makeResult("src", counters{requests: 1000, fills: 950, impressions: 950, clicks: 20, conversions: 2, users: 400, events: 972}), tick(0))

	// +1000 requests, +940 fills/impressions, +19 clicks, +1 conversion, +470 users, +5000 events.
	out := e.Process(makeResult("src", counters{requests: 2000, fills: 1890, impressions: 1890, clicks: 39, conversions: 3, users: 870, events: 5972}), tick(1))

	if out.State == StateUnknown {
		t.Fatalf("second scrape should not be unknown")
	}
	if !almostEqual(out.FillRate, 0.94, 1e-9) {
		t.Errorf("FillRate = %.4f, want 0.94", out.FillRate)
	}
	if !almostEqual(out.CTR, 19.0/940.0, 1e-9) {
		t.Errorf("CTR = %.4f, want %.4f", out.CTR, 19.0/940.0)
	}
	if !almostEqual(out.ConversionRate, 1.0/19.0, 1e-9) {
		t.Errorf("ConversionRate = %.4f", out.ConversionRate)
	}
	if !almostEqual(out.FrequencyAvg, 2.0, 1e-9) {
		t.Errorf("FrequencyAvg = %.4f, want 2", out.FrequencyAvg)
	}
	// 5000 events over 5s.
	if !almostEqual(out.EventsPerSec, 1000, 1e-9) {
		t.Errorf("EventsPerSec = %.2f, want 1000", out.EventsPerSec)
	}
	if out.TotalEvents != 5972 {
		t.Errorf("TotalEvents = %d, want 5972", out.TotalEvents)
	}
}

func TestEngine_NoTrafficInInterval_Unknown(t *testing.T) {
	e := NewEngine()
	c := counters{requests: 100, fills: 90, impressions: 90}
	e.Process(makeResult("src", c), tick(0))
	out := e.Process(makeResult("src", c), tick(1))
	if out.State != StateUnknown {
		t.Errorf("idle interval State = %q, want %q", out.State, StateUnknown)
	}
}

// --- Counter reset handling ---

func TestEngine_CounterReset_TreatedAsZeroDelta(t *testing.T) {
	e := NewEngine()
	e.Process(makeResult("src", counters{requests: 100000, fills: 90000, clicks: 500}), tick(0))

	// Ad server restarted; counters start from 0.
	out := e.Process(makeResult("src", counters{requests: 50, fills: 40, clicks: 2}), tick(1))

	if out.FillRate != 0 || out.CTR != 0 {
		t.Errorf("rates after counter reset = %.4f/%.4f, want 0/0", out.FillRate, out.CTR)
	}
	if out.State != StateUnknown {
		t.Errorf("State after reset = %q, want unknown (no request delta)", out.State)
	}
}

// --- Scrape failure handling ---

func TestEngine_ScrapeFailure_ReturnsUnknown(t *testing.T) {
	e := NewEngine()
	e.Process(makeResult("src", counters{requests: 10, events: 44}), tick(0))

	out := e.Process(failedResult("src"), tick(1))
	if out.State != StateUnknown {
		t.Errorf("scrape failure State = %q, want %q", out.State, StateUnknown)
	}
	if out.ErrorMessage == "" {
		t.Error("ErrorMessage should carry the scrape error")
	}
	if out.TotalEvents != 44 {
		t.Errorf("TotalEvents after failure = %d, want last good value 44", out.TotalEvents)
	}
}

func TestEngine_ScrapeFailure_DoesNotAdvanceBaseline(t *testing.T) {
	e := NewEngine()
	e.Process(makeResult("src", counters{requests: 1000, events: 1000}), tick(0))
	e.Process(failedResult("src"), tick(1))

	out := e.Process(makeResult("src", counters{requests: 2000, fills: 1000, events: 2000}), tick(2))

	// elapsed = 10s since the last good scrape, delta = 1000 events.
	if !almostEqual(out.EventsPerSec, 100, 0.001) {
		t.Errorf("EventsPerSec after recovery = %.2f, want 100 (baseline not advanced by failure)", out.EventsPerSec)
	}
}

// --- Uptime tracking ---

func TestEngine_UptimePct_AllSuccess(t *testing.T) {
	e := NewEngine()
	var last *Result
	for i := 0; i < 6; i++ {
		last = e.Process(makeResult("src", counters{requests: float64(i * 100)}), tick(i))
	}
	if last.UptimePct != 100 {
		t.Errorf("UptimePct all success = %.2f, want 100", last.UptimePct)
	}
}

func TestEngine_UptimePct_HalfFailed(t *testing.T) {
	e := NewEngine()
	for i := 0; i < 4; i++ {
		e.Process(makeResult("src", counters{requests: float64(i * 100)}), tick(i))
	}
	for i := 0; i < 4; i++ {
		e.Process(failedResult("src"), tick(4+i))
	}
	last := e.Process(makeResult("src", counters{requests: 900}), tick(8))

	wantUptime := 5.0 / 9.0 * 100
	if !almostEqual(last.UptimePct, wantUptime, 0.1) {
		t.Errorf("UptimePct half-failed = %.2f, want %.2f", last.UptimePct, wantUptime)
	}
}

func TestEngine_UptimePct_RollingWindow(t *testing.T) {
	e := NewEngine()
	for i := 0; i < uptimeWindow+5; i++ {
		e.Process(failedResult("src"), tick(i))
	}
	for i := 0; i < 6; i++ {
		e.Process(makeResult("src", counters{requests: float64(i * 10)}), tick(uptimeWindow+5+i))
	}
	last := e.Process(failedResult("src"), tick(uptimeWindow+12))

	// The window now holds 13 failures, 6 successes and the final failure.
	wantUptime := 6.0 / float64(uptimeWindow) * 100
	if !almostEqual(last.UptimePct, wantUptime, 0.5) {
		t.Errorf("UptimePct rolling = %.2f, want %.2f", last.UptimePct, wantUptime)
	}
}

// --- Multiple independent sources ---

func TestEngine_MultiSource_Independent(t *testing.T) {
	e := NewEngine()
	e.Process(makeResult("a", counters{requests: 0}), tick(0))
	e.Process(makeResult("b", counters{requests: 5000, fills: 5000}), tick(0))

	aOut := e.Process(makeResult("a", counters{requests: 100, fills: 50}), tick(1))
	bOut := e.Process(makeResult("b", counters{requests: 6000, fills: 6000}), tick(1))

	if !almostEqual(aOut.FillRate, 0.5, 1e-9) {
		t.Errorf("a FillRate = %.4f, want 0.5", aOut.FillRate)
	}
	if !almostEqual(bOut.FillRate, 1.0, 1e-9) {
		t.Errorf("b FillRate = %.4f, want 1", bOut.FillRate)
	}
}

// --- Health score integration ---

func TestEngine_HealthyCampaign(t *testing.T) {
	e := NewEngine()
	e.Process(makeResult("src", counters{}), tick(0))

	// fill 0.95, ctr 0.02, conv 0.1, freq 2.
	out := e.Process(makeResult("src", counters{requests: 1000, fills: 950, impressions: 950, clicks: 19, conversions: 2, users: 475}), tick(1))
	if out.State != StateHealthy {
		t.Errorf("State = %q, want %q (score=%.2f)", out.State, StateHealthy, out.Score)
	}
}

func TestEngine_StarvedCampaign_Critical(t *testing.T) {
	e := NewEngine()
	e.Process(makeResult("src", counters{}), tick(0))

	// fill 0.2, no clicks, no conversions.
	out := e.Process(makeResult("src", counters{requests: 1000, fills: 200, impressions: 200, users: 100}), tick(1))
	if out.State != StateCritical {
		t.Errorf("State = %q, want %q (score=%.2f)", out.State, StateCritical, out.Score)
	}
}

// --- deltaOf ---

func TestDeltaOf(t *testing.T) {
	tests := []struct {
		curr, prev, want float64
	}{
		{100, 50, 50},
		{50, 50, 0},
		{30, 50, 0}, // counter reset → 0, not -20
		{0, 0, 0},
		{1000, 0, 1000},
	}
	for _, tc := range tests {
		got := deltaOf(tc.curr, tc.prev)
		if got != tc.want {
			t.Errorf("deltaOf(%.0f, %.0f) = %.0f, want %.0f", tc.curr, tc.prev, got, tc.want)
		}
	}
}

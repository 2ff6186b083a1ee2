package compute

import (
	"log/slog"
	"sync"
	"time"

	"github.com/attribstream/attribstream/agent/internal/scraper"
)

// uptimeWindow is the number of recent scrape outcomes tracked for uptime %.
const uptimeWindow = 20

// Result is the derived campaign health for one reporting interval.
type Result struct {
	SourceID   string
	SourceType string
	Timestamp  time.Time
	State      string
	Score      float64
	UptimePct  float64

	FillRate       float64
	CTR            float64
	ConversionRate float64
	FrequencyAvg   float64

	EventsPerSec float64
	// TotalEvents is the cumulative event counter of the last good scrape.
	TotalEvents int64

	ErrorMessage string // non-empty when the scrape failed
}

// Engine keeps the previous counters of each source and turns successive
// ScrapeResults into interval rates.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	states map[string]*sourceState
}

// NewEngine returns a ready-to-use Engine.
func NewEngine() *Engine {
	return &Engine{states: make(map[string]*sourceState)}
}

// Process ingests a ScrapeResult and returns the derived health.
//
// now is passed explicitly so tests control the clock.
//
// The first successful call for a source only records the baseline and
// returns State "unknown". A failed scrape leaves the baseline untouched, so
// the next good scrape measures against the last good one.
func (e *Engine) Process(res *scraper.ScrapeResult, now time.Time) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(res.SourceID)
	success := res.Err == nil
	st.recordScrape(success)

	out := &Result{
		SourceID:   res.SourceID,
		SourceType: res.SourceType,
		Timestamp:  now,
		UptimePct:  st.uptimePct(),
		State:      StateUnknown,
	}
	if st.prev != nil {
		out.TotalEvents = int64(st.prev.Counters[scraper.CounterEvents])
	}

	if !success {
		slog.Warn("compute: scrape failed, marking unknown",
			"source", res.SourceID, "err", res.Err)
		out.ErrorMessage = res.Err.Error()
		return out
	}

	out.TotalEvents = int64(res.Counters[scraper.CounterEvents])

	if st.prev == nil {
		st.updateBaseline(res, now)
		return out
	}

	elapsed := now.Sub(st.prevTime).Seconds()
	if elapsed <= 0 {
		elapsed = 1 // clock drift guard
	}

	d := func(key string) float64 {
		return deltaOf(res.Counters[key], st.prev.Counters[key])
	}
	requests := d(scraper.CounterRequests)
	fills := d(scraper.CounterFills)
	impressions := d(scraper.CounterImpressions)
	clicks := d(scraper.CounterClicks)
	conversions := d(scraper.CounterConversions)
	users := d(scraper.CounterUsers)

	out.FillRate = ratio(fills, requests)
	out.CTR = ratio(clicks, impressions)
	out.ConversionRate = ratio(conversions, clicks)
	out.FrequencyAvg = ratio(impressions, users)
	out.EventsPerSec = d(scraper.CounterEvents) / elapsed

	score := Compute(Input{
		HasTraffic:     requests > 0,
		FillRate:       out.FillRate,
		CTR:            out.CTR,
		ConversionRate: out.ConversionRate,
		FrequencyAvg:   out.FrequencyAvg,
	})
	out.State = score.State
	out.Score = score.Score

	st.updateBaseline(res, now)
	return out
}

// sourceState holds per-source counters and uptime history.
type sourceState struct {
	prev     *scraper.ScrapeResult
	prevTime time.Time
	history  []bool // scrape outcomes, newest last
}

func (e *Engine) stateFor(id string) *sourceState {
	if st, ok := e.states[id]; ok {
		return st
	}
	st := &sourceState{}
	e.states[id] = st
	return st
}

func (st *sourceState) updateBaseline(res *scraper.ScrapeResult, now time.Time) {
	st.prev = res
	st.prevTime = now
}

func (st *sourceState) recordScrape(success bool) {
	if len(st.history) >= uptimeWindow {
		st.history = st.history[1:]
	}
	st.history = append(st.history, success)
}

func (st *sourceState) uptimePct() float64 {
	if len(st.history) == 0 {
		return 100
	}
	var ok int
	for _, s := range st.history {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(st.history)) * 100
}

// deltaOf returns the positive counter delta between current and previous.
// If current < previous (counter reset after restart), returns 0.
func deltaOf(current, previous float64) float64 {
	d := current - previous
	if d < 0 {
		return 0
	}
	return d
}

func ratio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den
}

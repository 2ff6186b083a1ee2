package scraper

import "context"

// simScraper reads counters straight from the in-process simulator.
type simScraper struct {
	id  string
	sim CounterSource
}

func (s *simScraper) Scrape(_ context.Context) (*ScrapeResult, error) {
	c := s.sim.Counters()
	res := newResult(s.id, "simulator")
	res.Counters[CounterRequests] = float64(c.Requests)
	res.Counters[CounterFills] = float64(c.Fills)
	res.Counters[CounterImpressions] = float64(c.Impressions)
	res.Counters[CounterClicks] = float64(c.Clicks)
	res.Counters[CounterConversions] = float64(c.Conversions)
	res.Counters[CounterUsers] = float64(c.SessionsStarted)
	res.Counters[CounterEvents] = float64(c.Events)
	return res, nil
}

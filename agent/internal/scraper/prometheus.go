package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/attribstream/attribstream/agent/internal/config"
)

// Default ad server metric families read by the prometheus health source.
const (
	promRequests    = "adserver_requests_total"
	promFills       = "adserver_fills_total"
	promImpressions = "adserver_impressions_total"
	promClicks      = "adserver_clicks_total"
	promConversions = "adserver_conversions_total"
	promUsers       = "adserver_unique_users_total"
	promEvents      = "adserver_events_total"
)

// metricNames maps counter keys to family names, applying the defaults
// for entries left empty in config.
func metricNames(m config.MetricNames) map[string]string {
	pick := func(v, def string) string {
		if v != "" {
			return v
		}
		return def
	}
	return map[string]string{
		CounterRequests:    pick(m.Requests, promRequests),
		CounterFills:       pick(m.Fills, promFills),
		CounterImpressions: pick(m.Impressions, promImpressions),
		CounterClicks:      pick(m.Clicks, promClicks),
		CounterConversions: pick(m.Conversions, promConversions),
		CounterUsers:       pick(m.Users, promUsers),
		CounterEvents:      pick(m.Events, promEvents),
	}
}

type promScraper struct {
	id       string
	endpoint string
	names    map[string]string
	client   *http.Client
}

// Scrape fetches the ad server's /metrics endpoint and sums each configured
// family across all label sets. A missing family reads as 0.
func (s *promScraper) Scrape(ctx context.Context) (*ScrapeResult, error) {
	res := newResult(s.id, "prometheus")

	mfs, err := fetchMetrics(ctx, s.client, s.endpoint)
	if err != nil {
		res.Err = fmt.Errorf("prometheus scrape %q: %w", s.id, err)
		slog.Warn("scraper: prometheus fetch failed", "source", s.id, "err", err)
		return res, nil
	}

	for key, family := range s.names {
		res.Counters[key] = sumFamily(mfs[family])
	}
	return res, nil
}

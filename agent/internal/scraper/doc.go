// Package scraper reads cumulative campaign health counters (ad requests,
// fills, impressions, clicks, conversions, unique users, events) from a
// health source and returns them as a ScrapeResult. The compute engine turns
// successive results into rates.
//
// Sources: the in-process simulator (simulator.go) and any ad server that
// exposes Prometheus text metrics (prometheus.go). New picks one from
// config.HealthConfig.
//
// Authentication for the remote source (mTLS, API key, bearer, basic) is
// handled by authRoundTripper in base.go.
package scraper

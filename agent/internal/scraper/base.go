package scraper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/attribstream/attribstream/agent/internal/config"
	"github.com/attribstream/attribstream/agent/internal/simulator"
)

const defaultScrapeTimeout = 10 * time.Second

// Canonical counter keys carried in ScrapeResult.Counters.
const (
	CounterRequests    = "requests"
	CounterFills       = "fills"
	CounterImpressions = "impressions"
	CounterClicks      = "clicks"
	CounterConversions = "conversions"
	CounterUsers       = "users"
	CounterEvents      = "events"
)

// ScrapeResult is one reading of the campaign health counters.
// Counters hold cumulative totals, not rates. The compute engine keeps the
// previous result and derives rates from the delta.
type ScrapeResult struct {
	SourceID   string
	SourceType string
	ScrapedAt  time.Time

	// Counters is keyed by the Counter* constants. Absent keys read as 0.
	Counters map[string]float64

	// Err is non-nil if the scrape itself failed (connectivity, auth, parse).
	// The compute engine reports such a cycle as unknown health.
	Err error
}

// Scraper reads the health counters of one source.
type Scraper interface {
	Scrape(ctx context.Context) (*ScrapeResult, error)
}

// CounterSource is the in-process simulator seen from the scraper.
type CounterSource interface {
	Counters() simulator.Counters
}

// New returns the Scraper selected by h.Type. sim is only used by the
// simulator type and may be nil otherwise.
func New(sourceID string, h config.HealthConfig, sim CounterSource) (Scraper, error) {
	switch h.Type {
	case "simulator", "":
		if sim == nil {
			return nil, fmt.Errorf("scraper %q: simulator health source needs a running simulator", sourceID)
		}
		return &simScraper{id: sourceID, sim: sim}, nil
	case "prometheus":
		client, err := buildHTTPClient(h)
		if err != nil {
			return nil, fmt.Errorf("scraper %q: build http client: %w", sourceID, err)
		}
		return &promScraper{id: sourceID, endpoint: h.Endpoint, names: metricNames(h.Metrics), client: client}, nil
	default:
		return nil, fmt.Errorf("scraper: unsupported type %q", h.Type)
	}
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		header := t.auth.Header
		if header == "" {
			header = config.DefaultAuthHeader
		}
		req.Header.Set(header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the source's auth and TLS settings.
func buildHTTPClient(h config.HealthConfig) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: h.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}

	if h.Auth.Mode == "mtls" {
		cert, err := tls.LoadX509KeyPair(h.Auth.CertFile, h.Auth.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}

		if h.Auth.CAFile != "" {
			caPEM, err := os.ReadFile(h.Auth.CAFile)
			if err != nil {
				return nil, fmt.Errorf("read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, fmt.Errorf("no valid certs found in ca file %q", h.Auth.CAFile)
			}
			tlsCfg.RootCAs = pool
		}
	}

	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg},
			auth: h.Auth,
		},
		Timeout: defaultScrapeTimeout,
	}, nil
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition. A partial parse that
// still yielded families counts as success.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil (metric not present in the scrape).
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}

func newResult(sourceID, sourceType string) *ScrapeResult {
	return &ScrapeResult{
		SourceID:   sourceID,
		SourceType: sourceType,
		ScrapedAt:  time.Now().UTC(),
		Counters:   make(map[string]float64),
	}
}

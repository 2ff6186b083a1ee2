package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/attribstream/attribstream/agent/internal/config"
	"github.com/attribstream/attribstream/agent/internal/telemetry"
	"github.com/attribstream/attribstream/pkg/types"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second

	// UpdatePath is the server ingestion route, relative to server_endpoint.
	UpdatePath = "/api/v1/update"
)

// Shipper buffers MetricsRecords and POSTs them to attribstream-server.
// Ship() is non-blocking; when the buffer is full the oldest record is evicted.
// Run() must be called in a goroutine to drain the buffer.
type Shipper struct {
	cfg     config.AgentConfig
	url     string
	buf     chan *types.MetricsRecord
	postFn  postFunc // injectable for tests
	client  *http.Client
	metrics *telemetry.Metrics
	initial time.Duration
}

// postFunc delivers one record. A *StatusError return carries the HTTP status.
type postFunc func(ctx context.Context, rec *types.MetricsRecord) error

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

// New creates a Shipper for cfg. m may be nil.
func New(cfg config.AgentConfig, m *telemetry.Metrics) *Shipper {
	s := &Shipper{
		cfg:     cfg,
		url:     strings.TrimRight(cfg.ServerEndpoint, "/") + UpdatePath,
		buf:     make(chan *types.MetricsRecord, cfg.BufferSize),
		client:  &http.Client{Timeout: sendTimeout},
		metrics: m,
		initial: backoffInitial,
	}
	s.postFn = s.post
	return s
}

// Ship enqueues rec. If the buffer is full the oldest entry is evicted.
func (s *Shipper) Ship(rec *types.MetricsRecord) {
	select {
	case s.buf <- rec:
	default:
		select {
		case <-s.buf:
			s.metrics.Evicted()
			slog.Warn("shipper: buffer full, evicted oldest record",
				"source", rec.SourceID, "buffer_cap", cap(s.buf))
		default:
		}
		select {
		case s.buf <- rec:
		default:
		}
	}
	s.metrics.SetBufferDepth(len(s.buf))
}

// Pending returns the number of buffered records.
func (s *Shipper) Pending() int { return len(s.buf) }

// Run drains the buffer, delivering records in order. A record that fails
// transiently is retried with truncated exponential backoff; a permanent
// failure (400, 401, 403, 413) discards it. Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff(s.initial)

	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-s.buf:
			s.metrics.SetBufferDepth(len(s.buf))
			if !s.deliver(ctx, rec, bo) {
				return
			}
		}
	}
}

// deliver sends rec until it succeeds, fails permanently, or ctx ends.
// It returns false only when ctx was cancelled.
func (s *Shipper) deliver(ctx context.Context, rec *types.MetricsRecord, bo *backoff) bool {
	for {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := s.postFn(sendCtx, rec)
		cancel()

		if err == nil {
			bo.reset()
			s.metrics.ShipOK()
			slog.Debug("shipper: record delivered", "source", rec.SourceID)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if isPermanentError(err) {
			s.metrics.ShipFailed(true)
			slog.Error("shipper: permanent send error, discarding record",
				"source", rec.SourceID, "err", err)
			return true
		}

		s.metrics.ShipFailed(false)
		wait := bo.next()
		slog.Warn("shipper: send failed, will retry",
			"endpoint", s.url,
			"err", err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

// post encodes rec as JSON and POSTs it to the update endpoint.
func (s *Shipper) post(ctx context.Context, rec *types.MetricsRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("shipper: encode record: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("shipper: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.ServerAuth.Mode == "apikey" {
		req.Header.Set(s.cfg.ServerAuth.EffectiveHeader(), s.cfg.ServerAuth.Key())
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("shipper: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// isPermanentError reports whether retrying the same record cannot succeed.
func isPermanentError(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestEntityTooLarge:
		return true
	}
	return false
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	current time.Duration
}

func newBackoff(initial time.Duration) *backoff {
	return &backoff{initial: initial, current: initial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/attribstream/attribstream/pkg/types"
	"github.com/attribstream/attribstream/server/internal/alerts"
	"github.com/attribstream/attribstream/server/internal/history"
	"github.com/attribstream/attribstream/server/internal/store"
)

// Error codes returned in JSON error bodies.
const (
	CodeNotFound    = "not_found"
	CodeBadRequest  = "bad_request"
	CodeUnavailable = "unavailable"
	CodeInternal    = "internal"
)

// AlertLister exposes alert state. *alerts.Engine satisfies it.
type AlertLister interface {
	Active() []*alerts.Alert
	Firing() int
}

// HistoryQuerier reads stored records. *history.Store satisfies it.
type HistoryQuerier interface {
	Query(ctx context.Context, q history.Query) ([]history.Entry, error)
}

// Option configures optional Handler collaborators.
type Option func(*Handler)

// WithAlerts serves alert state from al.
func WithAlerts(al AlertLister) Option { return func(h *Handler) { h.alerts = al } }

// WithHistory serves GET /api/v1/history from hq.
func WithHistory(hq HistoryQuerier) Option { return func(h *Handler) { h.history = hq } }

// Handler serves the read-only REST API. It reads agent state from the
// record store and returns JSON responses.
type Handler struct {
	store   *store.Store
	alerts  AlertLister
	history HistoryQuerier
	now     func() time.Time
}

// New creates a Handler wired to the given record store.
func New(st *store.Store, opts ...Option) *Handler {
	h := &Handler{store: st, now: time.Now}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts the /api/v1 routes on r.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/api/v1")
	v1.GET("/status", h.status)
	v1.GET("/health", h.health)
	v1.GET("/sources", h.listSources)
	v1.GET("/sources/:id", h.getSource)
	v1.GET("/attribution", h.attribution)
	v1.GET("/alerts", h.listAlerts)
	v1.GET("/snapshot", h.snapshot)
	v1.GET("/history", h.queryHistory)
}

// RegisterRoot mounts the status banner on GET /. The server skips it when
// the dashboard UI owns the root path.
func (h *Handler) RegisterRoot(r gin.IRouter) {
	r.GET("/", h.status)
}

// --- route handlers ---------------------------------------------------------

// status returns GET / and GET /api/v1/status for liveness probes.
func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{Status: "online", Message: "Real-time Attribution Server"})
}

// health returns GET /api/v1/health: overall health score and state counts.
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, h.buildHealth(h.store.List()))
}

// listSources returns GET /api/v1/sources: all live agents.
func (h *Handler) listSources(c *gin.Context) {
	c.JSON(http.StatusOK, toSourceResponses(h.store.List()))
}

// getSource returns GET /api/v1/sources/:id: a single live agent.
func (h *Handler) getSource(c *gin.Context) {
	e, ok := h.store.Get(c.Param("id"))
	// Stale entries are treated as not found.
	if !ok || (h.store.TTL() > 0 && h.now().Sub(e.UpdatedAt) > h.store.TTL()) {
		jsonErr(c, http.StatusNotFound, CodeNotFound, "source not found")
		return
	}
	c.JSON(http.StatusOK, toSourceResponse(e))
}

// attribution returns GET /api/v1/attribution: credit blended across sources.
func (h *Handler) attribution(c *gin.Context) {
	c.JSON(http.StatusOK, blend(h.store.List()))
}

// listAlerts returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) listAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, h.activeAlerts())
}

// snapshot returns GET /api/v1/snapshot: everything the dashboard renders.
func (h *Handler) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.Snapshot())
}

// queryHistory returns GET /api/v1/history?source=&since=&limit=.
// since accepts an RFC3339 time or a duration back from now ("15m").
func (h *Handler) queryHistory(c *gin.Context) {
	if h.history == nil {
		jsonErr(c, http.StatusServiceUnavailable, CodeUnavailable, "history is disabled")
		return
	}
	q := history.Query{SourceID: c.Query("source")}
	if s := c.Query("since"); s != "" {
		since, err := h.parseSince(s)
		if err != nil {
			jsonErr(c, http.StatusBadRequest, CodeBadRequest, "since: want RFC3339 time or duration")
			return
		}
		q.Since = since
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			jsonErr(c, http.StatusBadRequest, CodeBadRequest, "limit: want a non-negative integer")
			return
		}
		q.Limit = n
	}
	entries, err := h.history.Query(c.Request.Context(), q)
	if err != nil {
		jsonErr(c, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	c.JSON(http.StatusOK, entries)
}

// Snapshot builds the full dashboard payload from live store entries.
func (h *Handler) Snapshot() SnapshotResponse {
	entries := h.store.List()
	return SnapshotResponse{
		Sources:     toSourceResponses(entries),
		Attribution: blend(entries),
		Health:      h.buildHealth(entries),
		Alerts:      h.activeAlerts(),
		GeneratedAt: h.now().UTC().Format(time.RFC3339),
	}
}

// --- helpers ----------------------------------------------------------------

func jsonErr(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: msg, Code: code})
}

func (h *Handler) parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, err
	}
	return h.now().Add(-d), nil
}

func (h *Handler) activeAlerts() []*alerts.Alert {
	if h.alerts == nil {
		return []*alerts.Alert{}
	}
	return h.alerts.Active()
}

func (h *Handler) buildHealth(entries []*store.Entry) HealthResponse {
	resp := HealthResponse{SourceCount: len(entries)}
	if h.alerts != nil {
		resp.AlertCount = h.alerts.Firing()
	}

	var totalScore float64
	var scored int
	for _, e := range entries {
		rec := e.Record
		resp.TotalConversions += rec.TotalConversions
		resp.TotalValue += rec.TotalValue
		switch rec.Health.State {
		case types.StateHealthy:
			resp.HealthyCount++
		case types.StateDegraded:
			resp.DegradedCount++
		case types.StateCritical:
			resp.CriticalCount++
		default:
			resp.UnknownCount++
			continue
		}
		totalScore += rec.Health.Score
		scored++
	}

	if scored == 0 {
		resp.State = types.StateUnknown
		return resp
	}
	resp.OverallScore = totalScore / float64(scored)
	resp.State = stateFromScore(resp.OverallScore)
	return resp
}

// stateFromScore converts a 0–100 score to a health state string.
// Mirrors the thresholds in agent/internal/compute.
func stateFromScore(score float64) string {
	switch {
	case score >= 85:
		return types.StateHealthy
	case score >= 60:
		return types.StateDegraded
	default:
		return types.StateCritical
	}
}

func toSourceResponses(entries []*store.Entry) []SourceResponse {
	out := make([]SourceResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toSourceResponse(e))
	}
	return out
}

// toSourceResponse maps a store.Entry to its JSON representation.
func toSourceResponse(e *store.Entry) SourceResponse {
	rec := e.Record
	resp := SourceResponse{
		SourceID:           rec.SourceID,
		Model:              rec.Model,
		Channels:           channelsOf(rec),
		Attribution:        nonNil(rec.Attribution),
		ChannelValue:       nonNil(rec.ChannelValue),
		ChannelConversions: nonNil(rec.ChannelConversions),
		TotalConversions:   rec.TotalConversions,
		TotalValue:         rec.TotalValue,
		Confidence:         rec.AttributionStats.Confidence,
		Health:             rec.Health,
		EventsPerSec:       rec.EventsPerSec,
		TotalEvents:        rec.TotalEvents,
		Transitions:        rec.Transitions,
		LastSeen:           e.UpdatedAt.UTC().Format(time.RFC3339),
		Diagnostics:        computeDiagnostics(rec),
	}
	if !rec.SnapshotAt.IsZero() {
		resp.SnapshotAt = rec.SnapshotAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func nonNil(m map[string]float64) map[string]float64 {
	if m == nil {
		return map[string]float64{}
	}
	return m
}

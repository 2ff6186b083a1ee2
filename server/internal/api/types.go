package api

import (
	"github.com/attribstream/attribstream/pkg/types"
	"github.com/attribstream/attribstream/server/internal/alerts"
)

// StatusResponse is the payload for GET /.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	OverallScore     float64 `json:"overall_score"`
	State            string  `json:"state"`
	SourceCount      int     `json:"source_count"`
	HealthyCount     int     `json:"healthy_count"`
	DegradedCount    int     `json:"degraded_count"`
	CriticalCount    int     `json:"critical_count"`
	UnknownCount     int     `json:"unknown_count"`
	AlertCount       int     `json:"alert_count"`
	TotalConversions int64   `json:"total_conversions"`
	TotalValue       float64 `json:"total_value"`
}

// SourceResponse is one agent entry in GET /api/v1/sources or
// GET /api/v1/sources/:id.
type SourceResponse struct {
	SourceID           string             `json:"source_id"`
	Model              string             `json:"model"`
	Channels           []string           `json:"channels"`
	Attribution        map[string]float64 `json:"attribution"`
	ChannelValue       map[string]float64 `json:"channel_value"`
	ChannelConversions map[string]float64 `json:"channel_conversions"`
	TotalConversions   int64              `json:"total_conversions"`
	TotalValue         float64            `json:"total_value"`
	Confidence         float64            `json:"confidence"`
	Health             types.Health       `json:"health"`
	EventsPerSec       float64            `json:"events_sec"`
	TotalEvents        int64              `json:"total_events"`
	Transitions        *types.Transitions `json:"transitions,omitempty"`
	SnapshotAt         string             `json:"snapshot_at,omitempty"` // RFC3339
	LastSeen           string             `json:"last_seen"`             // RFC3339
	Diagnostics        []DiagnosticHint   `json:"diagnostics"`
}

// AttributionResponse is the payload for GET /api/v1/attribution: channel
// credit blended across all live sources, weighted by credited value.
type AttributionResponse struct {
	Channels           []string           `json:"channels"`
	Attribution        map[string]float64 `json:"attribution"`
	ChannelValue       map[string]float64 `json:"channel_value"`
	ChannelConversions map[string]float64 `json:"channel_conversions"`
	TotalConversions   int64              `json:"total_conversions"`
	TotalValue         float64            `json:"total_value"`
	Confidence         float64            `json:"confidence"`
	SourceCount        int                `json:"source_count"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the data of
// every WebSocket "snapshot" message.
type SnapshotResponse struct {
	Sources     []SourceResponse    `json:"sources"`
	Attribution AttributionResponse `json:"attribution"`
	Health      HealthResponse      `json:"health"`
	Alerts      []*alerts.Alert     `json:"alerts"`
	GeneratedAt string              `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Package shipper delivers MetricsRecords to attribstream-server as JSON
// over HTTP (POST {server_endpoint}/api/v1/update).
//
// Shipper.Ship() is non-blocking: records go into an in-memory channel of
// buffer_size entries. When the buffer is full the oldest entry is evicted so
// the latest snapshot is always preserved.
//
// Shipper.Run() drains the buffer in order, retrying a failed record with
// truncated exponential backoff (1s→60s, ±25% jitter). Responses 400, 401,
// 403 and 413 are permanent and discard the record immediately.
//
// With server_auth.mode apikey the key is sent in the configured header.
// The postFn field is injectable for tests.
package shipper

// Package types defines the wire records exchanged between attribstream-agent
// and attribstream-server. MetricsRecord is the JSON body of
// POST /api/v1/update and the payload the server stores, evaluates alerts
// against and broadcasts to WebSocket clients.
package types

// Package receiver implements the HTTP ingestion endpoint that accepts
// MetricsRecord bodies from attribstream-agent instances.
//
// Receiver.Update binds the JSON body (400 on malformed input, 413 above
// 1 MiB), runs MetricsRecord.Validate (400 with code "invalid_record"), then
// calls store.Put. Accepted records are then evaluated against alert rules,
// appended to history and published to WebSocket clients when those
// collaborators are configured. Authentication is enforced upstream by the
// middleware in package auth, so the receiver only performs structural
// validation.
//
// New(st, opts...) wires the receiver to the given record store.
package receiver

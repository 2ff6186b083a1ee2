// Package api implements the read-only HTTP REST API for attribstream-server.
//
// New(store, opts...) returns a Handler; Register mounts the /api/v1 routes
// and RegisterRoot the banner on "/":
//
//	GET /                     status banner {"status":"online"}
//	GET /api/v1/status        same banner, always available
//	GET /api/v1/health        overall campaign health score and per-state counts
//	GET /api/v1/sources       all live agents ([]SourceResponse)
//	GET /api/v1/sources/:id   single agent; 404 if unknown or stale
//	GET /api/v1/attribution   channel credit blended across agents by value
//	GET /api/v1/alerts        firing and recently resolved alerts
//	GET /api/v1/snapshot      everything above in one payload + generated_at
//	GET /api/v1/history       stored records (?source=&since=&limit=)
//
// Every source carries diagnostic hints (see diagnostics.go) explaining its
// attribution and campaign health in plain English. Errors are JSON bodies
// of the form {"error": "...", "code": "..."}.
package api

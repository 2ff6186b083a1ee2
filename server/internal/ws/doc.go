// Package ws implements the WebSocket hub for attribstream-server.
//
// Hub manages a set of connected clients. It broadcasts the current
// attribution snapshot to all of them on a configurable interval (default 5s)
// and pushes individual events, such as a newly received record or an alert
// transition, as soon as they happen.
//
// New(build, interval) creates a Hub; build produces the snapshot payload.
// Hub.Run(ctx) starts the broadcast ticker and blocks until ctx is cancelled,
// then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// snapshot immediately on connect, then streams messages.
// Hub.Publish(event, data) pushes one message to every client.
//
// Message format sent to clients:
//
//	{
//	  "event": "snapshot" | "update" | "alert",
//	  "data":  { ... }
//	}
//
// The snapshot payload has the same schema as GET /api/v1/snapshot. The
// upgrader accepts all origins. The endpoint is mounted at /ws/stream.
package ws

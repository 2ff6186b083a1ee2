// Package config loads the server-side configuration from the `server:` section
// of the config file (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - HTTPPort           port for ingestion, REST API and WebSocket hub (default 8080)
//   - Auth.Mode          "apikey" or "none"
//   - Auth.KeyEnv        environment variable holding the expected API key
//   - Auth.Header        HTTP header name (default "x-api-key")
//   - Snapshot.TTL       how long a source record remains live (default 5m)
//   - Broadcast.Interval WebSocket snapshot push period (default 5s)
//   - Alerts             rules and webhook targets
//   - History            SQLite record history (path, retention)
//
// Load(path) applies defaults before unmarshalling, then validates.
package config

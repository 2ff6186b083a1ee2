// Package history keeps a durable log of every record the server accepts in
// a SQLite database, so dashboards can chart attribution shares and campaign
// health over time. Rows older than the configured retention are pruned by
// Store.Run.
package history

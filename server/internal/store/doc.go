// Package store holds the latest attribution record per agent in memory.
// It provides a thread-safe store with TTL eviction; durable history lives
// in package history.
package store

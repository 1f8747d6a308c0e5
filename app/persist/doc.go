// Package persist mirrors steady-state snapshots to durable storage and restores them on start.
// Persistence is best effort: Load always returns a usable snapshot (persisted or defaults)
// and Save failures never block the caller. Errors are returned so the caller decides to log or ignore.
// Backends are SQLite key-value store, cache file and in-memory storage.
package persist

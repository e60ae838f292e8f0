// Package storage provides the durable key-value slots used to persist
// notification state across restarts.
//
// Drivers:
//   - "file":   one JSON document per key inside a directory (atomic tmp+rename writes)
//   - "sqlite": a single kv table in a SQLite database file
//   - "memory": process-local map (tests, ephemeral runs)
package storage

// Package storage provides the durable key/value store shared by the cache,
// the subscription store and the notifier dedup window.
//
// Backends:
//   - memory: process-local map (tests, throwaway runs)
//   - file:   snapshot + append-only journal on an afero filesystem
//   - sqlite: single kv table in a SQLite database (modernc.org/sqlite)
package storage

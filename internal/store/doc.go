// Package store is the gateway's durable key-value store.
//
// # Overview
//
// Records live in a fixed set of named collections (see Collection). Each
// collection declares the JSON field that acts as its primary key, so any
// JSON-marshalable value can be stored: the key is read from the marshalled
// document. Writes are idempotent upserts keyed by that field.
//
// The offline-actions collection is special: keys are auto-assigned
// integers and records can be read back ordered by their "timestamp" field
// (GetAllByIndex), which is what the offline queue replays in.
//
// # Implementations
//
//   - SQLite: one table per collection in a local SQLite file, schema
//     managed by embedded goose migrations. Survives restarts.
//   - Memory: same semantics, process lifetime only.
//   - Fallback: SQLite first; on a storage failure it logs once and keeps
//     serving from Memory.
//
// # Errors
//
// Get returns (nil, nil) for a missing key. Delete and Clear are idempotent.
// Open failures wrap common.ErrStorageUnavailable.
package store

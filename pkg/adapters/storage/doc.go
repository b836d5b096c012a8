// Package storage provides pipeline version and run stores.
//
// Every store keeps version numbers gapless per pipeline, moves the active
// pointer atomically with a publish and applies run updates as a
// compare-and-swap.
//
// Implementations:
//   - postgres: pgx pool, head row locks, embedded migrations
//   - redis: JSON records under WATCH/MULTI transactions
//   - memory: In-memory for testing and single-process deployments
package storage

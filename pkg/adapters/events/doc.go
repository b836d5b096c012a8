// Package events provides run event log implementations.
//
// Every run owns an append-only log whose events carry a strictly increasing
// sequence number. Readers replay from any sequence number and wait for new
// events until the log is sealed.
//
// Implementations:
//   - redis: one Redis Stream per run, entry ids derived from the sequence
//   - memory: in-process log with broadcast wake-ups
package events

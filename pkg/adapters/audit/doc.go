// Package audit provides audit sinks for version transitions and run commands.
//
// Sinks are fire-and-forget: a failing sink logs and never fails the command
// that produced the record.
//
// Implementations:
//   - LogSink: structured zap log lines
//   - RedisSink: a capped Redis Stream
//   - Multi: fan-out to several sinks
//   - Recorder: in-memory capture for tests and embedding
package audit

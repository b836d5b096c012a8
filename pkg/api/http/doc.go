// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Pipeline version authoring, review, publishing and diffs
//   - Run triggers, stops, reruns and status queries
//   - Event replay and metrics summaries
//   - Health checks and Prometheus metrics
//
// The caller identity recorded in audit records is read from the X-Actor header.
package http

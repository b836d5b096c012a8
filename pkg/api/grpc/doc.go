// Package grpc serves the standard gRPC health service, reporting SERVING
// while the run coordinator accepts work.
package grpc

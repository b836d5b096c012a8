// Package websocket provides the live tail of a run's event log over WebSocket.
package websocket

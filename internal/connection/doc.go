// Package connection implements the resilient transport client.
//
// The Connection Manager:
//   - Owns exactly one logical WebSocket connection
//   - Gates connection attempts through a three-state circuit breaker
//   - Drives reconnection with seeded exponential backoff and jitter
//   - Heartbeats the server and force-reconnects half-dead sockets
//   - Buffers outbound messages through a priority queue and token bucket
package connection

// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values prevents drift between boundaries and makes the
// durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// AuthIntrospect caps a single token introspection round trip during the
// websocket handshake.
const AuthIntrospect = 3 * time.Second

// ConnWrite caps one outbound websocket frame write so a stalled client
// cannot pin its writer goroutine.
const ConnWrite = 5 * time.Second

// FeedBlock is how long one blocking feed read waits for new mutations
// before re-checking cancellation.
const FeedBlock = 5 * time.Second

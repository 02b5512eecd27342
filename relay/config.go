package relay

import "time"

// DefaultUpstreamTimeout bounds the wait for upstream response headers.
const DefaultUpstreamTimeout = 30 * time.Second

// Config is the relay server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// UpstreamURL is the streaming generation service (e.g., "http://localhost:8000")
	UpstreamURL string

	// UpstreamTimeout bounds the wait for the upstream to answer a stream
	// request. It never cuts a stream that already started.
	UpstreamTimeout time.Duration
}

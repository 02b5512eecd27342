// Package api provides the conversation API server: a request/response
// passthrough of the backend conversation routes and its health check.
package api

import "time"

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	// BackendURL is the conversation backend (e.g., "http://localhost:8000")
	BackendURL string

	// BackendTimeout bounds every backend call. Zero uses the client default.
	BackendTimeout time.Duration
}

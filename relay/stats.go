package relay

import (
	"expvar"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
)

// Process-wide stream counters, published under "relay" at GET /debug/vars.
var stats = expvar.NewMap("relay")

const (
	statStreamsActive       = "streams_active"
	statStreamsOpened       = "streams_opened"
	statStreamsCompleted    = "streams_completed"
	statStreamsFailed       = "streams_failed"
	statClientDisconnects   = "client_disconnects"
	statUpstreamUnavailable = "upstream_unavailable"
	statBytesForwarded      = "bytes_forwarded"
)

func varsHandler() fiber.Handler {
	return adaptor.HTTPHandler(expvar.Handler())
}

// Package header provides header filtering for the chat relay.
//
// The relay sits between a chat client and the upstream generation service:
//
//	Client <--> Relay <--> Upstream
//
// and each leg negotiates connection handling, encoding and framing
// independently, so only end-to-end headers cross it.
package header

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// RequestIDHeader correlates a relayed stream across client, relay and
// upstream logs.
const RequestIDHeader = "X-Request-ID"

// Handler manages headers between relay connections.
type Handler struct{}

// NewHandler creates a new header Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// skipRequest is the set of request headers (client --> relay --> upstream)
// that are not forwarded upstream.
var skipRequest = map[string]struct{}{
	// Hop-by-hop headers: only meaningful for a single transport-level connection.
	"Connection": {},

	// Rewritten by http.Transport to match the upstream URL.
	"Host": {},

	// Stripped so http.Transport negotiates gzip itself and hands the relay
	// a decoded body.
	"Accept-Encoding": {},

	// The relay re-encodes the validated request body.
	"Content-Length": {},
	"Content-Type":   {},
	"Accept":         {},

	// Set by the relay once per request.
	RequestIDHeader: {},
}

// skipResponse is the set of upstream response headers (client <-- relay <-- upstream)
// that are not copied back to the downstream client.
var skipResponse = map[string]struct{}{
	// Hop-by-hop headers: only meaningful for a single transport-level connection.
	"Connection": {},

	// fasthttp chunks the client-facing body itself.
	"Transfer-Encoding": {},

	// The relay always reads a decoded body.
	"Content-Encoding": {},
	"Content-Length":   {},

	// Replaced by SetStreamHeaders.
	"Content-Type":      {},
	"Cache-Control":     {},
	"X-Accel-Buffering": {},
}

// UpstreamRequestHeaders returns the client request headers that should be
// forwarded upstream.
func (h *Handler) UpstreamRequestHeaders(c *fiber.Ctx) http.Header {
	out := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		k := string(key)
		if _, skip := skipRequest[http.CanonicalHeaderKey(k)]; !skip {
			out.Set(k, string(value))
		}
	})
	return out
}

// SetClientResponseHeaders copies response headers from the upstream
// http.Response to the Fiber context, filtering headers that the relay should
// not forward back down to the client.
func (h *Handler) SetClientResponseHeaders(c *fiber.Ctx, resp *http.Response) {
	for k, v := range resp.Header {
		if _, skip := skipResponse[k]; !skip {
			c.Set(k, strings.Join(v, ", "))
		}
	}
}

// SetStreamHeaders marks the response as an unbuffered event stream.
func (h *Handler) SetStreamHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set("X-Accel-Buffering", "no")
}

// Package relay provides the streaming chat gateway: it accepts a chat
// request, opens exactly one upstream stream for it and forwards the upstream
// bytes to the client as they arrive.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/papercomputeco/chatrelay/pkg/chat"
	"github.com/papercomputeco/chatrelay/pkg/chatapi"
	"github.com/papercomputeco/chatrelay/relay/header"
)

const forwardBufferSize = 32 * 1024

// Gateway is a transparent streaming relay. It holds no per-user state: every
// request names its user and conversation explicitly.
type Gateway struct {
	config        Config
	logger        *slog.Logger
	upstream      *chatapi.Client
	server        *fiber.App
	headerHandler *header.Handler

	// ctx parents every upstream request so Close can abort open streams.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Gateway.
func New(config Config, logger *slog.Logger) (*Gateway, error) {
	if config.UpstreamURL == "" {
		return nil, errors.New("upstream URL is required")
	}
	if config.UpstreamTimeout <= 0 {
		config.UpstreamTimeout = DefaultUpstreamTimeout
	}

	upstream, err := chatapi.New(config.UpstreamURL,
		chatapi.WithLogger(logger),
		chatapi.WithTimeout(config.UpstreamTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create upstream client: %w", err)
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
	})

	// Use context.Background() instead of a fiber request context because
	// fasthttp recycles its RequestCtx after the handler returns, while the
	// forwarding goroutine keeps the upstream connection open.
	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		config:        config,
		logger:        logger,
		upstream:      upstream,
		server:        app,
		headerHandler: header.NewHandler(),
		ctx:           ctx,
		cancel:        cancel,
	}

	app.Get("/ping", g.handlePing)
	app.Get("/debug/vars", varsHandler())
	app.Post(chatapi.StreamPath, g.handleStream)

	return g, nil
}

// Run starts the relay server on the configured listening address
func (g *Gateway) Run() error {
	g.logger.Info("starting relay server",
		"listen", g.config.ListenAddr,
		"upstream", g.config.UpstreamURL,
	)

	return g.server.Listen(g.config.ListenAddr)
}

// RunWithListener starts the relay server using the provided listener.
func (g *Gateway) RunWithListener(listener net.Listener) error {
	g.logger.Info("starting relay server",
		"listen", listener.Addr().String(),
		"upstream", g.config.UpstreamURL,
	)

	return g.server.Listener(listener)
}

// Close aborts every open upstream stream and shuts the server down.
func (g *Gateway) Close() error {
	g.cancel()
	return g.server.Shutdown()
}

func (g *Gateway) handlePing(c *fiber.Ctx) error {
	return c.JSON(map[string]string{"status": "ok"})
}

// handleStream validates a chat request, opens the upstream stream and
// forwards its body. Failures before the upstream answered are reported as
// JSON errors; once streaming started the only failure signal is the
// downstream body ending abruptly.
func (g *Gateway) handleStream(c *fiber.Ctx) error {
	startTime := time.Now()

	var req chat.Request
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: "invalid request body"})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: err.Error()})
	}

	requestID := uuid.NewString()
	log := g.logger.With(
		"request_id", requestID,
		"user_id", req.UserID,
		"conversation_id", req.Conversation(),
	)

	upstreamHeader := g.headerHandler.UpstreamRequestHeaders(c)
	upstreamHeader.Set(header.RequestIDHeader, requestID)
	c.Set(header.RequestIDHeader, requestID)

	ctx, cancel := context.WithCancel(g.ctx)
	resp, err := g.upstream.OpenStream(ctx, req, upstreamHeader)
	if err != nil {
		cancel()
		return g.upstreamUnavailable(c, log, err)
	}

	stats.Add(statStreamsOpened, 1)
	stats.Add(statStreamsActive, 1)
	log.Debug("relaying upstream stream", "status", resp.StatusCode)

	g.headerHandler.SetClientResponseHeaders(c, resp)
	g.headerHandler.SetStreamHeaders(c)

	// The client sends nothing after its request, so the connection is
	// closed after the stream and watched for a disconnect meanwhile.
	c.Context().SetConnectionClose()
	clientGone := &atomic.Bool{}
	go watchClient(ctx, c.Context().Conn(), func() {
		clientGone.Store(true)
		cancel()
	})

	// io.Pipe + SetBodyStream: pw.Write blocks until fasthttp's chunked
	// writer consumed the chunk and flushed it to the socket, so the relay
	// never holds more than one chunk per stream.
	pr, pw := io.Pipe()
	go g.pipe(resp, pw, cancel, clientGone, log, startTime)

	// Unknown size (-1) selects chunked transfer encoding.
	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

func (g *Gateway) upstreamUnavailable(c *fiber.Ctx, log *slog.Logger, err error) error {
	stats.Add(statUpstreamUnavailable, 1)

	var unavailable *chat.UpstreamUnavailableError
	if !errors.As(err, &unavailable) {
		log.Error("could not open upstream stream", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(chat.ErrorResponse{Error: "internal error"})
	}

	log.Error("upstream unavailable",
		"error", err,
		"upstream_status", unavailable.StatusCode,
		"upstream_body", unavailable.Body,
	)

	resp := chat.ErrorResponse{Error: "upstream unavailable"}
	if unavailable.StatusCode != 0 {
		resp.Details = map[string]int{"upstream_status": unavailable.StatusCode}
	}
	return c.Status(fiber.StatusBadGateway).JSON(resp)
}

// pipe forwards the upstream body into pw until either side ends. An upstream
// end closes pw the same way; a downstream disconnect cancels the upstream.
func (g *Gateway) pipe(resp *http.Response, pw *io.PipeWriter, cancel context.CancelFunc, clientGone *atomic.Bool, log *slog.Logger, startTime time.Time) {
	defer cancel()
	defer resp.Body.Close()

	n, err := forward(pw, resp.Body)
	stats.Add(statStreamsActive, -1)
	stats.Add(statBytesForwarded, n)

	var downstream *downstreamError
	switch {
	case err == nil:
		stats.Add(statStreamsCompleted, 1)
		_ = pw.Close()
		log.Debug("stream relayed",
			"bytes", n,
			"duration", time.Since(startTime),
		)

	case clientGone.Load() || errors.As(err, &downstream):
		stats.Add(statClientDisconnects, 1)
		_ = pw.Close()
		log.Info("client disconnected, cancelling upstream",
			"error", err,
			"bytes", n,
			"duration", time.Since(startTime),
		)

	default:
		// Aborting the body stream makes fasthttp drop the connection without
		// the terminating chunk, so the client sees a transport error.
		stats.Add(statStreamsFailed, 1)
		_ = pw.CloseWithError(err)
		log.Error("upstream stream failed",
			"error", &chat.UpstreamStreamError{Err: err},
			"bytes", n,
			"duration", time.Since(startTime),
		)
	}
}

// watchClient calls gone when conn is closed by the client before ctx ends.
// Ending ctx unblocks the pending read and stops the watch.
func watchClient(ctx context.Context, conn net.Conn, gone func()) {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			if ctx.Err() == nil {
				gone()
			}
			return
		}
	}
}

// downstreamError marks a failed write to the client.
type downstreamError struct {
	err error
}

func (e *downstreamError) Error() string {
	return "writing to client: " + e.err.Error()
}

func (e *downstreamError) Unwrap() error {
	return e.err
}

// forward copies src to dst chunk by chunk, in arrival order. It returns nil
// at the end of src, a *downstreamError when dst rejects a write and the read
// error otherwise.
func forward(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, forwardBufferSize)
	var written int64

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, &downstreamError{err: werr}
			}
		}

		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF):
			return written, nil
		default:
			return written, rerr
		}
	}
}

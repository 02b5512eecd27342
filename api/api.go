package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"

	"github.com/papercomputeco/chatrelay/pkg/chatapi"
)

// Server is the API server for listing and managing conversations.
type Server struct {
	config  Config
	backend *chatapi.Client
	logger  *slog.Logger
	app     *fiber.App
}

// NewServer creates a new API server.
func NewServer(config Config, logger *slog.Logger) (*Server, error) {
	if config.BackendURL == "" {
		return nil, errors.New("backend URL is required")
	}

	opts := []chatapi.Option{chatapi.WithLogger(logger)}
	if config.BackendTimeout > 0 {
		opts = append(opts, chatapi.WithTimeout(config.BackendTimeout))
	}
	backend, err := chatapi.New(config.BackendURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not create backend client: %w", err)
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// JSON only; the streaming route lives on the relay.
	app.Use(compress.New())

	s := &Server{
		config:  config,
		backend: backend,
		logger:  logger,
		app:     app,
	}

	app.Get("/ping", s.handlePing)
	app.Get("/health", s.handleHealth)
	app.Get("/conversations", s.handleListConversations)
	app.Post("/conversations", s.handleCreateConversation)
	app.Patch("/conversations/:id", s.handleRenameConversation)
	app.Delete("/conversations/:id", s.handleDeleteConversation)
	app.Get("/conversations/:id/messages", s.handleListMessages)

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		"listen", s.config.ListenAddr,
		"backend", s.config.BackendURL,
	)
	return s.app.Listen(s.config.ListenAddr)
}

// RunWithListener starts the API server using the provided listener.
func (s *Server) RunWithListener(listener net.Listener) error {
	s.logger.Info("starting API server",
		"listen", listener.Addr().String(),
		"backend", s.config.BackendURL,
	)
	return s.app.Listener(listener)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

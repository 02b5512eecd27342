package api

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/chatrelay/pkg/chat"
	"github.com/papercomputeco/chatrelay/pkg/chatapi"
)

// handlePing returns a simple liveness response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleHealth reports the backend health. An unreachable backend is
// unhealthy (503); a backend answering with an error status has its status
// and body relayed.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	doc, err := s.backend.Health(c.Context())
	if err == nil {
		return c.JSON(doc)
	}

	var statusErr *chatapi.StatusError
	if errors.As(err, &statusErr) {
		s.logger.Warn("backend health check failed",
			"status", statusErr.StatusCode,
			"error", err,
		)

		var details any
		if jerr := json.Unmarshal(statusErr.Body, &details); jerr != nil {
			details = string(statusErr.Body)
		}
		return c.Status(statusErr.StatusCode).JSON(chat.ErrorResponse{
			Error:   "Backend health check failed",
			Details: details,
		})
	}

	s.logger.Error("could not reach backend", "error", err)
	return c.Status(fiber.StatusServiceUnavailable).JSON(chat.ErrorResponse{
		Error:  "Failed to connect to backend API",
		Status: "unhealthy",
	})
}

// handleListConversations returns the conversations of the user_id query
// parameter.
func (s *Server) handleListConversations(c *fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: chat.ErrMissingUserID.Error()})
	}

	convs, err := s.backend.ListConversations(c.Context(), userID)
	if err != nil {
		return s.backendError(c, err, "Failed to fetch conversations")
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}

	return c.JSON(convs)
}

// handleCreateConversation creates an empty conversation.
func (s *Server) handleCreateConversation(c *fiber.Ctx) error {
	var req chat.CreateConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: "invalid request body"})
	}

	conv, err := s.backend.CreateConversation(c.Context(), req)
	if errors.Is(err, chat.ErrMissingUserID) {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: err.Error()})
	}
	if err != nil {
		return s.backendError(c, err, "Failed to create conversation")
	}

	return c.JSON(conv)
}

// handleRenameConversation sets a conversation title.
func (s *Server) handleRenameConversation(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: "id parameter required"})
	}

	var req chat.RenameConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: "invalid request body"})
	}

	conv, err := s.backend.RenameConversation(c.Context(), id, req.Title)
	if err != nil {
		return s.backendError(c, err, "Failed to update conversation")
	}

	return c.JSON(conv)
}

// handleDeleteConversation deletes a conversation.
func (s *Server) handleDeleteConversation(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: "id parameter required"})
	}

	if err := s.backend.DeleteConversation(c.Context(), id); err != nil {
		return s.backendError(c, err, "Failed to delete conversation")
	}

	return c.JSON(chat.DeleteConversationResponse{Success: true})
}

// handleListMessages returns the stored messages of a conversation.
func (s *Server) handleListMessages(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: "id parameter required"})
	}

	msgs, err := s.backend.ListMessages(c.Context(), id)
	if err != nil {
		return s.backendError(c, err, "Failed to fetch messages")
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}

	return c.JSON(msgs)
}

// backendError logs the real cause and answers a fixed 500 message.
func (s *Server) backendError(c *fiber.Ctx, err error, message string) error {
	s.logger.Error("backend call failed",
		"method", c.Method(),
		"path", c.Path(),
		"error", err,
	)
	return c.Status(fiber.StatusInternalServerError).JSON(chat.ErrorResponse{Error: message})
}

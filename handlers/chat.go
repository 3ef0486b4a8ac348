package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"devdocs-chat/models"
	"devdocs-chat/relay"
	"devdocs-chat/sse"
	"devdocs-chat/store"
	"devdocs-chat/workflows"

	"github.com/gin-gonic/gin"
)

// ChatHandler handles chat-related HTTP requests
type ChatHandler struct {
	workflows *workflows.ChatWorkflows
}

// NewChatHandler creates a new chat handler
func NewChatHandler(wf *workflows.ChatWorkflows) *ChatHandler {
	return &ChatHandler{workflows: wf}
}

// Chat runs one turn and streams the reply as server-sent events
func (h *ChatHandler) Chat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	messages := make([]models.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, models.Message{Role: models.Role(m.Role), Content: m.Text()})
	}

	// Cancelled when the client goes away or this handler returns.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	turn, err := h.workflows.StartTurn(ctx, workflows.TurnInput{
		ConversationID: req.ConversationID,
		Messages:       messages,
		Language:       req.Language,
		Stream:         req.Stream,
	})
	switch {
	case errors.Is(err, workflows.ErrInvalidTurn):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, store.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "Conversation is busy with another message"})
		return
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		log.Printf("Failed to start turn: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process message"})
		return
	}

	c.Header(relay.ConversationHeader, turn.ConversationID)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	enc := sse.NewEncoder(c.Writer)
	for ev := range turn.Events() {
		if err := enc.Encode(ev); err != nil {
			log.Printf("Client for conversation %s went away: %v", turn.ConversationID, err)
			break
		}
	}
	cancel()

	res := turn.Wait()
	if res.Err == nil {
		log.Printf("Conversation %s: %s reply of %d bytes stored as #%d (%d messages submitted, degraded=%v, tokens in=%d out=%d)",
			turn.ConversationID, turn.Mode, len(res.Text), res.Sequence, turn.Submission.Len(), turn.Submission.Degraded,
			res.InputTokens, res.OutputTokens)
	}
}

// GetConversation returns the stored history of a conversation
func (h *ChatHandler) GetConversation(c *gin.Context) {
	conv, err := h.workflows.GetConversation(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	if err != nil {
		log.Printf("Failed to load conversation %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversation"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

// DeleteConversation drops a conversation and its summary
func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	err := h.workflows.DeleteConversation(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
	case errors.Is(err, store.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "Conversation is busy with another message"})
	case errors.Is(err, workflows.ErrDeleteUnsupported):
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Deleting conversations is not supported by this store"})
	default:
		log.Printf("Failed to delete conversation %s: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete conversation"})
	}
}

package handlers

import (
	"log"
	"net/http"

	"devdocs-chat/relay"

	"github.com/gin-gonic/gin"
)

// GatewayHandler forwards chat turns to an upstream backend unchanged
type GatewayHandler struct {
	gateway *relay.Gateway
}

func NewGatewayHandler(gw *relay.Gateway) *GatewayHandler {
	return &GatewayHandler{gateway: gw}
}

func (h *GatewayHandler) Chat(c *gin.Context) {
	frames, err := h.gateway.Chat(c.Request.Context(), c.Writer, c.Request.Body)
	if err == nil {
		return
	}
	if !c.Writer.Written() {
		log.Printf("Gateway upstream failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Upstream chat service unavailable"})
		return
	}
	log.Printf("Gateway stream ended after %d frames: %v", frames, err)
}

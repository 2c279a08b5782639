package router

import (
	"github.com/gin-gonic/gin"

	"omnidesk.app/core/internal/http/handler"
)

func WebhookRouter(router *gin.RouterGroup, handler *handler.WebhookHandler) {
	router.POST("/:platform/:connection_id", handler.HandleEvent)
	// Meta's subscription handshake arrives as a GET before any events.
	router.GET("/meta/:connection_id", handler.HandleMetaChallenge)
}

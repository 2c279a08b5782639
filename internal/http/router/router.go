package router

import (
	"github.com/gin-gonic/gin"

	"omnidesk.app/core/internal/http/handler"
	"omnidesk.app/core/internal/service"
	"omnidesk.app/core/internal/store"
)

func SetupRoutes(router *gin.Engine, services *service.Services, stores *store.Stores) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	webhookHandler := handler.NewWebhookHandler(services.Ingest(), services.Adapters(), stores.Connections(), services.Credentials())
	WebhookRouter(router.Group("/webhooks"), webhookHandler)

	widgetHandler := handler.NewWidgetHandler(services.WidgetSessions(), services.Ingest(), stores.Connections(), stores.Tickets())
	WidgetRouter(router.Group("/widget"), widgetHandler)
}

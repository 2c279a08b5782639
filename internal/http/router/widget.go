package router

import (
	"github.com/gin-gonic/gin"

	"omnidesk.app/core/internal/http/handler"
)

func WidgetRouter(router *gin.RouterGroup, handler *handler.WidgetHandler) {
	router.POST("/:connection_id/session", handler.Boot)
	router.POST("/:connection_id/messages", handler.Message)
	router.GET("/:connection_id/conversation", handler.Transcript)
}

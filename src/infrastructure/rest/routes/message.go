package routes

import (
	"go-line-scheduler/src/infrastructure/rest/controllers/message"

	"github.com/gin-gonic/gin"
)

func MessageRoutes(router *gin.RouterGroup, controller message.IMessageController) {
	m := router.Group("/messages")
	{
		m.POST("", controller.Schedule)
		m.GET("", controller.List)
		m.GET("/:id", controller.GetStatus)
		m.PUT("/:id", controller.Update)
		m.POST("/:id/cancel", controller.Cancel)
	}
}

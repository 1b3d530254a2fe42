package routes

import (
	"go-line-scheduler/src/infrastructure/rest/controllers/bot"

	"github.com/gin-gonic/gin"
)

func BotRoutes(router *gin.RouterGroup, controller bot.IBotController) {
	b := router.Group("/bots")
	{
		b.POST("", controller.Create)
		b.POST("/verify", controller.Verify)
		b.GET("/:id/quota", controller.Quota)
		b.GET("/:id/destinations", controller.Destinations)
		b.POST("/:id/changed", controller.CredentialChanged)
	}
}

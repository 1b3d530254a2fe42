package routes

import (
	"go-line-scheduler/src/infrastructure/rest/controllers/webhook"

	"github.com/gin-gonic/gin"
)

// WebhookRoutes mounts the platform callbacks outside /v1 so their URLs stay stable.
func WebhookRoutes(router *gin.Engine, controller webhook.IWebhookController) {
	router.POST("/webhook", controller.Receive)
	router.POST("/webhook/:id", controller.Receive)
}

package routes

import (
	"net/http"
	"time"

	"go-line-scheduler/src/infrastructure/di"
	"go-line-scheduler/src/infrastructure/rest/middlewares"

	"github.com/gin-gonic/gin"
)

func ApplicationRouter(router *gin.Engine, appContext *di.ApplicationContext) {
	v1 := router.Group("/v1")

	v1.GET("/health", func(c *gin.Context) {
		probes := gin.H{"credentials": len(appContext.ProbeSet.Snapshot())}
		if at := appContext.ProbeSet.RefreshedAt(); !at.IsZero() {
			probes["refreshedAt"] = at.UTC().Format(time.RFC3339)
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"message":  "Service is running",
			"webhooks": probes,
		})
	})

	admin := v1.Group("", middlewares.RequiresAdminTokenMiddleware(appContext.Config.AdminToken, appContext.Logger))
	MessageRoutes(admin, appContext.MessageController)
	BotRoutes(admin, appContext.BotController)
	WebhookRoutes(router, appContext.WebhookController)
}

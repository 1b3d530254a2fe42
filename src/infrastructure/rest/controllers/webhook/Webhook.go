package webhook

import (
	"context"
	"errors"
	"net/http"

	"go-line-scheduler/src/infrastructure/inbound"
	"go-line-scheduler/src/infrastructure/line"
	logger "go-line-scheduler/src/infrastructure/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// InboundRouter routes a raw webhook delivery to the credential it belongs to.
type InboundRouter interface {
	Route(ctx context.Context, req inbound.Request) (inbound.Result, error)
}

type IWebhookController interface {
	Receive(ctx *gin.Context)
}

type WebhookController struct {
	router InboundRouter
	Logger *logger.Logger
}

func NewWebhookController(router InboundRouter, loggerInstance *logger.Logger) IWebhookController {
	return &WebhookController{router: router, Logger: loggerInstance}
}

// Receive always acknowledges with 200 so the platform never retries or disables the endpoint.
func (c *WebhookController) Receive(ctx *gin.Context) {
	credentialID := ctx.Param("id")
	body, err := ctx.GetRawData()
	if err != nil {
		c.Logger.Warn("Couldn't read webhook body", zap.String("credentialID", credentialID), zap.Error(err))
		ctx.String(http.StatusOK, "OK")
		return
	}

	result, err := c.router.Route(ctx.Request.Context(), inbound.Request{
		Body:         body,
		Signature:    ctx.GetHeader(line.SignatureHeader),
		CredentialID: credentialID,
	})
	fields := []zap.Field{
		zap.String("outcome", string(result.Outcome)),
		zap.String("credentialID", result.CredentialID),
		zap.Int("dispatched", result.Dispatched),
		zap.Int("failed", result.Failed),
	}
	switch {
	case errors.Is(err, inbound.ErrInvalidSignature):
		c.Logger.Warn("Webhook signature rejected", fields...)
	case err != nil:
		c.Logger.Error("Webhook routing failed", append(fields, zap.Error(err))...)
	default:
		c.Logger.Debug("Webhook handled", fields...)
	}
	ctx.String(http.StatusOK, "OK")
}

package bot

import (
	"net/http"

	botUseCase "go-line-scheduler/src/application/usecases/bot"
	domainErrors "go-line-scheduler/src/domain/errors"
	logger "go-line-scheduler/src/infrastructure/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type IBotController interface {
	Create(ctx *gin.Context)
	Verify(ctx *gin.Context)
	Quota(ctx *gin.Context)
	Destinations(ctx *gin.Context)
	CredentialChanged(ctx *gin.Context)
}

type BotController struct {
	botUseCase botUseCase.IBotUseCase
	Logger     *logger.Logger
}

func NewBotController(uc botUseCase.IBotUseCase, loggerInstance *logger.Logger) IBotController {
	return &BotController{botUseCase: uc, Logger: loggerInstance}
}

func (c *BotController) Create(ctx *gin.Context) {
	var request CreateBotRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		c.Logger.Warn("Couldn't process bot request - invalid request", zap.Error(err))
		_ = ctx.Error(domainErrors.NewAppError(err, domainErrors.ValidationError))
		return
	}
	created, err := c.botUseCase.Create(ctx.Request.Context(), &botUseCase.CreateRequest{
		ID:            request.ID,
		Name:          request.Name,
		BasicID:       request.BasicID,
		AccessToken:   request.ChannelAccessToken,
		ChannelSecret: request.ChannelSecret,
	})
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusCreated, BotResponse{
		ID:        created.ID,
		Name:      created.Name,
		BasicID:   created.BasicID,
		IsActive:  created.IsActive,
		HasSecret: created.HasSecret(),
		CreatedAt: created.CreatedAt,
	})
}

// Verify checks a token before it is saved.
func (c *BotController) Verify(ctx *gin.Context) {
	var request VerifyBotRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		_ = ctx.Error(domainErrors.NewAppError(err, domainErrors.ValidationError))
		return
	}
	info, err := c.botUseCase.Verify(ctx.Request.Context(), request.ChannelAccessToken)
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, BotInfoResponse{
		UserID:      info.UserID,
		BasicID:     info.BasicID,
		DisplayName: info.DisplayName,
		PictureURL:  info.PictureURL,
	})
}

func (c *BotController) Quota(ctx *gin.Context) {
	report, err := c.botUseCase.Quota(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, QuotaResponse{
		BotID:       report.BotID,
		BotName:     report.BotName,
		QuotaType:   report.QuotaType,
		QuotaLimit:  report.QuotaLimit,
		TotalUsage:  report.TotalUsage,
		Remaining:   report.Remaining,
		PercentUsed: report.PercentUsed,
	})
}

func (c *BotController) Destinations(ctx *gin.Context) {
	list, err := c.botUseCase.Destinations(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	out := make([]DestinationResponse, 0, len(list))
	for _, d := range list {
		out = append(out, DestinationResponse{
			DestinationID: d.DestinationID,
			Type:          string(d.Type),
			Name:          d.Name,
			PictureURL:    d.PictureURL,
			UpdatedAt:     d.UpdatedAt,
		})
	}
	ctx.JSON(http.StatusOK, out)
}

// CredentialChanged is called by the admin surface after a bot row is edited.
func (c *BotController) CredentialChanged(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := c.botUseCase.OnCredentialChanged(ctx.Request.Context(), id); err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"id": id, "status": "invalidated"})
}

package message

import (
	"errors"
	"net/http"
	"time"

	msgUseCase "go-line-scheduler/src/application/usecases/message"
	"go-line-scheduler/src/domain/common"
	domainErrors "go-line-scheduler/src/domain/errors"
	domainScheduled "go-line-scheduler/src/domain/scheduled"
	logger "go-line-scheduler/src/infrastructure/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type IMessageController interface {
	Schedule(ctx *gin.Context)
	Cancel(ctx *gin.Context)
	Update(ctx *gin.Context)
	GetStatus(ctx *gin.Context)
	List(ctx *gin.Context)
}

type MessageController struct {
	commonService  common.CommonService
	messageUseCase msgUseCase.IMessageUseCase
	Logger         *logger.Logger
}

func NewMessageController(
	commonService common.CommonService,
	messageUseCase msgUseCase.IMessageUseCase,
	loggerInstance *logger.Logger,
) IMessageController {
	return &MessageController{
		commonService:  commonService,
		messageUseCase: messageUseCase,
		Logger:         loggerInstance,
	}
}

// bindFailed reports a binding error on ctx, rendering validator errors field by field.
func (c *MessageController) bindFailed(ctx *gin.Context, err error, request any) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		c.Logger.Warn("Validation errors occurred", zap.Any("errors", ve.Error()))
		c.commonService.AppendValidationErrors(ctx, ve, request)
		return
	}
	c.Logger.Warn("Couldn't process request - invalid request", zap.Error(err))
	_ = ctx.Error(domainErrors.NewAppError(err, domainErrors.ValidationError))
}

func (c *MessageController) Schedule(ctx *gin.Context) {
	var request ScheduleMessageRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		c.bindFailed(ctx, err, request)
		return
	}

	created, err := c.messageUseCase.Schedule(ctx.Request.Context(), &msgUseCase.ScheduleRequest{
		Content:       request.Content,
		ImageRefs:     request.ImageURLs,
		ScheduledTime: request.ScheduledTime,
		TargetType:    domainScheduled.TargetType(request.TargetType),
		TargetIDs:     request.TargetIDs,
		ImageFirst:    request.ImageFirst,
		CredentialRef: request.BotID,
	})
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusCreated, toResponse(created, nil))
}

func (c *MessageController) Cancel(ctx *gin.Context) {
	var request MessageIDRequest
	if err := ctx.ShouldBindUri(&request); err != nil {
		_ = ctx.Error(domainErrors.NewAppError(errors.New("invalid message id"), domainErrors.ValidationError))
		return
	}
	msg, err := c.messageUseCase.Cancel(ctx.Request.Context(), request.ID)
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, toResponse(msg, nil))
}

// Update edits a message that has not been picked up for delivery yet.
func (c *MessageController) Update(ctx *gin.Context) {
	var uri MessageIDRequest
	if err := ctx.ShouldBindUri(&uri); err != nil {
		_ = ctx.Error(domainErrors.NewAppError(errors.New("invalid message id"), domainErrors.ValidationError))
		return
	}
	var request UpdateMessageRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		c.bindFailed(ctx, err, request)
		return
	}
	update := &msgUseCase.UpdateRequest{
		Content:       request.Content,
		ImageRefs:     request.ImageURLs,
		ScheduledTime: request.ScheduledTime,
		TargetIDs:     request.TargetIDs,
		ImageFirst:    request.ImageFirst,
		CredentialRef: request.BotID,
	}
	if request.TargetType != nil {
		tt := domainScheduled.TargetType(*request.TargetType)
		update.TargetType = &tt
	}
	msg, err := c.messageUseCase.Update(ctx.Request.Context(), uri.ID, update)
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, toResponse(msg, nil))
}

// List returns messages by scheduled time with their latest attempt.
func (c *MessageController) List(ctx *gin.Context) {
	var request ListMessagesRequest
	if err := ctx.ShouldBindQuery(&request); err != nil {
		c.bindFailed(ctx, err, request)
		return
	}
	items, err := c.messageUseCase.List(ctx.Request.Context(), &msgUseCase.ListRequest{
		Status: domainScheduled.Status(request.Status),
		Limit:  request.Limit,
		Offset: request.Offset,
	})
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	out := make([]*MessageResponse, len(items))
	for i, item := range items {
		out[i] = toResponse(item.Message, nil)
		if len(item.Attempts) > 0 {
			last := toAttempt(item.Attempts[len(item.Attempts)-1])
			out[i].LastAttempt = &last
		}
	}
	ctx.JSON(http.StatusOK, out)
}

// GetStatus handles requests to check the status of a message
func (c *MessageController) GetStatus(ctx *gin.Context) {
	var request MessageIDRequest
	if err := ctx.ShouldBindUri(&request); err != nil {
		_ = ctx.Error(domainErrors.NewAppError(errors.New("invalid message id"), domainErrors.ValidationError))
		return
	}
	res, err := c.messageUseCase.GetStatus(ctx.Request.Context(), request.ID)
	if err != nil {
		_ = ctx.Error(err)
		return
	}
	ctx.JSON(http.StatusOK, toResponse(res.Message, res.Attempts))
}

func toResponse(msg *domainScheduled.ScheduledMessage, attempts []domainScheduled.DeliveryAttemptLog) *MessageResponse {
	images := msg.ImageRefs
	if images == nil {
		images = []string{}
	}
	out := &MessageResponse{
		ID:            msg.ID,
		Status:        string(msg.Status),
		Content:       msg.Content,
		ImageURLs:     images,
		ScheduledTime: msg.ScheduledTime.UTC().Format(time.RFC3339),
		TargetType:    string(msg.TargetType),
		TargetIDs:     msg.TargetIDs,
		ImageFirst:    msg.ImageFirst,
		BotID:         msg.CredentialRef,
		CreatedAt:     msg.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     msg.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, a := range attempts {
		out.Attempts = append(out.Attempts, toAttempt(a))
	}
	return out
}

func toAttempt(a domainScheduled.DeliveryAttemptLog) Attempt {
	return Attempt{
		Status:    string(a.Status),
		Error:     a.Error,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

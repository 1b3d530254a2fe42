package message

import (
	"context"
	"fmt"
	"time"

	domainErrors "go-line-scheduler/src/domain/errors"
	domainScheduled "go-line-scheduler/src/domain/scheduled"
	logger "go-line-scheduler/src/infrastructure/logger"
	scheduledRepo "go-line-scheduler/src/infrastructure/repository/database/scheduled"
	"go-line-scheduler/src/infrastructure/trigger"

	"go.uber.org/zap"
)

// ScheduleRequest represents a request to schedule a message
type ScheduleRequest struct {
	Content       string
	ImageRefs     []string
	ScheduledTime time.Time
	TargetType    domainScheduled.TargetType
	TargetIDs     []string
	ImageFirst    bool
	CredentialRef string
}

// UpdateRequest is a partial edit of a pending message; nil fields keep their stored value.
type UpdateRequest struct {
	Content       *string
	ImageRefs     *[]string
	ScheduledTime *time.Time
	TargetType    *domainScheduled.TargetType
	TargetIDs     *[]string
	ImageFirst    *bool
	CredentialRef *string
}

// ListRequest pages through messages, optionally by status.
type ListRequest struct {
	Status domainScheduled.Status
	Limit  int
	Offset int
}

// MessageStatusResponse is a message together with its delivery attempts
type MessageStatusResponse struct {
	Message  *domainScheduled.ScheduledMessage
	Attempts []domainScheduled.DeliveryAttemptLog
}

// IMessageUseCase defines the interface for message use cases
type IMessageUseCase interface {
	Schedule(ctx context.Context, request *ScheduleRequest) (*domainScheduled.ScheduledMessage, error)
	Cancel(ctx context.Context, id int) (*domainScheduled.ScheduledMessage, error)
	Update(ctx context.Context, id int, request *UpdateRequest) (*domainScheduled.ScheduledMessage, error)
	GetStatus(ctx context.Context, id int) (*MessageStatusResponse, error)
	List(ctx context.Context, request *ListRequest) ([]MessageStatusResponse, error)
}

const maxListLimit = 200

// MessageUseCase implements the IMessageUseCase interface
type MessageUseCase struct {
	repository scheduledRepo.ScheduledMessageRepositoryInterface
	trigger    trigger.Publisher
	lookahead  time.Duration
	now        func() time.Time
	Logger     *logger.Logger
}

// NewMessageUseCase creates a new MessageUseCase. A message due within lookahead of now
// requests an immediate engine tick through trig.
func NewMessageUseCase(
	repository scheduledRepo.ScheduledMessageRepositoryInterface,
	trig trigger.Publisher,
	lookahead time.Duration,
	loggerInstance *logger.Logger,
) IMessageUseCase {
	return &MessageUseCase{
		repository: repository,
		trigger:    trig,
		lookahead:  lookahead,
		now:        time.Now,
		Logger:     loggerInstance,
	}
}

// Schedule stores a new pending message
func (m *MessageUseCase) Schedule(ctx context.Context, request *ScheduleRequest) (*domainScheduled.ScheduledMessage, error) {
	msg := &domainScheduled.ScheduledMessage{
		Content:       request.Content,
		ImageRefs:     request.ImageRefs,
		ScheduledTime: request.ScheduledTime.UTC(),
		TargetType:    request.TargetType,
		TargetIDs:     request.TargetIDs,
		ImageFirst:    request.ImageFirst,
		CredentialRef: request.CredentialRef,
		Status:        domainScheduled.StatusPending,
	}
	if err := msg.Validate(); err != nil {
		m.Logger.Warn("Rejected message schedule request", zap.Error(err))
		return nil, err
	}

	created, err := m.repository.Create(ctx, msg)
	if err != nil {
		m.Logger.Error("Error creating scheduled message", zap.Error(err))
		return nil, err
	}
	m.Logger.Info("Message scheduled",
		zap.Int("messageID", created.ID),
		zap.Time("scheduledTime", created.ScheduledTime),
		zap.Int("recipients", len(created.TargetIDs)),
		zap.String("credentialID", created.CredentialRef))

	m.triggerIfDue(ctx, created)
	return created, nil
}

func (m *MessageUseCase) triggerIfDue(ctx context.Context, msg *domainScheduled.ScheduledMessage) {
	if m.trigger == nil || msg.ScheduledTime.After(m.now().Add(m.lookahead)) {
		return
	}
	if err := m.trigger.Publish(ctx); err != nil {
		// the periodic tick still picks it up
		m.Logger.Warn("Could not request immediate tick", zap.Int("messageID", msg.ID), zap.Error(err))
	}
}

// Update edits a message while it is still pending. The stored row is only rewritten if it is
// still pending at write time, so an edit racing the engine's claim is a Conflict, never a change
// to a message already being sent.
func (m *MessageUseCase) Update(ctx context.Context, id int, request *UpdateRequest) (*domainScheduled.ScheduledMessage, error) {
	current, err := m.repository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != domainScheduled.StatusPending {
		return nil, domainErrors.NewAppError(
			fmt.Errorf("message %d is %s and can no longer be edited", id, current.Status),
			domainErrors.Conflict)
	}

	edited := *current
	if request.Content != nil {
		edited.Content = *request.Content
	}
	if request.ImageRefs != nil {
		edited.ImageRefs = *request.ImageRefs
	}
	if request.ScheduledTime != nil {
		edited.ScheduledTime = request.ScheduledTime.UTC()
	}
	if request.TargetType != nil {
		edited.TargetType = *request.TargetType
	}
	if request.TargetIDs != nil {
		edited.TargetIDs = *request.TargetIDs
	}
	if request.ImageFirst != nil {
		edited.ImageFirst = *request.ImageFirst
	}
	if request.CredentialRef != nil {
		edited.CredentialRef = *request.CredentialRef
	}
	if err := edited.Validate(); err != nil {
		m.Logger.Warn("Rejected message edit", zap.Int("messageID", id), zap.Error(err))
		return nil, err
	}

	updated, err := m.repository.UpdatePending(ctx, &edited)
	if err != nil {
		m.Logger.Warn("Message edit not applied", zap.Int("messageID", id), zap.Error(err))
		return nil, err
	}
	m.Logger.Info("Message updated", zap.Int("messageID", id), zap.Time("scheduledTime", updated.ScheduledTime))
	m.triggerIfDue(ctx, updated)
	return updated, nil
}

// Cancel moves a pending message to cancelled. Messages already claimed by the engine are a Conflict.
func (m *MessageUseCase) Cancel(ctx context.Context, id int) (*domainScheduled.ScheduledMessage, error) {
	if err := m.repository.Cancel(ctx, id); err != nil {
		m.Logger.Warn("Cancel rejected", zap.Int("messageID", id), zap.Error(err))
		return nil, err
	}
	m.Logger.Info("Message cancelled", zap.Int("messageID", id))
	return m.repository.GetByID(ctx, id)
}

// GetStatus retrieves a message and its delivery attempt log
func (m *MessageUseCase) GetStatus(ctx context.Context, id int) (*MessageStatusResponse, error) {
	msg, err := m.repository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	attempts, err := m.repository.GetAttemptLogs(ctx, id)
	if err != nil {
		m.Logger.Error("Error getting attempt logs", zap.Int("messageID", id), zap.Error(err))
		return nil, err
	}
	return &MessageStatusResponse{Message: msg, Attempts: attempts}, nil
}

// List returns messages by scheduled time, each with its most recent attempt log, if any.
func (m *MessageUseCase) List(ctx context.Context, request *ListRequest) ([]MessageStatusResponse, error) {
	filter := scheduledRepo.ListFilter{Status: request.Status, Limit: request.Limit, Offset: request.Offset}
	if filter.Limit <= 0 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	msgs, err := m.repository.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
	}
	latest, err := m.repository.LatestAttemptLogs(ctx, ids)
	if err != nil {
		m.Logger.Error("Error getting latest attempt logs", zap.Error(err))
		return nil, err
	}
	out := make([]MessageStatusResponse, len(msgs))
	for i := range msgs {
		out[i] = MessageStatusResponse{Message: &msgs[i]}
		if log, ok := latest[msgs[i].ID]; ok {
			out[i].Attempts = []domainScheduled.DeliveryAttemptLog{log}
		}
	}
	return out, nil
}

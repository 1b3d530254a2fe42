package scheduled

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainErrors "go-line-scheduler/src/domain/errors"
	domainScheduled "go-line-scheduler/src/domain/scheduled"
	logger "go-line-scheduler/src/infrastructure/logger"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ScheduledMessage is the database model for scheduled messages
type ScheduledMessage struct {
	ID            int        `gorm:"primaryKey"`
	Content       string     `gorm:"column:content;type:text"`
	ImageRefs     string     `gorm:"column:image_refs;type:text"`
	ScheduledTime time.Time  `gorm:"column:scheduled_time;index:idx_status_scheduled,priority:2"`
	TargetType    string     `gorm:"column:target_type;size:16"`
	TargetIDs     string     `gorm:"column:target_ids;type:text"`
	ImageFirst    bool       `gorm:"column:image_first;default:false"`
	CredentialID  *string    `gorm:"column:credential_id;size:64;index"`
	Status        string     `gorm:"column:status;size:16;index:idx_status_scheduled,priority:1"`
	ClaimToken    *string    `gorm:"column:claim_token;size:36;index"`
	ClaimedAt     *time.Time `gorm:"column:claimed_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime:milli"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime:milli"`
}

func (ScheduledMessage) TableName() string {
	return "scheduled_messages"
}

// ScheduledMessageRepositoryInterface defines the storage operations on scheduled messages
type ScheduledMessageRepositoryInterface interface {
	Create(ctx context.Context, msg *domainScheduled.ScheduledMessage) (*domainScheduled.ScheduledMessage, error)
	GetByID(ctx context.Context, id int) (*domainScheduled.ScheduledMessage, error)
	ListDue(ctx context.Context, until time.Time, limit int) ([]domainScheduled.ScheduledMessage, error)
	Claim(ctx context.Context, ids []int, until time.Time) ([]domainScheduled.ScheduledMessage, error)
	Complete(ctx context.Context, id int, status domainScheduled.Status, errorText string) error
	Cancel(ctx context.Context, id int) error
	UpdatePending(ctx context.Context, msg *domainScheduled.ScheduledMessage) (*domainScheduled.ScheduledMessage, error)
	List(ctx context.Context, filter ListFilter) ([]domainScheduled.ScheduledMessage, error)
	GetAttemptLogs(ctx context.Context, messageID int) ([]domainScheduled.DeliveryAttemptLog, error)
	LatestAttemptLogs(ctx context.Context, messageIDs []int) (map[int]domainScheduled.DeliveryAttemptLog, error)
}

// ListFilter narrows List; the zero value lists everything.
type ListFilter struct {
	Status domainScheduled.Status
	Limit  int
	Offset int
}

type Repository struct {
	DB     *gorm.DB
	Logger *logger.Logger
}

func NewScheduledMessageRepository(db *gorm.DB, loggerInstance *logger.Logger) ScheduledMessageRepositoryInterface {
	return &Repository{DB: db, Logger: loggerInstance}
}

func (r *Repository) Create(ctx context.Context, msg *domainScheduled.ScheduledMessage) (*domainScheduled.ScheduledMessage, error) {
	model, err := fromDomainMapper(msg)
	if err != nil {
		return nil, domainErrors.NewAppError(err, domainErrors.ValidationError)
	}
	model.Status = string(domainScheduled.StatusPending)
	if err := r.DB.WithContext(ctx).Create(model).Error; err != nil {
		r.Logger.Error("Error creating scheduled message", zap.Error(err))
		return nil, domainErrors.NewAppErrorWithType(domainErrors.UnknownError)
	}
	r.Logger.Info("Scheduled message created",
		zap.Int("messageID", model.ID),
		zap.Time("scheduledTime", model.ScheduledTime),
		zap.Int("recipients", len(msg.TargetIDs)))
	return model.toDomainMapper(), nil
}

func (r *Repository) GetByID(ctx context.Context, id int) (*domainScheduled.ScheduledMessage, error) {
	var model ScheduledMessage
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.Logger.Warn("Scheduled message not found", zap.Int("messageID", id))
			return nil, domainErrors.NewAppErrorWithType(domainErrors.NotFound)
		}
		r.Logger.Error("Error getting scheduled message by ID", zap.Error(err), zap.Int("messageID", id))
		return nil, domainErrors.NewAppErrorWithType(domainErrors.UnknownError)
	}
	return model.toDomainMapper(), nil
}

// ListDue returns up to limit pending messages scheduled at or before until, oldest first.
func (r *Repository) ListDue(ctx context.Context, until time.Time, limit int) ([]domainScheduled.ScheduledMessage, error) {
	var models []ScheduledMessage
	err := r.DB.WithContext(ctx).
		Where("status = ? AND scheduled_time <= ?", string(domainScheduled.StatusPending), until.UTC()).
		Order("scheduled_time ASC").
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		r.Logger.Error("Error listing due messages", zap.Error(err))
		return nil, fmt.Errorf("list due messages: %w", err)
	}
	return arrayToDomainMapper(models), nil
}

// Claim flips the rows among ids that are still pending and still due by until to sending, in a
// single conditional UPDATE, and returns only the rows this call won. A fresh claim token tags the
// winning rows so they can be read back without a second race.
func (r *Repository) Claim(ctx context.Context, ids []int, until time.Time) ([]domainScheduled.ScheduledMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	token, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generate claim token: %w", err)
	}
	claimToken := token.String()
	now := time.Now().UTC()

	var models []ScheduledMessage
	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ScheduledMessage{}).
			Where("id IN ? AND status = ? AND scheduled_time <= ?", ids, string(domainScheduled.StatusPending), until.UTC()).
			Updates(map[string]interface{}{
				"status":      string(domainScheduled.StatusSending),
				"claim_token": claimToken,
				"claimed_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Where("claim_token = ?", claimToken).
			Order("scheduled_time ASC").
			Order("id ASC").
			Find(&models).Error
	})
	if err != nil {
		r.Logger.Error("Error claiming due messages", zap.Error(err), zap.Ints("messageIDs", ids))
		return nil, fmt.Errorf("claim messages: %w", err)
	}
	if len(models) < len(ids) {
		r.Logger.Debug("Some messages were claimed elsewhere or changed state",
			zap.Int("requested", len(ids)), zap.Int("claimed", len(models)))
	}
	return arrayToDomainMapper(models), nil
}

// Complete moves a claimed message to its terminal status and appends the attempt log in the same
// transaction. It refuses rows that are no longer sending.
func (r *Repository) Complete(ctx context.Context, id int, status domainScheduled.Status, errorText string) error {
	if !domainScheduled.CanTransition(domainScheduled.StatusSending, status) {
		return domainErrors.NewAppError(fmt.Errorf("invalid terminal status %q", status), domainErrors.ValidationError)
	}
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ScheduledMessage{}).
			Where("id = ? AND status = ?", id, string(domainScheduled.StatusSending)).
			Update("status", string(status))
		if res.Error != nil {
			return fmt.Errorf("update message status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return domainErrors.NewAppError(fmt.Errorf("message %d is not in sending state", id), domainErrors.Conflict)
		}
		entry := DeliveryAttemptLog{
			MessageID: id,
			Status:    string(status),
			Error:     errorText,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("append attempt log: %w", err)
		}
		return nil
	})
}

// Cancel is allowed only while the message is still pending.
func (r *Repository) Cancel(ctx context.Context, id int) error {
	res := r.DB.WithContext(ctx).Model(&ScheduledMessage{}).
		Where("id = ? AND status = ?", id, string(domainScheduled.StatusPending)).
		Update("status", string(domainScheduled.StatusCancelled))
	if res.Error != nil {
		r.Logger.Error("Error cancelling scheduled message", zap.Error(res.Error), zap.Int("messageID", id))
		return domainErrors.NewAppErrorWithType(domainErrors.UnknownError)
	}
	if res.RowsAffected == 1 {
		r.Logger.Info("Scheduled message cancelled", zap.Int("messageID", id))
		return nil
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return domainErrors.NewAppError(
		fmt.Errorf("message %d is %s and can no longer be cancelled", id, current.Status),
		domainErrors.Conflict)
}

// UpdatePending rewrites the editable fields of msg, but only while the row is still pending. Once
// the engine has claimed it the edit is a Conflict.
func (r *Repository) UpdatePending(ctx context.Context, msg *domainScheduled.ScheduledMessage) (*domainScheduled.ScheduledMessage, error) {
	model, err := fromDomainMapper(msg)
	if err != nil {
		return nil, domainErrors.NewAppError(err, domainErrors.ValidationError)
	}
	res := r.DB.WithContext(ctx).Model(&ScheduledMessage{}).
		Where("id = ? AND status = ?", msg.ID, string(domainScheduled.StatusPending)).
		Updates(map[string]interface{}{
			"content":        model.Content,
			"image_refs":     model.ImageRefs,
			"scheduled_time": model.ScheduledTime,
			"target_type":    model.TargetType,
			"target_ids":     model.TargetIDs,
			"image_first":    model.ImageFirst,
			"credential_id":  model.CredentialID,
		})
	if res.Error != nil {
		r.Logger.Error("Error updating scheduled message", zap.Error(res.Error), zap.Int("messageID", msg.ID))
		return nil, domainErrors.NewAppErrorWithType(domainErrors.UnknownError)
	}
	current, err := r.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, domainErrors.NewAppError(
			fmt.Errorf("message %d is %s and can no longer be edited", msg.ID, current.Status),
			domainErrors.Conflict)
	}
	r.Logger.Info("Scheduled message updated", zap.Int("messageID", msg.ID))
	return current, nil
}

// List returns messages ordered by scheduled time.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]domainScheduled.ScheduledMessage, error) {
	var models []ScheduledMessage
	q := r.DB.WithContext(ctx).Order("scheduled_time ASC").Order("id ASC")
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if err := q.Find(&models).Error; err != nil {
		r.Logger.Error("Error listing scheduled messages", zap.Error(err))
		return nil, domainErrors.NewAppErrorWithType(domainErrors.UnknownError)
	}
	return arrayToDomainMapper(models), nil
}

// LatestAttemptLogs returns the newest attempt log per message; messages never processed are absent.
func (r *Repository) LatestAttemptLogs(ctx context.Context, messageIDs []int) (map[int]domainScheduled.DeliveryAttemptLog, error) {
	out := make(map[int]domainScheduled.DeliveryAttemptLog, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	var logs []DeliveryAttemptLog
	if err := r.DB.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Order("id DESC").
		Find(&logs).Error; err != nil {
		r.Logger.Error("Error getting latest attempt logs", zap.Error(err))
		return nil, domainErrors.NewAppErrorWithType(domainErrors.UnknownError)
	}
	for i := range logs {
		if _, seen := out[logs[i].MessageID]; !seen {
			out[logs[i].MessageID] = logs[i].toDomainMapper()
		}
	}
	return out, nil
}

func (r *Repository) GetAttemptLogs(ctx context.Context, messageID int) ([]domainScheduled.DeliveryAttemptLog, error) {
	var logs []DeliveryAttemptLog
	if err := r.DB.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("id ASC").
		Find(&logs).Error; err != nil {
		r.Logger.Error("Error getting attempt logs", zap.Error(err), zap.Int("messageID", messageID))
		return nil, domainErrors.NewAppErrorWithType(domainErrors.UnknownError)
	}
	out := make([]domainScheduled.DeliveryAttemptLog, len(logs))
	for i := range logs {
		out[i] = logs[i].toDomainMapper()
	}
	return out, nil
}

// Mappers
func (m *ScheduledMessage) toDomainMapper() *domainScheduled.ScheduledMessage {
	var targets, images []string
	_ = json.Unmarshal([]byte(m.TargetIDs), &targets)
	if m.ImageRefs != "" {
		_ = json.Unmarshal([]byte(m.ImageRefs), &images)
	}
	credentialRef := ""
	if m.CredentialID != nil {
		credentialRef = *m.CredentialID
	}
	return &domainScheduled.ScheduledMessage{
		ID:            m.ID,
		Content:       m.Content,
		ImageRefs:     images,
		ScheduledTime: m.ScheduledTime,
		TargetType:    domainScheduled.TargetType(m.TargetType),
		TargetIDs:     targets,
		ImageFirst:    m.ImageFirst,
		CredentialRef: credentialRef,
		Status:        domainScheduled.Status(m.Status),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func fromDomainMapper(msg *domainScheduled.ScheduledMessage) (*ScheduledMessage, error) {
	targets, err := json.Marshal(msg.TargetIDs)
	if err != nil {
		return nil, err
	}
	images := ""
	if len(msg.ImageRefs) > 0 {
		b, err := json.Marshal(msg.ImageRefs)
		if err != nil {
			return nil, err
		}
		images = string(b)
	}
	var credentialID *string
	if msg.CredentialRef != "" {
		ref := msg.CredentialRef
		credentialID = &ref
	}
	return &ScheduledMessage{
		ID:            msg.ID,
		Content:       msg.Content,
		ImageRefs:     images,
		ScheduledTime: msg.ScheduledTime.UTC(),
		TargetType:    string(msg.TargetType),
		TargetIDs:     string(targets),
		ImageFirst:    msg.ImageFirst,
		CredentialID:  credentialID,
		Status:        string(msg.Status),
	}, nil
}

func arrayToDomainMapper(models []ScheduledMessage) []domainScheduled.ScheduledMessage {
	out := make([]domainScheduled.ScheduledMessage, len(models))
	for i := range models {
		out[i] = *models[i].toDomainMapper()
	}
	return out
}

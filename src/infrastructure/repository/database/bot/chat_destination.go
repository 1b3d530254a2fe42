package bot

import (
	"context"
	"time"

	domainCredential "go-line-scheduler/src/domain/credential"
	domainErrors "go-line-scheduler/src/domain/errors"
	logger "go-line-scheduler/src/infrastructure/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatDestination is the database model for chats registered from inbound events
type ChatDestination struct {
	ID            int       `gorm:"primaryKey"`
	DestinationID string    `gorm:"column:destination_id;size:64;uniqueIndex"`
	Type          string    `gorm:"column:type;size:16"`
	Name          string    `gorm:"column:name"`
	PictureURL    string    `gorm:"column:picture_url;type:text"`
	CredentialID  string    `gorm:"column:credential_id;size:64;index"`
	CreatedAt     time.Time `gorm:"autoCreateTime:milli"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:milli"`
}

func (ChatDestination) TableName() string {
	return "chat_destinations"
}

type ChatDestinationRepositoryInterface interface {
	Upsert(ctx context.Context, d *domainCredential.ChatDestination) error
	ListByCredential(ctx context.Context, credentialID string) ([]domainCredential.ChatDestination, error)
}

type DestinationRepository struct {
	DB     *gorm.DB
	Logger *logger.Logger
}

func NewChatDestinationRepository(db *gorm.DB, loggerInstance *logger.Logger) ChatDestinationRepositoryInterface {
	return &DestinationRepository{DB: db, Logger: loggerInstance}
}

// Upsert registers a destination keyed by its platform id. A blank name on the incoming record
// keeps whatever name is already stored, so a failed summary lookup never erases a known one.
func (r *DestinationRepository) Upsert(ctx context.Context, d *domainCredential.ChatDestination) error {
	model := &ChatDestination{
		DestinationID: d.DestinationID,
		Type:          string(d.Type),
		Name:          d.Name,
		PictureURL:    d.PictureURL,
		CredentialID:  d.CredentialID,
	}
	updateColumns := []string{"type", "credential_id", "updated_at"}
	if d.Name != "" {
		updateColumns = append(updateColumns, "name")
	}
	if d.PictureURL != "" {
		updateColumns = append(updateColumns, "picture_url")
	}
	err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "destination_id"}},
		DoUpdates: clause.AssignmentColumns(updateColumns),
	}).Create(model).Error
	if err != nil {
		r.Logger.Error("Error upserting chat destination", zap.Error(err),
			zap.String("destinationID", d.DestinationID), zap.String("credentialID", d.CredentialID))
		return domainErrors.NewAppErrorWithType(domainErrors.UnknownError)
	}
	r.Logger.Info("Chat destination registered",
		zap.String("destinationID", d.DestinationID),
		zap.String("type", string(d.Type)),
		zap.String("credentialID", d.CredentialID))
	return nil
}

func (r *DestinationRepository) ListByCredential(ctx context.Context, credentialID string) ([]domainCredential.ChatDestination, error) {
	var models []ChatDestination
	if err := r.DB.WithContext(ctx).
		Where("credential_id = ?", credentialID).
		Order("id ASC").
		Find(&models).Error; err != nil {
		r.Logger.Error("Error listing chat destinations", zap.Error(err), zap.String("credentialID", credentialID))
		return nil, domainErrors.NewAppErrorWithType(domainErrors.UnknownError)
	}
	out := make([]domainCredential.ChatDestination, len(models))
	for i, m := range models {
		out[i] = domainCredential.ChatDestination{
			ID:            m.ID,
			DestinationID: m.DestinationID,
			Type:          domainCredential.DestinationType(m.Type),
			Name:          m.Name,
			PictureURL:    m.PictureURL,
			CredentialID:  m.CredentialID,
			CreatedAt:     m.CreatedAt,
			UpdatedAt:     m.UpdatedAt,
		}
	}
	return out, nil
}

package bot

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	domainCredential "go-line-scheduler/src/domain/credential"
	domainErrors "go-line-scheduler/src/domain/errors"
	logger "go-line-scheduler/src/infrastructure/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Credential is the database model for LINE channel credentials ("bots")
type Credential struct {
	ID            string    `gorm:"primaryKey;size:64"`
	Name          string    `gorm:"column:name"`
	BasicID       string    `gorm:"column:basic_id;size:64"`
	AccessToken   string    `gorm:"column:access_token;type:text"`
	ChannelSecret string    `gorm:"column:channel_secret;size:128"`
	IsActive      bool      `gorm:"column:is_active;index"`
	CreatedAt     time.Time `gorm:"autoCreateTime:milli"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:milli"`
}

func (Credential) TableName() string {
	return "line_bots"
}

// CredentialRepositoryInterface exposes the two read paths used by the cache and the probe set.
type CredentialRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*domainCredential.Credential, error)
	ListActive(ctx context.Context) ([]domainCredential.Credential, error)
	Create(ctx context.Context, c *domainCredential.Credential) (*domainCredential.Credential, error)
}

type Repository struct {
	DB     *gorm.DB
	Logger *logger.Logger
}

func NewCredentialRepository(db *gorm.DB, loggerInstance *logger.Logger) CredentialRepositoryInterface {
	return &Repository{DB: db, Logger: loggerInstance}
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domainCredential.Credential, error) {
	var model Credential
	err := r.DB.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.Logger.Warn("Credential not found", zap.String("credentialID", id))
			return nil, domainErrors.NewAppErrorWithType(domainErrors.NotFound)
		}
		r.Logger.Error("Error getting credential by ID", zap.Error(err), zap.String("credentialID", id))
		return nil, domainErrors.NewAppErrorWithType(domainErrors.UnknownError)
	}
	return model.toDomainMapper(), nil
}

func (r *Repository) ListActive(ctx context.Context) ([]domainCredential.Credential, error) {
	var models []Credential
	if err := r.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&models).Error; err != nil {
		r.Logger.Error("Error listing active credentials", zap.Error(err))
		return nil, domainErrors.NewAppErrorWithType(domainErrors.UnknownError)
	}
	out := make([]domainCredential.Credential, len(models))
	for i := range models {
		out[i] = *models[i].toDomainMapper()
	}
	return out, nil
}

func (r *Repository) Create(ctx context.Context, c *domainCredential.Credential) (*domainCredential.Credential, error) {
	model := fromDomainMapper(c)
	if err := r.DB.WithContext(ctx).Create(model).Error; err != nil {
		r.Logger.Error("Error creating credential", zap.Error(err), zap.String("credentialID", c.ID))
		byteErr, _ := json.Marshal(err)
		var newError domainErrors.GormErr
		if errUnmarshal := json.Unmarshal(byteErr, &newError); errUnmarshal == nil && newError.Number == 1062 {
			return nil, domainErrors.NewAppErrorWithType(domainErrors.ResourceAlreadyExists)
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, domainErrors.NewAppErrorWithType(domainErrors.ResourceAlreadyExists)
		}
		return nil, domainErrors.NewAppErrorWithType(domainErrors.UnknownError)
	}
	return model.toDomainMapper(), nil
}

// Mappers
func (m *Credential) toDomainMapper() *domainCredential.Credential {
	return &domainCredential.Credential{
		ID:            m.ID,
		Name:          m.Name,
		BasicID:       m.BasicID,
		AccessToken:   m.AccessToken,
		ChannelSecret: m.ChannelSecret,
		IsActive:      m.IsActive,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func fromDomainMapper(c *domainCredential.Credential) *Credential {
	return &Credential{
		ID:            c.ID,
		Name:          c.Name,
		BasicID:       c.BasicID,
		AccessToken:   c.AccessToken,
		ChannelSecret: c.ChannelSecret,
		IsActive:      c.IsActive,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

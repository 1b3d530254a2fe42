package scheduled

import (
	"time"

	domainScheduled "go-line-scheduler/src/domain/scheduled"
)

// DeliveryAttemptLog is the database model for the append-only attempt log
type DeliveryAttemptLog struct {
	ID        int       `gorm:"primaryKey"`
	MessageID int       `gorm:"column:message_id;index"`
	Status    string    `gorm:"column:status;size:16"`
	Error     string    `gorm:"column:error;type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime:milli"`
}

func (DeliveryAttemptLog) TableName() string {
	return "delivery_attempt_logs"
}

func (l *DeliveryAttemptLog) toDomainMapper() domainScheduled.DeliveryAttemptLog {
	return domainScheduled.DeliveryAttemptLog{
		ID:        l.ID,
		MessageID: l.MessageID,
		Status:    domainScheduled.Status(l.Status),
		Error:     l.Error,
		CreatedAt: l.CreatedAt,
	}
}

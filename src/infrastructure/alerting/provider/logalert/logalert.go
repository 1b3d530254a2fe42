package logalert

import (
	"context"
	"errors"

	"go-line-scheduler/src/infrastructure/alerting/alert"
	logger "go-line-scheduler/src/infrastructure/logger"

	"go.uber.org/zap"
)

var ErrNoLogger = errors.New("log alert provider has no logger")

// AlertProvider writes alerts to the application log at error level
type AlertProvider struct {
	// DefaultAlert is the default alert configuration to use for alerts with an alert of the appropriate type
	DefaultAlert *alert.Alert `yaml:"default-alert,omitempty"`

	logger *logger.Logger
}

// SetLogger attaches the logger alerts are written to.
func (provider *AlertProvider) SetLogger(l *logger.Logger) {
	provider.logger = l
}

func (provider *AlertProvider) Validate() error {
	if provider.logger == nil {
		return ErrNoLogger
	}
	return nil
}

func (provider *AlertProvider) Send(_ context.Context, a *alert.Alert) error {
	if provider.logger == nil {
		return ErrNoLogger
	}
	fields := []zap.Field{
		zap.String("alertType", string(a.Type)),
		zap.String("subject", a.GetSubject()),
		zap.String("description", a.GetDescription()),
		zap.String("checksum", a.Checksum()),
		zap.Time("triggeredAt", a.TriggeredAt),
	}
	for _, k := range a.SortedFieldKeys() {
		fields = append(fields, zap.String(k, a.Fields[k]))
	}
	provider.logger.Error("ALERT", fields...)
	return nil
}

func (provider *AlertProvider) GetDefaultAlert() *alert.Alert {
	return provider.DefaultAlert
}

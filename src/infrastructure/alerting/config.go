package alerting

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"go-line-scheduler/src/infrastructure/alerting/alert"
	"go-line-scheduler/src/infrastructure/alerting/provider"
	"go-line-scheduler/src/infrastructure/alerting/provider/logalert"
	"go-line-scheduler/src/infrastructure/alerting/provider/webhook"
	logger "go-line-scheduler/src/infrastructure/logger"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the configuration for alerting providers
type Config struct {

	// Log is the configuration for the structured-log alerting provider
	Log *logalert.AlertProvider `yaml:"log,omitempty"`

	// Webhook is the configuration for the HTTP webhook alerting provider
	Webhook *webhook.AlertProvider `yaml:"webhook,omitempty"`
}

// LoadConfig reads the alerting yaml at path. An empty path yields a log-only configuration.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return &Config{Log: &logalert.AlertProvider{}}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alerting config: %w", err)
	}
	return ParseConfig(raw)
}

func ParseConfig(raw []byte) (*Config, error) {
	config := &Config{}
	if err := yaml.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("parse alerting config: %w", err)
	}
	return config, nil
}

// GetAlertingProviderByAlertType returns an provider.AlertProvider by its corresponding alert.Type
func (config *Config) GetAlertingProviderByAlertType(alertType alert.Type) provider.AlertProvider {
	entityType := reflect.TypeOf(config).Elem()
	for i := 0; i < entityType.NumField(); i++ {
		field := entityType.Field(i)
		tag := strings.Split(field.Tag.Get("yaml"), ",")[0]
		if tag == string(alertType) {
			fieldValue := reflect.ValueOf(config).Elem().Field(i)
			if fieldValue.IsNil() {
				return nil
			}
			return fieldValue.Interface().(provider.AlertProvider)
		}
	}
	return nil
}

// SetAlertingProviderToNil Sets an alerting provider to nil to avoid having to revalidate it every time an
// alert of its corresponding type is sent.
func (config *Config) SetAlertingProviderToNil(p provider.AlertProvider) {
	entityType := reflect.TypeOf(config).Elem()
	for i := 0; i < entityType.NumField(); i++ {
		field := entityType.Field(i)
		if field.Type == reflect.TypeOf(p) {
			reflect.ValueOf(config).Elem().Field(i).Set(reflect.Zero(field.Type))
		}
	}
}

// Dispatcher fans an alert out to every configured provider.
type Dispatcher struct {
	config      *Config
	sendTimeout time.Duration
	Logger      *logger.Logger
}

// NewDispatcher validates each configured provider and drops the invalid ones.
func NewDispatcher(config *Config, loggerInstance *logger.Logger) *Dispatcher {
	if config == nil {
		config = &Config{}
	}
	if config.Log != nil {
		config.Log.SetLogger(loggerInstance)
	}
	for _, t := range alert.Types {
		p := config.GetAlertingProviderByAlertType(t)
		if p == nil {
			continue
		}
		if err := p.Validate(); err != nil {
			loggerInstance.Warn("Ignoring invalid alerting provider", zap.String("alertType", string(t)), zap.Error(err))
			config.SetAlertingProviderToNil(p)
			continue
		}
		loggerInstance.Info("Alerting provider enabled", zap.String("alertType", string(t)))
	}
	return &Dispatcher{config: config, sendTimeout: 10 * time.Second, Logger: loggerInstance}
}

// Notify sends subject and description through every enabled provider. Provider failures are
// logged, never returned.
func (d *Dispatcher) Notify(ctx context.Context, subject, description string, fields map[string]string) {
	for _, t := range alert.Types {
		p := d.config.GetAlertingProviderByAlertType(t)
		if p == nil {
			continue
		}
		a := alert.New(t, subject, description)
		if len(fields) > 0 {
			a.Fields = make(map[string]string, len(fields))
			for k, v := range fields {
				a.Fields[k] = v
			}
		}
		provider.MergeProviderDefaultAlert(p.GetDefaultAlert(), a)
		if !a.IsEnabled() {
			continue
		}
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
		err := p.Send(sendCtx, a)
		cancel()
		if err != nil {
			d.Logger.Error("Failed to send alert", zap.String("alertType", string(t)), zap.Error(err))
		}
	}
}

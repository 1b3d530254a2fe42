package provider

import (
	"context"

	"go-line-scheduler/src/infrastructure/alerting/alert"
	"go-line-scheduler/src/infrastructure/alerting/provider/logalert"
	"go-line-scheduler/src/infrastructure/alerting/provider/webhook"
)

// AlertProvider is the interface that each provider should implement
type AlertProvider interface {
	// Validate the provider's configuration
	Validate() error

	// Send an alert using the provider
	Send(ctx context.Context, alert *alert.Alert) error

	// GetDefaultAlert returns the provider's default alert configuration
	GetDefaultAlert() *alert.Alert
}

// MergeProviderDefaultAlert fills the unset fields of an alert from the provider's default alert
func MergeProviderDefaultAlert(providerDefaultAlert, a *alert.Alert) {
	if providerDefaultAlert == nil || a == nil {
		return
	}
	if a.Enabled == nil {
		a.Enabled = providerDefaultAlert.Enabled
	}
	if a.Description == nil {
		a.Description = providerDefaultAlert.Description
	}
	if a.Subject == nil {
		a.Subject = providerDefaultAlert.Subject
	}
	for k, v := range providerDefaultAlert.Fields {
		if a.Fields == nil {
			a.Fields = map[string]string{}
		}
		if _, ok := a.Fields[k]; !ok {
			a.Fields[k] = v
		}
	}
}

var (
	// Validate provider interface implementation on compile
	_ AlertProvider = (*logalert.AlertProvider)(nil)
	_ AlertProvider = (*webhook.AlertProvider)(nil)
)
